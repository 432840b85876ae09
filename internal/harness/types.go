package harness

import (
	"github.com/roach88/votepool/internal/ir"
)

// TraceEvent records one executed step.
type TraceEvent struct {
	// Step is the zero-based index of the step in the flow.
	Step int `json:"step"`

	// Action is the step action (e.g. "vote").
	Action string `json:"action"`

	// From names the sender, if any.
	From string `json:"from,omitempty"`

	// Args are the step arguments with addresses shown as account names.
	Args ir.IRObject `json:"args,omitempty"`

	// Outcome is "ok" or the rejection / environment failure code.
	Outcome string `json:"outcome"`

	// Seq is the committed transaction sequence number (0 if none).
	Seq int64 `json:"seq,omitempty"`

	// Events emitted by the step, in order.
	Events []TraceRecord `json:"events,omitempty"`

	// Result holds the step's return values.
	Result ir.IRObject `json:"result,omitempty"`
}

// TraceRecord is an emitted event with addresses shown as account names.
type TraceRecord struct {
	Kind    string      `json:"kind"`
	Payload ir.IRObject `json:"payload"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if all expect clauses and assertions match.
	Pass bool `json:"pass"`

	// Trace contains one entry per executed step.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Balances holds the final balance of every named account and of the
	// contract instance.
	Balances map[string]int64 `json:"balances"`

	// Commission is the final withdrawable commission.
	Commission int64 `json:"commission"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:     true,
		Trace:    []TraceEvent{},
		Errors:   []string{},
		Balances: make(map[string]int64),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Events returns every emitted event in trace order.
func (r *Result) Events() []TraceRecord {
	var out []TraceRecord
	for _, ev := range r.Trace {
		out = append(out, ev.Events...)
	}
	return out
}
