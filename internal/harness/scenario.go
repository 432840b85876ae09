package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario.
// A scenario funds named accounts, deploys one contract instance, runs a flow
// of transactions and queries against it, and asserts on the emitted events
// and the final balances and state.
type Scenario struct {
	// Name uniquely identifies this scenario. Also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Accounts maps account names to opening balances in gwei.
	// Names are turned into deterministic addresses (see NamedAddress).
	Accounts map[string]int64 `yaml:"accounts"`

	// Deployer names the account that deploys and owns the instance.
	Deployer string `yaml:"deployer"`

	// Params overrides the contract parameters. Missing fields keep the
	// reference defaults.
	Params *ParamsClause `yaml:"params,omitempty"`

	// Flow contains the steps to execute, in order.
	Flow []Step `yaml:"flow"`

	// Assertions validate the trace and the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// ParamsClause mirrors the CUE parameter schema.
type ParamsClause struct {
	DepositGwei       *int64 `yaml:"deposit_gwei,omitempty"`
	RoundDuration     string `yaml:"round_duration,omitempty"`
	CommissionPercent *int64 `yaml:"commission_percent,omitempty"`
}

// Step is one action of the flow.
//
// Which fields apply depends on Action:
//
//	create_voting   from, candidates
//	vote            from, round, candidate, value (defaults to the deposit)
//	end_voting      from, round
//	transfer        from, to
//	commission_info
//	candidate_info  round, candidate
//	end_info        round
//	advance_time    duration
//	fund            account, amount
//	block, unblock  account
type Step struct {
	Action     string        `yaml:"action"`
	From       string        `yaml:"from,omitempty"`
	Candidates []string      `yaml:"candidates,omitempty"`
	Round      *uint64       `yaml:"round,omitempty"`
	Candidate  *int          `yaml:"candidate,omitempty"`
	Value      *int64        `yaml:"value,omitempty"`
	To         string        `yaml:"to,omitempty"`
	Account    string        `yaml:"account,omitempty"`
	Amount     int64         `yaml:"amount,omitempty"`
	Duration   string        `yaml:"duration,omitempty"`
	Expect     *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the expected outcome of a step.
type ExpectClause struct {
	// Error is the expected rejection code (e.g. "TOO_EARLY") or environment
	// failure (e.g. "INSUFFICIENT_FUNDS"). Empty means the step must succeed.
	Error string `yaml:"error,omitempty"`

	// Result contains expected result fields.
	// This is a subset match - only specified fields are validated.
	Result map[string]interface{} `yaml:"result,omitempty"`
}

// Step actions.
const (
	ActionCreateVoting   = "create_voting"
	ActionVote           = "vote"
	ActionEndVoting      = "end_voting"
	ActionTransfer       = "transfer"
	ActionCommissionInfo = "commission_info"
	ActionCandidateInfo  = "candidate_info"
	ActionEndInfo        = "end_info"
	ActionAdvanceTime    = "advance_time"
	ActionFund           = "fund"
	ActionBlock          = "block"
	ActionUnblock        = "unblock"
)

// Assertion validates the trace or the final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "event_emitted": an event of Kind whose payload contains Payload
	// - "event_count": exactly Count events of Kind
	// - "balance": Account holds Equals, or changed by Delta since the start
	// - "commission": the withdrawable commission equals Equals
	// - "round_state": round Round has the given Ended, Votes, Pool, Winner
	// - "final_state": query a store table and verify expected values
	Type string `yaml:"type"`

	// Kind is the event kind (event_emitted, event_count).
	Kind string `yaml:"kind,omitempty"`

	// Payload is a subset of the expected event payload (event_emitted).
	// Account names may be used in place of addresses.
	Payload map[string]interface{} `yaml:"payload,omitempty"`

	// Count is the expected number of events (event_count).
	Count int `yaml:"count,omitempty"`

	// Account names the account (balance).
	Account string `yaml:"account,omitempty"`

	// Equals is the expected exact amount (balance, commission).
	Equals *int64 `yaml:"equals,omitempty"`

	// Delta is the expected change since the opening balance (balance).
	Delta *int64 `yaml:"delta,omitempty"`

	// Round identifies the round (round_state).
	Round *uint64 `yaml:"round,omitempty"`

	// Ended, Votes, Pool and Winner are the expected round fields (round_state).
	Ended  *bool    `yaml:"ended,omitempty"`
	Votes  []uint64 `yaml:"votes,omitempty"`
	Pool   *int64   `yaml:"pool,omitempty"`
	Winner *int     `yaml:"winner,omitempty"`

	// Table is the store table name (final_state).
	Table string `yaml:"table,omitempty"`

	// Where specifies query filters (final_state).
	// All fields must match exactly. Account names resolve to addresses.
	Where map[string]interface{} `yaml:"where,omitempty"`

	// Expect contains expected column values (final_state).
	// Subset match - only specified fields are validated.
	Expect map[string]interface{} `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertEventEmitted = "event_emitted"
	AssertEventCount   = "event_count"
	AssertBalance      = "balance"
	AssertCommission   = "commission"
	AssertRoundState   = "round_state"
	AssertFinalState   = "final_state"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML with strict field validation.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict decoding catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Accounts) == 0 {
		return fmt.Errorf("accounts map is required and must be non-empty")
	}
	for name, balance := range s.Accounts {
		if name == ContractName {
			return fmt.Errorf("accounts: %q is reserved for the deployed instance", name)
		}
		if balance < 0 {
			return fmt.Errorf("accounts.%s: balance must be non-negative", name)
		}
	}

	if s.Deployer == "" {
		return fmt.Errorf("deployer is required")
	}
	if _, ok := s.Accounts[s.Deployer]; !ok {
		return fmt.Errorf("deployer %q is not a declared account", s.Deployer)
	}

	if s.Params != nil && s.Params.RoundDuration != "" {
		if _, err := time.ParseDuration(s.Params.RoundDuration); err != nil {
			return fmt.Errorf("params.round_duration: %w", err)
		}
	}

	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	for i := range s.Flow {
		if err := validateStep(i, &s.Flow[i]); err != nil {
			return err
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}

	return nil
}

// validateStep checks that a step carries the fields its action needs.
func validateStep(index int, st *Step) error {
	requireFrom := func() error {
		if st.From == "" {
			return fmt.Errorf("flow[%d]: from is required for %s", index, st.Action)
		}
		return nil
	}
	requireRound := func() error {
		if st.Round == nil {
			return fmt.Errorf("flow[%d]: round is required for %s", index, st.Action)
		}
		return nil
	}

	switch st.Action {
	case ActionCreateVoting:
		return requireFrom()
	case ActionVote:
		if err := requireFrom(); err != nil {
			return err
		}
		if err := requireRound(); err != nil {
			return err
		}
		if st.Candidate == nil {
			return fmt.Errorf("flow[%d]: candidate is required for vote", index)
		}
	case ActionEndVoting:
		if err := requireFrom(); err != nil {
			return err
		}
		return requireRound()
	case ActionTransfer:
		if err := requireFrom(); err != nil {
			return err
		}
		if st.To == "" {
			return fmt.Errorf("flow[%d]: to is required for transfer", index)
		}
	case ActionCommissionInfo:
	case ActionCandidateInfo:
		if err := requireRound(); err != nil {
			return err
		}
		if st.Candidate == nil {
			return fmt.Errorf("flow[%d]: candidate is required for candidate_info", index)
		}
	case ActionEndInfo:
		return requireRound()
	case ActionAdvanceTime:
		if _, err := time.ParseDuration(st.Duration); err != nil {
			return fmt.Errorf("flow[%d]: duration: %w", index, err)
		}
	case ActionFund:
		if st.Account == "" || st.Amount <= 0 {
			return fmt.Errorf("flow[%d]: fund needs an account and a positive amount", index)
		}
	case ActionBlock, ActionUnblock:
		if st.Account == "" {
			return fmt.Errorf("flow[%d]: account is required for %s", index, st.Action)
		}
	case "":
		return fmt.Errorf("flow[%d]: action is required", index)
	default:
		return fmt.Errorf("flow[%d]: unknown action %q", index, st.Action)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertEventEmitted:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for event_emitted", index)
		}
	case AssertEventCount:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for event_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for event_count", index)
		}
	case AssertBalance:
		if a.Account == "" {
			return fmt.Errorf("assertions[%d]: account is required for balance", index)
		}
		if (a.Equals == nil) == (a.Delta == nil) {
			return fmt.Errorf("assertions[%d]: balance needs exactly one of equals or delta", index)
		}
	case AssertCommission:
		if a.Equals == nil {
			return fmt.Errorf("assertions[%d]: equals is required for commission", index)
		}
	case AssertRoundState:
		if a.Round == nil {
			return fmt.Errorf("assertions[%d]: round is required for round_state", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
