package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/votepool/internal/ir"
)

// TraceSnapshot captures the complete trace and final balances of a
// scenario execution. All fields use canonical JSON serialization for
// deterministic comparison.
type TraceSnapshot struct {
	ScenarioName string           `json:"scenario_name"`
	Trace        []TraceEvent     `json:"trace"`
	Balances     map[string]int64 `json:"balances"`
	Commission   int64            `json:"commission"`
}

// toCanonical converts a TraceSnapshot to IR for canonical JSON serialization.
func (s *TraceSnapshot) toCanonical() ir.IRObject {
	trace := make(ir.IRArray, len(s.Trace))
	for i, event := range s.Trace {
		obj := ir.IRObject{
			"step":    ir.IRInt(event.Step),
			"action":  ir.IRString(event.Action),
			"outcome": ir.IRString(event.Outcome),
		}
		if event.From != "" {
			obj["from"] = ir.IRString(event.From)
		}
		if len(event.Args) > 0 {
			obj["args"] = event.Args
		}
		if event.Seq != 0 {
			obj["seq"] = ir.IRInt(event.Seq)
		}
		if len(event.Events) > 0 {
			events := make(ir.IRArray, len(event.Events))
			for j, rec := range event.Events {
				events[j] = ir.IRObject{
					"kind":    ir.IRString(rec.Kind),
					"payload": rec.Payload,
				}
			}
			obj["events"] = events
		}
		if event.Result != nil {
			obj["result"] = event.Result
		}
		trace[i] = obj
	}

	balances := make(ir.IRObject, len(s.Balances))
	for name, amount := range s.Balances {
		balances[name] = ir.IRInt(amount)
	}

	return ir.IRObject{
		"scenario_name": ir.IRString(s.ScenarioName),
		"trace":         trace,
		"final": ir.IRObject{
			"balances":   balances,
			"commission": ir.IRInt(s.Commission),
		},
	}
}

// MarshalGolden renders a result in the golden file format.
func MarshalGolden(scenarioName string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{
		ScenarioName: scenarioName,
		Trace:        result.Trace,
		Balances:     result.Balances,
		Commission:   result.Commission,
	}
	data, err := ir.MarshalCanonical(snapshot.toCanonical())
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if trace doesn't match golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}

	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares the given result's trace against a golden file.
// This is useful when you've already run a scenario and want to compare
// the result against a golden file without re-running.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := MarshalGolden(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)

	return nil
}
