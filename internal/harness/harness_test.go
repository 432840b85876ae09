package harness

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/roach88/votepool/internal/chain"
	"github.com/roach88/votepool/internal/contract"
	"github.com/roach88/votepool/internal/ir"
)

func ptr[T any](v T) *T { return &v }

func basicScenario() *Scenario {
	return &Scenario{
		Name:        "basic",
		Description: "One vote, one payout",
		Accounts: map[string]int64{
			"owner": 1_000_000_000,
			"alice": 1_000_000_000,
		},
		Deployer: "owner",
		Flow: []Step{
			{Action: ActionCreateVoting, From: "owner", Candidates: []string{"bob"}},
			{Action: ActionVote, From: "alice", Round: ptr(uint64(0)), Candidate: ptr(0)},
			{Action: ActionAdvanceTime, Duration: "72h"},
			{Action: ActionEndVoting, From: "alice", Round: ptr(uint64(0))},
		},
	}
}

func TestRun_BasicScenario(t *testing.T) {
	result, err := Run(basicScenario())
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.Errors)
	require.Len(t, result.Trace, 4)

	create := result.Trace[0]
	assert.Equal(t, OutcomeOK, create.Outcome)
	assert.Equal(t, int64(2), create.Seq, "deploy is seq 1")
	require.Len(t, create.Events, 1)
	assert.Equal(t, string(contract.EventVotingCreated), create.Events[0].Kind)
	assert.Equal(t, ir.IRArray{ir.IRString("bob")}, create.Args["candidates"])

	vote := result.Trace[1]
	require.Len(t, vote.Events, 1)
	assert.Equal(t, ir.IRString("alice"), vote.Events[0].Payload["voter"])
	assert.Equal(t, ir.IRInt(contract.DefaultDeposit), vote.Args["value"])

	advance := result.Trace[2]
	assert.Zero(t, advance.Seq)
	assert.Empty(t, advance.Events)
	assert.Equal(t, ir.IRString("2024-01-04T00:00:00Z"), advance.Result["now"])

	end := result.Trace[3]
	assert.Equal(t, OutcomeOK, end.Outcome)
	assert.Equal(t, ir.IRString("bob"), end.Result["winner_address"])
	assert.Equal(t, ir.IRString("bob"), end.Events[0].Payload["winner"])

	assert.Equal(t, int64(990_000_000), result.Balances["alice"])
	assert.Equal(t, int64(1_000_000_000), result.Balances["owner"])
	assert.Equal(t, int64(1_000_000), result.Balances[ContractName])
	assert.Equal(t, int64(1_000_000), result.Commission)
}

func TestRun_UnexpectedRejectionFails(t *testing.T) {
	s := basicScenario()
	s.Flow = s.Flow[:2]
	s.Flow = append(s.Flow, Step{Action: ActionEndVoting, From: "alice", Round: ptr(uint64(0))})

	result, err := Run(s)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "flow[2] end_voting: expected ok")
	assert.Contains(t, result.Errors[0], "Cant be finished")
	assert.Equal(t, string(contract.ErrCodeTooEarly), result.Trace[2].Outcome)
}

func TestRun_ExpectedErrorThatDoesNotHappen(t *testing.T) {
	s := basicScenario()
	s.Flow[0].Expect = &ExpectClause{Error: "NOT_OWNER"}

	result, err := Run(s)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors[0], "flow[0] create_voting: expected NOT_OWNER, got ok")
}

func TestRun_ResultMismatch(t *testing.T) {
	s := basicScenario()
	s.Flow[3].Expect = &ExpectClause{Result: map[string]interface{}{"payout": 1}}

	result, err := Run(s)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "expected result")
}

func TestRun_ResultSubsetMatch(t *testing.T) {
	s := basicScenario()
	s.Flow[3].Expect = &ExpectClause{Result: map[string]interface{}{
		"winner_address": "bob",
		"payout":         9_000_000,
	}}

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_EnvironmentOutcomes(t *testing.T) {
	s := basicScenario()
	s.Accounts["pauper"] = 0
	s.Flow = []Step{
		{Action: ActionCreateVoting, From: "owner", Candidates: []string{"bob"}},
		{Action: ActionVote, From: "pauper", Round: ptr(uint64(0)), Candidate: ptr(0),
			Expect: &ExpectClause{Error: OutcomeInsufficientFunds}},
		{Action: ActionFund, Account: "pauper", Amount: 10_000_000},
		{Action: ActionVote, From: "pauper", Round: ptr(uint64(0)), Candidate: ptr(0)},
		{Action: ActionAdvanceTime, Duration: "-1s", Expect: &ExpectClause{Error: OutcomeTimeReversal}},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, int64(0), result.Balances["pauper"])
	assert.Equal(t, int64(10_000_000), result.Balances[ContractName])
}

func TestRun_Params(t *testing.T) {
	s := basicScenario()
	s.Params = &ParamsClause{DepositGwei: ptr(int64(1_000)), CommissionPercent: ptr(int64(0))}
	s.Flow[3].Expect = &ExpectClause{Result: map[string]interface{}{"payout": 1_000, "commission": 0}}

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, ir.IRInt(1_000), result.Trace[1].Args["value"])
}

func TestRun_InvalidParams(t *testing.T) {
	s := basicScenario()
	s.Params = &ParamsClause{CommissionPercent: ptr(int64(101))}

	_, err := Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "params")
}

func TestRun_WithLogger(t *testing.T) {
	result, err := Run(basicScenario(), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	assert.True(t, result.Pass)
}

func TestRun_Deterministic(t *testing.T) {
	first, err := Run(basicScenario())
	require.NoError(t, err)
	second, err := Run(basicScenario())
	require.NoError(t, err)

	a, err := MarshalGolden("basic", first)
	require.NoError(t, err)
	b, err := MarshalGolden("basic", second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestRun_ScenarioFiles(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			s, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := Run(s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestOutcomeOf(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, OutcomeOK},
		{contract.ErrTooEarly, "TOO_EARLY"},
		{fmt.Errorf("wrapped: %w", contract.ErrNullTransfer), "NULL_TRANSFER"},
		{fmt.Errorf("vote: %w", chain.ErrInsufficientFunds), OutcomeInsufficientFunds},
		{chain.ErrRecipientBlocked, OutcomeRecipientBlocked},
		{chain.ErrUnknownInstance, OutcomeUnknownInstance},
		{chain.ErrTimeReversal, OutcomeTimeReversal},
		{errors.New("boom"), OutcomeError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, outcomeOf(tt.err))
	}
}

func TestNamedAddress(t *testing.T) {
	assert.Equal(t, NamedAddress("alice"), NamedAddress("alice"))
	assert.NotEqual(t, NamedAddress("alice"), NamedAddress("bob"))

	book := newAddressBook()
	book.add("alice", NamedAddress("alice"))
	assert.Equal(t, NamedAddress("alice"), book.resolve("alice"))
	assert.Equal(t, "alice", book.name(NamedAddress("alice")))

	hex := NamedAddress("zed").Hex()
	assert.Equal(t, NamedAddress("zed"), book.resolve(hex))
	assert.Equal(t, hex, book.name(NamedAddress("zed")), "hex references are not named")

	got := book.humanizeObject(ir.IRObject{
		"voter": ir.IRString(NamedAddress("alice").Hex()),
		"list":  ir.IRArray{ir.IRString(NamedAddress("alice").Hex()), ir.IRString("0xnope")},
		"n":     ir.IRInt(3),
	})
	assert.Equal(t, ir.IRObject{
		"voter": ir.IRString("alice"),
		"list":  ir.IRArray{ir.IRString("alice"), ir.IRString("0xnope")},
		"n":     ir.IRInt(3),
	}, got)
}
