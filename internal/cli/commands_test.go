package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/roach88/votepool/internal/harness"
	"github.com/roach88/votepool/internal/testutil"
)

var (
	ownerHex = harness.NamedAddress("owner").Hex()
	aliceHex = harness.NamedAddress("alice").Hex()
	bobHex   = harness.NamedAddress("bob").Hex()
	carolHex = harness.NamedAddress("carol").Hex()
)

// ledger runs commands against one SQLite file with a frozen clock.
type ledger struct {
	t     *testing.T
	db    string
	clock *testutil.ManualClock
}

func newLedger(t *testing.T) *ledger {
	t.Helper()
	t.Setenv("VOTEPOOL_FROM", "")
	t.Setenv("VOTEPOOL_PARAMS", "")
	return &ledger{
		t:     t,
		db:    filepath.Join(t.TempDir(), "votepool.db"),
		clock: testutil.NewManualClock(testutil.Epoch),
	}
}

func (l *ledger) run(args ...string) (string, error) {
	l.t.Helper()
	opts := &RootOptions{clock: l.clock, logger: zap.NewNop()}
	cmd := newRootCommand(opts)
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(append([]string{"--db", l.db}, args...))
	err := cmd.Execute()
	return buf.String(), err
}

func (l *ledger) mustRun(args ...string) string {
	l.t.Helper()
	out, err := l.run(args...)
	require.NoError(l.t, err, out)
	return out
}

// json runs a command with --format json and decodes its data payload.
func (l *ledger) json(args ...string) map[string]interface{} {
	l.t.Helper()
	out := l.mustRun(append([]string{"--format", "json"}, args...)...)
	var resp struct {
		Status string                 `json:"status"`
		Data   map[string]interface{} `json:"data"`
	}
	require.NoError(l.t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(l.t, "ok", resp.Status)
	return resp.Data
}

// rejected asserts the command is refused with code and exit status 1.
func (l *ledger) rejected(code string, args ...string) {
	l.t.Helper()
	out, err := l.run(args...)
	require.Error(l.t, err, out)
	assert.Equal(l.t, ExitFailure, GetExitCode(err), out)
	assert.Contains(l.t, out, "Error ["+code+"]")
}

func (l *ledger) deploy(extra ...string) string {
	l.t.Helper()
	l.mustRun("accounts", "fund", "--to", ownerHex, "--amount", "1000000000")
	l.mustRun("accounts", "fund", "--to", aliceHex, "--amount", "1000000000")
	data := l.json(append([]string{"deploy", "--from", ownerHex}, extra...)...)
	addr, ok := data["contract"].(string)
	require.True(l.t, ok)
	return addr
}

func TestCommands_FullRound(t *testing.T) {
	l := newLedger(t)
	contractHex := l.deploy()

	out := l.mustRun("create-voting", "--from", ownerHex, "--candidates", bobHex+","+carolHex)
	assert.Contains(t, out, "Created round 0 with 2 candidates")
	assert.Contains(t, out, "2024-01-04T00:00:00Z (3 days from now)")

	out = l.mustRun("vote", "--from", aliceHex, "--contract", contractHex, "--vid", "0", "--cid", "1")
	assert.Contains(t, out, "10,000,000 gwei (0.01 ETH) escrowed")

	l.rejected("ALREADY_VOTED", "vote", "--from", aliceHex, "--vid", "0", "--cid", "0")
	l.rejected("TOO_EARLY", "end-voting", "--from", aliceHex, "--vid", "0")

	data := l.json("cinfo", "--vid", "0", "--cid", "1")
	assert.Equal(t, float64(1), data["votes"])

	l.mustRun("advance-time", "72h")
	l.rejected("VOTING_CLOSED", "vote", "--from", ownerHex, "--vid", "0", "--cid", "0")

	data = l.json("end-voting", "--from", aliceHex, "--vid", "0")
	result := data["result"].(map[string]interface{})
	assert.Equal(t, float64(1), result["winner"])
	assert.Equal(t, carolHex, result["winner_address"])
	assert.Equal(t, float64(9_000_000), result["payout"])
	assert.Equal(t, float64(1_000_000), result["commission"])

	l.rejected("ALREADY_ENDED", "end-voting", "--from", aliceHex, "--vid", "0")

	data = l.json("commission")
	assert.Equal(t, float64(1_000_000), data["commission"])

	l.rejected("NOT_OWNER", "transfer", "--from", aliceHex, "--to", aliceHex)
	out = l.mustRun("transfer", "--from", ownerHex, "--to", ownerHex)
	assert.Contains(t, out, "Transferred 1,000,000 gwei")
	l.rejected("NULL_TRANSFER", "transfer", "--from", ownerHex, "--to", ownerHex)

	data = l.json("accounts", "balance", carolHex)
	assert.Equal(t, float64(9_000_000), data["balance"])
	data = l.json("accounts", "balance", ownerHex)
	assert.Equal(t, float64(1_001_000_000), data["balance"])
	data = l.json("accounts", "balance", contractHex)
	assert.Equal(t, float64(0), data["balance"])

	out = l.mustRun("rounds")
	assert.Contains(t, out, "won by #1")

	out = l.mustRun("events")
	for _, kind := range []string{"votingCreated", "voted", "votingFinished", "transfered"} {
		assert.Contains(t, out, kind)
	}
}

func TestCommands_RejectedTransactionsAreNotRecorded(t *testing.T) {
	l := newLedger(t)
	l.deploy()
	l.mustRun("create-voting", "--from", ownerHex, "--candidates", bobHex)
	l.rejected("NOT_OWNER", "create-voting", "--from", aliceHex, "--candidates", bobHex)
	l.rejected("WRONG_DEPOSIT", "vote", "--from", aliceHex, "--vid", "0", "--cid", "0", "--value", "1")
	l.rejected("NOT_FOUND", "vote", "--from", aliceHex, "--vid", "0", "--cid", "5")
	l.rejected("NOT_FOUND", "end-info", "--vid", "3")
	l.rejected("INVALID_CANDIDATE_LIST", "create-voting", "--from", ownerHex)
	l.rejected("INSUFFICIENT_FUNDS", "vote", "--from", bobHex, "--vid", "0", "--cid", "0")

	out := l.mustRun("--format", "json", "transactions")
	var resp struct {
		Data []map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 2)
	assert.Equal(t, "deploy", resp.Data[0]["method"])
	assert.Equal(t, "createVoting", resp.Data[1]["method"])

	data := l.json("accounts", "balance", aliceHex)
	assert.Equal(t, float64(1_000_000_000), data["balance"], "rejected votes refund the attached value")
}

func TestCommands_EmptyRoundAndBlockedWinner(t *testing.T) {
	l := newLedger(t)
	l.deploy()
	l.mustRun("create-voting", "--from", ownerHex, "--candidates", bobHex)
	l.mustRun("create-voting", "--from", ownerHex, "--candidates", carolHex)
	l.mustRun("vote", "--from", aliceHex, "--vid", "1", "--cid", "0")
	l.mustRun("advance-time", "72h")

	l.rejected("EMPTY_ROUND", "end-voting", "--from", aliceHex, "--vid", "0")

	l.mustRun("accounts", "block", carolHex)
	l.rejected("TRANSFER_FAILED", "end-voting", "--from", aliceHex, "--vid", "1")
	data := l.json("commission")
	assert.Equal(t, float64(0), data["commission"])

	l.mustRun("accounts", "unblock", carolHex)
	l.mustRun("end-voting", "--from", aliceHex, "--vid", "1")
	data = l.json("accounts", "balance", carolHex)
	assert.Equal(t, float64(9_000_000), data["balance"])
}

func TestCommands_DeployWithParams(t *testing.T) {
	l := newLedger(t)
	contractHex := l.deploy("--params", "../params/testdata/fast.cue")

	data := l.json("accounts", "balance", contractHex)
	assert.Equal(t, float64(0), data["balance"])

	out := l.mustRun("create-voting", "--from", ownerHex, "--candidates", bobHex)
	assert.Contains(t, out, "Created round 0")
}

func TestCommands_DeployInvalidParams(t *testing.T) {
	l := newLedger(t)
	_, err := l.run("deploy", "--from", ownerHex, "--params", filepath.Join(t.TempDir(), "missing.cue"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid parameters")
}

func TestCommands_CommandErrors(t *testing.T) {
	l := newLedger(t)

	_, err := l.run("create-voting", "--candidates", bobHex)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "--from (or VOTEPOOL_FROM) is required")

	_, err = l.run("create-voting", "--from", ownerHex, "--candidates", bobHex)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "no contract deployed")

	_, err = l.run("create-voting", "--from", ownerHex, "--candidates", "bob")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --candidates")

	_, err = l.run("advance-time", "soon")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	l.rejected("TIME_REVERSAL", "advance-time", "--", "-1h")
	l.rejected("UNKNOWN_INSTANCE", "commission", "--contract", bobHex)
}

func TestCommands_MultipleInstancesNeedContract(t *testing.T) {
	l := newLedger(t)
	first := l.deploy()
	second := l.json("deploy", "--from", ownerHex)["contract"].(string)
	assert.NotEqual(t, first, second)

	_, err := l.run("commission")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--contract is required: 2 instances deployed")

	data := l.json("commission", "--contract", second)
	assert.Equal(t, second, data["contract"])
}

func TestCommands_StatePersistsAcrossOpens(t *testing.T) {
	l := newLedger(t)
	l.deploy()
	l.mustRun("create-voting", "--from", ownerHex, "--candidates", bobHex)

	data := l.json("end-info", "--vid", "0")
	assert.Equal(t, "2024-01-04T00:00:00Z", data["deadline"])

	l.mustRun("advance-time", "1h")
	l.mustRun("advance-time", "2h")
	data = l.json("advance-time", "0s")
	assert.Equal(t, "2024-01-01T03:00:00Z", data["now"])

	out := l.mustRun("rounds")
	assert.Contains(t, out, "open")
}

func TestCommands_InstanceNeverReceivesPayouts(t *testing.T) {
	l := newLedger(t)
	contractHex := l.deploy()

	l.mustRun("create-voting", "--from", ownerHex, "--candidates", contractHex+","+bobHex)
	l.mustRun("vote", "--from", aliceHex, "--vid", "0", "--cid", "0")
	l.rejected("SENDER_IS_CONTRACT", "vote", "--from", contractHex, "--vid", "0", "--cid", "1")
	l.rejected("RECIPIENT_IS_CONTRACT", "accounts", "fund", "--to", contractHex, "--amount", "5")
	l.mustRun("advance-time", "72h")

	l.rejected("TRANSFER_FAILED", "end-voting", "--from", aliceHex, "--vid", "0")

	l.mustRun("create-voting", "--from", ownerHex, "--candidates", bobHex)
	l.mustRun("vote", "--from", aliceHex, "--vid", "1", "--cid", "0")
	l.mustRun("advance-time", "72h")
	l.mustRun("end-voting", "--from", aliceHex, "--vid", "1")
	l.rejected("TRANSFER_FAILED", "transfer", "--from", ownerHex, "--to", contractHex)

	data := l.json("accounts", "balance", contractHex)
	assert.Equal(t, float64(11_000_000), data["balance"])
	data = l.json("commission")
	assert.Equal(t, float64(1_000_000), data["commission"])

	out := l.mustRun("rounds")
	assert.Contains(t, out, "closed")
}
