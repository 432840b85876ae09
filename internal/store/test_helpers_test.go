package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/roach88/votepool/internal/chain"
	"github.com/roach88/votepool/internal/contract"
	"github.com/roach88/votepool/internal/testutil"
)

var (
	owner = common.HexToAddress("0x0000000000000000000000000000000000000001")
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b0")
)

// createTestStore creates a new store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestChain builds a chain with one ended round and one open round.
func createTestChain(t *testing.T) (*chain.Chain, *testutil.ManualClock, contract.Address) {
	t.Helper()
	clock := testutil.NewManualClock(time.Time{})
	c := chain.New(clock, chain.WithIDGenerator(testutil.NewSequentialIDGenerator("")))
	for _, a := range []contract.Address{owner, alice, bob} {
		require.NoError(t, c.Fund(a, contract.GweiPerEther))
	}

	inst, _, err := c.Deploy(owner, contract.DefaultConfig())
	require.NoError(t, err)

	_, err = c.CreateVoting(owner, inst, []contract.Address{alice, bob})
	require.NoError(t, err)
	_, err = c.Vote(alice, inst, 0, 1, contract.DefaultDeposit)
	require.NoError(t, err)
	_, err = c.Vote(bob, inst, 0, 1, contract.DefaultDeposit)
	require.NoError(t, err)
	require.NoError(t, c.AdvanceTime(contract.DefaultRoundDuration))
	_, err = c.EndVoting(alice, inst, 0)
	require.NoError(t, err)

	_, err = c.CreateVoting(owner, inst, []contract.Address{alice})
	require.NoError(t, err)
	_, err = c.Vote(owner, inst, 1, 0, contract.DefaultDeposit)
	require.NoError(t, err)

	return c, clock, inst
}

// withoutContractEvents strips the in-memory contract event logs, which the
// store does not persist separately.
func withoutContractEvents(snap chain.Snapshot) chain.Snapshot {
	for i := range snap.Instances {
		snap.Instances[i].Events = nil
	}
	return snap
}
