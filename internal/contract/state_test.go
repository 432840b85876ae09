package contract

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func populated(t *testing.T) (*Contract, *fakeBank) {
	t.Helper()
	c, bank := newTestContract(t)
	_, err := c.CreateVoting(ownerCall(t0), []Address{alice, bob})
	require.NoError(t, err)
	_, err = c.CreateVoting(ownerCall(t0.Add(time.Hour)), []Address{carol})
	require.NoError(t, err)
	_, err = c.Vote(voteCall(dave, t0), 0, 1)
	require.NoError(t, err)
	_, err = c.Vote(voteCall(dave, t0), 1, 0)
	require.NoError(t, err)
	_, err = c.EndVoting(Call{Caller: dave, Now: t0.Add(DefaultRoundDuration)}, 0)
	require.NoError(t, err)
	return c, bank
}

func TestSnapshotRestore_RoundTrip(t *testing.T) {
	c, bank := populated(t)
	st := c.Snapshot()

	restored, err := Restore(st, bank, nil)
	require.NoError(t, err)
	assert.Equal(t, st, restored.Snapshot())
	assert.Equal(t, c.Escrow(), restored.Escrow())
	assert.Equal(t, uint64(2), st.NextRoundID())

	// Restored voter sets still reject double votes.
	_, err = restored.Vote(voteCall(dave, t0.Add(2*time.Hour)), 1, 0)
	assert.ErrorIs(t, err, ErrAlreadyVoted)

	// And the next round id continues the sequence.
	r, err := restored.CreateVoting(ownerCall(t0), []Address{alice})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), r.RoundID)
}

func TestSnapshot_IsDeepCopy(t *testing.T) {
	c, _ := populated(t)
	st := c.Snapshot()
	st.Rounds[1].Candidates[0] = alice
	st.Rounds[1].VoteCounts[0] = 99

	view, err := c.Round(1)
	require.NoError(t, err)
	assert.Equal(t, carol, view.Candidates[0])
	assert.Equal(t, uint64(1), view.VoteCounts[0])
}

func TestRestore_RejectsInconsistentState(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(st *State)
	}{
		{"out of sequence id", func(st *State) { st.Rounds[1].ID = 5 }},
		{"no candidates", func(st *State) {
			st.Rounds[1].Candidates = nil
			st.Rounds[1].VoteCounts = nil
		}},
		{"count length mismatch", func(st *State) { st.Rounds[1].VoteCounts = []uint64{1, 0} }},
		{"counts do not match voters", func(st *State) { st.Rounds[1].VoteCounts[0] = 2 }},
		{"pool mismatch", func(st *State) { st.Rounds[1].Pool = 1 }},
		{"duplicate voter", func(st *State) {
			st.Rounds[0].Voters = []Address{dave, dave}
			st.Rounds[0].VoteCounts = []uint64{1, 1}
		}},
		{"invalid config", func(st *State) { st.Config.Deposit = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, bank := populated(t)
			st := c.Snapshot()
			tt.mutate(&st)

			_, err := Restore(st, bank, nil)
			assert.Error(t, err)
		})
	}
}
