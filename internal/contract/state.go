package contract

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// State is the complete state of a contract as plain data.
// It is what the storage layer persists and what Restore rebuilds from.
type State struct {
	Address    Address      `json:"address"`
	Owner      Address      `json:"owner"`
	Config     Config       `json:"config"`
	Commission Amount       `json:"commission"`
	Rounds     []RoundState `json:"rounds"`
	Events     []Event      `json:"-"`
}

// RoundState is the persisted form of one round.
type RoundState struct {
	ID         uint64    `json:"id"`
	Candidates []Address `json:"candidates"`
	VoteCounts []uint64  `json:"vote_counts"`
	Voters     []Address `json:"voters"` // in vote order
	Pool       Amount    `json:"pool"`
	CreatedAt  time.Time `json:"created_at"`
	Deadline   time.Time `json:"deadline"`
	Ended      bool      `json:"ended"`
	EndedAt    time.Time `json:"ended_at"`
	Winner     int       `json:"winner"`
	Payout     Amount    `json:"payout"`
	Commission Amount    `json:"commission"`
}

// NextRoundID returns the id the next created round gets.
func (s State) NextRoundID() uint64 {
	return uint64(len(s.Rounds))
}

// Snapshot returns a deep copy of the contract state.
func (c *Contract) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := State{
		Address:    c.address,
		Owner:      c.owner,
		Config:     c.cfg,
		Commission: c.commission,
		Rounds:     make([]RoundState, len(c.rounds)),
		Events:     append([]Event(nil), c.events...),
	}
	for i, r := range c.rounds {
		st.Rounds[i] = RoundState{
			ID:         r.id,
			Candidates: append([]Address(nil), r.candidates...),
			VoteCounts: append([]uint64(nil), r.voteCounts...),
			Voters:     append([]Address(nil), r.voters...),
			Pool:       r.pool,
			CreatedAt:  r.createdAt,
			Deadline:   r.deadline,
			Ended:      r.ended,
			EndedAt:    r.endedAt,
			Winner:     r.winner,
			Payout:     r.payout,
			Commission: r.commission,
		}
	}
	return st
}

// Restore rebuilds a contract from a snapshot, checking the round
// invariants on the way in.
func Restore(st State, bank Bank, logger *zap.Logger) (*Contract, error) {
	c, err := New(st.Address, st.Owner, st.Config, bank, logger)
	if err != nil {
		return nil, err
	}
	c.commission = st.Commission
	c.events = append([]Event(nil), st.Events...)

	for i, rs := range st.Rounds {
		if rs.ID != uint64(i) {
			return nil, fmt.Errorf("restore round %d: id %d out of sequence", i, rs.ID)
		}
		if len(rs.Candidates) == 0 {
			return nil, fmt.Errorf("restore round %d: no candidates", rs.ID)
		}
		if len(rs.VoteCounts) != len(rs.Candidates) {
			return nil, fmt.Errorf("restore round %d: %d vote counts for %d candidates",
				rs.ID, len(rs.VoteCounts), len(rs.Candidates))
		}

		var total uint64
		for _, n := range rs.VoteCounts {
			total += n
		}
		if total != uint64(len(rs.Voters)) {
			return nil, fmt.Errorf("restore round %d: %d votes counted for %d voters",
				rs.ID, total, len(rs.Voters))
		}
		if !rs.Ended && rs.Pool != st.Config.Deposit*Amount(len(rs.Voters)) {
			return nil, fmt.Errorf("restore round %d: pool %d does not match %d voters",
				rs.ID, rs.Pool, len(rs.Voters))
		}

		r := &round{
			id:         rs.ID,
			candidates: append([]Address(nil), rs.Candidates...),
			voteCounts: append([]uint64(nil), rs.VoteCounts...),
			voters:     append([]Address(nil), rs.Voters...),
			hasVoted:   make(map[Address]struct{}, len(rs.Voters)),
			pool:       rs.Pool,
			createdAt:  rs.CreatedAt,
			deadline:   rs.Deadline,
			ended:      rs.Ended,
			endedAt:    rs.EndedAt,
			winner:     rs.Winner,
			payout:     rs.Payout,
			commission: rs.Commission,
		}
		for _, v := range rs.Voters {
			if _, dup := r.hasVoted[v]; dup {
				return nil, fmt.Errorf("restore round %d: voter %s recorded twice", rs.ID, v.Hex())
			}
			r.hasVoted[v] = struct{}{}
		}
		c.rounds = append(c.rounds, r)
	}
	return c, nil
}

// Rollback replaces the contract state with st, a snapshot previously taken
// from this contract.
func (c *Contract) Rollback(st State) error {
	if st.Address != c.address {
		return fmt.Errorf("rollback %s: snapshot belongs to %s", c.address.Hex(), st.Address.Hex())
	}
	prev, err := Restore(st, c.bank, c.logger)
	if err != nil {
		return fmt.Errorf("rollback: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.owner = prev.owner
	c.cfg = prev.cfg
	c.commission = prev.commission
	c.rounds = prev.rounds
	c.events = prev.events
	return nil
}

// Escrow returns the value the contract must hold: the commission plus the
// pools of all open rounds.
func (c *Contract) Escrow() Amount {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.commission
	for _, r := range c.rounds {
		if !r.ended {
			total += r.pool
		}
	}
	return total
}
