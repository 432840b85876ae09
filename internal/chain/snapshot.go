package chain

import (
	"fmt"

	"github.com/roach88/votepool/internal/contract"
)

// Snapshot captures the whole environment as plain data.
func (c *Chain) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		Offset:       c.offset,
		Seq:          c.seq.Current(),
		Accounts:     c.accountList(),
		Instances:    make([]contract.State, 0, len(c.order)),
		Transactions: append([]Transaction(nil), c.txs...),
		Events:       append([]EventRecord(nil), c.events...),
	}
	for _, addr := range c.order {
		snap.Instances = append(snap.Instances, c.instances[addr].Snapshot())
	}
	return snap
}

// Restore rebuilds a chain from snap. Contract event logs are rebuilt from
// the environment's event records, so State.Events may be left empty.
func Restore(snap Snapshot, clock Clock, opts ...Option) (*Chain, error) {
	c := New(clock, opts...)
	c.offset = snap.Offset
	c.seq = NewSequenceAt(snap.Seq)

	for _, acc := range snap.Accounts {
		if _, dup := c.accounts[acc.Address]; dup {
			return nil, fmt.Errorf("restore: account %s listed twice", acc.Address.Hex())
		}
		a := acc
		c.accounts[acc.Address] = &a
	}

	events := make(map[contract.Address][]contract.Event)
	for _, rec := range snap.Events {
		if rec.Seq > snap.Seq {
			return nil, fmt.Errorf("restore: event %s has seq %d beyond %d", rec.ID, rec.Seq, snap.Seq)
		}
		ev, err := rec.Event()
		if err != nil {
			return nil, fmt.Errorf("restore: event %s: %w", rec.ID, err)
		}
		events[rec.Contract] = append(events[rec.Contract], ev)
	}

	for _, st := range snap.Instances {
		if _, dup := c.instances[st.Address]; dup {
			return nil, fmt.Errorf("restore: instance %s listed twice", st.Address.Hex())
		}
		st.Events = events[st.Address]
		inst, err := contract.Restore(st, bank{c}, c.logger)
		if err != nil {
			return nil, fmt.Errorf("restore instance %s: %w", st.Address.Hex(), err)
		}
		c.instances[st.Address] = inst
		c.order = append(c.order, st.Address)
		c.account(st.Address)
	}

	for _, tx := range snap.Transactions {
		if tx.Seq > snap.Seq {
			return nil, fmt.Errorf("restore: transaction %d beyond sequence %d", tx.Seq, snap.Seq)
		}
	}
	c.txs = append(c.txs, snap.Transactions...)
	c.events = append(c.events, snap.Events...)

	if err := c.auditLocked(); err != nil {
		return nil, fmt.Errorf("restore: %w", err)
	}
	return c, nil
}
