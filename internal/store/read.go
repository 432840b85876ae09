package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/votepool/internal/chain"
	"github.com/roach88/votepool/internal/contract"
)

// ErrNoState is returned by LoadSnapshot when nothing has been saved yet.
var ErrNoState = errors.New("no saved state")

// LoadSnapshot reads the saved chain state.
// Returns ErrNoState if the database has never been saved to.
func (s *Store) LoadSnapshot(ctx context.Context) (chain.Snapshot, error) {
	var snap chain.Snapshot

	meta, err := s.readMeta(ctx)
	if err != nil {
		return snap, fmt.Errorf("load snapshot: %w", err)
	}
	seq, ok := meta[metaSeq]
	if !ok {
		return snap, ErrNoState
	}
	snap.Seq = seq
	snap.Offset = time.Duration(meta[metaOffset])

	if snap.Accounts, err = s.readAccounts(ctx); err != nil {
		return snap, fmt.Errorf("load snapshot: %w", err)
	}
	if snap.Instances, err = s.readInstances(ctx); err != nil {
		return snap, fmt.Errorf("load snapshot: %w", err)
	}
	if snap.Transactions, err = s.ReadTransactions(ctx); err != nil {
		return snap, fmt.Errorf("load snapshot: %w", err)
	}
	if snap.Events, err = s.ReadEvents(ctx, nil); err != nil {
		return snap, fmt.Errorf("load snapshot: %w", err)
	}
	return snap, nil
}

func (s *Store) readMeta(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM meta ORDER BY key COLLATE BINARY ASC`)
	if err != nil {
		return nil, fmt.Errorf("query meta: %w", err)
	}
	defer rows.Close()

	meta := make(map[string]int64)
	for rows.Next() {
		var key string
		var value int64
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan meta: %w", err)
		}
		meta[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate meta: %w", err)
	}
	return meta, nil
}

func (s *Store) readAccounts(ctx context.Context) ([]chain.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT address, balance, nonce, blocked
		FROM accounts
		ORDER BY address COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	accounts := []chain.Account{}
	for rows.Next() {
		var (
			addr    string
			balance int64
			nonce   int64
			blocked bool
		)
		if err := rows.Scan(&addr, &balance, &nonce, &blocked); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		a, err := decodeAddress(addr)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, chain.Account{
			Address: a,
			Balance: contract.Amount(balance),
			Nonce:   uint64(nonce),
			Blocked: blocked,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}

	// Addresses are stored checksummed, so string order is not byte order.
	sortAccounts(accounts)
	return accounts, nil
}

func (s *Store) readInstances(ctx context.Context) ([]contract.State, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT address, owner, deposit, round_duration, commission_percent, commission
		FROM instances
		ORDER BY position ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query instances: %w", err)
	}

	var states []contract.State
	for rows.Next() {
		var (
			addr, owner             string
			deposit, duration, comm int64
			percent                 int64
		)
		if err := rows.Scan(&addr, &owner, &deposit, &duration, &percent, &comm); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan instance: %w", err)
		}
		st := contract.State{
			Config: contract.Config{
				Deposit:           contract.Amount(deposit),
				RoundDuration:     time.Duration(duration),
				CommissionPercent: percent,
			},
			Commission: contract.Amount(comm),
		}
		var err error
		if st.Address, err = decodeAddress(addr); err != nil {
			rows.Close()
			return nil, err
		}
		if st.Owner, err = decodeAddress(owner); err != nil {
			rows.Close()
			return nil, err
		}
		states = append(states, st)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate instances: %w", err)
	}
	rows.Close()

	// Rounds are read after the instance cursor is closed: the pool holds a
	// single connection.
	for i := range states {
		rounds, err := s.readRounds(ctx, encodeAddress(states[i].Address))
		if err != nil {
			return nil, err
		}
		states[i].Rounds = rounds
	}
	if states == nil {
		states = []contract.State{}
	}
	return states, nil
}

func (s *Store) readRounds(ctx context.Context, instance string) ([]contract.RoundState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT round_id, pool, created_at, deadline, ended, ended_at, winner, payout, commission
		FROM rounds
		WHERE instance = ?
		ORDER BY round_id ASC
	`, instance)
	if err != nil {
		return nil, fmt.Errorf("query rounds of %s: %w", instance, err)
	}

	var rounds []contract.RoundState
	for rows.Next() {
		var (
			id, pool, payout, comm int64
			created, deadline      sql.NullInt64
			endedAt                sql.NullInt64
			ended                  bool
			winner                 int
		)
		if err := rows.Scan(&id, &pool, &created, &deadline, &ended, &endedAt, &winner, &payout, &comm); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan round: %w", err)
		}
		rounds = append(rounds, contract.RoundState{
			ID:         uint64(id),
			Pool:       contract.Amount(pool),
			CreatedAt:  decodeTime(created),
			Deadline:   decodeTime(deadline),
			Ended:      ended,
			EndedAt:    decodeTime(endedAt),
			Winner:     winner,
			Payout:     contract.Amount(payout),
			Commission: contract.Amount(comm),
		})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate rounds: %w", err)
	}
	rows.Close()

	if rounds == nil {
		rounds = []contract.RoundState{}
	}
	for i := range rounds {
		r := &rounds[i]
		if r.Candidates, r.VoteCounts, err = s.readCandidates(ctx, instance, r.ID); err != nil {
			return nil, err
		}
		if r.Voters, err = s.readVoters(ctx, instance, r.ID); err != nil {
			return nil, err
		}
	}
	return rounds, nil
}

func (s *Store) readCandidates(ctx context.Context, instance string, roundID uint64) ([]contract.Address, []uint64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT address, votes
		FROM candidates
		WHERE instance = ? AND round_id = ?
		ORDER BY idx ASC
	`, instance, int64(roundID))
	if err != nil {
		return nil, nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	var (
		addrs  []contract.Address
		counts []uint64
	)
	for rows.Next() {
		var addr string
		var votes int64
		if err := rows.Scan(&addr, &votes); err != nil {
			return nil, nil, fmt.Errorf("scan candidate: %w", err)
		}
		a, err := decodeAddress(addr)
		if err != nil {
			return nil, nil, err
		}
		addrs = append(addrs, a)
		counts = append(counts, uint64(votes))
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate candidates: %w", err)
	}
	return addrs, counts, nil
}

func (s *Store) readVoters(ctx context.Context, instance string, roundID uint64) ([]contract.Address, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT address
		FROM voters
		WHERE instance = ? AND round_id = ?
		ORDER BY position ASC
	`, instance, int64(roundID))
	if err != nil {
		return nil, fmt.Errorf("query voters: %w", err)
	}
	defer rows.Close()

	var voters []contract.Address
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("scan voter: %w", err)
		}
		a, err := decodeAddress(addr)
		if err != nil {
			return nil, err
		}
		voters = append(voters, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate voters: %w", err)
	}
	return voters, nil
}

// ReadTransactions returns the transaction log in seq order.
// Returns an empty slice (not nil) if the log is empty.
func (s *Store) ReadTransactions(ctx context.Context) ([]chain.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, hash, method, from_addr, to_addr, args, value, time
		FROM transactions
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	txs := []chain.Transaction{}
	for rows.Next() {
		var (
			t              chain.Transaction
			from, to, args string
			value, at      int64
		)
		if err := rows.Scan(&t.Seq, &t.ID, &t.Hash, &t.Method, &from, &to, &args, &value, &at); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		if t.From, err = decodeAddress(from); err != nil {
			return nil, err
		}
		if t.To, err = decodeAddress(to); err != nil {
			return nil, err
		}
		if t.Args, err = unmarshalObject(args); err != nil {
			return nil, fmt.Errorf("transaction %d: %w", t.Seq, err)
		}
		t.Value = contract.Amount(value)
		t.Time = time.Unix(0, at).UTC()
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return txs, nil
}

// ReadEvents returns the event log in (seq, idx) order, optionally
// restricted to one contract instance.
// Returns an empty slice (not nil) if no events match.
func (s *Store) ReadEvents(ctx context.Context, instance *contract.Address) ([]chain.EventRecord, error) {
	query := `
		SELECT id, seq, idx, contract, kind, payload
		FROM events
	`
	var args []any
	if instance != nil {
		query += ` WHERE contract = ?`
		args = append(args, encodeAddress(*instance))
	}
	query += ` ORDER BY seq ASC, idx ASC, id COLLATE BINARY ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []chain.EventRecord{}
	for rows.Next() {
		var (
			ev                  chain.EventRecord
			addr, kind, payload string
		)
		if err := rows.Scan(&ev.ID, &ev.Seq, &ev.Index, &addr, &kind, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if ev.Contract, err = decodeAddress(addr); err != nil {
			return nil, err
		}
		ev.Kind = contract.EventKind(kind)
		if ev.Payload, err = unmarshalObject(payload); err != nil {
			return nil, fmt.Errorf("event %s: %w", ev.ID, err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}
