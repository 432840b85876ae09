package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/votepool/internal/chain"
	"github.com/roach88/votepool/internal/contract"
)

// Meta keys.
const (
	metaSeq    = "seq"
	metaOffset = "offset"
)

// SaveSnapshot persists snap in a single transaction.
//
// State tables are replaced wholesale. Log rows are inserted with
// ON CONFLICT DO NOTHING, so saving the same snapshot twice is a no-op and
// saving a longer log only appends the new tail.
func (s *Store) SaveSnapshot(ctx context.Context, snap chain.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save snapshot: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := clearState(ctx, tx); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	if err := writeMeta(ctx, tx, snap); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	for _, acc := range snap.Accounts {
		if err := writeAccount(ctx, tx, acc); err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}
	}
	for i, st := range snap.Instances {
		if err := writeInstance(ctx, tx, i, st); err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}
	}
	for _, t := range snap.Transactions {
		if err := writeTransaction(ctx, tx, t); err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}
	}
	for _, ev := range snap.Events {
		if err := writeEvent(ctx, tx, ev); err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save snapshot: commit: %w", err)
	}
	return nil
}

// clearState deletes every state row, children first.
func clearState(ctx context.Context, tx *sql.Tx) error {
	for _, table := range []string{"voters", "candidates", "rounds", "instances", "accounts", "meta"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}

func writeMeta(ctx context.Context, tx *sql.Tx, snap chain.Snapshot) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?), (?, ?)
	`, metaSeq, snap.Seq, metaOffset, int64(snap.Offset))
	if err != nil {
		return fmt.Errorf("write meta: %w", err)
	}
	return nil
}

func writeAccount(ctx context.Context, tx *sql.Tx, acc chain.Account) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO accounts (address, balance, nonce, blocked)
		VALUES (?, ?, ?, ?)
	`,
		encodeAddress(acc.Address),
		int64(acc.Balance),
		int64(acc.Nonce),
		encodeBool(acc.Blocked),
	)
	if err != nil {
		return fmt.Errorf("write account %s: %w", acc.Address.Hex(), err)
	}
	return nil
}

func writeInstance(ctx context.Context, tx *sql.Tx, position int, st contract.State) error {
	addr := encodeAddress(st.Address)
	_, err := tx.ExecContext(ctx, `
		INSERT INTO instances
		(address, position, owner, deposit, round_duration, commission_percent, commission)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		addr,
		position,
		encodeAddress(st.Owner),
		int64(st.Config.Deposit),
		int64(st.Config.RoundDuration),
		st.Config.CommissionPercent,
		int64(st.Commission),
	)
	if err != nil {
		return fmt.Errorf("write instance %s: %w", addr, err)
	}

	for _, r := range st.Rounds {
		if err := writeRound(ctx, tx, addr, r); err != nil {
			return fmt.Errorf("write instance %s: %w", addr, err)
		}
	}
	return nil
}

func writeRound(ctx context.Context, tx *sql.Tx, instance string, r contract.RoundState) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO rounds
		(instance, round_id, pool, created_at, deadline, ended, ended_at, winner, payout, commission)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		instance,
		int64(r.ID),
		int64(r.Pool),
		encodeTime(r.CreatedAt),
		encodeTime(r.Deadline),
		encodeBool(r.Ended),
		encodeTime(r.EndedAt),
		r.Winner,
		int64(r.Payout),
		int64(r.Commission),
	)
	if err != nil {
		return fmt.Errorf("round %d: %w", r.ID, err)
	}

	for i, cand := range r.Candidates {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO candidates (instance, round_id, idx, address, votes)
			VALUES (?, ?, ?, ?, ?)
		`, instance, int64(r.ID), i, encodeAddress(cand), int64(r.VoteCounts[i]))
		if err != nil {
			return fmt.Errorf("round %d candidate %d: %w", r.ID, i, err)
		}
	}

	for i, voter := range r.Voters {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO voters (instance, round_id, position, address)
			VALUES (?, ?, ?, ?)
		`, instance, int64(r.ID), i, encodeAddress(voter))
		if err != nil {
			return fmt.Errorf("round %d voter %s: %w", r.ID, voter.Hex(), err)
		}
	}
	return nil
}

// writeTransaction appends a transaction to the log. Duplicate seqs are
// silently ignored for idempotency.
func writeTransaction(ctx context.Context, tx *sql.Tx, t chain.Transaction) error {
	argsJSON, err := marshalObject(t.Args)
	if err != nil {
		return fmt.Errorf("write transaction %d: %w", t.Seq, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transactions
		(seq, id, hash, method, from_addr, to_addr, args, value, time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(seq) DO NOTHING
	`,
		t.Seq,
		t.ID,
		t.Hash,
		t.Method,
		encodeAddress(t.From),
		encodeAddress(t.To),
		argsJSON,
		int64(t.Value),
		t.Time.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("write transaction %d: %w", t.Seq, err)
	}
	return nil
}

// writeEvent appends an event to the log. Duplicate ids are silently ignored.
func writeEvent(ctx context.Context, tx *sql.Tx, ev chain.EventRecord) error {
	payloadJSON, err := marshalObject(ev.Payload)
	if err != nil {
		return fmt.Errorf("write event %s: %w", ev.ID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (id, seq, idx, contract, kind, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		ev.ID,
		ev.Seq,
		ev.Index,
		encodeAddress(ev.Contract),
		string(ev.Kind),
		payloadJSON,
	)
	if err != nil {
		return fmt.Errorf("write event %s: %w", ev.ID, err)
	}
	return nil
}
