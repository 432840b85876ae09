package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/roach88/votepool/internal/chain"
	"github.com/roach88/votepool/internal/contract"
	"github.com/roach88/votepool/internal/ir"
)

// marshalObject converts an IRObject to canonical JSON TEXT for storage.
// Uses RFC 8785 canonical JSON for deterministic serialization.
func marshalObject(obj ir.IRObject) (string, error) {
	if obj == nil {
		obj = ir.IRObject{}
	}
	data, err := ir.MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("marshal object: %w", err)
	}
	return string(data), nil
}

// unmarshalObject parses canonical JSON TEXT to IRObject.
// Uses ir.IRObject.UnmarshalJSON which keeps integers exact via json.Number.
func unmarshalObject(data string) (ir.IRObject, error) {
	if data == "" || data == "{}" {
		return ir.IRObject{}, nil
	}
	var obj ir.IRObject
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return nil, fmt.Errorf("unmarshal object: %w", err)
	}
	return obj, nil
}

// encodeTime stores a time as Unix nanoseconds, or NULL for the zero time.
func encodeTime(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func decodeTime(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.Unix(0, v.Int64).UTC()
}

func encodeAddress(a contract.Address) string {
	return a.Hex()
}

func decodeAddress(s string) (contract.Address, error) {
	addr, err := contract.ParseAddress(s)
	if err != nil {
		return contract.Address{}, fmt.Errorf("stored address: %w", err)
	}
	return addr, nil
}

func encodeBool(b bool) int {
	if b {
		return 1
	}
	return 0
}

// sortAccounts orders accounts by raw address bytes, matching chain.Snapshot.
func sortAccounts(accounts []chain.Account) {
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].Address.Cmp(accounts[j].Address) < 0
	})
}
