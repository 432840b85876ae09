package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionHashDeterminism(t *testing.T) {
	args := IRObject{"round_id": IRInt(0), "candidate": IRInt(1)}

	h1, err := TransactionHash(7, "vote", "0x01", "0x02", args, 10_000_000)
	require.NoError(t, err)
	h2, err := TransactionHash(7, "vote", "0x01", "0x02", args, 10_000_000)
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64, "SHA-256 hex is 64 characters")
}

func TestTransactionHashChangesWithInput(t *testing.T) {
	args := IRObject{"round_id": IRInt(0)}

	base, err := TransactionHash(1, "endVoting", "0x01", "0x02", args, 0)
	require.NoError(t, err)

	others := []struct {
		name   string
		seq    int64
		method string
		from   string
		value  int64
	}{
		{"seq", 2, "endVoting", "0x01", 0},
		{"method", 1, "vote", "0x01", 0},
		{"from", 1, "endVoting", "0x03", 0},
		{"value", 1, "endVoting", "0x01", 1},
	}
	for _, o := range others {
		t.Run(o.name, func(t *testing.T) {
			h, err := TransactionHash(o.seq, o.method, o.from, "0x02", args, o.value)
			require.NoError(t, err)
			assert.NotEqual(t, base, h)
		})
	}
}

func TestEventIDDomainSeparation(t *testing.T) {
	payload := IRObject{"round_id": IRInt(0)}

	id, err := EventID("abc", 0, "votingCreated", payload)
	require.NoError(t, err)

	canonical, err := MarshalCanonical(IRObject{
		"tx_hash": IRString("abc"),
		"index":   IRInt(0),
		"kind":    IRString("votingCreated"),
		"payload": payload,
	})
	require.NoError(t, err)

	assert.Equal(t, hashWithDomain(DomainEvent, canonical), id)
	assert.NotEqual(t, hashWithDomain(DomainTransaction, canonical), id)

	other, err := EventID("abc", 1, "votingCreated", payload)
	require.NoError(t, err)
	assert.NotEqual(t, id, other, "position within the transaction is part of the id")
}
