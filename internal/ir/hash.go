package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed ids.
// The version suffix leaves room for algorithm migration.
const (
	DomainTransaction = "votepool/transaction/v1"
	DomainEvent       = "votepool/event/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// TransactionHash computes the content hash of a committed transaction.
// The transaction id (UUIDv7) is excluded so that replaying the same
// sequence of calls reproduces the same hashes.
func TransactionHash(seq int64, method, from, to string, args IRObject, value int64) (string, error) {
	obj := IRObject{
		"seq":    IRInt(seq),
		"method": IRString(method),
		"from":   IRString(from),
		"to":     IRString(to),
		"args":   args,
		"value":  IRInt(value),
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("TransactionHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainTransaction, canonical), nil
}

// EventID computes the content-addressed id of an event.
// index is the event's position within its transaction.
func EventID(txHash string, index int, kind string, payload IRObject) (string, error) {
	obj := IRObject{
		"tx_hash": IRString(txHash),
		"index":   IRInt(index),
		"kind":    IRString(kind),
		"payload": payload,
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("EventID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainEvent, canonical), nil
}
