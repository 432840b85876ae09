package chain

import (
	"encoding/binary"

	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"

	"github.com/roach88/votepool/internal/contract"
)

// IDGenerator produces transaction ids.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 transaction ids.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 as a hyphenated string.
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// InstanceAddress derives the address of a contract deployed by deployer
// with the given account nonce: the last 20 bytes of
// Keccak-256(deployer || big-endian nonce).
func InstanceAddress(deployer contract.Address, nonce uint64) contract.Address {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], nonce)

	h := sha3.NewLegacyKeccak256()
	h.Write(deployer.Bytes())
	h.Write(n[:])
	sum := h.Sum(nil)

	var addr contract.Address
	copy(addr[:], sum[len(sum)-len(addr):])
	return addr
}
