package chain

import (
	"time"

	"github.com/roach88/votepool/internal/contract"
	"github.com/roach88/votepool/internal/ir"
)

// Transaction methods recorded in the log.
const (
	MethodDeploy       = "deploy"
	MethodCreateVoting = "createVoting"
	MethodVote         = "vote"
	MethodEndVoting    = "endVoting"
	MethodTransfer     = "transfer"
)

// Transaction is a committed state transition. Rejected calls are never
// recorded.
type Transaction struct {
	Seq    int64            `json:"seq"`
	ID     string           `json:"id"`
	Hash   string           `json:"hash"`
	Method string           `json:"method"`
	From   contract.Address `json:"from"`
	To     contract.Address `json:"to"`
	Args   ir.IRObject      `json:"args"`
	Value  contract.Amount  `json:"value"`
	Time   time.Time        `json:"time"`
}

// EventRecord is an event as stored in the environment's log.
type EventRecord struct {
	ID       string             `json:"id"`
	Seq      int64              `json:"seq"`
	Index    int                `json:"index"`
	Contract contract.Address   `json:"contract"`
	Kind     contract.EventKind `json:"kind"`
	Payload  ir.IRObject        `json:"payload"`
}

// Event decodes the record back into a typed contract event.
func (r EventRecord) Event() (contract.Event, error) {
	return contract.EventFromPayload(r.Kind, r.Payload)
}

// Receipt is what a committed transaction returns to its sender.
type Receipt struct {
	Tx     Transaction
	Events []EventRecord
	Result *contract.Receipt
}

// Account is the native-ledger state of one address.
type Account struct {
	Address contract.Address `json:"address"`
	Balance contract.Amount  `json:"balance"`
	Nonce   uint64           `json:"nonce"`
	Blocked bool             `json:"blocked"`
}

// Snapshot is the complete environment state as plain data.
type Snapshot struct {
	// Offset is how far the chain clock runs ahead of its base clock.
	Offset time.Duration

	// Seq is the last issued transaction sequence number.
	Seq int64

	Accounts     []Account
	Instances    []contract.State
	Transactions []Transaction
	Events       []EventRecord
}
