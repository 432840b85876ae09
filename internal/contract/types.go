package contract

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Address identifies an account: a caller, a candidate, or a recipient.
type Address = common.Address

// ParseAddress parses a hex account address ("0x" prefix optional).
func ParseAddress(s string) (Address, error) {
	if !common.IsHexAddress(s) {
		return Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// Amount is a native-currency amount in gwei.
type Amount int64

// Gwei per ether.
const GweiPerEther Amount = 1_000_000_000

// String renders the amount in gwei.
func (a Amount) String() string {
	return fmt.Sprintf("%d gwei", int64(a))
}

// Reference parameters of the contract.
const (
	DefaultDeposit           Amount        = 10_000_000 // 0.01 ETH
	DefaultRoundDuration     time.Duration = 3 * 24 * time.Hour
	DefaultCommissionPercent int64         = 10
)

// Config holds the fixed parameters of a deployed instance.
type Config struct {
	// Deposit is the exact value a voter must attach.
	Deposit Amount `json:"deposit"`

	// RoundDuration is added to the creation time to compute a deadline.
	RoundDuration time.Duration `json:"round_duration"`

	// CommissionPercent of each finalized pool is kept for the owner.
	CommissionPercent int64 `json:"commission_percent"`
}

// DefaultConfig returns the reference parameters.
func DefaultConfig() Config {
	return Config{
		Deposit:           DefaultDeposit,
		RoundDuration:     DefaultRoundDuration,
		CommissionPercent: DefaultCommissionPercent,
	}
}

// Validate checks that the parameters describe a usable contract.
func (c Config) Validate() error {
	if c.Deposit <= 0 {
		return fmt.Errorf("deposit must be positive, got %d", c.Deposit)
	}
	if c.RoundDuration <= 0 {
		return fmt.Errorf("round duration must be positive, got %s", c.RoundDuration)
	}
	if c.CommissionPercent < 0 || c.CommissionPercent > 100 {
		return fmt.Errorf("commission percent must be within [0, 100], got %d", c.CommissionPercent)
	}
	return nil
}

// Commission returns the owner's cut of pool, rounded down. The pool is
// split into hundreds and a remainder so the product cannot overflow.
func (c Config) Commission(pool Amount) Amount {
	percent := Amount(c.CommissionPercent)
	return pool/100*percent + pool%100*percent/100
}

// Call is the invocation context of one operation.
type Call struct {
	// Caller is the authenticated identity invoking the operation.
	Caller Address

	// Value is the native currency attached to the call.
	Value Amount

	// Now is the current time of the execution environment.
	Now time.Time
}

// Bank moves native currency out of the contract's account.
// A non-nil error means nothing was moved.
type Bank interface {
	Transfer(from, to Address, amount Amount) error
}

// Receipt describes the outcome of a successful state transition.
type Receipt struct {
	// RoundID is set by CreateVoting, Vote and EndVoting.
	RoundID uint64

	// Winner is the winning candidate index (EndVoting).
	Winner int

	// WinnerAddress is the identity that received the payout (EndVoting).
	WinnerAddress Address

	// Payout is the value sent to the winner or to the withdrawal target.
	Payout Amount

	// Commission is the amount credited to the owner (EndVoting).
	Commission Amount

	// Events emitted by the transition, in order.
	Events []Event
}

// RoundView is a read-only copy of a round.
type RoundView struct {
	ID         uint64
	Candidates []Address
	VoteCounts []uint64
	Voters     int
	Pool       Amount
	CreatedAt  time.Time
	Deadline   time.Time
	Ended      bool
	EndedAt    time.Time
	Winner     int
	Payout     Amount
	Commission Amount
}
