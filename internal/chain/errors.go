package chain

import "errors"

// Environment-level failures. These are raised by the execution environment
// itself, never by the contract, and leave all state unchanged.
var (
	// ErrInsufficientFunds: the sender cannot cover the attached value or the
	// contract cannot cover a payout.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrRecipientBlocked: the recipient account rejects incoming transfers.
	ErrRecipientBlocked = errors.New("recipient rejects transfers")

	// ErrUnknownInstance: no contract is deployed at the target address.
	ErrUnknownInstance = errors.New("no contract deployed at address")

	// ErrTimeReversal: the clock offset may only move forward.
	ErrTimeReversal = errors.New("time can only move forward")

	// ErrSenderIsContract: contract instances only move value through their
	// own operations and cannot sign transactions.
	ErrSenderIsContract = errors.New("contract instances cannot send transactions")

	// ErrRecipientIsContract: instance balances are escrow and accept value
	// only as attached deposits.
	ErrRecipientIsContract = errors.New("contract instances do not accept transfers")

	// ErrSelfTransfer: sender and recipient are the same account.
	ErrSelfTransfer = errors.New("sender and recipient are the same account")

	// ErrBalanceOverflow: the credit would overflow the recipient balance.
	ErrBalanceOverflow = errors.New("balance overflow")

	// ErrEscrowMismatch: an instance balance differs from its commission plus
	// open pools.
	ErrEscrowMismatch = errors.New("instance balance does not match its escrow")
)
