// Package contract implements the voting rounds ledger contract.
//
// A Contract holds the state of one deployed instance: the owner, the
// accumulated commission, and the registry of voting rounds. Every exported
// operation is a single atomic state transition executed under the contract's
// mutex. Callers pass the invocation context explicitly:
//
//	call := contract.Call{Caller: voter, Value: cfg.Deposit, Now: clock.Now()}
//	receipt, err := c.Vote(call, roundID, 0)
//
// # Round lifecycle
//
//   - CreateVoting: owner opens a round with a fixed candidate list. The
//     deadline is Now + Config.RoundDuration and never changes afterwards.
//   - Vote: any identity votes once per round, attaching exactly
//     Config.Deposit, strictly before the deadline.
//   - EndVoting: anyone finalizes a round at or after its deadline. The
//     candidate with the most votes receives the pool minus
//     Config.CommissionPercent; ties resolve to the lowest candidate index.
//   - Transfer: owner withdraws the whole commission balance.
//
// # Atomicity
//
// Value leaving the contract goes through the Bank interface. Operations
// validate first, move value second, and mutate state last, so a failed
// transfer leaves the contract exactly as it was.
//
// Every successful operation returns a Receipt with the events it emitted.
// The same events are appended to the contract's event log (Events).
package contract
