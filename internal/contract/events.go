package contract

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/votepool/internal/ir"
)

// EventKind names an emitted event.
type EventKind string

// Event kinds. The names match the events of the deployed contract ABI.
const (
	EventVotingCreated  EventKind = "votingCreated"
	EventVoted          EventKind = "voted"
	EventVotingFinished EventKind = "votingFinished"
	EventTransfered     EventKind = "transfered"
)

// Event is a typed notification emitted by a successful operation.
// Which fields are meaningful depends on Kind:
//
//	votingCreated   RoundID
//	voted           RoundID, Voter, Candidate
//	votingFinished  RoundID, Winner, Amount (payout)
//	transfered      To, Amount
type Event struct {
	Kind      EventKind
	RoundID   uint64
	Voter     Address
	Candidate int
	Winner    Address
	To        Address
	Amount    Amount
}

// Payload returns the event arguments as an IR object for canonical
// encoding and storage.
func (e Event) Payload() ir.IRObject {
	switch e.Kind {
	case EventVotingCreated:
		return ir.IRObject{
			"round_id": ir.IRInt(e.RoundID),
		}
	case EventVoted:
		return ir.IRObject{
			"round_id":  ir.IRInt(e.RoundID),
			"voter":     ir.IRString(e.Voter.Hex()),
			"candidate": ir.IRInt(e.Candidate),
		}
	case EventVotingFinished:
		return ir.IRObject{
			"round_id": ir.IRInt(e.RoundID),
			"winner":   ir.IRString(e.Winner.Hex()),
			"payout":   ir.IRInt(e.Amount),
		}
	case EventTransfered:
		return ir.IRObject{
			"to":     ir.IRString(e.To.Hex()),
			"amount": ir.IRInt(e.Amount),
		}
	default:
		return ir.IRObject{}
	}
}

// EventFromPayload rebuilds a typed event from its kind and stored payload.
func EventFromPayload(kind EventKind, payload ir.IRObject) (Event, error) {
	ev := Event{Kind: kind}
	var err error
	switch kind {
	case EventVotingCreated:
		ev.RoundID, err = payloadUint(payload, "round_id")
	case EventVoted:
		if ev.RoundID, err = payloadUint(payload, "round_id"); err != nil {
			break
		}
		if ev.Voter, err = payloadAddress(payload, "voter"); err != nil {
			break
		}
		var idx uint64
		idx, err = payloadUint(payload, "candidate")
		ev.Candidate = int(idx)
	case EventVotingFinished:
		if ev.RoundID, err = payloadUint(payload, "round_id"); err != nil {
			break
		}
		if ev.Winner, err = payloadAddress(payload, "winner"); err != nil {
			break
		}
		var amount uint64
		amount, err = payloadUint(payload, "payout")
		ev.Amount = Amount(amount)
	case EventTransfered:
		if ev.To, err = payloadAddress(payload, "to"); err != nil {
			break
		}
		var amount uint64
		amount, err = payloadUint(payload, "amount")
		ev.Amount = Amount(amount)
	default:
		return Event{}, fmt.Errorf("unknown event kind %q", kind)
	}
	if err != nil {
		return Event{}, fmt.Errorf("decode %s event: %w", kind, err)
	}
	return ev, nil
}

func payloadUint(payload ir.IRObject, key string) (uint64, error) {
	v, ok := payload[key].(ir.IRInt)
	if !ok {
		return 0, fmt.Errorf("%s: expected integer, got %T", key, payload[key])
	}
	if v < 0 {
		return 0, fmt.Errorf("%s: negative value %d", key, v)
	}
	return uint64(v), nil
}

func payloadAddress(payload ir.IRObject, key string) (Address, error) {
	v, ok := payload[key].(ir.IRString)
	if !ok {
		return Address{}, fmt.Errorf("%s: expected address string, got %T", key, payload[key])
	}
	if !common.IsHexAddress(string(v)) {
		return Address{}, fmt.Errorf("%s: invalid address %q", key, v)
	}
	return common.HexToAddress(string(v)), nil
}
