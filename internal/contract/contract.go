package contract

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Contract is one deployed instance of the voting ledger.
//
// Thread-safety: every exported method holds the contract mutex for its whole
// duration, so operations are serialized and readers never observe a
// partially applied transition.
type Contract struct {
	mu sync.Mutex

	address    Address
	owner      Address
	cfg        Config
	bank       Bank
	logger     *zap.Logger
	commission Amount
	rounds     []*round
	events     []Event
}

// round is the mutable state of one voting round.
// Round ids are dense: rounds[i].id == i.
type round struct {
	id         uint64
	candidates []Address
	voteCounts []uint64
	voters     []Address
	hasVoted   map[Address]struct{}
	pool       Amount
	createdAt  time.Time
	deadline   time.Time
	ended      bool
	endedAt    time.Time
	winner     int
	payout     Amount
	commission Amount
}

// New creates a contract deployed at address and owned by owner.
// Value leaving the contract is moved through bank.
func New(address, owner Address, cfg Config, bank Bank, logger *zap.Logger) (*Contract, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid contract config: %w", err)
	}
	if bank == nil {
		return nil, fmt.Errorf("contract requires a bank")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Contract{
		address: address,
		owner:   owner,
		cfg:     cfg,
		bank:    bank,
		logger:  logger.With(zap.String("contract", address.Hex())),
	}, nil
}

// Address returns the address the contract is deployed at.
func (c *Contract) Address() Address {
	return c.address
}

// Owner returns the deploying identity.
func (c *Contract) Owner() Address {
	return c.owner
}

// Config returns the fixed parameters of the instance.
func (c *Contract) Config() Config {
	return c.cfg
}

// CreateVoting opens a new round over candidates. Owner only.
// Duplicate candidates are kept as distinct slots.
func (c *Contract) CreateVoting(call Call, candidates []Address) (*Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if call.Caller != c.owner {
		return nil, notOwnerError()
	}
	if len(candidates) == 0 {
		return nil, newError(ErrCodeInvalidCandidateList, "candidate list is empty")
	}
	if call.Value != 0 {
		e := newError(ErrCodeWrongDeposit, "createVoting does not accept value")
		e.Details = map[string]string{"attached": fmt.Sprintf("%d", call.Value)}
		return nil, e
	}

	id := uint64(len(c.rounds))
	r := &round{
		id:         id,
		candidates: append([]Address(nil), candidates...),
		voteCounts: make([]uint64, len(candidates)),
		hasVoted:   make(map[Address]struct{}),
		createdAt:  call.Now,
		deadline:   call.Now.Add(c.cfg.RoundDuration),
		winner:     -1,
	}
	c.rounds = append(c.rounds, r)

	receipt := &Receipt{RoundID: id}
	c.emit(receipt, Event{Kind: EventVotingCreated, RoundID: id})

	c.logger.Debug("voting created",
		zap.Uint64("round_id", id),
		zap.Int("candidates", len(candidates)),
		zap.Time("deadline", r.deadline),
	)
	return receipt, nil
}

// Vote records call.Caller's vote for candidateIndex in round roundID.
// call.Value must equal the configured deposit; the environment has already
// credited it to the contract's account.
func (c *Contract) Vote(call Call, roundID uint64, candidateIndex int) (*Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, err := c.round(roundID)
	if err != nil {
		return nil, err
	}
	if r.ended || !call.Now.Before(r.deadline) {
		return nil, newRoundError(ErrCodeVotingClosed, roundID, "Voting has already finished")
	}
	if call.Value != c.cfg.Deposit {
		return nil, wrongDepositError(roundID, c.cfg.Deposit, call.Value)
	}
	if _, ok := r.hasVoted[call.Caller]; ok {
		return nil, newRoundError(ErrCodeAlreadyVoted, roundID, "You have already voted")
	}
	if candidateIndex < 0 || candidateIndex >= len(r.candidates) {
		return nil, candidateNotFoundError(roundID, candidateIndex, len(r.candidates))
	}

	r.hasVoted[call.Caller] = struct{}{}
	r.voters = append(r.voters, call.Caller)
	r.voteCounts[candidateIndex]++
	r.pool += c.cfg.Deposit

	receipt := &Receipt{RoundID: roundID}
	c.emit(receipt, Event{
		Kind:      EventVoted,
		RoundID:   roundID,
		Voter:     call.Caller,
		Candidate: candidateIndex,
	})

	c.logger.Debug("vote accepted",
		zap.Uint64("round_id", roundID),
		zap.String("voter", call.Caller.Hex()),
		zap.Int("candidate", candidateIndex),
	)
	return receipt, nil
}

// EndVoting finalizes round roundID and pays the winner. Anyone may call it
// once the deadline has passed.
func (c *Contract) EndVoting(call Call, roundID uint64) (*Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, err := c.round(roundID)
	if err != nil {
		return nil, err
	}
	if call.Now.Before(r.deadline) {
		return nil, newRoundError(ErrCodeTooEarly, roundID, "Cant be finished")
	}
	if r.ended {
		return nil, newRoundError(ErrCodeAlreadyEnded, roundID, "Voting has already been finished")
	}
	if len(r.voters) == 0 {
		return nil, newRoundError(ErrCodeEmptyRound, roundID, "Nobody has voted")
	}

	winner := leader(r.voteCounts)
	to := r.candidates[winner]
	commission := c.cfg.Commission(r.pool)
	payout := r.pool - commission

	if payout > 0 {
		if err := c.bank.Transfer(c.address, to, payout); err != nil {
			c.logger.Warn("payout failed",
				zap.Uint64("round_id", roundID),
				zap.String("winner", to.Hex()),
				zap.Error(err),
			)
			tf := transferFailedError(to, payout, err)
			tf.RoundID = &r.id
			return nil, tf
		}
	}

	c.commission += commission
	r.ended = true
	r.endedAt = call.Now
	r.winner = winner
	r.payout = payout
	r.commission = commission
	r.pool = 0

	receipt := &Receipt{
		RoundID:       roundID,
		Winner:        winner,
		WinnerAddress: to,
		Payout:        payout,
		Commission:    commission,
	}
	c.emit(receipt, Event{
		Kind:    EventVotingFinished,
		RoundID: roundID,
		Winner:  to,
		Amount:  payout,
	})

	c.logger.Info("voting finished",
		zap.Uint64("round_id", roundID),
		zap.Int("winner", winner),
		zap.Int64("payout", int64(payout)),
		zap.Int64("commission", int64(commission)),
	)
	return receipt, nil
}

// Transfer sends the whole commission balance to to. Owner only.
func (c *Contract) Transfer(call Call, to Address) (*Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if call.Caller != c.owner {
		return nil, notOwnerError()
	}
	if c.commission == 0 {
		return nil, newError(ErrCodeNullTransfer, "Cant transfer null value")
	}

	amount := c.commission
	if err := c.bank.Transfer(c.address, to, amount); err != nil {
		c.logger.Warn("commission transfer failed", zap.String("to", to.Hex()), zap.Error(err))
		return nil, transferFailedError(to, amount, err)
	}
	c.commission = 0

	receipt := &Receipt{Payout: amount}
	c.emit(receipt, Event{Kind: EventTransfered, To: to, Amount: amount})

	c.logger.Info("commission transferred",
		zap.String("to", to.Hex()),
		zap.Int64("amount", int64(amount)),
	)
	return receipt, nil
}

// CommissionInfo returns the withdrawable commission balance.
func (c *Contract) CommissionInfo() Amount {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commission
}

// CandidateInfo returns the vote count of a candidate in any round state.
func (c *Contract) CandidateInfo(roundID uint64, candidateIndex int) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, err := c.round(roundID)
	if err != nil {
		return 0, err
	}
	if candidateIndex < 0 || candidateIndex >= len(r.candidates) {
		return 0, candidateNotFoundError(roundID, candidateIndex, len(r.candidates))
	}
	return r.voteCounts[candidateIndex], nil
}

// EndInfo returns the deadline of a round. The deadline never changes after
// creation; see RoundView.EndedAt for the finalization time.
func (c *Contract) EndInfo(roundID uint64) (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, err := c.round(roundID)
	if err != nil {
		return time.Time{}, err
	}
	return r.deadline, nil
}

// Round returns a copy of round roundID.
func (c *Contract) Round(roundID uint64) (RoundView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, err := c.round(roundID)
	if err != nil {
		return RoundView{}, err
	}
	return r.view(), nil
}

// Rounds returns copies of all rounds in creation order.
func (c *Contract) Rounds() []RoundView {
	c.mu.Lock()
	defer c.mu.Unlock()

	views := make([]RoundView, len(c.rounds))
	for i, r := range c.rounds {
		views[i] = r.view()
	}
	return views
}

// RoundCount returns the id the next created round will get.
func (c *Contract) RoundCount() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint64(len(c.rounds))
}

// Events returns a copy of the event log in emission order.
func (c *Contract) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

// round looks up a round. Caller must hold c.mu.
func (c *Contract) round(roundID uint64) (*round, error) {
	if roundID >= uint64(len(c.rounds)) {
		return nil, roundNotFoundError(roundID)
	}
	return c.rounds[roundID], nil
}

// emit appends ev to the receipt and to the contract log. Caller must hold c.mu.
func (c *Contract) emit(receipt *Receipt, ev Event) {
	receipt.Events = append(receipt.Events, ev)
	c.events = append(c.events, ev)
}

// leader returns the index with the strictly greatest count.
// Ties go to the lowest index.
func leader(counts []uint64) int {
	best := 0
	for i := 1; i < len(counts); i++ {
		if counts[i] > counts[best] {
			best = i
		}
	}
	return best
}

func (r *round) view() RoundView {
	return RoundView{
		ID:         r.id,
		Candidates: append([]Address(nil), r.candidates...),
		VoteCounts: append([]uint64(nil), r.voteCounts...),
		Voters:     len(r.voters),
		Pool:       r.pool,
		CreatedAt:  r.createdAt,
		Deadline:   r.deadline,
		Ended:      r.ended,
		EndedAt:    r.endedAt,
		Winner:     r.winner,
		Payout:     r.payout,
		Commission: r.commission,
	}
}
