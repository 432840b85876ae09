package harness

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/votepool/internal/chain"
	"github.com/roach88/votepool/internal/contract"
	"github.com/roach88/votepool/internal/ir"
	"github.com/roach88/votepool/internal/params"
	"github.com/roach88/votepool/internal/store"
	"github.com/roach88/votepool/internal/testutil"
)

// OutcomeOK is the outcome of a step that succeeded.
const OutcomeOK = "ok"

// Outcome codes for environment failures.
const (
	OutcomeInsufficientFunds = "INSUFFICIENT_FUNDS"
	OutcomeRecipientBlocked  = "RECIPIENT_BLOCKED"
	OutcomeUnknownInstance   = "UNKNOWN_INSTANCE"
	OutcomeTimeReversal      = "TIME_REVERSAL"
	OutcomeError             = "ERROR"
)

// Harness is the test execution engine.
// It runs one scenario against a fresh chain with a manual clock and
// sequential transaction ids, so that traces are reproducible.
type Harness struct {
	chain    *chain.Chain
	clock    *testutil.ManualClock
	book     *addressBook
	instance contract.Address
	opening  map[string]int64
	logger   *zap.Logger
}

// Option configures a harness run.
type Option func(*Harness)

// WithLogger sets the logger passed to the chain. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Harness) {
		h.logger = logger
	}
}

// Run executes a test scenario and returns the result.
//
// Execution flow:
//  1. Fund the named accounts on a fresh chain
//  2. Deploy the instance from the deployer with the scenario params
//  3. Execute flow steps, checking each expect clause
//  4. Save the final snapshot to an in-memory store
//  5. Evaluate assertions
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	h := &Harness{
		clock:   testutil.NewManualClock(testutil.Epoch),
		book:    newAddressBook(),
		opening: make(map[string]int64),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.chain = chain.New(h.clock,
		chain.WithLogger(h.logger),
		chain.WithIDGenerator(testutil.NewSequentialIDGenerator(scenario.Name)),
	)

	if err := h.setup(scenario); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}

	result := NewResult()
	h.executeFlow(scenario.Flow, result)
	h.collectFinal(result)

	ctx := context.Background()
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()
	if err := st.SaveSnapshot(ctx, h.chain.Snapshot()); err != nil {
		return nil, fmt.Errorf("failed to save final state: %w", err)
	}

	actx := &AssertionContext{
		Store:    st,
		Ctx:      ctx,
		Chain:    h.chain,
		Instance: h.instance,
		Book:     h.book,
		Opening:  h.opening,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}

	if err := h.chain.Audit(); err != nil {
		result.AddError(fmt.Sprintf("conservation check failed: %v", err))
	}

	return result, nil
}

// setup funds the accounts and deploys the instance.
func (h *Harness) setup(s *Scenario) error {
	names := make([]string, 0, len(s.Accounts))
	for name := range s.Accounts {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		addr := NamedAddress(name)
		h.book.add(name, addr)
		h.opening[name] = s.Accounts[name]
		if s.Accounts[name] > 0 {
			if err := h.chain.Fund(addr, contract.Amount(s.Accounts[name])); err != nil {
				return fmt.Errorf("fund %s: %w", name, err)
			}
		}
	}

	cfg, err := s.Params.config(s.Name)
	if err != nil {
		return err
	}

	inst, _, err := h.chain.Deploy(h.book.resolve(s.Deployer), cfg)
	if err != nil {
		return fmt.Errorf("deploy: %w", err)
	}
	h.instance = inst
	h.book.add(ContractName, inst)
	h.opening[ContractName] = 0

	h.logger.Debug("scenario deployed",
		zap.String("scenario", s.Name),
		zap.String("instance", inst.Hex()),
		zap.Int("accounts", len(names)),
	)
	return nil
}

// config renders the clause as CUE and validates it against the parameter
// schema. A nil clause yields the defaults.
func (p *ParamsClause) config(scenario string) (contract.Config, error) {
	if p == nil {
		return params.Default(), nil
	}

	var fields []string
	if p.DepositGwei != nil {
		fields = append(fields, fmt.Sprintf("deposit_gwei: %d", *p.DepositGwei))
	}
	if p.RoundDuration != "" {
		fields = append(fields, fmt.Sprintf("round_duration: %q", p.RoundDuration))
	}
	if p.CommissionPercent != nil {
		fields = append(fields, fmt.Sprintf("commission_percent: %d", *p.CommissionPercent))
	}
	src := "params: {\n\t" + strings.Join(fields, "\n\t") + "\n}\n"

	cfg, err := params.Parse([]byte(src), scenario+".params.cue")
	if err != nil {
		return contract.Config{}, fmt.Errorf("params: %w", err)
	}
	return cfg, nil
}

// executeFlow runs all flow steps and validates expect clauses.
// Step failures are recorded on result; the flow always runs to the end.
func (h *Harness) executeFlow(flow []Step, result *Result) {
	for i, step := range flow {
		event, err := h.executeStep(i, step)
		result.Trace = append(result.Trace, event)

		want := OutcomeOK
		if step.Expect != nil && step.Expect.Error != "" {
			want = step.Expect.Error
		}
		if event.Outcome != want {
			got := event.Outcome
			if err != nil {
				got = err.Error()
			}
			result.AddError(fmt.Sprintf("flow[%d] %s: expected %s, got %s", i, step.Action, want, got))
			continue
		}

		if step.Expect != nil && step.Expect.Result != nil {
			want, convErr := ir.FromGo(step.Expect.Result)
			if convErr != nil {
				result.AddError(fmt.Sprintf("flow[%d] %s: expect.result: %v", i, step.Action, convErr))
				continue
			}
			if !event.Result.Subset(want.(ir.IRObject)) {
				result.AddError(fmt.Sprintf("flow[%d] %s: expected result %v, got %v",
					i, step.Action, want, event.Result))
			}
		}

		h.logger.Debug("flow step completed",
			zap.Int("step", i),
			zap.String("action", step.Action),
			zap.String("outcome", event.Outcome),
		)
	}
}

// executeStep runs one step and records it as a trace event.
func (h *Harness) executeStep(i int, st Step) (TraceEvent, error) {
	event := TraceEvent{Step: i, Action: st.Action, From: st.From, Args: ir.IRObject{}}
	from := contract.Address{}
	if st.From != "" {
		from = h.book.resolve(st.From)
	}

	var (
		receipt *chain.Receipt
		err     error
	)

	switch st.Action {
	case ActionCreateVoting:
		cands := make([]contract.Address, len(st.Candidates))
		names := make(ir.IRArray, len(st.Candidates))
		for j, ref := range st.Candidates {
			cands[j] = h.book.resolve(ref)
			names[j] = ir.IRString(ref)
		}
		event.Args["candidates"] = names
		receipt, err = h.chain.CreateVoting(from, h.instance, cands)
		if err == nil {
			event.Result = ir.IRObject{"round_id": ir.IRInt(receipt.Result.RoundID)}
		}

	case ActionVote:
		value := h.deposit()
		if st.Value != nil {
			value = contract.Amount(*st.Value)
		}
		event.Args["round"] = ir.IRInt(*st.Round)
		event.Args["candidate"] = ir.IRInt(*st.Candidate)
		event.Args["value"] = ir.IRInt(value)
		receipt, err = h.chain.Vote(from, h.instance, *st.Round, *st.Candidate, value)
		if err == nil {
			event.Result = ir.IRObject{"round_id": ir.IRInt(receipt.Result.RoundID)}
		}

	case ActionEndVoting:
		event.Args["round"] = ir.IRInt(*st.Round)
		receipt, err = h.chain.EndVoting(from, h.instance, *st.Round)
		if err == nil {
			r := receipt.Result
			event.Result = ir.IRObject{
				"winner":         ir.IRInt(r.Winner),
				"winner_address": ir.IRString(h.book.name(r.WinnerAddress)),
				"payout":         ir.IRInt(r.Payout),
				"commission":     ir.IRInt(r.Commission),
			}
		}

	case ActionTransfer:
		event.Args["to"] = ir.IRString(st.To)
		receipt, err = h.chain.Transfer(from, h.instance, h.book.resolve(st.To))
		if err == nil {
			event.Result = ir.IRObject{"amount": ir.IRInt(receipt.Result.Payout)}
		}

	case ActionCommissionInfo:
		var commission contract.Amount
		commission, err = h.chain.CommissionInfo(h.instance)
		if err == nil {
			event.Result = ir.IRObject{"commission": ir.IRInt(commission)}
		}

	case ActionCandidateInfo:
		event.Args["round"] = ir.IRInt(*st.Round)
		event.Args["candidate"] = ir.IRInt(*st.Candidate)
		var votes uint64
		votes, err = h.chain.CandidateInfo(h.instance, *st.Round, *st.Candidate)
		if err == nil {
			event.Result = ir.IRObject{"votes": ir.IRInt(votes)}
		}

	case ActionEndInfo:
		event.Args["round"] = ir.IRInt(*st.Round)
		var deadline time.Time
		deadline, err = h.chain.EndInfo(h.instance, *st.Round)
		if err == nil {
			event.Result = ir.IRObject{"deadline": ir.IRString(deadline.UTC().Format(time.RFC3339))}
		}

	case ActionAdvanceTime:
		d, _ := time.ParseDuration(st.Duration) // validated on load
		event.Args["duration"] = ir.IRString(st.Duration)
		err = h.chain.AdvanceTime(d)
		if err == nil {
			event.Result = ir.IRObject{"now": ir.IRString(h.chain.Now().UTC().Format(time.RFC3339))}
		}

	case ActionFund:
		event.Args["account"] = ir.IRString(st.Account)
		event.Args["amount"] = ir.IRInt(st.Amount)
		err = h.chain.Fund(h.book.resolve(st.Account), contract.Amount(st.Amount))

	case ActionBlock:
		event.Args["account"] = ir.IRString(st.Account)
		h.chain.Block(h.book.resolve(st.Account))

	case ActionUnblock:
		event.Args["account"] = ir.IRString(st.Account)
		h.chain.Unblock(h.book.resolve(st.Account))

	default:
		err = fmt.Errorf("unknown action %q", st.Action)
	}

	event.Outcome = outcomeOf(err)
	if receipt != nil {
		event.Seq = receipt.Tx.Seq
		for _, rec := range receipt.Events {
			event.Events = append(event.Events, TraceRecord{
				Kind:    string(rec.Kind),
				Payload: h.book.humanizeObject(rec.Payload),
			})
		}
	}
	event.Result = h.book.humanizeObject(event.Result)
	return event, err
}

// collectFinal records final balances and the commission.
func (h *Harness) collectFinal(result *Result) {
	for name := range h.opening {
		result.Balances[name] = int64(h.chain.Balance(h.book.resolve(name)))
	}
	if commission, err := h.chain.CommissionInfo(h.instance); err == nil {
		result.Commission = int64(commission)
	}
}

func (h *Harness) deposit() contract.Amount {
	inst, err := h.chain.Instance(h.instance)
	if err != nil {
		return contract.DefaultDeposit
	}
	return inst.Config().Deposit
}

// outcomeOf classifies a step error.
func outcomeOf(err error) string {
	if err == nil {
		return OutcomeOK
	}
	if code := contract.CodeOf(err); code != "" {
		return string(code)
	}
	switch {
	case errors.Is(err, chain.ErrInsufficientFunds):
		return OutcomeInsufficientFunds
	case errors.Is(err, chain.ErrRecipientBlocked):
		return OutcomeRecipientBlocked
	case errors.Is(err, chain.ErrUnknownInstance):
		return OutcomeUnknownInstance
	case errors.Is(err, chain.ErrTimeReversal):
		return OutcomeTimeReversal
	default:
		return OutcomeError
	}
}
