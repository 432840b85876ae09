package chain

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/votepool/internal/contract"
	"github.com/roach88/votepool/internal/ir"
)

// Chain is the execution environment that hosts contract instances.
//
// It owns the native ledger (account balances and nonces), the clock, and the
// append-only log of committed transactions and events. Every transaction runs
// under the chain mutex: attached value is moved, the contract operation runs,
// and either everything commits (balances, contract state, log) or the
// balances are rolled back and nothing is recorded.
//
// Thread-safety: all exported methods are safe for concurrent use.
type Chain struct {
	mu sync.Mutex

	clock  Clock
	offset time.Duration
	seq    *Sequence
	ids    IDGenerator
	logger *zap.Logger

	accounts  map[contract.Address]*Account
	instances map[contract.Address]*contract.Contract
	order     []contract.Address // instances in deployment order
	txs       []Transaction
	events    []EventRecord
}

// Option configures a Chain.
type Option func(*Chain)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Chain) {
		c.logger = logger
	}
}

// WithIDGenerator overrides the transaction id generator (UUIDv7 by default).
func WithIDGenerator(ids IDGenerator) Option {
	return func(c *Chain) {
		c.ids = ids
	}
}

// New creates an empty chain reading time from clock.
func New(clock Clock, opts ...Option) *Chain {
	c := &Chain{
		clock:     clock,
		seq:       NewSequenceAt(0),
		ids:       UUIDv7Generator{},
		logger:    zap.NewNop(),
		accounts:  make(map[contract.Address]*Account),
		instances: make(map[contract.Address]*contract.Contract),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Now returns the current chain time: the base clock plus the offset
// accumulated by AdvanceTime.
func (c *Chain) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now()
}

func (c *Chain) now() time.Time {
	return c.clock.Now().Add(c.offset)
}

// AdvanceTime moves chain time forward by d.
func (c *Chain) AdvanceTime(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("advance time by %s: %w", d, ErrTimeReversal)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset += d
	c.logger.Debug("time advanced", zap.Duration("by", d), zap.Duration("offset", c.offset))
	return nil
}

// Fund credits amount to addr out of thin air, like a genesis allocation.
// Contract instances cannot be funded.
func (c *Chain) Fund(addr contract.Address, amount contract.Amount) error {
	if amount <= 0 {
		return fmt.Errorf("fund amount must be positive, got %d", amount)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.instances[addr]; ok {
		return fmt.Errorf("fund %s: %w", addr.Hex(), ErrRecipientIsContract)
	}
	acc := c.account(addr)
	if acc.Balance > math.MaxInt64-amount {
		return fmt.Errorf("fund %s with %d: %w", addr.Hex(), amount, ErrBalanceOverflow)
	}
	acc.Balance += amount
	c.logger.Debug("account funded", zap.String("address", addr.Hex()), zap.Int64("amount", int64(amount)))
	return nil
}

// Balance returns the native balance of addr.
func (c *Chain) Balance(addr contract.Address) contract.Amount {
	c.mu.Lock()
	defer c.mu.Unlock()
	if acc, ok := c.accounts[addr]; ok {
		return acc.Balance
	}
	return 0
}

// Block makes addr reject every incoming transfer.
func (c *Chain) Block(addr contract.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.account(addr).Blocked = true
}

// Unblock lets addr receive transfers again.
func (c *Chain) Unblock(addr contract.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.account(addr).Blocked = false
}

// Deploy publishes a new contract instance owned by from and returns its
// address.
func (c *Chain) Deploy(from contract.Address, cfg contract.Config) (contract.Address, *Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.instances[from]; ok {
		return contract.Address{}, nil, fmt.Errorf("deploy from %s: %w", from.Hex(), ErrSenderIsContract)
	}
	sender := c.account(from)
	addr := InstanceAddress(from, sender.Nonce)
	if _, exists := c.instances[addr]; exists {
		return contract.Address{}, nil, fmt.Errorf("deploy: address %s already in use", addr.Hex())
	}

	inst, err := contract.New(addr, from, cfg, bank{c}, c.logger)
	if err != nil {
		return contract.Address{}, nil, fmt.Errorf("deploy: %w", err)
	}

	args := ir.IRObject{
		"deposit":            ir.IRInt(cfg.Deposit),
		"round_duration":     ir.IRInt(int64(cfg.RoundDuration / time.Second)),
		"commission_percent": ir.IRInt(cfg.CommissionPercent),
	}
	tx, err := c.newTransaction(MethodDeploy, from, addr, args, 0)
	if err != nil {
		return contract.Address{}, nil, err
	}

	c.instances[addr] = inst
	c.order = append(c.order, addr)
	c.account(addr)
	c.commit(&tx, nil)

	c.logger.Info("contract deployed",
		zap.String("address", addr.Hex()),
		zap.String("owner", from.Hex()),
		zap.Int64("seq", tx.Seq),
	)
	return addr, &Receipt{Tx: tx}, nil
}

// CreateVoting opens a round on the instance at to.
func (c *Chain) CreateVoting(from, to contract.Address, candidates []contract.Address) (*Receipt, error) {
	list := make(ir.IRArray, len(candidates))
	for i, cand := range candidates {
		list[i] = ir.IRString(cand.Hex())
	}
	args := ir.IRObject{"candidates": list}

	return c.execute(MethodCreateVoting, from, to, args, 0, func(inst *contract.Contract, call contract.Call) (*contract.Receipt, error) {
		return inst.CreateVoting(call, candidates)
	})
}

// Vote casts from's vote, attaching value.
func (c *Chain) Vote(from, to contract.Address, roundID uint64, candidate int, value contract.Amount) (*Receipt, error) {
	args := ir.IRObject{
		"round_id":  ir.IRInt(roundID),
		"candidate": ir.IRInt(candidate),
	}
	return c.execute(MethodVote, from, to, args, value, func(inst *contract.Contract, call contract.Call) (*contract.Receipt, error) {
		return inst.Vote(call, roundID, candidate)
	})
}

// EndVoting finalizes a round.
func (c *Chain) EndVoting(from, to contract.Address, roundID uint64) (*Receipt, error) {
	args := ir.IRObject{"round_id": ir.IRInt(roundID)}
	return c.execute(MethodEndVoting, from, to, args, 0, func(inst *contract.Contract, call contract.Call) (*contract.Receipt, error) {
		return inst.EndVoting(call, roundID)
	})
}

// Transfer withdraws the commission of the instance at to into recipient.
func (c *Chain) Transfer(from, to, recipient contract.Address) (*Receipt, error) {
	args := ir.IRObject{"to": ir.IRString(recipient.Hex())}
	return c.execute(MethodTransfer, from, to, args, 0, func(inst *contract.Contract, call contract.Call) (*contract.Receipt, error) {
		return inst.Transfer(call, recipient)
	})
}

// Instance returns the contract deployed at addr.
func (c *Chain) Instance(addr contract.Address) (*contract.Contract, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	inst, ok := c.instances[addr]
	if !ok {
		return nil, fmt.Errorf("%s: %w", addr.Hex(), ErrUnknownInstance)
	}
	return inst, nil
}

// CommissionInfo returns the withdrawable commission of the instance at addr.
func (c *Chain) CommissionInfo(addr contract.Address) (contract.Amount, error) {
	inst, err := c.Instance(addr)
	if err != nil {
		return 0, err
	}
	return inst.CommissionInfo(), nil
}

// CandidateInfo returns the vote count of one candidate.
func (c *Chain) CandidateInfo(addr contract.Address, roundID uint64, candidate int) (uint64, error) {
	inst, err := c.Instance(addr)
	if err != nil {
		return 0, err
	}
	return inst.CandidateInfo(roundID, candidate)
}

// EndInfo returns the deadline of a round.
func (c *Chain) EndInfo(addr contract.Address, roundID uint64) (time.Time, error) {
	inst, err := c.Instance(addr)
	if err != nil {
		return time.Time{}, err
	}
	return inst.EndInfo(roundID)
}

// Instances returns the deployed addresses in deployment order.
func (c *Chain) Instances() []contract.Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]contract.Address(nil), c.order...)
}

// Transactions returns a copy of the transaction log.
func (c *Chain) Transactions() []Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Transaction(nil), c.txs...)
}

// Events returns the event log, optionally restricted to one instance.
func (c *Chain) Events(instance *contract.Address) []EventRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]EventRecord, 0, len(c.events))
	for _, ev := range c.events {
		if instance != nil && ev.Contract != *instance {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// Accounts returns all known accounts sorted by address.
func (c *Chain) Accounts() []Account {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accountList()
}

// Audit checks that every instance holds exactly its escrow: the commission
// plus the pools of its open rounds.
func (c *Chain) Audit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.auditLocked()
}

func (c *Chain) auditLocked() error {
	for _, addr := range c.order {
		held := c.account(addr).Balance
		owed := c.instances[addr].Escrow()
		if held != owed {
			return fmt.Errorf("instance %s holds %d but owes %d: %w", addr.Hex(), held, owed, ErrEscrowMismatch)
		}
	}
	return nil
}

// opFunc runs one contract operation inside a transaction.
type opFunc func(inst *contract.Contract, call contract.Call) (*contract.Receipt, error)

// execute runs op as a single atomic transaction. A transaction that leaves
// any instance holding more or less than its escrow is rolled back.
func (c *Chain) execute(method string, from, to contract.Address, args ir.IRObject, value contract.Amount, op opFunc) (*Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	inst, ok := c.instances[to]
	if !ok {
		return nil, fmt.Errorf("%s on %s: %w", method, to.Hex(), ErrUnknownInstance)
	}
	if _, isContract := c.instances[from]; isContract {
		return nil, fmt.Errorf("%s from %s: %w", method, from.Hex(), ErrSenderIsContract)
	}
	if value < 0 {
		return nil, fmt.Errorf("%s: negative value %d", method, value)
	}

	tx, err := c.newTransaction(method, from, to, args, value)
	if err != nil {
		return nil, err
	}

	saved := c.saveBalances()
	before := inst.Snapshot()
	if value > 0 {
		if err := c.move(from, to, value); err != nil {
			return nil, fmt.Errorf("%s: attach value: %w", method, err)
		}
	}

	call := contract.Call{Caller: from, Value: value, Now: tx.Time}
	result, err := op(inst, call)
	if err == nil {
		if auditErr := c.auditLocked(); auditErr != nil {
			if rbErr := inst.Rollback(before); rbErr != nil {
				panic(fmt.Errorf("%s: roll back %s: %w", method, to.Hex(), rbErr))
			}
			c.logger.Error("escrow check failed", zap.String("method", method), zap.Error(auditErr))
			err = fmt.Errorf("%s: %w", method, auditErr)
		}
	}
	if err != nil {
		c.restoreBalances(saved)
		c.logger.Debug("transaction reverted",
			zap.String("method", method),
			zap.String("from", from.Hex()),
			zap.String("to", to.Hex()),
			zap.Error(err),
		)
		return nil, err
	}

	records := c.commit(&tx, result.Events)
	c.logger.Debug("transaction committed",
		zap.String("method", method),
		zap.Int64("seq", tx.Seq),
		zap.String("id", tx.ID),
		zap.Int("events", len(records)),
	)
	return &Receipt{Tx: tx, Events: records, Result: result}, nil
}

// newTransaction builds the next transaction record. Caller must hold c.mu.
func (c *Chain) newTransaction(method string, from, to contract.Address, args ir.IRObject, value contract.Amount) (Transaction, error) {
	seq := c.seq.Current() + 1
	hash, err := ir.TransactionHash(seq, method, from.Hex(), to.Hex(), args, int64(value))
	if err != nil {
		return Transaction{}, fmt.Errorf("%s: %w", method, err)
	}
	return Transaction{
		Seq:    seq,
		Hash:   hash,
		Method: method,
		From:   from,
		To:     to,
		Args:   args,
		Value:  value,
		Time:   c.now(),
	}, nil
}

// commit stamps tx, appends it and its events to the log and bumps the
// sender nonce. Caller must hold c.mu.
func (c *Chain) commit(tx *Transaction, events []contract.Event) []EventRecord {
	tx.Seq = c.seq.Next()
	tx.ID = c.ids.Generate()
	c.txs = append(c.txs, *tx)
	c.account(tx.From).Nonce++

	records := make([]EventRecord, 0, len(events))
	for i, ev := range events {
		payload := ev.Payload()
		id, err := ir.EventID(tx.Hash, i, string(ev.Kind), payload)
		if err != nil {
			panic(fmt.Errorf("event id: %w", err))
		}
		records = append(records, EventRecord{
			ID:       id,
			Seq:      tx.Seq,
			Index:    i,
			Contract: tx.To,
			Kind:     ev.Kind,
			Payload:  payload,
		})
	}
	c.events = append(c.events, records...)
	return records
}

// account returns the account for addr, creating it on first use.
// Caller must hold c.mu.
func (c *Chain) account(addr contract.Address) *Account {
	acc, ok := c.accounts[addr]
	if !ok {
		acc = &Account{Address: addr}
		c.accounts[addr] = acc
	}
	return acc
}

// move transfers amount between accounts. Caller must hold c.mu.
func (c *Chain) move(from, to contract.Address, amount contract.Amount) error {
	if from == to {
		return fmt.Errorf("%s: %w", to.Hex(), ErrSelfTransfer)
	}
	src := c.account(from)
	dst := c.account(to)
	if dst.Blocked {
		return fmt.Errorf("%s: %w", to.Hex(), ErrRecipientBlocked)
	}
	if src.Balance < amount {
		return fmt.Errorf("%s has %d, needs %d: %w", from.Hex(), src.Balance, amount, ErrInsufficientFunds)
	}
	if dst.Balance > math.MaxInt64-amount {
		return fmt.Errorf("%s receiving %d: %w", to.Hex(), amount, ErrBalanceOverflow)
	}
	src.Balance -= amount
	dst.Balance += amount
	return nil
}

func (c *Chain) saveBalances() map[contract.Address]contract.Amount {
	saved := make(map[contract.Address]contract.Amount, len(c.accounts))
	for addr, acc := range c.accounts {
		saved[addr] = acc.Balance
	}
	return saved
}

func (c *Chain) restoreBalances(saved map[contract.Address]contract.Amount) {
	for addr, acc := range c.accounts {
		acc.Balance = saved[addr]
	}
}

func (c *Chain) accountList() []Account {
	list := make([]Account, 0, len(c.accounts))
	for _, acc := range c.accounts {
		list = append(list, *acc)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Address.Cmp(list[j].Address) < 0
	})
	return list
}

// bank lets contracts move value out of their own account. It runs inside
// execute, so the chain mutex is already held.
type bank struct {
	c *Chain
}

func (b bank) Transfer(from, to contract.Address, amount contract.Amount) error {
	if _, ok := b.c.instances[to]; ok {
		return fmt.Errorf("%s: %w", to.Hex(), ErrRecipientIsContract)
	}
	return b.c.move(from, to, amount)
}
