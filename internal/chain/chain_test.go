package chain

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/votepool/internal/contract"
	"github.com/roach88/votepool/internal/testutil"
)

var (
	owner = common.HexToAddress("0x0000000000000000000000000000000000000001")
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	carol = common.HexToAddress("0x00000000000000000000000000000000000000c4")

	deposit = contract.DefaultDeposit
)

type env struct {
	chain *Chain
	clock *testutil.ManualClock
	inst  contract.Address
}

func newEnv(t *testing.T) *env {
	t.Helper()
	clock := testutil.NewManualClock(time.Time{})
	c := New(clock, WithIDGenerator(testutil.NewSequentialIDGenerator("")))
	for _, a := range []contract.Address{owner, alice, bob, carol} {
		require.NoError(t, c.Fund(a, contract.GweiPerEther))
	}
	inst, _, err := c.Deploy(owner, contract.DefaultConfig())
	require.NoError(t, err)
	return &env{chain: c, clock: clock, inst: inst}
}

func TestDeploy_DerivesAddressFromNonce(t *testing.T) {
	e := newEnv(t)
	assert.Equal(t, InstanceAddress(owner, 0), e.inst)

	second, receipt, err := e.chain.Deploy(owner, contract.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, InstanceAddress(owner, 1), second)
	assert.NotEqual(t, e.inst, second)
	assert.Equal(t, MethodDeploy, receipt.Tx.Method)
	assert.Equal(t, int64(2), receipt.Tx.Seq)

	assert.Equal(t, []contract.Address{e.inst, second}, e.chain.Instances())

	inst, err := e.chain.Instance(second)
	require.NoError(t, err)
	assert.Equal(t, owner, inst.Owner())
}

func TestDeploy_RejectsInvalidConfig(t *testing.T) {
	c := New(testutil.NewManualClock(time.Time{}))
	_, _, err := c.Deploy(owner, contract.Config{})
	assert.Error(t, err)
	assert.Empty(t, c.Transactions())
}

func TestInstanceAddress_Deterministic(t *testing.T) {
	assert.Equal(t, InstanceAddress(alice, 3), InstanceAddress(alice, 3))
	assert.NotEqual(t, InstanceAddress(alice, 3), InstanceAddress(alice, 4))
	assert.NotEqual(t, InstanceAddress(alice, 3), InstanceAddress(bob, 3))
}

func TestVote_MovesDepositIntoContract(t *testing.T) {
	e := newEnv(t)
	_, err := e.chain.CreateVoting(owner, e.inst, []contract.Address{alice, bob})
	require.NoError(t, err)

	receipt, err := e.chain.Vote(carol, e.inst, 0, 1, deposit)
	require.NoError(t, err)
	require.Len(t, receipt.Events, 1)
	assert.Equal(t, contract.EventVoted, receipt.Events[0].Kind)
	assert.Equal(t, e.inst, receipt.Events[0].Contract)

	assert.Equal(t, contract.GweiPerEther-deposit, e.chain.Balance(carol))
	assert.Equal(t, deposit, e.chain.Balance(e.inst))
	require.NoError(t, e.chain.Audit())
}

func TestVote_RejectedRollsBackValue(t *testing.T) {
	e := newEnv(t)
	_, err := e.chain.CreateVoting(owner, e.inst, []contract.Address{alice})
	require.NoError(t, err)
	before := len(e.chain.Transactions())

	_, err = e.chain.Vote(carol, e.inst, 0, 5, deposit)
	require.Error(t, err)
	assert.ErrorIs(t, err, contract.ErrNotFound)

	_, err = e.chain.Vote(carol, e.inst, 0, 0, deposit*2)
	assert.ErrorIs(t, err, contract.ErrWrongDeposit)

	assert.Equal(t, contract.GweiPerEther, e.chain.Balance(carol))
	assert.Equal(t, contract.Amount(0), e.chain.Balance(e.inst))
	assert.Len(t, e.chain.Transactions(), before, "rejected calls are not recorded")
	require.NoError(t, e.chain.Audit())
}

func TestVote_InsufficientFunds(t *testing.T) {
	e := newEnv(t)
	_, err := e.chain.CreateVoting(owner, e.inst, []contract.Address{alice})
	require.NoError(t, err)

	poor := common.HexToAddress("0x0000000000000000000000000000000000000bad")
	_, err = e.chain.Vote(poor, e.inst, 0, 0, deposit)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, contract.Amount(0), e.chain.Balance(e.inst))
}

func TestUnknownInstance(t *testing.T) {
	e := newEnv(t)
	_, err := e.chain.CreateVoting(owner, alice, []contract.Address{bob})
	assert.ErrorIs(t, err, ErrUnknownInstance)

	_, err = e.chain.CommissionInfo(alice)
	assert.ErrorIs(t, err, ErrUnknownInstance)
}

func TestFullRound(t *testing.T) {
	e := newEnv(t)
	_, err := e.chain.CreateVoting(owner, e.inst, []contract.Address{alice, bob})
	require.NoError(t, err)

	_, err = e.chain.Vote(owner, e.inst, 0, 0, deposit)
	require.NoError(t, err)
	_, err = e.chain.Vote(alice, e.inst, 0, 0, deposit)
	require.NoError(t, err)
	_, err = e.chain.Vote(carol, e.inst, 0, 1, deposit)
	require.NoError(t, err)

	_, err = e.chain.EndVoting(carol, e.inst, 0)
	assert.ErrorIs(t, err, contract.ErrTooEarly)

	require.NoError(t, e.chain.AdvanceTime(contract.DefaultRoundDuration))

	receipt, err := e.chain.EndVoting(carol, e.inst, 0)
	require.NoError(t, err)
	assert.Equal(t, alice, receipt.Result.WinnerAddress)

	// alice: funded, paid one deposit, received 90% of three deposits.
	assert.Equal(t, contract.GweiPerEther-deposit+27_000_000, e.chain.Balance(alice))
	assert.Equal(t, contract.Amount(3_000_000), e.chain.Balance(e.inst))

	commission, err := e.chain.CommissionInfo(e.inst)
	require.NoError(t, err)
	assert.Equal(t, contract.Amount(3_000_000), commission)
	require.NoError(t, e.chain.Audit())

	_, err = e.chain.Transfer(owner, e.inst, bob)
	require.NoError(t, err)
	assert.Equal(t, contract.GweiPerEther+3_000_000, e.chain.Balance(bob))
	assert.Equal(t, contract.Amount(0), e.chain.Balance(e.inst))
	require.NoError(t, e.chain.Audit())

	deadline, err := e.chain.EndInfo(e.inst, 0)
	require.NoError(t, err)
	assert.Equal(t, testutil.Epoch.Add(contract.DefaultRoundDuration), deadline)
}

func TestEndVoting_BlockedWinnerRevertsEverything(t *testing.T) {
	e := newEnv(t)
	_, err := e.chain.CreateVoting(owner, e.inst, []contract.Address{alice})
	require.NoError(t, err)
	_, err = e.chain.Vote(bob, e.inst, 0, 0, deposit)
	require.NoError(t, err)
	require.NoError(t, e.chain.AdvanceTime(contract.DefaultRoundDuration))

	e.chain.Block(alice)
	txs := len(e.chain.Transactions())
	evs := len(e.chain.Events(nil))

	_, err = e.chain.EndVoting(bob, e.inst, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, contract.ErrTransferFailed)
	assert.ErrorIs(t, err, ErrRecipientBlocked)

	assert.Equal(t, deposit, e.chain.Balance(e.inst))
	assert.Len(t, e.chain.Transactions(), txs)
	assert.Len(t, e.chain.Events(nil), evs)
	require.NoError(t, e.chain.Audit())

	e.chain.Unblock(alice)
	_, err = e.chain.EndVoting(bob, e.inst, 0)
	require.NoError(t, err)
	assert.Equal(t, contract.GweiPerEther+9_000_000, e.chain.Balance(alice))
}

func TestAdvanceTime_RejectsNegative(t *testing.T) {
	e := newEnv(t)
	err := e.chain.AdvanceTime(-time.Second)
	assert.ErrorIs(t, err, ErrTimeReversal)
	assert.Equal(t, testutil.Epoch, e.chain.Now())
}

func TestFund_RejectsNonPositive(t *testing.T) {
	e := newEnv(t)
	assert.Error(t, e.chain.Fund(alice, 0))
	assert.Error(t, e.chain.Fund(alice, -1))
}

func TestFund_RejectsOverflow(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.chain.Fund(bob, math.MaxInt64-contract.GweiPerEther))

	err := e.chain.Fund(bob, 1)
	assert.ErrorIs(t, err, ErrBalanceOverflow)
	assert.Equal(t, contract.Amount(math.MaxInt64), e.chain.Balance(bob))
}

func TestFund_RejectsInstance(t *testing.T) {
	e := newEnv(t)
	err := e.chain.Fund(e.inst, 1)
	assert.ErrorIs(t, err, ErrRecipientIsContract)
	assert.Equal(t, contract.Amount(0), e.chain.Balance(e.inst))
	require.NoError(t, e.chain.Audit())
}

func TestEndVoting_InstanceAsWinnerIsNotPaid(t *testing.T) {
	e := newEnv(t)
	_, err := e.chain.CreateVoting(owner, e.inst, []contract.Address{e.inst, bob})
	require.NoError(t, err)
	_, err = e.chain.Vote(alice, e.inst, 0, 0, deposit)
	require.NoError(t, err)
	require.NoError(t, e.chain.AdvanceTime(contract.DefaultRoundDuration))
	txs := len(e.chain.Transactions())

	_, err = e.chain.EndVoting(alice, e.inst, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, contract.ErrTransferFailed)
	assert.ErrorIs(t, err, ErrRecipientIsContract)

	commission, err := e.chain.CommissionInfo(e.inst)
	require.NoError(t, err)
	assert.Equal(t, contract.Amount(0), commission)
	assert.Equal(t, deposit, e.chain.Balance(e.inst))
	assert.Len(t, e.chain.Transactions(), txs)
	require.NoError(t, e.chain.Audit())

	_, err = Restore(e.chain.Snapshot(), e.clock)
	require.NoError(t, err)
}

func TestEndVoting_OtherInstanceAsWinnerIsNotPaid(t *testing.T) {
	e := newEnv(t)
	other, _, err := e.chain.Deploy(owner, contract.DefaultConfig())
	require.NoError(t, err)
	_, err = e.chain.CreateVoting(owner, e.inst, []contract.Address{other})
	require.NoError(t, err)
	_, err = e.chain.Vote(alice, e.inst, 0, 0, deposit)
	require.NoError(t, err)
	require.NoError(t, e.chain.AdvanceTime(contract.DefaultRoundDuration))

	_, err = e.chain.EndVoting(alice, e.inst, 0)
	assert.ErrorIs(t, err, ErrRecipientIsContract)
	assert.Equal(t, contract.Amount(0), e.chain.Balance(other))
	require.NoError(t, e.chain.Audit())
}

func TestTransfer_ToInstanceKeepsCommission(t *testing.T) {
	e := newEnv(t)
	_, err := e.chain.CreateVoting(owner, e.inst, []contract.Address{bob})
	require.NoError(t, err)
	_, err = e.chain.Vote(alice, e.inst, 0, 0, deposit)
	require.NoError(t, err)
	require.NoError(t, e.chain.AdvanceTime(contract.DefaultRoundDuration))
	_, err = e.chain.EndVoting(alice, e.inst, 0)
	require.NoError(t, err)

	_, err = e.chain.Transfer(owner, e.inst, e.inst)
	require.Error(t, err)
	assert.ErrorIs(t, err, contract.ErrTransferFailed)
	assert.ErrorIs(t, err, ErrRecipientIsContract)

	commission, err := e.chain.CommissionInfo(e.inst)
	require.NoError(t, err)
	assert.Equal(t, contract.Amount(1_000_000), commission)
	assert.Equal(t, contract.Amount(1_000_000), e.chain.Balance(e.inst))
	require.NoError(t, e.chain.Audit())

	_, err = e.chain.Transfer(owner, e.inst, owner)
	require.NoError(t, err)
	assert.Equal(t, contract.Amount(0), e.chain.Balance(e.inst))
}

func TestVote_FromInstanceRejected(t *testing.T) {
	e := newEnv(t)
	_, err := e.chain.CreateVoting(owner, e.inst, []contract.Address{bob})
	require.NoError(t, err)

	_, err = e.chain.Vote(e.inst, e.inst, 0, 0, deposit)
	assert.ErrorIs(t, err, ErrSenderIsContract)

	_, _, err = e.chain.Deploy(e.inst, contract.DefaultConfig())
	assert.ErrorIs(t, err, ErrSenderIsContract)
	assert.Len(t, e.chain.Instances(), 1)
}

func TestMove_RejectsSelfTransfer(t *testing.T) {
	e := newEnv(t)
	e.chain.mu.Lock()
	err := e.chain.move(alice, alice, 1)
	e.chain.mu.Unlock()
	assert.ErrorIs(t, err, ErrSelfTransfer)
	assert.Equal(t, contract.GweiPerEther, e.chain.Balance(alice))
}

func TestExecute_EscrowMismatchRollsBack(t *testing.T) {
	e := newEnv(t)
	_, err := e.chain.CreateVoting(owner, e.inst, []contract.Address{bob})
	require.NoError(t, err)
	_, err = e.chain.Vote(alice, e.inst, 0, 0, deposit)
	require.NoError(t, err)
	require.NoError(t, e.chain.AdvanceTime(contract.DefaultRoundDuration))

	// Stray value on the instance account makes every commit fail the check.
	e.chain.mu.Lock()
	e.chain.accounts[e.inst].Balance++
	e.chain.mu.Unlock()
	txs := len(e.chain.Transactions())
	evs := len(e.chain.Events(nil))

	_, err = e.chain.EndVoting(alice, e.inst, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEscrowMismatch)

	inst, err := e.chain.Instance(e.inst)
	require.NoError(t, err)
	view, err := inst.Round(0)
	require.NoError(t, err)
	assert.False(t, view.Ended)
	assert.Equal(t, deposit, view.Pool)
	assert.Equal(t, contract.Amount(0), inst.CommissionInfo())
	assert.Len(t, inst.Events(), 2)
	assert.Equal(t, contract.GweiPerEther, e.chain.Balance(bob))
	assert.Equal(t, deposit+1, e.chain.Balance(e.inst))
	assert.Len(t, e.chain.Transactions(), txs)
	assert.Len(t, e.chain.Events(nil), evs)

	e.chain.mu.Lock()
	e.chain.accounts[e.inst].Balance--
	e.chain.mu.Unlock()
	_, err = e.chain.EndVoting(alice, e.inst, 0)
	require.NoError(t, err)
	assert.Equal(t, contract.GweiPerEther+9_000_000, e.chain.Balance(bob))
}

func TestTransactionLog(t *testing.T) {
	e := newEnv(t)
	_, err := e.chain.CreateVoting(owner, e.inst, []contract.Address{alice})
	require.NoError(t, err)
	_, err = e.chain.Vote(bob, e.inst, 0, 0, deposit)
	require.NoError(t, err)

	txs := e.chain.Transactions()
	require.Len(t, txs, 3)
	for i, tx := range txs {
		assert.Equal(t, int64(i+1), tx.Seq)
		assert.Len(t, tx.Hash, 64)
	}
	assert.Equal(t, "tx-000001", txs[0].ID)
	assert.Equal(t, MethodDeploy, txs[0].Method)
	assert.Equal(t, MethodCreateVoting, txs[1].Method)
	assert.Equal(t, MethodVote, txs[2].Method)
	assert.Equal(t, deposit, txs[2].Value)

	// Nonces count committed transactions per sender.
	accounts := e.chain.Accounts()
	nonces := map[contract.Address]uint64{}
	for _, acc := range accounts {
		nonces[acc.Address] = acc.Nonce
	}
	assert.Equal(t, uint64(2), nonces[owner])
	assert.Equal(t, uint64(1), nonces[bob])

	events := e.chain.Events(&e.inst)
	require.Len(t, events, 2)
	assert.Equal(t, int64(2), events[0].Seq)
	assert.NotEqual(t, events[0].ID, events[1].ID)

	other := InstanceAddress(carol, 0)
	assert.Empty(t, e.chain.Events(&other))
}

func TestConcurrentVotes(t *testing.T) {
	e := newEnv(t)
	_, err := e.chain.CreateVoting(owner, e.inst, []contract.Address{alice, bob})
	require.NoError(t, err)

	const voters = 40
	addrs := make([]contract.Address, voters)
	for i := range addrs {
		addrs[i] = InstanceAddress(carol, uint64(100+i))
		require.NoError(t, e.chain.Fund(addrs[i], deposit))
	}

	var wg sync.WaitGroup
	wg.Add(voters)
	for i, a := range addrs {
		go func(i int, a contract.Address) {
			defer wg.Done()
			_, err := e.chain.Vote(a, e.inst, 0, i%2, deposit)
			assert.NoError(t, err)
		}(i, a)
	}
	wg.Wait()

	assert.Equal(t, deposit*voters, e.chain.Balance(e.inst))
	n0, err := e.chain.CandidateInfo(e.inst, 0, 0)
	require.NoError(t, err)
	n1, err := e.chain.CandidateInfo(e.inst, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(voters), n0+n1)
	require.NoError(t, e.chain.Audit())
}
