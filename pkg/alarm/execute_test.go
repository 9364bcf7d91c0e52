// Copyright (c) 2022 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package alarm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blockwatch.cc/alarmclock/pkg/ledger"
)

// execution with the fixture target burns 20000 units, so the executor is
// reimbursed 20000 + overhead at price 1
const testReimbursement = 20_000 + EXECUTION_OVERHEAD

func abortedWith(r AbortReason) *AbortReason {
	return &r
}

func TestExecuteUnclaimed(t *testing.T) {
	f := newFixture(t, testParams())
	f.mineTo(300)

	var ev ExecutedEvent
	require.NoError(t, f.l.Bus().Subscribe(TopicExecuted, func(e ExecutedEvent) { ev = e }))

	exec, rcpt := f.executeAt(EXECUTOR, BUDGET, 1)
	assert.False(t, exec.Aborted)
	assert.Nil(t, exec.Reason, "no reason on a performed call")
	assert.True(t, exec.Success, "call succeeds")
	assert.Equal(t, uint64(testReimbursement), exec.BudgetUsed)
	assert.Equal(t, uint64(testReimbursement), rcpt.BudgetUsed, "receipt charges call and overhead")
	assert.Equal(t, money(1000+testReimbursement), exec.Payment)
	assert.Equal(t, money(100), exec.Donation)

	assert.Equal(t, 1, f.target.calls, "forwarded once")
	assert.Equal(t, []byte("ring"), f.target.data, "call data")
	assert.Equal(t, money(50), f.target.value, "call value")

	assert.Equal(t, uint64(10_000+1000+testReimbursement), f.balance(EXECUTOR), "payment and reimbursement")
	assert.Equal(t, uint64(100), f.balance(BENEFACTOR), "donation")
	assert.Equal(t, uint64(50), f.balance(TARGET), "call value")
	assert.Equal(t, uint64(1_000_000-1000-testReimbursement-100-50), f.balance(CREATOR), "surplus back to owner")
	assert.Zero(t, f.balance(REQUEST), "nothing left behind")

	s := f.req.Snapshot()
	assert.True(t, s.Flags.WasCalled)
	assert.True(t, s.Flags.WasSuccessful)
	assert.Equal(t, EXECUTOR, s.Addresses.PaymentBenefactor)
	assert.True(t, s.Values.PaymentOwed.IsZero(), "payment settled")
	assert.True(t, s.Values.DonationOwed.IsZero(), "donation settled")
	assert.Equal(t, StateExecuted, s.State())

	assert.Equal(t, EXECUTOR, ev.Executor, "event published")
	assert.True(t, ev.Success)
	assert.Equal(t, exec.Payment, ev.Payment)
}

func TestExecuteByClaimer(t *testing.T) {
	f := newFixture(t, testParams())
	f.mineTo(35 + 170)
	require.NoError(t, f.claim(CLAIMER, 500))
	f.mineTo(300)

	exec := f.execute(EXECUTOR)
	assert.True(t, exec.Aborted)
	assert.Equal(t, abortedWith(ReservedForClaimer), exec.Reason, "reserved for claimer")

	exec = f.execute(CLAIMER)
	require.False(t, exec.Aborted)
	assert.True(t, exec.Success)
	// deposit back plus 66% of the payment
	assert.Equal(t, money(500+660+testReimbursement), exec.Payment)
	assert.Equal(t, uint64(10_000+660+testReimbursement), f.balance(CLAIMER))
	assert.Equal(t, uint64(10_000), f.balance(EXECUTOR), "aborted attempt costs nothing")
	assert.Equal(t, uint64(1_000_000-660-testReimbursement-100-50), f.balance(CREATOR))
	assert.Zero(t, f.balance(REQUEST))
}

func TestExecuteForfeitsDeposit(t *testing.T) {
	f := newFixture(t, testParams())
	f.mineTo(35 + 170)
	require.NoError(t, f.claim(CLAIMER, 500))
	f.mineTo(315)
	assert.Equal(t, abortedWith(ReservedForClaimer), f.execute(EXECUTOR).Reason, "last reserved slot")

	f.mineTo(316)
	exec := f.execute(EXECUTOR)
	require.False(t, exec.Aborted, "reserved window is over")
	assert.Equal(t, money(500+660+testReimbursement), exec.Payment, "deposit goes to the executor")
	assert.Equal(t, uint64(10_000+500+660+testReimbursement), f.balance(EXECUTOR))
	assert.Equal(t, uint64(10_000-500), f.balance(CLAIMER), "claimer lost deposit")
	assert.Zero(t, f.balance(REQUEST))
}

func TestExecuteFailedCall(t *testing.T) {
	f := newFixture(t, testParams())
	f.target.fail = true
	f.mineTo(320)

	exec := f.execute(EXECUTOR)
	require.False(t, exec.Aborted)
	assert.False(t, exec.Success, "call failed")
	assert.Equal(t, uint64(testReimbursement), exec.BudgetUsed, "failed call is still reimbursed")
	assert.Equal(t, 0, f.target.calls)
	assert.Zero(t, f.balance(TARGET), "call value returned")
	assert.Equal(t, uint64(10_000+1000+testReimbursement), f.balance(EXECUTOR), "executor paid in full")
	assert.Equal(t, uint64(1_000_000-1000-testReimbursement-100), f.balance(CREATOR), "call value refunded to owner")

	s := f.req.Snapshot()
	assert.True(t, s.Flags.WasCalled)
	assert.False(t, s.Flags.WasSuccessful)
	assert.Equal(t, StateFailed, s.State())

	exec = f.execute(EXECUTOR)
	assert.Equal(t, abortedWith(AlreadyCalled), exec.Reason, "failure is terminal")
}

func TestExecuteOutOfBudget(t *testing.T) {
	f := newFixture(t, testParams())
	f.target.burn = 100_001
	f.mineTo(300)

	exec := f.execute(EXECUTOR)
	require.False(t, exec.Aborted)
	assert.False(t, exec.Success)
	assert.Equal(t, uint64(100_000+EXECUTION_OVERHEAD), exec.BudgetUsed, "whole call budget consumed")
	assert.True(t, f.req.Snapshot().Flags.WasCalled, "outer effects stand")
	assert.Zero(t, f.balance(REQUEST))
}

func TestExecuteTwice(t *testing.T) {
	f := newFixture(t, testParams())
	f.mineTo(300)
	require.False(t, f.execute(EXECUTOR).Aborted)
	before := f.balance(EXECUTOR)

	var aborted AbortedEvent
	require.NoError(t, f.l.Bus().Subscribe(TopicAborted, func(e AbortedEvent) { aborted = e }))

	exec := f.execute(CLAIMER)
	assert.True(t, exec.Aborted)
	assert.Equal(t, abortedWith(AlreadyCalled), exec.Reason)
	assert.Equal(t, 1, f.target.calls, "no second call")
	assert.Equal(t, before, f.balance(EXECUTOR), "no double disbursement")
	assert.Equal(t, uint64(10_000), f.balance(CLAIMER))
	assert.Equal(t, AlreadyCalled, aborted.Reason, "abort is observable")
	assert.Equal(t, CLAIMER, aborted.Caller)
}

func TestExecuteGuards(t *testing.T) {
	f := newFixture(t, testParams())
	f.mineTo(299)
	assert.Equal(t, abortedWith(BeforeCallWindow), f.execute(EXECUTOR).Reason)

	f.mineTo(300)
	exec, _ := f.executeAt(EXECUTOR, BUDGET-1, 1)
	assert.Equal(t, abortedWith(InsufficientGas), exec.Reason, "one unit short")
	exec, _ = f.executeAt(EXECUTOR, BUDGET, 2)
	assert.Equal(t, abortedWith(MismatchGasPrice), exec.Reason, "inflated price")
	exec, _ = f.executeAt(EXECUTOR, BUDGET, 0)
	assert.Equal(t, abortedWith(MismatchGasPrice), exec.Reason, "deflated price")

	f.mineTo(350)
	assert.Equal(t, abortedWith(AfterCallWindow), f.execute(EXECUTOR).Reason)

	assert.Zero(t, f.target.calls, "never forwarded")
	assert.False(t, f.req.Snapshot().Flags.WasCalled)
	assert.Equal(t, uint64(testEndowment), f.balance(REQUEST), "aborts change nothing")
}

func TestExecuteGuardOrder(t *testing.T) {
	f := newFixture(t, testParams())
	f.mineTo(35 + 170)
	require.NoError(t, f.claim(CLAIMER, 500))
	f.mineTo(300)

	// reserved and underfunded: the reservation is reported first
	exec, _ := f.executeAt(EXECUTOR, 1, 5)
	assert.Equal(t, abortedWith(ReservedForClaimer), exec.Reason)

	// claimer with both budget and price wrong: budget first
	exec, _ = f.executeAt(CLAIMER, 1, 5)
	assert.Equal(t, abortedWith(InsufficientGas), exec.Reason)

	require.NoError(t, f.cancel(CREATOR))
	assert.Equal(t, abortedWith(WasCancelled), f.execute(CLAIMER).Reason, "cancel is checked first")
}

func TestExecuteMinimumBudget(t *testing.T) {
	f := newFixture(t, testParams())
	f.target.burn = 100_000
	f.mineTo(300)

	exec, rcpt := f.executeAt(EXECUTOR, 100_000+EXECUTION_OVERHEAD, 1)
	require.False(t, exec.Aborted)
	assert.True(t, exec.Success, "call budget plus overhead is enough")
	assert.Equal(t, uint64(100_000+EXECUTION_OVERHEAD), rcpt.BudgetUsed)
	assert.Zero(t, f.balance(REQUEST))
}

func TestExecuteReentrancy(t *testing.T) {
	f := newFixture(t, testParams())
	f.mineTo(300)

	var inner Execution
	f.target.hook = func(ctx *ledger.CallContext) error {
		return ctx.Invoke(REQUEST, Money{}, func(child *ledger.CallContext) error {
			inner = f.req.Execute(child)
			return nil
		})
	}

	exec := f.execute(EXECUTOR)
	require.False(t, exec.Aborted)
	assert.True(t, exec.Success)
	assert.True(t, inner.Aborted, "reentrant execute aborts")
	assert.Equal(t, abortedWith(AlreadyCalled), inner.Reason)
	assert.Equal(t, 1, f.target.calls)
	assert.Equal(t, uint64(10_000+1000+testReimbursement), f.balance(EXECUTOR), "paid once")
}

func TestExecuteReentrantCancel(t *testing.T) {
	f := newFixture(t, testParams())
	f.mineTo(300)

	var cancelErr error
	f.target.hook = func(ctx *ledger.CallContext) error {
		cancelErr = ctx.Invoke(REQUEST, Money{}, f.req.Cancel)
		return nil
	}
	require.False(t, f.execute(EXECUTOR).Aborted)
	assert.ErrorIs(t, cancelErr, ErrUnauthorized, "callee is not the owner")
	assert.False(t, f.req.Snapshot().Flags.IsCancelled)
}

func TestExecuteWithoutBenefactor(t *testing.T) {
	l := ledger.New(ledger.DefaultConfig())
	l.Credit(CREATOR, money(1_000_000))
	require.NoError(t, l.Deploy(TARGET, &recorder{}))
	roles := testRoles()
	roles.DonationBenefactor = ""

	var req *Request
	_, err := l.Submit(ledger.Tx{From: CREATOR, To: REQUEST, Amount: money(testEndowment)}, func(ctx *ledger.CallContext) error {
		var err error
		req, err = NewRequest(ctx, REQUEST, roles, testParams(), []byte("ring"), ctx.Amount)
		if err != nil {
			return err
		}
		return ctx.Deploy(REQUEST, req)
	})
	require.NoError(t, err)
	l.Mine(299, 0)

	var exec Execution
	_, err = l.Submit(ledger.Tx{From: EXECUTOR, To: REQUEST, Budget: BUDGET, BudgetPrice: money(1)}, func(ctx *ledger.CallContext) error {
		exec = req.Execute(ctx)
		return nil
	})
	require.NoError(t, err)
	require.False(t, exec.Aborted)
	assert.True(t, exec.Donation.IsZero(), "no donation without benefactor")
	b := l.BalanceOf(REQUEST)
	assert.True(t, b.IsZero(), "donation reserve goes to the owner")
}

func TestAbortReason(t *testing.T) {
	assert.Len(t, AbortReasons, 7)
	for i, r := range AbortReasons {
		assert.Equal(t, AbortReason(i), r, "numbering")
		assert.NotContains(t, r.String(), "AbortReason(", "named")
	}
	assert.Equal(t, "MismatchGasPrice", MismatchGasPrice.String())
	assert.Equal(t, "AbortReason(9)", AbortReason(9).String())
	assert.True(t, AlreadyCalled.IsFinal())
	assert.True(t, AfterCallWindow.IsFinal())
	assert.False(t, BeforeCallWindow.IsFinal())
	assert.False(t, InsufficientGas.IsFinal())
}

func testTimestampParams(now uint64) Params {
	p := testParams()
	p.TemporalUnit = ledger.UnitTimestamp
	p.WindowStart = now + 3600
	p.ClaimWindowSize = 1800
	p.FreezePeriod = 180
	p.ReservedWindowSize = 300
	p.WindowSize = 900
	return p
}

func TestExecuteTimestamp(t *testing.T) {
	now := ledger.DefaultConfig().GenesisTime
	f := newFixture(t, testTimestampParams(now))

	// claim window opens at now+1620
	f.l.Mine(0, 1720)
	require.NoError(t, f.claim(CLAIMER, 500))

	f.l.Mine(1000, 3600-1720-1)
	assert.Equal(t, abortedWith(BeforeCallWindow), f.execute(EXECUTOR).Reason, "height does not open the window")

	f.l.Mine(0, 1)
	assert.Equal(t, abortedWith(ReservedForClaimer), f.execute(EXECUTOR).Reason, "first reserved second")
	f.l.Mine(0, 299)
	assert.Equal(t, abortedWith(ReservedForClaimer), f.execute(EXECUTOR).Reason, "last reserved second")

	f.l.Mine(0, 1)
	exec := f.execute(EXECUTOR)
	require.False(t, exec.Aborted, "reservation over")
	assert.Nil(t, exec.Reason)
	assert.Equal(t, EXECUTOR, f.req.Snapshot().Addresses.PaymentBenefactor)
}

func TestExecuteTimestampAfterWindow(t *testing.T) {
	now := ledger.DefaultConfig().GenesisTime
	f := newFixture(t, testTimestampParams(now))

	f.l.Mine(0, 3600+900)
	assert.Equal(t, abortedWith(AfterCallWindow), f.execute(EXECUTOR).Reason, "window closed")
	assert.False(t, f.req.Snapshot().Flags.WasCalled)
	assert.Equal(t, uint64(testEndowment), f.balance(REQUEST), "nothing paid out")
}
