// Copyright (c) 2022 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package alarm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blockwatch.cc/alarmclock/pkg/ledger"
)

func TestCancel(t *testing.T) {
	f := newFixture(t, testParams())
	f.mineTo(100)

	var ev CancelledEvent
	require.NoError(t, f.l.Bus().Subscribe(TopicCancelled, func(e CancelledEvent) { ev = e }))

	require.NoError(t, f.cancel(CREATOR))
	assert.Equal(t, uint64(1_000_000), f.balance(CREATOR), "full endowment refunded")
	assert.Zero(t, f.balance(REQUEST))
	assert.Equal(t, StateCancelled, f.req.Snapshot().State())
	assert.Equal(t, money(testEndowment), ev.Refund)

	assert.ErrorIs(t, f.cancel(CREATOR), ErrCancelled, "cancel twice")

	f.mineTo(300)
	assert.Equal(t, abortedWith(WasCancelled), f.execute(EXECUTOR).Reason)
	assert.Zero(t, f.target.calls, "cancelled call never runs")
}

func TestCancelReturnsDeposit(t *testing.T) {
	f := newFixture(t, testParams())
	f.mineTo(100)
	require.NoError(t, f.claim(CLAIMER, 700))
	require.NoError(t, f.cancel(CREATOR))
	assert.Equal(t, uint64(10_000), f.balance(CLAIMER), "deposit back to claimer")
	assert.Equal(t, uint64(1_000_000), f.balance(CREATOR))
	assert.Zero(t, f.req.Snapshot().Values.ClaimDeposit)
}

func TestCancelRejects(t *testing.T) {
	f := newFixture(t, testParams())
	f.mineTo(100)
	assert.ErrorIs(t, f.cancel(EXECUTOR), ErrUnauthorized, "not the owner")
	assert.False(t, f.req.Snapshot().Flags.IsCancelled)

	f.mineTo(300)
	require.False(t, f.execute(EXECUTOR).Aborted)
	assert.ErrorIs(t, f.cancel(CREATOR), ErrAlreadyCalled, "after execution")
	assert.False(t, f.req.Snapshot().Flags.IsCancelled)
}

func TestCancelInWindow(t *testing.T) {
	f := newFixture(t, testParams())
	f.mineTo(320)
	require.NoError(t, f.cancel(CREATOR), "cancel does not wait for a window")
	assert.Equal(t, uint64(1_000_000), f.balance(CREATOR))
}

func TestCancelRevertsOnFailedTx(t *testing.T) {
	f := newFixture(t, testParams())
	f.mineTo(100)
	_, err := f.l.Submit(ledger.Tx{From: CREATOR, To: REQUEST}, func(ctx *ledger.CallContext) error {
		require.NoError(t, f.req.Cancel(ctx))
		return errTarget
	})
	assert.ErrorIs(t, err, errTarget)
	assert.False(t, f.req.Snapshot().Flags.IsCancelled, "state rolled back with the transaction")
	assert.Equal(t, uint64(testEndowment), f.balance(REQUEST), "refund rolled back")
}

func proxy(f *fixture, from, to AccountID, payload string) error {
	_, err := f.l.Submit(ledger.Tx{From: from, To: REQUEST, Budget: 50_000}, func(ctx *ledger.CallContext) error {
		return f.req.Proxy(ctx, to, []byte(payload))
	})
	return err
}

func TestProxy(t *testing.T) {
	const TOKEN = AccountID("token.near")
	p := testParams()
	f := newFixture(t, p)
	tk := &token{balances: make(map[AccountID]uint64)}
	require.NoError(t, f.l.Deploy(TOKEN, tk))

	// a scheduled call that leaves tokens behind on the request account
	f.req.toAddress = TOKEN
	f.req.callData = []byte("mint")
	f.mineTo(300)
	require.False(t, f.execute(EXECUTOR).Aborted)
	assert.Equal(t, uint64(10), tk.balances[REQUEST], "tokens stuck on request")

	assert.ErrorIs(t, proxy(f, CREATOR, TOKEN, "send:creator.near"), ErrWindowNotClosed, "window still open")

	f.mineTo(350)
	assert.ErrorIs(t, proxy(f, EXECUTOR, TOKEN, "send:executor.near"), ErrUnauthorized)
	assert.ErrorIs(t, proxy(f, CREATOR, TOKEN, "burn"), ErrProxyFailed, "failing proxied call")

	require.NoError(t, proxy(f, CREATOR, TOKEN, "send:creator.near"))
	assert.Equal(t, uint64(10), tk.balances[CREATOR], "tokens recovered")
	assert.Zero(t, tk.balances[REQUEST])
}

func TestProxyByOwner(t *testing.T) {
	const OWNER = AccountID("owner.near")
	f := newFixture(t, testParams())
	f.req.owner = OWNER
	f.mineTo(350)
	assert.NoError(t, proxy(f, OWNER, TARGET, "x"), "owner")
	assert.NoError(t, proxy(f, CREATOR, TARGET, "x"), "creator")
	assert.Equal(t, 2, f.target.calls)
}

func TestRetryDonation(t *testing.T) {
	f := newFixture(t, testParams())
	benefactor := &sink{reject: true}
	require.NoError(t, f.l.Deploy(BENEFACTOR, benefactor))
	f.mineTo(300)

	exec := f.execute(EXECUTOR)
	require.False(t, exec.Aborted)
	assert.Equal(t, money(100), f.req.Snapshot().Values.DonationOwed, "donation still owed")
	assert.Equal(t, uint64(100), f.balance(REQUEST), "donation kept back")
	assert.Equal(t, uint64(1_000_000-1000-testReimbursement-100-50), f.balance(CREATOR), "owner surplus excludes the donation")

	sendDonation := func() error {
		_, err := f.l.Submit(ledger.Tx{From: EXECUTOR, To: REQUEST}, func(ctx *ledger.CallContext) error {
			return f.req.SendDonation(ctx)
		})
		return err
	}
	assert.ErrorIs(t, sendDonation(), ErrWindowNotClosed)

	f.mineTo(350)
	require.NoError(t, sendDonation(), "retry runs even if the recipient still rejects")
	assert.Equal(t, money(100), f.req.Snapshot().Values.DonationOwed)

	benefactor.reject = false
	require.NoError(t, sendDonation())
	assert.Zero(t, f.req.Snapshot().Values.DonationOwed)
	assert.Equal(t, uint64(100), f.balance(BENEFACTOR))
	assert.Zero(t, f.balance(REQUEST))
}

func TestRetryPayment(t *testing.T) {
	f := newFixture(t, testParams())
	executor := &sink{reject: true}
	require.NoError(t, f.l.Deploy(EXECUTOR, executor))
	f.mineTo(300)

	require.False(t, f.execute(EXECUTOR).Aborted)
	owed := f.req.Snapshot().Values.PaymentOwed
	assert.Equal(t, money(1000+testReimbursement), owed, "payment still owed")

	f.mineTo(350)
	executor.reject = false
	_, err := f.l.Submit(ledger.Tx{From: CLAIMER, To: REQUEST}, func(ctx *ledger.CallContext) error {
		return f.req.SendPayment(ctx)
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(10_000+1000+testReimbursement), f.balance(EXECUTOR))
	assert.Zero(t, f.balance(REQUEST))
}

func TestRefundClaimDeposit(t *testing.T) {
	f := newFixture(t, testParams())
	claimer := &sink{reject: true}
	require.NoError(t, f.l.Deploy(CLAIMER, claimer))
	f.mineTo(100)
	require.NoError(t, f.claim(CLAIMER, 500))
	require.NoError(t, f.cancel(CREATOR))
	assert.Equal(t, money(500), f.req.Snapshot().Values.ClaimDeposit, "refund failed")
	assert.Equal(t, uint64(500), f.balance(REQUEST), "deposit kept back")
	assert.Equal(t, uint64(1_000_000), f.balance(CREATOR))

	claimer.reject = false
	_, err := f.l.Submit(ledger.Tx{From: EXECUTOR, To: REQUEST}, func(ctx *ledger.CallContext) error {
		return f.req.RefundClaimDeposit(ctx)
	})
	require.NoError(t, err, "allowed once cancelled")
	assert.Equal(t, uint64(10_000), f.balance(CLAIMER))
	assert.Zero(t, f.balance(REQUEST))
}

func TestSendOwnerFunds(t *testing.T) {
	f := newFixture(t, testParams())
	f.mineTo(100)
	send := func() error {
		_, err := f.l.Submit(ledger.Tx{From: EXECUTOR, To: REQUEST}, func(ctx *ledger.CallContext) error {
			return f.req.SendOwnerFunds(ctx)
		})
		return err
	}
	assert.ErrorIs(t, send(), ErrWindowNotClosed)

	// nobody executed: after the window the owner recovers everything
	f.mineTo(350)
	assert.Equal(t, abortedWith(AfterCallWindow), f.execute(EXECUTOR).Reason)
	require.NoError(t, send())
	assert.Equal(t, uint64(1_000_000), f.balance(CREATOR))
	assert.Zero(t, f.balance(REQUEST))
}
