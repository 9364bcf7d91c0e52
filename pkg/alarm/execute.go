// Copyright (c) 2022 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package alarm

import (
	"github.com/echa/log"

	"blockwatch.cc/alarmclock/pkg/ledger"
)

// Execution reports the outcome of an execute attempt.
type Execution struct {
	Aborted    bool
	Reason     *AbortReason // nil unless Aborted
	Success    bool         // outcome of the forwarded call
	BudgetUsed uint64       // forwarded call plus overhead
	Payment    Money        // owed to the executor
	Donation   Money        // owed to the donation benefactor
}

// Performs the scheduled call. Execute never fails: when a guard does not
// hold it leaves the request untouched, emits Aborted and returns the
// reason, so the attempt completes and the caller's transaction stands.
//
// A context that does not run on the request's account is a programming
// error in the calling code, not an execution attempt. Execute panics on it
// and the ledger reverts the transaction.
// Called by: anyone
func (r *Request) Execute(ctx *ledger.CallContext) Execution {
	if err := r.checkContext(ctx); err != nil {
		log.Errorf("alarm: execute called with a foreign context: %v", err)
		panic(err)
	}
	if reason, ok := r.checkExecute(ctx); !ok {
		ctx.Emit(TopicAborted, AbortedEvent{
			Request: r.address,
			Caller:  ctx.Caller,
			Reason:  reason,
		})
		log.Debugf("alarm: %s execute by %s aborted: %s", r.address, ctx.Caller, reason)
		return Execution{Aborted: true, Reason: &reason}
	}

	// payouts that do not depend on the call outcome, checked against the
	// worst-case reimbursement before anything is committed
	var donationOwed, paymentOwed Money
	if !r.donationBenefactor.IsZero() {
		donationOwed = mustAdd(r.donationOwed, r.donation)
	}
	paymentOwed = r.paymentOwed
	if r.IsClaimed() {
		paymentOwed = mustAdd(paymentOwed, r.claimDeposit)
		paymentOwed = mustAdd(paymentOwed, PaymentWithModifier(r.payment, r.paymentModifier))
	} else {
		paymentOwed = mustAdd(paymentOwed, r.payment)
	}
	maxReimbursement, err := Reimbursement(r.callBudget+EXECUTION_OVERHEAD, r.budgetPrice)
	if err != nil {
		panic(err)
	}
	mustAdd(paymentOwed, maxReimbursement)

	// commit before handing control to the callee
	r.journal(ctx)
	r.wasCalled = true
	r.paymentBenefactor = ctx.Caller
	r.claimDeposit = Money{}
	r.donationOwed = donationOwed
	r.paymentOwed = paymentOwed

	res := ctx.Call(r.toAddress, r.callValue, r.callBudget, r.callData)
	r.wasSuccessful = res.Success
	if res.Err != nil {
		log.Debugf("alarm: %s forwarded call failed: %v", r.address, res.Err)
	}

	// bookkeeping runs on the reserved overhead
	_ = ctx.Consume(EXECUTION_OVERHEAD)
	budgetUsed := res.Used + EXECUTION_OVERHEAD
	reimbursement, _ := Reimbursement(budgetUsed, r.budgetPrice)
	r.paymentOwed.Add(&r.paymentOwed, &reimbursement)

	exec := Execution{
		Success:    r.wasSuccessful,
		BudgetUsed: budgetUsed,
		Payment:    r.paymentOwed,
		Donation:   r.donationOwed,
	}
	ctx.Emit(TopicExecuted, ExecutedEvent{
		Request:    r.address,
		Executor:   r.paymentBenefactor,
		Success:    exec.Success,
		Payment:    exec.Payment,
		Donation:   exec.Donation,
		BudgetUsed: exec.BudgetUsed,
	})
	log.Debugf("alarm: %s executed by %s success=%t payment=%s donation=%s budget=%d",
		r.address, r.paymentBenefactor, exec.Success, exec.Payment.Dec(), exec.Donation.Dec(), budgetUsed)

	r.sendDonation(ctx)
	r.sendPayment(ctx)
	r.sendOwnerFunds(ctx)
	return exec
}

// checkExecute evaluates the execution guards in order. Read-only.
func (r *Request) checkExecute(ctx *ledger.CallContext) (AbortReason, bool) {
	now := r.now(ctx)
	switch {
	case r.isCancelled:
		return WasCancelled, false
	case r.wasCalled:
		return AlreadyCalled, false
	case r.schedule.IsBeforeWindow(now):
		return BeforeCallWindow, false
	case r.schedule.IsAfterWindow(now):
		return AfterCallWindow, false
	case r.IsClaimed() && r.schedule.InReservedWindow(now) && ctx.Caller != r.claimedBy:
		return ReservedForClaimer, false
	case ctx.BudgetLeft() < r.callBudget+EXECUTION_OVERHEAD:
		return InsufficientGas, false
	case !ctx.BudgetPrice.Eq(&r.budgetPrice):
		return MismatchGasPrice, false
	}
	return 0, true
}

// mustAdd adds amounts that are bounded by the endowment.
func mustAdd(a, b Money) Money {
	sum, err := addChecked(a, b)
	if err != nil {
		panic(err)
	}
	return sum
}
