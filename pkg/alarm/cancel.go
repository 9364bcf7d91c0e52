// Copyright (c) 2022 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package alarm

import (
	"fmt"

	"github.com/echa/log"

	"blockwatch.cc/alarmclock/pkg/ledger"
)

// Withdraws an unexecuted request. A held claim deposit goes back to the
// claimer, everything else back to the owner.
// Called by: owner
func (r *Request) Cancel(ctx *ledger.CallContext) error {
	if err := r.checkContext(ctx); err != nil {
		return err
	}
	switch {
	case ctx.Caller != r.owner:
		return fmt.Errorf("%w: %s is not the owner", ErrUnauthorized, ctx.Caller)
	case r.wasCalled:
		return ErrAlreadyCalled
	case r.isCancelled:
		return ErrCancelled
	}

	r.journal(ctx)
	r.isCancelled = true
	r.refundClaimDeposit(ctx)
	refund := r.sendOwnerFunds(ctx)

	ctx.Emit(TopicCancelled, CancelledEvent{
		Request: r.address,
		Refund:  refund,
	})
	log.Debugf("alarm: %s cancelled, refunded %s to %s", r.address, refund.Dec(), r.owner)
	return nil
}

// Forwards an arbitrary call from the request's account, for recovering
// assets the scheduled call left behind. Only usable once the execution
// window is over.
// Called by: owner or creator
func (r *Request) Proxy(ctx *ledger.CallContext, to AccountID, payload []byte) error {
	if err := r.checkContext(ctx); err != nil {
		return err
	}
	if ctx.Caller != r.owner && ctx.Caller != r.createdBy {
		return fmt.Errorf("%w: %s may not proxy", ErrUnauthorized, ctx.Caller)
	}
	if now := r.now(ctx); !r.schedule.IsAfterWindow(now) {
		return fmt.Errorf("%w: now %d, window ends %d", ErrWindowNotClosed, now, r.schedule.WindowEnd())
	}
	res := ctx.Call(to, ctx.Amount, ctx.BudgetLeft(), payload)
	if !res.Success {
		return fmt.Errorf("%w: %v", ErrProxyFailed, res.Err)
	}
	log.Debugf("alarm: %s proxied call to %s by %s", r.address, to, ctx.Caller)
	return nil
}

// Retries an outstanding donation payout
// Called by: anyone
func (r *Request) SendDonation(ctx *ledger.CallContext) error {
	if err := r.checkContext(ctx); err != nil {
		return err
	}
	if now := r.now(ctx); !r.schedule.IsAfterWindow(now) {
		return ErrWindowNotClosed
	}
	r.sendDonation(ctx)
	return nil
}

// Retries an outstanding executor payout
// Called by: anyone
func (r *Request) SendPayment(ctx *ledger.CallContext) error {
	if err := r.checkContext(ctx); err != nil {
		return err
	}
	if now := r.now(ctx); !r.schedule.IsAfterWindow(now) {
		return ErrWindowNotClosed
	}
	r.sendPayment(ctx)
	return nil
}

// Sends the unobligated balance to the owner
// Called by: anyone
func (r *Request) SendOwnerFunds(ctx *ledger.CallContext) error {
	if err := r.checkContext(ctx); err != nil {
		return err
	}
	if now := r.now(ctx); !r.isCancelled && !r.schedule.IsAfterWindow(now) {
		return ErrWindowNotClosed
	}
	r.sendOwnerFunds(ctx)
	return nil
}

// Returns a deposit whose claim was never resolved by an execution
// Called by: anyone
func (r *Request) RefundClaimDeposit(ctx *ledger.CallContext) error {
	if err := r.checkContext(ctx); err != nil {
		return err
	}
	if now := r.now(ctx); !r.isCancelled && !r.schedule.IsAfterWindow(now) {
		return ErrWindowNotClosed
	}
	r.refundClaimDeposit(ctx)
	return nil
}

// The send helpers zero the owed amount before the transfer and restore it
// if the recipient rejects, so a failed send can be retried later.

func (r *Request) sendDonation(ctx *ledger.CallContext) bool {
	amount := r.donationOwed
	if amount.IsZero() || r.donationBenefactor.IsZero() {
		return true
	}
	r.journal(ctx)
	r.donationOwed = Money{}
	if !ctx.Transfer(r.donationBenefactor, amount) {
		r.donationOwed = amount
		log.Warnf("alarm: %s donation of %s to %s failed", r.address, amount.Dec(), r.donationBenefactor)
		return false
	}
	return true
}

func (r *Request) sendPayment(ctx *ledger.CallContext) bool {
	amount := r.paymentOwed
	if amount.IsZero() || r.paymentBenefactor.IsZero() {
		return true
	}
	r.journal(ctx)
	r.paymentOwed = Money{}
	if !ctx.Transfer(r.paymentBenefactor, amount) {
		r.paymentOwed = amount
		log.Warnf("alarm: %s payment of %s to %s failed", r.address, amount.Dec(), r.paymentBenefactor)
		return false
	}
	return true
}

func (r *Request) refundClaimDeposit(ctx *ledger.CallContext) bool {
	amount := r.claimDeposit
	if amount.IsZero() {
		return true
	}
	r.journal(ctx)
	r.claimDeposit = Money{}
	if !ctx.Transfer(r.claimedBy, amount) {
		r.claimDeposit = amount
		log.Warnf("alarm: %s deposit refund of %s to %s failed", r.address, amount.Dec(), r.claimedBy)
		return false
	}
	return true
}

// sendOwnerFunds transfers everything above the obligations to the owner
// and returns the amount sent.
func (r *Request) sendOwnerFunds(ctx *ledger.CallContext) Money {
	obligations, err := r.obligations()
	if err != nil {
		log.Errorf("alarm: %s obligations: %v", r.address, err)
		return Money{}
	}
	balance := ctx.Balance()
	if !balance.Gt(&obligations) {
		return Money{}
	}
	var surplus Money
	surplus.Sub(&balance, &obligations)
	if !ctx.Transfer(r.owner, surplus) {
		log.Warnf("alarm: %s owner refund of %s to %s failed", r.address, surplus.Dec(), r.owner)
		return Money{}
	}
	return surplus
}
