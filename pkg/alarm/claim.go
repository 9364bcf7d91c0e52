// Copyright (c) 2022 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package alarm

import (
	"fmt"

	"github.com/echa/log"

	"blockwatch.cc/alarmclock/pkg/ledger"
)

// Reserves the right to execute during the reserved window. The attached
// amount is held as deposit; it is returned to the claimer when it executes
// and paid to whoever executes in its place otherwise.
// Called by: executor
func (r *Request) Claim(ctx *ledger.CallContext) error {
	if err := r.checkContext(ctx); err != nil {
		return err
	}
	now := r.now(ctx)
	switch {
	case r.schedule.ClaimWindowSize == 0:
		return ErrClaimDisabled
	case r.isCancelled:
		return ErrCancelled
	case r.IsClaimed():
		return fmt.Errorf("%w by %s", ErrAlreadyClaimed, r.claimedBy)
	case !r.schedule.InClaimWindow(now):
		return fmt.Errorf("%w: now %d, window [%d,%d]", ErrNotInClaimWindow,
			now, r.schedule.FirstClaimAt(), r.schedule.LastClaimAt())
	case ctx.Amount.Lt(&r.requiredDeposit):
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientDeposit, ctx.Amount.Dec(), r.requiredDeposit.Dec())
	}

	r.journal(ctx)
	r.claimedBy = ctx.Caller
	r.claimDeposit = ctx.Amount
	r.paymentModifier = r.schedule.PaymentModifier(now)

	ctx.Emit(TopicClaimed, ClaimedEvent{
		Request:   r.address,
		ClaimedBy: r.claimedBy,
		Deposit:   r.claimDeposit,
		Modifier:  r.paymentModifier,
	})
	log.Debugf("alarm: %s claimed by %s at %d modifier=%d", r.address, r.claimedBy, now, r.paymentModifier)
	return nil
}
