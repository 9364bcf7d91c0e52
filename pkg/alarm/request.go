package alarm

import (
	"errors"
	"fmt"

	"github.com/echa/log"

	"blockwatch.cc/alarmclock/pkg/ledger"
)

// Request is a prepaid call scheduled for execution by a third party inside
// a future window. It holds its endowment in its own ledger account until a
// terminal transition pays it out.
type Request struct {
	address AccountID

	// roles
	createdBy          AccountID
	owner              AccountID
	donationBenefactor AccountID
	paymentBenefactor  AccountID // executor, set on execution

	// call
	toAddress   AccountID
	callData    []byte
	callValue   Money
	callBudget  uint64
	budgetPrice Money

	// payments
	donation     Money
	donationOwed Money
	payment      Money
	paymentOwed  Money

	schedule Schedule

	// claim
	claimedBy       AccountID
	claimDeposit    Money
	requiredDeposit Money
	paymentModifier uint8

	// meta
	isCancelled   bool
	wasCalled     bool
	wasSuccessful bool
}

var _ ScheduledCall = (*Request)(nil)

// ValidateParams checks creation parameters against the ledger state at
// creation time. It reports every violated rule, not only the first.
func ValidateParams(roles Roles, p Params, now, budgetLimit uint64, funding Money) error {
	var errs []error

	endowment, err := p.Endowment()
	if err != nil {
		errs = append(errs, err)
	} else if funding.Lt(&endowment) {
		errs = append(errs, fmt.Errorf("%w: have %s, need %s", ErrInsufficientFunding, funding.Dec(), endowment.Dec()))
	}

	if err := p.Schedule().Validate(now); err != nil {
		errs = append(errs, err)
	}

	if p.ClaimWindowSize == 0 && !p.RequiredDeposit.IsZero() {
		errs = append(errs, ErrNoClaimWindow)
	}

	if p.CallBudget > budgetLimit || budgetLimit-p.CallBudget < EXECUTION_OVERHEAD {
		errs = append(errs, fmt.Errorf("%w: %d + %d > %d", ErrCallBudgetTooHigh, p.CallBudget, EXECUTION_OVERHEAD, budgetLimit))
	}

	if roles.ToAddress.IsZero() {
		errs = append(errs, ErrEmptyToAddress)
	}

	return errors.Join(errs...)
}

// Creates a validated request at addr
// Called by: factory
func NewRequest(ctx *ledger.CallContext, addr AccountID, roles Roles, p Params, callData []byte, funding Money) (*Request, error) {
	now := ctx.Now(p.TemporalUnit)
	if err := ValidateParams(roles, p, now, ctx.BudgetLimit(), funding); err != nil {
		return nil, err
	}
	r := &Request{
		address:            addr,
		createdBy:          roles.CreatedBy,
		owner:              roles.Owner,
		donationBenefactor: roles.DonationBenefactor,
		toAddress:          roles.ToAddress,
		callData:           append([]byte(nil), callData...),
		callValue:          p.CallValue,
		callBudget:         p.CallBudget,
		budgetPrice:        p.BudgetPrice,
		donation:           p.Donation,
		payment:            p.Payment,
		schedule:           p.Schedule(),
		requiredDeposit:    p.RequiredDeposit,
	}
	log.Debugf("alarm: new request %s to=%s unit=%s window=[%d,%d) claim=[%d,%d]",
		addr, r.toAddress, r.schedule.Unit, r.schedule.WindowStart, r.schedule.WindowEnd(),
		r.schedule.FirstClaimAt(), r.schedule.LastClaimAt())
	return r, nil
}

func (r *Request) Address() AccountID {
	return r.address
}

func (r *Request) Schedule() Schedule {
	return r.schedule
}

func (r *Request) CallData() []byte {
	return append([]byte(nil), r.callData...)
}

func (r *Request) IsClaimed() bool {
	return !r.claimedBy.IsZero()
}

// Accepts plain value transfers, rejects call data
func (r *Request) Receive(ctx *ledger.CallContext, payload []byte) error {
	if len(payload) > 0 {
		return ErrUnknownMethod
	}
	return nil
}

// checkContext rejects contexts that do not run on the request's account.
func (r *Request) checkContext(ctx *ledger.CallContext) error {
	if ctx.Self != r.address {
		return fmt.Errorf("%w: context for %s used on %s", ErrWrongAccount, ctx.Self, r.address)
	}
	return nil
}

// journal saves the current state for rollback with the enclosing call.
func (r *Request) journal(ctx *ledger.CallContext) {
	saved := *r
	ctx.OnRevert(func() { *r = saved })
}

// now returns the current time in the request's temporal unit
func (r *Request) now(ctx *ledger.CallContext) uint64 {
	return ctx.Now(r.schedule.Unit)
}

// obligations is the part of the balance that belongs to parties other
// than the owner.
func (r *Request) obligations() (Money, error) {
	sum, err := addChecked(r.claimDeposit, r.paymentOwed)
	if err != nil {
		return sum, err
	}
	return addChecked(sum, r.donationOwed)
}
