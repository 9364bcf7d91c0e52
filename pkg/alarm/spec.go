package alarm

import (
	"blockwatch.cc/alarmclock/pkg/ledger"
)

const (
	// budget reserved for bookkeeping after the forwarded call returns
	EXECUTION_OVERHEAD = 180000

	MAX_PAYMENT_MODIFIER = 100
)

// Event topics
const (
	TopicClaimed   = "Claimed"
	TopicExecuted  = "Executed"
	TopicAborted   = "Aborted"
	TopicCancelled = "Cancelled"
)

type AccountID = ledger.AccountID

type Money = ledger.Money

type Unit = ledger.Unit

// Roles in creation order
type Roles struct {
	CreatedBy          AccountID
	Owner              AccountID
	DonationBenefactor AccountID
	ToAddress          AccountID
}

// Creation parameters in creation order
type Params struct {
	Donation           Money
	Payment            Money
	ClaimWindowSize    uint64
	FreezePeriod       uint64
	ReservedWindowSize uint64
	TemporalUnit       Unit
	WindowSize         uint64
	WindowStart        uint64
	CallBudget         uint64
	CallValue          Money
	BudgetPrice        Money
	RequiredDeposit    Money
}

func (p Params) Schedule() Schedule {
	return Schedule{
		Unit:               p.TemporalUnit,
		WindowStart:        p.WindowStart,
		WindowSize:         p.WindowSize,
		ClaimWindowSize:    p.ClaimWindowSize,
		FreezePeriod:       p.FreezePeriod,
		ReservedWindowSize: p.ReservedWindowSize,
	}
}

// Endowment required to create a request with these parameters
func (p Params) Endowment() (Money, error) {
	return ComputeEndowment(p.Payment, p.Donation, p.CallBudget, p.CallValue, p.BudgetPrice, EXECUTION_OVERHEAD)
}

type ClaimedEvent struct {
	Request   AccountID
	ClaimedBy AccountID
	Deposit   Money
	Modifier  uint8
}

type ExecutedEvent struct {
	Request    AccountID
	Executor   AccountID
	Success    bool
	Payment    Money // total owed to the executor: payment, reimbursement, deposit
	Donation   Money
	BudgetUsed uint64
}

type AbortedEvent struct {
	Request AccountID
	Caller  AccountID
	Reason  AbortReason
}

type CancelledEvent struct {
	Request AccountID
	Refund  Money // sent to the owner
}

// Public surface of a scheduled call
type ScheduledCall interface {
	// Reserves execution rights against a deposit
	// Called by: executor (optional)
	Claim(ctx *ledger.CallContext) error

	// Performs the scheduled call or reports why it could not
	// Called by: anyone
	Execute(ctx *ledger.CallContext) Execution

	// Withdraws the request and refunds the endowment
	// Called by: owner
	Cancel(ctx *ledger.CallContext) error

	// Forwards an arbitrary call after the execution window
	// Called by: owner or creator
	Proxy(ctx *ledger.CallContext, to AccountID, payload []byte) error

	// Views the full request state
	// Called by: anyone
	Snapshot() Snapshot
}
