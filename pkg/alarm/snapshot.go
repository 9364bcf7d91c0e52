package alarm

import (
	"fmt"

	"github.com/near/borsh-go"

	"blockwatch.cc/alarmclock/pkg/ledger"
)

// Field order of all snapshot groups is part of the binary layout.

type SnapshotAddresses struct {
	ClaimedBy          AccountID
	CreatedBy          AccountID
	Owner              AccountID
	DonationBenefactor AccountID
	PaymentBenefactor  AccountID
	ToAddress          AccountID
}

type SnapshotFlags struct {
	IsCancelled   bool
	WasCalled     bool
	WasSuccessful bool
}

type SnapshotValues struct {
	ClaimDeposit       Money
	Donation           Money
	DonationOwed       Money
	Payment            Money
	PaymentOwed        Money
	ClaimWindowSize    Money
	FreezePeriod       Money
	ReservedWindowSize Money
	TemporalUnit       Money
	WindowSize         Money
	WindowStart        Money
	CallBudget         Money
	CallValue          Money
	BudgetPrice        Money
	RequiredDeposit    Money
}

type SnapshotModifiers struct {
	PaymentModifier uint8
}

// Snapshot is a read-only view of a request's full state.
type Snapshot struct {
	Addresses SnapshotAddresses
	Flags     SnapshotFlags
	Values    SnapshotValues
	Modifiers SnapshotModifiers
}

// Views the full request state
// Called by: anyone
func (r *Request) Snapshot() Snapshot {
	return Snapshot{
		Addresses: SnapshotAddresses{
			ClaimedBy:          r.claimedBy,
			CreatedBy:          r.createdBy,
			Owner:              r.owner,
			DonationBenefactor: r.donationBenefactor,
			PaymentBenefactor:  r.paymentBenefactor,
			ToAddress:          r.toAddress,
		},
		Flags: SnapshotFlags{
			IsCancelled:   r.isCancelled,
			WasCalled:     r.wasCalled,
			WasSuccessful: r.wasSuccessful,
		},
		Values: SnapshotValues{
			ClaimDeposit:       r.claimDeposit,
			Donation:           r.donation,
			DonationOwed:       r.donationOwed,
			Payment:            r.payment,
			PaymentOwed:        r.paymentOwed,
			ClaimWindowSize:    ledger.NewMoney(r.schedule.ClaimWindowSize),
			FreezePeriod:       ledger.NewMoney(r.schedule.FreezePeriod),
			ReservedWindowSize: ledger.NewMoney(r.schedule.ReservedWindowSize),
			TemporalUnit:       ledger.NewMoney(uint64(r.schedule.Unit)),
			WindowSize:         ledger.NewMoney(r.schedule.WindowSize),
			WindowStart:        ledger.NewMoney(r.schedule.WindowStart),
			CallBudget:         ledger.NewMoney(r.callBudget),
			CallValue:          r.callValue,
			BudgetPrice:        r.budgetPrice,
			RequiredDeposit:    r.requiredDeposit,
		},
		Modifiers: SnapshotModifiers{
			PaymentModifier: r.paymentModifier,
		},
	}
}

// State is the lifecycle position derived from the snapshot flags.
type State byte

const (
	StatePending State = iota
	StateClaimed
	StateExecuted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateClaimed:
		return "claimed"
	case StateExecuted:
		return "executed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", byte(s))
	}
}

func (s Snapshot) State() State {
	switch {
	case s.Flags.IsCancelled:
		return StateCancelled
	case s.Flags.WasCalled && s.Flags.WasSuccessful:
		return StateExecuted
	case s.Flags.WasCalled:
		return StateFailed
	case !s.Addresses.ClaimedBy.IsZero():
		return StateClaimed
	default:
		return StatePending
	}
}

func (s Snapshot) Schedule() Schedule {
	return Schedule{
		Unit:               Unit(s.Values.TemporalUnit.Uint64()),
		WindowStart:        s.Values.WindowStart.Uint64(),
		WindowSize:         s.Values.WindowSize.Uint64(),
		ClaimWindowSize:    s.Values.ClaimWindowSize.Uint64(),
		FreezePeriod:       s.Values.FreezePeriod.Uint64(),
		ReservedWindowSize: s.Values.ReservedWindowSize.Uint64(),
	}
}

// MarshalBinary encodes the snapshot in borsh layout: addresses as
// length-prefixed strings, flags as bytes, values as little-endian u256.
func (s Snapshot) MarshalBinary() ([]byte, error) {
	return borsh.Serialize(s)
}

func (s *Snapshot) UnmarshalBinary(data []byte) error {
	var dec Snapshot
	if err := borsh.Deserialize(&dec, data); err != nil {
		return fmt.Errorf("decoding snapshot: %w", err)
	}
	*s = dec
	return nil
}
