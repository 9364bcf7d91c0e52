// Copyright (c) 2022 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package factory

import (
	"fmt"

	"github.com/echa/log"

	"blockwatch.cc/alarmclock/pkg/alarm"
	"blockwatch.cc/alarmclock/pkg/ledger"
)

// Window defaults a scheduler fills in
type Defaults struct {
	ClaimWindowSize    uint64
	FreezePeriod       uint64
	ReservedWindowSize uint64
}

var (
	BlockDefaults = Defaults{
		ClaimWindowSize:    255,
		FreezePeriod:       10,
		ReservedWindowSize: 16,
	}
	TimestampDefaults = Defaults{
		ClaimWindowSize:    60 * 60,
		FreezePeriod:       3 * 60,
		ReservedWindowSize: 5 * 60,
	}
)

// Caller supplied scheduling parameters
type SchedulingParams struct {
	CallBudget      uint64
	CallValue       ledger.Money
	WindowSize      uint64
	WindowStart     uint64
	BudgetPrice     ledger.Money
	Donation        ledger.Money
	Payment         ledger.Money
	RequiredDeposit ledger.Money
}

// Scheduler is a façade that completes parameters for one temporal unit,
// checks the prepayment and forwards creation to the factory.
type Scheduler struct {
	address      ledger.AccountID
	unit         ledger.Unit
	factory      *Factory
	feeRecipient ledger.AccountID
	defaults     Defaults
}

func NewBlockScheduler(addr ledger.AccountID, f *Factory, feeRecipient ledger.AccountID) *Scheduler {
	return &Scheduler{
		address:      addr,
		unit:         ledger.UnitBlock,
		factory:      f,
		feeRecipient: feeRecipient,
		defaults:     BlockDefaults,
	}
}

func NewTimestampScheduler(addr ledger.AccountID, f *Factory, feeRecipient ledger.AccountID) *Scheduler {
	return &Scheduler{
		address:      addr,
		unit:         ledger.UnitTimestamp,
		factory:      f,
		feeRecipient: feeRecipient,
		defaults:     TimestampDefaults,
	}
}

func (s *Scheduler) Address() ledger.AccountID {
	return s.address
}

func (s *Scheduler) Unit() ledger.Unit {
	return s.unit
}

// Accepts arbitrary payments, rejects call data
func (s *Scheduler) Receive(ctx *ledger.CallContext, payload []byte) error {
	if len(payload) > 0 {
		return ErrUnknownMethod
	}
	return nil
}

// Params completes scheduling parameters with the scheduler's defaults. The
// claim window shrinks so that it still opens after now.
func (s *Scheduler) Params(now uint64, sp SchedulingParams) alarm.Params {
	claim, freeze := s.defaults.ClaimWindowSize, s.defaults.FreezePeriod
	lead := uint64(0)
	if sp.WindowStart > now {
		lead = sp.WindowStart - now
	}
	switch {
	case lead <= freeze+1:
		claim = 0
	case freeze+claim >= lead:
		claim = lead - freeze - 1
	}
	reserved := s.defaults.ReservedWindowSize
	if reserved > sp.WindowSize {
		reserved = sp.WindowSize
	}
	return alarm.Params{
		Donation:           sp.Donation,
		Payment:            sp.Payment,
		ClaimWindowSize:    claim,
		FreezePeriod:       freeze,
		ReservedWindowSize: reserved,
		TemporalUnit:       s.unit,
		WindowSize:         sp.WindowSize,
		WindowStart:        sp.WindowStart,
		CallBudget:         sp.CallBudget,
		CallValue:          sp.CallValue,
		BudgetPrice:        sp.BudgetPrice,
		RequiredDeposit:    sp.RequiredDeposit,
	}
}

// Schedules a call to `to`; the attached value must cover the endowment
// Called by: user
func (s *Scheduler) Schedule(ctx *ledger.CallContext, to ledger.AccountID, callData []byte, sp SchedulingParams) (ledger.AccountID, error) {
	p := s.Params(ctx.Now(s.unit), sp)
	endowment, err := p.Endowment()
	if err != nil {
		return "", err
	}
	if ctx.Amount.Lt(&endowment) {
		return "", fmt.Errorf("%w: have %s, need %s", alarm.ErrInsufficientFunding, ctx.Amount.Dec(), endowment.Dec())
	}
	roles := alarm.Roles{
		CreatedBy:          ctx.Caller,
		Owner:              ctx.Caller,
		DonationBenefactor: s.feeRecipient,
		ToAddress:          to,
	}
	var addr ledger.AccountID
	err = ctx.Invoke(s.factory.Address(), ctx.Amount, func(fctx *ledger.CallContext) error {
		var err error
		addr, err = s.factory.Create(fctx, roles, p, callData)
		return err
	})
	if err != nil {
		return "", err
	}
	log.Debugf("scheduler: %s scheduled %s for %s", s.unit, addr, ctx.Caller)
	return addr, nil
}
