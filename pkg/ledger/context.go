// Copyright (c) 2022 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package ledger

import (
	"errors"
	"fmt"
)

type meter struct {
	limit uint64
	used  uint64
}

func (m *meter) left() uint64 {
	return m.limit - m.used
}

// Transaction context available during contract execution
type CallContext struct {
	Caller      AccountID // immediate caller (account or contract)
	Origin      AccountID // transaction signer
	Self        AccountID // address of the executing contract
	Amount      Money     // attached value
	BudgetPrice Money     // price per budget unit of the transaction
	Height      uint64    // block height
	Timestamp   uint64    // block timestamp

	ledger *Ledger
	meter  *meter
	depth  int
}

// Now returns the current time in the requested unit.
func (c *CallContext) Now(u Unit) uint64 {
	if u == UnitTimestamp {
		return c.Timestamp
	}
	return c.Height
}

func (c *CallContext) BudgetLeft() uint64 {
	return c.meter.left()
}

// BudgetLimit is the most budget any single transaction may supply.
func (c *CallContext) BudgetLimit() uint64 {
	return c.ledger.cfg.BudgetLimit
}

func (c *CallContext) BudgetUsed() uint64 {
	return c.meter.used
}

// Consume charges n budget units to the current call.
func (c *CallContext) Consume(n uint64) error {
	if n > c.meter.left() {
		c.meter.used = c.meter.limit
		return ErrOutOfBudget
	}
	c.meter.used += n
	return nil
}

// Balance of the executing contract
func (c *CallContext) Balance() Money {
	return c.ledger.balances[c.Self]
}

func (c *CallContext) BalanceOf(a AccountID) Money {
	return c.ledger.balances[a]
}

// Emit logs an event. Events of reverted calls are discarded.
func (c *CallContext) Emit(topic string, ev interface{}) {
	c.ledger.emit(topic, ev)
}

// OnRevert registers undo to run if the current call or transaction is
// rolled back. Contracts use it to journal their own state.
func (c *CallContext) OnRevert(undo func()) {
	c.ledger.journal = append(c.ledger.journal, undo)
}

// Deploy installs code at addr as part of the current transaction.
func (c *CallContext) Deploy(addr AccountID, code Contract) error {
	return c.ledger.deploy(addr, code)
}

// Transfer sends amount from the executing contract to an address. A
// receiving contract runs with a fixed stipend that is not charged to the
// sender. Returns false and leaves all balances untouched on failure.
func (c *CallContext) Transfer(to AccountID, amount Money) bool {
	if amount.IsZero() {
		return true
	}
	res := c.call(to, amount, &meter{limit: TransferStipend}, nil)
	return res.Success
}

// Call forwards value and payload to an address with at most budget units.
// Callee failures never propagate: the callee's effects are rolled back and
// reported as an unsuccessful result. Budget used by the callee is charged
// to the caller.
func (c *CallContext) Call(to AccountID, value Money, budget uint64, payload []byte) CallResult {
	if left := c.meter.left(); budget > left {
		budget = left
	}
	m := &meter{limit: budget}
	res := c.call(to, value, m, payload)
	c.meter.used += res.Used
	return res
}

func (c *CallContext) call(to AccountID, value Money, m *meter, payload []byte) CallResult {
	if c.depth >= MaxCallDepth {
		return CallResult{Err: ErrCallDepth}
	}
	l := c.ledger
	cp := l.checkpoint()

	err := l.move(c.Self, to, value)
	if err == nil {
		if code, ok := l.contracts[to]; ok {
			child := &CallContext{
				Caller:      c.Self,
				Origin:      c.Origin,
				Self:        to,
				Amount:      value,
				BudgetPrice: c.BudgetPrice,
				Height:      c.Height,
				Timestamp:   c.Timestamp,
				ledger:      l,
				meter:       m,
				depth:       c.depth + 1,
			}
			err = guard(func() error { return code.Receive(child, payload) })
		}
	}
	if err != nil {
		l.revert(cp.journal, cp.logs)
		if errors.Is(err, ErrOutOfBudget) {
			m.used = m.limit
		}
		return CallResult{Used: m.used, Err: fmt.Errorf("call %s: %w", to, err)}
	}
	return CallResult{Success: true, Used: m.used}
}

// Invoke runs fn as a nested call of a contract method on `to` (a
// reentrant or direct invocation). value moves to `to` first and the callee
// sees the calling contract as Caller and shares the caller's budget. When fn
// returns an error the value transfer and every effect of fn are rolled back
// and the error is returned to the caller, which may handle it.
func (c *CallContext) Invoke(to AccountID, value Money, fn func(*CallContext) error) error {
	if c.depth >= MaxCallDepth {
		return ErrCallDepth
	}
	l := c.ledger
	cp := l.checkpoint()

	err := l.move(c.Self, to, value)
	if err == nil {
		child := &CallContext{
			Caller:      c.Self,
			Origin:      c.Origin,
			Self:        to,
			Amount:      value,
			BudgetPrice: c.BudgetPrice,
			Height:      c.Height,
			Timestamp:   c.Timestamp,
			ledger:      l,
			meter:       c.meter,
			depth:       c.depth + 1,
		}
		err = guard(func() error { return fn(child) })
	}
	if err != nil {
		l.revert(cp.journal, cp.logs)
		return err
	}
	return nil
}
