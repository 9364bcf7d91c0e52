// Copyright (c) 2022 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package ledger

import (
	"fmt"

	"github.com/holiman/uint256"
)

type AccountID string

func (a AccountID) IsZero() bool {
	return a == ""
}

// Money is a 256-bit unsigned currency amount in the ledger's smallest unit.
type Money = uint256.Int

func NewMoney(v uint64) Money {
	return *uint256.NewInt(v)
}

// ParseMoney parses a base-10 amount.
func ParseMoney(s string) (Money, error) {
	var m Money
	if err := m.SetFromDecimal(s); err != nil {
		return m, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return m, nil
}

// Unit selects which clock a schedule is expressed in.
type Unit uint8

const (
	UnitInvalid   Unit = 0
	UnitBlock     Unit = 1
	UnitTimestamp Unit = 2
)

func (u Unit) IsValid() bool {
	return u == UnitBlock || u == UnitTimestamp
}

func (u Unit) String() string {
	switch u {
	case UnitBlock:
		return "block"
	case UnitTimestamp:
		return "timestamp"
	default:
		return "invalid"
	}
}

// Transaction as submitted by an external account
type Tx struct {
	From        AccountID // signer
	To          AccountID // receiver (contract or account)
	Amount      Money     // attached value
	Budget      uint64    // execution budget supplied
	BudgetPrice Money     // price per budget unit offered by the signer
}

// Outcome of a forwarded call
type CallResult struct {
	Success bool
	Used    uint64 // budget consumed by the callee
	Err     error  // callee error, nil on success
}

// Contract is code deployed at an address. Receive is invoked for every
// call and value transfer to that address.
type Contract interface {
	Receive(ctx *CallContext, payload []byte) error
}

// Config for an in-process ledger
type Config struct {
	BudgetLimit   uint64 // max budget a single transaction may supply
	GenesisHeight uint64
	GenesisTime   uint64 // unix seconds
}

func DefaultConfig() Config {
	return Config{
		BudgetLimit:   8_000_000,
		GenesisHeight: 1,
		GenesisTime:   1_500_000_000,
	}
}
