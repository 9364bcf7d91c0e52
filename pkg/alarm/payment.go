// Copyright (c) 2022 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package alarm

import (
	"fmt"

	"github.com/holiman/uint256"
)

// ComputeEndowment returns the prepayment that covers every payout path of a
// request: payment + 2*donation + callBudget*budgetPrice + overhead*budgetPrice + callValue.
func ComputeEndowment(payment, donation Money, callBudget uint64, callValue, budgetPrice Money, overhead uint64) (Money, error) {
	var (
		sum, tmp Money
		overflow bool
	)

	// 2 * donation
	if _, overflow = tmp.MulOverflow(&donation, uint256.NewInt(2)); overflow {
		return sum, fmt.Errorf("%w: donation", ErrOverflow)
	}
	if _, overflow = sum.AddOverflow(&payment, &tmp); overflow {
		return sum, fmt.Errorf("%w: payment + donation", ErrOverflow)
	}

	// callBudget * budgetPrice
	if _, overflow = tmp.MulOverflow(uint256.NewInt(callBudget), &budgetPrice); overflow {
		return sum, fmt.Errorf("%w: call budget", ErrOverflow)
	}
	if _, overflow = sum.AddOverflow(&sum, &tmp); overflow {
		return sum, fmt.Errorf("%w: call budget", ErrOverflow)
	}

	// overhead * budgetPrice
	if _, overflow = tmp.MulOverflow(uint256.NewInt(overhead), &budgetPrice); overflow {
		return sum, fmt.Errorf("%w: overhead", ErrOverflow)
	}
	if _, overflow = sum.AddOverflow(&sum, &tmp); overflow {
		return sum, fmt.Errorf("%w: overhead", ErrOverflow)
	}

	if _, overflow = sum.AddOverflow(&sum, &callValue); overflow {
		return sum, fmt.Errorf("%w: call value", ErrOverflow)
	}
	return sum, nil
}

// PaymentWithModifier scales a payment by a percentage in [0, 100].
func PaymentWithModifier(payment Money, modifier uint8) Money {
	if modifier > MAX_PAYMENT_MODIFIER {
		modifier = MAX_PAYMENT_MODIFIER
	}
	var res Money
	// modifier <= 100 so the 512-bit intermediate never overflows the result
	res.MulDivOverflow(&payment, uint256.NewInt(uint64(modifier)), uint256.NewInt(MAX_PAYMENT_MODIFIER))
	return res
}

// Reimbursement for budget consumed by an executor at the stored price
func Reimbursement(budgetUsed uint64, budgetPrice Money) (Money, error) {
	var res Money
	if _, overflow := res.MulOverflow(uint256.NewInt(budgetUsed), &budgetPrice); overflow {
		return res, fmt.Errorf("%w: reimbursement", ErrOverflow)
	}
	return res, nil
}

func addChecked(a, b Money) (Money, error) {
	var res Money
	if _, overflow := res.AddOverflow(&a, &b); overflow {
		return res, ErrOverflow
	}
	return res, nil
}
