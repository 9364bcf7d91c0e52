// Copyright (c) 2022 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package alarm

import (
	"fmt"
	"math"
	"math/bits"
)

// Schedule holds the immutable timing of a request. All values are in the
// same temporal unit, either block heights or unix timestamps.
//
//	 firstClaimAt      lastClaimAt     windowStart                      windowEnd
//	     |---- claim ----|--- freeze ---|-- reserved --|----------------|
//	                                    |------------ execution --------|
type Schedule struct {
	Unit               Unit
	WindowStart        uint64
	WindowSize         uint64
	ClaimWindowSize    uint64
	FreezePeriod       uint64
	ReservedWindowSize uint64
}

// Validate checks that all derived windows are well formed and that the
// claim window opens strictly after now.
func (s Schedule) Validate(now uint64) error {
	if !s.Unit.IsValid() {
		return fmt.Errorf("%w: %d", ErrInvalidUnit, s.Unit)
	}
	if s.WindowSize == 0 {
		return ErrEmptyWindow
	}
	if s.ReservedWindowSize > s.WindowSize {
		return fmt.Errorf("%w: %d > %d", ErrReservedTooLarge, s.ReservedWindowSize, s.WindowSize)
	}
	if s.FreezePeriod == 0 {
		return ErrNoFreezePeriod
	}
	if s.WindowStart > math.MaxUint64-s.WindowSize {
		return fmt.Errorf("%w: window end", ErrOverflow)
	}
	if s.FreezePeriod > math.MaxUint64-s.ClaimWindowSize || s.FreezePeriod+s.ClaimWindowSize > s.WindowStart {
		return fmt.Errorf("%w: claim window starts before genesis", ErrWindowTooSoon)
	}
	if first := s.FirstClaimAt(); first <= now {
		return fmt.Errorf("%w: first claim at %d, now %d", ErrWindowTooSoon, first, now)
	}
	return nil
}

func (s Schedule) FirstClaimAt() uint64 {
	return s.WindowStart - s.FreezePeriod - s.ClaimWindowSize
}

func (s Schedule) LastClaimAt() uint64 {
	return s.WindowStart - s.FreezePeriod
}

// WindowEnd is the first point in time after the execution window.
func (s Schedule) WindowEnd() uint64 {
	return s.WindowStart + s.WindowSize
}

func (s Schedule) ReservedEnd() uint64 {
	return s.WindowStart + s.ReservedWindowSize
}

func (s Schedule) InClaimWindow(t uint64) bool {
	return s.ClaimWindowSize > 0 && t >= s.FirstClaimAt() && t <= s.LastClaimAt()
}

func (s Schedule) InFreezeWindow(t uint64) bool {
	return t > s.LastClaimAt() && t < s.WindowStart
}

func (s Schedule) InReservedWindow(t uint64) bool {
	return t >= s.WindowStart && t < s.ReservedEnd()
}

func (s Schedule) InExecutionWindow(t uint64) bool {
	return t >= s.WindowStart && t < s.WindowEnd()
}

func (s Schedule) IsBeforeWindow(t uint64) bool {
	return t < s.WindowStart
}

func (s Schedule) IsAfterWindow(t uint64) bool {
	return t >= s.WindowEnd()
}

// PaymentModifier for a claim at t: the elapsed share of the claim window
// in percent, rounded down.
func (s Schedule) PaymentModifier(t uint64) uint8 {
	if s.ClaimWindowSize == 0 || t <= s.FirstClaimAt() {
		return 0
	}
	elapsed := t - s.FirstClaimAt()
	if elapsed >= s.ClaimWindowSize {
		return MAX_PAYMENT_MODIFIER
	}
	// elapsed < claimWindowSize, scale in 128 bits to avoid overflow of 100*elapsed
	hi, lo := bits.Mul64(elapsed, MAX_PAYMENT_MODIFIER)
	q, _ := bits.Div64(hi, lo, s.ClaimWindowSize)
	return uint8(q)
}
