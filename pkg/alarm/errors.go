package alarm

import "errors"

// Hard rejections. The ledger rolls back a transaction that returns one.
var (
	ErrOverflow            = errors.New("arithmetic overflow")
	ErrInvalidUnit         = errors.New("invalid temporal unit")
	ErrEmptyWindow         = errors.New("execution window is empty")
	ErrReservedTooLarge    = errors.New("reserved window exceeds execution window")
	ErrNoFreezePeriod      = errors.New("freeze period must be positive")
	ErrNoClaimWindow       = errors.New("claim window required when a deposit is set")
	ErrWindowTooSoon       = errors.New("first claim time not in the future")
	ErrEmptyToAddress      = errors.New("empty call target")
	ErrCallBudgetTooHigh   = errors.New("call budget exceeds transaction budget limit")
	ErrInsufficientFunding = errors.New("attached value below endowment")

	ErrClaimDisabled       = errors.New("claiming is disabled for this request")
	ErrAlreadyClaimed      = errors.New("request already claimed")
	ErrNotInClaimWindow    = errors.New("outside claim window")
	ErrInsufficientDeposit = errors.New("claim deposit too low")

	ErrUnauthorized    = errors.New("caller not authorized")
	ErrAlreadyCalled   = errors.New("request already executed")
	ErrCancelled       = errors.New("request is cancelled")
	ErrWindowNotClosed = errors.New("execution window still open")
	ErrProxyFailed     = errors.New("proxied call failed")
	ErrUnknownMethod   = errors.New("request does not accept call data")
	ErrWrongAccount    = errors.New("call context bound to another account")
)
