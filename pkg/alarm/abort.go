package alarm

import "fmt"

// AbortReason explains why an execution attempt did not perform the call.
// Values are part of the event encoding and must not be reordered.
type AbortReason uint8

const (
	WasCancelled AbortReason = iota
	AlreadyCalled
	BeforeCallWindow
	AfterCallWindow
	ReservedForClaimer
	InsufficientGas
	MismatchGasPrice
)

// AbortReasons lists all reasons in guard order.
var AbortReasons = []AbortReason{
	WasCancelled,
	AlreadyCalled,
	BeforeCallWindow,
	AfterCallWindow,
	ReservedForClaimer,
	InsufficientGas,
	MismatchGasPrice,
}

func (r AbortReason) String() string {
	switch r {
	case WasCancelled:
		return "WasCancelled"
	case AlreadyCalled:
		return "AlreadyCalled"
	case BeforeCallWindow:
		return "BeforeCallWindow"
	case AfterCallWindow:
		return "AfterCallWindow"
	case ReservedForClaimer:
		return "ReservedForClaimer"
	case InsufficientGas:
		return "InsufficientGas"
	case MismatchGasPrice:
		return "MismatchGasPrice"
	default:
		return fmt.Sprintf("AbortReason(%d)", uint8(r))
	}
}

// IsFinal reports whether no later attempt can succeed after this abort.
func (r AbortReason) IsFinal() bool {
	switch r {
	case WasCancelled, AlreadyCalled, AfterCallWindow:
		return true
	case BeforeCallWindow, ReservedForClaimer, InsufficientGas, MismatchGasPrice:
		return false
	default:
		return false
	}
}
