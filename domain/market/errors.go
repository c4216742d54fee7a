package market

import (
	"errors"
	"fmt"

	"github.com/dvrvsimi/openbook-dex/domain/orderbook"
	"github.com/dvrvsimi/openbook-dex/domain/queue"
)

// Code is the discrete result code an instruction returns across the
// host boundary. Any non-OK code means the invocation's effects were
// discarded in full.
type Code uint8

const (
	CodeOK Code = iota
	// CodeValidation: malformed price/quantity/decimals or a request
	// that names accounts it does not own.
	CodeValidation
	// CodeCapacity: slab or queue exhausted.
	CodeCapacity
	// CodeState: unknown order id, market not initialized, or a
	// detected invariant violation.
	CodeState
	// CodeArithmetic: overflow in fee or fill computation.
	CodeArithmetic
	// CodeBudget: the match loop exceeded its iteration bound.
	CodeBudget
)

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeValidation:
		return "validation"
	case CodeCapacity:
		return "capacity"
	case CodeState:
		return "state"
	case CodeArithmetic:
		return "arithmetic"
	case CodeBudget:
		return "budget"
	default:
		return fmt.Sprintf("code(%d)", uint8(c))
	}
}

// Error is a coded engine error.
type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string { return e.Code.String() + ": " + e.Msg }

func coded(c Code, format string, args ...any) error {
	return &Error{Code: c, Msg: fmt.Sprintf(format, args...)}
}

func Validationf(format string, args ...any) error { return coded(CodeValidation, format, args...) }
func Capacityf(format string, args ...any) error   { return coded(CodeCapacity, format, args...) }
func Statef(format string, args ...any) error      { return coded(CodeState, format, args...) }
func Arithmeticf(format string, args ...any) error { return coded(CodeArithmetic, format, args...) }
func Budgetf(format string, args ...any) error     { return coded(CodeBudget, format, args...) }

// CodeOf classifies any error into the taxonomy. Errors raised by the
// underlying structures map onto it; anything unrecognized is a state
// error.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	switch {
	case errors.Is(err, orderbook.ErrSlabFull), errors.Is(err, queue.ErrQueueFull):
		return CodeCapacity
	case errors.Is(err, queue.ErrRequestTooLarge):
		return CodeValidation
	default:
		return CodeState
	}
}
