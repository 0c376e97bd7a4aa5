package state

import (
	"errors"
	"fmt"
)

// ErrorKind discriminates why an action or computation was refused.
type ErrorKind int32

const (
	KindUnknown ErrorKind = iota
	KindInvalidAmount
	KindInsufficientCollateral
	KindExceedsMaxWithdraw
	KindExceedsMaxBorrow
	KindExceedsDebt
	KindNoCollateral
	KindOracleUnavailable
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidAmount:
		return "InvalidAmount"
	case KindInsufficientCollateral:
		return "InsufficientCollateral"
	case KindExceedsMaxWithdraw:
		return "ExceedsMaxWithdraw"
	case KindExceedsMaxBorrow:
		return "ExceedsMaxBorrow"
	case KindExceedsDebt:
		return "ExceedsDebt"
	case KindNoCollateral:
		return "NoCollateral"
	case KindOracleUnavailable:
		return "OracleUnavailable"
	default:
		return "Unknown"
	}
}

// Sentinel errors, one per kind. Match with errors.Is.
var (
	ErrInvalidAmount          = &ValidationError{Kind: KindInvalidAmount}
	ErrInsufficientCollateral = &ValidationError{Kind: KindInsufficientCollateral}
	ErrExceedsMaxWithdraw     = &ValidationError{Kind: KindExceedsMaxWithdraw}
	ErrExceedsMaxBorrow       = &ValidationError{Kind: KindExceedsMaxBorrow}
	ErrExceedsDebt            = &ValidationError{Kind: KindExceedsDebt}
	ErrNoCollateral           = &ValidationError{Kind: KindNoCollateral}
	ErrOracleUnavailable      = &ValidationError{Kind: KindOracleUnavailable}
)

// ValidationError is the discriminated failure returned by every ledger
// transform and validator. All kinds are locally recoverable.
type ValidationError struct {
	Kind ErrorKind
	Msg  string
	Err  error // optional cause
}

func (e *ValidationError) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

// Is matches on Kind so that errors.Is(err, ErrExceedsDebt) holds for any
// ValidationError of that kind regardless of message.
func (e *ValidationError) Is(target error) bool {
	var ve *ValidationError
	if !errors.As(target, &ve) {
		return false
	}
	return ve.Kind == e.Kind
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Errorf builds a ValidationError of the given kind.
func Errorf(kind ErrorKind, format string, args ...any) *ValidationError {
	return &ValidationError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a new ValidationError of the given kind.
func Wrap(kind ErrorKind, err error, msg string) *ValidationError {
	return &ValidationError{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the ErrorKind of err, or KindUnknown.
func KindOf(err error) ErrorKind {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Kind
	}
	return KindUnknown
}
