package dao

import (
	"errors"
	"fmt"
)

// Kind classifies every failure the core can return.
type Kind int

const (
	KindInternal Kind = iota
	KindAuthorization
	KindArithmetic
	KindState
	KindInput
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindAuthorization:
		return "authorization"
	case KindArithmetic:
		return "arithmetic"
	case KindState:
		return "state"
	case KindInput:
		return "input"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// Error is a sentinel failure with a stable code. Callers receive it wrapped
// with the offending parameters and match it with errors.Is.
type Error struct {
	Kind Kind
	Code string
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

// NewError declares a sentinel of the given kind.
func NewError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// CodeOf returns the stable code of err, or "Internal".
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return "Internal"
}

var (
	ErrInvalidAccount    = NewError(KindInput, "InvalidAccount", "invalid account")
	ErrReservedAccount   = NewError(KindAuthorization, "ReservedAccount", "account is reserved for internal modules")
	ErrInvalidAmount     = NewError(KindInput, "InvalidAmount", "invalid amount (must be > 0)")
	ErrInvalidContentRef = NewError(KindInput, "InvalidContentRef", "invalid content reference")
	ErrNotAuthorized     = NewError(KindAuthorization, "NotAuthorized", "caller is not authorized")
)

// Unauthorized wraps ErrNotAuthorized with the caller and the required role.
func Unauthorized(caller AccountID, role Role) error {
	return fmt.Errorf("%w: %s is not %s", ErrNotAuthorized, caller, role)
}
