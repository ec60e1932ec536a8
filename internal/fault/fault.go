// Package fault defines the error taxonomy shared by the treasury and the
// vault. Every domain rejection carries a Kind so callers can branch with
// errors.Is without parsing messages.
package fault

import (
	"errors"
	"fmt"
)

// Kind categorizes a domain failure.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindAuthorization
	KindInvalidState
	KindTemporalViolation
	KindInsufficientFunds
	KindPolicyViolation
	KindZeroEffect
	KindInvalidArgument
)

func (k Kind) String() string {
	switch k {
	case KindAuthorization:
		return "authorization"
	case KindInvalidState:
		return "invalid_state"
	case KindTemporalViolation:
		return "temporal_violation"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindPolicyViolation:
		return "policy_violation"
	case KindZeroEffect:
		return "zero_effect"
	case KindInvalidArgument:
		return "invalid_argument"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is. An *Error matches the sentinel of its Kind.
var (
	ErrAuthorization     = &Error{Kind: KindAuthorization}
	ErrInvalidState      = &Error{Kind: KindInvalidState}
	ErrTemporalViolation = &Error{Kind: KindTemporalViolation}
	ErrInsufficientFunds = &Error{Kind: KindInsufficientFunds}
	ErrPolicyViolation   = &Error{Kind: KindPolicyViolation}
	ErrZeroEffect        = &Error{Kind: KindZeroEffect}
	ErrInvalidArgument   = &Error{Kind: KindInvalidArgument}
)

// Error is a domain rejection. Op names the operation ("treasury.payOff"),
// Reason is the human-readable cause.
type Error struct {
	Kind   Kind
	Op     string
	Reason string
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Reason)
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New builds an *Error with a formatted reason.
func New(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Reason: fmt.Sprintf(format, args...)}
}

func Authorization(op, format string, args ...interface{}) *Error {
	return New(KindAuthorization, op, format, args...)
}

func InvalidState(op, format string, args ...interface{}) *Error {
	return New(KindInvalidState, op, format, args...)
}

func Temporal(op, format string, args ...interface{}) *Error {
	return New(KindTemporalViolation, op, format, args...)
}

func InsufficientFunds(op, format string, args ...interface{}) *Error {
	return New(KindInsufficientFunds, op, format, args...)
}

func Policy(op, format string, args ...interface{}) *Error {
	return New(KindPolicyViolation, op, format, args...)
}

func ZeroEffect(op, format string, args ...interface{}) *Error {
	return New(KindZeroEffect, op, format, args...)
}

func InvalidArgument(op, format string, args ...interface{}) *Error {
	return New(KindInvalidArgument, op, format, args...)
}

// KindOf extracts the Kind of err, or KindUnknown if err is not a domain error.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}
