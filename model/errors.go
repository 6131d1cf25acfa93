package model

import (
	"errors"
	"fmt"
)

// Kind is a stable category for programmatic error handling.
//
// Callers should branch on Kind/RuleID rather than matching error strings.
// Error() strings are human-readable and may evolve.
type Kind string

const (
	KindStructural          Kind = "Structural"
	KindSignatureInvalid    Kind = "SignatureInvalid"
	KindDuplicateIdentity   Kind = "DuplicateIdentity"
	KindVoucherInsufficient Kind = "VoucherInsufficient"
	KindVoucherIneligible   Kind = "VoucherIneligible"
	KindStateTransition     Kind = "StateTransition"
	KindLedgerIntegrity     Kind = "LedgerIntegrity"
	KindNotFound            Kind = "NotFound"
	KindInternal            Kind = "Internal"
)

// NoIndex marks an error that is not tied to a ledger position.
const NoIndex = -1

// Error is the structured error type shared by every package in the module.
//
// RuleID is a stable identifier (e.g. COV-STR-003, COV-INT-002) naming the
// violated rule. Subject names what the rule was evaluated against: an
// algorithm name, a cid_hash prefix or a field. Index is the zero-based ledger
// position for integrity findings, or NoIndex.
type Error struct {
	Kind    Kind
	RuleID  string
	Message string
	Subject string
	Index   int
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is matches another *Error by Kind and RuleID, so sentinel values such as
// ErrNotProvisional work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Kind == t.Kind && e.RuleID == t.RuleID
}

// NewError returns a structured error with no subject and no ledger position.
func NewError(kind Kind, ruleID, msg string) *Error {
	return &Error{Kind: kind, RuleID: ruleID, Message: msg, Index: NoIndex}
}

// Errorf is NewError with a formatted message.
func Errorf(kind Kind, ruleID, format string, args ...any) *Error {
	return NewError(kind, ruleID, fmt.Sprintf(format, args...))
}

// WrapError returns a structured error carrying cause.
func WrapError(kind Kind, ruleID, msg string, cause error) *Error {
	e := NewError(kind, ruleID, msg)
	e.Cause = cause
	return e
}

// WithSubject returns a copy of e naming subject.
func (e *Error) WithSubject(subject string) *Error {
	c := *e
	c.Subject = subject
	return &c
}

// At returns a copy of e bound to ledger position index.
func (e *Error) At(index int) *Error {
	c := *e
	c.Index = index
	return &c
}

// IsKind reports whether err is (or wraps) a *Error with the given Kind.
// Joined errors are searched as well.
func IsKind(err error, kind Kind) bool {
	for _, k := range KindsOf(err) {
		if k == kind {
			return true
		}
	}
	return false
}

// RuleID returns the stable RuleID for a structured error, or "" if unknown.
func RuleID(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.RuleID
}

// KindsOf lists the kinds of every *Error reachable from err, in traversal order.
func KindsOf(err error) []Kind {
	var out []Kind
	walk(err, func(e *Error) {
		out = append(out, e.Kind)
	})
	return out
}

// Flatten returns every *Error reachable from err, in traversal order.
func Flatten(err error) []*Error {
	var out []*Error
	walk(err, func(e *Error) {
		out = append(out, e)
	})
	return out
}

func walk(err error, fn func(*Error)) {
	if err == nil {
		return
	}
	if e, ok := err.(*Error); ok {
		fn(e)
		return
	}
	switch u := err.(type) {
	case interface{ Unwrap() []error }:
		for _, inner := range u.Unwrap() {
			walk(inner, fn)
		}
	case interface{ Unwrap() error }:
		walk(u.Unwrap(), fn)
	}
}
