/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

// Package errkind defines the typed error kinds shared by every
// control-path operation in the data-channel core: out-of-memory,
// invalid-argument, unsupported, family-changed, no-key, not-found and
// bad-auth. Callers distinguish kinds with errors.As, never by
// matching error text.
package errkind

import (
	"errors"
	"fmt"
)

// Kind enumerates the error categories a control-path operation can
// fail with. Zero value is not a valid kind.
type Kind int

const (
	_ Kind = iota
	OutOfMemory
	InvalidArgument
	Unsupported
	FamilyChanged
	NoKey
	NotFound
	BadAuth
)

func (k Kind) String() string {
	switch k {
	case OutOfMemory:
		return "out-of-memory"
	case InvalidArgument:
		return "invalid-argument"
	case Unsupported:
		return "unsupported"
	case FamilyChanged:
		return "family-changed"
	case NoKey:
		return "no-key"
	case NotFound:
		return "not-found"
	case BadAuth:
		return "bad-auth"
	default:
		return "unknown"
	}
}

// Error is the typed error every control-path operation returns on
// failure. Op names the operation that failed (e.g. "reset",
// "select_family"); Err, if non-nil, wraps the underlying cause (for
// example a bad-auth error surfaced unchanged from the AEAD
// collaborator).
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same Kind, so callers
// can write errors.Is(err, errkind.New(errkind.NoKey, "")) style
// checks, but the idiomatic check is errors.As plus a Kind comparison
// (see Of).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New builds a kind-only error for op.
func New(kind Kind, op string) *Error {
	return &Error{Kind: kind, Op: op}
}

// Wrap builds a kind error for op that carries an underlying cause,
// e.g. a bad-auth error propagated unchanged from the AEAD
// collaborator.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Of extracts the Kind from err, if err is (or wraps) an *Error.
func Of(err error) (Kind, bool) {
	var e *Error
	if !errors.As(err, &e) {
		return 0, false
	}
	return e.Kind, true
}
