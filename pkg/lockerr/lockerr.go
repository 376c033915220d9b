// Copyright 2026 The Genlock Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package lockerr holds the standardized error definitions for this module,
// exported as comparable sentinel *Error values. Callers compare against the
// sentinels directly (or via Equals); errors are never wrapped by the lock
// engine, so comparison is a pointer equality check.
package lockerr

// Kind classifies an error independently of its message.
type Kind int

// Error kinds. These mirror the taxonomy of the lock engine: misuse is
// always surfaced, never retried internally; all retry policy belongs to
// the caller.
const (
	// KindInvalidState indicates an operation that violates handle or lock
	// invariants: double attach, unlock while unlocked, release by a
	// non-holder, or a read-to-write upgrade.
	KindInvalidState Kind = iota

	// KindWouldBlock indicates a non-blocking request that could not be
	// satisfied immediately.
	KindWouldBlock

	// KindTimedOut indicates a blocking request that exceeded its deadline.
	KindTimedOut

	// KindInterrupted indicates a wait aborted by an external interrupt,
	// distinct from a timeout.
	KindInterrupted

	// KindBadToken indicates a token that does not resolve to a live lock.
	KindBadToken

	// KindNoSpace indicates a resource limit: a full token table or an
	// exhausted device registry.
	KindNoSpace
)

// Error is an error with a Kind. It is immutable after creation.
type Error struct {
	kind    Kind
	message string
}

// New creates a new *Error.
func New(kind Kind, message string) *Error {
	return &Error{
		kind:    kind,
		message: message,
	}
}

// Error implements error.Error.
func (e *Error) Error() string { return e.message }

// Kind returns the error's kind.
func (e *Error) Kind() Kind { return e.kind }

// The sentinel errors returned by the engine, token table and device layer.
var (
	ErrInvalidState = New(KindInvalidState, "invalid lock state")
	ErrWouldBlock   = New(KindWouldBlock, "operation would block")
	ErrTimedOut     = New(KindTimedOut, "wait timed out")
	ErrInterrupted  = New(KindInterrupted, "wait interrupted")
	ErrBadToken     = New(KindBadToken, "token does not resolve to a live lock")
	ErrNoSpace      = New(KindNoSpace, "no space left in table")
)

// Equals reports whether err is an *Error of the same kind as sentinel.
// Direct == comparison against the sentinels is equivalent for errors
// produced by this module; Equals additionally matches distinct *Error
// values carrying the same kind.
func Equals(sentinel *Error, err error) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	return e == sentinel || e.kind == sentinel.kind
}
