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

// Package genlock implements a shareable, recursive read/write lock.
//
// Ownership is tracked per Handle rather than per goroutine: a Handle is a
// caller-owned binding to at most one Lock, carrying its own recursion
// count. Locks are shared between otherwise unrelated callers by exporting
// them as reference-counted tokens (see the table subpackage) and attaching
// an imported lock to a fresh Handle.
//
// A lock can be unlocked, held exclusively by one write handle, or held
// shared by any number of read handles. The sole holder of a write lock may
// downgrade it to a read lock; the reverse upgrade is never permitted.
// Blocked acquirers are woken by broadcast and re-run admission under the
// lock's mutex, so no ordering among them is guaranteed.
package genlock

import (
	"fmt"

	"genlock.dev/genlock/pkg/lockerr"
	"genlock.dev/genlock/pkg/refs"
	"genlock.dev/genlock/pkg/sync"
)

// State is the state of a lock. A lock is either unlocked, held as an
// exclusive write lock, or held as a shared read lock.
type State int32

// Lock states. ReadLocked and WriteLocked double as the mode argument of
// Handle.Acquire, so that a compatible re-entry is exactly a request for
// the state the lock is already in.
const (
	Unlocked    State = 0
	WriteLocked State = 1
	ReadLocked  State = 2
)

// String implements fmt.Stringer.String.
func (s State) String() string {
	switch s {
	case Unlocked:
		return "unlocked"
	case WriteLocked:
		return "wrlock"
	case ReadLocked:
		return "rdlock"
	default:
		return fmt.Sprintf("invalid state: %d", int32(s))
	}
}

// AcquireFlags modify Handle.Acquire.
type AcquireFlags uint32

// Noblock requests that an acquisition that cannot be satisfied immediately
// fail with lockerr.ErrWouldBlock instead of blocking.
const Noblock AcquireFlags = 1 << 0

// waiter represents a caller blocked until the lock state changes.
type waiter struct {
	// ch is buffered so that a broadcast never blocks on a waiter that is
	// concurrently timing out.
	ch chan struct{}
}

// Lock is a shareable read/write lock.
//
// A Lock is reference counted: the attachment of a Handle and every live
// export token each hold one reference. It is destroyed when the last
// reference is dropped.
type Lock struct {
	refs.AtomicRefCount

	// mu protects the fields below, and the recursion count of any handle
	// while it interacts with this lock.
	mu sync.Mutex

	// state is the current state of the lock.
	state State

	// holders are the handles currently counted as owning the lock, in
	// admission order, without duplicates. Empty iff state is Unlocked;
	// exactly one entry while state is WriteLocked.
	holders []*Handle

	// waiters are the callers pending on the lock.
	waiters []*waiter
}

// State returns the current state of the lock. The returned value is
// immediately stale unless the caller holds the lock through a handle.
func (l *Lock) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// DecRef drops a reference on the lock, destroying it when the last
// reference is dropped.
func (l *Lock) DecRef() {
	l.DecRefWithDestructor(l.destroy)
}

func (l *Lock) destroy() {
	l.mu.Lock()
	defer l.mu.Unlock()
	// A blocked acquirer reaches the lock through an attachment, which
	// holds a reference, so the queue must be empty by now.
	if len(l.holders) != 0 || len(l.waiters) != 0 {
		panic("lock destroyed while in use")
	}
}

// holdsLocked reports whether h is counted as an owner of the lock.
//
// Preconditions: l.mu must be held.
func (l *Lock) holdsLocked(h *Handle) bool {
	for _, holder := range l.holders {
		if holder == h {
			return true
		}
	}
	return false
}

// admitLocked adds h to the owners of the lock.
//
// Preconditions: l.mu must be held. h must not already be an owner.
func (l *Lock) admitLocked(h *Handle, mode State) {
	l.holders = append(l.holders, h)
	l.state = mode
	h.recursion = 1
}

// removeHolderLocked removes h from the owners of the lock, preserving the
// order of the remaining owners.
//
// Preconditions: l.mu must be held. h must be an owner.
func (l *Lock) removeHolderLocked(h *Handle) {
	for i, holder := range l.holders {
		if holder == h {
			l.holders = append(l.holders[:i], l.holders[i+1:]...)
			return
		}
	}
	panic("removing a handle that holds no lock")
}

// signalAllLocked wakes every pending waiter. Wakeups are an unconditional
// broadcast; admission is decided by whichever woken waiter re-acquires
// l.mu first.
//
// Preconditions: l.mu must be held.
func (l *Lock) signalAllLocked() {
	for _, w := range l.waiters {
		w.ch <- struct{}{}
	}
	l.waiters = nil
}

// signalIfFreeLocked transitions the lock to Unlocked and wakes all waiters
// if the last owner was just removed.
//
// Preconditions: l.mu must be held.
func (l *Lock) signalIfFreeLocked() {
	if len(l.holders) == 0 {
		l.state = Unlocked
		l.signalAllLocked()
	}
}

// tryAcquire runs the admission logic once. On an immediate decision it
// returns a nil channel and the result. Otherwise the caller must wait:
// a waiter is registered and its channel returned; the caller blocks on it
// and retries, or removes the waiter with abortWait on timeout.
func (l *Lock) tryAcquire(h *Handle, mode State, noblock bool) (chan struct{}, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Fast path - the lock is unlocked.
	if l.state == Unlocked {
		l.admitLocked(h, mode)
		return nil, nil
	}

	if l.holdsLocked(h) {
		// Re-entry in the held mode just bumps the recursion count.
		if l.state == mode {
			h.recursion++
			return nil, nil
		}

		// The owner of a write lock may switch to a read lock. The
		// transition is atomic; pending waiters are woken in case
		// they want a read lock too.
		if mode == ReadLocked && h.recursion == 1 {
			l.state = ReadLocked
			l.signalAllLocked()
			return nil, nil
		}

		// Turning a read lock into a write lock is not allowed.
		return nil, lockerr.ErrInvalidState
	}

	// A read request against a read-held lock shares the lock.
	if mode == ReadLocked && l.state == ReadLocked {
		l.admitLocked(h, mode)
		return nil, nil
	}

	if noblock {
		return nil, lockerr.ErrWouldBlock
	}

	w := &waiter{ch: make(chan struct{}, 1)}
	l.waiters = append(l.waiters, w)
	return w.ch, nil
}

// tryWait returns nil if the lock is unlocked right now. Otherwise it
// registers a waiter and returns its channel, exactly as tryAcquire does,
// but the waiter only observes the lock and never acquires it.
func (l *Lock) tryWait() chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == Unlocked {
		return nil
	}
	w := &waiter{ch: make(chan struct{}, 1)}
	l.waiters = append(l.waiters, w)
	return w.ch
}

// abortWait removes the waiter registered with ch. The waiter may not be
// found in case the abort raced with a broadcast; the stale wakeup in the
// buffered channel is then simply dropped.
func (l *Lock) abortWait(ch chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, w := range l.waiters {
		if w.ch == ch {
			l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
			return
		}
	}
}

// unlock releases one level of h's ownership of the lock.
func (l *Lock) unlock(h *Handle) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == Unlocked {
		return lockerr.ErrInvalidState
	}
	if !l.holdsLocked(h) {
		return lockerr.ErrInvalidState
	}

	if h.recursion--; h.recursion == 0 {
		l.removeHolderLocked(h)
		l.signalIfFreeLocked()
	}
	return nil
}

// forceRelease removes h's ownership of the lock entirely, regardless of
// its recursion count. No-op if h holds no ownership.
func (l *Lock) forceRelease(h *Handle) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.holdsLocked(h) {
		l.removeHolderLocked(h)
		h.recursion = 0
		l.signalIfFreeLocked()
	}
}
