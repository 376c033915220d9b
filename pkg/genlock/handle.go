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

package genlock

import (
	"time"

	"genlock.dev/genlock/pkg/context"
	"genlock.dev/genlock/pkg/lockerr"
)

// A Handle is a caller-owned binding to at most one Lock. All lock
// operations are issued through a Handle; the recursion count of nested
// acquisitions lives here, not in the Lock.
//
// A Handle is owned by a single caller. Issuing operations on the same
// Handle from multiple goroutines concurrently is not supported; distinct
// Handles attached to the same Lock may be used concurrently.
type Handle struct {
	// lock is the attached lock, or nil. Mutated only by the owning
	// caller.
	lock *Lock

	// recursion is the number of nested acquisitions held by this handle.
	// Meaningful only while the handle is an owner of lock, and protected
	// by lock.mu, since the lock's operations mutate it on the owner's
	// behalf.
	recursion int
}

// NewHandle creates a handle attached to no lock.
func NewHandle() *Handle {
	return &Handle{}
}

// NewLock creates a new, unlocked lock and attaches the handle to it. The
// attachment owns the lock's initial reference; Release drops it.
//
// Fails with lockerr.ErrInvalidState if the handle is already attached.
func (h *Handle) NewLock() (*Lock, error) {
	if h.lock != nil {
		return nil, lockerr.ErrInvalidState
	}
	l := &Lock{state: Unlocked}
	h.lock = l
	return l, nil
}

// Attach binds the handle to an existing lock, transferring the caller's
// reference on l to the attachment. Attaching never affects the lock's
// ownership; it only enables subsequent Acquire calls.
//
// Fails with lockerr.ErrInvalidState if the handle is already attached, in
// which case the caller keeps its reference on l.
func (h *Handle) Attach(l *Lock) error {
	if h.lock != nil {
		return lockerr.ErrInvalidState
	}
	h.lock = l
	return nil
}

// AttachedLock returns the attached lock without taking a reference on it,
// or nil if the handle is not attached.
func (h *Handle) AttachedLock() *Lock {
	return h.lock
}

// Acquire acquires the attached lock in the given mode, which must be
// ReadLocked or WriteLocked.
//
// A handle that already owns the lock may re-enter it in the held mode, or,
// while it holds a write lock at recursion one, downgrade it to a read
// lock; requesting a write lock while holding a read lock fails with
// lockerr.ErrInvalidState.
//
// If the lock is held in an incompatible mode by other handles, Acquire
// fails with lockerr.ErrWouldBlock when flags contains Noblock or timeout
// is zero, and otherwise blocks until the lock is free or the timeout
// elapses. On timeout it fails with lockerr.ErrTimedOut, leaving all state
// unchanged; an interrupted wait fails with lockerr.ErrInterrupted.
func (h *Handle) Acquire(ctx context.Context, mode State, flags AcquireFlags, timeout time.Duration) error {
	l := h.lock
	if l == nil {
		return lockerr.ErrInvalidState
	}
	if mode != ReadLocked && mode != WriteLocked {
		return lockerr.ErrInvalidState
	}

	// Timeout zero is treated just like Noblock.
	noblock := flags&Noblock != 0 || timeout == 0

	// A blocking request from a non-blockable context must not proceed
	// even if it could be satisfied without waiting; the mere idea is too
	// dangerous to continue.
	if !noblock && !ctx.Blockable() {
		panic("genlock: blocking acquire in non-blockable context")
	}

	for {
		ch, err := l.tryAcquire(h, mode, noblock)
		if ch == nil {
			return err
		}

		// The wakeup is a broadcast, so admission must be re-run from
		// scratch; another woken waiter may have been admitted first.
		remaining, err := context.BlockWithTimeout(ctx, ch, timeout)
		if err != nil {
			l.abortWait(ch)
			return err
		}
		timeout = remaining
	}
}

// Unlock releases one level of the handle's ownership of the attached lock.
// Only the release that brings the recursion count to zero removes the
// handle from the lock's owners and can leave the lock unlocked.
//
// Fails with lockerr.ErrInvalidState if the handle is not attached, the
// lock is not held, or the handle is not among its owners.
func (h *Handle) Unlock() error {
	l := h.lock
	if l == nil {
		return lockerr.ErrInvalidState
	}
	return l.unlock(h)
}

// Wait blocks until the attached lock becomes free or the timeout elapses.
// It observes the lock but never acquires it. With a zero timeout it is a
// poll: success iff the lock is unlocked right now, lockerr.ErrWouldBlock
// otherwise.
func (h *Handle) Wait(ctx context.Context, timeout time.Duration) error {
	l := h.lock
	if l == nil {
		return lockerr.ErrInvalidState
	}

	if timeout == 0 {
		if l.State() != Unlocked {
			return lockerr.ErrWouldBlock
		}
		return nil
	}

	for {
		ch := l.tryWait()
		if ch == nil {
			return nil
		}
		remaining, err := context.BlockWithTimeout(ctx, ch, timeout)
		if err != nil {
			l.abortWait(ch)
			return err
		}
		timeout = remaining
	}
}

// Release drops the handle's ownership of the attached lock entirely, as if
// fully unlocked, then detaches and drops the attachment's reference. It
// must be called when the handle is discarded, so that an abandoned holder
// never leaves a lock permanently stuck. Safe to call on a handle that is
// not attached or holds no lock.
func (h *Handle) Release() {
	l := h.lock
	if l == nil {
		return
	}
	l.forceRelease(h)
	h.lock = nil
	l.DecRef()
}
