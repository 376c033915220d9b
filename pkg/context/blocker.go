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

package context

import (
	"time"

	"genlock.dev/genlock/pkg/lockerr"
)

// BlockWithTimeout blocks until receiving from ch succeeds, the timeout
// elapses, or ctx is interrupted.
//
// It returns the remaining timeout, which is never negative and is only
// meaningful when the returned error is nil or lockerr.ErrInterrupted. The
// error is nil if ch fired, lockerr.ErrTimedOut if the timeout elapsed, and
// lockerr.ErrInterrupted if the sleep was aborted.
func BlockWithTimeout(ctx Context, ch <-chan struct{}, timeout time.Duration) (time.Duration, error) {
	start := time.Now()
	t := time.NewTimer(timeout)
	defer t.Stop()

	cancel := ctx.SleepStart()
	select {
	case <-ch:
		ctx.SleepFinish(true)
		return remaining(start, timeout), nil
	case <-t.C:
		ctx.SleepFinish(false)
		return 0, lockerr.ErrTimedOut
	case <-cancel:
		ctx.SleepFinish(false)
		return remaining(start, timeout), lockerr.ErrInterrupted
	}
}

func remaining(start time.Time, timeout time.Duration) time.Duration {
	if left := timeout - time.Since(start); left > 0 {
		return left
	}
	return 0
}

// InterruptibleContext is a Context whose sleeps can be aborted by calling
// Interrupt. An interrupt posted while the context is not sleeping aborts
// the next sleep, matching signal delivery semantics.
type InterruptibleContext struct {
	Context

	// intr is buffered so that Interrupt never blocks and a pending
	// interrupt persists until consumed by a sleep.
	intr chan struct{}
}

// WithInterrupt returns an InterruptibleContext wrapping parent.
func WithInterrupt(parent Context) *InterruptibleContext {
	return &InterruptibleContext{
		Context: parent,
		intr:    make(chan struct{}, 1),
	}
}

// SleepStart implements ChannelSleeper.SleepStart.
func (c *InterruptibleContext) SleepStart() <-chan struct{} {
	return c.intr
}

// SleepFinish implements ChannelSleeper.SleepFinish.
func (c *InterruptibleContext) SleepFinish(bool) {}

// Interrupt aborts the current or next sleep on this context.
func (c *InterruptibleContext) Interrupt() {
	select {
	case c.intr <- struct{}{}:
	default:
	}
}
