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

// Package context defines the execution context passed to blocking lock
// operations.
//
// A Context represents a thread of execution. It carries the logging target
// for that thread and the facility used to suspend it: a blocking operation
// sleeps by selecting on a channel of interest together with the channel
// returned by SleepStart, so that an external interrupt is distinguishable
// from the event being waited for.
//
// It is not safe to use the same Context from multiple concurrent
// goroutines; values extracted from it should be used instead.
package context

import (
	"genlock.dev/genlock/pkg/log"
)

// A ChannelSleeper is notified of sleeps so that waits can be cancelled.
type ChannelSleeper interface {
	// SleepStart is called before going to sleep. The returned channel is
	// readable when the sleep should be aborted; a nil channel never
	// becomes readable.
	SleepStart() <-chan struct{}

	// SleepFinish is called after the sleep ends. success indicates
	// whether the sleep ended because the awaited event fired, as opposed
	// to being aborted.
	SleepFinish(success bool)
}

// A Context represents a thread of execution.
type Context interface {
	log.Logger
	ChannelSleeper

	// Blockable reports whether this context may be suspended. Contexts
	// modeling non-preemptible execution return false; issuing a blocking
	// lock request on such a context is a fatal programming error.
	Blockable() bool

	// Value returns the value associated with this Context for key, or nil
	// if no value is associated with key.
	Value(key any) any
}

// NoopSleeper is a stateless no-op implementation of ChannelSleeper for
// anonymous embedding in types that do not support cancellation.
type NoopSleeper struct{}

// SleepStart implements ChannelSleeper.SleepStart.
func (NoopSleeper) SleepStart() <-chan struct{} { return nil }

// SleepFinish implements ChannelSleeper.SleepFinish.
func (NoopSleeper) SleepFinish(bool) {}

type logContext struct {
	log.Logger
	NoopSleeper
}

// Blockable implements Context.Blockable.
func (logContext) Blockable() bool { return true }

// Value implements Context.Value.
func (logContext) Value(key any) any { return nil }

// bgContext is the context returned by context.Background.
var bgContext = &logContext{Logger: log.Log()}

// Background returns an empty context using the default logger. Waits on a
// Background context cannot be interrupted, only timed out.
func Background() Context {
	return bgContext
}

type atomicContext struct {
	log.Logger
}

// SleepStart implements ChannelSleeper.SleepStart.
func (atomicContext) SleepStart() <-chan struct{} {
	panic("sleeping in atomic context")
}

// SleepFinish implements ChannelSleeper.SleepFinish.
func (atomicContext) SleepFinish(bool) {}

// Blockable implements Context.Blockable.
func (atomicContext) Blockable() bool { return false }

// Value implements Context.Value.
func (atomicContext) Value(key any) any { return nil }

// atomicCtx is the context returned by context.Atomic.
var atomicCtx = &atomicContext{Logger: log.Log()}

// Atomic returns a context modeling a non-preemptible execution context,
// such as an interrupt handler. Blocking lock requests issued on it panic.
func Atomic() Context {
	return atomicCtx
}
