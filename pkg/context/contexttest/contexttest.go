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

// Package contexttest builds contexts to be used in tests.
package contexttest

import (
	"testing"

	"genlock.dev/genlock/pkg/context"
	"genlock.dev/genlock/pkg/log"
)

// testLogger routes log output through the test, so that it is attributed to
// the test that produced it and suppressed for passing tests.
type testLogger struct {
	t testing.TB
}

// Debugf implements log.Logger.Debugf.
func (l testLogger) Debugf(format string, v ...any) { l.t.Logf("D: "+format, v...) }

// Infof implements log.Logger.Infof.
func (l testLogger) Infof(format string, v ...any) { l.t.Logf("I: "+format, v...) }

// Warningf implements log.Logger.Warningf.
func (l testLogger) Warningf(format string, v ...any) { l.t.Logf("W: "+format, v...) }

// IsLogging implements log.Logger.IsLogging.
func (l testLogger) IsLogging(level log.Level) bool { return true }

type testContext struct {
	log.Logger
	context.NoopSleeper
}

// Blockable implements context.Context.Blockable.
func (testContext) Blockable() bool { return true }

// Value implements context.Context.Value.
func (testContext) Value(key any) any { return nil }

// Context returns a Context that may be used in tests.
func Context(t testing.TB) context.Context {
	return &testContext{Logger: testLogger{t}}
}

// Interruptible returns a Context whose waits can be aborted from another
// goroutine via its Interrupt method.
func Interruptible(t testing.TB) *context.InterruptibleContext {
	return context.WithInterrupt(Context(t))
}
