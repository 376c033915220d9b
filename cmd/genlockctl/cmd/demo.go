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

package cmd

import (
	"context"
	"flag"
	"time"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	abi "genlock.dev/genlock/pkg/abi/genlock"
	gctx "genlock.dev/genlock/pkg/context"
	"genlock.dev/genlock/pkg/genlock/device"
	"genlock.dev/genlock/pkg/lockerr"
)

// Demo implements subcommands.Command for the "demo" command.
type Demo struct {
	// holdMs is how long the producer holds the write lock.
	holdMs int
}

// Name implements subcommands.Command.Name.
func (*Demo) Name() string {
	return "demo"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Demo) Synopsis() string {
	return "walk two sessions through sharing a lock by token"
}

// Usage implements subcommands.Command.Usage.
func (*Demo) Usage() string {
	return `demo [flags]

The demo command plays a producer/consumer hand-off: session A creates a
lock, exports it and takes the write lock; session B attaches by token,
fails a non-blocking read, then blocks until A unlocks.

OPTIONS:
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (d *Demo) SetFlags(f *flag.FlagSet) {
	f.IntVar(&d.holdMs, "hold", 50, "how long the producer holds the write lock, in milliseconds")
}

// Execute implements subcommands.Command.Execute.
func (d *Demo) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	dev, err := device.NewRegistry().Register("genlock")
	if err != nil {
		Fatalf("registering device: %v", err)
	}
	a := dev.Open()
	b := dev.Open()
	defer a.Close()
	defer b.Close()
	ctx := gctx.Background()

	// A creates a lock and exports it as a token.
	if err := a.Ioctl(ctx, abi.CmdNew, &abi.LockRequest{}); err != nil {
		Fatalf("A: creating lock: %v", err)
	}
	var req abi.LockRequest
	if err := a.Ioctl(ctx, abi.CmdExport, &req); err != nil {
		Fatalf("A: exporting lock: %v", err)
	}
	logrus.WithField("token", req.Fd).Info("A exported its lock")

	// B attaches to the same lock by token.
	if err := b.Ioctl(ctx, abi.CmdAttach, &abi.LockRequest{Fd: req.Fd}); err != nil {
		Fatalf("B: attaching by token: %v", err)
	}
	logrus.WithField("token", req.Fd).Info("B attached")

	// A takes the write lock; B's non-blocking read must fail.
	if err := a.Ioctl(ctx, abi.CmdLock, &abi.LockRequest{Op: abi.OpWrlock, Flags: abi.FlagNoblock}); err != nil {
		Fatalf("A: write lock: %v", err)
	}
	logrus.Info("A holds the write lock")
	err = b.Ioctl(ctx, abi.CmdLock, &abi.LockRequest{Op: abi.OpRdlock, Flags: abi.FlagNoblock})
	if !lockerr.Equals(lockerr.ErrWouldBlock, err) {
		Fatalf("B: non-blocking read got %v, expected %v", err, lockerr.ErrWouldBlock)
	}
	logrus.Info("B's non-blocking read failed as expected")

	// B blocks on the read lock while A finishes writing.
	done := make(chan error, 1)
	go func() {
		done <- b.Ioctl(gctx.Background(), abi.CmdLock, &abi.LockRequest{Op: abi.OpRdlock, TimeoutMs: 10000})
	}()
	time.Sleep(time.Duration(d.holdMs) * time.Millisecond)
	if err := a.Ioctl(ctx, abi.CmdLock, &abi.LockRequest{Op: abi.OpUnlock}); err != nil {
		Fatalf("A: unlock: %v", err)
	}
	logrus.Info("A unlocked")
	if err := <-done; err != nil {
		Fatalf("B: blocking read: %v", err)
	}
	logrus.Info("B acquired the read lock")

	if err := b.Ioctl(ctx, abi.CmdLock, &abi.LockRequest{Op: abi.OpUnlock}); err != nil {
		Fatalf("B: unlock: %v", err)
	}
	logrus.Info("done")
	return subcommands.ExitSuccess
}
