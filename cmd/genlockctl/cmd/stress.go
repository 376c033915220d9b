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
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	abi "genlock.dev/genlock/pkg/abi/genlock"
	gctx "genlock.dev/genlock/pkg/context"
	"genlock.dev/genlock/pkg/genlock/device"
	"genlock.dev/genlock/pkg/lockerr"
)

// Stress implements subcommands.Command for the "stress" command.
type Stress struct {
	workers   int
	iters     int
	opsPerSec float64
	timeoutMs int
}

// Name implements subcommands.Command.Name.
func (*Stress) Name() string {
	return "stress"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Stress) Synopsis() string {
	return "hammer one shared lock from many workers"
}

// Usage implements subcommands.Command.Usage.
func (*Stress) Usage() string {
	return `stress [flags]

The stress command shares a single lock among N workers, each attached by
its own token, and mixes non-blocking writes, timed reads, recursive
acquires and write-to-read downgrades. Workers retry would-block acquires
with exponential backoff.

OPTIONS:
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Stress) SetFlags(f *flag.FlagSet) {
	f.IntVar(&s.workers, "workers", 8, "number of concurrent workers")
	f.IntVar(&s.iters, "iters", 500, "iterations per worker")
	f.Float64Var(&s.opsPerSec, "rate", 2000, "per-worker operation rate limit, in ops/sec")
	f.IntVar(&s.timeoutMs, "timeout", 1000, "timeout for blocking acquires, in milliseconds")
}

// Execute implements subcommands.Command.Execute.
func (s *Stress) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	dev, err := device.NewRegistry().Register("genlock")
	if err != nil {
		Fatalf("registering device: %v", err)
	}

	// The first session owns the lock; every worker attaches through its
	// own exported token.
	owner := dev.Open()
	defer owner.Close()
	if err := owner.Ioctl(gctx.Background(), abi.CmdNew, &abi.LockRequest{}); err != nil {
		Fatalf("creating lock: %v", err)
	}

	var wouldBlock, timedOut, ops int64
	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < s.workers; w++ {
		var req abi.LockRequest
		if err := owner.Ioctl(gctx.Background(), abi.CmdExport, &req); err != nil {
			Fatalf("exporting lock: %v", err)
		}
		tok := req.Fd
		g.Go(func() error {
			sess := dev.Open()
			defer sess.Close()
			lctx := gctx.Background()
			if err := sess.Ioctl(lctx, abi.CmdAttach, &abi.LockRequest{Fd: tok}); err != nil {
				return fmt.Errorf("attaching token %d: %w", tok, err)
			}

			limiter := rate.NewLimiter(rate.Limit(s.opsPerSec), 1)
			timeout := uint32(s.timeoutMs)
			for i := 0; i < s.iters; i++ {
				if err := limiter.Wait(ctx); err != nil {
					return err
				}
				var err error
				switch i % 4 {
				case 0:
					err = s.noblockWrite(sess, lctx, &wouldBlock)
				case 1:
					err = s.timedRead(sess, lctx, timeout, &timedOut)
				case 2:
					err = s.recursiveWrite(sess, lctx, timeout)
				case 3:
					err = s.downgrade(sess, lctx, timeout)
				}
				if err != nil {
					return err
				}
				atomic.AddInt64(&ops, 1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		Fatalf("stress failed: %v", err)
	}

	logrus.WithFields(logrus.Fields{
		"ops":         atomic.LoadInt64(&ops),
		"would_block": atomic.LoadInt64(&wouldBlock),
		"timed_out":   atomic.LoadInt64(&timedOut),
		"elapsed":     time.Since(start).Round(time.Millisecond),
	}).Info("stress complete")
	return subcommands.ExitSuccess
}

// noblockWrite takes the write lock without blocking, retrying contended
// attempts with exponential backoff.
func (s *Stress) noblockWrite(sess *device.Session, ctx gctx.Context, wouldBlock *int64) error {
	acquire := func() error {
		err := sess.Ioctl(ctx, abi.CmdLock, &abi.LockRequest{Op: abi.OpWrlock, Flags: abi.FlagNoblock})
		if lockerr.Equals(lockerr.ErrWouldBlock, err) {
			atomic.AddInt64(wouldBlock, 1)
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Microsecond
	b.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(acquire, b); err != nil {
		return fmt.Errorf("non-blocking write: %w", err)
	}
	return sess.Ioctl(ctx, abi.CmdLock, &abi.LockRequest{Op: abi.OpUnlock})
}

// timedRead takes the read lock with a deadline. Timeouts are counted, not
// fatal.
func (s *Stress) timedRead(sess *device.Session, ctx gctx.Context, timeout uint32, timedOut *int64) error {
	err := sess.Ioctl(ctx, abi.CmdLock, &abi.LockRequest{Op: abi.OpRdlock, TimeoutMs: timeout})
	if lockerr.Equals(lockerr.ErrTimedOut, err) {
		atomic.AddInt64(timedOut, 1)
		return nil
	}
	if err != nil {
		return fmt.Errorf("timed read: %w", err)
	}
	return sess.Ioctl(ctx, abi.CmdLock, &abi.LockRequest{Op: abi.OpUnlock})
}

// recursiveWrite acquires the write lock twice and unwinds it.
func (s *Stress) recursiveWrite(sess *device.Session, ctx gctx.Context, timeout uint32) error {
	err := sess.Ioctl(ctx, abi.CmdLock, &abi.LockRequest{Op: abi.OpWrlock, TimeoutMs: timeout})
	if lockerr.Equals(lockerr.ErrTimedOut, err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("recursive write: %w", err)
	}
	for _, req := range []abi.LockRequest{
		{Op: abi.OpWrlock, TimeoutMs: timeout},
		{Op: abi.OpUnlock},
		{Op: abi.OpUnlock},
	} {
		if err := sess.Ioctl(ctx, abi.CmdLock, &req); err != nil {
			return fmt.Errorf("recursive write: %w", err)
		}
	}
	return nil
}

// downgrade takes the write lock, downgrades it to a read lock and unlocks.
func (s *Stress) downgrade(sess *device.Session, ctx gctx.Context, timeout uint32) error {
	err := sess.Ioctl(ctx, abi.CmdLock, &abi.LockRequest{Op: abi.OpWrlock, TimeoutMs: timeout})
	if lockerr.Equals(lockerr.ErrTimedOut, err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("downgrade: %w", err)
	}
	for _, req := range []abi.LockRequest{
		{Op: abi.OpRdlock, Flags: abi.FlagNoblock},
		{Op: abi.OpUnlock},
	} {
		if err := sess.Ioctl(ctx, abi.CmdLock, &req); err != nil {
			return fmt.Errorf("downgrade: %w", err)
		}
	}
	return nil
}
