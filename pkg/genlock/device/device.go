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

// Package device exposes the lock engine through a command interface shaped
// like the original driver's ioctl surface.
//
// A Device owns one token table. Clients open sessions against it; each
// session owns a single handle, and every command operates on that handle.
// Closing a session force-releases the handle, so an exiting client never
// leaves a lock stuck.
package device

import (
	"time"

	abi "genlock.dev/genlock/pkg/abi/genlock"
	"genlock.dev/genlock/pkg/context"
	"genlock.dev/genlock/pkg/genlock"
	"genlock.dev/genlock/pkg/genlock/table"
	"genlock.dev/genlock/pkg/lockerr"
	"genlock.dev/genlock/pkg/log"
)

// A Device hands out sessions sharing one token namespace.
type Device struct {
	name  string
	minor uint32
	table *table.Table
}

// Name returns the device name.
func (d *Device) Name() string { return d.name }

// Minor returns the device's minor number within its registry.
func (d *Device) Minor() uint32 { return d.minor }

// Table returns the device's token table.
func (d *Device) Table() *table.Table { return d.table }

// Open creates a new session with a fresh, unattached handle.
func (d *Device) Open() *Session {
	return &Session{
		dev:    d,
		handle: genlock.NewHandle(),
	}
}

// A Session is one client's connection to a Device. A Session is owned by a
// single client and must not be used concurrently.
type Session struct {
	dev    *Device
	handle *genlock.Handle
}

// Handle returns the session's handle.
func (s *Session) Handle() *genlock.Handle { return s.handle }

// Close force-releases the session's handle.
func (s *Session) Close() {
	s.handle.Release()
}

// Ioctl dispatches one command. req carries the command's arguments and, for
// abi.CmdExport, receives the minted token in req.Fd.
func (s *Session) Ioctl(ctx context.Context, cmd uint32, req *abi.LockRequest) error {
	switch cmd {
	case abi.CmdNew:
		_, err := s.handle.NewLock()
		return err

	case abi.CmdExport:
		l := s.handle.AttachedLock()
		if l == nil {
			return lockerr.ErrInvalidState
		}
		tok, err := s.dev.table.Export(l)
		if err != nil {
			return err
		}
		log.Debugf("%s: exported lock as token %d", s.dev.name, tok)
		req.Fd = int32(tok)
		return nil

	case abi.CmdAttach:
		l, err := s.dev.table.Import(table.Token(req.Fd))
		if err != nil {
			return err
		}
		if err := s.handle.Attach(l); err != nil {
			l.DecRef()
			return err
		}
		return nil

	case abi.CmdLock:
		return s.lock(ctx, req)

	case abi.CmdWait:
		return s.handle.Wait(ctx, time.Duration(req.TimeoutMs)*time.Millisecond)

	case abi.CmdRelease:
		s.handle.Release()
		return nil

	default:
		return lockerr.ErrInvalidState
	}
}

func (s *Session) lock(ctx context.Context, req *abi.LockRequest) error {
	var mode genlock.State
	switch req.Op {
	case abi.OpUnlock:
		return s.handle.Unlock()
	case abi.OpRdlock:
		mode = genlock.ReadLocked
	case abi.OpWrlock:
		mode = genlock.WriteLocked
	default:
		return lockerr.ErrInvalidState
	}

	var flags genlock.AcquireFlags
	if req.Flags&abi.FlagNoblock != 0 {
		flags |= genlock.Noblock
	}
	return s.handle.Acquire(ctx, mode, flags, time.Duration(req.TimeoutMs)*time.Millisecond)
}
