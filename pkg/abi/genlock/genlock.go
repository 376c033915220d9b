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

// Package genlock contains the request interface of the genlock device, as
// seen by its clients. The numeric values match the original driver's ABI.
package genlock

// Lock operations, the Op field of LockRequest.
const (
	OpUnlock uint32 = 0
	OpWrlock uint32 = 1
	OpRdlock uint32 = 2
)

// Flags for LockRequest.
const (
	// FlagNoblock requests that an acquisition that cannot be satisfied
	// immediately fail instead of blocking.
	FlagNoblock uint32 = 1 << 0
)

// Commands accepted by a device session, corresponding to the driver's
// ioctl numbers.
const (
	CmdNew uint32 = iota
	CmdExport
	CmdAttach
	CmdLock
	CmdRelease
	CmdWait
)

// LockRequest is the argument block carried by every command.
type LockRequest struct {
	// Fd carries the export token: out parameter of CmdExport, in
	// parameter of CmdAttach. Unused by other commands.
	Fd int32

	// Op is the lock operation for CmdLock.
	Op uint32

	// Flags modify the operation.
	Flags uint32

	// TimeoutMs bounds CmdLock and CmdWait. Zero means do not block.
	TimeoutMs uint32
}
