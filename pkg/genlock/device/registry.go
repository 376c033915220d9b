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

package device

import (
	"genlock.dev/genlock/pkg/genlock/table"
	"genlock.dev/genlock/pkg/lockerr"
	"genlock.dev/genlock/pkg/log"
	"genlock.dev/genlock/pkg/sync"
)

// DefaultMinors is the registry size used by NewRegistry.
const DefaultMinors = 64

// Registry tracks registered devices and assigns their minor numbers. It is
// plumbing around the engine, not part of it: the engine never sees minors.
type Registry struct {
	// mu protects devices.
	mu sync.Mutex

	devices map[uint32]*Device

	// minors bounds the number of registered devices.
	minors uint32
}

// NewRegistry creates a registry with the default minor-number space.
func NewRegistry() *Registry {
	return NewRegistryWithMinors(DefaultMinors)
}

// NewRegistryWithMinors creates a registry with room for the given number of
// devices.
func NewRegistryWithMinors(minors uint32) *Registry {
	return &Registry{
		devices: make(map[uint32]*Device),
		minors:  minors,
	}
}

// Register creates a device with a fresh token table and assigns it the
// lowest free minor number.
//
// Fails with lockerr.ErrNoSpace when the minor-number space is exhausted.
func (r *Registry) Register(name string) (*Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for minor := uint32(0); minor < r.minors; minor++ {
		if _, ok := r.devices[minor]; !ok {
			d := &Device{
				name:  name,
				minor: minor,
				table: table.New(),
			}
			r.devices[minor] = d
			log.Infof("registered device %s as minor %d", name, minor)
			return d, nil
		}
	}
	return nil, lockerr.ErrNoSpace
}

// Get returns the device registered under minor, or nil.
func (r *Registry) Get(minor uint32) *Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.devices[minor]
}

// Deregister removes a device and drops every token its table still holds.
//
// Fails with lockerr.ErrBadToken if no device is registered under minor.
func (r *Registry) Deregister(minor uint32) error {
	r.mu.Lock()
	d, ok := r.devices[minor]
	if !ok {
		r.mu.Unlock()
		return lockerr.ErrBadToken
	}
	delete(r.devices, minor)
	r.mu.Unlock()

	d.table.Release()
	log.Infof("deregistered device %s, minor %d", d.name, minor)
	return nil
}
