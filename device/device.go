// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2024-2026 KBoot Authors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 3 as
 * published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

// Package device implements the loader's device layer: a registry of
// polymorphic devices, block devices backed by raw storage, and the
// partition table decoders that spawn child devices for partitions.
package device

import (
	"errors"
	"sort"
	"sync"

	"golang.org/x/xerrors"

	"github.com/aejsmith/kboot/logger"
)

// Type classifies a device.
type Type int

const (
	// TypeDisk is a local block device.
	TypeDisk Type = iota
	// TypeNet is a network boot device.
	TypeNet
	// TypeVirtual is a virtual device (e.g. a boot image).
	TypeVirtual
)

// IdentifyKind selects the identify output format.
type IdentifyKind int

const (
	// IdentShort is a one-line summary for device listings.
	IdentShort IdentifyKind = iota
	// IdentLong is the detailed multi-line form.
	IdentLong
)

var (
	// ErrNotFound is returned when a named device does not exist.
	ErrNotFound = errors.New("device not found")
	// ErrNoRandomAccess is returned for byte access to devices
	// without random-access storage (e.g. network devices).
	ErrNoRandomAccess = errors.New("device does not support random access")
)

// Device is the capability set every registered device implements.
type Device interface {
	// Name returns the registered device name.
	Name() string
	// Type returns the device classification.
	Type() Type
	// Read reads len(buf) bytes from the given byte offset.
	Read(buf []byte, offset uint64) error
	// Identify describes the device in the requested format.
	Identify(kind IdentifyKind) string
}

// Registry holds all devices probed during loader startup. Devices
// live for the duration of the loader; there is no deregistration.
type Registry struct {
	mu      sync.Mutex
	devices map[string]Device
	order   []string
}

// NewRegistry returns an empty device registry.
func NewRegistry() *Registry {
	return &Registry{devices: make(map[string]Device)}
}

// Register adds a device. Registering a duplicate name is an internal
// error: probe code derives names deterministically.
func (r *Registry) Register(d Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := d.Name()
	if _, ok := r.devices[name]; ok {
		logger.Panicf("device: duplicate registration of %q", name)
	}
	r.devices[name] = d
	r.order = append(r.order, name)
	logger.Debugf("device: registered %q (%s)", name, d.Identify(IdentShort))
}

// Lookup finds a device by name.
func (r *Registry) Lookup(name string) (Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[name]
	if !ok {
		return nil, xerrors.Errorf("device %q: %w", name, ErrNotFound)
	}
	return d, nil
}

// List returns all devices in registration order.
func (r *Registry) List() []Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Device, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.devices[name])
	}
	return out
}

// Names returns the sorted device names.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	sort.Strings(out)
	return out
}
