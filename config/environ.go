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

package config

import (
	"github.com/aejsmith/kboot/device"
	"github.com/aejsmith/kboot/fs"
)

// noInherit lists the entry names a child environment does not copy
// from its parent: per-entry presentation and menu control state.
var noInherit = map[string]bool{
	"default":        true,
	"gui":            true,
	"gui_background": true,
	"gui_icon":       true,
	"gui_selection":  true,
	"hidden":         true,
	"timeout":        true,
}

// reservedNames are maintained by the loader itself; user commands
// may not create or remove them.
var reservedNames = map[string]bool{
	"device":       true,
	"device_label": true,
	"device_uuid":  true,
}

// IsValidName reports whether name is a legal variable name.
func IsValidName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if !isNameChar(r) {
			return false
		}
	}
	return true
}

// IsReservedName reports whether name is reserved for the loader.
func IsReservedName(name string) bool {
	return reservedNames[name]
}

// LoaderOps is the function vector of an OS loader back-end. Loader
// commands stage state and attach one of these to the environment;
// the actual boot happens later, from the selected environment.
type LoaderOps interface {
	// LoaderName returns the back-end name, for diagnostics.
	LoaderName() string
	// Load performs the boot. It does not return on success.
	Load(in *Interp, env *Environ) error
}

// Environ is the mutable state bag configuration commands execute
// against.
type Environ struct {
	// Title is the menu display name for entry environments.
	Title string

	// MenuEntries are child environments composed via the entry
	// command, in order of appearance.
	MenuEntries []*Environ

	names  []string
	values map[string]*Value

	device    device.Device
	directory *fs.Handle

	loaderOps     LoaderOps
	loaderPrivate interface{}
}

// NewEnviron creates an environment. With a non-nil parent, entries
// are deep-copied except for the no-inherit set; the device and
// current directory are inherited by reference (the directory handle
// is retained).
func NewEnviron(parent *Environ) *Environ {
	e := &Environ{values: make(map[string]*Value)}
	if parent == nil {
		return e
	}
	for _, name := range parent.names {
		if noInherit[name] {
			continue
		}
		e.names = append(e.names, name)
		e.values[name] = parent.values[name].Copy()
	}
	e.device = parent.device
	if parent.directory != nil {
		e.directory = parent.directory.Retain()
	}
	return e
}

// Get returns the named entry, or nil.
func (e *Environ) Get(name string) *Value {
	return e.values[name]
}

// Set stores a (deep copy of a) value. It does not check reserved
// names; command implementations do that before calling.
func (e *Environ) Set(name string, v *Value) {
	if _, ok := e.values[name]; !ok {
		e.names = append(e.names, name)
	}
	e.values[name] = v.Copy()
}

// Unset removes an entry if present.
func (e *Environ) Unset(name string) {
	if _, ok := e.values[name]; !ok {
		return
	}
	delete(e.values, name)
	for i, n := range e.names {
		if n == name {
			e.names = append(e.names[:i], e.names[i+1:]...)
			break
		}
	}
}

// Names returns entry names in insertion order.
func (e *Environ) Names() []string {
	out := make([]string, len(e.names))
	copy(out, e.names)
	return out
}

// Device returns the environment's current device.
func (e *Environ) Device() device.Device { return e.device }

// Directory returns the environment's current directory handle, or
// nil. The environment keeps ownership.
func (e *Environ) Directory() *fs.Handle { return e.directory }

// SetDevice switches the environment's device and maintains the
// reserved entries describing it. A nil mount clears label/UUID.
func (e *Environ) SetDevice(dev device.Device, m *fs.Mount) {
	e.device = dev
	e.Set("device", StringValue(dev.Name()))
	e.Unset("device_label")
	e.Unset("device_uuid")
	if m != nil {
		if m.Label != "" {
			e.Set("device_label", StringValue(m.Label))
		}
		if m.UUID != "" {
			e.Set("device_uuid", StringValue(m.UUID))
		}
	}
}

// SetDirectory switches the current directory, retaining the new
// handle and releasing the old one. The caller keeps its own
// reference to dir.
func (e *Environ) SetDirectory(dir *fs.Handle) {
	if dir != nil {
		dir.Retain()
	}
	if e.directory != nil {
		e.directory.Release()
	}
	e.directory = dir
}

// SetLoader attaches an OS loader to the environment, freezing it: no
// further commands may execute against it.
func (e *Environ) SetLoader(ops LoaderOps, private interface{}) error {
	if e.loaderOps != nil {
		return ErrLoaderAlreadySet
	}
	e.loaderOps = ops
	e.loaderPrivate = private
	return nil
}

// HasLoader reports whether a loader has been set.
func (e *Environ) HasLoader() bool { return e.loaderOps != nil }

// Loader returns the attached loader ops and private state.
func (e *Environ) Loader() (LoaderOps, interface{}) {
	return e.loaderOps, e.loaderPrivate
}

// BoolSetting returns the named entry interpreted as a boolean,
// with ok reporting whether it was present and boolean-typed.
func (e *Environ) BoolSetting(name string) (value, ok bool) {
	v := e.Get(name)
	if v == nil || v.Type != TypeBoolean {
		return false, false
	}
	return v.Bool, true
}

// IntSetting returns the named entry interpreted as an integer.
func (e *Environ) IntSetting(name string) (value uint64, ok bool) {
	v := e.Get(name)
	if v == nil || v.Type != TypeInteger {
		return 0, false
	}
	return v.Int, true
}

// StringSetting returns the named entry interpreted as a string.
func (e *Environ) StringSetting(name string) (value string, ok bool) {
	v := e.Get(name)
	if v == nil || v.Type != TypeString {
		return "", false
	}
	return v.Str, true
}

// Close releases resources held by the environment tree: directory
// handles of this environment and all menu entries.
func (e *Environ) Close() {
	for _, sub := range e.MenuEntries {
		sub.Close()
	}
	e.MenuEntries = nil
	if e.directory != nil {
		e.directory.Release()
		e.directory = nil
	}
}
