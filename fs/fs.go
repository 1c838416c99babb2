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

// Package fs is the loader's read-only virtual filesystem: mounts
// over devices, retain-counted file handles, and path resolution.
// Filesystem implementations register themselves at init time, the
// way image format decoders do.
package fs

import (
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/xerrors"

	"github.com/aejsmith/kboot/device"
	"github.com/aejsmith/kboot/logger"
)

var (
	// ErrNotFound is returned when a path component does not exist.
	ErrNotFound = errors.New("no such file or directory")
	// ErrNotFile is returned when a regular file was required.
	ErrNotFile = errors.New("not a regular file")
	// ErrNotDir is returned when a directory was required.
	ErrNotDir = errors.New("not a directory")
	// ErrUnknownFs is returned by probes that do not recognize the
	// device's contents.
	ErrUnknownFs = errors.New("filesystem not recognized")
	// ErrEndOfFile is returned for reads past the end of a file.
	ErrEndOfFile = errors.New("read beyond end of file")
	// ErrCorrupt is returned when on-disk structures are malformed.
	ErrCorrupt = errors.New("corrupt filesystem")
)

// HandleType is the type of object a handle refers to.
type HandleType int

const (
	// TypeAny matches either handle type during path resolution.
	TypeAny HandleType = iota - 1
	// TypeRegular is a regular file.
	TypeRegular
	// TypeDir is a directory.
	TypeDir
)

// Handle is a retain-counted reference to a file or directory on a
// mount.
type Handle struct {
	Mount *Mount
	Type  HandleType
	Size  uint64

	// Private is for the owning filesystem implementation.
	Private interface{}

	refs int32
}

// NewHandle creates a handle with a single reference, owned by the
// caller.
func NewHandle(m *Mount, typ HandleType, size uint64, private interface{}) *Handle {
	return &Handle{Mount: m, Type: typ, Size: size, Private: private, refs: 1}
}

// Retain takes an additional reference and returns the handle.
func (h *Handle) Retain() *Handle {
	atomic.AddInt32(&h.refs, 1)
	return h
}

// Release drops a reference. The handle must not be used after the
// last reference is dropped.
func (h *Handle) Release() {
	if atomic.AddInt32(&h.refs, -1) < 0 {
		logger.Panicf("fs: handle released more times than retained")
	}
}

// IsDir reports whether the handle refers to a directory.
func (h *Handle) IsDir() bool { return h.Type == TypeDir }

// Entry is one directory entry yielded during iteration.
type Entry struct {
	// Owner is the directory handle being iterated.
	Owner *Handle
	// Name is the canonicalized entry name.
	Name string
	// Private is for the owning filesystem implementation.
	Private interface{}
}

// Filesystem is the capability set a filesystem reader provides.
type Filesystem interface {
	// Name returns the filesystem type name.
	Name() string
	// Probe attempts to mount the device, returning ErrUnknownFs if
	// the device does not hold this filesystem.
	Probe(dev device.Device) (*Mount, error)
	// Read reads up to len(buf) bytes from offset in a regular file,
	// returning the number of bytes read.
	Read(h *Handle, buf []byte, offset uint64) (int, error)
	// OpenEntry opens a directory entry yielded by Iterate.
	OpenEntry(e *Entry) (*Handle, error)
	// Iterate calls cb for each entry of a directory until cb
	// returns false.
	Iterate(h *Handle, cb func(e *Entry) bool) error
}

// PathOpener is implemented by filesystems without enumerable
// directories (network fetch); Open uses it to resolve a whole path
// in one step from the mount root.
type PathOpener interface {
	OpenPath(m *Mount, path string) (*Handle, error)
}

// Mount binds a filesystem instance to a device.
type Mount struct {
	Device device.Device
	FS     Filesystem
	Root   *Handle

	UUID  string
	Label string
	// CaseInsensitive selects case-insensitive name matching during
	// path resolution.
	CaseInsensitive bool
}

var (
	fsMu          sync.Mutex
	registeredFSs []Filesystem
)

// Register adds a filesystem implementation to the probe list.
// Typically called from an implementation package's init.
func Register(f Filesystem) {
	fsMu.Lock()
	defer fsMu.Unlock()
	registeredFSs = append(registeredFSs, f)
}

func registered() []Filesystem {
	fsMu.Lock()
	defer fsMu.Unlock()
	out := make([]Filesystem, len(registeredFSs))
	copy(out, registeredFSs)
	return out
}

// MountTable tracks which devices have been successfully mounted.
type MountTable struct {
	mu     sync.Mutex
	mounts map[string]*Mount
}

// NewMountTable returns an empty mount table.
func NewMountTable() *MountTable {
	return &MountTable{mounts: make(map[string]*Mount)}
}

// Probe tries each registered filesystem on the device and records
// the first successful mount. Returns ErrUnknownFs if none matched.
func (t *MountTable) Probe(dev device.Device) (*Mount, error) {
	t.mu.Lock()
	if m, ok := t.mounts[dev.Name()]; ok {
		t.mu.Unlock()
		return m, nil
	}
	t.mu.Unlock()

	for _, f := range registered() {
		m, err := f.Probe(dev)
		if errors.Is(err, ErrUnknownFs) {
			continue
		}
		if err != nil {
			return nil, xerrors.Errorf("mounting %q as %s: %w", dev.Name(), f.Name(), err)
		}
		m.Device = dev
		m.FS = f
		t.mu.Lock()
		t.mounts[dev.Name()] = m
		t.mu.Unlock()
		logger.Debugf("fs: mounted %q as %s (uuid %q label %q)",
			dev.Name(), f.Name(), m.UUID, m.Label)
		return m, nil
	}
	return nil, xerrors.Errorf("device %q: %w", dev.Name(), ErrUnknownFs)
}

// MountFor returns the mount on the device, if any.
func (t *MountTable) MountFor(dev device.Device) *Mount {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mounts[dev.Name()]
}

// Mounts returns all current mounts, in no particular order.
func (t *MountTable) Mounts() []*Mount {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Mount, 0, len(t.mounts))
	for _, m := range t.mounts {
		out = append(out, m)
	}
	return out
}

// ByUUID finds a mount by filesystem UUID.
func (t *MountTable) ByUUID(uuid string) *Mount {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range t.mounts {
		if m.UUID == uuid {
			return m
		}
	}
	return nil
}

// ByLabel finds a mount by filesystem label.
func (t *MountTable) ByLabel(label string) *Mount {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range t.mounts {
		if m.Label == label {
			return m
		}
	}
	return nil
}
