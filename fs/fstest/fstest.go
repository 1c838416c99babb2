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

// Package fstest provides an in-memory filesystem and virtual device
// for tests of code that consumes the VFS. Directory iteration order
// is deliberately unspecified (Go map order) so ordering bugs in
// callers surface.
package fstest

import (
	"strings"

	"github.com/aejsmith/kboot/device"
	"github.com/aejsmith/kboot/fs"
)

// Device is a virtual device carrying an in-memory file tree.
type Device struct {
	name string
	root *node

	// UUID and Label are reported on the resulting mount.
	UUID  string
	Label string
	// CaseInsensitive selects case-insensitive path matching.
	CaseInsensitive bool
}

type node struct {
	name     string
	isDir    bool
	data     []byte
	children map[string]*node
}

// NewDevice builds a virtual device from a path→content map. Parent
// directories are created implicitly; paths use '/' separators.
func NewDevice(name string, files map[string]string) *Device {
	root := &node{isDir: true, children: make(map[string]*node)}
	for path, content := range files {
		dir := root
		comps := strings.Split(strings.Trim(path, "/"), "/")
		for i, comp := range comps {
			if i == len(comps)-1 {
				dir.children[comp] = &node{name: comp, data: []byte(content)}
				break
			}
			next, ok := dir.children[comp]
			if !ok {
				next = &node{name: comp, isDir: true, children: make(map[string]*node)}
				dir.children[comp] = next
			}
			dir = next
		}
	}
	return &Device{name: name, root: root}
}

// AddDir creates an (empty) directory at the given path.
func (d *Device) AddDir(path string) {
	dir := d.root
	for _, comp := range strings.Split(strings.Trim(path, "/"), "/") {
		next, ok := dir.children[comp]
		if !ok {
			next = &node{name: comp, isDir: true, children: make(map[string]*node)}
			dir.children[comp] = next
		}
		dir = next
	}
}

func (d *Device) Name() string      { return d.name }
func (d *Device) Type() device.Type { return device.TypeVirtual }

func (d *Device) Read(buf []byte, offset uint64) error {
	return device.ErrNoRandomAccess
}

func (d *Device) Identify(kind device.IdentifyKind) string {
	return "virtual test device"
}

// memFS implements fs.Filesystem over fstest devices only, so
// registering it cannot affect probes of real devices.
type memFS struct{}

func init() {
	fs.Register(&memFS{})
}

func (*memFS) Name() string { return "fstest" }

func (*memFS) Probe(dev device.Device) (*fs.Mount, error) {
	d, ok := dev.(*Device)
	if !ok {
		return nil, fs.ErrUnknownFs
	}
	m := &fs.Mount{
		UUID:            d.UUID,
		Label:           d.Label,
		CaseInsensitive: d.CaseInsensitive,
	}
	m.Root = fs.NewHandle(m, fs.TypeDir, 0, d.root)
	return m, nil
}

func (*memFS) Read(h *fs.Handle, buf []byte, offset uint64) (int, error) {
	n := h.Private.(*node)
	if offset >= uint64(len(n.data)) {
		return 0, fs.ErrEndOfFile
	}
	return copy(buf, n.data[offset:]), nil
}

func (*memFS) OpenEntry(e *fs.Entry) (*fs.Handle, error) {
	n := e.Private.(*node)
	typ := fs.TypeRegular
	if n.isDir {
		typ = fs.TypeDir
	}
	return fs.NewHandle(e.Owner.Mount, typ, uint64(len(n.data)), n), nil
}

func (*memFS) Iterate(h *fs.Handle, cb func(e *fs.Entry) bool) error {
	n := h.Private.(*node)
	if !n.isDir {
		return fs.ErrNotDir
	}
	for _, child := range n.children {
		if !cb(&fs.Entry{Owner: h, Name: child.name, Private: child}) {
			break
		}
	}
	return nil
}
