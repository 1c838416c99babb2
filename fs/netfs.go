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

package fs

import (
	"github.com/aejsmith/kboot/device"
)

// netFS is the pseudo-filesystem over network boot devices. It has no
// enumerable directories; whole paths are fetched from the boot
// server on open.
type netFS struct{}

func init() {
	Register(&netFS{})
}

func (*netFS) Name() string { return "net" }

func (*netFS) Probe(dev device.Device) (*Mount, error) {
	n, ok := dev.(*device.Net)
	if !ok {
		return nil, ErrUnknownFs
	}
	m := &Mount{}
	m.Root = NewHandle(m, TypeDir, 0, n)
	return m, nil
}

func (*netFS) OpenPath(m *Mount, path string) (*Handle, error) {
	n := m.Root.Private.(*device.Net)
	data, err := n.Fetch(path)
	if err != nil {
		return nil, err
	}
	return NewHandle(m, TypeRegular, uint64(len(data)), data), nil
}

func (*netFS) Read(h *Handle, buf []byte, offset uint64) (int, error) {
	data := h.Private.([]byte)
	if offset >= uint64(len(data)) {
		return 0, ErrEndOfFile
	}
	return copy(buf, data[offset:]), nil
}

func (*netFS) OpenEntry(e *Entry) (*Handle, error) {
	return nil, ErrNotDir
}

func (*netFS) Iterate(h *Handle, cb func(e *Entry) bool) error {
	return ErrNotDir
}
