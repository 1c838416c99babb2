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
	"strings"

	"golang.org/x/xerrors"

	"github.com/aejsmith/kboot/device"
)

// Resolver resolves loader paths. Paths may carry a "(device)/..."
// prefix naming the device to start from; otherwise they resolve
// against a supplied directory handle (absolute paths against its
// mount root).
type Resolver struct {
	Devices DeviceLookup
	Mounts  *MountTable
}

// DeviceLookup is the piece of the device registry path resolution
// needs.
type DeviceLookup interface {
	Lookup(name string) (device.Device, error)
}

// Open resolves path starting from the given directory handle (which
// may be nil for device-prefixed paths) and requires the result to be
// of the given type (TypeAny to accept either). The returned handle
// is owned by the caller.
func (r *Resolver) Open(path string, from *Handle, typ HandleType) (*Handle, error) {
	if path == "" {
		return nil, ErrNotFound
	}

	var cur *Handle
	rest := path

	switch {
	case path[0] == '(':
		end := strings.IndexByte(path, ')')
		if end < 0 {
			return nil, xerrors.Errorf("%q: missing ')' after device name: %w", path, ErrNotFound)
		}
		name := path[1:end]
		rest = strings.TrimPrefix(path[end+1:], "/")
		dev, err := r.Devices.Lookup(name)
		if err != nil {
			return nil, err
		}
		m, err := r.Mounts.Probe(dev)
		if err != nil {
			return nil, err
		}
		cur = m.Root
	case path[0] == '/':
		if from == nil {
			return nil, xerrors.Errorf("%q: no current directory: %w", path, ErrNotFound)
		}
		cur = from.Mount.Root
		rest = path[1:]
	default:
		if from == nil {
			return nil, xerrors.Errorf("%q: no current directory: %w", path, ErrNotFound)
		}
		cur = from
	}

	// Filesystems without enumerable directories resolve the whole
	// remainder in one step.
	if po, ok := cur.Mount.FS.(PathOpener); ok {
		h, err := po.OpenPath(cur.Mount, rest)
		if err != nil {
			return nil, err
		}
		return requireType(h, path, typ)
	}

	cur.Retain()
	for rest != "" {
		var comp string
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			comp, rest = rest[:i], rest[i+1:]
		} else {
			comp, rest = rest, ""
		}
		if comp == "" {
			continue
		}
		next, err := lookupEntry(cur, comp)
		cur.Release()
		if err != nil {
			return nil, xerrors.Errorf("%q: %w", path, err)
		}
		cur = next
	}
	return requireType(cur, path, typ)
}

func requireType(h *Handle, path string, typ HandleType) (*Handle, error) {
	switch {
	case typ == TypeRegular && h.Type != TypeRegular:
		h.Release()
		return nil, xerrors.Errorf("%q: %w", path, ErrNotFile)
	case typ == TypeDir && h.Type != TypeDir:
		h.Release()
		return nil, xerrors.Errorf("%q: %w", path, ErrNotDir)
	}
	return h, nil
}

// lookupEntry finds one component in a directory.
func lookupEntry(dir *Handle, name string) (*Handle, error) {
	if !dir.IsDir() {
		return nil, ErrNotDir
	}
	match := func(a, b string) bool { return a == b }
	if dir.Mount.CaseInsensitive {
		match = strings.EqualFold
	}
	var found *Entry
	err := dir.Mount.FS.Iterate(dir, func(e *Entry) bool {
		if match(e.Name, name) {
			found = &Entry{Owner: e.Owner, Name: e.Name, Private: e.Private}
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return dir.Mount.FS.OpenEntry(found)
}

// ReadAll reads the entire content of a regular file handle.
func ReadAll(h *Handle) ([]byte, error) {
	if h.IsDir() {
		return nil, ErrNotFile
	}
	buf := make([]byte, h.Size)
	read := 0
	for read < len(buf) {
		n, err := h.Mount.FS.Read(h, buf[read:], uint64(read))
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, ErrEndOfFile
		}
		read += n
	}
	return buf, nil
}

// ReaderAt adapts a file handle to io.ReaderAt for consumers like
// debug/elf.
type ReaderAt struct {
	h *Handle
}

// OpenReaderAt returns an io.ReaderAt view of a regular file handle.
// The view borrows the handle; the caller keeps ownership.
func OpenReaderAt(h *Handle) *ReaderAt {
	return &ReaderAt{h: h}
}

func (r *ReaderAt) ReadAt(p []byte, off int64) (int, error) {
	n, err := r.h.Mount.FS.Read(r.h, p, uint64(off))
	if err != nil {
		return n, err
	}
	if n < len(p) {
		return n, ErrEndOfFile
	}
	return n, nil
}

// Size returns the underlying file size.
func (r *ReaderAt) Size() int64 { return int64(r.h.Size) }
