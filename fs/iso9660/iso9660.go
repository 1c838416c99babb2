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

// Package iso9660 reads ISO 9660 (ECMA-119) volumes, including the
// Joliet supplementary descriptor for Unicode names.
package iso9660

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/xerrors"

	"github.com/aejsmith/kboot/device"
	"github.com/aejsmith/kboot/fs"
	"github.com/aejsmith/kboot/logger"
)

const (
	// BlockSize is the ISO 9660 logical block size.
	BlockSize = 2048

	vdStart = 16
	vdLimit = 128

	vdTypePrimary       = 1
	vdTypeSupplementary = 2
	vdTypeTerminator    = 255

	dirFlagHidden = 1 << 0
	dirFlagDir    = 1 << 1
)

var stdIdentifier = []byte("CD001")

type iso9660 struct{}

func init() {
	fs.Register(&iso9660{})
}

func (*iso9660) Name() string { return "iso9660" }

// mountData is the per-mount private state.
type mountData struct {
	dev device.Device
	// joliet is the Joliet level in use, 0 for plain ISO 9660.
	joliet int
}

// record describes one file or directory extent.
type record struct {
	extent uint32
	size   uint32
	isDir  bool
}

// dirRecord is the fixed prefix of an on-disk directory record.
type dirRecord struct {
	Length        uint8
	ExtAttrLength uint8
	ExtentLE      uint32
	ExtentBE      uint32
	SizeLE        uint32
	SizeBE        uint32
	RecordingTime [7]uint8
	Flags         uint8
	FileUnitSize  uint8
	InterleaveGap uint8
	VolSeqLE      uint16
	VolSeqBE      uint16
	NameLength    uint8
}

const dirRecordSize = 33

// Probe scans volume descriptors from LBA 16 looking for a primary
// descriptor, and a Joliet supplementary one to prefer for naming.
func (f *iso9660) Probe(dev device.Device) (*fs.Mount, error) {
	var (
		primary []byte
		supp    []byte
		joliet  int
	)

	buf := make([]byte, BlockSize)
	for lba := uint64(vdStart); lba < vdStart+vdLimit; lba++ {
		if err := dev.Read(buf, lba*BlockSize); err != nil {
			// Media smaller than the descriptor area cannot be
			// ISO 9660.
			return nil, fs.ErrUnknownFs
		}
		if !bytes.Equal(buf[1:6], stdIdentifier) {
			return nil, fs.ErrUnknownFs
		}
		if buf[0] == vdTypeTerminator {
			break
		}
		switch buf[0] {
		case vdTypePrimary:
			primary = append([]byte(nil), buf...)
		case vdTypeSupplementary:
			if level := jolietLevel(buf[88:91]); level > 0 {
				supp = append([]byte(nil), buf...)
				joliet = level
			}
		}
	}
	if primary == nil {
		return nil, fs.ErrUnknownFs
	}

	vd := primary
	if supp != nil {
		logger.Debugf("iso9660: %q has Joliet level %d", dev.Name(), joliet)
		vd = supp
	} else {
		joliet = 0
	}

	root, err := parseDirRecord(vd[156:190])
	if err != nil {
		return nil, xerrors.Errorf("iso9660: %q: bad root record: %w", dev.Name(), err)
	}

	m := &fs.Mount{
		UUID:  volumeUUID(primary),
		Label: strings.TrimRight(string(primary[40:72]), " \x00"),
		// Plain ISO 9660 name matching ignores case.
		CaseInsensitive: joliet == 0,
	}
	md := &mountData{dev: dev, joliet: joliet}
	m.Root = newHandle(m, md, root)
	return m, nil
}

func jolietLevel(esc []byte) int {
	if esc[0] != 0x25 || esc[1] != 0x2F {
		return 0
	}
	switch esc[2] {
	case 0x40:
		return 1
	case 0x43:
		return 2
	case 0x45:
		return 3
	}
	return 0
}

func newHandle(m *fs.Mount, md *mountData, r record) *fs.Handle {
	typ := fs.TypeRegular
	if r.isDir {
		typ = fs.TypeDir
	}
	return fs.NewHandle(m, typ, uint64(r.size), &handleData{md: md, rec: r})
}

type handleData struct {
	md  *mountData
	rec record
}

// parseDirRecord decodes the fixed part of a directory record.
func parseDirRecord(raw []byte) (record, error) {
	var d dirRecord
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &d); err != nil {
		return record{}, err
	}
	if d.Length == 0 || int(d.Length) < dirRecordSize+int(d.NameLength) {
		return record{}, fs.ErrCorrupt
	}
	return record{
		extent: d.ExtentLE + uint32(d.ExtAttrLength),
		size:   d.SizeLE,
		isDir:  d.Flags&dirFlagDir != 0,
	}, nil
}

// volumeUUID synthesizes the filesystem UUID from the volume
// modification timestamp, falling back to the creation timestamp when
// the former is unset. A timestamp is unset when all its digits are
// ASCII '0' and the offset is zero.
func volumeUUID(pvd []byte) string {
	ts := pvd[830:847] // modification
	if timestampUnset(ts) {
		ts = pvd[813:830] // creation
	}
	return fmt.Sprintf("%s-%s-%s-%s-%s-%s-%s",
		ts[0:4], ts[4:6], ts[6:8], ts[8:10], ts[10:12], ts[12:14], ts[14:16])
}

func timestampUnset(ts []byte) bool {
	for _, b := range ts[:16] {
		if b != '0' {
			return false
		}
	}
	return ts[16] == 0
}

// canonicalizeName produces the loader-visible form of an on-disk
// name: Joliet names are converted from UCS-2 big-endian, plain ISO
// names are lowercased; the ";1" version suffix and any trailing '.'
// are removed.
func canonicalizeName(raw []byte, joliet bool) string {
	var name string
	if joliet {
		dec := unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder()
		decoded, err := dec.Bytes(raw)
		if err != nil {
			return ""
		}
		name = string(decoded)
	} else {
		name = strings.ToLower(string(raw))
	}
	name = strings.TrimSuffix(name, ";1")
	name = strings.TrimSuffix(name, ".")
	return name
}

func (f *iso9660) Read(h *fs.Handle, buf []byte, offset uint64) (int, error) {
	hd := h.Private.(*handleData)
	if offset >= uint64(hd.rec.size) {
		return 0, fs.ErrEndOfFile
	}
	if max := uint64(hd.rec.size) - offset; uint64(len(buf)) > max {
		buf = buf[:max]
	}
	if err := hd.md.dev.Read(buf, uint64(hd.rec.extent)*BlockSize+offset); err != nil {
		return 0, err
	}
	return len(buf), nil
}

func (f *iso9660) OpenEntry(e *fs.Entry) (*fs.Handle, error) {
	rec := e.Private.(record)
	hd := e.Owner.Private.(*handleData)
	return newHandle(e.Owner.Mount, hd.md, rec), nil
}

// Iterate walks the directory extent block by block. A zero record
// length means the remaining bytes of the current block are padding.
// Entries flagged hidden are not reported; the 0x00/0x01 file
// identifiers map to "." and "..".
func (f *iso9660) Iterate(h *fs.Handle, cb func(e *fs.Entry) bool) error {
	if !h.IsDir() {
		return fs.ErrNotDir
	}
	hd := h.Private.(*handleData)

	size := uint64(hd.rec.size)
	data := make([]byte, size)
	if err := hd.md.dev.Read(data, uint64(hd.rec.extent)*BlockSize); err != nil {
		return err
	}

	for offset := uint64(0); offset < size; {
		if data[offset] == 0 {
			// Advance to the next block boundary.
			offset = (offset/BlockSize + 1) * BlockSize
			continue
		}
		if offset+dirRecordSize > size {
			return fs.ErrCorrupt
		}
		rec, err := parseDirRecord(data[offset:])
		if err != nil {
			return err
		}
		length := uint64(data[offset])
		nameLen := uint64(data[offset+dirRecordSize-1])
		if offset+length > size {
			return fs.ErrCorrupt
		}

		flags := data[offset+25]
		rawName := data[offset+dirRecordSize : offset+dirRecordSize+nameLen]

		var name string
		switch {
		case nameLen == 1 && rawName[0] == 0x00:
			name = "."
		case nameLen == 1 && rawName[0] == 0x01:
			name = ".."
		default:
			name = canonicalizeName(rawName, hd.md.joliet > 0)
		}

		if flags&dirFlagHidden == 0 && name != "" {
			if !cb(&fs.Entry{Owner: h, Name: name, Private: rec}) {
				return nil
			}
		}
		offset += length
	}
	return nil
}
