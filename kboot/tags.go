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

package kboot

import (
	"bytes"
	"encoding/binary"

	"github.com/aejsmith/kboot/logger"
)

// Magic is the protocol magic number a kernel may check.
const Magic uint32 = 0xB007CAFE

// TagsSize is the size of the information tag region handed to the
// kernel.
const TagsSize = 16 * 1024

// Information tag types, in required emission order: CORE first (by
// construction), MODULE*, VIDEO?, OPTION*, BOOTDEV, MEMORY*, VMEM*,
// NONE last.
const (
	TagNone       uint32 = 0
	TagCore       uint32 = 1
	TagOption     uint32 = 2
	TagMemory     uint32 = 3
	TagVMem       uint32 = 4
	TagPagetables uint32 = 5
	TagModule     uint32 = 6
	TagVideo      uint32 = 7
	TagBootDev    uint32 = 8
	TagLog        uint32 = 9
	TagSections   uint32 = 10
)

// Boot device methods for TagBootDev.
const (
	BootDevNone  uint32 = 0
	BootDevFS    uint32 = 1
	BootDevNet   uint32 = 2
	BootDevOther uint32 = 3
)

// Video types for TagVideo.
const (
	VideoVGA uint32 = 1 << 0
	VideoLFB uint32 = 1 << 1
)

// coreTag is the payload of the CORE tag, always the first record.
type coreTag struct {
	TagsPhys   uint64
	TagsSize   uint32
	_          uint32
	KernelPhys uint64
	StackBase  uint64
	StackPhys  uint64
	StackSize  uint32
	_          uint32
}

// memoryTag is the payload of one MEMORY tag.
type memoryTag struct {
	Start uint64
	Size  uint64
	Type  uint8
	_     [7]uint8
}

// vmemTag is the payload of one VMEM tag.
type vmemTag struct {
	Start uint64
	Size  uint64
	Phys  uint64
}

// moduleTag is the fixed part of a MODULE tag; the module name
// follows NUL-terminated.
type moduleTag struct {
	Addr     uint64
	ModSize  uint32
	NameSize uint32
}

// videoLFBTag is the payload of a VIDEO tag for a linear framebuffer.
type videoLFBTag struct {
	Type   uint32
	Flags  uint32
	Width  uint32
	Height uint32
	BPP    uint8
	_      [7]uint8
	Phys   uint64
	Virt   uint64
	Pitch  uint32
	_      uint32
}

// videoVGATag is the payload of a VIDEO tag for VGA text mode.
type videoVGATag struct {
	Type uint32
	Cols uint8
	Rows uint8
	X    uint8
	Y    uint8
	Phys uint64
	Virt uint64
	_    [8]uint8
}

// sectionsTag is the fixed part of a SECTIONS tag; the raw section
// header table follows.
type sectionsTag struct {
	Num      uint32
	EntSize  uint32
	ShStrNdx uint32
	_        uint32
}

// tagWriter appends 8-byte-framed records to the information tag
// region. The list is a strictly appended log.
type tagWriter struct {
	buf bytes.Buffer
}

// emit appends one record. Payloads are encoded little-endian; each
// record is padded to 8-byte alignment.
func (w *tagWriter) emit(typ uint32, payload ...interface{}) {
	var body bytes.Buffer
	for _, p := range payload {
		switch v := p.(type) {
		case []byte:
			body.Write(v)
		case string:
			body.WriteString(v)
			body.WriteByte(0)
		default:
			if err := binary.Write(&body, binary.LittleEndian, v); err != nil {
				logger.Panicf("kboot: unencodable tag payload: %v", err)
			}
		}
	}

	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:], typ)
	binary.LittleEndian.PutUint32(hdr[4:], uint32(8+body.Len()))
	w.buf.Write(hdr[:])
	w.buf.Write(body.Bytes())
	for w.buf.Len()%8 != 0 {
		w.buf.WriteByte(0)
	}
	if w.buf.Len() > TagsSize {
		logger.Panicf("kboot: information tag list exceeds %d bytes", TagsSize)
	}
}

// bytes returns the encoded tag list.
func (w *tagWriter) bytes() []byte {
	return w.buf.Bytes()
}
