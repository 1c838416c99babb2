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

package device_test

import (
	"encoding/binary"
	"strings"
	"unicode/utf16"

	. "gopkg.in/check.v1"
)

type gptSuite struct{}

var _ = Suite(&gptSuite{})

// espTypeGUID is the EFI System Partition type GUID
// C12A7328-F81F-11D2-BA4B-00A0C93EC93B in its on-disk (mixed-endian)
// byte layout.
var espTypeGUID = [16]byte{
	0x28, 0x73, 0x2A, 0xC1, 0x1F, 0xF8, 0xD2, 0x11,
	0xBA, 0x4B, 0x00, 0xA0, 0xC9, 0x3E, 0xC9, 0x3B,
}

// setGPTHeader writes a GPT header at LBA 1 describing an entry array
// of num 128-byte entries at LBA 2.
func (img *diskImage) setGPTHeader(num uint32) {
	off := 512
	copy(img.data[off:], "EFI PART")
	binary.LittleEndian.PutUint32(img.data[off+8:], 0x00010000) // revision 1.0
	binary.LittleEndian.PutUint32(img.data[off+12:], 92)        // header size
	binary.LittleEndian.PutUint64(img.data[off+24:], 1)         // my LBA
	binary.LittleEndian.PutUint64(img.data[off+72:], 2)         // entry array LBA
	binary.LittleEndian.PutUint32(img.data[off+80:], num)
	binary.LittleEndian.PutUint32(img.data[off+84:], 128)
}

// setGPTEntry writes one partition entry into the array at LBA 2.
func (img *diskImage) setGPTEntry(slot int, typeGUID [16]byte, first, last uint64, name string) {
	off := 2*512 + slot*128
	copy(img.data[off:], typeGUID[:])
	// A fixed unique GUID derived from the slot.
	img.data[off+16] = byte(slot + 1)
	binary.LittleEndian.PutUint64(img.data[off+32:], first)
	binary.LittleEndian.PutUint64(img.data[off+40:], last)
	for i, u := range utf16.Encode([]rune(name)) {
		binary.LittleEndian.PutUint16(img.data[off+56+2*i:], u)
	}
}

func (img *diskImage) setProtectiveMBR() {
	img.setSignature(0)
	img.setPartition(0, 0, 0x00, 0xEE, 1, uint32(len(img.data)/512-1))
}

func (s *gptSuite) TestGPTPartitions(c *C) {
	img := newDiskImage(4096)
	img.setProtectiveMBR()
	img.setGPTHeader(8)
	img.setGPTEntry(0, espTypeGUID, 64, 1063, "EFI system")
	img.setGPTEntry(3, espTypeGUID, 2048, 4095, "data")

	parts := probeAll(c, img.disk(c, "hd0"))
	c.Assert(parts, HasLen, 2)

	p := parts["hd0,0"]
	c.Assert(p, NotNil)
	c.Check(p.LBA(), Equals, uint64(64))
	c.Check(p.Blocks(), Equals, uint64(1000))
	c.Check(p.Label, Equals, "EFI system")
	c.Check(strings.EqualFold(p.TypeName, "c12a7328-f81f-11d2-ba4b-00a0c93ec93b"), Equals, true)

	c.Check(parts["hd0,3"].Blocks(), Equals, uint64(2048))
}

func (s *gptSuite) TestGPTSkipsZeroTypeAndBadExtent(c *C) {
	img := newDiskImage(4096)
	img.setProtectiveMBR()
	img.setGPTHeader(4)
	// Slot 0 left all-zero (unused).
	// Slot 1 extends past the disk.
	img.setGPTEntry(1, espTypeGUID, 2048, 5000, "bad")
	// Slot 2 inverted extent.
	img.setGPTEntry(2, espTypeGUID, 100, 50, "inverted")
	img.setGPTEntry(3, espTypeGUID, 64, 127, "ok")

	parts := probeAll(c, img.disk(c, "hd0"))
	c.Assert(parts, HasLen, 1)
	c.Check(parts["hd0,3"], NotNil)
}

func (s *gptSuite) TestProtectiveMBRRequired(c *C) {
	img := newDiskImage(4096)
	// Plain MBR with a normal partition; the GPT header is present
	// but must be ignored without the protective entry.
	img.setSignature(0)
	img.setPartition(0, 0, 0x00, 0x83, 64, 128)
	img.setGPTHeader(1)
	img.setGPTEntry(0, espTypeGUID, 2048, 2111, "ghost")

	parts := probeAll(c, img.disk(c, "hd0"))
	c.Assert(parts, HasLen, 1)
	c.Check(parts["hd0,0"].TypeName, Equals, "0x83")
}

func (s *gptSuite) TestBadGPTSignatureFallsBackToMBR(c *C) {
	img := newDiskImage(4096)
	img.setProtectiveMBR()
	// No "EFI PART" header at LBA 1: the protective entry is then
	// just a strange but valid MBR partition.
	parts := probeAll(c, img.disk(c, "hd0"))
	c.Assert(parts, HasLen, 1)
	c.Check(parts["hd0,0"].TypeName, Equals, "0xee")
}
