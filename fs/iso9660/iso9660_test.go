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

package iso9660_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"unicode/utf16"

	. "gopkg.in/check.v1"

	"github.com/aejsmith/kboot/device"
	"github.com/aejsmith/kboot/fs"
	"github.com/aejsmith/kboot/fs/iso9660"
)

// Hook up check.v1 into the "go test" runner
func Test(t *testing.T) { TestingT(t) }

type isoSuite struct{}

var _ = Suite(&isoSuite{})

const blockSize = iso9660.BlockSize

// isoBuilder assembles a minimal ISO 9660 image block by block, the
// way the binary env tests build their fixtures by hand.
type isoBuilder struct {
	data []byte
}

func newISOBuilder(blocks int) *isoBuilder {
	return &isoBuilder{data: make([]byte, blocks*blockSize)}
}

func (b *isoBuilder) block(lba int) []byte {
	return b.data[lba*blockSize : (lba+1)*blockSize]
}

// dirRecord encodes one directory record with the given raw name.
func dirRecord(name []byte, extent, size uint32, flags byte) []byte {
	rec := make([]byte, 33+len(name))
	rec[0] = byte(len(rec))
	binary.LittleEndian.PutUint32(rec[2:], extent)
	binary.BigEndian.PutUint32(rec[6:], extent)
	binary.LittleEndian.PutUint32(rec[10:], size)
	binary.BigEndian.PutUint32(rec[14:], size)
	rec[25] = flags
	rec[32] = byte(len(name))
	copy(rec[33:], name)
	return rec
}

func asciiTimestamp(s string, offset byte) []byte {
	ts := make([]byte, 17)
	copy(ts, s)
	ts[16] = offset
	return ts
}

// writeVD writes a volume descriptor. rootExtent/rootSize describe
// the root directory.
func (b *isoBuilder) writeVD(lba int, vdType byte, label string, rootExtent, rootSize uint32, escapes []byte, created, modified []byte) {
	vd := b.block(lba)
	vd[0] = vdType
	copy(vd[1:6], "CD001")
	vd[6] = 1
	for i := 40; i < 72; i++ {
		vd[i] = ' '
	}
	copy(vd[40:72], label)
	if escapes != nil {
		copy(vd[88:], escapes)
	}
	root := dirRecord([]byte{0x00}, rootExtent, rootSize, 0x02)
	copy(vd[156:], root)
	if created == nil {
		created = asciiTimestamp("0000000000000000", 0)
	}
	if modified == nil {
		modified = asciiTimestamp("0000000000000000", 0)
	}
	copy(vd[813:], created)
	copy(vd[830:], modified)
}

func (b *isoBuilder) writeTerminator(lba int) {
	vd := b.block(lba)
	vd[0] = 255
	copy(vd[1:6], "CD001")
	vd[6] = 1
}

// writeDir lays consecutive records into a directory extent,
// returning the total directory size.
func (b *isoBuilder) writeDir(lba int, records ...[]byte) uint32 {
	buf := b.block(lba)
	off := 0
	for _, rec := range records {
		copy(buf[off:], rec)
		off += len(rec)
	}
	return uint32(off)
}

func (b *isoBuilder) device(c *C, name string) *device.Disk {
	return device.NewDisk(name, bytes.NewReader(b.data), uint64(len(b.data)), blockSize)
}

func jolietName(s string) []byte {
	var out []byte
	for _, u := range utf16.Encode([]rune(s)) {
		out = append(out, byte(u>>8), byte(u))
	}
	return out
}

// buildBasic returns an image with a root directory holding
// README.TXT;1 (content "hello world"), a subdirectory SUB with
// DATA.;1, and one hidden file.
func buildBasic() *isoBuilder {
	b := newISOBuilder(32)

	copy(b.block(22), "hello world")
	copy(b.block(23), "inner")

	b.writeDir(21,
		dirRecord([]byte{0x00}, 21, 0, 0x02),
		dirRecord([]byte{0x01}, 20, 0, 0x02),
		dirRecord([]byte("DATA.;1"), 23, 5, 0),
	)
	rootSize := b.writeDir(20,
		dirRecord([]byte{0x00}, 20, 0, 0x02),
		dirRecord([]byte{0x01}, 20, 0, 0x02),
		dirRecord([]byte("README.TXT;1"), 22, 11, 0),
		dirRecord([]byte("SECRET.BIN;1"), 22, 4, 0x01),
		dirRecord([]byte("SUB"), 21, 2048, 0x02),
	)

	b.writeVD(16, 1, "TESTVOL", 20, rootSize,
		nil, asciiTimestamp("2010010100000000", 0), asciiTimestamp("2015070412345678", 0))
	b.writeTerminator(17)
	return b
}

func probe(c *C, d *device.Disk) (*fs.Mount, *fs.MountTable) {
	mounts := fs.NewMountTable()
	m, err := mounts.Probe(d)
	c.Assert(err, IsNil)
	c.Assert(m.FS.Name(), Equals, "iso9660")
	return m, mounts
}

func (s *isoSuite) TestProbeRejectsNonISO(c *C) {
	d := device.NewDisk("cd0", bytes.NewReader(make([]byte, 32*blockSize)), 32*blockSize, blockSize)
	mounts := fs.NewMountTable()
	_, err := mounts.Probe(d)
	c.Check(errors.Is(err, fs.ErrUnknownFs), Equals, true)
}

func (s *isoSuite) TestMountBasics(c *C) {
	m, _ := probe(c, buildBasic().device(c, "cd0"))
	c.Check(m.Label, Equals, "TESTVOL")
	c.Check(m.UUID, Equals, "2015-07-04-12-34-56-78")
	c.Check(m.CaseInsensitive, Equals, true)
	c.Check(m.Root.IsDir(), Equals, true)
}

func (s *isoSuite) TestUUIDFallsBackToCreation(c *C) {
	b := newISOBuilder(32)
	rootSize := b.writeDir(20, dirRecord([]byte{0x00}, 20, 0, 0x02))
	b.writeVD(16, 1, "X", 20, rootSize,
		nil, asciiTimestamp("1999123123595900", 0), asciiTimestamp("0000000000000000", 0))
	b.writeTerminator(17)

	m, _ := probe(c, b.device(c, "cd0"))
	c.Check(m.UUID, Equals, "1999-12-31-23-59-59-00")
}

func (s *isoSuite) TestModTimeWithZeroDigitsButOffsetIsSet(c *C) {
	// All-'0' digits with a non-zero offset is a set timestamp.
	b := newISOBuilder(32)
	rootSize := b.writeDir(20, dirRecord([]byte{0x00}, 20, 0, 0x02))
	b.writeVD(16, 1, "X", 20, rootSize,
		nil, asciiTimestamp("1999123123595900", 0), asciiTimestamp("0000000000000000", 4))
	b.writeTerminator(17)

	m, _ := probe(c, b.device(c, "cd0"))
	c.Check(m.UUID, Equals, "0000-00-00-00-00-00-00")
}

func (s *isoSuite) TestIterateNames(c *C) {
	m, _ := probe(c, buildBasic().device(c, "cd0"))

	var names []string
	err := m.FS.Iterate(m.Root, func(e *fs.Entry) bool {
		names = append(names, e.Name)
		return true
	})
	c.Assert(err, IsNil)
	// Lowercased, version suffix stripped; the hidden entry is not
	// reported.
	c.Check(names, DeepEquals, []string{".", "..", "readme.txt", "sub"})
}

func (s *isoSuite) TestNameCanonicalization(c *C) {
	m, mounts := probe(c, buildBasic().device(c, "cd0"))
	r := &fs.Resolver{Devices: device.NewRegistry(), Mounts: mounts}

	// "DATA.;1" canonicalizes to "data": version stripped, then the
	// trailing dot.
	h, err := r.Open("sub/data", m.Root, fs.TypeRegular)
	c.Assert(err, IsNil)
	defer h.Release()
	c.Check(h.Size, Equals, uint64(5))

	data, err := fs.ReadAll(h)
	c.Assert(err, IsNil)
	c.Check(string(data), Equals, "inner")
}

func (s *isoSuite) TestCaseInsensitiveLookup(c *C) {
	m, mounts := probe(c, buildBasic().device(c, "cd0"))
	r := &fs.Resolver{Devices: device.NewRegistry(), Mounts: mounts}

	h, err := r.Open("README.TXT", m.Root, fs.TypeRegular)
	c.Assert(err, IsNil)
	defer h.Release()

	data, err := fs.ReadAll(h)
	c.Assert(err, IsNil)
	c.Check(string(data), Equals, "hello world")
}

func (s *isoSuite) TestReadBounded(c *C) {
	m, mounts := probe(c, buildBasic().device(c, "cd0"))
	r := &fs.Resolver{Devices: device.NewRegistry(), Mounts: mounts}

	h, err := r.Open("readme.txt", m.Root, fs.TypeRegular)
	c.Assert(err, IsNil)
	defer h.Release()

	buf := make([]byte, 64)
	n, err := m.FS.Read(h, buf, 6)
	c.Assert(err, IsNil)
	c.Check(string(buf[:n]), Equals, "world")

	_, err = m.FS.Read(h, buf, 11)
	c.Check(errors.Is(err, fs.ErrEndOfFile), Equals, true)
}

func (s *isoSuite) TestZeroRecordAdvancesBlock(c *C) {
	b := newISOBuilder(40)
	copy(b.block(30), "x")

	// Root directory spanning two blocks: a record in the first,
	// padding to the boundary, one more in the second block.
	b.writeDir(20,
		dirRecord([]byte{0x00}, 20, 0, 0x02),
		dirRecord([]byte("A.TXT;1"), 30, 1, 0),
	)
	b.writeDir(21, dirRecord([]byte("B.TXT;1"), 30, 1, 0))
	rootSize := uint32(blockSize + 33 + 7)

	b.writeVD(16, 1, "X", 20, rootSize, nil, nil, nil)
	b.writeTerminator(17)

	m, _ := probe(c, b.device(c, "cd0"))
	var names []string
	err := m.FS.Iterate(m.Root, func(e *fs.Entry) bool {
		names = append(names, e.Name)
		return true
	})
	c.Assert(err, IsNil)
	c.Check(names, DeepEquals, []string{".", "a.txt", "b.txt"})
}

func (s *isoSuite) TestJoliet(c *C) {
	b := newISOBuilder(40)
	copy(b.block(30), "unicode!")

	// Plain root for the primary descriptor.
	rootSize := b.writeDir(20,
		dirRecord([]byte{0x00}, 20, 0, 0x02),
		dirRecord([]byte("FILE.TXT;1"), 30, 8, 0),
	)
	// Joliet root with a mixed-case UCS-2 name.
	jRootSize := b.writeDir(21,
		dirRecord([]byte{0x00}, 21, 0, 0x02),
		dirRecord(jolietName("File Name.txt"), 30, 8, 0),
	)

	b.writeVD(16, 1, "PLAIN", 20, rootSize, nil, nil,
		asciiTimestamp("2020020202020202", 0))
	b.writeVD(17, 2, "JOLIET", 21, jRootSize,
		[]byte{0x25, 0x2F, 0x45}, nil, nil)
	b.writeTerminator(18)

	m, mounts := probe(c, b.device(c, "cd0"))
	// Joliet mounts match case-sensitively.
	c.Check(m.CaseInsensitive, Equals, false)
	// The UUID still comes from the primary descriptor.
	c.Check(m.UUID, Equals, "2020-02-02-02-02-02-02")

	var names []string
	err := m.FS.Iterate(m.Root, func(e *fs.Entry) bool {
		names = append(names, e.Name)
		return true
	})
	c.Assert(err, IsNil)
	c.Check(names, DeepEquals, []string{".", "File Name.txt"})

	r := &fs.Resolver{Devices: device.NewRegistry(), Mounts: mounts}
	h, err := r.Open("File Name.txt", m.Root, fs.TypeRegular)
	c.Assert(err, IsNil)
	defer h.Release()
	data, err := fs.ReadAll(h)
	c.Assert(err, IsNil)
	c.Check(string(data), Equals, "unicode!")
}
