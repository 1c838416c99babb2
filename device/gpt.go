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

package device

import (
	"bytes"
	"encoding/binary"
	"fmt"

	efi "github.com/canonical/go-efilib"
	"golang.org/x/text/encoding/unicode"

	"github.com/aejsmith/kboot/logger"
)

const (
	mbrTypeProtective = 0xEE

	gptMaxEntries = 4096
)

var gptSignature = [8]byte{'E', 'F', 'I', ' ', 'P', 'A', 'R', 'T'}

type gptHeader struct {
	Signature            [8]byte
	Revision             uint32
	HeaderSize           uint32
	HeaderCRC32          uint32
	Reserved             uint32
	MyLBA                uint64
	AlternateLBA         uint64
	FirstUsableLBA       uint64
	LastUsableLBA        uint64
	DiskGUID             [16]byte
	PartitionEntryLBA    uint64
	NumPartitionEntries  uint32
	SizeOfPartitionEntry uint32
	EntryArrayCRC32      uint32
}

type gptEntry struct {
	TypeGUID      [16]byte
	PartitionGUID [16]byte
	FirstLBA      uint64
	LastLBA       uint64
	Attributes    uint64
	Name          [72]byte
}

// decodeGPTName converts the entry's UTF-16LE name field.
func decodeGPTName(raw []byte) string {
	// Cut at the first NUL code unit.
	end := len(raw)
	for i := 0; i+1 < len(raw); i += 2 {
		if raw[i] == 0 && raw[i+1] == 0 {
			end = i
			break
		}
	}
	dec := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	name, err := dec.Bytes(raw[:end])
	if err != nil {
		return ""
	}
	return string(name)
}

// iterateGPT decodes a GUID partition table: a protective MBR at LBA
// 0, the header at LBA 1, and the partition entry array.
func iterateGPT(d *Disk, cb func(p *Partition)) (bool, error) {
	// The protective MBR must have partition 0 typed 0xEE.
	m, err := readMBR(d, 0)
	if err != nil {
		return false, err
	}
	if m.Signature != mbrSignature || m.Partitions[0].Type != mbrTypeProtective {
		return false, nil
	}

	buf := make([]byte, d.blockSize)
	if err := d.ReadBlocks(buf, 1, 1); err != nil {
		return false, err
	}
	var hdr gptHeader
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &hdr); err != nil {
		return false, err
	}
	if hdr.Signature != gptSignature {
		return false, nil
	}
	if hdr.SizeOfPartitionEntry < 128 || hdr.NumPartitionEntries > gptMaxEntries {
		return false, fmt.Errorf("gpt: %q: implausible entry geometry %d x %d",
			d.Name(), hdr.NumPartitionEntries, hdr.SizeOfPartitionEntry)
	}

	entrySize := uint64(hdr.SizeOfPartitionEntry)
	raw := make([]byte, uint64(hdr.NumPartitionEntries)*entrySize)
	if err := d.Read(raw, hdr.PartitionEntryLBA*d.blockSize); err != nil {
		return false, err
	}

	for i := uint32(0); i < hdr.NumPartitionEntries; i++ {
		var e gptEntry
		r := bytes.NewReader(raw[uint64(i)*entrySize:])
		if err := binary.Read(r, binary.LittleEndian, &e); err != nil {
			return false, err
		}
		var typeGUID efi.GUID
		copy(typeGUID[:], e.TypeGUID[:])
		if typeGUID == (efi.GUID{}) {
			continue
		}
		if e.FirstLBA > e.LastLBA || e.LastLBA >= d.blocks {
			logger.Noticef("device: %q: skipping GPT entry %d with bad extent", d.Name(), i)
			continue
		}
		var partGUID efi.GUID
		copy(partGUID[:], e.PartitionGUID[:])
		cb(&Partition{
			name:     fmt.Sprintf("%s,%d", d.Name(), i),
			parent:   d,
			lba:      e.FirstLBA,
			blocks:   e.LastLBA - e.FirstLBA + 1,
			TypeName: typeGUID.String(),
			Label:    decodeGPTName(e.Name[:]),
			GUID:     partGUID.String(),
		})
	}
	return true, nil
}
