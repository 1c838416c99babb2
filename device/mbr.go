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

	"github.com/aejsmith/kboot/logger"
)

const (
	mbrSignature = 0xAA55

	mbrTypeExtended     = 0x05
	mbrTypeExtendedLBA  = 0x0F
	mbrTypeExtendedLinx = 0x85
)

// mbrPartition is one of the four 16-byte records at offset 446.
type mbrPartition struct {
	Bootable    uint8
	StartHead   uint8
	StartCylSec [2]uint8
	Type        uint8
	EndHead     uint8
	EndCylSec   [2]uint8
	StartLBA    uint32
	NumSectors  uint32
}

type mbr struct {
	Bootcode   [446]uint8
	Partitions [4]mbrPartition
	Signature  uint16
}

func isExtendedType(t uint8) bool {
	return t == mbrTypeExtended || t == mbrTypeExtendedLBA || t == mbrTypeExtendedLinx
}

// readMBR reads and decodes the MBR-shaped structure at the given
// LBA (the MBR proper at 0, or an EBR).
func readMBR(d *Disk, lba uint64) (*mbr, error) {
	buf := make([]byte, 512)
	if err := d.Read(buf, lba*d.blockSize); err != nil {
		return nil, err
	}
	var m mbr
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// validMBRPartition checks a record against the disk: non-zero type,
// a sane bootable flag and an in-range extent. startLBA is the
// absolute block number the record resolves to.
func validMBRPartition(d *Disk, p *mbrPartition, startLBA uint64) bool {
	if p.Type == 0 {
		return false
	}
	if p.Bootable != 0 && p.Bootable != 0x80 {
		return false
	}
	if p.NumSectors == 0 {
		return false
	}
	if startLBA >= d.blocks || startLBA+uint64(p.NumSectors) > d.blocks {
		return false
	}
	return true
}

// iterateEBRs walks the chain of extended boot records rooted at the
// extended partition starting at extBase. Each EBR's first record
// describes a logical partition (start relative to the EBR itself);
// its second record links to the next EBR (start relative to the
// extended partition). Logical partition numbering starts at 4 and
// advances every EBR visited, so invalid records leave index gaps.
func iterateEBRs(d *Disk, extBase uint64, cb func(p *Partition)) {
	index := 4
	lba := extBase
	for {
		e, err := readMBR(d, lba)
		if err != nil {
			logger.Debugf("device: %q: failed to read EBR at %d: %v", d.Name(), lba, err)
			return
		}
		if e.Signature != mbrSignature {
			logger.Debugf("device: %q: EBR at %d has bad signature", d.Name(), lba)
			return
		}

		logical := &e.Partitions[0]
		start := lba + uint64(logical.StartLBA)
		if validMBRPartition(d, logical, start) {
			cb(&Partition{
				name:     fmt.Sprintf("%s,%d", d.Name(), index),
				parent:   d,
				lba:      start,
				blocks:   uint64(logical.NumSectors),
				TypeName: fmt.Sprintf("0x%02x", logical.Type),
			})
		}
		index++

		next := &e.Partitions[1]
		if !isExtendedType(next.Type) || next.StartLBA == 0 {
			return
		}
		nextLBA := extBase + uint64(next.StartLBA)
		// Chains must move strictly forward; anything else is a
		// cycle or corruption.
		if nextLBA <= lba || nextLBA >= d.blocks {
			logger.Noticef("device: %q: terminating malformed EBR chain at %d", d.Name(), nextLBA)
			return
		}
		lba = nextLBA
	}
}

// iterateMBR decodes an MBR partition table, including logical
// partitions in at most one extended partition.
func iterateMBR(d *Disk, cb func(p *Partition)) (bool, error) {
	m, err := readMBR(d, 0)
	if err != nil {
		return false, err
	}
	if m.Signature != mbrSignature {
		return false, nil
	}

	anyValid := false
	extBase := uint64(0)
	haveExtended := false
	for i := range m.Partitions {
		p := &m.Partitions[i]
		start := uint64(p.StartLBA)
		if !validMBRPartition(d, p, start) {
			continue
		}
		anyValid = true
		if isExtendedType(p.Type) {
			if haveExtended {
				logger.Noticef("device: %q: ignoring duplicate extended partition %d", d.Name(), i)
				continue
			}
			haveExtended = true
			extBase = start
			continue
		}
		cb(&Partition{
			name:     fmt.Sprintf("%s,%d", d.Name(), i),
			parent:   d,
			lba:      start,
			blocks:   uint64(p.NumSectors),
			TypeName: fmt.Sprintf("0x%02x", p.Type),
		})
	}
	if haveExtended {
		iterateEBRs(d, extBase, cb)
	}
	return anyValid, nil
}
