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
	"fmt"
	"io"

	"golang.org/x/xerrors"

	"github.com/aejsmith/kboot/logger"
)

// Disk is a block device backed by random-access storage.
type Disk struct {
	name      string
	r         io.ReaderAt
	blockSize uint64
	blocks    uint64
}

// NewDisk creates a disk device over the given storage. blockSize is
// the logical block size (512 for fixed disks, 2048 for optical
// media); size is the total size in bytes and is truncated to a whole
// number of blocks.
func NewDisk(name string, r io.ReaderAt, size, blockSize uint64) *Disk {
	if blockSize == 0 {
		logger.Panicf("device: disk %q with zero block size", name)
	}
	return &Disk{name: name, r: r, blockSize: blockSize, blocks: size / blockSize}
}

func (d *Disk) Name() string { return d.name }
func (d *Disk) Type() Type   { return TypeDisk }

// BlockSize returns the logical block size in bytes.
func (d *Disk) BlockSize() uint64 { return d.blockSize }

// Blocks returns the number of logical blocks.
func (d *Disk) Blocks() uint64 { return d.blocks }

func (d *Disk) Read(buf []byte, offset uint64) error {
	if offset+uint64(len(buf)) > d.blocks*d.blockSize {
		return xerrors.Errorf("disk %q: read [0x%x,+0x%x) beyond end: %w",
			d.name, offset, len(buf), io.ErrUnexpectedEOF)
	}
	if _, err := d.r.ReadAt(buf, int64(offset)); err != nil {
		return xerrors.Errorf("disk %q: %w", d.name, err)
	}
	return nil
}

// ReadBlocks reads count blocks starting at the given LBA.
func (d *Disk) ReadBlocks(buf []byte, lba, count uint64) error {
	if uint64(len(buf)) < count*d.blockSize {
		logger.Panicf("device: short buffer for %d blocks", count)
	}
	return d.Read(buf[:count*d.blockSize], lba*d.blockSize)
}

func (d *Disk) Identify(kind IdentifyKind) string {
	switch kind {
	case IdentLong:
		return fmt.Sprintf("disk\nblock size: %d\nblocks: %d\nsize: %d",
			d.blockSize, d.blocks, d.blocks*d.blockSize)
	default:
		return fmt.Sprintf("disk (%d bytes)", d.blocks*d.blockSize)
	}
}

// Partition is a child block device over a region of a parent disk.
type Partition struct {
	name   string
	parent *Disk
	lba    uint64
	blocks uint64

	// TypeName is a human-readable partition type (MBR type byte or
	// GPT type GUID).
	TypeName string
	// Label is the partition name, where the table has one (GPT).
	Label string
	// GUID is the unique partition GUID, where the table has one
	// (GPT).
	GUID string
}

func (p *Partition) Name() string { return p.name }
func (p *Partition) Type() Type   { return TypeDisk }

// Parent returns the containing disk.
func (p *Partition) Parent() *Disk { return p.parent }

// BlockSize returns the parent's logical block size.
func (p *Partition) BlockSize() uint64 { return p.parent.blockSize }

// Blocks returns the number of logical blocks in the partition.
func (p *Partition) Blocks() uint64 { return p.blocks }

// LBA returns the partition's starting block on the parent disk.
func (p *Partition) LBA() uint64 { return p.lba }

func (p *Partition) Read(buf []byte, offset uint64) error {
	if offset+uint64(len(buf)) > p.blocks*p.parent.blockSize {
		return xerrors.Errorf("partition %q: read [0x%x,+0x%x) beyond end: %w",
			p.name, offset, len(buf), io.ErrUnexpectedEOF)
	}
	return p.parent.Read(buf, p.lba*p.parent.blockSize+offset)
}

// ReadBlocks reads count blocks starting at the given partition-
// relative LBA.
func (p *Partition) ReadBlocks(buf []byte, lba, count uint64) error {
	if uint64(len(buf)) < count*p.parent.blockSize {
		logger.Panicf("device: short buffer for %d blocks", count)
	}
	return p.Read(buf[:count*p.parent.blockSize], lba*p.parent.blockSize)
}

func (p *Partition) Identify(kind IdentifyKind) string {
	switch kind {
	case IdentLong:
		return fmt.Sprintf("partition of %s\ntype: %s\nstart LBA: %d\nblocks: %d",
			p.parent.name, p.TypeName, p.lba, p.blocks)
	default:
		return fmt.Sprintf("partition (%s, %d blocks at %d)", p.TypeName, p.blocks, p.lba)
	}
}

// partitionDecoder probes one partition table format. iterate calls
// the callback once per valid partition, and reports whether the
// table format was recognized at all.
type partitionDecoder struct {
	name    string
	iterate func(d *Disk, cb func(p *Partition)) (recognized bool, err error)
}

// The protective-MBR check means GPT must be probed before MBR.
var partitionDecoders = []partitionDecoder{
	{"gpt", iterateGPT},
	{"mbr", iterateMBR},
}

// ProbePartitions decodes the disk's partition table, if any, and
// registers a child device per partition. The first decoder that
// recognizes the table wins.
func ProbePartitions(r *Registry, d *Disk) {
	for _, dec := range partitionDecoders {
		recognized, err := dec.iterate(d, func(p *Partition) {
			r.Register(p)
		})
		if err != nil {
			logger.Debugf("device: %s probe of %q: %v", dec.name, d.Name(), err)
			continue
		}
		if recognized {
			logger.Debugf("device: %q has a %s partition table", d.Name(), dec.name)
			return
		}
	}
}
