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
	"debug/elf"
	"encoding/binary"
	"io"

	"golang.org/x/xerrors"

	"github.com/aejsmith/kboot/logger"
	"github.com/aejsmith/kboot/memory"
)

// identifyELF opens the image and checks it is a little-endian ELF
// executable, returning the parsed file and the kernel mode.
func identifyELF(r io.ReaderAt) (*elf.File, Mode, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, 0, xerrors.Errorf("%v: %w", err, ErrUnknownImage)
	}
	if f.Data != elf.ELFDATA2LSB || f.Type != elf.ET_EXEC {
		f.Close()
		return nil, 0, xerrors.Errorf("not a little-endian executable: %w", ErrUnknownImage)
	}
	switch f.Class {
	case elf.ELFCLASS32:
		return f, Mode32, nil
	case elf.ELFCLASS64:
		return f, Mode64, nil
	}
	f.Close()
	return nil, 0, xerrors.Errorf("bad ELF class: %w", ErrUnknownImage)
}

func alignDown(v, align uint64) uint64 {
	return v &^ (align - 1)
}

func alignUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}

func pageRound(v uint64) uint64 {
	return alignUp(v, memory.PageSize)
}

// loadSegments returns the image's loadable program headers.
func loadSegments(f *elf.File) []*elf.Prog {
	var loads []*elf.Prog
	for _, p := range f.Progs {
		if p.Type == elf.PT_LOAD && p.Memsz > 0 {
			loads = append(loads, p)
		}
	}
	return loads
}

// loadKernel loads the kernel's segments into physical memory and
// maps them into the kernel address space.
func (l *Loader) loadKernel() error {
	loads := loadSegments(l.elf)
	if len(loads) == 0 {
		return xerrors.Errorf("image has no loadable segments: %w", ErrMalformedImage)
	}
	l.entry = l.elf.Entry
	if l.image.Flags&ImageFixedFlag != 0 {
		return l.loadKernelFixed(loads)
	}
	return l.loadKernelRelocatable(loads)
}

// loadKernelFixed loads each segment at exactly its p_paddr.
func (l *Loader) loadKernelFixed(loads []*elf.Prog) error {
	for i, p := range loads {
		base := alignDown(p.Paddr, memory.PageSize)
		size := pageRound(p.Paddr + p.Memsz - base)
		if err := l.mem.AllocAt(base, size, memory.Allocated); err != nil {
			return xerrors.Errorf("fixed load range [0x%x,+0x%x) unavailable: %w", base, size, err)
		}

		buf := make([]byte, size)
		if _, err := io.ReadFull(io.LimitReader(p.Open(), int64(p.Filesz)), buf[p.Paddr-base:p.Paddr-base+p.Filesz]); err != nil {
			return xerrors.Errorf("reading kernel segment: %w", err)
		}
		l.segments = append(l.segments, Segment{Addr: base, Data: buf})

		virt := alignDown(p.Vaddr, memory.PageSize)
		if !l.alloc.Insert(virt, size) {
			return xerrors.Errorf("fixed segment [0x%x,+0x%x) conflicts with virtual map: %w",
				virt, size, ErrMalformedImage)
		}
		if err := l.mmu.Map(virt, base, size); err != nil {
			return err
		}
		if i == 0 {
			l.kernelPhys = base
		}
		logger.Debugf("kboot: loaded fixed segment [0x%x,+0x%x) at 0x%x", p.Vaddr, p.Memsz, base)
	}
	return nil
}

// loadKernelRelocatable allocates one physical chunk covering all
// LOAD segments, trying the image's preferred alignment and halving
// down to its minimum until something fits.
func (l *Loader) loadKernelRelocatable(loads []*elf.Prog) error {
	virtBase := alignDown(loads[0].Vaddr, memory.PageSize)
	virtEnd := uint64(0)
	for _, p := range loads {
		if base := alignDown(p.Vaddr, memory.PageSize); base < virtBase {
			virtBase = base
		}
		if end := pageRound(p.Vaddr + p.Memsz); end > virtEnd {
			virtEnd = end
		}
	}
	total := virtEnd - virtBase

	var (
		phys uint64
		err  error
	)
	for align := l.load.Alignment; ; align /= 2 {
		phys, err = l.mem.Alloc(total, align, 0, 0, memory.Allocated, 0)
		if err == nil {
			logger.Debugf("kboot: kernel at 0x%x (alignment 0x%x)", phys, align)
			break
		}
		if align/2 < l.load.MinAlignment {
			return xerrors.Errorf("allocating 0x%x bytes for kernel: %w", total, err)
		}
	}

	buf := make([]byte, total)
	for _, p := range loads {
		off := p.Vaddr - virtBase
		if _, err := io.ReadFull(io.LimitReader(p.Open(), int64(p.Filesz)), buf[off:off+p.Filesz]); err != nil {
			return xerrors.Errorf("reading kernel segment: %w", err)
		}
		// BSS is the zero tail of the fresh buffer.
	}
	l.segments = append(l.segments, Segment{Addr: phys, Data: buf})

	if !l.alloc.Insert(virtBase, total) {
		return xerrors.Errorf("kernel range [0x%x,+0x%x) conflicts with virtual map: %w",
			virtBase, total, ErrMalformedImage)
	}
	if err := l.mmu.Map(virtBase, phys, total); err != nil {
		return err
	}
	l.kernelPhys = phys
	return nil
}

// sectionLoaded reports whether a section's address range is covered
// by a LOAD segment.
func sectionLoaded(f *elf.File, s *elf.Section) bool {
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		if s.Addr >= p.Vaddr && s.Addr+s.Size <= p.Vaddr+p.Memsz {
			return true
		}
	}
	return false
}

// loadSections implements the SECTIONS image flag: section headers,
// the section name string table and any allocatable sections not part
// of a LOAD segment are loaded high, and a SECTIONS tag describing
// them is prepared. The emitted headers carry the physical addresses
// the data was placed at.
func (l *Loader) loadSections() error {
	f := l.elf
	addrs := make([]uint64, len(f.Sections))

	stage := func(i int, s *elf.Section) error {
		size := pageRound(s.Size)
		if size == 0 {
			return nil
		}
		phys, err := l.mem.Alloc(size, memory.PageSize, 0, 0, memory.Allocated, memory.AllocHigh)
		if err != nil {
			return err
		}
		buf := make([]byte, size)
		if s.Type != elf.SHT_NOBITS {
			data, err := s.Data()
			if err != nil {
				return xerrors.Errorf("reading section %q: %w", s.Name, err)
			}
			copy(buf, data)
		}
		l.segments = append(l.segments, Segment{Addr: phys, Data: buf})
		addrs[i] = phys
		logger.Debugf("kboot: loaded section %q at 0x%x", s.Name, phys)
		return nil
	}

	shstrndx := shstrtabIndex(f)
	for i, s := range f.Sections {
		switch {
		case i == shstrndx:
			// The name string table always goes along.
			if err := stage(i, s); err != nil {
				return err
			}
		case s.Flags&elf.SHF_ALLOC != 0 && !sectionLoaded(f, s):
			if err := stage(i, s); err != nil {
				return err
			}
		}
	}

	table, entsize, err := marshalSectionHeaders(f, addrs)
	if err != nil {
		return err
	}
	if shstrndx < 0 {
		shstrndx = 0
	}
	l.sections = &sectionsInfo{
		table:    table,
		num:      uint32(len(f.Sections)),
		entsize:  entsize,
		shstrndx: uint32(shstrndx),
	}
	return nil
}

// marshalSectionHeaders rebuilds the raw section header table with
// relocated addresses filled in.
func marshalSectionHeaders(f *elf.File, addrs []uint64) ([]byte, uint32, error) {
	nameOffsets, err := sectionNameOffsets(f)
	if err != nil {
		return nil, 0, err
	}

	var buf bytes.Buffer
	for i, s := range f.Sections {
		addr := s.Addr
		if addrs[i] != 0 {
			addr = addrs[i]
		}
		if f.Class == elf.ELFCLASS64 {
			hdr := elf.Section64{
				Name:      nameOffsets[i],
				Type:      uint32(s.Type),
				Flags:     uint64(s.Flags),
				Addr:      addr,
				Off:       s.Offset,
				Size:      s.Size,
				Link:      s.Link,
				Info:      s.Info,
				Addralign: s.Addralign,
				Entsize:   s.Entsize,
			}
			if err := binary.Write(&buf, binary.LittleEndian, &hdr); err != nil {
				return nil, 0, err
			}
		} else {
			hdr := elf.Section32{
				Name:      nameOffsets[i],
				Type:      uint32(s.Type),
				Flags:     uint32(s.Flags),
				Addr:      uint32(addr),
				Off:       uint32(s.Offset),
				Size:      uint32(s.Size),
				Link:      s.Link,
				Info:      s.Info,
				Addralign: uint32(s.Addralign),
				Entsize:   uint32(s.Entsize),
			}
			if err := binary.Write(&buf, binary.LittleEndian, &hdr); err != nil {
				return nil, 0, err
			}
		}
	}
	entsize := uint32(binary.Size(elf.Section64{}))
	if f.Class == elf.ELFCLASS32 {
		entsize = uint32(binary.Size(elf.Section32{}))
	}
	return buf.Bytes(), entsize, nil
}

// shstrtabIndex locates the section name string table.
func shstrtabIndex(f *elf.File) int {
	for i, s := range f.Sections {
		if s.Type == elf.SHT_STRTAB && s.Name == ".shstrtab" {
			return i
		}
	}
	return -1
}

// sectionNameOffsets recovers each section's name offset within the
// section name string table.
func sectionNameOffsets(f *elf.File) ([]uint32, error) {
	shstrndx := shstrtabIndex(f)
	if shstrndx <= 0 || shstrndx >= len(f.Sections) {
		return make([]uint32, len(f.Sections)), nil
	}
	strtab, err := f.Sections[shstrndx].Data()
	if err != nil {
		return nil, xerrors.Errorf("reading section name table: %w", err)
	}

	offsets := make([]uint32, len(f.Sections))
	for i, s := range f.Sections {
		if s.Name == "" {
			continue
		}
		idx := bytes.Index(strtab, append([]byte{0}, append([]byte(s.Name), 0)...))
		if idx < 0 {
			continue
		}
		offsets[i] = uint32(idx + 1)
	}
	return offsets, nil
}
