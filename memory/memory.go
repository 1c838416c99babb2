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

// Package memory tracks the target's physical address space as a
// sorted list of typed ranges, and hands out allocations from the
// ranges marked free.
package memory

import (
	"errors"
	"fmt"
	"math"

	"github.com/aejsmith/kboot/logger"
)

// PageSize is the granularity of all physical memory management.
const PageSize uint64 = 0x1000

// PhysMax is the default inclusive upper bound for allocations.
const PhysMax uint64 = math.MaxUint64

// RangeType classifies a physical memory range. The kernel sees these
// types in its memory map, except Internal which is reclaimed before
// the map is published.
type RangeType uint8

const (
	// Free memory, available for allocation.
	Free RangeType = iota
	// Allocated memory that remains in use after boot.
	Allocated
	// Reclaimable memory the kernel may reuse once it has consumed
	// its content (e.g. the information tag list).
	Reclaimable
	// Pagetables holds the kernel address space's page tables.
	Pagetables
	// Stack is the kernel's boot stack.
	Stack
	// Modules holds loaded module data.
	Modules
	// Internal memory is loader-private and never shown to the
	// kernel. Ranges protected during loading carry this type until
	// Finalize.
	Internal
)

func (t RangeType) String() string {
	switch t {
	case Free:
		return "free"
	case Allocated:
		return "allocated"
	case Reclaimable:
		return "reclaimable"
	case Pagetables:
		return "pagetables"
	case Stack:
		return "stack"
	case Modules:
		return "modules"
	case Internal:
		return "internal"
	}
	return fmt.Sprintf("unknown-%d", uint8(t))
}

// AllocFlags modify allocation behaviour.
type AllocFlags uint

const (
	// AllocHigh makes the allocator prefer the highest-addressed
	// fitting range rather than the lowest.
	AllocHigh AllocFlags = 1 << iota
)

// ErrNoMemory is returned when no free range can satisfy an
// allocation request.
var ErrNoMemory = errors.New("insufficient memory available")

// Range is a typed physical memory range. Start and Size are always
// page-aligned, Size is never zero.
type Range struct {
	Start uint64
	Size  uint64
	Type  RangeType
}

// End returns the inclusive end address of the range. Ranges may
// reach the top of the address space, so the exclusive end could wrap
// to zero.
func (r Range) End() uint64 {
	return r.Start + r.Size - 1
}

// Map maintains the address-sorted, non-overlapping range list for a
// physical address space. Adjacent ranges of the same type are always
// merged.
type Map struct {
	ranges []Range
}

// New returns an empty physical memory map. Usable memory is
// introduced with Add.
func New() *Map {
	return &Map{}
}

// Ranges returns a copy of the current range list.
func (m *Map) Ranges() []Range {
	out := make([]Range, len(m.ranges))
	copy(out, m.ranges)
	return out
}

func checkAligned(what string, start, size uint64) {
	if start%PageSize != 0 || size%PageSize != 0 || size == 0 {
		logger.Panicf("memory: %s range [0x%x,+0x%x) is not page aligned", what, start, size)
	}
}

// Add inserts a range of the given type. Any overlap with existing
// ranges is overwritten; adjacent ranges of the same type are merged.
func (m *Map) Add(start, size uint64, typ RangeType) {
	checkAligned("added", start, size)
	m.insert(Range{Start: start, Size: size, Type: typ})
}

// insert carves r into the list, trimming or splitting whatever it
// overlaps, then merges same-type neighbours.
func (m *Map) insert(r Range) {
	out := make([]Range, 0, len(m.ranges)+2)
	for _, o := range m.ranges {
		if o.End() < r.Start || (r.End() < o.Start) {
			out = append(out, o)
			continue
		}
		// Leading part of o survives.
		if o.Start < r.Start {
			out = append(out, Range{Start: o.Start, Size: r.Start - o.Start, Type: o.Type})
		}
		// Trailing part of o survives.
		if o.End() > r.End() {
			out = append(out, Range{Start: r.End() + 1, Size: o.End() - r.End(), Type: o.Type})
		}
	}
	// Insert r in address order.
	pos := len(out)
	for i, o := range out {
		if o.Start > r.Start {
			pos = i
			break
		}
	}
	out = append(out, Range{})
	copy(out[pos+1:], out[pos:])
	out[pos] = r
	m.ranges = coalesce(out)
}

func coalesce(in []Range) []Range {
	out := in[:0]
	for _, r := range in {
		n := len(out)
		if n > 0 && out[n-1].Type == r.Type && out[n-1].End()+1 == r.Start {
			out[n-1].Size += r.Size
			continue
		}
		out = append(out, r)
	}
	return out
}

// findFit looks for a suitable sub-range of the free range r.
func findFit(r Range, size, align, minAddr, maxAddr uint64) (uint64, bool) {
	start := r.Start
	if start < minAddr {
		start = minAddr
	}
	end := r.End()
	if end > maxAddr {
		end = maxAddr
	}
	start = alignUp(start, align)
	if start < r.Start || end < start || end-start < size-1 {
		return 0, false
	}
	return start, true
}

// findFitHigh is findFit scanning from the top of the range.
func findFitHigh(r Range, size, align, minAddr, maxAddr uint64) (uint64, bool) {
	low, ok := findFit(r, size, align, minAddr, maxAddr)
	if !ok {
		return 0, false
	}
	end := r.End()
	if end > maxAddr {
		end = maxAddr
	}
	start := alignDown(end-(size-1), align)
	if start < low {
		return 0, false
	}
	return start, true
}

func alignUp(addr, align uint64) uint64 {
	if align <= 1 {
		return addr
	}
	rem := addr % align
	if rem == 0 {
		return addr
	}
	return addr + (align - rem)
}

func alignDown(addr, align uint64) uint64 {
	if align <= 1 {
		return addr
	}
	return addr - addr%align
}

// Alloc finds a free sub-range of size bytes meeting align, within
// [minAddr, maxAddr], marks it with typ and returns its start
// address. A zero minAddr is raised to PageSize so address zero is
// never handed out; a zero maxAddr means PhysMax; a zero align means
// PageSize. Fails with ErrNoMemory when nothing fits.
func (m *Map) Alloc(size, align, minAddr, maxAddr uint64, typ RangeType, flags AllocFlags) (uint64, error) {
	checkAligned("allocated", 0, size)
	if align == 0 {
		align = PageSize
	}
	if align%PageSize != 0 {
		logger.Panicf("memory: allocation alignment 0x%x is not page aligned", align)
	}
	if maxAddr == 0 {
		maxAddr = PhysMax
	}
	if minAddr == 0 {
		minAddr = PageSize
	}
	if flags&AllocHigh != 0 {
		for i := len(m.ranges) - 1; i >= 0; i-- {
			r := m.ranges[i]
			if r.Type != Free {
				continue
			}
			if start, ok := findFitHigh(r, size, align, minAddr, maxAddr); ok {
				m.insert(Range{Start: start, Size: size, Type: typ})
				logger.Debugf("memory: allocated [0x%x,+0x%x) type %s (high)", start, size, typ)
				return start, nil
			}
		}
	} else {
		for _, r := range m.ranges {
			if r.Type != Free {
				continue
			}
			if start, ok := findFit(r, size, align, minAddr, maxAddr); ok {
				m.insert(Range{Start: start, Size: size, Type: typ})
				logger.Debugf("memory: allocated [0x%x,+0x%x) type %s", start, size, typ)
				return start, nil
			}
		}
	}
	return 0, ErrNoMemory
}

// AllocAt allocates the exact range [start, start+size), which must
// currently be entirely free.
func (m *Map) AllocAt(start, size uint64, typ RangeType) error {
	checkAligned("allocated", start, size)
	_, err := m.Alloc(size, PageSize, start, start+size-1, typ, 0)
	return err
}

// Protect marks every currently-free sub-range intersecting
// [start, start+size) as Internal, keeping it out of the allocator's
// reach until Finalize reverses the carve-out.
func (m *Map) Protect(start, size uint64) {
	checkAligned("protected", start, size)
	end := start + size - 1
	var carve []Range
	for _, r := range m.ranges {
		if r.Type != Free || r.End() < start || end < r.Start {
			continue
		}
		s := r.Start
		if s < start {
			s = start
		}
		e := r.End()
		if e > end {
			e = end
		}
		carve = append(carve, Range{Start: s, Size: e - s + 1, Type: Internal})
	}
	for _, r := range carve {
		m.insert(r)
	}
}

// Finalize reclassifies Internal ranges back to Free, merges, and
// returns the final map in the form handed to the kernel.
func (m *Map) Finalize() []Range {
	for i := range m.ranges {
		if m.ranges[i].Type == Internal {
			m.ranges[i].Type = Free
		}
	}
	m.ranges = coalesce(m.ranges)
	return m.Ranges()
}
