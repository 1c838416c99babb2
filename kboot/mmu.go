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
	"sort"

	"golang.org/x/xerrors"

	"github.com/aejsmith/kboot/memory"
)

// Mapping is one virtual-to-physical mapping in an MMU context.
type Mapping struct {
	Virt uint64
	Phys uint64
	Size uint64
}

// tableSpan is the granularity at which the context models page-table
// page consumption. The architecture's real table format is its own
// business; what matters here is that table memory is drawn from the
// physical map with the context's range type.
const tableSpan = 1 << 30

// MMUContext is an architecture-independent page table builder: it
// records the mappings the architecture code will translate into real
// tables, and charges page-table memory against the physical map as
// mappings are added. The context's range type determines whether the
// kernel sees that memory as Pagetables or never sees it at all
// (Internal, for the trampoline context).
type MMUContext struct {
	mem     *memory.Map
	memType memory.RangeType

	root     uint64
	mappings []Mapping
	tables   []uint64
	spans    map[uint64]bool
}

// NewMMUContext creates a context whose page tables are typed typ,
// allocating the root table.
func NewMMUContext(mem *memory.Map, typ memory.RangeType) (*MMUContext, error) {
	root, err := mem.Alloc(memory.PageSize, memory.PageSize, 0, 0, typ, 0)
	if err != nil {
		return nil, err
	}
	return &MMUContext{
		mem:     mem,
		memType: typ,
		root:    root,
		tables:  []uint64{root},
		spans:   make(map[uint64]bool),
	}, nil
}

// Root returns the physical address of the context's root table.
func (c *MMUContext) Root() uint64 { return c.root }

// MemType returns the range type the context's tables carry.
func (c *MMUContext) MemType() memory.RangeType { return c.memType }

// Map records a mapping of [virt, virt+size) to [phys, phys+size).
// Everything must be page-aligned. Overlapping an existing mapping is
// an error.
func (c *MMUContext) Map(virt, phys, size uint64) error {
	if virt%memory.PageSize != 0 || phys%memory.PageSize != 0 || size%memory.PageSize != 0 || size == 0 {
		return xerrors.Errorf("mmu: unaligned mapping [0x%x,+0x%x) -> 0x%x", virt, size, phys)
	}
	end := virt + size - 1
	for _, m := range c.mappings {
		if m.Virt <= end && virt <= m.Virt+m.Size-1 {
			return xerrors.Errorf("mmu: mapping [0x%x,+0x%x) overlaps [0x%x,+0x%x)",
				virt, size, m.Virt, m.Size)
		}
	}
	if err := c.chargeTables(virt, size); err != nil {
		return err
	}

	c.mappings = append(c.mappings, Mapping{Virt: virt, Phys: phys, Size: size})
	sort.Slice(c.mappings, func(i, j int) bool { return c.mappings[i].Virt < c.mappings[j].Virt })

	// Merge adjacent mappings that are also physically contiguous.
	merged := c.mappings[:0]
	for _, m := range c.mappings {
		n := len(merged)
		if n > 0 {
			prev := &merged[n-1]
			if prev.Virt+prev.Size == m.Virt && prev.Phys+prev.Size == m.Phys {
				prev.Size += m.Size
				continue
			}
		}
		merged = append(merged, m)
	}
	c.mappings = merged
	return nil
}

// chargeTables allocates one table page for each table span the
// mapping newly touches.
func (c *MMUContext) chargeTables(virt, size uint64) error {
	first := virt / tableSpan
	last := (virt + size - 1) / tableSpan
	for span := first; ; span++ {
		if !c.spans[span] {
			page, err := c.mem.Alloc(memory.PageSize, memory.PageSize, 0, 0, c.memType, 0)
			if err != nil {
				return err
			}
			c.spans[span] = true
			c.tables = append(c.tables, page)
		}
		if span == last {
			return nil
		}
	}
}

// Mappings returns the recorded mappings sorted by virtual address.
func (c *MMUContext) Mappings() []Mapping {
	out := make([]Mapping, len(c.mappings))
	copy(out, c.mappings)
	return out
}

// TablePages returns the physical pages holding the context's tables.
func (c *MMUContext) TablePages() []uint64 {
	out := make([]uint64, len(c.tables))
	copy(out, c.tables)
	return out
}
