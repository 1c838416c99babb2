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

// Package kboot implements the KBoot kernel protocol: image tag
// parsing, kernel and module loading, virtual address space
// construction and the information tag list handed to the kernel at
// entry.
package kboot

import (
	"debug/elf"
	"math"
	"path"
	"strconv"
	"strings"

	"golang.org/x/xerrors"

	"github.com/aejsmith/kboot/allocator"
	"github.com/aejsmith/kboot/config"
	"github.com/aejsmith/kboot/device"
	"github.com/aejsmith/kboot/fs"
	"github.com/aejsmith/kboot/logger"
	"github.com/aejsmith/kboot/memory"
)

// Segment is staged physical data: the bytes to place at Addr before
// entering the kernel.
type Segment struct {
	Addr uint64
	Data []byte
}

type sectionsInfo struct {
	table    []byte
	num      uint32
	entsize  uint32
	shstrndx uint32
}

type moduleInfo struct {
	name string
	addr uint64
	size uint32
}

// Target binds the KBoot protocol loader to the machine: the physical
// memory map and the architecture and platform back-ends.
type Target struct {
	Mem      *memory.Map
	Arch     Arch
	Platform Platform
}

// RegisterCommands registers the OS loader commands against this
// target.
func (t *Target) RegisterCommands() {
	config.RegisterCommand("kboot", "Boot a KBoot kernel", t.cmdKBoot)
}

// loadState is the private state staged by the kboot command.
type loadState struct {
	path    string
	modules []string
}

// cmdKBoot validates its arguments, registers the kernel's declared
// options in the environment and stages the loader. The actual boot
// happens after menu selection.
func (t *Target) cmdKBoot(in *config.Interp, args config.ValueList) error {
	if len(args) < 1 || len(args) > 2 || args[0].Type != config.TypeString {
		return &config.InvalidArgumentsError{Cmd: "kboot", Reason: "expected a kernel path and optional module list"}
	}
	st := &loadState{path: args[0].Str}
	if len(args) == 2 {
		switch args[1].Type {
		case config.TypeString:
			st.modules = []string{args[1].Str}
		case config.TypeList:
			for _, v := range args[1].List {
				if v.Type != config.TypeString {
					return &config.InvalidArgumentsError{Cmd: "kboot", Reason: "module list must contain paths"}
				}
				st.modules = append(st.modules, v.Str)
			}
		default:
			return &config.InvalidArgumentsError{Cmd: "kboot", Reason: "module list must contain paths"}
		}
	}

	// Open and identify the image now so configuration errors
	// surface before the menu.
	h, err := in.Resolver.Open(st.path, in.Current.Directory(), fs.TypeRegular)
	if err != nil {
		return err
	}
	defer h.Release()
	f, _, err := identifyELF(fs.OpenReaderAt(h))
	if err != nil {
		return err
	}
	defer f.Close()
	itags, err := parseITags(f)
	if err != nil {
		return err
	}

	// Publish declared options with their defaults so they are
	// visible and overridable in the environment.
	for _, it := range itags {
		if it.Type != ITagOption {
			continue
		}
		opt, err := it.decodeOption()
		if err != nil {
			return err
		}
		if in.Current.Get(opt.Name) != nil {
			continue
		}
		if v := optionValue(opt); v != nil {
			in.Current.Set(opt.Name, v)
		}
	}

	return in.Current.SetLoader(&loaderOps{target: t}, st)
}

func optionValue(opt *OptionTag) *config.Value {
	switch opt.Type {
	case OptionTypeBoolean:
		if len(opt.Default) >= 1 {
			return config.BooleanValue(opt.Default[0] != 0)
		}
	case OptionTypeString:
		return config.StringValue(strings.TrimRight(string(opt.Default), "\x00"))
	case OptionTypeInteger:
		if len(opt.Default) >= 8 {
			var v uint64
			for i := 0; i < 8; i++ {
				v |= uint64(opt.Default[i]) << (8 * i)
			}
			return config.IntegerValue(v)
		}
	}
	return nil
}

type loaderOps struct {
	target *Target
}

func (o *loaderOps) LoaderName() string { return "kboot" }

func (o *loaderOps) Load(in *config.Interp, env *config.Environ) error {
	_, priv := env.Loader()
	st, ok := priv.(*loadState)
	if !ok {
		logger.Panicf("kboot: loader invoked without staged state")
	}
	return o.target.Boot(in, env, st)
}

// Loader is the state of one kernel load operation.
type Loader struct {
	in  *config.Interp
	env *config.Environ

	path   string
	handle *fs.Handle
	elf    *elf.File
	mode   Mode

	itags []*ITag
	image ImageTag
	load  LoadTag

	mem   *memory.Map
	alloc *allocator.Allocator
	mmu   *MMUContext

	trampCtx  *MMUContext
	trampPhys uint64
	trampVirt uint64

	segments []Segment
	modules  []moduleInfo
	sections *sectionsInfo

	video     *VideoMode
	videoVirt uint64

	tagsPhys uint64
	tagsVirt uint64
	tags     tagWriter

	entry      uint64
	kernelPhys uint64
	stackPhys  uint64
	stackVirt  uint64

	arch     Arch
	platform Platform
}

// Accessors for architecture back-ends and the harness.

// Mode returns the kernel's execution mode.
func (l *Loader) Mode() Mode { return l.mode }

// Entry returns the kernel entry point address.
func (l *Loader) Entry() uint64 { return l.entry }

// KernelPhys returns the kernel's physical load address.
func (l *Loader) KernelPhys() uint64 { return l.kernelPhys }

// MMU returns the kernel's MMU context.
func (l *Loader) MMU() *MMUContext { return l.mmu }

// TrampolineCtx returns the temporary context used across the jump.
func (l *Loader) TrampolineCtx() *MMUContext { return l.trampCtx }

// TrampolineVirt returns the trampoline page's kernel-space address.
func (l *Loader) TrampolineVirt() uint64 { return l.trampVirt }

// TrampolinePhys returns the trampoline page's physical address.
func (l *Loader) TrampolinePhys() uint64 { return l.trampPhys }

// Segments returns the staged physical data.
func (l *Loader) Segments() []Segment { return l.segments }

// TagsPhys returns the physical address of the information tag list.
func (l *Loader) TagsPhys() uint64 { return l.tagsPhys }

// TagsVirt returns the kernel-space address of the tag list.
func (l *Loader) TagsVirt() uint64 { return l.tagsVirt }

// Env returns the environment being booted.
func (l *Loader) Env() *config.Environ { return l.env }

// Alloc returns the virtual address space allocator.
func (l *Loader) Alloc() *allocator.Allocator { return l.alloc }

// Boot runs the whole load pipeline for env and enters the kernel.
// On success it does not return (the simulated back-ends do).
func (t *Target) Boot(in *config.Interp, env *config.Environ, st *loadState) error {
	l := &Loader{
		in:       in,
		env:      env,
		path:     st.path,
		mem:      t.Mem,
		arch:     t.Arch,
		platform: t.Platform,
	}

	h, err := in.Resolver.Open(st.path, env.Directory(), fs.TypeRegular)
	if err != nil {
		return err
	}
	l.handle = h
	defer h.Release()

	l.elf, l.mode, err = identifyELF(fs.OpenReaderAt(h))
	if err != nil {
		return err
	}
	defer l.elf.Close()

	if err := l.arch.CheckKernel(l); err != nil {
		return err
	}

	// Keep the loader's own memory out of reach while loading; the
	// carve-out is reversed when the final map is built.
	loaderStart, loaderSize := l.platform.LoaderRegion()
	l.mem.Protect(loaderStart, loaderSize)

	l.tagsPhys, err = l.mem.Alloc(TagsSize, memory.PageSize, 0, 0, memory.Reclaimable, memory.AllocHigh)
	if err != nil {
		return err
	}

	if l.itags, err = parseITags(l.elf); err != nil {
		return err
	}
	if err := l.decodeImageTags(); err != nil {
		return err
	}
	if err := l.checkLoadParams(); err != nil {
		return err
	}

	if err := l.buildAddressSpace(); err != nil {
		return err
	}
	if err := l.loadKernel(); err != nil {
		return err
	}
	if err := l.applyMappings(); err != nil {
		return err
	}
	if err := l.arch.Setup(l); err != nil {
		return err
	}
	if err := l.mapTagRegion(); err != nil {
		return err
	}
	if l.image.Flags&ImageSectionsFlag != 0 {
		if err := l.loadSections(); err != nil {
			return err
		}
	}
	if err := l.loadModules(st.modules); err != nil {
		return err
	}
	if err := l.allocStack(); err != nil {
		return err
	}
	if err := l.buildTrampoline(loaderStart, loaderSize); err != nil {
		return err
	}
	if err := l.setupVideo(); err != nil {
		return err
	}
	if err := l.emitTags(); err != nil {
		return err
	}

	// Past this point no recoverable error path exists.
	if err := l.platform.PreBoot(l); err != nil {
		return err
	}
	logger.Debugf("kboot: entering kernel at 0x%x (tags at 0x%x)", l.entry, l.tagsVirt)
	return l.arch.Enter(l)
}

// decodeImageTags decodes the IMAGE and LOAD descriptors.
func (l *Loader) decodeImageTags() error {
	haveLoad := false
	for _, it := range l.itags {
		switch it.Type {
		case ITagImage:
			if err := it.decode(&l.image); err != nil {
				return err
			}
		case ITagLoad:
			if err := it.decode(&l.load); err != nil {
				return err
			}
			haveLoad = true
		}
	}
	if l.image.Version != Version {
		return xerrors.Errorf("image requires version %d: %w", l.image.Version, ErrUnsupportedVersion)
	}
	if !haveLoad {
		l.load = LoadTag{}
	}
	return nil
}

func isPowerOf2(v uint64) bool { return v != 0 && v&(v-1) == 0 }

// checkLoadParams validates the LOAD parameters, lets the
// architecture fill in its defaults, and normalizes the result.
func (l *Loader) checkLoadParams() error {
	ld := &l.load
	if ld.Alignment != 0 && (!isPowerOf2(ld.Alignment) || ld.Alignment < memory.PageSize) {
		return xerrors.Errorf("bad alignment 0x%x: %w", ld.Alignment, ErrMalformedImage)
	}
	if ld.MinAlignment != 0 &&
		(!isPowerOf2(ld.MinAlignment) || ld.MinAlignment < memory.PageSize || ld.MinAlignment > ld.Alignment) {
		return xerrors.Errorf("bad minimum alignment 0x%x: %w", ld.MinAlignment, ErrMalformedImage)
	}
	if ld.VirtMapBase%memory.PageSize != 0 || ld.VirtMapSize%memory.PageSize != 0 {
		return xerrors.Errorf("unaligned virtual map [0x%x,+0x%x): %w",
			ld.VirtMapBase, ld.VirtMapSize, ErrMalformedImage)
	}

	if err := l.arch.CheckLoadParams(l, ld); err != nil {
		return err
	}

	if ld.Alignment == 0 {
		ld.Alignment = memory.PageSize
	}
	if ld.MinAlignment == 0 {
		ld.MinAlignment = ld.Alignment
	}
	if l.mode == Mode32 {
		const limit = uint64(1) << 32
		if ld.VirtMapBase == 0 && ld.VirtMapSize == 0 {
			ld.VirtMapSize = limit
		}
		end := ld.VirtMapBase + ld.VirtMapSize
		if end > limit || end < ld.VirtMapBase {
			return xerrors.Errorf("32-bit virtual map exceeds 4GB: %w", ErrMalformedImage)
		}
	}
	return nil
}

// buildAddressSpace creates the kernel MMU context and the virtual
// allocator, and keeps virtual address zero out of circulation.
func (l *Loader) buildAddressSpace() error {
	var err error
	l.mmu, err = NewMMUContext(l.mem, memory.Pagetables)
	if err != nil {
		return err
	}
	l.alloc = allocator.New(l.load.VirtMapBase, l.load.VirtMapSize)
	if l.load.VirtMapBase == 0 {
		l.alloc.Reserve(0, memory.PageSize)
	}
	return nil
}

// applyMappings handles the MAPPING image tags: a virtual address of
// all-ones means "anywhere"; anything else must insert exactly where
// asked.
func (l *Loader) applyMappings() error {
	for _, it := range l.itags {
		if it.Type != ITagMapping {
			continue
		}
		var m MappingTag
		if err := it.decode(&m); err != nil {
			return err
		}
		if m.Virt == math.MaxUint64 {
			virt, ok := l.alloc.Alloc(m.Size, memory.PageSize)
			if !ok {
				return xerrors.Errorf("no virtual space for mapping of 0x%x bytes: %w",
					m.Size, memory.ErrNoMemory)
			}
			if err := l.mmu.Map(virt, m.Phys, m.Size); err != nil {
				return err
			}
			continue
		}
		if !l.alloc.Insert(m.Virt, m.Size) {
			return xerrors.Errorf("mapping [0x%x,+0x%x) conflicts with virtual map: %w",
				m.Virt, m.Size, ErrMalformedImage)
		}
		if err := l.mmu.Map(m.Virt, m.Phys, m.Size); err != nil {
			return err
		}
	}
	return nil
}

// mapTagRegion gives the information tag region a kernel-space
// address.
func (l *Loader) mapTagRegion() error {
	virt, ok := l.alloc.Alloc(TagsSize, memory.PageSize)
	if !ok {
		return xerrors.Errorf("no virtual space for tag region: %w", memory.ErrNoMemory)
	}
	l.tagsVirt = virt
	return l.mmu.Map(virt, l.tagsPhys, TagsSize)
}

// loadModules stages each requested module high in memory.
func (l *Loader) loadModules(paths []string) error {
	for _, p := range paths {
		h, err := l.in.Resolver.Open(p, l.env.Directory(), fs.TypeRegular)
		if err != nil {
			return err
		}
		data, err := fs.ReadAll(h)
		h.Release()
		if err != nil {
			return err
		}

		size := pageRound(uint64(len(data)))
		phys, err := l.mem.Alloc(size, memory.PageSize, 0, 0, memory.Modules, memory.AllocHigh)
		if err != nil {
			return err
		}
		buf := make([]byte, size)
		copy(buf, data)
		l.segments = append(l.segments, Segment{Addr: phys, Data: buf})
		l.modules = append(l.modules, moduleInfo{
			name: path.Base(p),
			addr: phys,
			size: uint32(len(data)),
		})
		logger.Debugf("kboot: module %q at 0x%x (%d bytes)", p, phys, len(data))
	}
	return nil
}

// allocStack gives the kernel a boot stack.
func (l *Loader) allocStack() error {
	phys, err := l.mem.Alloc(memory.PageSize, memory.PageSize, 0, 0, memory.Stack, 0)
	if err != nil {
		return err
	}
	virt, ok := l.alloc.Alloc(memory.PageSize, memory.PageSize)
	if !ok {
		return xerrors.Errorf("no virtual space for stack: %w", memory.ErrNoMemory)
	}
	if err := l.mmu.Map(virt, phys, memory.PageSize); err != nil {
		return err
	}
	l.stackPhys = phys
	l.stackVirt = virt
	return nil
}

// buildTrampoline sets up the temporary context used across the final
// jump: the loader and the trampoline page identity mapped, the
// trampoline page additionally visible at a kernel-space address. The
// temporary context's tables are Internal so the kernel never sees
// them.
func (l *Loader) buildTrampoline(loaderStart, loaderSize uint64) error {
	phys, err := l.mem.Alloc(memory.PageSize, memory.PageSize, 0, 0, memory.Internal, memory.AllocHigh)
	if err != nil {
		return err
	}
	l.trampPhys = phys

	l.trampCtx, err = NewMMUContext(l.mem, memory.Internal)
	if err != nil {
		return err
	}
	if err := l.trampCtx.Map(loaderStart, loaderStart, loaderSize); err != nil {
		return err
	}
	if err := l.trampCtx.Map(phys, phys, memory.PageSize); err != nil {
		return err
	}

	virt, ok := l.alloc.Alloc(memory.PageSize, memory.PageSize)
	if !ok {
		return xerrors.Errorf("no virtual space for trampoline: %w", memory.ErrNoMemory)
	}
	l.trampVirt = virt
	return l.mmu.Map(virt, phys, memory.PageSize)
}

// setupVideo acts on the environment's video_mode setting, if any.
func (l *Loader) setupVideo() error {
	setting, ok := l.env.StringSetting("video_mode")
	if !ok {
		return nil
	}
	req, err := parseVideoRequest(setting)
	if err != nil {
		return err
	}
	mode, err := l.platform.SetVideoMode(req)
	if xerrors.Is(err, ErrNoVideo) {
		logger.Debugf("kboot: platform has no video support, ignoring video_mode")
		return nil
	}
	if err != nil {
		return err
	}
	l.video = mode

	if mode.Size > 0 {
		virt, ok := l.alloc.Alloc(pageRound(mode.Size), memory.PageSize)
		if !ok {
			return xerrors.Errorf("no virtual space for framebuffer: %w", memory.ErrNoMemory)
		}
		if err := l.mmu.Map(virt, alignDown(mode.Phys, memory.PageSize), pageRound(mode.Size)); err != nil {
			return err
		}
		l.videoVirt = virt
	}
	return nil
}

// parseVideoRequest parses "vga" or "lfb[:WxH[xBPP]]".
func parseVideoRequest(s string) (VideoRequest, error) {
	var req VideoRequest
	switch {
	case s == "vga":
		return req, nil
	case s == "lfb":
		req.LFB = true
		return req, nil
	case strings.HasPrefix(s, "lfb:"):
		req.LFB = true
		parts := strings.Split(s[len("lfb:"):], "x")
		if len(parts) < 2 || len(parts) > 3 {
			return req, xerrors.Errorf("bad video mode %q", s)
		}
		w, err1 := strconv.ParseUint(parts[0], 10, 32)
		h, err2 := strconv.ParseUint(parts[1], 10, 32)
		if err1 != nil || err2 != nil {
			return req, xerrors.Errorf("bad video mode %q", s)
		}
		if len(parts) == 3 {
			bpp, err := strconv.ParseUint(parts[2], 10, 8)
			if err != nil {
				return req, xerrors.Errorf("bad video mode %q", s)
			}
			req.BPP = uint8(bpp)
		}
		req.Width, req.Height = uint32(w), uint32(h)
		return req, nil
	}
	return req, xerrors.Errorf("bad video mode %q", s)
}

// emitTags builds the information tag list and stages it at its
// physical location. CORE is first by construction; the terminator
// closes the strictly appended log.
func (l *Loader) emitTags() error {
	finalMap := l.mem.Finalize()

	l.tags.emit(TagCore, &coreTag{
		TagsPhys:   l.tagsPhys,
		TagsSize:   TagsSize,
		KernelPhys: l.kernelPhys,
		StackBase:  l.stackVirt,
		StackPhys:  l.stackPhys,
		StackSize:  uint32(memory.PageSize),
	})

	for _, m := range l.modules {
		l.tags.emit(TagModule, &moduleTag{
			Addr:     m.addr,
			ModSize:  m.size,
			NameSize: uint32(len(m.name) + 1),
		}, m.name)
	}

	if l.video != nil {
		if l.video.LFB {
			l.tags.emit(TagVideo, &videoLFBTag{
				Type: VideoLFB, Width: l.video.Width, Height: l.video.Height,
				BPP: l.video.BPP, Phys: l.video.Phys, Virt: l.videoVirt,
				Pitch: l.video.Pitch,
			})
		} else {
			l.tags.emit(TagVideo, &videoVGATag{
				Type: VideoVGA, Cols: l.video.Cols, Rows: l.video.Rows,
				Phys: l.video.Phys, Virt: l.videoVirt,
			})
		}
	}

	if err := l.emitOptionTags(); err != nil {
		return err
	}
	if err := l.emitBootDevTag(); err != nil {
		return err
	}

	if l.sections != nil {
		l.tags.emit(TagSections, &sectionsTag{
			Num:      l.sections.num,
			EntSize:  l.sections.entsize,
			ShStrNdx: l.sections.shstrndx,
		}, l.sections.table)
	}

	for _, r := range finalMap {
		l.tags.emit(TagMemory, &memoryTag{Start: r.Start, Size: r.Size, Type: uint8(r.Type)})
	}
	for _, m := range l.mmu.Mappings() {
		l.tags.emit(TagVMem, &vmemTag{Start: m.Virt, Size: m.Size, Phys: m.Phys})
	}
	l.tags.emit(TagNone)

	buf := make([]byte, TagsSize)
	copy(buf, l.tags.bytes())
	l.segments = append(l.segments, Segment{Addr: l.tagsPhys, Data: buf})
	return nil
}

// emitOptionTags writes one OPTION tag per declared kernel option,
// with the environment's value.
func (l *Loader) emitOptionTags() error {
	for _, it := range l.itags {
		if it.Type != ITagOption {
			continue
		}
		opt, err := it.decodeOption()
		if err != nil {
			return err
		}
		var value []byte
		v := l.env.Get(opt.Name)
		switch opt.Type {
		case OptionTypeBoolean:
			b := len(opt.Default) > 0 && opt.Default[0] != 0
			if v != nil && v.Type == config.TypeBoolean {
				b = v.Bool
			}
			value = []byte{0}
			if b {
				value[0] = 1
			}
		case OptionTypeString:
			s := strings.TrimRight(string(opt.Default), "\x00")
			if v != nil && v.Type == config.TypeString {
				s = v.Str
			}
			value = append([]byte(s), 0)
		case OptionTypeInteger:
			var n uint64
			if len(opt.Default) >= 8 {
				for i := 0; i < 8; i++ {
					n |= uint64(opt.Default[i]) << (8 * i)
				}
			}
			if v != nil && v.Type == config.TypeInteger {
				n = v.Int
			}
			value = make([]byte, 8)
			for i := 0; i < 8; i++ {
				value[i] = byte(n >> (8 * i))
			}
		default:
			return xerrors.Errorf("option %q has unknown type %d: %w",
				opt.Name, opt.Type, ErrMalformedImage)
		}
		l.tags.emit(TagOption, &optionHeader{
			Type:      opt.Type,
			NameSize:  uint32(len(opt.Name) + 1),
			DescSize:  1,
			ValueSize: uint32(len(value)),
		}, opt.Name, []byte{0}, value)
	}
	return nil
}

// emitBootDevTag identifies the device the kernel should treat as its
// boot device: an explicit root_device setting, or the device the
// configuration came from.
func (l *Loader) emitBootDevTag() error {
	if setting, ok := l.env.StringSetting("root_device"); ok {
		switch {
		case strings.HasPrefix(setting, "other:"):
			l.tags.emit(TagBootDev, BootDevOther, uint32(0), strings.TrimPrefix(setting, "other:"))
			return nil
		case strings.HasPrefix(setting, "uuid:"):
			l.tags.emit(TagBootDev, BootDevFS, uint32(0), strings.TrimPrefix(setting, "uuid:"))
			return nil
		default:
			dev, err := l.in.Devices.Lookup(setting)
			if err != nil {
				return err
			}
			l.emitDeviceTag(dev)
			return nil
		}
	}
	if dev := l.env.Device(); dev != nil {
		l.emitDeviceTag(dev)
		return nil
	}
	l.tags.emit(TagBootDev, BootDevNone, uint32(0))
	return nil
}

func (l *Loader) emitDeviceTag(dev device.Device) {
	if n, ok := dev.(*device.Net); ok {
		l.tags.emit(TagBootDev, BootDevNet, uint32(0), n.ServerAddr, n.ClientAddr, n.HWAddr)
		return
	}
	if m := l.in.Mounts.MountFor(dev); m != nil {
		l.tags.emit(TagBootDev, BootDevFS, uint32(0), m.UUID)
		return
	}
	l.tags.emit(TagBootDev, BootDevNone, uint32(0))
}
