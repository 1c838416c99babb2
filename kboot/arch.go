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
	"errors"
)

// Mode is the kernel's execution mode.
type Mode int

const (
	// Mode32 is a 32-bit kernel.
	Mode32 Mode = iota
	// Mode64 is a 64-bit kernel.
	Mode64
)

// ErrNoVideo is returned by platforms without video mode support.
var ErrNoVideo = errors.New("no video support")

// Arch is the architecture back-end: CPU validation, load parameter
// defaults, extra mappings, and the final entry. Real implementations
// live with the CPU bring-up code, outside this package.
type Arch interface {
	// Name returns the architecture name.
	Name() string
	// CheckKernel validates CPU features against the kernel image.
	CheckKernel(l *Loader) error
	// CheckLoadParams validates and fills in the architecture's
	// default load parameters.
	CheckLoadParams(l *Loader, load *LoadTag) error
	// Setup inserts any architecture-required mappings into the
	// kernel's address space.
	Setup(l *Loader) error
	// Enter builds the real page tables from the recorded contexts,
	// runs the trampoline and jumps to the kernel. It does not
	// return on success.
	Enter(l *Loader) error
}

// VideoRequest is a parsed video_mode setting.
type VideoRequest struct {
	// LFB selects a linear framebuffer over VGA text.
	LFB    bool
	Width  uint32
	Height uint32
	BPP    uint8
}

// VideoMode describes the mode the platform actually set.
type VideoMode struct {
	LFB    bool
	Width  uint32
	Height uint32
	BPP    uint8
	Pitch  uint32
	// Phys is the framebuffer (or VGA memory) physical address;
	// Size its page-rounded extent.
	Phys uint64
	Size uint64
	// Cols/Rows for VGA text modes.
	Cols uint8
	Rows uint8
}

// Platform is the firmware back-end the load path touches.
type Platform interface {
	// LoaderRegion returns the physical range occupied by the
	// loader itself; it is protected during loading and identity
	// mapped for the trampoline.
	LoaderRegion() (start, size uint64)
	// SetVideoMode switches video modes, returning ErrNoVideo when
	// the platform has no video support.
	SetVideoMode(req VideoRequest) (*VideoMode, error)
	// PreBoot is called once the information tag list is complete;
	// on UEFI this is where boot services are exited. No console or
	// device access is allowed afterwards.
	PreBoot(l *Loader) error
	// Reboot restarts the machine.
	Reboot() error
}
