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

// Simulated architecture and platform back-ends. The host harness
// uses them to dry-run a boot against disk images; tests use them to
// observe the load pipeline. Real back-ends live with the CPU and
// firmware bring-up code.

// SimArch is a simulated architecture accepting both kernel modes.
type SimArch struct {
	// Entered is set when the load pipeline reaches the jump.
	Entered bool
	// Loader is the state at entry.
	Loader *Loader
}

// SimDefaultAlignment is the preferred kernel alignment the simulated
// architecture fills in.
const SimDefaultAlignment = 0x200000

// SimMinAlignment is the fallback minimum alignment.
const SimMinAlignment = 0x100000

func (a *SimArch) Name() string { return "sim" }

func (a *SimArch) CheckKernel(l *Loader) error { return nil }

func (a *SimArch) CheckLoadParams(l *Loader, load *LoadTag) error {
	if load.Alignment == 0 {
		load.Alignment = SimDefaultAlignment
	}
	if load.MinAlignment == 0 {
		load.MinAlignment = SimMinAlignment
	}
	return nil
}

func (a *SimArch) Setup(l *Loader) error { return nil }

func (a *SimArch) Enter(l *Loader) error {
	a.Entered = true
	a.Loader = l
	return nil
}

// SimPlatform is a simulated platform: a fixed loader region, an
// optional linear framebuffer, and recorded pre-boot/reboot calls.
type SimPlatform struct {
	LoaderStart uint64
	LoaderSize  uint64

	// NoVideo makes SetVideoMode fail with ErrNoVideo.
	NoVideo bool
	// FramebufferPhys is where the simulated framebuffer lives.
	FramebufferPhys uint64

	PreBooted bool
	Rebooted  bool
}

// NewSimPlatform returns a platform with the loader occupying
// [1MiB, 2MiB) and a framebuffer at 0xE0000000.
func NewSimPlatform() *SimPlatform {
	return &SimPlatform{
		LoaderStart:     0x100000,
		LoaderSize:      0x100000,
		FramebufferPhys: 0xE0000000,
	}
}

func (p *SimPlatform) LoaderRegion() (uint64, uint64) {
	return p.LoaderStart, p.LoaderSize
}

func (p *SimPlatform) SetVideoMode(req VideoRequest) (*VideoMode, error) {
	if p.NoVideo {
		return nil, ErrNoVideo
	}
	if !req.LFB {
		return &VideoMode{
			Cols: 80, Rows: 25,
			Phys: 0xB8000, Size: 0x8000,
		}, nil
	}
	mode := &VideoMode{
		LFB:    true,
		Width:  req.Width,
		Height: req.Height,
		BPP:    req.BPP,
		Phys:   p.FramebufferPhys,
	}
	if mode.BPP == 0 {
		mode.BPP = 32
	}
	mode.Pitch = mode.Width * uint32(mode.BPP) / 8
	mode.Size = uint64(mode.Pitch) * uint64(mode.Height)
	return mode, nil
}

func (p *SimPlatform) PreBoot(l *Loader) error {
	p.PreBooted = true
	return nil
}

func (p *SimPlatform) Reboot() error {
	p.Rebooted = true
	return nil
}
