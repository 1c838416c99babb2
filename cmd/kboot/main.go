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

// Command kboot drives the boot pipeline against disk image files:
// devices are probed, the configuration is located and executed, the
// menu shown, and the selected kernel loaded with the simulated
// architecture back-end. The resulting boot state is printed instead
// of jumped to.
package main

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jessevdk/go-flags"
	"gopkg.in/yaml.v3"

	"github.com/aejsmith/kboot/config"
	"github.com/aejsmith/kboot/console"
	"github.com/aejsmith/kboot/device"
	"github.com/aejsmith/kboot/fs"
	_ "github.com/aejsmith/kboot/fs/iso9660"
	"github.com/aejsmith/kboot/kboot"
	"github.com/aejsmith/kboot/logger"
	"github.com/aejsmith/kboot/memory"
	"github.com/aejsmith/kboot/menu"
	"github.com/aejsmith/kboot/shell"
)

type options struct {
	Images    []string `short:"i" long:"image" description:"Register a disk image as NAME=PATH (repeatable)" value-name:"NAME=PATH"`
	DeviceMap string   `long:"device-map" description:"YAML device map file" value-name:"FILE"`

	BootDevice string `long:"boot-device" description:"Device to load the configuration from"`
	BootDir    string `long:"boot-dir" description:"Directory searched first for kboot.cfg"`
	Config     string `long:"config" description:"Configuration file path (must exist)"`

	Boot    string `long:"boot" description:"Boot the named menu entry without showing the menu"`
	Shell   bool   `long:"shell" description:"Go straight to the interactive shell"`
	Memory  uint64 `long:"memory" default:"64" description:"Simulated memory size in MiB"`
	Version bool   `long:"version" description:"Print the loader version"`
}

// deviceMap is the YAML device map format.
type deviceMap struct {
	Devices []struct {
		Name      string `yaml:"name"`
		Path      string `yaml:"path"`
		URL       string `yaml:"url"`
		BlockSize uint64 `yaml:"block-size"`
	} `yaml:"devices"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "kboot: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger.SimpleSetup()

	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		if flags.WroteHelp(err) {
			return nil
		}
		return err
	}
	if opts.Version {
		fmt.Printf("kboot %s\n", config.LoaderVersion)
		return nil
	}

	registry := device.NewRegistry()
	mounts := fs.NewMountTable()
	if err := registerDevices(registry, &opts); err != nil {
		return err
	}

	mem := memory.New()
	mem.Add(0x100000, opts.Memory<<20, memory.Free)
	arch := &kboot.SimArch{}
	platform := kboot.NewSimPlatform()
	target := &kboot.Target{Mem: mem, Arch: arch, Platform: platform}
	target.RegisterCommands()

	cons, err := console.NewTerm()
	if err != nil {
		return err
	}
	defer cons.Restore()

	in := config.NewInterp(registry, mounts, cons, platform)

	if !opts.Shell {
		if err := loadConfig(in, registry, mounts, &opts); err != nil {
			in.ReportError(err)
			opts.Shell = true
		}
	}

	if opts.Shell {
		return shell.New(in, cons).Run()
	}

	env, err := selectEntry(in, cons, &opts)
	if errors.Is(err, menu.ErrCancelled) {
		return shell.New(in, cons).Run()
	}
	if err != nil {
		return err
	}
	if !env.HasLoader() {
		in.ReportError(fmt.Errorf("entry %q has no loader command", env.Title))
		return shell.New(in, cons).Run()
	}

	ops, _ := env.Loader()
	if err := ops.Load(in, env); err != nil {
		// Boot errors drop to the shell.
		in.ReportError(err)
		return shell.New(in, cons).Run()
	}
	if arch.Entered {
		dumpBootState(cons, arch.Loader)
	} else if platform.Rebooted {
		cons.Printf("(reboot requested)\n")
	}
	return nil
}

func registerDevices(registry *device.Registry, opts *options) error {
	specs := opts.Images
	if opts.DeviceMap != "" {
		data, err := os.ReadFile(opts.DeviceMap)
		if err != nil {
			return err
		}
		var dm deviceMap
		if err := yaml.Unmarshal(data, &dm); err != nil {
			return fmt.Errorf("parsing device map: %v", err)
		}
		for _, d := range dm.Devices {
			if d.URL != "" {
				n, err := device.NewNet(d.Name, d.URL)
				if err != nil {
					return err
				}
				registry.Register(n)
				continue
			}
			if err := registerImage(registry, d.Name, d.Path, d.BlockSize); err != nil {
				return err
			}
		}
	}
	for _, spec := range specs {
		name, path, ok := strings.Cut(spec, "=")
		if !ok {
			return fmt.Errorf("bad --image %q (want NAME=PATH)", spec)
		}
		if err := registerImage(registry, name, path, 0); err != nil {
			return err
		}
	}
	if len(registry.List()) == 0 {
		return fmt.Errorf("no devices: pass --image or --device-map")
	}
	return nil
}

func registerImage(registry *device.Registry, name, path string, blockSize uint64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	if blockSize == 0 {
		blockSize = 512
		if strings.HasSuffix(path, ".iso") {
			blockSize = 2048
		}
	}
	disk := device.NewDisk(name, f, uint64(st.Size()), blockSize)
	registry.Register(disk)
	device.ProbePartitions(registry, disk)
	return nil
}

// loadConfig finds the boot device and loads the configuration per
// the discovery order.
func loadConfig(in *config.Interp, registry *device.Registry, mounts *fs.MountTable, opts *options) error {
	if opts.BootDevice != "" {
		dev, err := registry.Lookup(opts.BootDevice)
		if err != nil {
			return err
		}
		return in.LoadInitialConfig(dev, opts.BootDir, opts.Config)
	}
	for _, dev := range registry.List() {
		if _, err := mounts.Probe(dev); err != nil {
			continue
		}
		err := in.LoadInitialConfig(dev, opts.BootDir, opts.Config)
		if err == nil || !errors.Is(err, config.ErrConfigNotFound) {
			return err
		}
	}
	return config.ErrConfigNotFound
}

func selectEntry(in *config.Interp, cons console.Console, opts *options) (*config.Environ, error) {
	if opts.Boot != "" {
		for _, e := range in.Loaded.MenuEntries {
			if e.Title == opts.Boot {
				return e, nil
			}
		}
		return nil, fmt.Errorf("no menu entry %q", opts.Boot)
	}
	return menu.Select(in.Loaded, cons)
}

// dumpBootState prints what would have been handed to the kernel.
func dumpBootState(cons console.Console, l *kboot.Loader) {
	cons.Printf("\nboot state:\n")
	cons.Printf("  mode:        %d-bit\n", map[kboot.Mode]int{kboot.Mode32: 32, kboot.Mode64: 64}[l.Mode()])
	cons.Printf("  entry:       0x%x\n", l.Entry())
	cons.Printf("  kernel phys: 0x%x\n", l.KernelPhys())
	cons.Printf("  tags:        0x%x (virt 0x%x)\n", l.TagsPhys(), l.TagsVirt())

	cons.Printf("segments:\n")
	for _, seg := range l.Segments() {
		cons.Printf("  [0x%012x,+0x%x)\n", seg.Addr, len(seg.Data))
	}

	cons.Printf("virtual map:\n")
	for _, m := range l.MMU().Mappings() {
		cons.Printf("  0x%016x -> 0x%012x +0x%x\n", m.Virt, m.Phys, m.Size)
	}

	cons.Printf("information tags:\n")
	for _, seg := range l.Segments() {
		if seg.Addr != l.TagsPhys() {
			continue
		}
		off := 0
		for {
			typ := binary.LittleEndian.Uint32(seg.Data[off:])
			size := binary.LittleEndian.Uint32(seg.Data[off+4:])
			cons.Printf("  %-10s size %d\n", tagName(typ), size)
			if typ == kboot.TagNone {
				break
			}
			off += int(size)
			off = (off + 7) &^ 7
		}
	}
}

func tagName(typ uint32) string {
	names := map[uint32]string{
		kboot.TagNone:     "NONE",
		kboot.TagCore:     "CORE",
		kboot.TagOption:   "OPTION",
		kboot.TagMemory:   "MEMORY",
		kboot.TagVMem:     "VMEM",
		kboot.TagModule:   "MODULE",
		kboot.TagVideo:    "VIDEO",
		kboot.TagBootDev:  "BOOTDEV",
		kboot.TagSections: "SECTIONS",
		kboot.TagLog:      "LOG",
	}
	if n, ok := names[typ]; ok {
		return n
	}
	return fmt.Sprintf("tag-%d", typ)
}
