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

package config

import (
	"sort"

	"github.com/aejsmith/kboot/device"
)

// LoaderVersion is the loader's reported version string.
const LoaderVersion = "1.3.0"

func init() {
	RegisterCommand("help", "List available commands", cmdHelp)
	RegisterCommand("version", "Display the loader version", cmdVersion)
	RegisterCommand("env", "Display environment variables", cmdEnv)
	RegisterCommand("set", "Set an environment variable", cmdSet)
	RegisterCommand("unset", "Unset an environment variable", cmdUnset)
	RegisterCommand("entry", "Define a menu entry", cmdEntry)
	RegisterCommand("reboot", "Reboot the system", cmdReboot)
	RegisterCommand("exit", "Exit the shell", cmdExit)
	RegisterCommand("config", "Load a new configuration file", cmdConfig)
	RegisterCommand("include", "Include another configuration file or directory", cmdInclude)
	RegisterCommand("lsdevice", "List known devices", cmdLsDevice)
	RegisterCommand("lsfs", "List mounted filesystems", cmdLsFs)
}

func cmdHelp(in *Interp, args ValueList) error {
	cmds := commandList()
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].name < cmds[j].name })
	for _, c := range cmds {
		in.Console.Printf("%-12s %s\n", c.name, c.help)
	}
	return nil
}

func cmdVersion(in *Interp, args ValueList) error {
	in.Console.Printf("KBoot version %s\n", LoaderVersion)
	return nil
}

func cmdEnv(in *Interp, args ValueList) error {
	for _, name := range in.Current.Names() {
		in.Console.Printf("%s = %s\n", name, in.Current.Get(name))
	}
	return nil
}

func cmdSet(in *Interp, args ValueList) error {
	if len(args) != 2 || args[0].Type != TypeString {
		return &InvalidArgumentsError{Cmd: "set", Reason: "expected a name string and a value"}
	}
	name := args[0].Str
	if !IsValidName(name) {
		return &InvalidArgumentsError{Cmd: "set", Reason: "invalid variable name " + name}
	}
	if IsReservedName(name) {
		return &ReservedNameError{Name: name}
	}
	in.Current.Set(name, args[1])
	return nil
}

func cmdUnset(in *Interp, args ValueList) error {
	if len(args) != 1 || args[0].Type != TypeString {
		return &InvalidArgumentsError{Cmd: "unset", Reason: "expected a name string"}
	}
	if IsReservedName(args[0].Str) {
		return &ReservedNameError{Name: args[0].Str}
	}
	in.Current.Unset(args[0].Str)
	return nil
}

// cmdEntry composes a menu entry: a child environment is created and
// the block executed under it; the block's loader command freezes the
// child, which then joins the parent's menu list.
func cmdEntry(in *Interp, args ValueList) error {
	if len(args) != 2 || args[0].Type != TypeString || args[1].Type != TypeCommandList {
		return &InvalidArgumentsError{Cmd: "entry", Reason: "expected a title string and a command block"}
	}
	parent := in.Current
	env := NewEnviron(parent)
	env.Title = args[0].Str
	if err := in.ExecList(args[1].Cmds, env); err != nil {
		env.Close()
		return err
	}
	parent.MenuEntries = append(parent.MenuEntries, env)
	return nil
}

// rebootOps is the trivial loader back-end behind the reboot command.
type rebootOps struct{}

func (rebootOps) LoaderName() string { return "reboot" }

func (rebootOps) Load(in *Interp, env *Environ) error {
	return in.Platform.Reboot()
}

func cmdReboot(in *Interp, args ValueList) error {
	return in.Current.SetLoader(rebootOps{}, nil)
}

func cmdExit(in *Interp, args ValueList) error {
	return ErrExit
}

func cmdLsDevice(in *Interp, args ValueList) error {
	if len(args) == 1 && args[0].Type == TypeString {
		dev, err := in.Devices.Lookup(args[0].Str)
		if err != nil {
			return err
		}
		in.Console.Printf("%s\n", dev.Identify(device.IdentLong))
		return nil
	}
	for _, dev := range in.Devices.List() {
		in.Console.Printf("%-12s %s\n", dev.Name(), dev.Identify(device.IdentShort))
	}
	return nil
}

func cmdLsFs(in *Interp, args ValueList) error {
	for _, m := range in.Mounts.Mounts() {
		in.Console.Printf("%-12s %-8s uuid %q label %q\n",
			m.Device.Name(), m.FS.Name(), m.UUID, m.Label)
	}
	return nil
}
