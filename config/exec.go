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
	"sync"

	"github.com/aejsmith/kboot/console"
	"github.com/aejsmith/kboot/device"
	"github.com/aejsmith/kboot/fs"
	"github.com/aejsmith/kboot/logger"
)

// CmdFunc implements one configuration command. Arguments have
// already had variable substitution applied.
type CmdFunc func(in *Interp, args ValueList) error

type cmdInfo struct {
	name string
	help string
	fn   CmdFunc
}

var (
	cmdMu    sync.Mutex
	commands []cmdInfo
)

// RegisterCommand adds a command to the registry. OS loader commands
// are registered by an explicit call at startup (see
// kboot.Target.RegisterCommands).
func RegisterCommand(name, help string, fn CmdFunc) {
	cmdMu.Lock()
	defer cmdMu.Unlock()
	for _, c := range commands {
		if c.name == name {
			logger.Panicf("config: duplicate command %q", name)
		}
	}
	commands = append(commands, cmdInfo{name: name, help: help, fn: fn})
}

func lookupCommand(name string) *cmdInfo {
	cmdMu.Lock()
	defer cmdMu.Unlock()
	for i := range commands {
		if commands[i].name == name {
			return &commands[i]
		}
	}
	return nil
}

func commandList() []cmdInfo {
	cmdMu.Lock()
	defer cmdMu.Unlock()
	out := make([]cmdInfo, len(commands))
	copy(out, commands)
	return out
}

// Platform is the set of platform operations commands can reach.
type Platform interface {
	// Reboot restarts the machine; it does not return on success.
	Reboot() error
}

// Interp is the command interpreter state: the environment tree and
// the collaborators commands need. One Interp exists per loader run.
type Interp struct {
	// Root is the pristine root environment; configuration
	// environments are created as children of it.
	Root *Environ
	// Loaded is the environment of the active configuration, the
	// tree handed to the menu selector. Set by LoadInitialConfig and
	// replaced by the config command.
	Loaded *Environ
	// Current is the environment commands execute against.
	Current *Environ

	Devices  *device.Registry
	Mounts   *fs.MountTable
	Resolver *fs.Resolver
	Console  console.Console
	Platform Platform

	// ErrorHandler directs non-fatal command errors: the config-file
	// path installs a UI error screen, the shell a print-and-return.
	ErrorHandler func(err error)

	// currentCommand is the name of the command being executed, for
	// error messages; saved and restored across nested execution.
	currentCommand string
}

// NewInterp creates an interpreter with a fresh root environment.
func NewInterp(devices *device.Registry, mounts *fs.MountTable, cons console.Console, platform Platform) *Interp {
	root := NewEnviron(nil)
	in := &Interp{
		Root:     root,
		Loaded:   root,
		Current:  root,
		Devices:  devices,
		Mounts:   mounts,
		Resolver: &fs.Resolver{Devices: devices, Mounts: mounts},
		Console:  cons,
		Platform: platform,
	}
	in.ErrorHandler = in.defaultErrorHandler
	return in
}

func (in *Interp) defaultErrorHandler(err error) {
	if in.Console != nil {
		in.Console.Printf("error: %v\n", err)
	} else {
		logger.Noticef("config: %v", err)
	}
}

// ReportError routes an error through the installed handler.
func (in *Interp) ReportError(err error) {
	if in.ErrorHandler != nil {
		in.ErrorHandler(err)
	}
}

// SwapErrorHandler installs a new error handler and returns a restore
// function; handlers are swapped on entry to each execution region.
func (in *Interp) SwapErrorHandler(h func(err error)) (restore func()) {
	old := in.ErrorHandler
	in.ErrorHandler = h
	return func() { in.ErrorHandler = old }
}

// CurrentCommand returns the name of the command currently executing.
func (in *Interp) CurrentCommand() string { return in.currentCommand }

// ExecCommand dispatches one command: the argument list is cloned and
// substituted against the current environment, the registry is
// searched, and the implementation invoked with the substituted
// arguments.
func (in *Interp) ExecCommand(cmd *Command) error {
	args := &Value{Type: TypeList, List: cmd.Args.Copy()}
	if err := args.Substitute(in.Current); err != nil {
		return err
	}

	info := lookupCommand(cmd.Name)
	if info == nil {
		return &UnknownCommandError{Name: cmd.Name}
	}

	prev := in.currentCommand
	in.currentCommand = cmd.Name
	defer func() { in.currentCommand = prev }()

	return info.fn(in, args.List)
}

// ExecList executes a command list under env, which becomes the
// current environment for the duration. Once a command sets the
// environment's loader no further command may run against it.
func (in *Interp) ExecList(list CommandList, env *Environ) error {
	prev := in.Current
	in.Current = env
	defer func() { in.Current = prev }()

	for _, cmd := range list {
		if env.HasLoader() {
			return ErrLoaderNotFinal
		}
		if err := in.ExecCommand(cmd); err != nil {
			return err
		}
	}
	return nil
}
