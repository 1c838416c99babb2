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
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/mvo5/goconfigparser"

	"github.com/aejsmith/kboot/device"
	"github.com/aejsmith/kboot/fs"
	"github.com/aejsmith/kboot/logger"
)

// ConfigFileName is the configuration file name looked for during
// discovery.
const ConfigFileName = "kboot.cfg"

// EnvFileName is the optional saved-state file next to the
// configuration, holding the saved default menu entry.
const EnvFileName = "kbootenv"

// ErrConfigNotFound is the fatal error when no configuration file
// exists at any discovery location.
var ErrConfigNotFound = errors.New("Could not find configuration file")

// splitDirPath splits a loader path into its directory portion and
// base name. The directory of "(dev)/x" is "(dev)"; a bare name has
// directory "".
func splitDirPath(path string) (dir, base string) {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		// "(dev)name" never names a file; treat anything up to ')'
		// as the directory.
		if j := strings.IndexByte(path, ')'); path != "" && path[0] == '(' && j >= 0 {
			return path[:j+1], path[j+1:]
		}
		return "", path
	}
	if i == 0 {
		return "/", path[1:]
	}
	return path[:i], path[i+1:]
}

// openWithDir opens a regular file and the directory containing it.
func (in *Interp) openWithDir(path string, from *fs.Handle) (file, dir *fs.Handle, err error) {
	file, err = in.Resolver.Open(path, from, fs.TypeRegular)
	if err != nil {
		return nil, nil, err
	}
	dirPath, _ := splitDirPath(path)
	if dirPath == "" {
		if from == nil {
			file.Release()
			return nil, nil, fs.ErrNotFound
		}
		return file, from.Retain(), nil
	}
	dir, err = in.Resolver.Open(dirPath, from, fs.TypeDir)
	if err != nil {
		file.Release()
		return nil, nil, err
	}
	return file, dir, nil
}

// ExecFile parses the content of an open configuration file and
// executes it under env. path is used for error locations.
func (in *Interp) ExecFile(path string, h *fs.Handle, env *Environ) error {
	data, err := fs.ReadAll(h)
	if err != nil {
		return err
	}
	cmds, err := NewParser(path, NewStringSource(string(data))).Parse()
	if err != nil {
		return err
	}
	return in.ExecList(cmds, env)
}

// cmdConfig replaces the configuration: the file is executed under a
// fresh child of the root environment whose device and directory are
// those of the file, and on success that environment becomes the tree
// handed to the menu selector.
func cmdConfig(in *Interp, args ValueList) error {
	if len(args) != 1 || args[0].Type != TypeString {
		return &InvalidArgumentsError{Cmd: "config", Reason: "expected a file path"}
	}
	path := args[0].Str

	file, dir, err := in.openWithDir(path, in.Current.Directory())
	if err != nil {
		return err
	}
	defer file.Release()
	defer dir.Release()

	env := NewEnviron(in.Root)
	env.SetDevice(dir.Mount.Device, dir.Mount)
	env.SetDirectory(dir)
	if err := in.ExecFile(path, file, env); err != nil {
		env.Close()
		return err
	}
	in.loadSavedEntry(dir, env)
	in.Loaded = env
	return ErrConfigReplaced
}

// cmdInclude includes a single file, every file of a directory
// (sorted by name; the filesystem's enumeration order is not
// trusted), or the sorted matches of a glob pattern, executing each
// in the current environment. The first failure aborts the include.
func cmdInclude(in *Interp, args ValueList) error {
	if len(args) != 1 || args[0].Type != TypeString {
		return &InvalidArgumentsError{Cmd: "include", Reason: "expected a path"}
	}
	path := args[0].Str

	dirPath, base := splitDirPath(path)
	if strings.ContainsAny(base, "*?[") {
		return in.includeGlob(dirPath, base)
	}

	h, err := in.Resolver.Open(path, in.Current.Directory(), fs.TypeAny)
	if err != nil {
		return err
	}
	defer h.Release()

	if !h.IsDir() {
		return in.ExecFile(path, h, in.Current)
	}
	names, err := sortedEntries(h, func(string) bool { return true })
	if err != nil {
		return err
	}
	return in.includeNames(path, h, names)
}

func (in *Interp) includeGlob(dirPath, pattern string) error {
	dir := in.Current.Directory()
	if dirPath != "" {
		var err error
		dir, err = in.Resolver.Open(dirPath, in.Current.Directory(), fs.TypeDir)
		if err != nil {
			return err
		}
		defer dir.Release()
	} else if dir == nil {
		return fs.ErrNotFound
	}
	names, err := sortedEntries(dir, func(name string) bool {
		ok, err := doublestar.Match(pattern, name)
		return err == nil && ok
	})
	if err != nil {
		return err
	}
	return in.includeNames(dirPath, dir, names)
}

// sortedEntries collects matching entry names of a directory and
// sorts them lexicographically.
func sortedEntries(dir *fs.Handle, match func(name string) bool) ([]string, error) {
	var names []string
	err := dir.Mount.FS.Iterate(dir, func(e *fs.Entry) bool {
		if e.Name != "." && e.Name != ".." && match(e.Name) {
			names = append(names, e.Name)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (in *Interp) includeNames(dirPath string, dir *fs.Handle, names []string) error {
	for _, name := range names {
		h, err := in.Resolver.Open(name, dir, fs.TypeAny)
		if err != nil {
			return err
		}
		if h.IsDir() {
			// Nested directories are silently skipped.
			h.Release()
			continue
		}
		err = in.ExecFile(dirPath+"/"+name, h, in.Current)
		h.Release()
		if err != nil {
			return err
		}
	}
	return nil
}

// loadSavedEntry reads the kbootenv file next to the configuration,
// if present, and uses its saved_entry as the menu default when the
// configuration did not set one. The file is never written.
func (in *Interp) loadSavedEntry(dir *fs.Handle, env *Environ) {
	if env.Get("default") != nil {
		return
	}
	h, err := in.Resolver.Open(EnvFileName, dir, fs.TypeRegular)
	if err != nil {
		return
	}
	defer h.Release()
	data, err := fs.ReadAll(h)
	if err != nil {
		return
	}

	cfg := goconfigparser.New()
	cfg.AllowNoSectionHeader = true
	if err := cfg.ReadString(string(data)); err != nil {
		logger.Debugf("config: malformed %s: %v", EnvFileName, err)
		return
	}
	entry, err := cfg.Get("", "saved_entry")
	if err != nil || entry == "" {
		return
	}
	logger.Debugf("config: using saved default entry %q", entry)
	env.Set("default", StringValue(entry))
}

// LoadInitialConfig finds and executes the boot configuration on the
// given device. With a non-empty override path only that location is
// tried; otherwise the boot directory, /boot and the filesystem root
// are searched in order. On success the loaded environment becomes
// in.Loaded, a child of in.Root.
func (in *Interp) LoadInitialConfig(bootDev device.Device, bootDir, override string) error {
	m, err := in.Mounts.Probe(bootDev)
	if err != nil {
		return err
	}

	var candidates []string
	if override != "" {
		candidates = []string{override}
	} else {
		if bootDir != "" {
			candidates = append(candidates, strings.TrimSuffix(bootDir, "/")+"/"+ConfigFileName)
		}
		candidates = append(candidates, "/boot/"+ConfigFileName, "/"+ConfigFileName)
	}

	for _, path := range candidates {
		file, dir, err := in.openWithDir(path, m.Root)
		if errors.Is(err, fs.ErrNotFound) && override == "" {
			continue
		}
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		logger.Debugf("config: loading %q from %q", path, bootDev.Name())
		env := NewEnviron(in.Root)
		env.SetDevice(bootDev, m)
		env.SetDirectory(dir)
		execErr := in.ExecFile(path, file, env)
		file.Release()
		if errors.Is(execErr, ErrConfigReplaced) {
			// A config command inside the file installed its own
			// replacement environment.
			dir.Release()
			env.Close()
			return nil
		}
		if execErr != nil {
			dir.Release()
			env.Close()
			return execErr
		}
		in.loadSavedEntry(dir, env)
		dir.Release()
		in.Loaded = env
		return nil
	}
	return ErrConfigNotFound
}
