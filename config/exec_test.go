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

package config_test

import (
	"errors"

	. "gopkg.in/check.v1"

	"github.com/aejsmith/kboot/config"
	"github.com/aejsmith/kboot/console"
	"github.com/aejsmith/kboot/device"
	"github.com/aejsmith/kboot/fs"
	"github.com/aejsmith/kboot/fs/fstest"
)

type execSuite struct {
	cons     *console.Buffer
	platform *fakePlatform
	in       *config.Interp
}

var _ = Suite(&execSuite{})

type fakePlatform struct {
	rebooted bool
}

func (p *fakePlatform) Reboot() error {
	p.rebooted = true
	return nil
}

func (s *execSuite) SetUpTest(c *C) {
	s.cons = console.NewBuffer()
	s.platform = &fakePlatform{}
	s.in = config.NewInterp(device.NewRegistry(), fs.NewMountTable(), s.cons, s.platform)
}

// run parses and executes a script in the interpreter's current
// environment.
func (s *execSuite) run(c *C, script string) error {
	cmds, err := config.NewParser("test.cfg", config.NewStringSource(script)).Parse()
	c.Assert(err, IsNil)
	return s.in.ExecList(cmds, s.in.Current)
}

func (s *execSuite) TestSetAndSubstitute(c *C) {
	err := s.run(c, "set x 42\nset y \"hello ${x}\"\n")
	c.Assert(err, IsNil)

	x := s.in.Loaded.Get("x")
	c.Assert(x, NotNil)
	c.Check(x.Type, Equals, config.TypeInteger)
	c.Check(x.Int, Equals, uint64(42))

	y := s.in.Loaded.Get("y")
	c.Assert(y, NotNil)
	c.Check(y.Str, Equals, "hello 42")
}

func (s *execSuite) TestLoaderMustBeFinal(c *C) {
	err := s.run(c, "reboot\nset x 1\n")
	c.Assert(err, NotNil)
	c.Check(err.Error(), Matches, ".*Loader command must be final command.*")
	c.Check(s.in.Loaded.Get("x"), IsNil)
	// The loader is staged, not run.
	c.Check(s.platform.rebooted, Equals, false)
	c.Check(s.in.Loaded.HasLoader(), Equals, true)
}

func (s *execSuite) TestSubstitutionFailureAborts(c *C) {
	err := s.run(c, "set y \"${missing}\"\n")
	c.Assert(err, FitsTypeOf, &config.VariableNotFoundError{})
	c.Check(err.(*config.VariableNotFoundError).Name, Equals, "missing")
	c.Check(s.in.Loaded.Get("y"), IsNil)
}

func (s *execSuite) TestUnknownCommand(c *C) {
	err := s.run(c, "frobnicate\n")
	c.Assert(err, FitsTypeOf, &config.UnknownCommandError{})
}

func (s *execSuite) TestSetReservedNameRejected(c *C) {
	for _, name := range []string{"device", "device_label", "device_uuid"} {
		err := s.run(c, "set "+name+" x\n")
		c.Check(err, FitsTypeOf, &config.ReservedNameError{})
		err = s.run(c, "unset "+name+"\n")
		c.Check(err, FitsTypeOf, &config.ReservedNameError{})
	}
}

func (s *execSuite) TestSetArgumentValidation(c *C) {
	c.Check(s.run(c, "set 1 2\n"), FitsTypeOf, &config.InvalidArgumentsError{})
	c.Check(s.run(c, "set x\n"), FitsTypeOf, &config.InvalidArgumentsError{})
	c.Check(s.run(c, "set \"a-b\" 2\n"), FitsTypeOf, &config.InvalidArgumentsError{})
}

func (s *execSuite) TestUnset(c *C) {
	err := s.run(c, "set x 1\nunset x\n")
	c.Assert(err, IsNil)
	c.Check(s.in.Loaded.Get("x"), IsNil)
}

func (s *execSuite) TestEnvPrints(c *C) {
	err := s.run(c, "set x 1\nset msg \"hi\"\nenv\n")
	c.Assert(err, IsNil)
	c.Check(s.cons.String(), Matches, `(?s).*x = 1\nmsg = "hi"\n.*`)
}

func (s *execSuite) TestVersionAndHelp(c *C) {
	c.Assert(s.run(c, "version\nhelp\n"), IsNil)
	c.Check(s.cons.String(), Matches, `(?s).*KBoot version.*`)
	c.Check(s.cons.String(), Matches, `(?s).*include.*configuration.*`)
}

func (s *execSuite) TestEntryComposesMenu(c *C) {
	err := s.run(c, `set os "test"
entry "First" {
	set tag 1
	reboot
}
entry "Second" {
	set hidden true
	reboot
}
`)
	c.Assert(err, IsNil)
	entries := s.in.Loaded.MenuEntries
	c.Assert(entries, HasLen, 2)
	c.Check(entries[0].Title, Equals, "First")
	// Entries inherit ordinary values and have their own state.
	c.Check(entries[0].Get("os").Str, Equals, "test")
	c.Check(entries[0].Get("tag").Int, Equals, uint64(1))
	c.Check(entries[0].HasLoader(), Equals, true)
	hidden, ok := entries[1].BoolSetting("hidden")
	c.Check(ok, Equals, true)
	c.Check(hidden, Equals, true)
}

func (s *execSuite) TestEntryBlockFailureDropsEntry(c *C) {
	err := s.run(c, "entry \"Bad\" {\n\tnosuchcmd\n}\n")
	c.Assert(err, FitsTypeOf, &config.UnknownCommandError{})
	c.Check(s.in.Loaded.MenuEntries, HasLen, 0)
}

func (s *execSuite) TestExitPropagates(c *C) {
	err := s.run(c, "exit\n")
	c.Check(errors.Is(err, config.ErrExit), Equals, true)
}

func (s *execSuite) TestErrorHandlerSwap(c *C) {
	var got []error
	restore := s.in.SwapErrorHandler(func(err error) { got = append(got, err) })
	s.in.ReportError(errors.New("boom"))
	restore()
	s.in.ReportError(errors.New("to console"))

	c.Assert(got, HasLen, 1)
	c.Check(got[0], ErrorMatches, "boom")
	c.Check(s.cons.String(), Matches, `(?s).*to console.*`)
}

// setupBootDevice registers a device with config files and returns
// it.
func (s *execSuite) setupBootDevice(c *C, files map[string]string) *fstest.Device {
	dev := fstest.NewDevice("vda", files)
	s.in.Devices.Register(dev)
	return dev
}

func (s *execSuite) TestIncludeDirSorted(c *C) {
	dev := s.setupBootDevice(c, map[string]string{
		"kboot.cfg":         "include /conf.d\n",
		"conf.d/10-b.cfg":   "set z \"10-b.cfg\"\n",
		"conf.d/02-a.cfg":   "set z \"02-a.cfg\"\n",
		"conf.d/05-mid.cfg": "set seen true\n",
	})
	err := s.in.LoadInitialConfig(dev, "", "")
	c.Assert(err, IsNil)

	// Lexicographic order means 10-b.cfg executes last.
	c.Check(s.in.Loaded.Get("z").Str, Equals, "10-b.cfg")
	seen, ok := s.in.Loaded.BoolSetting("seen")
	c.Check(ok, Equals, true)
	c.Check(seen, Equals, true)
}

func (s *execSuite) TestIncludeDirSkipsSubdirs(c *C) {
	dev := s.setupBootDevice(c, map[string]string{
		"kboot.cfg":          "include /conf.d\n",
		"conf.d/01-a.cfg":    "set a 1\n",
		"conf.d/sub/ign.cfg": "set b 2\n",
	})
	c.Assert(s.in.LoadInitialConfig(dev, "", ""), IsNil)
	c.Check(s.in.Loaded.Get("a"), NotNil)
	c.Check(s.in.Loaded.Get("b"), IsNil)
}

func (s *execSuite) TestIncludeSingleFile(c *C) {
	dev := s.setupBootDevice(c, map[string]string{
		"kboot.cfg": "include extra.cfg\n",
		"extra.cfg": "set from_extra true\n",
	})
	c.Assert(s.in.LoadInitialConfig(dev, "", ""), IsNil)
	v, ok := s.in.Loaded.BoolSetting("from_extra")
	c.Check(ok, Equals, true)
	c.Check(v, Equals, true)
}

func (s *execSuite) TestIncludeGlob(c *C) {
	dev := s.setupBootDevice(c, map[string]string{
		"kboot.cfg":        "include /conf.d/*.cfg\n",
		"conf.d/20-b.cfg":  "set z \"20-b\"\n",
		"conf.d/01-a.cfg":  "set z \"01-a\"\n",
		"conf.d/ignore.me": "syntax error here\n",
	})
	c.Assert(s.in.LoadInitialConfig(dev, "", ""), IsNil)
	c.Check(s.in.Loaded.Get("z").Str, Equals, "20-b")
}

func (s *execSuite) TestIncludeFailureAborts(c *C) {
	dev := s.setupBootDevice(c, map[string]string{
		"kboot.cfg":       "include /conf.d\n",
		"conf.d/01-a.cfg": "nosuchcommand\n",
		"conf.d/02-b.cfg": "set b 1\n",
	})
	err := s.in.LoadInitialConfig(dev, "", "")
	c.Assert(err, FitsTypeOf, &config.UnknownCommandError{})
}

func (s *execSuite) TestDiscoveryOrder(c *C) {
	dev := s.setupBootDevice(c, map[string]string{
		"boot/kboot.cfg": "set which \"boot\"\n",
		"kboot.cfg":      "set which \"root\"\n",
	})
	c.Assert(s.in.LoadInitialConfig(dev, "", ""), IsNil)
	c.Check(s.in.Loaded.Get("which").Str, Equals, "boot")
}

func (s *execSuite) TestDiscoveryBootDirFirst(c *C) {
	dev := s.setupBootDevice(c, map[string]string{
		"efi/kboot/kboot.cfg": "set which \"bootdir\"\n",
		"boot/kboot.cfg":      "set which \"boot\"\n",
	})
	c.Assert(s.in.LoadInitialConfig(dev, "/efi/kboot", ""), IsNil)
	c.Check(s.in.Loaded.Get("which").Str, Equals, "bootdir")
}

func (s *execSuite) TestDiscoveryOverrideMustExist(c *C) {
	dev := s.setupBootDevice(c, map[string]string{
		"kboot.cfg": "set which \"root\"\n",
	})
	err := s.in.LoadInitialConfig(dev, "", "/custom.cfg")
	c.Assert(err, NotNil)
	c.Check(errors.Is(err, fs.ErrNotFound), Equals, true)
}

func (s *execSuite) TestDiscoveryNotFound(c *C) {
	dev := s.setupBootDevice(c, map[string]string{"other.txt": "x"})
	err := s.in.LoadInitialConfig(dev, "", "")
	c.Check(errors.Is(err, config.ErrConfigNotFound), Equals, true)
	c.Check(err, ErrorMatches, "Could not find configuration file")
}

func (s *execSuite) TestConfigEnvironment(c *C) {
	dev := s.setupBootDevice(c, map[string]string{
		"kboot.cfg": "set x 1\n",
	})
	dev.UUID = "1234-uuid"
	dev.Label = "BOOT"
	c.Assert(s.in.LoadInitialConfig(dev, "", ""), IsNil)

	// The loaded environment has the boot device's identity in the
	// reserved entries.
	c.Check(s.in.Loaded.Get("device").Str, Equals, "vda")
	c.Check(s.in.Loaded.Get("device_uuid").Str, Equals, "1234-uuid")
	c.Check(s.in.Loaded.Get("device_label").Str, Equals, "BOOT")
	c.Check(s.in.Loaded.Device().Name(), Equals, "vda")
	c.Check(s.in.Loaded.Directory(), NotNil)
}

func (s *execSuite) TestConfigCommandReplacesRoot(c *C) {
	dev := s.setupBootDevice(c, map[string]string{
		"kboot.cfg": "set a 1\nconfig /other.cfg\n",
		"other.cfg": "set b 2\n",
	})
	c.Assert(s.in.LoadInitialConfig(dev, "", ""), IsNil)
	// The new configuration's environment replaced the old one.
	c.Check(s.in.Loaded.Get("b"), NotNil)
	c.Check(s.in.Loaded.Get("a"), IsNil)
}

func (s *execSuite) TestSavedDefaultEntry(c *C) {
	dev := s.setupBootDevice(c, map[string]string{
		"kboot.cfg": "set x 1\n",
		"kbootenv":  "saved_entry=Recovery\n",
	})
	c.Assert(s.in.LoadInitialConfig(dev, "", ""), IsNil)
	c.Check(s.in.Loaded.Get("default").Str, Equals, "Recovery")
}

func (s *execSuite) TestSavedDefaultDoesNotOverride(c *C) {
	dev := s.setupBootDevice(c, map[string]string{
		"kboot.cfg": "set default \"Main\"\n",
		"kbootenv":  "saved_entry=Recovery\n",
	})
	c.Assert(s.in.LoadInitialConfig(dev, "", ""), IsNil)
	c.Check(s.in.Loaded.Get("default").Str, Equals, "Main")
}
