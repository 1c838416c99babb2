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
	. "gopkg.in/check.v1"

	"github.com/aejsmith/kboot/config"
	"github.com/aejsmith/kboot/device"
	"github.com/aejsmith/kboot/fs"
	"github.com/aejsmith/kboot/fs/fstest"
)

type environSuite struct{}

var _ = Suite(&environSuite{})

func (s *environSuite) TestInheritance(c *C) {
	parent := config.NewEnviron(nil)
	parent.Set("kernel", config.StringValue("/vmlinuz"))
	parent.Set("timeout", config.IntegerValue(5))
	parent.Set("default", config.StringValue("linux"))
	parent.Set("hidden", config.BooleanValue(true))

	child := config.NewEnviron(parent)
	// Ordinary entries are copied...
	v := child.Get("kernel")
	c.Assert(v, NotNil)
	c.Check(v.Str, Equals, "/vmlinuz")
	// ...as deep copies, not aliases.
	v.Str = "changed"
	c.Check(parent.Get("kernel").Str, Equals, "/vmlinuz")

	// The no-inherit set is absent from the child.
	c.Check(child.Get("timeout"), IsNil)
	c.Check(child.Get("default"), IsNil)
	c.Check(child.Get("hidden"), IsNil)
}

func (s *environSuite) TestInheritDeviceAndDirectory(c *C) {
	dev := fstest.NewDevice("vda", map[string]string{"boot/x": "1"})
	reg := device.NewRegistry()
	reg.Register(dev)
	mounts := fs.NewMountTable()
	m, err := mounts.Probe(dev)
	c.Assert(err, IsNil)

	r := &fs.Resolver{Devices: reg, Mounts: mounts}
	dir, err := r.Open("(vda)/boot", nil, fs.TypeDir)
	c.Assert(err, IsNil)
	defer dir.Release()

	parent := config.NewEnviron(nil)
	parent.SetDevice(dev, m)
	parent.SetDirectory(dir)

	child := config.NewEnviron(parent)
	c.Check(child.Device(), Equals, device.Device(dev))
	c.Check(child.Directory(), Equals, dir)

	// The reserved device entry is maintained and inherited.
	c.Check(parent.Get("device").Str, Equals, "vda")
	c.Check(child.Get("device").Str, Equals, "vda")
}

func (s *environSuite) TestNamesOrdered(c *C) {
	env := config.NewEnviron(nil)
	env.Set("b", config.IntegerValue(1))
	env.Set("a", config.IntegerValue(2))
	env.Set("c", config.IntegerValue(3))
	env.Set("a", config.IntegerValue(4)) // update keeps position
	c.Check(env.Names(), DeepEquals, []string{"b", "a", "c"})
	env.Unset("b")
	c.Check(env.Names(), DeepEquals, []string{"a", "c"})
}

func (s *environSuite) TestSetLoaderLocks(c *C) {
	env := config.NewEnviron(nil)
	c.Check(env.HasLoader(), Equals, false)

	c.Assert(env.SetLoader(testLoaderOps{}, "private"), IsNil)
	c.Check(env.HasLoader(), Equals, true)
	ops, priv := env.Loader()
	c.Check(ops, NotNil)
	c.Check(priv, Equals, "private")

	c.Check(env.SetLoader(testLoaderOps{}, nil), Equals, config.ErrLoaderAlreadySet)
}

func (s *environSuite) TestNameValidity(c *C) {
	c.Check(config.IsValidName("abc_123"), Equals, true)
	c.Check(config.IsValidName(""), Equals, false)
	c.Check(config.IsValidName("a-b"), Equals, false)
	c.Check(config.IsReservedName("device"), Equals, true)
	c.Check(config.IsReservedName("device_label"), Equals, true)
	c.Check(config.IsReservedName("device_uuid"), Equals, true)
	c.Check(config.IsReservedName("devices"), Equals, false)
}

type testLoaderOps struct{}

func (testLoaderOps) LoaderName() string { return "test" }

func (testLoaderOps) Load(in *config.Interp, env *config.Environ) error {
	return nil
}
