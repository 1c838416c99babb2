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
)

type valueSuite struct{}

var _ = Suite(&valueSuite{})

func (s *valueSuite) TestCopyIsDeep(c *C) {
	v := config.ListValue(config.IntegerValue(1), config.ListValue(config.StringValue("x")))
	cp := v.Copy()
	cp.List[1].List[0].Str = "changed"
	c.Check(v.List[1].List[0].Str, Equals, "x")
}

func (s *valueSuite) TestMoveEmptiesSource(c *C) {
	v := config.ListValue(config.IntegerValue(1))
	moved := v.Move()
	c.Check(moved.List, HasLen, 1)
	c.Check(v.Type, Equals, config.TypeList)
	c.Check(v.List, HasLen, 0)
}

func (s *valueSuite) TestEquals(c *C) {
	c.Check(config.IntegerValue(5).Equals(config.IntegerValue(5)), Equals, true)
	c.Check(config.IntegerValue(5).Equals(config.IntegerValue(6)), Equals, false)
	c.Check(config.BooleanValue(true).Equals(config.BooleanValue(true)), Equals, true)
	c.Check(config.StringValue("a").Equals(config.StringValue("a")), Equals, true)
	c.Check(config.StringValue("a").Equals(config.IntegerValue(1)), Equals, false)
	// Lists never compare equal.
	c.Check(config.ListValue().Equals(config.ListValue()), Equals, false)
}

func testEnv(c *C, pairs ...interface{}) *config.Environ {
	env := config.NewEnviron(nil)
	for i := 0; i < len(pairs); i += 2 {
		name := pairs[i].(string)
		env.Set(name, pairs[i+1].(*config.Value))
	}
	return env
}

func (s *valueSuite) TestSubstituteReference(c *C) {
	env := testEnv(c, "kernel", config.StringValue("/vmlinuz"))
	v := config.ReferenceValue("kernel")
	c.Assert(v.Substitute(env), IsNil)
	c.Check(v.Type, Equals, config.TypeString)
	c.Check(v.Str, Equals, "/vmlinuz")
}

func (s *valueSuite) TestSubstituteReferenceMissing(c *C) {
	env := testEnv(c)
	v := config.ReferenceValue("missing")
	err := v.Substitute(env)
	c.Assert(err, NotNil)
	nf, ok := err.(*config.VariableNotFoundError)
	c.Assert(ok, Equals, true)
	c.Check(nf.Name, Equals, "missing")
	// The value is unchanged on failure.
	c.Check(v.Type, Equals, config.TypeReference)
}

func (s *valueSuite) TestSubstituteString(c *C) {
	env := testEnv(c,
		"x", config.IntegerValue(42),
		"flag", config.BooleanValue(false),
		"name", config.StringValue("world"))

	v := config.StringValue("hello ${x} ${name} ${flag}!")
	c.Assert(v.Substitute(env), IsNil)
	c.Check(v.Str, Equals, "hello 42 world false!")
}

func (s *valueSuite) TestSubstituteResumesAfterSplice(c *C) {
	// Substituted text is not itself re-scanned.
	env := testEnv(c, "a", config.StringValue("${b}"), "b", config.StringValue("nope"))
	v := config.StringValue("=${a}=")
	c.Assert(v.Substitute(env), IsNil)
	c.Check(v.Str, Equals, "=${b}=")
}

func (s *valueSuite) TestSubstituteStringMissing(c *C) {
	env := testEnv(c)
	v := config.StringValue("${missing}")
	err := v.Substitute(env)
	c.Assert(err, FitsTypeOf, &config.VariableNotFoundError{})
	// Original preserved on failure.
	c.Check(v.Str, Equals, "${missing}")
}

func (s *valueSuite) TestSubstituteNotStringifiable(c *C) {
	env := testEnv(c, "l", config.ListValue(config.IntegerValue(1)))
	v := config.StringValue("x=${l}")
	err := v.Substitute(env)
	c.Assert(err, FitsTypeOf, &config.NotStringifiableError{})
	c.Check(v.Str, Equals, "x=${l}")
}

func (s *valueSuite) TestSubstituteUnclosedIgnored(c *C) {
	// An unclosed reference is consumed but ignored.
	env := testEnv(c, "x", config.IntegerValue(1))
	v := config.StringValue("a${x")
	c.Assert(v.Substitute(env), IsNil)
	c.Check(v.Str, Equals, "a")
}

func (s *valueSuite) TestSubstituteDollarWithoutBrace(c *C) {
	env := testEnv(c)
	v := config.StringValue("cost $5 and $")
	c.Assert(v.Substitute(env), IsNil)
	c.Check(v.Str, Equals, "cost $5 and $")
}

func (s *valueSuite) TestSubstituteRecursesLists(c *C) {
	env := testEnv(c, "x", config.IntegerValue(7))
	v := config.ListValue(config.StringValue("${x}"), config.ListValue(config.ReferenceValue("x")))
	c.Assert(v.Substitute(env), IsNil)
	c.Check(v.List[0].Str, Equals, "7")
	c.Check(v.List[1].List[0].Int, Equals, uint64(7))
}

func (s *valueSuite) TestSubstitutePreservesNonReferenceLeaves(c *C) {
	// Values with no references pass through substitution unchanged.
	env := testEnv(c, "x", config.IntegerValue(1))
	v := config.ListValue(config.IntegerValue(3), config.BooleanValue(true), config.StringValue("plain"))
	want := v.Copy()
	c.Assert(v.Substitute(env), IsNil)
	c.Check(v, DeepEquals, want)
}

func (s *valueSuite) TestSubstituteLeavesCommandLists(c *C) {
	// Command blocks substitute when executed, not when the block
	// value itself is substituted.
	env := testEnv(c)
	v := &config.Value{Type: config.TypeCommandList, Cmds: config.CommandList{
		{Name: "set", Args: config.ValueList{config.StringValue("a"), config.ReferenceValue("later")}},
	}}
	c.Assert(v.Substitute(env), IsNil)
	c.Check(v.Cmds[0].Args[1].Type, Equals, config.TypeReference)
}
