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
	"fmt"
	"strings"
)

// ValueType discriminates the Value sum type.
type ValueType int

const (
	// TypeInteger is an unsigned 64-bit integer.
	TypeInteger ValueType = iota
	// TypeBoolean is true or false.
	TypeBoolean
	// TypeString is owned text.
	TypeString
	// TypeReference is a deferred variable lookup ($name).
	TypeReference
	// TypeList is an ordered list of values.
	TypeList
	// TypeCommandList is a block of commands.
	TypeCommandList
)

func (t ValueType) String() string {
	switch t {
	case TypeInteger:
		return "integer"
	case TypeBoolean:
		return "boolean"
	case TypeString:
		return "string"
	case TypeReference:
		return "reference"
	case TypeList:
		return "list"
	case TypeCommandList:
		return "command list"
	}
	return fmt.Sprintf("unknown-%d", int(t))
}

// Value is the typed value the configuration language operates on.
// Exactly the payload field matching Type is meaningful.
type Value struct {
	Type ValueType

	Int  uint64
	Bool bool
	// Str is the payload for both TypeString and TypeReference.
	Str  string
	List ValueList
	Cmds CommandList
}

// ValueList is an ordered list of values.
type ValueList []*Value

// Command is one parsed configuration command.
type Command struct {
	Name string
	Args ValueList
}

// CommandList is an ordered sequence of commands.
type CommandList []*Command

// IntegerValue returns a new integer value.
func IntegerValue(v uint64) *Value { return &Value{Type: TypeInteger, Int: v} }

// BooleanValue returns a new boolean value.
func BooleanValue(v bool) *Value { return &Value{Type: TypeBoolean, Bool: v} }

// StringValue returns a new string value.
func StringValue(s string) *Value { return &Value{Type: TypeString, Str: s} }

// ReferenceValue returns a new variable reference value.
func ReferenceValue(name string) *Value { return &Value{Type: TypeReference, Str: name} }

// ListValue returns a new list value owning vs.
func ListValue(vs ...*Value) *Value { return &Value{Type: TypeList, List: vs} }

// Copy returns a deep copy of the value.
func (v *Value) Copy() *Value {
	out := &Value{Type: v.Type, Int: v.Int, Bool: v.Bool, Str: v.Str}
	if v.List != nil {
		out.List = v.List.Copy()
	}
	if v.Cmds != nil {
		out.Cmds = v.Cmds.Copy()
	}
	return out
}

// Move transfers the value's content into a new value, leaving the
// source as the default value of its type.
func (v *Value) Move() *Value {
	out := &Value{Type: v.Type, Int: v.Int, Bool: v.Bool, Str: v.Str, List: v.List, Cmds: v.Cmds}
	*v = Value{Type: v.Type}
	return out
}

// Equals compares scalar and string values. Values of list or command
// list type never compare equal.
func (v *Value) Equals(other *Value) bool {
	if v.Type != other.Type {
		return false
	}
	switch v.Type {
	case TypeInteger:
		return v.Int == other.Int
	case TypeBoolean:
		return v.Bool == other.Bool
	case TypeString, TypeReference:
		return v.Str == other.Str
	}
	return false
}

// Copy returns a deep copy of the list.
func (l ValueList) Copy() ValueList {
	out := make(ValueList, len(l))
	for i, v := range l {
		out[i] = v.Copy()
	}
	return out
}

// Copy returns a deep copy of the command list.
func (l CommandList) Copy() CommandList {
	out := make(CommandList, len(l))
	for i, cmd := range l {
		out[i] = &Command{Name: cmd.Name, Args: cmd.Args.Copy()}
	}
	return out
}

// VariableGetter supplies variable values during substitution.
type VariableGetter interface {
	Get(name string) *Value
}

// Substitute resolves variable references in place: reference values
// are replaced by a copy of the target, strings get ${name}
// interpolation, and lists recurse. Command lists are left alone (they
// substitute when executed). On failure the value is unchanged.
func (v *Value) Substitute(env VariableGetter) error {
	switch v.Type {
	case TypeReference:
		target := env.Get(v.Str)
		if target == nil {
			return &VariableNotFoundError{Name: v.Str}
		}
		*v = *target.Copy()
	case TypeString:
		s, err := substituteString(v.Str, env)
		if err != nil {
			return err
		}
		v.Str = s
	case TypeList:
		list := v.List.Copy()
		for _, item := range list {
			if err := item.Substitute(env); err != nil {
				return err
			}
		}
		copy(v.List, list)
	}
	return nil
}

func isNameChar(r rune) bool {
	return (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_'
}

// substituteString performs ${name} interpolation. Scanning resumes
// after each splice, so substituted text is never re-scanned. An
// unclosed reference at end of string is consumed but ignored.
func substituteString(s string, env VariableGetter) (string, error) {
	var out strings.Builder
	i := 0
	for i < len(s) {
		if s[i] != '$' || i+1 >= len(s) || s[i+1] != '{' {
			out.WriteByte(s[i])
			i++
			continue
		}
		j := i + 2
		for j < len(s) && isNameChar(rune(s[j])) {
			j++
		}
		if j >= len(s) {
			// Unclosed reference: consumed but ignored.
			break
		}
		if s[j] != '}' {
			// Malformed reference: skip past the offending
			// character without substituting.
			i = j + 1
			continue
		}
		name := s[i+2 : j]
		target := env.Get(name)
		if target == nil {
			return "", &VariableNotFoundError{Name: name}
		}
		switch target.Type {
		case TypeInteger:
			fmt.Fprintf(&out, "%d", target.Int)
		case TypeBoolean:
			fmt.Fprintf(&out, "%t", target.Bool)
		case TypeString:
			out.WriteString(target.Str)
		default:
			return "", &NotStringifiableError{Name: name}
		}
		i = j + 1
	}
	return out.String(), nil
}

// String renders the value in configuration syntax.
func (v *Value) String() string {
	switch v.Type {
	case TypeInteger:
		return fmt.Sprintf("%d", v.Int)
	case TypeBoolean:
		return fmt.Sprintf("%t", v.Bool)
	case TypeString:
		return quoteString(v.Str)
	case TypeReference:
		return "$" + v.Str
	case TypeList:
		return "[ " + v.List.String() + " ]"
	case TypeCommandList:
		var b strings.Builder
		b.WriteString("{\n")
		for _, cmd := range v.Cmds {
			b.WriteString(cmd.Name)
			if len(cmd.Args) > 0 {
				b.WriteByte(' ')
				b.WriteString(cmd.Args.String())
			}
			b.WriteByte('\n')
		}
		b.WriteString("}")
		return b.String()
	}
	return "<invalid>"
}

// String renders the list as space-separated values.
func (l ValueList) String() string {
	parts := make([]string, len(l))
	for i, v := range l {
		parts[i] = v.String()
	}
	return strings.Join(parts, " ")
}

func quoteString(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		if r == '"' || r == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('"')
	return b.String()
}
