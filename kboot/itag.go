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
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/xerrors"
)

// NoteName is the vendor name of KBoot image tag notes.
const NoteName = "KBoot"

// ITagType identifies an image tag note.
type ITagType uint32

const (
	// ITagImage carries the protocol version and image flags.
	ITagImage ITagType = 0
	// ITagLoad carries load parameters.
	ITagLoad ITagType = 1
	// ITagOption declares a kernel option.
	ITagOption ITagType = 2
	// ITagMapping requests an additional virtual mapping.
	ITagMapping ITagType = 3
	// ITagVideo declares supported video types.
	ITagVideo ITagType = 4
)

func (t ITagType) String() string {
	switch t {
	case ITagImage:
		return "IMAGE"
	case ITagLoad:
		return "LOAD"
	case ITagOption:
		return "OPTION"
	case ITagMapping:
		return "MAPPING"
	case ITagVideo:
		return "VIDEO"
	}
	return fmt.Sprintf("unknown-%d", uint32(t))
}

// Image tag flags.
const (
	// ImageSectionsFlag requests section headers be loaded.
	ImageSectionsFlag uint32 = 1 << 0
	// ImageLogFlag requests a kernel log buffer.
	ImageLogFlag uint32 = 1 << 1
	// ImageFixedFlag requests loading at the segments' physical
	// addresses.
	ImageFixedFlag uint32 = 1 << 2
)

// Version is the image tag protocol version this loader implements.
const Version = 2

// ITag is one parsed image tag note: the type and a copy of the
// descriptor.
type ITag struct {
	Type ITagType
	Data []byte
}

// ImageTag is the decoded IMAGE descriptor.
type ImageTag struct {
	Version uint32
	Flags   uint32
}

// LoadTag is the decoded LOAD descriptor.
type LoadTag struct {
	Flags        uint32
	_            uint32
	Alignment    uint64
	MinAlignment uint64
	VirtMapBase  uint64
	VirtMapSize  uint64
}

// VideoITag is the decoded VIDEO descriptor.
type VideoITag struct {
	Types  uint32
	Width  uint32
	Height uint32
	BPP    uint8
	_      [3]uint8
}

// MappingTag is the decoded MAPPING descriptor.
type MappingTag struct {
	Virt uint64
	Phys uint64
	Size uint64
}

// Option value types.
const (
	OptionTypeBoolean uint8 = 0
	OptionTypeString  uint8 = 1
	OptionTypeInteger uint8 = 2
)

// OptionTag is the decoded OPTION descriptor.
type OptionTag struct {
	Type    uint8
	Name    string
	Desc    string
	Default []byte
}

type optionHeader struct {
	Type      uint8
	_         [3]uint8
	NameSize  uint32
	DescSize  uint32
	ValueSize uint32
}

// iterateNotes walks the ELF file's note segments, calling cb for
// each note carrying the KBoot vendor name.
func iterateNotes(f *elf.File, cb func(ntype uint32, desc []byte) error) error {
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_NOTE {
			continue
		}
		data := make([]byte, prog.Filesz)
		if _, err := io.ReadFull(prog.Open(), data); err != nil {
			return xerrors.Errorf("reading note segment: %w", err)
		}
		for len(data) >= 12 {
			namesz := binary.LittleEndian.Uint32(data[0:])
			descsz := binary.LittleEndian.Uint32(data[4:])
			ntype := binary.LittleEndian.Uint32(data[8:])
			nameEnd := 12 + int(namesz)
			descStart := align4(nameEnd)
			descEnd := descStart + int(descsz)
			if descEnd > len(data) {
				return xerrors.Errorf("truncated note: %w", ErrMalformedImage)
			}
			name := string(bytes.TrimRight(data[12:nameEnd], "\x00"))
			if name == NoteName {
				desc := make([]byte, descsz)
				copy(desc, data[descStart:descEnd])
				if err := cb(ntype, desc); err != nil {
					return err
				}
			}
			data = data[align4(descEnd):]
		}
	}
	return nil
}

func align4(n int) int { return (n + 3) &^ 3 }

// parseITags collects the image tags from the kernel's notes,
// checking the duplicate rules: OPTION and MAPPING may repeat, the
// rest may not.
func parseITags(f *elf.File) ([]*ITag, error) {
	var itags []*ITag
	seen := make(map[ITagType]bool)
	err := iterateNotes(f, func(ntype uint32, desc []byte) error {
		typ := ITagType(ntype)
		switch typ {
		case ITagImage, ITagLoad, ITagVideo:
			if seen[typ] {
				return xerrors.Errorf("duplicate %s tag: %w", typ, ErrMalformedImage)
			}
		case ITagOption, ITagMapping:
			// Repeats allowed.
		default:
			return xerrors.Errorf("unrecognized image tag %d: %w", ntype, ErrMalformedImage)
		}
		seen[typ] = true
		itags = append(itags, &ITag{Type: typ, Data: desc})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !seen[ITagImage] {
		return nil, xerrors.Errorf("image has no IMAGE tag: %w", ErrUnknownImage)
	}
	return itags, nil
}

// decode unmarshals a fixed-layout descriptor.
func (t *ITag) decode(out interface{}) error {
	if err := binary.Read(bytes.NewReader(t.Data), binary.LittleEndian, out); err != nil {
		return xerrors.Errorf("short %s descriptor: %w", t.Type, ErrMalformedImage)
	}
	return nil
}

// decodeOption unmarshals an OPTION descriptor with its trailing
// name, description and default value.
func (t *ITag) decodeOption() (*OptionTag, error) {
	var hdr optionHeader
	r := bytes.NewReader(t.Data)
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, xerrors.Errorf("short OPTION descriptor: %w", ErrMalformedImage)
	}
	fixed := binary.Size(hdr)
	rest := t.Data[fixed:]
	need := int(hdr.NameSize) + int(hdr.DescSize) + int(hdr.ValueSize)
	if len(rest) < need {
		return nil, xerrors.Errorf("short OPTION descriptor: %w", ErrMalformedImage)
	}
	opt := &OptionTag{
		Type:    hdr.Type,
		Name:    string(bytes.TrimRight(rest[:hdr.NameSize], "\x00")),
		Desc:    string(bytes.TrimRight(rest[hdr.NameSize:hdr.NameSize+hdr.DescSize], "\x00")),
		Default: rest[hdr.NameSize+hdr.DescSize : uint32(need)],
	}
	return opt, nil
}
