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

// Package console is the input/output contract between the loader's
// interactive pieces (menu, shell, error screens) and whatever
// terminal the platform provides.
package console

import (
	"errors"
	"fmt"
	"time"
)

// Key is one key press: a rune, or one of the special values below.
type Key rune

const (
	// KeyEscape is the ESC key.
	KeyEscape Key = 0x1b
	// KeyEnter is the return key.
	KeyEnter Key = '\r'
	// KeyBackspace is the erase key.
	KeyBackspace Key = 0x7f

	// Special (non-rune) keys.
	KeyUp Key = 0x110000 + iota
	KeyDown
	KeyLeft
	KeyRight
	KeyHome
	KeyEnd
)

// ErrNoInput is returned by ReadKey when the timeout elapses without
// a key press.
var ErrNoInput = errors.New("no input available")

// Console is a line-oriented output device with key input.
type Console interface {
	// Printf writes formatted text to the console.
	Printf(format string, a ...interface{})
	// ReadKey waits up to timeout for a key press; a zero timeout
	// blocks until input arrives. Returns ErrNoInput if the timeout
	// elapses first.
	ReadKey(timeout time.Duration) (Key, error)
}

// Buffer is a scripted console for tests: keys are consumed from a
// queue and output is captured.
type Buffer struct {
	keys   []Key
	Output []byte
}

// NewBuffer returns a Buffer that will replay the given keys.
func NewBuffer(keys ...Key) *Buffer {
	return &Buffer{keys: keys}
}

// AddInput appends the runes of s to the key queue.
func (b *Buffer) AddInput(s string) {
	for _, r := range s {
		b.keys = append(b.keys, Key(r))
	}
}

// AddKeys appends raw keys to the queue.
func (b *Buffer) AddKeys(keys ...Key) {
	b.keys = append(b.keys, keys...)
}

func (b *Buffer) Printf(format string, a ...interface{}) {
	b.Output = append(b.Output, fmt.Sprintf(format, a...)...)
}

// ReadKey returns the next queued key. Once the queue is empty it
// returns ErrNoInput at once, whatever the timeout, including zero.
func (b *Buffer) ReadKey(timeout time.Duration) (Key, error) {
	if len(b.keys) == 0 {
		return 0, ErrNoInput
	}
	k := b.keys[0]
	b.keys = b.keys[1:]
	return k, nil
}

// String returns the captured output.
func (b *Buffer) String() string { return string(b.Output) }
