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

package console

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/term"
	"gopkg.in/tomb.v2"
)

// Term is a Console over the process's controlling terminal, used by
// the host-side harness. The terminal is switched to raw mode so
// single key presses are visible.
type Term struct {
	in   *os.File
	out  *os.File
	keys chan Key

	tomb     tomb.Tomb
	oldState *term.State
}

// NewTerm opens a terminal console over stdin/stdout. Restore must be
// called before the process exits.
func NewTerm() (*Term, error) {
	t := &Term{in: os.Stdin, out: os.Stdout, keys: make(chan Key, 16)}
	if term.IsTerminal(int(t.in.Fd())) {
		state, err := term.MakeRaw(int(t.in.Fd()))
		if err != nil {
			return nil, err
		}
		t.oldState = state
	}
	t.tomb.Go(t.pump)
	return t, nil
}

// Restore puts the terminal back into its original mode and stops the
// input pump.
func (t *Term) Restore() {
	t.tomb.Kill(nil)
	if t.oldState != nil {
		term.Restore(int(t.in.Fd()), t.oldState)
		t.oldState = nil
	}
}

// pump reads bytes and decodes VT100 escape sequences into keys. It
// runs until the tomb dies or input is closed.
func (t *Term) pump() error {
	defer close(t.keys)
	buf := make([]byte, 1)
	readByte := func() (byte, bool) {
		if _, err := t.in.Read(buf); err != nil {
			return 0, false
		}
		select {
		case <-t.tomb.Dying():
			return 0, false
		default:
		}
		return buf[0], true
	}
	for {
		b, ok := readByte()
		if !ok {
			return nil
		}
		if b != 0x1b {
			t.keys <- Key(b)
			continue
		}
		// ESC alone, or a CSI sequence.
		b2, ok := readByte()
		if !ok || b2 != '[' {
			t.keys <- KeyEscape
			if ok {
				t.keys <- Key(b2)
			}
			continue
		}
		b3, ok := readByte()
		if !ok {
			return nil
		}
		switch b3 {
		case 'A':
			t.keys <- KeyUp
		case 'B':
			t.keys <- KeyDown
		case 'C':
			t.keys <- KeyRight
		case 'D':
			t.keys <- KeyLeft
		case 'H':
			t.keys <- KeyHome
		case 'F':
			t.keys <- KeyEnd
		}
	}
}

func (t *Term) Printf(format string, a ...interface{}) {
	fmt.Fprintf(t.out, format, a...)
}

func (t *Term) ReadKey(timeout time.Duration) (Key, error) {
	if timeout == 0 {
		k, ok := <-t.keys
		if !ok {
			return 0, ErrNoInput
		}
		return k, nil
	}
	select {
	case k, ok := <-t.keys:
		if !ok {
			return 0, ErrNoInput
		}
		return k, nil
	case <-time.After(timeout):
		return 0, ErrNoInput
	}
}
