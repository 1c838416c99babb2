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

// Package shell is the interactive fallback: a line-editing REPL
// feeding the configuration parser, sharing its grammar and error
// reporting with the file loading path.
package shell

import (
	"errors"
	"io"

	"github.com/aejsmith/kboot/config"
	"github.com/aejsmith/kboot/console"
)

const (
	// Prompt is shown at nesting depth zero.
	Prompt = "KBoot> "
	// ContPrompt is shown while a block or list is open.
	ContPrompt = "> "
)

// Shell runs configuration commands interactively.
type Shell struct {
	in   *config.Interp
	cons console.Console
	env  *config.Environ
}

// New creates a shell over the interpreter's loaded environment.
func New(in *config.Interp, cons console.Console) *Shell {
	return &Shell{in: in, cons: cons, env: in.Loaded}
}

// lineSource feeds console input to the parser one logical command
// list at a time: input ends after a line completes at nesting depth
// zero, while open blocks prompt for continuation lines.
type lineSource struct {
	cons console.Console

	line    []rune
	pos     int
	started bool
	closed  bool
}

func (s *lineSource) NextChar(nesting int) (rune, error) {
	for s.pos >= len(s.line) {
		if s.closed {
			return 0, io.EOF
		}
		if s.started && nesting == 0 {
			return 0, io.EOF
		}
		prompt := Prompt
		if s.started {
			prompt = ContPrompt
		}
		line, err := s.readLine(prompt)
		if err != nil {
			s.closed = true
			return 0, io.EOF
		}
		s.line = append(line, '\n')
		s.pos = 0
		s.started = true
	}
	r := s.line[s.pos]
	s.pos++
	return r, nil
}

// readLine reads one line with minimal editing (backspace).
func (s *lineSource) readLine(prompt string) ([]rune, error) {
	s.cons.Printf("%s", prompt)
	var line []rune
	for {
		k, err := s.cons.ReadKey(0)
		if err != nil {
			return nil, err
		}
		switch k {
		case console.KeyEnter, '\n':
			s.cons.Printf("\n")
			return line, nil
		case console.KeyBackspace:
			if len(line) > 0 {
				line = line[:len(line)-1]
				s.cons.Printf("\b \b")
			}
		default:
			if k >= ' ' && k < 0x110000 {
				line = append(line, rune(k))
				s.cons.Printf("%c", rune(k))
			}
		}
	}
}

// Run reads and executes command lists until the console closes or an
// exit is requested. Errors are printed and the prompt redisplayed.
func (s *Shell) Run() error {
	restore := s.in.SwapErrorHandler(func(err error) {
		s.cons.Printf("error: %v\n", err)
	})
	defer restore()

	for {
		src := &lineSource{cons: s.cons}
		cmds, err := config.NewParser("<shell>", src).Parse()
		if err != nil {
			s.in.ReportError(err)
			continue
		}
		if src.closed && len(cmds) == 0 {
			return nil
		}
		if len(cmds) == 0 {
			continue
		}

		err = s.in.ExecList(cmds, s.env)
		switch {
		case err == nil:
		case errors.Is(err, config.ErrExit):
			return nil
		case errors.Is(err, config.ErrConfigReplaced):
			s.env = s.in.Loaded
			continue
		default:
			s.in.ReportError(err)
			continue
		}

		if s.env.HasLoader() {
			ops, _ := s.env.Loader()
			if err := ops.Load(s.in, s.env); err != nil {
				s.in.ReportError(err)
			}
			// A failed boot leaves the environment frozen; carry
			// on in a fresh child so the shell stays usable.
			s.env = config.NewEnviron(s.env)
			s.in.Loaded = s.env
		}
	}
}
