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

// Package menu implements the timed boot menu over an environment's
// menu entries.
package menu

import (
	"errors"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/aejsmith/kboot/config"
	"github.com/aejsmith/kboot/console"
)

// ErrCancelled is returned when the user leaves the menu with ESC;
// the caller falls through to the shell.
var ErrCancelled = errors.New("menu cancelled")

// pollInterval is how long each console poll waits. The countdown is
// accounted in poll ticks.
const pollInterval = 10 * time.Millisecond

const titleWidth = 60

// Select presents the environment's menu and returns the chosen entry
// environment. An environment without menu entries selects itself.
// The countdown starts from the environment's timeout setting and is
// cancelled by the first key press; when it expires the default entry
// is chosen. Entries are shown in order of appearance; hidden entries
// are not shown but can still be the default.
func Select(env *config.Environ, cons console.Console) (*config.Environ, error) {
	if len(env.MenuEntries) == 0 {
		return env, nil
	}

	var visible []*config.Environ
	for _, e := range env.MenuEntries {
		if hidden, ok := e.BoolSetting("hidden"); ok && hidden {
			continue
		}
		visible = append(visible, e)
	}

	defaultEntry := pickDefault(env)
	if len(visible) == 0 {
		// Everything is hidden; boot the default without a menu.
		return defaultEntry, nil
	}

	selected := 0
	for i, e := range visible {
		if e == defaultEntry {
			selected = i
			break
		}
	}

	ticksLeft := -1
	if timeout, ok := env.IntSetting("timeout"); ok && timeout > 0 {
		ticksLeft = int(timeout) * int(time.Second/pollInterval)
	}

	draw(cons, visible, selected, ticksLeft)
	for {
		k, err := cons.ReadKey(pollInterval)
		if err != nil {
			if !errors.Is(err, console.ErrNoInput) {
				return nil, err
			}
			if ticksLeft < 0 {
				continue
			}
			ticksLeft--
			if ticksLeft == 0 {
				return defaultEntry, nil
			}
			if ticksLeft%int(time.Second/pollInterval) == 0 {
				draw(cons, visible, selected, ticksLeft)
			}
			continue
		}

		// Any key stops the countdown.
		if ticksLeft > 0 {
			ticksLeft = -1
		}
		switch k {
		case console.KeyUp:
			if selected > 0 {
				selected--
			}
		case console.KeyDown:
			if selected < len(visible)-1 {
				selected++
			}
		case console.KeyEnter, '\n':
			return visible[selected], nil
		case console.KeyEscape:
			return nil, ErrCancelled
		}
		draw(cons, visible, selected, ticksLeft)
	}
}

// pickDefault resolves the environment's default entry: the entry
// whose title matches the default setting, else the first entry.
func pickDefault(env *config.Environ) *config.Environ {
	if name, ok := env.StringSetting("default"); ok {
		for _, e := range env.MenuEntries {
			if e.Title == name {
				return e
			}
		}
	}
	return env.MenuEntries[0]
}

func draw(cons console.Console, entries []*config.Environ, selected, ticksLeft int) {
	cons.Printf("\n")
	for i, e := range entries {
		marker := ' '
		if i == selected {
			marker = '>'
		}
		title := runewidth.Truncate(e.Title, titleWidth, "...")
		cons.Printf(" %c %s\n", marker, runewidth.FillRight(title, titleWidth))
	}
	if ticksLeft > 0 {
		secs := ticksLeft * int(pollInterval) / int(time.Second)
		cons.Printf("Booting in %d seconds...\n", secs)
	}
}
