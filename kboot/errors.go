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
	"errors"
)

var (
	// ErrUnknownImage is returned when the file is not a KBoot
	// kernel image at all.
	ErrUnknownImage = errors.New("not a KBoot kernel image")
	// ErrMalformedImage is returned when the image's structure or
	// image tags are invalid.
	ErrMalformedImage = errors.New("malformed kernel image")
	// ErrUnsupportedVersion is returned when the image requires a
	// newer protocol version.
	ErrUnsupportedVersion = errors.New("unsupported KBoot version")
)
