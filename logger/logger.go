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

// Package logger carries the loader's diagnostic output. Everything
// user-visible goes through the console instead; this is for the debug
// log only.
package logger

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// A Logger is the minimal interface the loader needs for diagnostics.
type Logger interface {
	// Notice is for messages that the user should see.
	Notice(msg string)
	// Debug is for messages that the user should be able to find if
	// they're debugging something.
	Debug(msg string)
}

var (
	logger Logger = nullLogger{}
	lock   sync.Mutex
)

type nullLogger struct{}

func (nullLogger) Notice(string) {}
func (nullLogger) Debug(string)  {}

// Log wraps a logrus logger into the Logger interface.
type Log struct {
	log *logrus.Logger
}

func (l *Log) Notice(msg string) {
	l.log.Info(msg)
}

func (l *Log) Debug(msg string) {
	l.log.Debug(msg)
}

// New creates a Logger writing to w. Debug output is enabled when the
// KBOOT_DEBUG environment variable is set.
func New(w io.Writer) Logger {
	l := logrus.New()
	l.Out = w
	l.Formatter = &logrus.TextFormatter{
		DisableTimestamp: true,
	}
	if os.Getenv("KBOOT_DEBUG") != "" {
		l.Level = logrus.DebugLevel
	}
	return &Log{log: l}
}

// SetLogger sets the global logger to the given one, returning the
// previous logger so callers can restore it.
func SetLogger(l Logger) (old Logger) {
	lock.Lock()
	defer lock.Unlock()
	old = logger
	logger = l
	return old
}

// SimpleSetup sets up the global logger to write to stderr.
func SimpleSetup() {
	SetLogger(New(os.Stderr))
}

// Noticef notifies the user of something.
func Noticef(format string, v ...interface{}) {
	lock.Lock()
	defer lock.Unlock()
	logger.Notice(fmt.Sprintf(format, v...))
}

// Debugf records something in the debug log.
func Debugf(format string, v ...interface{}) {
	lock.Lock()
	defer lock.Unlock()
	logger.Debug(fmt.Sprintf(format, v...))
}

// Panicf notifies the user of a fatal internal inconsistency and
// panics. This is the loader's internal_error path: past it there is
// nothing to return to.
func Panicf(format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	lock.Lock()
	logger.Notice("PANIC " + msg)
	lock.Unlock()
	panic(msg)
}

// MockLogger replaces the global logger with one capturing output into
// the returned buffer, and returns a restore function. For use in
// tests.
func MockLogger() (buf *bytes.Buffer, restore func()) {
	buf = &bytes.Buffer{}
	old := SetLogger(&Log{log: &logrus.Logger{
		Out:       buf,
		Formatter: &logrus.TextFormatter{DisableTimestamp: true},
		Hooks:     make(logrus.LevelHooks),
		Level:     logrus.DebugLevel,
	}})
	return buf, func() {
		SetLogger(old)
	}
}
