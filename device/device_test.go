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

package device_test

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"

	. "gopkg.in/check.v1"

	"github.com/aejsmith/kboot/device"
)

type deviceSuite struct{}

var _ = Suite(&deviceSuite{})

func (s *deviceSuite) TestRegistryLookup(c *C) {
	reg := device.NewRegistry()
	d := device.NewDisk("hd0", bytes.NewReader(make([]byte, 1024)), 1024, 512)
	reg.Register(d)

	got, err := reg.Lookup("hd0")
	c.Assert(err, IsNil)
	c.Check(got, Equals, device.Device(d))

	_, err = reg.Lookup("hd1")
	c.Check(errors.Is(err, device.ErrNotFound), Equals, true)
}

func (s *deviceSuite) TestRegistryDuplicatePanics(c *C) {
	reg := device.NewRegistry()
	d := device.NewDisk("hd0", bytes.NewReader(make([]byte, 1024)), 1024, 512)
	reg.Register(d)
	c.Check(func() { reg.Register(d) }, PanicMatches, ".*duplicate registration.*")
}

func (s *deviceSuite) TestDiskReadBounds(c *C) {
	data := make([]byte, 2048)
	for i := range data {
		data[i] = byte(i)
	}
	d := device.NewDisk("hd0", bytes.NewReader(data), 2048, 512)

	buf := make([]byte, 16)
	c.Assert(d.Read(buf, 512), IsNil)
	c.Check(buf[0], Equals, byte(512%256))

	c.Check(d.Read(buf, 2048-8), NotNil)
}

func (s *deviceSuite) TestNetFetch(c *C) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			// First attempt fails; the fetch retries.
			http.Error(w, "try again", http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, "content of %s", r.URL.Path)
	}))
	defer srv.Close()

	n, err := device.NewNet("net0", srv.URL+"/boot")
	c.Assert(err, IsNil)
	c.Check(n.Type(), Equals, device.TypeNet)

	data, err := n.Fetch("vmlinux")
	c.Assert(err, IsNil)
	c.Check(string(data), Equals, "content of /boot/vmlinux")

	// Byte-level access is refused.
	c.Check(n.Read(make([]byte, 4), 0), Equals, device.ErrNoRandomAccess)
}

func (s *deviceSuite) TestNetFetchNotFound(c *C) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	n, err := device.NewNet("net0", srv.URL)
	c.Assert(err, IsNil)
	_, err = n.Fetch("missing")
	c.Check(err, ErrorMatches, `(?s).*404.*`)
}
