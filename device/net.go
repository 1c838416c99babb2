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

package device

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/xerrors"
	"gopkg.in/retry.v1"

	"github.com/aejsmith/kboot/logger"
)

// netRetryStrategy bounds how hard a netboot fetch tries before the
// failure is reported.
var netRetryStrategy = retry.LimitCount(4, retry.Exponential{
	Initial:  250 * time.Millisecond,
	Factor:   2,
	MaxDelay: 2 * time.Second,
})

// Net is a network boot device. It has no random-access storage;
// files are fetched whole from a base URL.
type Net struct {
	name string
	base *url.URL

	client *http.Client

	// ServerAddr and ClientAddr describe the boot server and our
	// side of the conversation, for the boot device tag.
	ServerAddr string
	ClientAddr string
	// HWAddr is the client hardware address, if known.
	HWAddr string
}

// NewNet creates a network device fetching from baseURL.
func NewNet(name, baseURL string) (*Net, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, xerrors.Errorf("net %q: %w", name, err)
	}
	return &Net{
		name:       name,
		base:       u,
		client:     &http.Client{Timeout: 30 * time.Second},
		ServerAddr: u.Host,
	}, nil
}

func (n *Net) Name() string { return n.name }
func (n *Net) Type() Type   { return TypeNet }

func (n *Net) Read(buf []byte, offset uint64) error {
	return ErrNoRandomAccess
}

func (n *Net) Identify(kind IdentifyKind) string {
	switch kind {
	case IdentLong:
		return fmt.Sprintf("network boot\nserver: %s\nbase: %s", n.ServerAddr, n.base)
	default:
		return fmt.Sprintf("net (%s)", n.base)
	}
}

// Fetch retrieves the file at the given device-relative path. Any
// failed attempt, including an HTTP error status, is retried with an
// exponential backoff, up to four attempts in all.
func (n *Net) Fetch(path string) ([]byte, error) {
	ref := *n.base
	ref.Path = strings.TrimSuffix(ref.Path, "/") + "/" + strings.TrimPrefix(path, "/")

	var lastErr error
	for a := retry.Start(netRetryStrategy, nil); a.Next(); {
		data, err := n.fetchOnce(ref.String())
		if err == nil {
			return data, nil
		}
		lastErr = err
		logger.Debugf("net %q: fetch %q failed, retrying: %v", n.name, path, err)
	}
	return nil, xerrors.Errorf("net %q: fetch %q: %w", n.name, path, lastErr)
}

func (n *Net) fetchOnce(url string) ([]byte, error) {
	rsp, err := n.client.Get(url)
	if err != nil {
		return nil, err
	}
	defer rsp.Body.Close()
	if rsp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned %s", rsp.Status)
	}
	return io.ReadAll(rsp.Body)
}
