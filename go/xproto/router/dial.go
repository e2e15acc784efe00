/*
Copyright 2019 The Vitess Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package router

import (
	"context"
	"net"
	"time"

	"github.com/xprotocol-go/xprotocol/go/netutil"
)

// DialSocketFactory is the concrete default SocketFactory: TCP when an
// Endpoint carries Host/Port, unix domain socket when it carries
// SocketPath. It is a thin net.Dialer wrapper, not the business logic
// spec.md's Non-goals exclude -- it makes no decision about which
// endpoint to try or in what order, that is the Router's job.
type DialSocketFactory struct {
	// Timeout bounds a single dial attempt. Zero means no timeout
	// beyond the context passed to Dial.
	Timeout time.Duration
}

func (f DialSocketFactory) Dial(ctx context.Context, ep Endpoint) (net.Conn, error) {
	d := net.Dialer{Timeout: f.Timeout}
	if ep.SocketPath != "" {
		return d.DialContext(ctx, "unix", ep.SocketPath)
	}
	return d.DialContext(ctx, "tcp", netutil.JoinHostPort(ep.Host, ep.Port))
}
