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
	"errors"
	"net"
)

// IsTransient reports whether an endpoint-acquisition failure is the
// kind the Router should absorb by marking the endpoint unavailable and
// trying the next one: name resolution (*net.DNSError), any *net.OpError
// from a dial, read, or write (which covers connection refused and host
// unreachable), or a timeout. Everything else (programmer errors, unexpected
// exception types) short-circuits the failover traversal instead of
// being pattern-matched away -- see spec.md §9 design note 5.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Timeout() {
			return true
		}
		switch opErr.Op {
		case "dial", "read", "write":
			return true
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return false
}
