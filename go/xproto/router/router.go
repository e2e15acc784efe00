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

// Package router holds the priority-ordered endpoint list and the
// failover algorithm that turns it into a single live duplex stream.
// It never interprets a single byte of the protocol; that starts the
// moment attach hands the raw net.Conn to the caller (see spec.md §4.6).
package router

import (
	"context"
	"net"
	"sync"

	"golang.org/x/time/rate"

	"github.com/xprotocol-go/xprotocol/go/log"
	"github.com/xprotocol-go/xprotocol/go/netutil"
	"github.com/xprotocol-go/xprotocol/go/stats"
	"github.com/xprotocol-go/xprotocol/go/xproto/errors"
)

// SocketFactory is the Router's sole collaborator for turning an
// Endpoint into a live duplex stream. The fluent query builder, DDL
// verbs, and statement id generator are out of scope for this module
// (see spec.md Non-goals); the socket factory's own dialing logic is an
// external collaborator here too, though go/xproto/router/dial.go
// ships a concrete default so the Router is usable standalone.
type SocketFactory interface {
	Dial(ctx context.Context, ep Endpoint) (net.Conn, error)
}

// AttachFunc hands a freshly dialed net.Conn to the caller to run
// capability negotiation, TLS, and authentication. Unlike a dial
// failure, any error attach returns propagates as-is: negotiation,
// securing, and authenticating are not routing problems, so the Router
// never marks the endpoint unavailable for them (spec.md §4.6 step 3).
type AttachFunc func(ctx context.Context, c net.Conn, ep Endpoint) error

// Router holds one validated, priority-sorted endpoint list and
// remembers, across calls to Connect, which endpoints most recently
// failed with a transient error.
type Router struct {
	mu        sync.Mutex
	endpoints []Endpoint
	factory   SocketFactory
	limiter   *rate.Limiter
	metrics   *stats.CountersWithLabels
	available []bool
}

// defaultDecisions counts dial/attach outcomes across every Router that
// doesn't supply its own metrics sink, labeled by decision kind
// (connected, dial_transient, dial_fatal, attach_fatal, exhausted).
var defaultDecisions = stats.NewCountersWithLabels("XProtocolRouterDecisions", "router failover decision counts", "decision")

// New validates eps, sorts them priority-descending, and returns a
// Router backed by factory. limiter may be nil to disable reconnect
// throttling between dial attempts. metrics may be nil, in which case
// decisions are counted against the package-level defaultDecisions.
func New(eps []Endpoint, factory SocketFactory, limiter *rate.Limiter, metrics *stats.CountersWithLabels) (*Router, error) {
	if err := ValidateEndpoints(eps); err != nil {
		return nil, err
	}
	if metrics == nil {
		metrics = defaultDecisions
	}
	sorted := sortedByPriority(eps)
	available := make([]bool, len(sorted))
	for i := range available {
		available[i] = true
	}
	return &Router{
		endpoints: sorted,
		factory:   factory,
		limiter:   limiter,
		metrics:   metrics,
		available: available,
	}, nil
}

func (r *Router) label(ep Endpoint) string {
	if ep.SocketPath != "" {
		return ep.SocketPath
	}
	return netutil.JoinHostPort(ep.Host, ep.Port)
}

func (r *Router) count(name string) {
	if r.metrics != nil {
		r.metrics.Add(name, 1)
	}
}

// Connect walks the endpoint list priority-descending, skipping
// endpoints marked unavailable from a previous round, dialing and
// attaching each live candidate in turn. A transient dial failure marks
// that endpoint unavailable and advances to the next one; a
// non-transient dial failure aborts the traversal immediately without
// marking anything. Once a dial succeeds, attach takes over and any
// failure it returns propagates immediately, unconditionally -- those
// failures happen inside the Protocol State Machine, not the routing
// layer, so they never mark the endpoint unavailable. When every
// endpoint has been tried and none succeeded, Connect clears all
// unavailability marks -- so the next call starts fresh from the top --
// and fails with *errors.RouterExhaustedError.
func (r *Router) Connect(ctx context.Context, attach AttachFunc) (Endpoint, net.Conn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.endpoints) == 0 {
		return Endpoint{}, nil, &errors.RouterExhaustedError{}
	}

	for i, ep := range r.endpoints {
		if !r.available[i] {
			continue
		}

		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return Endpoint{}, nil, err
			}
		}

		c, err := r.factory.Dial(ctx, ep)
		if err != nil {
			if IsTransient(err) {
				log.Warningf("router: %s unavailable (dial): %v", r.label(ep), err)
				r.available[i] = false
				r.count("dial_transient")
				continue
			}
			r.count("dial_fatal")
			return Endpoint{}, nil, err
		}

		if err := attach(ctx, c, ep); err != nil {
			_ = c.Close()
			log.ErrorS("router: attach failed, propagating without marking endpoint unavailable", "endpoint", r.label(ep), "err", err)
			r.count("attach_fatal")
			return Endpoint{}, nil, err
		}

		r.count("connected")
		return ep, c, nil
	}

	for i := range r.available {
		r.available[i] = true
	}
	r.count("exhausted")
	return Endpoint{}, nil, &errors.RouterExhaustedError{}
}
