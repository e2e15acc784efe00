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

// Package session exposes the single upstream surface higher layers
// consume: connect, submit, close, inspect. It owns the Router, the
// Protocol State Machine, and the Connection for exactly one logical
// database session, and serializes every operation through one mutex
// (spec.md §5: a Session is a strictly sequential actor).
package session

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/xprotocol-go/xprotocol/go/log"
	"github.com/xprotocol-go/xprotocol/go/xproto/auth"
	"github.com/xprotocol-go/xprotocol/go/xproto/conn"
	"github.com/xprotocol-go/xprotocol/go/xproto/dispatch"
	"github.com/xprotocol-go/xprotocol/go/xproto/errors"
	"github.com/xprotocol-go/xprotocol/go/xproto/payload"
	"github.com/xprotocol-go/xprotocol/go/xproto/protocol"
	"github.com/xprotocol-go/xprotocol/go/xproto/registry"
	"github.com/xprotocol-go/xprotocol/go/xproto/router"
)

// lifecycle is the tagged variant from spec.md §9 design note 2,
// replacing the source's `this._protocol = false` nullable-field
// sentinel: a Session is Fresh, Open, or Closed, never "maybe open".
type lifecycle int

const (
	lifecycleFresh lifecycle = iota
	lifecycleOpen
	lifecycleClosed
)

// Properties mirrors the environment/configuration surface of spec.md
// §6: credentials, schema, TLS request, and the ordered endpoint list.
type Properties struct {
	DBUser     string
	DBPassword string
	Schema     string
	SSL        bool
	TLSConfig  *tls.Config
	Endpoints  []router.Endpoint
	Mechanisms []auth.Mechanism

	// ReconnectInterval throttles how often the Router may begin a new
	// dial attempt across the whole endpoint list; zero disables
	// throttling. It exists so a misbehaving server pool can't be
	// hammered by a failover loop.
	ReconnectInterval time.Duration
}

// Snapshot is the diagnostic view returned by Inspect, per spec.md §6's
// inspect() -> { dbUser, host, port } extended with schema and the
// negotiated authentication mechanism.
type Snapshot struct {
	DBUser        string
	Host          string
	Port          int
	Schema        string
	AuthMechanism string
}

// Session is a strictly sequential actor: at most one outstanding
// request at a time, enforced here by mu and by the Machine's own
// Ready/Streaming state guard underneath.
type Session struct {
	mu    sync.Mutex
	state lifecycle

	props   Properties
	factory router.SocketFactory

	r       *router.Router
	machine *protocol.Machine
	c       *conn.Connection
	ep      router.Endpoint
	mech    string
	schema  string
}

// New validates props.Endpoints and returns a Fresh Session backed by
// factory. Validation failures surface immediately, before any I/O, per
// spec.md §8's boundary behaviors.
func New(props Properties, factory router.SocketFactory) (*Session, error) {
	var limiter *rate.Limiter
	if props.ReconnectInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(props.ReconnectInterval), 1)
	}
	r, err := router.New(props.Endpoints, factory, limiter, nil)
	if err != nil {
		return nil, err
	}
	return &Session{
		state:   lifecycleFresh,
		props:   props,
		factory: factory,
		r:       r,
	}, nil
}

// Connect drives the Router's failover algorithm and, on a successful
// dial, the Protocol State Machine's capability/TLS/auth sequence. It
// may only be called once; a second call on an Open or Closed Session
// fails with SessionClosed.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != lifecycleFresh {
		return &errors.SessionClosed{}
	}

	creds := auth.Credentials{Schema: s.props.Schema, User: s.props.DBUser, Password: s.props.DBPassword}

	var machine *protocol.Machine
	var connection *conn.Connection

	ep, _, err := s.r.Connect(ctx, func(ctx context.Context, nc net.Conn, ep router.Endpoint) error {
		connection = conn.New(nc)
		machine = protocol.New(connection, creds, s.props.Mechanisms, s.props.SSL, s.props.TLSConfig)
		return machine.Connect()
	})
	if err != nil {
		return err
	}

	s.ep = ep
	s.c = connection
	s.machine = machine
	s.mech = machine.MechanismName()
	s.schema = s.props.Schema
	s.state = lifecycleOpen
	log.InfoS("session connected", "host", ep.Host, "port", ep.Port, "mechanism", s.mech)
	return nil
}

// Submit sends request and drains its ReplyStream through sinks,
// returning the terminal StmtExecuteOk-shaped completion or a typed
// failure. Fails with SessionClosed if called before Connect or after
// Close.
func (s *Session) Submit(reqType uint8, reqPayload []byte, sinks dispatch.Sinks) (dispatch.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != lifecycleOpen {
		return dispatch.Item{}, &errors.SessionClosed{}
	}

	stream, err := dispatch.Submit(s.machine, s.c, reqType, reqPayload)
	if err != nil {
		return dispatch.Item{}, s.classifyPostAuthFailure(err)
	}

	// A Notice.Frame carrying a session-state change must be applied to
	// Session state before the terminal frame is delivered (spec.md
	// §4.5 clause (b)); wrapping OnSessionState here, rather than
	// requiring every caller to do it, is what makes that true
	// regardless of which sinks a caller supplies.
	forward := sinks.OnSessionState
	sinks.OnSessionState = func(ssc payload.SessionStateChanged) {
		s.applySessionState(ssc)
		if forward != nil {
			forward(ssc)
		}
	}

	result, err := dispatch.Drain(stream, sinks)
	if err != nil {
		return dispatch.Item{}, s.classifyPostAuthFailure(err)
	}
	return dispatch.Item{Kind: dispatch.KindDone, Result: result}, nil
}

// applySessionState updates the fields of Session that a
// SessionStateChanged notice can affect. Only SessionStateCurrentSchema
// has a corresponding field on Session today; other parameters
// (SessionStateRowsAffected, SessionStateGeneratedInsertID, ...) are
// already reflected in the terminal StmtExecuteOk a caller receives
// from Submit, so there is nothing further for Session to track.
func (s *Session) applySessionState(ssc payload.SessionStateChanged) {
	if ssc.Param == registry.SessionStateCurrentSchema {
		s.schema = string(ssc.Value)
	}
}

// classifyPostAuthFailure upgrades a bare TransportError observed after
// authentication into ConnectionLost (spec.md §7: the Router can no
// longer help once a Session has left the connect phase) and, for any
// non-recoverable failure, half-closes the Connection before returning.
func (s *Session) classifyPostAuthFailure(err error) error {
	out := err
	if te, ok := err.(*errors.TransportError); ok {
		out = &errors.ConnectionLost{Err: te}
	}
	_ = s.c.Close()
	s.state = lifecycleClosed
	return out
}

// Close is idempotent: closing a Fresh or already-Closed Session is a
// no-op that never errors.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != lifecycleOpen {
		s.state = lifecycleClosed
		return nil
	}
	s.state = lifecycleClosed
	return s.machine.Close()
}

// Inspect returns a diagnostic snapshot; zero-valued fields on a Fresh
// Session.
func (s *Session) Inspect() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		DBUser:        s.props.DBUser,
		Host:          s.ep.Host,
		Port:          s.ep.Port,
		Schema:        s.schema,
		AuthMechanism: s.mech,
	}
}
