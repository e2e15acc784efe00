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

// Package protocol sequences capability exchange, optional TLS upgrade,
// and authentication over a Connection, then becomes an operational
// request/response arbiter. It is the only package that knows the full
// state table; Dispatcher and Session drive it through a narrow surface.
package protocol

import (
	"crypto/tls"
	"fmt"
	"sync"

	"github.com/xprotocol-go/xprotocol/go/log"
	"github.com/xprotocol-go/xprotocol/go/xproto/auth"
	"github.com/xprotocol-go/xprotocol/go/xproto/conn"
	"github.com/xprotocol-go/xprotocol/go/xproto/errors"
	"github.com/xprotocol-go/xprotocol/go/xproto/payload"
	"github.com/xprotocol-go/xprotocol/go/xproto/registry"
)

// State is a node of the Protocol State Machine's transition table.
type State int

const (
	StateFresh State = iota
	StateNegotiating
	StateSecuring
	StateTLSHandshake
	StateAuthenticating
	StateAuthenticatingWait
	StateReady
	StateStreaming
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateFresh:
		return "Fresh"
	case StateNegotiating:
		return "Negotiating"
	case StateSecuring:
		return "Securing"
	case StateTLSHandshake:
		return "TlsHandshake"
	case StateAuthenticating:
		return "Authenticating"
	case StateAuthenticatingWait:
		return "AuthenticatingWait"
	case StateReady:
		return "Ready"
	case StateStreaming:
		return "Streaming"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Machine drives one Connection through capability negotiation,
// optional TLS, authentication, and the Ready/Streaming request cycle.
// It is not safe for concurrent Connect calls; the Session above it
// serializes everything (spec: one outstanding request at a time).
type Machine struct {
	mu    sync.Mutex
	state State

	conn          *conn.Connection
	caps          payload.Capabilities
	creds         auth.Credentials
	mechanisms    []auth.Mechanism
	activeMech    auth.Mechanism
	tlsConfig     *tls.Config
	ssl           bool
}

// New builds a Machine in state Fresh. tlsConfig may be nil even when
// ssl is true; Connect still attempts the upgrade with a zero-value
// *tls.Config in that case (equivalent to requesting default verification).
func New(c *conn.Connection, creds auth.Credentials, mechanisms []auth.Mechanism, ssl bool, tlsConfig *tls.Config) *Machine {
	return &Machine{
		state:      StateFresh,
		conn:       c,
		creds:      creds,
		mechanisms: mechanisms,
		ssl:        ssl,
		tlsConfig:  tlsConfig,
	}
}

// State returns the current state under lock.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// MechanismName returns the negotiated authentication mechanism's name,
// or "" before authentication completes.
func (m *Machine) MechanismName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeMech == nil {
		return ""
	}
	return m.activeMech.Name()
}

// Capabilities returns the frozen, post-authentication capability map.
// Safe to call concurrently once Connect has returned successfully
// (spec: ServerCapabilities are immutable after authentication).
func (m *Machine) Capabilities() payload.Capabilities {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.caps
}

func (m *Machine) transition(to State) {
	if log.V(1) {
		log.Infof("xproto: %v -> %v", m.state, to)
	}
	m.state = to
}

// Connect drives Fresh -> Negotiating -> Securing? -> TlsHandshake? ->
// Authenticating -> AuthenticatingWait -> Ready. On any failure it
// transitions to Closed, closes the Connection, and returns the typed
// error from spec.md §7.
func (m *Machine) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateFresh {
		return &errors.ProtocolError{Reason: fmt.Sprintf("Connect called from state %v", m.state)}
	}

	if err := m.negotiate(); err != nil {
		return m.fail(err)
	}

	if m.ssl {
		if err := m.secure(); err != nil {
			return m.fail(err)
		}
	}

	if err := m.authenticate(); err != nil {
		return m.fail(err)
	}

	m.transition(StateReady)
	return nil
}

func (m *Machine) fail(err error) error {
	m.transition(StateClosed)
	_ = m.conn.Close()
	return err
}

func (m *Machine) negotiate() error {
	m.transition(StateNegotiating)
	if err := m.conn.Send(registry.TypeConnCapabilitiesGet, nil); err != nil {
		return err
	}
	return m.recordCapabilitiesReply()
}

// recordCapabilitiesReply reads one reply to CapabilitiesGet and stores
// it verbatim if non-Error, per the open question in spec.md §9: any
// non-Error response to CapabilitiesGet is authoritative.
func (m *Machine) recordCapabilitiesReply() error {
	msg, err := m.conn.Receive()
	if err != nil {
		return err
	}
	if msg.Type == registry.TypeError {
		se, _ := payload.DecodeServerError(msg.Payload)
		return &errors.CapabilityError{Code: se.Code, Message: se.Message}
	}
	caps, err := payload.DecodeCapabilities(msg.Payload)
	if err != nil {
		return &errors.ProtocolError{Reason: "malformed Capabilities reply", Err: err}
	}
	m.caps = caps
	return nil
}

func (m *Machine) secure() error {
	m.transition(StateSecuring)
	setPayload := payload.EncodeCapabilities(payload.Capabilities{"tls": true})
	if err := m.conn.Send(registry.TypeConnCapabilitiesSet, setPayload); err != nil {
		return err
	}
	msg, err := m.conn.Receive()
	if err != nil {
		return err
	}
	if msg.Type == registry.TypeError {
		se, _ := payload.DecodeServerError(msg.Payload)
		return &errors.TlsError{Err: fmt.Errorf("server rejected CapabilitiesSet{tls=true}: %s", se.Message)}
	}

	m.transition(StateTLSHandshake)
	cfg := m.tlsConfig
	if cfg == nil {
		cfg = &tls.Config{}
	}
	if err := m.conn.Upgrade(cfg); err != nil {
		return err
	}

	// Re-fetch capabilities post-handshake; the server may advertise a
	// different set once the channel is encrypted.
	if err := m.conn.Send(registry.TypeConnCapabilitiesGet, nil); err != nil {
		return err
	}
	return m.recordCapabilitiesReply()
}

func (m *Machine) authenticate() error {
	m.transition(StateAuthenticating)

	// A server that does not advertise authentication.mechanisms at all
	// is offered the first preferred mechanism; an advertised list is
	// negotiated against.
	var mech auth.Mechanism
	if _, advertised := m.caps["authentication.mechanisms"]; !advertised && len(m.mechanisms) > 0 {
		mech = m.mechanisms[0]
	} else {
		negotiated, err := auth.Negotiate(m.mechanisms, authMechanisms(m.caps))
		if err != nil {
			return err
		}
		mech = negotiated
	}
	m.activeMech = mech

	start := payload.AuthStart{
		MechName: mech.Name(),
		AuthData: mech.InitialResponse(m.creds),
	}
	if err := m.conn.Send(registry.TypeSessAuthenticateStart, start.Encode()); err != nil {
		return err
	}

	m.transition(StateAuthenticatingWait)
	for {
		msg, err := m.conn.Receive()
		if err != nil {
			return err
		}
		switch msg.Type {
		case registry.TypeSessAuthenticateOk:
			return nil
		case registry.TypeSessAuthenticateContinueReply:
			cont, decErr := payload.DecodeAuthContinue(msg.Payload)
			if decErr != nil {
				return &errors.ProtocolError{Reason: "malformed AuthenticateContinue", Err: decErr}
			}
			resp, respErr := mech.ContinueResponse(m.creds, cont.AuthData)
			if respErr != nil {
				return &errors.AuthError{Stage: errors.AuthStageServer, Message: respErr.Error()}
			}
			if err := m.conn.Send(registry.TypeSessAuthenticateContinue, payload.AuthContinue{AuthData: resp}.Encode()); err != nil {
				return err
			}
		case registry.TypeError:
			se, _ := payload.DecodeServerError(msg.Payload)
			return &errors.AuthError{Stage: errors.AuthStageServer, Code: se.Code, Message: se.Message}
		default:
			return &errors.ProtocolError{Reason: fmt.Sprintf("unexpected message type %d during authentication", msg.Type)}
		}
	}
}

func authMechanisms(caps payload.Capabilities) []string {
	raw, ok := caps["authentication.mechanisms"]
	if !ok {
		return nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// BeginStream transitions Ready -> Streaming, enforcing the "at most one
// ReplyStream open" invariant. It fails with SessionClosed or a
// ProtocolError if called from any state other than Ready.
func (m *Machine) BeginStream() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StateClosed:
		return &errors.SessionClosed{}
	case StateReady:
		m.transition(StateStreaming)
		return nil
	default:
		return &errors.ProtocolError{Reason: fmt.Sprintf("cannot submit a request from state %v", m.state)}
	}
}

// EndStream transitions Streaming -> Ready on receipt of a terminal
// frame, closing the currently open ReplyStream.
func (m *Machine) EndStream() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateStreaming {
		m.transition(StateReady)
	}
}

// Close drives any state to Closed; best-effort, idempotent via
// Connection.Close's own idempotence.
func (m *Machine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transition(StateClosed)
	return m.conn.Close()
}
