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

// Package conn owns the one duplex byte stream behind a Session and
// offers send/receive as the only I/O primitives, plus a one-shot TLS
// upgrade. It has no knowledge of capabilities, authentication, or
// request/reply correlation -- those live in protocol and dispatch.
package conn

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"sync"
	"time"

	"github.com/xprotocol-go/xprotocol/go/log"
	"github.com/xprotocol-go/xprotocol/go/xproto/errors"
	"github.com/xprotocol-go/xprotocol/go/xproto/frame"
)

// drainDeadline bounds how long close() waits to drain pending reads
// before releasing the stream.
const drainDeadline = 200 * time.Millisecond

// readChunkSize is how much we ask the stream for per Read call while
// filling the frame decoder.
const readChunkSize = 4096

// Connection owns one duplex byte stream exclusively. send and receive
// are the only I/O primitives; callers above this layer serialize access
// (the Protocol State Machine and Dispatcher never call concurrently on
// the same Connection).
type Connection struct {
	mu       sync.Mutex
	stream   net.Conn
	dec      *frame.Decoder
	poisoned bool
	upgraded bool
	closed   bool
}

// New wraps an already-established duplex stream. The stream is assumed
// connected; Connection never dials.
func New(stream net.Conn) *Connection {
	return &Connection{
		stream: stream,
		dec:    frame.NewDecoder(),
	}
}

// Poisoned reports whether a prior send/receive failure has disabled
// this Connection for further I/O.
func (c *Connection) Poisoned() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.poisoned
}

// Send encodes and writes one message atomically. On write failure the
// Connection is marked poisoned and all subsequent sends fail fast.
func (c *Connection) Send(typeID uint8, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.poisoned {
		return &errors.TransportError{Op: "send", Err: io.ErrClosedPipe}
	}

	wire := frame.Encode(typeID, payload)
	if _, err := c.stream.Write(wire); err != nil {
		c.poisoned = true
		log.WarnS("xproto: connection poisoned", "op", "send", "err", err)
		return &errors.TransportError{Op: "send", Err: err}
	}
	return nil
}

// Receive reads until the Decoder yields one complete frame.
func (c *Connection) Receive() (frame.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.receiveLocked()
}

func (c *Connection) receiveLocked() (frame.Message, error) {
	for {
		msg, ok, err := c.dec.Next()
		if err != nil {
			c.poisoned = true
			log.WarnS("xproto: connection poisoned", "op", "decode", "err", err)
			return frame.Message{}, &errors.ProtocolError{Reason: "frame decode failed", Err: err}
		}
		if ok {
			return msg, nil
		}

		if c.poisoned {
			return frame.Message{}, &errors.TransportError{Op: "receive", Err: io.ErrClosedPipe}
		}

		buf := make([]byte, readChunkSize)
		n, err := c.stream.Read(buf)
		if n > 0 {
			c.dec.Feed(buf[:n])
		}
		if err != nil {
			c.poisoned = true
			log.WarnS("xproto: connection poisoned", "op", "receive", "err", err)
			if err == io.EOF {
				return frame.Message{}, &errors.TransportError{Op: "receive", Err: io.ErrUnexpectedEOF}
			}
			return frame.Message{}, &errors.TransportError{Op: "receive", Err: err}
		}
	}
}

// Upgrade wraps the underlying stream in TLS in place. It must be called
// exactly once, after CapabilitiesGet and before Authenticate. On
// failure the Connection is marked poisoned.
func (c *Connection) Upgrade(cfg *tls.Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.upgraded {
		return &errors.TlsError{Err: errors.ErrAlreadyUpgraded}
	}

	tlsConn := tls.Client(c.stream, cfg)
	if err := tlsConn.HandshakeContext(context.Background()); err != nil {
		c.poisoned = true
		return &errors.TlsError{Err: err}
	}

	c.stream = tlsConn
	c.upgraded = true
	// Any bytes the peer sent before our Write flushed aren't possible
	// here: CapabilitiesSet's Ok reply is consumed before Upgrade is
	// called, so the decoder buffer is empty. Reset defensively anyway.
	c.dec = frame.NewDecoder()
	return nil
}

// Close half-closes the write side, drains pending reads up to a
// bounded deadline, then releases the stream. Idempotent.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.poisoned = true

	if cw, ok := c.stream.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}

	_ = c.stream.SetReadDeadline(time.Now().Add(drainDeadline))
	buf := make([]byte, readChunkSize)
	for {
		_, err := c.stream.Read(buf)
		if err != nil {
			break
		}
	}

	return c.stream.Close()
}
