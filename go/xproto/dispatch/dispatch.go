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

// Package dispatch turns one submitted request into a lazy, ordered
// ReplyStream of typed frames terminated by a family-specific terminal
// frame. Submit is a stateless function of a Connection and a Machine,
// not a long-lived object, so there is no cyclic ownership between
// Session, Connection, and Dispatcher (see spec.md §9, design note 3).
package dispatch

import (
	"fmt"

	"github.com/xprotocol-go/xprotocol/go/stats"
	"github.com/xprotocol-go/xprotocol/go/xproto/conn"
	"github.com/xprotocol-go/xprotocol/go/xproto/errors"
	"github.com/xprotocol-go/xprotocol/go/xproto/payload"
	"github.com/xprotocol-go/xprotocol/go/xproto/protocol"
	"github.com/xprotocol-go/xprotocol/go/xproto/registry"
)

// openReplyStreams mirrors the Machine's Ready/Streaming split as a
// published metric: it is 0 or 1, never more, per spec.md's "at most
// one ReplyStream open" invariant.
var openReplyStreams = stats.NewGauge("xproto_open_reply_streams", "Number of ReplyStreams currently open (0 or 1 per Session).")

// Kind tags one item pulled off a ReplyStream.
type Kind int

const (
	KindMeta Kind = iota
	KindRow
	KindNotice
	KindSessionState
	KindDone
)

// Item is one tagged variant yielded by ReplyStream.Next: Row | Meta |
// Notice | SessionState | Done, per spec.md §9 design note 1.
type Item struct {
	Kind         Kind
	Column       payload.ColumnMetaData
	Row          payload.Row
	Notice       payload.NoticeFrame
	SessionState payload.SessionStateChanged
	Result       payload.StmtExecuteOk
}

// ReplyStream is a finite, not-restartable sequence of Items scoped to
// one outstanding request. At most one ReplyStream is open per Session
// at any time; Submit enforces this via Machine.BeginStream.
type ReplyStream struct {
	conn    *conn.Connection
	machine *protocol.Machine
	done    bool
	err     error
}

// Submit sends req over conn and opens a ReplyStream, transitioning the
// Machine Ready -> Streaming. It fails with SessionClosed if the Machine
// is Closed, with a ProtocolError from any other state except Ready, or
// with a TransportError if the send itself fails (in
// which case the Machine reverts to Ready without ever having streamed).
func Submit(m *protocol.Machine, c *conn.Connection, reqType uint8, reqPayload []byte) (*ReplyStream, error) {
	if err := m.BeginStream(); err != nil {
		return nil, err
	}
	openReplyStreams.Set(1)
	if err := c.Send(reqType, reqPayload); err != nil {
		m.EndStream()
		openReplyStreams.Set(0)
		return nil, err
	}
	return &ReplyStream{conn: c, machine: m}, nil
}

// Next pulls the next Item from the stream. ok is false once the stream
// is exhausted (after a terminal frame) or has failed; callers must stop
// calling Next after the first ok==false.
func (r *ReplyStream) Next() (Item, bool, error) {
	if r.done {
		return Item{}, false, r.err
	}

	msg, err := r.conn.Receive()
	if err != nil {
		return r.finish(Item{}, err)
	}

	switch msg.Type {
	case registry.TypeResultsetColumnMetaData:
		col, decErr := payload.DecodeColumnMetaData(msg.Payload)
		if decErr != nil {
			return r.finish(Item{}, &errors.ProtocolError{Reason: "malformed ColumnMetaData", Err: decErr})
		}
		return Item{Kind: KindMeta, Column: col}, true, nil

	case registry.TypeResultsetRow:
		row, decErr := payload.DecodeRow(msg.Payload)
		if decErr != nil {
			return r.finish(Item{}, &errors.ProtocolError{Reason: "malformed Row", Err: decErr})
		}
		return Item{Kind: KindRow, Row: row}, true, nil

	case registry.TypeNotice:
		nf, decErr := payload.DecodeNoticeFrame(msg.Payload)
		if decErr != nil {
			return r.finish(Item{}, &errors.ProtocolError{Reason: "malformed Notice.Frame", Err: decErr})
		}
		if nf.Type == registry.NoticeSessionStateChanged {
			ssc, decErr := payload.DecodeSessionStateChanged(nf.Payload)
			if decErr != nil {
				return r.finish(Item{}, &errors.ProtocolError{Reason: "malformed SessionStateChanged", Err: decErr})
			}
			return Item{Kind: KindSessionState, SessionState: ssc}, true, nil
		}
		return Item{Kind: KindNotice, Notice: nf}, true, nil

	case registry.TypeError:
		se, _ := payload.DecodeServerError(msg.Payload)
		return r.finish(Item{}, &errors.ServerError{SQLState: se.SQLState, Code: se.Code, Message: se.Message})

	default:
		if registry.IsTerminal(int(msg.Type)) {
			result, _ := payload.DecodeStmtExecuteOk(msg.Payload)
			return r.finishOk(Item{Kind: KindDone, Result: result})
		}
		return r.finish(Item{}, &errors.ProtocolError{Reason: fmt.Sprintf("unexpected message type %d while streaming", msg.Type)})
	}
}

func (r *ReplyStream) finishOk(item Item) (Item, bool, error) {
	r.done = true
	r.machine.EndStream()
	openReplyStreams.Set(0)
	return item, true, nil
}

func (r *ReplyStream) finish(item Item, err error) (Item, bool, error) {
	r.done = true
	r.err = err
	r.machine.EndStream()
	openReplyStreams.Set(0)
	return item, false, err
}

// Sinks adapts the pull-based ReplyStream to the original connector's
// push-based row_sink/meta_sink callbacks (spec.md §9 design note 1).
// OnNotice only ever sees notices that are not session-state changes:
// per spec.md §4.5, a notice is either surfaced here or applied to
// Session state via OnSessionState, never both.
type Sinks struct {
	OnRow          func(payload.Row)
	OnMeta         func(payload.ColumnMetaData)
	OnNotice       func(payload.NoticeFrame)
	OnSessionState func(payload.SessionStateChanged)
}

// Drain consumes a ReplyStream to completion, invoking sinks for each
// item, and returns the terminal result or the stream's failure.
func Drain(r *ReplyStream, sinks Sinks) (payload.StmtExecuteOk, error) {
	for {
		item, ok, err := r.Next()
		if err != nil {
			return payload.StmtExecuteOk{}, err
		}
		if !ok {
			return payload.StmtExecuteOk{}, nil
		}
		switch item.Kind {
		case KindMeta:
			if sinks.OnMeta != nil {
				sinks.OnMeta(item.Column)
			}
		case KindRow:
			if sinks.OnRow != nil {
				sinks.OnRow(item.Row)
			}
		case KindNotice:
			if sinks.OnNotice != nil {
				sinks.OnNotice(item.Notice)
			}
		case KindSessionState:
			if sinks.OnSessionState != nil {
				sinks.OnSessionState(item.SessionState)
			}
		case KindDone:
			return item.Result, nil
		}
	}
}
