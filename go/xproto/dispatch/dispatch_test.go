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

package dispatch

import (
	"encoding/json"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xprotocol-go/xprotocol/go/xproto/auth"
	"github.com/xprotocol-go/xprotocol/go/xproto/conn"
	"github.com/xprotocol-go/xprotocol/go/xproto/frame"
	"github.com/xprotocol-go/xprotocol/go/xproto/payload"
	"github.com/xprotocol-go/xprotocol/go/xproto/protocol"
	"github.com/xprotocol-go/xprotocol/go/xproto/registry"
)

type stub struct {
	conn net.Conn
	dec  *frame.Decoder
}

func newStub(c net.Conn) *stub { return &stub{conn: c, dec: frame.NewDecoder()} }

func (s *stub) recv(t *testing.T) frame.Message {
	t.Helper()
	buf := make([]byte, 4096)
	for {
		msg, ok, err := s.dec.Next()
		require.NoError(t, err)
		if ok {
			return msg
		}
		n, err := s.conn.Read(buf)
		if n > 0 {
			s.dec.Feed(buf[:n])
		}
		require.NoError(t, err)
	}
}

func (s *stub) send(t *testing.T, typeID uint8, p []byte) {
	t.Helper()
	_, err := s.conn.Write(frame.Encode(typeID, p))
	require.NoError(t, err)
}

// readyMachine drives a fresh Machine to Ready over a net.Pipe, handing
// back the stub so the test can script the dispatcher exchange that
// follows.
func readyMachine(t *testing.T) (*protocol.Machine, *conn.Connection, *stub) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close() })

	s := newStub(server)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.recv(t)
		s.send(t, registry.TypeConnCapabilities, payload.EncodeCapabilities(payload.Capabilities{}))
		s.recv(t)
		s.send(t, registry.TypeSessAuthenticateOk, nil)
	}()

	c := conn.New(client)
	m := protocol.New(c, auth.Credentials{}, []auth.Mechanism{auth.Plain{}}, false, nil)
	require.NoError(t, m.Connect())
	<-done
	return m, c, s
}

func TestSubmitDeliversMetaThenRowsThenDone(t *testing.T) {
	m, c, s := readyMachine(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.recv(t)
		col, _ := json.Marshal(payload.ColumnMetaData{Name: "id"})
		s.send(t, registry.TypeResultsetColumnMetaData, col)
		row, _ := json.Marshal(payload.Row{Fields: [][]byte{[]byte("1")}})
		s.send(t, registry.TypeResultsetRow, row)
		ok, _ := json.Marshal(payload.StmtExecuteOk{RowsAffected: 1})
		s.send(t, registry.TypeSQLStmtExecuteOk, ok)
	}()

	stream, err := Submit(m, c, registry.TypeSQLStmtExecute, nil)
	require.NoError(t, err)
	assert.Equal(t, protocol.StateStreaming, m.State())

	item, ok, err := stream.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, KindMeta, item.Kind)
	assert.Equal(t, "id", item.Column.Name)

	item, ok, err = stream.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, KindRow, item.Kind)

	item, ok, err = stream.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, KindDone, item.Kind)
	assert.EqualValues(t, 1, item.Result.RowsAffected)
	assert.Equal(t, protocol.StateReady, m.State())

	<-done
}

func TestOpenReplyStreamsGaugeTracksStreamLifetime(t *testing.T) {
	m, c, s := readyMachine(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.recv(t)
		ok, _ := json.Marshal(payload.StmtExecuteOk{})
		s.send(t, registry.TypeSQLStmtExecuteOk, ok)
	}()

	assert.EqualValues(t, 0, openReplyStreams.Get(), "no stream open before Submit")

	stream, err := Submit(m, c, registry.TypeSQLStmtExecute, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, openReplyStreams.Get(), "Submit opens the at-most-one ReplyStream")

	_, ok, err := stream.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 0, openReplyStreams.Get(), "the terminal frame closes the stream")

	<-done
}

func TestSubmitFailsFastWhenNotReady(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	c := conn.New(client)
	m := protocol.New(c, auth.Credentials{}, []auth.Mechanism{auth.Plain{}}, false, nil)

	_, err := Submit(m, c, registry.TypeSQLStmtExecute, nil)
	require.Error(t, err)
}

func TestNextDecodesSessionStateChangedSeparatelyFromOtherNotices(t *testing.T) {
	m, c, s := readyMachine(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.recv(t)
		ssc, _ := json.Marshal(payload.SessionStateChanged{Param: registry.SessionStateCurrentSchema, Value: []byte("newschema")})
		nf, _ := json.Marshal(payload.NoticeFrame{Type: registry.NoticeSessionStateChanged, Payload: ssc})
		s.send(t, registry.TypeNotice, nf)
		warn, _ := json.Marshal(payload.NoticeFrame{Type: registry.NoticeWarning})
		s.send(t, registry.TypeNotice, warn)
		ok, _ := json.Marshal(payload.StmtExecuteOk{})
		s.send(t, registry.TypeSQLStmtExecuteOk, ok)
	}()

	stream, err := Submit(m, c, registry.TypeSQLStmtExecute, nil)
	require.NoError(t, err)

	item, ok, err := stream.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, KindSessionState, item.Kind)
	assert.Equal(t, registry.SessionStateCurrentSchema, item.SessionState.Param)
	assert.Equal(t, "newschema", string(item.SessionState.Value))

	item, ok, err = stream.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, KindNotice, item.Kind)
	assert.Equal(t, registry.NoticeWarning, item.Notice.Type)

	item, ok, err = stream.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, KindDone, item.Kind)

	<-done
}

func TestDrainAppliesSessionStateBeforeReturningTerminalResult(t *testing.T) {
	m, c, s := readyMachine(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.recv(t)
		ssc, _ := json.Marshal(payload.SessionStateChanged{Param: registry.SessionStateCurrentSchema, Value: []byte("newschema")})
		nf, _ := json.Marshal(payload.NoticeFrame{Type: registry.NoticeSessionStateChanged, Payload: ssc})
		s.send(t, registry.TypeNotice, nf)
		ok, _ := json.Marshal(payload.StmtExecuteOk{})
		s.send(t, registry.TypeSQLStmtExecuteOk, ok)
	}()

	stream, err := Submit(m, c, registry.TypeSQLStmtExecute, nil)
	require.NoError(t, err)

	var appliedSchema string
	_, err = Drain(stream, Sinks{OnSessionState: func(ssc payload.SessionStateChanged) {
		appliedSchema = string(ssc.Value)
	}})
	require.NoError(t, err)
	assert.Equal(t, "newschema", appliedSchema, "OnSessionState must run before Drain returns the terminal result")

	<-done
}

func TestDrainInvokesSinksAndReturnsTerminalResult(t *testing.T) {
	m, c, s := readyMachine(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.recv(t)
		row, _ := json.Marshal(payload.Row{Fields: [][]byte{[]byte("x")}})
		s.send(t, registry.TypeResultsetRow, row)
		ok, _ := json.Marshal(payload.StmtExecuteOk{RowsAffected: 7})
		s.send(t, registry.TypeSQLStmtExecuteOk, ok)
	}()

	stream, err := Submit(m, c, registry.TypeSQLStmtExecute, nil)
	require.NoError(t, err)

	var rows int
	result, err := Drain(stream, Sinks{OnRow: func(payload.Row) { rows++ }})
	require.NoError(t, err)
	assert.Equal(t, 1, rows)
	assert.EqualValues(t, 7, result.RowsAffected)

	<-done
}
