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

// Package payload codes the small set of control message payloads the
// Protocol State Machine and Dispatcher must interpret: Capabilities,
// Error, the Authenticate family, StmtExecuteOk, Resultset.* and
// Notice.Frame. Everything else stays opaque to the core.
//
// The core never links against the generated protobuf stubs for the
// full X Protocol schema catalog (out of scope for this module -- see
// DESIGN.md); this package is a compact, self-consistent JSON rendering
// of just the fields the core branches on. It is isolated in one
// package so a production binding can swap it for generated protobuf
// code without touching protocol, dispatch, or conn.
package payload

import "encoding/json"

// Capabilities is the decoded form of a Capabilities/CapabilitiesGet
// reply or a CapabilitiesSet request: capability name to scalar or
// structured value.
type Capabilities map[string]any

func EncodeCapabilities(c Capabilities) []byte {
	b, _ := json.Marshal(c)
	return b
}

func DecodeCapabilities(b []byte) (Capabilities, error) {
	var c Capabilities
	if len(b) == 0 {
		return Capabilities{}, nil
	}
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	return c, nil
}

// AuthStart is the AuthenticateStart request payload.
type AuthStart struct {
	MechName string `json:"mech_name"`
	AuthData []byte `json:"auth_data,omitempty"`
}

func (a AuthStart) Encode() []byte {
	b, _ := json.Marshal(a)
	return b
}

// AuthContinue is exchanged in both directions during multi-round auth.
type AuthContinue struct {
	AuthData []byte `json:"auth_data"`
}

func (a AuthContinue) Encode() []byte {
	b, _ := json.Marshal(a)
	return b
}

func DecodeAuthContinue(b []byte) (AuthContinue, error) {
	var a AuthContinue
	err := json.Unmarshal(b, &a)
	return a, err
}

// ServerError is the decoded Error frame payload.
type ServerError struct {
	Code     int    `json:"code"`
	SQLState string `json:"sql_state"`
	Message  string `json:"msg"`
}

func DecodeServerError(b []byte) (ServerError, error) {
	var e ServerError
	err := json.Unmarshal(b, &e)
	return e, err
}

// Warning is one entry in a StmtExecuteOk or ResultSet's warning list.
type Warning struct {
	Level   string `json:"level"`
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

// StmtExecuteOk is the terminal frame for Sql.StmtExecute.
type StmtExecuteOk struct {
	RowsAffected        uint64   `json:"rows_affected"`
	LastInsertID        uint64   `json:"last_insert_id"`
	GeneratedDocumentIDs []string `json:"generated_document_ids,omitempty"`
	Warnings            []Warning `json:"warnings,omitempty"`
}

func DecodeStmtExecuteOk(b []byte) (StmtExecuteOk, error) {
	var s StmtExecuteOk
	err := json.Unmarshal(b, &s)
	return s, err
}

// ColumnMetaData is a decoded Resultset.ColumnMetaData frame.
type ColumnMetaData struct {
	Type             int    `json:"type"`
	Name             string `json:"name"`
	OriginalName     string `json:"original_name"`
	Table            string `json:"table"`
	OriginalTable    string `json:"original_table"`
	Schema           string `json:"schema"`
	Catalog          string `json:"catalog"`
	Collation        uint64 `json:"collation"`
	FractionalDigits uint32 `json:"fractional_digits"`
	Flags            uint32 `json:"flags"`
	ContentType      int    `json:"content_type"`
}

func DecodeColumnMetaData(b []byte) (ColumnMetaData, error) {
	var c ColumnMetaData
	err := json.Unmarshal(b, &c)
	return c, err
}

// Row is a decoded Resultset.Row frame: one opaque field per column, in
// column order, encoded per ColumnMetaData.ContentType by higher layers.
type Row struct {
	Fields [][]byte `json:"fields"`
}

func DecodeRow(b []byte) (Row, error) {
	var r Row
	err := json.Unmarshal(b, &r)
	return r, err
}

// NoticeFrame is a decoded Notice.Frame: its type (registry.Notice*)
// and the still-encoded inner payload keyed by Type. It carries no
// scope field; dispatch decodes the inner payload where it needs to.
type NoticeFrame struct {
	Type    int    `json:"type"`
	Payload []byte `json:"payload"`
}

func DecodeNoticeFrame(b []byte) (NoticeFrame, error) {
	var n NoticeFrame
	err := json.Unmarshal(b, &n)
	return n, err
}

// SessionStateChanged is the decoded inner payload of a NoticeFrame
// whose Type is registry.NoticeSessionStateChanged.
type SessionStateChanged struct {
	Param int    `json:"param"`
	Value []byte `json:"value"`
}

func DecodeSessionStateChanged(b []byte) (SessionStateChanged, error) {
	var s SessionStateChanged
	err := json.Unmarshal(b, &s)
	return s, err
}
