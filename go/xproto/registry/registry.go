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

// Package registry holds the static, bidirectional mapping between X
// Protocol message type identifiers and their logical names, grouped by
// direction. It carries no behavior; it exists so the rest of the core
// can refer to message kinds by name instead of by magic number.
package registry

// Direction distinguishes client->server from server->client message
// type id spaces; the two overlap numerically (a given byte value means
// different things depending on direction).
type Direction int

const (
	ClientToServer Direction = iota
	ServerToClient
)

// Client -> server message type ids (Mysqlx.ClientMessages.Type).
const (
	TypeConnCapabilitiesGet  = 1
	TypeConnCapabilitiesSet  = 2
	TypeConnClose            = 3
	TypeSessAuthenticateStart    = 4
	TypeSessAuthenticateContinue = 5
	TypeSessReset                = 6
	TypeSessClose                 = 7
	TypeSQLStmtExecute        = 12
	TypeCrudFind              = 17
	TypeCrudInsert            = 18
	TypeCrudUpdate            = 19
	TypeCrudDelete            = 20
	TypeExpectOpen            = 24
	TypeExpectClose           = 25
	TypeCursorOpen            = 27
	TypeCursorClose           = 28
	TypeCursorFetch           = 29
	TypePrepareDeallocate     = 31
	TypePrepareExecute        = 32
)

// Server -> client message type ids (Mysqlx.ServerMessages.Type).
const (
	TypeOK                               = 0
	TypeError                            = 1
	TypeConnCapabilities                 = 2
	TypeSessAuthenticateContinueReply    = 3
	TypeSessAuthenticateOk               = 4
	TypeNotice                           = 11
	TypeResultsetColumnMetaData          = 12
	TypeResultsetRow                     = 13
	TypeResultsetFetchDone               = 14
	TypeResultsetFetchSuspended          = 15
	TypeResultsetFetchDoneMoreResultsets = 16
	TypeSQLStmtExecuteOk                 = 17
	TypeResultsetFetchDoneMoreOutParams  = 18
)

// clientNames and serverNames back Name for diagnostics and logging; the
// core never branches on these strings, only on the numeric ids above.
var clientNames = map[int]string{
	TypeConnCapabilitiesGet:       "ConnectionCapabilitiesGet",
	TypeConnCapabilitiesSet:       "ConnectionCapabilitiesSet",
	TypeConnClose:                 "ConnectionClose",
	TypeSessAuthenticateStart:     "SessAuthenticateStart",
	TypeSessAuthenticateContinue:  "SessAuthenticateContinue",
	TypeSessReset:                 "SessReset",
	TypeSessClose:                 "SessClose",
	TypeSQLStmtExecute:            "SqlStmtExecute",
	TypeCrudFind:                  "CrudFind",
	TypeCrudInsert:                "CrudInsert",
	TypeCrudUpdate:                "CrudUpdate",
	TypeCrudDelete:                "CrudDelete",
	TypeExpectOpen:                "ExpectOpen",
	TypeExpectClose:               "ExpectClose",
	TypeCursorOpen:                "CursorOpen",
	TypeCursorClose:               "CursorClose",
	TypeCursorFetch:               "CursorFetch",
	TypePrepareDeallocate:         "PrepareDeallocate",
	TypePrepareExecute:            "PrepareExecute",
}

var serverNames = map[int]string{
	TypeOK:                               "Ok",
	TypeError:                            "Error",
	TypeConnCapabilities:                 "Capabilities",
	TypeSessAuthenticateContinueReply:    "AuthenticateContinue",
	TypeSessAuthenticateOk:               "AuthenticateOk",
	TypeNotice:                           "Notice",
	TypeResultsetColumnMetaData:          "ColumnMetaData",
	TypeResultsetRow:                     "Row",
	TypeResultsetFetchDone:               "FetchDone",
	TypeResultsetFetchSuspended:          "FetchSuspended",
	TypeResultsetFetchDoneMoreResultsets: "FetchDoneMoreResultsets",
	TypeSQLStmtExecuteOk:                 "StmtExecuteOk",
	TypeResultsetFetchDoneMoreOutParams:  "FetchDoneMoreOutParams",
}

// Name returns the logical name of a type id in the given direction, or
// "Unknown" if the core has no entry for it (forwards compatibility
// with servers that speak a newer protocol revision).
func Name(dir Direction, typeID int) string {
	table := serverNames
	if dir == ClientToServer {
		table = clientNames
	}
	if name, ok := table[typeID]; ok {
		return name
	}
	return "Unknown"
}

// terminalServerTypes are the server->client message types whose arrival
// closes the ReplyStream currently open for a request (spec family:
// Ok, Error, StmtExecuteOk, FetchDone, FetchDoneMoreResultsets).
var terminalServerTypes = map[int]bool{
	TypeOK:                               true,
	TypeError:                            true,
	TypeSQLStmtExecuteOk:                 true,
	TypeResultsetFetchDone:               true,
	TypeResultsetFetchDoneMoreResultsets: true,
}

// IsTerminal reports whether a server->client message type closes the
// currently open ReplyStream.
func IsTerminal(typeID int) bool {
	return terminalServerTypes[typeID]
}

// NoticeFrame notice type ids (Mysqlx.Notice.Frame.Type), used by the
// dispatcher to decide whether a Notice.Frame carries a session-state
// change that must be applied before the terminal frame is delivered.
const (
	NoticeWarning                       = 1
	NoticeSessionVariableChanged        = 2
	NoticeSessionStateChanged           = 3
	NoticeGroupReplicationStateChanged  = 4
)

// SessionStateChanged parameter ids (Mysqlx.Notice.SessionStateChanged.Parameter).
const (
	SessionStateCurrentSchema        = 1
	SessionStateAccountExpired       = 2
	SessionStateGeneratedInsertID    = 3
	SessionStateRowsAffected         = 4
	SessionStateRowsFound            = 5
	SessionStateRowsMatched          = 6
	SessionStateTrxEnded             = 7
	SessionStateProducedMessage      = 8
	SessionStateClientIDAssigned     = 9
	SessionStateGeneratedDocumentIDs = 10
)
