/*
Copyright 2017 Google Inc.

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

// Package auth implements the pluggable SASL-style handshake driver the
// Protocol State Machine delegates to during Authenticating. The core
// ships PLAIN; the interface also admits MYSQL41 and SHA256_MEMORY.
package auth

import (
	"fmt"

	"github.com/xprotocol-go/xprotocol/go/xproto/errors"
)

// Credentials is the subset of SessionProperties an Authenticator needs
// to build its initial response and any continuations.
type Credentials struct {
	Schema   string
	User     string
	Password string
}

// Mechanism is a pluggable SASL-style authentication driver.
type Mechanism interface {
	// Name is the mechanism name as advertised by the server, e.g. "PLAIN".
	Name() string

	// VerifyServer reports whether this mechanism is usable given the
	// server's advertised authentication.mechanisms list.
	VerifyServer(serverMechanisms []string) bool

	// InitialResponse returns the first AuthenticateStart.auth_data.
	InitialResponse(creds Credentials) []byte

	// ContinueResponse returns the next AuthenticateContinue.auth_data
	// given the server's challenge. Mechanisms that never continue
	// (PLAIN) never have this called.
	ContinueResponse(creds Credentials, serverChallenge []byte) ([]byte, error)
}

// Negotiate picks the first mechanism in preference order whose
// VerifyServer accepts the server's advertised list, or fails with
// AuthMechanismUnsupported before any bytes are sent.
func Negotiate(preference []Mechanism, serverMechanisms []string) (Mechanism, error) {
	for _, m := range preference {
		if m.VerifyServer(serverMechanisms) {
			return m, nil
		}
	}
	return nil, &errors.AuthError{
		Stage:   errors.AuthStagePreHandshake,
		Message: fmt.Sprintf("none of %v accepted by server mechanisms %v", names(preference), serverMechanisms),
	}
}

func names(mechanisms []Mechanism) []string {
	out := make([]string, len(mechanisms))
	for i, m := range mechanisms {
		out[i] = m.Name()
	}
	return out
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
