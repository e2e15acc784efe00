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

package auth

import "fmt"

// Plain implements the single-round SASL PLAIN mechanism: it carries
// schema\0user\0password in cleartext, so it is safe only over TLS.
type Plain struct{}

func (Plain) Name() string { return "PLAIN" }

func (Plain) VerifyServer(serverMechanisms []string) bool {
	return contains(serverMechanisms, "PLAIN")
}

func (Plain) InitialResponse(creds Credentials) []byte {
	return []byte(fmt.Sprintf("%s\x00%s\x00%s", creds.Schema, creds.User, creds.Password))
}

func (Plain) ContinueResponse(Credentials, []byte) ([]byte, error) {
	// PLAIN is single-round; the Protocol State Machine never calls this
	// because AuthenticateOk or Error follows the initial response.
	return nil, nil
}
