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

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
)

// Mysql41 implements the two-round MYSQL41 mechanism: the client opens
// with an empty response, the server challenges with a 20-byte salt via
// AuthenticateContinue, and the client replies with a salted SHA1
// scramble of the password -- the same transform classic
// mysql_native_password uses, generalized to the X Protocol's
// schema\0user\0*scramble wire shape.
type Mysql41 struct{}

func (Mysql41) Name() string { return "MYSQL41" }

func (Mysql41) VerifyServer(serverMechanisms []string) bool {
	return contains(serverMechanisms, "MYSQL41")
}

func (Mysql41) InitialResponse(Credentials) []byte {
	return nil
}

func (Mysql41) ContinueResponse(creds Credentials, salt []byte) ([]byte, error) {
	scramble := scramblePassword(sha1.New, salt, []byte(creds.Password))
	resp := fmt.Sprintf("%s\x00%s\x00*%s", creds.Schema, creds.User, strings.ToUpper(hex.EncodeToString(scramble)))
	return []byte(resp), nil
}
