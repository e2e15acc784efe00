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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"
)

// Sha256Memory implements the SHA256_MEMORY mechanism: like MYSQL41 it is
// a two-round challenge/scramble exchange, but it hashes with SHA256
// instead of SHA1 so the server can serve subsequent connections from an
// in-memory credential cache without re-touching the password store.
type Sha256Memory struct{}

func (Sha256Memory) Name() string { return "SHA256_MEMORY" }

func (Sha256Memory) VerifyServer(serverMechanisms []string) bool {
	return contains(serverMechanisms, "SHA256_MEMORY")
}

func (Sha256Memory) InitialResponse(Credentials) []byte {
	return nil
}

func (Sha256Memory) ContinueResponse(creds Credentials, nonce []byte) ([]byte, error) {
	scramble := scramblePassword(sha256.New, nonce, []byte(creds.Password))
	resp := fmt.Sprintf("%s\x00%s\x00*%s", creds.Schema, creds.User, strings.ToUpper(hex.EncodeToString(scramble)))
	return []byte(resp), nil
}

// scramblePassword computes stage1 = H(password), stage2 = H(salt +
// H(stage1)), and returns stage2 XOR stage1 -- the salted-hash transform
// shared by mysql_native_password (H=SHA1) and caching_sha2_password /
// SHA256_MEMORY (H=SHA256).
func scramblePassword(newHash func() hash.Hash, salt, password []byte) []byte {
	if len(password) == 0 {
		return nil
	}

	h := newHash()
	h.Write(password)
	stage1 := h.Sum(nil)

	h.Reset()
	h.Write(stage1)
	inner := h.Sum(nil)

	h.Reset()
	h.Write(salt)
	h.Write(inner)
	scramble := h.Sum(nil)

	for i := range scramble {
		scramble[i] ^= stage1[i]
	}
	return scramble
}
