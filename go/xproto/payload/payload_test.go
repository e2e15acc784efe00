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

package payload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapabilitiesRoundTrip(t *testing.T) {
	c := Capabilities{"tls": true, "node_type": "mysqlx"}
	got, err := DecodeCapabilities(EncodeCapabilities(c))
	require.NoError(t, err)
	assert.Equal(t, true, got["tls"])
	assert.Equal(t, "mysqlx", got["node_type"])
}

func TestDecodeCapabilitiesEmptyPayloadIsEmptyMap(t *testing.T) {
	got, err := DecodeCapabilities(nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAuthContinueRoundTrip(t *testing.T) {
	a := AuthContinue{AuthData: []byte{0x01, 0x02, 0x03}}
	got, err := DecodeAuthContinue(a.Encode())
	require.NoError(t, err)
	assert.Equal(t, a.AuthData, got.AuthData)
}

func TestDecodeServerError(t *testing.T) {
	got, err := DecodeServerError([]byte(`{"code":1045,"sql_state":"28000","msg":"Access denied"}`))
	require.NoError(t, err)
	assert.Equal(t, 1045, got.Code)
	assert.Equal(t, "28000", got.SQLState)
	assert.Equal(t, "Access denied", got.Message)
}
