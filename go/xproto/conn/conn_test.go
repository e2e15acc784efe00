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

package conn

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/nettest"

	"github.com/xprotocol-go/xprotocol/go/xproto/errors"
	"github.com/xprotocol-go/xprotocol/go/xproto/frame"
)

// loopback returns two ends of a real TCP connection, so CloseWrite and
// read deadlines behave exactly as they would against a real server.
func loopback(t *testing.T) (client net.Conn, server net.Conn) {
	t.Helper()
	lis, err := nettest.NewLocalListener("tcp")
	require.NoError(t, err)
	t.Cleanup(func() { _ = lis.Close() })

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := lis.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	client, err = net.DialTimeout("tcp", lis.Addr().String(), 2*time.Second)
	require.NoError(t, err)
	server = <-accepted
	return client, server
}

func TestSendReceiveRoundTrip(t *testing.T) {
	client, server := loopback(t)
	defer client.Close()
	defer server.Close()

	c := New(client)
	_, err := server.Write(frame.Encode(7, []byte("hello")))
	require.NoError(t, err)

	msg, err := c.Receive()
	require.NoError(t, err)
	assert.Equal(t, uint8(7), msg.Type)
	assert.Equal(t, []byte("hello"), msg.Payload)

	require.NoError(t, c.Send(3, []byte("world")))
	buf := make([]byte, 64)
	n, err := server.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, frame.Encode(3, []byte("world")), buf[:n])
}

func TestSendAfterWriteFailurePoisonsConnection(t *testing.T) {
	client, server := loopback(t)
	defer client.Close()
	server.Close()

	c := New(client)
	// Drive enough writes that the peer's close is observed.
	var lastErr error
	for i := 0; i < 100; i++ {
		if lastErr = c.Send(1, []byte("x")); lastErr != nil {
			break
		}
	}
	require.Error(t, lastErr)
	assert.True(t, c.Poisoned())

	err := c.Send(1, nil)
	require.Error(t, err)
	var te *errors.TransportError
	assert.ErrorAs(t, err, &te)
}

func TestReceiveOnRemoteCloseFailsWithTransportError(t *testing.T) {
	client, server := loopback(t)
	defer client.Close()

	server.Close()

	_, err := client.Read(make([]byte, 1))
	_ = err // drain, not the assertion under test

	c := New(client)
	_, err = c.Receive()
	require.Error(t, err)
	var te *errors.TransportError
	assert.ErrorAs(t, err, &te)
}

func TestCloseIsIdempotent(t *testing.T) {
	client, server := loopback(t)
	defer server.Close()

	c := New(client)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}

// selfSignedCert generates an ephemeral ECDSA certificate/key pair for
// exercising a real TLS handshake in-process, with no dependency on
// fixture files on disk.
func selfSignedCert(t *testing.T) tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "xprotocol-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		DNSNames:     []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: cert}
}

func TestUpgradeHandshakesAndCarriesTraffic(t *testing.T) {
	client, server := loopback(t)
	defer client.Close()

	cert := selfSignedCert(t)
	done := make(chan struct{})
	go func() {
		defer close(done)
		tlsServer := tls.Server(server, &tls.Config{Certificates: []tls.Certificate{cert}})
		defer tlsServer.Close()
		require.NoError(t, tlsServer.Handshake())

		msg, err := tlsServer.Read(make([]byte, 64))
		_ = msg
		require.NoError(t, err)
		_, err = tlsServer.Write(frame.Encode(9, []byte("ok")))
		require.NoError(t, err)
	}()

	c := New(client)
	require.NoError(t, c.Upgrade(&tls.Config{InsecureSkipVerify: true}))

	require.NoError(t, c.Send(9, []byte("hi")))
	got, err := c.Receive()
	require.NoError(t, err)
	assert.Equal(t, uint8(9), got.Type)
	assert.Equal(t, []byte("ok"), got.Payload)

	<-done
}

func TestUpgradeCalledTwiceFailsWithoutRepeatingTheHandshake(t *testing.T) {
	client, server := loopback(t)
	defer client.Close()

	cert := selfSignedCert(t)
	handshakes := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		tlsServer := tls.Server(server, &tls.Config{Certificates: []tls.Certificate{cert}})
		defer tlsServer.Close()
		if err := tlsServer.Handshake(); err == nil {
			handshakes++
		}
	}()

	c := New(client)
	require.NoError(t, c.Upgrade(&tls.Config{InsecureSkipVerify: true}))
	<-done
	assert.Equal(t, 1, handshakes, "the server must observe exactly one handshake")

	err := c.Upgrade(&tls.Config{InsecureSkipVerify: true})
	require.Error(t, err)
	var te *errors.TlsError
	require.ErrorAs(t, err, &te)
	assert.ErrorIs(t, te, errors.ErrAlreadyUpgraded)
}

func TestUpgradeFailurePoisonsConnection(t *testing.T) {
	client, server := loopback(t)
	defer client.Close()
	server.Close() // closed before any handshake byte is read, so the client's handshake fails fast

	c := New(client)
	err := c.Upgrade(&tls.Config{InsecureSkipVerify: true})
	require.Error(t, err)
	var te *errors.TlsError
	assert.ErrorAs(t, err, &te)
	assert.True(t, c.Poisoned())
}
