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

// Package config binds the environment/configuration surface of
// spec.md §6 (ssl, sslOptions, endpoints, dbUser, dbPassword, schema)
// to command-line flags via pflag and, transitively, to environment
// variables and config files via viper, the way RegisterFlags does for
// logging in go/log.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/xprotocol-go/xprotocol/go/netutil"
	"github.com/xprotocol-go/xprotocol/go/xproto/router"
)

// Config is the flat, bound form of Properties before endpoints are
// parsed and validated.
type Config struct {
	DBUser            string
	DBPassword        string
	Schema            string
	SSL               bool
	SSLCert           string
	SSLKey            string
	SSLCa             string
	Endpoints         []string // host:port or host:port@priority, comma-separated
	ReconnectInterval time.Duration
}

const (
	flagDBUser            = "db-user"
	flagDBPassword        = "db-password"
	flagSchema            = "schema"
	flagSSL               = "ssl"
	flagSSLCert           = "ssl-cert"
	flagSSLKey            = "ssl-key"
	flagSSLCa             = "ssl-ca"
	flagEndpoints         = "endpoints"
	flagReconnectInterval = "reconnect-interval"
)

// RegisterFlags declares every xprotocol flag on fs and binds each one
// into v, so a value can come from a flag, an environment variable
// (XPROTOCOL_DB_USER, ...), or a config file, in that order of
// precedence once viper.BindPFlag has run.
func RegisterFlags(fs *pflag.FlagSet, v *viper.Viper) error {
	fs.String(flagDBUser, "", "database user name")
	fs.String(flagDBPassword, "", "database password")
	fs.String(flagSchema, "", "default schema")
	fs.Bool(flagSSL, false, "request a TLS upgrade after capability negotiation")
	fs.String(flagSSLCert, "", "client certificate path, passed through to the TLS layer")
	fs.String(flagSSLKey, "", "client key path, passed through to the TLS layer")
	fs.String(flagSSLCa, "", "CA bundle path, passed through to the TLS layer")
	fs.StringSlice(flagEndpoints, nil, "comma-separated host:port[@priority] endpoint list, priority-descending")
	fs.Duration(flagReconnectInterval, 0, "minimum interval between failover dial attempts; 0 disables throttling")

	v.SetEnvPrefix("XPROTOCOL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, name := range []string{flagDBUser, flagDBPassword, flagSchema, flagSSL, flagSSLCert, flagSSLKey, flagSSLCa, flagEndpoints, flagReconnectInterval} {
		if err := v.BindPFlag(name, fs.Lookup(name)); err != nil {
			return fmt.Errorf("config: bind %s: %w", name, err)
		}
	}
	return nil
}

// Load reads every bound value out of v into a Config.
func Load(v *viper.Viper) Config {
	return Config{
		DBUser:            v.GetString(flagDBUser),
		DBPassword:        v.GetString(flagDBPassword),
		Schema:            v.GetString(flagSchema),
		SSL:               v.GetBool(flagSSL),
		SSLCert:           v.GetString(flagSSLCert),
		SSLKey:            v.GetString(flagSSLKey),
		SSLCa:             v.GetString(flagSSLCa),
		Endpoints:         v.GetStringSlice(flagEndpoints),
		ReconnectInterval: v.GetDuration(flagReconnectInterval),
	}
}

// Validate parses Endpoints and applies router.ValidateEndpoints's
// boundary checks -- port range, priority range, and no mixing of
// explicit and implicit priority -- returning the exact error strings
// spec.md mandates (router.ValidateEndpoints is the single source of
// those strings; this method never duplicates them).
func (c Config) Validate() error {
	eps, err := ParseEndpoints(c.Endpoints)
	if err != nil {
		return err
	}
	return router.ValidateEndpoints(eps)
}

// ParseEndpoints turns the flat "host:port[@priority]" strings into
// router.Endpoint values. A list where some entries carry "@priority"
// and others don't is passed through as-is; router.ValidateEndpoints is
// what rejects the mix, not this parser.
func ParseEndpoints(raw []string) ([]router.Endpoint, error) {
	out := make([]router.Endpoint, 0, len(raw))
	for _, entry := range raw {
		ep, err := parseEndpoint(entry)
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, nil
}

func parseEndpoint(entry string) (router.Endpoint, error) {
	hostport := entry
	var priority int
	var hasPriority bool
	if i := strings.IndexByte(entry, '@'); i >= 0 {
		hostport = entry[:i]
		p, err := fmt.Sscanf(entry[i+1:], "%d", &priority)
		if err != nil || p != 1 {
			return router.Endpoint{}, fmt.Errorf("config: invalid priority in endpoint %q", entry)
		}
		hasPriority = true
	}

	if strings.HasPrefix(hostport, "/") {
		return router.Endpoint{SocketPath: hostport, Priority: priority, HasPriority: hasPriority}, nil
	}

	host, port, err := netutil.SplitHostPort(hostport)
	if err != nil {
		return router.Endpoint{}, fmt.Errorf("config: invalid endpoint %q: %w", entry, err)
	}
	return router.Endpoint{Host: host, Port: port, Priority: priority, HasPriority: hasPriority}, nil
}
