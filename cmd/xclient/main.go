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

// xclient is a small command-line driver for exercising connect,
// submit, and close against a real server, for manual end-to-end
// verification of the protocol core.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xprotocol-go/xprotocol/go/log"
	"github.com/xprotocol-go/xprotocol/go/xproto/auth"
	"github.com/xprotocol-go/xprotocol/go/xproto/config"
	"github.com/xprotocol-go/xprotocol/go/xproto/dispatch"
	"github.com/xprotocol-go/xprotocol/go/xproto/payload"
	"github.com/xprotocol-go/xprotocol/go/xproto/registry"
	"github.com/xprotocol-go/xprotocol/go/xproto/router"
	"github.com/xprotocol-go/xprotocol/go/xproto/session"
)

var v = viper.New()

func main() {
	root := &cobra.Command{
		Use:   "xclient",
		Short: "Connects to an X Protocol server, runs one statement, and prints the result.",
		RunE:  run,
	}
	log.RegisterFlags(root.Flags())
	if err := config.RegisterFlags(root.Flags(), v); err != nil {
		log.Fatalf("xclient: %v", err)
	}
	root.Flags().String("stmt", "select 1", "SQL statement to execute")

	if err := root.Execute(); err != nil {
		log.Errorf("xclient: %v", err)
		os.Exit(1)
	}
	log.Flush()
}

func run(cmd *cobra.Command, args []string) error {
	if err := log.Init(cmd.Flags()); err != nil {
		return fmt.Errorf("xclient: %w", err)
	}

	cfg := config.Load(v)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("xclient: %w", err)
	}
	endpoints, err := config.ParseEndpoints(cfg.Endpoints)
	if err != nil {
		return err
	}

	var tlsConfig *tls.Config
	if cfg.SSL {
		tlsConfig = &tls.Config{}
		if cfg.SSLCert != "" && cfg.SSLKey != "" {
			cert, err := tls.LoadX509KeyPair(cfg.SSLCert, cfg.SSLKey)
			if err != nil {
				return fmt.Errorf("xclient: loading client cert: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
		if cfg.SSLCa != "" {
			pem, err := os.ReadFile(cfg.SSLCa)
			if err != nil {
				return fmt.Errorf("xclient: reading CA bundle: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(pem) {
				return fmt.Errorf("xclient: no certificates found in CA bundle %s", cfg.SSLCa)
			}
			tlsConfig.RootCAs = pool
		}
	}

	props := session.Properties{
		DBUser:            cfg.DBUser,
		DBPassword:        cfg.DBPassword,
		Schema:            cfg.Schema,
		SSL:               cfg.SSL,
		TLSConfig:         tlsConfig,
		Endpoints:         endpoints,
		Mechanisms:        []auth.Mechanism{auth.Mysql41{}, auth.Sha256Memory{}, auth.Plain{}},
		ReconnectInterval: cfg.ReconnectInterval,
	}

	sess, err := session.New(props, router.DialSocketFactory{Timeout: 5 * time.Second})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	if err := sess.Connect(ctx); err != nil {
		return fmt.Errorf("xclient: connect: %w", err)
	}
	defer sess.Close()

	snap := sess.Inspect()
	log.Infof("xclient: connected as %s to %s:%d (mechanism %s)", snap.DBUser, snap.Host, snap.Port, snap.AuthMechanism)

	stmt, _ := cmd.Flags().GetString("stmt")
	result, err := sess.Submit(registry.TypeSQLStmtExecute, []byte(stmt), dispatch.Sinks{
		OnMeta: func(c payload.ColumnMetaData) {
			fmt.Println("column:", c.Name)
		},
		OnRow: func(r payload.Row) {
			fmt.Println("row:", r.Fields)
		},
		OnNotice: func(n payload.NoticeFrame) {
			log.Infof("xclient: notice type=%d", n.Type)
		},
	})
	if err != nil {
		return fmt.Errorf("xclient: submit: %w", err)
	}

	fmt.Printf("rows_affected=%d last_insert_id=%d\n", result.Result.RowsAffected, result.Result.LastInsertID)
	return nil
}
