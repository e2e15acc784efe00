/*
Copyright 2026 The Vitess Authors.

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

package log

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/pflag"
)

var (
	// logFormat is the configured log format.
	logFormat string

	// logLevel is the configured log level.
	logLevel string

	// structuredLoggingEnabled controls whether structured logging is enabled. If it's disabled,
	// logging is performed through glog. If enabled, logging is instead through slog.
	structuredLoggingEnabled atomic.Bool
)

// Init configures logging based on the parsed flags.
func Init(fs *pflag.FlagSet) error {
	if fs == nil {
		return nil
	}

	formatFlag := fs.Lookup("log-fmt")
	if formatFlag == nil || !formatFlag.Changed {
		return nil
	}

	level, err := slogLevel(logLevel)
	if err != nil {
		return err
	}

	opts := &slog.HandlerOptions{AddSource: true, Level: level}
	handler, err := slogHandler(logFormat, opts)
	if err != nil {
		return err
	}

	logger := slog.New(handler)
	structuredLoggingEnabled.Store(true)
	slog.SetDefault(logger)

	return nil
}

// slogLevel maps the log-level flag value to a slog.Level.
func slogLevel(level string) (slog.Level, error) {
	normalized := strings.ToLower(strings.TrimSpace(level))

	switch normalized {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log-level %q: expected debug, info, warn, or error", level)
	}
}

// slogHandler returns a [slog.Handler] for the given format and options.
func slogHandler(format string, opts *slog.HandlerOptions) (slog.Handler, error) {
	normalized := strings.ToLower(strings.TrimSpace(format))

	switch normalized {
	case "json":
		return slog.NewJSONHandler(os.Stderr, opts), nil
	case "logfmt":
		return slog.NewTextHandler(os.Stderr, opts), nil
	default:
		return nil, fmt.Errorf("invalid log-fmt %q: expected json or logfmt", format)
	}
}

// logS emits a structured log record when structured logging is enabled.
// When structured logging is disabled, logS forwards the call to glog
// using the severity implied by level.
func logS(level slog.Level, msg string, args ...any) {
	if !structuredLoggingEnabled.Load() {
		logGlog(level, msg, args...)
		return
	}

	logger := slog.Default()

	ctx := context.Background()
	if !logger.Enabled(ctx, level) {
		return
	}

	// Adjust the caller depth (+3) to bypass the helper functions.
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])

	// Rebuild the record with the proper source.
	record := slog.NewRecord(time.Now(), level, msg, pcs[0])
	record.Add(args...)

	_ = logger.Handler().Handle(ctx, record)
}

// logGlog formats a structured log call as a glog message.
func logGlog(level slog.Level, msg string, args ...any) {
	// Adjust depth so the reported caller skips logGlog and logS.
	const depth = 2

	// Preserve the slog message as the first printed element.
	args = append([]any{msg}, args...)

	switch level {
	case slog.LevelDebug, slog.LevelInfo:
		glog.InfoDepth(depth, args...)
	case slog.LevelWarn:
		glog.WarningDepth(depth, args...)
	case slog.LevelError:
		glog.ErrorDepth(depth, args...)
	default:
		glog.InfoDepth(depth, args...)
	}
}

// InfoS logs at the Info level. Used for outcomes that should be
// visible by default, such as a Session finishing Connect.
func InfoS(msg string, args ...any) {
	logS(slog.LevelInfo, msg, args...)
}

// WarnS logs at the Warn level: a Connection observed a failure that
// degrades it (poisoning) but isn't itself the operation's final error.
func WarnS(msg string, args ...any) {
	logS(slog.LevelWarn, msg, args...)
}

// ErrorS logs at the Error level: a non-transient failure the Router
// is about to propagate to the caller without retrying.
func ErrorS(msg string, args ...any) {
	logS(slog.LevelError, msg, args...)
}
