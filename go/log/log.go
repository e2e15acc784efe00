// Package log provides a thin adapter around glog with optional structured
// logging via slog.
//
// By default, it uses glog and its flags. Structured logging is enabled only
// when the --log-fmt flag is explicitly set.
package log

import (
	"strconv"
	"sync/atomic"

	"github.com/golang/glog"
	"github.com/spf13/pflag"
)

// Flush ensures any pending I/O is written.
var Flush = glog.Flush

// Level is the glog verbosity level.
type Level = glog.Level

// V reports whether verbosity level l is enabled.
func V(l Level) bool { return bool(glog.V(l)) }

// Infof logs at info severity.
func Infof(format string, args ...any) { glog.Infof(format, args...) }

// Warningf logs at warning severity.
func Warningf(format string, args ...any) { glog.Warningf(format, args...) }

// Errorf logs at error severity.
func Errorf(format string, args ...any) { glog.Errorf(format, args...) }

// Fatalf logs at fatal severity and exits the process.
func Fatalf(format string, args ...any) { glog.Fatalf(format, args...) }

// RegisterFlags installs log flags on the given FlagSet.
func RegisterFlags(fs *pflag.FlagSet) {
	flagVal := logRotateMaxSize{
		val: strconv.FormatUint(atomic.LoadUint64(&glog.MaxSize), 10),
	}
	fs.Var(&flagVal, "log-rotate-max-size", "size in bytes at which logs are rotated (glog.MaxSize)")

	// Structured logging flags.
	fs.StringVar(&logFormat, "log-fmt", "json", "format for structured logging output: json or logfmt")
	fs.StringVar(&logLevel, "log-level", "info", "minimum structured logging level: info, warn, debug, or error")
}

// logRotateMaxSize implements pflag.Value and is used to
// try and provide thread-safe access to glog.MaxSize.
type logRotateMaxSize struct {
	val string
}

func (lrms *logRotateMaxSize) Set(s string) error {
	maxSize, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return err
	}
	atomic.StoreUint64(&glog.MaxSize, maxSize)
	lrms.val = s
	return nil
}

func (lrms *logRotateMaxSize) String() string {
	return lrms.val
}

func (lrms *logRotateMaxSize) Type() string {
	return "uint64"
}
