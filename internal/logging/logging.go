// Package logging provides the leveled, structured logging surface used
// throughout kvfabric's serving path. The teacher (torua) logs with the
// standard library's log.Printf/log.Fatalf; a serving fleet handling
// per-request fan-out needs verbosity control without recompiling, so this
// package wraps glog (github.com/golang/glog) behind a small interface that
// keeps call sites reading the same way torua's log.Printf call sites did.
package logging

import (
	"github.com/golang/glog"
)

// Level gates verbose logging, mirroring glog's V(level) mechanism.
type Level = glog.Level

// Infof logs at informational severity.
func Infof(format string, args ...any) { glog.Infof(format, args...) }

// Warningf logs at warning severity.
func Warningf(format string, args ...any) { glog.Warningf(format, args...) }

// Errorf logs at error severity.
func Errorf(format string, args ...any) { glog.Errorf(format, args...) }

// Fatalf logs at fatal severity and terminates the process, matching
// torua's logFatal indirection (kept as a package var so tests can stub it).
var Fatalf = func(format string, args ...any) { glog.Fatalf(format, args...) }

// V reports whether verbose logging at the given level is enabled, so hot
// paths (per-key cache operations, per-record delta callbacks) can skip
// formatting cost entirely when verbosity is off.
func V(level Level) glog.Verbose { return glog.V(level) }

// Flush flushes any pending log entries; call during graceful shutdown.
func Flush() { glog.Flush() }
