package rtcore

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/rtcore/gpu"
	"github.com/gogpu/rtcore/gpu/halgpu"
	"github.com/gogpu/rtcore/gpu/soft"
	"github.com/gogpu/rtcore/loader"
	"github.com/gogpu/rtcore/render"
	"github.com/gogpu/rtcore/shader"
)

// nopHandler is a slog.Handler that silently discards all log records.
// The Enabled method returns false so the caller skips message formatting
// entirely, making disabled logging effectively zero-cost.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// newNopLogger creates a logger that silently discards all output.
func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	l := newNopLogger()
	loggerPtr.Store(l)
}

// subPackageLoggers are the SetLogger functions SetLogger forwards to.
var subPackageLoggers = []func(*slog.Logger){
	gpu.SetLogger,
	soft.SetLogger,
	halgpu.SetLogger,
	render.SetLogger,
	shader.SetLogger,
	loader.SetLogger,
}

// SetLogger configures the logger for rtcore and all its sub-packages.
// By default, rtcore produces no log output. Call SetLogger to enable logging.
//
// SetLogger is safe for concurrent use: it stores the new logger atomically.
// Pass nil to disable logging (restore default silent behavior).
//
// Log levels used by rtcore:
//   - [slog.LevelDebug]: internal diagnostics (buffer sizes, descriptor
//     allocations, fence values)
//   - [slog.LevelInfo]: lifecycle events (driver opened, pipeline built)
//   - [slog.LevelWarn]: fallbacks (white base color texture)
//   - [slog.LevelError]: failed native calls and rejected commands
//
// Example:
//
//	// Enable debug-level logging for full diagnostics:
//	rtcore.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)
	for _, set := range subPackageLoggers {
		set(l)
	}
}

// Logger returns the current logger used by rtcore.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}
