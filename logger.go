package blade

import (
	"log/slog"
	"sync/atomic"
)

var silent = slog.New(slog.DiscardHandler)

// pkgLogger is the logger of Contexts created without one of their own.
var pkgLogger atomic.Pointer[slog.Logger]

func init() {
	pkgLogger.Store(silent)
}

// SetLogger sets the logger of Contexts whose ContextDesc.Logger is nil.
// A Context captures the logger in New and hands it to its driver, so
// SetLogger affects Contexts created after the call. Pass nil to restore
// the default, which discards everything.
//
// Levels:
//   - [slog.LevelDebug]: object creation and destruction, submissions
//   - [slog.LevelInfo]: device selection
//   - [slog.LevelWarn]: resources leaked at Close, driver retirement problems
//
// Example:
//
//	blade.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = silent
	}
	pkgLogger.Store(l)
}

// Logger returns the logger set by SetLogger. It is safe for concurrent use.
func Logger() *slog.Logger {
	return pkgLogger.Load()
}

// contextLogger is the logger of a Context named name. Records carry the
// name so the output of several Contexts can be told apart.
func contextLogger(l *slog.Logger, name string) *slog.Logger {
	if l == nil {
		l = Logger()
	}
	if name == "" {
		return l
	}
	return l.With(slog.String("context", name))
}

// Logger returns the logger of the Context.
func (c *Context) Logger() *slog.Logger {
	return c.log
}
