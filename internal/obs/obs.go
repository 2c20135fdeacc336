// Package obs provides the global structured logger and per-session
// correlation for log lines emitted across the reconciliation layer.
package obs

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

type correlationContextKey struct{}

// Correlation carries identifiers attached to every log line for a session.
type Correlation struct {
	SessionID string
	NoteID    string
}

var (
	loggerMu sync.RWMutex
	logger   *slog.Logger
)

// Init configures the global structured logger.
func Init() {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if logger != nil {
		return
	}
	logger = newLogger(os.Stderr)
	slog.SetDefault(logger)
}

// SetOutputForTests overrides the global logger output for tests.
func SetOutputForTests(w io.Writer) func() {
	loggerMu.Lock()
	prev := logger
	logger = newLogger(w)
	slog.SetDefault(logger)
	loggerMu.Unlock()

	return func() {
		loggerMu.Lock()
		defer loggerMu.Unlock()
		if prev != nil {
			logger = prev
		} else {
			logger = newLogger(os.Stderr)
		}
		slog.SetDefault(logger)
	}
}

func newLogger(w io.Writer) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		ReplaceAttr: func(_ []string, attr slog.Attr) slog.Attr {
			if attr.Key == slog.TimeKey {
				t, ok := attr.Value.Any().(time.Time)
				if ok {
					return slog.String(slog.TimeKey, t.UTC().Format(time.RFC3339Nano))
				}
			}
			return attr
		},
	})
	return slog.New(handler)
}

func globalLogger() *slog.Logger {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	if l != nil {
		return l
	}
	Init()
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// Pkg returns a logger tagged with package name.
func Pkg(pkg string) *slog.Logger {
	return globalLogger().With("pkg", pkg)
}

// From returns a logger with correlation fields from context.
func From(ctx context.Context) *slog.Logger {
	l := globalLogger()
	corr := CorrelationFromContext(ctx)
	var attrs []any
	if corr.SessionID != "" {
		attrs = append(attrs, "session_id", corr.SessionID)
	}
	if corr.NoteID != "" {
		attrs = append(attrs, "note_id", corr.NoteID)
	}
	if len(attrs) == 0 {
		return l
	}
	return l.With(attrs...)
}

// WithSession stores the session identity in context for correlation.
func WithSession(ctx context.Context, sessionID string) context.Context {
	corr := CorrelationFromContext(ctx)
	corr.SessionID = strings.TrimSpace(sessionID)
	return context.WithValue(ctx, correlationContextKey{}, corr)
}

// WithNote stores the note id in context for correlation.
func WithNote(ctx context.Context, noteID string) context.Context {
	corr := CorrelationFromContext(ctx)
	corr.NoteID = strings.TrimSpace(noteID)
	return context.WithValue(ctx, correlationContextKey{}, corr)
}

// CorrelationFromContext returns the correlation stored in ctx, if any.
func CorrelationFromContext(ctx context.Context) Correlation {
	if ctx == nil {
		return Correlation{}
	}
	corr, _ := ctx.Value(correlationContextKey{}).(Correlation)
	return corr
}
