// Package logger provides structured logging using slog with hostname tracking,
// short source file paths, and GitHub delivery-id correlation.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// Fields represents structured log fields.
type Fields map[string]any

// Options controls the handler built by New.
type Options struct {
	Level slog.Level
	JSON  bool
}

type deliveryKey struct{}

var (
	// defaultLogger is the global logger instance.
	defaultLogger *slog.Logger
	// hostname is cached on init.
	hostname string
)

func init() {
	var err error
	hostname, err = os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	defaultLogger = New(os.Stderr, Options{Level: slog.LevelInfo})
}

// New creates a new slog logger with hostname and short source paths.
func New(w io.Writer, opts Options) *slog.Logger {
	hopts := &slog.HandlerOptions{
		AddSource: true,
		Level:     opts.Level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.SourceKey {
				if source, ok := a.Value.Any().(*slog.Source); ok {
					source.File = filepath.Base(source.File)
					source.Function = ""
				}
			}
			return a
		},
	}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(w, hopts)
	} else {
		handler = slog.NewTextHandler(w, hopts)
	}

	return slog.New(handler).With("instance", hostname)
}

// ParseLevel converts a level name (debug, info, warn, error) to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// SetDefault sets the default logger.
func SetDefault(l *slog.Logger) {
	defaultLogger = l
}

// Default returns the default logger.
func Default() *slog.Logger {
	return defaultLogger
}

// Hostname returns the cached hostname.
func Hostname() string {
	return hostname
}

// WithDelivery returns a context carrying the GitHub delivery id. Every log
// call made with that context includes it as delivery_id.
func WithDelivery(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, deliveryKey{}, id)
}

// Delivery returns the delivery id stored by WithDelivery, if any.
func Delivery(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(deliveryKey{}).(string) //nolint:errcheck // zero value is fine
	return id
}

// Info logs an info message with optional fields.
func Info(ctx context.Context, msg string, fields Fields) {
	log(ctx, slog.LevelInfo, msg, fields)
}

// Warn logs a warning message with optional fields.
func Warn(ctx context.Context, msg string, fields Fields) {
	log(ctx, slog.LevelWarn, msg, fields)
}

// Error logs an error message with optional fields.
func Error(ctx context.Context, msg string, err error, fields Fields) {
	if fields == nil {
		fields = Fields{}
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	log(ctx, slog.LevelError, msg, fields)
}

// Debug logs a debug message with optional fields.
func Debug(ctx context.Context, msg string, fields Fields) {
	log(ctx, slog.LevelDebug, msg, fields)
}

// log builds the record itself so the source attribute points at the
// caller of Info/Warn/Error/Debug rather than at this file.
func log(ctx context.Context, level slog.Level, msg string, fields Fields) {
	if ctx == nil {
		ctx = context.Background()
	}
	h := defaultLogger.Handler()
	if !h.Enabled(ctx, level) {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:]) // skip Callers, log, and the exported helper
	r := slog.NewRecord(time.Now(), level, msg, pcs[0])
	r.AddAttrs(attrsFromFields(fields)...)
	if id := Delivery(ctx); id != "" {
		if _, set := fields["delivery_id"]; !set {
			r.AddAttrs(slog.String("delivery_id", id))
		}
	}
	_ = h.Handle(ctx, r) //nolint:errcheck // best effort logging
}

// attrsFromFields converts Fields to slog.Attr slice.
func attrsFromFields(fields Fields) []slog.Attr {
	if len(fields) == 0 {
		return nil
	}
	attrs := make([]slog.Attr, 0, len(fields)+1)
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	return attrs
}
