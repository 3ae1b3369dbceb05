// Package security provides the request middleware in front of the webhook
// endpoint: request logging, panic recovery, security headers, per-IP rate
// limiting, and an optional GitHub source-IP allowlist.
package security

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/codeGROOVE-dev/larkhook/pkg/logger"
)

// Middleware wraps every request with logging, panic recovery, security
// headers, rate limiting, and (when allow is non-nil) source-IP filtering.
// Rejections are written as {"success":false,"error":...} JSON bodies.
func Middleware(rl *RateLimiter, allow IPAllowlist) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ip := ClientIP(r)
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			defer func() {
				if err := recover(); err != nil {
					buf := make([]byte, 4096)
					n := runtime.Stack(buf, false)
					logger.Error(ctx, "panic recovered", nil, logger.Fields{
						"panic": err,
						"ip":    ip,
						"path":  r.URL.Path,
						"stack": string(buf[:n]),
					})
					if !wrapped.written {
						writeError(ctx, wrapped, http.StatusInternalServerError, "Internal server error")
					}
				}

				fields := logger.Fields{
					"method":   r.Method,
					"status":   wrapped.statusCode,
					"path":     r.URL.Path,
					"ip":       ip,
					"duration": time.Since(start).String(),
				}
				if wrapped.statusCode >= 400 {
					fields["user_agent"] = r.UserAgent()
					logger.Warn(ctx, "HTTP response error", fields)
				} else {
					logger.Debug(ctx, "HTTP response", fields)
				}
			}()

			wrapped.Header().Set("X-Content-Type-Options", "nosniff")
			wrapped.Header().Set("X-Frame-Options", "DENY")
			wrapped.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")

			if allow != nil && !allow.IsValid(ip) {
				logger.Warn(ctx, "request rejected: source IP not allowed", logger.Fields{"ip": ip, "path": r.URL.Path})
				writeError(ctx, wrapped, http.StatusForbidden, "Forbidden")
				return
			}

			if rl != nil && !rl.Allow(ip) {
				logger.Warn(ctx, "rate limit exceeded", logger.Fields{
					"ip":         ip,
					"path":       r.URL.Path,
					"user_agent": r.UserAgent(),
				})
				writeError(ctx, wrapped, http.StatusTooManyRequests, "Rate limit exceeded")
				return
			}

			next.ServeHTTP(wrapped, r)
		})
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := struct {
		Error   string `json:"error"`
		Success bool   `json:"success"`
	}{Error: msg}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error(ctx, "failed to write error response", err, nil)
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter

	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.written = true
	}
	return rw.ResponseWriter.Write(b)
}
