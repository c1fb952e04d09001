// Package middleware holds HTTP middleware shared by every route.
package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/datasaki/datasaki-engine/pkg/audit"
	"github.com/datasaki/datasaki-engine/pkg/auth"
	"github.com/datasaki/datasaki-engine/pkg/models"
)

// RequestStore persists served requests.
type RequestStore interface {
	SaveRequest(ctx context.Context, entry *models.RequestLog) error
}

// RequestIdentifier resolves the caller of a request. auth.AuthService satisfies it.
type RequestIdentifier interface {
	ValidateRequest(r *http.Request) (*auth.Claims, string, error)
}

// unrecordedPaths are liveness probes that would flood the request log.
var unrecordedPaths = map[string]bool{
	"/health": true,
	"/ping":   true,
}

// RequestLogger returns middleware that logs HTTP requests at DEBUG level.
// Pass nil logger to disable logging (makes it optional/injectable).
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if logger == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			logger.Debug("HTTP request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", wrapped.statusCode),
				zap.Duration("duration", time.Since(start)),
				zap.String("client_ip", ClientIP(r)),
			)
		})
	}
}

// RequestRecorder returns middleware that persists every API request. The
// user email is taken from a valid token when one is present; invalid or
// missing tokens are recorded anonymously. Persistence failures are logged
// and never change the response.
func RequestRecorder(store RequestStore, identifier RequestIdentifier, logger *zap.Logger) func(http.Handler) http.Handler {
	logger = logger.Named("request-recorder")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if unrecordedPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			clientIP := ClientIP(r)
			r = r.WithContext(audit.WithClientIP(r.Context(), clientIP))

			next.ServeHTTP(wrapped, r)

			entry := &models.RequestLog{
				Method:     r.Method,
				Path:       r.URL.Path,
				UserEmail:  requestEmail(identifier, r),
				ClientIP:   clientIP,
				UserAgent:  r.UserAgent(),
				Status:     wrapped.statusCode,
				DurationMS: time.Since(start).Milliseconds(),
			}

			// The client may already be gone; the record is still wanted.
			ctx := context.WithoutCancel(r.Context())
			if err := store.SaveRequest(ctx, entry); err != nil {
				logger.Error("Failed to persist request log",
					zap.String("method", entry.Method),
					zap.String("path", entry.Path),
					zap.Error(err))
			}
		})
	}
}

func requestEmail(identifier RequestIdentifier, r *http.Request) string {
	if claims, ok := auth.GetClaims(r.Context()); ok {
		return claims.Email
	}
	if identifier == nil {
		return ""
	}
	claims, _, err := identifier.ValidateRequest(r)
	if err != nil || claims == nil {
		return ""
	}
	return claims.Email
}

// ClientIP returns the first X-Forwarded-For hop, falling back to the
// connection's remote address without the port.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

type responseWriter struct {
	http.ResponseWriter
	statusCode    int
	headerWritten bool
}

// WriteHeader forwards only the first status; later calls are dropped.
func (rw *responseWriter) WriteHeader(code int) {
	if rw.headerWritten {
		return
	}
	rw.statusCode = code
	rw.headerWritten = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.headerWritten {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
