// Package middleware provides HTTP middleware components for the chainlog service.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"
)

// annotationsKey is the context key for per-request annotations.
type annotationsKey struct{}

// annotations carries values that handlers report back to the logging
// middleware. The middleware owns the pointer, so handlers can fill it in
// without returning a new context.
type annotations struct {
	mu        sync.Mutex
	errorCode string
	identity  string
}

func withAnnotations(ctx context.Context) (context.Context, *annotations) {
	if a, ok := ctx.Value(annotationsKey{}).(*annotations); ok {
		return ctx, a
	}
	a := &annotations{}
	return context.WithValue(ctx, annotationsKey{}, a), a
}

// SetErrorCode records the error code of the response being written.
// It is a no-op outside the Logging middleware.
func SetErrorCode(ctx context.Context, code string) {
	if a, ok := ctx.Value(annotationsKey{}).(*annotations); ok {
		a.mu.Lock()
		a.errorCode = code
		a.mu.Unlock()
	}
}

// GetErrorCode retrieves the error code recorded for the request. Returns empty string if not present.
func GetErrorCode(ctx context.Context) string {
	if a, ok := ctx.Value(annotationsKey{}).(*annotations); ok {
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.errorCode
	}
	return ""
}

// SetIdentity records the caller identity named in the request body.
func SetIdentity(ctx context.Context, identity string) {
	if a, ok := ctx.Value(annotationsKey{}).(*annotations); ok {
		a.mu.Lock()
		a.identity = identity
		a.mu.Unlock()
	}
}

// GetIdentity retrieves the caller identity recorded for the request. Returns empty string if not present.
func GetIdentity(ctx context.Context) string {
	if a, ok := ctx.Value(annotationsKey{}).(*annotations); ok {
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.identity
	}
	return ""
}

// responseWriter wraps http.ResponseWriter to capture status code and response size.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	size        int
	wroteHeader bool
}

// WriteHeader captures the status code before writing it.
// Only the first call sets the status code; subsequent calls are ignored
// to match http.ResponseWriter behavior where only the first status is sent.
func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.statusCode = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

// Write captures the response size and writes the data.
func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

// newResponseWriter creates a new responseWriter with default 200 status.
func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// NewLogger creates an slog.Logger based on the environment.
// In production (env == "production"), it returns a JSON handler.
// Otherwise, it returns a text handler for development.
func NewLogger(env string) *slog.Logger {
	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}
	return slog.New(handler)
}

// Logging is a middleware that logs HTTP requests with structured fields.
// It captures: method, path, status, latency (ms), request ID, identity (if
// reported by the handler), response size, and error_code (for error responses).
//
// Note: If a handler panics, the log entry will not be written. To ensure logging
// even on panics, place a recovery middleware outside of the logging middleware.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ctx, notes := withAnnotations(r.Context())
			rw := newResponseWriter(w)

			next.ServeHTTP(rw, r.WithContext(ctx))

			latency := time.Since(start).Milliseconds()

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rw.statusCode),
				slog.Int64("latency_ms", latency),
				slog.Int("size", rw.size),
			}

			if requestID := GetRequestID(ctx); requestID != "" {
				attrs = append(attrs, slog.String("request_id", requestID))
			}

			notes.mu.Lock()
			identity, errorCode := notes.identity, notes.errorCode
			notes.mu.Unlock()

			if identity != "" {
				attrs = append(attrs, slog.String("identity", identity))
			}

			// Add error code for error responses (4xx and 5xx)
			if rw.statusCode >= 400 && errorCode != "" {
				attrs = append(attrs, slog.String("error_code", errorCode))
			}

			// Log at appropriate level based on status code using LogAttrs
			if rw.statusCode >= 500 {
				logger.LogAttrs(ctx, slog.LevelError, "request completed", attrs...)
			} else if rw.statusCode >= 400 {
				logger.LogAttrs(ctx, slog.LevelWarn, "request completed", attrs...)
			} else {
				logger.LogAttrs(ctx, slog.LevelInfo, "request completed", attrs...)
			}
		})
	}
}
