package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/onnwee/chainlog/internal/idempotency"
)

// IdempotencyKeyHeader is the HTTP header name for idempotency keys.
const IdempotencyKeyHeader = "Idempotency-Key"

// IdempotentReplayedHeader is set on responses served from a stored key.
const IdempotentReplayedHeader = "Idempotent-Replayed"

// Error codes written by the idempotency middleware.
const (
	ErrCodeInvalidIdempotencyKey    = "invalid_idempotency_key"
	ErrCodeIdempotencyKeyTooLong    = "idempotency_key_too_long"
	ErrCodeIdempotencyKeyReused     = "idempotency_key_reused"
	ErrCodeIdempotencyKeyInProgress = "idempotency_key_in_progress"
)

// idempotencyResponseWriter passes the response through and keeps a copy.
type idempotencyResponseWriter struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
	written    bool
}

func (w *idempotencyResponseWriter) WriteHeader(statusCode int) {
	if !w.written {
		w.statusCode = statusCode
		w.written = true
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *idempotencyResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.body.Write(b[:n])
	return n, err
}

// Idempotency makes POST requests that carry an Idempotency-Key header safe
// to retry. The first request reserves the key; a 2xx response is stored and
// replayed for later requests with the same key and body, any other response
// releases the key. Requests without the header pass through unchanged.
//
// A key reused with a different body gets 422. A retry that arrives while the
// first request is still running gets 409. If the store fails the request is
// served without idempotency.
func Idempotency(repo idempotency.Repository, maxBodyBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyKeyHeader)
			if r.Method != http.MethodPost || key == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			if err := idempotency.ValidateKey(key); err != nil {
				code, message := ErrCodeInvalidIdempotencyKey, "Invalid Idempotency-Key"
				if errors.Is(err, idempotency.ErrKeyTooLong) {
					code, message = ErrCodeIdempotencyKeyTooLong, "Idempotency-Key exceeds maximum length of 64 characters"
				}
				writeError(w, ctx, http.StatusBadRequest, code, message)
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
			if err != nil {
				writeError(w, ctx, http.StatusBadRequest, "bad_request", "Request body too large or unreadable")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			rec := &idempotency.Key{
				Key:         key,
				Method:      r.Method,
				Route:       r.URL.Path,
				RequestHash: idempotency.HashPayload(body),
				Status:      idempotency.StatusProcessing,
			}

			err = repo.Reserve(ctx, rec)
			switch {
			case errors.Is(err, idempotency.ErrKeyExists):
				replayStored(w, r, repo, rec)
				return
			case err != nil:
				slog.ErrorContext(ctx, "idempotency store unavailable, serving without it", "key", key, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			capture := &idempotencyResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(capture, r)

			// Bookkeeping outlives a client that hung up.
			storeCtx := context.WithoutCancel(ctx)
			if capture.statusCode < 200 || capture.statusCode >= 300 {
				if err := repo.Release(storeCtx, key); err != nil {
					slog.ErrorContext(ctx, "failed to release idempotency key", "key", key, "error", err)
				}
				return
			}

			rec.Status = idempotency.StatusCompleted
			rec.ResponseStatusCode = capture.statusCode
			rec.ResponseBody = capture.body.String()
			if err := repo.Complete(storeCtx, rec); err != nil {
				slog.ErrorContext(ctx, "failed to store idempotent response", "key", key, "error", err)
			}
		})
	}
}

// replayStored answers a request whose key is already held.
func replayStored(w http.ResponseWriter, r *http.Request, repo idempotency.Repository, rec *idempotency.Key) {
	ctx := r.Context()

	existing, err := repo.Get(ctx, rec.Key)
	if errors.Is(err, idempotency.ErrKeyNotFound) {
		// Released or expired between Reserve and Get.
		writeError(w, ctx, http.StatusConflict, ErrCodeIdempotencyKeyInProgress, "Request with this Idempotency-Key is being processed, retry later")
		return
	}
	if err != nil {
		slog.ErrorContext(ctx, "failed to read idempotency key", "key", rec.Key, "error", err)
		writeError(w, ctx, http.StatusInternalServerError, "internal_error", "Failed to read Idempotency-Key")
		return
	}

	if existing.RequestHash != rec.RequestHash || existing.Route != rec.Route {
		writeError(w, ctx, http.StatusUnprocessableEntity, ErrCodeIdempotencyKeyReused, "Idempotency-Key was already used for a different request")
		return
	}
	if existing.Status != idempotency.StatusCompleted {
		writeError(w, ctx, http.StatusConflict, ErrCodeIdempotencyKeyInProgress, "Request with this Idempotency-Key is being processed, retry later")
		return
	}

	slog.DebugContext(ctx, "replaying idempotent response", "key", rec.Key, "status", existing.ResponseStatusCode)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(IdempotentReplayedHeader, "true")
	w.WriteHeader(existing.ResponseStatusCode)
	_, _ = io.WriteString(w, existing.ResponseBody)
}

// writeError writes the JSON error envelope used by the API and records the
// code for the request log.
func writeError(w http.ResponseWriter, ctx context.Context, status int, code, message string) {
	SetErrorCode(ctx, code)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	body := map[string]map[string]string{"error": {"code": code, "message": message}}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.ErrorContext(ctx, "failed to encode error response", "error", err)
	}
}
