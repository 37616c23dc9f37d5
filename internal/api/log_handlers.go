package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/chainlog/internal/chainlog"
	"github.com/onnwee/chainlog/internal/middleware"
	"github.com/onnwee/chainlog/internal/mirror"
	"github.com/onnwee/chainlog/internal/tracing"
)

// DefaultUser is the identity recorded when a request names none.
const DefaultUser = "anonymous"

// MaxAppendBodyBytes bounds POST /log request bodies. Middleware that
// buffers the body for the handler uses the same limit.
const MaxAppendBodyBytes = 64 << 10

// ChainLog is the part of *chainlog.Log the handlers use.
type ChainLog interface {
	Append(level, identity, message string) (*chainlog.Entry, error)
	LastEntry() (line string, ok bool, err error)
	Verify() (*chainlog.VerifyResult, error)
	Entries() ([]chainlog.Entry, error)
}

// AppendRequest is the body of POST /log.
type AppendRequest struct {
	Level   string `json:"level,omitempty"`
	User    string `json:"user,omitempty"`
	Message string `json:"message"`
}

// EntryResponse describes a committed entry.
type EntryResponse struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	User      string    `json:"user"`
	Digest    string    `json:"digest"`
	Message   string    `json:"message"`
	Line      string    `json:"line"`
}

// LastEntryResponse is the body of GET /log/last.
type LastEntryResponse struct {
	Line string `json:"line"`
}

// VerifyResponse is the body of GET /log/verify. Position and Line are -1
// and 0 when the chain is valid or the failure is structural.
type VerifyResponse struct {
	Valid    bool         `json:"valid"`
	Entries  int          `json:"entries"`
	Position int          `json:"position"`
	Line     int          `json:"line"`
	Reason   string       `json:"reason,omitempty"`
	Error    *ErrorDetail `json:"error,omitempty"`
}

// LogHandlers serves the chain log over HTTP.
type LogHandlers struct {
	log    ChainLog
	mirror *mirror.Fanout
	logger *slog.Logger
}

// NewLogHandlers creates log handlers. fanout may be nil when no mirror is
// configured.
func NewLogHandlers(log ChainLog, fanout *mirror.Fanout, logger *slog.Logger) *LogHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogHandlers{log: log, mirror: fanout, logger: logger}
}

// Append handles POST /log.
func (h *LogHandlers) Append(w http.ResponseWriter, r *http.Request) {
	var req AppendRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxAppendBodyBytes)).Decode(&req); err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	if req.Level == "" {
		req.Level = string(chainlog.LevelInfo)
	}
	if strings.TrimSpace(req.User) == "" {
		req.User = DefaultUser
	}
	middleware.SetIdentity(r.Context(), req.User)

	ctx, endSpan := tracing.StartSpan(r.Context(), "chainlog.append",
		attribute.String("chainlog.level", req.Level),
	)
	entry, err := h.log.Append(req.Level, req.User, req.Message)
	endSpan(err)

	if err != nil {
		if isValidationError(err) {
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
			return
		}
		h.logger.ErrorContext(ctx, "failed to append log entry", "error", err)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to append log entry")
		return
	}

	// The entry is committed; mirror failures are logged by the fanout only.
	if h.mirror != nil {
		_ = h.mirror.Mirror(ctx, mirror.FromEntry(entry))
	}

	writeJSON(w, ctx, http.StatusCreated, EntryResponse{
		Timestamp: entry.Timestamp,
		Level:     string(entry.Level),
		User:      entry.Identity,
		Digest:    entry.Digest,
		Message:   entry.Message,
		Line:      entry.Raw,
	})
}

func isValidationError(err error) bool {
	return errors.Is(err, chainlog.ErrInvalidLevel) ||
		errors.Is(err, chainlog.ErrMissingIdentity) ||
		errors.Is(err, chainlog.ErrEmptyMessage) ||
		errors.Is(err, chainlog.ErrMultilineField) ||
		errors.Is(err, chainlog.ErrQuotedIdentity)
}

// Last handles GET /log/last.
func (h *LogHandlers) Last(w http.ResponseWriter, r *http.Request) {
	line, ok, err := h.log.LastEntry()
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to read last entry", "error", err)
		WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Failed to read log")
		return
	}
	if !ok {
		WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "Log is empty")
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, LastEntryResponse{Line: line})
}

// Verify handles GET /log/verify. A broken chain is reported with 409.
func (h *LogHandlers) Verify(w http.ResponseWriter, r *http.Request) {
	ctx, endSpan := tracing.StartSpan(r.Context(), "chainlog.verify")
	result, err := h.log.Verify()
	if err == nil {
		err = result.Err()
	}
	endSpan(err)

	if result == nil {
		h.logger.ErrorContext(ctx, "failed to verify log", "error", err)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to read log")
		return
	}

	resp := VerifyResponse{
		Valid:    result.Valid,
		Entries:  result.Entries,
		Position: result.Position,
		Line:     result.Line,
		Reason:   string(result.Reason),
	}
	status := http.StatusOK
	if !result.Valid {
		status = http.StatusConflict
		resp.Error = &ErrorDetail{Code: ErrCodeIntegrityViolation, Message: err.Error()}
		middleware.SetErrorCode(ctx, ErrCodeIntegrityViolation)
	}
	writeJSON(w, ctx, status, resp)
}

// Export handles GET /log/export. Query parameters:
//
//	format    csv, json (default) or cbor
//	source    file (default) or mirror
//	user      only entries with this identity
//	from, to  RFC 3339 bounds, inclusive
//	limit     maximum number of entries
func (h *LogHandlers) Export(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	opts, err := parseExportOptions(q.Get("format"), q.Get("user"), q.Get("from"), q.Get("to"), q.Get("limit"))
	if err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	var data []byte
	switch source := q.Get("source"); source {
	case "", "file":
		var entries []chainlog.Entry
		entries, err = h.log.Entries()
		if err == nil {
			data, err = mirror.Export(mirror.FromEntries(entries), opts)
		}
	case "mirror":
		if h.mirror == nil || h.mirror.Primary() == nil {
			WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "No mirror is configured")
			return
		}
		data, err = mirror.ExportRepository(r.Context(), h.mirror.Primary(), opts)
	default:
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, fmt.Sprintf("Unknown source %q", source))
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to export log", "error", err)
		WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Failed to export log")
		return
	}

	w.Header().Set("Content-Type", opts.Format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="chainlog.%s"`, opts.Format))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to write export", "error", err)
	}
}

func parseExportOptions(format, user, from, to, limit string) (mirror.ExportOptions, error) {
	var opts mirror.ExportOptions
	var err error

	if opts.Format, err = mirror.ParseExportFormat(format); err != nil {
		return opts, err
	}
	opts.Identity = user

	if from != "" {
		if opts.From, err = time.Parse(time.RFC3339, from); err != nil {
			return opts, fmt.Errorf("from must be an RFC 3339 timestamp")
		}
	}
	if to != "" {
		if opts.To, err = time.Parse(time.RFC3339, to); err != nil {
			return opts, fmt.Errorf("to must be an RFC 3339 timestamp")
		}
	}
	if limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			return opts, fmt.Errorf("limit must be a non-negative integer")
		}
		opts.Limit = n
	}
	return opts, nil
}
