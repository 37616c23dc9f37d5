package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// HealthChecker defines the interface for components that can be health checked.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Check states reported by /ready.
const (
	checkOK            = "ok"
	checkError         = "error"
	checkNotConfigured = "not_configured"
)

// HealthHandlers provides liveness and readiness endpoints.
type HealthHandlers struct {
	logFileChecker HealthChecker
	dbChecker      HealthChecker
	redisChecker   HealthChecker
	timeout        time.Duration
}

// HealthHandlersConfig configures the health check handlers. Nil checkers
// are reported as not configured and do not affect readiness.
type HealthHandlersConfig struct {
	LogFileChecker HealthChecker
	DBChecker      HealthChecker
	RedisChecker   HealthChecker
	// Timeout bounds all readiness checks together; defaults to 5s.
	Timeout time.Duration
}

// NewHealthHandlers creates a new health check handler.
func NewHealthHandlers(config HealthHandlersConfig) *HealthHandlers {
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	return &HealthHandlers{
		logFileChecker: config.LogFileChecker,
		dbChecker:      config.DBChecker,
		redisChecker:   config.RedisChecker,
		timeout:        config.Timeout,
	}
}

// HealthResponse represents the JSON response for health checks.
type HealthResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Health handles GET /health (liveness probe). It succeeds whenever the
// process can serve requests.
func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, r.Context(), http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	writeJSON(w, r.Context(), http.StatusOK, HealthResponse{
		Status:    "healthy",
		Checks:    map[string]string{"runtime": checkOK},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready handles GET /ready (readiness probe). It returns 503 when the backing
// file cannot be appended to or a configured mirror is unreachable.
func (h *HealthHandlers) Ready(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, r.Context(), http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks := make(map[string]string)
	healthy := true

	for _, c := range []struct {
		name    string
		checker HealthChecker
	}{
		{"log_file", h.logFileChecker},
		{"database", h.dbChecker},
		{"redis", h.redisChecker},
	} {
		if c.checker == nil {
			checks[c.name] = checkNotConfigured
			continue
		}
		if err := c.checker.HealthCheck(ctx); err != nil {
			checks[c.name] = checkError
			healthy = false
			slog.WarnContext(ctx, "readiness check failed", "check", c.name, "error", err)
			continue
		}
		checks[c.name] = checkOK
	}

	// The Prometheus registry is always initialized.
	checks["metrics"] = checkOK

	status := "healthy"
	statusCode := http.StatusOK
	if !healthy {
		status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, r.Context(), statusCode, HealthResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
