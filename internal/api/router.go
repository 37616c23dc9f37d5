package api

import (
	"net/http"
)

// RouterConfig wires handlers into a mux.
type RouterConfig struct {
	Log    *LogHandlers
	Health *HealthHandlers
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// AppendMiddleware wraps POST /log only, e.g. a rate limiter.
	AppendMiddleware func(http.Handler) http.Handler
}

// NewRouter registers every route of the service.
func NewRouter(cfg RouterConfig) *http.ServeMux {
	mux := http.NewServeMux()

	var appendHandler http.Handler = http.HandlerFunc(cfg.Log.Append)
	if cfg.AppendMiddleware != nil {
		appendHandler = cfg.AppendMiddleware(appendHandler)
	}
	mux.Handle("POST /log", appendHandler)
	mux.HandleFunc("GET /log/last", cfg.Log.Last)
	mux.HandleFunc("GET /log/verify", cfg.Log.Verify)
	mux.HandleFunc("GET /log/export", cfg.Log.Export)

	if cfg.Health != nil {
		mux.HandleFunc("/health", cfg.Health.Health)
		mux.HandleFunc("/ready", cfg.Health.Ready)
	}
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "The requested resource was not found")
	})
	return mux
}
