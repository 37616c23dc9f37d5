package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// mockHealthChecker is a mock implementation of HealthChecker for testing.
type mockHealthChecker struct {
	shouldFail bool
	calls      int
}

func (m *mockHealthChecker) HealthCheck(ctx context.Context) error {
	m.calls++
	if m.shouldFail {
		return errors.New("health check failed")
	}
	return nil
}

func TestHealth_Success(t *testing.T) {
	handlers := NewHealthHandlers(HealthHandlersConfig{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	handlers.Health(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("expected JSON content type, got %s", ct)
	}

	var response HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Status != "healthy" {
		t.Errorf("expected status 'healthy', got %s", response.Status)
	}
	if response.Checks["runtime"] != "ok" {
		t.Errorf("expected runtime check to be 'ok', got %s", response.Checks["runtime"])
	}
	if _, err := time.Parse(time.RFC3339, response.Timestamp); err != nil {
		t.Errorf("timestamp is not valid RFC3339: %v", err)
	}
}

func TestHealthHandlers_MethodNotAllowed(t *testing.T) {
	handlers := NewHealthHandlers(HealthHandlersConfig{})

	for name, handle := range map[string]http.HandlerFunc{
		"health": handlers.Health,
		"ready":  handlers.Ready,
	} {
		t.Run(name, func(t *testing.T) {
			w := httptest.NewRecorder()
			handle(w, httptest.NewRequest(http.MethodPost, "/"+name, nil))
			if w.Code != http.StatusMethodNotAllowed {
				t.Errorf("expected status 405, got %d", w.Code)
			}
		})
	}
}

func TestReady(t *testing.T) {
	tests := []struct {
		name       string
		logFile    *mockHealthChecker
		db         *mockHealthChecker
		redis      *mockHealthChecker
		wantStatus int
		wantChecks map[string]string
	}{
		{
			name:       "all healthy",
			logFile:    &mockHealthChecker{},
			db:         &mockHealthChecker{},
			redis:      &mockHealthChecker{},
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{"log_file": "ok", "database": "ok", "redis": "ok", "metrics": "ok"},
		},
		{
			name:       "only log file configured",
			logFile:    &mockHealthChecker{},
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{"log_file": "ok", "database": "not_configured", "redis": "not_configured"},
		},
		{
			name:       "log file unwritable",
			logFile:    &mockHealthChecker{shouldFail: true},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"log_file": "error"},
		},
		{
			name:       "database down",
			logFile:    &mockHealthChecker{},
			db:         &mockHealthChecker{shouldFail: true},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"log_file": "ok", "database": "error"},
		},
		{
			name:       "redis down",
			logFile:    &mockHealthChecker{},
			redis:      &mockHealthChecker{shouldFail: true},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"redis": "error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := HealthHandlersConfig{}
			// Assign only non-nil mocks so the interfaces stay nil otherwise.
			if tt.logFile != nil {
				cfg.LogFileChecker = tt.logFile
			}
			if tt.db != nil {
				cfg.DBChecker = tt.db
			}
			if tt.redis != nil {
				cfg.RedisChecker = tt.redis
			}
			handlers := NewHealthHandlers(cfg)

			w := httptest.NewRecorder()
			handlers.Ready(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, w.Code)
			}

			var response HealthResponse
			if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}

			wantOverall := "healthy"
			if tt.wantStatus != http.StatusOK {
				wantOverall = "unhealthy"
			}
			if response.Status != wantOverall {
				t.Errorf("expected status %q, got %q", wantOverall, response.Status)
			}
			for check, want := range tt.wantChecks {
				if got := response.Checks[check]; got != want {
					t.Errorf("check %s = %q, want %q", check, got, want)
				}
			}
		})
	}
}

type slowChecker struct{}

func (slowChecker) HealthCheck(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestReady_Timeout(t *testing.T) {
	handlers := NewHealthHandlers(HealthHandlersConfig{
		DBChecker: slowChecker{},
		Timeout:   20 * time.Millisecond,
	})

	start := time.Now()
	w := httptest.NewRecorder()
	handlers.Ready(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("readiness took %s, want it bounded by the timeout", elapsed)
	}
}
