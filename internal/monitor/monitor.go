// Package monitor re-verifies a chain log in the background, on a fixed
// interval and whenever its backing file changes on disk.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/chainlog/internal/chainlog"
	"github.com/onnwee/chainlog/internal/tracing"
)

// ErrNothingToDo is returned by Start when neither the interval nor the
// file watch is enabled.
var ErrNothingToDo = errors.New("monitor needs an interval or a file watch")

// DefaultDebounce is how long file events are coalesced before a check.
const DefaultDebounce = 250 * time.Millisecond

// Verifier is the part of *chainlog.Log the monitor needs.
type Verifier interface {
	Verify() (*chainlog.VerifyResult, error)
	Path() string
}

// Config configures a Monitor.
type Config struct {
	// Interval between periodic checks; 0 disables them.
	Interval time.Duration
	// Watch enables checks on changes to the backing file.
	Watch bool
	// Debounce coalesces bursts of file events into one check.
	Debounce time.Duration
	Logger   *slog.Logger
	Metrics  *Metrics
	// OnResult, if set, is called after every completed check.
	OnResult func(trigger string, result *chainlog.VerifyResult)
}

// Monitor runs Verify in a background goroutine.
type Monitor struct {
	config   Config
	verifier Verifier

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	watcher *fsnotify.Watcher
	last    *chainlog.VerifyResult
}

// New creates a monitor for v.
func New(config Config, v Verifier) *Monitor {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Debounce <= 0 {
		config.Debounce = DefaultDebounce
	}
	return &Monitor{config: config, verifier: v}
}

// Start begins monitoring and returns immediately. Calling Start on a
// running monitor is a no-op.
func (m *Monitor) Start(ctx context.Context) error {
	if m.config.Interval <= 0 && !m.config.Watch {
		return ErrNothingToDo
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}

	var watcher *fsnotify.Watcher
	if m.config.Watch {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("create file watcher: %w", err)
		}
		// Watch the directory so that the file being created, replaced or
		// renamed is still seen.
		if err := w.Add(filepath.Dir(m.verifier.Path())); err != nil {
			w.Close()
			return fmt.Errorf("watch %s: %w", filepath.Dir(m.verifier.Path()), err)
		}
		watcher = w
	}

	m.watcher = watcher
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})

	go m.run(ctx, watcher, m.stopCh, m.doneCh)

	m.config.Logger.Info("integrity monitor started",
		"file", m.verifier.Path(),
		"interval", m.config.Interval,
		"watch", m.config.Watch)
	return nil
}

// Stop signals the monitor to stop and waits for it to finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	stopCh, doneCh := m.stopCh, m.doneCh
	m.mu.Unlock()

	close(stopCh)
	<-doneCh

	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
}

// IsRunning returns whether the monitor goroutine is active.
func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Last returns the most recent completed check, or nil if none ran yet.
func (m *Monitor) Last() *chainlog.VerifyResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

func (m *Monitor) run(ctx context.Context, watcher *fsnotify.Watcher, stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	if watcher != nil {
		defer watcher.Close()
	}

	var tickC <-chan time.Time
	if m.config.Interval > 0 {
		ticker := time.NewTicker(m.config.Interval)
		defer ticker.Stop()
		tickC = ticker.C
	}

	var events <-chan fsnotify.Event
	var watchErrs <-chan error
	if watcher != nil {
		events = watcher.Events
		watchErrs = watcher.Errors
	}

	target := filepath.Clean(m.verifier.Path())
	var debounce *time.Timer
	var debounceC <-chan time.Time
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			m.config.Logger.Info("integrity monitor stopping due to context cancellation")
			return
		case <-stopCh:
			m.config.Logger.Info("integrity monitor stopping due to stop signal")
			return
		case <-tickC:
			m.Check(ctx, TriggerInterval)
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(event.Name) != target || event.Op == fsnotify.Chmod {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(m.config.Debounce)
				debounceC = debounce.C
			} else {
				debounce.Reset(m.config.Debounce)
			}
		case <-debounceC:
			debounce, debounceC = nil, nil
			m.Check(ctx, TriggerFileChange)
		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			m.config.Metrics.incError("watcher")
			m.config.Logger.Warn("file watcher error", "error", err)
		}
	}
}

// Check verifies the chain once and records the outcome. It returns the
// verification result, or an error if the file could not be read.
func (m *Monitor) Check(ctx context.Context, trigger string) (result *chainlog.VerifyResult, err error) {
	_, endSpan := tracing.StartSpan(ctx, "chainlog.monitor.check",
		attribute.String("chainlog.trigger", trigger),
	)
	defer func() { endSpan(err) }()

	start := time.Now()
	result, err = m.verifier.Verify()
	duration := time.Since(start).Seconds()

	if err != nil {
		m.config.Metrics.observeRun(trigger, StatusError, duration)
		m.config.Metrics.incError("verify")
		m.config.Logger.Error("integrity check failed to run",
			"trigger", trigger,
			"file", m.verifier.Path(),
			"error", err)
		return nil, err
	}

	m.mu.Lock()
	previous := m.last
	m.last = result
	m.mu.Unlock()

	status := StatusValid
	if !result.Valid {
		status = StatusViolation
	}
	m.config.Metrics.observeRun(trigger, status, duration)

	switch {
	case !result.Valid:
		m.config.Logger.Error("hash chain integrity violation",
			"trigger", trigger,
			"file", m.verifier.Path(),
			"reason", result.Reason,
			"position", result.Position,
			"line", result.Line,
			"entries", result.Entries)
	case previous != nil && !previous.Valid:
		m.config.Logger.Warn("hash chain verifies again",
			"trigger", trigger,
			"file", m.verifier.Path(),
			"entries", result.Entries)
	default:
		m.config.Logger.Debug("hash chain intact",
			"trigger", trigger,
			"entries", result.Entries,
			"duration_seconds", duration)
	}

	if m.config.OnResult != nil {
		m.config.OnResult(trigger, result)
	}
	return result, nil
}
