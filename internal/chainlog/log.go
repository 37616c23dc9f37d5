package chainlog

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/chainlog/internal/digest"
)

// BootstrapMessagePrefix starts the message of the entry synthesized by
// Initialize. Existing logs begin with this exact text, so it must not change.
const BootstrapMessagePrefix = "Inicialización del log en el tiempo "

// bootstrapTimeLayout renders the initialization time inside the bootstrap message.
const bootstrapTimeLayout = "2006-01-02 15:04:05 MST"

// logFileMode restricts the backing file to owner read/write and group read.
const logFileMode = 0o640

// Config configures a Log.
type Config struct {
	Path      string         // Backing file (required)
	Algorithm string         // Digest registry name; empty selects SHA256
	Digest    digest.Func    // Overrides Algorithm when set
	Location  *time.Location // Timestamp location; nil means time.Local
	Sync      bool           // fsync after every append
	Logger    *slog.Logger   // Defaults to slog.Default()
	Metrics   *Metrics       // Optional
	Now       func() time.Time
}

// Log is a hash-chained, append-only log backed by a single file.
//
// A single mutex serializes the "read tail digest, compute, append" sequence
// so that no two entries are ever chained to the same predecessor. Reads
// (LastEntry, Entries, Verify) do not take the mutex.
type Log struct {
	path      string
	algorithm string
	digest    digest.Func
	codec     *Codec
	sync      bool
	logger    *slog.Logger
	metrics   *Metrics
	now       func() time.Time

	mu sync.Mutex
}

// New creates a Log for cfg.Path. It does not touch the file system; call
// Initialize before the first Append. An unknown digest algorithm fails here.
func New(cfg Config) (*Log, error) {
	if cfg.Path == "" {
		return nil, ErrMissingPath
	}

	fn := cfg.Digest
	algorithm := cfg.Algorithm
	if fn == nil {
		name, err := digest.Normalize(cfg.Algorithm)
		if err != nil {
			return nil, err
		}
		fn, err = digest.New(name)
		if err != nil {
			return nil, err
		}
		algorithm = name
	} else if algorithm == "" {
		algorithm = "custom"
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Log{
		path:      cfg.Path,
		algorithm: algorithm,
		digest:    fn,
		codec:     NewCodec(digest.HexLen(fn), cfg.Location),
		sync:      cfg.Sync,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		now:       cfg.Now,
	}, nil
}

// Path returns the backing file path.
func (l *Log) Path() string {
	return l.path
}

// Algorithm returns the digest algorithm name.
func (l *Log) Algorithm() string {
	return l.algorithm
}

// Codec returns the line codec used by this log.
func (l *Log) Codec() *Codec {
	return l.codec
}

// Initialize creates the backing file if it does not exist and, if the file
// is empty, writes the bootstrap entry and returns its formatted text so the
// caller can mirror it. On a non-empty file it does nothing and returns "".
func (l *Log) Initialize() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if dir := filepath.Dir(l.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDONLY, logFileMode)
	if err != nil {
		return "", fmt.Errorf("failed to create log file: %w", err)
	}
	info, err := f.Stat()
	f.Close()
	if err != nil {
		return "", fmt.Errorf("failed to stat log file: %w", err)
	}

	if info.Size() > 0 {
		l.logger.Debug("log already initialized", "path", l.path)
		return "", nil
	}

	message := BootstrapMessagePrefix + l.now().UTC().Format(bootstrapTimeLayout)
	entry, err := l.appendLocked(LevelInfo, "", message)
	if err != nil {
		return "", err
	}

	l.logger.Info("log initialized",
		"path", l.path,
		"algorithm", l.algorithm,
		"digest", entry.Digest,
	)
	return entry.Raw, nil
}

// Append validates and writes one entry. Validation happens before the lock
// is taken, so a rejected call never writes. The returned entry is exactly
// what was written.
func (l *Log) Append(level, identity, message string) (*Entry, error) {
	lvl, err := validateEntry(level, identity, message)
	if err != nil {
		l.metrics.incAppendError(appendErrorValidation)
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.appendLocked(lvl, identity, message)
}

// appendLocked must be called with l.mu held.
func (l *Log) appendLocked(level Level, identity, message string) (*Entry, error) {
	start := time.Now()

	prev, err := l.tailDigest()
	if err != nil {
		l.metrics.incAppendError(appendErrorIO)
		return nil, err
	}

	sum := l.digest(chainInput(message, prev))
	ts := l.now()
	line := l.codec.Format(ts, level, identity, sum, message)

	if err := l.writeLine(line); err != nil {
		l.metrics.incAppendError(appendErrorIO)
		return nil, err
	}

	l.metrics.observeAppend(level, time.Since(start).Seconds(), float64(ts.Unix()))
	l.logger.Debug("entry appended",
		"level", level,
		"identity", identity,
		"digest", sum,
	)

	return &Entry{
		Timestamp: ts.In(l.codec.location).Truncate(time.Second),
		Level:     level,
		Identity:  identity,
		Digest:    sum,
		Message:   message,
		Raw:       line,
	}, nil
}

// tailDigest returns the digest of the last line, or "" when the file is empty.
// A last line without a recognizable digest also yields "", so the next entry
// starts a fresh chain rather than failing.
func (l *Log) tailDigest() (string, error) {
	line, ok, err := readLastLine(l.path)
	if err != nil || !ok {
		return "", err
	}
	sum, found := l.codec.chainDigest(line)
	if !found {
		l.logger.Warn("last log line has no digest, chaining from genesis", "path", l.path)
		return "", nil
	}
	return sum, nil
}

func (l *Log) writeLine(line string) error {
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, logFileMode)
	if err != nil {
		return fmt.Errorf("failed to open log file for append: %w", err)
	}

	// One write call per line keeps each entry contiguous in O_APPEND mode.
	_, werr := f.WriteString(line + "\n")
	if werr == nil && l.sync {
		werr = f.Sync()
	}
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		return fmt.Errorf("failed to write log entry: %w", err)
	}
	return nil
}

// LastEntry returns the most recently written line verbatim. ok is false if
// the file is absent or empty.
func (l *Log) LastEntry() (line string, ok bool, err error) {
	return readLastLine(l.path)
}

// chainInput is message || prev, or message alone for the genesis entry.
func chainInput(message, prev string) []byte {
	if prev == "" {
		return []byte(message)
	}
	buf := make([]byte, 0, len(message)+len(prev))
	buf = append(buf, message...)
	buf = append(buf, prev...)
	return buf
}

// validateEntry checks caller input before anything is written.
func validateEntry(level, identity, message string) (Level, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return "", err
	}
	if identity == "" {
		return "", ErrMissingIdentity
	}
	if message == "" {
		return "", ErrEmptyMessage
	}
	if strings.ContainsAny(identity, "\r\n") || strings.ContainsAny(message, "\r\n") {
		return "", ErrMultilineField
	}
	if strings.Contains(identity, digestQuote) {
		return "", ErrQuotedIdentity
	}
	return lvl, nil
}
