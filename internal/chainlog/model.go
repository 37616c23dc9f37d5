// Package chainlog implements a tamper-evident, append-only event log.
//
// Every entry written to the backing file carries a digest computed from its
// message and the digest of the entry before it:
//
//	digest_0 = Digest(message_0)
//	digest_i = Digest(message_i || digest_{i-1})
//
// Editing, deleting or reordering any historical line breaks the chain, which
// Verify detects by replaying the file.
package chainlog

import (
	"fmt"
	"strings"
	"time"
)

// Level is the severity of a log entry.
type Level string

// Supported levels. Any other value is rejected by Append.
const (
	LevelInfo    Level = "INFO"
	LevelWarning Level = "WARNING"
	LevelError   Level = "ERROR"
)

// ValidLevels defines the allowed severity levels.
var ValidLevels = map[Level]bool{
	LevelInfo:    true,
	LevelWarning: true,
	LevelError:   true,
}

// ParseLevel normalizes s to upper case and validates it.
func ParseLevel(s string) (Level, error) {
	level := Level(strings.ToUpper(strings.TrimSpace(s)))
	if !ValidLevels[level] {
		return "", fmt.Errorf("%w: %q", ErrInvalidLevel, s)
	}
	return level, nil
}

// String returns the level name.
func (l Level) String() string {
	return string(l)
}

// Entry is a single record of the chain as written to, or read back from,
// the backing file.
type Entry struct {
	Timestamp time.Time
	Level     Level
	Identity  string // empty only for the bootstrap entry
	Digest    string
	Message   string

	// Line is the 1-based line number in the backing file (0 if unknown).
	Line int
	// Raw is the formatted line without its trailing newline.
	Raw string
}

// IsBootstrap reports whether the entry has no identity, which only the
// synthesized first entry is allowed to have.
func (e *Entry) IsBootstrap() bool {
	return e.Identity == ""
}
