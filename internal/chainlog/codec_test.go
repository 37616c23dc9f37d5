package chainlog

import (
	"strings"
	"testing"
	"time"
)

const testDigest = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"

func TestCodec_Format(t *testing.T) {
	c := NewCodec(64, time.UTC)
	ts := time.Date(2026, 3, 14, 9, 26, 53, 589000000, time.UTC)

	tests := []struct {
		name     string
		level    Level
		identity string
		message  string
		want     string
	}{
		{
			name:     "with identity",
			level:    LevelInfo,
			identity: "alice",
			message:  "login",
			want:     "2026-03-14 09:26:53: INFO     | alice | '" + testDigest + "': login |",
		},
		{
			name:    "bootstrap without identity",
			level:   LevelInfo,
			message: "Inicialización del log en el tiempo 2026-03-14 09:26:53 UTC",
			want:    "2026-03-14 09:26:53: INFO     | '" + testDigest + "': Inicialización del log en el tiempo 2026-03-14 09:26:53 UTC |",
		},
		{
			name:     "warning is padded to width",
			level:    LevelWarning,
			identity: "svc-api",
			message:  "slow",
			want:     "2026-03-14 09:26:53: WARNING  | svc-api | '" + testDigest + "': slow |",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Format(ts, tt.level, tt.identity, testDigest, tt.message)
			if got != tt.want {
				t.Errorf("Format() =\n%q\nwant\n%q", got, tt.want)
			}
		})
	}
}

func TestCodec_ParseRoundTrip(t *testing.T) {
	c := NewCodec(64, time.UTC)
	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	tests := []struct {
		name     string
		level    Level
		identity string
		message  string
	}{
		{name: "plain", level: LevelInfo, identity: "alice", message: "login"},
		{name: "bootstrap", level: LevelInfo, identity: "", message: "first"},
		{name: "message with pipes", level: LevelError, identity: "bob", message: "a | b | c"},
		{name: "message with delimiter lookalike", level: LevelWarning, identity: "bob", message: "x': y ' | z"},
		{name: "message ending in terminator", level: LevelInfo, identity: "carol", message: "done |"},
		{name: "unicode", level: LevelInfo, identity: "josé", message: "operación fallida ✓"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := c.Format(ts, tt.level, tt.identity, testDigest, tt.message)
			entry, ok := c.Parse(line)
			if !ok {
				t.Fatalf("Parse(%q) failed", line)
			}
			if entry.Message != tt.message {
				t.Errorf("Message = %q, want %q", entry.Message, tt.message)
			}
			if entry.Digest != testDigest {
				t.Errorf("Digest = %q, want %q", entry.Digest, testDigest)
			}
			if entry.Identity != tt.identity {
				t.Errorf("Identity = %q, want %q", entry.Identity, tt.identity)
			}
			if entry.Level != tt.level {
				t.Errorf("Level = %q, want %q", entry.Level, tt.level)
			}
			if !entry.Timestamp.Equal(ts) {
				t.Errorf("Timestamp = %v, want %v", entry.Timestamp, ts)
			}
			if entry.Raw != line {
				t.Errorf("Raw = %q, want %q", entry.Raw, line)
			}
		})
	}
}

func TestCodec_ParseRejectsForeignLines(t *testing.T) {
	c := NewCodec(64, time.UTC)

	tests := []struct {
		name string
		line string
	}{
		{name: "empty", line: ""},
		{name: "free text", line: "hello world"},
		{name: "missing terminator", line: "2026-03-14 09:26:53: INFO     | alice | '" + testDigest + "': login"},
		{name: "short digest", line: "2026-03-14 09:26:53: INFO     | alice | 'abc123': login |"},
		{name: "non hex digest", line: "2026-03-14 09:26:53: INFO     | alice | '" + strings.Repeat("z", 64) + "': login |"},
		{name: "missing digest suffix", line: "2026-03-14 09:26:53: INFO     | alice | '" + testDigest + "' login |"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := c.Parse(tt.line); ok {
				t.Errorf("Parse(%q) should fail", tt.line)
			}
		})
	}
}

func TestCodec_ParseTrimsLineEnding(t *testing.T) {
	c := NewCodec(64, time.UTC)
	line := c.Format(time.Now(), LevelInfo, "alice", testDigest, "login")

	entry, ok := c.Parse(line + "\r\n")
	if !ok {
		t.Fatal("Parse() should accept a trailing CRLF")
	}
	if entry.Message != "login" {
		t.Errorf("Message = %q, want %q", entry.Message, "login")
	}
}

func TestCodec_FindDigest(t *testing.T) {
	c := NewCodec(64, time.UTC)

	line := c.Format(time.Now(), LevelInfo, "alice", testDigest, "login")
	got, ok := c.FindDigest(line)
	if !ok || got != testDigest {
		t.Errorf("FindDigest() = %q, %v; want %q, true", got, ok, testDigest)
	}

	if _, ok := c.FindDigest("no digest here"); ok {
		t.Error("FindDigest() should fail on a line without a digest")
	}

	// A 128-character token does not match a 64-character codec.
	long := "'" + strings.Repeat("a", 128) + "'"
	if _, ok := c.FindDigest(long); ok {
		t.Error("FindDigest() should not match a longer hex token")
	}

	c512 := NewCodec(128, time.UTC)
	if got, ok := c512.FindDigest(long); !ok || len(got) != 128 {
		t.Errorf("FindDigest() with 128-char codec = %q, %v", got, ok)
	}
}

func TestCodec_DigestAnchorSkipsLookalikes(t *testing.T) {
	c := NewCodec(64, time.UTC)
	// Identity contains a pipe followed by a quote but not a valid digest token.
	line := c.Format(time.Now(), LevelInfo, "team | 'ops'", testDigest, "deploy")

	entry, ok := c.Parse(line)
	if !ok {
		t.Fatalf("Parse(%q) failed", line)
	}
	if entry.Digest != testDigest || entry.Message != "deploy" {
		t.Errorf("Parse() = digest %q message %q", entry.Digest, entry.Message)
	}
}

func TestCodec_LineDigest(t *testing.T) {
	c := NewCodec(64, time.UTC)
	fake := strings.Repeat("b", 64)

	tests := []struct {
		name   string
		line   string
		want   string
		wantOK bool
	}{
		{
			name:   "plain entry",
			line:   c.Format(time.Now(), LevelInfo, "alice", testDigest, "login"),
			want:   testDigest,
			wantOK: true,
		},
		{
			name:   "hex token in identity",
			line:   c.Format(time.Now(), LevelInfo, "'"+fake+"'", testDigest, "login"),
			want:   testDigest,
			wantOK: true,
		},
		{
			name:   "bootstrap without identity",
			line:   c.Format(time.Now(), LevelInfo, "", testDigest, "start"),
			want:   testDigest,
			wantOK: true,
		},
		{
			name: "bare quoted token",
			line: "garbage '" + fake + "' without terminator",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := c.LineDigest(tt.line)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("LineDigest() = %q, %v; want %q, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
