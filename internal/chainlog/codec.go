package chainlog

import (
	"fmt"
	"strings"
	"time"

	"github.com/onnwee/chainlog/internal/digest"
)

// Line layout:
//
//	<timestamp>: <LEVEL>   | [<identity> | ]'<digest>': <message> |
//
// Format and Parse share these literals so the writer and the reader cannot drift.
const (
	// TimestampLayout renders timestamps with second precision.
	TimestampLayout = "2006-01-02 15:04:05"

	levelWidth      = 8
	timestampSuffix = ": "
	fieldSeparator  = " | "
	digestQuote     = "'"
	digestSuffix    = "': "
	lineTerminator  = " |"

	// digestAnchor opens the digest token; the identity segment, if any, ends right before it.
	digestAnchor = fieldSeparator + digestQuote
)

// Codec formats and parses log lines for a fixed digest length.
// A Codec is immutable and safe for concurrent use.
type Codec struct {
	hexLen   int
	location *time.Location
}

// NewCodec returns a codec for digests of hexLen characters. Timestamps are
// rendered in loc; a nil loc means time.Local.
func NewCodec(hexLen int, loc *time.Location) *Codec {
	if loc == nil {
		loc = time.Local
	}
	return &Codec{hexLen: hexLen, location: loc}
}

// HexLen returns the digest length the codec expects.
func (c *Codec) HexLen() int {
	return c.hexLen
}

// Format renders one log line without a trailing newline. An empty identity
// omits the identity segment entirely.
func (c *Codec) Format(ts time.Time, level Level, identity, digestHex, message string) string {
	var b strings.Builder
	b.Grow(len(TimestampLayout) + levelWidth + len(identity) + len(digestHex) + len(message) + 16)

	b.WriteString(ts.In(c.location).Format(TimestampLayout))
	b.WriteString(timestampSuffix)
	fmt.Fprintf(&b, "%-*s", levelWidth, level)
	b.WriteString(fieldSeparator)
	if identity != "" {
		b.WriteString(identity)
		b.WriteString(fieldSeparator)
	}
	b.WriteString(digestQuote)
	b.WriteString(digestHex)
	b.WriteString(digestSuffix)
	b.WriteString(message)
	b.WriteString(lineTerminator)
	return b.String()
}

// FindDigest returns the first quoted hex token of the codec's digest length
// found anywhere in line.
func (c *Codec) FindDigest(line string) (string, bool) {
	for i := 0; i+c.hexLen+1 < len(line); i++ {
		if line[i] != digestQuote[0] {
			continue
		}
		end := i + 1 + c.hexLen
		if line[end] != digestQuote[0] {
			continue
		}
		if token := line[i+1 : end]; digest.IsHex(token) {
			return token, true
		}
	}
	return "", false
}

// LineDigest returns the digest anchored between the identity segment and the
// message. Unlike FindDigest it ignores quoted hex that appears elsewhere.
func (c *Codec) LineDigest(line string) (string, bool) {
	idx, ok := c.findAnchor(line)
	if !ok {
		return "", false
	}
	start := idx + len(digestAnchor)
	return line[start : start+c.hexLen], true
}

// chainDigest is the digest a line contributes to the chain: the anchored
// token, or any quoted hex token when the line is damaged. The loose match
// keeps damaged lines visible to the structural check in verify.
func (c *Codec) chainDigest(line string) (string, bool) {
	if sum, ok := c.LineDigest(line); ok {
		return sum, true
	}
	return c.FindDigest(line)
}

// Parse recovers an entry from a stored line. The digest is located by its
// fixed-length anchor and the message runs to the line terminator, so the
// message may itself contain the delimiter characters. Lines that do not have
// the expected shape return false.
func (c *Codec) Parse(line string) (Entry, bool) {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasSuffix(line, lineTerminator) {
		return Entry{}, false
	}

	anchor, ok := c.findAnchor(line)
	if !ok {
		return Entry{}, false
	}

	digestStart := anchor + len(digestAnchor)
	digestEnd := digestStart + c.hexLen
	messageStart := digestEnd + len(digestSuffix)
	messageEnd := len(line) - len(lineTerminator)
	if messageStart > messageEnd {
		return Entry{}, false
	}

	entry := Entry{
		Digest:  line[digestStart:digestEnd],
		Message: line[messageStart:messageEnd],
		Raw:     line,
	}
	c.parseHeader(line[:anchor], &entry)
	return entry, true
}

// findAnchor returns the index of the first " | '<hex>': " token.
func (c *Codec) findAnchor(line string) (int, bool) {
	from := 0
	for {
		idx := strings.Index(line[from:], digestAnchor)
		if idx < 0 {
			return 0, false
		}
		idx += from
		digestStart := idx + len(digestAnchor)
		digestEnd := digestStart + c.hexLen
		if digestEnd+len(digestSuffix) <= len(line) &&
			digest.IsHex(line[digestStart:digestEnd]) &&
			line[digestEnd:digestEnd+len(digestSuffix)] == digestSuffix {
			return idx, true
		}
		from = idx + 1
	}
}

// parseHeader fills timestamp, level and identity from the text before the
// digest anchor. Fields that cannot be recovered are left zero.
func (c *Codec) parseHeader(head string, entry *Entry) {
	tsPart, rest, ok := strings.Cut(head, timestampSuffix)
	if !ok {
		return
	}
	if ts, err := time.ParseInLocation(TimestampLayout, tsPart, c.location); err == nil {
		entry.Timestamp = ts
	}

	levelPart, identity, _ := strings.Cut(rest, fieldSeparator)
	entry.Level = Level(strings.TrimSpace(levelPart))
	entry.Identity = identity
}
