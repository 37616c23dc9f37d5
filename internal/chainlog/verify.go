package chainlog

import (
	"bufio"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/onnwee/chainlog/internal/digest"
)

// Reason explains why a verification failed.
type Reason string

// Verification failure reasons.
const (
	ReasonStructural     Reason = "digest and message counts differ"
	ReasonDigestMismatch Reason = "digest mismatch"
)

// VerifyResult is the outcome of replaying the chain.
type VerifyResult struct {
	Valid   bool
	Entries int // digests found in the file

	// Set only when Valid is false.
	Reason   Reason
	Position int    // 0-based chain index of the first bad entry, -1 if structural
	Line     int    // 1-based line number of the first bad entry, 0 if structural
	Expected string // recomputed digest at Position
	Found    string // stored digest at Position
}

// Err returns nil for a valid chain and an *IntegrityError otherwise.
func (r *VerifyResult) Err() error {
	if r.Valid {
		return nil
	}
	return &IntegrityError{Reason: r.Reason, Position: r.Position, Line: r.Line}
}

// Verify replays the backing file and checks every digest against its
// message and predecessor. The first entry is trusted as genesis. A missing
// or empty file is valid. Verify never modifies the file and does not block
// appends; it may observe the file one entry behind a concurrent Append.
func (l *Log) Verify() (*VerifyResult, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			result := &VerifyResult{Valid: true, Position: -1}
			l.metrics.ObserveVerify(result)
			return result, nil
		}
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()

	result, err := verifyWithCodec(f, l.digest, l.codec)
	if err != nil {
		return nil, err
	}
	l.metrics.ObserveVerify(result)

	if result.Valid {
		l.logger.Debug("hash chain verified", "path", l.path, "entries", result.Entries)
	} else {
		l.logger.Warn("hash chain verification failed",
			"path", l.path,
			"reason", result.Reason,
			"position", result.Position,
			"line", result.Line,
		)
	}
	return result, nil
}

// VerifyReader verifies a chain read from r using fn. It is the read-only
// core of Log.Verify and can check archived copies of a log.
func VerifyReader(r io.Reader, fn digest.Func) (*VerifyResult, error) {
	return verifyWithCodec(r, fn, NewCodec(digest.HexLen(fn), nil))
}

type chainLink struct {
	value string
	line  int
}

func verifyWithCodec(r io.Reader, fn digest.Func, codec *Codec) (*VerifyResult, error) {
	var digests, messages []chainLink

	err := eachLine(r, func(lineNo int, line string) {
		if sum, ok := codec.chainDigest(line); ok {
			digests = append(digests, chainLink{value: sum, line: lineNo})
		}
		if entry, ok := codec.Parse(line); ok {
			messages = append(messages, chainLink{value: entry.Message, line: lineNo})
		}
	})
	if err != nil {
		return nil, err
	}

	result := &VerifyResult{Entries: len(digests), Position: -1}
	if len(digests) != len(messages) {
		result.Reason = ReasonStructural
		return result, nil
	}

	for i := 1; i < len(digests); i++ {
		expected := fn(chainInput(messages[i].value, digests[i-1].value))
		if subtle.ConstantTimeCompare([]byte(expected), []byte(digests[i].value)) != 1 {
			result.Reason = ReasonDigestMismatch
			result.Position = i
			result.Line = digests[i].line
			result.Expected = expected
			result.Found = digests[i].value
			return result, nil
		}
	}

	result.Valid = true
	return result, nil
}

// Entries returns every parseable entry of the backing file in order.
// Lines that do not parse are skipped.
func (l *Log) Entries() ([]Entry, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()

	var entries []Entry
	err = eachLine(f, func(lineNo int, line string) {
		if entry, ok := l.codec.Parse(line); ok {
			entry.Line = lineNo
			entries = append(entries, entry)
		}
	})
	return entries, err
}

// eachLine calls fn for every line of r with its 1-based number. Lines of any
// length are supported.
func eachLine(r io.Reader, fn func(lineNo int, line string)) error {
	br := bufio.NewReader(r)
	lineNo := 0
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			lineNo++
			fn(lineNo, strings.TrimRight(line, "\r\n"))
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to read log file: %w", err)
		}
	}
}
