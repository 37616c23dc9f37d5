package chainlog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// tailChunkSize is how many bytes readLastLine reads per step backwards.
const tailChunkSize = 4096

// readLastLine returns the final line of the file at path without its line
// ending. It reads backwards from the end so the cost does not grow with the
// length of the log. A missing or empty file returns ok == false.
func readLastLine(path string) (line string, ok bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", false, fmt.Errorf("failed to stat log file: %w", err)
	}
	return lastLineAt(f, info.Size())
}

// lastLineAt scans r backwards from size.
func lastLineAt(r io.ReaderAt, size int64) (string, bool, error) {
	var tail []byte
	pos := size
	for pos > 0 {
		n := int64(tailChunkSize)
		if pos < n {
			n = pos
		}
		pos -= n

		chunk := make([]byte, n)
		if _, err := r.ReadAt(chunk, pos); err != nil && !errors.Is(err, io.EOF) {
			return "", false, fmt.Errorf("failed to read log file: %w", err)
		}
		tail = append(chunk, tail...)

		trimmed := bytes.TrimRight(tail, "\r\n")
		if len(trimmed) == 0 {
			// Only line endings so far; keep reading.
			continue
		}
		if idx := bytes.LastIndexByte(trimmed, '\n'); idx >= 0 {
			return string(trimmed[idx+1:]), true, nil
		}
	}

	trimmed := bytes.TrimRight(tail, "\r\n")
	if len(trimmed) == 0 {
		return "", false, nil
	}
	return string(trimmed), true, nil
}
