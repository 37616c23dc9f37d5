package health

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNotRegularFile is returned when the backing path exists but is not a file.
var ErrNotRegularFile = errors.New("log path is not a regular file")

// LogFileChecker reports whether the backing log file can be appended to.
// A missing file is healthy as long as its directory exists, since the
// first append creates it.
type LogFileChecker struct {
	path string
}

// NewLogFileChecker creates a checker for the backing file at path.
func NewLogFileChecker(path string) *LogFileChecker {
	return &LogFileChecker{path: path}
}

// HealthCheck opens the file for appending without writing to it.
func (c *LogFileChecker) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	info, err := os.Stat(c.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		dir := filepath.Dir(c.path)
		dirInfo, dirErr := os.Stat(dir)
		if dirErr != nil {
			return fmt.Errorf("log directory %s: %w", dir, dirErr)
		}
		if !dirInfo.IsDir() {
			return fmt.Errorf("log directory %s is not a directory", dir)
		}
		return nil
	case err != nil:
		return fmt.Errorf("stat log file: %w", err)
	case !info.Mode().IsRegular():
		return fmt.Errorf("%s: %w", c.path, ErrNotRegularFile)
	}

	f, err := os.OpenFile(c.path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return fmt.Errorf("open log file for append: %w", err)
	}
	return f.Close()
}
