package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Fanout copies every committed record to a set of repositories.
// Failures are logged and joined; they never affect the backing file.
type Fanout struct {
	repos  []Repository
	logger *slog.Logger
}

// NewFanout creates a Fanout over repos. Nil repositories are rejected.
func NewFanout(logger *slog.Logger, repos ...Repository) (*Fanout, error) {
	for _, r := range repos {
		if r == nil {
			return nil, ErrNilRepository
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{repos: repos, logger: logger}, nil
}

// Len returns the number of configured repositories.
func (f *Fanout) Len() int {
	return len(f.repos)
}

// Primary returns the first repository, or nil when none are configured.
func (f *Fanout) Primary() Repository {
	if len(f.repos) == 0 {
		return nil
	}
	return f.repos[0]
}

// Mirror saves rec to every repository and returns the joined errors.
func (f *Fanout) Mirror(ctx context.Context, rec Record) error {
	var errs []error
	for i, repo := range f.repos {
		if _, err := repo.Save(ctx, rec); err != nil {
			f.logger.Error("failed to mirror log entry",
				"repository", fmt.Sprintf("%T", repo),
				"index", i,
				"digest", rec.Digest,
				"error", err,
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
