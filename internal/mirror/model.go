// Package mirror keeps a caller-side durable copy of accepted chain lines.
//
// The backing file stays the source of truth. A mirror only records what the
// log engine already committed, so a failed mirror write never rolls back an
// entry.
package mirror

import (
	"errors"
	"time"

	"github.com/onnwee/chainlog/internal/chainlog"
)

var (
	// ErrEmptyDetails is returned when a record carries no chain line.
	ErrEmptyDetails = errors.New("record details cannot be empty")
	// ErrNilRepository is returned when a nil repository is passed where one is required.
	ErrNilRepository = errors.New("repository cannot be nil")
	// ErrDuplicateID is returned when a record is saved with an ID that is already stored.
	ErrDuplicateID = errors.New("record id already exists")
	// ErrUnsupportedFormat is returned for export formats other than csv, json and cbor.
	ErrUnsupportedFormat = errors.New("unsupported export format")
)

// Record is one mirrored chain line.
type Record struct {
	ID        string
	Details   string // formatted chain line, verbatim
	Digest    string
	Level     string
	Identity  string
	Message   string
	CreatedAt time.Time
}

// FromEntry builds a Record from an entry written or parsed by the log engine.
func FromEntry(e *chainlog.Entry) Record {
	return Record{
		Details:   e.Raw,
		Digest:    e.Digest,
		Level:     string(e.Level),
		Identity:  e.Identity,
		Message:   e.Message,
		CreatedAt: e.Timestamp.UTC(),
	}
}

// FromEntries converts entries read back from the backing file.
func FromEntries(entries []chainlog.Entry) []*Record {
	records := make([]*Record, len(entries))
	for i := range entries {
		rec := FromEntry(&entries[i])
		records[i] = &rec
	}
	return records
}

func validateRecord(rec Record) error {
	if rec.Details == "" {
		return ErrEmptyDetails
	}
	return nil
}
