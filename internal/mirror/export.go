package mirror

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// ExportFormat defines supported export formats.
type ExportFormat string

const (
	// ExportFormatCSV exports records as comma-separated values.
	ExportFormatCSV ExportFormat = "csv"
	// ExportFormatJSON exports records as a JSON array.
	ExportFormatJSON ExportFormat = "json"
	// ExportFormatCBOR exports records as a CBOR array.
	ExportFormatCBOR ExportFormat = "cbor"
)

// ContentType returns the MIME type for the format.
func (f ExportFormat) ContentType() string {
	switch f {
	case ExportFormatCSV:
		return "text/csv"
	case ExportFormatCBOR:
		return "application/cbor"
	default:
		return "application/json"
	}
}

// ParseExportFormat maps a user-supplied name to an ExportFormat.
// An empty name selects JSON.
func ParseExportFormat(name string) (ExportFormat, error) {
	switch f := ExportFormat(strings.ToLower(strings.TrimSpace(name))); f {
	case "":
		return ExportFormatJSON, nil
	case ExportFormatCSV, ExportFormatJSON, ExportFormatCBOR:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
	}
}

// ExportOptions configures record export.
type ExportOptions struct {
	Format   ExportFormat // csv, json or cbor
	From     time.Time    // Start of time range (inclusive)
	To       time.Time    // End of time range (inclusive)
	Identity string       // Filter by identity (optional)
	Limit    int          // Maximum number of entries to export (0 = no limit)
}

// ExportRepository exports records held by repo.
func ExportRepository(ctx context.Context, repo Repository, opts ExportOptions) ([]byte, error) {
	if repo == nil {
		return nil, ErrNilRepository
	}

	var records []*Record
	var err error
	if opts.Identity != "" {
		records, err = repo.QueryByIdentity(ctx, opts.Identity, 0)
	} else {
		records, err = repo.List(ctx, 0)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}

	// Identity filtering already happened in the query.
	opts.Identity = ""
	return Export(records, opts)
}

// Export filters records by opts and encodes them in the requested format.
// Time filtering happens before the limit is applied.
func Export(records []*Record, opts ExportOptions) ([]byte, error) {
	if opts.Format != ExportFormatCSV && opts.Format != ExportFormatJSON && opts.Format != ExportFormatCBOR {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, opts.Format)
	}

	if opts.Identity != "" {
		records = filterByIdentity(records, opts.Identity)
	}
	if !opts.From.IsZero() || !opts.To.IsZero() {
		records = filterByTimeRange(records, opts.From, opts.To)
	}
	if opts.Limit > 0 && len(records) > opts.Limit {
		records = records[:opts.Limit]
	}

	switch opts.Format {
	case ExportFormatCSV:
		return exportToCSV(records)
	case ExportFormatCBOR:
		return exportToCBOR(records)
	default:
		return exportToJSON(records)
	}
}

func filterByIdentity(records []*Record, identity string) []*Record {
	var filtered []*Record
	for _, rec := range records {
		if rec.Identity == identity {
			filtered = append(filtered, rec)
		}
	}
	return filtered
}

// filterByTimeRange keeps records within [from, to]. A zero bound is open.
func filterByTimeRange(records []*Record, from, to time.Time) []*Record {
	var filtered []*Record
	for _, rec := range records {
		if !from.IsZero() && rec.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && rec.CreatedAt.After(to) {
			continue
		}
		filtered = append(filtered, rec)
	}
	return filtered
}

func exportToCSV(records []*Record) ([]byte, error) {
	buf := new(bytes.Buffer)
	writer := csv.NewWriter(buf)

	header := []string{
		"ID",
		"Timestamp (UTC)",
		"Level",
		"Identity",
		"Digest",
		"Message",
		"Details",
	}
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, rec := range records {
		row := []string{
			rec.ID,
			rec.CreatedAt.UTC().Format(time.RFC3339),
			rec.Level,
			rec.Identity,
			rec.Digest,
			rec.Message,
			rec.Details,
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// exportRecord is the wire shape shared by the JSON and CBOR exports.
type exportRecord struct {
	ID        string `json:"id,omitempty" cbor:"id,omitempty"`
	Timestamp string `json:"timestamp" cbor:"timestamp"` // RFC 3339, UTC
	Level     string `json:"level" cbor:"level"`
	Identity  string `json:"identity,omitempty" cbor:"identity,omitempty"`
	Digest    string `json:"digest" cbor:"digest"`
	Message   string `json:"message" cbor:"message"`
	Details   string `json:"details" cbor:"details"`
}

func toExportRecords(records []*Record) []exportRecord {
	out := make([]exportRecord, len(records))
	for i, rec := range records {
		out[i] = exportRecord{
			ID:        rec.ID,
			Timestamp: rec.CreatedAt.UTC().Format(time.RFC3339),
			Level:     rec.Level,
			Identity:  rec.Identity,
			Digest:    rec.Digest,
			Message:   rec.Message,
			Details:   rec.Details,
		}
	}
	return out
}

func exportToJSON(records []*Record) ([]byte, error) {
	data, err := json.MarshalIndent(toExportRecords(records), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return data, nil
}

func exportToCBOR(records []*Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := cbor.NewEncoder(&buf)
	if err := enc.Encode(toExportRecords(records)); err != nil {
		return nil, fmt.Errorf("failed to encode CBOR: %w", err)
	}
	return buf.Bytes(), nil
}
