package mirror

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/onnwee/chainlog/internal/tracing"
)

const mirrorTable = "log_mirror"

// PostgresRepository implements Repository using the log_mirror table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// OpenPostgres opens and pings a PostgreSQL connection pool.
func OpenPostgres(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// Save inserts rec into log_mirror.
func (r *PostgresRepository) Save(ctx context.Context, rec Record) (_ *Record, err error) {
	if err := validateRecord(rec); err != nil {
		return nil, err
	}
	stamp(&rec)

	ctx, endSpan := tracing.StartMirrorSpan(ctx, tracing.SystemPostgres, tracing.MirrorOperationSave, mirrorTable)
	defer func() { endSpan(err) }()

	query := `
		INSERT INTO log_mirror (id, details, digest, level, identity, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = r.db.ExecContext(ctx, query,
		rec.ID,
		rec.Details,
		rec.Digest,
		rec.Level,
		rec.Identity,
		rec.Message,
		rec.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert mirror record: %w", err)
	}
	return &rec, nil
}

// List returns records oldest first.
func (r *PostgresRepository) List(ctx context.Context, limit int) (_ []*Record, err error) {
	ctx, endSpan := tracing.StartMirrorSpan(ctx, tracing.SystemPostgres, tracing.MirrorOperationList, mirrorTable)
	defer func() { endSpan(err) }()

	query := `
		SELECT id, details, digest, level, identity, message, created_at
		FROM (
			SELECT id, details, digest, level, identity, message, created_at, seq
			FROM log_mirror
			ORDER BY seq DESC
			LIMIT $1
		) recent
		ORDER BY seq ASC
	`

	// LIMIT NULL means no limit in PostgreSQL.
	var lim sql.NullInt64
	if limit > 0 {
		lim = sql.NullInt64{Int64: int64(limit), Valid: true}
	}

	rows, err := r.db.QueryContext(ctx, query, lim)
	if err != nil {
		return nil, fmt.Errorf("failed to list mirror records: %w", err)
	}
	return scanRecords(rows)
}

// QueryByIdentity retrieves records for identity, newest first.
func (r *PostgresRepository) QueryByIdentity(ctx context.Context, identity string, limit int) (_ []*Record, err error) {
	ctx, endSpan := tracing.StartMirrorSpan(ctx, tracing.SystemPostgres, tracing.MirrorOperationQuery, mirrorTable)
	defer func() { endSpan(err) }()

	query := `
		SELECT id, details, digest, level, identity, message, created_at
		FROM log_mirror
		WHERE identity = $1
		ORDER BY seq DESC
		LIMIT $2
	`

	var lim sql.NullInt64
	if limit > 0 {
		lim = sql.NullInt64{Int64: int64(limit), Valid: true}
	}

	rows, err := r.db.QueryContext(ctx, query, identity, lim)
	if err != nil {
		return nil, fmt.Errorf("failed to query mirror records: %w", err)
	}
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]*Record, error) {
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec := &Record{}
		err := rows.Scan(
			&rec.ID,
			&rec.Details,
			&rec.Digest,
			&rec.Level,
			&rec.Identity,
			&rec.Message,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mirror record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mirror records: %w", err)
	}
	return records, nil
}
