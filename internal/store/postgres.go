package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the segmentation_jobs table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS segmentation_jobs (
    id          TEXT PRIMARY KEY,
    status      TEXT NOT NULL,
    segments    JSONB NOT NULL DEFAULT '[]',
    units       JSONB NOT NULL DEFAULT '[]',
    paragraphs  INTEGER NOT NULL DEFAULT 0,
    stats       JSONB,
    error       TEXT NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_segmentation_jobs_created ON segmentation_jobs(created_at DESC);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database.
// Segments, units and stats are serialised as JSONB.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new [PostgresStore] that uses the given database
// connection or pool. The caller is responsible for calling
// [PostgresStore.Migrate] to ensure the schema exists before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL against the database.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Create implements [Store.Create].
func (s *PostgresStore) Create(ctx context.Context, job *Job) error {
	cols, err := marshalColumns(job)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO segmentation_jobs (
			id, status, segments, units, paragraphs, stats, error, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	_, err = s.db.Exec(ctx, query,
		job.ID, string(job.Status), cols.segments, cols.units, job.Paragraphs, cols.stats, job.Error,
		job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("%w: %q", ErrDuplicateID, job.ID)
		}
		return fmt.Errorf("store: create: %w", err)
	}
	return nil
}

// Update implements [Store.Update].
func (s *PostgresStore) Update(ctx context.Context, job *Job) error {
	cols, err := marshalColumns(job)
	if err != nil {
		return err
	}

	const query = `
		UPDATE segmentation_jobs SET
			status = $2, segments = $3, units = $4, paragraphs = $5,
			stats = $6, error = $7, updated_at = $8
		WHERE id = $1`

	tag, err := s.db.Exec(ctx, query,
		job.ID, string(job.Status), cols.segments, cols.units, job.Paragraphs, cols.stats, job.Error,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, job.ID)
	}
	return nil
}

const selectColumns = `
	SELECT id, status, segments, units, paragraphs, stats, error, created_at, updated_at
	FROM segmentation_jobs`

// Get implements [Store.Get].
func (s *PostgresStore) Get(ctx context.Context, id string) (*Job, error) {
	job, err := scanJob(s.db.QueryRow(ctx, selectColumns+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
		}
		return nil, fmt.Errorf("store: get %q: %w", id, err)
	}
	return job, nil
}

// List implements [Store.List].
func (s *PostgresStore) List(ctx context.Context, limit int) ([]*Job, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if limit > 0 {
		rows, err = s.db.Query(ctx, selectColumns+` ORDER BY created_at DESC, id LIMIT $1`, limit)
	} else {
		rows, err = s.db.Query(ctx, selectColumns+` ORDER BY created_at DESC, id`)
	}
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list scan: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	return jobs, nil
}

type jobColumns struct {
	segments, units, stats []byte
}

// marshalColumns serialises the JSONB columns of job. Nil slices are stored
// as "[]" so the NOT NULL constraints hold.
func marshalColumns(job *Job) (jobColumns, error) {
	var (
		cols jobColumns
		err  error
	)
	if job.Segments != nil {
		cols.segments, err = json.Marshal(job.Segments)
	} else {
		cols.segments = []byte("[]")
	}
	if err != nil {
		return cols, fmt.Errorf("store: marshal segments: %w", err)
	}
	if job.Units != nil {
		cols.units, err = json.Marshal(job.Units)
	} else {
		cols.units = []byte("[]")
	}
	if err != nil {
		return cols, fmt.Errorf("store: marshal units: %w", err)
	}
	if job.Stats != nil {
		if cols.stats, err = json.Marshal(job.Stats); err != nil {
			return cols, fmt.Errorf("store: marshal stats: %w", err)
		}
	}
	return cols, nil
}

// scanJob reads one row produced by [selectColumns].
func scanJob(row pgx.Row) (*Job, error) {
	var (
		job                   Job
		status                string
		segJSON, unitJSON, st []byte
	)
	if err := row.Scan(
		&job.ID, &status, &segJSON, &unitJSON, &job.Paragraphs, &st, &job.Error,
		&job.CreatedAt, &job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.Status = Status(status)

	if err := json.Unmarshal(segJSON, &job.Segments); err != nil {
		return nil, fmt.Errorf("store: unmarshal segments: %w", err)
	}
	if err := json.Unmarshal(unitJSON, &job.Units); err != nil {
		return nil, fmt.Errorf("store: unmarshal units: %w", err)
	}
	if len(st) > 0 {
		if err := json.Unmarshal(st, &job.Stats); err != nil {
			return nil, fmt.Errorf("store: unmarshal stats: %w", err)
		}
	}
	if len(job.Segments) == 0 {
		job.Segments = nil
	}
	if len(job.Units) == 0 {
		job.Units = nil
	}
	return &job, nil
}

// isDuplicateKeyError checks whether a PostgreSQL error is a unique-violation
// (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
