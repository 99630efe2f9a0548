package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore persists jobs as JSONB documents and events as rows.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxIdleConns(5)
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(time.Hour)

	s := &PostgresStore{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS toxotis_jobs (
    id TEXT PRIMARY KEY,
    data JSONB NOT NULL,
    status TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS toxotis_job_events (
    seq BIGSERIAL PRIMARY KEY,
    id TEXT NOT NULL UNIQUE,
    job_id TEXT NOT NULL REFERENCES toxotis_jobs(id) ON DELETE CASCADE,
    status TEXT NOT NULL,
    percentage DOUBLE PRECISION NOT NULL DEFAULT 0,
    message TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS toxotis_job_events_job_id ON toxotis_job_events (job_id, seq);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *Job) (*Job, error) {
	prepareJob(job, uuid.NewString)
	data, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO toxotis_jobs (id, data, status, created_at, updated_at) VALUES ($1,$2,$3,$4,$5)`,
		job.ID, data, job.Status, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO toxotis_job_events (id, job_id, status, percentage, message, created_at) VALUES ($1,$2,$3,$4,$5,$6)`,
		uuid.NewString(), job.ID, job.Status, job.Percentage, "Job submitted", job.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert job event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return job.Clone(), nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*Job, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM toxotis_jobs WHERE id=$1`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return decodeJob(data)
}

func (s *PostgresStore) ListJobs(ctx context.Context) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM toxotis_jobs ORDER BY created_at DESC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := []*Job{}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		job, err := decodeJob(data)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// UpdateJob locks the row for the duration of fn.
func (s *PostgresStore) UpdateJob(ctx context.Context, id string, fn func(j *Job) error) (*Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck

	var data []byte
	err = tx.QueryRowContext(ctx, `SELECT data FROM toxotis_jobs WHERE id=$1 FOR UPDATE`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	job, err := decodeJob(data)
	if err != nil {
		return nil, err
	}
	if err := fn(job); err != nil {
		return nil, err
	}
	job.ID = id
	job.UpdatedAt = time.Now().UTC()

	payload, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE toxotis_jobs SET data=$1, status=$2, updated_at=$3 WHERE id=$4`,
		payload, job.Status, job.UpdatedAt, id)
	if err != nil {
		return nil, fmt.Errorf("update job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *PostgresStore) AppendEvent(ctx context.Context, event JobEvent) error {
	prepareEvent(&event, uuid.NewString)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO toxotis_job_events (id, job_id, status, percentage, message, created_at)
SELECT $1,$2,$3,$4,$5,$6 WHERE EXISTS (SELECT 1 FROM toxotis_jobs WHERE id=$2)`,
		event.ID, event.JobID, event.Status, event.Percentage, event.Message, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert job event: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, event.JobID)
	}
	return nil
}

func (s *PostgresStore) GetEvents(ctx context.Context, jobID string) ([]JobEvent, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM toxotis_jobs WHERE id=$1)`, jobID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, status, percentage, message, created_at FROM toxotis_job_events WHERE job_id=$1 ORDER BY seq ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []JobEvent
	for rows.Next() {
		var e JobEvent
		if err := rows.Scan(&e.ID, &e.JobID, &e.Status, &e.Percentage, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.CreatedAt = e.CreatedAt.UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

func decodeJob(data []byte) (*Job, error) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &job, nil
}
