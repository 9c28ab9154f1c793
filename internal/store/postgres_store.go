package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/Popie52/jobscheduler/internal/model"
)

const uniqueViolation = pq.ErrorCode("23505")

type PostgresJobStore struct {
	db         *sql.DB
	maxRetries int
}

func NewPostgresJobStore(db *sql.DB, maxRetries int) *PostgresJobStore {
	return &PostgresJobStore{
		db:         db,
		maxRetries: maxRetries,
	}
}

const schema = `
	CREATE TABLE IF NOT EXISTS jobs (
		id            text PRIMARY KEY,
		type          text NOT NULL,
		payload       jsonb NOT NULL DEFAULT '{}'::jsonb,
		status        text NOT NULL DEFAULT 'queued',
		priority      integer NOT NULL DEFAULT 0,
		attempts      integer NOT NULL DEFAULT 0,
		result        jsonb,
		error_message text,
		created_at    timestamptz NOT NULL DEFAULT now(),
		updated_at    timestamptz NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS jobs_eligible_idx
		ON jobs (priority, created_at)
		WHERE status = 'queued';

	CREATE TABLE IF NOT EXISTS datasets (
		id      text PRIMARY KEY,
		content jsonb NOT NULL DEFAULT '{}'::jsonb
	);
`

// Migrate creates the tables the scheduler reads and writes.
func (s *PostgresJobStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) FetchEligible(ctx context.Context, limit int) ([]*model.Job, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT
			id,
			type,
			payload,
			status,
			priority,
			attempts,
			created_at,
			updated_at
		FROM jobs
		WHERE status = 'queued' AND attempts < $1
		ORDER BY priority ASC, created_at ASC
		LIMIT $2
	`, s.maxRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch eligible: %w", err)
	}
	defer rows.Close()

	var jobs []*model.Job

	for rows.Next() {
		var (
			j       model.Job
			payload []byte
		)

		if err := rows.Scan(
			&j.ID,
			&j.Type,
			&payload,
			&j.Status,
			&j.Priority,
			&j.Attempts,
			&j.CreatedAt,
			&j.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		j.Payload = payload

		jobs = append(jobs, &j)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return jobs, nil
}

// Claim is one conditional UPDATE: the row lock taken by the statement
// makes a racing second UPDATE re-check status and match nothing.
func (s *PostgresJobStore) Claim(ctx context.Context, jobID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'running',
			attempts = attempts + 1,
			updated_at = now()
		WHERE id = $1
			AND status = 'queued'
			AND attempts < $2
	`, jobID, s.maxRetries)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", jobID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *PostgresJobStore) RecordOutcome(ctx context.Context, jobID string, outcome model.Outcome) error {
	result, err := outcome.ResultJSON()
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = $2,
			result = $3::jsonb,
			error_message = $4,
			updated_at = now()
		WHERE id = $1
	`,
		jobID,
		string(outcome.Status),
		sql.NullString{String: string(result), Valid: result != nil},
		sql.NullString{String: outcome.ErrorMessage, Valid: outcome.ErrorMessage != ""},
	)
	if err != nil {
		return fmt.Errorf("record outcome %s: %w", jobID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return nil
}

func (s *PostgresJobStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresJobStore) GetDataset(ctx context.Context, id string) (*model.Dataset, error) {
	var (
		d       model.Dataset
		content []byte
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT id, content FROM datasets WHERE id = $1
	`, id).Scan(&d.ID, &content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get dataset %s: %w", id, err)
	}

	d.Content = content
	return &d, nil
}

func (s *PostgresJobStore) Enqueue(ctx context.Context, job *model.Job) error {
	prepareEnqueue(job, time.Now())

	payload := []byte(job.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (
			id,
			type,
			payload,
			status,
			priority,
			attempts,
			created_at,
			updated_at
		)
		VALUES ($1, $2, $3::jsonb, $4, $5, $6, $7, $8)
	`,
		job.ID,
		string(job.Type),
		string(payload),
		string(job.Status),
		job.Priority,
		job.Attempts,
		job.CreatedAt,
		job.UpdatedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrJobExists, job.ID)
	}
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", job.ID, err)
	}
	return nil
}

func (s *PostgresJobStore) CountStaleRunning(ctx context.Context, cutoff time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM jobs
		WHERE status = 'running' AND updated_at < $1
	`, cutoff).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count stale running: %w", err)
	}
	return n, nil
}

func (s *PostgresJobStore) Close() error {
	return s.db.Close()
}
