package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gliderdac/internal/dac"
)

// sqliteStore keeps jobs in the jobs table of the record database.
type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteQueue creates a job queue persisted in db. The jobs table must
// already exist (see database/migrations).
func NewSQLiteQueue(db *sql.DB, clock dac.Clock) *Queue {
	return newQueue(&sqliteStore{db: db}, clock)
}

const jobColumns = "id, func, args, timeout_ms, enqueued_at, run_at, status, started_at, ended_at, error"

func (s *sqliteStore) Get(ctx context.Context, id string) (*dac.Job, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dac.ErrNoSuchJob
		}
		return nil, fmt.Errorf("fetching job: %w", err)
	}
	return job, nil
}

func (s *sqliteStore) Put(ctx context.Context, job *dac.Job) error {
	args, err := json.Marshal(job.Args)
	if err != nil {
		return fmt.Errorf("encoding job args: %w", err)
	}

	_, err = s.db.ExecContext(ctx, "INSERT OR REPLACE INTO jobs ("+jobColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		job.ID, job.Func, string(args), job.Timeout.Milliseconds(),
		job.EnqueuedAt.UTC(), job.RunAt.UTC(), string(job.Status),
		nullTime(job.StartedAt), nullTime(job.EndedAt), job.Error,
	)
	if err != nil {
		return fmt.Errorf("inserting job: %w", err)
	}
	return nil
}

func (s *sqliteStore) Due(ctx context.Context, now time.Time, limit int) ([]*dac.Job, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+jobColumns+" FROM jobs WHERE status = ? AND run_at <= ? ORDER BY run_at, id LIMIT ?",
		string(dac.JobQueued), now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("listing due jobs: %w", err)
	}
	defer rows.Close()

	var due []*dac.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning job: %w", err)
		}
		due = append(due, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing due jobs: %w", err)
	}
	return due, nil
}

func (s *sqliteStore) Started(ctx context.Context) ([]*dac.Job, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE status = ? ORDER BY id", string(dac.JobStarted))
	if err != nil {
		return nil, fmt.Errorf("listing started jobs: %w", err)
	}
	defer rows.Close()

	var started []*dac.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning job: %w", err)
		}
		started = append(started, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing started jobs: %w", err)
	}
	return started, nil
}

func (s *sqliteStore) Transition(ctx context.Context, id string, from, to dac.JobStatus, at time.Time, errMsg string) (bool, error) {
	query := "UPDATE jobs SET status = ?, ended_at = ?, error = ? WHERE id = ? AND status = ?"
	params := []any{string(to), nullTime(at), errMsg, id, string(from)}
	switch to {
	case dac.JobStarted:
		query = "UPDATE jobs SET status = ?, started_at = ?, ended_at = NULL, error = ? WHERE id = ? AND status = ?"
	case dac.JobQueued:
		query = "UPDATE jobs SET status = ?, started_at = NULL, ended_at = NULL, error = ? WHERE id = ? AND status = ?"
		params = []any{string(to), errMsg, id, string(from)}
	}

	res, err := s.db.ExecContext(ctx, query, params...)
	if err != nil {
		return false, fmt.Errorf("updating job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking affected rows: %w", err)
	}
	return n == 1, nil
}

func (s *sqliteStore) DeleteEnded(ctx context.Context, status dac.JobStatus, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM jobs WHERE status = ? AND ended_at < ?", string(status), before.UTC())
	if err != nil {
		return 0, fmt.Errorf("purging jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking affected rows: %w", err)
	}
	return int(n), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*dac.Job, error) {
	var job dac.Job
	var args, status string
	var timeoutMS int64
	var started, ended sql.NullTime

	if err := row.Scan(&job.ID, &job.Func, &args, &timeoutMS, &job.EnqueuedAt, &job.RunAt, &status, &started, &ended, &job.Error); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(args), &job.Args); err != nil {
		return nil, fmt.Errorf("decoding args of job %s: %w", job.ID, err)
	}

	job.Timeout = time.Duration(timeoutMS) * time.Millisecond
	job.Status = dac.JobStatus(status)
	job.EnqueuedAt = job.EnqueuedAt.UTC()
	job.RunAt = job.RunAt.UTC()
	if started.Valid {
		job.StartedAt = started.Time.UTC()
	}
	if ended.Valid {
		job.EndedAt = ended.Time.UTC()
	}
	return &job, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
