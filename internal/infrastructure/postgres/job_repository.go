package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulsecrm/pulsecrm/internal/domain/job"
)

// JobRepository implements job.Repository on Postgres. ClaimDue relies on
// FOR UPDATE SKIP LOCKED so multiple scheduler instances never double-claim,
// and recovers RUNNING rows whose claim lease lapsed before selecting.
type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

func (r *JobRepository) Enqueue(ctx context.Context, j *job.Job) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO jobs (job_id, queue, kind, payload, attempts, max_attempts, status, run_at, last_error, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, j.ID, j.Queue, j.Kind, j.Payload, j.Attempts, j.MaxAttempts, j.Status, j.RunAt, j.LastError, j.CreatedAt, j.UpdatedAt)
	return err
}

func (r *JobRepository) ClaimDue(ctx context.Context, queue job.Queue, now time.Time, limit int) ([]*job.Job, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// Recover claims orphaned by a crashed worker: back to PENDING while
	// attempts remain, otherwise parked DEAD where operators can see them.
	cutoff := now.Add(-job.DefaultClaimLease)
	if _, err := tx.Exec(ctx, `
		UPDATE jobs SET status=$2, last_error=$3, updated_at=$4
		WHERE queue=$1 AND status=$5 AND updated_at < $6 AND attempts >= max_attempts
	`, queue, job.StatusDead, "claim lease expired", now, job.StatusRunning, cutoff); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE jobs SET status=$2, last_error=$3, run_at=$4, updated_at=$4
		WHERE queue=$1 AND status=$5 AND updated_at < $6 AND attempts < max_attempts
	`, queue, job.StatusPending, "claim lease expired", now, job.StatusRunning, cutoff); err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT job_id, queue, kind, payload, attempts, max_attempts, status, run_at, last_error, created_at, updated_at
		FROM jobs
		WHERE queue=$1 AND status=$2 AND run_at <= $3
		ORDER BY run_at ASC
		LIMIT $4
		FOR UPDATE SKIP LOCKED
	`, queue, job.StatusPending, now, limit)
	if err != nil {
		return nil, err
	}
	claimed, err := collectJobs(rows)
	if err != nil {
		return nil, err
	}

	for _, j := range claimed {
		if err := j.MarkRunning(); err != nil {
			return nil, err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE jobs SET status=$2, attempts=$3, updated_at=$4 WHERE job_id=$1
		`, j.ID, j.Status, j.Attempts, j.UpdatedAt); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *JobRepository) Update(ctx context.Context, j *job.Job) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET status=$2, attempts=$3, run_at=$4, last_error=$5, updated_at=$6
		WHERE job_id=$1
	`, j.ID, j.Status, j.Attempts, j.RunAt, j.LastError, j.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (*job.Job, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT job_id, queue, kind, payload, attempts, max_attempts, status, run_at, last_error, created_at, updated_at
		FROM jobs WHERE job_id=$1
	`, id)
	j, err := scanJob(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return j, err
}

func (r *JobRepository) ListDead(ctx context.Context, limit, offset int) ([]*job.Job, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT job_id, queue, kind, payload, attempts, max_attempts, status, run_at, last_error, created_at, updated_at
		FROM jobs WHERE status=$1
		ORDER BY updated_at DESC LIMIT $2 OFFSET $3
	`, job.StatusDead, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectJobs(rows)
}

func (r *JobRepository) DeleteDone(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM jobs WHERE status=$1 AND updated_at < $2
	`, job.StatusDone, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	defer rows.Close()
	var out []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func scanJob(row pgx.Row) (*job.Job, error) {
	var j job.Job
	if err := row.Scan(&j.ID, &j.Queue, &j.Kind, &j.Payload, &j.Attempts, &j.MaxAttempts, &j.Status, &j.RunAt, &j.LastError, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	return &j, nil
}
