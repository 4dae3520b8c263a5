package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JakeFAU/socialscope/internal/clock/system"
	"github.com/JakeFAU/socialscope/internal/jobs"
)

const jobColumns = `id, type, remote_id, details, status, claimed_at, claimed_by, claim_after, interval, attempts, last_error, timestamp, finished_at`

// JobQueue implements jobs.Queue on the jobs table.
type JobQueue struct {
	db     DB
	clock  jobs.Clock
	policy jobs.RetryPolicy
}

// NewJobQueue constructs a queue over db. A nil clock uses the wall clock.
func NewJobQueue(db DB, clock jobs.Clock, policy jobs.RetryPolicy) (*JobQueue, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if clock == nil {
		clock = system.New()
	}
	return &JobQueue{db: db, clock: clock, policy: policy}, nil
}

// Enqueue inserts a queued job. A conflicting active job is re-armed when it is
// recurring and its interval has elapsed; otherwise ErrJobAlreadyExists.
func (q *JobQueue) Enqueue(ctx context.Context, req jobs.NewJob) (jobs.Job, error) {
	details, err := marshalDetails(req.Details)
	if err != nil {
		return jobs.Job{}, err
	}
	now := q.clock.Now()
	insert := `
		INSERT INTO jobs (type, remote_id, details, status, claim_after, interval, timestamp)
		VALUES ($1, $2, $3, 'queued', $4, $5, $4)
		ON CONFLICT (type, remote_id) WHERE status IN ('queued', 'claimed') DO NOTHING
		RETURNING ` + jobColumns
	job, err := scanJob(q.db.QueryRow(ctx, insert, req.Type, req.RemoteID, details, now, req.Interval))
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return jobs.Job{}, fmt.Errorf("insert job: %w", err)
	}

	rearm := `
		UPDATE jobs SET claim_after = $3, details = $4
		WHERE type = $1 AND remote_id = $2 AND status = 'queued' AND interval > 0
		  AND timestamp + make_interval(secs => interval) <= $3
		RETURNING ` + jobColumns
	job, err = scanJob(q.db.QueryRow(ctx, rearm, req.Type, req.RemoteID, now, details))
	if errors.Is(err, pgx.ErrNoRows) {
		return jobs.Job{}, jobs.ErrJobAlreadyExists
	}
	if err != nil {
		return jobs.Job{}, fmt.Errorf("re-arm job: %w", err)
	}
	return job, nil
}

// Claim leases the oldest claimable job of jobType to owner. Concurrent callers skip rows
// another transaction has locked, so no two callers receive the same job.
func (q *JobQueue) Claim(ctx context.Context, jobType, owner string) (*jobs.Job, error) {
	if owner == "" {
		return nil, errors.New("claim requires an owner")
	}
	query := `
		UPDATE jobs SET status = 'claimed', claimed_at = $2, claimed_by = $3, attempts = attempts + 1
		WHERE id = (
			SELECT id FROM jobs
			WHERE type = $1 AND status = 'queued' AND claim_after <= $2
			ORDER BY timestamp, id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		) AND status = 'queued'
		RETURNING ` + jobColumns
	job, err := scanJob(q.db.QueryRow(ctx, query, jobType, q.clock.Now(), owner))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim %s job: %w", jobType, err)
	}
	return &job, nil
}

// Finish completes a claimed job. Recurring jobs go back to the queue for their next interval.
func (q *JobQueue) Finish(ctx context.Context, job jobs.Job) error {
	now := q.clock.Now()
	var (
		tag pgconn.CommandTag
		err error
	)
	if job.Recurring() {
		tag, err = q.db.Exec(ctx, `
			UPDATE jobs SET status = 'queued', claimed_at = NULL, claimed_by = '', last_error = '', attempts = 0,
				timestamp = $2, claim_after = $3
			WHERE id = $1 AND status = 'claimed' AND claimed_by = $4`,
			job.ID, now, now.Add(job.IntervalDuration()), job.ClaimedBy)
	} else {
		tag, err = q.db.Exec(ctx, `
			UPDATE jobs SET status = 'finished', claimed_at = NULL, claimed_by = '', last_error = '', finished_at = $2
			WHERE id = $1 AND status = 'claimed' AND claimed_by = $3`,
			job.ID, now, job.ClaimedBy)
	}
	if err != nil {
		return fmt.Errorf("finish job %d: %w", job.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return q.notClaimed(ctx, job.ID)
	}
	return nil
}

// Release applies the retry policy to a claimed job.
func (q *JobQueue) Release(ctx context.Context, job jobs.Job, retry bool, reason string) error {
	tag, err := q.release(ctx, q.db, job, retry, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return q.notClaimed(ctx, job.ID)
	}
	return nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (q *JobQueue) release(ctx context.Context, db execer, job jobs.Job, retry bool, reason string) (pgconn.CommandTag, error) {
	now := q.clock.Now()
	decision := q.policy.Decide(job, retry, now)
	attempts, timestamp, claimAfter := job.Attempts, job.Timestamp, decision.ClaimAfter
	var finishedAt *time.Time
	if decision.Status == jobs.StatusFailed {
		finishedAt = &now
		claimAfter = job.ClaimAfter
	}
	if decision.ResetAttempts {
		attempts, timestamp = 0, now
	}
	tag, err := db.Exec(ctx, `
		UPDATE jobs SET status = $2, claimed_at = NULL, claimed_by = '', claim_after = $3, last_error = $4,
			attempts = $5, timestamp = $6, finished_at = $7
		WHERE id = $1 AND status = 'claimed' AND claimed_by = $8`,
		job.ID, string(decision.Status), claimAfter, reason, attempts, timestamp, finishedAt, job.ClaimedBy)
	if err != nil {
		return tag, fmt.Errorf("release job %d: %w", job.ID, err)
	}
	return tag, nil
}

// ReclaimExpired releases every claimed job whose lease began before now-lease.
func (q *JobQueue) ReclaimExpired(ctx context.Context, lease time.Duration) (int, error) {
	tx, err := q.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin reclaim: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	rows, err := tx.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = 'claimed' AND claimed_at < $1
		ORDER BY claimed_at
		FOR UPDATE SKIP LOCKED`,
		q.clock.Now().Add(-lease))
	if err != nil {
		return 0, fmt.Errorf("select expired leases: %w", err)
	}
	expired, err := collectJobs(rows)
	if err != nil {
		return 0, err
	}
	for _, job := range expired {
		if _, err := q.release(ctx, tx, job, true, "lease expired"); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit reclaim: %w", err)
	}
	return len(expired), nil
}

// Get fetches a job by id.
func (q *JobQueue) Get(ctx context.Context, id int64) (jobs.Job, error) {
	job, err := scanJob(q.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return jobs.Job{}, jobs.ErrJobNotFound
	}
	if err != nil {
		return jobs.Job{}, fmt.Errorf("get job %d: %w", id, err)
	}
	return job, nil
}

// GetByRemoteID returns the newest job for (jobType, remoteID), preferring active ones.
func (q *JobQueue) GetByRemoteID(ctx context.Context, jobType, remoteID string) (jobs.Job, error) {
	job, err := scanJob(q.db.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE type = $1 AND remote_id = $2
		ORDER BY (status IN ('queued', 'claimed')) DESC, id DESC
		LIMIT 1`, jobType, remoteID))
	if errors.Is(err, pgx.ErrNoRows) {
		return jobs.Job{}, jobs.ErrJobNotFound
	}
	if err != nil {
		return jobs.Job{}, fmt.Errorf("get %s job %s: %w", jobType, remoteID, err)
	}
	return job, nil
}

// Purge deletes terminal jobs that finished before olderThan.
func (q *JobQueue) Purge(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := q.db.Exec(ctx, `
		DELETE FROM jobs WHERE status IN ('finished', 'failed') AND finished_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("purge jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (q *JobQueue) notClaimed(ctx context.Context, id int64) error {
	var status, owner string
	err := q.db.QueryRow(ctx, `SELECT status, claimed_by FROM jobs WHERE id = $1`, id).Scan(&status, &owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return jobs.ErrJobNotFound
	}
	if err != nil {
		return fmt.Errorf("load job %d: %w", id, err)
	}
	if status == string(jobs.StatusClaimed) {
		return fmt.Errorf("job %d is held by %s: %w", id, owner, jobs.ErrJobNotClaimed)
	}
	return fmt.Errorf("job %d is %s: %w", id, status, jobs.ErrJobNotClaimed)
}

func marshalDetails(details map[string]any) ([]byte, error) {
	if details == nil {
		details = map[string]any{}
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("marshal job details: %w", err)
	}
	return raw, nil
}

func scanJob(row pgx.Row) (jobs.Job, error) {
	var (
		job     jobs.Job
		status  string
		details []byte
	)
	err := row.Scan(
		&job.ID,
		&job.Type,
		&job.RemoteID,
		&details,
		&status,
		&job.ClaimedAt,
		&job.ClaimedBy,
		&job.ClaimAfter,
		&job.Interval,
		&job.Attempts,
		&job.LastError,
		&job.Timestamp,
		&job.FinishedAt,
	)
	if err != nil {
		return jobs.Job{}, err
	}
	job.Status = jobs.Status(status)
	if len(details) > 0 {
		if err := json.Unmarshal(details, &job.Details); err != nil {
			return jobs.Job{}, fmt.Errorf("decode job details: %w", err)
		}
	}
	return job, nil
}

func collectJobs(rows pgx.Rows) ([]jobs.Job, error) {
	defer rows.Close()
	var out []jobs.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}
