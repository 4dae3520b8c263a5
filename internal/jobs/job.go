// Package jobs defines the persistent job model and the queue contract workers claim from.
package jobs

import (
	"context"
	"time"
)

// Status captures where a job sits in its lifecycle.
type Status string

const (
	// StatusQueued marks a job waiting to be claimed.
	StatusQueued Status = "queued"
	// StatusClaimed marks a job leased to exactly one worker.
	StatusClaimed Status = "claimed"
	// StatusFinished is terminal for one-shot jobs.
	StatusFinished Status = "finished"
	// StatusFailed is terminal once the retry budget is spent.
	StatusFailed Status = "failed"
)

// Active reports whether the status still occupies the (type, remote_id) slot.
func (s Status) Active() bool {
	return s == StatusQueued || s == StatusClaimed
}

// Job is a unit of scheduled work identified logically by (Type, RemoteID).
type Job struct {
	ID         int64          `json:"id"`
	Type       string         `json:"type"`
	RemoteID   string         `json:"remote_id"`
	Details    map[string]any `json:"details,omitempty"`
	Status     Status         `json:"status"`
	ClaimedAt  *time.Time     `json:"claimed_at,omitempty"`
	// ClaimedBy is the worker holding the current claim.
	ClaimedBy  string         `json:"claimed_by,omitempty"`
	ClaimAfter time.Time      `json:"claim_after"`
	Interval   int            `json:"interval"`
	Attempts   int            `json:"attempts"`
	LastError  string         `json:"last_error,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// Recurring reports whether finishing the job schedules another run.
func (j Job) Recurring() bool {
	return j.Interval > 0
}

// IntervalDuration returns the recurrence interval.
func (j Job) IntervalDuration() time.Duration {
	return time.Duration(j.Interval) * time.Second
}

// NewJob describes a work request handed to Queue.Enqueue.
type NewJob struct {
	Type     string
	RemoteID string
	Details  map[string]any
	// Interval is the recurrence in seconds; zero means one-shot.
	Interval int
}

// Queue is the persistent job table workers coordinate through.
type Queue interface {
	// Enqueue inserts a queued job. It returns ErrJobAlreadyExists when an
	// active job holds the same (type, remote_id) and its interval has not elapsed.
	Enqueue(ctx context.Context, req NewJob) (Job, error)
	// Claim leases the oldest eligible queued job of the given type to owner.
	// It returns (nil, nil) when nothing is claimable.
	Claim(ctx context.Context, jobType, owner string) (*Job, error)
	// Finish completes a claimed job, or re-queues it for its next interval when recurring.
	// job.ClaimedBy must still hold the claim, otherwise ErrJobNotClaimed.
	Finish(ctx context.Context, job Job) error
	// Release returns a claimed job to the queue (retry) or fails it permanently.
	// Like Finish it only applies to the current claim holder.
	Release(ctx context.Context, job Job, retry bool, reason string) error
	// ReclaimExpired requeues or fails jobs whose lease is older than lease.
	ReclaimExpired(ctx context.Context, lease time.Duration) (int, error)
	Get(ctx context.Context, id int64) (Job, error)
	GetByRemoteID(ctx context.Context, jobType, remoteID string) (Job, error)
	// Purge deletes terminal jobs finished before the cutoff.
	Purge(ctx context.Context, olderThan time.Time) (int, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}
