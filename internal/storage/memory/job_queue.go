// Package memory provides in-process implementations of the job queue and dataset
// store for development and tests. They honor the same invariants as the Postgres stores.
package memory

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/socialscope/internal/clock/system"
	"github.com/JakeFAU/socialscope/internal/jobs"
)

// JobQueue implements jobs.Queue behind a mutex.
type JobQueue struct {
	mu     sync.Mutex
	jobs   map[int64]jobs.Job
	nextID int64
	clock  jobs.Clock
	policy jobs.RetryPolicy
}

// NewJobQueue constructs an empty queue. A nil clock uses the wall clock.
func NewJobQueue(clock jobs.Clock, policy jobs.RetryPolicy) *JobQueue {
	if clock == nil {
		clock = system.New()
	}
	return &JobQueue{
		jobs:   make(map[int64]jobs.Job),
		clock:  clock,
		policy: policy,
	}
}

// Enqueue inserts a queued job unless an active one holds (type, remote_id).
func (q *JobQueue) Enqueue(_ context.Context, req jobs.NewJob) (jobs.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.clock.Now()
	for id, existing := range q.jobs {
		if existing.Type != req.Type || existing.RemoteID != req.RemoteID || !existing.Status.Active() {
			continue
		}
		if rearmable(existing, now) {
			existing.ClaimAfter = now
			existing.Details = maps.Clone(req.Details)
			q.jobs[id] = existing
			return cloneJob(existing), nil
		}
		return jobs.Job{}, jobs.ErrJobAlreadyExists
	}
	q.nextID++
	job := jobs.Job{
		ID:         q.nextID,
		Type:       req.Type,
		RemoteID:   req.RemoteID,
		Details:    maps.Clone(req.Details),
		Status:     jobs.StatusQueued,
		ClaimAfter: now,
		Interval:   req.Interval,
		Timestamp:  now,
	}
	q.jobs[job.ID] = job
	return cloneJob(job), nil
}

// rearmable reports whether a waiting recurring job may be pulled forward.
func rearmable(job jobs.Job, now time.Time) bool {
	return job.Recurring() &&
		job.Status == jobs.StatusQueued &&
		!now.Before(job.Timestamp.Add(job.IntervalDuration()))
}

// Claim leases the oldest claimable job of jobType to owner.
func (q *JobQueue) Claim(_ context.Context, jobType, owner string) (*jobs.Job, error) {
	if owner == "" {
		return nil, errors.New("claim requires an owner")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.clock.Now()
	var candidates []jobs.Job
	for _, job := range q.jobs {
		if job.Type == jobType && job.Status == jobs.StatusQueued && !job.ClaimAfter.After(now) {
			candidates = append(candidates, job)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].Timestamp.Equal(candidates[j].Timestamp) {
			return candidates[i].Timestamp.Before(candidates[j].Timestamp)
		}
		return candidates[i].ID < candidates[j].ID
	})
	job := candidates[0]
	job.Status = jobs.StatusClaimed
	job.ClaimedAt = &now
	job.ClaimedBy = owner
	job.Attempts++
	q.jobs[job.ID] = job
	out := cloneJob(job)
	return &out, nil
}

// Finish completes a claimed job; recurring jobs wait for their next interval.
func (q *JobQueue) Finish(_ context.Context, job jobs.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	current, err := q.claimed(job)
	if err != nil {
		return err
	}
	now := q.clock.Now()
	current.ClaimedAt = nil
	current.ClaimedBy = ""
	current.LastError = ""
	if current.Recurring() {
		current.Status = jobs.StatusQueued
		current.ClaimAfter = now.Add(current.IntervalDuration())
		current.Timestamp = now
		current.Attempts = 0
	} else {
		current.Status = jobs.StatusFinished
		current.FinishedAt = &now
	}
	q.jobs[current.ID] = current
	return nil
}

// Release applies the retry policy to a claimed job.
func (q *JobQueue) Release(_ context.Context, job jobs.Job, retry bool, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	current, err := q.claimed(job)
	if err != nil {
		return err
	}
	q.applyDecision(&current, retry, reason)
	q.jobs[current.ID] = current
	return nil
}

// ReclaimExpired requeues claimed jobs whose lease started before now-lease.
func (q *JobQueue) ReclaimExpired(_ context.Context, lease time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	cutoff := q.clock.Now().Add(-lease)
	reclaimed := 0
	for id, job := range q.jobs {
		if job.Status != jobs.StatusClaimed || job.ClaimedAt == nil || !job.ClaimedAt.Before(cutoff) {
			continue
		}
		q.applyDecision(&job, true, "lease expired")
		q.jobs[id] = job
		reclaimed++
	}
	return reclaimed, nil
}

func (q *JobQueue) applyDecision(job *jobs.Job, retry bool, reason string) {
	now := q.clock.Now()
	decision := q.policy.Decide(*job, retry, now)
	job.Status = decision.Status
	job.ClaimedAt = nil
	job.ClaimedBy = ""
	job.LastError = reason
	if decision.Status == jobs.StatusFailed {
		job.FinishedAt = &now
		return
	}
	job.ClaimAfter = decision.ClaimAfter
	if decision.ResetAttempts {
		job.Attempts = 0
		job.Timestamp = now
	}
}

// claimed returns the stored job if job.ClaimedBy still holds its claim.
func (q *JobQueue) claimed(job jobs.Job) (jobs.Job, error) {
	current, ok := q.jobs[job.ID]
	if !ok {
		return jobs.Job{}, jobs.ErrJobNotFound
	}
	if current.Status != jobs.StatusClaimed {
		return jobs.Job{}, jobs.ErrJobNotClaimed
	}
	if current.ClaimedBy != job.ClaimedBy {
		return jobs.Job{}, fmt.Errorf("job %d is held by %s: %w", job.ID, current.ClaimedBy, jobs.ErrJobNotClaimed)
	}
	return current, nil
}

// Get fetches a job by id.
func (q *JobQueue) Get(_ context.Context, id int64) (jobs.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return jobs.Job{}, jobs.ErrJobNotFound
	}
	return cloneJob(job), nil
}

// GetByRemoteID returns the newest job for (jobType, remoteID), preferring active ones.
func (q *JobQueue) GetByRemoteID(_ context.Context, jobType, remoteID string) (jobs.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var (
		best  jobs.Job
		found bool
	)
	for _, job := range q.jobs {
		if job.Type != jobType || job.RemoteID != remoteID {
			continue
		}
		if !found || betterMatch(job, best) {
			best, found = job, true
		}
	}
	if !found {
		return jobs.Job{}, jobs.ErrJobNotFound
	}
	return cloneJob(best), nil
}

func betterMatch(candidate, current jobs.Job) bool {
	if candidate.Status.Active() != current.Status.Active() {
		return candidate.Status.Active()
	}
	return candidate.ID > current.ID
}

// Purge deletes terminal jobs that finished before olderThan.
func (q *JobQueue) Purge(_ context.Context, olderThan time.Time) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	purged := 0
	for id, job := range q.jobs {
		if job.Status.Active() || job.FinishedAt == nil || !job.FinishedAt.Before(olderThan) {
			continue
		}
		delete(q.jobs, id)
		purged++
	}
	return purged, nil
}

func cloneJob(job jobs.Job) jobs.Job {
	job.Details = maps.Clone(job.Details)
	if job.ClaimedAt != nil {
		ts := *job.ClaimedAt
		job.ClaimedAt = &ts
	}
	if job.FinishedAt != nil {
		ts := *job.FinishedAt
		job.FinishedAt = &ts
	}
	return job
}
