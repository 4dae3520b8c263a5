package jobs

import "time"

// RetryPolicy bounds how often a released job goes back to the queue.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryPolicy mirrors the queue defaults in config.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, Backoff: 30 * time.Second}

// Decision is the queue transition computed for a released job.
type Decision struct {
	Status     Status
	ClaimAfter time.Time
	// ResetAttempts is set when a recurring job rolls over to its next interval.
	ResetAttempts bool
}

// Decide picks the next state for job after a failed attempt at now.
// attempts already includes the attempt that just failed.
// Recurring jobs that run out of attempts wait for their next interval instead of failing.
func (p RetryPolicy) Decide(job Job, retry bool, now time.Time) Decision {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if retry && job.Attempts < maxAttempts {
		backoff := p.Backoff
		if job.Attempts > 1 {
			backoff *= time.Duration(1 << min(job.Attempts-1, 6))
		}
		return Decision{Status: StatusQueued, ClaimAfter: now.Add(backoff)}
	}
	if job.Recurring() {
		return Decision{Status: StatusQueued, ClaimAfter: now.Add(job.IntervalDuration()), ResetAttempts: true}
	}
	return Decision{Status: StatusFailed}
}
