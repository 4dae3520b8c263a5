package jobs

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetryPolicyBacksOffUntilBudgetSpent(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0).UTC()
	policy := RetryPolicy{MaxAttempts: 3, Backoff: 10 * time.Second}

	first := policy.Decide(Job{Attempts: 1}, true, now)
	require.Equal(t, StatusQueued, first.Status)
	require.Equal(t, now.Add(10*time.Second), first.ClaimAfter)

	second := policy.Decide(Job{Attempts: 2}, true, now)
	require.Equal(t, StatusQueued, second.Status)
	require.Equal(t, now.Add(20*time.Second), second.ClaimAfter)

	last := policy.Decide(Job{Attempts: 3}, true, now)
	require.Equal(t, StatusFailed, last.Status)
}

func TestRetryPolicyNoRetryFailsOneShot(t *testing.T) {
	t.Parallel()

	decision := DefaultRetryPolicy.Decide(Job{Attempts: 1}, false, time.Now())
	require.Equal(t, StatusFailed, decision.Status)
}

func TestRetryPolicyRecurringRollsOver(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0).UTC()
	decision := DefaultRetryPolicy.Decide(Job{Attempts: 1, Interval: 60}, false, now)
	require.Equal(t, StatusQueued, decision.Status)
	require.Equal(t, now.Add(time.Minute), decision.ClaimAfter)
	require.True(t, decision.ResetAttempts)
}

func TestRetryable(t *testing.T) {
	t.Parallel()

	require.False(t, Retryable(nil))
	require.True(t, Retryable(errors.New("boom")))
	require.False(t, Retryable(NoRetry(errors.New("bad payload"))))
	require.False(t, Retryable(fmt.Errorf("search: %w", ErrInterrupted)))
	require.Nil(t, NoRetry(nil))
}

func TestCheckInterrupt(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancelCause(context.Background())
	require.NoError(t, CheckInterrupt(ctx))

	cancel(ErrInterrupted)
	require.ErrorIs(t, CheckInterrupt(ctx), ErrInterrupted)

	plain, stop := context.WithCancel(context.Background())
	stop()
	require.ErrorIs(t, CheckInterrupt(plain), context.Canceled)
}

func TestStatusActive(t *testing.T) {
	t.Parallel()

	require.True(t, StatusQueued.Active())
	require.True(t, StatusClaimed.Active())
	require.False(t, StatusFinished.Active())
	require.False(t, StatusFailed.Active())
}
