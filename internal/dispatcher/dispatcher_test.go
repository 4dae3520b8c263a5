package dispatcher

import (
	"context"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/socialscope/internal/clock/system"
	"github.com/JakeFAU/socialscope/internal/jobs"
	"github.com/JakeFAU/socialscope/internal/storage/memory"
	"github.com/JakeFAU/socialscope/internal/worker"
)

type seqIDs struct {
	n atomic.Int64
}

func (s *seqIDs) NewID() (string, error) {
	return strconv.FormatInt(s.n.Add(1), 10), nil
}

func newQueue() (*memory.JobQueue, *system.Fixed) {
	clk := system.NewFixed(time.Unix(1_700_000_000, 0))
	return memory.NewJobQueue(clk, jobs.RetryPolicy{MaxAttempts: 2, Backoff: time.Minute}), clk
}

// TestDispatcherRunStartsWorkers ensures workers begin processing and stop on cancel.
func TestDispatcherRunStartsWorkers(t *testing.T) {
	t.Parallel()

	queue, clk := newQueue()
	pool := worker.NewPool(queue, &seqIDs{}, worker.Config{PollInterval: 5 * time.Millisecond}, zap.NewNop())
	var handled atomic.Int32
	require.NoError(t, pool.Add("board", worker.HandlerFunc(func(context.Context, jobs.Job) error {
		handled.Add(1)
		return nil
	}), 2))
	dispatch := New(queue, pool.Workers(), clk, Config{SweepSchedule: "@every 1h"}, zap.NewNop())

	job, err := dispatch.Enqueue(context.Background(), jobs.NewJob{Type: "board", RemoteID: "g"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- dispatch.Run(ctx) }()

	require.Eventually(t, func() bool {
		got, err := queue.Get(context.Background(), job.ID)
		return err == nil && got.Status == jobs.StatusFinished
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, int32(1), handled.Load())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

func TestDispatcherRejectsBadSchedule(t *testing.T) {
	t.Parallel()

	queue, clk := newQueue()
	dispatch := New(queue, nil, clk, Config{SweepSchedule: "every now and then"}, nil)
	require.Error(t, dispatch.Run(context.Background()))
}

func TestSweepReclaimsExpiredLeasesAndPurges(t *testing.T) {
	t.Parallel()

	queue, clk := newQueue()
	ctx := context.Background()
	dispatch := New(queue, nil, clk, Config{Lease: 10 * time.Minute, PurgeAfter: 24 * time.Hour}, nil)

	stale, err := queue.Enqueue(ctx, jobs.NewJob{Type: "thread", RemoteID: "stale"})
	require.NoError(t, err)
	done, err := queue.Enqueue(ctx, jobs.NewJob{Type: "board", RemoteID: "done"})
	require.NoError(t, err)

	claimedStale, err := queue.Claim(ctx, "thread", "worker-a")
	require.NoError(t, err)
	require.Equal(t, stale.ID, claimedStale.ID)
	claimedDone, err := queue.Claim(ctx, "board", "worker-a")
	require.NoError(t, err)
	require.NoError(t, queue.Finish(ctx, *claimedDone))

	// Lease still valid: nothing happens.
	dispatch.Sweep(ctx)
	got, err := queue.Get(ctx, stale.ID)
	require.NoError(t, err)
	require.Equal(t, jobs.StatusClaimed, got.Status)

	clk.Advance(25 * time.Hour)
	dispatch.Sweep(ctx)

	got, err = queue.Get(ctx, stale.ID)
	require.NoError(t, err)
	require.Equal(t, jobs.StatusQueued, got.Status)
	require.Equal(t, "lease expired", got.LastError)

	_, err = queue.Get(ctx, done.ID)
	require.ErrorIs(t, err, jobs.ErrJobNotFound)
}

// TestDispatcherEnqueueForwardsErrors verifies queue errors are wrapped for callers.
func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	t.Parallel()

	queue, clk := newQueue()
	dispatch := New(queue, nil, clk, Config{}, nil)
	ctx := context.Background()

	_, err := dispatch.Enqueue(ctx, jobs.NewJob{Type: "thread", RemoteID: "1"})
	require.NoError(t, err)
	_, err = dispatch.Enqueue(ctx, jobs.NewJob{Type: "thread", RemoteID: "1"})
	require.ErrorIs(t, err, jobs.ErrJobAlreadyExists)
	require.Contains(t, err.Error(), "queue enqueue")
}

func TestDispatcherGet(t *testing.T) {
	t.Parallel()

	queue, clk := newQueue()
	dispatch := New(queue, nil, clk, Config{}, nil)
	ctx := context.Background()

	job, err := dispatch.Enqueue(ctx, jobs.NewJob{Type: "board", RemoteID: "g"})
	require.NoError(t, err)
	got, err := dispatch.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, "g", got.RemoteID)

	_, err = dispatch.Get(ctx, job.ID+1)
	require.ErrorIs(t, err, jobs.ErrJobNotFound)
}
