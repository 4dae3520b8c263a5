// Package dispatcher runs the worker fan-out and the supervisory sweeps over the job queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/socialscope/internal/jobs"
	"github.com/JakeFAU/socialscope/internal/metrics"
	"github.com/JakeFAU/socialscope/internal/worker"
)

// Config controls the sweeps.
type Config struct {
	// Lease is how long a claim may stay open before it is reclaimed.
	Lease time.Duration
	// SweepSchedule is a cron spec; "@every 1m" when empty.
	SweepSchedule string
	// PurgeAfter deletes terminal jobs older than this. Zero keeps them.
	PurgeAfter time.Duration
}

const (
	defaultLease         = 30 * time.Minute
	defaultSweepSchedule = "@every 1m"
)

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   jobs.Queue
	workers []*worker.Worker
	clock   jobs.Clock
	cfg     Config
	logger  *zap.Logger
}

// New creates a Dispatcher.
func New(queue jobs.Queue, workers []*worker.Worker, clock jobs.Clock, cfg Config, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Lease <= 0 {
		cfg.Lease = defaultLease
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = defaultSweepSchedule
	}
	return &Dispatcher{
		queue:   queue,
		workers: workers,
		clock:   clock,
		cfg:     cfg,
		logger:  logger.Named("dispatcher"),
	}
}

// Run starts all workers and the sweep schedule, and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) error {
	sched := cron.New()
	if _, err := sched.AddFunc(d.cfg.SweepSchedule, func() { d.Sweep(ctx) }); err != nil {
		return fmt.Errorf("sweep schedule %q: %w", d.cfg.SweepSchedule, err)
	}
	// Leases orphaned by a previous process are released before workers start.
	d.Sweep(ctx)
	sched.Start()

	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	d.logger.Info("dispatcher started", zap.Int("workers", len(d.workers)), zap.String("sweep", d.cfg.SweepSchedule))
	<-ctx.Done()
	<-sched.Stop().Done()
	wg.Wait()
	d.logger.Info("dispatcher stopped")
	return nil
}

// Sweep reclaims expired leases and purges old terminal jobs.
func (d *Dispatcher) Sweep(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	n, err := d.queue.ReclaimExpired(ctx, d.cfg.Lease)
	if err != nil {
		d.logger.Error("reclaim expired leases", zap.Error(err))
	} else if n > 0 {
		metrics.ObserveReclaimed(n)
		d.logger.Warn("reclaimed expired leases", zap.Int("jobs", n), zap.Duration("lease", d.cfg.Lease))
	}
	if d.cfg.PurgeAfter <= 0 || d.clock == nil {
		return
	}
	purged, err := d.queue.Purge(ctx, d.clock.Now().Add(-d.cfg.PurgeAfter))
	if err != nil {
		d.logger.Error("purge terminal jobs", zap.Error(err))
		return
	}
	if purged > 0 {
		d.logger.Info("purged terminal jobs", zap.Int("jobs", purged))
	}
}

// Enqueue proxies to the underlying queue. jobs.ErrJobAlreadyExists stays matchable.
func (d *Dispatcher) Enqueue(ctx context.Context, req jobs.NewJob) (jobs.Job, error) {
	job, err := d.queue.Enqueue(ctx, req)
	if err != nil {
		return jobs.Job{}, fmt.Errorf("queue enqueue: %w", err)
	}
	return job, nil
}

// Get proxies a job lookup; jobs.ErrJobNotFound is returned as is.
func (d *Dispatcher) Get(ctx context.Context, id int64) (jobs.Job, error) {
	return d.queue.Get(ctx, id)
}
