// Package worker implements the claim/execute/hand-back loop over the job queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/socialscope/internal/jobs"
	"github.com/JakeFAU/socialscope/internal/metrics"
)

// Handler executes one claimed job. Returning nil finishes the job; errors are
// classified with jobs.Retryable. Long handlers call jobs.CheckInterrupt(ctx)
// at safe points.
type Handler interface {
	Handle(ctx context.Context, job jobs.Job) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job jobs.Job) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, job jobs.Job) error {
	return f(ctx, job)
}

// Outcome labels how a claimed job was handed back.
const (
	OutcomeFinished    = "finished"
	OutcomeReleased    = "released"
	OutcomeFailed      = "failed"
	OutcomeInterrupted = "interrupted"
)

// Worker polls one job type and executes claimed jobs one at a time.
type Worker struct {
	id      string
	jobType string
	queue   jobs.Queue
	handler Handler
	pool    *Pool
	poll    time.Duration
	logger  *zap.Logger
}

// ID returns the worker identity used in logs.
func (w *Worker) ID() string {
	return w.id
}

// Type returns the job type the worker claims.
func (w *Worker) Type() string {
	return w.jobType
}

// Run blocks, claiming and executing jobs until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Debug("worker started")
	defer w.logger.Debug("worker stopped")
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := w.queue.Claim(ctx, w.jobType, w.id)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("claim failed", zap.Error(err))
			w.wait(ctx)
			continue
		}
		if job == nil {
			w.wait(ctx)
			continue
		}
		w.processJob(ctx, *job)
	}
}

func (w *Worker) wait(ctx context.Context) {
	t := time.NewTimer(w.poll)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (w *Worker) processJob(ctx context.Context, job jobs.Job) {
	logger := w.logger.With(zap.Int64("job_id", job.ID), zap.String("remote_id", job.RemoteID))
	logger.Debug("claimed job", zap.Int("attempt", job.Attempts))
	metrics.ObserveClaim(job.Type)
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	jobCtx, untrack := w.pool.track(ctx, job.ID)
	start := time.Now()
	err := w.run(jobCtx, job)
	untrack()

	// Hand the job back even when the worker is shutting down.
	back := context.WithoutCancel(ctx)
	outcome, handErr := w.handBack(back, job, err)
	metrics.ObserveJob(job.Type, outcome)
	if errors.Is(handErr, jobs.ErrJobNotClaimed) {
		logger.Warn("claim lost before hand back", zap.String("outcome", outcome), zap.Error(handErr))
		return
	}
	if handErr != nil {
		logger.Error("hand back job failed", zap.String("outcome", outcome), zap.Error(handErr))
		return
	}
	fields := []zap.Field{zap.String("outcome", outcome), zap.Duration("elapsed", time.Since(start))}
	switch outcome {
	case OutcomeFinished:
		logger.Info("job finished", fields...)
	case OutcomeInterrupted:
		logger.Warn("job interrupted", fields...)
	default:
		logger.Error("job failed", append(fields, zap.Error(err))...)
	}
}

func (w *Worker) run(ctx context.Context, job jobs.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = jobs.NoRetry(fmt.Errorf("handler panic: %v", r))
		}
	}()
	return w.handler.Handle(ctx, job)
}

func (w *Worker) handBack(ctx context.Context, job jobs.Job, err error) (string, error) {
	switch {
	case err == nil:
		return OutcomeFinished, w.queue.Finish(ctx, job)
	case errors.Is(err, jobs.ErrInterrupted):
		return OutcomeInterrupted, w.queue.Release(ctx, job, false, err.Error())
	case jobs.Retryable(err):
		return OutcomeReleased, w.queue.Release(ctx, job, true, err.Error())
	default:
		return OutcomeFailed, w.queue.Release(ctx, job, false, err.Error())
	}
}
