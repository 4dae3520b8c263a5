package worker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/socialscope/internal/jobs"
)

// IDGenerator names workers.
type IDGenerator interface {
	NewID() (string, error)
}

// Config controls worker polling.
type Config struct {
	PollInterval time.Duration
}

const defaultPollInterval = time.Second

// Pool builds workers per job type and tracks the jobs they are running so
// that a job can be interrupted from outside.
type Pool struct {
	queue   jobs.Queue
	ids     IDGenerator
	cfg     Config
	logger  *zap.Logger
	workers []*Worker

	mu      sync.Mutex
	running map[int64]context.CancelCauseFunc
}

// NewPool constructs a Pool.
func NewPool(queue jobs.Queue, ids IDGenerator, cfg Config, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return &Pool{
		queue:   queue,
		ids:     ids,
		cfg:     cfg,
		logger:  logger.Named("worker"),
		running: make(map[int64]context.CancelCauseFunc),
	}
}

// Add creates n workers for jobType. n below one is treated as one.
func (p *Pool) Add(jobType string, handler Handler, n int) error {
	if handler == nil {
		return fmt.Errorf("no handler for job type %s", jobType)
	}
	n = max(n, 1)
	for range n {
		id, err := p.ids.NewID()
		if err != nil {
			return fmt.Errorf("worker id: %w", err)
		}
		p.workers = append(p.workers, &Worker{
			id:      id,
			jobType: jobType,
			queue:   p.queue,
			handler: handler,
			pool:    p,
			poll:    p.cfg.PollInterval,
			logger:  p.logger.With(zap.String("type", jobType), zap.String("worker_id", id)),
		})
	}
	return nil
}

// Workers returns every worker added so far.
func (p *Pool) Workers() []*Worker {
	return append([]*Worker(nil), p.workers...)
}

// Interrupt trips the interruption flag of a running job. It reports whether
// the job was running in this process.
func (p *Pool) Interrupt(jobID int64) bool {
	p.mu.Lock()
	cancel, ok := p.running[jobID]
	p.mu.Unlock()
	if ok {
		cancel(jobs.ErrInterrupted)
		p.logger.Info("interrupt requested", zap.Int64("job_id", jobID))
	}
	return ok
}

// Running lists the ids of jobs currently executing, ascending.
func (p *Pool) Running() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int64, 0, len(p.running))
	for id := range p.running {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (p *Pool) track(ctx context.Context, jobID int64) (context.Context, func()) {
	jobCtx, cancel := context.WithCancelCause(ctx)
	p.mu.Lock()
	p.running[jobID] = cancel
	p.mu.Unlock()
	return jobCtx, func() {
		p.mu.Lock()
		delete(p.running, jobID)
		p.mu.Unlock()
		cancel(nil)
	}
}
