package producer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/socialscope/internal/jobs"
	"github.com/JakeFAU/socialscope/internal/processor"
)

// ProcessHandler runs a processor over its parent's rows. The job type is the
// processor id and the remote id is the child dataset key.
type ProcessHandler struct {
	datasets Datasets
	registry *processor.Registry
	done     *Completer
	logger   *zap.Logger
}

// NewProcessHandler wires a ProcessHandler.
func NewProcessHandler(datasets Datasets, registry *processor.Registry, done *Completer, logger *zap.Logger) *ProcessHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProcessHandler{datasets: datasets, registry: registry, done: done, logger: logger.Named("process")}
}

// Handle implements worker.Handler.
func (h *ProcessHandler) Handle(ctx context.Context, job jobs.Job) error {
	child, err := loadDataset(ctx, h.datasets, job)
	if err != nil {
		return err
	}
	if child.IsFinished() {
		return nil
	}
	proc, err := h.registry.Get(child.Type())
	if err != nil {
		return jobs.NoRetry(err)
	}
	if child.KeyParent() == "" {
		return jobs.NoRetry(fmt.Errorf("processor dataset %s has no parent", child.Key()))
	}
	parent, err := h.datasets.Get(ctx, child.KeyParent())
	if err != nil {
		return jobs.NoRetry(fmt.Errorf("load parent of %s: %w", child.Key(), err))
	}
	if !parent.IsFinished() {
		return fmt.Errorf("parent %s of %s is not finished", parent.Key(), child.Key())
	}
	if _, err := child.LinkJob(ctx, &job); err != nil {
		h.logger.Warn("link job", zap.String("dataset", child.Key()), zap.Error(err))
	}

	if parent.NumRows() == 0 {
		return h.done.Complete(ctx, child, nil)
	}
	if err := child.UpdateStatus(ctx, "Reading parent dataset"); err != nil {
		return err
	}
	rows, err := parent.ReadRows()
	if err != nil {
		return fmt.Errorf("read parent %s: %w", parent.Key(), err)
	}
	if err := child.UpdateStatus(ctx, fmt.Sprintf("Running %s on %d rows", proc.Title, len(rows))); err != nil {
		return err
	}
	out, err := proc.Run(ctx, rows, child.Parameters())
	if err != nil {
		return err
	}
	h.logger.Info("processor finished",
		zap.String("processor", proc.ID),
		zap.String("dataset", child.Key()),
		zap.Int("rows_in", len(rows)),
		zap.Int("rows_out", len(out)),
	)
	return h.done.Complete(ctx, child, out)
}
