package producer

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/socialscope/internal/dataset"
	"github.com/JakeFAU/socialscope/internal/jobs"
	"github.com/JakeFAU/socialscope/internal/search"
)

// Searcher runs validated parameters, reporting progress on the dataset.
type Searcher interface {
	Run(ctx context.Context, params dataset.Parameters, progress search.Progress) (search.Result, error)
}

// SearchHandler fills a search dataset. The job's remote id is the dataset key.
type SearchHandler struct {
	datasets Datasets
	searcher Searcher
	done     *Completer
	logger   *zap.Logger
}

// NewSearchHandler wires a SearchHandler.
func NewSearchHandler(datasets Datasets, searcher Searcher, done *Completer, logger *zap.Logger) *SearchHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SearchHandler{datasets: datasets, searcher: searcher, done: done, logger: logger.Named("search")}
}

// Handle implements worker.Handler.
func (h *SearchHandler) Handle(ctx context.Context, job jobs.Job) error {
	ds, err := loadDataset(ctx, h.datasets, job)
	if err != nil {
		return err
	}
	if ds.IsFinished() {
		h.logger.Info("dataset already finished", zap.String("dataset", ds.Key()), zap.Int64("job_id", job.ID))
		return nil
	}
	if _, err := ds.LinkJob(ctx, &job); err != nil {
		h.logger.Warn("link job", zap.String("dataset", ds.Key()), zap.Error(err))
	}

	res, err := h.searcher.Run(ctx, ds.Parameters(), ds)
	if errors.Is(err, search.ErrInvalidQuery) {
		if statusErr := ds.UpdateStatus(context.WithoutCancel(ctx), err.Error()); statusErr != nil {
			h.logger.Warn("record query error on dataset", zap.String("dataset", ds.Key()), zap.Error(statusErr))
		}
		return jobs.NoRetry(err)
	}
	if err != nil {
		return err
	}
	h.logger.Info("search complete",
		zap.String("dataset", ds.Key()),
		zap.String("path", string(res.Path)),
		zap.Int("rows", len(res.Rows)),
	)
	return h.done.Complete(ctx, ds, res.Rows)
}
