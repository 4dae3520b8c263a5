// Package producer holds the job handlers that fill datasets and the corpus:
// the search producer, the board and thread scrapers and the processor runner.
package producer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/socialscope/internal/dataset"
	"github.com/JakeFAU/socialscope/internal/jobs"
	"github.com/JakeFAU/socialscope/internal/metrics"
)

// Publisher sends notifications for finished datasets.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Datasets loads dataset handles by key.
type Datasets interface {
	Get(ctx context.Context, key string) (*dataset.Dataset, error)
}

// Enqueuer schedules follow-up jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, req jobs.NewJob) (jobs.Job, error)
}

// JSONFetcher GETs a URL and decodes its JSON body.
type JSONFetcher interface {
	FetchJSON(ctx context.Context, url string, v any) error
}

// StatusNoResults is the last status of a dataset that finished empty.
const StatusNoResults = "Query finished, but no results were found."

// Completer writes a producer's rows, finishes the dataset and announces it.
type Completer struct {
	pub    Publisher
	topic  string
	logger *zap.Logger
}

// NewCompleter builds a Completer. With a nil publisher or an empty topic
// finished datasets are not announced.
func NewCompleter(pub Publisher, topic string, logger *zap.Logger) *Completer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Completer{pub: pub, topic: topic, logger: logger.Named("completer")}
}

// Complete finishes ds with rows. An empty row set finishes with zero rows and
// no result file. Finishing twice is never retried.
func (c *Completer) Complete(ctx context.Context, ds *dataset.Dataset, rows []dataset.Row) error {
	if ds.IsFinished() {
		return jobs.NoRetry(fmt.Errorf("complete dataset %s: %w", ds.Key(), dataset.ErrAlreadyFinished))
	}
	var err error
	if len(rows) > 0 {
		_, err = ds.WriteRowsAndFinish(ctx, rows)
	} else {
		err = ds.UpdateStatus(ctx, StatusNoResults)
		if err == nil {
			err = ds.Finish(ctx, 0)
		}
	}
	if errors.Is(err, dataset.ErrAlreadyFinished) || errors.Is(err, dataset.ErrInvalidRows) {
		return jobs.NoRetry(err)
	}
	if err != nil {
		return fmt.Errorf("complete dataset %s: %w", ds.Key(), err)
	}
	metrics.ObserveDatasetFinished(ds.Type())
	c.announce(ctx, ds)
	return nil
}

// announce is best effort: the dataset is already finished, so a failed
// publish is logged rather than retried.
func (c *Completer) announce(ctx context.Context, ds *dataset.Dataset) {
	if c.pub == nil || c.topic == "" {
		return
	}
	id, err := c.pub.Publish(context.WithoutCancel(ctx), c.topic, ds.FinishedEvent())
	if err != nil {
		c.logger.Warn("publish finished dataset",
			zap.String("dataset", ds.Key()),
			zap.String("topic", c.topic),
			zap.Error(err),
		)
		return
	}
	c.logger.Debug("published finished dataset", zap.String("dataset", ds.Key()), zap.String("message_id", id))
}

// loadDataset resolves the job's remote id to a dataset. Missing datasets are not retried.
func loadDataset(ctx context.Context, datasets Datasets, job jobs.Job) (*dataset.Dataset, error) {
	if job.RemoteID == "" {
		return nil, jobs.NoRetry(fmt.Errorf("job %d has no dataset key", job.ID))
	}
	ds, err := datasets.Get(ctx, job.RemoteID)
	if errors.Is(err, dataset.ErrNotFound) {
		return nil, jobs.NoRetry(err)
	}
	return ds, err
}
