package search

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/socialscope/internal/corpus"
	"github.com/JakeFAU/socialscope/internal/dataset"
	"github.com/JakeFAU/socialscope/internal/jobs"
	"github.com/JakeFAU/socialscope/internal/metrics"
)

// Path names the strategy the executor picked for a query.
type Path string

const (
	// PathFast queries the relational store by time range only.
	PathFast Path = "fast"
	// PathComplex resolves ids through the full-text index first.
	PathComplex Path = "complex"
	// PathRandom samples posts relationally.
	PathRandom Path = "random"
)

// errNoMatches short-circuits the complex path; Run maps it to an empty result.
var errNoMatches = errors.New("search: no matches")

// Progress receives human-readable status updates.
type Progress interface {
	UpdateStatus(ctx context.Context, status string) error
}

// ExecutorConfig tunes hydration.
type ExecutorConfig struct {
	// BatchSize caps the number of ids per relational lookup.
	BatchSize int
	// MaxResults caps the number of ids requested from the index.
	MaxResults int
}

const (
	defaultBatchSize  = 1000
	defaultMaxResults = 1_000_000
)

// Executor runs validated search parameters against the full-text index and the post store.
type Executor struct {
	index  FullTextIndex
	posts  corpus.Reader
	cfg    ExecutorConfig
	logger *zap.Logger
}

// Result is the outcome of Run. Rows is empty when nothing matched.
type Result struct {
	Rows    []dataset.Row
	Path    Path
	Matches int
}

// NewExecutor constructs an Executor. index may be nil when only relational
// queries are expected; complex queries then fail with ErrIndexUnavailable.
func NewExecutor(index FullTextIndex, posts corpus.Reader, cfg ExecutorConfig, logger *zap.Logger) (*Executor, error) {
	if posts == nil {
		return nil, errors.New("post reader is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = defaultMaxResults
	}
	return &Executor{index: index, posts: posts, cfg: cfg, logger: logger.Named("search")}, nil
}

// ChoosePath picks the execution path for params.
func ChoosePath(params dataset.Parameters) Path {
	switch {
	case params.RandomAmount() > 0:
		return PathRandom
	case HasFullTextTerm(params):
		return PathComplex
	default:
		return PathFast
	}
}

// Run executes params. ctx is checked for interruption before every round trip;
// the round trips themselves are not cut short so that a started query always
// completes or fails on its own.
func (e *Executor) Run(ctx context.Context, params dataset.Parameters, progress Progress) (Result, error) {
	path := ChoosePath(params)
	metrics.ObserveSearch(string(path))
	logger := e.logger.With(zap.String("path", string(path)))
	start := time.Now()

	var (
		res Result
		err error
	)
	switch path {
	case PathRandom:
		res, err = e.random(ctx, params)
	case PathComplex:
		res, err = e.complex(ctx, params, progress)
	default:
		res, err = e.fast(ctx, params)
	}
	res.Path = path
	if errors.Is(err, errNoMatches) {
		logger.Info("search finished without matches", zap.Duration("elapsed", time.Since(start)))
		return res, nil
	}
	if err != nil {
		return res, err
	}
	logger.Info("search finished", zap.Int("rows", len(res.Rows)), zap.Duration("elapsed", time.Since(start)))
	return res, nil
}

func (e *Executor) fast(ctx context.Context, params dataset.Parameters) (Result, error) {
	if err := jobs.CheckInterrupt(ctx); err != nil {
		return Result{}, fmt.Errorf("interrupted before querying posts: %w", err)
	}
	rows, err := e.posts.PostsInRange(context.WithoutCancel(ctx), TimeRangeOf(params), GroupPatterns(params))
	if err != nil {
		return Result{}, fmt.Errorf("query posts in range: %w", err)
	}
	return Result{Rows: rows, Matches: len(rows)}, nil
}

func (e *Executor) random(ctx context.Context, params dataset.Parameters) (Result, error) {
	if err := jobs.CheckInterrupt(ctx); err != nil {
		return Result{}, fmt.Errorf("interrupted before sampling posts: %w", err)
	}
	n := int(params.RandomAmount())
	rows, err := e.posts.RandomPosts(context.WithoutCancel(ctx), n, TimeRangeOf(params), GroupPatterns(params))
	if err != nil {
		return Result{}, fmt.Errorf("sample posts: %w", err)
	}
	return Result{Rows: rows, Matches: len(rows)}, nil
}

func (e *Executor) complex(ctx context.Context, params dataset.Parameters, progress Progress) (Result, error) {
	if e.index == nil {
		return Result{}, fmt.Errorf("%w: no full-text index configured", ErrIndexUnavailable)
	}
	query := BuildFullTextQuery(params, e.cfg.MaxResults)

	if err := jobs.CheckInterrupt(ctx); err != nil {
		return Result{}, fmt.Errorf("interrupted before full-text search: %w", err)
	}
	if err := report(ctx, progress, "Searching for matches"); err != nil {
		return Result{}, err
	}
	e.logger.Debug("querying full-text index", zap.Stringer("query", query))
	ids, err := e.index.Search(context.WithoutCancel(ctx), query)
	if err != nil {
		return Result{}, err
	}
	if len(ids) == 0 {
		if err := report(ctx, progress, "Query finished, but no results were found."); err != nil {
			return Result{}, err
		}
		return Result{}, errNoMatches
	}

	if err := report(ctx, progress, fmt.Sprintf("Found %d matches. Collecting post data", len(ids))); err != nil {
		return Result{}, err
	}
	ids = slices.Clone(ids)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	groups := GroupPatterns(params)
	rows := make([]dataset.Row, 0, len(ids))
	for batch := range slices.Chunk(ids, e.cfg.BatchSize) {
		if err := jobs.CheckInterrupt(ctx); err != nil {
			return Result{}, fmt.Errorf("interrupted while fetching post data: %w", err)
		}
		got, err := e.posts.PostsByID(context.WithoutCancel(ctx), batch, groups)
		if err != nil {
			return Result{}, fmt.Errorf("fetch post data: %w", err)
		}
		rows = append(rows, got...)
	}
	if err := report(ctx, progress, "Post data collected"); err != nil {
		return Result{}, err
	}
	return Result{Rows: rows, Matches: len(ids)}, nil
}

func report(ctx context.Context, progress Progress, status string) error {
	if progress == nil {
		return nil
	}
	if err := progress.UpdateStatus(context.WithoutCancel(ctx), status); err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return nil
}
