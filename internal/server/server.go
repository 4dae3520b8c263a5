// Package server assembles the long-running service: job workers, the
// dispatcher, the scrapers and the HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/socialscope/internal/api"
	"github.com/JakeFAU/socialscope/internal/app"
	"github.com/JakeFAU/socialscope/internal/config"
	"github.com/JakeFAU/socialscope/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/socialscope/internal/fetcher/colly"
	"github.com/JakeFAU/socialscope/internal/id/uuid"
	"github.com/JakeFAU/socialscope/internal/jobs"
	"github.com/JakeFAU/socialscope/internal/policy/ratelimit"
	"github.com/JakeFAU/socialscope/internal/processor"
	"github.com/JakeFAU/socialscope/internal/producer"
	memorypublisher "github.com/JakeFAU/socialscope/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/socialscope/internal/publisher/pubsub"
	"github.com/JakeFAU/socialscope/internal/search"
	"github.com/JakeFAU/socialscope/internal/telemetry"
	"github.com/JakeFAU/socialscope/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// App contains the running service's dependencies.
type App struct {
	cfg            config.Config
	base           *app.App
	logger         *zap.Logger
	apiServer      *api.Server
	dispatch       *dispatcher.Dispatcher
	pool           *worker.Pool
	pubsub         *gcppublisher.Publisher
	tracerShutdown telemetry.Shutdown
}

// Build wires workers, the dispatcher and the API on top of the shared stores in base.
func Build(ctx context.Context, base *app.App) (*App, error) {
	cfg := base.Config
	a := &App{cfg: cfg, base: base, logger: base.Logger}

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     app.Version(),
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	a.tracerShutdown = shutdown

	if err := base.Migrate(ctx); err != nil {
		return nil, err
	}

	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}
	done := producer.NewCompleter(publisher, cfg.PubSub.TopicName, a.logger)

	registry, err := a.setupRegistry()
	if err != nil {
		return nil, err
	}

	a.pool = worker.NewPool(base.Jobs, uuid.New(), worker.Config{PollInterval: cfg.PollInterval()}, a.logger.Named("worker"))
	if err := a.addSearchWorkers(done); err != nil {
		return nil, err
	}
	if err := a.addProcessorWorkers(registry, done); err != nil {
		return nil, err
	}
	if err := a.addScraperWorkers(); err != nil {
		return nil, err
	}

	a.dispatch = dispatcher.New(base.Jobs, a.pool.Workers(), base.Clock, dispatcher.Config{
		Lease:         cfg.Lease(),
		SweepSchedule: cfg.Queue.SweepSchedule,
		PurgeAfter:    cfg.PurgeAfter(),
	}, a.logger.Named("dispatcher"))

	a.apiServer = api.NewServer(api.Deps{
		Datasets: base.Datasets,
		Queue:    a.dispatch,
		Workers:  a.pool,
		Registry: registry,
		Clock:    base.Clock,
		Logger:   a.logger.Named("api"),
	}, api.Config{
		Datasource:  cfg.Search.Datasource,
		AuthEnabled: cfg.Auth.Enabled,
		APIKey:      cfg.Auth.APIKey,
		AdminKey:    cfg.Auth.AdminKey,
		Timeout:     time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
	})
	return a, nil
}

func (a *App) setupPublisher(ctx context.Context) (producer.Publisher, error) {
	if a.cfg.PubSub.ProjectID == "" || a.cfg.PubSub.TopicName == "" {
		a.logger.Warn("No Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	pub, err := gcppublisher.Connect(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub init failed: %w", err)
	}
	a.pubsub = pub
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return pub, nil
}

func (a *App) setupRegistry() (*processor.Registry, error) {
	builtin, err := processor.NewBuiltinRegistry()
	if err != nil {
		return nil, fmt.Errorf("processor registry: %w", err)
	}
	registry, err := builtin.Configure(a.cfg.Processors)
	if err != nil {
		return nil, fmt.Errorf("processor overrides: %w", err)
	}
	return registry, nil
}

func (a *App) addSearchWorkers(done *producer.Completer) error {
	var index search.FullTextIndex
	if a.cfg.Search.IndexURL != "" {
		ix, err := search.NewHTTPIndex(search.HTTPIndexConfig{
			BaseURL: a.cfg.Search.IndexURL,
			Index:   a.cfg.Search.IndexName,
			Timeout: time.Duration(a.cfg.Search.TimeoutSeconds) * time.Second,
		}, nil)
		if err != nil {
			return fmt.Errorf("search index init failed: %w", err)
		}
		index = ix
		a.logger.Info("full-text index configured", zap.String("index", a.cfg.Search.IndexName))
	} else {
		a.logger.Warn("no full-text index configured; body and subject matches will fail")
	}
	executor, err := search.NewExecutor(index, a.base.Posts, search.ExecutorConfig{
		BatchSize:  a.cfg.Search.BatchSize,
		MaxResults: a.cfg.Search.MaxResults,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("search executor init failed: %w", err)
	}
	jobType := a.cfg.SearchType()
	handler := producer.NewSearchHandler(a.base.Datasets, executor, done, a.logger)
	return a.addWorkers(jobType, handler)
}

func (a *App) addProcessorWorkers(registry *processor.Registry, done *producer.Completer) error {
	handler := producer.NewProcessHandler(a.base.Datasets, registry, done, a.logger)
	for _, d := range registry.Descriptors() {
		if err := a.addWorkers(d.ID, handler); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) addScraperWorkers() error {
	if !a.cfg.Scraper.Enabled {
		a.logger.Info("scraper disabled")
		return nil
	}
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     a.cfg.Scraper.UserAgent,
		RespectRobots: a.cfg.Scraper.RespectRobots,
		Timeout:       time.Duration(a.cfg.Scraper.TimeoutSeconds) * time.Second,
		Limiter: ratelimit.New(ratelimit.Config{
			DefaultRPS:   a.cfg.Scraper.RequestsPerSecond,
			DefaultBurst: a.cfg.Scraper.Burst,
		}),
	}, nil)
	scrape := producer.ScrapeConfig{BaseURL: a.cfg.Scraper.BaseURL}
	if err := a.addWorkers(producer.TypeBoard, producer.NewBoardHandler(fetcher, a.base.Jobs, scrape, a.logger)); err != nil {
		return err
	}
	a.logger.Info("scraper enabled",
		zap.String("base_url", a.cfg.Scraper.BaseURL),
		zap.Strings("boards", a.cfg.Scraper.Boards),
	)
	return a.addWorkers(producer.TypeThread, producer.NewThreadHandler(fetcher, a.base.Posts, scrape, a.logger))
}

func (a *App) addWorkers(jobType string, handler worker.Handler) error {
	n := a.cfg.WorkersFor(jobType)
	if err := a.pool.Add(jobType, handler, n); err != nil {
		return fmt.Errorf("workers for %s: %w", jobType, err)
	}
	a.logger.Debug("workers added", zap.String("type", jobType), zap.Int("count", n))
	return nil
}

// seedBoards queues one recurring board job per configured board.
func (a *App) seedBoards(ctx context.Context) error {
	if !a.cfg.Scraper.Enabled {
		return nil
	}
	for _, board := range a.cfg.Scraper.Boards {
		_, err := a.dispatch.Enqueue(ctx, jobs.NewJob{
			Type:     producer.TypeBoard,
			RemoteID: board,
			Interval: a.cfg.Scraper.BoardIntervalSeconds,
		})
		if err != nil && !errors.Is(err, jobs.ErrJobAlreadyExists) {
			return fmt.Errorf("seed board %s: %w", board, err)
		}
	}
	return nil
}

// Handler exposes the API for tests and embedding.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the application and blocks until the context is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.seedBoards(ctx); err != nil {
		return err
	}

	dispatchDone := make(chan error, 1)
	go func() {
		dispatchDone <- a.dispatch.Run(ctx)
		stop()
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	runErr := <-dispatchDone
	a.Close(shutdownCtx)
	return runErr
}

// Close releases the publisher, the tracer and the shared stores.
func (a *App) Close(ctx context.Context) {
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("pubsub close failed", zap.Error(err))
		}
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	a.logger.Info("shutdown complete")
	a.base.Close()
}
