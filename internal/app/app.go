// Package app initializes and holds the long-lived stores shared by the
// server and the CLI commands.
package app

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/socialscope/internal/clock/system"
	"github.com/JakeFAU/socialscope/internal/config"
	"github.com/JakeFAU/socialscope/internal/corpus"
	"github.com/JakeFAU/socialscope/internal/dataset"
	"github.com/JakeFAU/socialscope/internal/hash/sha256"
	"github.com/JakeFAU/socialscope/internal/id/uuid"
	"github.com/JakeFAU/socialscope/internal/jobs"
	"github.com/JakeFAU/socialscope/internal/storage/memory"
	"github.com/JakeFAU/socialscope/internal/storage/postgres"
)

// Posts is the corpus table: read by searches, written by the scrapers.
type Posts interface {
	corpus.Reader
	corpus.Writer
}

// App holds the services every command needs. It is built once at startup.
type App struct {
	Config   config.Config
	Logger   *zap.Logger
	Clock    jobs.Clock
	Jobs     jobs.Queue
	Datasets *dataset.Manager
	Posts    Posts

	pool *pgxpool.Pool
}

// New connects the configured storage driver and builds the dataset manager.
// It fails fast when the database cannot be reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger, Clock: system.New()}
	policy := cfg.RetryPolicy()

	var store dataset.Store
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		pool, err := postgres.Connect(ctx, postgres.Config{
			DSN:             cfg.DB.DSN,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: cfg.DB.MaxConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("database init failed: %w", err)
		}
		a.pool = pool
		if err := a.postgresStores(pool, policy, &store); err != nil {
			pool.Close()
			return nil, err
		}
		logger.Info("using postgres storage", zap.Int32("max_conns", cfg.DB.MaxConns))
	default:
		logger.Warn("using in-memory storage; jobs and datasets do not survive a restart")
		a.Jobs = memory.NewJobQueue(a.Clock, policy)
		store = memory.NewDatasetStore()
		a.Posts = memory.NewPostStore()
	}

	a.Datasets = dataset.NewManager(store, a.Jobs, sha256.New(), uuid.New(), a.Clock, dataset.Config{
		DataDir:         cfg.Storage.DataDir,
		MaxPathAttempts: cfg.Storage.MaxPathAttempts,
		SlugLength:      cfg.Storage.SlugLength,
		SoftwareVersion: Version(),
	}, logger.Named("datasets"))
	return a, nil
}

func (a *App) postgresStores(db postgres.DB, policy jobs.RetryPolicy, store *dataset.Store) error {
	queue, err := postgres.NewJobQueue(db, a.Clock, policy)
	if err != nil {
		return fmt.Errorf("job queue init failed: %w", err)
	}
	datasets, err := postgres.NewDatasetStore(db)
	if err != nil {
		return fmt.Errorf("dataset store init failed: %w", err)
	}
	posts, err := postgres.NewPostStore(db, a.tables())
	if err != nil {
		return fmt.Errorf("post store init failed: %w", err)
	}
	a.Jobs, a.Posts, *store = queue, posts, datasets
	return nil
}

func (a *App) tables() postgres.Tables {
	return postgres.Tables{Posts: a.Config.Search.PostsTable, Groups: a.Config.Search.GroupsTable}
}

// Migrate creates the tables the postgres driver needs. The memory driver has nothing to migrate.
func (a *App) Migrate(ctx context.Context) error {
	if a.pool == nil {
		a.Logger.Info("memory storage, nothing to migrate")
		return nil
	}
	if err := postgres.Migrate(ctx, a.pool, a.tables()); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	a.Logger.Info("schema migrated")
	return nil
}

// Close releases the database pool and flushes the logger.
func (a *App) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
	// Sync fails on terminals; nothing useful can be done about it.
	_ = a.Logger.Sync()
}

// Version is the module version stamped on finished datasets.
func Version() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "devel"
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && len(s.Value) >= 12 {
			return s.Value[:12]
		}
	}
	if v := info.Main.Version; v != "" && v != "(devel)" {
		return v
	}
	return "devel"
}
