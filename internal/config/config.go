// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/JakeFAU/socialscope/internal/jobs"
	"github.com/JakeFAU/socialscope/internal/processor"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig                  `mapstructure:"server"`
	Auth       AuthConfig                    `mapstructure:"auth"`
	Logging    LoggingConfig                 `mapstructure:"logging"`
	Telemetry  TelemetryConfig               `mapstructure:"telemetry"`
	DB         DBConfig                      `mapstructure:"db"`
	Storage    StorageConfig                 `mapstructure:"storage"`
	Queue      QueueConfig                   `mapstructure:"queue"`
	Workers    WorkersConfig                 `mapstructure:"workers"`
	Search     SearchConfig                  `mapstructure:"search"`
	Scraper    ScraperConfig                 `mapstructure:"scraper"`
	PubSub     PubSubConfig                  `mapstructure:"pubsub"`
	Processors map[string]processor.Override `mapstructure:"processors"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port" validate:"gt=0,lt=65536"`
	TimeoutSeconds int `mapstructure:"timeout_seconds" validate:"gt=0"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key" validate:"required_if=Enabled true"`
	// AdminKey grants the privilege to run keyword-free queries.
	AdminKey string `mapstructure:"admin_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name" validate:"required_if=Enabled true"`
	SampleRatio float64 `mapstructure:"sample_ratio" validate:"gte=0,lte=1"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns" validate:"gte=0"`
	MinConns int32  `mapstructure:"min_conns" validate:"gte=0,ltefield=MaxConns"`
	// MaxConnLifetime recycles pooled connections; zero keeps the pgx default.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime" validate:"gte=0"`
}

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// StorageConfig selects the backing stores and the result file root.
type StorageConfig struct {
	Driver          string `mapstructure:"driver" validate:"oneof=postgres memory"`
	DataDir         string `mapstructure:"data_dir" validate:"required"`
	MaxPathAttempts int    `mapstructure:"max_path_attempts" validate:"gte=0"`
	SlugLength      int    `mapstructure:"slug_length" validate:"gte=0"`
}

// QueueConfig tunes leases, retries and the supervisory sweep.
type QueueConfig struct {
	LeaseSeconds    int    `mapstructure:"lease_seconds" validate:"gt=0"`
	MaxAttempts     int    `mapstructure:"max_attempts" validate:"gt=0"`
	BackoffSeconds  int    `mapstructure:"backoff_seconds" validate:"gte=0"`
	SweepSchedule   string `mapstructure:"sweep_schedule" validate:"required"`
	PurgeAfterHours int    `mapstructure:"purge_after_hours" validate:"gte=0"`
}

// WorkersConfig caps concurrency per job type.
type WorkersConfig struct {
	PollIntervalMs int            `mapstructure:"poll_interval_ms" validate:"gt=0"`
	MaxWorkers     map[string]int `mapstructure:"max_workers" validate:"dive,gt=0"`
	// Default is used for job types without an entry in MaxWorkers.
	Default int `mapstructure:"default" validate:"gt=0"`
}

// SearchConfig points at the full-text index and bounds hydration.
type SearchConfig struct {
	Datasource     string `mapstructure:"datasource" validate:"required"`
	IndexURL       string `mapstructure:"index_url" validate:"omitempty,url"`
	IndexName      string `mapstructure:"index_name" validate:"required_with=IndexURL"`
	PostsTable     string `mapstructure:"posts_table"`
	GroupsTable    string `mapstructure:"groups_table"`
	MaxResults     int    `mapstructure:"max_results" validate:"gte=0"`
	BatchSize      int    `mapstructure:"batch_size" validate:"gte=0"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" validate:"gt=0"`
}

// ScraperConfig drives the board and thread scrapers.
type ScraperConfig struct {
	Enabled              bool     `mapstructure:"enabled"`
	BaseURL              string   `mapstructure:"base_url" validate:"omitempty,url"`
	Boards               []string `mapstructure:"boards" validate:"dive,required"`
	BoardIntervalSeconds int      `mapstructure:"board_interval_seconds" validate:"gt=0"`
	UserAgent            string   `mapstructure:"user_agent"`
	RespectRobots        bool     `mapstructure:"respect_robots"`
	TimeoutSeconds       int      `mapstructure:"timeout_seconds" validate:"gt=0"`
	// RequestsPerSecond caps requests per host; zero is unlimited.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"gte=0"`
	Burst             int     `mapstructure:"burst" validate:"gte=0"`
}

// PubSubConfig holds metadata for finished-dataset notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name" validate:"required_with=ProjectID"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SOCIALSCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("telemetry.service_name", "socialscope")
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime", "30m")
	v.SetDefault("storage.driver", DriverMemory)
	v.SetDefault("storage.data_dir", "data")
	v.SetDefault("queue.lease_seconds", 1800)
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.backoff_seconds", 30)
	v.SetDefault("queue.sweep_schedule", "@every 1m")
	v.SetDefault("queue.purge_after_hours", 24*7)
	v.SetDefault("workers.poll_interval_ms", 1000)
	v.SetDefault("workers.default", 1)
	v.SetDefault("search.datasource", "usenet")
	v.SetDefault("search.max_results", 1_000_000)
	v.SetDefault("search.batch_size", 1000)
	v.SetDefault("search.timeout_seconds", 30)
	v.SetDefault("scraper.board_interval_seconds", 600)
	v.SetDefault("scraper.user_agent", "socialscope/0.1")
	v.SetDefault("scraper.respect_robots", true)
	v.SetDefault("scraper.timeout_seconds", 15)
	v.SetDefault("scraper.requests_per_second", 1.0)
	v.SetDefault("scraper.burst", 1)
}

var validate = newValidator()

// newValidator reports fields by their config key rather than the Go field name.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("mapstructure"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				key := strings.TrimPrefix(fe.Namespace(), "Config.")
				msgs = append(msgs, fmt.Sprintf("%s failed %s", key, fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Storage.Driver == DriverPostgres && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set when storage.driver is postgres")
	}
	if c.Scraper.Enabled && c.Scraper.BaseURL == "" {
		return fmt.Errorf("scraper.base_url must be set when the scraper is enabled")
	}
	return nil
}

// SearchType is the job and dataset type of the configured datasource.
func (c Config) SearchType() string {
	return c.Search.Datasource + "-search"
}

// WorkersFor returns the concurrency cap for jobType.
func (c Config) WorkersFor(jobType string) int {
	if n, ok := c.Workers.MaxWorkers[jobType]; ok && n > 0 {
		return n
	}
	return c.Workers.Default
}

// Lease converts the lease to a duration.
func (c Config) Lease() time.Duration {
	return time.Duration(c.Queue.LeaseSeconds) * time.Second
}

// PollInterval converts the worker poll interval to a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Workers.PollIntervalMs) * time.Millisecond
}

// RetryPolicy is the queue's retry budget for failed jobs.
func (c Config) RetryPolicy() jobs.RetryPolicy {
	return jobs.RetryPolicy{
		MaxAttempts: c.Queue.MaxAttempts,
		Backoff:     time.Duration(c.Queue.BackoffSeconds) * time.Second,
	}
}

// PurgeAfter is how long terminal jobs are kept. Zero keeps them forever.
func (c Config) PurgeAfter() time.Duration {
	return time.Duration(c.Queue.PurgeAfterHours) * time.Hour
}
