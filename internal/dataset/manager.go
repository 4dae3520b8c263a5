package dataset

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/socialscope/internal/clock/system"
	"github.com/JakeFAU/socialscope/internal/jobs"
)

// Config controls where result files live and how reservation behaves.
type Config struct {
	DataDir string
	// MaxPathAttempts bounds the numeric suffixes probed per reservation.
	MaxPathAttempts int
	// SlugLength bounds the label part of result file names.
	SlugLength int
	// SoftwareVersion is stamped on datasets when they finish.
	SoftwareVersion string
}

const (
	defaultMaxPathAttempts = 100
	defaultSlugLength      = 100
	defaultExtension       = ".csv"
)

// Manager creates and loads datasets.
type Manager struct {
	store  Store
	jobs   JobLookup
	hasher Hasher
	random RandomSource
	clock  jobs.Clock
	cfg    Config
	logger *zap.Logger
}

// NewManager wires a Manager. jobLookup may be nil, in which case LinkJob needs an explicit job.
func NewManager(
	store Store,
	jobLookup JobLookup,
	hasher Hasher,
	random RandomSource,
	clock jobs.Clock,
	cfg Config,
	logger *zap.Logger,
) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = system.New()
	}
	if cfg.MaxPathAttempts <= 0 {
		cfg.MaxPathAttempts = defaultMaxPathAttempts
	}
	if cfg.SlugLength <= 0 {
		cfg.SlugLength = defaultSlugLength
	}
	return &Manager{
		store:  store,
		jobs:   jobLookup,
		hasher: hasher,
		random: random,
		clock:  clock,
		cfg:    cfg,
		logger: logger.Named("dataset"),
	}
}

// DataDir returns the configured result root.
func (m *Manager) DataDir() string {
	return m.cfg.DataDir
}

// DeriveKey computes the dataset key for (params, label, parentKey).
// Random-sample parameters ignore the inputs and hash fresh entropy instead.
func (m *Manager) DeriveKey(params Parameters, label, parentKey string) (string, error) {
	if params.IsRandomSample() {
		entropy, err := m.random.NewRandom()
		if err != nil {
			return "", fmt.Errorf("random key: %w", err)
		}
		return m.hasher.Hash([]byte(entropy))
	}
	canonical, err := params.Canonical()
	if err != nil {
		return "", err
	}
	key, err := m.hasher.Hash(canonical, []byte(label), []byte(parentKey))
	if err != nil {
		return "", fmt.Errorf("hash key: %w", err)
	}
	return key, nil
}

// CreateRequest describes a dataset to load or create.
type CreateRequest struct {
	Parameters Parameters
	// Type is the producer or processor tag.
	Type string
	// Label overrides the label derived from Parameters.
	Label string
	Parent *Dataset
	// Extension of the result file, including the dot. Defaults to ".csv".
	Extension string
}

// GetOrCreate returns the dataset for req, inserting it and reserving its result
// path when it does not exist yet. Identical non-random requests resolve to one row.
func (m *Manager) GetOrCreate(ctx context.Context, req CreateRequest) (*Dataset, error) {
	params := req.Parameters.Clone()
	label := req.Label
	if label == "" {
		label = LabelFor(params, req.Type)
	}
	parentKey := ""
	if req.Parent != nil {
		parentKey = req.Parent.Key()
	}
	key, err := m.DeriveKey(params, label, parentKey)
	if err != nil {
		return nil, err
	}

	existing, err := m.store.Get(ctx, key)
	switch {
	case err == nil:
		return m.FromRecord(existing), nil
	case !errors.Is(err, ErrNotFound):
		return nil, fmt.Errorf("load dataset %s: %w", key, err)
	}

	rec := Record{
		Key:        key,
		Label:      label,
		Parameters: params,
		Type:       req.Type,
		Timestamp:  m.clock.Now(),
		KeyParent:  parentKey,
	}
	created, err := m.store.Insert(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("insert dataset %s: %w", key, err)
	}
	if !created {
		// Lost the insert race; the winner owns reservation.
		winner, err := m.store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("load dataset %s: %w", key, err)
		}
		return m.FromRecord(winner), nil
	}
	ds := m.FromRecord(rec)
	ext := req.Extension
	if ext == "" {
		ext = defaultExtension
	}
	if _, err := ds.ReserveResultPath(ctx, ext); err != nil {
		return nil, err
	}
	m.logger.Info("dataset created",
		zap.String("dataset", key),
		zap.String("type", req.Type),
		zap.String("parent", parentKey),
	)
	return ds, nil
}

// Get loads a dataset by key.
func (m *Manager) Get(ctx context.Context, key string) (*Dataset, error) {
	rec, err := m.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get dataset %s: %w", key, err)
	}
	return m.FromRecord(rec), nil
}

// GetByJob loads the dataset linked to jobID.
func (m *Manager) GetByJob(ctx context.Context, jobID int64) (*Dataset, error) {
	rec, err := m.store.GetByJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("get dataset for job %d: %w", jobID, err)
	}
	return m.FromRecord(rec), nil
}

// FromRecord wraps an already loaded record. The handle owns a private copy.
func (m *Manager) FromRecord(rec Record) *Dataset {
	rec.Parameters = rec.Parameters.Clone()
	return &Dataset{mgr: m, rec: rec}
}
