// Package dataset owns dataset identity, result-file reservation, the one-way finish
// transition, cascading deletion and the genealogy of chained datasets.
package dataset

import (
	"context"
	"errors"
	"time"

	"github.com/JakeFAU/socialscope/internal/jobs"
)

var (
	// ErrNotFound is returned when a lookup by key or job matches nothing.
	ErrNotFound = errors.New("dataset: not found")
	// ErrAlreadyFinished rejects finishing or reserving on a finished dataset.
	ErrAlreadyFinished = errors.New("dataset: already finished")
	// ErrResultPathConflict is returned when no free result path was found
	// within the attempt budget.
	ErrResultPathConflict = errors.New("dataset: result path conflict")
	// ErrInvalidRows rejects empty or non-uniform row sets.
	ErrInvalidRows = errors.New("dataset: invalid rows")
	// ErrGenealogyCycle reports a key_parent loop.
	ErrGenealogyCycle = errors.New("dataset: genealogy cycle")
)

// Record is the persisted dataset row.
type Record struct {
	Key             string     `json:"key"`
	Label           string     `json:"query"`
	Parameters      Parameters `json:"parameters"`
	ResultFile      string     `json:"result_file"`
	Status          string     `json:"status"`
	Type            string     `json:"type"`
	Timestamp       time.Time  `json:"timestamp"`
	IsFinished      bool       `json:"is_finished"`
	NumRows         int64      `json:"num_rows"`
	KeyParent       string     `json:"key_parent,omitempty"`
	SoftwareVersion string     `json:"software_version,omitempty"`
	JobID           int64      `json:"job,omitempty"`
}

// Store persists dataset records.
type Store interface {
	// Insert adds rec unless its key exists; created reports which happened.
	Insert(ctx context.Context, rec Record) (created bool, err error)
	Get(ctx context.Context, key string) (Record, error)
	GetByJob(ctx context.Context, jobID int64) (Record, error)
	// Children lists datasets whose key_parent is key, oldest first.
	Children(ctx context.Context, key string) ([]Record, error)
	UpdateStatus(ctx context.Context, key, status string) error
	UpdateVersion(ctx context.Context, key, version string) error
	// ClaimResultFile writes name to the dataset if no other dataset holds it.
	// ok is false when the name is taken. Finished datasets yield ErrAlreadyFinished.
	ClaimResultFile(ctx context.Context, key, name string) (ok bool, err error)
	// Finish flips is_finished and sets num_rows in one statement.
	// A second call yields ErrAlreadyFinished and changes nothing.
	Finish(ctx context.Context, key string, numRows int64) error
	LinkJob(ctx context.Context, key string, jobID int64) error
	Delete(ctx context.Context, key string) error
}

// JobLookup finds the job producing a dataset.
type JobLookup interface {
	GetByRemoteID(ctx context.Context, jobType, remoteID string) (jobs.Job, error)
}

// Hasher digests key material.
type Hasher interface {
	Hash(parts ...[]byte) (string, error)
}

// RandomSource supplies entropy for random-sample keys.
type RandomSource interface {
	NewRandom() (string, error)
}

// Completion is the three-way answer of CheckCompletion.
type Completion int

const (
	// NotReady means the dataset has not finished.
	NotReady Completion = iota
	// Empty means the dataset finished with zero rows.
	Empty
	// Ready means the dataset finished with rows in its result file.
	Ready
)

func (c Completion) String() string {
	switch c {
	case Empty:
		return "empty"
	case Ready:
		return "ready"
	default:
		return "not_ready"
	}
}

// LinkResult tells the caller whether LinkJob found a job.
type LinkResult struct {
	Linked bool
	JobID  int64
}

// FinishedEvent is published once a dataset finishes.
type FinishedEvent struct {
	Key        string    `json:"key"`
	Type       string    `json:"type"`
	Label      string    `json:"query"`
	NumRows    int64     `json:"num_rows"`
	ResultFile string    `json:"result_file,omitempty"`
	KeyParent  string    `json:"key_parent,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}
