package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/socialscope/internal/dataset"
)

// DatasetStore implements dataset.Store in memory.
type DatasetStore struct {
	mu       sync.RWMutex
	datasets map[string]dataset.Record
}

// NewDatasetStore constructs an empty DatasetStore.
func NewDatasetStore() *DatasetStore {
	return &DatasetStore{datasets: make(map[string]dataset.Record)}
}

// Insert adds rec unless the key exists.
func (s *DatasetStore) Insert(_ context.Context, rec dataset.Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.datasets[rec.Key]; ok {
		return false, nil
	}
	rec.Parameters = rec.Parameters.Clone()
	s.datasets[rec.Key] = rec
	return true, nil
}

// Get fetches a dataset by key.
func (s *DatasetStore) Get(_ context.Context, key string) (dataset.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.datasets[key]
	if !ok {
		return dataset.Record{}, dataset.ErrNotFound
	}
	return copyRecord(rec), nil
}

// GetByJob fetches the dataset linked to jobID.
func (s *DatasetStore) GetByJob(_ context.Context, jobID int64) (dataset.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.datasets {
		if jobID != 0 && rec.JobID == jobID {
			return copyRecord(rec), nil
		}
	}
	return dataset.Record{}, dataset.ErrNotFound
}

// Children lists datasets whose parent is key, oldest first.
func (s *DatasetStore) Children(_ context.Context, key string) ([]dataset.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []dataset.Record
	for _, rec := range s.datasets {
		if rec.KeyParent == key {
			out = append(out, copyRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

// UpdateStatus overwrites the status message.
func (s *DatasetStore) UpdateStatus(_ context.Context, key, status string) error {
	return s.mutate(key, func(rec *dataset.Record) error {
		rec.Status = status
		return nil
	})
}

// UpdateVersion overwrites the software version.
func (s *DatasetStore) UpdateVersion(_ context.Context, key, version string) error {
	return s.mutate(key, func(rec *dataset.Record) error {
		rec.SoftwareVersion = version
		return nil
	})
}

// ClaimResultFile commits name unless another dataset holds it.
func (s *DatasetStore) ClaimResultFile(_ context.Context, key, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.datasets[key]
	if !ok {
		return false, dataset.ErrNotFound
	}
	if rec.IsFinished {
		return false, dataset.ErrAlreadyFinished
	}
	for other, r := range s.datasets {
		if other != key && r.ResultFile == name {
			return false, nil
		}
	}
	rec.ResultFile = name
	s.datasets[key] = rec
	return true, nil
}

// Finish flips is_finished once.
func (s *DatasetStore) Finish(_ context.Context, key string, numRows int64) error {
	return s.mutate(key, func(rec *dataset.Record) error {
		if rec.IsFinished {
			return dataset.ErrAlreadyFinished
		}
		rec.IsFinished = true
		rec.NumRows = numRows
		return nil
	})
}

// LinkJob records the producing job.
func (s *DatasetStore) LinkJob(_ context.Context, key string, jobID int64) error {
	return s.mutate(key, func(rec *dataset.Record) error {
		rec.JobID = jobID
		return nil
	})
}

// Delete removes the record.
func (s *DatasetStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.datasets[key]; !ok {
		return dataset.ErrNotFound
	}
	delete(s.datasets, key)
	return nil
}

// Len returns the number of stored datasets.
func (s *DatasetStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.datasets)
}

func (s *DatasetStore) mutate(key string, fn func(*dataset.Record) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.datasets[key]
	if !ok {
		return dataset.ErrNotFound
	}
	if err := fn(&rec); err != nil {
		return err
	}
	s.datasets[key] = rec
	return nil
}

func copyRecord(rec dataset.Record) dataset.Record {
	rec.Parameters = rec.Parameters.Clone()
	return rec
}
