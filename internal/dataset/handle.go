package dataset

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/socialscope/internal/jobs"
)

// Dataset is a handle over one dataset record. Handles are owned by one caller
// at a time; the mutex only guards the cached record and genealogy.
type Dataset struct {
	mgr *Manager

	mu        sync.Mutex
	rec       Record
	genealogy []*Dataset
}

// Key returns the dataset key.
func (d *Dataset) Key() string { return d.record().Key }

// Label returns the human-readable query description.
func (d *Dataset) Label() string { return d.record().Label }

// Type returns the producer or processor tag.
func (d *Dataset) Type() string { return d.record().Type }

// Status returns the last progress message.
func (d *Dataset) Status() string { return d.record().Status }

// ResultFile returns the reserved file name relative to the data root.
func (d *Dataset) ResultFile() string { return d.record().ResultFile }

// IsFinished reports whether the finish transition happened.
func (d *Dataset) IsFinished() bool { return d.record().IsFinished }

// NumRows returns the row count set at finish.
func (d *Dataset) NumRows() int64 { return d.record().NumRows }

// KeyParent returns the parent key or "".
func (d *Dataset) KeyParent() string { return d.record().KeyParent }

// SoftwareVersion returns the version that produced the dataset.
func (d *Dataset) SoftwareVersion() string { return d.record().SoftwareVersion }

// Timestamp returns the creation time.
func (d *Dataset) Timestamp() time.Time { return d.record().Timestamp }

// JobID returns the linked job id, or 0.
func (d *Dataset) JobID() int64 { return d.record().JobID }

// Parameters returns a copy of the creation parameters.
func (d *Dataset) Parameters() Parameters { return d.record().Parameters.Clone() }

// Record returns a copy of the underlying record.
func (d *Dataset) Record() Record {
	rec := d.record()
	rec.Parameters = rec.Parameters.Clone()
	return rec
}

func (d *Dataset) record() Record {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rec
}

func (d *Dataset) update(fn func(*Record)) {
	d.mu.Lock()
	fn(&d.rec)
	d.mu.Unlock()
}

// Refresh reloads the record from the store.
func (d *Dataset) Refresh(ctx context.Context) error {
	rec, err := d.mgr.store.Get(ctx, d.Key())
	if err != nil {
		return fmt.Errorf("refresh dataset %s: %w", d.Key(), err)
	}
	rec.Parameters = rec.Parameters.Clone()
	d.update(func(r *Record) { *r = rec })
	return nil
}

// ResultPath returns the absolute result path, or "" before reservation.
func (d *Dataset) ResultPath() string {
	name := d.ResultFile()
	if name == "" {
		return ""
	}
	return filepath.Join(d.mgr.cfg.DataDir, name)
}

// TemporaryPath returns a not-yet-existing staging directory next to the results.
func (d *Dataset) TemporaryPath() (string, error) {
	base := filepath.Join(d.mgr.cfg.DataDir, "staging-"+d.Key())
	candidate := base
	for i := 1; i <= d.mgr.cfg.MaxPathAttempts; i++ {
		if _, err := os.Stat(candidate); errors.Is(err, os.ErrNotExist) {
			return candidate, nil
		} else if err != nil {
			return "", fmt.Errorf("stat %s: %w", candidate, err)
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
	return "", ErrResultPathConflict
}

// UpdateStatus records a progress message. Last write wins.
func (d *Dataset) UpdateStatus(ctx context.Context, status string) error {
	if err := d.mgr.store.UpdateStatus(ctx, d.Key(), status); err != nil {
		return fmt.Errorf("update status of %s: %w", d.Key(), err)
	}
	d.update(func(r *Record) { r.Status = status })
	return nil
}

// UpdateVersion stamps the software version.
func (d *Dataset) UpdateVersion(ctx context.Context, version string) error {
	if err := d.mgr.store.UpdateVersion(ctx, d.Key(), version); err != nil {
		return fmt.Errorf("update version of %s: %w", d.Key(), err)
	}
	d.update(func(r *Record) { r.SoftwareVersion = version })
	return nil
}

// Finish marks the dataset finished with numRows. It fails on a finished dataset.
func (d *Dataset) Finish(ctx context.Context, numRows int64) error {
	if numRows < 0 {
		return fmt.Errorf("finish %s: negative row count %d", d.Key(), numRows)
	}
	if err := d.mgr.store.Finish(ctx, d.Key(), numRows); err != nil {
		return fmt.Errorf("finish %s: %w", d.Key(), err)
	}
	d.update(func(r *Record) {
		r.IsFinished = true
		r.NumRows = numRows
	})
	if v := d.mgr.cfg.SoftwareVersion; v != "" {
		if err := d.UpdateVersion(ctx, v); err != nil {
			d.mgr.logger.Warn("stamp software version", zap.String("dataset", d.Key()), zap.Error(err))
		}
	}
	d.mgr.logger.Info("dataset finished", zap.String("dataset", d.Key()), zap.Int64("rows", numRows))
	return nil
}

// CheckCompletion reports NotReady, Empty or Ready; the path is set only for Ready.
func (d *Dataset) CheckCompletion() (Completion, string) {
	rec := d.record()
	switch {
	case !rec.IsFinished:
		return NotReady, ""
	case rec.NumRows == 0:
		return Empty, ""
	default:
		return Ready, d.ResultPath()
	}
}

// FinishedEvent describes the dataset for subscribers.
func (d *Dataset) FinishedEvent() FinishedEvent {
	rec := d.record()
	return FinishedEvent{
		Key:        rec.Key,
		Type:       rec.Type,
		Label:      rec.Label,
		NumRows:    rec.NumRows,
		ResultFile: rec.ResultFile,
		KeyParent:  rec.KeyParent,
		FinishedAt: d.mgr.clock.Now(),
	}
}

// Children loads datasets whose parent is d, oldest first.
func (d *Dataset) Children(ctx context.Context) ([]*Dataset, error) {
	recs, err := d.mgr.store.Children(ctx, d.Key())
	if err != nil {
		return nil, fmt.Errorf("children of %s: %w", d.Key(), err)
	}
	out := make([]*Dataset, 0, len(recs))
	for _, rec := range recs {
		out = append(out, d.mgr.FromRecord(rec))
	}
	return out, nil
}

// Delete removes all descendants depth-first, then the record, then the result file.
// A result file that is already gone counts as deleted.
func (d *Dataset) Delete(ctx context.Context) error {
	return d.delete(ctx, map[string]struct{}{})
}

func (d *Dataset) delete(ctx context.Context, seen map[string]struct{}) error {
	key := d.Key()
	if _, ok := seen[key]; ok {
		return fmt.Errorf("delete %s: %w", key, ErrGenealogyCycle)
	}
	seen[key] = struct{}{}
	children, err := d.Children(ctx)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := child.delete(ctx, seen); err != nil {
			return err
		}
	}
	if err := d.mgr.store.Delete(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete dataset %s: %w", key, err)
	}
	if path := d.ResultPath(); path != "" {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove result file %s: %w", path, err)
		}
	}
	d.mgr.logger.Info("dataset deleted", zap.String("dataset", key))
	return nil
}

// LinkJob associates the dataset with job. With a nil job it looks up the job whose
// remote id is the dataset key. A missing job is not an error: the result says Linked=false.
func (d *Dataset) LinkJob(ctx context.Context, job *jobs.Job) (LinkResult, error) {
	if job == nil {
		if d.mgr.jobs == nil {
			return LinkResult{}, nil
		}
		found, err := d.mgr.jobs.GetByRemoteID(ctx, d.Type(), d.Key())
		if errors.Is(err, jobs.ErrJobNotFound) {
			d.mgr.logger.Warn("no job to link", zap.String("dataset", d.Key()), zap.String("type", d.Type()))
			return LinkResult{}, nil
		}
		if err != nil {
			return LinkResult{}, fmt.Errorf("find job for %s: %w", d.Key(), err)
		}
		job = &found
	}
	if err := d.mgr.store.LinkJob(ctx, d.Key(), job.ID); err != nil {
		return LinkResult{}, fmt.Errorf("link %s to job %d: %w", d.Key(), job.ID, err)
	}
	d.update(func(r *Record) { r.JobID = job.ID })
	return LinkResult{Linked: true, JobID: job.ID}, nil
}
