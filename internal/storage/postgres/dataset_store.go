package postgres

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/socialscope/internal/dataset"
)

const datasetColumns = `key, query, parameters, result_file, status, type, timestamp, is_finished, num_rows, key_parent, software_version, job`

// DatasetStore implements dataset.Store on the datasets table.
type DatasetStore struct {
	db DB
}

// NewDatasetStore constructs a DatasetStore over db.
func NewDatasetStore(db DB) (*DatasetStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &DatasetStore{db: db}, nil
}

// Insert adds rec unless its key already exists.
func (s *DatasetStore) Insert(ctx context.Context, rec dataset.Record) (bool, error) {
	params, err := json.Marshal(rec.Parameters)
	if err != nil {
		return false, fmt.Errorf("marshal parameters: %w", err)
	}
	tag, err := s.db.Exec(ctx, `
		INSERT INTO datasets (key, query, parameters, result_file, status, type, timestamp,
			is_finished, num_rows, key_parent, software_version, job)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (key) DO NOTHING`,
		rec.Key,
		rec.Label,
		params,
		rec.ResultFile,
		rec.Status,
		rec.Type,
		rec.Timestamp,
		rec.IsFinished,
		rec.NumRows,
		nullString(rec.KeyParent),
		rec.SoftwareVersion,
		nullInt64(rec.JobID),
	)
	if err != nil {
		return false, fmt.Errorf("insert dataset: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Get fetches a dataset by key.
func (s *DatasetStore) Get(ctx context.Context, key string) (dataset.Record, error) {
	return s.one(ctx, `SELECT `+datasetColumns+` FROM datasets WHERE key = $1`, key)
}

// GetByJob fetches the dataset linked to jobID.
func (s *DatasetStore) GetByJob(ctx context.Context, jobID int64) (dataset.Record, error) {
	return s.one(ctx, `SELECT `+datasetColumns+` FROM datasets WHERE job = $1 LIMIT 1`, jobID)
}

func (s *DatasetStore) one(ctx context.Context, query string, arg any) (dataset.Record, error) {
	rec, err := scanDataset(s.db.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return dataset.Record{}, dataset.ErrNotFound
	}
	if err != nil {
		return dataset.Record{}, fmt.Errorf("load dataset: %w", err)
	}
	return rec, nil
}

// Children lists datasets whose parent is key, oldest first.
func (s *DatasetStore) Children(ctx context.Context, key string) ([]dataset.Record, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+datasetColumns+` FROM datasets
		WHERE key_parent = $1
		ORDER BY timestamp, key`, key)
	if err != nil {
		return nil, fmt.Errorf("query children: %w", err)
	}
	defer rows.Close()
	var out []dataset.Record
	for rows.Next() {
		rec, err := scanDataset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan child: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate children: %w", err)
	}
	return out, nil
}

// UpdateStatus overwrites the progress message.
func (s *DatasetStore) UpdateStatus(ctx context.Context, key, status string) error {
	return s.update(ctx, `UPDATE datasets SET status = $2 WHERE key = $1`, key, status)
}

// UpdateVersion overwrites the software version.
func (s *DatasetStore) UpdateVersion(ctx context.Context, key, version string) error {
	return s.update(ctx, `UPDATE datasets SET software_version = $2 WHERE key = $1`, key, version)
}

// LinkJob records the producing job.
func (s *DatasetStore) LinkJob(ctx context.Context, key string, jobID int64) error {
	return s.update(ctx, `UPDATE datasets SET job = $2 WHERE key = $1`, key, jobID)
}

// Delete removes the dataset row.
func (s *DatasetStore) Delete(ctx context.Context, key string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM datasets WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("delete dataset: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return dataset.ErrNotFound
	}
	return nil
}

func (s *DatasetStore) update(ctx context.Context, query, key string, value any) error {
	tag, err := s.db.Exec(ctx, query, key, value)
	if err != nil {
		return fmt.Errorf("update dataset: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return dataset.ErrNotFound
	}
	return nil
}

// ClaimResultFile commits name to the dataset. The partial unique index on
// result_file makes a name held by another dataset fail with a unique violation,
// reported as ok=false.
func (s *DatasetStore) ClaimResultFile(ctx context.Context, key, name string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE datasets SET result_file = $2
		WHERE key = $1 AND is_finished = FALSE`, key, name)
	if isUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim result file: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, s.finishedOrMissing(ctx, key)
	}
	return true, nil
}

// Finish flips is_finished and sets num_rows in one guarded statement.
func (s *DatasetStore) Finish(ctx context.Context, key string, numRows int64) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE datasets SET is_finished = TRUE, num_rows = $2
		WHERE key = $1 AND is_finished = FALSE`, key, numRows)
	if err != nil {
		return fmt.Errorf("finish dataset: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.finishedOrMissing(ctx, key)
	}
	return nil
}

func (s *DatasetStore) finishedOrMissing(ctx context.Context, key string) error {
	var finished bool
	err := s.db.QueryRow(ctx, `SELECT is_finished FROM datasets WHERE key = $1`, key).Scan(&finished)
	if errors.Is(err, pgx.ErrNoRows) {
		return dataset.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load dataset state: %w", err)
	}
	if finished {
		return dataset.ErrAlreadyFinished
	}
	return fmt.Errorf("dataset %s changed concurrently", key)
}

func scanDataset(row pgx.Row) (dataset.Record, error) {
	var (
		rec       dataset.Record
		params    []byte
		keyParent *string
		jobID     *int64
	)
	err := row.Scan(
		&rec.Key,
		&rec.Label,
		&params,
		&rec.ResultFile,
		&rec.Status,
		&rec.Type,
		&rec.Timestamp,
		&rec.IsFinished,
		&rec.NumRows,
		&keyParent,
		&rec.SoftwareVersion,
		&jobID,
	)
	if err != nil {
		return dataset.Record{}, err
	}
	if keyParent != nil {
		rec.KeyParent = *keyParent
	}
	if jobID != nil {
		rec.JobID = *jobID
	}
	rec.Parameters = dataset.Parameters{}
	if len(params) > 0 {
		dec := json.NewDecoder(bytes.NewReader(params))
		dec.UseNumber()
		if err := dec.Decode(&rec.Parameters); err != nil {
			return dataset.Record{}, fmt.Errorf("decode parameters: %w", err)
		}
	}
	return rec, nil
}
