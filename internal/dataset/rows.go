package dataset

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"go.uber.org/zap"
)

// Row is one result record. Key order is the column order.
type Row = *orderedmap.OrderedMap[string, any]

// NewRow builds a row from alternating key/value pairs.
func NewRow(pairs ...any) Row {
	row := orderedmap.New[string, any](len(pairs) / 2)
	for i := 0; i+1 < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			key = fmt.Sprint(pairs[i])
		}
		row.Set(key, pairs[i+1])
	}
	return row
}

// Columns returns the keys of row in order.
func Columns(row Row) []string {
	cols := make([]string, 0, row.Len())
	for pair := row.Oldest(); pair != nil; pair = pair.Next() {
		cols = append(cols, pair.Key)
	}
	return cols
}

// validateRows checks rows is non-empty and every row carries exactly the first row's keys.
func validateRows(rows []Row) ([]string, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no rows", ErrInvalidRows)
	}
	if rows[0] == nil {
		return nil, fmt.Errorf("%w: row 0 is nil", ErrInvalidRows)
	}
	cols := Columns(rows[0])
	if len(cols) == 0 {
		return nil, fmt.Errorf("%w: row 0 has no fields", ErrInvalidRows)
	}
	for i, row := range rows[1:] {
		if row == nil || row.Len() != len(cols) {
			return nil, fmt.Errorf("%w: row %d does not match the columns of row 0", ErrInvalidRows, i+1)
		}
		for _, col := range cols {
			if _, ok := row.Get(col); !ok {
				return nil, fmt.Errorf("%w: row %d lacks field %q", ErrInvalidRows, i+1, col)
			}
		}
	}
	return cols, nil
}

func isNDJSON(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ndjson", ".jsonl":
		return true
	default:
		return false
	}
}

// WriteRowsAndFinish writes rows to the reserved result path and finishes the dataset.
// Column order comes from the first row. Rows are staged beside the result path and
// moved into place only once the finish is committed, so a rejected finish never
// touches a file another writer already published.
func (d *Dataset) WriteRowsAndFinish(ctx context.Context, rows []Row) (int64, error) {
	if err := d.ensureUnfinished(ctx, "write rows"); err != nil {
		return 0, err
	}
	cols, err := validateRows(rows)
	if err != nil {
		return 0, err
	}
	path, err := d.resultPathOrReserve(ctx)
	if err != nil {
		return 0, err
	}
	if err := d.UpdateStatus(ctx, "Writing results file"); err != nil {
		return 0, err
	}
	staged, err := stageFile(path, func(w io.Writer) error {
		if isNDJSON(path) {
			return encodeNDJSON(w, cols, rows)
		}
		return encodeCSV(w, cols, rows)
	})
	if err != nil {
		return 0, fmt.Errorf("write result file %s: %w", path, err)
	}
	if err := d.UpdateStatus(ctx, "Finished"); err != nil {
		d.discardStaged(staged)
		return 0, err
	}
	n := int64(len(rows))
	if err := d.commitResult(ctx, staged, path, n); err != nil {
		return 0, err
	}
	return n, nil
}

// ensureUnfinished reloads the record so a handle that raced another writer sees its finish.
func (d *Dataset) ensureUnfinished(ctx context.Context, op string) error {
	if err := d.Refresh(ctx); err != nil {
		return err
	}
	if d.IsFinished() {
		return fmt.Errorf("%s for %s: %w", op, d.Key(), ErrAlreadyFinished)
	}
	return nil
}

func (d *Dataset) resultPathOrReserve(ctx context.Context) (string, error) {
	if path := d.ResultPath(); path != "" {
		return path, nil
	}
	return d.ReserveResultPath(ctx, defaultExtension)
}

// commitResult finishes the dataset and then moves the staged file to path.
// When the finish is rejected only the staged file is removed.
func (d *Dataset) commitResult(ctx context.Context, staged, path string, numRows int64) error {
	if err := d.Finish(ctx, numRows); err != nil {
		d.discardStaged(staged)
		return err
	}
	if err := os.Rename(staged, path); err != nil {
		d.discardStaged(staged)
		d.mgr.logger.Error("result file not published",
			zap.String("dataset", d.Key()), zap.String("path", path), zap.Error(err))
		return fmt.Errorf("move result file into place: %w", err)
	}
	return nil
}

func (d *Dataset) discardStaged(staged string) {
	if err := os.Remove(staged); err != nil && !errors.Is(err, os.ErrNotExist) {
		d.mgr.logger.Warn("remove staged result file", zap.String("path", staged), zap.Error(err))
	}
}

// stageFile writes output to a temp file in path's directory and returns its name.
// The temp file is removed when write fails.
func stageFile(path string, write func(io.Writer) error) (string, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".partial-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	fail := func(err error) (string, error) {
		tmp.Close()        //nolint:errcheck,gosec // already failing
		os.Remove(tmpName) //nolint:errcheck,gosec // already failing
		return "", err
	}
	buf := bufio.NewWriter(tmp)
	if err := write(buf); err != nil {
		return fail(err)
	}
	if err := buf.Flush(); err != nil {
		return fail(fmt.Errorf("flush: %w", err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName) //nolint:errcheck,gosec // already failing
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return tmpName, nil
}

func encodeCSV(w io.Writer, cols []string, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(cols); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	record := make([]string, len(cols))
	for _, row := range rows {
		for i, col := range cols {
			v, _ := row.Get(col)
			record[i] = formatValue(v)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func encodeNDJSON(w io.Writer, cols []string, rows []Row) error {
	enc := json.NewEncoder(w)
	for _, row := range rows {
		// Re-key in the first row's order so every line has the same layout.
		ordered := orderedmap.New[string, any](len(cols))
		for _, col := range cols {
			v, _ := row.Get(col)
			ordered.Set(col, v)
		}
		if err := enc.Encode(ordered); err != nil {
			return fmt.Errorf("encode row: %w", err)
		}
	}
	return nil
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// ReadRows loads the result file of a finished dataset. CSV values come back as strings.
func (d *Dataset) ReadRows() ([]Row, error) {
	state, path := d.CheckCompletion()
	switch state {
	case NotReady:
		return nil, fmt.Errorf("read rows of %s: not finished", d.Key())
	case Empty:
		return nil, nil
	}
	f, err := os.Open(path) //nolint:gosec // path is built from the data root
	if err != nil {
		return nil, fmt.Errorf("open result file: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only
	if isNDJSON(path) {
		return decodeNDJSON(f)
	}
	return decodeCSV(f)
}

func decodeCSV(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	var rows []Row
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(rows)+1, err)
		}
		row := orderedmap.New[string, any](len(header))
		for i, col := range header {
			row.Set(col, record[i])
		}
		rows = append(rows, row)
	}
}

func decodeNDJSON(r io.Reader) ([]Row, error) {
	dec := json.NewDecoder(r)
	var rows []Row
	for {
		row := orderedmap.New[string, any]()
		if err := dec.Decode(row); errors.Is(err, io.EOF) {
			return rows, nil
		} else if err != nil {
			return nil, fmt.Errorf("decode row %d: %w", len(rows)+1, err)
		}
		rows = append(rows, row)
	}
}
