package dataset

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// RequiredImportColumns must be present in uploaded CSV files.
var RequiredImportColumns = []string{"id", "thread_id", "subject", "author", "body"}

// ImportCSV streams an uploaded CSV into the dataset's result file and finishes
// it with the number of data rows. The header must contain RequiredImportColumns.
func (d *Dataset) ImportCSV(ctx context.Context, r io.Reader) (int64, error) {
	if err := d.ensureUnfinished(ctx, "import"); err != nil {
		return 0, err
	}
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 0
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("%w: empty upload", ErrInvalidRows)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: read header: %v", ErrInvalidRows, err)
	}
	if missing := missingColumns(header); len(missing) > 0 {
		return 0, fmt.Errorf("%w: missing columns %s", ErrInvalidRows, strings.Join(missing, ", "))
	}

	path, err := d.resultPathOrReserve(ctx)
	if err != nil {
		return 0, err
	}
	var n int64
	staged, err := stageFile(path, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(header); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
		for {
			record, err := cr.Read()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return fmt.Errorf("%w: line %d: %v", ErrInvalidRows, n+2, err)
			}
			if err := cw.Write(record); err != nil {
				return fmt.Errorf("write row: %w", err)
			}
			n++
		}
		cw.Flush()
		return cw.Error()
	})
	if err != nil {
		return 0, fmt.Errorf("import into %s: %w", d.Key(), err)
	}
	if err := d.commitResult(ctx, staged, path, n); err != nil {
		return 0, err
	}
	return n, nil
}

func missingColumns(header []string) []string {
	present := make(map[string]struct{}, len(header))
	for _, col := range header {
		present[strings.TrimSpace(strings.ToLower(col))] = struct{}{}
	}
	var missing []string
	for _, col := range RequiredImportColumns {
		if _, ok := present[col]; !ok {
			missing = append(missing, col)
		}
	}
	return missing
}
