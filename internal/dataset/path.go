package dataset

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

var (
	slugUnsafe = regexp.MustCompile(`[^a-z0-9-]`)
	dashRuns   = regexp.MustCompile(`-+`)
)

// LabelFor derives the human-readable label of a dataset from its parameters.
// Full-text terms win, then country filters, then an uploaded file name, then
// the board, and finally the dataset type.
func LabelFor(params Parameters, datasetType string) string {
	for _, field := range []string{"body_query", "body_match", "subject_query", "subject_match"} {
		if v := params.String(field); v != "" && v != "empty" {
			return v
		}
	}
	if flag := params.String("country_flag"); flag != "" && flag != "all" {
		return "Flag: " + flag
	}
	if code := params.String("country_code"); code != "" && code != "all" {
		return "Country: " + code
	}
	if name := params.String("filename"); name != "" {
		return name
	}
	if board := params.String("board"); board != "" && params.Has("datasource") {
		return params.String("datasource") + "/" + board
	}
	if datasetType != "" {
		return datasetType
	}
	return "dataset"
}

// Slug turns a label into a lowercase [a-z0-9-] token of at most maxLen bytes.
func Slug(label string, maxLen int) string {
	s := strings.ToLower(strings.ReplaceAll(label, " ", "-"))
	s = slugUnsafe.ReplaceAllString(s, "")
	s = dashRuns.ReplaceAllString(s, "-")
	if maxLen > 0 && len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}

// fileStem is the result file name without suffix or extension.
func (d *Dataset) fileStem() string {
	rec := d.record()
	var bit string
	switch {
	case rec.Parameters.RandomAmount() > 0:
		bit = fmt.Sprintf("random-%d", rec.Parameters.RandomAmount())
	case rec.Parameters.String("country_flag") != "" && rec.Parameters.String("country_flag") != "all":
		bit = "countryflag-" + Slug(rec.Parameters.String("country_flag"), d.mgr.cfg.SlugLength)
	default:
		bit = Slug(rec.Label, d.mgr.cfg.SlugLength)
	}
	stem := dashRuns.ReplaceAllString(bit+"-"+rec.Key, "-")
	return strings.TrimPrefix(stem, "-")
}

// ReserveResultPath picks a free result file name and commits it to the record.
// Candidates are probed on disk first; the store then refuses names another
// dataset already holds, so the commit is atomic even when the probe races.
func (d *Dataset) ReserveResultPath(ctx context.Context, extension string) (string, error) {
	if d.IsFinished() {
		return "", fmt.Errorf("reserve result path for %s: %w", d.Key(), ErrAlreadyFinished)
	}
	if extension == "" {
		extension = defaultExtension
	}
	if !strings.HasPrefix(extension, ".") {
		extension = "." + extension
	}
	stem := d.fileStem()
	for i := 0; i < d.mgr.cfg.MaxPathAttempts; i++ {
		name := stem + extension
		if i > 0 {
			name = fmt.Sprintf("%s-%d%s", stem, i, extension)
		}
		path := filepath.Join(d.mgr.cfg.DataDir, name)
		if _, err := os.Stat(path); err == nil {
			continue
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("probe %s: %w", path, err)
		}
		ok, err := d.mgr.store.ClaimResultFile(ctx, d.Key(), name)
		if err != nil {
			return "", fmt.Errorf("claim result file %s: %w", name, err)
		}
		if !ok {
			d.mgr.logger.Debug("result file taken", zap.String("dataset", d.Key()), zap.String("file", name))
			continue
		}
		d.update(func(r *Record) { r.ResultFile = name })
		return path, nil
	}
	return "", fmt.Errorf("reserve result path for %s after %d attempts: %w",
		d.Key(), d.mgr.cfg.MaxPathAttempts, ErrResultPathConflict)
}
