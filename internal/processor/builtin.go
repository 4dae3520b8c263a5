package processor

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/JakeFAU/socialscope/internal/dataset"
	"github.com/JakeFAU/socialscope/internal/jobs"
)

// interruptEvery is how many rows a builtin handles between interruption checks.
const interruptEvery = 500

// Builtins returns the processors shipped with the service.
func Builtins() []Processor {
	return []Processor{
		{
			Descriptor: Descriptor{
				ID:    "author-frequency",
				Title: "Posts per author",
			},
			Run: authorFrequency,
		},
		{
			Descriptor: Descriptor{
				ID:    "keyword-filter",
				Title: "Filter by keyword",
				Options: map[string]Option{
					"keyword": {Help: "Keep rows containing this text", Required: true},
					"column":  {Help: "Column to search", Default: "body"},
				},
			},
			Run: keywordFilter,
		},
		{
			Descriptor: Descriptor{
				ID:      "thread-summary",
				Title:   "Posts per thread",
				Accepts: []string{"keyword-filter"},
			},
			Run: threadSummary,
		},
	}
}

// NewBuiltinRegistry registers Builtins.
func NewBuiltinRegistry() (*Registry, error) {
	return NewRegistry(Builtins()...)
}

func authorFrequency(ctx context.Context, rows []dataset.Row, _ dataset.Parameters) ([]dataset.Row, error) {
	return countBy(ctx, rows, "author", "posts")
}

func threadSummary(ctx context.Context, rows []dataset.Row, _ dataset.Parameters) ([]dataset.Row, error) {
	return countBy(ctx, rows, "thread_id", "posts")
}

// countBy tallies rows per value of column, most frequent first.
func countBy(ctx context.Context, rows []dataset.Row, column, countColumn string) ([]dataset.Row, error) {
	counts := map[string]int64{}
	for i, row := range rows {
		if i%interruptEvery == 0 {
			if err := jobs.CheckInterrupt(ctx); err != nil {
				return nil, fmt.Errorf("interrupted while counting: %w", err)
			}
		}
		v, _ := row.Get(column)
		counts[fmt.Sprint(valueOrEmpty(v))]++
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	out := make([]dataset.Row, 0, len(keys))
	for _, k := range keys {
		out = append(out, dataset.NewRow(column, k, countColumn, counts[k]))
	}
	return out, nil
}

func keywordFilter(ctx context.Context, rows []dataset.Row, opts dataset.Parameters) ([]dataset.Row, error) {
	keyword := strings.ToLower(opts.String("keyword"))
	if keyword == "" {
		return nil, jobs.NoRetry(fmt.Errorf("%w: keyword is empty", ErrInvalidOptions))
	}
	column := opts.String("column")
	if column == "" {
		column = "body"
	}
	var out []dataset.Row
	for i, row := range rows {
		if i%interruptEvery == 0 {
			if err := jobs.CheckInterrupt(ctx); err != nil {
				return nil, fmt.Errorf("interrupted while filtering: %w", err)
			}
		}
		v, ok := row.Get(column)
		if ok && strings.Contains(strings.ToLower(fmt.Sprint(valueOrEmpty(v))), keyword) {
			out = append(out, row)
		}
	}
	return out, nil
}

func valueOrEmpty(v any) any {
	if v == nil {
		return ""
	}
	return v
}
