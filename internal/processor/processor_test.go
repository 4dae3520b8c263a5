package processor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/socialscope/internal/clock/system"
	"github.com/JakeFAU/socialscope/internal/dataset"
	"github.com/JakeFAU/socialscope/internal/hash/sha256"
	"github.com/JakeFAU/socialscope/internal/id/uuid"
	"github.com/JakeFAU/socialscope/internal/jobs"
	"github.com/JakeFAU/socialscope/internal/processor"
	"github.com/JakeFAU/socialscope/internal/storage/memory"
)

func newManager(t *testing.T) *dataset.Manager {
	t.Helper()
	clk := system.NewFixed(time.Unix(1_700_000_000, 0))
	return dataset.NewManager(memory.NewDatasetStore(), memory.NewJobQueue(clk, jobs.DefaultRetryPolicy),
		sha256.New(), uuid.New(), clk, dataset.Config{DataDir: t.TempDir()}, nil)
}

func noop(context.Context, []dataset.Row, dataset.Parameters) ([]dataset.Row, error) {
	return nil, nil
}

func ids(descs []processor.Descriptor) []string {
	out := make([]string, 0, len(descs))
	for _, d := range descs {
		out = append(out, d.ID)
	}
	return out
}

func testRegistry(t *testing.T) *processor.Registry {
	t.Helper()
	reg, err := processor.NewRegistry(
		processor.Processor{Descriptor: processor.Descriptor{ID: "count"}, Run: noop},
		processor.Processor{Descriptor: processor.Descriptor{
			ID:      "filter",
			Options: map[string]processor.Option{"keyword": {Required: true}},
		}, Run: noop},
		processor.Processor{Descriptor: processor.Descriptor{ID: "usenet-only", Datasources: []string{"usenet"}}, Run: noop},
		processor.Processor{Descriptor: processor.Descriptor{ID: "after-count", Accepts: []string{"count"}}, Run: noop},
	)
	require.NoError(t, err)
	return reg
}

func TestNewRegistryRejectsDuplicates(t *testing.T) {
	t.Parallel()

	_, err := processor.NewRegistry(
		processor.Processor{Descriptor: processor.Descriptor{ID: "a"}, Run: noop},
		processor.Processor{Descriptor: processor.Descriptor{ID: "a"}, Run: noop},
	)
	require.Error(t, err)

	_, err = processor.NewRegistry(processor.Processor{Descriptor: processor.Descriptor{ID: "b"}})
	require.Error(t, err)
}

func TestCompatible(t *testing.T) {
	t.Parallel()

	reg := testRegistry(t)
	require.Equal(t, []string{"count", "filter", "usenet-only"},
		ids(reg.Compatible("usenet-search", dataset.Parameters{"datasource": "usenet"})))
	require.Equal(t, []string{"count", "filter"},
		ids(reg.Compatible("custom-search", dataset.Parameters{"datasource": "custom"})))
	require.Equal(t, []string{"after-count"}, ids(reg.Compatible("count", nil)))
	require.Empty(t, reg.Compatible("filter", nil))
}

func TestAvailableExcludesFinishedRunOnceProcessors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mgr := newManager(t)
	reg := testRegistry(t)

	root, err := mgr.GetOrCreate(ctx, dataset.CreateRequest{
		Parameters: dataset.Parameters{"body_match": "cats", "datasource": "usenet"},
		Type:       "usenet-search",
	})
	require.NoError(t, err)

	// An unfinished child does not consume the run-once slot.
	counted, err := mgr.GetOrCreate(ctx, dataset.CreateRequest{Type: "count", Parent: root})
	require.NoError(t, err)
	available, err := reg.Available(ctx, root)
	require.NoError(t, err)
	require.Equal(t, []string{"count", "filter", "usenet-only"}, ids(available))

	require.NoError(t, counted.Finish(ctx, 0))
	filtered, err := mgr.GetOrCreate(ctx, dataset.CreateRequest{
		Type:       "filter",
		Parent:     root,
		Parameters: dataset.Parameters{"keyword": "meow"},
	})
	require.NoError(t, err)
	require.NoError(t, filtered.Finish(ctx, 0))

	available, err = reg.Available(ctx, root)
	require.NoError(t, err)
	require.Equal(t, []string{"filter", "usenet-only"}, ids(available))

	_, err = reg.CheckAvailable(ctx, root, "count")
	require.ErrorIs(t, err, processor.ErrIncompatible)
	p, err := reg.CheckAvailable(ctx, root, "filter")
	require.NoError(t, err)
	require.Equal(t, "filter", p.ID)
	_, err = reg.CheckAvailable(ctx, root, "missing")
	require.ErrorIs(t, err, processor.ErrUnknownProcessor)
}

func TestConfigureOverrides(t *testing.T) {
	t.Parallel()

	reg := testRegistry(t)
	configured, err := reg.Configure(map[string]processor.Override{
		"count":       {Disabled: true},
		"usenet-only": {Datasources: []string{"usenet", "custom"}},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"filter", "usenet-only"},
		ids(configured.Compatible("custom-search", dataset.Parameters{"datasource": "custom"})))
	// The original registry is unchanged.
	require.Len(t, reg.Descriptors(), 4)

	_, err = reg.Configure(map[string]processor.Override{"nope": {}})
	require.ErrorIs(t, err, processor.ErrUnknownProcessor)
}

func TestResolveOptions(t *testing.T) {
	t.Parallel()

	reg, err := processor.NewBuiltinRegistry()
	require.NoError(t, err)
	p, err := reg.Get("keyword-filter")
	require.NoError(t, err)

	opts, err := p.ResolveOptions(dataset.Parameters{"keyword": "cats", "extra": 1})
	require.NoError(t, err)
	require.Equal(t, dataset.Parameters{"keyword": "cats", "column": "body"}, opts)

	_, err = p.ResolveOptions(dataset.Parameters{})
	require.ErrorIs(t, err, processor.ErrInvalidOptions)
}

func TestBuiltins(t *testing.T) {
	t.Parallel()

	reg, err := processor.NewBuiltinRegistry()
	require.NoError(t, err)
	rows := []dataset.Row{
		dataset.NewRow("id", int64(1), "thread_id", int64(10), "author", "ann", "body", "Cats are great"),
		dataset.NewRow("id", int64(2), "thread_id", int64(10), "author", "bob", "body", "dogs"),
		dataset.NewRow("id", int64(3), "thread_id", int64(11), "author", "ann", "body", "more CATS"),
	}
	ctx := context.Background()

	freq, err := reg.Get("author-frequency")
	require.NoError(t, err)
	out, err := freq.Run(ctx, rows, nil)
	require.NoError(t, err)
	require.Len(t, out, 2)
	author, _ := out[0].Get("author")
	posts, _ := out[0].Get("posts")
	require.Equal(t, "ann", author)
	require.Equal(t, int64(2), posts)

	filter, err := reg.Get("keyword-filter")
	require.NoError(t, err)
	out, err = filter.Run(ctx, rows, dataset.Parameters{"keyword": "cats", "column": "body"})
	require.NoError(t, err)
	require.Len(t, out, 2)

	_, err = filter.Run(ctx, rows, dataset.Parameters{})
	require.False(t, jobs.Retryable(err))

	interrupted, cancel := context.WithCancelCause(ctx)
	cancel(jobs.ErrInterrupted)
	_, err = freq.Run(interrupted, rows, nil)
	require.ErrorIs(t, err, jobs.ErrInterrupted)
}
