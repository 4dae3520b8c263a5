package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/socialscope/internal/corpus"
)

func seededPosts() *PostStore {
	return NewPostStore(
		corpus.Post{ID: 3, Timestamp: 300, Body: "c", Groups: []string{"comp.lang.go"}},
		corpus.Post{ID: 1, Timestamp: 100, Body: "a", Groups: []string{"alt.cats"}},
		corpus.Post{ID: 2, Timestamp: 200, Body: "b", Groups: []string{"comp.misc"}},
	)
}

func TestPostStoreRangeAndGroups(t *testing.T) {
	t.Parallel()

	store := seededPosts()
	ctx := context.Background()

	rows, err := store.PostsInRange(ctx, corpus.TimeRange{Min: 100, Max: 300}, nil)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	first, _ := rows[0].Get("id")
	require.EqualValues(t, 1, first)

	rows, err = store.PostsInRange(ctx, corpus.TimeRange{}, []string{"comp.%"})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	rows, err = store.PostsByID(ctx, []int64{3, 1}, []string{"alt.ca_s"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	only, _ := rows[0].Get("id")
	require.EqualValues(t, 1, only)
}

func TestPostStoreRandomAndUpsert(t *testing.T) {
	t.Parallel()

	store := seededPosts()
	ctx := context.Background()

	rows, err := store.RandomPosts(ctx, 2, corpus.TimeRange{}, nil)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	a, _ := rows[0].Get("id")
	b, _ := rows[1].Get("id")
	require.Less(t, a.(int64), b.(int64))

	n, err := store.UpsertPosts(ctx, []corpus.Post{{ID: 1, Timestamp: 100, Body: "edited", Groups: []string{"alt.dogs"}}})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	rows, err = store.PostsByID(ctx, []int64{1}, []string{"alt.cats"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	body, _ := rows[0].Get("body")
	require.Equal(t, "edited", body)
}
