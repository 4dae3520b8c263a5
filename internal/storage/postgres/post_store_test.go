package postgres

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/socialscope/internal/corpus"
	"github.com/JakeFAU/socialscope/internal/dataset"
)

var postCols = []string{"id", "thread_id", "timestamp", "subject", "author", "body", "board"}

func newMockPostStore(t *testing.T) (*PostStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewPostStore(mock, Tables{})
	require.NoError(t, err)
	return store, mock
}

func TestNewPostStoreRejectsBadTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewPostStore(mock, Tables{Posts: "posts; DROP TABLE jobs"})
	require.ErrorContains(t, err, "invalid table name")
}

func TestPostStorePostsByIDWithGroups(t *testing.T) {
	t.Parallel()

	store, mock := newMockPostStore(t)
	ids := []int64{3, 5}
	mock.ExpectQuery(`FROM posts WHERE id = ANY\(\$1\) AND id IN \(SELECT post_id FROM post_groups WHERE "group" LIKE ANY\(\$2\)\) ORDER BY id ASC`).
		WithArgs(ids, []string{"comp.%"}).
		WillReturnRows(pgxmock.NewRows(postCols).
			AddRow(int64(3), int64(1), int64(150), "hi", "anon", "cats", "comp.misc").
			AddRow(int64(5), int64(1), int64(160), "re", "anon", "more cats", "comp.misc"))

	rows, err := store.PostsByID(context.Background(), ids, []string{"comp.%"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, postCols, dataset.Columns(rows[0]))
	body, _ := rows[1].Get("body")
	require.Equal(t, "more cats", body)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostStorePostsInRange(t *testing.T) {
	t.Parallel()

	store, mock := newMockPostStore(t)
	mock.ExpectQuery(`FROM posts WHERE timestamp >= \$1 AND timestamp < \$2 ORDER BY timestamp ASC`).
		WithArgs(int64(100), int64(200)).
		WillReturnRows(pgxmock.NewRows(postCols).
			AddRow(int64(1), int64(1), int64(120), "s", "a", "b", "g"))

	rows, err := store.PostsInRange(context.Background(), corpus.TimeRange{Min: 100, Max: 200}, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostStoreRandomPosts(t *testing.T) {
	t.Parallel()

	store, mock := newMockPostStore(t)
	mock.ExpectQuery(`ORDER BY random\(\) LIMIT 2\) AS sample ORDER BY id ASC`).
		WithArgs(int64(100)).
		WillReturnRows(pgxmock.NewRows(postCols))

	rows, err := store.RandomPosts(context.Background(), 2, corpus.TimeRange{Min: 100}, nil)
	require.NoError(t, err)
	require.Empty(t, rows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostStoreUpsertPosts(t *testing.T) {
	t.Parallel()

	store, mock := newMockPostStore(t)
	post := corpus.Post{
		ID: 10, ThreadID: 9, Timestamp: 1000, Subject: "s", Author: "a", Body: "b", Board: "g",
		Groups: []string{"g"},
	}
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO posts").
		WithArgs(int64(10), int64(9), int64(1000), "s", "a", "b", "g").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO post_groups").
		WithArgs(int64(10), "g").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := store.UpsertPosts(context.Background(), []corpus.Post{post})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("(?s)CREATE TABLE IF NOT EXISTS jobs.*ADD COLUMN IF NOT EXISTS claimed_by").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS datasets").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS usenet_posts").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, Migrate(context.Background(), mock, Tables{Posts: "usenet_posts"}))
	require.NoError(t, mock.ExpectationsWereMet())
}
