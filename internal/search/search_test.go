package search_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/socialscope/internal/corpus"
	"github.com/JakeFAU/socialscope/internal/dataset"
	"github.com/JakeFAU/socialscope/internal/jobs"
	"github.com/JakeFAU/socialscope/internal/search"
	"github.com/JakeFAU/socialscope/internal/storage/memory"
)

type fakeIndex struct {
	mu      sync.Mutex
	ids     []int64
	err     error
	queries []search.FullTextQuery
}

func (f *fakeIndex) Search(_ context.Context, q search.FullTextQuery) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return f.ids, f.err
}

func (f *fakeIndex) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

type recordingProgress struct {
	statuses []string
}

func (p *recordingProgress) UpdateStatus(_ context.Context, status string) error {
	p.statuses = append(p.statuses, status)
	return nil
}

func seededPosts() *memory.PostStore {
	return memory.NewPostStore(
		corpus.Post{ID: 3, ThreadID: 1, Timestamp: 300, Subject: "cats", Body: "cats everywhere", Board: "comp", Groups: []string{"comp.lang.go"}},
		corpus.Post{ID: 1, ThreadID: 1, Timestamp: 100, Subject: "hello", Body: "first", Board: "comp", Groups: []string{"comp.os.linux"}},
		corpus.Post{ID: 2, ThreadID: 2, Timestamp: 200, Subject: "dogs", Body: "dogs and cats", Board: "alt", Groups: []string{"alt.pets"}},
		corpus.Post{ID: 4, ThreadID: 2, Timestamp: 400, Subject: "late", Body: "cats again", Board: "alt", Groups: []string{"alt.pets"}},
	)
}

func rowIDs(t *testing.T, rows []dataset.Row) []int64 {
	t.Helper()
	out := make([]int64, 0, len(rows))
	for _, row := range rows {
		v, ok := row.Get("id")
		require.True(t, ok)
		out = append(out, v.(int64))
	}
	return out
}

func TestValidateRejectsKeywordFreeQueries(t *testing.T) {
	t.Parallel()

	in := dataset.Parameters{"min_date": 100, "max_date": 200}
	_, err := search.Validate(in, search.Requester{})
	require.ErrorIs(t, err, search.ErrInvalidQuery)
	require.EqualError(t, err, "Please provide a body query, subject query or random sample size.")

	out, err := search.Validate(in, search.Requester{CanQueryWithoutKeyword: true})
	require.NoError(t, err)
	require.Equal(t, int64(100), out["min_date"])

	_, err = search.Validate(dataset.Parameters{"search_scope": "random-sample", "random_amount": 5}, search.Requester{})
	require.NoError(t, err)
}

func TestValidateNormalizesParameters(t *testing.T) {
	t.Parallel()

	in := dataset.Parameters{
		"body_match":    "cats",
		"full_threads":  true,
		"daterange":     []any{float64(10), float64(20)},
		"group_match":   "  comp.* ",
		"board_proxy":   "x",
		"search_scope":  "",
		"subject_query": "",
	}
	out, err := search.Validate(in, search.Requester{})
	require.NoError(t, err)
	require.Equal(t, "", out["subject_match"])
	require.NotContains(t, out, "full_threads")
	require.NotContains(t, out, "daterange")
	require.NotContains(t, out, "board_proxy")
	require.Equal(t, int64(10), out["min_date"])
	require.Equal(t, int64(20), out["max_date"])
	require.Equal(t, "comp.*", out["group_match"])

	// The caller's map is untouched.
	require.Contains(t, in, "full_threads")
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	admin := search.Requester{Admin: true}
	cases := []struct {
		name   string
		params dataset.Parameters
		msg    string
	}{
		{"one bound", dataset.Parameters{"body_match": "x", "min_date": 5}, "When setting a date range, please provide both an upper and lower limit."},
		{"reversed", dataset.Parameters{"body_match": "x", "min_date": 50, "max_date": 5}, "Please provide a valid date range where the start is before the end of the range."},
		{"bad date", dataset.Parameters{"body_match": "x", "min_date": "soon", "max_date": 5}, "Please provide valid dates for the date range."},
		{"low density", dataset.Parameters{"search_scope": "dense-threads", "scope_density": 10, "scope_length": 40}, "Please provide a density percentage between 15 and 100."},
		{"short threads", dataset.Parameters{"search_scope": "dense-threads", "scope_density": 20, "scope_length": 10}, "Please provide a dense thread length of at least 30."},
		{"empty sample", dataset.Parameters{"search_scope": "random-sample", "random_amount": 0}, "Please provide a random sample size of at least 1."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := search.Validate(tc.params, admin)
			var qe *search.QueryError
			require.ErrorAs(t, err, &qe)
			require.Equal(t, tc.msg, qe.Msg)
		})
	}
}

func TestConvertFullText(t *testing.T) {
	t.Parallel()

	require.Equal(t, `cats \-dogs`, search.ConvertFullText(" cats -dogs "))
	require.Equal(t, `"black cat"`, search.ConvertFullText("“black cat”"))
	require.Equal(t, `\"open`, search.ConvertFullText(`"open`))
	require.Equal(t, `a\@b \(c\)`, search.ConvertFullText("a@b (c)"))
}

func TestBuildFullTextQuery(t *testing.T) {
	t.Parallel()

	q := search.BuildFullTextQuery(dataset.Parameters{
		"body_match":    "cats",
		"subject_match": "pets!",
		"min_date":      int64(10),
		"max_date":      int64(0),
	}, 50)
	require.Equal(t, `@body cats @subject pets\!`, q.Match)
	require.Equal(t, corpus.TimeRange{Min: 10}, q.Range)
	require.Equal(t, 50, q.Limit)
	require.Equal(t, `MATCH("@body cats @subject pets\\!") AND timestamp >= 10`, q.String())
}

func TestGroupPatterns(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"comp.%", "alt.pets"}, search.GroupPatterns(dataset.Parameters{"group_match": "comp.*, alt.pets,,"}))
	require.Nil(t, search.GroupPatterns(dataset.Parameters{}))
}

func TestChoosePath(t *testing.T) {
	t.Parallel()

	require.Equal(t, search.PathRandom, search.ChoosePath(dataset.Parameters{"random_amount": 3, "body_match": "x"}))
	require.Equal(t, search.PathComplex, search.ChoosePath(dataset.Parameters{"subject_match": "x"}))
	require.Equal(t, search.PathFast, search.ChoosePath(dataset.Parameters{"min_date": 1, "max_date": 2}))
}

func TestExecutorFastPathSkipsIndex(t *testing.T) {
	t.Parallel()

	index := &fakeIndex{}
	exec, err := search.NewExecutor(index, seededPosts(), search.ExecutorConfig{}, nil)
	require.NoError(t, err)

	res, err := exec.Run(context.Background(), dataset.Parameters{"min_date": int64(150), "max_date": int64(400)}, nil)
	require.NoError(t, err)
	require.Equal(t, search.PathFast, res.Path)
	require.Equal(t, []int64{2, 3}, rowIDs(t, res.Rows))
	require.Zero(t, index.calls())
}

func TestExecutorComplexPathHydratesInIDOrder(t *testing.T) {
	t.Parallel()

	index := &fakeIndex{ids: []int64{4, 2, 3, 2}}
	exec, err := search.NewExecutor(index, seededPosts(), search.ExecutorConfig{BatchSize: 2}, nil)
	require.NoError(t, err)
	progress := &recordingProgress{}

	params := dataset.Parameters{"body_match": "cats", "subject_match": "", "group_match": "alt.*"}
	res, err := exec.Run(context.Background(), params, progress)
	require.NoError(t, err)
	require.Equal(t, search.PathComplex, res.Path)
	require.Equal(t, []int64{2, 4}, rowIDs(t, res.Rows))
	require.Equal(t, 3, res.Matches)
	require.Equal(t, []string{
		"Searching for matches",
		"Found 4 matches. Collecting post data",
		"Post data collected",
	}, progress.statuses)
	require.Equal(t, "@body cats", index.queries[0].Match)
}

func TestExecutorComplexPathNoMatches(t *testing.T) {
	t.Parallel()

	exec, err := search.NewExecutor(&fakeIndex{}, seededPosts(), search.ExecutorConfig{}, nil)
	require.NoError(t, err)
	progress := &recordingProgress{}

	res, err := exec.Run(context.Background(), dataset.Parameters{"body_match": "zebras"}, progress)
	require.NoError(t, err)
	require.Empty(t, res.Rows)
	require.Equal(t, "Query finished, but no results were found.", progress.statuses[len(progress.statuses)-1])
}

func TestExecutorSurfacesIndexFailure(t *testing.T) {
	t.Parallel()

	index := &fakeIndex{err: errors.Join(search.ErrIndexUnavailable, errors.New("connection refused"))}
	exec, err := search.NewExecutor(index, seededPosts(), search.ExecutorConfig{}, nil)
	require.NoError(t, err)

	_, err = exec.Run(context.Background(), dataset.Parameters{"body_match": "cats"}, nil)
	require.ErrorIs(t, err, search.ErrIndexUnavailable)
}

func TestExecutorRandomPath(t *testing.T) {
	t.Parallel()

	exec, err := search.NewExecutor(nil, seededPosts(), search.ExecutorConfig{}, nil)
	require.NoError(t, err)

	res, err := exec.Run(context.Background(), dataset.Parameters{"search_scope": "random-sample", "random_amount": 2}, nil)
	require.NoError(t, err)
	require.Equal(t, search.PathRandom, res.Path)
	ids := rowIDs(t, res.Rows)
	require.Len(t, ids, 2)
	require.Less(t, ids[0], ids[1])
}

func TestExecutorInterruptedBeforeRoundTrip(t *testing.T) {
	t.Parallel()

	index := &fakeIndex{ids: []int64{1}}
	exec, err := search.NewExecutor(index, seededPosts(), search.ExecutorConfig{}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(jobs.ErrInterrupted)

	_, err = exec.Run(ctx, dataset.Parameters{"body_match": "cats"}, nil)
	require.ErrorIs(t, err, jobs.ErrInterrupted)
	require.Zero(t, index.calls())
}

func TestHTTPIndexSearch(t *testing.T) {
	t.Parallel()

	var (
		path string
		body []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		body, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{"hits":{"total":2,"hits":[{"_id":7},{"_id":"9"}]}}`))
	}))
	defer srv.Close()

	ix, err := search.NewHTTPIndex(search.HTTPIndexConfig{BaseURL: srv.URL + "/", Index: "posts"}, srv.Client())
	require.NoError(t, err)

	ids, err := ix.Search(context.Background(), search.FullTextQuery{Match: "@body cats", Range: corpus.TimeRange{Min: 1, Max: 2}, Limit: 10})
	require.NoError(t, err)
	require.Equal(t, []int64{7, 9}, ids)
	require.Equal(t, "/search", path)
	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	require.Equal(t, "posts", got["index"])
	require.EqualValues(t, 10, got["limit"])
}

func TestHTTPIndexDistinguishesEmptyFromFailure(t *testing.T) {
	t.Parallel()

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"hits":{"total":0,"hits":[]}}`))
	}))
	defer empty.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "index offline", http.StatusInternalServerError)
	}))
	defer broken.Close()

	ix, err := search.NewHTTPIndex(search.HTTPIndexConfig{BaseURL: empty.URL, Index: "posts"}, empty.Client())
	require.NoError(t, err)
	ids, err := ix.Search(context.Background(), search.FullTextQuery{Match: "@body zebras"})
	require.NoError(t, err)
	require.Empty(t, ids)

	ix, err = search.NewHTTPIndex(search.HTTPIndexConfig{BaseURL: broken.URL, Index: "posts"}, broken.Client())
	require.NoError(t, err)
	_, err = ix.Search(context.Background(), search.FullTextQuery{Match: "@body zebras"})
	require.ErrorIs(t, err, search.ErrIndexUnavailable)

	_, err = search.NewHTTPIndex(search.HTTPIndexConfig{Index: "posts"}, nil)
	require.Error(t, err)
}
