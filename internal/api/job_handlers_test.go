package api

import (
	"context"
	"net/http"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/socialscope/internal/jobs"
)

func TestGetJob(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	job, err := f.queue.Enqueue(context.Background(), jobs.NewJob{Type: "board", RemoteID: "g", Interval: 600})
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/v1/jobs/"+strconv.FormatInt(job.ID, 10), "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody(t, rec)["job"].(map[string]any)
	require.Equal(t, "board", got["type"])
	require.Equal(t, "g", got["remote_id"])
	require.EqualValues(t, 600, got["interval"])

	rec = f.do(t, http.MethodGet, "/v1/jobs/999", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(t, http.MethodGet, "/v1/jobs/abc", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInterruptJob(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	f.workers.running[42] = true
	f.workers.running[7] = true

	rec := f.do(t, http.MethodGet, "/v1/jobs/running", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []any{float64(7), float64(42)}, decodeBody(t, rec)["running"])

	rec = f.do(t, http.MethodPost, "/v1/jobs/42/interrupt", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, []int64{7}, f.workers.Running())

	rec = f.do(t, http.MethodPost, "/v1/jobs/42/interrupt", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(t, http.MethodPost, "/v1/jobs/0/interrupt", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
