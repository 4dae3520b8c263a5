package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if jobsClaimedTotal == nil || jobsCompletedTotal == nil || activeWorkers == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveJobLifecycle(t *testing.T) {
	ObserveClaim("lifecycle-search")
	ObserveJob("lifecycle-search", "finished")
	ObserveJob("lifecycle-search", "retried")
	ObserveJob("lifecycle-search", "retried")

	if val := testutil.ToFloat64(jobsClaimedTotal.WithLabelValues("lifecycle-search")); val != 1 {
		t.Errorf("Expected one claim, got %f", val)
	}
	if val := testutil.ToFloat64(jobsCompletedTotal.WithLabelValues("lifecycle-search", "retried")); val != 2 {
		t.Errorf("Expected two retries, got %f", val)
	}
}

func TestActiveWorkersGauge(t *testing.T) {
	before := testutil.ToFloat64(activeWorkers)
	IncActiveWorkers()
	IncActiveWorkers()
	DecActiveWorkers()
	if val := testutil.ToFloat64(activeWorkers); val != before+1 {
		t.Errorf("Expected active workers %f, got %f", before+1, val)
	}
	DecActiveWorkers()
}

func TestObserveIgnoresNonPositiveCounts(t *testing.T) {
	ObserveScrapedPosts("empty-board", 0)
	ObserveScrapedPosts("busy-board", 3)
	if val := testutil.ToFloat64(scrapedPostsTotal.WithLabelValues("busy-board")); val != 3 {
		t.Errorf("Expected 3 scraped posts, got %f", val)
	}
	if n := testutil.CollectAndCount(scrapedPostsTotal, "socialscope_scraped_posts_total"); n != 1 {
		t.Errorf("Expected a single board series, got %d", n)
	}
}

func TestObserveSearch(t *testing.T) {
	ObserveSearch("complex")
	if val := testutil.ToFloat64(searchesTotal.WithLabelValues("complex")); val < 1 {
		t.Errorf("Expected complex search to be counted, got %f", val)
	}
}

func TestObserveRateLimitDelay(t *testing.T) {
	ObserveRateLimitDelay("boards.example", 0)
	ObserveRateLimitDelay("boards.example", 0)

	if n := testutil.CollectAndCount(rateLimitDelaySeconds, "socialscope_rate_limit_delay_seconds"); n < 1 {
		t.Errorf("Expected a rate limit series, got %d", n)
	}
}
