package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
)

func TestFetcherBuildCollector(t *testing.T) {
	t.Parallel()

	f := New(Config{UserAgent: "coverage-agent", RespectRobots: false, Timeout: time.Second}, nil)
	collector := f.buildCollector(Request{URL: "https://example.com"}, time.Unix(0, 0), &Response{}, new(error))
	if collector.UserAgent != "coverage-agent" {
		t.Fatalf("expected user agent override, got %q", collector.UserAgent)
	}
	if !collector.IgnoreRobotsTxt {
		t.Fatal("expected robots txt to be ignored")
	}
	if !collector.AllowURLRevisit {
		t.Fatal("expected recurring board fetches to be allowed")
	}
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{}, nil)
	req := Request{
		URL:     "https://example.com/g/threads.json",
		Headers: http.Header{"X-Trace": {"yes"}},
	}
	var result Response
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, req, time.Unix(0, 0), &result, &fetchErr)
	if hooks.onRequest == nil || hooks.onResponse == nil || hooks.onError == nil {
		t.Fatal("expected hooks to be registered")
	}

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	if collyReq.Headers.Get("X-Trace") != "yes" {
		t.Fatalf("expected header propagation, got %+v", collyReq.Headers)
	}

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte(`[]`),
		Headers:    &http.Header{"Content-Type": {"application/json"}},
		Request:    &colly.Request{URL: mustParseURL(t, req.URL)},
	})
	if result.StatusCode != http.StatusOK || string(result.Body) != "[]" {
		t.Fatalf("unexpected result: %+v", result)
	}

	hooks.onError(&colly.Response{StatusCode: http.StatusNotFound}, errors.New("Not Found"))
	if !errors.Is(fetchErr, ErrNotFound) {
		t.Fatalf("expected not found status error, got %v", fetchErr)
	}

	hooks.onError(nil, errors.New("boom"))
	if fetchErr == nil || fetchErr.Error() != "boom" {
		t.Fatalf("expected fetchErr set, got %v", fetchErr)
	}
}

func TestFetchJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/g/threads.json":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`[{"page":1,"threads":[{"no":10,"last_modified":5}]}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := New(Config{Timeout: time.Second}, srv.Client().Transport)
	var pages []struct {
		Page    int `json:"page"`
		Threads []struct {
			No int64 `json:"no"`
		} `json:"threads"`
	}
	// Fetch twice: recurring board jobs revisit the same URL.
	for range 2 {
		if err := f.FetchJSON(context.Background(), srv.URL+"/g/threads.json", &pages); err != nil {
			t.Fatalf("FetchJSON: %v", err)
		}
	}
	if len(pages) != 1 || pages[0].Threads[0].No != 10 {
		t.Fatalf("unexpected decode: %+v", pages)
	}

	err := f.FetchJSON(context.Background(), srv.URL+"/g/thread/99.json", &pages)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCopyHeadersHandlesNil(t *testing.T) {
	t.Parallel()

	f := New(Config{}, nil)
	collyReq := &colly.Request{Headers: &http.Header{}}
	f.copyHeaders(Request{}, collyReq)
	if len(*collyReq.Headers) != 0 {
		t.Fatalf("expected no headers to be copied, got %+v", *collyReq.Headers)
	}
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse url %q: %v", raw, err)
	}
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}

type countingLimiter struct {
	urls []string
	err  error
}

func (l *countingLimiter) Wait(_ context.Context, url string) error {
	l.urls = append(l.urls, url)
	return l.err
}

func TestFetchWaitsOnLimiter(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	limiter := &countingLimiter{}
	f := New(Config{Timeout: time.Second, Limiter: limiter}, srv.Client().Transport)
	var out map[string]any
	if err := f.FetchJSON(context.Background(), srv.URL+"/g/threads.json", &out); err != nil {
		t.Fatalf("FetchJSON: %v", err)
	}
	if len(limiter.urls) != 1 || limiter.urls[0] != srv.URL+"/g/threads.json" {
		t.Fatalf("limiter not consulted: %v", limiter.urls)
	}

	limiter.err = context.DeadlineExceeded
	if err := f.FetchJSON(context.Background(), srv.URL+"/g/threads.json", &out); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected limiter error, got %v", err)
	}
}
