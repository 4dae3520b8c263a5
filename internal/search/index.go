package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// FullTextIndex resolves a FullTextQuery to matching post ids in index order.
// An empty slice with a nil error means no matches; transport failures wrap
// ErrIndexUnavailable.
type FullTextIndex interface {
	Search(ctx context.Context, q FullTextQuery) ([]int64, error)
}

// HTTPIndexConfig points the client at a Manticore-compatible JSON endpoint.
type HTTPIndexConfig struct {
	BaseURL string
	Index   string
	Timeout time.Duration
}

// HTTPIndex queries the full-text index over its JSON search API.
type HTTPIndex struct {
	endpoint string
	index    string
	client   *http.Client
}

// NewHTTPIndex constructs an HTTPIndex. A nil client gets an instrumented default.
func NewHTTPIndex(cfg HTTPIndexConfig, client *http.Client) (*HTTPIndex, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("search.index_url is required")
	}
	if cfg.Index == "" {
		return nil, fmt.Errorf("search.index_name is required")
	}
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &HTTPIndex{
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + "/search",
		index:    cfg.Index,
		client:   client,
	}, nil
}

type indexRequest struct {
	Index  string         `json:"index"`
	Query  map[string]any `json:"query"`
	Limit  int            `json:"limit,omitempty"`
	Source bool           `json:"_source"`
}

type indexResponse struct {
	Hits struct {
		Total int `json:"total"`
		Hits  []struct {
			ID json.RawMessage `json:"_id"`
		} `json:"hits"`
	} `json:"hits"`
	Error json.RawMessage `json:"error"`
}

func (ix *HTTPIndex) body(q FullTextQuery) ([]byte, error) {
	must := []any{map[string]any{"query_string": q.Match}}
	if q.Range.Min != 0 || q.Range.Max != 0 {
		bounds := map[string]int64{}
		if q.Range.Min != 0 {
			bounds["gte"] = q.Range.Min
		}
		if q.Range.Max != 0 {
			bounds["lt"] = q.Range.Max
		}
		must = append(must, map[string]any{"range": map[string]any{"timestamp": bounds}})
	}
	return json.Marshal(indexRequest{
		Index: ix.index,
		Query: map[string]any{"bool": map[string]any{"must": must}},
		Limit: q.Limit,
	})
}

// Search runs q against the index.
func (ix *HTTPIndex) Search(ctx context.Context, q FullTextQuery) ([]int64, error) {
	payload, err := ix.body(q)
	if err != nil {
		return nil, fmt.Errorf("encode index query: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ix.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build index request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := ix.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}
	defer resp.Body.Close() //nolint:errcheck // body fully read below
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrIndexUnavailable, err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrIndexUnavailable, resp.StatusCode, truncate(raw, 200))
	}
	var decoded indexResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrIndexUnavailable, err)
	}
	if len(decoded.Error) > 0 && string(decoded.Error) != "null" && string(decoded.Error) != `""` {
		return nil, fmt.Errorf("%w: %s", ErrIndexUnavailable, truncate(decoded.Error, 200))
	}
	ids := make([]int64, 0, len(decoded.Hits.Hits))
	for _, hit := range decoded.Hits.Hits {
		id, err := parseID(hit.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// parseID accepts both numeric and string document ids.
func parseID(raw json.RawMessage) (int64, error) {
	text := strings.Trim(string(raw), `"`)
	id, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad document id %s", raw)
	}
	return id, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
