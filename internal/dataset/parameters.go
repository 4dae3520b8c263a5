package dataset

import (
	"encoding/json"
	"fmt"
	"maps"
	"strconv"
	"strings"
)

// Parameters is the opaque, immutable-after-creation payload a dataset was requested with.
type Parameters map[string]any

// ScopeRandomSample is the search_scope value that gives datasets random keys.
const ScopeRandomSample = "random-sample"

// String returns the parameter as text, or "" when absent or null.
func (p Parameters) String(key string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// Int returns the parameter as an integer. ok is false when the value is absent
// or not numeric.
func (p Parameters) Int(key string) (int64, bool) {
	switch t := p[key].(type) {
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case float64:
		return int64(t), true
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			f, ferr := t.Float64()
			if ferr != nil {
				return 0, false
			}
			return int64(f), true
		}
		return n, true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// Has reports whether key is present with a non-empty value.
func (p Parameters) Has(key string) bool {
	return p.String(key) != ""
}

// Clone returns a shallow copy that owns its own map.
func (p Parameters) Clone() Parameters {
	if p == nil {
		return Parameters{}
	}
	return maps.Clone(p)
}

// RandomAmount returns the requested sample size, or 0.
func (p Parameters) RandomAmount() int64 {
	n, ok := p.Int("random_amount")
	if !ok || n < 0 {
		return 0
	}
	return n
}

// IsRandomSample reports whether the parameters request a random sample.
func (p Parameters) IsRandomSample() bool {
	return p.String("search_scope") == ScopeRandomSample || p.RandomAmount() > 0
}

// Canonical serializes the parameters with sorted keys at every depth.
func (p Parameters) Canonical() ([]byte, error) {
	if p == nil {
		p = Parameters{}
	}
	// encoding/json emits map keys in sorted order.
	raw, err := json.Marshal(map[string]any(p))
	if err != nil {
		return nil, fmt.Errorf("canonicalize parameters: %w", err)
	}
	return raw, nil
}
