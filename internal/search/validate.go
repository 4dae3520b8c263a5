// Package search validates dataset search parameters and runs the hybrid
// full-text/relational executor that produces search dataset rows.
package search

import (
	"errors"
	"regexp"
	"strings"

	"github.com/JakeFAU/socialscope/internal/dataset"
)

var (
	// ErrInvalidQuery is matched by every *QueryError.
	ErrInvalidQuery = errors.New("search: invalid query parameters")
	// ErrIndexUnavailable reports a transport failure of the full-text index,
	// as opposed to a query that matched nothing.
	ErrIndexUnavailable = errors.New("search: full-text index unavailable")
)

// QueryError carries a message meant to be shown to the requester verbatim.
type QueryError struct {
	Msg string
}

func (e *QueryError) Error() string { return e.Msg }

// Unwrap lets errors.Is match ErrInvalidQuery.
func (e *QueryError) Unwrap() error { return ErrInvalidQuery }

func invalid(msg string) error {
	return &QueryError{Msg: msg}
}

// Requester describes who submits a query.
type Requester struct {
	Admin                  bool
	CanQueryWithoutKeyword bool
}

// Privileged reports whether the requester may run keyword-free queries.
func (r Requester) Privileged() bool {
	return r.Admin || r.CanQueryWithoutKeyword
}

const (
	scopeDenseThreads = "dense-threads"
	minDensity        = 15
	maxDensity        = 100
	minDenseLength    = 30
)

var placeholderField = regexp.MustCompile(`_proxy$`)

// HasFullTextTerm reports whether params carry a body or subject match.
func HasFullTextTerm(params dataset.Parameters) bool {
	return params.Has("body_match") || params.Has("subject_match")
}

// Validate checks and normalizes search parameters before any dataset or job is
// created. The input is not modified; the returned parameters are safe to persist.
func Validate(in dataset.Parameters, who Requester) (dataset.Parameters, error) {
	params := in.Clone()

	// Date-only queries count as keyword-free and need the same privilege.
	if !HasFullTextTerm(params) && !who.Privileged() && !params.IsRandomSample() {
		return nil, invalid("Please provide a body query, subject query or random sample size.")
	}

	switch {
	case !params.Has("body_match") && params.Has("subject_match"):
		params["body_match"] = ""
	case params.Has("body_match") && !params.Has("subject_match"):
		params["subject_match"] = ""
	}

	// A body match over full threads returns far too many posts.
	if params.Has("body_match") {
		delete(params, "full_threads")
	}

	switch params.String("search_scope") {
	case scopeDenseThreads:
		density, ok := params.Int("scope_density")
		if !ok {
			return nil, invalid("Please provide a valid numerical density percentage.")
		}
		if density < minDensity || density > maxDensity {
			return nil, invalid("Please provide a density percentage between 15 and 100.")
		}
		length, ok := params.Int("scope_length")
		if !ok {
			return nil, invalid("Please provide a valid numerical dense thread length.")
		}
		if length < minDenseLength {
			return nil, invalid("Please provide a dense thread length of at least 30.")
		}
		params["scope_density"] = density
		params["scope_length"] = length
	case dataset.ScopeRandomSample:
		if params.RandomAmount() <= 0 {
			return nil, invalid("Please provide a random sample size of at least 1.")
		}
		params["random_amount"] = params.RandomAmount()
	}

	if err := normalizeDates(params); err != nil {
		return nil, err
	}

	if groups := params.String("group_match"); groups != "" {
		params["group_match"] = strings.TrimSpace(groups)
	}

	for field := range params {
		if placeholderField.MatchString(field) {
			delete(params, field)
		}
	}
	return params, nil
}

// normalizeDates accepts either a two-element "daterange" or min_date/max_date,
// requires both bounds and stores them as integers in (min, max) order.
func normalizeDates(params dataset.Parameters) error {
	if raw, ok := params["daterange"]; ok {
		delete(params, "daterange")
		if bounds, ok := raw.([]any); ok && len(bounds) == 2 {
			if bounds[0] != nil {
				params["min_date"] = bounds[0]
			}
			if bounds[1] != nil {
				params["max_date"] = bounds[1]
			}
		}
	}
	hasMin, hasMax := params.Has("min_date"), params.Has("max_date")
	if !hasMin && !hasMax {
		delete(params, "min_date")
		delete(params, "max_date")
		return nil
	}
	if hasMin != hasMax {
		return invalid("When setting a date range, please provide both an upper and lower limit.")
	}
	after, okMin := params.Int("min_date")
	before, okMax := params.Int("max_date")
	if !okMin || !okMax {
		return invalid("Please provide valid dates for the date range.")
	}
	if before < after {
		return invalid("Please provide a valid date range where the start is before the end of the range.")
	}
	params["min_date"] = after
	params["max_date"] = before
	return nil
}

// GroupPatterns parses group_match into SQL LIKE patterns, translating '*' to '%'.
func GroupPatterns(params dataset.Parameters) []string {
	var out []string
	for _, g := range strings.Split(params.String("group_match"), ",") {
		g = strings.ReplaceAll(strings.TrimSpace(g), "*", "%")
		if g != "" {
			out = append(out, g)
		}
	}
	return out
}
