// Package corpus defines the canonical post store that scrapers fill and the
// search executor reads from.
package corpus

import (
	"context"

	"github.com/JakeFAU/socialscope/internal/dataset"
)

// Post is one scraped message in canonical form.
type Post struct {
	ID        int64    `json:"id"`
	ThreadID  int64    `json:"thread_id"`
	Timestamp int64    `json:"timestamp"`
	Subject   string   `json:"subject"`
	Author    string   `json:"author"`
	Body      string   `json:"body"`
	Board     string   `json:"board"`
	Groups    []string `json:"groups,omitempty"`
}

// Row renders the post in result column order.
func (p Post) Row() dataset.Row {
	return dataset.NewRow(
		"id", p.ID,
		"thread_id", p.ThreadID,
		"timestamp", p.Timestamp,
		"subject", p.Subject,
		"author", p.Author,
		"body", p.Body,
		"board", p.Board,
	)
}

// TimeRange bounds post timestamps (unix seconds) to [Min, Max).
// A zero bound is open.
type TimeRange struct {
	Min int64
	Max int64
}

// Contains reports whether ts falls inside the range.
func (r TimeRange) Contains(ts int64) bool {
	if r.Min != 0 && ts < r.Min {
		return false
	}
	if r.Max != 0 && ts >= r.Max {
		return false
	}
	return true
}

// Reader hydrates posts for the search executor. groups, when non-empty, is an
// allow-list of SQL LIKE patterns a post's groups must match.
type Reader interface {
	PostsInRange(ctx context.Context, r TimeRange, groups []string) ([]dataset.Row, error)
	PostsByID(ctx context.Context, ids []int64, groups []string) ([]dataset.Row, error)
	RandomPosts(ctx context.Context, n int, r TimeRange, groups []string) ([]dataset.Row, error)
}

// Writer stores scraped posts.
type Writer interface {
	UpsertPosts(ctx context.Context, posts []Post) (int, error)
}
