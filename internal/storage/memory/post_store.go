package memory

import (
	"context"
	"math/rand/v2"
	"regexp"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/socialscope/internal/corpus"
	"github.com/JakeFAU/socialscope/internal/dataset"
)

// PostStore implements corpus.Reader and corpus.Writer in memory.
type PostStore struct {
	mu    sync.RWMutex
	posts map[int64]corpus.Post
}

// NewPostStore constructs a PostStore seeded with posts.
func NewPostStore(posts ...corpus.Post) *PostStore {
	s := &PostStore{posts: make(map[int64]corpus.Post)}
	for _, p := range posts {
		s.posts[p.ID] = p
	}
	return s
}

// UpsertPosts stores posts, merging group memberships.
func (s *PostStore) UpsertPosts(_ context.Context, posts []corpus.Post) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range posts {
		if existing, ok := s.posts[p.ID]; ok {
			for _, g := range existing.Groups {
				if !slices.Contains(p.Groups, g) {
					p.Groups = append(p.Groups, g)
				}
			}
		}
		s.posts[p.ID] = p
	}
	return len(posts), nil
}

// PostsInRange returns posts within r ordered by timestamp.
func (s *PostStore) PostsInRange(_ context.Context, r corpus.TimeRange, groups []string) ([]dataset.Row, error) {
	matched := s.filter(func(p corpus.Post) bool { return r.Contains(p.Timestamp) }, groups)
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Timestamp != matched[j].Timestamp {
			return matched[i].Timestamp < matched[j].Timestamp
		}
		return matched[i].ID < matched[j].ID
	})
	return toRows(matched), nil
}

// PostsByID returns the posts with ids ordered by id.
func (s *PostStore) PostsByID(_ context.Context, ids []int64, groups []string) ([]dataset.Row, error) {
	want := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	matched := s.filter(func(p corpus.Post) bool {
		_, ok := want[p.ID]
		return ok
	}, groups)
	sortByID(matched)
	return toRows(matched), nil
}

// RandomPosts samples n posts within r, ordered by id.
func (s *PostStore) RandomPosts(_ context.Context, n int, r corpus.TimeRange, groups []string) ([]dataset.Row, error) {
	matched := s.filter(func(p corpus.Post) bool { return r.Contains(p.Timestamp) }, groups)
	rand.Shuffle(len(matched), func(i, j int) { matched[i], matched[j] = matched[j], matched[i] })
	if n < len(matched) {
		matched = matched[:n]
	}
	sortByID(matched)
	return toRows(matched), nil
}

func (s *PostStore) filter(keep func(corpus.Post) bool, groups []string) []corpus.Post {
	patterns := likePatterns(groups)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []corpus.Post
	for _, p := range s.posts {
		if keep(p) && inGroups(p, patterns) {
			out = append(out, p)
		}
	}
	return out
}

func inGroups(p corpus.Post, patterns []*regexp.Regexp) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, g := range p.Groups {
		for _, re := range patterns {
			if re.MatchString(g) {
				return true
			}
		}
	}
	return false
}

// likePatterns compiles SQL LIKE patterns ('%' and '_') into anchored regexps.
func likePatterns(groups []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(groups))
	for _, g := range groups {
		var b strings.Builder
		b.WriteString("^")
		for _, r := range g {
			switch r {
			case '%':
				b.WriteString(".*")
			case '_':
				b.WriteString(".")
			default:
				b.WriteString(regexp.QuoteMeta(string(r)))
			}
		}
		b.WriteString("$")
		out = append(out, regexp.MustCompile(b.String()))
	}
	return out
}

func sortByID(posts []corpus.Post) {
	sort.Slice(posts, func(i, j int) bool { return posts[i].ID < posts[j].ID })
}

func toRows(posts []corpus.Post) []dataset.Row {
	rows := make([]dataset.Row, 0, len(posts))
	for _, p := range posts {
		rows = append(rows, p.Row())
	}
	return rows
}
