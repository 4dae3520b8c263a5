package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/JakeFAU/socialscope/internal/corpus"
	"github.com/JakeFAU/socialscope/internal/dataset"
)

const postColumns = `id, thread_id, timestamp, subject, author, body, board`

// PostStore reads and writes the canonical post tables.
type PostStore struct {
	db     DB
	tables Tables
}

// NewPostStore constructs a PostStore. Empty table names fall back to DefaultTables.
func NewPostStore(db DB, tables Tables) (*PostStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	tables, err := tables.withDefaults()
	if err != nil {
		return nil, err
	}
	return &PostStore{db: db, tables: tables}, nil
}

// selectPosts builds a post query. where clauses are ANDed; the group filter is
// appended as the next positional argument.
func (s *PostStore) selectPosts(where []string, args []any, groups []string, tail string) (string, []any) {
	if len(groups) > 0 {
		args = append(args, groups)
		where = append(where, fmt.Sprintf(
			`id IN (SELECT post_id FROM %s WHERE "group" LIKE ANY($%d))`, s.tables.Groups, len(args)))
	}
	query := fmt.Sprintf(`SELECT %s FROM %s`, postColumns, s.tables.Posts)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	return query + " " + tail, args
}

func rangeClauses(r corpus.TimeRange) ([]string, []any) {
	var (
		where []string
		args  []any
	)
	if r.Min != 0 {
		args = append(args, r.Min)
		where = append(where, fmt.Sprintf("timestamp >= $%d", len(args)))
	}
	if r.Max != 0 {
		args = append(args, r.Max)
		where = append(where, fmt.Sprintf("timestamp < $%d", len(args)))
	}
	return where, args
}

// PostsInRange returns posts within r ordered by timestamp ascending.
func (s *PostStore) PostsInRange(ctx context.Context, r corpus.TimeRange, groups []string) ([]dataset.Row, error) {
	where, args := rangeClauses(r)
	query, args := s.selectPosts(where, args, groups, "ORDER BY timestamp ASC, id ASC")
	return s.queryRows(ctx, query, args...)
}

// PostsByID returns the posts with the given ids ordered by id ascending.
func (s *PostStore) PostsByID(ctx context.Context, ids []int64, groups []string) ([]dataset.Row, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args := s.selectPosts([]string{"id = ANY($1)"}, []any{ids}, groups, "ORDER BY id ASC")
	return s.queryRows(ctx, query, args...)
}

// RandomPosts samples n posts within r and returns them ordered by id.
func (s *PostStore) RandomPosts(ctx context.Context, n int, r corpus.TimeRange, groups []string) ([]dataset.Row, error) {
	where, args := rangeClauses(r)
	inner, args := s.selectPosts(where, args, groups, fmt.Sprintf("ORDER BY random() LIMIT %d", n))
	return s.queryRows(ctx, `SELECT * FROM (`+inner+`) AS sample ORDER BY id ASC`, args...)
}

func (s *PostStore) queryRows(ctx context.Context, query string, args ...any) ([]dataset.Row, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}
	return collectRows(rows)
}

// collectRows turns result rows into ordered rows keyed by column name.
func collectRows(rows pgx.Rows) ([]dataset.Row, error) {
	defer rows.Close()
	fields := rows.FieldDescriptions()
	var out []dataset.Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read post: %w", err)
		}
		row := orderedmap.New[string, any](len(fields))
		for i, field := range fields {
			row.Set(field.Name, values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	return out, nil
}

// UpsertPosts inserts or refreshes posts and their group memberships in one transaction.
func (s *PostStore) UpsertPosts(ctx context.Context, posts []corpus.Post) (int, error) {
	if len(posts) == 0 {
		return 0, nil
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	upsert := fmt.Sprintf(`
		INSERT INTO %s (%s) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			subject = EXCLUDED.subject, author = EXCLUDED.author,
			body = EXCLUDED.body, board = EXCLUDED.board`, s.tables.Posts, postColumns)
	member := fmt.Sprintf(`
		INSERT INTO %s (post_id, "group") VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, s.tables.Groups)
	for _, p := range posts {
		if _, err := tx.Exec(ctx, upsert, p.ID, p.ThreadID, p.Timestamp, p.Subject, p.Author, p.Body, p.Board); err != nil {
			return 0, fmt.Errorf("upsert post %d: %w", p.ID, err)
		}
		for _, g := range p.Groups {
			if _, err := tx.Exec(ctx, member, p.ID, g); err != nil {
				return 0, fmt.Errorf("add post %d to %s: %w", p.ID, g, err)
			}
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit upsert: %w", err)
	}
	return len(posts), nil
}
