package producer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/socialscope/internal/corpus"
	collyfetcher "github.com/JakeFAU/socialscope/internal/fetcher/colly"
	"github.com/JakeFAU/socialscope/internal/jobs"
	"github.com/JakeFAU/socialscope/internal/metrics"
)

// Job types handled by the scrapers.
const (
	TypeBoard  = "board"
	TypeThread = "thread"
)

// ScrapeConfig locates the board JSON API.
type ScrapeConfig struct {
	// BaseURL serves <board>/threads.json and <board>/thread/<no>.json.
	BaseURL string
}

type threadPage struct {
	Page    int `json:"page"`
	Threads []struct {
		No           int64 `json:"no"`
		LastModified int64 `json:"last_modified"`
		Replies      int   `json:"replies"`
	} `json:"threads"`
}

type threadDoc struct {
	Posts []struct {
		No      int64  `json:"no"`
		Resto   int64  `json:"resto"`
		Time    int64  `json:"time"`
		Subject string `json:"sub"`
		Name    string `json:"name"`
		Comment string `json:"com"`
	} `json:"posts"`
}

// BoardHandler reads a board's thread index and queues one thread job per thread.
// The job's remote id is the board name; board jobs are usually recurring.
type BoardHandler struct {
	fetch  JSONFetcher
	queue  Enqueuer
	cfg    ScrapeConfig
	logger *zap.Logger
}

// NewBoardHandler wires a BoardHandler.
func NewBoardHandler(fetch JSONFetcher, queue Enqueuer, cfg ScrapeConfig, logger *zap.Logger) *BoardHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BoardHandler{fetch: fetch, queue: queue, cfg: cfg, logger: logger.Named("board")}
}

// Handle implements worker.Handler.
func (h *BoardHandler) Handle(ctx context.Context, job jobs.Job) error {
	board := job.RemoteID
	if board == "" {
		return jobs.NoRetry(fmt.Errorf("board job %d has no board", job.ID))
	}
	var pages []threadPage
	if err := h.fetch.FetchJSON(ctx, boardURL(h.cfg.BaseURL, board, "threads.json"), &pages); err != nil {
		if errors.Is(err, collyfetcher.ErrNotFound) {
			return jobs.NoRetry(err)
		}
		return fmt.Errorf("fetch thread index for %s: %w", board, err)
	}

	queued, known := 0, 0
	for _, page := range pages {
		if err := jobs.CheckInterrupt(ctx); err != nil {
			return err
		}
		for _, thread := range page.Threads {
			_, err := h.queue.Enqueue(ctx, jobs.NewJob{
				Type:     TypeThread,
				RemoteID: ThreadRemoteID(board, thread.No),
				Details: map[string]any{
					"board":         board,
					"last_modified": thread.LastModified,
				},
			})
			switch {
			case errors.Is(err, jobs.ErrJobAlreadyExists):
				known++
			case err != nil:
				return fmt.Errorf("queue thread %d: %w", thread.No, err)
			default:
				queued++
			}
		}
	}
	h.logger.Info("board scraped",
		zap.String("board", board),
		zap.Int("queued", queued),
		zap.Int("already_queued", known),
	)
	return nil
}

// ThreadHandler fetches a thread and upserts its posts into the corpus.
// The job's remote id is "<board>/<thread number>".
type ThreadHandler struct {
	fetch  JSONFetcher
	posts  corpus.Writer
	cfg    ScrapeConfig
	logger *zap.Logger
}

// NewThreadHandler wires a ThreadHandler.
func NewThreadHandler(fetch JSONFetcher, posts corpus.Writer, cfg ScrapeConfig, logger *zap.Logger) *ThreadHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ThreadHandler{fetch: fetch, posts: posts, cfg: cfg, logger: logger.Named("thread")}
}

// Handle implements worker.Handler. A thread that 404s was pruned and is not retried.
func (h *ThreadHandler) Handle(ctx context.Context, job jobs.Job) error {
	board, no, err := ParseThreadRemoteID(job.RemoteID)
	if err != nil {
		return jobs.NoRetry(err)
	}
	var doc threadDoc
	url := boardURL(h.cfg.BaseURL, board, "thread", strconv.FormatInt(no, 10)+".json")
	if err := h.fetch.FetchJSON(ctx, url, &doc); err != nil {
		if errors.Is(err, collyfetcher.ErrNotFound) {
			h.logger.Info("thread gone", zap.String("board", board), zap.Int64("thread", no))
			return jobs.NoRetry(err)
		}
		return fmt.Errorf("fetch thread %s: %w", job.RemoteID, err)
	}
	if err := jobs.CheckInterrupt(ctx); err != nil {
		return err
	}

	posts := make([]corpus.Post, 0, len(doc.Posts))
	for _, p := range doc.Posts {
		threadID := p.Resto
		if threadID == 0 {
			threadID = p.No
		}
		posts = append(posts, corpus.Post{
			ID:        p.No,
			ThreadID:  threadID,
			Timestamp: p.Time,
			Subject:   p.Subject,
			Author:    p.Name,
			Body:      p.Comment,
			Board:     board,
			Groups:    []string{board},
		})
	}
	if len(posts) == 0 {
		return nil
	}
	n, err := h.posts.UpsertPosts(context.WithoutCancel(ctx), posts)
	if err != nil {
		return fmt.Errorf("store posts of %s: %w", job.RemoteID, err)
	}
	metrics.ObserveScrapedPosts(board, n)
	h.logger.Debug("thread scraped", zap.String("board", board), zap.Int64("thread", no), zap.Int("posts", n))
	return nil
}

// ThreadRemoteID builds the remote id of a thread job.
func ThreadRemoteID(board string, no int64) string {
	return board + "/" + strconv.FormatInt(no, 10)
}

// ParseThreadRemoteID splits a thread remote id into board and thread number.
func ParseThreadRemoteID(remoteID string) (string, int64, error) {
	board, raw, ok := strings.Cut(remoteID, "/")
	if !ok || board == "" {
		return "", 0, fmt.Errorf("malformed thread id %q", remoteID)
	}
	no, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || no <= 0 {
		return "", 0, fmt.Errorf("malformed thread id %q", remoteID)
	}
	return board, no, nil
}

func boardURL(base string, parts ...string) string {
	return strings.TrimRight(base, "/") + "/" + strings.Join(parts, "/")
}
