package memory

import (
	"context"
	"testing"

	"github.com/JakeFAU/socialscope/internal/dataset"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "datasets", dataset.FinishedEvent{Key: "a", NumRows: 2})
	if err != nil || id1 != "memory-1" {
		t.Fatalf("unexpected publish result id=%s err=%v", id1, err)
	}
	id2, err := pub.Publish(context.Background(), "other", "payload")
	if err != nil || id2 != "memory-2" {
		t.Fatalf("unexpected publish result id=%s err=%v", id2, err)
	}

	msgs := pub.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Topic != "datasets" || msgs[1].Topic != "other" {
		t.Fatalf("topics not recorded correctly: %+v", msgs)
	}

	msgs[0].Topic = "modified"
	if pub.Messages()[0].Topic == "modified" {
		t.Fatal("expected Messages() to return a copy")
	}
}

func TestPublisherFinishedEvents(t *testing.T) {
	t.Parallel()

	pub := New()
	ctx := context.Background()
	_, _ = pub.Publish(ctx, "datasets", dataset.FinishedEvent{Key: "a"})
	_, _ = pub.Publish(ctx, "datasets", &dataset.FinishedEvent{Key: "b"})
	_, _ = pub.Publish(ctx, "datasets", "not an event")
	_, _ = pub.Publish(ctx, "elsewhere", dataset.FinishedEvent{Key: "c"})

	events := pub.FinishedEvents("datasets")
	if len(events) != 2 || events[0].Key != "a" || events[1].Key != "b" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestPublisherRequiresTopic(t *testing.T) {
	t.Parallel()

	if _, err := New().Publish(context.Background(), "", nil); err == nil {
		t.Fatal("expected error for empty topic")
	}
}
