package relay

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"accord/api/internal/record"
)

func setupTestRelay(t *testing.T) *Relay {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	r := NewWithClient(client)
	t.Cleanup(func() { r.Close() })
	return r
}

func relayRecord(recordID, tag string, publishedAt int64) record.Record {
	return record.Record{
		RecordID:       recordID,
		CorrelationTag: tag,
		AuthorID:       "alice",
		PublishedAt:    publishedAt,
		Payload: record.DocumentBody{
			DocumentID:      record.ContentID("relay test"),
			BodyText:        "relay test",
			SignersRequired: 1,
		},
	}
}

func TestPublishAndFetch(t *testing.T) {
	r := setupTestRelay(t)
	ctx := context.Background()

	if err := r.Publish(ctx, relayRecord("rec-1", "agr-1", 100)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := r.Publish(ctx, relayRecord("rec-2", "agr-1", 200)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	records, err := r.Fetch(ctx, "agr-1")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
}

func TestPublishIsIdempotentPerRecordID(t *testing.T) {
	r := setupTestRelay(t)
	ctx := context.Background()

	rec := relayRecord("rec-1", "agr-1", 100)
	if err := r.Publish(ctx, rec); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	// A second relay mirrors the same record.
	if err := r.Publish(ctx, rec); err != nil {
		t.Fatalf("republish failed: %v", err)
	}

	records, err := r.Fetch(ctx, "agr-1")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("republish duplicated record: %d entries", len(records))
	}
}

func TestPublishRejectsUnpublishedRecord(t *testing.T) {
	r := setupTestRelay(t)
	rec := relayRecord("", "agr-1", 100)
	if err := r.Publish(context.Background(), rec); err == nil {
		t.Error("expected error publishing record without id")
	}
}

func TestFetchUnknownLineage(t *testing.T) {
	r := setupTestRelay(t)
	records, err := r.Fetch(context.Background(), "agr-unknown")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected empty set, got %d records", len(records))
	}
}

func TestLineageIsolation(t *testing.T) {
	r := setupTestRelay(t)
	ctx := context.Background()

	if err := r.Publish(ctx, relayRecord("rec-1", "agr-a", 100)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := r.Publish(ctx, relayRecord("rec-2", "agr-b", 100)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	records, err := r.Fetch(ctx, "agr-a")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(records) != 1 || records[0].RecordID != "rec-1" {
		t.Errorf("lineages bleed together: %+v", records)
	}
}
