package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"accord/api/internal/record"
)

func getTestDatabaseURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping database integration test")
	}
	return url
}

func openTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	ctx := context.Background()
	db, err := Open(ctx, getTestDatabaseURL(t))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewPostgresStore(db)
}

func testRecord(tag string) record.Record {
	body := record.DocumentBody{
		DocumentID:      record.ContentID("integration test agreement"),
		Title:           "Integration Test",
		BodyText:        "integration test agreement",
		Version:         1,
		CreatedAt:       100,
		SignersRequired: 2,
	}
	return record.Record{
		CorrelationTag:  tag,
		AuthorID:        "tester",
		PublishedAt:     100,
		RequiredSigners: []string{"alice", "bob"},
		Payload:         body,
	}
}

func TestPublishAndListRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	s := openTestStore(t)
	ctx := context.Background()

	tag := "agr-test-roundtrip"
	published, err := s.PublishRecord(ctx, testRecord(tag))
	if err != nil {
		t.Fatalf("publish record: %v", err)
	}
	if published.RecordID == "" {
		t.Fatal("publish did not assign a record id")
	}

	records, err := s.ListRecordsByTag(ctx, tag)
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	found := false
	for _, rec := range records {
		if rec.RecordID == published.RecordID {
			found = true
			if rec.Payload.BodyText != published.Payload.BodyText {
				t.Errorf("payload mangled in storage: %+v", rec.Payload)
			}
			if len(rec.RequiredSigners) != 2 {
				t.Errorf("required signers lost: %v", rec.RequiredSigners)
			}
		}
	}
	if !found {
		t.Fatal("published record not returned by ListRecordsByTag")
	}
}

// TestRecordsAreAppendOnly verifies the database trigger rejects UPDATE and
// DELETE on published records.
func TestRecordsAreAppendOnly(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	s := openTestStore(t)
	ctx := context.Background()

	published, err := s.PublishRecord(ctx, testRecord("agr-test-immutable"))
	if err != nil {
		t.Fatalf("publish record: %v", err)
	}

	_, err = s.DB().ExecContext(ctx, `UPDATE records SET author_id = 'mallory' WHERE record_id = $1`, published.RecordID)
	if err == nil {
		t.Fatal("expected UPDATE on records to be blocked")
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		t.Fatalf("expected a postgres error, got %v", err)
	}

	_, err = s.DB().ExecContext(ctx, `DELETE FROM records WHERE record_id = $1`, published.RecordID)
	if err == nil {
		t.Fatal("expected DELETE on records to be blocked")
	}
}

func TestPublishDuplicateRecordID(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	s := openTestStore(t)
	ctx := context.Background()

	rec := testRecord("agr-test-duplicate")
	published, err := s.PublishRecord(ctx, rec)
	if err != nil {
		t.Fatalf("publish record: %v", err)
	}

	rec.RecordID = published.RecordID
	if _, err := s.PublishRecord(ctx, rec); !errors.Is(err, ErrRecordExists) {
		t.Errorf("expected ErrRecordExists, got %v", err)
	}
}
