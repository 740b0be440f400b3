package calllog_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxdesk/voxdesk/internal/calllog"
	"github.com/voxdesk/voxdesk/internal/session"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if VOXDESK_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("VOXDESK_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VOXDESK_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [calllog.Store] with a clean schema and
// registers cleanup to close it.
func newTestStore(t *testing.T) *calllog.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)
	if _, err := pool.Exec(ctx, `DROP TABLE IF EXISTS call_transcripts, calls CASCADE`); err != nil {
		t.Fatalf("drop schema: %v", err)
	}

	store, err := calllog.NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func testRecord(id string) session.Record {
	started := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	return session.Record{
		SessionID: id,
		StartedAt: started,
		EndedAt:   started.Add(2 * time.Minute),
		Transcript: []session.TranscriptEntry{
			{ID: 1, Speaker: "user", Text: "Hi, I'd like to book an appointment."},
			{ID: 2, Speaker: "assistant", Text: "Of course, what day works for you?"},
		},
		Diagnostics: session.Diagnostics{
			LatencyMs:     42,
			Interruptions: 1,
		},
	}
}

func TestArchiveAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("sess-1")
	if err := store.Archive(ctx, rec); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	call, err := store.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if call.SessionID != "sess-1" {
		t.Errorf("SessionID = %q, want sess-1", call.SessionID)
	}
	if call.Interruptions != 1 {
		t.Errorf("Interruptions = %d, want 1", call.Interruptions)
	}
	if len(call.Transcript) != 2 {
		t.Fatalf("transcript length = %d, want 2", len(call.Transcript))
	}
	if call.Transcript[0].Speaker != "user" || call.Transcript[1].Speaker != "assistant" {
		t.Errorf("transcript order wrong: %+v", call.Transcript)
	}
}

func TestArchive_ReplacesOnConflict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("sess-2")
	if err := store.Archive(ctx, rec); err != nil {
		t.Fatalf("first Archive: %v", err)
	}

	rec.Diagnostics.Interruptions = 5
	rec.Transcript = rec.Transcript[:1]
	if err := store.Archive(ctx, rec); err != nil {
		t.Fatalf("second Archive: %v", err)
	}

	call, err := store.Get(ctx, "sess-2")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if call.Interruptions != 5 {
		t.Errorf("Interruptions = %d, want 5 after re-archive", call.Interruptions)
	}
	if len(call.Transcript) != 1 {
		t.Errorf("transcript length = %d, want 1 after re-archive", len(call.Transcript))
	}
}

func TestRecent_NewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	older := testRecord("sess-old")
	newer := testRecord("sess-new")
	newer.StartedAt = older.StartedAt.Add(time.Hour)
	newer.EndedAt = newer.StartedAt.Add(time.Minute)

	for _, rec := range []session.Record{older, newer} {
		if err := store.Archive(ctx, rec); err != nil {
			t.Fatalf("Archive %s: %v", rec.SessionID, err)
		}
	}

	calls, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(calls) != 2 {
		t.Fatalf("len = %d, want 2", len(calls))
	}
	if calls[0].SessionID != "sess-new" {
		t.Errorf("first call = %q, want sess-new", calls[0].SessionID)
	}
}

func TestRecent_EmptyStore(t *testing.T) {
	store := newTestStore(t)

	calls, err := store.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if calls == nil {
		t.Error("Recent should return an empty slice, not nil")
	}
	if len(calls) != 0 {
		t.Errorf("len = %d, want 0", len(calls))
	}
}
