package history

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vmunix/tonegrab/internal/migrations"
	"github.com/vmunix/tonegrab/internal/queue"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.Exec(migrations.InitialSQL); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return NewStore(db)
}

func record(t *testing.T, s *Store, rec queue.Outcome) {
	t.Helper()
	if err := s.Record(context.Background(), rec); err != nil {
		t.Fatalf("record: %v", err)
	}
}

func TestStoreRecordAndList(t *testing.T) {
	s := setupTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	record(t, s, queue.Outcome{
		RequestID:  "req-1",
		ItemID:     "item-1",
		Title:      "First Track",
		URL:        "https://example.com/watch?v=item-1",
		Format:     "mp3",
		Phase:      queue.PhaseCompleted,
		OutputPath: "/music/First Track.mp3",
		FinishedAt: now.Add(-time.Minute),
	})
	record(t, s, queue.Outcome{
		RequestID:  "req-1",
		ItemID:     "item-2",
		Title:      "Second Track",
		URL:        "https://example.com/watch?v=item-2",
		Format:     "mp3",
		Phase:      queue.PhaseFailed,
		Reason:     "video unavailable",
		FinishedAt: now,
	})

	entries, err := s.List(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	// Most recent first.
	if entries[0].ItemID != "item-2" {
		t.Errorf("first entry = %s, want item-2", entries[0].ItemID)
	}
	if entries[0].Outcome != "failed" || entries[0].Reason != "video unavailable" {
		t.Errorf("entry = %s/%q, want failed with reason", entries[0].Outcome, entries[0].Reason)
	}
	if entries[1].Outcome != "completed" || entries[1].OutputPath != "/music/First Track.mp3" {
		t.Errorf("entry = %s/%q, want completed with output path", entries[1].Outcome, entries[1].OutputPath)
	}
}

func TestStoreListFilters(t *testing.T) {
	s := setupTestStore(t)
	now := time.Now().UTC()

	for i, phase := range []queue.Phase{queue.PhaseCompleted, queue.PhaseFailed, queue.PhaseCancelled} {
		record(t, s, queue.Outcome{
			RequestID:  "req-1",
			ItemID:     "item-a",
			Format:     "flac",
			Phase:      phase,
			FinishedAt: now.Add(time.Duration(i) * time.Second),
		})
	}
	record(t, s, queue.Outcome{
		RequestID:  "req-2",
		ItemID:     "item-b",
		Format:     "flac",
		Phase:      queue.PhaseCompleted,
		FinishedAt: now,
	})

	byRequest, err := s.List(context.Background(), Filter{RequestID: "req-2"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(byRequest) != 1 || byRequest[0].ItemID != "item-b" {
		t.Errorf("request filter returned %d entries", len(byRequest))
	}

	failed, err := s.List(context.Background(), Filter{Outcome: "failed"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(failed) != 1 {
		t.Errorf("outcome filter returned %d entries, want 1", len(failed))
	}

	limited, err := s.List(context.Background(), Filter{Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("limit filter returned %d entries, want 2", len(limited))
	}
}

func TestOpenCreatesDatabase(t *testing.T) {
	path := t.TempDir() + "/sub/history.db"
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = s.Close() }()

	record(t, s, queue.Outcome{
		RequestID:  "req-1",
		ItemID:     "item-1",
		Format:     "opus",
		Phase:      queue.PhaseCompleted,
		FinishedAt: time.Now().UTC(),
	})
	entries, err := s.List(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("entries = %d, want 1", len(entries))
	}
}
