package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"ankibak-go/internal/backup"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "metadata.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createdEntry(id, hash string, createdAt time.Time) *backup.Entry {
	return &backup.Entry{
		ID:           id,
		CreatedAt:    createdAt,
		TimestampDir: createdAt.UTC().Format("2006-01-02T15-04-05Z07:00"),
		ContentHash:  hash,
		Status:       backup.StatusCreated,
		SizeBytes:    2048,
		Stats: &backup.Stats{
			TotalCards:  3,
			TotalDecks:  2,
			TotalNotes:  2,
			TotalRevlog: 1,
			DeckStats: []backup.DeckStats{
				{DeckID: 1, DeckName: "Default", CardCount: 2},
				{DeckID: 2, DeckName: "Spanish", CardCount: 1},
			},
		},
	}
}

func skippedEntry(id, hash string, createdAt time.Time) *backup.Entry {
	return &backup.Entry{
		ID:          id,
		CreatedAt:   createdAt,
		ContentHash: hash,
		Status:      backup.StatusSkipped,
		SkipReason:  backup.SkipReasonUnchanged,
	}
}

func TestSQLiteStore_InsertAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

	want := createdEntry("b-1", "hash-1", at)
	want.SourceRevision = "rev-42"
	want.SyncDurationMS = 1500
	if err := s.InsertEntry(ctx, want); err != nil {
		t.Fatalf("InsertEntry() error = %v", err)
	}

	got, err := s.GetBackup(ctx, "b-1")
	if err != nil {
		t.Fatalf("GetBackup() error = %v", err)
	}
	if got == nil {
		t.Fatal("GetBackup() = nil, want the inserted entry")
	}
	if got.ID != want.ID || !got.CreatedAt.Equal(want.CreatedAt) || got.TimestampDir != want.TimestampDir {
		t.Errorf("GetBackup() = %+v, want %+v", got, want)
	}
	if got.ContentHash != "hash-1" || got.Status != backup.StatusCreated {
		t.Errorf("GetBackup() hash/status = %q/%q, want hash-1/Created", got.ContentHash, got.Status)
	}
	if got.SourceRevision != "rev-42" || got.SyncDurationMS != 1500 || got.SizeBytes != 2048 {
		t.Errorf("GetBackup() revision/duration/size = %q/%d/%d, want rev-42/1500/2048",
			got.SourceRevision, got.SyncDurationMS, got.SizeBytes)
	}
	if got.Stats == nil || got.Stats.TotalCards != 3 || len(got.Stats.DeckStats) != 2 {
		t.Errorf("GetBackup() stats = %+v, want the inserted stats", got.Stats)
	}
}

func TestSQLiteStore_GetBackup_Absent(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetBackup(context.Background(), "no-such-id")
	if err != nil {
		t.Fatalf("GetBackup() error = %v", err)
	}
	if got != nil {
		t.Errorf("GetBackup() = %+v, want nil", got)
	}
}

func TestSQLiteStore_SkippedEntryRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.InsertEntry(ctx, skippedEntry("b-skip", "hash-1", time.Now().UTC())); err != nil {
		t.Fatalf("InsertEntry() error = %v", err)
	}
	got, err := s.GetBackup(ctx, "b-skip")
	if err != nil {
		t.Fatalf("GetBackup() error = %v", err)
	}
	if got.Status != backup.StatusSkipped {
		t.Errorf("Status = %q, want %q", got.Status, backup.StatusSkipped)
	}
	if got.SkipReason != backup.SkipReasonUnchanged {
		t.Errorf("SkipReason = %q, want %q", got.SkipReason, backup.SkipReasonUnchanged)
	}
	if got.TimestampDir != "" || got.SizeBytes != 0 || got.Stats != nil {
		t.Errorf("skipped entry = %+v, want empty dir, zero size, nil stats", got)
	}
}

func TestSQLiteStore_ListBackups_NewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	// Inserted out of chronological order on purpose.
	for _, e := range []*backup.Entry{
		createdEntry("b-2", "hash-2", base.Add(time.Hour)),
		createdEntry("b-1", "hash-1", base),
		skippedEntry("b-3", "hash-2", base.Add(2*time.Hour)),
	} {
		if err := s.InsertEntry(ctx, e); err != nil {
			t.Fatalf("InsertEntry(%s) error = %v", e.ID, err)
		}
	}

	entries, err := s.ListBackups(ctx)
	if err != nil {
		t.Fatalf("ListBackups() error = %v", err)
	}
	wantOrder := []string{"b-3", "b-2", "b-1"}
	if len(entries) != len(wantOrder) {
		t.Fatalf("ListBackups() returned %d entries, want %d", len(entries), len(wantOrder))
	}
	for i, id := range wantOrder {
		if entries[i].ID != id {
			t.Errorf("entries[%d].ID = %q, want %q", i, entries[i].ID, id)
		}
	}
}

func TestSQLiteStore_LastCreatedHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	hash, err := s.LastCreatedHash(ctx)
	if err != nil {
		t.Fatalf("LastCreatedHash() error = %v", err)
	}
	if hash != "" {
		t.Errorf("LastCreatedHash() = %q on empty store, want empty", hash)
	}

	if err := s.InsertEntry(ctx, createdEntry("b-1", "hash-1", base)); err != nil {
		t.Fatalf("InsertEntry() error = %v", err)
	}
	// Later skips must not shift the baseline.
	if err := s.InsertEntry(ctx, skippedEntry("b-2", "hash-other", base.Add(time.Hour))); err != nil {
		t.Fatalf("InsertEntry() error = %v", err)
	}

	hash, err = s.LastCreatedHash(ctx)
	if err != nil {
		t.Fatalf("LastCreatedHash() error = %v", err)
	}
	if hash != "hash-1" {
		t.Errorf("LastCreatedHash() = %q, want %q", hash, "hash-1")
	}

	if err := s.InsertEntry(ctx, createdEntry("b-3", "hash-3", base.Add(2*time.Hour))); err != nil {
		t.Fatalf("InsertEntry() error = %v", err)
	}
	hash, err = s.LastCreatedHash(ctx)
	if err != nil {
		t.Fatalf("LastCreatedHash() error = %v", err)
	}
	if hash != "hash-3" {
		t.Errorf("LastCreatedHash() = %q, want %q", hash, "hash-3")
	}
}

func TestSQLiteStore_InsertRollbackEvent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.InsertEntry(ctx, createdEntry("b-1", "hash-1", time.Now().UTC())); err != nil {
		t.Fatalf("InsertEntry() error = %v", err)
	}
	if err := s.InsertRollbackEvent(ctx, "b-1"); err != nil {
		t.Fatalf("InsertRollbackEvent() error = %v", err)
	}
	if err := s.InsertRollbackEvent(ctx, "b-1"); err != nil {
		t.Fatalf("second InsertRollbackEvent() error = %v", err)
	}

	db, err := s.connect()
	if err != nil {
		t.Fatalf("connect() error = %v", err)
	}
	defer db.Close()
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM rollback_events WHERE backup_id = 'b-1'").Scan(&count); err != nil {
		t.Fatalf("counting rollback events: %v", err)
	}
	if count != 2 {
		t.Errorf("rollback events = %d, want 2", count)
	}
}

func TestSQLiteStore_PruneCreatedBefore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	old := createdEntry("b-old", "hash-1", base.AddDate(0, 0, -30))
	oldSkip := skippedEntry("b-old-skip", "hash-1", base.AddDate(0, 0, -30))
	recent := createdEntry("b-recent", "hash-2", base)
	for _, e := range []*backup.Entry{old, oldSkip, recent} {
		if err := s.InsertEntry(ctx, e); err != nil {
			t.Fatalf("InsertEntry(%s) error = %v", e.ID, err)
		}
	}

	pruned, err := s.PruneCreatedBefore(ctx, base.AddDate(0, 0, -7))
	if err != nil {
		t.Fatalf("PruneCreatedBefore() error = %v", err)
	}
	if len(pruned) != 1 {
		t.Fatalf("PruneCreatedBefore() = %v, want exactly the old created entry", pruned)
	}
	if pruned[0].ID != "b-old" || pruned[0].TimestampDir != old.TimestampDir {
		t.Errorf("pruned[0] = %+v, want {b-old %s}", pruned[0], old.TimestampDir)
	}

	// Old skipped rows survive; only created rows age out.
	for _, id := range []string{"b-old-skip", "b-recent"} {
		got, err := s.GetBackup(ctx, id)
		if err != nil {
			t.Fatalf("GetBackup(%s) error = %v", id, err)
		}
		if got == nil {
			t.Errorf("GetBackup(%s) = nil, want entry to survive pruning", id)
		}
	}
	if got, err := s.GetBackup(ctx, "b-old"); err != nil || got != nil {
		t.Errorf("GetBackup(b-old) = %+v, %v; want nil after pruning", got, err)
	}
}

func TestSQLiteStore_ConcurrentInserts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func(i int) {
			e := skippedEntry(
				"b-"+string(rune('a'+i)),
				"hash-1",
				base.Add(time.Duration(i)*time.Second),
			)
			done <- s.InsertEntry(ctx, e)
		}(i)
	}
	for i := 0; i < 8; i++ {
		if err := <-done; err != nil {
			t.Errorf("concurrent InsertEntry() error = %v", err)
		}
	}

	entries, err := s.ListBackups(ctx)
	if err != nil {
		t.Fatalf("ListBackups() error = %v", err)
	}
	if len(entries) != 8 {
		t.Errorf("ListBackups() returned %d entries, want 8", len(entries))
	}
}
