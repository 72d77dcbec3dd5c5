package backup

import "time"

// Status classifies the outcome of a single backup pass.
type Status string

const (
	// StatusCreated marks an entry whose snapshot was written to disk.
	StatusCreated Status = "Created"
	// StatusSkipped marks an entry recorded without a snapshot because
	// the collection content had not changed.
	StatusSkipped Status = "Skipped"
)

// SkipReasonUnchanged is the only skip reason currently recorded.
const SkipReasonUnchanged = "Unchanged"

// Entry is one row of backup history. Created entries reference a snapshot
// directory under root/backups/; Skipped entries have an empty TimestampDir,
// no stats, and zero size. Entries are immutable once inserted and are
// removed only by retention pruning.
type Entry struct {
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	TimestampDir   string    `json:"timestamp_dir"`
	ContentHash    string    `json:"content_hash"`
	Status         Status    `json:"status"`
	SkipReason     string    `json:"skip_reason,omitempty"`
	SourceRevision string    `json:"source_revision,omitempty"`
	SyncDurationMS int64     `json:"sync_duration_ms,omitempty"`
	SizeBytes      int64     `json:"size_bytes"`
	Stats          *Stats    `json:"stats,omitempty"`
}

// Stats holds structural counts extracted from a snapshot's collection
// database at backup time.
type Stats struct {
	TotalCards  int64       `json:"total_cards"`
	TotalDecks  int64       `json:"total_decks"`
	TotalNotes  int64       `json:"total_notes"`
	TotalRevlog int64       `json:"total_revlog"`
	DeckStats   []DeckStats `json:"deck_stats"`
}

// DeckStats is the per-deck card count within a snapshot.
type DeckStats struct {
	DeckID    int64  `json:"deck_id"`
	DeckName  string `json:"deck_name"`
	CardCount int64  `json:"card_count"`
}

// SyncResult is the outcome of one collection fetch. It is consumed by
// Repository.RunOnce and never persisted as-is.
type SyncResult struct {
	Collection     []byte
	SourceRevision string
	SyncDurationMS int64
}

// CurrentPointer names the snapshot the repository currently considers
// authoritative. It lives at root/state/current-pointer.json and is always
// replaced via temp file + rename.
type CurrentPointer struct {
	BackupID     string    `json:"backup_id"`
	TimestampDir string    `json:"timestamp_dir"`
	UpdatedAt    time.Time `json:"updated_at"`
}
