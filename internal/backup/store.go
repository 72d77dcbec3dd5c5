package backup

import (
	"context"
	"time"
)

// PrunedBackup identifies one Created entry removed by retention pruning,
// so the repository can delete the matching snapshot directory.
type PrunedBackup struct {
	ID           string
	TimestampDir string
}

// MetadataStore persists backup history. Implementations must be safe for
// concurrent use; the scheduler and the serving layer call them without any
// external lock.
type MetadataStore interface {
	// InsertEntry inserts a fully-formed entry. The caller generates the id.
	InsertEntry(ctx context.Context, entry *Entry) error

	// ListBackups returns all entries ordered by created_at descending.
	ListBackups(ctx context.Context) ([]*Entry, error)

	// GetBackup returns a single entry by id, or nil when absent.
	GetBackup(ctx context.Context, id string) (*Entry, error)

	// InsertRollbackEvent appends an audit event for a rollback. The store
	// generates the event id and timestamp.
	InsertRollbackEvent(ctx context.Context, backupID string) error

	// LastCreatedHash returns the content hash of the most recent Created
	// entry, or "" when none exists. This is the sole dedup oracle;
	// intervening Skipped entries never shift it.
	LastCreatedHash(ctx context.Context) (string, error)

	// PruneCreatedBefore deletes Created entries with created_at before
	// cutoff and returns what it removed.
	PruneCreatedBefore(ctx context.Context, cutoff time.Time) ([]PrunedBackup, error)

	// Close releases the underlying database resources.
	Close() error
}
