package backup

import "context"

// SyncClient fetches the current remote collection state. Implementations
// include the direct AnkiWeb protocol client and the external-command
// variant; the repository only ever sees the resulting bytes.
type SyncClient interface {
	Fetch(ctx context.Context) (*SyncResult, error)
}

// Replicator mirrors a Created snapshot to secondary storage. Replication
// failures are reported to the caller but must never affect repository
// state.
type Replicator interface {
	Replicate(ctx context.Context, entry *Entry, collectionPath string) error
}
