package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
)

const (
	backupsDirName     = "backups"
	stateDirName       = "state"
	collectionFileName = "collection.anki2"
	metadataFileName   = "metadata.json"
	pointerFileName    = "current-pointer.json"

	timestampDirLayout = "2006-01-02T15-04-05Z07:00"
)

// Repository owns the on-disk snapshot tree and coordinates dedup, stats
// extraction, pointer updates, retention, and rollback against a
// MetadataStore:
//
//	<root>/
//	  backups/
//	    <timestamp>/collection.anki2
//	    <timestamp>/metadata.json
//	  state/
//	    current-pointer.json
//	    metadata.db        (SQLite backend only)
type Repository struct {
	root   string
	store  MetadataStore
	logger Logger
	clock  Clock
	idgen  IDGenerator
}

// NewRepository creates the backups/ and state/ directories under root and
// binds the repository to its metadata store.
func NewRepository(root string, store MetadataStore, logger Logger, clock Clock, idgen IDGenerator) (*Repository, error) {
	if err := os.MkdirAll(filepath.Join(root, backupsDirName), 0755); err != nil {
		return nil, fmt.Errorf("creating backups directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(root, stateDirName), 0755); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	return &Repository{
		root:   root,
		store:  store,
		logger: logger,
		clock:  clock,
		idgen:  idgen,
	}, nil
}

// RunOnce records the outcome of one backup pass. When contentHash matches
// the most recent Created entry, the pass is recorded as Skipped and nothing
// is written to disk. Otherwise a new snapshot directory is created, the
// collection is written into it, stats are extracted from the written file,
// and the current pointer is repointed at the new snapshot.
func (r *Repository) RunOnce(ctx context.Context, result *SyncResult, contentHash string) (*Entry, error) {
	now := r.clock.Now().UTC()

	lastHash, err := r.store.LastCreatedHash(ctx)
	if err != nil {
		return nil, fmt.Errorf("checking last created hash: %w", err)
	}
	if lastHash != "" && lastHash == contentHash {
		entry := &Entry{
			ID:          r.idgen.New(),
			CreatedAt:   now,
			ContentHash: contentHash,
			Status:      StatusSkipped,
			SkipReason:  SkipReasonUnchanged,
		}
		if err := r.store.InsertEntry(ctx, entry); err != nil {
			return nil, fmt.Errorf("recording skipped backup: %w", err)
		}
		r.logger.Info("backup skipped", "reason", "unchanged", "hash", contentHash)
		return entry, nil
	}

	timestampDir := formatTimestampDir(now)
	backupDir := filepath.Join(r.root, backupsDirName, timestampDir)
	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return nil, fmt.Errorf("creating backup dir %s: %w", backupDir, err)
	}

	collectionPath := filepath.Join(backupDir, collectionFileName)
	if err := os.WriteFile(collectionPath, result.Collection, 0644); err != nil {
		return nil, fmt.Errorf("writing collection file: %w", err)
	}

	stats, err := ReadCollectionStats(collectionPath)
	if err != nil {
		return nil, fmt.Errorf("extracting backup stats: %w", err)
	}
	info, err := os.Stat(collectionPath)
	if err != nil {
		return nil, fmt.Errorf("stat collection file: %w", err)
	}

	entry := &Entry{
		ID:             r.idgen.New(),
		CreatedAt:      now,
		TimestampDir:   timestampDir,
		ContentHash:    contentHash,
		Status:         StatusCreated,
		SourceRevision: result.SourceRevision,
		SyncDurationMS: result.SyncDurationMS,
		SizeBytes:      info.Size(),
		Stats:          stats,
	}
	if err := r.store.InsertEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("recording created backup: %w", err)
	}
	if err := r.writeEntryMetadata(entry); err != nil {
		return nil, err
	}
	if err := r.writeCurrentPointer(entry); err != nil {
		return nil, err
	}

	r.logger.Info("backup created", "id", entry.ID, "dir", timestampDir, "size_bytes", entry.SizeBytes)
	return entry, nil
}

// ListBackups returns all entries, newest first.
func (r *Repository) ListBackups(ctx context.Context) ([]*Entry, error) {
	entries, err := r.store.ListBackups(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing backups: %w", err)
	}
	return entries, nil
}

// GetBackup returns one entry by id, or nil when absent.
func (r *Repository) GetBackup(ctx context.Context, id string) (*Entry, error) {
	entry, err := r.store.GetBackup(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading backup %s: %w", id, err)
	}
	return entry, nil
}

// RollbackTo repoints the current pointer at an existing Created entry and
// appends a rollback event. It touches no snapshot files.
func (r *Repository) RollbackTo(ctx context.Context, id string) (*Entry, error) {
	entry, err := r.store.GetBackup(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading backup %s: %w", id, err)
	}
	if entry == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if entry.Status != StatusCreated {
		return nil, fmt.Errorf("%w: %s", ErrNotCreated, id)
	}

	if err := r.writeCurrentPointer(entry); err != nil {
		return nil, err
	}
	if err := r.store.InsertRollbackEvent(ctx, entry.ID); err != nil {
		return nil, fmt.Errorf("recording rollback event: %w", err)
	}

	r.logger.Info("rolled back", "id", entry.ID, "dir", entry.TimestampDir)
	return entry, nil
}

// PruneCreatedOlderThan deletes Created entries older than the retention
// window along with their snapshot directories. days <= 0 disables pruning.
// Skipped entries are never pruned. Returns the number of pruned entries.
func (r *Repository) PruneCreatedOlderThan(ctx context.Context, days int) (int, error) {
	if days <= 0 {
		return 0, nil
	}
	cutoff := r.clock.Now().UTC().AddDate(0, 0, -days)

	pruned, err := r.store.PruneCreatedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning backup rows: %w", err)
	}
	for _, p := range pruned {
		if p.TimestampDir == "" {
			continue
		}
		dir := filepath.Join(r.root, backupsDirName, p.TimestampDir)
		if err := os.RemoveAll(dir); err != nil {
			return 0, fmt.Errorf("removing old backup dir %s: %w", dir, err)
		}
	}

	if err := r.sweepOrphanDirs(ctx, cutoff); err != nil {
		return 0, err
	}

	if len(pruned) > 0 {
		r.logger.Info("pruned old backups", "count", len(pruned), "cutoff", cutoff.Format(time.RFC3339))
	}
	return len(pruned), nil
}

// BackupFilePath returns the path of a Created entry's snapshot file.
func (r *Repository) BackupFilePath(entry *Entry) string {
	return filepath.Join(r.root, backupsDirName, entry.TimestampDir, collectionFileName)
}

// sweepOrphanDirs removes snapshot directories older than cutoff that no
// entry references. These are left behind when an earlier prune deleted rows
// but stopped before removing directories. Directory names that do not parse
// as timestamps are left alone.
func (r *Repository) sweepOrphanDirs(ctx context.Context, cutoff time.Time) error {
	entries, err := r.store.ListBackups(ctx)
	if err != nil {
		return fmt.Errorf("listing backups for orphan sweep: %w", err)
	}
	referenced := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.TimestampDir != "" {
			referenced[e.TimestampDir] = true
		}
	}

	backupsDir := filepath.Join(r.root, backupsDirName)
	dirs, err := os.ReadDir(backupsDir)
	if err != nil {
		return fmt.Errorf("reading backups directory: %w", err)
	}
	for _, d := range dirs {
		if !d.IsDir() || referenced[d.Name()] {
			continue
		}
		ts, err := parseTimestampDir(d.Name())
		if err != nil {
			continue
		}
		if !ts.Before(cutoff) {
			continue
		}
		orphan := filepath.Join(backupsDir, d.Name())
		if err := os.RemoveAll(orphan); err != nil {
			return fmt.Errorf("removing orphan backup dir %s: %w", orphan, err)
		}
		r.logger.Warn("removed orphan backup dir", "dir", d.Name())
	}
	return nil
}

// writeEntryMetadata drops a pretty-printed copy of the entry next to its
// snapshot file, so a backup directory stays interpretable even if the
// metadata database is lost.
func (r *Repository) writeEntryMetadata(entry *Entry) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("serializing backup metadata: %w", err)
	}
	path := filepath.Join(r.root, backupsDirName, entry.TimestampDir, metadataFileName)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing backup metadata: %w", err)
	}
	return nil
}

// writeCurrentPointer atomically replaces state/current-pointer.json so a
// concurrent reader never observes a partial write.
func (r *Repository) writeCurrentPointer(entry *Entry) error {
	ptr := CurrentPointer{
		BackupID:     entry.ID,
		TimestampDir: entry.TimestampDir,
		UpdatedAt:    r.clock.Now().UTC(),
	}
	data, err := json.MarshalIndent(ptr, "", "  ")
	if err != nil {
		return fmt.Errorf("serializing current pointer: %w", err)
	}

	stateDir := filepath.Join(r.root, stateDirName)
	tmpFile, err := os.CreateTemp(stateDir, ".tmp-pointer-*")
	if err != nil {
		return fmt.Errorf("creating pointer temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("writing pointer temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing pointer temp file: %w", err)
	}
	if err := os.Rename(tmpPath, filepath.Join(stateDir, pointerFileName)); err != nil {
		return fmt.Errorf("renaming pointer file: %w", err)
	}

	success = true
	return nil
}

// formatTimestampDir names a snapshot directory after its creation time:
// RFC3339 at second precision, UTC, with colons replaced by dashes so the
// name is valid on every filesystem.
func formatTimestampDir(t time.Time) string {
	return t.UTC().Format(timestampDirLayout)
}

func parseTimestampDir(name string) (time.Time, error) {
	return time.Parse(timestampDirLayout, name)
}
