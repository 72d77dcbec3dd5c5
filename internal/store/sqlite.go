package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ankibak-go/internal/backup"
	"ankibak-go/internal/store/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// sqliteTimeLayout is RFC3339 with a fixed-width nanosecond fraction, so
// stored timestamps compare chronologically as strings.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore persists backup metadata in a SQLite file. Every operation
// opens a fresh connection, so ad-hoc inspection of the file with external
// tooling never contends with the daemon over a long-lived lock.
type SQLiteStore struct {
	dbPath string
}

var _ backup.MetadataStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the metadata database at dbPath
// and brings its schema up to date.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	store := &SQLiteStore{dbPath: dbPath}

	db, err := store.connect()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	if err := migrations.MigrateSQLite(db); err != nil {
		return nil, fmt.Errorf("migrating metadata db: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) connect() (*sql.DB, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000", s.dbPath))
	if err != nil {
		return nil, fmt.Errorf("opening metadata db: %w", err)
	}
	return db, nil
}

func (s *SQLiteStore) InsertEntry(ctx context.Context, entry *backup.Entry) error {
	db, err := s.connect()
	if err != nil {
		return err
	}
	defer db.Close()

	statsJSON, err := marshalStats(entry.Stats)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO backups (id, created_at, timestamp_dir, content_hash, status, skip_reason,
		 source_revision, sync_duration_ms, size_bytes, stats_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.CreatedAt.UTC().Format(sqliteTimeLayout),
		entry.TimestampDir,
		entry.ContentHash,
		statusToDB(entry.Status),
		skipReasonToDB(entry.SkipReason),
		nullString(entry.SourceRevision),
		nullInt64(entry.SyncDurationMS),
		entry.SizeBytes,
		statsJSON,
	)
	if err != nil {
		return fmt.Errorf("inserting backup entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListBackups(ctx context.Context) ([]*backup.Entry, error) {
	db, err := s.connect()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx,
		`SELECT id, created_at, timestamp_dir, content_hash, status, skip_reason, source_revision,
		 sync_duration_ms, size_bytes, stats_json
		 FROM backups ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying backups: %w", err)
	}
	defer rows.Close()

	var entries []*backup.Entry
	for rows.Next() {
		entry, err := scanSQLiteEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading backups: %w", err)
	}
	return entries, nil
}

func (s *SQLiteStore) GetBackup(ctx context.Context, id string) (*backup.Entry, error) {
	db, err := s.connect()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	row := db.QueryRowContext(ctx,
		`SELECT id, created_at, timestamp_dir, content_hash, status, skip_reason, source_revision,
		 sync_duration_ms, size_bytes, stats_json
		 FROM backups WHERE id = ?`, id)

	entry, err := scanSQLiteEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *SQLiteStore) InsertRollbackEvent(ctx context.Context, backupID string) error {
	db, err := s.connect()
	if err != nil {
		return err
	}
	defer db.Close()

	_, err = db.ExecContext(ctx,
		"INSERT INTO rollback_events (id, backup_id, created_at) VALUES (?, ?, ?)",
		uuid.New().String(),
		backupID,
		time.Now().UTC().Format(sqliteTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting rollback event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LastCreatedHash(ctx context.Context) (string, error) {
	db, err := s.connect()
	if err != nil {
		return "", err
	}
	defer db.Close()

	var hash string
	err = db.QueryRowContext(ctx,
		"SELECT content_hash FROM backups WHERE status = 'created' ORDER BY created_at DESC LIMIT 1",
	).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("querying last created hash: %w", err)
	}
	return hash, nil
}

func (s *SQLiteStore) PruneCreatedBefore(ctx context.Context, cutoff time.Time) ([]backup.PrunedBackup, error) {
	db, err := s.connect()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx,
		"SELECT id, timestamp_dir FROM backups WHERE status = 'created' AND created_at < ?",
		cutoff.UTC().Format(sqliteTimeLayout))
	if err != nil {
		return nil, fmt.Errorf("querying prunable backups: %w", err)
	}
	defer rows.Close()

	var pruned []backup.PrunedBackup
	for rows.Next() {
		var p backup.PrunedBackup
		if err := rows.Scan(&p.ID, &p.TimestampDir); err != nil {
			return nil, fmt.Errorf("scanning prunable backup: %w", err)
		}
		pruned = append(pruned, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading prunable backups: %w", err)
	}

	for _, p := range pruned {
		if _, err := db.ExecContext(ctx, "DELETE FROM backups WHERE id = ?", p.ID); err != nil {
			return nil, fmt.Errorf("deleting backup %s: %w", p.ID, err)
		}
	}
	return pruned, nil
}

// Close is a no-op: connections are per-operation.
func (s *SQLiteStore) Close() error { return nil }

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSQLiteEntry(row scanner) (*backup.Entry, error) {
	var (
		entry      backup.Entry
		createdAt  string
		status     string
		skipReason sql.NullString
		sourceRev  sql.NullString
		durationMS sql.NullInt64
		statsJSON  sql.NullString
	)
	if err := row.Scan(&entry.ID, &createdAt, &entry.TimestampDir, &entry.ContentHash, &status,
		&skipReason, &sourceRev, &durationMS, &entry.SizeBytes, &statsJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning backup entry: %w", err)
	}

	ts, err := time.Parse(sqliteTimeLayout, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at %q: %w", createdAt, err)
	}
	entry.CreatedAt = ts.UTC()
	entry.Status = statusFromDB(status)
	entry.SkipReason = skipReasonFromDB(skipReason.String)
	entry.SourceRevision = sourceRev.String
	entry.SyncDurationMS = durationMS.Int64

	stats, err := unmarshalStats(statsJSON.String)
	if err != nil {
		return nil, err
	}
	entry.Stats = stats
	return &entry, nil
}
