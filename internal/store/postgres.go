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

	_ "github.com/jackc/pgx/v5/stdlib" // Postgres driver
)

// postgresMaxConns caps the pool; the daemon's scheduler and serving layer
// together never need more.
const postgresMaxConns = 5

// PostgresStore persists backup metadata in Postgres through a pooled
// database/sql handle.
type PostgresStore struct {
	db *sql.DB
}

var _ backup.MetadataStore = (*PostgresStore)(nil)

// NewPostgresStore connects to databaseURL and brings the schema up to date.
func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening postgres pool: %w", err)
	}
	db.SetMaxOpenConns(postgresMaxConns)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := migrations.MigratePostgres(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating metadata db: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) InsertEntry(ctx context.Context, entry *backup.Entry) error {
	statsJSON, err := marshalStats(entry.Stats)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO backups (id, created_at, timestamp_dir, content_hash, status, skip_reason,
		 source_revision, sync_duration_ms, size_bytes, stats_json)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID,
		entry.CreatedAt.UTC(),
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

func (s *PostgresStore) ListBackups(ctx context.Context) ([]*backup.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id::text, created_at, timestamp_dir, content_hash, status, skip_reason, source_revision,
		 sync_duration_ms, size_bytes, stats_json
		 FROM backups ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying backups: %w", err)
	}
	defer rows.Close()

	var entries []*backup.Entry
	for rows.Next() {
		entry, err := scanPostgresEntry(rows)
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

func (s *PostgresStore) GetBackup(ctx context.Context, id string) (*backup.Entry, error) {
	if _, err := uuid.Parse(id); err != nil {
		// Malformed ids behave like absent ones, matching the SQLite backend.
		return nil, nil
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id::text, created_at, timestamp_dir, content_hash, status, skip_reason, source_revision,
		 sync_duration_ms, size_bytes, stats_json
		 FROM backups WHERE id = $1`, id)

	entry, err := scanPostgresEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *PostgresStore) InsertRollbackEvent(ctx context.Context, backupID string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO rollback_events (id, backup_id, created_at) VALUES ($1, $2, $3)",
		uuid.New().String(),
		backupID,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting rollback event: %w", err)
	}
	return nil
}

func (s *PostgresStore) LastCreatedHash(ctx context.Context) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx,
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

func (s *PostgresStore) PruneCreatedBefore(ctx context.Context, cutoff time.Time) ([]backup.PrunedBackup, error) {
	rows, err := s.db.QueryContext(ctx,
		`DELETE FROM backups WHERE status = 'created' AND created_at < $1
		 RETURNING id::text, timestamp_dir`, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("pruning backups: %w", err)
	}
	defer rows.Close()

	var pruned []backup.PrunedBackup
	for rows.Next() {
		var p backup.PrunedBackup
		if err := rows.Scan(&p.ID, &p.TimestampDir); err != nil {
			return nil, fmt.Errorf("scanning pruned backup: %w", err)
		}
		pruned = append(pruned, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading pruned backups: %w", err)
	}
	return pruned, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func scanPostgresEntry(row scanner) (*backup.Entry, error) {
	var (
		entry      backup.Entry
		createdAt  time.Time
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

	entry.CreatedAt = createdAt.UTC()
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
