package store

import (
	"strings"

	"ankibak-go/internal/backup"
)

// NewFromDatabaseURL selects a backend by connection-string scheme: a
// postgres:// or postgresql:// URL selects Postgres; anything else,
// including an empty string, selects the embedded SQLite store at
// sqlitePath.
func NewFromDatabaseURL(databaseURL, sqlitePath string) (backup.MetadataStore, error) {
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		return NewPostgresStore(databaseURL)
	}
	return NewSQLiteStore(sqlitePath)
}
