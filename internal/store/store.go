// Package store provides the MetadataStore backends: an embedded SQLite
// store and a pooled Postgres store. Both backends are observably identical
// per operation; schemas are managed by embedded golang-migrate files.
package store

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"ankibak-go/internal/backup"
)

// Statuses and skip reasons are stored lowercase; the backup package carries
// the capitalized wire form.

func statusToDB(s backup.Status) string {
	if s == backup.StatusSkipped {
		return "skipped"
	}
	return "created"
}

func statusFromDB(raw string) backup.Status {
	if strings.EqualFold(raw, "skipped") {
		return backup.StatusSkipped
	}
	return backup.StatusCreated
}

func skipReasonToDB(reason string) any {
	if reason == "" {
		return nil
	}
	return strings.ToLower(reason)
}

func skipReasonFromDB(raw string) string {
	if raw == "" {
		return ""
	}
	return backup.SkipReasonUnchanged
}

func marshalStats(stats *backup.Stats) (any, error) {
	if stats == nil {
		return nil, nil
	}
	data, err := json.Marshal(stats)
	if err != nil {
		return nil, fmt.Errorf("serializing stats: %w", err)
	}
	return string(data), nil
}

func unmarshalStats(raw string) (*backup.Stats, error) {
	if raw == "" {
		return nil, nil
	}
	var stats backup.Stats
	if err := json.Unmarshal([]byte(raw), &stats); err != nil {
		return nil, fmt.Errorf("parsing stats json: %w", err)
	}
	return &stats, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt64(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
