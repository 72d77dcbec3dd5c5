package ankiweb

import (
	"ankibak-go/internal/backup"
	"ankibak-go/internal/config"
)

// NewFromConfig builds the sync client selected by the configuration: the
// command variant when a sync command is set, the direct protocol client
// otherwise.
func NewFromConfig(cfg config.AnkiwebConfig, logger backup.Logger) (backup.SyncClient, error) {
	if cfg.SyncCommand != "" {
		return NewCommandClient(cfg.SyncCommand, cfg.CollectionPath, logger)
	}
	return NewClient(cfg.Username, cfg.Password, cfg.Endpoint, logger), nil
}
