package ankiweb

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"ankibak-go/internal/backup"
)

// CommandClient runs an external sync command and reads the collection
// file it leaves behind. Useful when the official client (or another tool)
// already handles the sync and only the resulting file is wanted.
type CommandClient struct {
	command        string
	collectionPath string
	logger         backup.Logger
}

var _ backup.SyncClient = (*CommandClient)(nil)

// NewCommandClient validates the command configuration up front so a bad
// setup fails before anything runs.
func NewCommandClient(command, collectionPath string, logger backup.Logger) (*CommandClient, error) {
	if command == "" {
		return nil, fmt.Errorf("sync command is empty")
	}
	if collectionPath == "" {
		return nil, fmt.Errorf("collection path is required with a sync command")
	}
	if logger == nil {
		logger = backup.NewNopLogger()
	}
	return &CommandClient{
		command:        command,
		collectionPath: collectionPath,
		logger:         logger,
	}, nil
}

// Fetch runs the command through the shell and reads the collection file.
// The reported duration covers both steps.
func (c *CommandClient) Fetch(ctx context.Context) (*backup.SyncResult, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, "sh", "-c", c.command)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("running sync command: %w (output: %s)", err, strings.TrimSpace(string(output)))
	}
	c.logger.Debug("sync command finished", "command", c.command)

	data, err := os.ReadFile(c.collectionPath)
	if err != nil {
		return nil, fmt.Errorf("reading collection file: %w", err)
	}

	elapsed := time.Since(start)
	c.logger.Info("collection read after sync command",
		"path", c.collectionPath,
		"size_bytes", len(data),
		"duration_ms", elapsed.Milliseconds())

	return &backup.SyncResult{
		Collection:     data,
		SyncDurationMS: elapsed.Milliseconds(),
	}, nil
}
