package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"ankibak-go/internal/ankiweb"
	"ankibak-go/internal/backup"
	"ankibak-go/internal/config"
	"ankibak-go/internal/logging"
	"ankibak-go/internal/offsite"
	"ankibak-go/internal/server"
	"ankibak-go/internal/store"
)

var (
	configPath string
	debugLogs  bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ankibak",
	Short: "Self-hosted AnkiWeb collection backup daemon",
}

// daemon holds everything a command needs once the config is loaded.
// The caller must defer daemon.Close().
type daemon struct {
	cfg    *config.Config
	logger backup.Logger
	store  backup.MetadataStore
	repo   *backup.Repository
}

func newDaemon() (*daemon, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.Init(debugLogs)
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	stateDir := filepath.Join(cfg.Storage.Root, "state")
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}
	st, err := store.NewFromDatabaseURL(cfg.Storage.DatabaseURL, filepath.Join(stateDir, "metadata.db"))
	if err != nil {
		return nil, fmt.Errorf("opening metadata store: %w", err)
	}

	repo, err := backup.NewRepository(cfg.Storage.Root, st, logger, backup.RealClock{}, backup.UUIDGenerator{})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("initializing repository: %w", err)
	}

	return &daemon{cfg: cfg, logger: logger, store: st, repo: repo}, nil
}

func (d *daemon) Close() {
	if err := d.store.Close(); err != nil {
		d.logger.Warn("closing metadata store", "error", err)
	}
	logging.Cleanup()
}

// syncClient builds the configured sync client, prompting for the AnkiWeb
// password when a username is set without one and stdin is a terminal.
func (d *daemon) syncClient() (backup.SyncClient, error) {
	cfg := d.cfg.Ankiweb
	if cfg.SyncCommand == "" && cfg.Username != "" && cfg.Password == "" && term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintf(os.Stderr, "AnkiWeb password for %s: ", cfg.Username)
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("reading password: %w", err)
		}
		cfg.Password = string(raw)
	}
	return ankiweb.NewFromConfig(cfg, d.logger)
}

// runPass executes one fetch -> hash -> store -> prune sequence for the
// once command. The serve command runs the same sequence hourly through
// the scheduler.
func (d *daemon) runPass(ctx context.Context, client backup.SyncClient, replicator backup.Replicator) error {
	result, err := client.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetching collection: %w", err)
	}

	hash := backup.Blake3Hasher{}.Sum(result.Collection)
	entry, err := d.repo.RunOnce(ctx, result, hash)
	if err != nil {
		return fmt.Errorf("storing backup: %w", err)
	}

	switch entry.Status {
	case backup.StatusCreated:
		fmt.Printf("Created backup %s (%s, %d bytes)\n", entry.ID, entry.TimestampDir, entry.SizeBytes)
		if replicator != nil {
			if err := replicator.Replicate(ctx, entry, d.repo.BackupFilePath(entry)); err != nil {
				d.logger.Error("offsite replication failed", "error", err, "id", entry.ID)
			}
		}
	default:
		fmt.Printf("Skipped backup: collection unchanged (%s)\n", entry.ContentHash[:12])
	}

	removed, err := d.repo.PruneCreatedOlderThan(ctx, d.cfg.Storage.RetentionDays)
	if err != nil {
		return fmt.Errorf("pruning old backups: %w", err)
	}
	if removed > 0 {
		fmt.Printf("Pruned %d old backup(s)\n", removed)
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the backup daemon and web interface",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDaemon()
		if err != nil {
			return err
		}
		defer d.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		client, err := d.syncClient()
		if err != nil {
			return fmt.Errorf("building sync client: %w", err)
		}
		replicator, err := offsite.NewFromConfig(ctx, d.cfg.Offsite, d.logger)
		if err != nil {
			return fmt.Errorf("configuring offsite replication: %w", err)
		}

		sched := backup.NewScheduler(d.repo, client, backup.Blake3Hasher{}, replicator,
			d.cfg.Storage.RetentionDays, d.logger, backup.RealClock{})
		go sched.Run(ctx)

		gate := backup.NewRollbackGate(backup.RealClock{}, backup.DefaultRollbackMinInterval)
		srv := &http.Server{
			Addr: d.cfg.Server.Listen,
			Handler: server.NewServer(d.repo, gate,
				d.cfg.Security.APIToken, d.cfg.Security.CSRFToken, d.logger).Router(),
		}

		errCh := make(chan error, 1)
		go func() {
			d.logger.Info("http server listening", "addr", d.cfg.Server.Listen)
			errCh <- srv.ListenAndServe()
		}()

		select {
		case <-ctx.Done():
			d.logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("draining http server: %w", err)
			}
			return nil
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("http server failed: %w", err)
		}
	},
}

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single sync and backup pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDaemon()
		if err != nil {
			return err
		}
		defer d.Close()

		client, err := d.syncClient()
		if err != nil {
			return fmt.Errorf("building sync client: %w", err)
		}
		replicator, err := offsite.NewFromConfig(cmd.Context(), d.cfg.Offsite, d.logger)
		if err != nil {
			return fmt.Errorf("configuring offsite replication: %w", err)
		}

		return d.runPass(cmd.Context(), client, replicator)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded backups",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDaemon()
		if err != nil {
			return err
		}
		defer d.Close()

		entries, err := d.repo.ListBackups(cmd.Context())
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No backups recorded.")
			return nil
		}

		for _, e := range entries {
			hashPrefix := e.ContentHash
			if len(hashPrefix) > 12 {
				hashPrefix = hashPrefix[:12]
			}
			fmt.Printf("%s  %s  %-7s  %10d  %s\n",
				e.ID,
				e.CreatedAt.Format("2006-01-02 15:04:05"),
				e.Status,
				e.SizeBytes,
				hashPrefix,
			)
		}
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show one backup in detail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDaemon()
		if err != nil {
			return err
		}
		defer d.Close()

		entry, err := d.repo.GetBackup(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if entry == nil {
			return fmt.Errorf("backup %s not found", args[0])
		}

		fmt.Printf("ID:            %s\n", entry.ID)
		fmt.Printf("Created at:    %s\n", entry.CreatedAt.Format(time.RFC3339))
		fmt.Printf("Status:        %s\n", entry.Status)
		fmt.Printf("Content hash:  %s\n", entry.ContentHash)
		if entry.Status == backup.StatusSkipped {
			fmt.Printf("Skip reason:   %s\n", entry.SkipReason)
			return nil
		}
		fmt.Printf("Directory:     %s\n", entry.TimestampDir)
		fmt.Printf("Size:          %d bytes\n", entry.SizeBytes)
		if entry.SyncDurationMS > 0 {
			fmt.Printf("Sync duration: %dms\n", entry.SyncDurationMS)
		}
		if entry.Stats != nil {
			s := entry.Stats
			fmt.Printf("Contents:      %d cards, %d decks, %d notes, %d reviews\n",
				s.TotalCards, s.TotalDecks, s.TotalNotes, s.TotalRevlog)
			for _, deck := range s.DeckStats {
				fmt.Printf("  %-30s %d cards\n", deck.DeckName, deck.CardCount)
			}
		}
		return nil
	},
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback ID",
	Short: "Repoint the current backup to an earlier snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDaemon()
		if err != nil {
			return err
		}
		defer d.Close()

		entry, err := d.repo.RollbackTo(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Rolled back to %s (%s)\n", entry.ID, entry.TimestampDir)
		return nil
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Apply the retention window once",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDaemon()
		if err != nil {
			return err
		}
		defer d.Close()

		if d.cfg.Storage.RetentionDays <= 0 {
			fmt.Println("Pruning is disabled (retention_days <= 0).")
			return nil
		}

		removed, err := d.repo.PruneCreatedOlderThan(cmd.Context(), d.cfg.Storage.RetentionDays)
		if err != nil {
			return err
		}
		fmt.Printf("Pruned %d backup(s) older than %d days\n", removed, d.cfg.Storage.RetentionDays)
		return nil
	},
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Init(configPath, config.Default()); err != nil {
			return err
		}
		fmt.Printf("Configuration initialized at %s\n", configPath)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		m := &config.Manager{}
		return m.Write(os.Stdout, cfg.Masked())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "ankibak.toml", "Path to the configuration file")
	rootCmd.PersistentFlags().BoolVar(&debugLogs, "debug", false, "Enable debug logging")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(onceCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(configCmd)
}
