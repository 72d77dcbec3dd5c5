package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Defaults applied when neither the config file nor the environment
// provides a value.
const (
	DefaultRoot          = "./data"
	DefaultListen        = "127.0.0.1:8088"
	DefaultRetentionDays = 90
)

// Config represents the main configuration for ankibak.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Storage  StorageConfig  `toml:"storage"`
	Ankiweb  AnkiwebConfig  `toml:"ankiweb"`
	Security SecurityConfig `toml:"security"`
	Offsite  OffsiteConfig  `toml:"offsite"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Listen string `toml:"listen"`
}

// StorageConfig holds the backup root and metadata settings.
type StorageConfig struct {
	Root string `toml:"root"`
	// RetentionDays is the pruning window. 0 selects the default;
	// a negative value disables pruning entirely.
	RetentionDays int `toml:"retention_days"`
	// DatabaseURL selects the metadata backend. A postgres:// URL uses
	// Postgres; anything else falls back to SQLite under Root.
	DatabaseURL string `toml:"database_url,omitempty"`
}

// AnkiwebConfig holds the sync source settings. When SyncCommand is set
// the external command variant is used instead of the direct protocol
// client, and CollectionPath must point at the file it produces.
type AnkiwebConfig struct {
	Username       string `toml:"username"`
	Password       string `toml:"password,omitempty"`
	Endpoint       string `toml:"endpoint,omitempty"`
	SyncCommand    string `toml:"sync_command,omitempty"`
	CollectionPath string `toml:"collection_path,omitempty"`
}

// SecurityConfig holds the HTTP auth tokens. Empty values disable the
// corresponding check.
type SecurityConfig struct {
	APIToken  string `toml:"api_token,omitempty"`
	CSRFToken string `toml:"csrf_token,omitempty"`
}

// OffsiteConfig holds the S3 replication settings. Replication is enabled
// when Bucket is set.
type OffsiteConfig struct {
	Bucket string `toml:"bucket,omitempty"`
	Prefix string `toml:"prefix,omitempty"`
	Region string `toml:"region,omitempty"`
	// Endpoint and PathStyle support S3-compatible stores like MinIO.
	Endpoint  string `toml:"endpoint,omitempty"`
	PathStyle bool   `toml:"path_style,omitempty"`
	// AgeRecipient is an age X25519 public key. When set, offsite copies
	// of the collection are encrypted to it.
	AgeRecipient string `toml:"age_recipient,omitempty"`
}

// Default returns a Config with the built-in defaults filled in. Used as
// the starter config for `config init`.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Listen: DefaultListen},
		Storage: StorageConfig{
			Root:          DefaultRoot,
			RetentionDays: DefaultRetentionDays,
		},
	}
}

// Load reads the config file when present, then fills gaps from the
// environment and finally from defaults. A missing file is not an error:
// the daemon can run on environment variables alone.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		loaded, err := ReadFromFile(path)
		if err == nil {
			cfg = loaded
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	setIfEmpty(&c.Server.Listen, "ANKI_BACKUP_LISTEN")
	setIfEmpty(&c.Storage.Root, "ANKI_BACKUP_ROOT")
	setIfEmpty(&c.Storage.DatabaseURL, "ANKI_BACKUP_DATABASE_URL")
	setIfEmpty(&c.Security.APIToken, "ANKI_BACKUP_API_TOKEN")
	setIfEmpty(&c.Security.CSRFToken, "ANKI_BACKUP_CSRF_TOKEN")
	setIfEmpty(&c.Ankiweb.Username, "ANKIWEB_USERNAME")
	setIfEmpty(&c.Ankiweb.Password, "ANKIWEB_PASSWORD")
	setIfEmpty(&c.Ankiweb.Endpoint, "ANKIWEB_ENDPOINT")
	setIfEmpty(&c.Ankiweb.SyncCommand, "ANKI_SYNC_COMMAND")
	setIfEmpty(&c.Ankiweb.CollectionPath, "ANKI_COLLECTION_PATH")

	if c.Storage.RetentionDays == 0 {
		if v := os.Getenv("ANKI_BACKUP_RETENTION_DAYS"); v != "" {
			if days, err := strconv.Atoi(v); err == nil {
				c.Storage.RetentionDays = days
			}
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}
	if c.Storage.Root == "" {
		c.Storage.Root = DefaultRoot
	}
	if c.Storage.RetentionDays == 0 {
		c.Storage.RetentionDays = DefaultRetentionDays
	}
}

func setIfEmpty(dst *string, envKey string) {
	if *dst == "" {
		*dst = os.Getenv(envKey)
	}
}

// Masked returns a copy safe for display: secret values are replaced so
// the effective config can be printed.
func (c *Config) Masked() *Config {
	out := *c
	if out.Ankiweb.Password != "" {
		out.Ankiweb.Password = "********"
	}
	if out.Security.APIToken != "" {
		out.Security.APIToken = "********"
	}
	if out.Security.CSRFToken != "" {
		out.Security.CSRFToken = "********"
	}
	return &out
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the
// provided Config. Refuses to overwrite an existing file.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
