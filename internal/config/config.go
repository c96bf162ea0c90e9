package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for dircheck.
type Config struct {
	HostID     string           `toml:"host_id"`
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	LogLevel   string           `toml:"log_level"` // "debug", "info" (default), "warn" or "error"
	Database   DatabaseConfig   `toml:"database"`
	Scan       ScanConfig       `toml:"scan"`
	Filesystem FilesystemConfig `toml:"filesystem"`
	Encryption EncryptionConfig `toml:"encryption"`
	Archives   []ArchiveConfig  `toml:"archives"`
}

// DatabaseConfig represents configuration for the snapshot store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// ScanConfig tunes reconciliation. Zero values fall back to defaults.
type ScanConfig struct {
	HashWorkers    int    `toml:"hash_workers"`
	BatchSize      int    `toml:"batch_size"`
	HashBufferSize int    `toml:"hash_buffer_size"` // bytes
	LeaseTTL       string `toml:"lease_ttl"`        // Go duration; "0" disables lease expiry
}

// FilesystemConfig holds walker settings.
type FilesystemConfig struct {
	Ignore []string `toml:"ignore"`
}

// EncryptionConfig holds paths to the age key pair used for archived databases.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default), "none" or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// ArchiveConfig represents an off-host destination for database snapshots.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type ArchiveConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty"` // S3-compatible services; enables path-style addressing
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`
}

const (
	DefaultHashWorkers    = 4
	DefaultBatchSize      = 256
	DefaultHashBufferSize = 1 << 20
	DefaultLeaseTTL       = time.Hour
)

// NewConfig creates a new Config with the provided values and defaults
// for everything else.
func NewConfig(hostID, baseDir string) *Config {
	return &Config{
		HostID:   hostID,
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		LogLevel: "info",
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Scan: ScanConfig{
			HashWorkers:    DefaultHashWorkers,
			BatchSize:      DefaultBatchSize,
			HashBufferSize: DefaultHashBufferSize,
			LeaseTTL:       DefaultLeaseTTL.String(),
		},
		Filesystem: FilesystemConfig{
			Ignore: []string{".git"},
		},
		Encryption: EncryptionConfig{
			Type:           "age",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "dircheck.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "dircheck.key"),
		},
	}
}

// LeaseTTLDuration parses LeaseTTL. An empty value means DefaultLeaseTTL.
func (c ScanConfig) LeaseTTLDuration() (time.Duration, error) {
	if c.LeaseTTL == "" {
		return DefaultLeaseTTL, nil
	}
	d, err := time.ParseDuration(c.LeaseTTL)
	if err != nil {
		return 0, fmt.Errorf("invalid lease_ttl %q: %w", c.LeaseTTL, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid lease_ttl %q: must not be negative", c.LeaseTTL)
	}
	return d, nil
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
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// Init writes cfg to a new config file at path. It refuses to overwrite an
// existing file.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("initializing config at %s: %w", path, err)
	}
	return nil
}
