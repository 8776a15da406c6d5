package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Defaults applied by NewConfig and by the accessor methods when a field is empty.
const (
	DefaultAddr           = ":8787"
	DefaultExpiry         = "24h"
	DefaultMaxUploadSize  = 100 << 20
	DefaultClientIPHeader = "CF-Connecting-IP"
)

// Config represents the main configuration for filedrop.
type Config struct {
	Addr         string `toml:"addr"`
	LogDir       string `toml:"log_dir"`
	LogLevel     string `toml:"log_level"`
	BucketDomain string `toml:"bucket_domain,omitempty"`

	Session    SessionConfig    `toml:"session"`
	Blob       BlobConfig       `toml:"blob"`
	Database   DatabaseConfig   `toml:"database"`
	Encryption EncryptionConfig `toml:"encryption"`
	Proxy      ProxyConfig      `toml:"proxy"`
}

// SessionConfig tunes session lifetime and upload limits.
type SessionConfig struct {
	Expiry        string `toml:"expiry"`          // Go duration, e.g. "24h"
	MaxUploadSize int64  `toml:"max_upload_size"` // bytes
}

// BlobConfig represents configuration for the blob store holding file bytes.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type BlobConfig struct {
	Type string `toml:"type"` // "memory", "filesystem", or "s3"

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`
	S3PathStyle       bool   `toml:"s3_path_style,omitempty"`
}

// DatabaseConfig represents configuration for the session metadata store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "memory", "sqlite", or "postgres"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
	DSN     string `toml:"dsn,omitempty"`      // only used for type=postgres
}

// EncryptionConfig controls sealing of file bytes at rest.
type EncryptionConfig struct {
	Type         string `toml:"type"`                    // "none" (default), "age", or "test"
	IdentityPath string `toml:"identity_path,omitempty"` // only used for type=age
}

// ProxyConfig describes the reverse proxy in front of the server.
type ProxyConfig struct {
	ClientIPHeader string `toml:"client_ip_header"`
}

// NewConfig creates a Config rooted at baseDir with local-only backends.
func NewConfig(baseDir string) *Config {
	return &Config{
		Addr:     DefaultAddr,
		LogDir:   filepath.Join(baseDir, "log"),
		LogLevel: "info",
		Session: SessionConfig{
			Expiry:        DefaultExpiry,
			MaxUploadSize: DefaultMaxUploadSize,
		},
		Blob: BlobConfig{
			Type:   "filesystem",
			FSRoot: filepath.Join(baseDir, "blobs"),
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "data"),
		},
		Encryption: EncryptionConfig{
			Type:         "none",
			IdentityPath: filepath.Join(baseDir, "keys", "filedrop.key"),
		},
		Proxy: ProxyConfig{
			ClientIPHeader: DefaultClientIPHeader,
		},
	}
}

// Expiry returns the parsed session expiry delay.
func (c *Config) Expiry() (time.Duration, error) {
	raw := c.Session.Expiry
	if raw == "" {
		raw = DefaultExpiry
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parsing session expiry %q: %w", raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("session expiry must be positive, got %s", raw)
	}
	return d, nil
}

// MaxUploadSize returns the upload size limit in bytes.
func (c *Config) MaxUploadSize() int64 {
	if c.Session.MaxUploadSize <= 0 {
		return DefaultMaxUploadSize
	}
	return c.Session.MaxUploadSize
}

// ClientIPHeader returns the header trusted to carry the client address.
func (c *Config) ClientIPHeader() string {
	if c.Proxy.ClientIPHeader == "" {
		return DefaultClientIPHeader
	}
	return c.Proxy.ClientIPHeader
}

// Level returns the configured minimum log level.
func (c *Config) Level() (slog.Level, error) {
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("parsing log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// Validate reports the first problem found in the configuration.
func (c *Config) Validate() error {
	if _, err := c.Expiry(); err != nil {
		return err
	}
	if _, err := c.Level(); err != nil {
		return err
	}

	switch c.Blob.Type {
	case "memory":
	case "filesystem":
		if c.Blob.FSRoot == "" {
			return fmt.Errorf("filesystem blob store requires fs_root to be set")
		}
	case "s3":
		if c.Blob.S3Bucket == "" {
			return fmt.Errorf("s3 blob store requires s3_bucket to be set")
		}
		if (c.Blob.S3AccessKeyID == "") != (c.Blob.S3SecretAccessKey == "") {
			return fmt.Errorf("s3 blob store requires both s3_access_key_id and s3_secret_access_key")
		}
	default:
		return fmt.Errorf("unknown blob store type: %q", c.Blob.Type)
	}

	switch c.Database.Type {
	case "memory":
	case "sqlite":
		if c.Database.DataDir == "" {
			return fmt.Errorf("sqlite database requires data_dir to be set")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("postgres database requires dsn to be set")
		}
	default:
		return fmt.Errorf("unknown database type: %q", c.Database.Type)
	}

	switch strings.ToLower(c.Encryption.Type) {
	case "", "none", "test":
	case "age":
		if c.Encryption.IdentityPath == "" {
			return fmt.Errorf("age encryption requires identity_path to be set")
		}
	default:
		return fmt.Errorf("unknown encryption type: %q", c.Encryption.Type)
	}

	return nil
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

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Config may hold S3 credentials.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
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

// Init writes cfg to path. It refuses to overwrite an existing file.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
