package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultListenAddr   = "127.0.0.1:8080"
	DefaultLogLevel     = "info"
	DefaultLimit        = 100
	DefaultMaxLimit     = 1000
	DefaultMaxBlockSize = 16 << 20
)

// Config represents the main configuration for the dedup server.
type Config struct {
	BaseDir    string           `toml:"base_dir" yaml:"base_dir"`
	LogDir     string           `toml:"log_dir" yaml:"log_dir"`
	LogLevel   string           `toml:"log_level" yaml:"log_level"`
	ListenAddr string           `toml:"listen_addr" yaml:"listen_addr"`
	API        APIConfig        `toml:"api" yaml:"api"`
	Addressing AddressingConfig `toml:"addressing" yaml:"addressing"`
	Database   DatabaseConfig   `toml:"database" yaml:"database"`
	Storage    StorageConfig    `toml:"storage" yaml:"storage"`
	Encryption EncryptionConfig `toml:"encryption" yaml:"encryption"`
}

// APIConfig bounds what a single request may ask for.
type APIConfig struct {
	DefaultLimit int   `toml:"default_limit" yaml:"default_limit"`
	MaxLimit     int   `toml:"max_limit" yaml:"max_limit"`
	MaxBlockSize int64 `toml:"max_block_size" yaml:"max_block_size"`
}

// AddressingConfig selects the digest used for block ids.
type AddressingConfig struct {
	Algorithm string `toml:"algorithm" yaml:"algorithm"` // "sha1" (default), "sha256" or "blake3"
}

// DatabaseConfig represents configuration for the metadata store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type" yaml:"type"`                             // "sqlite", "badger" or "memory"
	DataDir string `toml:"data_dir,omitempty" yaml:"data_dir,omitempty"` // used for sqlite and badger
}

// StorageConfig represents configuration for the block store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StorageConfig struct {
	Type        string `toml:"type" yaml:"type"`                                   // "filesystem", "s3" or "memory"
	Compression string `toml:"compression,omitempty" yaml:"compression,omitempty"` // "none", "zstd" or "lz4"

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot       string `toml:"fs_root,omitempty" yaml:"fs_root,omitempty"`
	MinFreeBytes uint64 `toml:"min_free_bytes,omitempty" yaml:"min_free_bytes,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty" yaml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty" yaml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty" yaml:"s3_region,omitempty"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty" yaml:"s3_endpoint,omitempty"`
	S3UsePathStyle    bool   `toml:"s3_use_path_style,omitempty" yaml:"s3_use_path_style,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty" yaml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty" yaml:"s3_secret_access_key,omitempty"`
}

// EncryptionConfig holds the age key pair used to encrypt blocks at rest.
type EncryptionConfig struct {
	Type           string `toml:"type" yaml:"type"` // "none" (default), "age" or "test"
	PublicKeyPath  string `toml:"public_key_path" yaml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path" yaml:"private_key_path"`
	PassphraseEnv  string `toml:"passphrase_env,omitempty" yaml:"passphrase_env,omitempty"`
}

// NewConfig creates a Config rooted at baseDir with local backends and
// default key paths.
func NewConfig(baseDir string) *Config {
	cfg := &Config{
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
		ListenAddr: DefaultListenAddr,
		LogLevel:   DefaultLogLevel,
		Database:   DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "db")},
		Storage:    StorageConfig{Type: "filesystem", FSRoot: filepath.Join(baseDir, "blocks"), Compression: "none"},
		Encryption: EncryptionConfig{
			Type:           "none",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "dedup.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "dedup.key"),
			PassphraseEnv:  "DEDUP_PASSPHRASE",
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.API.DefaultLimit == 0 {
		c.API.DefaultLimit = DefaultLimit
	}
	if c.API.MaxLimit == 0 {
		c.API.MaxLimit = DefaultMaxLimit
	}
	if c.API.MaxBlockSize == 0 {
		c.API.MaxBlockSize = DefaultMaxBlockSize
	}
	if c.Addressing.Algorithm == "" {
		c.Addressing.Algorithm = "sha1"
	}
	if c.Storage.Compression == "" {
		c.Storage.Compression = "none"
	}
	if c.Encryption.Type == "" {
		c.Encryption.Type = "none"
	}
}

// Validate checks values that the backend factories cannot check themselves.
func (c *Config) Validate() error {
	if c.API.DefaultLimit < 1 || c.API.MaxLimit < c.API.DefaultLimit {
		return fmt.Errorf("api limits must satisfy 1 <= default_limit (%d) <= max_limit (%d)", c.API.DefaultLimit, c.API.MaxLimit)
	}
	if c.API.MaxBlockSize < 1 {
		return fmt.Errorf("api max_block_size must be positive, got %d", c.API.MaxBlockSize)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level: %q", c.LogLevel)
	}
	return nil
}

// Format is the encoding of a config file.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// FormatForPath picks the format from a file extension; TOML unless .yaml or .yml.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatTOML
	}
}

// Manager handles reading and writing configuration.
type Manager struct {
	Format Format
}

// Read decodes a Config from the provided reader and applies defaults.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	switch m.Format {
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&cfg); err != nil && err != io.EOF {
			return nil, fmt.Errorf("failed to decode config: %w", err)
		}
	default:
		if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config: %w", err)
		}
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	var err error
	switch m.Format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err = enc.Encode(cfg); err == nil {
			err = enc.Close()
		}
	default:
		err = toml.NewEncoder(w).Encode(cfg)
	}
	if err != nil {
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

	m := &Manager{Format: FormatForPath(path)}
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

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{Format: FormatForPath(path)}
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
