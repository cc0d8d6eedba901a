package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testConfig() *Config {
	return &Config{
		BaseDir:    "/srv/dedup",
		LogDir:     "/srv/dedup/log",
		LogLevel:   "debug",
		ListenAddr: "0.0.0.0:9000",
		API:        APIConfig{DefaultLimit: 50, MaxLimit: 500, MaxBlockSize: 4096},
		Addressing: AddressingConfig{Algorithm: "blake3"},
		Database:   DatabaseConfig{Type: "badger", DataDir: "/srv/dedup/db"},
		Storage: StorageConfig{
			Type:        "s3",
			Compression: "zstd",
			S3Bucket:    "blocks",
			S3Prefix:    "prod",
			S3Region:    "us-east-1",
			S3Endpoint:  "http://localhost:9000",
		},
		Encryption: EncryptionConfig{
			Type:           "age",
			PublicKeyPath:  "/srv/dedup/keys/dedup.pub",
			PrivateKeyPath: "/srv/dedup/keys/dedup.key",
			PassphraseEnv:  "DEDUP_PASSPHRASE",
		},
	}
}

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	for _, format := range []Format{FormatTOML, FormatYAML} {
		t.Run(string(format), func(t *testing.T) {
			original := testConfig()

			var buf bytes.Buffer
			m := &Manager{Format: format}
			if err := m.Write(&buf, original); err != nil {
				t.Fatalf("Write() error = %v", err)
			}

			got, err := m.Read(&buf)
			if err != nil {
				t.Fatalf("Read() error = %v", err)
			}

			if got.ListenAddr != original.ListenAddr {
				t.Errorf("ListenAddr = %q, want %q", got.ListenAddr, original.ListenAddr)
			}
			if got.LogLevel != "debug" {
				t.Errorf("LogLevel = %q, want %q", got.LogLevel, "debug")
			}
			if got.API != original.API {
				t.Errorf("API = %+v, want %+v", got.API, original.API)
			}
			if got.Addressing.Algorithm != "blake3" {
				t.Errorf("Addressing.Algorithm = %q, want %q", got.Addressing.Algorithm, "blake3")
			}
			if got.Database != original.Database {
				t.Errorf("Database = %+v, want %+v", got.Database, original.Database)
			}
			if got.Storage != original.Storage {
				t.Errorf("Storage = %+v, want %+v", got.Storage, original.Storage)
			}
			if got.Encryption != original.Encryption {
				t.Errorf("Encryption = %+v, want %+v", got.Encryption, original.Encryption)
			}
		})
	}
}

func TestManager_Read_AppliesDefaults(t *testing.T) {
	m := &Manager{Format: FormatTOML}
	cfg, err := m.Read(strings.NewReader("[database]\ntype = \"memory\"\n"))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if cfg.API.DefaultLimit != DefaultLimit {
		t.Errorf("API.DefaultLimit = %d, want %d", cfg.API.DefaultLimit, DefaultLimit)
	}
	if cfg.API.MaxLimit != DefaultMaxLimit {
		t.Errorf("API.MaxLimit = %d, want %d", cfg.API.MaxLimit, DefaultMaxLimit)
	}
	if cfg.API.MaxBlockSize != DefaultMaxBlockSize {
		t.Errorf("API.MaxBlockSize = %d, want %d", cfg.API.MaxBlockSize, DefaultMaxBlockSize)
	}
	if cfg.Addressing.Algorithm != "sha1" {
		t.Errorf("Addressing.Algorithm = %q, want %q", cfg.Addressing.Algorithm, "sha1")
	}
	if cfg.Encryption.Type != "none" {
		t.Errorf("Encryption.Type = %q, want %q", cfg.Encryption.Type, "none")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"default above max", func(c *Config) { c.API.DefaultLimit = c.API.MaxLimit + 1 }, true},
		{"zero default", func(c *Config) { c.API.DefaultLimit = -1 }, true},
		{"negative block size", func(c *Config) { c.API.MaxBlockSize = -1 }, true},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig("/data/dedup")
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("/data/dedup")

	if cfg.BaseDir != "/data/dedup" {
		t.Errorf("BaseDir = %q, want %q", cfg.BaseDir, "/data/dedup")
	}
	if cfg.LogDir != "/data/dedup/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/dedup/log")
	}
	if cfg.Database.DataDir != "/data/dedup/db" {
		t.Errorf("Database.DataDir = %q, want %q", cfg.Database.DataDir, "/data/dedup/db")
	}
	if cfg.Storage.FSRoot != "/data/dedup/blocks" {
		t.Errorf("Storage.FSRoot = %q, want %q", cfg.Storage.FSRoot, "/data/dedup/blocks")
	}
	if cfg.Encryption.PublicKeyPath != "/data/dedup/keys/dedup.pub" {
		t.Errorf("Encryption.PublicKeyPath = %q, want %q", cfg.Encryption.PublicKeyPath, "/data/dedup/keys/dedup.pub")
	}
	if cfg.Encryption.PrivateKeyPath != "/data/dedup/keys/dedup.key" {
		t.Errorf("Encryption.PrivateKeyPath = %q, want %q", cfg.Encryption.PrivateKeyPath, "/data/dedup/keys/dedup.key")
	}
}

func TestFormatForPath(t *testing.T) {
	tests := []struct {
		path string
		want Format
	}{
		{"dedup.toml", FormatTOML},
		{"dedup.yaml", FormatYAML},
		{"/etc/dedup/DEDUP.YML", FormatYAML},
		{"dedup.conf", FormatTOML},
	}
	for _, tt := range tests {
		if got := FormatForPath(tt.path); got != tt.want {
			t.Errorf("FormatForPath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "dedup.toml")

		if err := Init(path, NewConfig(dir)); err != nil {
			t.Fatalf("Init() error = %v", err)
		}
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("config file not created: %v", err)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "dedup.toml")
		cfg := NewConfig(dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}
		if err := Init(path, cfg); err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		for _, name := range []string{"dedup.toml", "dedup.yaml"} {
			dir := t.TempDir()
			path := filepath.Join(dir, name)
			cfg := NewConfig(dir)
			cfg.Database = DatabaseConfig{Type: "memory"}
			cfg.ListenAddr = "127.0.0.1:7777"

			if err := Init(path, cfg); err != nil {
				t.Fatalf("Init(%s) error = %v", name, err)
			}

			got, err := ReadFromFile(path)
			if err != nil {
				t.Fatalf("ReadFromFile(%s) error = %v", name, err)
			}
			if got.ListenAddr != "127.0.0.1:7777" {
				t.Errorf("%s: ListenAddr = %q, want %q", name, got.ListenAddr, "127.0.0.1:7777")
			}
			if got.Database.Type != "memory" {
				t.Errorf("%s: Database.Type = %q, want %q", name, got.Database.Type, "memory")
			}
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		if _, err := ReadFromFile("/nonexistent/path/dedup.toml"); err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})
}
