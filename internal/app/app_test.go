package app

import (
	"io"
	"path/filepath"
	"strings"
	"testing"

	"dedup-go/internal/config"
	"dedup-go/internal/dedup"
	"dedup-go/internal/testutil"
)

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewConfig(t.TempDir())
	cfg.Database = config.DatabaseConfig{Type: "memory"}
	cfg.Storage = config.StorageConfig{Type: "memory", Compression: "none"}
	return cfg
}

func TestNewApp_EndToEnd(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, cfg *config.Config)
	}{
		{"memory", func(*testing.T, *config.Config) {}},
		{"sqlite and filesystem with zstd", func(t *testing.T, cfg *config.Config) {
			cfg.Database = config.DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(cfg.BaseDir, "db")}
			cfg.Storage = config.StorageConfig{Type: "filesystem", FSRoot: filepath.Join(cfg.BaseDir, "blocks"), Compression: "zstd"}
			if _, err := Migrate(cfg); err != nil {
				t.Fatalf("Migrate() error = %v", err)
			}
		}},
		{"badger with test encryption", func(t *testing.T, cfg *config.Config) {
			cfg.Database = config.DatabaseConfig{Type: "badger", DataDir: filepath.Join(cfg.BaseDir, "db")}
			cfg.Encryption.Type = "test"
			t.Setenv(cfg.Encryption.PassphraseEnv, "secret")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := memoryConfig(t)
			tt.setup(t, cfg)

			a, err := NewApp(t.Context(), cfg, "test")
			if err != nil {
				t.Fatalf("NewApp() error = %v", err)
			}
			defer a.Close()

			ctx := t.Context()
			scope := dedup.Scope{ProjectID: "proj"}
			ns := a.Namespace()
			if err := ns.Health(ctx); err != nil {
				t.Fatalf("Health() error = %v", err)
			}
			if err := ns.Create(ctx, scope, "v1"); err != nil {
				t.Fatalf("Create() error = %v", err)
			}
			v, err := ns.Open(ctx, scope, "v1")
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}

			id, data := testutil.Block("round trip")
			if _, err := v.Blocks.Put(ctx, id, data); err != nil {
				t.Fatalf("Put() error = %v", err)
			}
			file, _ := v.Files.Create(ctx)
			if _, err := v.Files.Assign(ctx, file, []dedup.Assignment{{BlockID: id, Offset: 0}}); err != nil {
				t.Fatalf("Assign() error = %v", err)
			}
			if err := v.Files.Finalize(ctx, file, int64(len(data))); err != nil {
				t.Fatalf("Finalize() error = %v", err)
			}
			r, err := v.Files.Open(ctx, file)
			if err != nil {
				t.Fatalf("Open(file) error = %v", err)
			}
			defer r.Close()
			got, err := io.ReadAll(r)
			if err != nil || string(got) != "round trip" {
				t.Errorf("file = %q, %v; want %q", got, err, "round trip")
			}
		})
	}
}

func TestNewApp_RequiresMigratedSchema(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Database = config.DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(cfg.BaseDir, "db")}

	_, err := NewApp(t.Context(), cfg, "test")
	if err == nil || !strings.Contains(err.Error(), "dedup migrate") {
		t.Fatalf("NewApp() error = %v, want a hint to migrate", err)
	}

	applied, err := Migrate(cfg)
	if err != nil || !applied {
		t.Fatalf("Migrate() = %v, %v; want true, nil", applied, err)
	}
	a, err := NewApp(t.Context(), cfg, "test")
	if err != nil {
		t.Fatalf("NewApp() after migrate error = %v", err)
	}
	a.Close()
}

func TestNewApp_ConfigErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(t *testing.T, cfg *config.Config)
		want   string
	}{
		{"bad log level", func(_ *testing.T, cfg *config.Config) { cfg.LogLevel = "loud" }, "log_level"},
		{"bad algorithm", func(_ *testing.T, cfg *config.Config) { cfg.Addressing.Algorithm = "md5" }, "addresser"},
		{"bad database", func(_ *testing.T, cfg *config.Config) { cfg.Database.Type = "postgres" }, "metadata store"},
		{"bad storage", func(_ *testing.T, cfg *config.Config) { cfg.Storage.Type = "tape" }, "block store"},
		{"encryption without passphrase", func(t *testing.T, cfg *config.Config) {
			cfg.Encryption.Type = "test"
			t.Setenv(cfg.Encryption.PassphraseEnv, "")
		}, "passphrase"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := memoryConfig(t)
			tt.mutate(t, cfg)

			a, err := NewApp(t.Context(), cfg, "test")
			if err == nil {
				a.Close()
				t.Fatal("NewApp() error = nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("NewApp() error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestSchema(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Database = config.DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(cfg.BaseDir, "db")}
	if _, err := Migrate(cfg); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	schema, err := Schema(cfg)
	if err != nil {
		t.Fatalf("Schema() error = %v", err)
	}
	if !strings.Contains(schema, "CREATE TABLE") {
		t.Errorf("Schema() = %q, want CREATE statements", schema)
	}

	cfg.Database = config.DatabaseConfig{Type: "badger", DataDir: filepath.Join(cfg.BaseDir, "kv")}
	if _, err := Schema(cfg); err == nil {
		t.Error("Schema() for badger error = nil")
	}
	if applied, err := Migrate(cfg); err != nil || applied {
		t.Errorf("Migrate() for badger = %v, %v; want false, nil", applied, err)
	}
}

func TestInitKeys(t *testing.T) {
	cfg := memoryConfig(t)

	if err := InitKeys(cfg, "pw"); err == nil {
		t.Error("InitKeys() with encryption disabled error = nil")
	}

	cfg.Encryption.Type = "age"
	if err := InitKeys(cfg, ""); err == nil {
		t.Error("InitKeys() with empty passphrase error = nil")
	}
	if err := InitKeys(cfg, "correct horse"); err != nil {
		t.Fatalf("InitKeys() error = %v", err)
	}
	if err := InitKeys(cfg, "correct horse"); err == nil {
		t.Error("second InitKeys() error = nil, want refusal to overwrite")
	}

	t.Setenv(cfg.Encryption.PassphraseEnv, "correct horse")
	a, err := NewApp(t.Context(), cfg, "test")
	if err != nil {
		t.Fatalf("NewApp() with age keys error = %v", err)
	}
	a.Close()

	t.Setenv(cfg.Encryption.PassphraseEnv, "wrong")
	if _, err := NewApp(t.Context(), cfg, "test"); err == nil {
		t.Error("NewApp() with wrong passphrase error = nil")
	}
}
