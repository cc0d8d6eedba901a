package database

import (
	"testing"

	"dedup-go/internal/config"
	"dedup-go/internal/dedup"
)

func TestNewMetadataStoreFromConfig(t *testing.T) {
	t.Run("memory database", func(t *testing.T) {
		got, err := NewMetadataStoreFromConfig(config.DatabaseConfig{Type: "memory"}, dedup.NewNopLogger())
		if err != nil {
			t.Fatalf("NewMetadataStoreFromConfig() unexpected error: %v", err)
		}
		defer got.Close()

		if m, ok := got.(Migrator); !ok {
			t.Error("memory store should be a Migrator")
		} else if err := m.CheckMigrations(); err != nil {
			t.Errorf("memory store should be migrated: %v", err)
		}
	})

	t.Run("sqlite database", func(t *testing.T) {
		cfg := config.DatabaseConfig{Type: "sqlite", DataDir: t.TempDir()}
		got, err := NewMetadataStoreFromConfig(cfg, dedup.NewNopLogger())
		if err != nil {
			t.Fatalf("NewMetadataStoreFromConfig() unexpected error: %v", err)
		}
		defer got.Close()

		m := got.(Migrator)
		if err := m.CheckMigrations(); err == nil {
			t.Error("fresh sqlite store should need migration")
		}
		if err := m.Migrate(); err != nil {
			t.Fatalf("Migrate() error = %v", err)
		}
		if err := m.CheckMigrations(); err != nil {
			t.Errorf("CheckMigrations() after Migrate() error = %v", err)
		}
	})

	t.Run("badger database", func(t *testing.T) {
		cfg := config.DatabaseConfig{Type: "badger", DataDir: t.TempDir()}
		got, err := NewMetadataStoreFromConfig(cfg, dedup.NewNopLogger())
		if err != nil {
			t.Fatalf("NewMetadataStoreFromConfig() unexpected error: %v", err)
		}
		got.Close()
	})

	for _, typ := range []string{"sqlite", "badger"} {
		t.Run(typ+" database without data_dir", func(t *testing.T) {
			got, err := NewMetadataStoreFromConfig(config.DatabaseConfig{Type: typ}, dedup.NewNopLogger())
			if err == nil {
				t.Error("NewMetadataStoreFromConfig() expected error for missing data_dir, got nil")
			}
			if got != nil {
				t.Error("NewMetadataStoreFromConfig() should return nil on error")
				got.Close()
			}
		})
	}

	t.Run("unknown database type", func(t *testing.T) {
		got, err := NewMetadataStoreFromConfig(config.DatabaseConfig{Type: "unknown"}, dedup.NewNopLogger())
		if err == nil {
			t.Error("NewMetadataStoreFromConfig() expected error for unknown type, got nil")
		}
		if got != nil {
			t.Error("NewMetadataStoreFromConfig() should return nil on error")
		}
	})
}
