package database

import (
	"fmt"
	"os"
	"path/filepath"

	"dedup-go/internal/config"
	"dedup-go/internal/dedup"
)

// SQLiteFileName is the catalog file created under data_dir for type=sqlite.
const SQLiteFileName = "dedup.db"

// NewMetadataStoreFromConfig creates a MetadataStore implementation based on
// the database config type. SQLite catalogs are opened without migrating;
// callers check the schema with CheckMigrations.
func NewMetadataStoreFromConfig(cfg config.DatabaseConfig, logger dedup.Logger) (dedup.MetadataStore, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data_dir: %w", err)
		}
		s, err := NewSQLiteStore(filepath.Join(cfg.DataDir, SQLiteFileName))
		if err != nil {
			return nil, err
		}
		return s, nil
	case "badger":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for badger database")
		}
		s, err := NewBadgerStore(filepath.Join(cfg.DataDir, "badger"), logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "memory":
		s, err := NewMemoryStore()
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}

// Migrator is implemented by stores with a versioned schema.
type Migrator interface {
	Migrate() error
	CheckMigrations() error
	Schema() (string, error)
}

var _ Migrator = (*SQLiteStore)(nil)
