package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"dedup-go/internal/config"
	"dedup-go/internal/database"
	"dedup-go/internal/dedup"
	"dedup-go/internal/encryption"
	"dedup-go/internal/storage"
)

// App is the application layer between the CLI and the dedup core.
// It constructs all dependencies from config and closes them on Close.
type App struct {
	op        *Operation
	meta      dedup.MetadataStore
	blocks    dedup.BlockStore
	namespace *dedup.Namespace
	logger    dedup.Logger
	logFile   *os.File
}

// NewApp creates a fully wired App from the given config.
// command identifies the CLI command being run (e.g. "serve").
// The caller must call Close when done.
func NewApp(ctx context.Context, cfg *config.Config, command string) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	level, err := ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	addresser, err := dedup.NewAddresser(cfg.Addressing.Algorithm)
	if err != nil {
		return nil, fmt.Errorf("creating addresser: %w", err)
	}

	clock := dedup.RealClock{}
	ids := dedup.UUIDGenerator{}
	op := NewOperation(command, clock, ids)

	slogger, logFile, err := newLogger(cfg.LogDir, op.ID, level)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	a := &App{op: op, logger: logger, logFile: logFile}

	meta, err := database.NewMetadataStoreFromConfig(cfg.Database, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("creating metadata store: %w", err)
	}
	a.meta = meta

	if m, ok := meta.(database.Migrator); ok {
		if err := m.CheckMigrations(); err != nil {
			a.Close()
			return nil, fmt.Errorf("database schema out of date, run 'dedup migrate': %w", err)
		}
	}

	enc, err := newEncryption(cfg.Encryption)
	if err != nil {
		a.Close()
		return nil, err
	}

	blocks, err := storage.NewBlockStoreFromConfig(ctx, cfg.Storage, enc)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("creating block store: %w", err)
	}
	a.blocks = blocks

	a.namespace = dedup.NewNamespace(meta, blocks, addresser, logger, clock, ids)

	logger.Info("dedup started",
		"command", command,
		"addressing", addresser.Algorithm(),
		"database", cfg.Database.Type,
		"storage", cfg.Storage.Type,
		"compression", cfg.Storage.Compression,
		"encryption", cfg.Encryption.Type)
	return a, nil
}

// newEncryption builds the at-rest encryption for blocks, or nil when the
// config asks for none. The private key is unlocked for the process lifetime
// with the passphrase from the configured environment variable.
func newEncryption(cfg config.EncryptionConfig) (*storage.Encryption, error) {
	enc, err := encryption.NewEncryptorFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}
	if enc == nil {
		return nil, nil
	}
	dec, err := encryption.UnlockFromEnv(enc, cfg.PassphraseEnv)
	if err != nil {
		return nil, err
	}
	return &storage.Encryption{Encryptor: enc, Decrypter: dec}, nil
}

// Namespace returns the core entry point.
func (a *App) Namespace() *dedup.Namespace { return a.namespace }

// Logger returns the application logger.
func (a *App) Logger() dedup.Logger { return a.logger }

// Operation returns the run this App was created for.
func (a *App) Operation() *Operation { return a.op }

// Close releases the metadata store and the log file.
func (a *App) Close() error {
	var errs []error
	if a.meta != nil {
		if err := a.meta.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing metadata store: %w", err))
		}
	}
	if a.logger != nil && a.namespace != nil {
		a.logger.Info("dedup stopped", "command", a.op.Command, "elapsed", a.op.Elapsed(dedup.RealClock{}))
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return errors.Join(errs...)
}

// Migrate applies pending schema migrations to the configured metadata store.
// It reports whether the store has a versioned schema at all.
func Migrate(cfg *config.Config) (bool, error) {
	meta, err := database.NewMetadataStoreFromConfig(cfg.Database, dedup.NewNopLogger())
	if err != nil {
		return false, fmt.Errorf("creating metadata store: %w", err)
	}
	defer meta.Close()

	m, ok := meta.(database.Migrator)
	if !ok {
		return false, nil
	}
	if err := m.Migrate(); err != nil {
		return true, fmt.Errorf("migrating: %w", err)
	}
	return true, nil
}

// Schema returns the migrated schema of the configured metadata store.
func Schema(cfg *config.Config) (string, error) {
	meta, err := database.NewMetadataStoreFromConfig(cfg.Database, dedup.NewNopLogger())
	if err != nil {
		return "", fmt.Errorf("creating metadata store: %w", err)
	}
	defer meta.Close()

	m, ok := meta.(database.Migrator)
	if !ok {
		return "", fmt.Errorf("database type %q has no schema", cfg.Database.Type)
	}
	return m.Schema()
}

// InitKeys generates the key pair for at-rest encryption. It refuses to
// replace existing keys.
func InitKeys(cfg *config.Config, passphrase string) error {
	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	if enc == nil {
		return fmt.Errorf("encryption is disabled; set [encryption] type in the config first")
	}
	if enc.IsConfigured() {
		return fmt.Errorf("encryption keys already exist")
	}
	if passphrase == "" {
		return fmt.Errorf("passphrase must not be empty")
	}
	if err := enc.Setup(passphrase); err != nil {
		return fmt.Errorf("generating keys: %w", err)
	}
	return nil
}
