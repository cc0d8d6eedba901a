package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"dedup-go/internal/database/migrations"
	"dedup-go/internal/dedup"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore implements dedup.MetadataStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ dedup.MetadataStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens the catalog at path. The schema is not migrated;
// call Migrate or check CheckMigrations before use.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := openConnection(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// NewMemoryStore returns a migrated in-memory catalog.
func NewMemoryStore() (*SQLiteStore, error) {
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// openConnection opens a SQLite database configured for the catalog:
// foreign keys on, writers serialized with immediate transactions, and a
// busy timeout so concurrent writers wait instead of failing.
// path can be a file path or ":memory:" for an in-memory database.
func openConnection(path string) (*sql.DB, error) {
	params := "_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"
	dsn := "file:" + path + "?" + params + "&_journal_mode=WAL&_synchronous=NORMAL"
	if path == ":memory:" {
		dsn = "file::memory:?" + params
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// Migrate applies pending schema migrations.
func (s *SQLiteStore) Migrate() error {
	return migrations.MigrateUp(s.db)
}

// CheckMigrations returns an error unless the schema is at the latest version.
func (s *SQLiteStore) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// Schema returns the CREATE statements of the catalog.
func (s *SQLiteStore) Schema() (string, error) {
	return migrations.DumpSchema(s.db)
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// sqlLimit maps a non-positive limit to SQLite's "no limit".
func sqlLimit(n int) int {
	if n < 1 {
		return -1
	}
	return n
}

// Vault operations

func (s *SQLiteStore) CreateVault(ctx context.Context, scope dedup.Scope, vault string, createdAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vaults (project_id, vault_id, created_at) VALUES (?, ?, ?)
		ON CONFLICT (project_id, vault_id) DO NOTHING`,
		scope.ProjectID, vault, createdAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting vault: %w", err)
	}
	return nil
}

func (s *SQLiteStore) VaultExists(ctx context.Context, scope dedup.Scope, vault string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM vaults WHERE project_id = ? AND vault_id = ?`,
		scope.ProjectID, vault).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("finding vault: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) DeleteVault(ctx context.Context, scope dedup.Scope, vault string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var exists, contents int64
	err = tx.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM vaults WHERE project_id = ?1 AND vault_id = ?2),
			(SELECT COUNT(*) FROM blocks WHERE project_id = ?1 AND vault_id = ?2) +
			(SELECT COUNT(*) FROM files WHERE project_id = ?1 AND vault_id = ?2)`,
		scope.ProjectID, vault).Scan(&exists, &contents)
	if err != nil {
		return fmt.Errorf("checking vault contents: %w", err)
	}
	if exists == 0 {
		return dedup.ErrVaultNotFound
	}
	if contents > 0 {
		return dedup.ErrVaultNotEmpty
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM vaults WHERE project_id = ? AND vault_id = ?`,
		scope.ProjectID, vault); err != nil {
		return fmt.Errorf("deleting vault: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListVaults(ctx context.Context, scope dedup.Scope, marker string, limit int) ([]string, error) {
	return s.queryStrings(ctx, `
		SELECT vault_id FROM vaults
		WHERE project_id = ? AND vault_id > ?
		ORDER BY vault_id LIMIT ?`,
		scope.ProjectID, marker, sqlLimit(limit))
}

func (s *SQLiteStore) VaultStatistics(ctx context.Context, scope dedup.Scope, vault string) (*dedup.MetadataStats, error) {
	var st dedup.MetadataStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM blocks WHERE project_id = ?1 AND vault_id = ?2 AND deleting = 0),
			(SELECT COALESCE(SUM(size), 0) FROM blocks WHERE project_id = ?1 AND vault_id = ?2 AND deleting = 0),
			(SELECT COUNT(*) FROM files WHERE project_id = ?1 AND vault_id = ?2),
			(SELECT COUNT(*) FROM file_blocks WHERE project_id = ?1 AND vault_id = ?2)`,
		scope.ProjectID, vault).Scan(&st.BlockCount, &st.TotalSize, &st.FileCount, &st.FileBlockCount)
	if err != nil {
		return nil, fmt.Errorf("reading vault statistics: %w", err)
	}
	return &st, nil
}

// Block operations

func (s *SQLiteStore) RegisterBlock(ctx context.Context, scope dedup.Scope, vault string, block dedup.Block) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO blocks (project_id, vault_id, block_id, storage_id, size, ref_count, ref_modified, deleting)
		VALUES (?, ?, ?, ?, ?, 0, ?, 0)
		ON CONFLICT (project_id, vault_id, block_id) DO NOTHING`,
		scope.ProjectID, vault, block.BlockID, block.StorageID, block.Length, block.RefModified.UTC())
	if err != nil {
		return false, fmt.Errorf("inserting block: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var deleting bool
		err := tx.QueryRowContext(ctx, `
			SELECT deleting FROM blocks WHERE project_id = ? AND vault_id = ? AND block_id = ?`,
			scope.ProjectID, vault, block.BlockID).Scan(&deleting)
		if err != nil {
			return false, fmt.Errorf("reading existing block: %w", err)
		}
		if deleting {
			return false, dedup.ErrBlockDeleting
		}
		return false, nil
	}

	if err := adoptAssignments(ctx, tx, scope, vault, block.BlockID); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing transaction: %w", err)
	}
	return true, nil
}

// adoptAssignments counts every pending assignment of a block that just
// became live and sets its reference count to match.
func adoptAssignments(ctx context.Context, tx *sql.Tx, scope dedup.Scope, vault, blockID string) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE file_blocks SET counted = 1
		WHERE project_id = ? AND vault_id = ? AND block_id = ? AND counted = 0`,
		scope.ProjectID, vault, blockID)
	if err != nil {
		return fmt.Errorf("adopting pending assignments: %w", err)
	}
	adopted, _ := res.RowsAffected()
	if adopted == 0 {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE blocks SET ref_count = ref_count + ?
		WHERE project_id = ? AND vault_id = ? AND block_id = ?`,
		adopted, scope.ProjectID, vault, blockID); err != nil {
		return fmt.Errorf("counting adopted assignments: %w", err)
	}
	return nil
}

const blockColumns = `block_id, storage_id, size, ref_count, ref_modified`

func scanBlock(row *sql.Row) (*dedup.Block, error) {
	var b dedup.Block
	err := row.Scan(&b.BlockID, &b.StorageID, &b.Length, &b.RefCount, &b.RefModified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *SQLiteStore) GetBlock(ctx context.Context, scope dedup.Scope, vault, blockID string) (*dedup.Block, error) {
	b, err := scanBlock(s.db.QueryRowContext(ctx, `
		SELECT `+blockColumns+` FROM blocks
		WHERE project_id = ? AND vault_id = ? AND block_id = ?`,
		scope.ProjectID, vault, blockID))
	if err != nil {
		return nil, fmt.Errorf("finding block: %w", err)
	}
	return b, nil
}

func (s *SQLiteStore) FindBlockByStorageID(ctx context.Context, scope dedup.Scope, vault, storageID string) (*dedup.Block, error) {
	b, err := scanBlock(s.db.QueryRowContext(ctx, `
		SELECT `+blockColumns+` FROM blocks
		WHERE project_id = ? AND vault_id = ? AND storage_id = ?`,
		scope.ProjectID, vault, storageID))
	if err != nil {
		return nil, fmt.Errorf("finding block by storage id: %w", err)
	}
	return b, nil
}

func (s *SQLiteStore) AddReference(ctx context.Context, scope dedup.Scope, vault, blockID string, at time.Time) error {
	return s.adjustReference(ctx, scope, vault, blockID, at, `ref_count + 1`)
}

func (s *SQLiteStore) ReleaseReference(ctx context.Context, scope dedup.Scope, vault, blockID string, at time.Time) error {
	return s.adjustReference(ctx, scope, vault, blockID, at, `MAX(ref_count - 1, 0)`)
}

func (s *SQLiteStore) adjustReference(ctx context.Context, scope dedup.Scope, vault, blockID string, at time.Time, expr string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE blocks SET ref_count = `+expr+`, ref_modified = ?
		WHERE project_id = ? AND vault_id = ? AND block_id = ? AND deleting = 0`,
		at.UTC(), scope.ProjectID, vault, blockID)
	if err != nil {
		return fmt.Errorf("updating reference count: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return dedup.ErrBlockNotFound
	}
	return nil
}

func (s *SQLiteStore) MarkBlockDeleting(ctx context.Context, scope dedup.Scope, vault, blockID string) (*dedup.Block, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	b, err := scanBlock(tx.QueryRowContext(ctx, `
		SELECT `+blockColumns+` FROM blocks
		WHERE project_id = ? AND vault_id = ? AND block_id = ?`,
		scope.ProjectID, vault, blockID))
	if err != nil {
		return nil, fmt.Errorf("finding block: %w", err)
	}
	if b == nil {
		return nil, nil
	}
	if b.RefCount > 0 {
		return nil, dedup.ErrBlockReferenced
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE blocks SET deleting = 1
		WHERE project_id = ? AND vault_id = ? AND block_id = ? AND ref_count = 0 AND deleting = 0`,
		scope.ProjectID, vault, blockID); err != nil {
		return nil, fmt.Errorf("marking block deleting: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return b, nil
}

func (s *SQLiteStore) UnmarkBlockDeleting(ctx context.Context, scope dedup.Scope, vault, blockID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE blocks SET deleting = 0
		WHERE project_id = ? AND vault_id = ? AND block_id = ? AND deleting = 1`,
		scope.ProjectID, vault, blockID)
	if err != nil {
		return fmt.Errorf("clearing block tombstone: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}
	// Assignments made while the block was tombstoned are pending.
	if err := adoptAssignments(ctx, tx, scope, vault, blockID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RemoveBlock(ctx context.Context, scope dedup.Scope, vault, blockID string) error {
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM blocks
		WHERE project_id = ? AND vault_id = ? AND block_id = ? AND deleting = 1`,
		scope.ProjectID, vault, blockID); err != nil {
		return fmt.Errorf("removing block: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListBlocks(ctx context.Context, scope dedup.Scope, vault, marker string, limit int) ([]string, error) {
	return s.queryStrings(ctx, `
		SELECT block_id FROM blocks
		WHERE project_id = ? AND vault_id = ? AND deleting = 0 AND block_id > ?
		ORDER BY block_id LIMIT ?`,
		scope.ProjectID, vault, marker, sqlLimit(limit))
}

// File operations

func (s *SQLiteStore) CreateFile(ctx context.Context, scope dedup.Scope, vault string, file dedup.File) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO files (project_id, vault_id, file_id, finalized, size, revision, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		scope.ProjectID, vault, file.FileID, file.Finalized, file.Length, file.Revision, file.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("inserting file: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetFile(ctx context.Context, scope dedup.Scope, vault, fileID string) (*dedup.File, error) {
	return getFile(ctx, s.db, scope, vault, fileID)
}

// queryRower is satisfied by both *sql.DB and *sql.Tx.
type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getFile(ctx context.Context, q queryRower, scope dedup.Scope, vault, fileID string) (*dedup.File, error) {
	var f dedup.File
	err := q.QueryRowContext(ctx, `
		SELECT file_id, finalized, size, revision, created_at FROM files
		WHERE project_id = ? AND vault_id = ? AND file_id = ?`,
		scope.ProjectID, vault, fileID).Scan(&f.FileID, &f.Finalized, &f.Length, &f.Revision, &f.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding file: %w", err)
	}
	return &f, nil
}

func (s *SQLiteStore) AssignBlocks(ctx context.Context, scope dedup.Scope, vault, fileID string, assignments []dedup.Assignment, at time.Time) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	file, err := getFile(ctx, tx, scope, vault, fileID)
	if err != nil {
		return nil, err
	}
	if file == nil {
		return nil, dedup.ErrFileNotFound
	}
	if file.Finalized {
		return nil, dedup.ErrFileFinalized
	}

	missing := []string{}
	for _, a := range assignments {
		var oldBlock string
		var oldCounted bool
		err := tx.QueryRowContext(ctx, `
			SELECT block_id, counted FROM file_blocks
			WHERE project_id = ? AND vault_id = ? AND file_id = ? AND block_offset = ?`,
			scope.ProjectID, vault, fileID, a.Offset).Scan(&oldBlock, &oldCounted)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return nil, fmt.Errorf("reading assignment: %w", err)
		case oldCounted:
			if _, err := tx.ExecContext(ctx, `
				UPDATE blocks SET ref_count = MAX(ref_count - 1, 0), ref_modified = ?
				WHERE project_id = ? AND vault_id = ? AND block_id = ?`,
				at.UTC(), scope.ProjectID, vault, oldBlock); err != nil {
				return nil, fmt.Errorf("releasing replaced assignment: %w", err)
			}
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE blocks SET ref_count = ref_count + 1, ref_modified = ?
			WHERE project_id = ? AND vault_id = ? AND block_id = ? AND deleting = 0`,
			at.UTC(), scope.ProjectID, vault, a.BlockID)
		if err != nil {
			return nil, fmt.Errorf("adding reference: %w", err)
		}
		n, _ := res.RowsAffected()
		counted := n == 1
		if !counted {
			missing = append(missing, a.BlockID)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO file_blocks (project_id, vault_id, file_id, block_offset, block_id, counted)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (project_id, vault_id, file_id, block_offset)
			DO UPDATE SET block_id = excluded.block_id, counted = excluded.counted`,
			scope.ProjectID, vault, fileID, a.Offset, a.BlockID, counted); err != nil {
			return nil, fmt.Errorf("recording assignment: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE files SET revision = revision + 1
		WHERE project_id = ? AND vault_id = ? AND file_id = ?`,
		scope.ProjectID, vault, fileID); err != nil {
		return nil, fmt.Errorf("bumping file revision: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return missing, nil
}

func (s *SQLiteStore) FileBlocks(ctx context.Context, scope dedup.Scope, vault, fileID string, afterOffset int64, limit int) ([]dedup.FileBlock, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT fb.block_id, fb.block_offset,
			COALESCE(b.storage_id, ''), COALESCE(b.size, 0),
			COALESCE(fb.counted = 1 AND b.deleting = 0, 0)
		FROM file_blocks fb
		LEFT JOIN blocks b
			ON b.project_id = fb.project_id AND b.vault_id = fb.vault_id AND b.block_id = fb.block_id
		WHERE fb.project_id = ? AND fb.vault_id = ? AND fb.file_id = ? AND fb.block_offset > ?
		ORDER BY fb.block_offset LIMIT ?`,
		scope.ProjectID, vault, fileID, afterOffset, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("listing file blocks: %w", err)
	}
	defer rows.Close()

	var blocks []dedup.FileBlock
	for rows.Next() {
		var fb dedup.FileBlock
		if err := rows.Scan(&fb.BlockID, &fb.Offset, &fb.StorageID, &fb.Length, &fb.Known); err != nil {
			return nil, fmt.Errorf("scanning file block: %w", err)
		}
		if !fb.Known {
			fb.StorageID, fb.Length = "", 0
		}
		blocks = append(blocks, fb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing file blocks: %w", err)
	}
	return blocks, nil
}

func (s *SQLiteStore) FinalizeFile(ctx context.Context, scope dedup.Scope, vault, fileID string, length, revision int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE files SET finalized = 1, size = ?
		WHERE project_id = ? AND vault_id = ? AND file_id = ? AND finalized = 0 AND revision = ?`,
		length, scope.ProjectID, vault, fileID, revision)
	if err != nil {
		return fmt.Errorf("finalizing file: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	file, err := s.GetFile(ctx, scope, vault, fileID)
	if err != nil {
		return err
	}
	switch {
	case file == nil:
		return dedup.ErrFileNotFound
	case file.Finalized:
		return dedup.ErrFileFinalized
	default:
		return dedup.ErrStaleFileRevision
	}
}

func (s *SQLiteStore) DeleteFile(ctx context.Context, scope dedup.Scope, vault, fileID string, at time.Time) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	file, err := getFile(ctx, tx, scope, vault, fileID)
	if err != nil {
		return false, err
	}
	if file == nil {
		return false, nil
	}

	refs, err := countedReferences(ctx, tx, scope, vault, fileID)
	if err != nil {
		return false, err
	}
	for blockID, n := range refs {
		if _, err := tx.ExecContext(ctx, `
			UPDATE blocks SET ref_count = MAX(ref_count - ?, 0), ref_modified = ?
			WHERE project_id = ? AND vault_id = ? AND block_id = ?`,
			n, at.UTC(), scope.ProjectID, vault, blockID); err != nil {
			return false, fmt.Errorf("releasing references: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM file_blocks WHERE project_id = ? AND vault_id = ? AND file_id = ?`,
		scope.ProjectID, vault, fileID); err != nil {
		return false, fmt.Errorf("deleting assignments: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM files WHERE project_id = ? AND vault_id = ? AND file_id = ?`,
		scope.ProjectID, vault, fileID); err != nil {
		return false, fmt.Errorf("deleting file: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing transaction: %w", err)
	}
	return true, nil
}

// countedReferences returns, per block, how many counted assignments a file holds.
func countedReferences(ctx context.Context, tx *sql.Tx, scope dedup.Scope, vault, fileID string) (map[string]int64, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT block_id, COUNT(*) FROM file_blocks
		WHERE project_id = ? AND vault_id = ? AND file_id = ? AND counted = 1
		GROUP BY block_id`,
		scope.ProjectID, vault, fileID)
	if err != nil {
		return nil, fmt.Errorf("counting references: %w", err)
	}
	defer rows.Close()

	refs := make(map[string]int64)
	for rows.Next() {
		var blockID string
		var n int64
		if err := rows.Scan(&blockID, &n); err != nil {
			return nil, fmt.Errorf("scanning references: %w", err)
		}
		refs[blockID] = n
	}
	return refs, rows.Err()
}

func (s *SQLiteStore) ListFiles(ctx context.Context, scope dedup.Scope, vault, marker string, limit int, finalizedOnly bool) ([]string, error) {
	return s.queryStrings(ctx, `
		SELECT file_id FROM files
		WHERE project_id = ? AND vault_id = ? AND file_id > ? AND (finalized = 1 OR NOT ?)
		ORDER BY file_id LIMIT ?`,
		scope.ProjectID, vault, marker, finalizedOnly, sqlLimit(limit))
}

// queryStrings runs a query returning a single text column.
func (s *SQLiteStore) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scanning: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("querying: %w", err)
	}
	return out, nil
}
