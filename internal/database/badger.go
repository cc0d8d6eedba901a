package database

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"

	"dedup-go/internal/dedup"
)

// maxTxnRetries bounds how often a conflicting read-write transaction is re-run.
const maxTxnRetries = 100

// Key layout. Project ids, vault names, block ids, file ids and storage ids
// never contain '/', so each prefix is unambiguous.
//
//	vault/<project>/<vault>                              vaultRecord
//	block/<project>/<vault>/<block>                      blockRecord
//	storage/<project>/<vault>/<storage>                  block id
//	file/<project>/<vault>/<file>                        fileRecord
//	assign/<project>/<vault>/<file>/<offset>             assignRecord
//	pending/<project>/<vault>/<block>/<file>/<offset>    assignRecord
//
// Offsets are fixed-width hex so keys sort in offset order. Pending keys index
// the assignments of blocks that are not live, so registration can adopt them.
func vaultPrefix(scope dedup.Scope) []byte {
	return []byte("vault/" + scope.ProjectID + "/")
}

func vaultKey(scope dedup.Scope, vault string) []byte {
	return []byte("vault/" + scope.ProjectID + "/" + vault)
}

func blockPrefix(scope dedup.Scope, vault string) []byte {
	return []byte("block/" + scope.ProjectID + "/" + vault + "/")
}

func storagePrefix(scope dedup.Scope, vault string) []byte {
	return []byte("storage/" + scope.ProjectID + "/" + vault + "/")
}

func filePrefix(scope dedup.Scope, vault string) []byte {
	return []byte("file/" + scope.ProjectID + "/" + vault + "/")
}

func assignPrefix(scope dedup.Scope, vault, fileID string) []byte {
	return []byte("assign/" + scope.ProjectID + "/" + vault + "/" + fileID + "/")
}

func pendingPrefix(scope dedup.Scope, vault, blockID string) []byte {
	return []byte("pending/" + scope.ProjectID + "/" + vault + "/" + blockID + "/")
}

func offsetKey(offset int64) string {
	return fmt.Sprintf("%016x", offset)
}

func withSuffix(prefix []byte, suffix string) []byte {
	return append(append([]byte(nil), prefix...), suffix...)
}

type vaultRecord struct {
	CreatedAt int64 `cbor:"created_at"`
}

type blockRecord struct {
	BlockID     string `cbor:"block_id"`
	StorageID   string `cbor:"storage_id"`
	Size        int64  `cbor:"size"`
	RefCount    int64  `cbor:"ref_count"`
	RefModified int64  `cbor:"ref_modified"`
	Deleting    bool   `cbor:"deleting"`
}

func (r *blockRecord) block() *dedup.Block {
	return &dedup.Block{
		BlockID:     r.BlockID,
		StorageID:   r.StorageID,
		Length:      r.Size,
		RefCount:    r.RefCount,
		RefModified: time.Unix(0, r.RefModified).UTC(),
	}
}

type fileRecord struct {
	FileID    string `cbor:"file_id"`
	Finalized bool   `cbor:"finalized"`
	Size      int64  `cbor:"size"`
	Revision  int64  `cbor:"revision"`
	CreatedAt int64  `cbor:"created_at"`
}

func (r *fileRecord) file() *dedup.File {
	return &dedup.File{
		FileID:    r.FileID,
		Finalized: r.Finalized,
		Length:    r.Size,
		Revision:  r.Revision,
		CreatedAt: time.Unix(0, r.CreatedAt).UTC(),
	}
}

type assignRecord struct {
	FileID  string `cbor:"file_id"`
	BlockID string `cbor:"block_id"`
	Offset  int64  `cbor:"offset"`
	Counted bool   `cbor:"counted"`
}

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("database: CBOR encoder initialization failed: " + err.Error())
	}
	cborDec, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("database: CBOR decoder initialization failed: " + err.Error())
	}
}

// BadgerStore implements dedup.MetadataStore on a Badger key-value store.
// Records are CBOR encoded. Every mutation runs in one serializable Badger
// transaction and is retried when it conflicts with a concurrent one.
type BadgerStore struct {
	db *badger.DB
}

var _ dedup.MetadataStore = (*BadgerStore)(nil)

// NewBadgerStore opens a Badger catalog in dir. An empty dir opens an
// in-memory store. Badger's own log output goes to logger.
func NewBadgerStore(dir string, logger dedup.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{l: logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// badgerLogger routes Badger's printf-style logging into a dedup.Logger.
type badgerLogger struct {
	l dedup.Logger
}

func (b *badgerLogger) Errorf(format string, args ...any) {
	b.l.Error(fmt.Sprintf(format, args...), "component", "badger")
}

func (b *badgerLogger) Warningf(format string, args ...any) {
	b.l.Warn(fmt.Sprintf(format, args...), "component", "badger")
}

func (b *badgerLogger) Infof(format string, args ...any) {
	b.l.Debug(fmt.Sprintf(format, args...), "component", "badger")
}

func (b *badgerLogger) Debugf(format string, args ...any) {
	b.l.Debug(fmt.Sprintf(format, args...), "component", "badger")
}

func (s *BadgerStore) Ping(ctx context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badger store is closed")
	}
	return nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// update runs fn in a read-write transaction, retrying on conflict.
// fn must reset any state it accumulates, since it may run more than once.
func (s *BadgerStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.Update(fn)
		if errors.Is(err, badger.ErrConflict) && attempt < maxTxnRetries {
			continue
		}
		return err
	}
}

// getRecord decodes the value at key into v. It reports false if key is absent.
func getRecord(txn *badger.Txn, key []byte, v any) (bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	err = item.Value(func(val []byte) error {
		return cborDec.Unmarshal(val, v)
	})
	if err != nil {
		return false, fmt.Errorf("decoding %s: %w", key, err)
	}
	return true, nil
}

func putRecord(txn *badger.Txn, key []byte, v any) error {
	data, err := cborEnc.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	return txn.Set(key, data)
}

func hasPrefix(txn *badger.Txn, prefix []byte) bool {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()
	it.Rewind()
	return it.Valid()
}

// scan walks keys under prefix that sort after start, calling fn for each
// until it returns false. start is exclusive; an empty start begins at prefix.
func scan(txn *badger.Txn, prefix []byte, start []byte, values bool, fn func(item *badger.Item) (bool, error)) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = values
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	seek := prefix
	if len(start) > 0 {
		seek = start
	}
	for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		if len(start) > 0 && bytes.Equal(item.Key(), start) {
			continue
		}
		more, err := fn(item)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

// listNames returns up to limit key suffixes under prefix greater than marker.
// keep, when set, filters on the decoded item.
func listNames(txn *badger.Txn, prefix []byte, marker string, limit int, keep func(item *badger.Item) (bool, error)) ([]string, error) {
	var start []byte
	if marker != "" {
		start = withSuffix(prefix, marker)
	}
	names := []string{}
	err := scan(txn, prefix, start, keep != nil, func(item *badger.Item) (bool, error) {
		if keep != nil {
			ok, err := keep(item)
			if err != nil || !ok {
				return err == nil, err
			}
		}
		names = append(names, string(item.Key()[len(prefix):]))
		return limit < 1 || len(names) < limit, nil
	})
	return names, err
}

func decodeItem(item *badger.Item, v any) error {
	return item.Value(func(val []byte) error {
		return cborDec.Unmarshal(val, v)
	})
}

// Vault operations

func (s *BadgerStore) CreateVault(ctx context.Context, scope dedup.Scope, vault string, createdAt time.Time) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		var rec vaultRecord
		found, err := getRecord(txn, vaultKey(scope, vault), &rec)
		if err != nil || found {
			return err
		}
		return putRecord(txn, vaultKey(scope, vault), vaultRecord{CreatedAt: createdAt.UnixNano()})
	})
	if err != nil {
		return fmt.Errorf("creating vault: %w", err)
	}
	return nil
}

func (s *BadgerStore) VaultExists(ctx context.Context, scope dedup.Scope, vault string) (bool, error) {
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		found, err = getRecord(txn, vaultKey(scope, vault), &vaultRecord{})
		return err
	})
	if err != nil {
		return false, fmt.Errorf("finding vault: %w", err)
	}
	return found, nil
}

func (s *BadgerStore) DeleteVault(ctx context.Context, scope dedup.Scope, vault string) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		found, err := getRecord(txn, vaultKey(scope, vault), &vaultRecord{})
		if err != nil {
			return fmt.Errorf("finding vault: %w", err)
		}
		if !found {
			return dedup.ErrVaultNotFound
		}
		if hasPrefix(txn, blockPrefix(scope, vault)) || hasPrefix(txn, filePrefix(scope, vault)) {
			return dedup.ErrVaultNotEmpty
		}
		return txn.Delete(vaultKey(scope, vault))
	})
}

func (s *BadgerStore) ListVaults(ctx context.Context, scope dedup.Scope, marker string, limit int) ([]string, error) {
	var names []string
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		names, err = listNames(txn, vaultPrefix(scope), marker, limit, nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("listing vaults: %w", err)
	}
	return names, nil
}

func (s *BadgerStore) VaultStatistics(ctx context.Context, scope dedup.Scope, vault string) (*dedup.MetadataStats, error) {
	var st dedup.MetadataStats
	err := s.db.View(func(txn *badger.Txn) error {
		err := scan(txn, blockPrefix(scope, vault), nil, true, func(item *badger.Item) (bool, error) {
			var rec blockRecord
			if err := decodeItem(item, &rec); err != nil {
				return false, err
			}
			if !rec.Deleting {
				st.BlockCount++
				st.TotalSize += rec.Size
			}
			return true, nil
		})
		if err != nil {
			return err
		}

		var fileIDs []string
		err = scan(txn, filePrefix(scope, vault), nil, false, func(item *badger.Item) (bool, error) {
			fileIDs = append(fileIDs, string(item.Key()[len(filePrefix(scope, vault)):]))
			return true, nil
		})
		if err != nil {
			return err
		}
		st.FileCount = int64(len(fileIDs))

		for _, id := range fileIDs {
			err := scan(txn, assignPrefix(scope, vault, id), nil, false, func(*badger.Item) (bool, error) {
				st.FileBlockCount++
				return true, nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading vault statistics: %w", err)
	}
	return &st, nil
}

// Block operations

func (s *BadgerStore) RegisterBlock(ctx context.Context, scope dedup.Scope, vault string, block dedup.Block) (bool, error) {
	var created bool
	err := s.update(ctx, func(txn *badger.Txn) error {
		created = false
		key := withSuffix(blockPrefix(scope, vault), block.BlockID)

		var rec blockRecord
		found, err := getRecord(txn, key, &rec)
		if err != nil {
			return err
		}
		if found {
			if rec.Deleting {
				return dedup.ErrBlockDeleting
			}
			return nil
		}

		rec = blockRecord{
			BlockID:     block.BlockID,
			StorageID:   block.StorageID,
			Size:        block.Length,
			RefModified: block.RefModified.UnixNano(),
		}
		adopted, err := adoptPending(txn, scope, vault, block.BlockID)
		if err != nil {
			return err
		}
		rec.RefCount = adopted

		if err := putRecord(txn, key, &rec); err != nil {
			return err
		}
		if err := txn.Set(withSuffix(storagePrefix(scope, vault), block.StorageID), []byte(block.BlockID)); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("registering block: %w", err)
	}
	return created, nil
}

// adoptPending marks every pending assignment of blockID counted and returns
// how many there were.
func adoptPending(txn *badger.Txn, scope dedup.Scope, vault, blockID string) (int64, error) {
	var pending []assignRecord
	var keys [][]byte
	err := scan(txn, pendingPrefix(scope, vault, blockID), nil, true, func(item *badger.Item) (bool, error) {
		var rec assignRecord
		if err := decodeItem(item, &rec); err != nil {
			return false, err
		}
		pending = append(pending, rec)
		keys = append(keys, item.KeyCopy(nil))
		return true, nil
	})
	if err != nil {
		return 0, err
	}

	for i, rec := range pending {
		rec.Counted = true
		if err := putRecord(txn, withSuffix(assignPrefix(scope, vault, rec.FileID), offsetKey(rec.Offset)), &rec); err != nil {
			return 0, err
		}
		if err := txn.Delete(keys[i]); err != nil {
			return 0, err
		}
	}
	return int64(len(pending)), nil
}

func (s *BadgerStore) getBlock(txn *badger.Txn, scope dedup.Scope, vault, blockID string) (*blockRecord, error) {
	var rec blockRecord
	found, err := getRecord(txn, withSuffix(blockPrefix(scope, vault), blockID), &rec)
	if err != nil || !found {
		return nil, err
	}
	return &rec, nil
}

func (s *BadgerStore) GetBlock(ctx context.Context, scope dedup.Scope, vault, blockID string) (*dedup.Block, error) {
	var out *dedup.Block
	err := s.db.View(func(txn *badger.Txn) error {
		rec, err := s.getBlock(txn, scope, vault, blockID)
		if err != nil || rec == nil || rec.Deleting {
			return err
		}
		out = rec.block()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("finding block: %w", err)
	}
	return out, nil
}

func (s *BadgerStore) FindBlockByStorageID(ctx context.Context, scope dedup.Scope, vault, storageID string) (*dedup.Block, error) {
	var out *dedup.Block
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(withSuffix(storagePrefix(scope, vault), storageID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		blockID, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		rec, err := s.getBlock(txn, scope, vault, string(blockID))
		if err != nil || rec == nil {
			return err
		}
		out = rec.block()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("finding block by storage id: %w", err)
	}
	return out, nil
}

func (s *BadgerStore) AddReference(ctx context.Context, scope dedup.Scope, vault, blockID string, at time.Time) error {
	return s.adjustReference(ctx, scope, vault, blockID, at, 1)
}

func (s *BadgerStore) ReleaseReference(ctx context.Context, scope dedup.Scope, vault, blockID string, at time.Time) error {
	return s.adjustReference(ctx, scope, vault, blockID, at, -1)
}

func (s *BadgerStore) adjustReference(ctx context.Context, scope dedup.Scope, vault, blockID string, at time.Time, delta int64) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		rec, err := s.getBlock(txn, scope, vault, blockID)
		if err != nil {
			return err
		}
		if rec == nil || rec.Deleting {
			return dedup.ErrBlockNotFound
		}
		rec.RefCount = max(rec.RefCount+delta, 0)
		rec.RefModified = at.UnixNano()
		return putRecord(txn, withSuffix(blockPrefix(scope, vault), blockID), rec)
	})
}

func (s *BadgerStore) MarkBlockDeleting(ctx context.Context, scope dedup.Scope, vault, blockID string) (*dedup.Block, error) {
	var out *dedup.Block
	err := s.update(ctx, func(txn *badger.Txn) error {
		out = nil
		rec, err := s.getBlock(txn, scope, vault, blockID)
		if err != nil || rec == nil {
			return err
		}
		if rec.Deleting {
			out = rec.block()
			return nil
		}
		if rec.RefCount > 0 {
			return dedup.ErrBlockReferenced
		}
		rec.Deleting = true
		if err := putRecord(txn, withSuffix(blockPrefix(scope, vault), blockID), rec); err != nil {
			return err
		}
		out = rec.block()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BadgerStore) UnmarkBlockDeleting(ctx context.Context, scope dedup.Scope, vault, blockID string) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		rec, err := s.getBlock(txn, scope, vault, blockID)
		if err != nil || rec == nil || !rec.Deleting {
			return err
		}
		adopted, err := adoptPending(txn, scope, vault, blockID)
		if err != nil {
			return err
		}
		rec.Deleting = false
		rec.RefCount += adopted
		return putRecord(txn, withSuffix(blockPrefix(scope, vault), blockID), rec)
	})
}

func (s *BadgerStore) RemoveBlock(ctx context.Context, scope dedup.Scope, vault, blockID string) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		rec, err := s.getBlock(txn, scope, vault, blockID)
		if err != nil || rec == nil || !rec.Deleting {
			return err
		}
		if err := txn.Delete(withSuffix(storagePrefix(scope, vault), rec.StorageID)); err != nil {
			return err
		}
		return txn.Delete(withSuffix(blockPrefix(scope, vault), blockID))
	})
}

func (s *BadgerStore) ListBlocks(ctx context.Context, scope dedup.Scope, vault, marker string, limit int) ([]string, error) {
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		ids, err = listNames(txn, blockPrefix(scope, vault), marker, limit, func(item *badger.Item) (bool, error) {
			var rec blockRecord
			if err := decodeItem(item, &rec); err != nil {
				return false, err
			}
			return !rec.Deleting, nil
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("listing blocks: %w", err)
	}
	return ids, nil
}

// File operations

func (s *BadgerStore) CreateFile(ctx context.Context, scope dedup.Scope, vault string, file dedup.File) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		found, err := getRecord(txn, vaultKey(scope, vault), &vaultRecord{})
		if err != nil {
			return err
		}
		if !found {
			return dedup.ErrVaultNotFound
		}
		return putRecord(txn, withSuffix(filePrefix(scope, vault), file.FileID), &fileRecord{
			FileID:    file.FileID,
			Finalized: file.Finalized,
			Size:      file.Length,
			Revision:  file.Revision,
			CreatedAt: file.CreatedAt.UnixNano(),
		})
	})
	if err != nil {
		return fmt.Errorf("inserting file: %w", err)
	}
	return nil
}

func getFileRecord(txn *badger.Txn, scope dedup.Scope, vault, fileID string) (*fileRecord, error) {
	var rec fileRecord
	found, err := getRecord(txn, withSuffix(filePrefix(scope, vault), fileID), &rec)
	if err != nil || !found {
		return nil, err
	}
	return &rec, nil
}

func (s *BadgerStore) GetFile(ctx context.Context, scope dedup.Scope, vault, fileID string) (*dedup.File, error) {
	var out *dedup.File
	err := s.db.View(func(txn *badger.Txn) error {
		rec, err := getFileRecord(txn, scope, vault, fileID)
		if err != nil || rec == nil {
			return err
		}
		out = rec.file()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("finding file: %w", err)
	}
	return out, nil
}

func (s *BadgerStore) AssignBlocks(ctx context.Context, scope dedup.Scope, vault, fileID string, assignments []dedup.Assignment, at time.Time) ([]string, error) {
	var missing []string
	err := s.update(ctx, func(txn *badger.Txn) error {
		missing = []string{}
		file, err := getFileRecord(txn, scope, vault, fileID)
		if err != nil {
			return err
		}
		if file == nil {
			return dedup.ErrFileNotFound
		}
		if file.Finalized {
			return dedup.ErrFileFinalized
		}

		for _, a := range assignments {
			key := withSuffix(assignPrefix(scope, vault, fileID), offsetKey(a.Offset))
			var old assignRecord
			found, err := getRecord(txn, key, &old)
			if err != nil {
				return err
			}
			if found {
				if old.Counted {
					if err := s.releaseInTxn(txn, scope, vault, old.BlockID, 1, at); err != nil {
						return err
					}
				} else {
					pk := withSuffix(pendingPrefix(scope, vault, old.BlockID), fileID+"/"+offsetKey(old.Offset))
					if err := txn.Delete(pk); err != nil {
						return err
					}
				}
			}

			rec := assignRecord{FileID: fileID, BlockID: a.BlockID, Offset: a.Offset}
			blk, err := s.getBlock(txn, scope, vault, a.BlockID)
			if err != nil {
				return err
			}
			if blk != nil && !blk.Deleting {
				blk.RefCount++
				blk.RefModified = at.UnixNano()
				if err := putRecord(txn, withSuffix(blockPrefix(scope, vault), a.BlockID), blk); err != nil {
					return err
				}
				rec.Counted = true
			} else {
				pk := withSuffix(pendingPrefix(scope, vault, a.BlockID), fileID+"/"+offsetKey(a.Offset))
				if err := putRecord(txn, pk, &rec); err != nil {
					return err
				}
				missing = append(missing, a.BlockID)
			}
			if err := putRecord(txn, key, &rec); err != nil {
				return err
			}
		}

		file.Revision++
		return putRecord(txn, withSuffix(filePrefix(scope, vault), fileID), file)
	})
	if err != nil {
		return nil, fmt.Errorf("assigning blocks: %w", err)
	}
	return missing, nil
}

// releaseInTxn drops n references to blockID, never below zero.
func (s *BadgerStore) releaseInTxn(txn *badger.Txn, scope dedup.Scope, vault, blockID string, n int64, at time.Time) error {
	blk, err := s.getBlock(txn, scope, vault, blockID)
	if err != nil || blk == nil {
		return err
	}
	blk.RefCount = max(blk.RefCount-n, 0)
	blk.RefModified = at.UnixNano()
	return putRecord(txn, withSuffix(blockPrefix(scope, vault), blockID), blk)
}

func (s *BadgerStore) FileBlocks(ctx context.Context, scope dedup.Scope, vault, fileID string, afterOffset int64, limit int) ([]dedup.FileBlock, error) {
	var blocks []dedup.FileBlock
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := assignPrefix(scope, vault, fileID)
		var start []byte
		if afterOffset >= 0 {
			start = withSuffix(prefix, offsetKey(afterOffset))
		}
		return scan(txn, prefix, start, true, func(item *badger.Item) (bool, error) {
			var rec assignRecord
			if err := decodeItem(item, &rec); err != nil {
				return false, err
			}
			fb := dedup.FileBlock{BlockID: rec.BlockID, Offset: rec.Offset}
			if rec.Counted {
				blk, err := s.getBlock(txn, scope, vault, rec.BlockID)
				if err != nil {
					return false, err
				}
				if blk != nil && !blk.Deleting {
					fb.StorageID = blk.StorageID
					fb.Length = blk.Size
					fb.Known = true
				}
			}
			blocks = append(blocks, fb)
			return limit < 1 || len(blocks) < limit, nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("listing file blocks: %w", err)
	}
	return blocks, nil
}

func (s *BadgerStore) FinalizeFile(ctx context.Context, scope dedup.Scope, vault, fileID string, length, revision int64) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		file, err := getFileRecord(txn, scope, vault, fileID)
		if err != nil {
			return err
		}
		switch {
		case file == nil:
			return dedup.ErrFileNotFound
		case file.Finalized:
			return dedup.ErrFileFinalized
		case file.Revision != revision:
			return dedup.ErrStaleFileRevision
		}
		file.Finalized = true
		file.Size = length
		return putRecord(txn, withSuffix(filePrefix(scope, vault), fileID), file)
	})
}

func (s *BadgerStore) DeleteFile(ctx context.Context, scope dedup.Scope, vault, fileID string, at time.Time) (bool, error) {
	var existed bool
	err := s.update(ctx, func(txn *badger.Txn) error {
		existed = false
		file, err := getFileRecord(txn, scope, vault, fileID)
		if err != nil || file == nil {
			return err
		}
		existed = true

		var assigned []assignRecord
		var keys [][]byte
		err = scan(txn, assignPrefix(scope, vault, fileID), nil, true, func(item *badger.Item) (bool, error) {
			var rec assignRecord
			if err := decodeItem(item, &rec); err != nil {
				return false, err
			}
			assigned = append(assigned, rec)
			keys = append(keys, item.KeyCopy(nil))
			return true, nil
		})
		if err != nil {
			return err
		}

		refs := make(map[string]int64)
		for i, rec := range assigned {
			if rec.Counted {
				refs[rec.BlockID]++
			} else {
				pk := withSuffix(pendingPrefix(scope, vault, rec.BlockID), fileID+"/"+offsetKey(rec.Offset))
				if err := txn.Delete(pk); err != nil {
					return err
				}
			}
			if err := txn.Delete(keys[i]); err != nil {
				return err
			}
		}
		for blockID, n := range refs {
			if err := s.releaseInTxn(txn, scope, vault, blockID, n, at); err != nil {
				return err
			}
		}
		return txn.Delete(withSuffix(filePrefix(scope, vault), fileID))
	})
	if err != nil {
		return false, fmt.Errorf("deleting file: %w", err)
	}
	return existed, nil
}

func (s *BadgerStore) ListFiles(ctx context.Context, scope dedup.Scope, vault, marker string, limit int, finalizedOnly bool) ([]string, error) {
	var keep func(item *badger.Item) (bool, error)
	if finalizedOnly {
		keep = func(item *badger.Item) (bool, error) {
			var rec fileRecord
			if err := decodeItem(item, &rec); err != nil {
				return false, err
			}
			return rec.Finalized, nil
		}
	}
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		ids, err = listNames(txn, filePrefix(scope, vault), marker, limit, keep)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}
	return ids, nil
}
