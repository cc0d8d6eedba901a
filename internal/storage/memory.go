package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"dedup-go/internal/dedup"
)

// MemoryStore is an in-memory implementation of the BlockStore interface.
// It keeps every vault's objects in a map, making it useful for testing.
// This implementation is safe for concurrent use.
type MemoryStore struct {
	ids    dedup.IDGenerator
	vaults map[string]map[string][]byte // "project/vault" -> storageID -> bytes
	mu     sync.RWMutex
}

var _ dedup.BlockStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory block store.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithIDs(dedup.UUIDGenerator{})
}

// NewMemoryStoreWithIDs creates an in-memory block store whose storage id
// suffixes come from ids.
func NewMemoryStoreWithIDs(ids dedup.IDGenerator) *MemoryStore {
	return &MemoryStore{
		ids:    ids,
		vaults: make(map[string]map[string][]byte),
	}
}

func vaultKey(scope dedup.Scope, vault string) string {
	return scope.ProjectID + "/" + vault
}

func (m *MemoryStore) CreateVault(_ context.Context, scope dedup.Scope, vault string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := vaultKey(scope, vault)
	if _, ok := m.vaults[key]; !ok {
		m.vaults[key] = make(map[string][]byte)
	}
	return nil
}

func (m *MemoryStore) VaultExists(_ context.Context, scope dedup.Scope, vault string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.vaults[vaultKey(scope, vault)]
	return ok, nil
}

func (m *MemoryStore) DeleteVault(_ context.Context, scope dedup.Scope, vault string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.vaults, vaultKey(scope, vault))
	return nil
}

func (m *MemoryStore) VaultStatistics(_ context.Context, scope dedup.Scope, vault string) (*dedup.StorageStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	objects := m.vaults[vaultKey(scope, vault)]
	stats := &dedup.StorageStats{BlockCount: int64(len(objects))}
	for _, data := range objects {
		stats.TotalSize += int64(len(data))
	}
	return stats, nil
}

// PutBlock stores a copy of the block under a fresh storage id.
func (m *MemoryStore) PutBlock(_ context.Context, scope dedup.Scope, vault, blockID string, r io.Reader, size int64) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read block: %w", err)
	}
	if int64(len(data)) != size {
		return "", fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	objects, ok := m.vaults[vaultKey(scope, vault)]
	if !ok {
		return "", dedup.ErrVaultNotFound
	}
	storageID := dedup.StorageID(blockID, m.ids)
	objects[storageID] = data
	return storageID, nil
}

func (m *MemoryStore) lookup(scope dedup.Scope, vault, storageID string) ([]byte, bool) {
	objects, ok := m.vaults[vaultKey(scope, vault)]
	if !ok {
		return nil, false
	}
	data, ok := objects[storageID]
	return data, ok
}

func (m *MemoryStore) OpenBlock(_ context.Context, scope dedup.Scope, vault, storageID string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.lookup(scope, vault, storageID)
	if !ok {
		return nil, fmt.Errorf("storage block %s: %w", storageID, dedup.ErrBlockNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *MemoryStore) BlockLength(_ context.Context, scope dedup.Scope, vault, storageID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.lookup(scope, vault, storageID)
	if !ok {
		return 0, fmt.Errorf("storage block %s: %w", storageID, dedup.ErrBlockNotFound)
	}
	return int64(len(data)), nil
}

func (m *MemoryStore) BlockExists(_ context.Context, scope dedup.Scope, vault, storageID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.lookup(scope, vault, storageID)
	return ok, nil
}

func (m *MemoryStore) DeleteBlock(_ context.Context, scope dedup.Scope, vault, storageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if objects, ok := m.vaults[vaultKey(scope, vault)]; ok {
		delete(objects, storageID)
	}
	return nil
}

func (m *MemoryStore) ListBlocks(_ context.Context, scope dedup.Scope, vault, marker string, limit int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	objects := m.vaults[vaultKey(scope, vault)]
	keys := make([]string, 0, len(objects))
	for k := range objects {
		keys = append(keys, k)
	}
	return dedup.After(keys, marker, limit), nil
}

// ValidateSetup always succeeds for memory stores.
func (m *MemoryStore) ValidateSetup(context.Context) error {
	return nil
}
