package testutil

import (
	"testing"

	"dedup-go/internal/database"
	"dedup-go/internal/dedup"
	"dedup-go/internal/storage"
)

// Fixture bundles a Namespace with the stores and stubs behind it, so tests
// can reach underneath the core to simulate inconsistencies.
type Fixture struct {
	Namespace *dedup.Namespace
	Meta      dedup.MetadataStore
	Blocks    *storage.MemoryStore
	Clock     *StubClock
	IDs       *StubIDGenerator
}

// NewTestMetadataStore creates an in-memory SQLite metadata store with the
// schema applied. The store is closed when the test completes.
func NewTestMetadataStore(t *testing.T) dedup.MetadataStore {
	t.Helper()

	store, err := database.NewMemoryStore()
	if err != nil {
		t.Fatalf("failed to open metadata store: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewFixture creates a Namespace over in-memory stores, SHA-1 addressing, a
// fixed clock and sequential ids.
func NewFixture(t *testing.T) *Fixture {
	t.Helper()

	addresser, err := dedup.NewAddresser(dedup.AlgorithmSHA1)
	if err != nil {
		t.Fatalf("NewAddresser() error = %v", err)
	}

	f := &Fixture{
		Meta:  NewTestMetadataStore(t),
		Clock: FixedClock(),
		IDs:   NewStubIDGenerator(),
	}
	f.Blocks = storage.NewMemoryStoreWithIDs(f.IDs)
	f.Namespace = dedup.NewNamespace(f.Meta, f.Blocks, addresser, dedup.NewNopLogger(), f.Clock, f.IDs)
	return f
}

// NewVault creates and opens a vault in the fixture's namespace.
func (f *Fixture) NewVault(t *testing.T, scope dedup.Scope, name string) *dedup.Vault {
	t.Helper()

	ctx := t.Context()
	if err := f.Namespace.Create(ctx, scope, name); err != nil {
		t.Fatalf("Create(%s) error = %v", name, err)
	}
	v, err := f.Namespace.Open(ctx, scope, name)
	if err != nil {
		t.Fatalf("Open(%s) error = %v", name, err)
	}
	return v
}
