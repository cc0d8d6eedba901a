package dedup

import (
	"context"
	"fmt"
)

// Vault is a handle on one vault, bound to the scope it was opened with.
type Vault struct {
	Name   string
	Blocks *Index
	Files  *Assembler
}

// Namespace manages the vaults of every project. It is the entry point of the
// core: transports resolve a Scope, then call Namespace operations or Open a
// Vault handle for block and file operations.
type Namespace struct {
	meta      MetadataStore
	blocks    BlockStore
	addresser *Addresser
	logger    Logger
	clock     Clock
	idgen     IDGenerator
}

// NewNamespace creates a Namespace with the provided dependencies.
func NewNamespace(meta MetadataStore, blocks BlockStore, addresser *Addresser, logger Logger, clock Clock, idgen IDGenerator) *Namespace {
	return &Namespace{
		meta:      meta,
		blocks:    blocks,
		addresser: addresser,
		logger:    logger,
		clock:     clock,
		idgen:     idgen,
	}
}

// Addresser returns the addressing scheme used for block ids.
func (n *Namespace) Addresser() *Addresser { return n.addresser }

func (n *Namespace) check(scope Scope, name string) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	if !ValidVaultName(name) {
		return fmt.Errorf("%w: invalid vault name %q", ErrBadRequest, name)
	}
	return nil
}

// Create creates a vault. Creating an existing vault is a no-op.
func (n *Namespace) Create(ctx context.Context, scope Scope, name string) error {
	if err := n.check(scope, name); err != nil {
		return err
	}
	if err := n.blocks.CreateVault(ctx, scope, name); err != nil {
		return fmt.Errorf("creating vault storage: %w", err)
	}
	if err := n.meta.CreateVault(ctx, scope, name, n.clock.Now()); err != nil {
		return fmt.Errorf("creating vault metadata: %w", err)
	}
	n.logger.Info("vault created", "project", scope.ProjectID, "vault", name)
	return nil
}

// Exists reports whether the vault exists.
func (n *Namespace) Exists(ctx context.Context, scope Scope, name string) (bool, error) {
	if err := n.check(scope, name); err != nil {
		return false, err
	}
	ok, err := n.meta.VaultExists(ctx, scope, name)
	if err != nil {
		return false, fmt.Errorf("checking vault: %w", err)
	}
	return ok, nil
}

// Delete removes an empty vault.
func (n *Namespace) Delete(ctx context.Context, scope Scope, name string) error {
	if err := n.check(scope, name); err != nil {
		return err
	}
	if err := n.meta.DeleteVault(ctx, scope, name); err != nil {
		return fmt.Errorf("deleting vault metadata: %w", err)
	}
	if err := n.blocks.DeleteVault(ctx, scope, name); err != nil {
		return fmt.Errorf("deleting vault storage: %w", err)
	}
	n.logger.Info("vault deleted", "project", scope.ProjectID, "vault", name)
	return nil
}

// Statistics returns block and file counts for the vault.
func (n *Namespace) Statistics(ctx context.Context, scope Scope, name string) (*VaultStatistics, error) {
	if _, err := n.Open(ctx, scope, name); err != nil {
		return nil, err
	}
	meta, err := n.meta.VaultStatistics(ctx, scope, name)
	if err != nil {
		return nil, fmt.Errorf("reading metadata statistics: %w", err)
	}
	storage, err := n.blocks.VaultStatistics(ctx, scope, name)
	if err != nil {
		return nil, fmt.Errorf("reading storage statistics: %w", err)
	}
	return &VaultStatistics{Metadata: *meta, Storage: *storage}, nil
}

// List returns one page of the project's vault names after marker.
func (n *Namespace) List(ctx context.Context, scope Scope, marker string, limit int) (*Page[string], error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	return Paginate(limit, marker, func(marker string, max int) ([]string, error) {
		names, err := n.meta.ListVaults(ctx, scope, marker, max)
		if err != nil {
			return nil, fmt.Errorf("listing vaults: %w", err)
		}
		return names, nil
	}, identity)
}

// Open returns a handle on an existing vault.
func (n *Namespace) Open(ctx context.Context, scope Scope, name string) (*Vault, error) {
	ok, err := n.Exists(ctx, scope, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrVaultNotFound
	}
	return &Vault{
		Name:   name,
		Blocks: NewIndex(scope, name, n.meta, n.blocks, n.addresser, n.logger, n.clock),
		Files:  NewAssembler(scope, name, n.meta, n.blocks, n.addresser, n.logger, n.clock, n.idgen),
	}, nil
}

// Health checks that both stores are reachable.
func (n *Namespace) Health(ctx context.Context) error {
	if err := n.meta.Ping(ctx); err != nil {
		return fmt.Errorf("metadata store: %w", err)
	}
	if err := n.blocks.ValidateSetup(ctx); err != nil {
		return fmt.Errorf("block store: %w", err)
	}
	return nil
}
