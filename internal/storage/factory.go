package storage

import (
	"context"
	"fmt"

	"dedup-go/internal/config"
	"dedup-go/internal/dedup"
)

// Encryption carries the keys for at-rest encryption. A nil *Encryption
// stores plaintext.
type Encryption struct {
	Encryptor dedup.Encryptor
	Decrypter dedup.DecryptionContext
}

// NewBlockStoreFromConfig creates a BlockStore based on the storage config
// type. Blocks are compressed before they are encrypted.
func NewBlockStoreFromConfig(ctx context.Context, cfg config.StorageConfig, enc *Encryption) (dedup.BlockStore, error) {
	tag, err := ParseCompressionTag(cfg.Compression)
	if err != nil {
		return nil, err
	}

	var store dedup.BlockStore
	switch cfg.Type {
	case "memory":
		store = NewMemoryStore()
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem storage requires fs_root to be set")
		}
		fsStore, err := NewFileSystemStore(cfg.FSRoot, cfg.MinFreeBytes)
		if err != nil {
			return nil, err
		}
		store = fsStore
	case "s3":
		s3Store, err := NewS3Store(ctx, cfg)
		if err != nil {
			return nil, err
		}
		store = s3Store
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}

	if enc != nil {
		store = NewEncryptedStore(store, enc.Encryptor, enc.Decrypter)
	}
	if tag != CompressionNone {
		store = NewCompressedStore(store, tag)
	}
	return store, nil
}
