package encryption

import (
	"fmt"
	"os"

	"dedup-go/internal/config"
	"dedup-go/internal/dedup"
)

// NewEncryptorFromConfig creates an Encryptor based on the configuration type.
// It returns nil for "none": blocks are stored as plaintext.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (dedup.Encryptor, error) {
	switch cfg.Type {
	case "none", "":
		return nil, nil
	case "age":
		return NewAgeEncryptor(cfg), nil
	case "test":
		return NewTestEncryptor(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}

// UnlockFromEnv unlocks the private key with the passphrase held in the
// environment variable named by envVar.
func UnlockFromEnv(enc dedup.Encryptor, envVar string) (dedup.DecryptionContext, error) {
	if !enc.IsConfigured() {
		return nil, fmt.Errorf("encryption keys not found; run 'dedup keys init'")
	}
	passphrase, ok := os.LookupEnv(envVar)
	if !ok || passphrase == "" {
		return nil, fmt.Errorf("passphrase environment variable %s is not set", envVar)
	}
	dec, err := enc.Unlock(passphrase)
	if err != nil {
		return nil, fmt.Errorf("unlocking private key: %w", err)
	}
	return dec, nil
}
