package encryption

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"filippo.io/age"

	"dedup-go/internal/config"
	"dedup-go/internal/dedup"
)

// ErrWrongPassphrase is returned by Unlock when the passphrase does not open
// the sealed identity.
var ErrWrongPassphrase = errors.New("incorrect passphrase")

// AgeEncryptor encrypts blocks to an X25519 recipient. The matching identity
// is sealed in its own file with a passphrase, so blocks can be written with
// the public key alone but serving them needs an unlocked identity.
type AgeEncryptor struct {
	publicKeyPath  string
	privateKeyPath string

	mu        sync.Mutex
	recipient *age.X25519Recipient
}

var _ dedup.Encryptor = (*AgeEncryptor)(nil)

// NewAgeEncryptor returns an AgeEncryptor over the key files named in cfg.
func NewAgeEncryptor(cfg config.EncryptionConfig) *AgeEncryptor {
	return &AgeEncryptor{
		publicKeyPath:  cfg.PublicKeyPath,
		privateKeyPath: cfg.PrivateKeyPath,
	}
}

// Setup generates a key pair. The identity is sealed with passphrase and
// written before the public key, so a crash never leaves a recipient whose
// identity is lost.
func (e *AgeEncryptor) Setup(passphrase string) error {
	if passphrase == "" {
		return fmt.Errorf("passphrase must not be empty")
	}
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating identity: %w", err)
	}

	sealed, err := sealIdentity(identity, passphrase)
	if err != nil {
		return err
	}
	if err := writeKeyFile(e.privateKeyPath, sealed, 0600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}
	if err := writeKeyFile(e.publicKeyPath, []byte(identity.Recipient().String()+"\n"), 0644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}

	e.mu.Lock()
	e.recipient = identity.Recipient()
	e.mu.Unlock()
	return nil
}

// Encrypt writes r to w encrypted to the public key.
func (e *AgeEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	recipient, err := e.loadRecipient()
	if err != nil {
		return err
	}
	aw, err := age.Encrypt(w, recipient)
	if err != nil {
		return fmt.Errorf("starting encryption: %w", err)
	}
	if _, err := io.Copy(aw, r); err != nil {
		return fmt.Errorf("encrypting block: %w", err)
	}
	if err := aw.Close(); err != nil {
		return fmt.Errorf("finishing encryption: %w", err)
	}
	return nil
}

// Unlock opens the sealed identity and checks that it belongs to the public
// key blocks are being encrypted to.
func (e *AgeEncryptor) Unlock(passphrase string) (dedup.DecryptionContext, error) {
	sealed, err := os.ReadFile(e.privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}
	identity, err := openIdentity(sealed, passphrase)
	if err != nil {
		return nil, err
	}

	recipient, err := e.loadRecipient()
	if err != nil {
		return nil, err
	}
	if identity.Recipient().String() != recipient.String() {
		return nil, fmt.Errorf("private key %s does not match public key %s", e.privateKeyPath, e.publicKeyPath)
	}
	return &ageBlockKey{identity: identity}, nil
}

// IsConfigured reports whether both key files exist.
func (e *AgeEncryptor) IsConfigured() bool {
	for _, path := range []string{e.publicKeyPath, e.privateKeyPath} {
		if _, err := os.Stat(path); err != nil {
			return false
		}
	}
	return true
}

func (e *AgeEncryptor) loadRecipient() (*age.X25519Recipient, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.recipient != nil {
		return e.recipient, nil
	}

	data, err := os.ReadFile(e.publicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading public key: %w", err)
	}
	recipient, err := age.ParseX25519Recipient(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("parsing public key %s: %w", e.publicKeyPath, err)
	}
	e.recipient = recipient
	return recipient, nil
}

func sealIdentity(identity *age.X25519Identity, passphrase string) ([]byte, error) {
	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return nil, fmt.Errorf("deriving passphrase key: %w", err)
	}
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return nil, fmt.Errorf("sealing identity: %w", err)
	}
	if _, err := io.WriteString(w, identity.String()+"\n"); err != nil {
		return nil, fmt.Errorf("sealing identity: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("sealing identity: %w", err)
	}
	return buf.Bytes(), nil
}

func openIdentity(sealed []byte, passphrase string) (*age.X25519Identity, error) {
	scrypt, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("deriving passphrase key: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(sealed), scrypt)
	if err != nil {
		var noMatch *age.NoIdentityMatchError
		if errors.As(err, &noMatch) {
			return nil, ErrWrongPassphrase
		}
		return nil, fmt.Errorf("opening private key: %w", err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("opening private key: %w", err)
	}
	identity, err := age.ParseX25519Identity(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	return identity, nil
}

// writeKeyFile writes data to path through a temp file and rename.
func writeKeyFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".key-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ageBlockKey decrypts blocks with an unlocked identity.
type ageBlockKey struct {
	identity *age.X25519Identity
}

var _ dedup.DecryptionContext = (*ageBlockKey)(nil)

func (k *ageBlockKey) Decrypt(r io.Reader, w io.Writer) error {
	ar, err := age.Decrypt(r, k.identity)
	if err != nil {
		return fmt.Errorf("opening encrypted block: %w", err)
	}
	if _, err := io.Copy(w, ar); err != nil {
		return fmt.Errorf("decrypting block: %w", err)
	}
	return nil
}
