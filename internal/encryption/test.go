package encryption

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"dedup-go/internal/dedup"
)

// testMagic opens every block written by TestEncryptor.
var testMagic = []byte("DDTEST\x00\x01")

// testMask is XORed over every byte, so stored bytes never equal the
// plaintext and a block id computed over them would not match.
const testMask = 0x5a

// TestEncryptor is a deterministic stand-in for AgeEncryptor. Until Setup is
// called any passphrase unlocks it.
type TestEncryptor struct {
	passphrase string
	sealed     bool
}

var _ dedup.Encryptor = (*TestEncryptor)(nil)

func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

func (e *TestEncryptor) Setup(passphrase string) error {
	e.passphrase = passphrase
	e.sealed = true
	return nil
}

func (e *TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(testMagic); err != nil {
		return fmt.Errorf("writing block header: %w", err)
	}
	if err := maskCopy(w, r); err != nil {
		return fmt.Errorf("encrypting block: %w", err)
	}
	return nil
}

func (e *TestEncryptor) Unlock(passphrase string) (dedup.DecryptionContext, error) {
	if e.sealed && passphrase != e.passphrase {
		return nil, ErrWrongPassphrase
	}
	return testBlockKey{}, nil
}

func (e *TestEncryptor) IsConfigured() bool { return true }

type testBlockKey struct{}

func (testBlockKey) Decrypt(r io.Reader, w io.Writer) error {
	magic := make([]byte, len(testMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return fmt.Errorf("reading block header: %w", err)
	}
	if !bytes.Equal(magic, testMagic) {
		return fmt.Errorf("block was not written by the test encryptor")
	}
	if err := maskCopy(w, r); err != nil {
		return fmt.Errorf("decrypting block: %w", err)
	}
	return nil
}

func maskCopy(w io.Writer, r io.Reader) error {
	br := bufio.NewReader(r)
	bw := bufio.NewWriter(w)
	for {
		c, err := br.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if err := bw.WriteByte(c ^ testMask); err != nil {
			return err
		}
	}
	return bw.Flush()
}
