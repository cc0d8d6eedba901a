package dedup

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"

	"github.com/zeebo/blake3"
)

// Supported addressing algorithms.
const (
	AlgorithmSHA1   = "sha1"
	AlgorithmSHA256 = "sha256"
	AlgorithmBLAKE3 = "blake3"
)

// Addresser computes and checks content-derived block ids.
// Ids are lowercase hex digests of the block bytes.
type Addresser struct {
	algorithm string
	newHash   func() hash.Hash
	size      int
}

// NewAddresser returns an Addresser for the named algorithm.
// An empty name selects sha1.
func NewAddresser(algorithm string) (*Addresser, error) {
	a := &Addresser{algorithm: algorithm}
	switch algorithm {
	case "", AlgorithmSHA1:
		a.algorithm = AlgorithmSHA1
		a.newHash = sha1.New
	case AlgorithmSHA256:
		a.newHash = sha256.New
	case AlgorithmBLAKE3:
		a.newHash = func() hash.Hash { return blake3.New() }
	default:
		return nil, fmt.Errorf("unknown addressing algorithm: %q", algorithm)
	}
	a.size = a.newHash().Size()
	return a, nil
}

// Algorithm returns the configured algorithm name.
func (a *Addresser) Algorithm() string { return a.algorithm }

// New returns a fresh hash for streaming digests.
func (a *Addresser) New() hash.Hash { return a.newHash() }

// Digest returns the block id for data.
func (a *Addresser) Digest(data []byte) string {
	h := a.newHash()
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ValidID reports whether id is shaped like an id this Addresser produces.
func (a *Addresser) ValidID(id string) bool {
	if len(id) != a.size*2 {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// Verify checks that data hashes to blockID.
func (a *Addresser) Verify(blockID string, data []byte) error {
	if got := a.Digest(data); got != blockID {
		return fmt.Errorf("%w: claimed %s, computed %s", ErrHashMismatch, blockID, got)
	}
	return nil
}
