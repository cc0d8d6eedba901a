package testutil

import (
	"crypto/sha1"
	"encoding/hex"
)

// SHA1Hex returns the SHA-1 digest of data as a lowercase hex string,
// the block id format of the default addressing scheme.
func SHA1Hex(data []byte) string {
	h := sha1.Sum(data)
	return hex.EncodeToString(h[:])
}

// Block returns data together with its SHA-1 block id.
func Block(data string) (string, []byte) {
	return SHA1Hex([]byte(data)), []byte(data)
}
