package hash

import (
	"encoding/hex"
	"fmt"
)

// Size is the digest length in bytes.
const Size = 32

// Digest is a 32-byte structural content hash.
type Digest [Size]byte

// Hex returns the digest in lowercase hexadecimal.
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

// IsZero reports whether the digest is all zeroes.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// ParseDigest decodes a hexadecimal digest string.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	b, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("hash: parsing digest: %w", err)
	}
	if len(b) != Size {
		return d, fmt.Errorf("hash: digest is %d bytes, want %d", len(b), Size)
	}
	copy(d[:], b)
	return d, nil
}
