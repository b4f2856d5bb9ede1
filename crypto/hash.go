// Package crypto provides the signing, hashing and randomness primitives
// consumed by the chain core. The real BLS/Schnorr/VRF implementations are
// external collaborators (see spec.md §1, §6): this package gives them
// concrete, reasonably-shaped types so the core compiles and is testable,
// without claiming to be production cryptography.
package crypto

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Hash is a 32-byte Blake2b digest, hex-encoded for use as a map key /
// string identifier throughout the core (chain-info keys, tx IDs, ...).
type Hash [32]byte

// HashBytes returns the Blake2b-256 hash of data.
func HashBytes(data ...[]byte) Hash {
	h, err := blake2b.New256(nil)
	if err != nil {
		panic(err) // only fails for a bad key, which we never pass
	}
	for _, d := range data {
		h.Write(d)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// String returns the lowercase hex encoding of h.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the all-zero hash (used as the genesis
// block's parent hash sentinel).
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// HashFromHex parses a hex string into a Hash.
func HashFromHex(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, err
	}
	var h Hash
	if len(b) != len(h) {
		return Hash{}, errInvalidHashLength
	}
	copy(h[:], b)
	return h, nil
}
