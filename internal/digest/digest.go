// Package digest provides the keccak hashing primitives shared by the
// emulator, prover, and aggregation layers.
package digest

import (
	"encoding/binary"

	"golang.org/x/crypto/sha3"
)

// Size is the width of all digests in bytes.
const Size = 32

// Keccak256 hashes the concatenation of the given byte slices with
// legacy Keccak-256 (the variant used by proof commitments).
func Keccak256(data ...[]byte) [Size]byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	var out [Size]byte
	h.Sum(out[:0])
	return out
}

// Uint64Bytes returns the big-endian encoding of v.
// Length-prefix helper for digest framing.
func Uint64Bytes(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}
