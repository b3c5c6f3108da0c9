package cryptoprim

import (
	"crypto/rand"
	"crypto/subtle"

	"lukechampine.com/blake3"
)

// RandomBytes fills buf with OS-backed entropy, for callers (MPC
// contribution sampling, nonce generation) that need raw randomness
// rather than a derived key.
func RandomBytes(buf []byte) (int, error) {
	return rand.Read(buf)
}

// Hash is the node's single 32-byte content-integrity primitive: unkeyed,
// fixed-output BLAKE3 over the concatenation of every part, in order
// (spec §4.1 "the specification fixes BLAKE3 semantics").
func Hash(parts ...[]byte) [32]byte {
	h := blake3.New(32, nil)
	for _, p := range parts {
		h.Write(p)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// DomainHash prepends a domain-separation label before the usual
// concatenate-and-hash, keeping different derivations (KEM seeds, symmetric
// keys, entropy contexts, mailbox blinding keys) from colliding even when
// their other inputs happen to coincide.
func DomainHash(domain string, parts ...[]byte) [32]byte {
	all := make([][]byte, 0, len(parts)+1)
	all = append(all, []byte(domain))
	all = append(all, parts...)
	return Hash(all...)
}

// ConstantTimeCompare reports whether a and b are byte-equal without
// branching on the comparison result, for use on any cryptographic value
// (tags, proof hashes, shared secrets).
func ConstantTimeCompare(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}
