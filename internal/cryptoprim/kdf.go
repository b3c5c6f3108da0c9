package cryptoprim

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"

	"dsm-storage-node/internal/errs"
)

// DefaultSymmetricKeyContext is the domain-separation label used when the
// caller does not supply one (spec §4.1 derive_symmetric_key default).
const DefaultSymmetricKeyContext = "DSM_SYMMETRIC_KEY"

// DeriveSymmetricKey expands sharedSecret into size bytes via a
// domain-separated HKDF-SHA256 chain, the node's "iterated domain-separated
// hash expansion" (spec §4.1).
func DeriveSymmetricKey(sharedSecret []byte, size int, context string) ([]byte, error) {
	if context == "" {
		context = DefaultSymmetricKeyContext
	}
	r := hkdf.New(sha256.New, sharedSecret, nil, []byte(context))
	out := make([]byte, size)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, errs.Wrap(errs.CryptoFailure, err, "derive symmetric key")
	}
	return out, nil
}

// EntropyContext is a stateful, deterministic derivation source (spec
// §4.1): two contexts with equal (ContextString, Entropy) produce identical
// output for equal purpose/length arguments.
type EntropyContext struct {
	ContextString string
	Entropy       []byte
}

// Derive expands this context for a given purpose to length bytes.
func (c *EntropyContext) Derive(purpose string, length int) ([]byte, error) {
	secret := append(append([]byte{}, c.ContextString...), c.Entropy...)
	r := hkdf.New(sha256.New, secret, nil, []byte(purpose))
	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, errs.Wrap(errs.CryptoFailure, err, "entropy context derive")
	}
	return out, nil
}
