package cryptoprim

import (
	"github.com/cloudflare/circl/kem/kyber/kyber768"

	"dsm-storage-node/internal/errs"
)

// scheme is the node's fixed post-quantum KEM algorithm. Kyber768 gives a
// genuinely deterministic DeriveKeyPair, so KeygenFromSeed never falls back
// to non-deterministic keygen (spec §9 Open Question 2 — resolved, see
// SPEC_FULL.md §13.2).
var scheme = kyber768.Scheme()

// Keygen produces a fresh random keypair. sk must be zeroed by the caller
// once it is no longer needed.
func Keygen() (pk []byte, sk *SecretBytes, err error) {
	pub, priv, err := scheme.GenerateKeyPair()
	if err != nil {
		return nil, nil, errs.Wrap(errs.CryptoFailure, err, "kem keygen")
	}
	pkBytes, err := pub.MarshalBinary()
	if err != nil {
		return nil, nil, errs.Wrap(errs.CryptoFailure, err, "kem marshal public key")
	}
	skBytes, err := priv.MarshalBinary()
	if err != nil {
		return nil, nil, errs.Wrap(errs.CryptoFailure, err, "kem marshal private key")
	}
	return pkBytes, NewSecretBytes(skBytes), nil
}

// KeygenFromSeed derives a keypair deterministically from seed and context:
// context ∥ seed is expanded with DeriveSymmetricKey (HKDF-SHA256, label
// "DSM_KEM_SEED") to the KEM's full seed size, which feeds the KEM's
// native deterministic keygen. seed must be at least 32 bytes.
func KeygenFromSeed(seed []byte, context string) (pk []byte, sk *SecretBytes, err error) {
	if len(seed) < 32 {
		return nil, nil, errs.New(errs.InvalidKey, "seed must be at least 32 bytes")
	}
	derived, err := DeriveSymmetricKey(append([]byte(context), seed...), scheme.SeedSize(), "DSM_KEM_SEED")
	if err != nil {
		return nil, nil, err
	}
	pub, priv := scheme.DeriveKeyPair(derived)
	pkBytes, err := pub.MarshalBinary()
	if err != nil {
		return nil, nil, errs.Wrap(errs.CryptoFailure, err, "kem marshal public key")
	}
	skBytes, err := priv.MarshalBinary()
	if err != nil {
		return nil, nil, errs.Wrap(errs.CryptoFailure, err, "kem marshal private key")
	}
	return pkBytes, NewSecretBytes(skBytes), nil
}

// Encap performs key encapsulation against a peer's public key, returning
// the shared secret and the ciphertext to send to the peer.
func Encap(pk []byte) (sharedSecret, ciphertext []byte, err error) {
	if len(pk) != scheme.PublicKeySize() {
		return nil, nil, errs.New(errs.InvalidKey, "invalid public key length")
	}
	pub, err := scheme.UnmarshalBinaryPublicKey(pk)
	if err != nil {
		return nil, nil, errs.Wrap(errs.InvalidKey, err, "unmarshal public key")
	}
	ct, ss, err := scheme.Encapsulate(pub)
	if err != nil {
		return nil, nil, errs.Wrap(errs.CryptoFailure, err, "kem encapsulate")
	}
	return ss, ct, nil
}

// Decap recovers the shared secret from a ciphertext using sk. Correctness:
// Decap(sk, Encap(pk).ct) == Encap(pk).ss whenever sk is pk's private half.
func Decap(sk *SecretBytes, ciphertext []byte) (sharedSecret []byte, err error) {
	if len(ciphertext) != scheme.CiphertextSize() {
		return nil, errs.New(errs.InvalidCiphertext, "invalid ciphertext length")
	}
	raw := sk.Bytes()
	if raw == nil {
		return nil, errs.New(errs.InvalidKey, "secret key has been zeroed")
	}
	priv, err := scheme.UnmarshalBinaryPrivateKey(raw)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidKey, err, "unmarshal private key")
	}
	ss, err := scheme.Decapsulate(priv, ciphertext)
	if err != nil {
		return nil, errs.Wrap(errs.CryptoFailure, err, "kem decapsulate")
	}
	return ss, nil
}

// PublicKeySize, PrivateKeySize and CiphertextSize expose the fixed,
// algorithm-defined lengths used to validate inputs at the API boundary.
func PublicKeySize() int  { return scheme.PublicKeySize() }
func PrivateKeySize() int { return scheme.PrivateKeySize() }
func CiphertextSize() int { return scheme.CiphertextSize() }
