package cryptoprim

import (
	"golang.org/x/crypto/chacha20poly1305"

	"dsm-storage-node/internal/errs"
)

// deriveAEADKey reduces arbitrary key material to the fixed 32-byte AEAD
// key, hashing it down when it isn't already the right size (spec §4.1).
func deriveAEADKey(keyMaterial []byte) []byte {
	if len(keyMaterial) == chacha20poly1305.KeySize {
		return keyMaterial
	}
	h := Hash(keyMaterial)
	return h[:]
}

// Encrypt seals plaintext under a 12-byte nonce with ChaCha20-Poly1305
// (spec §4.1 AEAD contract). The caller owns nonce uniqueness per key.
func Encrypt(keyMaterial, nonce, plaintext []byte) ([]byte, error) {
	if len(nonce) != chacha20poly1305.NonceSize {
		return nil, errs.New(errs.InvalidKey, "nonce must be 12 bytes")
	}
	aead, err := chacha20poly1305.New(deriveAEADKey(keyMaterial))
	if err != nil {
		return nil, errs.Wrap(errs.CryptoFailure, err, "aead init")
	}
	return aead.Seal(nil, nonce, plaintext, nil), nil
}

// Decrypt opens a blob produced by Encrypt. Tag failure and malformed input
// are indistinguishable to the caller by design (spec §4.1 uniform error).
func Decrypt(keyMaterial, nonce, ciphertext []byte) ([]byte, error) {
	if len(nonce) != chacha20poly1305.NonceSize {
		return nil, errs.New(errs.InvalidCiphertext, "nonce must be 12 bytes")
	}
	aead, err := chacha20poly1305.New(deriveAEADKey(keyMaterial))
	if err != nil {
		return nil, errs.Wrap(errs.CryptoFailure, err, "aead init")
	}
	pt, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errs.New(errs.CryptoFailure, "decryption failed")
	}
	return pt, nil
}
