package cryptoprim

import (
	"bytes"
	"crypto/rand"
	"testing"
	"time"

	"dsm-storage-node/internal/errs"
)

func TestKemRoundTrip(t *testing.T) {
	pk, sk, err := Keygen()
	if err != nil {
		t.Fatalf("Keygen: %v", err)
	}
	defer sk.Zero()

	ss1, ct, err := Encap(pk)
	if err != nil {
		t.Fatalf("Encap: %v", err)
	}
	ss2, err := Decap(sk, ct)
	if err != nil {
		t.Fatalf("Decap: %v", err)
	}
	if !bytes.Equal(ss1, ss2) {
		t.Fatalf("shared secret mismatch")
	}
}

func TestKemDeterministicSeed(t *testing.T) {
	seed := bytes.Repeat([]byte{0x42}, 32)
	pk1, sk1, err := KeygenFromSeed(seed, "ctx")
	if err != nil {
		t.Fatalf("KeygenFromSeed: %v", err)
	}
	defer sk1.Zero()
	pk2, sk2, err := KeygenFromSeed(seed, "ctx")
	if err != nil {
		t.Fatalf("KeygenFromSeed: %v", err)
	}
	defer sk2.Zero()
	if !bytes.Equal(pk1, pk2) {
		t.Fatalf("deterministic keygen produced different public keys")
	}
	if !bytes.Equal(sk1.Bytes(), sk2.Bytes()) {
		t.Fatalf("deterministic keygen produced different private keys")
	}
}

func TestKemInvalidLengths(t *testing.T) {
	if _, _, err := Encap([]byte("short")); !errs.Is(err, errs.InvalidKey) {
		t.Fatalf("expected InvalidKey, got %v", err)
	}
	sk := NewSecretBytes(make([]byte, 32))
	if _, err := Decap(sk, []byte("short")); !errs.Is(err, errs.InvalidCiphertext) {
		t.Fatalf("expected InvalidCiphertext, got %v", err)
	}
}

func TestSecretBytesZero(t *testing.T) {
	_, sk, err := Keygen()
	if err != nil {
		t.Fatalf("Keygen: %v", err)
	}
	sk.Zero()
	if sk.Bytes() != nil {
		t.Fatalf("expected nil after Zero")
	}
	if _, err := Decap(sk, make([]byte, CiphertextSize())); !errs.Is(err, errs.InvalidKey) {
		t.Fatalf("expected InvalidKey after zeroing, got %v", err)
	}
}

func TestAeadRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	rand.Read(key)
	nonce := make([]byte, 12)
	rand.Read(nonce)
	plaintext := []byte("hello world")

	ct, err := Encrypt(key, nonce, plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	pt, err := Decrypt(key, nonce, ct)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(pt, plaintext) {
		t.Fatalf("round trip mismatch")
	}
}

func TestAeadDerivesNon32ByteKeys(t *testing.T) {
	key := []byte("not-32-bytes")
	nonce := make([]byte, 12)
	ct, err := Encrypt(key, nonce, []byte("x"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := Decrypt(key, nonce, ct); err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
}

func TestAeadTagFailureIsUniform(t *testing.T) {
	key := make([]byte, 32)
	nonce := make([]byte, 12)
	ct, err := Encrypt(key, nonce, []byte("x"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	ct[len(ct)-1] ^= 0xFF
	_, err = Decrypt(key, nonce, ct)
	if !errs.Is(err, errs.CryptoFailure) {
		t.Fatalf("expected CryptoFailure, got %v", err)
	}
}

func TestHashDeterministic(t *testing.T) {
	a := Hash([]byte("a"), []byte("b"))
	b := Hash([]byte("a"), []byte("b"))
	if a != b {
		t.Fatalf("hash not deterministic")
	}
	c := Hash([]byte("other input"))
	if a == c {
		t.Fatalf("hash of different input should differ")
	}
}

func TestEntropyContextDeterministic(t *testing.T) {
	ctx1 := &EntropyContext{ContextString: "ctx", Entropy: []byte("entropy")}
	ctx2 := &EntropyContext{ContextString: "ctx", Entropy: []byte("entropy")}
	d1, err := ctx1.Derive("purpose", 16)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	d2, err := ctx2.Derive("purpose", 16)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if !bytes.Equal(d1, d2) {
		t.Fatalf("entropy context derivation not deterministic")
	}
}

func TestHealthCheckerSelfTest(t *testing.T) {
	hc := NewHealthChecker(time.Hour)
	if !hc.Due() {
		t.Fatalf("fresh checker should be due")
	}
	if err := hc.SelfTest(); err != nil {
		t.Fatalf("SelfTest: %v", err)
	}
	if hc.Due() {
		t.Fatalf("checker should not be due immediately after a pass")
	}
	if !hc.Initialized() {
		t.Fatalf("expected initialized")
	}
}
