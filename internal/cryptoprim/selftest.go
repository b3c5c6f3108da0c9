package cryptoprim

import (
	"bytes"
	"crypto/rand"
	"sync"
	"sync/atomic"
	"time"

	"dsm-storage-node/internal/errs"
)

// HealthChecker runs the crypto subsystem's init-time and periodic
// self-test (spec §4.1): keygen/encap/decap/serialization round-trip.
// Failure is fatal — callers are expected to abort startup or the
// scheduled task on a non-nil error from SelfTest.
type HealthChecker struct {
	interval    time.Duration
	initialized atomic.Bool

	mu        sync.Mutex
	lastCheck time.Time
}

// NewHealthChecker builds a checker with the given self-test cadence. The
// spec floor is 1 hour; callers may pass a shorter interval for tests.
func NewHealthChecker(interval time.Duration) *HealthChecker {
	return &HealthChecker{interval: interval}
}

// Due reports whether enough time has elapsed to warrant another self-test.
func (h *HealthChecker) Due() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lastCheck.IsZero() {
		return true
	}
	return time.Since(h.lastCheck) >= h.interval
}

// Initialized reports whether at least one self-test has ever succeeded.
func (h *HealthChecker) Initialized() bool { return h.initialized.Load() }

// SelfTest exercises keygen, encap/decap correctness, AEAD round-trip, and
// serialization of both KEM halves. A non-nil error means the subsystem is
// unusable and any operation depending on it must fail.
func (h *HealthChecker) SelfTest() error {
	pk, sk, err := Keygen()
	if err != nil {
		return errs.Wrap(errs.CryptoFailure, err, "selftest keygen")
	}
	defer sk.Zero()

	ss1, ct, err := Encap(pk)
	if err != nil {
		return errs.Wrap(errs.CryptoFailure, err, "selftest encap")
	}
	ss2, err := Decap(sk, ct)
	if err != nil {
		return errs.Wrap(errs.CryptoFailure, err, "selftest decap")
	}
	if !ConstantTimeCompare(ss1, ss2) {
		return errs.New(errs.CryptoFailure, "selftest: kem round-trip mismatch")
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return errs.Wrap(errs.CryptoFailure, err, "selftest rand")
	}
	nonce := make([]byte, 12)
	if _, err := rand.Read(nonce); err != nil {
		return errs.Wrap(errs.CryptoFailure, err, "selftest rand")
	}
	plaintext := []byte("dsm-storage-node selftest")
	ct2, err := Encrypt(key, nonce, plaintext)
	if err != nil {
		return errs.Wrap(errs.CryptoFailure, err, "selftest aead encrypt")
	}
	pt, err := Decrypt(key, nonce, ct2)
	if err != nil {
		return errs.Wrap(errs.CryptoFailure, err, "selftest aead decrypt")
	}
	if !bytes.Equal(pt, plaintext) {
		return errs.New(errs.CryptoFailure, "selftest: aead round-trip mismatch")
	}

	h.mu.Lock()
	h.lastCheck = time.Now()
	h.mu.Unlock()
	h.initialized.Store(true)
	return nil
}
