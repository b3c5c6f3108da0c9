package cryptoprim

import "sync"

// SecretBytes wraps key material that must be zeroed on every exit path
// (spec §5, "Secret material ... scoped acquisition; guaranteed memory zero
// on all exit paths"). circl's kem.PrivateKey does not expose its internal
// buffer for zeroing, so this node keeps the authoritative marshaled copy
// here and reconstructs a transient kem.PrivateKey only for the duration of
// a single Decap call.
type SecretBytes struct {
	mu   sync.Mutex
	data []byte
}

// NewSecretBytes takes ownership of b; callers must not retain b afterwards.
func NewSecretBytes(b []byte) *SecretBytes {
	return &SecretBytes{data: b}
}

// Bytes returns the current secret, or nil if it has been zeroed.
func (s *SecretBytes) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data
}

// Zero overwrites and releases the secret. Safe to call multiple times.
func (s *SecretBytes) Zero() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.data {
		s.data[i] = 0
	}
	s.data = nil
}
