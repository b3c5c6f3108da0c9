package store

import (
	"testing"
	"time"

	"dsm-storage-node/internal/cryptoprim"
	"dsm-storage-node/internal/model"
)

func makeEntry(id string, payload []byte, ttl int64, region string, priority uint8) *model.BlindedEntry {
	e := &model.BlindedEntry{
		BlindedID:        id,
		EncryptedPayload: payload,
		TTL:              ttl,
		Region:           region,
		Priority:         priority,
		Timestamp:        time.Now().Unix(),
	}
	e.ProofHash = verificationHash(e)
	return e
}

func TestStoreRejectsBadVerificationHash(t *testing.T) {
	s := New(DefaultConfig(), nil)
	e := makeEntry("a", []byte("payload"), 0, "us", 1)
	e.ProofHash = cryptoprim.DomainHash("tampered")
	if err := s.Store(e); err == nil {
		t.Fatalf("expected verification hash mismatch error")
	}
}

func TestStoreRetrieveRoundTrip(t *testing.T) {
	s := New(DefaultConfig(), nil)
	e := makeEntry("a", []byte("payload"), 0, "us", 1)
	if err := s.Store(e); err != nil {
		t.Fatalf("Store: %v", err)
	}
	got, ok := s.Retrieve("a")
	if !ok {
		t.Fatalf("expected entry to be found")
	}
	if got.AccessCount != 1 {
		t.Fatalf("expected access count 1, got %d", got.AccessCount)
	}
	if got.LastAccessed.IsZero() {
		t.Fatalf("expected last accessed to be set")
	}
}

func TestRetrieveExpired(t *testing.T) {
	s := New(DefaultConfig(), nil)
	e := makeEntry("a", []byte("payload"), 1, "us", 1)
	e.Timestamp = time.Now().Add(-time.Hour).Unix()
	e.ProofHash = verificationHash(e)
	if err := s.Store(e); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if _, ok := s.Retrieve("a"); ok {
		t.Fatalf("expected expired entry to be absent")
	}
}

func TestDeleteReportsPresence(t *testing.T) {
	s := New(DefaultConfig(), nil)
	e := makeEntry("a", []byte("payload"), 0, "us", 1)
	if err := s.Store(e); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if !s.Delete("a") {
		t.Fatalf("expected delete to report true")
	}
	if s.Delete("a") {
		t.Fatalf("expected second delete to report false")
	}
}

func TestListLimitOffset(t *testing.T) {
	s := New(DefaultConfig(), nil)
	for _, id := range []string{"c", "a", "b"} {
		if err := s.Store(makeEntry(id, []byte("x"), 0, "us", 1)); err != nil {
			t.Fatalf("Store: %v", err)
		}
	}
	ids := s.List(0, 0)
	if len(ids) != 3 || ids[0] != "a" || ids[1] != "b" || ids[2] != "c" {
		t.Fatalf("expected sorted [a b c], got %v", ids)
	}
	if got := s.List(1, 1); len(got) != 1 || got[0] != "b" {
		t.Fatalf("expected [b], got %v", got)
	}
}

func TestEvictionRemovesBottomTenPercent(t *testing.T) {
	cfg := Config{
		MaxEntries:            5,
		MaxMemoryBytes:        10 * 1024,
		EnableEviction:        true,
		CleanupInterval:       time.Hour,
		EvictionCheckInterval: time.Hour,
	}
	s := New(cfg, nil)
	for i := 0; i < 20; i++ {
		priority := uint8(i % 4)
		e := makeEntry(string(rune('a'+i)), make([]byte, 1024), 0, "us", priority)
		if err := s.Store(e); err != nil {
			t.Fatalf("Store: %v", err)
		}
	}
	removed := s.Evict()
	if removed != 2 {
		t.Fatalf("expected 2 entries evicted (10%% of 20), got %d", removed)
	}
	if s.Len() != 18 {
		t.Fatalf("expected 18 entries remaining, got %d", s.Len())
	}
}

func TestCleanupRemovesExpired(t *testing.T) {
	s := New(DefaultConfig(), nil)
	e := makeEntry("a", []byte("x"), 1, "us", 1)
	e.Timestamp = time.Now().Add(-time.Hour).Unix()
	e.ProofHash = verificationHash(e)
	s.entries["a"] = e
	s.memory += int64(e.Size())

	removed := s.Cleanup()
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if s.Len() != 0 {
		t.Fatalf("expected store empty after cleanup")
	}
}

func TestCID(t *testing.T) {
	e := makeEntry("a", []byte("x"), 0, "us", 1)
	c, err := CID(e)
	if err != nil {
		t.Fatalf("CID: %v", err)
	}
	if c.String() == "" {
		t.Fatalf("expected non-empty cid string")
	}
}
