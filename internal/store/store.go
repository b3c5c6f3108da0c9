// Package store implements the local blinded-entry store (spec §4.4):
// an in-memory keyed map of integrity-verified entries with periodic
// cleanup and priority-ranked eviction.
package store

import (
	"encoding/binary"
	"sort"
	"sync"
	"time"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
	"github.com/sirupsen/logrus"

	"dsm-storage-node/internal/cryptoprim"
	"dsm-storage-node/internal/errs"
	"dsm-storage-node/internal/model"
)

// Config controls capacity limits and background sweep cadence.
type Config struct {
	MaxEntries            int
	MaxMemoryBytes        int64
	DefaultTTLSeconds     int64
	CleanupInterval       time.Duration
	EvictionCheckInterval time.Duration
	EnableEviction        bool
}

// DefaultConfig matches the spec's documented defaults for a single node.
func DefaultConfig() Config {
	return Config{
		MaxEntries:            1_000_000,
		MaxMemoryBytes:        1 << 30, // 1 GiB
		DefaultTTLSeconds:     0,
		CleanupInterval:       60 * time.Second,
		EvictionCheckInterval: 60 * time.Second,
		EnableEviction:        true,
	}
}

// Store is the in-memory keyed entry map.
type Store struct {
	cfg Config
	log *logrus.Logger

	mu      sync.RWMutex
	entries map[string]*model.BlindedEntry
	memory  int64

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New constructs a store. Call Run in a goroutine to start background
// cleanup/eviction sweeps.
func New(cfg Config, log *logrus.Logger) *Store {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Store{
		cfg:     cfg,
		log:     log,
		entries: make(map[string]*model.BlindedEntry),
		stopCh:  make(chan struct{}),
	}
}

// VerificationHash computes H(id ∥ payload ∥ ttl_le ∥ region ∥ priority)
// per spec §4.4. Exported so callers building a BlindedEntry outside this
// package (e.g. the blinded-payload constructor, the HTTP API) can set
// ProofHash before calling Store.
func VerificationHash(e *model.BlindedEntry) [32]byte {
	return verificationHash(e)
}

func verificationHash(e *model.BlindedEntry) [32]byte {
	ttlBuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(ttlBuf, uint64(e.TTL))
	return cryptoprim.Hash(
		[]byte(e.BlindedID),
		e.EncryptedPayload,
		ttlBuf,
		[]byte(e.Region),
		[]byte{e.Priority},
	)
}

// CID returns the entry's proof hash wrapped as a CIDv1, for use as an
// opaque, routable content identifier in peer and API responses.
func CID(e *model.BlindedEntry) (cid.Cid, error) {
	digest, err := mh.Sum(e.ProofHash[:], mh.SHA2_256, -1)
	if err != nil {
		return cid.Undef, errs.Wrap(errs.Serialization, err, "compute multihash for entry")
	}
	return cid.NewCidV1(cid.Raw, digest), nil
}

// Store validates entry.ProofHash against the computed verification hash
// and inserts/overwrites it by BlindedID (spec §4.4).
func (s *Store) Store(e *model.BlindedEntry) error {
	if e.BlindedID == "" {
		return errs.New(errs.InvalidInput, "blinded id must not be empty")
	}
	if len(e.BlindedID) > model.MaxBlindedIDLen {
		return errs.New(errs.InvalidInput, "blinded id too long")
	}
	if len(e.EncryptedPayload) > model.MaxPayloadLen {
		return errs.New(errs.InvalidInput, "payload too long")
	}
	if e.TTL == 0 && s.cfg.DefaultTTLSeconds > 0 {
		e.TTL = s.cfg.DefaultTTLSeconds
	}
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().Unix()
	}
	want := verificationHash(e)
	if !cryptoprim.ConstantTimeCompare(want[:], e.ProofHash[:]) {
		return errs.New(errs.Validation, "entry verification hash mismatch")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.entries[e.BlindedID]; ok {
		s.memory -= int64(old.Size())
	}
	s.entries[e.BlindedID] = e
	s.memory += int64(e.Size())
	return nil
}

// Retrieve returns the entry for id, or (nil, false) if absent or
// expired. A successful read increments access_count and sets
// last_accessed (spec §4.4).
func (s *Store) Retrieve(id string) (*model.BlindedEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	now := time.Now()
	if e.Expired(now) {
		return nil, false
	}
	e.AccessCount++
	e.LastAccessed = now
	return e, true
}

// Delete removes id, reporting whether it was present.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return false
	}
	delete(s.entries, id)
	s.memory -= int64(e.Size())
	return true
}

// List returns ids in sorted order with standard limit/offset slice
// semantics (spec §4.4).
func (s *Store) List(limit, offset int) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if offset > len(ids) {
		offset = len(ids)
	}
	ids = ids[offset:]
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}
	return ids
}

// Len returns the current entry count.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// MemoryBytes returns the current accounted memory usage.
func (s *Store) MemoryBytes() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.memory
}

// priorityScore implements spec §4.4's eviction ranking:
// min(access_count, 1000) + 100·priority + max(0, 3600 − idle_seconds).
func priorityScore(e *model.BlindedEntry, now time.Time) int64 {
	access := e.AccessCount
	if access > 1000 {
		access = 1000
	}
	last := e.LastAccessed
	if last.IsZero() {
		last = time.Unix(e.Timestamp, 0)
	}
	idle := int64(now.Sub(last).Seconds())
	idleTerm := int64(3600) - idle
	if idleTerm < 0 {
		idleTerm = 0
	}
	return int64(access) + 100*int64(e.Priority) + idleTerm
}

// Evict runs the bottom-10%-by-priority-score eviction pass when either
// capacity cap is exceeded and eviction is enabled (spec §4.4). Returns
// the number of entries removed.
func (s *Store) Evict() int {
	if !s.cfg.EnableEviction {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	overCount := s.cfg.MaxEntries > 0 && len(s.entries) > s.cfg.MaxEntries
	overMemory := s.cfg.MaxMemoryBytes > 0 && s.memory > s.cfg.MaxMemoryBytes
	if !overCount && !overMemory {
		return 0
	}

	type scored struct {
		id    string
		score int64
	}
	now := time.Now()
	ranked := make([]scored, 0, len(s.entries))
	for id, e := range s.entries {
		ranked = append(ranked, scored{id, priorityScore(e, now)})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score < ranked[j].score
		}
		return ranked[i].id < ranked[j].id
	})

	evictCount := (len(ranked) + 9) / 10
	removed := 0
	for i := 0; i < evictCount && i < len(ranked); i++ {
		e := s.entries[ranked[i].id]
		delete(s.entries, ranked[i].id)
		s.memory -= int64(e.Size())
		removed++
	}
	if removed > 0 {
		s.log.WithFields(logrus.Fields{"removed": removed}).Debug("store: eviction pass complete")
	}
	return removed
}

// Cleanup sweeps expired entries (spec §4.4). Returns the number removed.
func (s *Store) Cleanup() int {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, e := range s.entries {
		if e.Expired(now) {
			delete(s.entries, id)
			s.memory -= int64(e.Size())
			removed++
		}
	}
	if removed > 0 {
		s.log.WithFields(logrus.Fields{"removed": removed}).Debug("store: cleanup pass complete")
	}
	return removed
}

// Run drives the periodic cleanup and eviction-check ticks until Stop is
// called or ctx-less caller invokes Stop directly.
func (s *Store) Run() {
	cleanupTicker := time.NewTicker(s.cfg.CleanupInterval)
	evictionTicker := time.NewTicker(s.cfg.EvictionCheckInterval)
	defer cleanupTicker.Stop()
	defer evictionTicker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-cleanupTicker.C:
			s.Cleanup()
			if s.cfg.EnableEviction {
				s.Evict()
			}
		case <-evictionTicker.C:
			s.Evict()
		}
	}
}

// Stop halts the background Run loop.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}
