// Package epidemic implements the gossip/anti-entropy/cleanup engine
// (spec §4.6): the three recurring background tasks that keep replicas
// converging without synchronous coordination.
package epidemic

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"dsm-storage-node/internal/cluster"
	"dsm-storage-node/internal/cryptoprim"
	"dsm-storage-node/internal/model"
	"dsm-storage-node/internal/scheduler"
	"dsm-storage-node/internal/store"
)

// Config controls round cadences and gossip fanout (spec §4.6 defaults).
type Config struct {
	GossipInterval         time.Duration
	ReconciliationInterval time.Duration
	CleanupInterval        time.Duration
	Fanout                 int
	MaxBatchSize           int
	DefaultTTLSeconds      int64
	DefaultRegion          string
}

// DefaultConfig matches spec §4.6's documented defaults.
func DefaultConfig() Config {
	return Config{
		GossipInterval:         5 * time.Second,
		ReconciliationInterval: 30 * time.Second,
		CleanupInterval:        60 * time.Second,
		Fanout:                 3,
		MaxBatchSize:           100,
		DefaultTTLSeconds:      0,
		DefaultRegion:          "",
	}
}

// Engine wires the local store, cluster manager, and vector clock state
// into the three background rounds.
type Engine struct {
	cfg     Config
	log     *logrus.Logger
	store   *store.Store
	cluster *cluster.Manager
	selfID  string

	mu    sync.Mutex
	clock map[string]uint64 // per-key vector-clock counter contributed by this node

	gossipRounds         atomic.Int64
	reconciliationRounds atomic.Int64

	// Stream is an optional low-latency fan-out path: when set, each
	// gossip round's batch is also pushed to any live websocket
	// subscribers alongside the default HTTP peer dispatch.
	Stream *cluster.Broadcaster
}

// GossipRounds reports how many gossip rounds have completed, for the
// process metrics surface.
func (e *Engine) GossipRounds() int64 { return e.gossipRounds.Load() }

// ReconciliationRounds reports how many anti-entropy rounds have
// completed, for the process metrics surface.
func (e *Engine) ReconciliationRounds() int64 { return e.reconciliationRounds.Load() }

// New wires an epidemic engine over an existing store and cluster
// manager.
func New(cfg Config, log *logrus.Logger, st *store.Store, cl *cluster.Manager, selfID string) *Engine {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Engine{cfg: cfg, log: log, store: st, cluster: cl, selfID: selfID, clock: make(map[string]uint64)}
}

// GossipRound executes one gossip round (spec §4.6): picks min(fanout,
// |targets|) random peers (excluding self) and sends a batch of up to
// MaxBatchSize local entries.
func (e *Engine) GossipRound(ctx context.Context) error {
	defer e.gossipRounds.Add(1)
	targets := e.cluster.Nodes(e.selfID)
	if len(targets) == 0 {
		return nil
	}
	n := e.cfg.Fanout
	if n > len(targets) {
		n = len(targets)
	}
	rand.Shuffle(len(targets), func(i, j int) { targets[i], targets[j] = targets[j], targets[i] })
	chosen := targets[:n]

	ids := e.store.List(e.cfg.MaxBatchSize, 0)
	batch := make([]cluster.GossipEntry, 0, len(ids))
	now := time.Now().Unix()
	for _, id := range ids {
		entry, ok := e.store.Retrieve(id)
		if !ok {
			continue
		}
		batch = append(batch, cluster.GossipEntry{
			Key:         id,
			Value:       entry,
			VectorClock: e.nextClock(id),
			Timestamp:   now,
			OriginNode:  e.selfID,
		})
	}

	for _, peer := range chosen {
		if err := e.cluster.SendEntries(ctx, peer.ID, peer.Endpoint, batch); err != nil {
			e.log.WithFields(logrus.Fields{"peer": peer.ID, "error": err}).Warn("epidemic: gossip send failed")
		}
	}
	if e.Stream != nil {
		e.Stream.Broadcast(batch)
	}
	return nil
}

func (e *Engine) nextClock(key string) map[string]uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clock[key]++
	return map[string]uint64{e.selfID: e.clock[key]}
}

// AntiEntropyRound reconciles local state against each known peer by
// requesting its entries and merging them in (spec §4.6). The exact
// digest/diff strategy is left to the transport; this merges whatever
// the peer returns via MergeGossipEntries, which is idempotent.
func (e *Engine) AntiEntropyRound(ctx context.Context) error {
	defer e.reconciliationRounds.Add(1)
	peers := e.cluster.Nodes(e.selfID)
	for _, peer := range peers {
		entries, err := e.cluster.RequestEntries(ctx, peer.ID, peer.Endpoint, nil)
		if err != nil {
			e.log.WithFields(logrus.Fields{"peer": peer.ID, "error": err}).Warn("epidemic: anti-entropy request failed")
			continue
		}
		e.MergeGossipEntries(entries)
	}
	return nil
}

// MergeGossipEntries verifies and stores each incoming entry (spec §4.6,
// §3's gossip integrity invariant). The origin node already applied its
// own TTL/region defaulting before computing proof_hash (Store.Store
// does so before hashing), so an as-received entry's hash is checked
// as-is; any mismatch means a corrupted or forged entry and the whole
// entry is rejected rather than normalized to fit. Conflicting versions
// of the same key are resolved by shouldReplace.
func (e *Engine) MergeGossipEntries(entries []cluster.GossipEntry) {
	for _, incoming := range entries {
		if incoming.Value == nil {
			continue
		}
		want := store.VerificationHash(incoming.Value)
		if !cryptoprim.ConstantTimeCompare(want[:], incoming.Value.ProofHash[:]) {
			e.log.WithFields(logrus.Fields{"key": incoming.Key, "origin": incoming.OriginNode}).
				Warn("epidemic: rejecting gossip entry with invalid proof hash")
			continue
		}
		if existing, ok := e.store.Retrieve(incoming.Key); ok {
			if !shouldReplace(existing, incoming) {
				continue
			}
		}
		clone := *incoming.Value
		if err := e.store.Store(&clone); err != nil {
			e.log.WithFields(logrus.Fields{"key": incoming.Key, "error": err}).
				Warn("epidemic: failed to store merged gossip entry")
		}
	}
}

// shouldReplace decides whether an incoming gossip entry supersedes the
// locally held one: the gossip entry's timestamp is compared with the
// stored entry's timestamp and the later one wins; on a tie, the
// incoming entry wins whenever its origin_node is non-empty. The
// incoming vector clock is not consulted, and origin_node is not
// compared against the stored entry's origin (the store does not record
// one).
func shouldReplace(existing *model.BlindedEntry, incoming cluster.GossipEntry) bool {
	if incoming.Timestamp != existing.Timestamp {
		return incoming.Timestamp > existing.Timestamp
	}
	return incoming.OriginNode > ""
}

// CleanupRound sweeps expired entries and, if the store's capacity caps
// are exceeded, runs the priority-score eviction pass (spec §4.6).
func (e *Engine) CleanupRound(ctx context.Context) error {
	e.store.Cleanup()
	e.store.Evict()
	return nil
}

// RegisterWith installs the three recurring rounds on a scheduler
// (spec §4.6's cadences).
func (e *Engine) RegisterWith(s *scheduler.Scheduler) {
	s.RegisterRecurring(scheduler.Normal, e.cfg.GossipInterval, func() scheduler.TaskFunc { return e.GossipRound })
	s.RegisterRecurring(scheduler.Normal, e.cfg.ReconciliationInterval, func() scheduler.TaskFunc { return e.AntiEntropyRound })
	s.RegisterRecurring(scheduler.Low, e.cfg.CleanupInterval, func() scheduler.TaskFunc { return e.CleanupRound })
}
