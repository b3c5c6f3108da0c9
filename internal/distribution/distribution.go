// Package distribution implements the distribution coordinator (spec
// §4.7): replica placement, store/retrieve/delete across the cluster,
// health-gated node selection, and rebalance triggers.
package distribution

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"dsm-storage-node/internal/cluster"
	"dsm-storage-node/internal/errs"
	"dsm-storage-node/internal/model"
	"dsm-storage-node/internal/partition"
	"dsm-storage-node/internal/store"
)

// Config bounds replication factors and rebalance cadence (spec §4.7).
type Config struct {
	MinReplicas            int
	DefaultReplicas        int
	MaxReplicas            int
	RebalancingIntervalSec int
	RebalancingThreshold   float64
	MetricsIntervalSec     int
}

// DefaultConfig matches spec §4.7's documented bounds.
func DefaultConfig() Config {
	return Config{
		MinReplicas:            2,
		DefaultReplicas:        3,
		MaxReplicas:            5,
		RebalancingIntervalSec: 300,
		RebalancingThreshold:   0.8,
		MetricsIntervalSec:     60,
	}
}

// Coordinator wires the local store, partition ring, and cluster
// transport into distributed store/retrieve/delete operations.
type Coordinator struct {
	cfg     Config
	log     *logrus.Logger
	store   *store.Store
	ring    *partition.Ring
	cluster *cluster.Manager
	selfID  string

	mu        sync.RWMutex
	placement map[string]*model.PlacementInfo
}

// New wires a distribution coordinator.
func New(cfg Config, log *logrus.Logger, st *store.Store, ring *partition.Ring, cl *cluster.Manager, selfID string) *Coordinator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Coordinator{cfg: cfg, log: log, store: st, ring: ring, cluster: cl, selfID: selfID, placement: make(map[string]*model.PlacementInfo)}
}

// replicationFactorFor derives the factor from priority (spec §4.7).
func (c *Coordinator) replicationFactorFor(priority uint8) int {
	switch {
	case priority >= 10:
		return c.cfg.MaxReplicas
	case priority >= 5:
		return c.cfg.DefaultReplicas
	default:
		return c.cfg.MinReplicas
	}
}

func endpointFor(nodes map[string]*model.NodeRecord, id string) string {
	if n, ok := nodes[id]; ok {
		return n.Endpoint
	}
	return ""
}

// StoreDistributed selects nodes via the ring, writes to the primary
// (locally if self, else forwarded), and fans out best-effort to
// replicas (spec §4.7).
func (c *Coordinator) StoreDistributed(ctx context.Context, entry *model.BlindedEntry) error {
	rf := c.replicationFactorFor(entry.Priority)
	primary, replicas, err := c.ring.GetPartitionForKey(entry.BlindedID)
	if err != nil {
		return errs.Wrap(errs.Distribution, err, "select partition for key")
	}
	selected := c.filterHealthy(append([]string{primary}, replicas...), rf)
	if len(selected) == 0 {
		return errs.New(errs.Distribution, "no nodes available")
	}

	p, rs := selected[0], selected[1:]
	nodes := c.nodeIndex()

	var writeErr error
	if p == c.selfID {
		writeErr = c.store.Store(entry)
	} else {
		writeErr = c.cluster.ForwardPut(ctx, p, endpointFor(nodes, p), entry)
	}
	if writeErr != nil {
		return errs.Wrap(errs.Distribution, writeErr, "primary write failed")
	}

	for _, r := range rs {
		var err error
		if r == c.selfID {
			err = c.store.Store(entry)
		} else {
			err = c.cluster.ForwardPut(ctx, r, endpointFor(nodes, r), entry)
		}
		if err != nil {
			c.log.WithFields(logrus.Fields{"replica": r, "error": err}).Warn("distribution: replica write failed")
		}
	}

	c.mu.Lock()
	c.placement[entry.BlindedID] = &model.PlacementInfo{
		Primary:           p,
		Replicas:          rs,
		PlacedAt:          time.Now(),
		Strategy:          string(c.ring.Strategy()),
		ReplicationFactor: rf,
	}
	c.mu.Unlock()
	return nil
}

func (c *Coordinator) filterHealthy(candidates []string, limit int) []string {
	out := make([]string, 0, limit)
	seen := make(map[string]bool)
	for _, id := range candidates {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if !c.cluster.IsHealthy(id) && id != c.selfID {
			continue
		}
		out = append(out, id)
		if len(out) >= limit {
			break
		}
	}
	return out
}

func (c *Coordinator) nodeIndex() map[string]*model.NodeRecord {
	idx := make(map[string]*model.NodeRecord)
	for _, n := range c.cluster.Nodes("") {
		idx[n.ID] = n
	}
	return idx
}

// RetrieveDistributed tries the local store, then placement-known
// primary/replicas in order, then (if no placement) broadcasts to all
// known nodes in parallel and returns the first successful response
// (spec §4.7).
func (c *Coordinator) RetrieveDistributed(ctx context.Context, id string) (*model.BlindedEntry, error) {
	if e, ok := c.store.Retrieve(id); ok {
		return e, nil
	}

	c.mu.RLock()
	pl, known := c.placement[id]
	c.mu.RUnlock()
	nodes := c.nodeIndex()

	if known {
		order := append([]string{pl.Primary}, pl.Replicas...)
		for _, nodeID := range order {
			if nodeID == c.selfID || nodeID == "" {
				continue
			}
			entry, err := c.cluster.ForwardGet(ctx, nodeID, endpointFor(nodes, nodeID), id)
			if err == nil {
				return entry, nil
			}
		}
		return nil, errs.New(errs.NotFound, "entry not found on any known placement")
	}

	type result struct {
		entry *model.BlindedEntry
		err   error
	}
	resultCh := make(chan result, len(nodes))
	pending := 0
	for nodeID, n := range nodes {
		if nodeID == c.selfID {
			continue
		}
		pending++
		go func(nodeID, endpoint string) {
			entry, err := c.cluster.ForwardGet(ctx, nodeID, endpoint, id)
			resultCh <- result{entry, err}
		}(nodeID, n.Endpoint)
	}
	for ; pending > 0; pending-- {
		select {
		case r := <-resultCh:
			if r.err == nil {
				return r.entry, nil
			}
		case <-ctx.Done():
			return nil, errs.Wrap(errs.Timeout, ctx.Err(), "retrieve broadcast timed out")
		}
	}
	return nil, errs.New(errs.NotFound, "entry not found anywhere in cluster")
}

// DeleteDistributed attempts delete locally, then on primary, then each
// replica, removing the placement record and reporting whether anything
// reported deletion (spec §4.7).
func (c *Coordinator) DeleteDistributed(ctx context.Context, id string) bool {
	deleted := c.store.Delete(id)

	c.mu.Lock()
	pl, known := c.placement[id]
	delete(c.placement, id)
	c.mu.Unlock()

	if !known {
		return deleted
	}
	nodes := c.nodeIndex()
	for _, nodeID := range append([]string{pl.Primary}, pl.Replicas...) {
		if nodeID == c.selfID || nodeID == "" {
			continue
		}
		if err := c.cluster.ForwardDelete(ctx, nodeID, endpointFor(nodes, nodeID), id); err == nil {
			deleted = true
		}
	}
	return deleted
}

// UpdateAllNodeMetrics polls every known node's status (spec §4.7, every
// 60s).
func (c *Coordinator) UpdateAllNodeMetrics(ctx context.Context) {
	out := make(map[string]*model.NodeMetrics)
	c.cluster.UpdateAllNodeMetrics(ctx, out)
	for id, m := range out {
		c.ring.UpdateMetrics(id, m)
	}
}

// CheckAndRebalance triggers a ring rebalance when any healthy node's
// load ratio exceeds RebalancingThreshold (spec §4.7). Load ratios are
// refreshed into the ring by UpdateAllNodeMetrics.
func (c *Coordinator) CheckAndRebalance(ctx context.Context) {
	over := false
	for nodeID, ratio := range c.ring.NodeLoadRatios() {
		if c.cluster.IsHealthy(nodeID) && ratio > c.cfg.RebalancingThreshold {
			over = true
			break
		}
	}
	if !over {
		return
	}
	c.ring.Rebalance()

	snapshot, err := c.ring.ExportSnapshot()
	if err != nil {
		c.log.WithError(err).Warn("distribution: failed to export post-rebalance snapshot")
		return
	}
	c.log.WithField("snapshot_bytes", len(snapshot)).Debug("distribution: rebalance snapshot ready for transfer")
}

// HandleNodeRemoved rewrites every placement record where removedNodeID
// was primary or replica: it promotes the first surviving replica to
// primary if the primary was removed, and tops the replica list back up
// to targetReplicas with other nodes the ring names for the key (spec
// §4.7). It updates placement records only; no entry data is copied to
// the newly listed replicas.
func (c *Coordinator) HandleNodeRemoved(ctx context.Context, removedNodeID string, targetReplicas int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, pl := range c.placement {
		if pl.Primary != removedNodeID && !contains(pl.Replicas, removedNodeID) {
			continue
		}
		if pl.Primary == removedNodeID {
			if len(pl.Replicas) > 0 {
				pl.Primary = pl.Replicas[0]
				pl.Replicas = pl.Replicas[1:]
			} else {
				pl.Primary = ""
			}
		} else {
			pl.Replicas = removeFrom(pl.Replicas, removedNodeID)
		}
		current := len(pl.Replicas)
		if pl.Primary != "" {
			current++
		}
		needed := targetReplicas - current
		if needed > 0 {
			newPrimary, newReplicas, err := c.ring.GetPartitionForKey(id)
			if err == nil {
				candidates := append([]string{newPrimary}, newReplicas...)
				for _, cand := range candidates {
					if cand == removedNodeID || cand == pl.Primary || contains(pl.Replicas, cand) || needed <= 0 {
						continue
					}
					pl.Replicas = append(pl.Replicas, cand)
					needed--
				}
			}
		}
	}
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func removeFrom(s []string, v string) []string {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

// Placement returns the placement record for id, if known.
func (c *Coordinator) Placement(id string) (*model.PlacementInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.placement[id]
	return p, ok
}
