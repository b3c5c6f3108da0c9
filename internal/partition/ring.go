// Package partition implements the consistent-hash partitioner (spec
// §4.5): a fixed-count ring over the 64-bit keyspace, node placement
// strategies, and the partition-transfer state machine.
package partition

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"dsm-storage-node/internal/cryptoprim"
	"dsm-storage-node/internal/errs"
	"dsm-storage-node/internal/model"
)

// DefaultPartitionCount and VirtualNodeDensity are the spec §4.5 defaults.
const (
	DefaultPartitionCount = 256
	VirtualNodeDensity    = 512
	MaxReplicationFactor  = 10
)

// Strategy selects how primaries/replicas are assigned to partitions.
type Strategy string

const (
	ConsistentHash Strategy = "ConsistentHash"
	Random         Strategy = "Random"
	GeographyAware Strategy = "GeographyAware"
	LoadBalanced   Strategy = "LoadBalanced"
)

// Config controls ring construction and rebalance thresholds.
type Config struct {
	PartitionCount       int
	ReplicationFactor    int
	Strategy             Strategy
	MinNodesForRebalance int
	MaxPartitionsPerNode int
	MaxRetries           int
}

// DefaultConfig matches spec §4.5's documented defaults.
func DefaultConfig() Config {
	return Config{
		PartitionCount:       DefaultPartitionCount,
		ReplicationFactor:    3,
		Strategy:             ConsistentHash,
		MinNodesForRebalance: 2,
		MaxPartitionsPerNode: 0, // 0 = unbounded
		MaxRetries:           3,
	}
}

// Ring owns the partition table and the node set it is assigned over.
type Ring struct {
	cfg Config

	mu         sync.RWMutex
	partitions []*model.Partition // ordered by Start, for binary search
	nodes      map[string]*model.NodeRecord
	metrics    map[string]*model.NodeMetrics
	transfers  map[string]*model.PartitionTransfer

	rebalanceCount atomic.Int64
}

// RebalanceCount reports how many times Rebalance has run, for the
// process metrics surface.
func (r *Ring) RebalanceCount() int64 { return r.rebalanceCount.Load() }

// New builds an empty ring with partitions spanning the full keyspace but
// unassigned (empty primary).
func New(cfg Config) *Ring {
	if cfg.PartitionCount <= 0 {
		cfg.PartitionCount = DefaultPartitionCount
	}
	if cfg.ReplicationFactor <= 0 {
		cfg.ReplicationFactor = 3
	}
	if cfg.ReplicationFactor > MaxReplicationFactor {
		cfg.ReplicationFactor = MaxReplicationFactor
	}
	r := &Ring{
		cfg:       cfg,
		nodes:     make(map[string]*model.NodeRecord),
		metrics:   make(map[string]*model.NodeMetrics),
		transfers: make(map[string]*model.PartitionTransfer),
	}
	span := math.MaxUint64 / uint64(cfg.PartitionCount)
	for i := 0; i < cfg.PartitionCount; i++ {
		start := uint64(i) * span
		end := start + span
		if i == cfg.PartitionCount-1 {
			end = 0 // wrap marker: spans to end of keyspace
		}
		r.partitions = append(r.partitions, &model.Partition{
			ID:               fmt.Sprintf("p-%04x", i),
			Start:            start,
			End:              end,
			KeyspaceFraction: 1.0 / float64(cfg.PartitionCount),
		})
	}
	return r
}

func ringPosition(s string) uint64 {
	h := cryptoprim.DomainHash("DSM_RING_POS", []byte(s))
	return binary.BigEndian.Uint64(h[:8])
}

// AddNode registers a physical node and triggers a rebalance if the
// cluster now meets MinNodesForRebalance.
func (r *Ring) AddNode(n *model.NodeRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[n.ID] = n
	if _, ok := r.metrics[n.ID]; !ok {
		r.metrics[n.ID] = &model.NodeMetrics{Healthy: true}
	}
	if len(r.nodes) >= r.cfg.MinNodesForRebalance || len(r.nodes) == 1 {
		r.rebalanceLocked()
	}
}

// RemoveNode deregisters a node and rebalances remaining partitions.
func (r *Ring) RemoveNode(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.nodes, id)
	delete(r.metrics, id)
	r.rebalanceLocked()
}

// UpdateMetrics records a fresh load/capacity snapshot for node id.
func (r *Ring) UpdateMetrics(id string, m *model.NodeMetrics) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics[id] = m
}

func (r *Ring) nodeIDsSorted() []string {
	ids := make([]string, 0, len(r.nodes))
	for id := range r.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Rebalance recomputes primary/replica assignment for every partition
// using the configured strategy (spec §4.5). Exported for callers
// (distribution coordinator) that need to force a pass outside of
// AddNode/RemoveNode.
func (r *Ring) Rebalance() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rebalanceLocked()
	r.rebalanceCount.Add(1)
}

func (r *Ring) rebalanceLocked() {
	nodeIDs := r.nodeIDsSorted()
	if len(nodeIDs) == 0 {
		for _, p := range r.partitions {
			p.Primary = ""
			p.Replicas = nil
		}
		return
	}

	// Single-node clusters self-assign everything (availability floor).
	if len(nodeIDs) == 1 {
		for _, p := range r.partitions {
			if p.Primary != nodeIDs[0] {
				r.recordTransfer(p, p.Primary, nodeIDs[0])
			}
			p.Primary = nodeIDs[0]
			p.Replicas = nil
			p.Generation++
			p.LastAssignment = time.Now()
		}
		return
	}

	switch r.cfg.Strategy {
	case Random:
		r.assignRandom(nodeIDs)
	case GeographyAware:
		r.assignGeographyAware(nodeIDs)
	case LoadBalanced:
		r.assignLoadBalanced(nodeIDs)
	default:
		r.assignConsistentHash(nodeIDs)
	}
	r.enforceMaxPartitionsPerNode(nodeIDs)
}

// enforceMaxPartitionsPerNode reassigns primaries off any node that ended
// up over Config.MaxPartitionsPerNode after the strategy pass (spec §4.5
// invariant: per-node primary count <= max_partitions_per_node). It moves
// the least possible number of partitions: an existing replica with
// headroom is promoted first to avoid a cold transfer, falling back to
// any other node under the limit. A limit of 0 means unbounded.
func (r *Ring) enforceMaxPartitionsPerNode(nodeIDs []string) {
	limit := r.cfg.MaxPartitionsPerNode
	if limit <= 0 || len(nodeIDs) <= 1 {
		return
	}

	primaryCount := make(map[string]int)
	for _, p := range r.partitions {
		primaryCount[p.Primary]++
	}

	candidates := append([]string(nil), nodeIDs...)
	sort.Strings(candidates)

	for _, p := range r.partitions {
		src := p.Primary
		if src == "" || primaryCount[src] <= limit {
			continue
		}

		dst := ""
		for _, rep := range p.Replicas {
			if primaryCount[rep] < limit {
				dst = rep
				break
			}
		}
		if dst == "" {
			for _, cand := range candidates {
				if cand != src && primaryCount[cand] < limit {
					dst = cand
					break
				}
			}
		}
		if dst == "" {
			// No node has headroom under the limit with the current node
			// count; the cap cannot be satisfied without adding capacity.
			continue
		}

		r.recordTransfer(p, src, dst)
		primaryCount[src]--
		primaryCount[dst]++

		newReplicas := make([]string, 0, len(p.Replicas)+1)
		newReplicas = append(newReplicas, src)
		for _, rep := range p.Replicas {
			if rep != dst {
				newReplicas = append(newReplicas, rep)
			}
		}
		p.Primary = dst
		p.Replicas = newReplicas
		p.Generation++
		p.LastAssignment = time.Now()
	}
}

func (r *Ring) recordTransfer(p *model.Partition, source, target string) {
	if source == "" || source == target {
		return
	}
	priority := float64(p.EstimatedBytes)/(1024*1024) + float64(p.EstimatedItems)/1000 +
		time.Since(p.LastAssignment).Hours()
	t := &model.PartitionTransfer{
		ID:          "xfer-" + uuid.New().String(),
		PartitionID: p.ID,
		Source:      source,
		Target:      target,
		State:       model.TransferPreparing,
		Priority:    priority,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	r.transfers[t.ID] = t
}

// virtualRingEntry is one point on the ConsistentHash ring.
type virtualRingEntry struct {
	pos    uint64
	nodeID string
}

func buildVirtualRing(nodeIDs []string) []virtualRingEntry {
	ring := make([]virtualRingEntry, 0, len(nodeIDs)*VirtualNodeDensity)
	for _, id := range nodeIDs {
		for v := 0; v < VirtualNodeDensity; v++ {
			key := fmt.Sprintf("%s-%08x-%04x", id, v, len(id))
			ring = append(ring, virtualRingEntry{pos: ringPosition(key), nodeID: id})
		}
	}
	sort.Slice(ring, func(i, j int) bool { return ring[i].pos < ring[j].pos })
	return ring
}

func (r *Ring) assignConsistentHash(nodeIDs []string) {
	ring := buildVirtualRing(nodeIDs)
	rf := r.cfg.ReplicationFactor
	for _, p := range r.partitions {
		pos := ringPosition(p.ID)
		idx := sort.Search(len(ring), func(i int) bool { return ring[i].pos >= pos })
		selected := make([]string, 0, rf)
		seen := make(map[string]bool)
		for i := 0; i < len(ring) && len(selected) < rf; i++ {
			entry := ring[(idx+i)%len(ring)]
			if seen[entry.nodeID] {
				continue
			}
			seen[entry.nodeID] = true
			selected = append(selected, entry.nodeID)
		}
		r.applySelection(p, selected)
	}
}

func (r *Ring) assignRandom(nodeIDs []string) {
	rf := r.cfg.ReplicationFactor
	for _, p := range r.partitions {
		shuffled := append([]string(nil), nodeIDs...)
		seed := ringPosition(p.ID)
		for i := len(shuffled) - 1; i > 0; i-- {
			seed = seed*6364136223846793005 + 1
			j := int(seed % uint64(i+1))
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		}
		n := rf
		if n > len(shuffled) {
			n = len(shuffled)
		}
		r.applySelection(p, shuffled[:n])
	}
}

func (r *Ring) assignGeographyAware(nodeIDs []string) {
	byRegion := make(map[string][]string)
	for _, id := range nodeIDs {
		region := r.nodes[id].Region
		byRegion[region] = append(byRegion[region], id)
	}
	regions := make([]string, 0, len(byRegion))
	for reg := range byRegion {
		regions = append(regions, reg)
	}
	sort.Slice(regions, func(i, j int) bool {
		return r.regionLoad(byRegion[regions[i]]) < r.regionLoad(byRegion[regions[j]])
	})

	rf := r.cfg.ReplicationFactor
	ring := buildVirtualRing(nodeIDs)
	for _, p := range r.partitions {
		pos := ringPosition(p.ID)
		idx := sort.Search(len(ring), func(i int) bool { return ring[i].pos >= pos })
		primary := ring[idx%len(ring)].nodeID
		primaryRegion := r.nodes[primary].Region

		selected := []string{primary}
		usedRegions := map[string]bool{primaryRegion: true}
		for _, reg := range regions {
			if len(selected) >= rf {
				break
			}
			if usedRegions[reg] || len(byRegion[reg]) == 0 {
				continue
			}
			selected = append(selected, byRegion[reg][0])
			usedRegions[reg] = true
		}
		r.applySelection(p, selected)
	}
}

func (r *Ring) regionLoad(ids []string) float64 {
	var total float64
	for _, id := range ids {
		if m, ok := r.metrics[id]; ok {
			total += m.LoadRatio()
		}
	}
	if len(ids) == 0 {
		return 0
	}
	return total / float64(len(ids))
}

func (r *Ring) assignLoadBalanced(nodeIDs []string) {
	r.assignConsistentHash(nodeIDs)

	targetPerNode := float64(len(r.partitions)) / float64(len(nodeIDs))
	primaryCount := make(map[string]int)
	for _, p := range r.partitions {
		primaryCount[p.Primary]++
	}

	type rank struct {
		id           string
		underTarget  int
		partitionCnt int
	}
	ranks := make([]rank, 0, len(nodeIDs))
	for _, id := range nodeIDs {
		under := 0
		if float64(primaryCount[id]) < targetPerNode {
			under = 1
		}
		ranks = append(ranks, rank{id, under, primaryCount[id]})
	}
	sort.Slice(ranks, func(i, j int) bool {
		if ranks[i].underTarget != ranks[j].underTarget {
			return ranks[i].underTarget > ranks[j].underTarget
		}
		return ranks[i].partitionCnt < ranks[j].partitionCnt
	})

	for _, p := range r.partitions {
		src := p.Primary
		srcCount := primaryCount[src]
		if float64(srcCount) <= targetPerNode*1.2 {
			continue
		}
		for _, cand := range ranks {
			if cand.id == src {
				continue
			}
			dstCount := primaryCount[cand.id]
			if float64(dstCount) >= targetPerNode*0.8 {
				continue
			}
			r.recordTransfer(p, src, cand.id)
			primaryCount[src]--
			primaryCount[cand.id]++
			p.Primary = cand.id
			p.Generation++
			p.LastAssignment = time.Now()
			break
		}
	}
}

func (r *Ring) applySelection(p *model.Partition, selected []string) {
	newPrimary := ""
	if len(selected) > 0 {
		newPrimary = selected[0]
	}
	if newPrimary != p.Primary {
		r.recordTransfer(p, p.Primary, newPrimary)
	}
	p.Primary = newPrimary
	if len(selected) > 1 {
		p.Replicas = append([]string(nil), selected[1:]...)
	} else {
		p.Replicas = nil
	}
	p.Generation++
	p.LastAssignment = time.Now()
}

// GetPartitionForKey hashes key and returns the partition whose [Start,
// End) contains it via binary search over the ordered partition table
// (spec §4.5), plus its primary and replicas.
func (r *Ring) GetPartitionForKey(key string) (primary string, replicas []string, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.partitions) == 0 {
		return "", nil, errs.New(errs.InvalidState, "ring has no partitions")
	}
	hash := ringPosition(key)
	i := sort.Search(len(r.partitions), func(i int) bool {
		p := r.partitions[i]
		if p.End == 0 && i == len(r.partitions)-1 {
			return true // last partition always matches via wrap semantics below
		}
		return p.End > hash
	})
	if i >= len(r.partitions) {
		i = len(r.partitions) - 1
	}
	p := r.partitions[i]
	if p.Primary == "" {
		return "", nil, errs.New(errs.Distribution, "no primary assigned for partition")
	}
	return p.Primary, p.Replicas, nil
}

// Strategy returns the ring's configured placement strategy.
func (r *Ring) Strategy() Strategy { return r.cfg.Strategy }

// NodeLoadRatios returns each known node's last-recorded load ratio.
func (r *Ring) NodeLoadRatios() map[string]float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]float64, len(r.metrics))
	for id, m := range r.metrics {
		out[id] = m.LoadRatio()
	}
	return out
}

// Partitions returns a snapshot copy of the partition table.
func (r *Ring) Partitions() []model.Partition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Partition, len(r.partitions))
	for i, p := range r.partitions {
		out[i] = *p
	}
	return out
}

// PrimaryCounts returns the number of partitions each node primaries,
// used to check the "total primaries == partition_count" invariant.
func (r *Ring) PrimaryCounts() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[string]int)
	for _, p := range r.partitions {
		if p.Primary != "" {
			counts[p.Primary]++
		}
	}
	return counts
}

// Transfers returns a snapshot of all tracked partition transfers.
func (r *Ring) Transfers() []*model.PartitionTransfer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.PartitionTransfer, 0, len(r.transfers))
	for _, t := range r.transfers {
		out = append(out, t)
	}
	return out
}

// TransferHandler performs the actual data move for a partition transfer.
// Without a registered handler, AdvanceTransfer fails transfers
// immediately (spec §4.5).
type TransferHandler func(t *model.PartitionTransfer) error

// AdvanceTransfer drives one transfer through Preparing -> Transferring ->
// Verifying -> Complete|Failed. Each call makes one handler attempt; a
// failed attempt increments Retries and returns the transfer to Preparing
// for a later call, until Retries reaches MaxRetries and the transfer is
// marked Failed. No backoff delay is applied between attempts.
func (r *Ring) AdvanceTransfer(id string, handler TransferHandler) error {
	r.mu.Lock()
	t, ok := r.transfers[id]
	r.mu.Unlock()
	if !ok {
		return errs.New(errs.NotFound, "transfer not found")
	}
	if handler == nil {
		r.mu.Lock()
		t.State = model.TransferFailed
		t.LastError = "no transfer handler registered"
		t.UpdatedAt = time.Now()
		r.mu.Unlock()
		return errs.New(errs.InvalidState, "no transfer handler registered")
	}

	r.mu.Lock()
	t.State = model.TransferTransferring
	t.UpdatedAt = time.Now()
	r.mu.Unlock()

	err := handler(t)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		t.Retries++
		t.LastError = err.Error()
		t.UpdatedAt = time.Now()
		if t.Retries >= r.cfg.MaxRetries {
			t.State = model.TransferFailed
			return errs.Wrap(errs.Distribution, err, "transfer failed after retries")
		}
		t.State = model.TransferPreparing
		return errs.Wrap(errs.Distribution, err, "transfer attempt failed, will retry")
	}
	t.State = model.TransferVerifying
	t.UpdatedAt = time.Now()
	t.State = model.TransferComplete
	return nil
}

// ExportSnapshot gzip-compresses the current partition assignment table
// so a rebalance transfer can hand a newly-joining or re-synchronizing
// node the full ring state in one payload instead of partition-by-partition
// RPCs (spec §4.5 transfer payload).
func (r *Ring) ExportSnapshot() ([]byte, error) {
	r.mu.RLock()
	raw, err := json.Marshal(r.partitions)
	r.mu.RUnlock()
	if err != nil {
		return nil, errs.Wrap(errs.Serialization, err, "marshal partition snapshot")
	}

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(raw); err != nil {
		return nil, errs.Wrap(errs.Serialization, err, "compress partition snapshot")
	}
	if err := gw.Close(); err != nil {
		return nil, errs.Wrap(errs.Serialization, err, "close partition snapshot writer")
	}
	return buf.Bytes(), nil
}

// ImportSnapshot replaces the ring's partition table from a payload
// produced by ExportSnapshot, preserving each partition's node
// assignments (used after a node receives a transferred snapshot).
func (r *Ring) ImportSnapshot(data []byte) error {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return errs.Wrap(errs.Serialization, err, "open partition snapshot reader")
	}
	defer gr.Close()

	raw, err := io.ReadAll(gr)
	if err != nil {
		return errs.Wrap(errs.Serialization, err, "decompress partition snapshot")
	}

	var partitions []*model.Partition
	if err := json.Unmarshal(raw, &partitions); err != nil {
		return errs.Wrap(errs.Serialization, err, "unmarshal partition snapshot")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.partitions = partitions
	return nil
}
