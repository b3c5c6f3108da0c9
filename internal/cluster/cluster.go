// Package cluster defines the peer-transport capability set (spec §9):
// a single interface two concrete variants satisfy — a real HTTP-based
// network client and an in-memory mock for tests — so higher-level
// components (epidemic, distribution, MPC) never care which is wired.
package cluster

import (
	"context"
	"sync"
	"time"

	"dsm-storage-node/internal/errs"
	"dsm-storage-node/internal/model"
)

// GossipEntry is the wire unit exchanged by gossip rounds (spec §4.6).
type GossipEntry struct {
	Key         string              `json:"key"`
	Value       *model.BlindedEntry `json:"value"`
	VectorClock map[string]uint64   `json:"vector_clock"`
	Timestamp   int64               `json:"timestamp"`
	OriginNode  string              `json:"origin_node"`
}

// Peer is the capability set every cluster member must expose (spec §9):
// health_check, forward_{get,put,delete}, send_entries, request_entries,
// status, join, register.
type Peer interface {
	HealthCheck(ctx context.Context, endpoint string) error
	ForwardGet(ctx context.Context, endpoint, key string) (*model.BlindedEntry, error)
	ForwardPut(ctx context.Context, endpoint string, entry *model.BlindedEntry) error
	ForwardDelete(ctx context.Context, endpoint, key string) error
	SendEntries(ctx context.Context, endpoint string, entries []GossipEntry) error
	RequestEntries(ctx context.Context, endpoint string, since map[string]uint64) ([]GossipEntry, error)
	Status(ctx context.Context, endpoint string) (*model.NodeMetrics, error)
	Join(ctx context.Context, endpoint string, self *model.NodeRecord) error
	Register(ctx context.Context, endpoint string, self *model.NodeRecord) error
}

// Manager tracks known nodes, their endpoints' ConnectionHealth, and
// dispatches through a Peer implementation. It is the shared-state home
// for the node table referenced throughout spec §5.
type Manager struct {
	peer Peer

	mu     sync.RWMutex
	nodes  map[string]*model.NodeRecord
	health map[string]*model.ConnectionHealth
}

// NewManager wires a cluster manager over the given Peer transport.
func NewManager(peer Peer) *Manager {
	return &Manager{
		peer:   peer,
		nodes:  make(map[string]*model.NodeRecord),
		health: make(map[string]*model.ConnectionHealth),
	}
}

// AddNode registers a cluster member.
func (m *Manager) AddNode(n *model.NodeRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[n.ID] = n
	if _, ok := m.health[n.ID]; !ok {
		m.health[n.ID] = &model.ConnectionHealth{}
	}
}

// RemoveNode deregisters a cluster member.
func (m *Manager) RemoveNode(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.nodes, id)
	delete(m.health, id)
}

// Nodes returns a snapshot of all known node records, excluding the
// given self id if non-empty (used by gossip target selection).
func (m *Manager) Nodes(excludeSelf string) []*model.NodeRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.NodeRecord, 0, len(m.nodes))
	for id, n := range m.nodes {
		if id == excludeSelf {
			continue
		}
		out = append(out, n)
	}
	return out
}

// Health returns a copy of the tracked ConnectionHealth for a node.
func (m *Manager) Health(nodeID string) model.ConnectionHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if h, ok := m.health[nodeID]; ok {
		return *h
	}
	return model.ConnectionHealth{}
}

// IsHealthy reports whether nodeID's circuit is closed and it is not
// presently flagged unhealthy (spec §4.7).
func (m *Manager) IsHealthy(nodeID string) bool {
	m.mu.RLock()
	h, ok := m.health[nodeID]
	m.mu.RUnlock()
	if !ok {
		return true // unknown nodes are assumed healthy until proven otherwise
	}
	return !h.CircuitOpen() && !h.Unhealthy()
}

func (m *Manager) recordOutcome(nodeID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.health[nodeID]
	if !ok {
		h = &model.ConnectionHealth{}
		m.health[nodeID] = h
	}
	if err != nil {
		h.RecordFailure()
	} else {
		h.RecordSuccess()
	}
}

// call short-circuits on an open circuit breaker (spec §5's backpressure
// rule) and otherwise dispatches through the Peer, recording the outcome.
func (m *Manager) call(ctx context.Context, nodeID string, fn func() error) error {
	m.mu.RLock()
	h, ok := m.health[nodeID]
	m.mu.RUnlock()
	if ok && h.CircuitOpen() {
		return errs.New(errs.Network, "circuit open for node, failing fast")
	}
	err := fn()
	m.recordOutcome(nodeID, err)
	return err
}

// ForwardGet dispatches a GET to nodeID's endpoint with circuit breaking
// and health tracking.
func (m *Manager) ForwardGet(ctx context.Context, nodeID, endpoint, key string) (*model.BlindedEntry, error) {
	var entry *model.BlindedEntry
	err := m.call(ctx, nodeID, func() error {
		var innerErr error
		entry, innerErr = m.peer.ForwardGet(ctx, endpoint, key)
		return innerErr
	})
	return entry, err
}

// ForwardPut dispatches a PUT to nodeID's endpoint with circuit breaking
// and health tracking.
func (m *Manager) ForwardPut(ctx context.Context, nodeID, endpoint string, entry *model.BlindedEntry) error {
	return m.call(ctx, nodeID, func() error { return m.peer.ForwardPut(ctx, endpoint, entry) })
}

// ForwardDelete dispatches a DELETE to nodeID's endpoint with circuit
// breaking and health tracking.
func (m *Manager) ForwardDelete(ctx context.Context, nodeID, endpoint, key string) error {
	return m.call(ctx, nodeID, func() error { return m.peer.ForwardDelete(ctx, endpoint, key) })
}

// SendEntries pushes a gossip batch to nodeID.
func (m *Manager) SendEntries(ctx context.Context, nodeID, endpoint string, entries []GossipEntry) error {
	return m.call(ctx, nodeID, func() error { return m.peer.SendEntries(ctx, endpoint, entries) })
}

// RequestEntries pulls an anti-entropy diff batch from nodeID.
func (m *Manager) RequestEntries(ctx context.Context, nodeID, endpoint string, since map[string]uint64) ([]GossipEntry, error) {
	var entries []GossipEntry
	err := m.call(ctx, nodeID, func() error {
		var innerErr error
		entries, innerErr = m.peer.RequestEntries(ctx, endpoint, since)
		return innerErr
	})
	return entries, err
}

// UpdateAllNodeMetrics polls Status on every known node and records its
// NodeMetrics; intended to be registered as a recurring scheduler task
// (spec §4.7, every 60s).
func (m *Manager) UpdateAllNodeMetrics(ctx context.Context, metricsOut map[string]*model.NodeMetrics) {
	m.mu.RLock()
	nodes := make([]*model.NodeRecord, 0, len(m.nodes))
	for _, n := range m.nodes {
		nodes = append(nodes, n)
	}
	m.mu.RUnlock()

	for _, n := range nodes {
		metrics, err := m.peer.Status(ctx, n.Endpoint)
		m.recordOutcome(n.ID, err)
		if err == nil {
			metricsOut[n.ID] = metrics
		}
	}
}

// MockPeer is an in-memory Peer used by tests and single-process demos;
// it never performs real network I/O.
type MockPeer struct {
	mu      sync.Mutex
	entries map[string]map[string]*model.BlindedEntry // endpoint -> key -> entry
	metrics map[string]*model.NodeMetrics
	down    map[string]bool
}

// NewMockPeer returns an empty mock transport.
func NewMockPeer() *MockPeer {
	return &MockPeer{
		entries: make(map[string]map[string]*model.BlindedEntry),
		metrics: make(map[string]*model.NodeMetrics),
		down:    make(map[string]bool),
	}
}

// SetDown simulates an endpoint being unreachable.
func (p *MockPeer) SetDown(endpoint string, down bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.down[endpoint] = down
}

func (p *MockPeer) checkDown(endpoint string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.down[endpoint] {
		return errs.New(errs.Network, "mock peer endpoint down")
	}
	return nil
}

func (p *MockPeer) HealthCheck(ctx context.Context, endpoint string) error {
	return p.checkDown(endpoint)
}

func (p *MockPeer) ForwardGet(ctx context.Context, endpoint, key string) (*model.BlindedEntry, error) {
	if err := p.checkDown(endpoint); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.entries[endpoint]
	if !ok {
		return nil, errs.New(errs.NotFound, "entry not found on peer")
	}
	e, ok := m[key]
	if !ok {
		return nil, errs.New(errs.NotFound, "entry not found on peer")
	}
	return e, nil
}

func (p *MockPeer) ForwardPut(ctx context.Context, endpoint string, entry *model.BlindedEntry) error {
	if err := p.checkDown(endpoint); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.entries[endpoint] == nil {
		p.entries[endpoint] = make(map[string]*model.BlindedEntry)
	}
	p.entries[endpoint][entry.BlindedID] = entry
	return nil
}

func (p *MockPeer) ForwardDelete(ctx context.Context, endpoint, key string) error {
	if err := p.checkDown(endpoint); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if m, ok := p.entries[endpoint]; ok {
		delete(m, key)
	}
	return nil
}

func (p *MockPeer) SendEntries(ctx context.Context, endpoint string, entries []GossipEntry) error {
	if err := p.checkDown(endpoint); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.entries[endpoint] == nil {
		p.entries[endpoint] = make(map[string]*model.BlindedEntry)
	}
	for _, e := range entries {
		p.entries[endpoint][e.Key] = e.Value
	}
	return nil
}

func (p *MockPeer) RequestEntries(ctx context.Context, endpoint string, since map[string]uint64) ([]GossipEntry, error) {
	if err := p.checkDown(endpoint); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]GossipEntry, 0)
	for k, v := range p.entries[endpoint] {
		out = append(out, GossipEntry{Key: k, Value: v, Timestamp: time.Now().Unix()})
	}
	return out, nil
}

func (p *MockPeer) Status(ctx context.Context, endpoint string) (*model.NodeMetrics, error) {
	if err := p.checkDown(endpoint); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if m, ok := p.metrics[endpoint]; ok {
		return m, nil
	}
	return &model.NodeMetrics{Healthy: true, LastUpdated: time.Now()}, nil
}

func (p *MockPeer) Join(ctx context.Context, endpoint string, self *model.NodeRecord) error {
	return p.checkDown(endpoint)
}

func (p *MockPeer) Register(ctx context.Context, endpoint string, self *model.NodeRecord) error {
	return p.checkDown(endpoint)
}
