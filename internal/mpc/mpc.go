// Package mpc implements the threshold genesis session coordinator
// (spec §4.8): device identity is the *output* of a collected-entropy
// MPC session, never an input.
package mpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"dsm-storage-node/internal/chain"
	"dsm-storage-node/internal/cryptoprim"
	"dsm-storage-node/internal/errs"
	"dsm-storage-node/internal/model"
	"dsm-storage-node/internal/store"
)

// SessionTTL and DeviceIdentityTTL match spec §4.8's documented windows.
const (
	SessionTTL        = time.Hour
	DeviceIdentityTTL = 24 * time.Hour
)

// Coordinator tracks in-flight and completed MPC genesis sessions,
// persisting them through the local store (and, in a full cluster, the
// epidemic engine) keyed by "mpc_session:<id>" (spec §6 keyspace
// convention).
type Coordinator struct {
	log    *logrus.Logger
	store  *store.Store
	nodeID string

	mu       sync.Mutex
	sessions map[string]*model.MpcSession
	chains   map[string]*chain.Manager
}

// New wires an MPC session coordinator.
func New(log *logrus.Logger, st *store.Store, nodeID string) *Coordinator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Coordinator{
		log:      log,
		store:    st,
		nodeID:   nodeID,
		sessions: make(map[string]*model.MpcSession),
		chains:   make(map[string]*chain.Manager),
	}
}

func sessionKey(id string) string { return "mpc_session:" + id }

// CreateGenesisMPCSession starts a new Collecting session (spec §4.8).
// participatingNodes is the current cluster endpoint list at creation
// time.
func (c *Coordinator) CreateGenesisMPCSession(threshold int, anchorToMaster string, participatingNodes []string) (*model.MpcSession, error) {
	if threshold <= 0 {
		return nil, errs.New(errs.InvalidInput, "threshold must be positive")
	}
	sessionID := "genesis_" + uuid.New().String()

	session := &model.MpcSession{
		SessionID:          sessionID,
		DeviceID:           fmt.Sprintf("genesis_pending_%s", sessionID[len(sessionID)-8:]),
		Threshold:          threshold,
		State:              model.SessionCollecting,
		StartedAt:          time.Now(),
		ExpiresAt:          time.Now().Add(SessionTTL),
		FacilitatorNode:    c.nodeID,
		ParticipatingNodes: participatingNodes,
		AnchorToMaster:     anchorToMaster,
	}

	c.mu.Lock()
	c.sessions[sessionID] = session
	c.mu.Unlock()

	c.persist(session)
	return session, nil
}

// persist writes the session's canonical JSON representation (spec §6)
// into the local store keyed by "mpc_session:<id>", so any node serving
// GetMPCSession can recover it on a cache miss (e.g. after its own
// restart, or when the request lands on a node other than the
// facilitator once session records are gossiped like any other entry).
func (c *Coordinator) persist(s *model.MpcSession) {
	payload, err := json.Marshal(s)
	if err != nil {
		c.log.WithError(err).Warn("mpc: failed to marshal session for persistence")
		return
	}
	ttl := int64(time.Until(s.ExpiresAt).Seconds())
	if ttl <= 0 {
		ttl = int64(SessionTTL.Seconds())
	}
	be := &model.BlindedEntry{
		BlindedID:        sessionKey(s.SessionID),
		EncryptedPayload: payload,
		TTL:              ttl,
		Timestamp:        time.Now().Unix(),
	}
	be.ProofHash = store.VerificationHash(be)
	if err := c.store.Store(be); err != nil {
		c.log.WithError(err).Warn("mpc: failed to persist session")
	}
}

// AddContribution appends a contribution to an in-Collecting session,
// rejecting duplicates and out-of-state submissions (spec §4.8). If the
// threshold is met, it transitions to Aggregating and runs
// ProcessMPCSession synchronously.
func (c *Coordinator) AddContribution(sessionID string, contribution model.Contribution) (*model.MpcSession, error) {
	c.mu.Lock()
	session, ok := c.sessions[sessionID]
	if !ok {
		c.mu.Unlock()
		return nil, errs.New(errs.NotFound, "mpc session not found")
	}
	if session.State != model.SessionCollecting {
		c.mu.Unlock()
		return nil, errs.New(errs.InvalidInput, "session not accepting contributions")
	}
	if session.HasContribution(contribution.NodeID) {
		c.mu.Unlock()
		return nil, errs.New(errs.InvalidInput, "duplicate contribution from node")
	}
	if contribution.Timestamp.IsZero() {
		contribution.Timestamp = time.Now()
	}
	session.Contributions = append(session.Contributions, contribution)
	metThreshold := len(session.Contributions) >= session.Threshold
	if metThreshold {
		session.State = model.SessionAggregating
	}
	c.mu.Unlock()

	c.persist(session)
	if metThreshold {
		if _, err := c.ProcessMPCSession(sessionID); err != nil {
			return session, err
		}
	}
	return session, nil
}

// createGenesisFromMPC derives genesis_id = H(b1 ∥ ... ∥ bt ∥ A) over
// contribution entropies in arrival order (spec §4.8, §8 S3).
func createGenesisFromMPC(contributions []model.Contribution, threshold int, extra []byte) [32]byte {
	parts := make([][]byte, 0, len(contributions)+1)
	for _, contrib := range contributions {
		parts = append(parts, contrib.EntropyData)
	}
	parts = append(parts, extra)
	return cryptoprim.Hash(parts...)
}

// ProcessMPCSession derives the genesis device identity from collected
// contributions (spec §4.8).
func (c *Coordinator) ProcessMPCSession(sessionID string) (*model.DeviceIdentity, error) {
	c.mu.Lock()
	session, ok := c.sessions[sessionID]
	if !ok {
		c.mu.Unlock()
		return nil, errs.New(errs.NotFound, "mpc session not found")
	}
	contributions := append([]model.Contribution(nil), session.Contributions...)
	threshold := session.Threshold
	anchor := session.AnchorToMaster
	c.mu.Unlock()

	genesisID := createGenesisFromMPC(contributions, threshold, nil)
	deviceID := hex.EncodeToString(genesisID[:])

	saltInput := []byte(deviceID + c.nodeID + fmt.Sprintf("%d", time.Now().UnixNano()))
	salt := cryptoprim.Hash(saltInput)
	var osRandom [32]byte
	if _, err := cryptoprim.RandomBytes(osRandom[:]); err != nil {
		return nil, errs.Wrap(errs.CryptoFailure, err, "generate device entropy randomness")
	}
	deviceEntropy := cryptoprim.Hash(salt[:], osRandom[:])

	genesisHash := model.GenesisHashPrefix + deviceID
	blindKey := cryptoprim.Hash([]byte(genesisHash), []byte("BLIND_KEY"), []byte(c.nodeID))

	cm := chain.NewManager(deviceID)
	smtRoot := cm.SMTRoot()

	masterGenesisID := anchor
	if masterGenesisID == "" {
		masterGenesisID = deviceID
	}

	identity := &model.DeviceIdentity{
		DeviceID:        deviceID,
		MasterGenesisID: masterGenesisID,
		GenesisState:    genesisID[:],
		DeviceEntropy:   deviceEntropy[:],
		BlindKey:        blindKey[:],
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
		ChainManagerID:  deviceID,
		SMTRoot:         smtRoot,
	}

	c.mu.Lock()
	c.chains[deviceID] = cm
	session.DeviceID = deviceID
	session.State = model.SessionComplete
	c.mu.Unlock()
	c.persist(session)

	entryBytes, err := json.Marshal(identity)
	if err != nil {
		return nil, errs.Wrap(errs.Serialization, err, "marshal device identity")
	}
	be := &model.BlindedEntry{
		BlindedID:        "device_identity:" + deviceID,
		EncryptedPayload: entryBytes,
		TTL:              int64(DeviceIdentityTTL.Seconds()),
		Timestamp:        time.Now().Unix(),
	}
	be.ProofHash = store.VerificationHash(be)
	if err := c.store.Store(be); err != nil {
		return nil, errs.Wrap(errs.Storage, err, "persist device identity")
	}

	return identity, nil
}

// ChainManagerFor returns the per-device chain manager produced by a
// completed session, if any.
func (c *Coordinator) ChainManagerFor(deviceID string) (*chain.Manager, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cm, ok := c.chains[deviceID]
	return cm, ok
}

// GetMPCSession looks up a session in-memory first, falling back to the
// local store (spec §4.8: "falling back to cluster-wide C6 read" — this
// node-local store stands in for that read path since the full epidemic
// replication of session records is out of this coordinator's scope).
func (c *Coordinator) GetMPCSession(sessionID string) (*model.MpcSession, bool) {
	c.mu.Lock()
	s, ok := c.sessions[sessionID]
	c.mu.Unlock()
	if ok {
		return s, true
	}

	entry, ok := c.store.Retrieve(sessionKey(sessionID))
	if !ok {
		return nil, false
	}
	var session model.MpcSession
	if err := json.Unmarshal(entry.EncryptedPayload, &session); err != nil {
		c.log.WithError(err).Warn("mpc: failed to unmarshal persisted session")
		return nil, false
	}

	c.mu.Lock()
	c.sessions[sessionID] = &session
	c.mu.Unlock()
	return &session, true
}

// CleanupExpiredSessions transitions every Collecting session past its
// ExpiresAt to Failed, persists the Failed status, and removes it from
// the in-memory cache (spec §4.8). The persisted record is left in
// place so a status lookup still reports Failed rather than NotFound.
func (c *Coordinator) CleanupExpiredSessions() int {
	now := time.Now()
	c.mu.Lock()
	expired := make([]*model.MpcSession, 0)
	for id, s := range c.sessions {
		if s.State == model.SessionCollecting && now.After(s.ExpiresAt) {
			s.State = model.SessionFailed
			expired = append(expired, s)
			delete(c.sessions, id)
		}
	}
	c.mu.Unlock()

	for _, s := range expired {
		c.persist(s)
	}
	return len(expired)
}
