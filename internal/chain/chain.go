// Package chain implements the per-device bilateral hash-chain + SMT engine
// (spec §4.3): a forward-only chain of states between a device and each of
// its contacts, with SMT-backed inclusion proofs.
package chain

import (
	"encoding/binary"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"dsm-storage-node/internal/cryptoprim"
	"dsm-storage-node/internal/errs"
	"dsm-storage-node/internal/model"
	"dsm-storage-node/internal/smt"
)

// Manager holds one device's contacts, chain tips, and states, plus the SMT
// accumulating all of that device's state hashes.
type Manager struct {
	mu        sync.RWMutex
	deviceID  string
	contacts  map[string]*model.Contact
	chainTips map[string]string // contact device id -> state hash (hex)
	states    map[string]*model.DsmState
	tree      *smt.Tree
}

// NewManager returns an empty chain manager for deviceID.
func NewManager(deviceID string) *Manager {
	return &Manager{
		deviceID:  deviceID,
		contacts:  make(map[string]*model.Contact),
		chainTips: make(map[string]string),
		states:    make(map[string]*model.DsmState),
		tree:      smt.New(),
	}
}

// DeviceID returns the owning device id.
func (m *Manager) DeviceID() string { return m.deviceID }

// SMTRoot returns the current accumulator value.
func (m *Manager) SMTRoot() [32]byte { return m.tree.Root() }

// AddContact registers a bilateral counterparty. Rejects contacts whose
// genesis hash lacks the required "dsm_genesis_" prefix (spec §4.3).
func (m *Manager) AddContact(c *model.Contact) error {
	if !strings.HasPrefix(c.GenesisHash, model.GenesisHashPrefix) {
		return errs.New(errs.InvalidInput, "contact genesis hash missing required prefix")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.AddedAt.IsZero() {
		c.AddedAt = time.Now()
	}
	m.contacts[c.DeviceID] = c
	return nil
}

// Contact returns the contact record, if known.
func (m *Manager) Contact(contactDeviceID string) (*model.Contact, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contacts[contactDeviceID]
	return c, ok
}

// deltasBytes serializes balance deltas deterministically as
// Σ(token ∥ delta_le8) in map-key sorted order, matching the state-hash
// formula in spec §4.3/§3.
func deltasBytes(deltas map[string]int64) []byte {
	if len(deltas) == 0 {
		return nil
	}
	keys := make([]string, 0, len(deltas))
	for k := range deltas {
		keys = append(keys, k)
	}
	sortStrings(keys)
	var out []byte
	for _, k := range keys {
		out = append(out, []byte(k)...)
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, uint64(deltas[k]))
		out = append(out, buf...)
	}
	return out
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// CreateNextState computes S_n = H(prevHash ∥ randomness ∥ op ∥
// Σ(token∥delta)) (spec §3, §4.3). An empty prevHash denotes the genesis
// state (index 0); otherwise prevHash must already exist and the new
// state's index is prev.index + 1.
func (m *Manager) CreateNextState(prevHash string, op string, randomness []byte, deltas map[string]int64) (*model.DsmState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var index uint64
	var prevHashBytes [32]byte
	if prevHash != "" {
		prev, ok := m.states[prevHash]
		if !ok {
			return nil, errs.New(errs.NotFound, "previous state not found")
		}
		index = prev.StateIndex + 1
		b, err := hex.DecodeString(prevHash)
		if err != nil || len(b) != 32 {
			return nil, errs.New(errs.Validation, "malformed previous state hash")
		}
		copy(prevHashBytes[:], b)
	}

	newHash := cryptoprim.Hash(prevHashBytes[:], randomness, []byte(op), deltasBytes(deltas))
	newHashHex := hex.EncodeToString(newHash[:])

	root := m.tree.InsertState(newHash, prevHashBytes, op, deltas, index)
	proof, err := m.tree.GenerateProof(newHash, prevHashBytes, op, deltas, index)
	if err != nil {
		return nil, errs.Wrap(errs.CryptoFailure, err, "generate smt proof for new state")
	}

	state := &model.DsmState{
		StateHash:     newHashHex,
		PrevHash:      prevHash,
		Randomness:    randomness,
		Operation:     op,
		BalanceDeltas: deltas,
		MerkleRoot:    root,
		SMTProof:      proof,
		Timestamp:     time.Now().Unix(),
		StateIndex:    index,
	}
	m.states[newHashHex] = state
	return state, nil
}

// State returns a previously created state by hash.
func (m *Manager) State(stateHash string) (*model.DsmState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[stateHash]
	return s, ok
}

// UpdateChainTip atomically advances a contact's recorded chain tip.
func (m *Manager) UpdateChainTip(contactDeviceID, newTip string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[contactDeviceID]
	if !ok {
		return errs.New(errs.NotFound, "contact not found")
	}
	now := time.Now()
	c.ChainTip = newTip
	c.LastTxAt = &now
	m.chainTips[contactDeviceID] = newTip
	return nil
}

// ChainTip returns the recorded tip for a contact.
func (m *Manager) ChainTip(contactDeviceID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tip, ok := m.chainTips[contactDeviceID]
	return tip, ok
}

// VerifyChain walks backwards from `to` via PrevHash links, returning true
// if it reaches `from`, false if it reaches genesis first, or an
// InvalidOperation error if it detects a cycle (spec §4.3).
func (m *Manager) VerifyChain(from, to string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	visited := make(map[string]bool)
	cur := to
	for {
		if cur == from {
			return true, nil
		}
		if visited[cur] {
			return false, errs.New(errs.InvalidOperation, "cycle detected while walking chain")
		}
		visited[cur] = true

		state, ok := m.states[cur]
		if !ok {
			return false, errs.New(errs.NotFound, "state not present in chain")
		}
		if state.PrevHash == "" {
			return false, nil // reached genesis without finding `from`
		}
		cur = state.PrevHash
	}
}

// VerifyChainTipWithProof checks that the contact's recorded tip matches
// `tip`, that the corresponding state exists, and that its stored SMT
// proof verifies (spec §4.3).
func (m *Manager) VerifyChainTipWithProof(contactDeviceID, tip string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recorded, ok := m.chainTips[contactDeviceID]
	if !ok || recorded != tip {
		return false, nil
	}
	state, ok := m.states[tip]
	if !ok {
		return false, errs.New(errs.NotFound, "tip state not found")
	}
	if state.SMTProof == nil {
		return false, nil
	}
	var prevHashBytes [32]byte
	if state.PrevHash != "" {
		b, err := hex.DecodeString(state.PrevHash)
		if err == nil && len(b) == 32 {
			copy(prevHashBytes[:], b)
		}
	}
	stateHashBytes, err := hex.DecodeString(state.StateHash)
	if err != nil || len(stateHashBytes) != 32 {
		return false, errs.New(errs.Validation, "malformed state hash")
	}
	var stateHash [32]byte
	copy(stateHash[:], stateHashBytes)
	leaf := smt.LeafValue(stateHash, prevHashBytes, state.Operation, state.BalanceDeltas, state.StateIndex)
	return smt.VerifyProof(state.SMTProof, leaf), nil
}
