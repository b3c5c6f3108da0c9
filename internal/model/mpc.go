package model

import "time"

// SessionState is the MPC session lifecycle (spec §3): strictly monotonic,
// Collecting -> Aggregating -> Complete|Failed.
type SessionState string

const (
	SessionCollecting  SessionState = "Collecting"
	SessionAggregating SessionState = "Aggregating"
	SessionComplete    SessionState = "Complete"
	SessionFailed      SessionState = "Failed"
)

// Contribution is one participant's entropy submission to a genesis session.
type Contribution struct {
	NodeID      string    `json:"node_id"`
	EntropyData []byte    `json:"entropy_data"`
	Proof       []byte    `json:"proof,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// MpcSession is the threshold-contribution session record, persisted
// cluster-wide through the epidemic store so any node can serve status.
type MpcSession struct {
	SessionID          string         `json:"session_id"`
	DeviceID           string         `json:"device_id"`
	Threshold          int            `json:"threshold"`
	Contributions      []Contribution `json:"contributions"`
	State              SessionState   `json:"state"`
	StartedAt          time.Time      `json:"started_at"`
	ExpiresAt          time.Time      `json:"expires_at"`
	FacilitatorNode    string         `json:"facilitator_node"`
	ParticipatingNodes []string       `json:"participating_nodes"`
	AnchorToMaster     string         `json:"anchor_to_master,omitempty"`
}

// HasContribution reports whether nodeID already submitted to this session.
func (s *MpcSession) HasContribution(nodeID string) bool {
	for _, c := range s.Contributions {
		if c.NodeID == nodeID {
			return true
		}
	}
	return false
}

// DeviceIdentity is the bound device record produced as the *output* of an
// MPC genesis session.
type DeviceIdentity struct {
	DeviceID        string    `json:"device_id"`
	MasterGenesisID string    `json:"master_genesis_id"`
	GenesisState    []byte    `json:"genesis_state"`
	DeviceEntropy   []byte    `json:"device_entropy"`
	BlindKey        []byte    `json:"blind_key"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	// ChainManagerID references the per-device chain manager keyed by this
	// DeviceID; the manager itself lives in the chain package's in-memory
	// table and is not embedded here, since it is a live, index-keyed
	// structure (spec §9) rather than serializable state.
	ChainManagerID string   `json:"chain_manager_id"`
	SMTRoot        [32]byte `json:"smt_root"`
}
