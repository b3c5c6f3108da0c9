package model

// OperationKind is the unilateral-transaction operation type (spec §4.9).
type OperationKind string

const (
	OpTransfer      OperationKind = "Transfer"
	OpTokenTransfer OperationKind = "TokenTransfer"
	OpCreateToken   OperationKind = "CreateToken"
	OpNoop          OperationKind = "Noop"
)

// Operation describes the pending transaction whose forward commitments are
// computed by the blinded-payload constructor. Only the fields relevant to
// Kind are populated.
type Operation struct {
	Kind          OperationKind `json:"kind"`
	TokenID       string        `json:"token_id,omitempty"`
	Amount        uint64        `json:"amount,omitempty"`
	Recipient     string        `json:"recipient,omitempty"`
	InitialSupply uint64        `json:"initial_supply,omitempty"`
}

// InboxEntry is the unencrypted unilateral-transaction submission accepted
// at the API boundary; the node blinds it before storage (spec §4.9).
type InboxEntry struct {
	TxID              string    `json:"tx_id"`
	SenderDeviceID    string    `json:"sender_device_id"`
	SenderGenesisHash string    `json:"sender_genesis_hash"`
	SenderChainTip    string    `json:"sender_chain_tip"`
	RecipientDeviceID string    `json:"recipient_device_id"`
	Transaction       Operation `json:"transaction"`
	Signature         []byte    `json:"signature"`
	Timestamp         int64     `json:"timestamp"`
	TTLSeconds        int64     `json:"ttl_seconds"`
}

// ForwardCommitment encodes a per-operation invariant the recipient can
// check once it decrypts the entry (spec §4.9).
type ForwardCommitment struct {
	TokenID        string   `json:"token_id,omitempty"`
	Amount         uint64   `json:"amount,omitempty"`
	Recipient      string   `json:"recipient,omitempty"`
	InitialSupply  uint64   `json:"initial_supply,omitempty"`
	CommitmentHash [32]byte `json:"commitment_hash"`
	Expiry         int64    `json:"expiry"`
}

// StateProjection is the forward-only state commitment computed for the
// sender's next bilateral state (spec §4.9).
type StateProjection struct {
	NewEntropy         [32]byte            `json:"new_entropy"`
	ProjectedStateHash [32]byte            `json:"projected_state_hash"`
	ForwardCommitments []ForwardCommitment `json:"forward_commitments"`
}

// CryptographicInboxEntry is the plaintext record that gets blind-encrypted
// and stored as a BlindedEntry's payload.
type CryptographicInboxEntry struct {
	Entry           InboxEntry      `json:"entry"`
	StateProjection StateProjection `json:"state_projection"`
	TransitionProof [32]byte        `json:"transition_proof"`
	StoredTimestamp int64           `json:"stored_timestamp"`
}
