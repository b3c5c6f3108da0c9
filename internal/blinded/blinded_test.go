package blinded

import (
	"testing"

	"dsm-storage-node/internal/errs"
	"dsm-storage-node/internal/model"
)

func TestParseMailboxIDRejectsBadPrefix(t *testing.T) {
	_, _, err := ParseMailboxID("xxxabc123def456")
	if !errs.Is(err, errs.InvalidInput) {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}

func TestParseMailboxIDBoundaryLength(t *testing.T) {
	// "b0x" + 9 chars = 12 total, rejected; "b0x" + 10 chars = 13, accepted.
	if _, _, err := ParseMailboxID("b0x" + "123456789"); err == nil {
		t.Fatalf("expected rejection at b0x+9 chars")
	}
	if _, _, err := ParseMailboxID("b0x" + "1234567890"); err != nil {
		t.Fatalf("expected acceptance at b0x+10 chars: %v", err)
	}
}

func TestBlindEncryptDecryptRoundTrip(t *testing.T) {
	ct, err := BlindEncrypt([]byte("hello world"), "dev789", "tip_def")
	if err != nil {
		t.Fatalf("BlindEncrypt: %v", err)
	}
	pt, err := BlindDecrypt(ct, "dev789", "tip_def")
	if err != nil {
		t.Fatalf("BlindDecrypt: %v", err)
	}
	if string(pt) != "hello world" {
		t.Fatalf("round trip mismatch: got %q", pt)
	}
}

func TestBlindEncryptDeterministicForTestLength(t *testing.T) {
	// Spec S2: length prefix (4) + plaintext (11) + padding (64) = 79.
	out := blindEncryptDeterministicForTest([]byte("hello world"), "dev", "tip")
	if len(out) != 79 {
		t.Fatalf("expected length 79, got %d", len(out))
	}
	out2 := blindEncryptDeterministicForTest([]byte("hello world"), "dev", "tip")
	if string(out) != string(out2) {
		t.Fatalf("expected deterministic output across calls")
	}
}

func TestCreateForwardCommitmentsTransfer(t *testing.T) {
	op := model.Operation{Kind: model.OpTransfer, TokenID: "ROOT", Amount: 100, Recipient: "dev789"}
	commitments := CreateForwardCommitments(op, 1609459200)
	if len(commitments) != 1 {
		t.Fatalf("expected one commitment, got %d", len(commitments))
	}
	if commitments[0].Expiry != 1609459200+86400 {
		t.Fatalf("expected fixed-timestamp expiry, got %d", commitments[0].Expiry)
	}
}

func TestCreateForwardCommitmentsNoop(t *testing.T) {
	commitments := CreateForwardCommitments(model.Operation{Kind: model.OpNoop}, 0)
	if commitments != nil {
		t.Fatalf("expected no commitments for Noop, got %v", commitments)
	}
}

func TestCreateBlindedPayload(t *testing.T) {
	entry := model.InboxEntry{
		TxID:              "test_tx_123",
		SenderDeviceID:    "sender_001",
		SenderGenesisHash: "dsm_genesis_abc",
		SenderChainTip:    "tip_def",
		RecipientDeviceID: "dev789",
		Transaction:       model.Operation{Kind: model.OpTransfer, TokenID: "ROOT", Amount: 100, Recipient: "dev789"},
		Signature:         make([]byte, 16),
		Timestamp:         1609459200,
		TTLSeconds:        3600,
	}
	projection := CreateStateProjection([32]byte{}, 0, entry.Transaction, entry.RecipientDeviceID, entry.Timestamp)

	be, err := CreateBlindedPayload(entry, "b0xabc123def456dev789", projection)
	if err != nil {
		t.Fatalf("CreateBlindedPayload: %v", err)
	}
	if be.Metadata["type"] != "blinded_unilateral" {
		t.Fatalf("expected blinded_unilateral type metadata")
	}
	if be.BlindedID != "inbox:b0xabc123def456dev789:test_tx_123" {
		t.Fatalf("unexpected blinded id: %s", be.BlindedID)
	}
}
