package chain

import (
	"testing"

	"dsm-storage-node/internal/errs"
	"dsm-storage-node/internal/model"
)

func TestAddContactRejectsBadPrefix(t *testing.T) {
	m := NewManager("device-a")
	err := m.AddContact(&model.Contact{DeviceID: "bob", GenesisHash: "bad_prefix_abc"})
	if !errs.Is(err, errs.InvalidInput) {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}

func TestCreateNextStateGenesisThenIncrement(t *testing.T) {
	m := NewManager("device-a")

	genesis, err := m.CreateNextState("", "genesis", []byte("r0"), nil)
	if err != nil {
		t.Fatalf("CreateNextState genesis: %v", err)
	}
	if genesis.StateIndex != 0 {
		t.Fatalf("expected genesis index 0, got %d", genesis.StateIndex)
	}
	if genesis.PrevHash != "" {
		t.Fatalf("expected empty prev hash for genesis")
	}

	next, err := m.CreateNextState(genesis.StateHash, "transfer", []byte("r1"), map[string]int64{"tok": 5})
	if err != nil {
		t.Fatalf("CreateNextState next: %v", err)
	}
	if next.StateIndex != 1 {
		t.Fatalf("expected index 1, got %d", next.StateIndex)
	}
	if next.PrevHash != genesis.StateHash {
		t.Fatalf("expected prev hash to link to genesis")
	}
}

func TestCreateNextStateMissingPrev(t *testing.T) {
	m := NewManager("device-a")
	_, err := m.CreateNextState("deadbeef", "op", nil, nil)
	if !errs.Is(err, errs.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestUpdateChainTipUnknownContact(t *testing.T) {
	m := NewManager("device-a")
	err := m.UpdateChainTip("unknown", "tip")
	if !errs.Is(err, errs.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestVerifyChainWalksBackward(t *testing.T) {
	m := NewManager("device-a")
	genesis, err := m.CreateNextState("", "genesis", []byte("r0"), nil)
	if err != nil {
		t.Fatalf("CreateNextState genesis: %v", err)
	}
	s1, err := m.CreateNextState(genesis.StateHash, "op1", []byte("r1"), nil)
	if err != nil {
		t.Fatalf("CreateNextState s1: %v", err)
	}
	s2, err := m.CreateNextState(s1.StateHash, "op2", []byte("r2"), nil)
	if err != nil {
		t.Fatalf("CreateNextState s2: %v", err)
	}

	ok, err := m.VerifyChain(genesis.StateHash, s2.StateHash)
	if err != nil || !ok {
		t.Fatalf("expected chain to verify back to genesis, ok=%v err=%v", ok, err)
	}

	ok, err = m.VerifyChain("not-in-chain", s2.StateHash)
	if err != nil || ok {
		t.Fatalf("expected chain not to reach unrelated hash, ok=%v err=%v", ok, err)
	}
}

func TestUpdateAndVerifyChainTipWithProof(t *testing.T) {
	m := NewManager("device-a")
	if err := m.AddContact(&model.Contact{DeviceID: "bob", GenesisHash: model.GenesisHashPrefix + "bob"}); err != nil {
		t.Fatalf("AddContact: %v", err)
	}
	s, err := m.CreateNextState("", "genesis", []byte("r0"), nil)
	if err != nil {
		t.Fatalf("CreateNextState: %v", err)
	}
	if err := m.UpdateChainTip("bob", s.StateHash); err != nil {
		t.Fatalf("UpdateChainTip: %v", err)
	}

	ok, err := m.VerifyChainTipWithProof("bob", s.StateHash)
	if err != nil {
		t.Fatalf("VerifyChainTipWithProof: %v", err)
	}
	if !ok {
		t.Fatalf("expected tip proof to verify")
	}

	ok, err = m.VerifyChainTipWithProof("bob", "wrong-tip")
	if err != nil {
		t.Fatalf("VerifyChainTipWithProof: %v", err)
	}
	if ok {
		t.Fatalf("expected mismatched tip to fail verification")
	}
}
