package smt

import (
	"testing"

	"dsm-storage-node/internal/cryptoprim"
)

func TestInsertAndVerifyProof(t *testing.T) {
	tree := New()
	s1 := cryptoprim.DomainHash("state", []byte("one"))
	var prev [32]byte

	root1 := tree.InsertState(s1, prev, "op1", nil, 0)
	if root1 != tree.Root() {
		t.Fatalf("root mismatch after insert")
	}

	proof, err := tree.GenerateProof(s1, prev, "op1", nil, 0)
	if err != nil {
		t.Fatalf("GenerateProof: %v", err)
	}
	leaf := LeafValue(s1, prev, "op1", nil, 0)
	if !VerifyProof(proof, leaf) {
		t.Fatalf("expected proof to verify")
	}

	// Tamper with a byte of the leaf-binding input (op) — the recomputed leaf
	// value no longer matches the proof's leaf, so verification must fail.
	tamperedLeaf := LeafValue(s1, prev, "op2", nil, 0)
	if VerifyProof(proof, tamperedLeaf) {
		t.Fatalf("expected tampered leaf to fail verification")
	}
}

func TestMultipleInsertsChangeRoot(t *testing.T) {
	tree := New()
	var prev [32]byte
	s1 := cryptoprim.DomainHash("state", []byte("a"))
	s2 := cryptoprim.DomainHash("state", []byte("b"))

	r1 := tree.InsertState(s1, prev, "op", nil, 0)
	r2 := tree.InsertState(s2, prev, "op", nil, 1)
	if r1 == r2 {
		t.Fatalf("expected root to change after second insert")
	}

	p1, err := tree.GenerateProof(s1, prev, "op", nil, 0)
	if err != nil {
		t.Fatalf("GenerateProof s1: %v", err)
	}
	if p1.Root != r2 {
		t.Fatalf("expected proof root to reflect latest tree root")
	}
	if !VerifyProof(p1, LeafValue(s1, prev, "op", nil, 0)) {
		t.Fatalf("expected s1 proof to still verify under latest root")
	}
}

func TestGenerateProofNotFound(t *testing.T) {
	tree := New()
	var prev [32]byte
	missing := cryptoprim.DomainHash("state", []byte("missing"))
	if _, err := tree.GenerateProof(missing, prev, "op", nil, 0); err == nil {
		t.Fatalf("expected error for missing state")
	}
}
