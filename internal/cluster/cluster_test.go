package cluster

import (
	"context"
	"testing"

	"dsm-storage-node/internal/model"
)

func TestForwardPutGetRoundTrip(t *testing.T) {
	peer := NewMockPeer()
	m := NewManager(peer)
	m.AddNode(&model.NodeRecord{ID: "n1", Endpoint: "mock://n1"})

	entry := &model.BlindedEntry{BlindedID: "a", EncryptedPayload: []byte("x")}
	if err := m.ForwardPut(context.Background(), "n1", "mock://n1", entry); err != nil {
		t.Fatalf("ForwardPut: %v", err)
	}
	got, err := m.ForwardGet(context.Background(), "n1", "mock://n1", "a")
	if err != nil {
		t.Fatalf("ForwardGet: %v", err)
	}
	if got.BlindedID != "a" {
		t.Fatalf("unexpected entry: %+v", got)
	}
}

func TestCircuitOpensAfterTenConsecutiveFailures(t *testing.T) {
	peer := NewMockPeer()
	peer.SetDown("mock://n1", true)
	m := NewManager(peer)
	m.AddNode(&model.NodeRecord{ID: "n1", Endpoint: "mock://n1"})

	for i := 0; i < 10; i++ {
		_ = m.ForwardDelete(context.Background(), "n1", "mock://n1", "x")
	}
	if m.IsHealthy("n1") {
		t.Fatalf("expected node to be unhealthy after 10 consecutive failures")
	}
	if !m.Health("n1").CircuitOpen() {
		t.Fatalf("expected circuit to be open")
	}

	// Circuit-broken nodes fail fast without attempting the call.
	err := m.ForwardDelete(context.Background(), "n1", "mock://n1", "x")
	if err == nil {
		t.Fatalf("expected fail-fast error")
	}
}
