package distribution

import (
	"context"
	"testing"

	"dsm-storage-node/internal/cluster"
	"dsm-storage-node/internal/model"
	"dsm-storage-node/internal/partition"
	"dsm-storage-node/internal/store"
)

func setup(t *testing.T, selfID string, nodeIDs ...string) (*Coordinator, *store.Store, *cluster.Manager) {
	t.Helper()
	st := store.New(store.DefaultConfig(), nil)
	ring := partition.New(partition.DefaultConfig())
	peer := cluster.NewMockPeer()
	cm := cluster.NewManager(peer)
	for _, id := range nodeIDs {
		n := &model.NodeRecord{ID: id, Endpoint: "mock://" + id}
		ring.AddNode(n)
		cm.AddNode(n)
	}
	return New(DefaultConfig(), nil, st, ring, cm, selfID), st, cm
}

func makeEntry(id string, priority uint8) *model.BlindedEntry {
	e := &model.BlindedEntry{BlindedID: id, EncryptedPayload: []byte("x"), Priority: priority}
	e.ProofHash = store.VerificationHash(e)
	return e
}

func TestReplicationFactorFromPriority(t *testing.T) {
	c, _, _ := setup(t, "n1", "n1")
	if rf := c.replicationFactorFor(10); rf != c.cfg.MaxReplicas {
		t.Fatalf("expected max replicas for priority 10, got %d", rf)
	}
	if rf := c.replicationFactorFor(5); rf != c.cfg.DefaultReplicas {
		t.Fatalf("expected default replicas for priority 5, got %d", rf)
	}
	if rf := c.replicationFactorFor(0); rf != c.cfg.MinReplicas {
		t.Fatalf("expected min replicas for priority 0, got %d", rf)
	}
}

func TestStoreDistributedSingleNodeWritesLocally(t *testing.T) {
	c, st, _ := setup(t, "n1", "n1")
	entry := makeEntry("a", 1)
	if err := c.StoreDistributed(context.Background(), entry); err != nil {
		t.Fatalf("StoreDistributed: %v", err)
	}
	if _, ok := st.Retrieve("a"); !ok {
		t.Fatalf("expected entry stored locally on single-node cluster")
	}
}

func TestRetrieveDistributedFallsBackToLocal(t *testing.T) {
	c, st, _ := setup(t, "n1", "n1")
	entry := makeEntry("a", 1)
	if err := st.Store(entry); err != nil {
		t.Fatalf("Store: %v", err)
	}
	got, err := c.RetrieveDistributed(context.Background(), "a")
	if err != nil {
		t.Fatalf("RetrieveDistributed: %v", err)
	}
	if got.BlindedID != "a" {
		t.Fatalf("unexpected entry: %+v", got)
	}
}

func TestDeleteDistributedLocal(t *testing.T) {
	c, st, _ := setup(t, "n1", "n1")
	entry := makeEntry("a", 1)
	if err := st.Store(entry); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if !c.DeleteDistributed(context.Background(), "a") {
		t.Fatalf("expected deletion to report true")
	}
	if _, ok := st.Retrieve("a"); ok {
		t.Fatalf("expected entry gone after delete")
	}
}

func TestHandleNodeRemovedPromotesReplica(t *testing.T) {
	c, _, _ := setup(t, "n1", "n1", "n2", "n3")
	c.placement["a"] = &model.PlacementInfo{Primary: "n1", Replicas: []string{"n2", "n3"}, ReplicationFactor: 3}
	c.HandleNodeRemoved(context.Background(), "n1", 3)

	pl, ok := c.Placement("a")
	if !ok {
		t.Fatalf("expected placement to still exist")
	}
	if pl.Primary != "n2" {
		t.Fatalf("expected n2 promoted to primary, got %s", pl.Primary)
	}
}
