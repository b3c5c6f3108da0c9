package partition

import (
	"testing"

	"dsm-storage-node/internal/model"
)

func TestSingleNodeSelfAssignsEverything(t *testing.T) {
	r := New(DefaultConfig())
	r.AddNode(&model.NodeRecord{ID: "n1", Region: "us"})

	counts := r.PrimaryCounts()
	if counts["n1"] != DefaultPartitionCount {
		t.Fatalf("expected single node to own all %d partitions, got %d", DefaultPartitionCount, counts["n1"])
	}
}

func TestTotalPrimariesEqualsPartitionCount(t *testing.T) {
	r := New(DefaultConfig())
	r.AddNode(&model.NodeRecord{ID: "n1", Region: "us"})
	r.AddNode(&model.NodeRecord{ID: "n2", Region: "eu"})
	r.AddNode(&model.NodeRecord{ID: "n3", Region: "ap"})

	total := 0
	for _, c := range r.PrimaryCounts() {
		total += c
	}
	if total != DefaultPartitionCount {
		t.Fatalf("expected total primaries %d, got %d", DefaultPartitionCount, total)
	}
}

func TestGetPartitionForKeyReturnsHealthyAssignment(t *testing.T) {
	r := New(DefaultConfig())
	r.AddNode(&model.NodeRecord{ID: "n1", Region: "us"})
	r.AddNode(&model.NodeRecord{ID: "n2", Region: "eu"})

	primary, _, err := r.GetPartitionForKey("some-blinded-id")
	if err != nil {
		t.Fatalf("GetPartitionForKey: %v", err)
	}
	if primary == "" {
		t.Fatalf("expected a non-empty primary")
	}
}

func TestGetPartitionForKeyNoNodes(t *testing.T) {
	r := New(DefaultConfig())
	_, _, err := r.GetPartitionForKey("key")
	if err == nil {
		t.Fatalf("expected error with no nodes assigned")
	}
}

func TestRemoveNodeReassigns(t *testing.T) {
	r := New(DefaultConfig())
	r.AddNode(&model.NodeRecord{ID: "n1", Region: "us"})
	r.AddNode(&model.NodeRecord{ID: "n2", Region: "eu"})
	r.RemoveNode("n2")

	counts := r.PrimaryCounts()
	if counts["n1"] != DefaultPartitionCount {
		t.Fatalf("expected remaining node to own all partitions after removal")
	}
}

func TestMaxPartitionsPerNodeEnforced(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPartitionsPerNode = 90 // feasible (3*90=270 >= 256) but tighter than ConsistentHash's natural skew
	r := New(cfg)
	r.AddNode(&model.NodeRecord{ID: "n1", Region: "us"})
	r.AddNode(&model.NodeRecord{ID: "n2", Region: "eu"})
	r.AddNode(&model.NodeRecord{ID: "n3", Region: "ap"})

	for id, count := range r.PrimaryCounts() {
		if count > cfg.MaxPartitionsPerNode {
			t.Fatalf("node %s holds %d primaries, over MaxPartitionsPerNode %d", id, count, cfg.MaxPartitionsPerNode)
		}
	}
}

func TestMaxPartitionsPerNodeUnboundedWhenZero(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPartitionsPerNode = 0
	r := New(cfg)
	r.AddNode(&model.NodeRecord{ID: "n1", Region: "us"})
	r.AddNode(&model.NodeRecord{ID: "n2", Region: "eu"})

	total := 0
	for _, c := range r.PrimaryCounts() {
		total += c
	}
	if total != DefaultPartitionCount {
		t.Fatalf("expected total primaries %d, got %d", DefaultPartitionCount, total)
	}
}

func TestAdvanceTransferWithoutHandlerFails(t *testing.T) {
	r := New(DefaultConfig())
	r.AddNode(&model.NodeRecord{ID: "n1", Region: "us"})
	r.AddNode(&model.NodeRecord{ID: "n2", Region: "eu"})

	transfers := r.Transfers()
	if len(transfers) == 0 {
		t.Skip("no transfers generated by this assignment order")
	}
	err := r.AdvanceTransfer(transfers[0].ID, nil)
	if err == nil {
		t.Fatalf("expected error with no handler registered")
	}
}

func TestAdvanceTransferSucceeds(t *testing.T) {
	r := New(DefaultConfig())
	r.AddNode(&model.NodeRecord{ID: "n1", Region: "us"})
	r.AddNode(&model.NodeRecord{ID: "n2", Region: "eu"})

	transfers := r.Transfers()
	if len(transfers) == 0 {
		t.Skip("no transfers generated by this assignment order")
	}
	err := r.AdvanceTransfer(transfers[0].ID, func(*model.PartitionTransfer) error { return nil })
	if err != nil {
		t.Fatalf("AdvanceTransfer: %v", err)
	}
}

func TestSnapshotExportImportRoundTrip(t *testing.T) {
	r := New(DefaultConfig())
	r.AddNode(&model.NodeRecord{ID: "n1", Region: "us"})
	r.AddNode(&model.NodeRecord{ID: "n2", Region: "eu"})

	snapshot, err := r.ExportSnapshot()
	if err != nil {
		t.Fatalf("ExportSnapshot: %v", err)
	}
	if len(snapshot) == 0 {
		t.Fatal("expected a non-empty compressed snapshot")
	}

	before := r.PrimaryCounts()

	fresh := New(DefaultConfig())
	if err := fresh.ImportSnapshot(snapshot); err != nil {
		t.Fatalf("ImportSnapshot: %v", err)
	}

	after := fresh.PrimaryCounts()
	for node, count := range before {
		if after[node] != count {
			t.Fatalf("node %s: expected %d primaries after import, got %d", node, count, after[node])
		}
	}
}
