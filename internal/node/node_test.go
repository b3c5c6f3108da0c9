package node

import (
	"testing"

	"dsm-storage-node/internal/cluster"
	"dsm-storage-node/internal/config"
)

func TestNewWiresAllComponentsAndStarts(t *testing.T) {
	cfg := config.Default()
	cfg.Node.ID = "node1"

	n := New(cfg, nil, cluster.NewMockPeer())
	if n.Store == nil || n.Ring == nil || n.Cluster == nil || n.Epidemic == nil ||
		n.Distribution == nil || n.MPC == nil || n.Scheduler == nil || n.Health == nil {
		t.Fatalf("expected all subsystems wired, got %+v", n)
	}

	if err := n.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer n.Stop()

	if n.Uptime() <= 0 {
		t.Fatalf("expected positive uptime after start")
	}
}

func TestChainManagerCreatesAndReuses(t *testing.T) {
	cfg := config.Default()
	cfg.Node.ID = "node1"
	n := New(cfg, nil, cluster.NewMockPeer())

	cm1 := n.ChainManager("device-a")
	cm2 := n.ChainManager("device-a")
	if cm1 != cm2 {
		t.Fatalf("expected same chain manager instance for repeated device id")
	}
}
