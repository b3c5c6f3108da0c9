// Package node wires every component (C1–C9) into a single running DSM
// storage node, mirroring the teacher's BaseNode pattern of a thin
// struct composing already-independent subsystems rather than a god
// object.
package node

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"dsm-storage-node/internal/chain"
	"dsm-storage-node/internal/cluster"
	"dsm-storage-node/internal/config"
	"dsm-storage-node/internal/cryptoprim"
	"dsm-storage-node/internal/distribution"
	"dsm-storage-node/internal/epidemic"
	"dsm-storage-node/internal/mpc"
	"dsm-storage-node/internal/partition"
	"dsm-storage-node/internal/scheduler"
	"dsm-storage-node/internal/store"
)

// Node owns every subsystem and the background scheduler driving them.
type Node struct {
	ID     string
	Log    *logrus.Logger
	Config *config.Config

	Store        *store.Store
	Ring         *partition.Ring
	Cluster      *cluster.Manager
	Epidemic     *epidemic.Engine
	Distribution *distribution.Coordinator
	MPC          *mpc.Coordinator
	Stream       *cluster.Broadcaster
	Chains       map[string]*chain.Manager
	Health       *cryptoprim.HealthChecker
	Scheduler    *scheduler.Scheduler

	startedAt time.Time
}

// New constructs a fully wired node from configuration and a Peer
// transport (real network client or cluster.MockPeer for tests).
func New(cfg *config.Config, log *logrus.Logger, peer cluster.Peer) *Node {
	if log == nil {
		log = logrus.StandardLogger()
	}

	storeCfg := store.Config{
		MaxEntries:            cfg.Store.MaxEntries,
		MaxMemoryBytes:        cfg.Store.MaxMemoryBytes,
		DefaultTTLSeconds:     cfg.Store.DefaultTTLSeconds,
		CleanupInterval:       time.Duration(cfg.Store.CleanupIntervalMS) * time.Millisecond,
		EvictionCheckInterval: time.Duration(cfg.Store.EvictionCheckIntervalMS) * time.Millisecond,
		EnableEviction:        cfg.Store.EnableEviction,
	}
	st := store.New(storeCfg, log)

	ringCfg := partition.Config{
		PartitionCount:       cfg.Partition.PartitionCount,
		ReplicationFactor:    cfg.Partition.ReplicationFactor,
		Strategy:             partition.Strategy(cfg.Partition.Strategy),
		MinNodesForRebalance: cfg.Partition.MinNodesForRebalance,
		MaxPartitionsPerNode: cfg.Partition.MaxPartitionsPerNode,
	}
	ring := partition.New(ringCfg)

	cm := cluster.NewManager(peer)

	epidemicCfg := epidemic.Config{
		GossipInterval:         time.Duration(cfg.Epidemic.GossipIntervalMS) * time.Millisecond,
		ReconciliationInterval: time.Duration(cfg.Epidemic.ReconciliationIntervalMS) * time.Millisecond,
		CleanupInterval:        time.Duration(cfg.Epidemic.CleanupIntervalMS) * time.Millisecond,
		Fanout:                 cfg.Epidemic.Fanout,
		MaxBatchSize:           100,
		DefaultTTLSeconds:      cfg.Store.DefaultTTLSeconds,
	}
	nodeID := cfg.Node.ID
	stream := cluster.NewBroadcaster(log)
	eng := epidemic.New(epidemicCfg, log, st, cm, nodeID)
	eng.Stream = stream

	distCfg := distribution.Config{
		MinReplicas:            cfg.Distribution.MinReplicas,
		DefaultReplicas:        cfg.Distribution.DefaultReplicas,
		MaxReplicas:            cfg.Distribution.MaxReplicas,
		RebalancingIntervalSec: cfg.Distribution.RebalancingIntervalSec,
		RebalancingThreshold:   cfg.Distribution.RebalancingThreshold,
	}
	dist := distribution.New(distCfg, log, st, ring, cm, nodeID)

	mpcCoord := mpc.New(log, st, nodeID)

	sched := scheduler.New(scheduler.DefaultConfig(), log)
	eng.RegisterWith(sched)
	sched.RegisterRecurring(scheduler.Normal, time.Duration(cfg.Distribution.RebalancingIntervalSec)*time.Second, func() scheduler.TaskFunc {
		return func(ctx context.Context) error {
			dist.CheckAndRebalance(ctx)
			return nil
		}
	})
	sched.RegisterRecurring(scheduler.Low, 60*time.Second, func() scheduler.TaskFunc {
		return func(ctx context.Context) error {
			dist.UpdateAllNodeMetrics(ctx)
			return nil
		}
	})
	sched.RegisterRecurring(scheduler.Low, time.Minute, func() scheduler.TaskFunc {
		return func(ctx context.Context) error {
			mpcCoord.CleanupExpiredSessions()
			return nil
		}
	})
	health := cryptoprim.NewHealthChecker(time.Hour)
	sched.RegisterRecurring(scheduler.Low, time.Hour, func() scheduler.TaskFunc {
		return func(ctx context.Context) error {
			if !health.Due() {
				return nil
			}
			return health.SelfTest()
		}
	})

	return &Node{
		ID:           nodeID,
		Log:          log,
		Config:       cfg,
		Store:        st,
		Ring:         ring,
		Cluster:      cm,
		Epidemic:     eng,
		Distribution: dist,
		MPC:          mpcCoord,
		Stream:       stream,
		Chains:       make(map[string]*chain.Manager),
		Health:       health,
		Scheduler:    sched,
	}
}

// Start runs the crypto self-test and launches the background scheduler
// and store sweep loop. It returns once the self-test passes; the
// scheduler/store loops run until Stop is called.
func (n *Node) Start() error {
	if err := n.Health.SelfTest(); err != nil {
		return err
	}
	n.startedAt = time.Now()
	go n.Store.Run()
	go n.Scheduler.Run()
	n.Log.WithFields(logrus.Fields{"node_id": n.ID}).Info("node: started")
	return nil
}

// Stop halts all background loops.
func (n *Node) Stop() {
	n.Store.Stop()
	n.Scheduler.Stop()
	n.Log.WithFields(logrus.Fields{"node_id": n.ID}).Info("node: stopped")
}

// Uptime reports time elapsed since Start.
func (n *Node) Uptime() time.Duration {
	if n.startedAt.IsZero() {
		return 0
	}
	return time.Since(n.startedAt)
}

// ChainManager returns (creating if absent) the per-device chain
// manager for deviceID.
func (n *Node) ChainManager(deviceID string) *chain.Manager {
	if cm, ok := n.Chains[deviceID]; ok {
		return cm
	}
	cm := chain.NewManager(deviceID)
	n.Chains[deviceID] = cm
	return cm
}
