package api

import (
	"github.com/prometheus/client_golang/prometheus"

	"dsm-storage-node/internal/node"
)

// NodeMetricsCollector replaces the original's metrics_fixed.rs stub
// (Open Question Decision #4) with real in-process gauges: no OS-level
// CPU/disk gathering, only values this process already tracks.
type NodeMetricsCollector struct {
	n *node.Node

	storedEntries   *prometheus.Desc
	storageUsed     *prometheus.Desc
	storageTotal    *prometheus.Desc
	gossipRounds    *prometheus.Desc
	reconcileRounds *prometheus.Desc
	rebalanceCount  *prometheus.Desc
	knownPeers      *prometheus.Desc
	queueLen        *prometheus.Desc
}

// NewNodeMetricsCollector wraps a running Node as a prometheus.Collector.
func NewNodeMetricsCollector(n *node.Node) *NodeMetricsCollector {
	return &NodeMetricsCollector{
		n:               n,
		storedEntries:   prometheus.NewDesc("dsm_store_entries", "Number of entries held in the local store", nil, nil),
		storageUsed:     prometheus.NewDesc("dsm_store_bytes_used", "Approximate bytes held in the local store", nil, nil),
		storageTotal:    prometheus.NewDesc("dsm_store_bytes_total", "Configured store capacity in bytes", nil, nil),
		gossipRounds:    prometheus.NewDesc("dsm_epidemic_gossip_rounds_total", "Completed gossip rounds", nil, nil),
		reconcileRounds: prometheus.NewDesc("dsm_epidemic_reconciliation_rounds_total", "Completed anti-entropy rounds", nil, nil),
		rebalanceCount:  prometheus.NewDesc("dsm_partition_rebalance_total", "Completed partition rebalance passes", nil, nil),
		knownPeers:      prometheus.NewDesc("dsm_cluster_known_peers", "Known cluster peers", nil, nil),
		queueLen:        prometheus.NewDesc("dsm_scheduler_queue_length", "Pending tasks in the scheduler queue", nil, nil),
	}
}

func (c *NodeMetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.storedEntries
	ch <- c.storageUsed
	ch <- c.storageTotal
	ch <- c.gossipRounds
	ch <- c.reconcileRounds
	ch <- c.rebalanceCount
	ch <- c.knownPeers
	ch <- c.queueLen
}

func (c *NodeMetricsCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.storedEntries, prometheus.GaugeValue, float64(c.n.Store.Len()))
	ch <- prometheus.MustNewConstMetric(c.storageUsed, prometheus.GaugeValue, float64(c.n.Store.MemoryBytes()))
	ch <- prometheus.MustNewConstMetric(c.storageTotal, prometheus.GaugeValue, float64(c.n.Config.Store.MaxMemoryBytes))
	ch <- prometheus.MustNewConstMetric(c.gossipRounds, prometheus.CounterValue, float64(c.n.Epidemic.GossipRounds()))
	ch <- prometheus.MustNewConstMetric(c.reconcileRounds, prometheus.CounterValue, float64(c.n.Epidemic.ReconciliationRounds()))
	ch <- prometheus.MustNewConstMetric(c.rebalanceCount, prometheus.CounterValue, float64(c.n.Ring.RebalanceCount()))
	ch <- prometheus.MustNewConstMetric(c.knownPeers, prometheus.GaugeValue, float64(len(c.n.Cluster.Nodes(""))))
	ch <- prometheus.MustNewConstMetric(c.queueLen, prometheus.GaugeValue, float64(c.n.Scheduler.QueueLen()))
}
