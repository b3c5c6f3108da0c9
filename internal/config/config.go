// Package config provides a viper-backed configuration loader for a DSM
// storage node, mirroring the node's existing convention of a single
// unified Config struct with mapstructure/json tags and
// environment-variable overrides.
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"dsm-storage-node/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the unified configuration for a DSM storage node.
type Config struct {
	Node struct {
		ID            string `mapstructure:"id" json:"id"`
		Name          string `mapstructure:"name" json:"name"`
		Region        string `mapstructure:"region" json:"region"`
		Endpoint      string `mapstructure:"endpoint" json:"endpoint"`
		PublicKeyPath string `mapstructure:"public_key_path" json:"public_key_path"`
		// StakedAmount is a static, config-sourced value round-tripped on
		// the status endpoint (spec §12 supplemented feature #2); this
		// node implements no staking logic.
		StakedAmount uint64 `mapstructure:"staked_amount" json:"staked_amount"`
	} `mapstructure:"node" json:"node"`

	Store struct {
		MaxEntries              int   `mapstructure:"max_entries" json:"max_entries"`
		MaxMemoryBytes          int64 `mapstructure:"max_memory_bytes" json:"max_memory_bytes"`
		DefaultTTLSeconds       int64 `mapstructure:"default_ttl_seconds" json:"default_ttl_seconds"`
		CleanupIntervalMS       int   `mapstructure:"cleanup_interval_ms" json:"cleanup_interval_ms"`
		EvictionCheckIntervalMS int   `mapstructure:"eviction_check_interval_ms" json:"eviction_check_interval_ms"`
		EnableEviction          bool  `mapstructure:"enable_eviction" json:"enable_eviction"`
	} `mapstructure:"store" json:"store"`

	Partition struct {
		PartitionCount       int    `mapstructure:"partition_count" json:"partition_count"`
		ReplicationFactor    int    `mapstructure:"replication_factor" json:"replication_factor"`
		Strategy             string `mapstructure:"strategy" json:"strategy"`
		MinNodesForRebalance int    `mapstructure:"min_nodes_for_rebalance" json:"min_nodes_for_rebalance"`
		MaxPartitionsPerNode int    `mapstructure:"max_partitions_per_node" json:"max_partitions_per_node"`
	} `mapstructure:"partition" json:"partition"`

	Epidemic struct {
		GossipIntervalMS         int `mapstructure:"gossip_interval_ms" json:"gossip_interval_ms"`
		ReconciliationIntervalMS int `mapstructure:"reconciliation_interval_ms" json:"reconciliation_interval_ms"`
		CleanupIntervalMS        int `mapstructure:"cleanup_interval_ms" json:"cleanup_interval_ms"`
		Fanout                   int `mapstructure:"fanout" json:"fanout"`
	} `mapstructure:"epidemic" json:"epidemic"`

	Distribution struct {
		MinReplicas            int     `mapstructure:"min_replicas" json:"min_replicas"`
		DefaultReplicas        int     `mapstructure:"default_replicas" json:"default_replicas"`
		MaxReplicas            int     `mapstructure:"max_replicas" json:"max_replicas"`
		RebalancingIntervalSec int     `mapstructure:"rebalancing_interval_sec" json:"rebalancing_interval_sec"`
		RebalancingThreshold   float64 `mapstructure:"rebalancing_threshold" json:"rebalancing_threshold"`
	} `mapstructure:"distribution" json:"distribution"`

	MPC struct {
		SessionTTLSeconds int `mapstructure:"session_ttl_seconds" json:"session_ttl_seconds"`
	} `mapstructure:"mpc" json:"mpc"`

	HTTP struct {
		ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
	} `mapstructure:"http" json:"http"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment-specific
// overrides. The resulting configuration is stored in AppConfig and
// returned.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/storage-node/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the DSM_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("DSM_ENV", ""))
}

// Default returns hardcoded defaults matching each component's own
// DefaultConfig, for use when no config file is present (e.g. selftest,
// single-node demo runs).
func Default() *Config {
	var c Config
	c.Node.Name = "dsm-storage-node"
	c.Store.MaxEntries = 1_000_000
	c.Store.MaxMemoryBytes = 1 << 30
	c.Store.CleanupIntervalMS = 60_000
	c.Store.EvictionCheckIntervalMS = 60_000
	c.Store.EnableEviction = true
	c.Partition.PartitionCount = 256
	c.Partition.ReplicationFactor = 3
	c.Partition.Strategy = "ConsistentHash"
	c.Partition.MinNodesForRebalance = 2
	c.Epidemic.GossipIntervalMS = 5_000
	c.Epidemic.ReconciliationIntervalMS = 30_000
	c.Epidemic.CleanupIntervalMS = 60_000
	c.Epidemic.Fanout = 3
	c.Distribution.MinReplicas = 2
	c.Distribution.DefaultReplicas = 3
	c.Distribution.MaxReplicas = 5
	c.Distribution.RebalancingIntervalSec = 300
	c.Distribution.RebalancingThreshold = 0.8
	c.MPC.SessionTTLSeconds = 3600
	c.HTTP.ListenAddr = ":8080"
	return &c
}
