package cfg

import (
	"crypto/subtle"
	"flag"
	"fmt"
	"hash/fnv"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// StoreType selects the partition backing used by the grid service
type StoreType string

const (
	StoreMemory StoreType = "memory" // Partitions held in process memory
	StorePebble StoreType = "pebble" // Partitions persisted in a Pebble database under data_dir
)

// GridConfiguration controls the partitioned store
type GridConfiguration struct {
	PartitionCount int       `toml:"partition_count"`
	Store          StoreType `toml:"store"`
	CacheSize      int       `toml:"cache_size"` // LRU entries kept in front of pebble
}

// TopicConfiguration holds defaults applied to newly created topics and publishers
type TopicConfiguration struct {
	ChannelCount     int    `toml:"channel_count"`
	PageCapacity     int    `toml:"page_capacity"`     // Element slots per page
	MaxBatchSize     int    `toml:"max_batch_size"`    // Values per offer
	MaxElementBytes  int    `toml:"max_element_bytes"` // 0 = unlimited
	CloseTimeoutMS   int    `toml:"close_timeout_ms"`
	OnFailure        string `toml:"on_failure"` // "stop" or "continue"
	SubscriberWaitMS int    `toml:"subscriber_wait_ms"`
}

// MemberConfiguration describes one static cluster member
type MemberConfiguration struct {
	ID      uint64 `toml:"id"`
	Address string `toml:"address"`
}

// ClusterConfiguration controls the listener and the members partitions are spread over
type ClusterConfiguration struct {
	BindAddress             string                `toml:"bind_address"`
	AdvertiseAddress        string                `toml:"advertise_address"`
	Port                    int                   `toml:"port"`
	Members                 []MemberConfiguration `toml:"members"`
	VirtualNodes            int                   `toml:"virtual_nodes"`
	KeepaliveTimeSeconds    int                   `toml:"keepalive_time_seconds"`
	KeepaliveTimeoutSeconds int                   `toml:"keepalive_timeout_seconds"`
	RequestTimeoutMS        int                   `toml:"request_timeout_ms"`
	CompressionLevel        int                   `toml:"compression_level"` // 0 = off, 1-4 zstd levels
	ClusterSecret           string                `toml:"cluster_secret"`    // Empty disables member auth
}

// BridgeConfiguration forwards topic elements to an external broker
type BridgeConfiguration struct {
	Name            string   `toml:"name"`
	Type            string   `toml:"type"`   // "kafka" or "nats"
	Topics          []string `toml:"topics"` // Glob patterns, empty = all
	TargetPrefix    string   `toml:"target_prefix"`
	Brokers         []string `toml:"brokers"`
	NatsURL         string   `toml:"nats_url"`
	BatchSize       int      `toml:"batch_size"`
	PollIntervalMS  int      `toml:"poll_interval_ms"`
	RetryInitialMS  int      `toml:"retry_initial_ms"`
	RetryMaxMS      int      `toml:"retry_max_ms"`
	RetryMultiplier float64  `toml:"retry_multiplier"`
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// Configuration is the main configuration structure
type Configuration struct {
	NodeID  uint64 `toml:"node_id"`
	DataDir string `toml:"data_dir"`

	Grid       GridConfiguration       `toml:"grid"`
	Topics     TopicConfiguration      `toml:"topics"`
	Cluster    ClusterConfiguration    `toml:"cluster"`
	Bridges    []BridgeConfiguration   `toml:"bridges"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	DataDirFlag    = flag.String("data-dir", "", "Data directory (overrides config)")
	NodeIDFlag     = flag.Uint64("node-id", 0, "Node ID (overrides config, 0=auto)")
	PortFlag       = flag.Int("port", 0, "Listen port (overrides config)")
)

// Default configuration
var Config = Default()

// Default returns a fresh configuration populated with defaults
func Default() *Configuration {
	return &Configuration{
		NodeID:  0, // Auto-generate
		DataDir: "./gridtopic-data",

		Grid: GridConfiguration{
			PartitionCount: 257,
			Store:          StoreMemory,
			CacheSize:      4096,
		},

		Topics: TopicConfiguration{
			ChannelCount:     17,
			PageCapacity:     1024,
			MaxBatchSize:     256,
			MaxElementBytes:  1 << 20, // 1MB
			CloseTimeoutMS:   30000,
			OnFailure:        "stop",
			SubscriberWaitMS: 1000,
		},

		Cluster: ClusterConfiguration{
			BindAddress:             "0.0.0.0",
			Port:                    7574,
			Members:                 []MemberConfiguration{},
			VirtualNodes:            150,
			KeepaliveTimeSeconds:    10,
			KeepaliveTimeoutSeconds: 3,
			RequestTimeoutMS:        5000,
			CompressionLevel:        1,
		},

		Logging: LoggingConfiguration{
			Verbose: false,
			Format:  "console",
		},

		Prometheus: PrometheusConfiguration{
			Enabled: true,
		},
	}
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	if *DataDirFlag != "" {
		Config.DataDir = *DataDirFlag
	}
	if *NodeIDFlag != 0 {
		Config.NodeID = *NodeIDFlag
	}
	if *PortFlag != 0 {
		Config.Cluster.Port = *PortFlag
	}

	if Config.NodeID == 0 {
		var err error
		Config.NodeID, err = generateNodeID()
		if err != nil {
			return fmt.Errorf("failed to generate node ID: %w", err)
		}
		log.Info().Uint64("node_id", Config.NodeID).Msg("Auto-generated node ID")
	}

	if err := os.MkdirAll(Config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	return nil
}

// generateNodeID creates a unique node ID based on machine ID
func generateNodeID() (uint64, error) {
	id, err := machineid.ProtectedID("gridtopic")
	if err != nil {
		return 0, err
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64(), nil
}

// Validate checks configuration for errors
func Validate() error {
	if Config.Cluster.Port < 1 || Config.Cluster.Port > 65535 {
		return fmt.Errorf("invalid port: %d", Config.Cluster.Port)
	}

	if Config.Cluster.AdvertiseAddress == "" {
		hostname, err := os.Hostname()
		if err != nil {
			log.Warn().Err(err).Msg("Failed to get hostname, using localhost")
			hostname = "localhost"
		}
		Config.Cluster.AdvertiseAddress = fmt.Sprintf("%s:%d", hostname, Config.Cluster.Port)
		log.Info().
			Str("advertise_address", Config.Cluster.AdvertiseAddress).
			Msg("Auto-configured advertise address")
	}

	if Config.Cluster.VirtualNodes < 1 {
		return fmt.Errorf("virtual nodes must be >= 1")
	}

	if Config.Cluster.CompressionLevel < 0 || Config.Cluster.CompressionLevel > 4 {
		return fmt.Errorf("compression level must be between 0 and 4")
	}

	seen := make(map[uint64]bool, len(Config.Cluster.Members))
	for _, m := range Config.Cluster.Members {
		if m.Address == "" {
			return fmt.Errorf("member %d has no address", m.ID)
		}
		if seen[m.ID] {
			return fmt.Errorf("duplicate member id %d", m.ID)
		}
		seen[m.ID] = true
	}

	if Config.Grid.PartitionCount < 1 {
		return fmt.Errorf("partition count must be >= 1")
	}

	switch Config.Grid.Store {
	case StoreMemory, StorePebble:
	default:
		return fmt.Errorf("invalid store type: %s", Config.Grid.Store)
	}

	if Config.Topics.ChannelCount < 1 {
		return fmt.Errorf("channel count must be >= 1")
	}

	if Config.Topics.PageCapacity < 1 {
		return fmt.Errorf("page capacity must be >= 1")
	}

	if Config.Topics.MaxBatchSize < 1 {
		return fmt.Errorf("max batch size must be >= 1")
	}

	if Config.Topics.MaxElementBytes < 0 {
		return fmt.Errorf("max element bytes must be >= 0")
	}

	if Config.Topics.CloseTimeoutMS < 1 {
		return fmt.Errorf("close timeout must be >= 1ms")
	}

	switch Config.Topics.OnFailure {
	case "stop", "continue":
	default:
		return fmt.Errorf("invalid on_failure policy: %s", Config.Topics.OnFailure)
	}

	names := make(map[string]bool, len(Config.Bridges))
	for _, b := range Config.Bridges {
		if b.Name == "" {
			return fmt.Errorf("bridge name is required")
		}
		if names[b.Name] {
			return fmt.Errorf("duplicate bridge name %q", b.Name)
		}
		names[b.Name] = true
	}

	return nil
}

// IsClusterAuthEnabled returns true if a cluster secret is configured
func IsClusterAuthEnabled() bool {
	return Config != nil && Config.Cluster.ClusterSecret != ""
}

// GetClusterSecret returns the secret members present to each other.
// GRIDTOPIC_CLUSTER_SECRET overrides the file value.
func GetClusterSecret() string {
	if v := os.Getenv("GRIDTOPIC_CLUSTER_SECRET"); v != "" {
		return v
	}
	if Config == nil {
		return ""
	}
	return Config.Cluster.ClusterSecret
}

// ClusterSecretMatches compares a presented secret against the configured one in constant time
func ClusterSecretMatches(presented string) bool {
	return subtle.ConstantTimeCompare([]byte(presented), []byte(GetClusterSecret())) == 1
}

// CloseTimeout returns the publisher close timeout
func (t TopicConfiguration) CloseTimeout() time.Duration {
	return time.Duration(t.CloseTimeoutMS) * time.Millisecond
}

// RequestTimeout returns the per-call timeout applied to remote grid calls
func (c ClusterConfiguration) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}
