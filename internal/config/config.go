// Package config is the node's YAML configuration plus the cobra/
// pflag CLI that can override it: a layered config file + flags
// setup, grounded on orneryd-Mimir's cmd/ layout (cobra command
// tree, pflag-bound Flags() on each subcommand).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is everything cmd/server needs to boot one node. YAML tags
// let it double as the on-disk config file format; every field also
// has a matching pflag so a flag always wins over the file, and the
// file always wins over the built-in default.
type Config struct {
	NodeID   string `yaml:"nodeId"`
	DataDir  string `yaml:"dataDir"`
	Port     int    `yaml:"port"`
	HTTPPort int    `yaml:"httpPort"`
	PeerPort int    `yaml:"peerPort"`

	ReplicaOf string   `yaml:"replicaOf"`
	Meet      []string `yaml:"meet"`
	Lazy      bool     `yaml:"lazy"`

	HeartbeatIntervalMs int64 `yaml:"heartbeatIntervalMs"`
	NodeTimeoutMs       int64 `yaml:"nodeTimeoutMs"`
	VirtualNodes        int   `yaml:"virtualNodes"`
	CommandQueueSize    int   `yaml:"commandQueueSize"`

	LogLevel string `yaml:"logLevel"`
}

// Default gives every node a sane standalone configuration: port
// 8080, http on port+1000, plus the cluster-port and timing knobs a
// single-node deployment can leave untouched.
func Default() Config {
	return Config{
		DataDir:             "./data",
		Port:                8080,
		HTTPPort:            9080,
		PeerPort:            7080,
		HeartbeatIntervalMs: 100,
		NodeTimeoutMs:       3000,
		VirtualNodes:        128,
		CommandQueueSize:    100,
		LogLevel:            "info",
	}
}

// Load reads a YAML file over top of Default(). A missing path is not
// an error — nodes are expected to run off flags alone in the common
// case.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) WALPath() string {
	return fmt.Sprintf("%s/%s.wal", c.DataDir, c.nodeIDOrPort())
}

func (c Config) TopologyPath() string {
	return fmt.Sprintf("%s/%s.topology", c.DataDir, c.nodeIDOrPort())
}

func (c Config) nodeIDOrPort() string {
	if c.NodeID != "" {
		return c.NodeID
	}
	return fmt.Sprintf("node-%d", c.Port)
}

func (c Config) ClientAddr() string { return fmt.Sprintf(":%d", c.Port) }
func (c Config) HTTPAddr() string   { return fmt.Sprintf(":%d", c.HTTPPort) }
func (c Config) PeerAddr() string   { return fmt.Sprintf(":%d", c.PeerPort) }

func (c Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalMs) * time.Millisecond
}

// NodeTimeout is how long a peer may go without gossiping before the
// idle-peer sweep evicts it.
func (c Config) NodeTimeout() time.Duration {
	return time.Duration(c.NodeTimeoutMs) * time.Millisecond
}

func (c Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0o755)
}
