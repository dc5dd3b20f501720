package config

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// BindFlags registers every Config field as a pflag on cmd, mirroring
// orneryd-Mimir's serveCmd.Flags().Int/String calls. Defaults come
// from Default() rather than cobra's own zero values, so an
// unspecified flag plus an unspecified config file still produces a
// runnable node.
func BindFlags(flags *pflag.FlagSet, cfg *Config) {
	d := Default()
	flags.StringVar(&cfg.NodeID, "id", d.NodeID, "node identifier (defaults to node-<port>)")
	flags.StringVar(&cfg.DataDir, "data-dir", d.DataDir, "directory for the WAL and topology snapshot")
	flags.IntVar(&cfg.Port, "port", d.Port, "client command port")
	flags.IntVar(&cfg.HTTPPort, "http-port", d.HTTPPort, "status/metrics HTTP port")
	flags.IntVar(&cfg.PeerPort, "peer-port", d.PeerPort, "inbound peer replication port")

	flags.StringVar(&cfg.ReplicaOf, "replicaof", d.ReplicaOf, "join an existing shard group as a follower of this address")
	flags.StringArrayVar(&cfg.Meet, "meet", d.Meet, "CLUSTER MEET one or more peer addresses at startup (repeatable)")
	flags.BoolVar(&cfg.Lazy, "lazy", d.Lazy, "defer rebalancing for --meet to the next ring-changing event")

	flags.Int64Var(&cfg.HeartbeatIntervalMs, "heartbeat-ms", d.HeartbeatIntervalMs, "leader heartbeat interval in milliseconds")
	flags.Int64Var(&cfg.NodeTimeoutMs, "node-timeout-ms", d.NodeTimeoutMs, "peer idle timeout in milliseconds before eviction")
	flags.IntVar(&cfg.VirtualNodes, "virtual-nodes", d.VirtualNodes, "virtual nodes per shard group on the hash ring")
	flags.IntVar(&cfg.CommandQueueSize, "queue-size", d.CommandQueueSize, "cluster actor command channel buffer size")

	flags.StringVar(&cfg.LogLevel, "log-level", d.LogLevel, "zerolog level: debug, info, warn, error")
}

// NewServeCommand builds the "serve" subcommand. run is injected by
// cmd/server so this package stays free of the raft/wal/store wiring
// it's configuring.
func NewServeCommand(run func(Config) error) *cobra.Command {
	var configPath string
	flagCfg := Default()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start a KV store node",
		Long:  "Start a KV store node: client command server, peer replication listener, and status HTTP server.",
		RunE: func(cmd *cobra.Command, args []string) error {
			merged, err := Load(configPath)
			if err != nil {
				return err
			}
			applyExplicitFlags(cmd.Flags(), &merged, &flagCfg)
			return run(merged)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "YAML config file path")
	BindFlags(cmd.Flags(), &flagCfg)
	return cmd
}

// applyExplicitFlags copies over only the fields the user actually
// passed on the command line, so flags win over the config file and
// the file wins over Default() — never the reverse.
func applyExplicitFlags(flags *pflag.FlagSet, merged, flagCfg *Config) {
	if flags.Changed("id") {
		merged.NodeID = flagCfg.NodeID
	}
	if flags.Changed("data-dir") {
		merged.DataDir = flagCfg.DataDir
	}
	if flags.Changed("port") {
		merged.Port = flagCfg.Port
	}
	if flags.Changed("http-port") {
		merged.HTTPPort = flagCfg.HTTPPort
	}
	if flags.Changed("peer-port") {
		merged.PeerPort = flagCfg.PeerPort
	}
	if flags.Changed("replicaof") {
		merged.ReplicaOf = flagCfg.ReplicaOf
	}
	if flags.Changed("meet") {
		merged.Meet = flagCfg.Meet
	}
	if flags.Changed("lazy") {
		merged.Lazy = flagCfg.Lazy
	}
	if flags.Changed("heartbeat-ms") {
		merged.HeartbeatIntervalMs = flagCfg.HeartbeatIntervalMs
	}
	if flags.Changed("node-timeout-ms") {
		merged.NodeTimeoutMs = flagCfg.NodeTimeoutMs
	}
	if flags.Changed("virtual-nodes") {
		merged.VirtualNodes = flagCfg.VirtualNodes
	}
	if flags.Changed("queue-size") {
		merged.CommandQueueSize = flagCfg.CommandQueueSize
	}
	if flags.Changed("log-level") {
		merged.LogLevel = flagCfg.LogLevel
	}
}
