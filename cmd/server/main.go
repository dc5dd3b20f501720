// Package main wires config, WAL, store, cluster actor, and the
// client/peer/HTTP servers together behind a cobra command
// (internal/config) driving a node that can actually replicate and
// reshard.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/mathdee/KV-Store/internal/config"
	"github.com/mathdee/KV-Store/internal/raft"
	"github.com/mathdee/KV-Store/internal/server"
	"github.com/mathdee/KV-Store/internal/store"
	"github.com/mathdee/KV-Store/internal/topology"
	"github.com/mathdee/KV-Store/internal/wal"
)

var version = "dev"

// topologyPollInterval bounds how quickly a ring change is reflected
// in the on-disk snapshot and local subscribers; HashRing has no
// change-notification hook, only the monotonic LastModified counter.
const topologyPollInterval = 50 * time.Millisecond

func main() {
	root := config.NewRootCommand(version, run)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	log := newLogger(cfg.LogLevel)

	if err := cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	w, err := wal.NewWAL(cfg.WALPath())
	if err != nil {
		return fmt.Errorf("opening wal: %w", err)
	}
	defer w.Close()

	cache := store.NewStore(w)
	if err := cache.Warm(); err != nil {
		return fmt.Errorf("replaying wal: %w", err)
	}

	selfID := raft.PeerIdentifier(cfg.PeerAddr())
	state := raft.NewReplicationState(selfID, uint16(cfg.PeerPort))
	replLog := raft.NewReplicatedLog(w)
	ring := raft.NewHashRing(cfg.VirtualNodes)

	handler, ch := raft.NewClusterCommandHandler(cfg.CommandQueueSize)
	connector := raft.NewTCPConnector(handler, raft.NewSelfHandshake(state), log.With().Str("component", "transport").Logger())

	actor := raft.NewClusterActor(ch, handler, state, replLog, cache, ring, connector, cfg.NodeTimeout(), log.With().Str("component", "actor").Logger())
	scheduler := raft.RunHeartBeatScheduler(handler, cfg.ReplicaOf == "", cfg.HeartbeatIntervalMs, cfg.NodeTimeoutMs, log.With().Str("component", "scheduler").Logger())
	actor.AttachScheduler(scheduler)
	defer scheduler.Stop()

	topoWriter, err := topology.NewWriter(cfg.TopologyPath())
	if err != nil {
		return fmt.Errorf("opening topology snapshot: %w", err)
	}
	defer topoWriter.Close()
	topoBroadcast := topology.NewBroadcaster()
	go runTopologyPublisher(ring, topoWriter, topoBroadcast, log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go actor.Run(ctx)

	peerListenerErr := make(chan error, 1)
	go func() {
		peerListenerErr <- raft.RunInboundListener(ctx, cfg.PeerAddr(), raft.NewSelfHandshake(state), handler, log.With().Str("component", "peer-listener").Logger())
	}()

	if cfg.ReplicaOf != "" {
		done := make(chan error, 1)
		if err := handler.Send(ctx, raft.ReplicaOf{Addr: cfg.ReplicaOf, Callback: func(err error) { done <- err }}); err != nil {
			return fmt.Errorf("enqueueing replicaof: %w", err)
		}
		if err := <-done; err != nil {
			return fmt.Errorf("replicaof %s: %w", cfg.ReplicaOf, err)
		}
	}

	for _, addr := range cfg.Meet {
		done := make(chan error, 1)
		meet := raft.ClusterMeet{Addr: addr, Lazy: cfg.Lazy, Callback: func(err error) { done <- err }}
		if err := handler.Send(ctx, meet); err != nil {
			return fmt.Errorf("enqueueing cluster meet %s: %w", addr, err)
		}
		if err := <-done; err != nil {
			log.Warn().Str("addr", addr).Err(err).Msg("cluster meet failed")
		}
	}

	srv := server.NewServer(cache, handler, state, ring, log.With().Str("component", "client-server").Logger())
	httpSrv := server.NewHTTPServer(state, ring, srv.GetMetrics(), log.With().Str("component", "http-server").Logger())

	errCh := make(chan error, 3)
	go func() { errCh <- srv.Start(cfg.ClientAddr()) }()
	go func() { errCh <- httpSrv.Start(cfg.HTTPAddr()) }()
	go func() { errCh <- <-peerListenerErr }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).Level(lvl).With().Timestamp().Logger()
}

// runTopologyPublisher rewrites the on-disk snapshot and fans it out
// to local subscribers every time the ring's LastModified counter
// advances, the polling equivalent of duva's broadcast-on-mutation
// since HashRing has no change-notification hook of its own.
func runTopologyPublisher(ring *raft.HashRing, w *topology.Writer, b *topology.Broadcaster, log zerolog.Logger) {
	ticker := time.NewTicker(topologyPollInterval)
	defer ticker.Stop()
	var lastSeen uint64
	for range ticker.C {
		modAt := ring.ModifiedAt()
		if modAt == lastSeen {
			continue
		}
		lastSeen = modAt
		snap := snapshotFromRing(ring)
		if err := w.WriteSnapshot(snap); err != nil {
			log.Error().Err(err).Msg("failed to write topology snapshot")
		}
		b.Publish(snap)
	}
}

func snapshotFromRing(ring *raft.HashRing) topology.Snapshot {
	parts := ring.Snapshot()
	snap := make(topology.Snapshot, 0, len(parts))
	for _, p := range parts {
		snap = append(snap, topology.Record{
			PeerID:   string(p.Leader),
			ReplID:   string(p.ReplID),
			Role:     "leader",
			LeaderID: string(p.Leader),
		})
	}
	return snap
}
