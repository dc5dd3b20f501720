package raft

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ClusterActor is the single serialized command processor: every
// mutation to ReplicationState, the ReplicatedLog, the HashRing, and
// the peer table happens on this goroutine, one command at a time,
// off ClusterCommandHandler's channel. Nothing outside Run ever
// touches these fields directly.
type ClusterActor struct {
	log zerolog.Logger

	cmdCh     chan ClusterCommand
	handler   ClusterCommandHandler
	connector OutboundConnector
	scheduler *HeartBeatScheduler

	state     *ReplicationState
	replLog   *ReplicatedLog
	consensus *LogConsensusTracker
	sessions  *ClientSessions
	cache     CacheManager
	ring      *HashRing

	mu    sync.Mutex // guards peers, only needed because Peer.State is read by gossip helpers under lock-free assumptions elsewhere; actor itself is single-threaded
	peers map[PeerIdentifier]*Peer

	electionTerm  uint64
	electionVotes map[PeerIdentifier]struct{}

	appliedIndex uint64

	migration *pendingMigrationState

	// nodeTimeout is how long a peer may go without gossiping before
	// sweepIdlePeers (peer.go) evicts it. Zero disables the sweep.
	nodeTimeout time.Duration
}

// NewClusterActor wires the collaborators together. handler/ch is the
// pair returned by NewClusterCommandHandler; the caller owns starting
// Run in its own goroutine.
func NewClusterActor(
	ch chan ClusterCommand,
	handler ClusterCommandHandler,
	state *ReplicationState,
	replLog *ReplicatedLog,
	cache CacheManager,
	ring *HashRing,
	connector OutboundConnector,
	nodeTimeout time.Duration,
	log zerolog.Logger,
) *ClusterActor {
	return &ClusterActor{
		log:         log,
		cmdCh:       ch,
		handler:     handler,
		connector:   connector,
		state:       state,
		replLog:     replLog,
		consensus:   NewLogConsensusTracker(),
		sessions:    NewClientSessions(),
		cache:       cache,
		ring:        ring,
		peers:       make(map[PeerIdentifier]*Peer),
		migration:   newPendingMigrationState(),
		nodeTimeout: nodeTimeout,
	}
}

// AttachScheduler lets cmd/server wire the heartbeat scheduler in
// after construction, since the scheduler itself needs the actor's
// handler to send commands back.
func (a *ClusterActor) AttachScheduler(s *HeartBeatScheduler) { a.scheduler = s }

// Run drains the command channel until ctx is cancelled. Every branch
// of step runs to completion before the next command is read: this is
// the sole linearization point for cluster mutations.
func (a *ClusterActor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-a.cmdCh:
			if !ok {
				return
			}
			a.step(ctx, cmd)
		}
	}
}

func (a *ClusterActor) step(ctx context.Context, cmd ClusterCommand) {
	switch c := cmd.(type) {
	case LeaderReqConsensus:
		a.handleLeaderReqConsensus(c.Req)
	case ReplicaOf:
		a.handleReplicaOf(ctx, c)
	case ClusterMeet:
		a.handleClusterMeet(ctx, c)
	case AddPeer:
		a.handleAddPeer(c)
	case AppendEntriesRPC:
		a.handleAppendEntries(c)
	case RequestVoteCmd:
		a.handleRequestVote(c)
	case ElectionVoteCmd:
		a.handleElectionVote(c.Vote)
	case ReplicationAckCmd:
		a.handleReplicationAck(c.Ack)
	case ClusterHeartBeatCmd:
		a.handleClusterHeartbeat(c.HB)
	case SendClusterHeartbeat:
		a.broadcastHeartbeat()
	case RunForElection:
		a.runForElection()
	case RebalanceRequest:
		a.handleRebalanceRequest(c)
	case StartRebalanceCmd:
		a.handleStartRebalance(c)
	case ScheduleMigrationBatch:
		a.handleScheduleMigrationBatch(c)
	case MigrateBatchCmd:
		a.handleMigrateBatchCmd(c)
	case ReceiveBatchCmd:
		a.handleReceiveBatch(c)
	case MigrationBatchAckCmd:
		a.handleMigrationBatchAck(c.Ack)
	case SendBatchAckCmd:
		a.handleSendBatchAck(c)
	case TryUnblockWriteReqs:
		a.tryUnblockWriteReqs()
	case SweepIdlePeers:
		a.sweepIdlePeers()
	case ForgetPeer:
		a.handleForgetPeer(c)
	case Reshard:
		a.handleReshard(c)
	default:
		a.log.Warn().Type("cmd", cmd).Msg("unhandled cluster command")
	}
}

// peersInReplGroup returns the peers gossiped as belonging to our own
// ReplicationId, used to size the consensus majority.
func (a *ClusterActor) peersInReplGroup() int {
	replID := a.state.ReplID
	n := 0
	for _, p := range a.peers {
		if p.State.ReplID == replID {
			n++
		}
	}
	return n
}

// handleLeaderReqConsensus is the client write entry point: queue
// behind an in-flight migration, or else idempotency check, ownership
// check, leadership check, then append + broadcast.
func (a *ClusterActor) handleLeaderReqConsensus(req ConsensusRequest) {
	if a.migration.draining {
		a.migration.queue(req)
		return
	}
	a.reqConsensus(req)
}

func (a *ClusterActor) reqConsensus(req ConsensusRequest) {
	if idx, done := a.sessions.IsProcessed(req.SessionReq); done {
		req.Callback(AlreadyProcessedResponse{Keys: req.Request.AffectedKeys(), Index: idx})
		return
	}
	owner, err := a.ownerForWrite(req.Request)
	if err != nil {
		req.Callback(ErrResponse{Err: err})
		return
	}
	if owner != "" && owner != a.state.ReplID {
		req.Callback(ControlResponse{Text: fmt.Sprintf("MOVED %s", owner)})
		return
	}
	if !a.state.IsLeader() {
		req.Callback(ErrResponse{Err: ErrNotLeader})
		return
	}

	term := a.state.CurrentTerm()
	idx, err := a.replLog.WriteSingleEntry(req.Request, term, req.SessionReq)
	if err != nil {
		req.Callback(ErrResponse{Err: err})
		return
	}

	cache := a.cache
	sessions := a.sessions
	sessionReq := req.SessionReq
	writeReq := req.Request
	userCallback := req.Callback
	wrapped := func(resp ConsensusClientResponse) {
		if lr, ok := resp.(LogIndexResponse); ok {
			if err := cache.ApplyLog(writeReq, lr.Index); err != nil {
				userCallback(ErrResponse{Err: err})
				return
			}
			sessions.Record(sessionReq, lr.Index)
		}
		userCallback(resp)
	}

	a.consensus.Add(idx, ConsensusRequest{Request: writeReq, SessionReq: sessionReq, Callback: wrapped}, a.peersInReplGroup(), a.state.HWM)
	a.replicateEntryToPeers(idx, term)
}

// ownerForWrite consults the hash ring, if one is configured, for the
// replid that owns this write's keys. A nil ring (single shard group,
// no migration ever configured) means "we own everything."
func (a *ClusterActor) ownerForWrite(req WriteRequest) (ReplicationId, error) {
	if a.ring == nil {
		return "", nil
	}
	return a.ring.GetNodeForKeys(req.AffectedKeys())
}

func (a *ClusterActor) handleReplicaOf(ctx context.Context, cmd ReplicaOf) {
	peer, err := a.connector.Connect(ctx, cmd.Addr)
	if err != nil {
		cmd.Callback(err)
		return
	}
	a.addPeer(peer)
	a.state.SetReplID(peer.State.ReplID)
	a.scheduler.TurnFollowerMode()
	cmd.Callback(nil)
}

// handleClusterMeet dials the target and, for an Eager meet, triggers
// an immediate rebalance; a Lazy meet only updates membership and
// defers rebalancing to the next ring-changing event (see DESIGN.md).
func (a *ClusterActor) handleClusterMeet(ctx context.Context, cmd ClusterMeet) {
	if !a.state.IsLeader() {
		cmd.Callback(ErrNotLeader)
		return
	}
	peer, err := a.connector.Connect(ctx, cmd.Addr)
	if err != nil {
		cmd.Callback(err)
		return
	}
	a.addPeer(peer)
	if !cmd.Lazy {
		a.step(ctx, RebalanceRequest{Target: peer.State.ID})
	}
	cmd.Callback(nil)
}

func (a *ClusterActor) handleAddPeer(cmd AddPeer) {
	a.addPeer(cmd.Peer)
}

// addPeer installs p, killing and replacing any existing peer with
// the same id (a reconnect). It manages its own locking.
func (a *ClusterActor) addPeer(p *Peer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if old, exists := a.peers[p.State.ID]; exists && old.handle != nil {
		go old.handle.Kill()
	}
	a.peers[p.State.ID] = p
}
