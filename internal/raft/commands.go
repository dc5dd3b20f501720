package raft

import "context"

// ClusterCommand is the single command enum the actor consumes.
// Every command runs to completion before the next is read off the
// channel — there is no intra-command preemption.
type ClusterCommand interface{ clusterCommand() }

// ClusterCommandHandler is the producer side of the actor's command
// queue. Peer handles only ever hold this — never a back-pointer into
// the actor itself, avoiding cyclic references.
type ClusterCommandHandler struct {
	ch chan ClusterCommand
}

func NewClusterCommandHandler(buffer int) (ClusterCommandHandler, chan ClusterCommand) {
	ch := make(chan ClusterCommand, buffer)
	return ClusterCommandHandler{ch: ch}, ch
}

func (h ClusterCommandHandler) Send(ctx context.Context, cmd ClusterCommand) error {
	select {
	case h.ch <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// --- client commands ---

type LeaderReqConsensus struct{ Req ConsensusRequest }

func (LeaderReqConsensus) clusterCommand() {}

type ReplicaOf struct {
	Addr     string
	Callback func(error)
}

func (ReplicaOf) clusterCommand() {}

type ClusterMeet struct {
	Addr     string
	Lazy     bool
	Callback func(error)
}

func (ClusterMeet) clusterCommand() {}

// AddPeer is enqueued once a handshake (out of scope) has produced a
// live Peer value.
type AddPeer struct{ Peer *Peer }

func (AddPeer) clusterCommand() {}

// --- peer commands ---

type AppendEntriesRPC struct {
	HB        HeartBeat
	RespondTo func(ReplicationAckMsg)
}

func (AppendEntriesRPC) clusterCommand() {}

type RequestVoteCmd struct {
	RV        RequestVoteMsg
	RespondTo func(ElectionVoteMsg)
}

func (RequestVoteCmd) clusterCommand() {}

type ElectionVoteCmd struct{ Vote ElectionVoteMsg }

func (ElectionVoteCmd) clusterCommand() {}

type ReplicationAckCmd struct{ Ack ReplicationAckMsg }

func (ReplicationAckCmd) clusterCommand() {}

type ClusterHeartBeatCmd struct{ HB HeartBeat }

func (ClusterHeartBeatCmd) clusterCommand() {}

// --- scheduler / internal commands ---

type SendClusterHeartbeat struct{}

func (SendClusterHeartbeat) clusterCommand() {}

type RunForElection struct{}

func (RunForElection) clusterCommand() {}

type RebalanceRequest struct{ Target PeerIdentifier }

func (RebalanceRequest) clusterCommand() {}

type StartRebalanceCmd struct{ From PeerIdentifier }

func (StartRebalanceCmd) clusterCommand() {}

type ScheduleMigrationBatch struct{ Batch MigrationBatch }

func (ScheduleMigrationBatch) clusterCommand() {}

type MigrateBatchCmd struct{ Batch MigrationBatch }

func (MigrateBatchCmd) clusterCommand() {}

type ReceiveBatchCmd struct {
	Batch   MigrationBatch
	Entries map[string]string
	From    PeerIdentifier
}

func (ReceiveBatchCmd) clusterCommand() {}

type MigrationBatchAckCmd struct{ Ack MigrationBatchAckMsg }

func (MigrationBatchAckCmd) clusterCommand() {}

type SendBatchAckCmd struct {
	To      PeerIdentifier
	BatchID BatchId
	Success bool
	Err     error
}

func (SendBatchAckCmd) clusterCommand() {}

type TryUnblockWriteReqs struct{}

func (TryUnblockWriteReqs) clusterCommand() {}

// SweepIdlePeers is ticked independently of the heartbeat/election
// timers (see heartbeat.go) to evict peers that have stopped gossiping
// entirely, regardless of this node's own leader/follower mode.
type SweepIdlePeers struct{}

func (SweepIdlePeers) clusterCommand() {}

// ForgetPeer is CLUSTER FORGET: ban the peer so gossip never re-adds
// it, drop it from the peer table, and recompute the ring in case it
// was a shard leader.
type ForgetPeer struct {
	ID       PeerIdentifier
	Callback func(error)
}

func (ForgetPeer) clusterCommand() {}

// Reshard is CLUSTER RESHARD: the leader-only, user-triggered entry
// point into the same rebalance path a CLUSTER MEET kicks off.
type Reshard struct{ Callback func(error) }

func (Reshard) clusterCommand() {}
