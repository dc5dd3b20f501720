package raft

// RejectionReason explains a negative ReplicationAck.
type RejectionReason int

const (
	RejectionNone RejectionReason = iota
	RejectionHigherTerm
	RejectionLogInconsistency
	RejectionFailToWrite
)

// PeerState is the subset of a peer's ReplicationState gossiped
// around the cluster.
type PeerState struct {
	ID     PeerIdentifier
	Role   Role
	ReplID ReplicationId
	Term   uint64
}

// HeartBeat is both the leader->follower AppendEntries carrier and
// the peer gossip message: from, term, hwm, hop, prev log
// index/term, append entries, cluster nodes, ban list, and an
// optional hash ring snapshot.
type HeartBeat struct {
	From          PeerIdentifier
	Term          uint64
	HWM           uint64
	Hop           int
	PrevLogIndex  uint64
	PrevLogTerm   uint64
	AppendEntries []LogEntry
	ClusterNodes  []PeerState
	BanList       []BannedPeer
	Ring          *HashRing
}

type RequestVoteMsg struct {
	From         PeerIdentifier
	Term         uint64
	LastLogIndex uint64
	LastLogTerm  uint64
}

type ElectionVoteMsg struct {
	From    PeerIdentifier
	Term    uint64
	Granted bool
}

type ReplicationAckMsg struct {
	From       PeerIdentifier
	Term       uint64
	MatchIndex uint64
	Granted    bool
	Reason     RejectionReason
}

type MigrationBatchAckMsg struct {
	BatchID BatchId
	From    PeerIdentifier
	Success bool
	Err     error
}

// OutboundMessage is anything the actor hands to a PeerHandle to be
// framed and written by that peer's outbound I/O task: these are the
// typed payloads peerWriteLoop (transport.go) encodes onto the wire.
type OutboundMessage interface{ isOutboundMessage() }

type OutboundAppendEntries struct{ HB HeartBeat }

func (OutboundAppendEntries) isOutboundMessage() {}

type OutboundHeartBeat struct{ HB HeartBeat }

func (OutboundHeartBeat) isOutboundMessage() {}

type OutboundRequestVote struct{ RV RequestVoteMsg }

func (OutboundRequestVote) isOutboundMessage() {}

type OutboundElectionVote struct{ Vote ElectionVoteMsg }

func (OutboundElectionVote) isOutboundMessage() {}

type OutboundReplicationAck struct{ Ack ReplicationAckMsg }

func (OutboundReplicationAck) isOutboundMessage() {}

type OutboundMigrateBatch struct {
	Batch   MigrationBatch
	Entries map[string]string
}

func (OutboundMigrateBatch) isOutboundMessage() {}

type OutboundMigrationBatchAck struct{ Ack MigrationBatchAckMsg }

func (OutboundMigrationBatchAck) isOutboundMessage() {}

type OutboundStartRebalance struct{ From PeerIdentifier }

func (OutboundStartRebalance) isOutboundMessage() {}
