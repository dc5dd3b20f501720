package raft

import "errors"

// Error taxonomy for the cluster actor. The actor never panics: these
// are reported through the originating callback or logged, never used
// to tear down the actor goroutine.
var (
	ErrLogInconsistency   = errors.New("raft: follower log diverges from leader")
	ErrReceiverHigherTerm = errors.New("raft: rejected by a peer with a higher term")
	ErrFailToWrite        = errors.New("raft: write-ahead log rejected the entry")
	ErrMoved              = errors.New("raft: key belongs to another shard")
	ErrAlreadyProcessed   = errors.New("raft: request already processed")
	ErrNotLeader          = errors.New("raft: this node is not the leader")
	ErrUnknownPeer        = errors.New("raft: unknown peer")
	ErrStaleHashRing      = errors.New("raft: hash ring older than local ring")
	ErrNoOwnerForKey      = errors.New("raft: no partition owns this key")

	errUnknownOutboundMessage = errors.New("raft: no wire encoding for this outbound message")
	errUnknownWireFrame       = errors.New("raft: unrecognized wire frame type")
)
