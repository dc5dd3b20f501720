package raft

import "context"

// OutboundConnector is the out-of-scope collaborator that turns an
// address into a live outbound connection and the PeerHandle/I/O task
// pair backing it. ReplicaOf and ClusterMeet both go through it
// before enqueuing AddPeer.
type OutboundConnector interface {
	Connect(ctx context.Context, addr string) (*Peer, error)
}
