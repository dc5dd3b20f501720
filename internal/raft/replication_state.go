package raft

import (
	"sync"
	"sync/atomic"
)

// ReplicationState holds identity, term, role, election state, ban
// list, and the high-water mark. HWM is the one field the rest of the
// actor reads without going through the actor's own command queue, so
// it is kept as an atomic counter.
type ReplicationState struct {
	mu sync.Mutex

	SelfID   PeerIdentifier
	ReplID   ReplicationId
	Role     Role
	Term     uint64
	Election ElectionState
	SelfPort uint16

	HWM     *atomic.Uint64
	BanList map[BannedPeer]struct{}
}

// NewReplicationState starts a node as an undecided follower, as it
// would boot before any CLUSTER MEET / REPLICAOF has been issued.
func NewReplicationState(selfID PeerIdentifier, selfPort uint16) *ReplicationState {
	hwm := &atomic.Uint64{}
	return &ReplicationState{
		SelfID:   selfID,
		ReplID:   Undecided,
		Role:     RoleFollower,
		Term:     0,
		Election: ElectionState{Kind: ElectionFollower},
		SelfPort: selfPort,
		HWM:      hwm,
		BanList:  make(map[BannedPeer]struct{}),
	}
}

func (r *ReplicationState) IsLeader() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Role == RoleLeader
}

func (r *ReplicationState) CurrentTerm() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Term
}

// votable reports whether this node may still grant a vote this term:
// a follower that hasn't voted yet, or a candidate still accepting
// votes for itself. A leader never votes.
func (r *ReplicationState) votable() bool {
	switch r.Election.Kind {
	case ElectionFollower:
		return r.Election.VotedFor == nil
	case ElectionCandidate:
		return r.Election.Voting
	default:
		return false
	}
}

// BecomeFollowerIfTermHigherAndVotable atomically demotes to follower
// and records the vote iff candidate's term is strictly higher than
// ours and we are still able to vote this term. Returns whether it did.
func (r *ReplicationState) BecomeFollowerIfTermHigherAndVotable(candidate PeerIdentifier, term uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if term <= r.Term || !r.votable() {
		return false
	}
	r.Term = term
	r.Role = RoleFollower
	r.Election = ElectionState{Kind: ElectionFollower, VotedFor: &candidate}
	return true
}

// GrantVoteSameTerm grants a vote within the current term when we
// haven't voted for anyone else yet (idempotent re-grant to the same
// candidate, per Raft's "or voted for the candidate" rule).
func (r *ReplicationState) GrantVoteSameTerm(candidate PeerIdentifier) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Election.Kind != ElectionFollower {
		return false
	}
	if r.Election.VotedFor != nil && *r.Election.VotedFor != candidate {
		return false
	}
	r.Election = ElectionState{Kind: ElectionFollower, VotedFor: &candidate}
	return true
}

// BumpTerm unconditionally advances to a higher term seen from a
// leader's heartbeat/append and resets to an un-voted follower.
func (r *ReplicationState) BumpTerm(term uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if term <= r.Term {
		return
	}
	r.Term = term
	r.Role = RoleFollower
	r.Election = ElectionState{Kind: ElectionFollower}
}

// StartElection bumps the term, votes for self, and enters the
// candidate phase. Returns the new term.
func (r *ReplicationState) StartElection() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Term++
	self := r.SelfID
	r.Election = ElectionState{Kind: ElectionCandidate, VotedFor: &self, Voting: true}
	return r.Term
}

// BecomeLeaderIfTerm promotes a candidate to leader, but only if the
// term hasn't moved on (a concurrent heartbeat from a new leader may
// have already demoted us).
func (r *ReplicationState) BecomeLeaderIfTerm(term uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Term != term || r.Election.Kind != ElectionCandidate {
		return false
	}
	r.Role = RoleLeader
	r.Election = ElectionState{Kind: ElectionLeader}
	return true
}

// StepDown is called on ReceiverHasHigherTerm: immediate demotion
// without touching the term (the rejecting peer's heartbeat/ack will
// carry the higher term separately).
func (r *ReplicationState) StepDown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Role = RoleFollower
	r.Election = ElectionState{Kind: ElectionFollower}
}

// SetReplID is used once a REPLICAOF/CLUSTER MEET resolves this node
// into a concrete shard group.
func (r *ReplicationState) SetReplID(id ReplicationId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ReplID = id
}

func (r *ReplicationState) Ban(id PeerIdentifier, atSecs int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.BanList[BannedPeer{PeerID: id, BanTimeSecs: atSecs}] = struct{}{}
}

func (r *ReplicationState) InBanList(id PeerIdentifier) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for b := range r.BanList {
		if b.PeerID == id {
			return true
		}
	}
	return false
}

// PruneBanList drops entries older than banTTLSecs. Called whenever a
// heartbeat's ban list is merged in.
func (r *ReplicationState) PruneBanList(now int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for b := range r.BanList {
		if now-b.BanTimeSecs > banTTLSecs {
			delete(r.BanList, b)
		}
	}
}

func (r *ReplicationState) BanListSnapshot() []BannedPeer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]BannedPeer, 0, len(r.BanList))
	for b := range r.BanList {
		out = append(out, b)
	}
	return out
}

// DefaultHeartbeat stamps a heartbeat with the node's current
// term/role/hwm/ban list/self id. Caller fills in the gossip-specific
// fields (PrevLogIndex/PrevLogTerm/AppendEntries/ClusterNodes/Ring).
func (r *ReplicationState) DefaultHeartbeat(hop int, lastIdx, lastTerm uint64) HeartBeat {
	r.mu.Lock()
	role := r.Role
	term := r.Term
	self := r.SelfID
	replID := r.ReplID
	r.mu.Unlock()
	return HeartBeat{
		From:         self,
		Term:         term,
		HWM:          r.HWM.Load(),
		Hop:          hop,
		PrevLogIndex: lastIdx,
		PrevLogTerm:  lastTerm,
		BanList:      r.BanListSnapshot(),
		ClusterNodes: []PeerState{{ID: self, Role: role, ReplID: replID, Term: term}},
	}
}
