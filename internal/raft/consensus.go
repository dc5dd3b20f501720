package raft

import (
	"sync"
	"sync/atomic"
)

// ConsensusClientResponse is the closed set of replies a consensus
// request can resolve to. Modeled as a marker interface over small
// exported structs — "one exported type per meaning"
// (store.ErrorNotFound style) generalized to a sum type.
type ConsensusClientResponse interface{ isConsensusClientResponse() }

type LogIndexResponse struct{ Index uint64 }

func (LogIndexResponse) isConsensusClientResponse() {}

type AlreadyProcessedResponse struct {
	Keys  []string
	Index uint64
}

func (AlreadyProcessedResponse) isConsensusClientResponse() {}

type ErrResponse struct{ Err error }

func (ErrResponse) isConsensusClientResponse() {}

// ControlResponse carries a free-form control string such as
// "MOVED <replid>" or "Write given to follower".
type ControlResponse struct{ Text string }

func (ControlResponse) isConsensusClientResponse() {}

// ConsensusRequest is a client (or internally generated) write
// pending consensus.
type ConsensusRequest struct {
	Request    WriteRequest
	SessionReq *SessionRequest
	Callback   func(ConsensusClientResponse)
}

type consensusEntry struct {
	requiredVotes int
	votes         map[PeerIdentifier]struct{}
	callback      func(ConsensusClientResponse)
	sessionReq    *SessionRequest
}

// LogConsensusTracker handles per-index vote accumulation plus the
// client callback that fires once a majority is reached.
type LogConsensusTracker struct {
	mu      sync.Mutex
	entries map[uint64]*consensusEntry
}

func NewLogConsensusTracker() *LogConsensusTracker {
	return &LogConsensusTracker{entries: make(map[uint64]*consensusEntry)}
}

func ceilDiv(a, b int) int { return (a + b - 1) / b }

// Add registers index with required_votes = ceil((replicaCount+1)/2) - 1,
// i.e. a majority of the full replica set (self included) minus the
// self-vote that's implicit in having written the entry at all.
func (t *LogConsensusTracker) Add(index uint64, req ConsensusRequest, replicaCount int, hwm *atomic.Uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[index] = &consensusEntry{
		requiredVotes: ceilDiv(replicaCount+1, 2) - 1,
		votes:         make(map[PeerIdentifier]struct{}),
		callback:      req.Callback,
		sessionReq:    req.SessionReq,
	}
	// A replica count of zero (single-node shard) needs zero
	// acknowledgements; fire immediately so single-node clusters don't
	// hang waiting on peers that don't exist.
	if t.entries[index].requiredVotes <= 0 {
		t.fireLocked(index, hwm)
	}
}

// Ack records a vote from voter for index. Duplicate votes from the
// same voter are ignored. Once len(votes) >= requiredVotes, hwm is
// incremented by one and the callback fires with LogIndexResponse.
func (t *LogConsensusTracker) Ack(index uint64, voter PeerIdentifier, hwm *atomic.Uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[index]
	if !ok {
		return false
	}
	if _, seen := e.votes[voter]; seen {
		return false
	}
	e.votes[voter] = struct{}{}
	if len(e.votes) < e.requiredVotes {
		return false
	}
	return t.fireLocked(index, hwm)
}

func (t *LogConsensusTracker) fireLocked(index uint64, hwm *atomic.Uint64) bool {
	e, ok := t.entries[index]
	if !ok {
		return false
	}
	delete(t.entries, index)
	if hwm != nil {
		hwm.Add(1)
	}
	if e.callback != nil {
		e.callback(LogIndexResponse{Index: index})
	}
	return true
}

// Pending reports whether index is still awaiting votes (test hook).
func (t *LogConsensusTracker) Pending(index uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[index]
	return ok
}
