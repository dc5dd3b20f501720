package raft

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestState() *ReplicationState {
	return NewReplicationState(PeerIdentifier("self:7000"), 7000)
}

func TestNewReplicationStateBootsAsUndecidedFollower(t *testing.T) {
	s := newTestState()
	require.False(t, s.IsLeader())
	require.Equal(t, uint64(0), s.CurrentTerm())
	require.Equal(t, Undecided, s.ReplID)
}

func TestBecomeFollowerIfTermHigherAndVotable(t *testing.T) {
	s := newTestState()
	candidate := PeerIdentifier("peer-a:7000")

	require.True(t, s.BecomeFollowerIfTermHigherAndVotable(candidate, 1))
	require.Equal(t, uint64(1), s.CurrentTerm())

	// Same term again: not votable a second time (already voted this term).
	require.False(t, s.BecomeFollowerIfTermHigherAndVotable(PeerIdentifier("peer-b:7000"), 1))

	// Lower or equal term never demotes.
	require.False(t, s.BecomeFollowerIfTermHigherAndVotable(candidate, 1))
}

func TestGrantVoteSameTermIdempotentForSameCandidate(t *testing.T) {
	s := newTestState()
	candidate := PeerIdentifier("peer-a:7000")

	require.True(t, s.GrantVoteSameTerm(candidate))
	require.True(t, s.GrantVoteSameTerm(candidate), "re-granting to the same candidate is allowed")
	require.False(t, s.GrantVoteSameTerm(PeerIdentifier("peer-b:7000")), "already voted for someone else this term")
}

func TestGrantVoteSameTermRefusedOutsideFollower(t *testing.T) {
	s := newTestState()
	s.StartElection()
	require.False(t, s.GrantVoteSameTerm(PeerIdentifier("peer-a:7000")), "a candidate does not grant votes")
}

func TestBumpTermIsMonotonic(t *testing.T) {
	s := newTestState()
	s.StartElection() // term 1, candidate

	s.BumpTerm(0)
	require.Equal(t, uint64(1), s.CurrentTerm(), "lower term is ignored")

	s.BumpTerm(5)
	require.Equal(t, uint64(5), s.CurrentTerm())
	require.False(t, s.IsLeader())
}

func TestStartElectionThenBecomeLeader(t *testing.T) {
	s := newTestState()
	term := s.StartElection()
	require.Equal(t, uint64(1), term)
	require.False(t, s.IsLeader())

	require.True(t, s.BecomeLeaderIfTerm(term))
	require.True(t, s.IsLeader())
}

func TestBecomeLeaderIfTermRejectsStaleTerm(t *testing.T) {
	s := newTestState()
	term := s.StartElection()
	s.BumpTerm(term + 1) // a higher term arrives before the election resolves

	require.False(t, s.BecomeLeaderIfTerm(term))
	require.False(t, s.IsLeader())
}

func TestStepDownDemotesWithoutChangingTerm(t *testing.T) {
	s := newTestState()
	term := s.StartElection()
	require.True(t, s.BecomeLeaderIfTerm(term))

	s.StepDown()
	require.False(t, s.IsLeader())
	require.Equal(t, term, s.CurrentTerm())
}

func TestBanListAddAndPrune(t *testing.T) {
	s := newTestState()
	peer := PeerIdentifier("bad:7000")
	s.Ban(peer, 1000)
	require.True(t, s.InBanList(peer))

	s.PruneBanList(1000 + banTTLSecs + 1)
	require.False(t, s.InBanList(peer))
}

func TestDefaultHeartbeatCarriesCurrentState(t *testing.T) {
	s := newTestState()
	s.SetReplID(ReplicationId("shard-1"))
	hb := s.DefaultHeartbeat(0, 3, 2)

	require.Equal(t, s.SelfID, hb.From)
	require.Equal(t, uint64(0), hb.Term)
	require.Equal(t, uint64(3), hb.PrevLogIndex)
	require.Equal(t, uint64(2), hb.PrevLogTerm)
	require.Len(t, hb.ClusterNodes, 1)
	require.Equal(t, ReplicationId("shard-1"), hb.ClusterNodes[0].ReplID)
}
