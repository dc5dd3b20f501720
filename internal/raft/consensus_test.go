package raft

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLogConsensusTrackerFiresImmediatelyWithNoReplicas(t *testing.T) {
	tr := NewLogConsensusTracker()
	hwm := &atomic.Uint64{}
	fired := false
	tr.Add(1, ConsensusRequest{Callback: func(ConsensusClientResponse) { fired = true }}, 0, hwm)

	require.True(t, fired)
	require.Equal(t, uint64(1), hwm.Load())
	require.False(t, tr.Pending(1))
}

func TestLogConsensusTrackerRequiresMajority(t *testing.T) {
	tr := NewLogConsensusTracker()
	hwm := &atomic.Uint64{}
	var resp ConsensusClientResponse
	// replicaCount=3 -> ceil(4/2)-1 = 1 ack needed beyond self.
	tr.Add(5, ConsensusRequest{Callback: func(r ConsensusClientResponse) { resp = r }}, 3, hwm)
	require.True(t, tr.Pending(5))

	ok := tr.Ack(5, "peer-a", hwm)
	require.True(t, ok)
	require.False(t, tr.Pending(5))
	require.Equal(t, LogIndexResponse{Index: 5}, resp)
	require.Equal(t, uint64(1), hwm.Load())
}

func TestLogConsensusTrackerIgnoresDuplicateVoter(t *testing.T) {
	tr := NewLogConsensusTracker()
	hwm := &atomic.Uint64{}
	calls := 0
	// replicaCount=5 -> ceil(6/2)-1 = 2 needed.
	tr.Add(1, ConsensusRequest{Callback: func(ConsensusClientResponse) { calls++ }}, 5, hwm)

	require.False(t, tr.Ack(1, "peer-a", hwm))
	require.False(t, tr.Ack(1, "peer-a", hwm), "duplicate vote from the same peer must not count twice")
	require.True(t, tr.Ack(1, "peer-b", hwm))
	require.Equal(t, 1, calls)
}

func TestLogConsensusTrackerUnknownIndexAckIsNoop(t *testing.T) {
	tr := NewLogConsensusTracker()
	hwm := &atomic.Uint64{}
	require.False(t, tr.Ack(99, "peer-a", hwm))
}

func TestCeilDiv(t *testing.T) {
	require.Equal(t, 1, ceilDiv(1, 2))
	require.Equal(t, 2, ceilDiv(3, 2))
	require.Equal(t, 0, ceilDiv(0, 2))
	require.Equal(t, 3, ceilDiv(5, 2))
}
