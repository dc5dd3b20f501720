package raft

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestClientSessionsIsProcessedUnknownRequest(t *testing.T) {
	cs := NewClientSessions()
	req := &SessionRequest{ClientID: uuid.New(), RequestID: 1}
	_, ok := cs.IsProcessed(req)
	require.False(t, ok)
}

func TestClientSessionsIsProcessedNilIsFalse(t *testing.T) {
	cs := NewClientSessions()
	_, ok := cs.IsProcessed(nil)
	require.False(t, ok)
}

func TestClientSessionsRecordThenIsProcessed(t *testing.T) {
	cs := NewClientSessions()
	client := uuid.New()
	req := &SessionRequest{ClientID: client, RequestID: 7}

	cs.Record(req, 42)
	idx, ok := cs.IsProcessed(req)
	require.True(t, ok)
	require.Equal(t, uint64(42), idx)

	// A different client's identical request id is tracked independently.
	other := &SessionRequest{ClientID: uuid.New(), RequestID: 7}
	_, ok = cs.IsProcessed(other)
	require.False(t, ok)
}

func TestClientSessionsEvictsOldestBeyondCap(t *testing.T) {
	cs := NewClientSessions()
	client := uuid.New()

	for i := uint64(0); i < maxSessionHistory+10; i++ {
		cs.Record(&SessionRequest{ClientID: client, RequestID: i}, i)
	}

	_, ok := cs.IsProcessed(&SessionRequest{ClientID: client, RequestID: 0})
	require.False(t, ok, "oldest request ids are evicted once the per-client cap is exceeded")

	idx, ok := cs.IsProcessed(&SessionRequest{ClientID: client, RequestID: maxSessionHistory + 9})
	require.True(t, ok)
	require.Equal(t, maxSessionHistory+9, int(idx))
}

func TestClientSessionsRecordIsIdempotent(t *testing.T) {
	cs := NewClientSessions()
	client := uuid.New()
	req := &SessionRequest{ClientID: client, RequestID: 1}

	cs.Record(req, 5)
	cs.Record(req, 5) // re-recording the same request id must not grow the eviction order twice

	idx, ok := cs.IsProcessed(req)
	require.True(t, ok)
	require.Equal(t, uint64(5), idx)
}
