package wal

import (
	"os"
	"testing"

	"github.com/mathdee/KV-Store/internal/raft"
	"github.com/stretchr/testify/require"
)

func newTestWAL(t *testing.T, path string) *WAL {
	t.Helper()
	os.Remove(path)
	t.Cleanup(func() { os.Remove(path) })
	w, err := NewWAL(path)
	require.NoError(t, err)
	return w
}

func TestAppendAndReadAt(t *testing.T) {
	w := newTestWAL(t, "wal_append.log")
	defer w.Close()

	entry := raft.LogEntry{LogIndex: 1, Term: 1, Request: raft.WriteRequest{Kind: raft.WriteSet, Key: "k", Value: "v"}}
	require.NoError(t, w.Append(entry))

	got, err := w.ReadAt(1)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "k", got.Request.Key)
	require.Equal(t, uint64(1), w.LastIndex())
	require.Equal(t, uint64(1), w.LastTerm())
}

func TestRecoverAcrossRestart(t *testing.T) {
	path := "wal_restart.log"
	w := newTestWAL(t, path)

	require.NoError(t, w.Append(raft.LogEntry{LogIndex: 1, Term: 1, Request: raft.WriteRequest{Kind: raft.WriteSet, Key: "a", Value: "1"}}))
	require.NoError(t, w.Append(raft.LogEntry{LogIndex: 2, Term: 1, Request: raft.WriteRequest{Kind: raft.WriteSet, Key: "b", Value: "2"}}))
	require.NoError(t, w.Close())

	w2, err := NewWAL(path)
	require.NoError(t, err)
	defer w2.Close()

	require.Equal(t, uint64(2), w2.LastIndex())
	entries, err := w2.ListFrom(0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestTruncateAfter(t *testing.T) {
	w := newTestWAL(t, "wal_truncate.log")
	defer w.Close()

	for i := uint64(1); i <= 5; i++ {
		require.NoError(t, w.Append(raft.LogEntry{LogIndex: i, Term: 1, Request: raft.WriteRequest{Kind: raft.WriteSet, Key: "k", Value: "v"}}))
	}
	require.NoError(t, w.TruncateAfter(3))
	require.Equal(t, uint64(3), w.LastIndex())

	entries, err := w.ListFrom(0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
}

func TestReset(t *testing.T) {
	w := newTestWAL(t, "wal_reset.log")
	defer w.Close()

	require.NoError(t, w.Append(raft.LogEntry{LogIndex: 1, Term: 1, Request: raft.WriteRequest{Kind: raft.WriteSet, Key: "k", Value: "v"}}))
	require.NoError(t, w.Reset())
	require.Equal(t, uint64(0), w.LastIndex())
}
