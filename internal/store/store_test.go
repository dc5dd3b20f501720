package store

import (
	"os"
	"testing"
	"time"

	"github.com/mathdee/KV-Store/internal/raft"
	"github.com/mathdee/KV-Store/internal/wal"
	"github.com/stretchr/testify/require"
)

func newTestWAL(t *testing.T, path string) *wal.WAL {
	t.Helper()
	os.Remove(path)
	t.Cleanup(func() { os.Remove(path) })
	w, err := wal.NewWAL(path)
	require.NoError(t, err)
	return w
}

func TestStoreSetGetAcrossRestart(t *testing.T) {
	path := "test_wal_restart.log"
	w := newTestWAL(t, path)
	s := NewStore(w)

	require.NoError(t, s.ApplyLog(raft.WriteRequest{Kind: raft.WriteSet, Key: "user", Value: "Mathijs"}, 1))
	require.NoError(t, w.Append(raft.LogEntry{LogIndex: 1, Term: 1, Request: raft.WriteRequest{Kind: raft.WriteSet, Key: "user", Value: "Mathijs"}}))
	require.NoError(t, w.Close())

	w2, err := wal.NewWAL(path)
	require.NoError(t, err)
	t.Cleanup(func() { w2.Close() })

	s2 := NewStore(w2)
	require.NoError(t, s2.Warm())

	val, err := s2.Get("user")
	require.NoError(t, err)
	require.Equal(t, "Mathijs", val)
}

func TestStoreGetMissingKey(t *testing.T) {
	s := NewStore(newTestWAL(t, "test_wal_missing.log"))
	_, err := s.Get("missing")
	require.ErrorIs(t, err, ErrorNotFound)
}

func TestStoreApplyLogWriteKinds(t *testing.T) {
	s := NewStore(newTestWAL(t, "test_wal_kinds.log"))

	require.NoError(t, s.ApplyLog(raft.WriteRequest{Kind: raft.WriteSet, Key: "k", Value: "a"}, 1))
	require.NoError(t, s.ApplyLog(raft.WriteRequest{Kind: raft.WriteAppend, Key: "k", Value: "b"}, 2))
	val, err := s.Get("k")
	require.NoError(t, err)
	require.Equal(t, "ab", val)

	require.NoError(t, s.ApplyLog(raft.WriteRequest{Kind: raft.WriteSet, Key: "n", Value: "10"}, 3))
	require.NoError(t, s.ApplyLog(raft.WriteRequest{Kind: raft.WriteIncr, Key: "n", Delta: 5}, 4))
	val, err = s.Get("n")
	require.NoError(t, err)
	require.Equal(t, "15", val)

	require.NoError(t, s.ApplyLog(raft.WriteRequest{Kind: raft.WriteDecr, Key: "n", Delta: 20}, 5))
	val, err = s.Get("n")
	require.NoError(t, err)
	require.Equal(t, "-5", val)

	require.NoError(t, s.ApplyLog(raft.WriteRequest{Kind: raft.WriteDelete, Keys: []string{"k"}}, 6))
	_, err = s.Get("k")
	require.ErrorIs(t, err, ErrorNotFound)
}

func TestStoreTTLExpiry(t *testing.T) {
	s := NewStore(newTestWAL(t, "test_wal_ttl.log"))
	ttl := 10 * time.Millisecond
	require.NoError(t, s.ApplyLog(raft.WriteRequest{Kind: raft.WriteSet, Key: "ephemeral", Value: "x", TTL: &ttl}, 1))

	val, err := s.Get("ephemeral")
	require.NoError(t, err)
	require.Equal(t, "x", val)

	time.Sleep(20 * time.Millisecond)
	_, err = s.Get("ephemeral")
	require.ErrorIs(t, err, ErrorNotFound)
}

func TestStoreRouteMGetAndMSet(t *testing.T) {
	s := NewStore(newTestWAL(t, "test_wal_route.log"))
	require.NoError(t, s.RouteMSet(map[string]string{"a": "1", "b": "2"}))

	got := s.RouteMGet([]string{"a", "b", "missing"})
	require.Len(t, got, 3)
	require.Equal(t, "1", *got[0])
	require.Equal(t, "2", *got[1])
	require.Nil(t, got[2])

	keys := s.RouteKeys(nil)
	require.ElementsMatch(t, []string{"a", "b"}, keys)

	require.NoError(t, s.RouteDelete([]string{"a"}))
	require.ElementsMatch(t, []string{"b"}, s.RouteKeys(nil))
}
