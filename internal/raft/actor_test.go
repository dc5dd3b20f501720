package raft

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fakeWAL is an in-memory WriteAheadLog stand-in, mirroring the style
// of internal/wal's own tests rather than pulling in the real file-backed WAL.
type fakeWAL struct {
	entries []LogEntry
}

func (f *fakeWAL) Append(entry LogEntry) error {
	f.entries = append(f.entries, entry)
	return nil
}
func (f *fakeWAL) TruncateAfter(index uint64) error {
	kept := f.entries[:0]
	for _, e := range f.entries {
		if e.LogIndex <= index {
			kept = append(kept, e)
		}
	}
	f.entries = kept
	return nil
}
func (f *fakeWAL) ReadAt(index uint64) (*LogEntry, error) {
	for _, e := range f.entries {
		if e.LogIndex == index {
			return &e, nil
		}
	}
	return nil, nil
}
func (f *fakeWAL) ListFrom(watermark uint64) ([]LogEntry, error) {
	var out []LogEntry
	for _, e := range f.entries {
		if e.LogIndex > watermark {
			out = append(out, e)
		}
	}
	return out, nil
}
func (f *fakeWAL) LastIndex() uint64 {
	if len(f.entries) == 0 {
		return 0
	}
	return f.entries[len(f.entries)-1].LogIndex
}
func (f *fakeWAL) LastTerm() uint64 {
	if len(f.entries) == 0 {
		return 0
	}
	return f.entries[len(f.entries)-1].Term
}
func (f *fakeWAL) Reset() error { f.entries = nil; return nil }

// fakeCache is a minimal CacheManager recording applied writes.
type fakeCache struct {
	applied []WriteRequest
}

func (f *fakeCache) ApplyLog(req WriteRequest, index uint64) error {
	f.applied = append(f.applied, req)
	return nil
}
func (f *fakeCache) RouteKeys(scope *string) []string          { return nil }
func (f *fakeCache) RouteMGet(keys []string) []*string         { return nil }
func (f *fakeCache) RouteMSet(entries map[string]string) error { return nil }
func (f *fakeCache) RouteDelete(keys []string) error           { return nil }

// fakeConnector never succeeds; these tests never dial a real peer.
type fakeConnector struct{}

func (fakeConnector) Connect(ctx context.Context, addr string) (*Peer, error) {
	return nil, ErrNotLeader
}

func newTestActor(t *testing.T) (*ClusterActor, *fakeCache) {
	t.Helper()
	handler, ch := NewClusterCommandHandler(16)
	state := NewReplicationState(PeerIdentifier("self:7000"), 7000)
	replLog := NewReplicatedLog(&fakeWAL{})
	cache := &fakeCache{}
	actor := NewClusterActor(ch, handler, state, replLog, cache, nil, fakeConnector{}, time.Second, zerolog.Nop())
	return actor, cache
}

// As a single-node shard group (no replicas gossiped yet), a leader's
// write must commit without waiting on anyone: peersInReplGroup() == 0
// makes LogConsensusTracker.Add fire immediately.
func TestActorSingleNodeLeaderWriteCommitsImmediately(t *testing.T) {
	actor, cache := newTestActor(t)
	term := actor.state.StartElection()
	require.True(t, actor.state.BecomeLeaderIfTerm(term))

	respCh := make(chan ConsensusClientResponse, 1)
	req := ConsensusRequest{
		Request:  WriteRequest{Kind: WriteSet, Key: "k1", Value: "v1"},
		Callback: func(r ConsensusClientResponse) { respCh <- r },
	}
	actor.step(context.Background(), LeaderReqConsensus{Req: req})

	select {
	case resp := <-respCh:
		idxResp, ok := resp.(LogIndexResponse)
		require.True(t, ok, "expected LogIndexResponse, got %T", resp)
		require.Equal(t, uint64(1), idxResp.Index)
	default:
		t.Fatal("expected callback to fire synchronously for a zero-replica commit")
	}
	require.Len(t, cache.applied, 1)
	require.Equal(t, "k1", cache.applied[0].Key)
}

func TestActorNonLeaderRejectsWrite(t *testing.T) {
	actor, _ := newTestActor(t)

	respCh := make(chan ConsensusClientResponse, 1)
	req := ConsensusRequest{
		Request:  WriteRequest{Kind: WriteSet, Key: "k1", Value: "v1"},
		Callback: func(r ConsensusClientResponse) { respCh <- r },
	}
	actor.step(context.Background(), LeaderReqConsensus{Req: req})

	select {
	case resp := <-respCh:
		errResp, ok := resp.(ErrResponse)
		require.True(t, ok, "expected ErrResponse, got %T", resp)
		require.ErrorIs(t, errResp.Err, ErrNotLeader)
	case <-time.After(time.Second):
		t.Fatal("callback never fired")
	}
	require.Empty(t, actor.cache.(*fakeCache).applied)
}

func TestActorDuplicateSessionRequestShortCircuits(t *testing.T) {
	actor, cache := newTestActor(t)
	term := actor.state.StartElection()
	require.True(t, actor.state.BecomeLeaderIfTerm(term))

	sessionReq := &SessionRequest{ClientID: uuid.New(), RequestID: 1}
	first := make(chan ConsensusClientResponse, 1)
	actor.step(context.Background(), LeaderReqConsensus{Req: ConsensusRequest{
		Request:    WriteRequest{Kind: WriteSet, Key: "k1", Value: "v1"},
		SessionReq: sessionReq,
		Callback:   func(r ConsensusClientResponse) { first <- r },
	}})
	<-first
	require.Len(t, cache.applied, 1)

	second := make(chan ConsensusClientResponse, 1)
	actor.step(context.Background(), LeaderReqConsensus{Req: ConsensusRequest{
		Request:    WriteRequest{Kind: WriteSet, Key: "k1", Value: "v2"},
		SessionReq: sessionReq,
		Callback:   func(r ConsensusClientResponse) { second <- r },
	}})

	resp := <-second
	_, ok := resp.(AlreadyProcessedResponse)
	require.True(t, ok, "a repeated request id must not apply the write twice")
	require.Len(t, cache.applied, 1, "the duplicate request must not reach ApplyLog")
}
