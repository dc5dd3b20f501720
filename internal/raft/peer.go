package raft

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Peer is the actor's view of one connected member: its gossiped
// state, last-seen time, match index, and the handle used to reach
// its outbound I/O task. Exactly one Peer value exists per peer id;
// ClusterActor.handleAddPeer replaces it atomically (old peer killed
// first) on reconnection.
type Peer struct {
	State      PeerState
	LastSeen   time.Time
	MatchIndex uint64
	handle     *PeerHandle
}

func NewPeer(state PeerState, handle *PeerHandle) *Peer {
	return &Peer{State: state, LastSeen: time.Now(), handle: handle}
}

func (p *Peer) Handle() *PeerHandle { return p.handle }

// PeerHandle is the outbound send side and a kill
// signal. All sends are best-effort — a failed/blocked send does not
// fail the actor step; the peer will later be removed by the
// idle-timeout sweep.
type PeerHandle struct {
	ctx    context.Context
	cancel context.CancelFunc
	sendCh chan OutboundMessage
	done   chan struct{}
	once   sync.Once
	log    zerolog.Logger
}

// NewPeerHandle wraps the send channel an outbound I/O task is
// reading from. bufferSize bounds backpressure; a full buffer causes
// Send to drop the message rather than block the actor step.
func NewPeerHandle(parent context.Context, bufferSize int, log zerolog.Logger) *PeerHandle {
	ctx, cancel := context.WithCancel(parent)
	return &PeerHandle{
		ctx:    ctx,
		cancel: cancel,
		sendCh: make(chan OutboundMessage, bufferSize),
		done:   make(chan struct{}),
		log:    log,
	}
}

// Context is consumed by the owning outbound I/O task to know when to
// stop reading SendCh and tear down its connection.
func (p *PeerHandle) Context() context.Context { return p.ctx }

// SendCh is read by the owning outbound I/O task (peerWriteLoop in
// transport.go).
func (p *PeerHandle) SendCh() <-chan OutboundMessage { return p.sendCh }

// Send is best-effort: a full buffer logs and drops rather than
// blocking the actor's single command-processing goroutine.
func (p *PeerHandle) Send(msg OutboundMessage) {
	select {
	case p.sendCh <- msg:
	case <-p.ctx.Done():
	default:
		p.log.Warn().Msg("peer outbound buffer full, dropping message")
	}
}

// MarkDone is called by the owning I/O task once it has observed
// ctx.Done() and finished tearing down, unblocking any Kill() waiter.
func (p *PeerHandle) MarkDone() {
	p.once.Do(func() { close(p.done) })
}

// Kill is idempotent and awaits the I/O task's shutdown signal.
func (p *PeerHandle) Kill() {
	p.cancel()
	<-p.done
}

// sweepIdlePeers evicts any peer that has gone longer than nodeTimeout
// without a gossiped heartbeat or AppendEntries touching its LastSeen
// (see touchLastSeen in gossip.go). A nodeTimeout of zero disables the
// sweep. Eviction always recomputes the ring from the surviving shard
// leaders so a dead leader's partition doesn't linger.
func (a *ClusterActor) sweepIdlePeers() {
	if a.nodeTimeout <= 0 {
		return
	}
	now := time.Now()
	var evicted []*Peer

	a.mu.Lock()
	for id, p := range a.peers {
		if now.Sub(p.LastSeen) <= a.nodeTimeout {
			continue
		}
		evicted = append(evicted, p)
		delete(a.peers, id)
	}
	a.mu.Unlock()

	if len(evicted) == 0 {
		return
	}
	for _, p := range evicted {
		a.log.Warn().Str("peer", string(p.State.ID)).Msg("evicting idle peer")
		if p.handle != nil {
			go p.handle.Kill()
		}
	}
	a.rewriteRingFromShardLeaders()
}

// handleForgetPeer is CLUSTER FORGET: ban the id so a future gossip
// message never re-adds it, kill its handle, drop it from the peer
// table, and recompute the ring in case it was a shard leader.
func (a *ClusterActor) handleForgetPeer(cmd ForgetPeer) {
	a.state.Ban(cmd.ID, timeInSecs())

	a.mu.Lock()
	p, ok := a.peers[cmd.ID]
	delete(a.peers, cmd.ID)
	a.mu.Unlock()

	if ok && p.handle != nil {
		go p.handle.Kill()
	}
	a.rewriteRingFromShardLeaders()
	cmd.Callback(nil)
}
