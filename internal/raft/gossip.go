package raft

import (
	"context"
	"time"
)

// gossipFanout bounds how many peers a forwarded heartbeat is
// re-sent to; hopCount uses the same constant to compute how many
// hops a gossip message needs to reach every member of an n-node
// cluster.
const gossipFanout = 3

// hopCount is the supplemented gossip TTL helper recovered from
// original_source/duva: 0 when n <= fanout (every member is reached
// directly), otherwise floor(log_fanout(n)). A cluster of 1 or a
// fanout <= 1 needs no forwarding at all.
func hopCount(fanout, n int) int {
	if n <= 1 || fanout <= 1 || n <= fanout {
		return 0
	}
	hops := 0
	for m := n; m >= fanout; m /= fanout {
		hops++
	}
	return hops
}

// broadcastHeartbeat is the leader's (or any node's) periodic gossip
// tick: send our view of the world to every known peer, and, for
// peers in our own shard group, an empty keepalive AppendEntries so
// their election timers keep resetting even with no pending writes.
func (a *ClusterActor) broadcastHeartbeat() {
	lastIdx := a.replLog.LastLogIndex()
	lastTerm := a.replLog.LastLogTerm()
	hb := a.state.DefaultHeartbeat(hopCount(gossipFanout, len(a.peers)+1), lastIdx, lastTerm)
	hb.Ring = a.ring

	a.mu.Lock()
	peers := make([]*Peer, 0, len(a.peers))
	for _, p := range a.peers {
		peers = append(peers, p)
	}
	a.mu.Unlock()

	for _, p := range peers {
		if p.handle == nil {
			continue
		}
		p.handle.Send(OutboundHeartBeat{HB: hb})
		if p.State.ReplID == a.state.ReplID && a.state.IsLeader() {
			keepalive := hb
			keepalive.PrevLogIndex = lastIdx
			keepalive.PrevLogTerm = lastTerm
			keepalive.AppendEntries = nil
			p.handle.Send(OutboundAppendEntries{HB: keepalive})
		}
	}
}

// handleClusterHeartbeat merges an incoming gossip message: term,
// ban list, peer roster, and hash ring all get folded into local
// state, new members get dialed, and the message is forwarded one
// more hop if it has hops left.
func (a *ClusterActor) handleClusterHeartbeat(hb HeartBeat) {
	if a.state.InBanList(hb.From) {
		return
	}
	a.touchLastSeen(hb.From)
	a.state.BumpTerm(hb.Term)
	a.mergeBanList(hb.BanList)
	a.mergePeerStates(hb.ClusterNodes)
	if hb.Ring != nil {
		a.maybeUpdateHashring(hb.Ring)
	}
	a.maybeConnectToNewMembers(hb.ClusterNodes)
	// Election-timeout resets happen only on AppendEntriesRPC (see
	// replication.go): gossip heartbeats travel cluster-wide and
	// shouldn't mask the failure of this node's own shard leader.
	if hb.Hop > 0 {
		a.forwardGossip(hb)
	}
}

// touchLastSeen stamps the peer matching id as alive just now; the
// idle-peer sweep (peer.go) compares against this to find members that
// have stopped gossiping entirely.
func (a *ClusterActor) touchLastSeen(id PeerIdentifier) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.peers[id]; ok {
		p.LastSeen = time.Now()
	}
}

func (a *ClusterActor) mergeBanList(entries []BannedPeer) {
	for _, e := range entries {
		a.state.Ban(e.PeerID, e.BanTimeSecs)
	}
	a.state.PruneBanList(timeInSecs())
}

func (a *ClusterActor) mergePeerStates(nodes []PeerState) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, n := range nodes {
		if n.ID == a.state.SelfID {
			continue
		}
		if p, ok := a.peers[n.ID]; ok {
			p.State = n
		}
	}
}

// maybeConnectToNewMembers dials any node mentioned in a gossip
// message that we don't already know and haven't banned. Only the
// lexicographically smaller id initiates the dial, so two nodes
// learning about each other simultaneously don't both connect.
func (a *ClusterActor) maybeConnectToNewMembers(nodes []PeerState) {
	for _, n := range nodes {
		if n.ID == a.state.SelfID {
			continue
		}
		a.mu.Lock()
		_, known := a.peers[n.ID]
		a.mu.Unlock()
		if known || a.state.InBanList(n.ID) || !a.state.SelfID.Less(n.ID) {
			continue
		}
		a.connectToPeer(n.ID)
	}
}

// connectToPeer dials out-of-line and requeues the resulting Peer as
// an AddPeer command, since dialing can block far longer than a
// single actor step should.
func (a *ClusterActor) connectToPeer(id PeerIdentifier) {
	handler := a.handler
	connector := a.connector
	log := a.log
	go func() {
		peer, err := connector.Connect(context.Background(), string(id))
		if err != nil {
			log.Warn().Str("peer", string(id)).Err(err).Msg("gossip-triggered connect failed")
			return
		}
		if err := handler.Send(context.Background(), AddPeer{Peer: peer}); err != nil {
			log.Warn().Str("peer", string(id)).Err(err).Msg("failed to enqueue newly connected peer")
		}
	}()
}

// forwardGossip re-sends a decremented-hop copy of an incoming
// heartbeat to our own peers, excluding whoever it came from, so
// gossip reaches the whole cluster in hopCount(fanout, n) steps
// without every node broadcasting to everyone directly.
func (a *ClusterActor) forwardGossip(hb HeartBeat) {
	next := hb
	next.Hop = hb.Hop - 1

	a.mu.Lock()
	defer a.mu.Unlock()
	sent := 0
	for id, p := range a.peers {
		if sent >= gossipFanout {
			break
		}
		if id == hb.From || p.handle == nil {
			continue
		}
		p.handle.Send(OutboundHeartBeat{HB: next})
		sent++
	}
}
