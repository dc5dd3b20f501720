package raft

import "context"

// pendingMigrationState tracks an in-flight rebalance: while draining
// is true, client writes are queued rather than processed, and
// outstanding tracks in-flight migration batches awaiting an ack.
// Both fields are only ever touched from the actor goroutine.
type pendingMigrationState struct {
	draining    bool
	queued      []ConsensusRequest
	outstanding map[BatchId]PendingMigrationBatch
}

func newPendingMigrationState() *pendingMigrationState {
	return &pendingMigrationState{outstanding: make(map[BatchId]PendingMigrationBatch)}
}

func (p *pendingMigrationState) queue(req ConsensusRequest) {
	p.queued = append(p.queued, req)
}

// shardLeaders recomputes the authoritative partition list from every
// shard group currently known to be gossiping a live leader: ourselves
// (if we're leading our own group) plus any peer whose last-gossiped
// PeerState reports RoleLeader. This is the single source of truth a
// ring recompute is built from — never a locally patched-in partition
// for just the newly met peer.
func (a *ClusterActor) shardLeaders() []PartitionEntry {
	seen := make(map[ReplicationId]PartitionEntry)
	if a.state.IsLeader() && a.state.ReplID != Undecided {
		seen[a.state.ReplID] = PartitionEntry{ReplID: a.state.ReplID, Leader: a.state.SelfID}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range a.peers {
		if p.State.Role != RoleLeader || p.State.ReplID == Undecided {
			continue
		}
		seen[p.State.ReplID] = PartitionEntry{ReplID: p.State.ReplID, Leader: p.State.ID}
	}

	out := make([]PartitionEntry, 0, len(seen))
	for _, e := range seen {
		out = append(out, e)
	}
	return out
}

// rewriteRingFromShardLeaders recomputes the candidate ring from
// shardLeaders and installs it through the same maybeUpdateHashring
// path a gossiped ring update takes, so a local reconfiguration drains
// writes and schedules migration batches exactly like a remote one.
func (a *ClusterActor) rewriteRingFromShardLeaders() {
	candidate := NewHashRing(a.ring.VirtualNodes)
	candidate.SetPartitions(a.shardLeaders(), a.ring.ModifiedAt()+1)
	a.maybeUpdateHashring(candidate)
}

// handleRebalanceRequest is the Eager CLUSTER MEET path: the
// newly met peer is now known to us, so recompute the ring from the
// full current set of shard leaders (not just the one peer we dialed)
// and notify every other known peer that a rebalance is starting so
// they recompute too.
func (a *ClusterActor) handleRebalanceRequest(cmd RebalanceRequest) {
	a.mu.Lock()
	_, ok := a.peers[cmd.Target]
	a.mu.Unlock()
	if !ok {
		a.log.Warn().Str("peer", string(cmd.Target)).Msg("rebalance requested for unknown peer")
		return
	}

	a.rewriteRingFromShardLeaders()
	a.broadcastStartRebalance()
}

// broadcastStartRebalance fans OutboundStartRebalance out to every
// known peer, telling each one to recompute its own ring from its own
// view of shard_leaders rather than trusting the initiator's snapshot.
func (a *ClusterActor) broadcastStartRebalance() {
	self := a.state.SelfID
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range a.peers {
		if p.handle == nil {
			continue
		}
		p.handle.Send(OutboundStartRebalance{From: self})
	}
}

// handleStartRebalance is the receiving side of a peer-initiated
// rebalance: recompute the ring from our own view of shard_leaders and
// let maybeUpdateHashring block writes and schedule migration batches
// for whatever local keys now belong elsewhere.
func (a *ClusterActor) handleStartRebalance(cmd StartRebalanceCmd) {
	a.log.Info().Str("initiator", string(cmd.From)).Msg("peer started a rebalance")
	a.rewriteRingFromShardLeaders()
}

// handleReshard is CLUSTER RESHARD: the only client-triggered entry
// point into rebalancing. Leader-only, same as CLUSTER MEET.
func (a *ClusterActor) handleReshard(cmd Reshard) {
	if !a.state.IsLeader() {
		cmd.Callback(ErrNotLeader)
		return
	}
	a.rewriteRingFromShardLeaders()
	a.broadcastStartRebalance()
	cmd.Callback(nil)
}

// maybeUpdateHashring installs candidate if it's newer than our
// current ring, computes which local keys now belong elsewhere, and
// — if any do — starts draining client writes until every resulting
// migration batch has been acked.
func (a *ClusterActor) maybeUpdateHashring(candidate *HashRing) {
	oldRing := NewHashRing(a.ring.VirtualNodes)
	oldRing.SetPartitions(a.ring.Snapshot(), a.ring.ModifiedAt())

	_, changed := a.ring.SetPartitions(candidate.Snapshot(), candidate.ModifiedAt())
	if !changed {
		return
	}

	localKeys := a.cache.RouteKeys(nil)
	tasksByTarget := oldRing.CreateMigrationTasks(a.ring, localKeys)
	if len(tasksByTarget) == 0 {
		return
	}

	a.migration.draining = true
	for replid, tasks := range tasksByTarget {
		for _, batch := range splitIntoBatches(replid, tasks) {
			a.handleScheduleMigrationBatch(ScheduleMigrationBatch{Batch: batch})
		}
	}
}

func (a *ClusterActor) leaderForReplID(replid ReplicationId) PeerIdentifier {
	for _, e := range a.ring.Snapshot() {
		if e.ReplID == replid {
			return e.Leader
		}
	}
	return ""
}

// handleScheduleMigrationBatch resolves the batch's keys to values,
// records it as outstanding, and hands it to the target shard
// group's leader.
func (a *ClusterActor) handleScheduleMigrationBatch(cmd ScheduleMigrationBatch) {
	batch := cmd.Batch
	var keys []string
	for _, t := range batch.Tasks {
		keys = append(keys, t.KeysToMigrate...)
	}
	vals := a.cache.RouteMGet(keys)
	entries := make(map[string]string, len(keys))
	for i, k := range keys {
		if i < len(vals) && vals[i] != nil {
			entries[k] = *vals[i]
		}
	}

	target := a.leaderForReplID(batch.TargetRepl)
	a.mu.Lock()
	peer, ok := a.peers[target]
	a.mu.Unlock()
	if target == "" || !ok || peer.handle == nil {
		a.log.Error().Str("target", string(batch.TargetRepl)).Msg("no reachable leader for migration target, keys retained locally")
		return
	}

	a.migration.outstanding[batch.ID] = PendingMigrationBatch{Keys: keys}
	peer.handle.Send(OutboundMigrateBatch{Batch: batch, Entries: entries})
}

// handleMigrateBatchCmd re-dispatches a batch that hasn't yet been
// acked, used to retry after a peer reconnects.
func (a *ClusterActor) handleMigrateBatchCmd(cmd MigrateBatchCmd) {
	a.handleScheduleMigrationBatch(ScheduleMigrationBatch{Batch: cmd.Batch})
}

// handleReceiveBatch is the target shard group's side: the migrated
// entries go through ordinary consensus (so they get replicated to
// this group's own followers) before the source is told it's safe to
// delete its copies.
func (a *ClusterActor) handleReceiveBatch(cmd ReceiveBatchCmd) {
	req := WriteRequest{Kind: WriteMSet, Entries: cmd.Entries}
	term := a.state.CurrentTerm()
	idx, err := a.replLog.WriteSingleEntry(req, term, nil)
	if err != nil {
		a.sendBatchAck(cmd.From, cmd.Batch.ID, false, err)
		return
	}

	from := cmd.From
	batchID := cmd.Batch.ID
	cache := a.cache
	writeReq := req
	callback := func(resp ConsensusClientResponse) {
		switch r := resp.(type) {
		case LogIndexResponse:
			if err := cache.ApplyLog(writeReq, r.Index); err != nil {
				a.sendBatchAck(from, batchID, false, err)
				return
			}
			a.sendBatchAck(from, batchID, true, nil)
		case ErrResponse:
			a.sendBatchAck(from, batchID, false, r.Err)
		}
	}
	a.consensus.Add(idx, ConsensusRequest{Request: req, Callback: callback}, a.peersInReplGroup(), a.state.HWM)
	a.replicateEntryToPeers(idx, term)
}

// handleMigrationBatchAck is the source side: on success the locally
// held copies are deleted; on failure they're retained and the batch
// is simply dropped from the outstanding set (a future ring update
// will recompute ownership and retry).
func (a *ClusterActor) handleMigrationBatchAck(ack MigrationBatchAckMsg) {
	pending, ok := a.migration.outstanding[ack.BatchID]
	if !ok {
		return
	}
	delete(a.migration.outstanding, ack.BatchID)

	if ack.Success {
		if err := a.cache.RouteDelete(pending.Keys); err != nil {
			a.log.Error().Err(err).Msg("failed to delete migrated keys locally")
		}
	} else {
		a.log.Warn().Err(ack.Err).Msg("migration batch rejected by target, keys retained locally")
	}
	if pending.Callback != nil {
		pending.Callback(ack.Err)
	}
	a.tryUnblockWriteReqs()
}

func (a *ClusterActor) sendBatchAck(to PeerIdentifier, batchID BatchId, success bool, err error) {
	a.mu.Lock()
	peer, ok := a.peers[to]
	a.mu.Unlock()
	if !ok || peer.handle == nil {
		return
	}
	peer.handle.Send(OutboundMigrationBatchAck{Ack: MigrationBatchAckMsg{
		BatchID: batchID,
		From:    a.state.SelfID,
		Success: success,
		Err:     err,
	}})
}

func (a *ClusterActor) handleSendBatchAck(cmd SendBatchAckCmd) {
	a.sendBatchAck(cmd.To, cmd.BatchID, cmd.Success, cmd.Err)
}

// tryUnblockWriteReqs runs after every migration batch ack (and on a
// TryUnblockWriteReqs command) and does nothing while any batch is
// still outstanding. Once none is, the ring is
// rewritten from the current shard leaders one last time (picking up
// any leadership change that happened mid-migration) before writes
// resume, and queued requests are re-enqueued onto the actor's own
// command queue rather than replayed in-process, so they pass back
// through handleLeaderReqConsensus's draining gate like any other
// client write.
func (a *ClusterActor) tryUnblockWriteReqs() {
	if len(a.migration.outstanding) > 0 {
		return
	}
	a.ring.SetPartitions(a.shardLeaders(), a.ring.ModifiedAt()+1)

	a.migration.draining = false
	queued := a.migration.queued
	a.migration.queued = nil
	for _, req := range queued {
		if err := a.handler.Send(context.Background(), LeaderReqConsensus{Req: req}); err != nil {
			a.log.Warn().Err(err).Msg("failed to re-enqueue queued write after unblock")
		}
	}
}
