package raft

// replicateEntryToPeers fans a freshly-appended entry out to every
// peer in our own shard group. PrevLogIndex/Term let the follower
// detect a gap or a term mismatch before appending.
func (a *ClusterActor) replicateEntryToPeers(idx, term uint64) {
	entry, err := a.replLog.ReadAt(idx)
	if err != nil || entry == nil {
		a.log.Error().Uint64("index", idx).Err(err).Msg("replicate: cannot read own just-written entry")
		return
	}
	var prevTerm uint64
	if idx > 1 {
		if prev, err := a.replLog.ReadAt(idx - 1); err == nil && prev != nil {
			prevTerm = prev.Term
		}
	}
	hb := a.state.DefaultHeartbeat(0, idx, term)
	hb.PrevLogIndex = idx - 1
	hb.PrevLogTerm = prevTerm
	hb.AppendEntries = []LogEntry{*entry}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range a.peers {
		if p.State.ReplID != a.state.ReplID || p.handle == nil {
			continue
		}
		p.handle.Send(OutboundAppendEntries{HB: hb})
	}
}

// handleAppendEntries is the follower side of replication. A higher
// term always wins (we step down); a lower term is rejected outright;
// a prev-log mismatch truncates our tail and rejects so the leader
// retries at an earlier index.
func (a *ClusterActor) handleAppendEntries(cmd AppendEntriesRPC) {
	hb := cmd.HB
	if hb.Term < a.state.CurrentTerm() {
		cmd.RespondTo(ReplicationAckMsg{From: a.state.SelfID, Term: a.state.CurrentTerm(), Granted: false, Reason: RejectionHigherTerm})
		return
	}
	a.state.BumpTerm(hb.Term)
	if a.state.IsLeader() {
		cmd.RespondTo(ReplicationAckMsg{From: a.state.SelfID, Term: a.state.CurrentTerm(), Granted: false, Reason: RejectionHigherTerm})
		return
	}
	a.touchLastSeen(hb.From)
	if a.scheduler != nil {
		a.scheduler.TurnFollowerMode()
		a.scheduler.ResetElectionTimeout()
	}

	if hb.PrevLogIndex > 0 {
		prev, err := a.replLog.ReadAt(hb.PrevLogIndex)
		if err != nil || prev == nil || prev.Term != hb.PrevLogTerm {
			if err := a.replLog.TruncateAfter(hb.PrevLogIndex - 1); err != nil {
				a.log.Error().Err(err).Msg("failed to truncate divergent log tail")
			}
			cmd.RespondTo(ReplicationAckMsg{From: a.state.SelfID, Term: a.state.CurrentTerm(), Granted: false, Reason: RejectionLogInconsistency})
			return
		}
	}

	lastIdx, err := a.replLog.FollowerWriteEntries(hb.AppendEntries)
	if err != nil {
		cmd.RespondTo(ReplicationAckMsg{From: a.state.SelfID, Term: a.state.CurrentTerm(), Granted: false, Reason: RejectionFailToWrite})
		return
	}

	a.applyUpToWatermark(hb.HWM, lastIdx)
	cmd.RespondTo(ReplicationAckMsg{From: a.state.SelfID, Term: a.state.CurrentTerm(), MatchIndex: lastIdx, Granted: true})
}

// applyUpToWatermark applies any committed-but-unapplied entries to
// the cache, bounded by both the leader's reported hwm and our own
// last log index (we can't apply what we haven't written yet).
func (a *ClusterActor) applyUpToWatermark(leaderHWM, lastLogIndex uint64) {
	target := leaderHWM
	if lastLogIndex < target {
		target = lastLogIndex
	}
	for a.appliedIndex < target {
		next := a.appliedIndex + 1
		entry, err := a.replLog.ReadAt(next)
		if err != nil || entry == nil {
			a.log.Error().Uint64("index", next).Msg("cannot apply: entry missing from log")
			return
		}
		if err := a.cache.ApplyLog(entry.Request, entry.LogIndex); err != nil {
			a.log.Error().Err(err).Uint64("index", next).Msg("apply failed")
			return
		}
		a.sessions.Record(entry.SessionReq, entry.LogIndex)
		a.appliedIndex = next
		a.state.HWM.Store(a.appliedIndex)
	}
}

// handleReplicationAck is the leader side: a higher-term rejection
// demotes us; otherwise the vote is fed to the consensus tracker,
// which fires the client callback (and bumps hwm) once a majority of
// the shard group has acked.
func (a *ClusterActor) handleReplicationAck(ack ReplicationAckMsg) {
	if ack.Term > a.state.CurrentTerm() {
		a.state.BumpTerm(ack.Term)
		a.state.StepDown()
		if a.scheduler != nil {
			a.scheduler.TurnFollowerMode()
		}
		return
	}
	if !ack.Granted {
		return
	}
	a.mu.Lock()
	if p, ok := a.peers[ack.From]; ok && ack.MatchIndex > p.MatchIndex {
		p.MatchIndex = ack.MatchIndex
	}
	a.mu.Unlock()
	a.consensus.Ack(ack.MatchIndex, ack.From, a.state.HWM)
}
