package raft

// handleRequestVote implements the standard Raft vote rule: reject a
// stale term outright; grant only if the candidate's log is at least
// as up to date as ours, recording the vote either by stepping up to
// the candidate's higher term or, within the same term, by the normal
// "haven't voted yet or already voted for this candidate" check.
func (a *ClusterActor) handleRequestVote(cmd RequestVoteCmd) {
	rv := cmd.RV
	ourTerm := a.state.CurrentTerm()
	if rv.Term < ourTerm {
		cmd.RespondTo(ElectionVoteMsg{From: a.state.SelfID, Term: ourTerm, Granted: false})
		return
	}

	ourLastIdx := a.replLog.LastLogIndex()
	ourLastTerm := a.replLog.LastLogTerm()
	logUpToDate := rv.LastLogTerm > ourLastTerm ||
		(rv.LastLogTerm == ourLastTerm && rv.LastLogIndex >= ourLastIdx)

	var granted bool
	if rv.Term > ourTerm {
		if logUpToDate {
			granted = a.state.BecomeFollowerIfTermHigherAndVotable(rv.From, rv.Term)
		} else {
			a.state.BumpTerm(rv.Term)
		}
	} else if logUpToDate {
		granted = a.state.GrantVoteSameTerm(rv.From)
	}

	if granted && a.scheduler != nil {
		a.scheduler.ResetElectionTimeout()
	}
	cmd.RespondTo(ElectionVoteMsg{From: a.state.SelfID, Term: a.state.CurrentTerm(), Granted: granted})
}

// runForElection fires on an election timeout with no leader
// heartbeat observed: bump to a new term, vote for self, and solicit
// votes from the rest of the shard group. A shard group of one (no
// peers) wins immediately.
func (a *ClusterActor) runForElection() {
	term := a.state.StartElection()
	a.electionTerm = term
	a.electionVotes = map[PeerIdentifier]struct{}{a.state.SelfID: {}}

	peerCount := 0
	rv := RequestVoteMsg{From: a.state.SelfID, Term: term, LastLogIndex: a.replLog.LastLogIndex(), LastLogTerm: a.replLog.LastLogTerm()}
	a.mu.Lock()
	for _, p := range a.peers {
		if p.State.ReplID != a.state.ReplID || p.handle == nil {
			continue
		}
		peerCount++
		p.handle.Send(OutboundRequestVote{RV: rv})
	}
	a.mu.Unlock()

	if peerCount == 0 {
		a.becomeLeaderForTerm(term)
	}
}

// handleElectionVote tallies a vote against the in-flight campaign.
// Votes for a stale term (ours has since moved on, or this isn't the
// election we're currently running) are ignored.
func (a *ClusterActor) handleElectionVote(vote ElectionVoteMsg) {
	if vote.Term > a.state.CurrentTerm() {
		a.state.BumpTerm(vote.Term)
		a.state.StepDown()
		return
	}
	if vote.Term != a.electionTerm || !vote.Granted {
		return
	}
	if a.electionVotes == nil {
		a.electionVotes = make(map[PeerIdentifier]struct{})
	}
	a.electionVotes[vote.From] = struct{}{}

	majority := ceilDiv(a.peersInReplGroup()+1, 2)
	if len(a.electionVotes) >= majority {
		a.becomeLeaderForTerm(vote.Term)
	}
}

// becomeLeaderForTerm is idempotent: BecomeLeaderIfTerm no-ops if a
// concurrent heartbeat from a competing leader already demoted us or
// the term has otherwise moved on.
func (a *ClusterActor) becomeLeaderForTerm(term uint64) {
	if !a.state.BecomeLeaderIfTerm(term) {
		return
	}
	if a.scheduler != nil {
		a.scheduler.TurnLeaderMode()
	}
	a.broadcastHeartbeat()
}
