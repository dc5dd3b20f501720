package raft

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// HeartBeatScheduler drives timer-triggered cluster events. Leader
// mode fires SendClusterHeartbeat on a fixed ticker; follower mode fires
// RunForElection after a randomized window with no leader heartbeat
// observed. The follower timeout is drawn from [10, 20] heartbeat
// intervals, an order of magnitude above the heartbeat interval so
// elections don't fire spuriously.
type HeartBeatScheduler struct {
	mu                  sync.Mutex
	handler             ClusterCommandHandler
	heartbeatIntervalMs int64
	isLeader            bool
	ticker              *time.Ticker
	timer               *time.Timer
	sweepTicker         *time.Ticker
	quit                chan struct{}
	log                 zerolog.Logger
}

// RunHeartBeatScheduler starts the scheduler goroutine and returns it
// already armed for the given initial role. nodeTimeoutMs <= 0 disables
// the idle-peer sweep entirely (no ticker is started for it).
func RunHeartBeatScheduler(handler ClusterCommandHandler, isLeader bool, heartbeatIntervalMs, nodeTimeoutMs int64, log zerolog.Logger) *HeartBeatScheduler {
	s := &HeartBeatScheduler{
		handler:             handler,
		heartbeatIntervalMs: heartbeatIntervalMs,
		quit:                make(chan struct{}),
		log:                 log,
	}
	if isLeader {
		s.isLeader = true
		s.ticker = time.NewTicker(s.heartbeatInterval())
		s.timer = time.NewTimer(time.Hour)
		s.timer.Stop()
	} else {
		s.isLeader = false
		s.timer = time.NewTimer(s.randomElectionTimeout())
		s.ticker = time.NewTicker(time.Hour)
		s.ticker.Stop()
	}
	// The sweep runs on its own ticker, independent of leader/follower
	// mode: a peer can go idle whether we're leading or following.
	if nodeTimeoutMs > 0 {
		sweepEvery := time.Duration(nodeTimeoutMs) * time.Millisecond / 2
		if sweepEvery <= 0 {
			sweepEvery = time.Millisecond
		}
		s.sweepTicker = time.NewTicker(sweepEvery)
	} else {
		s.sweepTicker = time.NewTicker(time.Hour)
		s.sweepTicker.Stop()
	}
	go s.loop()
	return s
}

func (s *HeartBeatScheduler) heartbeatInterval() time.Duration {
	return time.Duration(s.heartbeatIntervalMs) * time.Millisecond
}

// randomElectionTimeout picks a window an order of magnitude above
// the heartbeat interval, standard Raft practice so a single dropped
// heartbeat never triggers a spurious election.
func (s *HeartBeatScheduler) randomElectionTimeout() time.Duration {
	lo := s.heartbeatIntervalMs * 10
	span := s.heartbeatIntervalMs * 10
	if span <= 0 {
		span = 1
	}
	return time.Duration(lo+rand.Int63n(span+1)) * time.Millisecond
}

func (s *HeartBeatScheduler) loop() {
	for {
		select {
		case <-s.quit:
			s.ticker.Stop()
			s.timer.Stop()
			s.sweepTicker.Stop()
			return
		case <-s.ticker.C:
			if err := s.handler.Send(context.Background(), SendClusterHeartbeat{}); err != nil {
				s.log.Warn().Err(err).Msg("failed to enqueue scheduled heartbeat")
			}
		case <-s.timer.C:
			if err := s.handler.Send(context.Background(), RunForElection{}); err != nil {
				s.log.Warn().Err(err).Msg("failed to enqueue election timeout")
			}
		case <-s.sweepTicker.C:
			if err := s.handler.Send(context.Background(), SweepIdlePeers{}); err != nil {
				s.log.Warn().Err(err).Msg("failed to enqueue idle-peer sweep")
			}
		}
	}
}

// ResetElectionTimeout is called on every valid heartbeat received
// from the current leader.
func (s *HeartBeatScheduler) ResetElectionTimeout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isLeader {
		return
	}
	drainTimer(s.timer)
	s.timer.Reset(s.randomElectionTimeout())
}

// TurnLeaderMode and TurnFollowerMode are idempotent.
func (s *HeartBeatScheduler) TurnLeaderMode() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isLeader {
		return
	}
	s.isLeader = true
	drainTimer(s.timer)
	s.ticker.Reset(s.heartbeatInterval())
}

func (s *HeartBeatScheduler) TurnFollowerMode() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isLeader {
		return
	}
	s.isLeader = false
	s.ticker.Stop()
	drainTimer(s.timer)
	s.timer.Reset(s.randomElectionTimeout())
}

func (s *HeartBeatScheduler) Stop() {
	close(s.quit)
}

func drainTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
