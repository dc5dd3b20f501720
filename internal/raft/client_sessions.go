package raft

import (
	"sync"

	"github.com/google/uuid"
)

// maxSessionHistory caps how many request ids are retained per
// client, evicting oldest-first, recovered from
// original_source/duva's ClientSessions.
const maxSessionHistory = 1000

type clientSessionLog struct {
	order []uint64
	seen  map[uint64]uint64 // requestID -> committed log index
}

// ClientSessions is the per-client at-most-once dedupe table used by
// LeaderReqConsensus and by follower replication (so a later election
// doesn't double-apply a write whose session was already recorded).
type ClientSessions struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*clientSessionLog
}

func NewClientSessions() *ClientSessions {
	return &ClientSessions{sessions: make(map[uuid.UUID]*clientSessionLog)}
}

// IsProcessed reports whether sessionReq has already been committed,
// and if so at which index.
func (c *ClientSessions) IsProcessed(sessionReq *SessionRequest) (uint64, bool) {
	if sessionReq == nil {
		return 0, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	log, ok := c.sessions[sessionReq.ClientID]
	if !ok {
		return 0, false
	}
	idx, ok := log.seen[sessionReq.RequestID]
	return idx, ok
}

// Record marks sessionReq as committed at index, evicting the oldest
// retained request id for that client if the cap is exceeded.
func (c *ClientSessions) Record(sessionReq *SessionRequest, index uint64) {
	if sessionReq == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	log, ok := c.sessions[sessionReq.ClientID]
	if !ok {
		log = &clientSessionLog{seen: make(map[uint64]uint64)}
		c.sessions[sessionReq.ClientID] = log
	}
	if _, exists := log.seen[sessionReq.RequestID]; !exists {
		log.order = append(log.order, sessionReq.RequestID)
		if len(log.order) > maxSessionHistory {
			oldest := log.order[0]
			log.order = log.order[1:]
			delete(log.seen, oldest)
		}
	}
	log.seen[sessionReq.RequestID] = index
}
