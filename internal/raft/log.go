package raft

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// WriteKind enumerates the client write operations that require
// consensus: only SET, SET PX, APPEND, DEL, INCR*, and DECR* go
// through the replicated log.
type WriteKind int

const (
	WriteSet WriteKind = iota
	WriteAppend
	WriteDelete
	WriteIncr
	WriteDecr
	WriteMSet // internal-only: used by migration's ReceiveBatch
)

// WriteRequest is the command a client (or an internal migration
// step) wants replicated.
type WriteRequest struct {
	Kind WriteKind

	Key   string
	Value string
	Delta int64
	TTL   *time.Duration

	Keys    []string          // DEL
	Entries map[string]string // MSET (migration only)
}

// AffectedKeys returns the keys a write touches, used for routing and
// for the consensus-tracker/session bookkeeping.
func (w WriteRequest) AffectedKeys() []string {
	switch w.Kind {
	case WriteMSet:
		keys := make([]string, 0, len(w.Entries))
		for k := range w.Entries {
			keys = append(keys, k)
		}
		return keys
	case WriteDelete:
		return w.Keys
	default:
		return []string{w.Key}
	}
}

// SessionRequest is the client-provided idempotency token. Its shape
// is recovered from original_source/duva's ClientSessions key.
type SessionRequest struct {
	ClientID  uuid.UUID
	RequestID uint64
}

// LogEntry is one WAL record. Indices are dense from 1.
type LogEntry struct {
	LogIndex   uint64
	Term       uint64
	Request    WriteRequest
	SessionReq *SessionRequest
}

// WriteAheadLog is the out-of-scope storage collaborator: append,
// truncate-after, read-at, list-from-watermark, and last index/term.
type WriteAheadLog interface {
	Append(entry LogEntry) error
	TruncateAfter(index uint64) error
	ReadAt(index uint64) (*LogEntry, error)
	ListFrom(watermark uint64) ([]LogEntry, error)
	LastIndex() uint64
	LastTerm() uint64
	Reset() error
}

// ReplicatedLog is a thin facade over WriteAheadLog
// that tracks LastLogIndex/LastLogTerm so the actor never has to ask
// the WAL twice in the same step.
type ReplicatedLog struct {
	mu           sync.Mutex
	wal          WriteAheadLog
	lastLogIndex uint64
	lastLogTerm  uint64
}

func NewReplicatedLog(wal WriteAheadLog) *ReplicatedLog {
	return &ReplicatedLog{
		wal:          wal,
		lastLogIndex: wal.LastIndex(),
		lastLogTerm:  wal.LastTerm(),
	}
}

// WriteSingleEntry appends at lastLogIndex+1 with the given term;
// fails if the WAL rejects the write (FailToWrite).
func (l *ReplicatedLog) WriteSingleEntry(req WriteRequest, term uint64, sessionReq *SessionRequest) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx := l.lastLogIndex + 1
	entry := LogEntry{LogIndex: idx, Term: term, Request: req, SessionReq: sessionReq}
	if err := l.wal.Append(entry); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrFailToWrite, err)
	}
	l.lastLogIndex = idx
	l.lastLogTerm = term
	return idx, nil
}

// FollowerWriteEntries appends a contiguous batch of entries, skipping
// any whose LogIndex is at or before lastLogIndex. Returns the new
// last index.
func (l *ReplicatedLog) FollowerWriteEntries(entries []LogEntry) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range entries {
		if e.LogIndex <= l.lastLogIndex {
			continue
		}
		if err := l.wal.Append(e); err != nil {
			return l.lastLogIndex, fmt.Errorf("%w: %v", ErrFailToWrite, err)
		}
		l.lastLogIndex = e.LogIndex
		l.lastLogTerm = e.Term
	}
	return l.lastLogIndex, nil
}

func (l *ReplicatedLog) ReadAt(index uint64) (*LogEntry, error) {
	return l.wal.ReadAt(index)
}

// TruncateAfter discards indices > i; used only on term-mismatch
// recovery at prev_log_index.
func (l *ReplicatedLog) TruncateAfter(i uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.wal.TruncateAfter(i); err != nil {
		return err
	}
	l.lastLogIndex = i
	if entry, err := l.wal.ReadAt(i); err == nil && entry != nil {
		l.lastLogTerm = entry.Term
	} else {
		l.lastLogTerm = 0
	}
	return nil
}

func (l *ReplicatedLog) ListAppendLogEntries(fromWatermark uint64) ([]LogEntry, error) {
	return l.wal.ListFrom(fromWatermark)
}

func (l *ReplicatedLog) IsEmpty() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastLogIndex == 0
}

func (l *ReplicatedLog) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.wal.Reset(); err != nil {
		return err
	}
	l.lastLogIndex = 0
	l.lastLogTerm = 0
	return nil
}

func (l *ReplicatedLog) LastLogIndex() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastLogIndex
}

func (l *ReplicatedLog) LastLogTerm() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastLogTerm
}
