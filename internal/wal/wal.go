// Package wal is the file-backed WriteAheadLog used by cmd/server: one
// newline-delimited JSON record per raft.LogEntry, so a recovered log
// carries enough information (term, session id, write kind) to replay
// replication and idempotency state, not just the final key/value
// pairs.
package wal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/mathdee/KV-Store/internal/raft"
)

// flushInterval is the group-commit window: writers queue, one
// goroutine batches them into a single fsync.
const flushInterval = 5 * time.Millisecond

type pendingWrite struct {
	entry raft.LogEntry
	done  chan error
}

// WAL is component-adjacent storage for raft.ReplicatedLog: every
// method here satisfies raft.WriteAheadLog. entries mirrors the file
// in memory so ReadAt/ListFrom/LastIndex never have to re-scan disk.
type WAL struct {
	mu   sync.Mutex
	file *os.File
	path string

	entries []raft.LogEntry

	pendingMu   sync.Mutex
	pending     []pendingWrite
	flushTicker *time.Ticker
	closeCh     chan struct{}
	closeOnce   sync.Once
}

func NewWAL(path string) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	w := &WAL{
		file:        f,
		path:        path,
		flushTicker: time.NewTicker(flushInterval),
		closeCh:     make(chan struct{}),
	}
	if err := w.loadExisting(); err != nil {
		f.Close()
		return nil, err
	}
	go w.flushLoop()
	return w, nil
}

// loadExisting replays whatever is already on disk into the in-memory
// mirror.
func (w *WAL) loadExisting() error {
	f, err := os.Open(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e raft.LogEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return fmt.Errorf("wal: corrupt record in %s: %w", w.path, err)
		}
		w.entries = append(w.entries, e)
	}
	return scanner.Err()
}

func (w *WAL) flushLoop() {
	for {
		select {
		case <-w.flushTicker.C:
			w.flush()
		case <-w.closeCh:
			w.flush()
			return
		}
	}
}

// flush is the one-fsync-for-many-writes trick: grab the pending
// batch, write every entry, sync once.
func (w *WAL) flush() {
	w.pendingMu.Lock()
	if len(w.pending) == 0 {
		w.pendingMu.Unlock()
		return
	}
	toFlush := w.pending
	w.pending = nil
	w.pendingMu.Unlock()

	w.mu.Lock()
	var writeErr error
	for _, pw := range toFlush {
		line, err := json.Marshal(pw.entry)
		if err != nil {
			writeErr = err
			break
		}
		line = append(line, '\n')
		if _, err := w.file.Write(line); err != nil {
			writeErr = err
			break
		}
	}
	if writeErr == nil {
		writeErr = w.file.Sync()
	}
	w.mu.Unlock()

	for _, pw := range toFlush {
		pw.done <- writeErr
		close(pw.done)
	}
}

// Append queues entry for the next group commit and blocks until it's
// durably fsynced.
func (w *WAL) Append(entry raft.LogEntry) error {
	done := make(chan error, 1)
	w.pendingMu.Lock()
	w.pending = append(w.pending, pendingWrite{entry: entry, done: done})
	w.pendingMu.Unlock()

	if err := <-done; err != nil {
		return err
	}

	w.mu.Lock()
	w.entries = append(w.entries, entry)
	w.mu.Unlock()
	return nil
}

// TruncateAfter drops every entry past index and rewrites the file,
// used only on the rare follower term-mismatch recovery path.
func (w *WAL) TruncateAfter(index uint64) error {
	w.mu.Lock()
	kept := make([]raft.LogEntry, 0, len(w.entries))
	for _, e := range w.entries {
		if e.LogIndex <= index {
			kept = append(kept, e)
		}
	}
	w.entries = kept
	w.mu.Unlock()
	return w.rewrite(kept)
}

func (w *WAL) rewrite(entries []raft.LogEntry) error {
	tmpPath := w.path + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(tmp)
	for _, e := range entries {
		line, err := json.Marshal(e)
		if err != nil {
			tmp.Close()
			return err
		}
		if _, err := bw.Write(append(line, '\n')); err != nil {
			tmp.Close()
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, w.path); err != nil {
		return err
	}
	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	w.file = f
	return nil
}

func (w *WAL) ReadAt(index uint64) (*raft.LogEntry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := len(w.entries) - 1; i >= 0; i-- {
		if w.entries[i].LogIndex == index {
			e := w.entries[i]
			return &e, nil
		}
	}
	return nil, nil
}

func (w *WAL) ListFrom(watermark uint64) ([]raft.LogEntry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]raft.LogEntry, 0)
	for _, e := range w.entries {
		if e.LogIndex > watermark {
			out = append(out, e)
		}
	}
	return out, nil
}

func (w *WAL) LastIndex() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.entries) == 0 {
		return 0
	}
	return w.entries[len(w.entries)-1].LogIndex
}

func (w *WAL) LastTerm() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.entries) == 0 {
		return 0
	}
	return w.entries[len(w.entries)-1].Term
}

// Reset discards the entire log, used when a follower's log has
// diverged so badly a snapshot transfer is cheaper than a truncate.
func (w *WAL) Reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = nil
	if err := w.file.Close(); err != nil {
		return err
	}
	if err := os.Remove(w.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	w.file = f
	return nil
}

func (w *WAL) Close() error {
	w.closeOnce.Do(func() { close(w.closeCh) })
	w.flushTicker.Stop()
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
