// Package store is the CacheManager the cluster actor treats as
// opaque (raft.CacheManager): an in-memory map with lazy TTL expiry,
// covering the full write-kind set the actor's consensus path can
// commit (SET, APPEND, DEL, INCR/DECR, and MSET for migrated
// batches).
package store

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mathdee/KV-Store/internal/raft"
	"github.com/mathdee/KV-Store/internal/wal"
)

var ErrorNotFound = errors.New("key not found")

type record struct {
	value     string
	expiresAt time.Time // zero means no TTL
}

// Store is the concrete raft.CacheManager. It holds a *wal.WAL only
// to replay history at boot (Warm); ApplyLog itself never touches
// the WAL, since by the time the actor calls it the entry has
// already been durably appended by raft.ReplicatedLog.
type Store struct {
	mu   sync.RWMutex
	wal  *wal.WAL
	data map[string]record
}

func NewStore(w *wal.WAL) *Store {
	return &Store{data: make(map[string]record), wal: w}
}

// Warm replays every entry already on disk through ApplyLog, used
// once at startup before the actor starts accepting commands.
func (s *Store) Warm() error {
	entries, err := s.wal.ListFrom(0)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := s.ApplyLog(e.Request, e.LogIndex); err != nil {
			return fmt.Errorf("store: replay index %d: %w", e.LogIndex, err)
		}
	}
	return nil
}

func (s *Store) isExpiredLocked(r record) bool {
	return !r.expiresAt.IsZero() && time.Now().After(r.expiresAt)
}

// Get is a direct client read — it never goes through the actor's
// command queue.
func (s *Store) Get(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.data[key]
	if !ok {
		return "", ErrorNotFound
	}
	if s.isExpiredLocked(r) {
		delete(s.data, key)
		return "", ErrorNotFound
	}
	return r.value, nil
}

// TTL reports the remaining lifetime of key in milliseconds, -1 if the
// key carries no expiry, or ErrorNotFound if it's absent or expired.
func (s *Store) TTL(key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.data[key]
	if !ok {
		return 0, ErrorNotFound
	}
	if s.isExpiredLocked(r) {
		delete(s.data, key)
		return 0, ErrorNotFound
	}
	if r.expiresAt.IsZero() {
		return -1, nil
	}
	return int64(time.Until(r.expiresAt) / time.Millisecond), nil
}

// ApplyLog commits a single write entry to the in-memory map. The
// actor calls it once the entry has reached consensus (a follower
// applies entries up to the leader's reported high-water mark), and
// Warm calls it for every entry when replaying the WAL at startup.
func (s *Store) ApplyLog(req raft.WriteRequest, index uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch req.Kind {
	case raft.WriteSet:
		r := record{value: req.Value}
		if req.TTL != nil {
			r.expiresAt = time.Now().Add(*req.TTL)
		}
		s.data[req.Key] = r
	case raft.WriteAppend:
		r := s.data[req.Key]
		r.value += req.Value
		s.data[req.Key] = r
	case raft.WriteDelete:
		for _, k := range req.Keys {
			delete(s.data, k)
		}
	case raft.WriteIncr, raft.WriteDecr:
		r := s.data[req.Key]
		n, _ := strconv.ParseInt(r.value, 10, 64)
		if req.Kind == raft.WriteIncr {
			n += req.Delta
		} else {
			n -= req.Delta
		}
		r.value = strconv.FormatInt(n, 10)
		s.data[req.Key] = r
	case raft.WriteMSet:
		for k, v := range req.Entries {
			s.data[k] = record{value: v}
		}
	default:
		return fmt.Errorf("store: unknown write kind %d", req.Kind)
	}
	return nil
}

// RouteKeys lists local keys, optionally filtered to those containing
// scope (the KEYS command's pattern), or every non-expired key if
// scope is nil (the migration planner's "all local keys" call).
func (s *Store) RouteKeys(scope *string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k, r := range s.data {
		if s.isExpiredLocked(r) {
			continue
		}
		if scope != nil && !strings.Contains(k, *scope) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RouteMGet returns one *string per requested key, nil where the key
// is absent or expired, index-aligned with keys.
func (s *Store) RouteMGet(keys []string) []*string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*string, len(keys))
	for i, k := range keys {
		if r, ok := s.data[k]; ok && !s.isExpiredLocked(r) {
			v := r.value
			out[i] = &v
		}
	}
	return out
}

// RouteMSet installs a batch of migrated key/value pairs directly,
// bypassing TTL bookkeeping (migrated keys carry no TTL in this
// implementation).
func (s *Store) RouteMSet(entries map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range entries {
		s.data[k] = record{value: v}
	}
	return nil
}

// RouteDelete removes keys that have just been confirmed migrated
// away, called from the migration source side once the target acks.
func (s *Store) RouteDelete(keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.data, k)
	}
	return nil
}
