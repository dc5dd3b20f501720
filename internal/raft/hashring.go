package raft

import (
	"hash/fnv"
	"sort"
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// BatchId uniquely identifies a migration batch, used to correlate an
// ack with its pending record.
type BatchId = uuid.UUID

func NewBatchId() BatchId { return uuid.New() }

// PartitionEntry is one (ReplicationId, leader PeerIdentifier) pair,
// as accepted by AddPartitions/SetPartitions.
type PartitionEntry struct {
	ReplID ReplicationId
	Leader PeerIdentifier
}

// ringEntry is the internal storage shape for a partition, kept in an
// ordered slice so ring diffs and equality checks are deterministic.
type ringEntry = PartitionEntry

// MigrationTask is one unit of a migration plan: the keys that must
// move to TargetReplID.
type MigrationTask struct {
	TargetReplID  ReplicationId
	KeysToMigrate []string
}

// MigrationBatch is a bounded-size slice of a MigrationTask plan, sent
// wire-to-wire as a single unit.
type MigrationBatch struct {
	ID         BatchId
	TargetRepl ReplicationId
	Tasks      []MigrationTask
}

// PendingMigrationBatch is the leader-side bookkeeping record kept
// while a dispatched batch awaits its ack.
type PendingMigrationBatch struct {
	Callback func(error)
	Keys     []string
}

const defaultVirtualNodes = 128

// HashRing is the partition map plus migration
// planning. Partitions is the ordered (ReplicationId, leader) list;
// the ring/ringMap are a derived index rebuilt on every mutation.
type HashRing struct {
	mu           sync.RWMutex
	Partitions   []ringEntry
	LastModified uint64
	VirtualNodes int

	ring    []uint32
	ringMap map[uint32]ReplicationId
}

func NewHashRing(virtualNodes int) *HashRing {
	if virtualNodes <= 0 {
		virtualNodes = defaultVirtualNodes
	}
	return &HashRing{VirtualNodes: virtualNodes, ringMap: make(map[uint32]ReplicationId)}
}

func hashKey(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}

func (h *HashRing) containsReplIDLocked(id ReplicationId) bool {
	for _, e := range h.Partitions {
		if e.ReplID == id {
			return true
		}
	}
	return false
}

func (h *HashRing) rebuildLocked() {
	h.ring = h.ring[:0]
	h.ringMap = make(map[uint32]ReplicationId, len(h.Partitions)*h.VirtualNodes)
	for _, e := range h.Partitions {
		for v := 0; v < h.VirtualNodes; v++ {
			key := string(e.Leader) + "#" + string(e.ReplID) + "#" + strconv.Itoa(v)
			hv := hashKey(key)
			if _, exists := h.ringMap[hv]; exists {
				continue
			}
			h.ringMap[hv] = e.ReplID
			h.ring = append(h.ring, hv)
		}
	}
	sort.Slice(h.ring, func(i, j int) bool { return h.ring[i] < h.ring[j] })
}

// AddPartitions adds any partitions not already present, by ReplID.
func (h *HashRing) AddPartitions(entries ...PartitionEntry) *HashRing {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, e := range entries {
		if !h.containsReplIDLocked(e.ReplID) {
			h.Partitions = append(h.Partitions, e)
		}
	}
	h.rebuildLocked()
	return h
}

func partitionsEqual(a, b []ringEntry) bool {
	if len(a) != len(b) {
		return false
	}
	am := make(map[ReplicationId]PeerIdentifier, len(a))
	for _, e := range a {
		am[e.ReplID] = e.Leader
	}
	for _, e := range b {
		if leader, ok := am[e.ReplID]; !ok || leader != e.Leader {
			return false
		}
	}
	return true
}

// SetPartitions replaces the partition list wholesale. Returns
// (ring, false) if the candidate is stale (lastModified older than
// ours) or a no-op (equal to what we already have); otherwise returns
// (ring, true) and bumps LastModified.
func (h *HashRing) SetPartitions(entries []PartitionEntry, lastModified uint64) (*HashRing, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if lastModified < h.LastModified {
		return h, false
	}
	next := make([]ringEntry, len(entries))
	copy(next, entries)
	if partitionsEqual(h.Partitions, next) {
		return h, false
	}
	h.Partitions = next
	h.LastModified = lastModified
	h.rebuildLocked()
	return h, true
}

// UpdateReplLeader repoints an existing partition's leader (a new
// election within a shard group doesn't change which replid owns
// which keys, only who to route writes to).
func (h *HashRing) UpdateReplLeader(replid ReplicationId, id PeerIdentifier) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.Partitions {
		if h.Partitions[i].ReplID == replid {
			h.Partitions[i].Leader = id
		}
	}
	h.LastModified++
	h.rebuildLocked()
}

// GetNodeForKeys considers only the first key — a documented
// limitation: multi-key writes may be misrouted when keys span
// shards (see DESIGN.md).
func (h *HashRing) GetNodeForKeys(keys []string) (ReplicationId, error) {
	if len(keys) == 0 {
		return "", ErrNoOwnerForKey
	}
	return h.ownerOf(keys[0])
}

func (h *HashRing) ownerOf(key string) (ReplicationId, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.ring) == 0 {
		return "", ErrNoOwnerForKey
	}
	hv := hashKey(key)
	idx := sort.Search(len(h.ring), func(i int) bool { return h.ring[i] >= hv })
	if idx == len(h.ring) {
		idx = 0
	}
	return h.ringMap[h.ring[idx]], nil
}

// Snapshot returns a read-only copy of the current partitions, for
// callers (like the actor's leader-recompute path) that need to read
// ownership without holding the ring's lock across other work.
func (h *HashRing) Snapshot() []ringEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]ringEntry, len(h.Partitions))
	copy(out, h.Partitions)
	return out
}

func (h *HashRing) ModifiedAt() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.LastModified
}

// CreateMigrationTasks partitions keys by their new owning replid,
// emitting a task only where the new owner differs from the old
// owner. Equal rings or rings with no diff produce an empty plan.
func (h *HashRing) CreateMigrationTasks(newRing *HashRing, allLocalKeys []string) map[ReplicationId][]MigrationTask {
	byTarget := make(map[ReplicationId][]string)
	for _, k := range allLocalKeys {
		oldOwner, err := h.ownerOf(k)
		if err != nil {
			continue
		}
		newOwner, err := newRing.ownerOf(k)
		if err != nil || newOwner == oldOwner {
			continue
		}
		byTarget[newOwner] = append(byTarget[newOwner], k)
	}
	if len(byTarget) == 0 {
		return nil
	}
	plan := make(map[ReplicationId][]MigrationTask, len(byTarget))
	for replid, keys := range byTarget {
		plan[replid] = []MigrationTask{{TargetReplID: replid, KeysToMigrate: keys}}
	}
	return plan
}

// maxBatchKeyBytes caps a migration batch at ~100 bytes of summed key
// length.
const maxBatchKeyBytes = 100

// splitIntoBatches groups a task's keys into batches no larger than
// maxBatchKeyBytes (summed key length), each becoming its own
// MigrationBatch with a fresh BatchId.
func splitIntoBatches(replid ReplicationId, tasks []MigrationTask) []MigrationBatch {
	var allKeys []string
	for _, t := range tasks {
		allKeys = append(allKeys, t.KeysToMigrate...)
	}
	var batches []MigrationBatch
	var cur []string
	curBytes := 0
	flush := func() {
		if len(cur) == 0 {
			return
		}
		batches = append(batches, MigrationBatch{
			ID:         NewBatchId(),
			TargetRepl: replid,
			Tasks:      []MigrationTask{{TargetReplID: replid, KeysToMigrate: cur}},
		})
		cur = nil
		curBytes = 0
	}
	for _, k := range allKeys {
		if curBytes+len(k) > maxBatchKeyBytes && len(cur) > 0 {
			flush()
		}
		cur = append(cur, k)
		curBytes += len(k)
	}
	flush()
	return batches
}
