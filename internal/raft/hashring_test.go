package raft

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashRingGetNodeForKeysEmpty(t *testing.T) {
	ring := NewHashRing(8)
	_, err := ring.GetNodeForKeys([]string{"a"})
	require.ErrorIs(t, err, ErrNoOwnerForKey)

	_, err = ring.GetNodeForKeys(nil)
	require.ErrorIs(t, err, ErrNoOwnerForKey)
}

func TestHashRingRoutesDeterministically(t *testing.T) {
	ring := NewHashRing(32)
	ring.AddPartitions(
		PartitionEntry{ReplID: "r1", Leader: "n1:7000"},
		PartitionEntry{ReplID: "r2", Leader: "n2:7000"},
	)

	owner1, err := ring.GetNodeForKeys([]string{"user:42"})
	require.NoError(t, err)
	owner2, err := ring.GetNodeForKeys([]string{"user:42"})
	require.NoError(t, err)
	require.Equal(t, owner1, owner2)
}

func TestHashRingSetPartitionsRejectsStale(t *testing.T) {
	ring := NewHashRing(8)
	ring.SetPartitions([]PartitionEntry{{ReplID: "r1", Leader: "n1"}}, 5)

	_, changed := ring.SetPartitions([]PartitionEntry{{ReplID: "r2", Leader: "n2"}}, 3)
	require.False(t, changed)
	require.Equal(t, ReplicationId("r1"), ring.Snapshot()[0].ReplID)

	_, changed = ring.SetPartitions([]PartitionEntry{{ReplID: "r1", Leader: "n1"}}, 5)
	require.False(t, changed, "identical partitions at the same watermark is a no-op")

	_, changed = ring.SetPartitions([]PartitionEntry{{ReplID: "r2", Leader: "n2"}}, 6)
	require.True(t, changed)
}

func TestCreateMigrationTasksOnlyMovedKeys(t *testing.T) {
	oldRing := NewHashRing(64)
	oldRing.AddPartitions(PartitionEntry{ReplID: "r1", Leader: "n1"})

	newRing := NewHashRing(64)
	newRing.AddPartitions(
		PartitionEntry{ReplID: "r1", Leader: "n1"},
		PartitionEntry{ReplID: "r2", Leader: "n2"},
	)

	keys := make([]string, 0, 200)
	for i := 0; i < 200; i++ {
		keys = append(keys, "key-"+string(rune('a'+i%26))+string(rune('0'+i%10)))
	}

	tasks := oldRing.CreateMigrationTasks(newRing, keys)
	if len(tasks) == 0 {
		t.Skip("no keys happened to move with this virtual node layout")
	}
	for replid, ts := range tasks {
		require.NotEqual(t, ReplicationId("r1"), replid, "a task never targets the key's original owner")
		for _, task := range ts {
			for _, k := range task.KeysToMigrate {
				newOwner, err := newRing.ownerOf(k)
				require.NoError(t, err)
				require.Equal(t, replid, newOwner)
			}
		}
	}
}

func TestSplitIntoBatchesRespectsByteCap(t *testing.T) {
	keys := make([]string, 0, 50)
	for i := 0; i < 50; i++ {
		keys = append(keys, "01234567890123456789") // 20 bytes each
	}
	batches := splitIntoBatches("r1", []MigrationTask{{TargetReplID: "r1", KeysToMigrate: keys}})
	require.Greater(t, len(batches), 1)
	for _, b := range batches {
		total := 0
		for _, task := range b.Tasks {
			for _, k := range task.KeysToMigrate {
				total += len(k)
			}
		}
		require.LessOrEqual(t, total, maxBatchKeyBytes)
	}
}

func TestHopCountBoundaries(t *testing.T) {
	require.Equal(t, 0, hopCount(3, 0))
	require.Equal(t, 0, hopCount(3, 1))
	require.Equal(t, 0, hopCount(0, 10))
	require.Equal(t, 0, hopCount(1, 10))
	require.Equal(t, 0, hopCount(3, 3))
	require.Equal(t, 1, hopCount(3, 4))
	require.Equal(t, 2, hopCount(3, 9))
	require.Equal(t, 2, hopCount(3, 10))
}
