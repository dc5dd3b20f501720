package topology

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSnapshotEncode(t *testing.T) {
	snap := Snapshot{
		{PeerID: "a:1", ReplID: "r1", Role: "leader", LeaderID: "a:1"},
		{PeerID: "b:2", ReplID: "r1", Role: "follower", LeaderID: "a:1"},
	}
	require.Equal(t, "a:1,r1,leader,a:1\r\nb:2,r1,follower,a:1", snap.Encode())
}

func TestWriterRewritesInPlace(t *testing.T) {
	path := "topology_test.snap"
	os.Remove(path)
	defer os.Remove(path)

	w, err := NewWriter(path)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.WriteSnapshot(Snapshot{{PeerID: "a:1", ReplID: "r1", Role: "leader", LeaderID: "a:1"}}))
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "a:1,r1,leader,a:1", string(content))

	require.NoError(t, w.WriteSnapshot(Snapshot{}))
	content, err = os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "", string(content))
}

func TestBroadcasterFanout(t *testing.T) {
	b := NewBroadcaster()
	_, ch1 := b.Subscribe()
	id2, ch2 := b.Subscribe()

	b.Publish(Snapshot{{PeerID: "a:1"}})
	require.Len(t, <-ch1, 1)
	require.Len(t, <-ch2, 1)

	b.Unsubscribe(id2)
	_, stillOpen := <-ch2
	require.False(t, stillOpen)
}
