package peersmgr

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvbealr/bittorrent/internal/logging"
	"github.com/lvbealr/bittorrent/internal/peer"
	"github.com/lvbealr/bittorrent/internal/wire"
)

// interestedPeer returns a Peer wired to a live in-memory pipe (so Send
// calls that write a Choke/Unchoke frame don't dereference a nil Conn)
// with a goroutine draining the far end.
func interestedPeer(t *testing.T) *peer.Peer {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })
	go io.Copy(io.Discard, server)

	p := peer.New("127.0.0.1", 6881, 1)
	p.Conn = client
	require.NoError(t, p.Apply(wire.Message{ID: wire.Interested}, nil))
	return p
}

func TestRunChokingUnchokesTopKByDownloadRate(t *testing.T) {
	m := New([20]byte{}, [20]byte{}, logging.Noop())

	fast := interestedPeer(t)
	fast.Stats.RecordDownload(1<<20, time.Now())
	slow := interestedPeer(t)

	m.peers = []*peer.Peer{fast, slow}

	m.RunChoking(time.Now(), false)
	assert.False(t, fast.AmChoking())
}

func TestRunChokingRechokesWhenDroppedFromTopK(t *testing.T) {
	m := New([20]byte{}, [20]byte{}, logging.Noop())

	p := interestedPeer(t)
	p.State.AmChoking = false // previously unchoked
	m.peers = []*peer.Peer{p}

	// Not interested anymore -> should not remain in the unchoked set.
	p.State.AmInterested = false
	p.State.PeerInterest = false
	m.RunChoking(time.Now(), false)
	assert.True(t, p.AmChoking())
}

func TestRunOptimisticUnchokePicksAChokedInterestedPeer(t *testing.T) {
	m := New([20]byte{}, [20]byte{}, logging.Noop())
	p := interestedPeer(t)
	m.peers = []*peer.Peer{p}

	m.RunOptimisticUnchoke()
	assert.False(t, p.AmChoking())
}

func TestSnapshotIsIndependentOfUnderlyingSlice(t *testing.T) {
	m := New([20]byte{}, [20]byte{}, logging.Noop())
	p := interestedPeer(t)
	m.peers = []*peer.Peer{p}

	snap := m.Snapshot()
	require.Len(t, snap, 1)
	m.peers = append(m.peers, interestedPeer(t))
	assert.Len(t, snap, 1, "snapshot must not observe later mutation")
}
