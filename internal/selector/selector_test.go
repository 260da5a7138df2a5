package selector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvbealr/bittorrent/internal/peer"
	"github.com/lvbealr/bittorrent/internal/wire"
)

func readyPeer(t *testing.T, pieceIndex int) *peer.Peer {
	t.Helper()
	p := peer.New("127.0.0.1", 6881, pieceIndex+1)
	require.NoError(t, p.Apply(wire.Message{ID: wire.Unchoke}, nil))
	p.State.AmInterested = true
	p.Bitfield.Set(pieceIndex)
	return p
}

func TestByNameResolvesKnownStrategies(t *testing.T) {
	assert.Equal(t, "random", ByName("random").Name())
	assert.Equal(t, "proportional-random", ByName("proportional-random").Name())
	assert.Equal(t, "auction-proportional", ByName("auction-proportional").Name())
	assert.Equal(t, "random", ByName("unknown").Name(), "unknown names fall back to random")
}

func TestRandomSelectsAmongEligible(t *testing.T) {
	p1 := readyPeer(t, 0)
	p2 := readyPeer(t, 0)

	got, err := (Random{}).SelectPeer([]*peer.Peer{p1, p2}, 0)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Contains(t, []*peer.Peer{p1, p2}, got)
}

func TestRandomReturnsNilWhenNoneEligible(t *testing.T) {
	p := peer.New("127.0.0.1", 6881, 1) // choked, not interested, no piece
	got, err := (Random{}).SelectPeer([]*peer.Peer{p}, 0)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestAuctionProportionalShareNotImplemented(t *testing.T) {
	p := readyPeer(t, 0)
	_, err := (AuctionProportionalShare{}).SelectPeer([]*peer.Peer{p}, 0)
	assert.ErrorIs(t, err, ErrNotImplemented)
}

func TestProportionalRandomFallsBackToRandomOnInfiniteRatio(t *testing.T) {
	p := readyPeer(t, 0)
	p.Stats.RecordUpload(100, time.Now())
	// No download recorded, so ratio is +Inf and should fall back to random
	// rather than erroring or dividing by zero.
	got, err := (ProportionalRandom{}).SelectPeer([]*peer.Peer{p}, 0)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}
