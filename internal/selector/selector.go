// Package selector implements the pluggable peer-selection strategies for
// block scheduling (spec.md §4.5, §9). Strategies are a closed set of
// variants chosen at startup, not a runtime subclass lookup.
package selector

import (
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/lvbealr/bittorrent/internal/peer"
)

// ErrNotImplemented is returned by the auction-based strategy, which the
// original source declares but never implements (spec.md §9 Open Question).
var ErrNotImplemented = errors.New("auction-based proportional share selection is not implemented")

// Strategy picks one eligible peer holding pieceIndex, or nil if none
// qualifies.
type Strategy interface {
	Name() string
	SelectPeer(peers []*peer.Peer, pieceIndex int) (*peer.Peer, error)
}

// eligiblePeersNow filters to peers that are unchoked-by-them, we're
// interested, eligible under the send cooldown, and have the piece
// (spec.md §4.5).
func eligiblePeersNow(peers []*peer.Peer, pieceIndex int) []*peer.Peer {
	now := time.Now()
	var out []*peer.Peer
	for _, p := range peers {
		if p.IsUnchoked() && p.AmInterested() && p.HasPiece(pieceIndex) && p.IsEligible(now) {
			out = append(out, p)
		}
	}
	return out
}

// Random selects uniformly among eligible peers (spec.md §4.5 "random").
type Random struct{}

func (Random) Name() string { return "random" }

func (Random) SelectPeer(peers []*peer.Peer, pieceIndex int) (*peer.Peer, error) {
	ready := eligiblePeersNow(peers, pieceIndex)
	if len(ready) == 0 {
		return nil, nil
	}
	return ready[rand.Intn(len(ready))], nil
}

// ProportionalRandom weights selection by each peer's upload ratio
// (bytes we uploaded to them / bytes they uploaded to us). A peer with
// ratio +Inf (we've received nothing from them) deterministically falls
// back to Random, per spec.md §4.5 and original_source/strategies.py.
type ProportionalRandom struct{}

func (ProportionalRandom) Name() string { return "proportional-random" }

func (ProportionalRandom) SelectPeer(peers []*peer.Peer, pieceIndex int) (*peer.Peer, error) {
	ready := eligiblePeersNow(peers, pieceIndex)
	if len(ready) == 0 {
		return nil, nil
	}

	ratios := make([]float64, len(ready))
	var total float64
	for i, p := range ready {
		r := p.Stats.UploadRatio()
		if math.IsInf(r, 1) {
			return (Random{}).SelectPeer(ready, pieceIndex)
		}
		ratios[i] = r
		total += r
	}

	if total == 0 {
		return (Random{}).SelectPeer(ready, pieceIndex)
	}

	target := rand.Float64() * total
	var cumulative float64
	for i, r := range ratios {
		cumulative += r
		if target <= cumulative {
			return ready[i], nil
		}
	}
	return ready[len(ready)-1], nil
}

// AuctionProportionalShare is declared but intentionally unimplemented
// (spec.md §9 Open Question; original_source/strategies.py raises
// NotImplementedError unconditionally). Do not guess its semantics.
type AuctionProportionalShare struct{}

func (AuctionProportionalShare) Name() string { return "auction-proportional" }

func (AuctionProportionalShare) SelectPeer(peers []*peer.Peer, pieceIndex int) (*peer.Peer, error) {
	return nil, ErrNotImplemented
}

// ByName resolves one of the closed set of strategies by its config name.
func ByName(name string) Strategy {
	switch name {
	case "proportional-random":
		return ProportionalRandom{}
	case "auction-proportional":
		return AuctionProportionalShare{}
	default:
		return Random{}
	}
}
