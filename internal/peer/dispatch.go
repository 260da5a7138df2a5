package peer

import (
	"fmt"

	"github.com/lvbealr/bittorrent/internal/bitfield"
	"github.com/lvbealr/bittorrent/internal/wire"
)

// Handlers is the visitor PeersManager and PiecesManager implement to
// react to inbound messages, replacing the original's global pub/sub bus
// (spec.md §9) with explicit method calls.
type Handlers interface {
	// OnRequest is called when the peer asks us for a block. Implementors
	// decide whether to serve it (seeding policy lives in piecesmgr).
	OnRequest(p *Peer, req wire.RequestPayload)
	// OnPiece is called when a requested block arrives.
	OnPiece(p *Peer, piece wire.PiecePayload)
}

// Apply updates p's four-flag state machine for the subset of messages
// that are pure connection state (choke/unchoke/interested/have/bitfield),
// and forwards Request/Piece to h. Cancel and Port are logged by the
// caller and are no-ops here (spec.md §4.4: "no DHT" and "logged; no-op").
func (p *Peer) Apply(msg wire.Message, h Handlers) error {
	if msg.KeepAlive {
		return nil
	}

	switch msg.ID {
	case wire.Choke:
		p.State.PeerChoking = true

	case wire.Unchoke:
		p.State.PeerChoking = false

	case wire.Interested:
		p.State.PeerInterest = true
		if p.State.AmChoking {
			return p.Send(wire.Unchoke, nil)
		}

	case wire.NotInterested:
		p.State.PeerInterest = false

	case wire.Have:
		req, err := parseHave(msg.Payload)
		if err != nil {
			return err
		}
		p.Bitfield.Set(int(req))
		p.maybeBecomeInterested()

	case wire.Bitfield:
		p.Bitfield = bitfield.FromBytes(p.Bitfield.Len(), msg.Payload)
		p.maybeBecomeInterested()

	case wire.Request:
		req, err := wire.ParseRequestPayload(msg.Payload)
		if err != nil {
			return err
		}
		h.OnRequest(p, req)

	case wire.Piece:
		pp, err := wire.ParsePiecePayload(msg.Payload)
		if err != nil {
			return err
		}
		h.OnPiece(p, pp)

	case wire.Cancel, wire.Port:
		// logged by the caller; no-op per spec.md §4.4.

	default:
		return fmt.Errorf("unknown message id %d from %s", msg.ID, p.Addr())
	}

	return nil
}

// maybeBecomeInterested sends Interested the first time a Have or Bitfield
// arrives while the peer is choking us and we are not yet interested
// (spec.md §4.4: Have/Bitfield "become interested" rule). Piece-possession comparison against our own
// bitfield is the scheduler's job; here we simply flag intent whenever the
// peer is choking us and we are not yet interested, mirroring
// original_source/peer.py's handle_have/handle_bitfield.
func (p *Peer) maybeBecomeInterested() {
	if p.State.PeerChoking && !p.State.AmInterested {
		p.State.AmInterested = true
		_ = p.Send(wire.Interested, nil)
	}
}

func parseHave(payload []byte) (uint32, error) {
	if len(payload) != 4 {
		return 0, fmt.Errorf("have payload must be 4 bytes, got %d", len(payload))
	}
	return uint32(payload[0])<<24 | uint32(payload[1])<<16 | uint32(payload[2])<<8 | uint32(payload[3]), nil
}
