// Package peer wraps a single TCP peer connection: wire-protocol state
// (the four-flag choke/interest state), the remote bitfield, and
// per-peer accounting. Grounded on original_source/peer.py's Peer class
// and the teacher's PerformHandshake/SendMessage/ReceiveMessage
// (torrent/p2p.go), generalized to an explicit state machine instead of
// pubsub dispatch (spec.md §9).
package peer

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/lvbealr/bittorrent/internal/bitfield"
	"github.com/lvbealr/bittorrent/internal/wire"
)

// sendCooldown throttles per-peer send rate so the scheduler doesn't busy-spin
// (spec.md §4.4, is_eligible).
const sendCooldown = 200 * time.Millisecond

// ErrReadTimeout is returned by ReadMessage when no message arrives within
// the given deadline. It is not a protocol error: the caller should move on
// to the next peer rather than treating this one as dead (spec.md §5's
// 1-second suspension bound on the reactor).
var ErrReadTimeout = errors.New("peer: read timed out")

// State is the four-flag wire protocol state of a peer connection.
type State struct {
	AmChoking     bool
	AmInterested  bool
	PeerChoking   bool
	PeerInterest  bool
}

// Peer wraps one TCP connection to a remote peer, plus its protocol state.
// PeersManager exclusively owns the set of Peers and mutates most of this
// struct from its single reactor goroutine; Stats is safe for concurrent
// access since upload accounting can run from the piecesmgr seeding path.
type Peer struct {
	IP   string
	Port uint16
	ID   [20]byte

	Conn net.Conn

	State State

	Bitfield *bitfield.Bitfield

	HandshakeDone bool
	Healthy       bool

	lastSend time.Time
	Stats    *Stats
}

// New builds a Peer in its initial state: all-choking, none-interested,
// per spec.md's Peer invariants.
func New(ip string, port uint16, numPieces int) *Peer {
	return &Peer{
		IP:       ip,
		Port:     port,
		Bitfield: bitfield.New(numPieces),
		State: State{
			AmChoking:   true,
			PeerChoking: true,
		},
		Stats: NewStats(),
	}
}

// Addr formats the peer's dial address.
func (p *Peer) Addr() string {
	return fmt.Sprintf("%s:%d", p.IP, p.Port)
}

// Dial opens the TCP connection with a 2-second connect timeout
// (spec.md §4.4).
func (p *Peer) Dial() error {
	conn, err := net.DialTimeout("tcp", p.Addr(), 2*time.Second)
	if err != nil {
		return fmt.Errorf("dial %s: %w", p.Addr(), err)
	}
	p.Conn = conn
	p.Healthy = true
	return nil
}

// SendHandshake writes the handshake and updates last-send bookkeeping.
func (p *Peer) SendHandshake(infoHash, peerID [20]byte) error {
	hs := wire.Handshake{InfoHash: infoHash, PeerID: peerID}
	if err := p.writeRaw(hs.Marshal()); err != nil {
		return fmt.Errorf("send handshake to %s: %w", p.Addr(), err)
	}
	return nil
}

// ReadHandshake reads and validates the peer's handshake. The first inbound
// message must be a handshake; a non-matching info_hash marks the peer
// unhealthy (spec.md §4.4, §6).
func (p *Peer) ReadHandshake(expectedInfoHash [20]byte) error {
	p.Conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	hs, err := wire.ReadHandshake(p.Conn)
	if err != nil {
		p.Healthy = false
		return fmt.Errorf("read handshake from %s: %w", p.Addr(), err)
	}
	if hs.InfoHash != expectedInfoHash {
		p.Healthy = false
		return fmt.Errorf("info hash mismatch from %s", p.Addr())
	}
	p.ID = hs.PeerID
	p.HandshakeDone = true
	return nil
}

// Send writes a framed message and updates last-send bookkeeping.
func (p *Peer) Send(id wire.MessageID, payload []byte) error {
	if err := p.writeRaw(wire.Marshal(id, payload)); err != nil {
		p.Healthy = false
		return fmt.Errorf("send %s to %s: %w", id, p.Addr(), err)
	}
	return nil
}

// SendKeepAlive emits the zero-length keep-alive frame.
func (p *Peer) SendKeepAlive() error {
	if err := p.writeRaw(wire.MarshalKeepAlive()); err != nil {
		p.Healthy = false
		return fmt.Errorf("send keep-alive to %s: %w", p.Addr(), err)
	}
	return nil
}

func (p *Peer) writeRaw(buf []byte) error {
	if p.Conn == nil {
		return errors.New("peer: not connected")
	}
	p.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	_, err := p.Conn.Write(buf)
	if err == nil {
		p.lastSend = time.Now()
	}
	return err
}

// ReadMessage reads and validates one framed message, waiting at most
// deadline for it to arrive (spec.md §6). A plain timeout (nothing pending
// within deadline) returns ErrReadTimeout without marking the peer
// unhealthy; any other read or protocol error does mark it unhealthy, since
// the connection itself is presumed broken. Callers polling many peers in
// one reactor pass (spec.md §5's 1-second suspension bound) should pass a
// short deadline so one idle peer can't stall the others.
func (p *Peer) ReadMessage(deadline time.Duration) (wire.Message, error) {
	p.Conn.SetReadDeadline(time.Now().Add(deadline))
	msg, err := wire.Read(p.Conn)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return wire.Message{}, ErrReadTimeout
		}
		p.Healthy = false
		return wire.Message{}, err
	}
	return msg, nil
}

// IsEligible reports whether enough time has passed since the last send to
// issue another request to this peer (spec.md §4.4's 200ms cooldown).
func (p *Peer) IsEligible(now time.Time) bool {
	return now.Sub(p.lastSend) > sendCooldown
}

// HasPiece reports whether the peer's bitfield claims piece i.
func (p *Peer) HasPiece(i int) bool {
	return p.Bitfield.Has(i)
}

// AmChoking reports whether we are choking this peer.
func (p *Peer) AmChoking() bool { return p.State.AmChoking }

// AmInterested reports whether we are interested in this peer.
func (p *Peer) AmInterested() bool { return p.State.AmInterested }

// IsChoking reports whether this peer is choking us.
func (p *Peer) IsChoking() bool { return p.State.PeerChoking }

// IsUnchoked reports whether this peer is not choking us.
func (p *Peer) IsUnchoked() bool { return !p.State.PeerChoking }

// IsInterested reports whether this peer is interested in us.
func (p *Peer) IsInterested() bool { return p.State.PeerInterest }

// Close closes the underlying connection, if any.
func (p *Peer) Close() error {
	if p.Conn == nil {
		return nil
	}
	return p.Conn.Close()
}
