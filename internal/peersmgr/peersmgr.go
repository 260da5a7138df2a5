// Package peersmgr owns the live peer set: connecting, handshaking,
// the read-loop reactor, and the choking algorithm (spec.md §4.4, §4.5,
// §5). Grounded on the teacher's torrent/p2p.go ConnectToPeers/
// DownloadFromPeer concurrency shape, adapted to a semaphore-bounded
// connect fan-out plus a single sequential read pass per spec.md §9's
// loose reading of "no per-peer thread".
package peersmgr

import (
	"errors"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lvbealr/bittorrent/internal/peer"
	"github.com/lvbealr/bittorrent/internal/tracker"
	"github.com/lvbealr/bittorrent/internal/wire"
)

const (
	// RegularUnchokeInterval and OptimisticUnchokeInterval are the two
	// independent choking timers (spec.md §4.5).
	RegularUnchokeInterval     = 10 * time.Second
	OptimisticUnchokeInterval  = 30 * time.Second
	// RegularUnchokeSlots is K in "top-K peers by download rate".
	RegularUnchokeSlots = 4
	// connectSemaphoreSize bounds concurrent handshake attempts, per
	// the teacher's ConnectToPeers semaphore.
	connectSemaphoreSize = 10
	// pollReadTimeout bounds each peer's read in PollOnce so one idle or
	// slow peer can't stall the whole reactor past spec.md §5's 1-second
	// suspension bound.
	pollReadTimeout = 1 * time.Second
)

// Manager owns the peer slice; it is modified only from the I/O-facing
// methods below (AddPeers, Remove, choking). Callers read it through
// synchronized accessors (spec.md §5 shared-resource policy).
type Manager struct {
	mu    sync.RWMutex
	peers []*peer.Peer

	infoHash [20]byte
	peerID   [20]byte
	log      *zap.SugaredLogger

	optimisticChoked map[string]bool // addr -> currently the optimistic slot
}

// New builds an empty Manager for a torrent's info hash and our local
// peer id, used in every handshake.
func New(infoHash, peerID [20]byte, log *zap.SugaredLogger) *Manager {
	return &Manager{infoHash: infoHash, peerID: peerID, log: log, optimisticChoked: make(map[string]bool)}
}

// Snapshot returns a read-only copy of the current peer slice, safe to
// range over without holding the Manager's lock (spec.md §5: "Engine
// queries it read-only through methods that internally synchronize").
func (m *Manager) Snapshot() []*peer.Peer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*peer.Peer, len(m.peers))
	copy(out, m.peers)
	return out
}

// Count returns the number of currently tracked peers.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.peers)
}

// AddPeers dials and handshakes each candidate concurrently, bounded by
// a semaphore, and retains those that complete the handshake and match
// info_hash (spec.md §6, grounded on the teacher's ConnectToPeers).
func (m *Manager) AddPeers(candidates []tracker.PeerAddr, numPieces int) {
	var wg sync.WaitGroup
	sem := make(chan struct{}, connectSemaphoreSize)
	var mu sync.Mutex
	var accepted []*peer.Peer

	for _, c := range candidates {
		if m.has(c.IP, c.Port) {
			continue
		}

		wg.Add(1)
		sem <- struct{}{}

		go func(c tracker.PeerAddr) {
			defer func() { <-sem; wg.Done() }()

			p := peer.New(c.IP, c.Port, numPieces)
			if err := p.Dial(); err != nil {
				return
			}
			if err := p.SendHandshake(m.infoHash, m.peerID); err != nil {
				p.Close()
				return
			}
			if err := p.ReadHandshake(m.infoHash); err != nil {
				p.Close()
				return
			}

			mu.Lock()
			accepted = append(accepted, p)
			mu.Unlock()
		}(c)
	}

	wg.Wait()

	m.mu.Lock()
	m.peers = append(m.peers, accepted...)
	m.mu.Unlock()

	m.log.Infow("connected to peers", "new", len(accepted), "total", m.Count())
}

func (m *Manager) has(ip string, port uint16) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.peers {
		if p.IP == ip && p.Port == port {
			return true
		}
	}
	return false
}

// Remove drops a peer from the set and closes its socket.
func (m *Manager) Remove(p *peer.Peer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, cur := range m.peers {
		if cur == p {
			m.peers = append(m.peers[:i], m.peers[i+1:]...)
			break
		}
	}
	p.Close()
}

// PollOnce drains at most one pending message from each healthy peer's
// socket in turn (the single reactor of spec.md §5). Each read is bounded
// by pollReadTimeout rather than net.Conn's ordinary deadline, since Go's
// net.Conn offers no readiness-poll primitive portable across platforms
// without an extra dependency beyond the teacher's stack; a peer with
// nothing to say just times out and is skipped this tick, so one idle or
// slow peer never stalls the regular/optimistic unchoke timers, tracker
// refresh, or PENDING-block expiry past the 1-second suspension bound.
// Unhealthy or protocol-erroring peers are removed.
func (m *Manager) PollOnce(handlers peer.Handlers) {
	for _, p := range m.Snapshot() {
		if !p.Healthy {
			m.Remove(p)
			continue
		}

		msg, err := p.ReadMessage(pollReadTimeout)
		if err != nil {
			if errors.Is(err, peer.ErrReadTimeout) {
				continue
			}
			m.Remove(p)
			continue
		}

		if !msg.KeepAlive && (msg.ID == wire.Cancel || msg.ID == wire.Port) {
			m.log.Debugw("ignoring message", "peer", p.Addr(), "id", msg.ID)
		}

		if err := p.Apply(msg, handlers); err != nil {
			m.log.Debugw("peer protocol error", "peer", p.Addr(), "err", err)
			m.Remove(p)
		}
	}
}

// SendBitfield sends our current bitfield to every peer, e.g. right
// after a handshake completes.
func (m *Manager) SendBitfield(bits []byte) {
	for _, p := range m.Snapshot() {
		_ = p.Send(wire.Bitfield, bits)
	}
}

// RunChoking applies one tick of the regular-unchoke algorithm: the
// top RegularUnchokeSlots interested peers by recent download rate (or,
// while seeding, by recent upload rate) are unchoked; everyone else
// previously regular-unchoked is re-choked (spec.md §4.5, invariant P7).
func (m *Manager) RunChoking(now time.Time, seeding bool) {
	peers := m.Snapshot()

	var interested []*peer.Peer
	for _, p := range peers {
		if p.IsInterested() {
			interested = append(interested, p)
		}
	}

	sort.SliceStable(interested, func(i, j int) bool {
		if seeding {
			return interested[i].Stats.UploadRate(now) > interested[j].Stats.UploadRate(now)
		}
		return interested[i].Stats.DownloadRate(now) > interested[j].Stats.DownloadRate(now)
	})

	top := RegularUnchokeSlots
	if top > len(interested) {
		top = len(interested)
	}
	topSet := make(map[*peer.Peer]bool, top)
	for _, p := range interested[:top] {
		topSet[p] = true
	}

	mode := "download-rate"
	if seeding {
		mode = "seed-by-upload-rate"
	}
	m.log.Infow("regular unchoke", "unchoke_mode", mode, "interested", len(interested), "top", top)

	for _, p := range peers {
		_, isOptimistic := m.optimisticChoked[p.Addr()]
		want := topSet[p] || isOptimistic
		if want && p.AmChoking() {
			p.State.AmChoking = false
			_ = p.Send(wire.Unchoke, nil)
			m.log.Debugw("unchoked peer", "peer", p.Addr(), "unchoke_mode", mode)
		} else if !want && !p.AmChoking() {
			p.State.AmChoking = true
			_ = p.Send(wire.Choke, nil)
		}
	}
}

// RunOptimisticUnchoke picks one random choked, interested peer outside
// the current regular top-K and unchokes it, independent of the
// regular slots (spec.md §4.5).
func (m *Manager) RunOptimisticUnchoke() {
	peers := m.Snapshot()

	var candidates []*peer.Peer
	for _, p := range peers {
		if p.IsInterested() && p.AmChoking() {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return
	}

	m.mu.Lock()
	m.optimisticChoked = make(map[string]bool)
	m.mu.Unlock()

	chosen := candidates[rand.Intn(len(candidates))]
	chosen.State.AmChoking = false
	_ = chosen.Send(wire.Unchoke, nil)

	m.mu.Lock()
	m.optimisticChoked[chosen.Addr()] = true
	m.mu.Unlock()

	m.log.Debugw("optimistic unchoke", "peer", chosen.Addr())
}

// CloseAll closes every tracked peer's socket (spec.md §4.7 step 5).
func (m *Manager) CloseAll() {
	for _, p := range m.Snapshot() {
		m.Remove(p)
	}
}
