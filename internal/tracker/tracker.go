// Package tracker contacts HTTP and UDP trackers to discover peers
// (spec.md §4.3). Grounded on the teacher's torrent/tracker.go, split
// into HTTP and UDP clients tried tier-by-tier.
package tracker

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/lvbealr/bittorrent/internal/bterrors"
)

// Event is the tracker announce event (spec.md §4.3, §6).
type Event string

const (
	EventStarted   Event = "started"
	EventStopped   Event = "stopped"
	EventCompleted Event = "completed"
	EventEmpty     Event = ""
)

// PeerAddr is a discovered candidate peer.
type PeerAddr struct {
	IP   string
	Port uint16
}

// Request carries the announce parameters common to both HTTP and UDP
// trackers (spec.md §6).
type Request struct {
	InfoHash   [20]byte
	PeerID     [20]byte
	Port       uint16
	Uploaded   uint64
	Downloaded uint64
	Left       uint64
	Event      Event
}

// Response is a tracker's reply: a deduped peer list and its suggested
// re-announce interval.
type Response struct {
	Peers    []PeerAddr
	Interval time.Duration
}

// Client announces to every tier of a torrent's announce list, tier by
// tier, returning the first tier's successes (spec.md §4.3: "Tries
// trackers tier-by-tier, first success returns; on all-fail returns empty
// list").
type Client struct {
	AnnounceList [][]string
	Log          *zap.SugaredLogger
}

// New builds a tracker Client for the given announce-list tiers.
func New(announceList [][]string, log *zap.SugaredLogger) *Client {
	return &Client{AnnounceList: announceList, Log: log}
}

// Announce contacts trackers tier by tier until one tier yields peers,
// deduping by (ip, port) across all trackers tried in that tier.
func (c *Client) Announce(req Request) (*Response, error) {
	for _, tier := range c.AnnounceList {
		peers := make(map[string]PeerAddr)
		var interval time.Duration

		for _, url := range tier {
			resp, err := c.announceOne(url, req)
			if err != nil {
				c.Log.Warnw("tracker announce failed", "url", url, "err", err)
				continue
			}
			for _, p := range resp.Peers {
				peers[fmt.Sprintf("%s:%d", p.IP, p.Port)] = p
			}
			if interval == 0 || resp.Interval < interval {
				interval = resp.Interval
			}
		}

		if len(peers) > 0 {
			out := make([]PeerAddr, 0, len(peers))
			for _, p := range peers {
				out = append(out, p)
			}
			return &Response{Peers: out, Interval: interval}, nil
		}
	}

	return nil, bterrors.New(bterrors.KindTrackerUnreachable, "tracker.Announce", fmt.Errorf("all tiers failed"))
}

// announceOne dials a single tracker URL, retrying transient failures with
// bounded exponential backoff (generalizing the teacher's ad hoc 3-attempt
// UDP connect retry in torrent/tracker.go into one shared policy).
func (c *Client) announceOne(url string, req Request) (*Response, error) {
	var resp *Response

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2)
	err := backoff.Retry(func() error {
		var err error
		switch {
		case isUDP(url):
			resp, err = announceUDP(url, req)
		case isHTTP(url):
			resp, err = announceHTTP(url, req)
		default:
			return backoff.Permanent(fmt.Errorf("unsupported tracker scheme: %s", url))
		}
		return err
	}, policy)

	return resp, err
}

func isHTTP(url string) bool {
	return strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")
}

func isUDP(url string) bool {
	return strings.HasPrefix(url, "udp://")
}

// parseCompactPeers decodes the 6-byte-per-peer compact form (4 bytes IP,
// 2 bytes big-endian port) shared by HTTP and UDP tracker responses.
func parseCompactPeers(raw []byte) ([]PeerAddr, error) {
	if len(raw)%6 != 0 {
		return nil, fmt.Errorf("compact peers length %d is not a multiple of 6", len(raw))
	}

	var out []PeerAddr
	for i := 0; i < len(raw); i += 6 {
		ip := net.IPv4(raw[i], raw[i+1], raw[i+2], raw[i+3]).String()
		port := uint16(raw[i+4])<<8 | uint16(raw[i+5])
		out = append(out, PeerAddr{IP: ip, Port: port})
	}
	return out, nil
}

func formatEvent(e Event) string {
	return string(e)
}
