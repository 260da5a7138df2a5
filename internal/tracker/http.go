package tracker

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/jackpal/bencode-go"
)

// httpResponse mirrors the bencoded dict an HTTP tracker replies with,
// grounded on the teacher's torrent/tracker.go SendHTTPTrackerRequest.
// Peers holds the compact binary form (6 bytes per peer); some trackers
// ignore our "compact=1" hint and reply with a bencoded list of
// {ip, port} dicts instead (spec.md §4.3), which this struct's Peers
// field can't decode into — httpResponseList is tried as a fallback
// by decodeHTTPPeers below.
type httpResponse struct {
	FailureReason string `bencode:"failure reason"`
	Interval      int    `bencode:"interval"`
	Peers         string `bencode:"peers"`
}

// httpResponseList is httpResponse's shape when the tracker answers with
// the non-compact dictionary-list peers form.
type httpResponseList struct {
	FailureReason string `bencode:"failure reason"`
	Interval      int    `bencode:"interval"`
	Peers         []struct {
		IP   string `bencode:"ip"`
		Port int    `bencode:"port"`
	} `bencode:"peers"`
}

// announceHTTP performs a single GET announce against an HTTP(S) tracker,
// requesting the compact peer list form but accepting either form the
// tracker actually replies with (spec.md §4.3).
func announceHTTP(trackerURL string, req Request) (*Response, error) {
	u, err := url.Parse(trackerURL)
	if err != nil {
		return nil, fmt.Errorf("parsing tracker url: %w", err)
	}

	q := u.Query()
	q.Set("info_hash", string(req.InfoHash[:]))
	q.Set("peer_id", string(req.PeerID[:]))
	q.Set("port", fmt.Sprintf("%d", req.Port))
	q.Set("uploaded", fmt.Sprintf("%d", req.Uploaded))
	q.Set("downloaded", fmt.Sprintf("%d", req.Downloaded))
	q.Set("left", fmt.Sprintf("%d", req.Left))
	q.Set("compact", "1")
	if req.Event != EventEmpty {
		q.Set("event", formatEvent(req.Event))
	}
	u.RawQuery = q.Encode()

	client := http.Client{Timeout: 15 * time.Second}
	resp, err := client.Get(u.String())
	if err != nil {
		return nil, fmt.Errorf("announcing to %s: %w", trackerURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading tracker response: %w", err)
	}

	peers, interval, err := decodeHTTPPeers(body)
	if err != nil {
		return nil, err
	}

	return &Response{Peers: peers, Interval: interval}, nil
}

// decodeHTTPPeers tries the compact binary peers form first, then falls
// back to the bencoded list-of-dicts form some trackers use regardless
// of our "compact=1" request (spec.md §4.3's "either... or" requirement).
func decodeHTTPPeers(body []byte) ([]PeerAddr, time.Duration, error) {
	var compact httpResponse
	if err := bencode.Unmarshal(bytes.NewReader(body), &compact); err == nil {
		if compact.FailureReason != "" {
			return nil, 0, fmt.Errorf("tracker failure: %s", compact.FailureReason)
		}
		peers, err := parseCompactPeers([]byte(compact.Peers))
		if err != nil {
			return nil, 0, fmt.Errorf("parsing peers: %w", err)
		}
		return peers, normalizeInterval(compact.Interval), nil
	}

	// The compact form's "peers" key wasn't a byte string (tracker used
	// the dictionary-list form instead); retry with that shape.
	var list httpResponseList
	if err := bencode.Unmarshal(bytes.NewReader(body), &list); err != nil {
		return nil, 0, fmt.Errorf("decoding tracker response: %w", err)
	}
	if list.FailureReason != "" {
		return nil, 0, fmt.Errorf("tracker failure: %s", list.FailureReason)
	}

	peers := make([]PeerAddr, 0, len(list.Peers))
	for _, p := range list.Peers {
		peers = append(peers, PeerAddr{IP: p.IP, Port: uint16(p.Port)})
	}
	return peers, normalizeInterval(list.Interval), nil
}

func normalizeInterval(seconds int) time.Duration {
	interval := time.Duration(seconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	return interval
}
