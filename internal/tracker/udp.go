package tracker

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"net/url"
	"time"
)

// UDP tracker protocol constants per BEP-15, grounded on the teacher's
// torrent/tracker.go SendUDPTrackerRequest.
const (
	udpProtocolMagic = 0x41727101980
	udpActionConnect = 0
	udpActionAnnounce = 1
	udpDialTimeout    = 5 * time.Second
)

var eventCodes = map[Event]uint32{
	EventEmpty:     0,
	EventCompleted: 1,
	EventStarted:   2,
	EventStopped:   3,
}

// announceUDP performs a connect+announce round trip against a UDP
// tracker (spec.md §4.3).
func announceUDP(trackerURL string, req Request) (*Response, error) {
	u, err := url.Parse(trackerURL)
	if err != nil {
		return nil, fmt.Errorf("parsing tracker url: %w", err)
	}

	conn, err := net.DialTimeout("udp", u.Host, udpDialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dialing udp tracker %s: %w", trackerURL, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(udpDialTimeout))

	connID, err := udpConnect(conn)
	if err != nil {
		return nil, fmt.Errorf("udp connect to %s: %w", trackerURL, err)
	}

	return udpAnnounce(conn, connID, req)
}

func udpConnect(conn net.Conn) (uint64, error) {
	txID := randomTransactionID()

	var out bytes.Buffer
	binary.Write(&out, binary.BigEndian, uint64(udpProtocolMagic))
	binary.Write(&out, binary.BigEndian, uint32(udpActionConnect))
	binary.Write(&out, binary.BigEndian, txID)
	if _, err := conn.Write(out.Bytes()); err != nil {
		return 0, err
	}

	buf := make([]byte, 16)
	n, err := conn.Read(buf)
	if err != nil {
		return 0, err
	}
	if n < 16 {
		return 0, fmt.Errorf("connect response too short: %d bytes", n)
	}

	action := binary.BigEndian.Uint32(buf[0:4])
	gotTxID := binary.BigEndian.Uint32(buf[4:8])
	if action != udpActionConnect || gotTxID != txID {
		return 0, fmt.Errorf("connect response mismatch: action=%d txID=%d", action, gotTxID)
	}

	return binary.BigEndian.Uint64(buf[8:16]), nil
}

func udpAnnounce(conn net.Conn, connID uint64, req Request) (*Response, error) {
	txID := randomTransactionID()

	var out bytes.Buffer
	binary.Write(&out, binary.BigEndian, connID)
	binary.Write(&out, binary.BigEndian, uint32(udpActionAnnounce))
	binary.Write(&out, binary.BigEndian, txID)
	out.Write(req.InfoHash[:])
	out.Write(req.PeerID[:])
	binary.Write(&out, binary.BigEndian, req.Downloaded)
	binary.Write(&out, binary.BigEndian, req.Left)
	binary.Write(&out, binary.BigEndian, req.Uploaded)
	binary.Write(&out, binary.BigEndian, eventCodes[req.Event])
	binary.Write(&out, binary.BigEndian, uint32(0)) // IP, 0 = tracker infers it
	binary.Write(&out, binary.BigEndian, randomTransactionID()) // key
	binary.Write(&out, binary.BigEndian, int32(-1))             // num_want, -1 = default
	binary.Write(&out, binary.BigEndian, req.Port)

	if _, err := conn.Write(out.Bytes()); err != nil {
		return nil, err
	}

	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, err
	}
	if n < 20 {
		return nil, fmt.Errorf("announce response too short: %d bytes", n)
	}

	action := binary.BigEndian.Uint32(buf[0:4])
	gotTxID := binary.BigEndian.Uint32(buf[4:8])
	if action != udpActionAnnounce || gotTxID != txID {
		return nil, fmt.Errorf("announce response mismatch: action=%d txID=%d", action, gotTxID)
	}

	interval := time.Duration(binary.BigEndian.Uint32(buf[8:12])) * time.Second
	peers, err := parseCompactPeers(buf[20:n])
	if err != nil {
		return nil, fmt.Errorf("parsing udp peers: %w", err)
	}

	return &Response{Peers: peers, Interval: interval}, nil
}

func randomTransactionID() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint32(time.Now().UnixNano())
	}
	return binary.BigEndian.Uint32(b[:])
}
