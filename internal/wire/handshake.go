// Package wire implements the BitTorrent peer wire protocol framing:
// the 68-byte handshake and the length-prefixed message codec described
// in spec.md §6.
package wire

import (
	"bytes"
	"fmt"
	"io"
)

const protocolName = "BitTorrent protocol"

// HandshakeLen is the fixed wire size of a handshake message.
const HandshakeLen = 1 + len(protocolName) + 8 + 20 + 20

// Handshake is the strict 68-byte opening exchange:
// <0x13>"BitTorrent protocol"<8 reserved zero bytes><info_hash><peer_id>
type Handshake struct {
	InfoHash [20]byte
	PeerID   [20]byte
}

// Marshal encodes the handshake to its wire form.
func (h Handshake) Marshal() []byte {
	buf := make([]byte, HandshakeLen)
	buf[0] = byte(len(protocolName))
	copy(buf[1:], protocolName)
	// bytes 1+len(protocolName) : +8 are the reserved bytes, left zero.
	copy(buf[1+len(protocolName)+8:], h.InfoHash[:])
	copy(buf[1+len(protocolName)+8+20:], h.PeerID[:])
	return buf
}

// ReadHandshake reads and validates a 68-byte handshake from r. It does not
// verify the info_hash against any expectation; callers compare it
// themselves and mark the peer unhealthy on mismatch (spec.md §6).
func ReadHandshake(r io.Reader) (Handshake, error) {
	buf := make([]byte, HandshakeLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Handshake{}, fmt.Errorf("read handshake: %w", err)
	}

	if buf[0] != byte(len(protocolName)) {
		return Handshake{}, fmt.Errorf("invalid protocol name length: %d", buf[0])
	}
	if !bytes.Equal(buf[1:1+len(protocolName)], []byte(protocolName)) {
		return Handshake{}, fmt.Errorf("unexpected protocol name %q", buf[1:1+len(protocolName)])
	}

	var h Handshake
	copy(h.InfoHash[:], buf[1+len(protocolName)+8:1+len(protocolName)+8+20])
	copy(h.PeerID[:], buf[1+len(protocolName)+8+20:])
	return h, nil
}
