package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MessageID enumerates the BitTorrent peer wire protocol message types
// (spec.md §4.4).
type MessageID uint8

const (
	Choke MessageID = iota
	Unchoke
	Interested
	NotInterested
	Have
	Bitfield
	Request
	Piece
	Cancel
	Port
)

func (id MessageID) String() string {
	switch id {
	case Choke:
		return "choke"
	case Unchoke:
		return "unchoke"
	case Interested:
		return "interested"
	case NotInterested:
		return "not_interested"
	case Have:
		return "have"
	case Bitfield:
		return "bitfield"
	case Request:
		return "request"
	case Piece:
		return "piece"
	case Cancel:
		return "cancel"
	case Port:
		return "port"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(id))
	}
}

// maxMessageLength bounds inbound frames to reject obviously hostile
// length prefixes before allocating a buffer for them.
const maxMessageLength = 1 << 20

// Message is a parsed inbound or outbound peer wire message. A length of
// zero with no ID present represents a keep-alive.
type Message struct {
	KeepAlive bool
	ID        MessageID
	Payload   []byte
}

// RequestPayload is the fixed 12-byte payload of Request and Cancel
// messages: index, begin, length, all big-endian uint32.
type RequestPayload struct {
	Index  uint32
	Begin  uint32
	Length uint32
}

func (r RequestPayload) Marshal() []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint32(buf[0:4], r.Index)
	binary.BigEndian.PutUint32(buf[4:8], r.Begin)
	binary.BigEndian.PutUint32(buf[8:12], r.Length)
	return buf
}

func ParseRequestPayload(payload []byte) (RequestPayload, error) {
	if len(payload) != 12 {
		return RequestPayload{}, fmt.Errorf("request/cancel payload must be 12 bytes, got %d", len(payload))
	}
	return RequestPayload{
		Index:  binary.BigEndian.Uint32(payload[0:4]),
		Begin:  binary.BigEndian.Uint32(payload[4:8]),
		Length: binary.BigEndian.Uint32(payload[8:12]),
	}, nil
}

// PiecePayload is the payload of a Piece message: index, begin, then the
// raw block bytes.
type PiecePayload struct {
	Index uint32
	Begin uint32
	Block []byte
}

func (p PiecePayload) Marshal() []byte {
	buf := make([]byte, 8+len(p.Block))
	binary.BigEndian.PutUint32(buf[0:4], p.Index)
	binary.BigEndian.PutUint32(buf[4:8], p.Begin)
	copy(buf[8:], p.Block)
	return buf
}

func ParsePiecePayload(payload []byte) (PiecePayload, error) {
	if len(payload) < 8 {
		return PiecePayload{}, fmt.Errorf("piece payload must be at least 8 bytes, got %d", len(payload))
	}
	return PiecePayload{
		Index: binary.BigEndian.Uint32(payload[0:4]),
		Begin: binary.BigEndian.Uint32(payload[4:8]),
		Block: payload[8:],
	}, nil
}

// expectedPayloadLen validates payload size against the message id, per
// spec.md §6 ("undersize/oversize ⇒ unhealthy"). -1 means variable length.
func expectedPayloadLen(id MessageID) int {
	switch id {
	case Choke, Unchoke, Interested, NotInterested:
		return 0
	case Have:
		return 4
	case Request, Cancel:
		return 12
	case Port:
		return 2
	case Bitfield, Piece:
		return -1
	default:
		return -1
	}
}

// Read parses one framed message from r: <uint32 length><optional id><payload>.
// A zero length is a keep-alive. Undersize/oversize payloads for a known id
// return an error so the caller can mark the peer unhealthy.
func Read(r io.Reader) (Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Message{}, fmt.Errorf("read length prefix: %w", err)
	}
	length := binary.BigEndian.Uint32(lenBuf[:])

	if length == 0 {
		return Message{KeepAlive: true}, nil
	}
	if length > maxMessageLength {
		return Message{}, fmt.Errorf("message length %d exceeds maximum %d", length, maxMessageLength)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Message{}, fmt.Errorf("read message body: %w", err)
	}

	id := MessageID(body[0])
	payload := body[1:]

	if want := expectedPayloadLen(id); want >= 0 && len(payload) != want {
		return Message{}, fmt.Errorf("message id %s expects payload length %d, got %d", id, want, len(payload))
	}

	return Message{ID: id, Payload: payload}, nil
}

// Marshal encodes a message to its wire form, including the length prefix.
func Marshal(id MessageID, payload []byte) []byte {
	length := uint32(1 + len(payload))
	buf := make([]byte, 4+length)
	binary.BigEndian.PutUint32(buf[0:4], length)
	buf[4] = byte(id)
	copy(buf[5:], payload)
	return buf
}

// MarshalKeepAlive encodes the zero-length keep-alive message.
func MarshalKeepAlive() []byte {
	return []byte{0, 0, 0, 0}
}

// MarshalHave encodes a Have message for the given piece index.
func MarshalHave(index uint32) []byte {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, index)
	return Marshal(Have, payload)
}

// MarshalPort encodes a Port message (spec.md §4.4 id 9; no-op, logged only).
func MarshalPort(port uint16) []byte {
	payload := make([]byte, 2)
	binary.BigEndian.PutUint16(payload, port)
	return Marshal(Port, payload)
}
