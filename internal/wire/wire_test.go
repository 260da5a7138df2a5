package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandshakeRoundTrip(t *testing.T) {
	h := Handshake{InfoHash: [20]byte{1, 2, 3}, PeerID: [20]byte{9, 8, 7}}
	buf := bytes.NewBuffer(h.Marshal())

	got, err := ReadHandshake(buf)
	require.NoError(t, err)
	assert.Equal(t, h.InfoHash, got.InfoHash)
	assert.Equal(t, h.PeerID, got.PeerID)
}

func TestReadHandshakeRejectsBadProtocol(t *testing.T) {
	buf := make([]byte, HandshakeLen)
	buf[0] = 19
	copy(buf[1:], "not the right proto")

	_, err := ReadHandshake(bytes.NewReader(buf))
	assert.Error(t, err)
}

func TestReadKeepAlive(t *testing.T) {
	msg, err := Read(bytes.NewReader([]byte{0, 0, 0, 0}))
	require.NoError(t, err)
	assert.True(t, msg.KeepAlive)
}

func TestReadRejectsBadHaveLength(t *testing.T) {
	frame := Marshal(Have, []byte{1, 2}) // should be 4 bytes
	_, err := Read(bytes.NewReader(frame))
	assert.Error(t, err)
}

func TestRequestPayloadRoundTrip(t *testing.T) {
	rp := RequestPayload{Index: 3, Begin: 16384, Length: 16384}
	parsed, err := ParseRequestPayload(rp.Marshal())
	require.NoError(t, err)
	assert.Equal(t, rp, parsed)
}

func TestPiecePayloadRoundTrip(t *testing.T) {
	pp := PiecePayload{Index: 1, Begin: 0, Block: []byte("hello")}
	parsed, err := ParsePiecePayload(pp.Marshal())
	require.NoError(t, err)
	assert.Equal(t, pp.Index, parsed.Index)
	assert.Equal(t, pp.Begin, parsed.Begin)
	assert.Equal(t, pp.Block, parsed.Block)
}

func TestMessageRoundTrip(t *testing.T) {
	frame := Marshal(Unchoke, nil)
	msg, err := Read(bytes.NewReader(frame))
	require.NoError(t, err)
	assert.False(t, msg.KeepAlive)
	assert.Equal(t, Unchoke, msg.ID)
	assert.Empty(t, msg.Payload)
}
