package bterrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFatalKinds(t *testing.T) {
	assert.True(t, KindMalformedTorrent.Fatal())
	assert.True(t, KindDisk.Fatal())
	assert.False(t, KindTrackerUnreachable.Fatal())
	assert.False(t, KindPeerProtocol.Fatal())
}

func TestUnwrapReturnsUnderlyingError(t *testing.T) {
	underlying := errors.New("boom")
	err := New(KindDisk, "piece.commit", underlying)
	assert.ErrorIs(t, err, underlying)
}

func TestErrorStringIncludesOpAndKind(t *testing.T) {
	err := New(KindPeerProtocol, "peer.Apply", errors.New("bad frame"))
	assert.Contains(t, err.Error(), "peer.Apply")
	assert.Contains(t, err.Error(), "peer_protocol")
	assert.Contains(t, err.Error(), "bad frame")
}
