package tracker

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvbealr/bittorrent/internal/logging"
)

func TestParseCompactPeers(t *testing.T) {
	raw := []byte{127, 0, 0, 1, 0x1A, 0xE1} // 127.0.0.1:6881
	peers, err := parseCompactPeers(raw)
	require.NoError(t, err)
	require.Len(t, peers, 1)
	assert.Equal(t, "127.0.0.1", peers[0].IP)
	assert.Equal(t, uint16(6881), peers[0].Port)
}

func TestParseCompactPeersRejectsBadLength(t *testing.T) {
	_, err := parseCompactPeers([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestAnnounceHTTPDecodesCompactPeers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("compact"))
		w.Write([]byte("d8:intervali1800e5:peers6:\x7f\x00\x00\x01\x1a\xe1e"))
	}))
	defer srv.Close()

	req := Request{Port: 6881, Left: 100}
	resp, err := announceHTTP(srv.URL, req)
	require.NoError(t, err)
	require.Len(t, resp.Peers, 1)
	assert.Equal(t, "127.0.0.1", resp.Peers[0].IP)
	assert.Equal(t, 1800*time.Second, resp.Interval)
}

func TestAnnounceHTTPDecodesDictListPeers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("d8:intervali1800e5:peersld2:ip9:127.0.0.14:porti6881eeee"))
	}))
	defer srv.Close()

	req := Request{Port: 6881, Left: 100}
	resp, err := announceHTTP(srv.URL, req)
	require.NoError(t, err)
	require.Len(t, resp.Peers, 1)
	assert.Equal(t, "127.0.0.1", resp.Peers[0].IP)
	assert.Equal(t, uint16(6881), resp.Peers[0].Port)
	assert.Equal(t, 1800*time.Second, resp.Interval)
}

func TestAnnounceFallsThroughTiersOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("d8:intervali60e5:peers6:\x7f\x00\x00\x01\x1a\xe1e"))
	}))
	defer srv.Close()

	c := New([][]string{
		{"http://127.0.0.1:1/unreachable"},
		{srv.URL},
	}, logging.Noop())

	resp, err := c.Announce(Request{Port: 6881})
	require.NoError(t, err)
	assert.Len(t, resp.Peers, 1)
}
