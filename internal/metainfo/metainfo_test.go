package metainfo

import (
	"crypto/sha1"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildTorrentFile hand-assembles a minimal single-file bencoded
// .torrent, the way a reader would do it by following BEP-3, to avoid
// depending on the encoder producing the exact key order the decoder
// then has to re-derive the info hash from.
func buildTorrentFile(t *testing.T, pieceLength int, pieces string, length int, name string) string {
	t.Helper()
	info := "d6:lengthi" + itoa(length) + "e4:name" + itoa(len(name)) + ":" + name +
		"12:piece lengthi" + itoa(pieceLength) + "e6:pieces" + itoa(len(pieces)) + ":" + pieces + "e"
	full := "d8:announce14:http://tracker4:info" + info + "e"

	dir := t.TempDir()
	path := filepath.Join(dir, "test.torrent")
	require.NoError(t, os.WriteFile(path, []byte(full), 0644))
	return path
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf []byte
	for n > 0 {
		buf = append([]byte{byte('0' + n%10)}, buf...)
		n /= 10
	}
	if neg {
		buf = append([]byte{'-'}, buf...)
	}
	return string(buf)
}

func TestLoadComputesByteExactInfoHash(t *testing.T) {
	pieceHash := string(make([]byte, 20))
	path := buildTorrentFile(t, 16384, pieceHash, 16384, "file.bin")

	tor, err := Load(path, PeerIDStyleTimestamp)
	require.NoError(t, err)

	assert.Equal(t, int64(16384), tor.PieceLength)
	assert.Equal(t, int64(16384), tor.TotalLength)
	assert.Equal(t, 1, tor.NumberOfPieces)
	assert.Equal(t, "file.bin", tor.Name)

	wantHash := sha1.Sum([]byte("d6:lengthi16384e4:name8:file.bin12:piece lengthi16384e6:pieces20:" + pieceHash + "e"))
	assert.Equal(t, wantHash, tor.InfoHash)
}

func TestLoadRejectsBadPiecesLength(t *testing.T) {
	path := buildTorrentFile(t, 16384, "short", 16384, "file.bin")
	_, err := Load(path, PeerIDStyleTimestamp)
	assert.Error(t, err)
}

func TestGeneratePeerIDStylesProduce20Bytes(t *testing.T) {
	ts, err := generatePeerID(PeerIDStyleTimestamp)
	require.NoError(t, err)
	assert.Len(t, ts, 20)

	rnd, err := generatePeerID(PeerIDStyleRandom)
	require.NoError(t, err)
	assert.Len(t, rnd, 20)
	assert.Equal(t, "-GT0001-", string(rnd[:8]))
}

func TestPieceSizeShortensLastPiece(t *testing.T) {
	tor := &Torrent{PieceLength: 100, TotalLength: 250, NumberOfPieces: 3}
	assert.Equal(t, int64(100), tor.PieceSize(0))
	assert.Equal(t, int64(100), tor.PieceSize(1))
	assert.Equal(t, int64(50), tor.PieceSize(2))
}
