package piece

import (
	"crypto/sha1"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEmptyBlockTransitionsToPending(t *testing.T) {
	p := New(0, BlockSize*2, [20]byte{})

	off, length, ok := p.GetEmptyBlock(time.Now())
	require.True(t, ok)
	assert.Equal(t, 0, off)
	assert.Equal(t, BlockSize, length)

	off2, _, ok2 := p.GetEmptyBlock(time.Now())
	require.True(t, ok2)
	assert.Equal(t, BlockSize, off2)

	_, _, ok3 := p.GetEmptyBlock(time.Now())
	assert.False(t, ok3, "no more free blocks")
}

func TestExpirePendingRevertsStaleBlocks(t *testing.T) {
	p := New(0, BlockSize, [20]byte{})
	_, _, ok := p.GetEmptyBlock(time.Now().Add(-10 * time.Second))
	require.True(t, ok)

	p.ExpirePending(5*time.Second, time.Now())

	off, _, ok := p.GetEmptyBlock(time.Now())
	require.True(t, ok, "block should be free again after expiry")
	assert.Equal(t, 0, off)
}

func TestTryCommitWritesRegionsOnHashMatch(t *testing.T) {
	dir := t.TempDir()
	data := []byte("0123456789abcdef") // 16 bytes, smaller than BlockSize
	hash := sha1.Sum(data)

	p := New(0, int64(len(data)), hash)
	path := filepath.Join(dir, "out.bin")
	p.FileInfo = []FileInfo{{PieceIndex: 0, Length: int64(len(data)), FileOffset: 0, PieceOffset: 0, Path: path}}

	off, length, ok := p.GetEmptyBlock(time.Now())
	require.True(t, ok)
	p.SetBlock(off, data[off:off+length])

	committed, err := p.TryCommit()
	require.NoError(t, err)
	assert.True(t, committed)
	assert.True(t, p.IsFull)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestTryCommitResetsOnHashMismatch(t *testing.T) {
	data := []byte("0123456789abcdef")
	wrongHash := sha1.Sum([]byte("not the data"))

	p := New(0, int64(len(data)), wrongHash)
	off, length, ok := p.GetEmptyBlock(time.Now())
	require.True(t, ok)
	p.SetBlock(off, data[off:off+length])

	committed, err := p.TryCommit()
	require.NoError(t, err)
	assert.False(t, committed)
	assert.False(t, p.IsFull)

	// blocks should be reset to FREE, so a new GetEmptyBlock succeeds again
	_, _, ok = p.GetEmptyBlock(time.Now())
	assert.True(t, ok)
}

func TestGetBlockOnlyWorksWhenFull(t *testing.T) {
	p := New(0, 16, [20]byte{})
	assert.Nil(t, p.GetBlock(0, 4))
}
