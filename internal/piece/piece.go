// Package piece implements the Piece/Block bookkeeping described in
// spec.md §4.2: fixed-size blocks assembled into a hash-verified piece,
// written to its on-disk regions on commit.
package piece

import (
	"crypto/sha1"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// BlockSize is the fixed request unit, 16 KiB, per spec.md §4.2.
const BlockSize = 1 << 14

// BlockState is the lifecycle state of a single block.
type BlockState int

const (
	BlockFree BlockState = iota
	BlockPending
	BlockFull
)

// Block is one fixed-size (or trailing short) sub-range of a piece.
type Block struct {
	State    BlockState
	Size     int
	Data     []byte
	LastSeen time.Time
}

// FileInfo describes the on-disk region a piece's bytes belong to.
type FileInfo struct {
	PieceIndex  int
	Length      int64
	FileOffset  int64
	PieceOffset int64
	Path        string
}

// Piece owns an ordered set of blocks plus the on-disk regions it commits
// into once fully assembled and hash-verified.
type Piece struct {
	mu sync.Mutex

	Index    int
	Size     int64
	Hash     [20]byte
	IsFull   bool
	RawData  []byte
	FileInfo []FileInfo

	blocks []Block
}

// New builds a Piece with all blocks FREE.
func New(index int, size int64, hash [20]byte) *Piece {
	p := &Piece{Index: index, Size: size, Hash: hash}
	p.initBlocks()
	return p
}

func (p *Piece) initBlocks() {
	numBlocks := int(math.Ceil(float64(p.Size) / float64(BlockSize)))
	p.blocks = make([]Block, numBlocks)

	if numBlocks > 1 {
		for i := range p.blocks {
			p.blocks[i] = Block{State: BlockFree, Size: BlockSize}
		}
		if rem := p.Size % BlockSize; rem > 0 {
			p.blocks[numBlocks-1].Size = int(rem)
		}
	} else {
		p.blocks[0] = Block{State: BlockFree, Size: int(p.Size)}
	}
}

// NumBlocks returns the number of blocks the piece is split into.
func (p *Piece) NumBlocks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.blocks)
}

// ExpirePending reverts any PENDING block whose last_seen is older than
// timeout back to FREE. Called by PiecesManager's periodic sweep
// (spec.md §4.2, invariant P6).
func (p *Piece) ExpirePending(timeout time.Duration, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.blocks {
		b := &p.blocks[i]
		if b.State == BlockPending && now.Sub(b.LastSeen) > timeout {
			b.State = BlockFree
			b.Data = nil
			b.LastSeen = time.Time{}
		}
	}
}

// GetEmptyBlock returns the offset and length of the first FREE block and
// atomically transitions it to PENDING. Returns ok=false if the piece is
// already full or has no FREE block.
func (p *Piece) GetEmptyBlock(now time.Time) (offset int, length int, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.IsFull {
		return 0, 0, false
	}

	for i := range p.blocks {
		if p.blocks[i].State == BlockFree {
			p.blocks[i].State = BlockPending
			p.blocks[i].LastSeen = now
			return i * BlockSize, p.blocks[i].Size, true
		}
	}
	return 0, 0, false
}

// RevertBlock puts the block at offset back to FREE, undoing a
// GetEmptyBlock claim that a caller decided not to use (e.g. a download
// rate limiter refusing it this tick).
func (p *Piece) RevertBlock(offset int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	i := offset / BlockSize
	if i < 0 || i >= len(p.blocks) {
		return
	}
	if p.blocks[i].State == BlockPending {
		p.blocks[i].State = BlockFree
		p.blocks[i].Data = nil
		p.blocks[i].LastSeen = time.Time{}
	}
}

// SetBlock writes payload data into the block covering pieceOffset, and
// transitions it to FULL if the lengths match. No-op if the block is
// already FULL or the payload length is wrong.
func (p *Piece) SetBlock(pieceOffset int, data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := pieceOffset / BlockSize
	if idx < 0 || idx >= len(p.blocks) {
		return
	}
	b := &p.blocks[idx]
	if b.State == BlockFull || len(data) != b.Size {
		return
	}
	b.Data = data
	b.State = BlockFull
}

// GetBlock reads blockLength bytes at blockOffset from the piece's
// committed raw data, for serving upload requests. Only valid once IsFull.
func (p *Piece) GetBlock(blockOffset, blockLength int) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.IsFull {
		return nil
	}
	end := blockOffset + blockLength
	if blockOffset < 0 || end > len(p.RawData) {
		return nil
	}
	out := make([]byte, blockLength)
	copy(out, p.RawData[blockOffset:end])
	return out
}

// TryCommit attempts to finish the piece: if every block is FULL, it
// concatenates their data, verifies the SHA-1 against Hash, and on match
// sets IsFull, stores RawData, and writes each FileInfo region to disk.
// On mismatch it resets all blocks to FREE. This is the single
// linearization point described in spec.md §5: hash check, disk write,
// then (by the caller) bitfield set, in that order.
func (p *Piece) TryCommit() (bool, error) {
	p.mu.Lock()

	for i := range p.blocks {
		if p.blocks[i].State != BlockFull {
			p.mu.Unlock()
			return false, nil
		}
	}

	data := make([]byte, 0, p.Size)
	for _, b := range p.blocks {
		data = append(data, b.Data...)
	}

	if int64(len(data)) != p.Size {
		p.mu.Unlock()
		return false, nil
	}

	sum := sha1.Sum(data)
	if sum != p.Hash {
		p.initBlocks()
		p.mu.Unlock()
		return false, nil
	}

	p.IsFull = true
	p.RawData = data
	fileInfo := append([]FileInfo(nil), p.FileInfo...)
	p.mu.Unlock()

	if err := writeRegions(fileInfo, data); err != nil {
		p.mu.Lock()
		p.IsFull = false
		p.mu.Unlock()
		return false, fmt.Errorf("write piece %d to disk: %w", p.Index, err)
	}

	return true, nil
}

// TryCommitFromDisk reads every FileInfo region from its existing file
// and, if every region is present and full-length, stages the blocks as
// if received over the wire and runs the normal TryCommit, which on a
// hash match writes the same bytes back to their regions. Returns ok=false without error if the piece's
// files are partial or missing, which resume scan treats as "not yet
// downloaded" rather than a failure (spec.md §4.6, grounded on
// original_source/pieces_manager.py's _read_from_disk).
func (p *Piece) TryCommitFromDisk() (bool, error) {
	if p.IsFull {
		return true, nil
	}

	regions := append([]FileInfo(nil), p.FileInfo...)
	sort.Slice(regions, func(i, j int) bool { return regions[i].PieceOffset < regions[j].PieceOffset })

	data := make([]byte, p.Size)
	for _, info := range regions {
		f, err := os.Open(info.Path)
		if err != nil {
			return false, nil
		}
		n, err := f.ReadAt(data[info.PieceOffset:info.PieceOffset+info.Length], info.FileOffset)
		f.Close()
		if err != nil || int64(n) != info.Length {
			return false, nil
		}
	}

	offset := 0
	p.mu.Lock()
	blocks := p.blocks
	p.mu.Unlock()
	for _, b := range blocks {
		p.SetBlock(offset, data[offset:offset+b.Size])
		offset += b.Size
	}

	return p.TryCommit()
}

func writeRegions(regions []FileInfo, raw []byte) error {
	for _, info := range regions {
		if err := os.MkdirAll(filepath.Dir(info.Path), 0755); err != nil {
			return err
		}
		f, err := os.OpenFile(info.Path, os.O_RDWR|os.O_CREATE, 0644)
		if err != nil {
			return err
		}
		_, err = f.WriteAt(raw[info.PieceOffset:info.PieceOffset+info.Length], info.FileOffset)
		closeErr := f.Close()
		if err != nil {
			return err
		}
		if closeErr != nil {
			return closeErr
		}
	}
	return nil
}
