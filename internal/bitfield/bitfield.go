// Package bitfield implements the per-piece possession bitmap shared by
// the local side (LocalBitfield) and tracked per-remote-peer bitfields.
package bitfield

import (
	"sync"

	"github.com/bits-and-blooms/bitset"
)

// Bitfield is a synchronized, fixed-length bit-per-piece map. The local
// copy is single-writer (PiecesManager); readers may observe stale bits
// but never an index past the final commit (spec.md §5).
type Bitfield struct {
	mu   sync.RWMutex
	bits *bitset.BitSet
	n    int
}

// New builds a Bitfield with n bits, all clear.
func New(n int) *Bitfield {
	return &Bitfield{bits: bitset.New(uint(n)), n: n}
}

// FromBytes builds a Bitfield from a byte-packed wire payload (spec.md §4.4,
// message id 5), most-significant-bit-first within each byte.
func FromBytes(n int, payload []byte) *Bitfield {
	b := New(n)
	for i := 0; i < n; i++ {
		byteIdx := i / 8
		bitIdx := 7 - (i % 8)
		if byteIdx >= len(payload) {
			break
		}
		if payload[byteIdx]>>uint(bitIdx)&1 == 1 {
			b.Set(i)
		}
	}
	return b
}

// Set marks piece i as possessed.
func (b *Bitfield) Set(i int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i >= 0 && i < b.n {
		b.bits.Set(uint(i))
	}
}

// Has reports whether piece i is possessed.
func (b *Bitfield) Has(i int) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if i < 0 || i >= b.n {
		return false
	}
	return b.bits.Test(uint(i))
}

// Count returns the number of set bits.
func (b *Bitfield) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return int(b.bits.Count())
}

// Len returns the number of pieces this bitfield covers.
func (b *Bitfield) Len() int {
	return b.n
}

// Bytes packs the bitfield into the wire format for message id 5: one bit
// per piece, most-significant-bit-first, padded with zero bits.
func (b *Bitfield) Bytes() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]byte, (b.n+7)/8)
	for i := 0; i < b.n; i++ {
		if b.bits.Test(uint(i)) {
			out[i/8] |= 1 << uint(7-(i%8))
		}
	}
	return out
}

// All reports whether every tracked bit is set.
func (b *Bitfield) All() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return int(b.bits.Count()) == b.n
}
