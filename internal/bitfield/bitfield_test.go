package bitfield

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetAndHas(t *testing.T) {
	b := New(10)
	assert.False(t, b.Has(3))
	b.Set(3)
	assert.True(t, b.Has(3))
	assert.Equal(t, 1, b.Count())
}

func TestBytesRoundTrip(t *testing.T) {
	b := New(10)
	b.Set(0)
	b.Set(9)

	wire := b.Bytes()
	round := FromBytes(10, wire)

	assert.True(t, round.Has(0))
	assert.True(t, round.Has(9))
	assert.False(t, round.Has(5))
}

func TestAll(t *testing.T) {
	b := New(3)
	assert.False(t, b.All())
	b.Set(0)
	b.Set(1)
	b.Set(2)
	assert.True(t, b.All())
}

func TestHasOutOfRange(t *testing.T) {
	b := New(4)
	assert.False(t, b.Has(100))
	assert.False(t, b.Has(-1))
}
