package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewReturnsUsableLogger(t *testing.T) {
	log := New(false)
	assert.NotNil(t, log)
	log.Infow("test message", "key", "value")
}

func TestNoopDiscardsWithoutPanicking(t *testing.T) {
	log := Noop()
	assert.NotPanics(t, func() {
		log.Debugw("discarded", "a", 1)
	})
}
