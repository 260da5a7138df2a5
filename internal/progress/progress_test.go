package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lvbealr/bittorrent/internal/logging"
)

func TestNewSetFinishDoNotPanic(t *testing.T) {
	bar := New("test.torrent", 10, logging.Noop())
	assert.NotPanics(t, func() {
		bar.Set(3)
		bar.Set(10)
		bar.Finish()
	})
}
