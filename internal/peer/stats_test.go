package peer

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUploadRatioInfiniteWhenNoDownload(t *testing.T) {
	s := NewStats()
	s.RecordUpload(100, time.Now())
	assert.True(t, math.IsInf(s.UploadRatio(), 1))
}

func TestUploadRatio(t *testing.T) {
	s := NewStats()
	now := time.Now()
	s.RecordUpload(50, now)
	s.RecordDownload(100, now)
	assert.InDelta(t, 0.5, s.UploadRatio(), 0.0001)
}

func TestDownloadRateDecaysOverTime(t *testing.T) {
	s := NewStats()
	now := time.Now()
	s.RecordDownload(16384, now)

	recent := s.DownloadRate(now)
	later := s.DownloadRate(now.Add(60 * time.Second))

	assert.Greater(t, recent, later)
}

func TestTotals(t *testing.T) {
	s := NewStats()
	now := time.Now()
	s.RecordUpload(10, now)
	s.RecordDownload(20, now)

	up, down := s.Totals()
	assert.EqualValues(t, 10, up)
	assert.EqualValues(t, 20, down)
}
