package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsMatchSpecConstants(t *testing.T) {
	d := Defaults()
	assert.Equal(t, 5, d.MaxOutstanding)
	assert.Equal(t, 10*time.Second, d.RegularUnchokeInterval)
	assert.Equal(t, 30*time.Second, d.OptimisticUnchokeInterval)
	assert.Equal(t, 180*time.Second, d.TrackerRefreshInterval)
	assert.Equal(t, 5*time.Second, d.BlockTimeout)
	assert.Equal(t, "random", d.PeerSelection)
	assert.Equal(t, 6881, d.ListenPort)
}

func TestFromViperFallsBackToDefaultsForZeroValues(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(flags)

	v := viper.New()
	require.NoError(t, v.BindPFlags(flags))

	cfg := FromViper(v, "file.torrent")
	assert.Equal(t, "file.torrent", cfg.TorrentFile)
	assert.Equal(t, Defaults().MaxOutstanding, cfg.MaxOutstanding)
	assert.Equal(t, Defaults().PeerSelection, cfg.PeerSelection)
}

func TestFromViperHonorsExplicitFlagValues(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(flags)
	require.NoError(t, flags.Set("peer-selection", "proportional-random"))
	require.NoError(t, flags.Set("max-outstanding", "9"))

	v := viper.New()
	require.NoError(t, v.BindPFlags(flags))

	cfg := FromViper(v, "file.torrent")
	assert.Equal(t, "proportional-random", cfg.PeerSelection)
	assert.Equal(t, 9, cfg.MaxOutstanding)
}
