// Package config binds the engine's runtime configuration via viper,
// populated from CLI flags registered by cmd/bittorrent.
package config

import (
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully resolved set of knobs the engine runs with.
type Config struct {
	TorrentFile     string
	OutputDir       string
	Verbose         bool
	Seed            bool
	DeleteTorrent   bool
	ListenPort      int
	MaxOutstanding  int
	PeerSelection   string
	PeerIDStyle     string
	UploadRateLimit int64 // bytes/sec, 0 = unlimited
	DownloadLimit   int64 // bytes/sec, 0 = unlimited

	RegularUnchokeInterval    time.Duration
	OptimisticUnchokeInterval time.Duration
	TrackerRefreshInterval    time.Duration
	BlockTimeout              time.Duration
}

// Defaults mirror the constants spec.md fixes: MAX_OUTSTANDING_REQUESTS=5,
// regular unchoke every 10s, optimistic every 30s, tracker refresh every 180s,
// block request timeout 5s.
func Defaults() Config {
	return Config{
		OutputDir:                 ".",
		ListenPort:                6881,
		MaxOutstanding:            5,
		PeerSelection:             "random",
		PeerIDStyle:               "timestamp",
		RegularUnchokeInterval:    10 * time.Second,
		OptimisticUnchokeInterval: 30 * time.Second,
		TrackerRefreshInterval:    180 * time.Second,
		BlockTimeout:              5 * time.Second,
	}
}

// RegisterFlags wires cobra/pflag flags for the CLI surface described in
// spec.md §6, plus the additional knobs SPEC_FULL.md introduces.
func RegisterFlags(flags *pflag.FlagSet) {
	d := Defaults()
	flags.BoolP("verbose", "v", d.Verbose, "enable verbose (debug) logging")
	flags.BoolP("seed", "s", d.Seed, "continue seeding after the download completes")
	flags.BoolP("deletetorrent", "d", d.DeleteTorrent, "prompt to delete any prior download directory matching the torrent name")
	flags.String("output-dir", d.OutputDir, "directory to write downloaded files into")
	flags.Int("listen-port", d.ListenPort, "port advertised to trackers")
	flags.Int("max-outstanding", d.MaxOutstanding, "maximum outstanding block requests per piece")
	flags.String("peer-selection", d.PeerSelection, "peer selection strategy: random, proportional-random, auction-proportional")
	flags.String("peer-id-style", d.PeerIDStyle, "peer id generation: timestamp, random")
	flags.Int64("upload-rate-limit", d.UploadRateLimit, "upload rate limit in bytes/sec, 0 for unlimited")
	flags.Int64("download-rate-limit", d.DownloadLimit, "download rate limit in bytes/sec, 0 for unlimited")
	flags.Duration("regular-unchoke-interval", d.RegularUnchokeInterval, "interval between regular unchoke rounds")
	flags.Duration("optimistic-unchoke-interval", d.OptimisticUnchokeInterval, "interval between optimistic unchoke rounds")
	flags.Duration("tracker-refresh-interval", d.TrackerRefreshInterval, "fallback interval between tracker re-announces")
	flags.Duration("block-timeout", d.BlockTimeout, "how long a requested block stays pending before it is freed again")
}

// FromViper builds a Config from a *viper.Viper populated by RegisterFlags'
// bound flags plus the positional torrent file argument.
func FromViper(v *viper.Viper, torrentFile string) Config {
	d := Defaults()
	return Config{
		TorrentFile:               torrentFile,
		OutputDir:                 v.GetString("output-dir"),
		Verbose:                   v.GetBool("verbose"),
		Seed:                      v.GetBool("seed"),
		DeleteTorrent:             v.GetBool("deletetorrent"),
		ListenPort:                v.GetInt("listen-port"),
		MaxOutstanding:            orDefault(v.GetInt("max-outstanding"), d.MaxOutstanding),
		PeerSelection:             orDefaultStr(v.GetString("peer-selection"), d.PeerSelection),
		PeerIDStyle:               orDefaultStr(v.GetString("peer-id-style"), d.PeerIDStyle),
		UploadRateLimit:           v.GetInt64("upload-rate-limit"),
		DownloadLimit:             v.GetInt64("download-rate-limit"),
		RegularUnchokeInterval:    orDefaultDuration(v.GetDuration("regular-unchoke-interval"), d.RegularUnchokeInterval),
		OptimisticUnchokeInterval: orDefaultDuration(v.GetDuration("optimistic-unchoke-interval"), d.OptimisticUnchokeInterval),
		TrackerRefreshInterval:    orDefaultDuration(v.GetDuration("tracker-refresh-interval"), d.TrackerRefreshInterval),
		BlockTimeout:              orDefaultDuration(v.GetDuration("block-timeout"), d.BlockTimeout),
	}
}

func orDefault(v, d int) int {
	if v == 0 {
		return d
	}
	return v
}

func orDefaultStr(v, d string) string {
	if v == "" {
		return d
	}
	return v
}

func orDefaultDuration(v, d time.Duration) time.Duration {
	if v <= 0 {
		return d
	}
	return v
}
