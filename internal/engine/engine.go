// Package engine drives the top-level Run loop: tracker announces,
// choking timers, rarest-first scheduling, and graceful shutdown
// (spec.md §4.7). Grounded on the teacher's StartDownload/RefreshPeer
// in torrent/p2p.go, restructured as a single-reactor loop per spec.md §5.
package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lvbealr/bittorrent/internal/bterrors"
	"github.com/lvbealr/bittorrent/internal/config"
	"github.com/lvbealr/bittorrent/internal/metainfo"
	"github.com/lvbealr/bittorrent/internal/peersmgr"
	"github.com/lvbealr/bittorrent/internal/piecesmgr"
	"github.com/lvbealr/bittorrent/internal/progress"
	"github.com/lvbealr/bittorrent/internal/ratelimit"
	"github.com/lvbealr/bittorrent/internal/selector"
	"github.com/lvbealr/bittorrent/internal/tracker"
	"github.com/lvbealr/bittorrent/internal/wire"
)

const (
	engineTick            = 100 * time.Millisecond
	idlePeerSleep         = 1 * time.Second
	trackerRefreshDefault = 180 * time.Second
)

// Engine wires every component together and runs the control loop
// described in spec.md §4.7.
type Engine struct {
	cfg     config.Config
	torrent *metainfo.Torrent
	pieces  *piecesmgr.Manager
	peers   *peersmgr.Manager
	tracker *tracker.Client
	strat   selector.Strategy
	limiter *ratelimit.Limiter
	bar     *progress.Bar
	log     *zap.SugaredLogger
}

// New assembles an Engine: loads the torrent, builds the (resuming)
// piece manager, and prepares the tracker client and peer manager
// (spec.md §4.7 step 1).
func New(cfg config.Config, log *zap.SugaredLogger) (*Engine, error) {
	peerIDStyle := metainfo.PeerIDStyleTimestamp
	if cfg.PeerIDStyle == "random" {
		peerIDStyle = metainfo.PeerIDStyleRandom
	}
	t, err := metainfo.Load(cfg.TorrentFile, peerIDStyle)
	if err != nil {
		return nil, err
	}

	uploadLimiter := ratelimit.New(cfg.UploadRateLimit, cfg.MaxOutstanding*1<<14)
	downloadLimiter := ratelimit.New(cfg.DownloadLimit, cfg.MaxOutstanding*1<<14)

	pieces, err := piecesmgr.New(t, cfg.OutputDir, log, piecesmgr.Config{
		MaxOutstanding:  cfg.MaxOutstanding,
		BlockTimeout:    cfg.BlockTimeout,
		UploadLimiter:   uploadLimiter,
		DownloadLimiter: downloadLimiter,
	})
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:     cfg,
		torrent: t,
		pieces:  pieces,
		peers:   peersmgr.New(t.InfoHash, t.PeerID, log),
		tracker: tracker.New(t.AnnounceList, log),
		strat:   selector.ByName(cfg.PeerSelection),
		limiter: uploadLimiter,
		bar:     progress.New(t.Name, pieces.NumPieces(), log),
		log:     log,
	}, nil
}

// Run executes the full download (and optional seed) loop until ctx is
// cancelled or the torrent completes and seeding is not requested
// (spec.md §4.7).
func (e *Engine) Run(ctx context.Context) error {
	e.log.Infow("starting download", "name", e.torrent.Name, "pieces", e.pieces.NumPieces(), "already_complete", e.pieces.CompletedCount())

	if err := e.announce(tracker.EventStarted); err != nil {
		e.log.Warnw("initial tracker announce failed", "err", err)
	}
	e.peers.SendBitfield(e.pieces.Bitfield().Bytes())

	regularUnchoke := time.NewTicker(e.unchokeInterval(e.cfg.RegularUnchokeInterval, peersmgr.RegularUnchokeInterval))
	optimisticUnchoke := time.NewTicker(e.unchokeInterval(e.cfg.OptimisticUnchokeInterval, peersmgr.OptimisticUnchokeInterval))
	trackerRefresh := time.NewTicker(e.refreshInterval())
	tick := time.NewTicker(engineTick)
	defer regularUnchoke.Stop()
	defer optimisticUnchoke.Stop()
	defer trackerRefresh.Stop()
	defer tick.Stop()

	lastLoggedProgress := -1

	for {
		select {
		case <-ctx.Done():
			e.shutdown(tracker.EventStopped)
			return bterrors.New(bterrors.KindInterrupted, "engine.Run", ctx.Err())

		case <-regularUnchoke.C:
			e.peers.RunChoking(time.Now(), e.pieces.AllComplete())

		case <-optimisticUnchoke.C:
			e.peers.RunOptimisticUnchoke()

		case <-trackerRefresh.C:
			if err := e.announce(tracker.EventEmpty); err != nil {
				e.log.Warnw("tracker refresh failed", "err", err)
			}

		case <-tick.C:
			e.peers.PollOnce(e.pieces)

			if e.pieces.AllComplete() {
				if !e.cfg.Seed {
					e.shutdown(tracker.EventCompleted)
					return nil
				}
			} else if e.peers.Count() == 0 {
				time.Sleep(idlePeerSleep)
				continue
			} else {
				e.pieces.ExpirePending(time.Now())
				e.scheduleRequests()
			}

			if done := e.pieces.CompletedCount(); done != lastLoggedProgress {
				lastLoggedProgress = done
				e.bar.Set(done)
			}
		}
	}
}

// scheduleRequests iterates pieces rarest-first and issues block
// requests up to MaxOutstandingRequests per piece (spec.md §4.6, §4.7).
func (e *Engine) scheduleRequests() {
	peers := e.peers.Snapshot()
	now := time.Now()

	for _, index := range e.pieces.RarestFirstOrder(peers) {
		for e.pieces.CanRequestMore(index) {
			p, err := e.strat.SelectPeer(peers, index)
			if err != nil || p == nil {
				break
			}

			offset, length, ok := e.pieces.GetEmptyBlock(index, now)
			if !ok {
				break
			}

			req := wire.RequestPayload{Index: uint32(index), Begin: uint32(offset), Length: uint32(length)}
			if err := p.Send(wire.Request, req.Marshal()); err != nil {
				e.log.Debugw("request send failed", "peer", p.Addr(), "piece", index, "err", err)
			}
		}
	}
}

func (e *Engine) announce(event tracker.Event) error {
	uploaded, downloaded := uint64(0), uint64(0)
	for _, p := range e.peers.Snapshot() {
		u, d := p.Stats.Totals()
		uploaded += uint64(u)
		downloaded += uint64(d)
	}

	left := e.torrent.TotalLength - int64(downloaded)
	if left < 0 {
		left = 0
	}

	resp, err := e.tracker.Announce(tracker.Request{
		InfoHash:   e.torrent.InfoHash,
		PeerID:     e.torrent.PeerID,
		Port:       uint16(e.cfg.ListenPort),
		Uploaded:   uploaded,
		Downloaded: downloaded,
		Left:       uint64(left),
		Event:      event,
	})
	if err != nil {
		return err
	}

	e.peers.AddPeers(resp.Peers, e.pieces.NumPieces())
	return nil
}

func (e *Engine) refreshInterval() time.Duration {
	if e.cfg.TrackerRefreshInterval > 0 {
		return e.cfg.TrackerRefreshInterval
	}
	return trackerRefreshDefault
}

// unchokeInterval prefers a configured choking timer over the package
// default, so -regular-unchoke-interval/-optimistic-unchoke-interval
// actually take effect (spec.md §4.5).
func (e *Engine) unchokeInterval(configured, fallback time.Duration) time.Duration {
	if configured > 0 {
		return configured
	}
	return fallback
}

func (e *Engine) shutdown(event tracker.Event) {
	e.log.Infow("shutting down", "reason", event, "complete", e.pieces.CompletedCount(), "total", e.pieces.NumPieces())
	if err := e.announce(event); err != nil {
		e.log.Debugw("final tracker announce failed", "err", err)
	}
	e.peers.CloseAll()
	e.bar.Finish()
}
