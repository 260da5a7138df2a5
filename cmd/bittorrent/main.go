// Command bittorrent drives a single torrent download (and optional
// seed) from the command line. Grounded on the teacher's main.go, with
// cobra/viper wiring per SPEC_FULL.md's CLI surface expansion.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/lvbealr/bittorrent/internal/bterrors"
	"github.com/lvbealr/bittorrent/internal/config"
	"github.com/lvbealr/bittorrent/internal/engine"
	"github.com/lvbealr/bittorrent/internal/logging"
	"github.com/lvbealr/bittorrent/internal/metainfo"
)

func main() {
	os.Exit(run())
}

func run() int {
	v := viper.New()

	root := &cobra.Command{
		Use:   "bittorrent <torrent_file>",
		Short: "Download (and optionally seed) a torrent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(v, args[0])
		},
	}

	config.RegisterFlags(root.Flags())
	if err := v.BindPFlags(root.Flags()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if err := root.Execute(); err != nil {
		return exitCodeFor(err)
	}
	return 0
}

func execute(v *viper.Viper, torrentFile string) error {
	cfg := config.FromViper(v, torrentFile)
	log := logging.New(cfg.Verbose)
	defer log.Sync()

	runID := uuid.New().String()
	log = log.With("run_id", runID)

	if cfg.DeleteTorrent {
		if err := maybeDeletePriorDownload(cfg, log); err != nil {
			log.Errorw("failed to delete prior download directory", "err", err)
			return err
		}
	}

	e, err := engine.New(cfg, log)
	if err != nil {
		log.Errorw("failed to start engine", "err", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := e.Run(ctx); err != nil {
		if berr, ok := err.(*bterrors.Error); ok && berr.Kind == bterrors.KindInterrupted {
			log.Infow("interrupted, shut down gracefully")
			return err
		}
		log.Errorw("engine exited with error", "err", err)
		return err
	}

	log.Infow("download finished")
	return nil
}

// maybeDeletePriorDownload implements -d/--deletetorrent: if a directory
// matching the torrent's name already sits under cfg.OutputDir, ask the
// operator on stdin before removing it, so a fresh download doesn't
// silently inherit (or clash with) stale prior data.
func maybeDeletePriorDownload(cfg config.Config, log *zap.SugaredLogger) error {
	t, err := metainfo.Load(cfg.TorrentFile, metainfo.PeerIDStyleTimestamp)
	if err != nil {
		return err
	}

	path := filepath.Join(cfg.OutputDir, t.Name)
	switch _, err := os.Stat(path); {
	case os.IsNotExist(err):
		return nil
	case err != nil:
		return err
	}

	fmt.Printf("download directory %q already exists, delete it before downloading? [y/N] ", path)
	answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(answer)), "y") {
		log.Infow("keeping existing download directory", "path", path)
		return nil
	}

	if err := os.RemoveAll(path); err != nil {
		return err
	}
	log.Infow("deleted prior download directory", "path", path)
	return nil
}

func asClientError(err error) (*bterrors.Error, bool) {
	berr, ok := err.(*bterrors.Error)
	return berr, ok
}

func exitCodeFor(err error) int {
	if berr, ok := asClientError(err); ok {
		if berr.Kind == bterrors.KindInterrupted {
			return 130
		}
		if berr.Kind.Fatal() {
			return 2
		}
	}
	return 1
}
