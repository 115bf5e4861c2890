package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog/log"

	"gorrent/config"
	"gorrent/db"
	"gorrent/internal/applog"
	"gorrent/torrentlog"
)

const version = "0.1.0"

var cli struct {
	Tracker string `help:"Tracker announce URL." env:"TRACKER_URL" default:"http://localhost:22236"`

	Stop struct {
	} `cmd:"" help:"Stop the peer and announce 'stopped' to the tracker."`

	AnnounceHaveData struct {
		InfoHash string `arg:"" help:"Hex info hash of the torrent already fully held."`
	} `cmd:"" name:"announce-have-data" help:"Announce complete data and upload the torrent file to the tracker."`

	DownloadTorrentByInfoHash struct {
		InfoHash string `arg:"" help:"Hex info hash to fetch."`
	} `cmd:"" name:"download-torrent-by-info-hash" help:"Fetch and register a .torrent file by info hash."`

	GetPeers struct {
		InfoHash string `arg:"" help:"Hex info hash to announce for."`
	} `cmd:"" name:"get-peers" help:"Announce started and list the peers the tracker returns."`

	UpdateTorrentLog struct {
	} `cmd:"" name:"update-torrent-log" help:"Rescan the torrent folder for new .torrent files."`

	GenerateTorrentFile struct {
		Path string `arg:"" help:"Path to the data file to package." type:"existingfile"`
	} `cmd:"" name:"generate-torrent-file" help:"Create a .torrent file for a data file."`

	DownloadFile struct {
		InfoHash string `arg:"" help:"Hex info hash to download."`
	} `cmd:"" name:"download-file" help:"Fetch peers and download a torrent's data."`

	GetTorrentInfo struct {
		InfoHash string `arg:"" help:"Hex info hash to describe."`
	} `cmd:"" name:"get-torrent-info" help:"Print the recorded entry for one torrent."`

	GetTorrentLog struct {
	} `cmd:"" name:"get-torrent-log" help:"Print a summary of every known torrent."`
}

func main() {
	applog.Init("gorrent-peer", version)
	defer applog.Shutdown()

	if err := os.MkdirAll(config.Main.CacheDir, os.ModePerm); err != nil {
		log.Fatal().Err(err).Str("path", config.Main.CacheDir).Msg("failed to create cache directory")
	}
	if err := os.MkdirAll(config.Main.DownloadDir, os.ModePerm); err != nil {
		log.Fatal().Err(err).Str("path", config.Main.DownloadDir).Msg("failed to create download directory")
	}

	kctx := kong.Parse(&cli)

	tlog, err := torrentlog.Open(config.Main.Torrent.LogPath)
	if err != nil {
		log.Error().Err(err).Msg("failed to open torrent log")
		os.Exit(1)
	}
	if err := tlog.ScanFolder(config.Main.Torrent.Folder, config.Main.DownloadDir); err != nil {
		log.Warn().Err(err).Msg("failed to scan torrent folder")
	}

	if err := os.MkdirAll(filepath.Dir(config.Main.DB.Path), os.ModePerm); err != nil {
		log.Fatal().Err(err).Str("path", config.Main.DB.Path).Msg("failed to create history database directory")
	}
	history, err := db.Init()
	if err != nil {
		log.Error().Err(err).Msg("failed to open history database")
		os.Exit(1)
	}
	defer history.Close()

	peer, err := newPeer(cli.Tracker, tlog, history, config.Main.DownloadDir, config.Main.Torrent.Folder)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize peer identity")
		os.Exit(1)
	}

	if err := dispatch(kctx, peer); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func dispatch(kctx *kong.Context, peer *Peer) error {
	switch kctx.Command() {
	case "stop":
		return peer.Stop()
	case "announce-have-data <info-hash>":
		return peer.AnnounceHaveData(cli.AnnounceHaveData.InfoHash)
	case "download-torrent-by-info-hash <info-hash>":
		return peer.DownloadTorrentByInfoHash(cli.DownloadTorrentByInfoHash.InfoHash)
	case "get-peers <info-hash>":
		peers, err := peer.GetPeers(cli.GetPeers.InfoHash)
		if err != nil {
			return err
		}
		for _, p := range peers {
			println(p.IP, p.Port)
		}
		return nil
	case "update-torrent-log":
		return peer.UpdateTorrentLog()
	case "generate-torrent-file <path>":
		return peer.GenerateTorrentFile(cli.GenerateTorrentFile.Path)
	case "download-file <info-hash>":
		ctx, cancel := withStopSignal()
		defer cancel()
		result, err := peer.DownloadFile(ctx, cli.DownloadFile.InfoHash)
		if err != nil {
			return err
		}
		log.Info().Int("downloaded", len(result.Downloaded)).Int("skipped", len(result.Skipped)).Int("errors", len(result.Errors)).Bool("complete", result.Complete).Msg("download finished")
		return nil
	case "get-torrent-info <info-hash>":
		return peer.GetTorrentInfo(cli.GetTorrentInfo.InfoHash)
	case "get-torrent-log":
		return peer.GetTorrentLog()
	default:
		kctx.PrintUsage(false)
		return nil
	}
}

// withStopSignal returns a context canceled on SIGINT/SIGTERM, letting an
// in-progress download unwind the same way an explicit "stop" command would.
func withStopSignal() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}
