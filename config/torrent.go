package config

import "os"

// TorrentConfig configures cmd/peer's torrent-log and default torrent-file
// storage locations.
type TorrentConfig struct {
	LogPath string
	Folder  string
}

func NewTorrentConfig() *TorrentConfig {
	logPath := os.Getenv("TORRENT_LOG_PATH")
	if logPath == "" {
		logPath = "storage/torrentlog.json"
	}
	folder := os.Getenv("TORRENT_FOLDER")
	if folder == "" {
		folder = "storage/torrents"
	}
	return &TorrentConfig{
		LogPath: logPath,
		Folder:  folder,
	}
}
