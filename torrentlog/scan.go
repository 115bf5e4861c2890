package torrentlog

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"gorrent/metainfo"
)

// ScanFolder walks torrentFolder for .torrent files not already present in
// the log and registers each one, storing its downloaded data under
// dataFolder/<name>. A torrent already known by info-hash is left alone.
func (l *Log) ScanFolder(torrentFolder, dataFolder string) error {
	entries, err := os.ReadDir(torrentFolder)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("dir", torrentFolder).Msg("torrent folder does not exist")
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".torrent") {
			continue
		}
		torrentPath := filepath.Join(torrentFolder, entry.Name())

		raw, err := os.ReadFile(torrentPath)
		if err != nil {
			log.Warn().Err(err).Str("file", torrentPath).Msg("failed to read torrent file, skipping")
			continue
		}
		meta, err := metainfo.Parse(raw)
		if err != nil {
			log.Warn().Err(err).Str("file", torrentPath).Msg("failed to parse torrent file, skipping")
			continue
		}

		infoHash := hex.EncodeToString(meta.InfoHash[:])
		if _, ok := l.GetEntry(infoHash); ok {
			continue
		}

		dataPath := filepath.Join(dataFolder, meta.Name)
		if err := l.AddTorrent(infoHash, meta.PieceLength, meta.PieceCount(), torrentPath, dataPath, nil); err != nil {
			log.Warn().Err(err).Str("info_hash", infoHash).Msg("failed to add scanned torrent to log")
			continue
		}
		log.Info().Str("info_hash", infoHash).Str("file", entry.Name()).Msg("new torrent file found")
	}
	return nil
}
