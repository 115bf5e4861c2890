// Package torrentlog persists each known torrent's download progress as a
// single JSON document: per-info-hash piece bitfield and known-peer list.
// This is the authoritative on-disk record a peer process reloads on
// restart, not a SQL table -- see the supplementary gorm-backed history
// store in package db for secondary historical reporting.
package torrentlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

// PeerRecord is one known peer entry recorded for a torrent.
type PeerRecord struct {
	IP   string `json:"ip"`
	Port uint16 `json:"port"`
}

// Entry is the persisted state for one torrent.
type Entry struct {
	PieceSize       int64        `json:"piece_size"`
	PieceCount      int          `json:"piece_count"`
	TorrentSavePath string       `json:"torrent_save_path"`
	DataSavePath    string       `json:"data_save_path"`
	Bitfield        []int        `json:"bitfield"`
	Peers           []PeerRecord `json:"list_peers"`
}

// Log is the JSON-document-backed torrent log. Safe for concurrent use.
type Log struct {
	path string

	mu   sync.Mutex
	data map[string]*Entry
}

// Open loads path if it exists, or starts with an empty document.
func Open(path string) (*Log, error) {
	l := &Log{path: path, data: make(map[string]*Entry)}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", path).Msg("torrent log not found, starting empty")
			return l, nil
		}
		return nil, fmt.Errorf("reading torrent log %s: %w", path, err)
	}

	if len(raw) == 0 {
		return l, nil
	}
	if err := json.Unmarshal(raw, &l.data); err != nil {
		return nil, fmt.Errorf("decoding torrent log %s: %w", path, err)
	}
	log.Info().Str("path", path).Int("torrents", len(l.data)).Msg("loaded torrent log")
	return l, nil
}

// save flushes the in-memory document atomically via a temp-file rename, so
// a crash mid-write never leaves a truncated torrent log on disk.
func (l *Log) save() error {
	raw, err := json.MarshalIndent(l.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding torrent log: %w", err)
	}

	dir := filepath.Dir(l.path)
	tmp, err := os.CreateTemp(dir, ".torrentlog-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, l.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file into place: %w", err)
	}
	return nil
}

// AddTorrent registers a new torrent, with an all-zero bitfield unless one
// is supplied.
func (l *Log) AddTorrent(infoHash string, pieceSize int64, pieceCount int, torrentSavePath, dataSavePath string, bitfield []int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if bitfield == nil {
		bitfield = make([]int, pieceCount)
	}
	l.data[infoHash] = &Entry{
		PieceSize:       pieceSize,
		PieceCount:      pieceCount,
		TorrentSavePath: torrentSavePath,
		DataSavePath:    dataSavePath,
		Bitfield:        bitfield,
		Peers:           []PeerRecord{},
	}
	log.Debug().Str("info_hash", infoHash).Msg("added torrent to log")
	return l.save()
}

// UpdateBitfield marks a single piece's status (0 or 1) for a torrent.
func (l *Log) UpdateBitfield(infoHash string, pieceIndex int, status int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.data[infoHash]
	if !ok {
		return fmt.Errorf("torrent %s not found in log", infoHash)
	}
	if pieceIndex < 0 || pieceIndex >= entry.PieceCount {
		return fmt.Errorf("piece index %d out of range [0,%d)", pieceIndex, entry.PieceCount)
	}
	entry.Bitfield[pieceIndex] = status
	return l.save()
}

// UpdatePeers replaces the known-peer list for a torrent.
func (l *Log) UpdatePeers(infoHash string, peers []PeerRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.data[infoHash]
	if !ok {
		return fmt.Errorf("torrent %s not found in log", infoHash)
	}
	entry.Peers = peers
	return l.save()
}

// GetBitfield returns a torrent's piece status slice, or nil if unknown.
func (l *Log) GetBitfield(infoHash string) []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.data[infoHash]
	if !ok {
		return nil
	}
	return entry.Bitfield
}

// GetPeers returns a torrent's known peer list, or nil if unknown.
func (l *Log) GetPeers(infoHash string) []PeerRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.data[infoHash]
	if !ok {
		return nil
	}
	return entry.Peers
}

// GetEntry returns a copy of the full entry for infoHash.
func (l *Log) GetEntry(infoHash string) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.data[infoHash]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// InfoHashes returns every info hash currently tracked, unordered.
func (l *Log) InfoHashes() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	hashes := make([]string, 0, len(l.data))
	for h := range l.data {
		hashes = append(hashes, h)
	}
	return hashes
}
