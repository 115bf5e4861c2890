// Package db is a supplementary, non-authoritative historical record of
// downloads, their pieces, and the trackers/peers seen for them. The
// canonical, authoritative persisted state for an in-progress download is
// torrentlog's JSON document; this package exists only to give cmd/peer's
// reporting commands a richer queryable history (timestamps, per-tracker
// seeder/leecher counts) than a bitfield alone provides.
package db

import (
	"encoding/hex"
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"gorrent/config"
	"gorrent/db/models"
	"gorrent/metainfo"
	"gorrent/trackerclient"
)

type Database struct {
	db *gorm.DB
}

func Init() (*Database, error) {
	gdb, err := gorm.Open(sqlite.Open(config.Main.DB.Path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("opening history database at %s: %w", config.Main.DB.Path, err)
	}

	if err := gdb.AutoMigrate(&models.Download{}, &models.Peer{}, &models.Piece{}, &models.Tracker{}); err != nil {
		return nil, fmt.Errorf("migrating history database: %w", err)
	}

	return &Database{db: gdb}, nil
}

func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateDownload records a new torrent's history entry, or returns the
// existing one if this info-hash was already seen.
func (d *Database) CreateDownload(meta *metainfo.Metadata, torrentPath string) (*models.Download, error) {
	infoHash := hex.EncodeToString(meta.InfoHash[:])

	existing := &models.Download{}
	if tx := d.db.Where("info_hash = ?", infoHash).First(existing); tx.Error == nil {
		return d.reload(existing)
	}

	download := &models.Download{
		InfoHash:        infoHash,
		Name:            meta.Name,
		TorrentFilename: torrentPath,
		Status:          models.Downloading,
		DownloadDir:     config.Main.DownloadDir,
		TotalSize:       meta.TotalSize,
	}
	if err := d.db.Create(download).Error; err != nil {
		return nil, fmt.Errorf("creating download record for %s: %w", infoHash, err)
	}

	for i, pieceHash := range meta.Pieces {
		piece := &models.Piece{
			DownloadID: download.ID,
			Index:      i,
			Hash:       hex.EncodeToString(pieceHash[:]),
		}
		if err := d.db.Create(piece).Error; err != nil {
			return nil, fmt.Errorf("recording piece %d for %s: %w", i, infoHash, err)
		}
	}

	for _, announce := range meta.AnnounceList {
		tracker := &models.Tracker{
			DownloadID: download.ID,
			Announce:   announce,
			Status:     models.TrackerAnnouncing,
		}
		if err := d.db.Create(tracker).Error; err != nil {
			return nil, fmt.Errorf("recording tracker %s for %s: %w", announce, infoHash, err)
		}
	}

	return d.reload(download)
}

func (d *Database) reload(download *models.Download) (*models.Download, error) {
	if err := d.db.Preload("Trackers").Preload("Pieces").First(download).Error; err != nil {
		return nil, err
	}
	return download, nil
}

func (d *Database) UpdateTracker(tracker *models.Tracker) error {
	return d.db.Save(tracker).Error
}

// GetDownloadByInfoHash looks up a history record by its hex info hash,
// preloading its trackers so callers can attach peers without a second query.
func (d *Database) GetDownloadByInfoHash(infoHash string) (*models.Download, error) {
	download := &models.Download{}
	err := d.db.Preload("Trackers").Preload("Pieces").Where("info_hash = ?", infoHash).First(download).Error
	if err != nil {
		return nil, fmt.Errorf("looking up history for %s: %w", infoHash, err)
	}
	return download, nil
}

// CreatePeers records an announce response's peer list against tracker.
func (d *Database) CreatePeers(tracker *models.Tracker, peers []trackerclient.PeerInfo) error {
	for _, peer := range peers {
		if err := d.CreatePeer(tracker, peer); err != nil {
			return err
		}
	}
	return nil
}

func (d *Database) CreatePeer(tracker *models.Tracker, peer trackerclient.PeerInfo) error {
	newPeer := &models.Peer{
		DownloadID: tracker.DownloadID,
		TrackerID:  tracker.ID,
		IP:         peer.IP,
		Port:       peer.Port,
	}

	existing := &models.Peer{}
	tx := d.db.Where("download_id = ? AND ip = ? AND port = ?", tracker.DownloadID, peer.IP, peer.Port).First(existing)
	if tx.Error == nil {
		newPeer.ID = existing.ID
		return d.db.Save(newPeer).Error
	}
	return d.db.Create(newPeer).Error
}
