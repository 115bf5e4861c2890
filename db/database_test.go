package db

import (
	"encoding/hex"
	"path/filepath"
	"testing"

	"gorrent/config"
	"gorrent/metainfo"
	"gorrent/trackerclient"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	original := config.Main.DB.Path
	config.Main.DB.Path = filepath.Join(t.TempDir(), "history.db")
	t.Cleanup(func() { config.Main.DB.Path = original })

	database, err := Init()
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func buildTestMeta(t *testing.T) *metainfo.Metadata {
	t.Helper()
	meta, _, err := metainfo.Generate(metainfo.GenerateInput{
		Name:        "file.bin",
		AnnounceURL: "http://tracker.example/announce",
		PieceLength: 16,
		Files:       []metainfo.FileEntry{{Length: 32, Path: "file.bin"}},
		ReadFile: func(path string) ([]byte, error) {
			return make([]byte, 32), nil
		},
	})
	if err != nil {
		t.Fatalf("metainfo.Generate: %v", err)
	}
	return meta
}

func TestCreateDownloadIsIdempotentByInfoHash(t *testing.T) {
	database := openTestDB(t)
	meta := buildTestMeta(t)

	first, err := database.CreateDownload(meta, "a.torrent")
	if err != nil {
		t.Fatalf("CreateDownload: %v", err)
	}
	second, err := database.CreateDownload(meta, "a.torrent")
	if err != nil {
		t.Fatalf("CreateDownload (repeat): %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("CreateDownload created a duplicate row: %d != %d", first.ID, second.ID)
	}
	if len(second.Trackers) != 1 {
		t.Errorf("Trackers = %d, want 1", len(second.Trackers))
	}
	if len(second.Pieces) != 2 {
		t.Errorf("Pieces = %d, want 2", len(second.Pieces))
	}
}

func TestGetDownloadByInfoHashRoundTrips(t *testing.T) {
	database := openTestDB(t)
	meta := buildTestMeta(t)

	if _, err := database.CreateDownload(meta, "a.torrent"); err != nil {
		t.Fatalf("CreateDownload: %v", err)
	}

	infoHashHex := hexInfoHash(meta)
	got, err := database.GetDownloadByInfoHash(infoHashHex)
	if err != nil {
		t.Fatalf("GetDownloadByInfoHash: %v", err)
	}
	if got.Name != "file.bin" {
		t.Errorf("Name = %q, want file.bin", got.Name)
	}
}

func TestGetDownloadByInfoHashUnknown(t *testing.T) {
	database := openTestDB(t)
	if _, err := database.GetDownloadByInfoHash("0000000000000000000000000000000000000000"); err == nil {
		t.Error("expected error for unknown info hash, got nil")
	}
}

func TestCreatePeersRecordsAnnounceResponse(t *testing.T) {
	database := openTestDB(t)
	meta := buildTestMeta(t)

	download, err := database.CreateDownload(meta, "a.torrent")
	if err != nil {
		t.Fatalf("CreateDownload: %v", err)
	}
	if len(download.Trackers) == 0 {
		t.Fatal("expected at least one tracker row")
	}

	peers := []trackerclient.PeerInfo{{IP: "10.0.0.1", Port: 6881}, {IP: "10.0.0.2", Port: 6882}}
	if err := database.CreatePeers(&download.Trackers[0], peers); err != nil {
		t.Fatalf("CreatePeers: %v", err)
	}

	reloaded, err := database.GetDownloadByInfoHash(hexInfoHash(meta))
	if err != nil {
		t.Fatalf("GetDownloadByInfoHash: %v", err)
	}
	if len(reloaded.Trackers) != 1 {
		t.Fatalf("Trackers = %d, want 1", len(reloaded.Trackers))
	}
}

func hexInfoHash(meta *metainfo.Metadata) string {
	return hex.EncodeToString(meta.InfoHash[:])
}
