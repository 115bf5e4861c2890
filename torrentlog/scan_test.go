package torrentlog

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"gorrent/metainfo"
)

func writeSampleTorrent(t *testing.T, dir, name string) string {
	t.Helper()
	_, raw, err := metainfo.Generate(metainfo.GenerateInput{
		Name:        name,
		AnnounceURL: "http://tracker.example/announce",
		PieceLength: 16,
		Files:       []metainfo.FileEntry{{Length: 32, Path: name}},
		ReadFile: func(string) ([]byte, error) {
			return make([]byte, 32), nil
		},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	path := filepath.Join(dir, name+".torrent")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestScanFolderRegistersNewTorrents(t *testing.T) {
	torrentDir := t.TempDir()
	dataDir := t.TempDir()
	writeSampleTorrent(t, torrentDir, "a")
	writeSampleTorrent(t, torrentDir, "b")

	l, err := Open(filepath.Join(t.TempDir(), "log.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := l.ScanFolder(torrentDir, dataDir); err != nil {
		t.Fatalf("ScanFolder: %v", err)
	}

	hashes := l.InfoHashes()
	if len(hashes) != 2 {
		t.Fatalf("len(InfoHashes()) = %d, want 2", len(hashes))
	}
}

func TestScanFolderSkipsAlreadyKnown(t *testing.T) {
	torrentDir := t.TempDir()
	dataDir := t.TempDir()
	path := writeSampleTorrent(t, torrentDir, "a")

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	meta, err := metainfo.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	l, err := Open(filepath.Join(t.TempDir(), "log.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	infoHash := hex.EncodeToString(meta.InfoHash[:])
	if err := l.AddTorrent(infoHash, 16, meta.PieceCount(), path, "preexisting", nil); err != nil {
		t.Fatalf("AddTorrent: %v", err)
	}

	if err := l.ScanFolder(torrentDir, dataDir); err != nil {
		t.Fatalf("ScanFolder: %v", err)
	}

	entry, ok := l.GetEntry(infoHash)
	if !ok {
		t.Fatalf("expected entry for %s", infoHash)
	}
	if entry.DataSavePath != "preexisting" {
		t.Errorf("DataSavePath = %q, want unchanged %q", entry.DataSavePath, "preexisting")
	}
}

func TestScanFolderMissingDirectoryIsNotAnError(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "log.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := l.ScanFolder(filepath.Join(t.TempDir(), "does-not-exist"), t.TempDir()); err != nil {
		t.Errorf("ScanFolder on missing dir: %v, want nil", err)
	}
}
