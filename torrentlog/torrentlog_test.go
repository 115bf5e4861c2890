package torrentlog

import (
	"path/filepath"
	"testing"
)

func TestAddTorrentPersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "torrent_log.json")

	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := l.AddTorrent("deadbeef", 16384, 4, "a.torrent", "data/a", nil); err != nil {
		t.Fatalf("AddTorrent: %v", err)
	}

	reloaded, err := Open(path)
	if err != nil {
		t.Fatalf("Open (reload): %v", err)
	}
	entry, ok := reloaded.GetEntry("deadbeef")
	if !ok {
		t.Fatal("expected entry to survive reload")
	}
	if entry.PieceCount != 4 || len(entry.Bitfield) != 4 {
		t.Errorf("got %+v, want piece count 4 with 4-length bitfield", entry)
	}
}

func TestUpdateBitfieldOutOfRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "torrent_log.json")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := l.AddTorrent("cafe", 16384, 2, "a.torrent", "data/a", nil); err != nil {
		t.Fatalf("AddTorrent: %v", err)
	}
	if err := l.UpdateBitfield("cafe", 5, 1); err == nil {
		t.Fatal("expected error for out-of-range piece index")
	}
	if err := l.UpdateBitfield("cafe", 1, 1); err != nil {
		t.Fatalf("UpdateBitfield: %v", err)
	}
	if got := l.GetBitfield("cafe"); got[1] != 1 {
		t.Errorf("got bitfield %v, want index 1 set", got)
	}
}

func TestUpdatePeersUnknownTorrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "torrent_log.json")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := l.UpdatePeers("unknown", []PeerRecord{{IP: "1.2.3.4", Port: 6881}}); err == nil {
		t.Fatal("expected error updating peers for unknown torrent")
	}
}

func TestOpenMissingFileStartsEmpty(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(l.InfoHashes()) != 0 {
		t.Errorf("expected empty log, got %v", l.InfoHashes())
	}
}
