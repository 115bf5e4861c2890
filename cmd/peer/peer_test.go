package main

import (
	"path/filepath"
	"strings"
	"testing"

	"gorrent/torrentlog"
)

func TestBitfieldDone(t *testing.T) {
	done := bitfieldDone([]int{1, 0, 1, 1, 0})
	for _, idx := range []int{0, 2, 3} {
		if !done[idx] {
			t.Errorf("expected piece %d marked done", idx)
		}
	}
	for _, idx := range []int{1, 4} {
		if done[idx] {
			t.Errorf("expected piece %d not marked done", idx)
		}
	}
}

func newTestPeer(t *testing.T) *Peer {
	t.Helper()
	tlog, err := torrentlog.Open(filepath.Join(t.TempDir(), "log.json"))
	if err != nil {
		t.Fatalf("torrentlog.Open: %v", err)
	}
	return &Peer{
		ID:         [20]byte{1, 2, 3},
		IP:         "127.0.0.1",
		Port:       6884,
		TrackerURL: "http://127.0.0.1:0",
		Log:        tlog,
		DataDir:    t.TempDir(),
		TorrentDir: t.TempDir(),
	}
}

func TestAnnounceHaveDataRejectsUnknownTorrent(t *testing.T) {
	p := newTestPeer(t)
	if err := p.AnnounceHaveData("deadbeef"); err == nil {
		t.Error("expected error announcing data for unknown torrent, got nil")
	}
}

func TestGetPeersRejectsBadInfoHash(t *testing.T) {
	p := newTestPeer(t)
	if _, err := p.GetPeers("not-hex"); err == nil {
		t.Error("expected error for malformed info hash, got nil")
	}
}

func TestGetTorrentInfoRejectsUnknownTorrent(t *testing.T) {
	p := newTestPeer(t)
	if err := p.GetTorrentInfo("deadbeef"); err == nil {
		t.Error("expected error describing unknown torrent, got nil")
	}
}

func TestGetTorrentLogEmpty(t *testing.T) {
	p := newTestPeer(t)
	if err := p.GetTorrentLog(); err != nil {
		t.Errorf("GetTorrentLog on empty log: %v", err)
	}
}

func TestUpdateTorrentLogScansFolder(t *testing.T) {
	p := newTestPeer(t)
	if err := p.UpdateTorrentLog(); err != nil {
		t.Errorf("UpdateTorrentLog: %v", err)
	}
	hashes := p.Log.InfoHashes()
	if len(hashes) != 0 {
		t.Errorf("expected empty torrent dir to register nothing, got %d entries", len(hashes))
	}
}

func TestGenerateTorrentFileRejectsDirectory(t *testing.T) {
	p := newTestPeer(t)
	if err := p.GenerateTorrentFile(p.DataDir); err == nil || !strings.Contains(err.Error(), "directory") {
		t.Errorf("GenerateTorrentFile(dir) error = %v, want directory error", err)
	}
}
