package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOrCreatePeerIDPersists(t *testing.T) {
	dir := t.TempDir()

	first, err := loadOrCreatePeerID(dir)
	if err != nil {
		t.Fatalf("loadOrCreatePeerID: %v", err)
	}
	second, err := loadOrCreatePeerID(dir)
	if err != nil {
		t.Fatalf("loadOrCreatePeerID (reload): %v", err)
	}
	if first != second {
		t.Errorf("peer id changed across invocations: %x != %x", first, second)
	}
}

func TestLoadOrCreatePeerIDRejectsCorruptCache(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "peer_id")
	if err := os.WriteFile(path, []byte("not-hex"), 0o644); err != nil {
		t.Fatalf("os.WriteFile: %v", err)
	}

	if _, err := loadOrCreatePeerID(dir); err == nil {
		t.Error("expected error for corrupt peer id cache, got nil")
	}
}
