package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"gorrent/peerconn"
)

// loadOrCreatePeerID returns this host's persistent peer-id, generating and
// caching a fresh one under cacheDir on first run. Every one-shot invocation
// of cmd/peer needs the same identity as the last, so a tracker sees one
// peer across a stop/get-peers/download-file sequence rather than a new
// random one per process.
func loadOrCreatePeerID(cacheDir string) ([20]byte, error) {
	path := filepath.Join(cacheDir, "peer_id")

	raw, err := os.ReadFile(path)
	if err == nil {
		decoded, err := hex.DecodeString(string(raw))
		if err != nil || len(decoded) != 20 {
			return [20]byte{}, fmt.Errorf("corrupt peer id cache at %s", path)
		}
		var id [20]byte
		copy(id[:], decoded)
		return id, nil
	}
	if !os.IsNotExist(err) {
		return [20]byte{}, fmt.Errorf("reading peer id cache %s: %w", path, err)
	}

	id := peerconn.NewPeerID()
	if err := os.MkdirAll(cacheDir, os.ModePerm); err != nil {
		return [20]byte{}, fmt.Errorf("creating cache dir %s: %w", cacheDir, err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(id[:])), 0o644); err != nil {
		return [20]byte{}, fmt.Errorf("writing peer id cache %s: %w", path, err)
	}
	return id, nil
}
