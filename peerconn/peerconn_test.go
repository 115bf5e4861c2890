package peerconn

import (
	"bytes"
	"context"
	"crypto/sha1"
	"net"
	"testing"
	"time"

	"gorrent/fileset"
	"gorrent/metainfo"
	"gorrent/torrentlog"
)

func setupTorrent(t *testing.T, content []byte, pieceLength int64) (*metainfo.Metadata, *fileset.Set, *fileset.Set) {
	t.Helper()

	var pieces [][20]byte
	for i := 0; i < len(content); i += int(pieceLength) {
		end := i + int(pieceLength)
		if end > len(content) {
			end = len(content)
		}
		pieces = append(pieces, sha1.Sum(content[i:end]))
	}

	meta := &metainfo.Metadata{
		Name:        "test.bin",
		Files:       []metainfo.FileEntry{{Length: int64(len(content)), Path: "test.bin"}},
		PieceLength: pieceLength,
		TotalSize:   int64(len(content)),
		Pieces:      pieces,
	}

	seederFiles, err := fileset.New(meta, t.TempDir())
	if err != nil {
		t.Fatalf("fileset.New (seeder): %v", err)
	}
	if err := seederFiles.WriteBlock(0, 0, content); err != nil {
		t.Fatalf("seeding content: %v", err)
	}

	leecherFiles, err := fileset.New(meta, t.TempDir())
	if err != nil {
		t.Fatalf("fileset.New (leecher): %v", err)
	}
	if err := leecherFiles.InitializeForDownload(); err != nil {
		t.Fatalf("InitializeForDownload: %v", err)
	}

	return meta, seederFiles, leecherFiles
}

func TestDownloadPieceFromServingPeer(t *testing.T) {
	const blockSize = 16 * 1024
	content := bytes.Repeat([]byte("x"), blockSize*2)
	meta, seederFiles, leecherFiles := setupTorrent(t, content, blockSize*2)
	_ = leecherFiles

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	tlog, err := torrentlog.Open(t.TempDir() + "/log.json")
	if err != nil {
		t.Fatalf("torrentlog.Open: %v", err)
	}

	var seederPeerID, leecherPeerID [20]byte
	copy(seederPeerID[:], "seeder-peer-id-000000")
	copy(leecherPeerID[:], "leecher-peer-id-00000")

	accepted := make(chan *Conn, 1)
	acceptErr := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			acceptErr <- err
			return
		}
		pc, err := Accept(conn, meta, seederPeerID, seederFiles, tlog)
		if err != nil {
			acceptErr <- err
			return
		}
		full := pc.bitfield
		for i := range meta.Pieces {
			full.Set(i)
		}
		pc.bitfield = full
		accepted <- pc
	}()

	client, err := Dial(ln.Addr().String(), meta, leecherPeerID, leecherFiles, tlog)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	var server *Conn
	select {
	case server = <-accepted:
	case err := <-acceptErr:
		t.Fatalf("Accept: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for accept")
	}
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go server.ServeForever(ctx)

	// Tell the client the server has piece 0 (normally delivered via bitfield exchange).
	client.bitfield.Set(0)

	got, err := client.DownloadPiece(context.Background(), 0)
	if err != nil {
		t.Fatalf("DownloadPiece: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("downloaded piece mismatch: got %d bytes, want %d bytes", len(got), len(content))
	}
}

