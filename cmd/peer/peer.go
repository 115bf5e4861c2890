package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/rs/zerolog/log"

	"gorrent/config"
	"gorrent/coordinator"
	"gorrent/db"
	"gorrent/fileset"
	"gorrent/metainfo"
	"gorrent/peerconn"
	"gorrent/torrentlog"
	"gorrent/trackerclient"
	"gorrent/utils"
)

// Peer bundles one process invocation's identity and dependencies. It is
// reconstructed fresh from disk on every one-shot subcommand rather than
// held across a long-lived session.
type Peer struct {
	ID         [20]byte
	IP         string
	Port       uint16
	TrackerURL string
	Log        *torrentlog.Log
	History    *db.Database
	DataDir    string
	TorrentDir string
}

func newPeer(trackerURL string, tlog *torrentlog.Log, history *db.Database, dataDir, torrentDir string) (*Peer, error) {
	id, err := loadOrCreatePeerID(config.Main.CacheDir)
	if err != nil {
		return nil, err
	}
	ip, err := localOutboundIP()
	if err != nil {
		return nil, err
	}
	port := peerPort()
	return &Peer{ID: id, IP: ip, Port: port, TrackerURL: trackerURL, Log: tlog, History: history, DataDir: dataDir, TorrentDir: torrentDir}, nil
}

func peerPort() uint16 {
	if v := os.Getenv("PEER_PORT"); v != "" {
		var p uint16
		if _, err := fmt.Sscanf(v, "%d", &p); err == nil {
			return p
		}
	}
	return 6884
}

// localOutboundIP discovers the local address used to reach the public
// internet via a UDP-connect trick: no packet is actually sent, only the
// kernel's routing decision is read.
func localOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1", nil
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}

// Stop announces a "stopped" event with no info-hash, matching the tracker's
// per-peer removal semantics which do not require one.
func (p *Peer) Stop() error {
	tracker, err := trackerclient.New(p.TrackerURL)
	if err != nil {
		return err
	}
	_, err = tracker.Announce(trackerclient.AnnounceRequest{
		PeerID: p.ID,
		IP:     p.IP,
		Port:   p.Port,
		Event:  trackerclient.EventStopped,
	})
	if err != nil {
		return fmt.Errorf("stopping: %w", err)
	}
	fmt.Println("Peer has been stopped.")
	return nil
}

// AnnounceHaveData tells the tracker this peer already holds the full data
// for infoHash and uploads the metainfo bytes so other peers can fetch it.
func (p *Peer) AnnounceHaveData(infoHash string) error {
	entry, ok := p.Log.GetEntry(infoHash)
	if !ok {
		return fmt.Errorf("torrent %s is not known to this peer", infoHash)
	}

	torrentBytes, err := os.ReadFile(entry.TorrentSavePath)
	if err != nil {
		return fmt.Errorf("reading torrent file %s: %w", entry.TorrentSavePath, err)
	}
	infoHashBytes, err := hex.DecodeString(infoHash)
	if err != nil || len(infoHashBytes) != 20 {
		return fmt.Errorf("invalid info hash %q", infoHash)
	}

	httpTracker, ok := mustHTTPTracker(p.TrackerURL)
	if !ok {
		return fmt.Errorf("announce-have-data requires an http(s) tracker, got %s", p.TrackerURL)
	}

	req := trackerclient.AnnounceRequest{PeerID: p.ID, IP: p.IP, Port: p.Port, Left: 0, Event: trackerclient.EventStarted}
	copy(req.InfoHash[:], infoHashBytes)
	if err := httpTracker.UploadTorrent(req, torrentBytes); err != nil {
		return fmt.Errorf("announcing completed data: %w", err)
	}
	fmt.Println("Announced completed data to tracker.")
	return nil
}

// cacheTorrentFile keeps a second copy of a .torrent file under the
// configured cache directory, independent of torrentPath, so a cleared
// torrent folder doesn't lose the ability to re-seed or re-announce it.
func cacheTorrentFile(torrentPath string) error {
	if err := os.MkdirAll(config.Main.CacheDir, os.ModePerm); err != nil {
		return err
	}
	cachePath := filepath.Join(config.Main.CacheDir, filepath.Base(torrentPath))
	return utils.CopyFile(torrentPath, cachePath)
}

func mustHTTPTracker(announceURL string) (*trackerclient.HTTPClient, bool) {
	tracker, err := trackerclient.New(announceURL)
	if err != nil {
		return nil, false
	}
	httpTracker, ok := tracker.(*trackerclient.HTTPClient)
	return httpTracker, ok
}

// DownloadTorrentByInfoHash fetches a torrent's metainfo bytes from the
// tracker's non-standard /get_torrent extension and registers it.
func (p *Peer) DownloadTorrentByInfoHash(infoHash string) error {
	httpTracker, ok := mustHTTPTracker(p.TrackerURL)
	if !ok {
		return fmt.Errorf("download-torrent-by-info-hash requires an http(s) tracker, got %s", p.TrackerURL)
	}

	raw, err := httpTracker.GetTorrent(infoHash)
	if err != nil {
		return fmt.Errorf("fetching torrent file: %w", err)
	}
	meta, err := metainfo.Parse(raw)
	if err != nil {
		return fmt.Errorf("parsing fetched torrent file: %w", err)
	}

	torrentPath := filepath.Join(p.TorrentDir, infoHash+".torrent")
	if err := os.MkdirAll(p.TorrentDir, os.ModePerm); err != nil {
		return fmt.Errorf("creating torrent dir: %w", err)
	}
	if err := os.WriteFile(torrentPath, raw, 0o644); err != nil {
		return fmt.Errorf("saving torrent file: %w", err)
	}
	if err := cacheTorrentFile(torrentPath); err != nil {
		log.Warn().Err(err).Str("torrent", torrentPath).Msg("failed to cache torrent file")
	}

	dataPath := filepath.Join(p.DataDir, meta.Name)
	if err := p.Log.AddTorrent(infoHash, meta.PieceLength, meta.PieceCount(), torrentPath, dataPath, nil); err != nil {
		return fmt.Errorf("registering torrent in log: %w", err)
	}
	if _, err := p.History.CreateDownload(meta, torrentPath); err != nil {
		log.Warn().Err(err).Str("info_hash", infoHash).Msg("failed to record download history")
	}
	fmt.Printf("Downloaded and registered torrent %s (%s).\n", infoHash, meta.Name)
	return nil
}

// GetPeers announces a "started" event and returns the tracker's peer list.
func (p *Peer) GetPeers(infoHash string) ([]trackerclient.PeerInfo, error) {
	infoHashBytes, err := hex.DecodeString(infoHash)
	if err != nil || len(infoHashBytes) != 20 {
		return nil, fmt.Errorf("invalid info hash %q", infoHash)
	}

	tracker, err := trackerclient.New(p.TrackerURL)
	if err != nil {
		return nil, err
	}
	req := trackerclient.AnnounceRequest{PeerID: p.ID, IP: p.IP, Port: p.Port, Event: trackerclient.EventStarted}
	copy(req.InfoHash[:], infoHashBytes)

	resp, err := tracker.Announce(req)
	if err != nil {
		return nil, fmt.Errorf("getting peers: %w", err)
	}

	peerRecords := make([]torrentlog.PeerRecord, 0, len(resp.Peers))
	for _, peerInfo := range resp.Peers {
		peerRecords = append(peerRecords, torrentlog.PeerRecord{IP: peerInfo.IP, Port: peerInfo.Port})
	}
	if err := p.Log.UpdatePeers(infoHash, peerRecords); err != nil {
		log.Warn().Err(err).Str("info_hash", infoHash).Msg("failed to persist peer list")
	}
	p.recordPeerHistory(infoHash, resp.Peers)
	return resp.Peers, nil
}

// recordPeerHistory best-effort mirrors an announce response's peer list
// into the history database against the download's first known tracker,
// purely for the richer reporting commands; a miss here never fails GetPeers.
func (p *Peer) recordPeerHistory(infoHash string, peers []trackerclient.PeerInfo) {
	download, err := p.History.GetDownloadByInfoHash(infoHash)
	if err != nil || len(download.Trackers) == 0 {
		return
	}
	if err := p.History.CreatePeers(&download.Trackers[0], peers); err != nil {
		log.Warn().Err(err).Str("info_hash", infoHash).Msg("failed to record peer history")
	}
}

// UpdateTorrentLog rescans the configured torrent folder for new .torrent
// files not yet known to the log.
func (p *Peer) UpdateTorrentLog() error {
	return p.Log.ScanFolder(p.TorrentDir, p.DataDir)
}

// GenerateTorrentFile packages dataPath (a single file) into a new .torrent
// file announcing this peer's configured tracker, and registers it.
func (p *Peer) GenerateTorrentFile(dataPath string) error {
	info, err := os.Stat(dataPath)
	if err != nil {
		return fmt.Errorf("stat %s: %w", dataPath, err)
	}
	if info.IsDir() {
		return fmt.Errorf("generate-torrent-file only supports a single file, got directory %s", dataPath)
	}

	name := filepath.Base(dataPath)
	meta, raw, err := metainfo.Generate(metainfo.GenerateInput{
		Name:        name,
		AnnounceURL: p.TrackerURL,
		PieceLength: metainfo.DefaultPieceLength,
		Files:       []metainfo.FileEntry{{Length: info.Size(), Path: name}},
		ReadFile: func(relPath string) ([]byte, error) {
			return os.ReadFile(dataPath)
		},
	})
	if err != nil {
		return fmt.Errorf("generating torrent file: %w", err)
	}

	if err := os.MkdirAll(p.TorrentDir, os.ModePerm); err != nil {
		return fmt.Errorf("creating torrent dir: %w", err)
	}
	infoHash := hex.EncodeToString(meta.InfoHash[:])
	torrentPath := filepath.Join(p.TorrentDir, infoHash+".torrent")
	if err := os.WriteFile(torrentPath, raw, 0o644); err != nil {
		return fmt.Errorf("writing torrent file: %w", err)
	}
	if err := cacheTorrentFile(torrentPath); err != nil {
		log.Warn().Err(err).Str("torrent", torrentPath).Msg("failed to cache torrent file")
	}

	bitfield := make([]int, meta.PieceCount())
	for i := range bitfield {
		bitfield[i] = 1
	}
	if err := p.Log.AddTorrent(infoHash, meta.PieceLength, meta.PieceCount(), torrentPath, dataPath, bitfield); err != nil {
		return fmt.Errorf("registering generated torrent: %w", err)
	}
	if _, err := p.History.CreateDownload(meta, torrentPath); err != nil {
		log.Warn().Err(err).Str("info_hash", infoHash).Msg("failed to record download history")
	}
	fmt.Printf("Generated torrent file %s with info hash %s.\n", torrentPath, infoHash)
	return nil
}

// DownloadFile runs a complete download for infoHash: fetching the
// torrent's metainfo if unknown, announcing to the tracker, connecting to
// every returned peer, and driving the coordinator until every piece that
// some peer advertised has been downloaded or ctx is canceled.
func (p *Peer) DownloadFile(ctx context.Context, infoHash string) (*coordinator.Result, error) {
	if _, ok := p.Log.GetEntry(infoHash); !ok {
		if err := p.DownloadTorrentByInfoHash(infoHash); err != nil {
			return nil, fmt.Errorf("fetching torrent file before download: %w", err)
		}
	}

	entry, ok := p.Log.GetEntry(infoHash)
	if !ok {
		return nil, fmt.Errorf("torrent %s still not found in log after fetch", infoHash)
	}
	raw, err := os.ReadFile(entry.TorrentSavePath)
	if err != nil {
		return nil, fmt.Errorf("reading torrent file %s: %w", entry.TorrentSavePath, err)
	}
	meta, err := metainfo.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing torrent file: %w", err)
	}

	peers, err := p.GetPeers(infoHash)
	if err != nil {
		return nil, err
	}
	if len(peers) == 0 {
		return nil, fmt.Errorf("no peers available for downloading")
	}

	files, err := fileset.New(meta, filepath.Dir(entry.DataSavePath))
	if err != nil {
		return nil, fmt.Errorf("preparing file set: %w", err)
	}

	already := bitfieldDone(entry.Bitfield)
	if len(already) == 0 {
		// Only zero-fill on a fresh download: resuming with some pieces
		// already marked done must not wipe their data back to zeros.
		if err := files.InitializeForDownload(); err != nil {
			return nil, fmt.Errorf("initializing file set: %w", err)
		}
	}

	var conns []*peerconn.Conn
	for _, pi := range peers {
		addr := fmt.Sprintf("%s:%d", pi.IP, pi.Port)
		conn, err := peerconn.Dial(addr, meta, p.ID, files, p.Log)
		if err != nil {
			log.Warn().Err(err).Str("peer", addr).Msg("failed to connect to peer, skipping")
			continue
		}
		if err := conn.AwaitInitialBitfield(); err != nil {
			log.Warn().Err(err).Str("peer", addr).Msg("failed to receive peer bitfield, skipping")
			conn.Close()
			continue
		}
		defer conn.Close()
		conns = append(conns, conn)
	}
	if len(conns) == 0 {
		return nil, fmt.Errorf("could not connect to any advertised peer")
	}

	coord := &coordinator.Coordinator{
		Meta:     meta,
		Files:    files,
		Log:      p.Log,
		InfoHash: infoHash,
		Conns:    conns,
		Already:  already,
		MaxRetry: 3,
	}
	return coord.Run(ctx)
}

func bitfieldDone(bitfield []int) map[int]bool {
	done := make(map[int]bool)
	for i, v := range bitfield {
		if v == 1 {
			done[i] = true
		}
	}
	return done
}

// GetTorrentInfo prints the full recorded entry for one info hash.
func (p *Peer) GetTorrentInfo(infoHash string) error {
	entry, ok := p.Log.GetEntry(infoHash)
	if !ok {
		return fmt.Errorf("torrent %s not found", infoHash)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintf(w, "Key\tValue\n")
	fmt.Fprintf(w, "info_hash\t%s\n", infoHash)
	fmt.Fprintf(w, "piece_size\t%d\n", entry.PieceSize)
	fmt.Fprintf(w, "piece_count\t%d\n", entry.PieceCount)
	fmt.Fprintf(w, "torrent_save_path\t%s\n", entry.TorrentSavePath)
	fmt.Fprintf(w, "data_save_path\t%s\n", entry.DataSavePath)
	fmt.Fprintf(w, "peers\t%d\n", len(entry.Peers))
	if download, err := p.History.GetDownloadByInfoHash(infoHash); err == nil {
		fmt.Fprintf(w, "status\t%s\n", download.Status)
		fmt.Fprintf(w, "total_size\t%s\n", utils.FormatBytes(download.TotalSize))
		fmt.Fprintf(w, "trackers\t%d\n", len(download.Trackers))
	}
	return w.Flush()
}

// GetTorrentLog prints a summary row for every torrent known to the log.
func (p *Peer) GetTorrentLog() error {
	hashes := p.Log.InfoHashes()
	if len(hashes) == 0 {
		fmt.Println("No .torrent files are being managed.")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintf(w, "Info Hash\tPiece Size (KB)\tPieces Count\tSave Path\n")
	for _, h := range hashes {
		entry, _ := p.Log.GetEntry(h)
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", h, entry.PieceSize/1024, entry.PieceCount, entry.DataSavePath)
	}
	return w.Flush()
}
