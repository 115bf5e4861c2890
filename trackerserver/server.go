package trackerserver

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"gorrent/bencode"
)

// Server exposes a Registry over HTTP: the standard compact-peer /announce
// response, plus the non-standard POST /announce (metainfo upload) and
// GET /get_torrent extensions this system's trackers support.
type Server struct {
	registry  *Registry
	trackerID string
	dataDir   string
	router    *mux.Router
}

// NewServer builds a Server persisting uploaded torrent files under dataDir.
func NewServer(trackerID, dataDir string) *Server {
	s := &Server{
		registry:  NewRegistry(),
		trackerID: trackerID,
		dataDir:   dataDir,
		router:    mux.NewRouter(),
	}
	s.router.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	s.router.HandleFunc("/announce", s.handleAnnounceGet).Methods(http.MethodGet)
	s.router.HandleFunc("/announce", s.handleAnnouncePost).Methods(http.MethodPost)
	s.router.HandleFunc("/get_torrent", s.handleGetTorrent).Methods(http.MethodGet)
	return s
}

// ListenAndServe starts the tracker HTTP server on addr. Blocks until the
// server stops or errors.
func (s *Server) ListenAndServe(addr string) error {
	log.Info().Str("addr", addr).Msg("tracker server listening")
	return http.ListenAndServe(addr, s.router)
}

// Handler returns the server's router, for embedding in tests or a custom
// http.Server.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte("<h1>Tracker is running</h1>"))
}

func (s *Server) handleAnnounceGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	infoHash := q.Get("info_hash")
	peerID := q.Get("peer_id")
	portStr := q.Get("port")
	event := q.Get("event")
	left, _ := strconv.ParseInt(q.Get("left"), 10, 64)

	if peerID == "" || portStr == "" {
		http.Error(w, "missing required parameters: peer_id, port", http.StatusBadRequest)
		return
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		http.Error(w, "invalid port", http.StatusBadRequest)
		return
	}

	ip := clientIP(r)

	if event != "stopped" && infoHash == "" {
		http.Error(w, "missing required parameter: info_hash", http.StatusBadRequest)
		return
	}

	s.registry.AddPeer(infoHash, peerID, ip, uint16(port), event, left)

	if event == "stopped" {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(bencode.Encode(bencode.NewDict(map[string]any{"interval": int64(1800)})))
		return
	}

	peers, complete, incomplete, ok := s.registry.Peers(infoHash)
	if !ok {
		resp := bencode.NewDict(map[string]any{"failure reason": "unknown info_hash"})
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusBadRequest)
		w.Write(bencode.Encode(resp))
		return
	}

	compactPeers := make([]byte, 0, 6*len(peers))
	for _, p := range peers {
		if p.PeerID == peerID {
			continue
		}
		octets, perr := parseIPv4(p.IP)
		if perr != nil {
			continue
		}
		compactPeers = append(compactPeers, octets[:]...)
		compactPeers = append(compactPeers, byte(p.Port>>8), byte(p.Port))
	}

	resp := bencode.NewDict(map[string]any{
		"interval":   int64(1800),
		"complete":   int64(complete),
		"incomplete": int64(incomplete),
		"peers":      compactPeers,
		"tracker id": s.trackerID,
	})

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(bencode.Encode(resp))
}

func parseIPv4(ip string) ([4]byte, error) {
	var out [4]byte
	addr := net.ParseIP(ip)
	if addr == nil {
		return out, fmt.Errorf("not an IPv4 address: %s", ip)
	}
	v4 := addr.To4()
	if v4 == nil {
		return out, fmt.Errorf("not an IPv4 address: %s", ip)
	}
	copy(out[:], v4)
	return out, nil
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// handleAnnouncePost accepts a completed torrent upload: multipart form
// fields matching the GET announce parameters plus a torrent_file part,
// persisted under dataDir/{info_hash}.torrent.
func (s *Server) handleAnnouncePost(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "invalid multipart request", http.StatusBadRequest)
		return
	}

	infoHashRaw := r.FormValue("info_hash")
	if infoHashRaw == "" {
		http.Error(w, "missing info_hash", http.StatusBadRequest)
		return
	}
	infoHashHex := fmt.Sprintf("%x", infoHashRaw)

	file, _, err := r.FormFile("torrent_file")
	if err != nil {
		http.Error(w, "missing torrent_file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
		http.Error(w, "server storage error", http.StatusInternalServerError)
		return
	}
	torrentPath := filepath.Join(s.dataDir, infoHashHex+".torrent")
	out, err := os.Create(torrentPath)
	if err != nil {
		http.Error(w, "server storage error", http.StatusInternalServerError)
		return
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		http.Error(w, "server storage error", http.StatusInternalServerError)
		return
	}
	out.Close()

	peerID := r.FormValue("peer_id")
	port, _ := strconv.ParseUint(r.FormValue("port"), 10, 16)
	event := r.FormValue("event")
	if event == "" {
		event = "started"
	}
	left, _ := strconv.ParseInt(r.FormValue("left"), 10, 64)

	s.registry.AddPeer(infoHashHex, peerID, clientIP(r), uint16(port), event, left)

	log.Info().Str("info_hash", infoHashHex).Str("path", torrentPath).Msg("torrent file saved")
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintf(w, "Torrent file saved at %s", torrentPath)
}

// handleGetTorrent streams back a previously uploaded torrent file.
func (s *Server) handleGetTorrent(w http.ResponseWriter, r *http.Request) {
	infoHashHex := r.URL.Query().Get("info_hash")
	if infoHashHex == "" {
		http.Error(w, "missing required parameter: info_hash", http.StatusBadRequest)
		return
	}

	torrentPath := filepath.Join(s.dataDir, infoHashHex+".torrent")
	data, err := os.ReadFile(torrentPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("torrent file for info_hash %s not found", infoHashHex), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(data)
}
