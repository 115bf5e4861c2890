// Package trackerserver implements an in-memory BitTorrent tracker: an
// announce registry keyed by info-hash, and an HTTP server exposing the
// standard /announce endpoint plus the non-standard metainfo upload/fetch
// extension (POST /announce with an attached torrent file, GET /get_torrent).
package trackerserver

import "sync"

// peerRecord is one peer's state within a single torrent's swarm.
type peerRecord struct {
	PeerID string
	IP     string
	Port   uint16
	Left   int64
}

// swarm holds one torrent's known peers, split by completion state the way
// the distilled tracker does: complete (seeders) and incomplete (leechers)
// are derived views over the same peers list, not separate storage.
type swarm struct {
	peers      []peerRecord
	complete   []int // indices into peers
	incomplete []int // indices into peers
}

func (s *swarm) find(ip string, port uint16) int {
	for i, p := range s.peers {
		if p.IP == ip && p.Port == port {
			return i
		}
	}
	return -1
}

func (s *swarm) removeIndex(idx int) {
	s.peers = append(s.peers[:idx], s.peers[idx+1:]...)
	s.complete = removeValueAndShift(s.complete, idx)
	s.incomplete = removeValueAndShift(s.incomplete, idx)
}

// removeValueAndShift drops idx from a sorted-by-insertion index slice and
// shifts every later index down by one, keeping it valid after peers[idx]
// is spliced out.
func removeValueAndShift(indices []int, idx int) []int {
	out := indices[:0]
	for _, v := range indices {
		switch {
		case v == idx:
			continue
		case v > idx:
			out = append(out, v-1)
		default:
			out = append(out, v)
		}
	}
	return out
}

func containsInt(indices []int, v int) bool {
	for _, x := range indices {
		if x == v {
			return true
		}
	}
	return false
}

// Registry tracks swarm membership for every torrent this tracker has seen
// an announce for, keyed by lowercase hex info-hash.
type Registry struct {
	mu     sync.RWMutex
	swarms map[string]*swarm
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{swarms: make(map[string]*swarm)}
}

// AddPeer records one announce event, mirroring the reference tracker's
// add_peer: "started" inserts or updates an entry and classifies it by
// whether it has the full torrent (left == 0); "completed" promotes an
// existing entry to complete; "stopped" removes the peer from every
// torrent's swarm regardless of which info-hash was given, since a
// stopping peer is identified by (ip, port) alone.
func (r *Registry) AddPeer(infoHash, peerID, ip string, port uint16, event string, left int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if event == "stopped" {
		r.removeByAddr(ip, port)
		return
	}

	sw, ok := r.swarms[infoHash]
	if !ok {
		sw = &swarm{}
		r.swarms[infoHash] = sw
	}

	idx := sw.find(ip, port)

	switch event {
	case "completed":
		if idx >= 0 && sw.peers[idx].Left > 0 {
			sw.peers[idx].Left = 0
			sw.incomplete = dropValue(sw.incomplete, idx)
			if !containsInt(sw.complete, idx) {
				sw.complete = append(sw.complete, idx)
			}
		}
	default: // "started" or any other/absent event defaults to started
		if idx < 0 {
			sw.peers = append(sw.peers, peerRecord{PeerID: peerID, IP: ip, Port: port, Left: left})
			newIdx := len(sw.peers) - 1
			if left == 0 {
				sw.complete = append(sw.complete, newIdx)
			} else {
				sw.incomplete = append(sw.incomplete, newIdx)
			}
			return
		}

		sw.peers[idx].PeerID = peerID
		sw.peers[idx].Left = left
		if left == 0 {
			sw.incomplete = dropValue(sw.incomplete, idx)
			if !containsInt(sw.complete, idx) {
				sw.complete = append(sw.complete, idx)
			}
		} else {
			sw.complete = dropValue(sw.complete, idx)
			if !containsInt(sw.incomplete, idx) {
				sw.incomplete = append(sw.incomplete, idx)
			}
		}
	}
}

func dropValue(indices []int, v int) []int {
	out := indices[:0]
	for _, x := range indices {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

func (r *Registry) removeByAddr(ip string, port uint16) {
	for _, sw := range r.swarms {
		if idx := sw.find(ip, port); idx >= 0 {
			sw.removeIndex(idx)
		}
	}
}

// Peers returns every peer known for infoHash, plus seeder/leecher counts.
// ok is false when the tracker has never seen an announce for infoHash.
func (r *Registry) Peers(infoHash string) (peers []peerRecord, complete, incomplete int, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sw, found := r.swarms[infoHash]
	if !found {
		return nil, 0, 0, false
	}
	peers = make([]peerRecord, len(sw.peers))
	copy(peers, sw.peers)
	return peers, len(sw.complete), len(sw.incomplete), true
}
