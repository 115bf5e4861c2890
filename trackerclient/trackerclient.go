// Package trackerclient announces to and queries BitTorrent trackers over
// HTTP(S) or UDP, and supports the non-standard metainfo upload/fetch
// extension (POST /announce with a torrent file attached, GET /get_torrent)
// this system's tracker offers alongside the standard announce protocol.
package trackerclient

import (
	"fmt"
	"net/url"

	"gorrent/bencode"
)

// Event names the tracker announce event parameter.
type Event string

const (
	EventStarted   Event = "started"
	EventStopped   Event = "stopped"
	EventCompleted Event = "completed"
)

// PeerInfo is one peer entry returned by an announce.
type PeerInfo struct {
	IP   string
	Port uint16
}

// AnnounceRequest carries the parameters of one announce call.
type AnnounceRequest struct {
	InfoHash   [20]byte
	PeerID     [20]byte
	IP         string
	Port       uint16
	Uploaded   int64
	Downloaded int64
	Left       int64
	Event      Event
}

// AnnounceResponse is a tracker's reply to an announce.
type AnnounceResponse struct {
	Interval   int64
	Complete   int // seeders
	Incomplete int // leechers
	Peers      []PeerInfo
	Warning    string
	TrackerID  string
}

// Tracker is implemented by both transport variants this package offers.
type Tracker interface {
	Announce(req AnnounceRequest) (*AnnounceResponse, error)
	URL() string
}

// New builds a Tracker for announce, dispatching on its URL scheme.
func New(announce string) (Tracker, error) {
	u, err := url.Parse(announce)
	if err != nil {
		return nil, fmt.Errorf("parsing tracker URL %s: %w", announce, err)
	}
	switch u.Scheme {
	case "", "http", "https":
		return NewHTTPClient(announce), nil
	case "udp":
		return NewUDPClient(announce), nil
	default:
		return nil, fmt.Errorf("unsupported tracker scheme %q", u.Scheme)
	}
}

func parsePeersField(field *bencode.Data) []PeerInfo {
	var peers []PeerInfo
	switch field.Type {
	case bencode.STRING:
		raw := field.AsBytes()
		for i := 0; i+6 <= len(raw); i += 6 {
			peers = append(peers, PeerInfo{
				IP:   fmt.Sprintf("%d.%d.%d.%d", raw[i], raw[i+1], raw[i+2], raw[i+3]),
				Port: uint16(raw[i+4])<<8 | uint16(raw[i+5]),
			})
		}
	case bencode.LIST:
		for _, p := range field.AsList() {
			d := p.AsDict()
			peers = append(peers, PeerInfo{
				IP:   d["ip"].AsString(),
				Port: uint16(d["port"].AsInt()),
			})
		}
	}
	return peers
}
