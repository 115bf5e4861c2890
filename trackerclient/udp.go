package trackerclient

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/rand"
	"net"
	"net/url"
	"time"
)

// UDP tracker actions, per the BEP-15 binary protocol.
const (
	actionConnect  int32 = 0
	actionAnnounce int32 = 1
	actionScrape   int32 = 2
)

// UDP tracker event codes, distinct from the HTTP client's string Event.
const (
	udpEventNone      int32 = 0
	udpEventCompleted int32 = 1
	udpEventStarted   int32 = 2
	udpEventStopped   int32 = 3
)

// magic connection id sent on the initial connect request.
const initialConnectionID int64 = 0x41727101980

// UDPClient announces over the BEP-15 UDP tracker protocol: connect to
// obtain a connection id, then announce using it. Each Announce call
// dials, connects, and announces fresh rather than caching a connection id
// across calls, since the id expires after two minutes.
type UDPClient struct {
	announceURL string
	timeout     time.Duration
}

// NewUDPClient builds a UDP tracker client for announceURL.
func NewUDPClient(announceURL string) *UDPClient {
	return &UDPClient{announceURL: announceURL, timeout: 15 * time.Second}
}

func (c *UDPClient) URL() string { return c.announceURL }

func (c *UDPClient) Announce(req AnnounceRequest) (*AnnounceResponse, error) {
	u, err := url.Parse(c.announceURL)
	if err != nil {
		return nil, fmt.Errorf("parsing tracker URL %s: %w", c.announceURL, err)
	}
	addr, err := net.ResolveUDPAddr("udp", u.Host)
	if err != nil {
		return nil, fmt.Errorf("resolving tracker %s: %w", c.announceURL, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dialing tracker %s: %w", c.announceURL, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(c.timeout))

	connID, err := c.acquireConnectionID(conn)
	if err != nil {
		return nil, fmt.Errorf("connecting to tracker %s: %w", c.announceURL, err)
	}
	return c.announce(conn, connID, req)
}

func (c *UDPClient) acquireConnectionID(conn *net.UDPConn) (int64, error) {
	transactionID := rand.Int31()
	request := struct {
		ConnectionID int64
		Action       int32
		Transaction  int32
	}{
		ConnectionID: initialConnectionID,
		Action:       actionConnect,
		Transaction:  transactionID,
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, request); err != nil {
		return 0, err
	}
	if _, err := conn.Write(buf.Bytes()); err != nil {
		return 0, err
	}

	response := struct {
		Action       int32
		Transaction  int32
		ConnectionID int64
	}{}
	if err := binary.Read(conn, binary.BigEndian, &response); err != nil {
		return 0, err
	}
	if response.Transaction != transactionID {
		return 0, fmt.Errorf("transaction ID mismatch")
	}
	if response.Action != actionConnect {
		return 0, fmt.Errorf("unexpected action %d in connect response", response.Action)
	}
	return response.ConnectionID, nil
}

func eventToUDP(e Event) int32 {
	switch e {
	case EventStarted:
		return udpEventStarted
	case EventStopped:
		return udpEventStopped
	case EventCompleted:
		return udpEventCompleted
	default:
		return udpEventNone
	}
}

func (c *UDPClient) announce(conn *net.UDPConn, connID int64, req AnnounceRequest) (*AnnounceResponse, error) {
	transactionID := rand.Int31()

	request := struct {
		ConnectionID int64
		Action       int32
		Transaction  int32
		InfoHash     [20]byte
		PeerID       [20]byte
		Downloaded   int64
		Left         int64
		Uploaded     int64
		Event        int32
		IP           int32
		Key          int32
		NumWant      int32
		Port         uint16
	}{
		ConnectionID: connID,
		Action:       actionAnnounce,
		Transaction:  transactionID,
		InfoHash:     req.InfoHash,
		PeerID:       req.PeerID,
		Downloaded:   req.Downloaded,
		Left:         req.Left,
		Uploaded:     req.Uploaded,
		Event:        eventToUDP(req.Event),
		IP:           0,
		Key:          0,
		NumWant:      -1,
		Port:         req.Port,
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, request); err != nil {
		return nil, err
	}
	if _, err := conn.Write(buf.Bytes()); err != nil {
		return nil, err
	}

	readBytes := make([]byte, 1024)
	n, err := conn.Read(readBytes)
	if err != nil {
		return nil, err
	}
	readBytes = readBytes[:n]
	if len(readBytes) < 20 {
		return nil, fmt.Errorf("short announce response from %s", c.announceURL)
	}

	header := struct {
		Action      int32
		Transaction int32
		Interval    int32
		Leechers    int32
		Seeders     int32
	}{}
	if err := binary.Read(bytes.NewReader(readBytes[:20]), binary.BigEndian, &header); err != nil {
		return nil, err
	}
	if header.Transaction != transactionID {
		return nil, fmt.Errorf("transaction ID mismatch")
	}
	if header.Action != actionAnnounce {
		return nil, fmt.Errorf("unexpected action %d in announce response", header.Action)
	}

	out := &AnnounceResponse{
		Interval:   int64(header.Interval),
		Complete:   int(header.Seeders),
		Incomplete: int(header.Leechers),
	}

	peerBytes := readBytes[20:]
	for i := 0; i+6 <= len(peerBytes); i += 6 {
		ip := net.IPv4(peerBytes[i], peerBytes[i+1], peerBytes[i+2], peerBytes[i+3])
		port := uint16(peerBytes[i+4])<<8 | uint16(peerBytes[i+5])
		out.Peers = append(out.Peers, PeerInfo{IP: ip.String(), Port: port})
	}
	return out, nil
}
