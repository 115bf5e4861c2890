// Package peerconn drives a single peer-wire connection through its full
// lifecycle: dialing or accepting, handshaking, exchanging bitfields, and
// then serving piece requests and/or downloading pieces one block at a
// time. One Conn corresponds to one net.Conn and is not safe for concurrent
// Send-side use from multiple goroutines -- callers serialize through the
// exported DownloadPiece/ServeForever methods.
package peerconn

import (
	"context"
	"crypto/sha1"
	"fmt"
	"net"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"gorrent/fileset"
	"gorrent/metainfo"
	"gorrent/peersock"
	"gorrent/torrentlog"
	"gorrent/wire"
)

// State is a connection's position in its lifecycle.
type State int

const (
	StateNew State = iota
	StateConnecting
	StateHandshaking
	StateReady
	StateDownloading
	StateServing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "New"
	case StateConnecting:
		return "Connecting"
	case StateHandshaking:
		return "Handshaking"
	case StateReady:
		return "Ready"
	case StateDownloading:
		return "Downloading"
	case StateServing:
		return "Serving"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Conn is one handshaked peer-wire connection.
type Conn struct {
	sock   *peersock.Socket
	meta   *metainfo.Metadata
	remote [20]byte
	addr   string

	state    State
	bitfield wire.Bitfield

	amChoking    bool
	amInterested bool
	peerChoking  bool

	files   *fileset.Set
	log     *torrentlog.Log
	session uuid.UUID
}

// Dial opens a connection to addr and performs the handshake. It does not
// read the remote's bitfield; AwaitInitialBitfield does that.
func Dial(addr string, meta *metainfo.Metadata, selfPeerID [20]byte, files *fileset.Set, tlog *torrentlog.Log) (*Conn, error) {
	c := &Conn{
		meta:        meta,
		addr:        addr,
		state:       StateConnecting,
		amChoking:   true,
		peerChoking: true,
		bitfield:    wire.NewBitfield(meta.PieceCount()),
		files:       files,
		log:         tlog,
		session:     uuid.Must(uuid.NewV4()),
	}

	sock, err := peersock.Dial(addr)
	if err != nil {
		return nil, fmt.Errorf("dialing peer %s: %w", addr, err)
	}
	c.sock = sock

	c.state = StateHandshaking
	resp, err := sock.Handshake(wire.Handshake{InfoHash: meta.InfoHash, PeerID: selfPeerID})
	if err != nil {
		sock.Close()
		return nil, fmt.Errorf("handshaking with %s: %w", addr, err)
	}
	if err := resp.Validate(meta.InfoHash); err != nil {
		sock.Close()
		return nil, fmt.Errorf("peer %s: %w", addr, err)
	}
	c.remote = resp.PeerID

	c.state = StateReady
	log.Debug().Str("peer", addr).Str("session", c.session.String()).Msg("handshake complete")
	return c, nil
}

// Accept wraps an already-accepted connection, reading and validating the
// remote's handshake and replying with our own.
func Accept(conn net.Conn, meta *metainfo.Metadata, selfPeerID [20]byte, files *fileset.Set, tlog *torrentlog.Log) (*Conn, error) {
	c := &Conn{
		meta:        meta,
		addr:        conn.RemoteAddr().String(),
		state:       StateHandshaking,
		amChoking:   true,
		peerChoking: true,
		bitfield:    wire.NewBitfield(meta.PieceCount()),
		files:       files,
		log:         tlog,
		session:     uuid.Must(uuid.NewV4()),
	}

	req, err := wire.ReadHandshake(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("reading handshake from %s: %w", c.addr, err)
	}
	if err := req.Validate(meta.InfoHash); err != nil {
		conn.Close()
		return nil, fmt.Errorf("peer %s: %w", c.addr, err)
	}
	c.remote = req.PeerID

	resp := wire.Handshake{InfoHash: meta.InfoHash, PeerID: selfPeerID}
	if _, err := conn.Write(resp.Serialize()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("replying to handshake from %s: %w", c.addr, err)
	}

	c.sock = peersock.New(conn)
	c.state = StateReady
	log.Debug().Str("peer", c.addr).Str("session", c.session.String()).Msg("accepted handshake")
	return c, nil
}

// State returns the connection's current lifecycle state.
func (c *Conn) State() State { return c.state }

// RemotePeerID returns the opaque peer-id the remote presented at handshake.
func (c *Conn) RemotePeerID() [20]byte { return c.remote }

// Addr returns the remote address string.
func (c *Conn) Addr() string { return c.addr }

// SendBitfield announces our current piece availability.
func (c *Conn) SendBitfield(bits wire.Bitfield) error {
	return c.sock.Send(wire.BitfieldMsg{Bits: bits})
}

// AwaitInitialBitfield reads the first post-handshake message, expecting a
// Bitfield. Any other first message (a Have, for instance) is handled in
// place, so the bitfield holds only what that message set. A peer that
// sends nothing within the socket's read deadline yields an error.
func (c *Conn) AwaitInitialBitfield() error {
	msg, err := c.sock.Receive()
	if err != nil {
		return fmt.Errorf("reading initial message from %s: %w", c.addr, err)
	}

	if bf, ok := msg.(wire.BitfieldMsg); ok {
		if len(bf.Bits) != len(c.bitfield) {
			return fmt.Errorf("peer %s sent bitfield of length %d, want %d", c.addr, len(bf.Bits), len(c.bitfield))
		}
		c.bitfield = bf.Bits
		return nil
	}
	return c.handleInbound(msg)
}

// HasPiece reports whether the remote has advertised piece index.
func (c *Conn) HasPiece(index int) bool {
	return c.bitfield.Has(index)
}

// Close releases the underlying socket.
func (c *Conn) Close() error {
	c.state = StateClosed
	return c.sock.Close()
}

// DownloadPiece downloads one full piece, one block at a time (a single
// request in flight, matching the serialized request/reply discipline this
// protocol variant uses -- no pipelining), and verifies its SHA-1 hash
// before returning it. The peer must have already advertised this piece.
func (c *Conn) DownloadPiece(ctx context.Context, index int) ([]byte, error) {
	if !c.HasPiece(index) {
		return nil, fmt.Errorf("peer %s does not have piece %d", c.addr, index)
	}

	c.state = StateDownloading
	defer func() { c.state = StateReady }()

	pieceLen := c.meta.PieceLengthAt(index)
	data := make([]byte, 0, pieceLen)

	for begin := int64(0); begin < pieceLen; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		length := int64(wire.BlockSize)
		if remaining := pieceLen - begin; remaining < length {
			length = remaining
		}

		if err := c.sock.Send(wire.RequestMsg{Index: uint32(index), Begin: uint32(begin), Length: uint32(length)}); err != nil {
			return nil, fmt.Errorf("requesting block %d:%d from %s: %w", index, begin, c.addr, err)
		}

		block, err := c.awaitPiece(uint32(index), uint32(begin))
		if err != nil {
			return nil, err
		}
		data = append(data, block...)
		begin += int64(len(block))
	}

	hash := sha1.Sum(data)
	if len(c.meta.Pieces) <= index || hash != c.meta.Pieces[index] {
		return nil, fmt.Errorf("piece %d failed hash verification from peer %s", index, c.addr)
	}
	return data, nil
}

// awaitPiece reads messages until the matching PieceMsg for (index, begin)
// arrives, handling any interleaved control messages along the way.
func (c *Conn) awaitPiece(index, begin uint32) ([]byte, error) {
	for {
		msg, err := c.sock.Receive()
		if err != nil {
			return nil, fmt.Errorf("reading from %s: %w", c.addr, err)
		}
		switch m := msg.(type) {
		case wire.PieceMsg:
			if m.Index == index && m.Begin == begin {
				return m.Data, nil
			}
			log.Debug().Str("peer", c.addr).Msg("ignoring piece message for a different request")
		case wire.ChokeMsg:
			c.peerChoking = true
			return nil, fmt.Errorf("peer %s choked us mid-download", c.addr)
		case wire.UnchokeMsg:
			c.peerChoking = false
		case wire.HaveMsg:
			c.bitfield.Set(int(m.Index))
		case wire.KeepAliveMsg:
			// no-op, connection is alive
		default:
			log.Debug().Str("peer", c.addr).Msg("ignoring unexpected message while awaiting piece")
		}
	}
}

// ServeForever dispatches incoming messages until ctx is cancelled or the
// connection errors, responding to Request messages from local file data
// and tracking Have/Bitfield updates from the remote.
func (c *Conn) ServeForever(ctx context.Context) error {
	c.state = StateServing
	defer func() { c.state = StateClosed }()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg, err := c.sock.Receive()
		if err != nil {
			return fmt.Errorf("serving %s: %w", c.addr, err)
		}
		if err := c.handleInbound(msg); err != nil {
			return err
		}
	}
}

func (c *Conn) handleInbound(msg wire.Message) error {
	switch m := msg.(type) {
	case wire.KeepAliveMsg:
	case wire.ChokeMsg:
		c.peerChoking = true
	case wire.UnchokeMsg:
		c.peerChoking = false
	case wire.InterestedMsg, wire.NotInterestedMsg:
	case wire.HaveMsg:
		c.bitfield.Set(int(m.Index))
	case wire.BitfieldMsg:
		c.bitfield = m.Bits
	case wire.RequestMsg:
		return c.serveRequest(m)
	case wire.PieceMsg:
		log.Debug().Str("peer", c.addr).Msg("received unsolicited piece message, ignoring")
	case wire.CancelMsg:
	case wire.PortMsg:
	}
	return nil
}

func (c *Conn) serveRequest(req wire.RequestMsg) error {
	if !c.meta.ValidBlock(int(req.Index), req.Begin, req.Length) {
		return fmt.Errorf("peer %s requested out-of-bounds block %d:%d+%d", c.addr, req.Index, req.Begin, req.Length)
	}
	data, err := c.files.ReadBlock(int(req.Index), int64(req.Begin), int64(req.Length))
	if err != nil {
		return fmt.Errorf("reading block %d:%d for %s: %w", req.Index, req.Begin, c.addr, err)
	}
	return c.sock.Send(wire.PieceMsg{Index: req.Index, Begin: req.Begin, Data: data})
}
