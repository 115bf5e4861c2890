// Package peersock wraps a net.Conn with the read/write deadline discipline
// the peer-wire protocol needs: every blocking call gets a bounded deadline,
// and a socket that times out or errors is marked dead rather than retried.
package peersock

import (
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"gorrent/wire"
)

// deadline bounds every individual read/write on a peer connection.
const deadline = 5 * time.Second

// Socket wraps a net.Conn for the peer-wire protocol and tracks whether the
// connection has been declared dead. Its mutex guards only that flag;
// concurrent Send or Receive calls are not serialized.
type Socket struct {
	conn net.Conn

	mu   sync.Mutex
	dead bool
}

// New wraps an already-dialed or accepted connection.
func New(conn net.Conn) *Socket {
	return &Socket{conn: conn}
}

// Dial opens a new TCP connection to addr and wraps it.
func Dial(addr string) (*Socket, error) {
	conn, err := net.DialTimeout("tcp", addr, deadline)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	return New(conn), nil
}

// Dead reports whether this socket has previously failed a read or write.
func (s *Socket) Dead() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dead
}

func (s *Socket) markDead() {
	s.mu.Lock()
	s.dead = true
	s.mu.Unlock()
}

// Handshake writes req and reads back the remote's handshake, both under the
// fixed handshake deadline.
func (s *Socket) Handshake(req wire.Handshake) (wire.Handshake, error) {
	if err := s.conn.SetDeadline(time.Now().Add(deadline)); err != nil {
		return wire.Handshake{}, err
	}
	defer s.conn.SetDeadline(time.Time{})

	if _, err := s.conn.Write(req.Serialize()); err != nil {
		s.markDead()
		return wire.Handshake{}, fmt.Errorf("writing handshake: %w", err)
	}

	resp, err := wire.ReadHandshake(s.conn)
	if err != nil {
		s.markDead()
		return wire.Handshake{}, fmt.Errorf("reading handshake: %w", err)
	}
	return resp, nil
}

// Send writes one message frame under the fixed deadline.
func (s *Socket) Send(m wire.Message) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(deadline)); err != nil {
		return err
	}
	if _, err := s.conn.Write(wire.Encode(m)); err != nil {
		s.markDead()
		return fmt.Errorf("writing message: %w", err)
	}
	return nil
}

// Receive reads and decodes one message frame under the fixed deadline.
func (s *Socket) Receive() (wire.Message, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(deadline)); err != nil {
		return nil, err
	}
	msg, err := wire.Decode(s.conn)
	if err != nil {
		if err != io.EOF {
			s.markDead()
		}
		return nil, fmt.Errorf("reading message: %w", err)
	}
	return msg, nil
}

// Close closes the underlying connection.
func (s *Socket) Close() error {
	return s.conn.Close()
}

// RemoteAddr returns the remote endpoint's address string.
func (s *Socket) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}
