// Package wire implements the BitTorrent peer-wire protocol: the fixed
// handshake framing and the length-prefixed typed message framing used for
// everything that follows it on a peer connection.
package wire

import (
	"fmt"
	"io"
)

// ProtocolIdentifier is the fixed protocol name string carried in every handshake.
const ProtocolIdentifier = "BitTorrent protocol"

const handshakeLen = 49 + len(ProtocolIdentifier) // 68

// Handshake is the fixed 68-byte opener exchanged before any other message.
type Handshake struct {
	InfoHash [20]byte
	PeerID   [20]byte
}

// Serialize renders the handshake to its wire form.
func (h Handshake) Serialize() []byte {
	buf := make([]byte, handshakeLen)
	buf[0] = byte(len(ProtocolIdentifier))
	copy(buf[1:], ProtocolIdentifier)
	// bytes 1+len..1+len+8 are the reserved field, left zero
	copy(buf[1+len(ProtocolIdentifier)+8:], h.InfoHash[:])
	copy(buf[1+len(ProtocolIdentifier)+8+20:], h.PeerID[:])
	return buf
}

// ReadHandshake reads and validates a handshake from r. The peer-id is
// always treated as opaque bytes, never decoded as UTF-8: some clients use
// peer-ids outside the ASCII range.
func ReadHandshake(r io.Reader) (Handshake, error) {
	buf := make([]byte, handshakeLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Handshake{}, fmt.Errorf("reading handshake: %w", err)
	}

	pstrlen := int(buf[0])
	if pstrlen != len(ProtocolIdentifier) {
		return Handshake{}, fmt.Errorf("invalid protocol name length: %d", pstrlen)
	}
	pstr := string(buf[1 : 1+pstrlen])
	if pstr != ProtocolIdentifier {
		return Handshake{}, fmt.Errorf("invalid protocol identifier: %q", pstr)
	}

	var h Handshake
	copy(h.InfoHash[:], buf[1+pstrlen+8:1+pstrlen+8+20])
	copy(h.PeerID[:], buf[1+pstrlen+8+20:])
	return h, nil
}

// Validate checks that the handshake's info-hash matches the one expected
// locally. The remote peer-id is recorded but never validated.
func (h Handshake) Validate(expectedInfoHash [20]byte) error {
	if h.InfoHash != expectedInfoHash {
		return fmt.Errorf("info-hash mismatch: got %x, want %x", h.InfoHash, expectedInfoHash)
	}
	return nil
}
