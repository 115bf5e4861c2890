package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// BlockSize is the fixed request granularity: 16 KiB.
const BlockSize = 16 * 1024

// MessageID identifies a non-handshake message's wire id byte.
type MessageID uint8

const (
	IDChoke         MessageID = 0
	IDUnchoke       MessageID = 1
	IDInterested    MessageID = 2
	IDNotInterested MessageID = 3
	IDHave          MessageID = 4
	IDBitfield      MessageID = 5
	IDRequest       MessageID = 6
	IDPiece         MessageID = 7
	IDCancel        MessageID = 8
	IDPort          MessageID = 9
)

// Message is the tagged-union marker implemented by every concrete message
// type below. Decode returns one of these; callers dispatch with a type
// switch rather than inspecting a raw id byte.
type Message interface {
	id() (MessageID, bool) // ok=false for KeepAliveMsg, which has no id
	payload() []byte
}

type (
	KeepAliveMsg     struct{}
	ChokeMsg         struct{}
	UnchokeMsg       struct{}
	InterestedMsg    struct{}
	NotInterestedMsg struct{}
	HaveMsg          struct{ Index uint32 }
	BitfieldMsg      struct{ Bits Bitfield }
	RequestMsg       struct{ Index, Begin, Length uint32 }
	PieceMsg         struct {
		Index, Begin uint32
		Data         []byte
	}
	CancelMsg struct{ Index, Begin, Length uint32 }
	PortMsg   struct{ Port uint16 }
)

func (KeepAliveMsg) id() (MessageID, bool)     { return 0, false }
func (ChokeMsg) id() (MessageID, bool)         { return IDChoke, true }
func (UnchokeMsg) id() (MessageID, bool)       { return IDUnchoke, true }
func (InterestedMsg) id() (MessageID, bool)    { return IDInterested, true }
func (NotInterestedMsg) id() (MessageID, bool) { return IDNotInterested, true }
func (HaveMsg) id() (MessageID, bool)          { return IDHave, true }
func (BitfieldMsg) id() (MessageID, bool)      { return IDBitfield, true }
func (RequestMsg) id() (MessageID, bool)       { return IDRequest, true }
func (PieceMsg) id() (MessageID, bool)         { return IDPiece, true }
func (CancelMsg) id() (MessageID, bool)        { return IDCancel, true }
func (PortMsg) id() (MessageID, bool)          { return IDPort, true }

func (KeepAliveMsg) payload() []byte     { return nil }
func (ChokeMsg) payload() []byte         { return nil }
func (UnchokeMsg) payload() []byte       { return nil }
func (InterestedMsg) payload() []byte    { return nil }
func (NotInterestedMsg) payload() []byte { return nil }

func (m HaveMsg) payload() []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, m.Index)
	return buf
}

func (m BitfieldMsg) payload() []byte { return []byte(m.Bits) }

func (m RequestMsg) payload() []byte { return encode3u32(m.Index, m.Begin, m.Length) }

func (m PieceMsg) payload() []byte {
	buf := make([]byte, 8+len(m.Data))
	binary.BigEndian.PutUint32(buf[0:4], m.Index)
	binary.BigEndian.PutUint32(buf[4:8], m.Begin)
	copy(buf[8:], m.Data)
	return buf
}

func (m CancelMsg) payload() []byte { return encode3u32(m.Index, m.Begin, m.Length) }

func (m PortMsg) payload() []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, m.Port)
	return buf
}

func encode3u32(a, b, c uint32) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint32(buf[0:4], a)
	binary.BigEndian.PutUint32(buf[4:8], b)
	binary.BigEndian.PutUint32(buf[8:12], c)
	return buf
}

// Encode serializes a Message to its wire frame: <len:u32><id:u8><payload>,
// or a zero-length frame for KeepAliveMsg.
func Encode(m Message) []byte {
	id, ok := m.id()
	if !ok {
		return make([]byte, 4) // length-prefix 0, no id, no payload
	}
	payload := m.payload()
	length := uint32(1 + len(payload))
	buf := make([]byte, 4+length)
	binary.BigEndian.PutUint32(buf[0:4], length)
	buf[4] = byte(id)
	copy(buf[5:], payload)
	return buf
}

// Decode reads one message frame from r and returns the concrete variant.
func Decode(r io.Reader) (Message, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return nil, fmt.Errorf("reading message length: %w", err)
	}
	length := binary.BigEndian.Uint32(lenBuf)
	if length == 0 {
		return KeepAliveMsg{}, nil
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("reading message body: %w", err)
	}

	id := MessageID(body[0])
	payload := body[1:]
	return decodePayload(id, payload)
}

func decodePayload(id MessageID, payload []byte) (Message, error) {
	switch id {
	case IDChoke:
		return ChokeMsg{}, nil
	case IDUnchoke:
		return UnchokeMsg{}, nil
	case IDInterested:
		return InterestedMsg{}, nil
	case IDNotInterested:
		return NotInterestedMsg{}, nil
	case IDHave:
		if len(payload) != 4 {
			return nil, fmt.Errorf("have: invalid payload length %d", len(payload))
		}
		return HaveMsg{Index: binary.BigEndian.Uint32(payload)}, nil
	case IDBitfield:
		bits := make(Bitfield, len(payload))
		copy(bits, payload)
		return BitfieldMsg{Bits: bits}, nil
	case IDRequest:
		if len(payload) != 12 {
			return nil, fmt.Errorf("request: invalid payload length %d", len(payload))
		}
		return RequestMsg{
			Index:  binary.BigEndian.Uint32(payload[0:4]),
			Begin:  binary.BigEndian.Uint32(payload[4:8]),
			Length: binary.BigEndian.Uint32(payload[8:12]),
		}, nil
	case IDPiece:
		if len(payload) < 8 {
			return nil, fmt.Errorf("piece: payload too short (%d bytes)", len(payload))
		}
		data := make([]byte, len(payload)-8)
		copy(data, payload[8:])
		return PieceMsg{
			Index: binary.BigEndian.Uint32(payload[0:4]),
			Begin: binary.BigEndian.Uint32(payload[4:8]),
			Data:  data,
		}, nil
	case IDCancel:
		if len(payload) != 12 {
			return nil, fmt.Errorf("cancel: invalid payload length %d", len(payload))
		}
		return CancelMsg{
			Index:  binary.BigEndian.Uint32(payload[0:4]),
			Begin:  binary.BigEndian.Uint32(payload[4:8]),
			Length: binary.BigEndian.Uint32(payload[8:12]),
		}, nil
	case IDPort:
		if len(payload) != 2 {
			return nil, fmt.Errorf("port: invalid payload length %d", len(payload))
		}
		return PortMsg{Port: binary.BigEndian.Uint16(payload)}, nil
	default:
		return nil, fmt.Errorf("unknown message id %d", id)
	}
}
