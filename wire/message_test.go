package wire

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Message{
		KeepAliveMsg{},
		ChokeMsg{},
		UnchokeMsg{},
		InterestedMsg{},
		NotInterestedMsg{},
		HaveMsg{Index: 7},
		BitfieldMsg{Bits: Bitfield{0xff, 0x00, 0x80}},
		RequestMsg{Index: 1, Begin: 2 * BlockSize, Length: BlockSize},
		PieceMsg{Index: 1, Begin: 0, Data: []byte("some block payload")},
		CancelMsg{Index: 1, Begin: 2 * BlockSize, Length: BlockSize},
		PortMsg{Port: 6881},
	}

	for _, want := range cases {
		encoded := Encode(want)
		got, err := Decode(bytes.NewReader(encoded))
		if err != nil {
			t.Fatalf("Decode(%#v): %v", want, err)
		}

		switch wantTyped := want.(type) {
		case PieceMsg:
			gotPm, ok := got.(PieceMsg)
			if !ok || gotPm.Index != wantTyped.Index || gotPm.Begin != wantTyped.Begin || !bytes.Equal(gotPm.Data, wantTyped.Data) {
				t.Errorf("PieceMsg round-trip mismatch: got %#v, want %+v", got, wantTyped)
			}
		case BitfieldMsg:
			gotBm, ok := got.(BitfieldMsg)
			if !ok || !bytes.Equal(gotBm.Bits, wantTyped.Bits) {
				t.Errorf("BitfieldMsg round-trip mismatch: got %#v, want %+v", got, wantTyped)
			}
		default:
			if got != want {
				t.Errorf("round-trip mismatch: got %#v, want %#v", got, want)
			}
		}
	}
}

func TestDecodeKeepAliveZeroLength(t *testing.T) {
	got, err := Decode(bytes.NewReader([]byte{0, 0, 0, 0}))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if _, ok := got.(KeepAliveMsg); !ok {
		t.Fatalf("got %#v, want KeepAliveMsg", got)
	}
}

func TestDecodeRejectsBadPayloadLength(t *testing.T) {
	// have with a 2-byte payload instead of 4
	frame := []byte{0, 0, 0, 3, byte(IDHave), 0x01, 0x02}
	if _, err := Decode(bytes.NewReader(frame)); err == nil {
		t.Fatal("expected error for truncated have payload, got nil")
	}
}

func TestDecodeUnknownID(t *testing.T) {
	frame := []byte{0, 0, 0, 1, 0xEE}
	if _, err := Decode(bytes.NewReader(frame)); err == nil {
		t.Fatal("expected error for unknown message id, got nil")
	}
}

func TestHandshakeRoundTrip(t *testing.T) {
	var want Handshake
	copy(want.InfoHash[:], bytes.Repeat([]byte{0xAB}, 20))
	copy(want.PeerID[:], bytes.Repeat([]byte{0xCD}, 20))

	got, err := ReadHandshake(bytes.NewReader(want.Serialize()))
	if err != nil {
		t.Fatalf("ReadHandshake: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if err := got.Validate(want.InfoHash); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestHandshakeValidateMismatch(t *testing.T) {
	var h Handshake
	copy(h.InfoHash[:], bytes.Repeat([]byte{0x01}, 20))
	var other [20]byte
	copy(other[:], bytes.Repeat([]byte{0x02}, 20))
	if err := h.Validate(other); err == nil {
		t.Fatal("expected mismatch error, got nil")
	}
}

func TestHandshakeRejectsWrongProtocol(t *testing.T) {
	buf := make([]byte, handshakeLen)
	buf[0] = 19
	copy(buf[1:], "Some Other Protocol")
	if _, err := ReadHandshake(bytes.NewReader(buf)); err == nil {
		t.Fatal("expected error for wrong protocol identifier, got nil")
	}
}

func TestBitfieldSetHasAndBoolRoundTrip(t *testing.T) {
	bf := NewBitfield(10)
	for _, i := range []int{0, 3, 9} {
		bf.Set(i)
	}
	for i := 0; i < 10; i++ {
		want := i == 0 || i == 3 || i == 9
		if bf.Has(i) != want {
			t.Errorf("Has(%d) = %v, want %v", i, bf.Has(i), want)
		}
	}

	bools := bf.ToBools(10)
	round := BitfieldFromBools(bools)
	for i := 0; i < 10; i++ {
		if round.Has(i) != bf.Has(i) {
			t.Errorf("round-trip mismatch at bit %d", i)
		}
	}
}
