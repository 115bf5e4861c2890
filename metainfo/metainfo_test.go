package metainfo

import (
	"bytes"
	"testing"

	"gorrent/bencode"
)

func fakeReadFile(files map[string][]byte) func(string) ([]byte, error) {
	return func(path string) ([]byte, error) {
		data, ok := files[path]
		if !ok {
			return nil, errNotFound(path)
		}
		return data, nil
	}
}

type errNotFound string

func (e errNotFound) Error() string { return "no such file: " + string(e) }

func TestGenerateThenParseRoundTrip(t *testing.T) {
	content := map[string][]byte{
		"a.txt": bytes.Repeat([]byte("A"), 30),
		"b.txt": bytes.Repeat([]byte("B"), 10),
	}
	input := GenerateInput{
		Name:        "bundle",
		AnnounceURL: "http://tracker.example/announce",
		PieceLength: 16,
		Files: []FileEntry{
			{Path: "a.txt"},
			{Path: "b.txt"},
		},
		ReadFile: fakeReadFile(content),
	}

	generated, raw, err := Generate(input)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	parsed, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if parsed.InfoHash != generated.InfoHash {
		t.Errorf("info hash mismatch: parsed %x, generated %x", parsed.InfoHash, generated.InfoHash)
	}
	if parsed.TotalSize != 40 {
		t.Errorf("TotalSize = %d, want 40", parsed.TotalSize)
	}
	wantPieceCount := 3 // 40 bytes / 16-byte pieces = ceil(40/16) = 3
	if parsed.PieceCount() != wantPieceCount {
		t.Errorf("PieceCount = %d, want %d", parsed.PieceCount(), wantPieceCount)
	}
	if len(parsed.Files) != 2 {
		t.Fatalf("len(Files) = %d, want 2", len(parsed.Files))
	}
}

// TestGenerateSingleFileAlwaysEmitsFilesList guards against reintroducing the
// single-file info.length shorthand: even when there is exactly one file
// whose path equals the torrent name, the bencoded info dict must carry a
// "files" list, never a bare "length", or its info-hash won't match a
// spec-conformant generator for the same content.
func TestGenerateSingleFileAlwaysEmitsFilesList(t *testing.T) {
	content := map[string][]byte{"solo.bin": bytes.Repeat([]byte("Z"), 20)}
	input := GenerateInput{
		Name:        "solo.bin",
		AnnounceURL: "http://tracker.example/announce",
		PieceLength: 16,
		Files:       []FileEntry{{Path: "solo.bin"}},
		ReadFile:    fakeReadFile(content),
	}

	_, raw, err := Generate(input)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	root, _, err := bencode.Decode(raw)
	if err != nil {
		t.Fatalf("bencode.Decode: %v", err)
	}
	info := root.AsDict()["info"].AsDict()
	if _, hasLength := info["length"]; hasLength {
		t.Error("info dict has a bare \"length\" field; single-file shorthand must not be emitted")
	}
	if _, hasFiles := info["files"]; !hasFiles {
		t.Error("info dict is missing \"files\"; single-file torrents must still list their one file")
	}
}

func TestPieceLengthLastPieceFormula(t *testing.T) {
	m := &Metadata{
		TotalSize:   40,
		PieceLength: 16,
		Pieces:      make([][20]byte, 3),
	}
	if got := m.PieceLengthAt(0); got != 16 {
		t.Errorf("PieceLengthAt(0) = %d, want 16", got)
	}
	if got := m.PieceLengthAt(1); got != 16 {
		t.Errorf("PieceLengthAt(1) = %d, want 16", got)
	}
	// last piece: 40 - 2*16 = 8, NOT 40 % 16 == 8 coincidentally equal here;
	// use a case where they'd differ to pin the formula.
	if got := m.PieceLengthAt(2); got != 8 {
		t.Errorf("PieceLengthAt(2) = %d, want 8", got)
	}
}

func TestPieceLengthLastPieceFormulaDiffersFromModulo(t *testing.T) {
	// TotalSize=32, PieceLength=16: 2 whole pieces, no remainder.
	// TotalSize % PieceLength == 0, so a modulo-based formula would give the
	// last piece a length of 0; PieceLengthAt(1) must be the full 16.
	m := &Metadata{
		TotalSize:   32,
		PieceLength: 16,
		Pieces:      make([][20]byte, 2),
	}
	if got := m.PieceLengthAt(1); got != 16 {
		t.Errorf("PieceLengthAt(1) = %d, want 16", got)
	}
}

func TestValidBlock(t *testing.T) {
	m := &Metadata{
		TotalSize:   40,
		PieceLength: 16,
		Pieces:      make([][20]byte, 3),
	}
	if !m.ValidBlock(0, 0, 16) {
		t.Error("expected full first piece block to be valid")
	}
	if m.ValidBlock(2, 0, 16) {
		t.Error("expected request overflowing the short last piece to be invalid")
	}
	if m.ValidBlock(2, 0, 8) != true {
		t.Error("expected exact-fit request on short last piece to be valid")
	}
	if m.ValidBlock(3, 0, 1) {
		t.Error("expected out-of-range piece index to be invalid")
	}
}
