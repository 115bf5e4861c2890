// Package metainfo reads and writes .torrent metainfo files: the bencoded
// dictionary describing a file set's layout, piece boundaries, and the
// SHA-1 hash of each piece.
package metainfo

import (
	"crypto/sha1"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gorrent/bencode"
	"gorrent/utils"
)

// FileEntry describes one file within a (possibly multi-file) torrent, and
// the inclusive piece-index range it spans once laid out end to end.
type FileEntry struct {
	Length          int64
	Path            string
	FirstPieceIndex int
	LastPieceIndex  int
}

func (f FileEntry) String() string {
	return fmt.Sprintf("%s (%s)", f.Path, utils.FormatBytes(f.Length))
}

// Metadata is the parsed form of a .torrent file's contents.
type Metadata struct {
	AnnounceList []string
	UrlList      []string
	Name         string
	CreatedBy    string
	Comment      string
	CreatedAt    int64
	Files        []FileEntry
	PieceLength  int64
	Pieces       [][20]byte
	InfoHash     [20]byte
	TotalSize    int64
	Private      bool
}

func (m *Metadata) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "  Name: %s\n", m.Name)
	fmt.Fprintf(&sb, "  InfoHash: %x\n", m.InfoHash)
	fmt.Fprintf(&sb, "  Size: %s\n", utils.FormatBytes(m.TotalSize))
	fmt.Fprintf(&sb, "  PieceLength: %s\n", utils.FormatBytes(m.PieceLength))
	fmt.Fprintf(&sb, "  PieceCount: %d\n", m.PieceCount())
	sb.WriteString("  Announce:\n")
	for _, a := range m.AnnounceList {
		fmt.Fprintf(&sb, "    %s\n", a)
	}
	sb.WriteString("  Files:\n")
	for _, f := range m.Files {
		fmt.Fprintf(&sb, "    %s\n", f)
	}
	return sb.String()
}

// PieceCount is the number of pieces the info hash covers.
func (m *Metadata) PieceCount() int {
	return len(m.Pieces)
}

// PieceLengthAt returns the length in bytes of piece index, accounting for
// the final piece, which is normally shorter than PieceLength. The last
// piece's length is computed as TotalSize - (PieceCount-1)*PieceLength, so
// when TotalSize divides evenly into pieces the last piece is a full
// PieceLength rather than zero.
func (m *Metadata) PieceLengthAt(index int) int64 {
	if index == m.PieceCount()-1 {
		return m.TotalSize - int64(m.PieceCount()-1)*m.PieceLength
	}
	return m.PieceLength
}

// ValidBlock reports whether a block request (begin, length) fits entirely
// within piece index's bounds.
func (m *Metadata) ValidBlock(index int, begin, length uint32) bool {
	if index < 0 || index >= m.PieceCount() {
		return false
	}
	return int64(begin)+int64(length) <= m.PieceLengthAt(index)
}

// Parse decodes raw .torrent file bytes into Metadata.
func Parse(data []byte) (*Metadata, error) {
	root, _, err := bencode.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decoding torrent metainfo: %w", err)
	}
	if root == nil {
		return nil, fmt.Errorf("empty metainfo data")
	}
	return fromBencode(root)
}

func fromBencode(root *bencode.Data) (*Metadata, error) {
	rootDict := root.AsDict()
	infoField, ok := rootDict["info"]
	if !ok {
		return nil, fmt.Errorf("metainfo missing required \"info\" dict")
	}
	infoDict := infoField.AsDict()

	m := &Metadata{}

	if al, ok := rootDict["announce-list"]; ok {
		for _, tier := range al.AsList() {
			for _, a := range tier.AsList() {
				m.AnnounceList = append(m.AnnounceList, a.AsString())
			}
		}
	}
	if a, ok := rootDict["announce"]; ok {
		if !slices.Contains(m.AnnounceList, a.AsString()) {
			m.AnnounceList = append(m.AnnounceList, a.AsString())
		}
	}
	if ul, ok := rootDict["url-list"]; ok {
		for _, u := range ul.AsList() {
			m.UrlList = append(m.UrlList, u.AsString())
		}
	}
	if c, ok := rootDict["comment"]; ok {
		m.Comment = c.AsString()
	}
	if cb, ok := rootDict["created by"]; ok {
		m.CreatedBy = cb.AsString()
	}
	if cd, ok := rootDict["creation date"]; ok {
		m.CreatedAt = cd.AsInt()
	}
	if n, ok := infoDict["name"]; ok {
		m.Name = n.AsString()
	}
	if pl, ok := infoDict["piece length"]; ok {
		m.PieceLength = pl.AsInt()
	}
	if pr, ok := infoDict["private"]; ok {
		m.Private = pr.AsInt() == 1
	}

	if files, ok := infoDict["files"]; ok {
		for _, fd := range files.AsList() {
			fields := fd.AsDict()
			entry := FileEntry{Length: fields["length"].AsInt()}
			if pathField, ok := fields["path"]; ok {
				parts := pathField.AsList()
				segments := make([]string, len(parts))
				for i, p := range parts {
					segments[i] = p.AsString()
				}
				entry.Path = strings.Join(segments, "/")
			}
			m.Files = append(m.Files, entry)
			m.TotalSize += entry.Length
		}
	} else {
		m.TotalSize = infoDict["length"].AsInt()
		m.Files = append(m.Files, FileEntry{Length: m.TotalSize, Path: m.Name})
	}

	if piecesField, ok := infoDict["pieces"]; ok {
		raw := piecesField.AsBytes()
		if len(raw)%20 != 0 {
			return nil, fmt.Errorf("pieces field length %d is not a multiple of 20", len(raw))
		}
		for i := 0; i < len(raw); i += 20 {
			var hash [20]byte
			copy(hash[:], raw[i:i+20])
			m.Pieces = append(m.Pieces, hash)
		}
	}

	if m.PieceLength <= 0 {
		return nil, fmt.Errorf("metainfo has non-positive piece length %d", m.PieceLength)
	}

	var offset int64
	for i := range m.Files {
		m.Files[i].FirstPieceIndex = int(offset / m.PieceLength)
		m.Files[i].LastPieceIndex = int((offset + m.Files[i].Length - 1) / m.PieceLength)
		offset += m.Files[i].Length
	}

	m.InfoHash = sha1.Sum(infoField.ToBytes())

	return m, nil
}

// GenerateInput describes a file set to package into new Metadata.
type GenerateInput struct {
	Name        string
	AnnounceURL string
	PieceLength int64
	Files       []FileEntry // Length must be set; Path relative to Name
	ReadFile    func(path string) ([]byte, error)
}

// DefaultPieceLength matches the original distribution's 512 KiB default.
const DefaultPieceLength = 512 * 1024

// Generate builds Metadata (and its bencoded form) for a file set, hashing
// each file's content into the concatenated piece boundary the same way a
// single-stream read would: files are treated as one continuous byte stream
// for piece purposes, so a piece may span a file boundary.
func Generate(input GenerateInput) (*Metadata, []byte, error) {
	pieceLength := input.PieceLength
	if pieceLength <= 0 {
		pieceLength = DefaultPieceLength
	}

	var buffer []byte
	var pieces [][20]byte

	flush := func(force bool) {
		for len(buffer) >= int(pieceLength) || (force && len(buffer) > 0) {
			n := int(pieceLength)
			if len(buffer) < n {
				n = len(buffer)
			}
			pieces = append(pieces, sha1.Sum(buffer[:n]))
			buffer = buffer[n:]
			if force {
				break
			}
		}
	}

	bencodeFiles := make([]*bencode.Data, len(input.Files))
	for i, f := range input.Files {
		content, err := input.ReadFile(f.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("reading %s: %w", f.Path, err)
		}
		buffer = append(buffer, content...)
		flush(false)

		parts := strings.Split(filepath.ToSlash(f.Path), "/")
		partData := make([]*bencode.Data, len(parts))
		for j, p := range parts {
			partData[j] = bencode.NewData(p)
		}
		bencodeFiles[i] = bencode.NewDict(map[string]any{
			"length": int64(len(content)),
			"path":   partData,
		})
	}
	flush(true)

	piecesBytes := make([]byte, 0, len(pieces)*20)
	for _, p := range pieces {
		piecesBytes = append(piecesBytes, p[:]...)
	}

	infoDict := bencode.NewDict(map[string]any{
		"name":         input.Name,
		"piece length": pieceLength,
		"pieces":       piecesBytes,
	})
	infoDict.AsDict()["files"] = bencode.NewData(bencodeFiles)

	root := bencode.NewData(map[string]*bencode.Data{
		"announce": bencode.NewData(input.AnnounceURL),
		"info":     infoDict,
	})

	raw := bencode.Encode(root)
	meta, err := fromBencode(root)
	if err != nil {
		return nil, nil, fmt.Errorf("validating generated metainfo: %w", err)
	}
	meta.CreatedAt = time.Now().Unix()
	return meta, raw, nil
}
