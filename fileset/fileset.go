// Package fileset maps a torrent's global piece/block offsets onto the
// backing files on disk, scattering reads and writes across file boundaries
// exactly as the wire protocol's flat piece addressing requires.
package fileset

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gorrent/metainfo"
)

// entry is one backing file: its offset within the logical concatenated
// stream, its length, and a lock serializing access to its descriptor.
type entry struct {
	path   string
	offset int64
	length int64
	mu     sync.Mutex
}

// Set is the collection of backing files for one torrent's download
// directory, addressable by global byte offset.
type Set struct {
	entries     []*entry
	pieceLength int64
	totalSize   int64
}

// New creates the backing files under dir for the layout described by meta,
// without allocating their content (see InitializeForDownload for that).
func New(meta *metainfo.Metadata, dir string) (*Set, error) {
	s := &Set{pieceLength: meta.PieceLength, totalSize: meta.TotalSize}

	var offset int64
	for _, f := range meta.Files {
		path := filepath.Join(dir, f.Path)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating directory for %s: %w", f.Path, err)
		}
		file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
		if err != nil {
			return nil, fmt.Errorf("creating %s: %w", path, err)
		}
		if err := file.Truncate(f.Length); err != nil {
			file.Close()
			return nil, fmt.Errorf("truncating %s to %d bytes: %w", path, f.Length, err)
		}
		file.Close()

		s.entries = append(s.entries, &entry{path: path, offset: offset, length: f.Length})
		offset += f.Length
	}
	return s, nil
}

// InitializeForDownload zero-fills every backing file so reads before the
// corresponding piece has been downloaded return zero bytes rather than
// stale data from a prior file at the same path.
func (s *Set) InitializeForDownload() error {
	const chunkSize = 16 * 1024
	zero := make([]byte, chunkSize)

	for _, e := range s.entries {
		e.mu.Lock()
		err := func() error {
			f, err := os.OpenFile(e.path, os.O_WRONLY, 0o644)
			if err != nil {
				return err
			}
			defer f.Close()

			remaining := e.length
			for remaining > 0 {
				n := int64(chunkSize)
				if remaining < n {
					n = remaining
				}
				if _, err := f.Write(zero[:n]); err != nil {
					return err
				}
				remaining -= n
			}
			return nil
		}()
		e.mu.Unlock()
		if err != nil {
			return fmt.Errorf("zero-filling %s: %w", e.path, err)
		}
	}
	return nil
}

// segment is one file's share of a [globalOffset, globalOffset+size) span;
// segments returns the segments a span touches, in file order.
type segment struct {
	e          *entry
	fileOffset int64
	inBufStart int64
	length     int64
}

func (s *Set) segments(globalOffset, size int64) []segment {
	var segs []segment
	remaining := size
	cursor := globalOffset
	bufStart := int64(0)

	for _, e := range s.entries {
		if remaining <= 0 {
			break
		}
		fileStart := e.offset
		fileEnd := e.offset + e.length
		if cursor >= fileEnd || cursor+remaining <= fileStart {
			continue
		}

		segStart := cursor
		if segStart < fileStart {
			segStart = fileStart
		}
		segEnd := cursor + remaining
		if segEnd > fileEnd {
			segEnd = fileEnd
		}
		length := segEnd - segStart

		segs = append(segs, segment{
			e:          e,
			fileOffset: segStart - fileStart,
			inBufStart: bufStart + (segStart - cursor),
			length:     length,
		})
	}
	return segs
}

// WriteBlock writes data at piece index, block offset begin, scattering
// across backing file boundaries as needed. Each touched file's lock is
// held only for the duration of that file's own write.
func (s *Set) WriteBlock(pieceIndex int, begin int64, data []byte) error {
	globalOffset := int64(pieceIndex)*s.pieceLength + begin
	for _, seg := range s.segments(globalOffset, int64(len(data))) {
		chunk := data[seg.inBufStart : seg.inBufStart+seg.length]
		if err := writeAt(seg.e, seg.fileOffset, chunk); err != nil {
			return fmt.Errorf("writing block at piece %d begin %d: %w", pieceIndex, begin, err)
		}
	}
	return nil
}

// ReadBlock reads length bytes at piece index, block offset begin.
func (s *Set) ReadBlock(pieceIndex int, begin int64, length int64) ([]byte, error) {
	globalOffset := int64(pieceIndex)*s.pieceLength + begin
	out := make([]byte, length)
	for _, seg := range s.segments(globalOffset, length) {
		chunk := out[seg.inBufStart : seg.inBufStart+seg.length]
		if err := readAt(seg.e, seg.fileOffset, chunk); err != nil {
			return nil, fmt.Errorf("reading block at piece %d begin %d: %w", pieceIndex, begin, err)
		}
	}
	return out, nil
}

func writeAt(e *entry, fileOffset int64, data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	f, err := os.OpenFile(e.path, os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.WriteAt(data, fileOffset)
	return err
}

func readAt(e *entry, fileOffset int64, buf []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	f, err := os.Open(e.path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.ReadAt(buf, fileOffset)
	return err
}
