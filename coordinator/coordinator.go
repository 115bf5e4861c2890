// Package coordinator assigns a torrent's pieces across a set of connected
// peers and drives each peer's downloads to completion. Assignment is
// static: computed once from peers' advertised bitfields (least-loaded peer
// per piece), not a work-stealing queue -- so a single slow peer only ever
// holds up the pieces it was assigned, never the whole run.
package coordinator

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"gorrent/fileset"
	"gorrent/metainfo"
	"gorrent/peerconn"
	"gorrent/torrentlog"
)

// Result summarizes one coordinator run.
type Result struct {
	Downloaded []int   // piece indices successfully downloaded and verified
	Skipped    []int   // piece indices no connected peer advertised
	Errors     []error // per-piece download failures, after any retries
	Complete   bool    // true once every piece is accounted for as already-held or downloaded
}

// Coordinator drives parallel piece downloads across a fixed set of
// already-handshaked connections.
type Coordinator struct {
	Meta      *metainfo.Metadata
	Files     *fileset.Set
	Log       *torrentlog.Log
	InfoHash string
	Conns    []*peerconn.Conn
	Already  map[int]bool // pieces already downloaded, skipped from assignment
	MaxRetry int
}

// Run assigns every not-yet-downloaded piece to the least-loaded peer that
// advertises it, downloads in parallel (one goroutine per peer, pieces
// within a peer downloaded sequentially), and persists each verified piece
// to disk and to the torrent log.
func (c *Coordinator) Run(ctx context.Context) (*Result, error) {
	if len(c.Conns) == 0 {
		return nil, fmt.Errorf("no connected peers to download from")
	}

	pieceCount := c.Meta.PieceCount()
	peerHasPiece := make([][]int, pieceCount) // piece index -> peer indices that have it
	for peerIdx, conn := range c.Conns {
		for i := 0; i < pieceCount; i++ {
			if conn.HasPiece(i) {
				peerHasPiece[i] = append(peerHasPiece[i], peerIdx)
			}
		}
	}

	assignment := make([][]int, len(c.Conns)) // peer index -> assigned piece indices
	result := &Result{}

	for i := 0; i < pieceCount; i++ {
		if c.Already[i] {
			continue
		}
		candidates := peerHasPiece[i]
		if len(candidates) == 0 {
			result.Skipped = append(result.Skipped, i)
			log.Warn().Int("piece", i).Msg("no connected peer advertises this piece, skipping")
			continue
		}

		best := candidates[0]
		for _, p := range candidates[1:] {
			if len(assignment[p]) < len(assignment[best]) {
				best = p
			}
		}
		assignment[best] = append(assignment[best], i)
	}

	var (
		wg       sync.WaitGroup
		resultMu sync.Mutex
	)

	for peerIdx, pieces := range assignment {
		if len(pieces) == 0 {
			continue
		}
		wg.Add(1)
		go func(peerIdx int, pieces []int) {
			defer wg.Done()
			conn := c.Conns[peerIdx]
			for _, pieceIdx := range pieces {
				if err := ctx.Err(); err != nil {
					resultMu.Lock()
					result.Errors = append(result.Errors, err)
					resultMu.Unlock()
					return
				}

				candidates := c.candidateConns(peerIdx, peerHasPiece[pieceIdx])
				data, usedConn, err := c.downloadWithRetry(ctx, candidates, pieceIdx)
				resultMu.Lock()
				if err != nil {
					result.Errors = append(result.Errors, fmt.Errorf("piece %d from %s: %w", pieceIdx, conn.Addr(), err))
					resultMu.Unlock()
					continue
				}
				resultMu.Unlock()

				if err := c.Files.WriteBlock(pieceIdx, 0, data); err != nil {
					resultMu.Lock()
					result.Errors = append(result.Errors, fmt.Errorf("writing piece %d: %w", pieceIdx, err))
					resultMu.Unlock()
					continue
				}
				if err := c.Log.UpdateBitfield(c.InfoHash, pieceIdx, 1); err != nil {
					log.Warn().Err(err).Int("piece", pieceIdx).Msg("failed to persist bitfield update")
				}

				resultMu.Lock()
				result.Downloaded = append(result.Downloaded, pieceIdx)
				resultMu.Unlock()
				log.Debug().Int("piece", pieceIdx).Str("peer", usedConn.Addr()).Msg("piece downloaded")
			}
		}(peerIdx, pieces)
	}

	wg.Wait()

	have := len(result.Downloaded)
	for _, done := range c.Already {
		if done {
			have++
		}
	}
	result.Complete = have == pieceCount

	return result, nil
}

// candidateConns orders the peers to try for pieceIdx: the peer it was
// statically assigned to first, then every other peer that advertised it, so
// a corrupt or failing assigned peer doesn't strand the piece.
func (c *Coordinator) candidateConns(assignedPeerIdx int, holders []int) []*peerconn.Conn {
	conns := make([]*peerconn.Conn, 0, len(holders))
	conns = append(conns, c.Conns[assignedPeerIdx])
	for _, peerIdx := range holders {
		if peerIdx != assignedPeerIdx {
			conns = append(conns, c.Conns[peerIdx])
		}
	}
	return conns
}

// downloadWithRetry tries pieceIdx against each conn in order (the
// statically assigned peer first), making up to MaxRetry attempts per peer
// (at least one) before falling back to the next one that advertised the
// piece. A piece a peer
// reports failing hash verification is exactly as retryable-elsewhere as a
// network error: both fall through to the next candidate the same way.
func (c *Coordinator) downloadWithRetry(ctx context.Context, conns []*peerconn.Conn, pieceIdx int) ([]byte, *peerconn.Conn, error) {
	retries := c.MaxRetry
	if retries <= 0 {
		retries = 1
	}
	var lastErr error
	for _, conn := range conns {
		for attempt := 0; attempt < retries; attempt++ {
			data, err := conn.DownloadPiece(ctx, pieceIdx)
			if err == nil {
				return data, conn, nil
			}
			lastErr = err
			log.Warn().Err(err).Int("piece", pieceIdx).Str("peer", conn.Addr()).Int("attempt", attempt+1).Msg("piece download attempt failed")
		}
	}
	return nil, nil, lastErr
}
