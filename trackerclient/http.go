package trackerclient

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"gorrent/bencode"
)

// HTTPClient announces over HTTP(S) using bencoded GET/POST responses,
// built on a resty-based tracker client.
type HTTPClient struct {
	announceURL string
	client      *resty.Client
	session     uuid.UUID
}

// NewHTTPClient builds an HTTP(S) tracker client for announceURL. Every
// client instance gets its own correlation ID, attached to every log line
// so the repeated announces to this one tracker can be threaded together.
func NewHTTPClient(announceURL string) *HTTPClient {
	return &HTTPClient{
		announceURL: announceURL,
		client:      resty.New().SetTimeout(5 * time.Second),
		session:     uuid.Must(uuid.NewV4()),
	}
}

func (c *HTTPClient) URL() string { return c.announceURL }

// Announce issues a GET /announce with the standard tracker query parameters.
func (c *HTTPClient) Announce(req AnnounceRequest) (*AnnounceResponse, error) {
	logger := log.With().Str("session", c.session.String()).Logger()
	logger.Debug().Str("tracker", c.announceURL).Str("event", string(req.Event)).Msg("announcing")

	resp, err := c.client.R().
		SetQueryParam("info_hash", hex.EncodeToString(req.InfoHash[:])).
		SetQueryParam("peer_id", hex.EncodeToString(req.PeerID[:])).
		SetQueryParam("ip", req.IP).
		SetQueryParam("port", strconv.Itoa(int(req.Port))).
		SetQueryParam("uploaded", strconv.FormatInt(req.Uploaded, 10)).
		SetQueryParam("downloaded", strconv.FormatInt(req.Downloaded, 10)).
		SetQueryParam("left", strconv.FormatInt(req.Left, 10)).
		SetQueryParam("compact", "1").
		SetQueryParam("event", string(req.Event)).
		Get(c.announceURL + "/announce")
	if err != nil {
		return nil, fmt.Errorf("announcing to %s: %w", c.announceURL, err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("tracker %s returned status %d: %s", c.announceURL, resp.StatusCode(), resp.String())
	}

	data, _, err := bencode.Decode(resp.Body())
	if err != nil {
		return nil, fmt.Errorf("decoding tracker response from %s: %w", c.announceURL, err)
	}
	dict := data.AsDict()

	if reason, ok := dict["failure reason"]; ok {
		logger.Warn().Str("tracker", c.announceURL).Str("reason", reason.AsString()).Msg("tracker rejected announce")
		return nil, fmt.Errorf("tracker %s: %s", c.announceURL, reason.AsString())
	}

	out := &AnnounceResponse{}
	if v, ok := dict["interval"]; ok {
		out.Interval = v.AsInt()
	}
	if v, ok := dict["complete"]; ok {
		out.Complete = int(v.AsInt())
	}
	if v, ok := dict["incomplete"]; ok {
		out.Incomplete = int(v.AsInt())
	}
	if v, ok := dict["tracker id"]; ok {
		out.TrackerID = v.AsString()
	}
	if v, ok := dict["warning message"]; ok {
		out.Warning = v.AsString()
	}
	if v, ok := dict["peers"]; ok {
		out.Peers = parsePeersField(v)
	}
	return out, nil
}

// UploadTorrent POSTs a completed torrent file to the tracker's /announce
// endpoint as multipart form data, the non-standard extension this system's
// trackers use to let a peer that already has the full data seed without a
// separate publishing step.
func (c *HTTPClient) UploadTorrent(req AnnounceRequest, torrentBytes []byte) error {
	resp, err := c.client.R().
		SetFormData(map[string]string{
			"info_hash":  string(req.InfoHash[:]),
			"peer_id":    string(req.PeerID[:]),
			"ip":         req.IP,
			"port":       strconv.Itoa(int(req.Port)),
			"uploaded":   strconv.FormatInt(req.Uploaded, 10),
			"downloaded": strconv.FormatInt(req.Downloaded, 10),
			"left":       "0",
			"event":      string(EventStarted),
		}).
		SetFileReader("torrent_file", "torrent.torrent", bytes.NewReader(torrentBytes)).
		Post(c.announceURL + "/announce")
	if err != nil {
		return fmt.Errorf("uploading torrent to %s: %w", c.announceURL, err)
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("tracker %s rejected upload with status %d: %s", c.announceURL, resp.StatusCode(), resp.String())
	}
	return nil
}

// GetTorrent fetches the raw metainfo bytes for infoHash from the tracker's
// non-standard /get_torrent endpoint.
func (c *HTTPClient) GetTorrent(infoHashHex string) ([]byte, error) {
	resp, err := c.client.R().
		SetQueryParam("info_hash", infoHashHex).
		Get(c.announceURL + "/get_torrent")
	if err != nil {
		return nil, fmt.Errorf("fetching torrent %s from %s: %w", infoHashHex, c.announceURL, err)
	}
	if resp.StatusCode() == 404 {
		return nil, fmt.Errorf("tracker %s has no torrent for info hash %s", c.announceURL, infoHashHex)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("tracker %s returned status %d fetching %s", c.announceURL, resp.StatusCode(), infoHashHex)
	}
	return resp.Body(), nil
}
