package peerconn

import (
	"crypto/rand"
	"io"
	"net/http"
)

// NewPeerID generates a random opaque 20-byte peer-id.
func NewPeerID() [20]byte {
	var id [20]byte
	rand.Read(id[:])
	return id
}

// ExternalIP queries a public IP-echo service for this host's externally
// visible address. An opt-in helper; the default CLI path discovers its
// address locally (cmd/peer's localOutboundIP) instead of calling out to a
// third-party service on every invocation.
func ExternalIP() (string, error) {
	resp, err := http.Get("https://api.ipify.org/")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}
