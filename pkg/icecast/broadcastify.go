package icecast

import (
	"net/http"

	"github.com/zachfi/scannercast/pkg/session"
)

const (
	broadcastifyBitRate    = 16
	broadcastifySampleRate = 22050
)

// NewBroadcastify returns an Icecast HTTP client with the stream parameters
// Broadcastify feeds require: 16 kbps mono MP3 at 22.05 kHz, non-public
// directory listing handled by Broadcastify itself.
func NewBroadcastify(cfg Config, client *http.Client) (*HTTP, error) {
	if cfg.Mount == "" {
		return nil, session.Errorf(session.InvalidMountPoint, "broadcastify feeds require a mount point")
	}
	if cfg.Mount[0] != '/' {
		cfg.Mount = "/" + cfg.Mount
	}
	if cfg.BitRate == 0 {
		cfg.BitRate = broadcastifyBitRate
	}
	if cfg.BitRate != broadcastifyBitRate {
		return nil, session.Errorf(session.InvalidSettings, "broadcastify requires %d kbps, got %d", broadcastifyBitRate, cfg.BitRate)
	}
	cfg.SampleRate = broadcastifySampleRate
	cfg.Channels = 1
	cfg.Public = false

	h := NewHTTP(cfg, client)
	if err := h.cfg.Validate(); err != nil {
		return nil, err
	}
	return h, nil
}
