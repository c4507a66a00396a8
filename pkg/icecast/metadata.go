package icecast

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/zachfi/scannercast/pkg/audio"
)

const metadataTimeout = 5 * time.Second

// updateMetadata sends the stream title through the Icecast admin interface.
func updateMetadata(ctx context.Context, client *http.Client, cfg *Config, m *audio.Metadata) error {
	q := url.Values{}
	q.Set("mode", "updinfo")
	q.Set("mount", cfg.Mount)
	q.Set("charset", "UTF-8")
	q.Set("song", m.Title())

	u := url.URL{
		Scheme:   "http",
		Host:     cfg.address(),
		Path:     "/admin/metadata",
		RawQuery: q.Encode(),
	}

	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create metadata request: %w", err)
	}
	req.Header.Set("Authorization", cfg.authorization())
	req.Header.Set("User-Agent", cfg.UserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send metadata update: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("metadata update rejected: %s", resp.Status)
	}
	return nil
}
