package shoutcast

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/zachfi/scannercast/pkg/audio"
	"github.com/zachfi/scannercast/pkg/flow"
	"github.com/zachfi/scannercast/pkg/session"
)

// Shoutcast v1 admin.cgi rejects requests that do not look like a browser.
const adminUserAgent = "Mozilla/5.0 (compatible; " + clientName + ")"

// V1 is a legacy Shoutcast source client.
type V1 struct {
	cfg    Config
	client *http.Client

	mu     sync.Mutex
	stream *flow.Stream
}

func NewV1(cfg Config, client *http.Client) *V1 {
	cfg.applyDefaults()
	if client == nil {
		client = http.DefaultClient
	}
	return &V1{cfg: cfg, client: client}
}

func (v *V1) Validate() error { return v.cfg.validate() }

func (v *V1) Connect(ctx context.Context, p *flow.Producer, g *flow.Gate) error {
	if err := v.Validate(); err != nil {
		return err
	}

	// Sources connect one port above the listener port.
	d := net.Dialer{Timeout: v.cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", v.cfg.address(1))
	if err != nil {
		return err
	}

	if err := v.handshake(conn); err != nil {
		_ = conn.Close()
		return err
	}

	v.mu.Lock()
	v.stream = flow.StartStream(conn, p, g, nil)
	v.mu.Unlock()
	return nil
}

func (v *V1) handshake(conn net.Conn) error {
	if err := conn.SetDeadline(time.Now().Add(defaultHandshakeTimeout)); err != nil {
		return err
	}

	if _, err := io.WriteString(conn, v.cfg.Password+"\r\n"); err != nil {
		return fmt.Errorf("failed to send password: %w", err)
	}

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("failed to read server response: %w", err)
	}
	if err := classifyV1Response(strings.TrimSpace(line)); err != nil {
		return err
	}

	var sb strings.Builder
	header := func(k, val string) {
		if val != "" {
			sb.WriteString(k + ":" + val + "\r\n")
		}
	}
	header("content-type", v.cfg.ContentType)
	header("icy-name", v.cfg.Name)
	header("icy-genre", v.cfg.Genre)
	header("icy-url", v.cfg.URL)
	header("icy-description", v.cfg.Description)
	header("icy-pub", publicFlag(v.cfg.Public))
	if v.cfg.BitRate > 0 {
		header("icy-br", strconv.Itoa(v.cfg.BitRate))
	}
	sb.WriteString("\r\n")

	if _, err := io.WriteString(conn, sb.String()); err != nil {
		return fmt.Errorf("failed to send stream headers: %w", err)
	}

	return conn.SetDeadline(time.Time{})
}

func classifyV1Response(line string) error {
	lower := strings.ToLower(line)
	switch {
	case strings.HasPrefix(line, "OK2"):
		return nil
	case strings.Contains(lower, "invalid password"):
		return session.Errorf(session.InvalidCredentials, "%s", line)
	case strings.Contains(lower, "in use"):
		return session.Errorf(session.MountPointInUse, "%s", line)
	}
	return session.Errorf(session.Error, "unrecognized server response: %q", line)
}

// UpdateMetadata sets the stream title through the server's admin.cgi.
func (v *V1) UpdateMetadata(ctx context.Context, m *audio.Metadata) error {
	q := url.Values{}
	q.Set("pass", v.cfg.Password)
	q.Set("mode", "updinfo")
	q.Set("song", m.Title())

	u := url.URL{Scheme: "http", Host: v.cfg.address(0), Path: "/admin.cgi", RawQuery: q.Encode()}

	ctx, cancel := context.WithTimeout(ctx, defaultHandshakeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create metadata request: %w", err)
	}
	req.Header.Set("User-Agent", adminUserAgent)

	resp, err := v.client.Do(req)
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

func (v *V1) Disconnect() error {
	v.mu.Lock()
	s := v.stream
	v.stream = nil
	v.mu.Unlock()

	if s == nil {
		return nil
	}
	return s.Close()
}
