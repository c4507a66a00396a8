package icecast

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/zachfi/scannercast/pkg/audio"
	"github.com/zachfi/scannercast/pkg/flow"
	"github.com/zachfi/scannercast/pkg/session"
)

const (
	crlf             = "\r\n"
	handshakeTimeout = 10 * time.Second
)

// TCP is an Icecast 2.3 compatible source client speaking the SOURCE
// pseudo HTTP/1.0 protocol over a raw TCP connection.
type TCP struct {
	cfg    Config
	client *http.Client

	mu     sync.Mutex
	stream *flow.Stream
}

func NewTCP(cfg Config, client *http.Client) *TCP {
	cfg.applyDefaults()
	if client == nil {
		client = http.DefaultClient
	}
	return &TCP{cfg: cfg, client: client}
}

func (t *TCP) Validate() error { return t.cfg.Validate() }

func (t *TCP) Connect(ctx context.Context, p *flow.Producer, g *flow.Gate) error {
	if err := t.Validate(); err != nil {
		return err
	}

	d := net.Dialer{Timeout: t.cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", t.cfg.address())
	if err != nil {
		return err
	}

	if err := t.handshake(conn); err != nil {
		_ = conn.Close()
		return err
	}

	t.mu.Lock()
	t.stream = flow.StartStream(conn, p, g, nil)
	t.mu.Unlock()
	return nil
}

func (t *TCP) handshake(conn net.Conn) error {
	if err := conn.SetDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return err
	}

	var sb strings.Builder
	sb.WriteString("SOURCE " + t.cfg.Mount + " HTTP/1.0" + crlf)
	for _, h := range t.cfg.headers() {
		sb.WriteString(h[0] + ": " + h[1] + crlf)
	}
	sb.WriteString(crlf)

	if _, err := conn.Write([]byte(sb.String())); err != nil {
		return fmt.Errorf("failed to send source request: %w", err)
	}

	r := bufio.NewReader(conn)
	var response []string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if len(response) > 0 {
				break
			}
			return fmt.Errorf("failed to read source response: %w", err)
		}
		line = strings.TrimRight(line, crlf)
		if line == "" {
			break
		}
		response = append(response, line)
	}

	if err := classifyResponse(response); err != nil {
		return err
	}

	return conn.SetDeadline(time.Time{})
}

// classifyResponse interprets the status line and headers returned to a
// SOURCE request.
func classifyResponse(lines []string) error {
	if len(lines) == 0 {
		return session.Errorf(session.Error, "empty response")
	}

	status := lines[0]
	all := strings.Join(lines, "\n")

	switch {
	case strings.HasPrefix(status, "HTTP/1.0 200") || strings.HasPrefix(status, "HTTP/1.1 200"):
		return nil
	case strings.Contains(all, "Mountpoint in use"):
		return session.Errorf(session.MountPointInUse, "%s", status)
	case strings.Contains(all, "too many sources") || strings.Contains(all, "Too many sources"):
		return session.Errorf(session.MaxSourcesExceeded, "%s", status)
	case strings.Contains(status, " 401") || strings.Contains(all, "Invalid Password") ||
		strings.Contains(all, "Authentication Required"):
		return session.Errorf(session.InvalidCredentials, "%s", status)
	case strings.Contains(status, " 501") || strings.Contains(all, "Content-type not supported"):
		return session.Errorf(session.UnsupportedAudioFormat, "%s", status)
	case strings.Contains(status, " 403"):
		return session.Errorf(session.ConfigurationError, "%s", status)
	}

	return session.Errorf(session.Error, "unrecognized server response: %s", status)
}

func (t *TCP) UpdateMetadata(ctx context.Context, m *audio.Metadata) error {
	return updateMetadata(ctx, t.client, &t.cfg, m)
}

func (t *TCP) Disconnect() error {
	t.mu.Lock()
	s := t.stream
	t.stream = nil
	t.mu.Unlock()

	if s == nil {
		return nil
	}
	return s.Close()
}
