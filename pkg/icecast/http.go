package icecast

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/zachfi/scannercast/pkg/audio"
	"github.com/zachfi/scannercast/pkg/flow"
	"github.com/zachfi/scannercast/pkg/session"
)

const maxErrorBody = 4096

// HTTP is an Icecast 2.4 source client that streams audio as the chunked body
// of a PUT request. The request body pulls from the producer, so the HTTP
// transport decides when the next chunk is sent.
type HTTP struct {
	cfg       Config
	client    *http.Client
	transport *http.Transport

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewHTTP(cfg Config, client *http.Client) *HTTP {
	cfg.applyDefaults()
	if client == nil {
		client = http.DefaultClient
	}

	d := &net.Dialer{Timeout: cfg.DialTimeout}
	return &HTTP{
		cfg:    cfg,
		client: client,
		transport: &http.Transport{
			DialContext:       d.DialContext,
			DisableKeepAlives: true,
		},
	}
}

type putResult struct {
	resp *http.Response
	err  error
}

func (h *HTTP) Validate() error { return h.cfg.Validate() }

func (h *HTTP) Connect(ctx context.Context, p *flow.Producer, g *flow.Gate) error {
	if err := h.Validate(); err != nil {
		return err
	}

	u := url.URL{Scheme: "http", Host: h.cfg.address(), Path: h.cfg.Mount}

	streamCtx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(streamCtx, http.MethodPut, u.String(), flow.NewReader(streamCtx, p, g))
	if err != nil {
		cancel()
		return session.Errorf(session.InvalidSettings, "failed to create request: %v", err)
	}
	req.ContentLength = -1
	req.Close = true
	for _, kv := range h.cfg.headers() {
		req.Header.Set(kv[0], kv[1])
	}
	req.Header.Set("Accept", "*/*")

	results := make(chan putResult, 1)
	go func() {
		resp, err := h.transport.RoundTrip(req)
		results <- putResult{resp: resp, err: err}
	}()

	var res putResult
	select {
	case res = <-results:
	case <-ctx.Done():
		cancel()
		closeResult(<-results)
		return ctx.Err()
	case <-time.After(h.cfg.DialTimeout + handshakeTimeout):
		cancel()
		closeResult(<-results)
		return session.Errorf(session.NetworkUnavailable, "timed out waiting for server response")
	}

	if res.err != nil {
		cancel()
		return res.err
	}

	if err := classifyStatus(res.resp); err != nil {
		_ = res.resp.Body.Close()
		cancel()
		return err
	}

	done := make(chan struct{})
	h.mu.Lock()
	h.cancel = cancel
	h.done = done
	h.mu.Unlock()

	go func() {
		defer close(done)
		_, err := io.Copy(io.Discard, res.resp.Body)
		_ = res.resp.Body.Close()
		if streamCtx.Err() != nil {
			return
		}
		if err == nil {
			err = flow.ErrServerClosed
		}
		cancel()
		p.Fail(err)
	}()

	return nil
}

func closeResult(r putResult) {
	if r.resp != nil {
		_ = r.resp.Body.Close()
	}
}

// classifyStatus maps the response to the PUT request onto a session error.
func classifyStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(resp.Status + " " + string(body))

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return session.Errorf(session.InvalidCredentials, "%s", msg)
	case http.StatusForbidden:
		switch {
		case strings.Contains(msg, "Mountpoint in use"):
			return session.Errorf(session.MountPointInUse, "%s", msg)
		case strings.Contains(strings.ToLower(msg), "too many sources"):
			return session.Errorf(session.MaxSourcesExceeded, "%s", msg)
		case strings.Contains(msg, "Content-type not supported"):
			return session.Errorf(session.UnsupportedAudioFormat, "%s", msg)
		}
		return session.Errorf(session.ConfigurationError, "%s", msg)
	case http.StatusNotFound:
		return session.Errorf(session.InvalidMountPoint, "%s", msg)
	case http.StatusUnsupportedMediaType, http.StatusNotImplemented:
		return session.Errorf(session.UnsupportedAudioFormat, "%s", msg)
	}

	return session.Errorf(session.Error, "unexpected response: %s", msg)
}

func (h *HTTP) UpdateMetadata(ctx context.Context, m *audio.Metadata) error {
	return updateMetadata(ctx, h.client, &h.cfg, m)
}

func (h *HTTP) Disconnect() error {
	h.mu.Lock()
	cancel, done := h.cancel, h.done
	h.cancel, h.done = nil, nil
	h.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	h.transport.CloseIdleConnections()
	return nil
}

func (h *HTTP) String() string {
	return fmt.Sprintf("icecast-http %s%s", h.cfg.address(), h.cfg.Mount)
}
