package shoutcast

import (
	"bufio"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/zachfi/scannercast/pkg/audio"
	"github.com/zachfi/scannercast/pkg/flow"
	"github.com/zachfi/scannercast/pkg/session"
)

// ErrNotConnected is returned for in-band operations without a session.
var ErrNotConnected = errors.New("not connected")

const streamIDError = "Stream ID Error"

// V2 is an Ultravox 2.1 source client for Shoutcast 2 servers.
type V2 struct {
	cfg Config

	mu     sync.Mutex
	stream *flow.Stream
	fw     *frameWriter
}

func NewV2(cfg Config) *V2 {
	cfg.applyDefaults()
	return &V2{cfg: cfg}
}

// Validate checks the settings a v2 source login needs.
func (v *V2) Validate() error {
	if err := v.cfg.validate(); err != nil {
		return err
	}
	if v.cfg.UserID == "" {
		return session.Errorf(session.InvalidCredentials, "no user id configured")
	}
	return nil
}

func (v *V2) Connect(ctx context.Context, p *flow.Producer, g *flow.Gate) error {
	if err := v.Validate(); err != nil {
		return err
	}

	d := net.Dialer{Timeout: v.cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", v.cfg.address(0))
	if err != nil {
		return err
	}

	maxPayload, err := v.handshake(conn)
	if err != nil {
		_ = conn.Close()
		return err
	}

	fw := &frameWriter{w: &flow.DeadlineWriter{Conn: conn}, maxPayload: maxPayload}

	v.mu.Lock()
	v.fw = fw
	v.stream = flow.StartStream(conn, p, g, fw)
	v.mu.Unlock()
	return nil
}

type handshakeStep struct {
	typ     uint16
	payload string
	// nak is the state a rejection of this step leaves the destination in.
	nak session.State
}

// handshake runs the acknowledged configuration sequence and returns the
// negotiated maximum payload size.
func (v *V2) handshake(conn net.Conn) (int, error) {
	if err := conn.SetDeadline(time.Now().Add(defaultHandshakeTimeout)); err != nil {
		return 0, err
	}

	r := bufio.NewReader(conn)
	exchange := func(typ uint16, payload string) (frame, error) {
		if _, err := conn.Write(encodeFrame(typ, []byte(payload))); err != nil {
			return frame{}, fmt.Errorf("failed to send message 0x%04x: %w", typ, err)
		}
		f, err := readFrame(r)
		if err != nil {
			return frame{}, fmt.Errorf("failed to read reply to 0x%04x: %w", typ, err)
		}
		if f.Type != typ {
			return frame{}, session.Errorf(session.Error, "unexpected reply 0x%04x to 0x%04x", f.Type, typ)
		}
		return f, nil
	}

	f, err := exchange(msgRequestCipher, ultravoxVersion)
	if err != nil {
		return 0, err
	}
	ok, key := f.response()
	if !ok {
		return 0, session.Errorf(session.Error, "cipher request rejected: %s", key)
	}

	auth, err := v.authPayload(key)
	if err != nil {
		return 0, err
	}
	if f, err = exchange(msgAuthenticate, auth); err != nil {
		return 0, err
	}
	if ok, reason := f.response(); !ok {
		if strings.HasPrefix(reason, streamIDError) {
			return 0, session.Errorf(session.InvalidMountPoint, "%s", reason)
		}
		return 0, session.Errorf(session.InvalidCredentials, "%s", reason)
	}

	steps := []handshakeStep{
		{msgMimeType, v.cfg.ContentType, session.UnsupportedAudioFormat},
		{msgSetup, strconv.Itoa(v.cfg.BitRate) + ":" + strconv.Itoa(v.cfg.BitRate), session.UnsupportedAudioFormat},
	}
	for _, s := range steps {
		if err := v.step(exchange, s); err != nil {
			return 0, err
		}
	}

	if f, err = exchange(msgNegotiate, fmt.Sprintf("%d:%d", maxPayloadSize, desiredPayload)); err != nil {
		return 0, err
	}
	ok, size := f.response()
	if !ok {
		return 0, session.Errorf(session.UnsupportedAudioFormat, "payload size rejected: %s", size)
	}
	maxPayload, err := strconv.Atoi(size)
	if err != nil || maxPayload <= metadataPrefixLen || maxPayload > maxPayloadSize {
		maxPayload = maxPayloadSize
	}

	steps = []handshakeStep{
		{msgIcyPublic, publicFlag(v.cfg.Public), session.Error},
		{msgIcyName, v.cfg.Name, session.ConfigurationError},
	}
	if v.cfg.Genre != "" {
		steps = append(steps, handshakeStep{msgIcyGenre, v.cfg.Genre, session.ConfigurationError})
	}
	if v.cfg.URL != "" {
		steps = append(steps, handshakeStep{msgIcyURL, v.cfg.URL, session.ConfigurationError})
	}
	steps = append(steps, handshakeStep{msgStandby, "", session.Error})
	for _, s := range steps {
		if err := v.step(exchange, s); err != nil {
			return 0, err
		}
	}

	return maxPayload, conn.SetDeadline(time.Time{})
}

func (v *V2) step(exchange func(uint16, string) (frame, error), s handshakeStep) error {
	f, err := exchange(s.typ, s.payload)
	if err != nil {
		return err
	}
	if ok, reason := f.response(); !ok {
		return session.Errorf(s.nak, "message 0x%04x rejected: %s", s.typ, reason)
	}
	return nil
}

func (v *V2) authPayload(key string) (string, error) {
	uid, err := encryptCredential(key, v.cfg.UserID)
	if err != nil {
		return "", session.Errorf(session.Error, "failed to encrypt user id: %v", err)
	}
	pw, err := encryptCredential(key, v.cfg.Password)
	if err != nil {
		return "", session.Errorf(session.Error, "failed to encrypt password: %v", err)
	}
	return fmt.Sprintf("%s:%d:%s:%s", ultravoxVersion, v.cfg.StreamID, uid, pw), nil
}

type xmlMetadata struct {
	XMLName xml.Name `xml:"metadata"`
	Album   string   `xml:"TALB"`
	Encoder string   `xml:"TENC"`
	Genre   string   `xml:"TCON,omitempty"`
	URL     string   `xml:"WORS,omitempty"`
	Title   string   `xml:"TIT2"`
}

func (v *V2) metadataDocument(m *audio.Metadata) ([]byte, error) {
	doc, err := xml.Marshal(xmlMetadata{
		Album:   v.cfg.Name,
		Encoder: clientName,
		Genre:   v.cfg.Genre,
		URL:     v.cfg.URL,
		Title:   m.Title(),
	})
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), doc...), nil
}

// UpdateMetadata sends the title in-band as cacheable XML metadata frames.
func (v *V2) UpdateMetadata(_ context.Context, m *audio.Metadata) error {
	v.mu.Lock()
	fw := v.fw
	v.mu.Unlock()

	if fw == nil {
		return ErrNotConnected
	}

	doc, err := v.metadataDocument(m)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	for _, payload := range metadataFrames(doc, fw.maxPayload) {
		if err := fw.writeFrame(msgXMLMetadata, payload); err != nil {
			return err
		}
	}
	return nil
}

func (v *V2) Disconnect() error {
	v.mu.Lock()
	s := v.stream
	v.stream, v.fw = nil, nil
	v.mu.Unlock()

	if s == nil {
		return nil
	}
	return s.Close()
}
