package broadcaster

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/zachfi/scannercast/pkg/encoder"
	"github.com/zachfi/scannercast/pkg/icecast"
	"github.com/zachfi/scannercast/pkg/session"
	"github.com/zachfi/scannercast/pkg/shoutcast"
)

type ServerType int

const (
	ServerUnknown ServerType = iota
	IcecastTCP
	IcecastHTTP
	ShoutcastV1
	ShoutcastV2
	Broadcastify
)

var serverTypeNames = map[ServerType]string{
	IcecastTCP:   "icecast-tcp",
	IcecastHTTP:  "icecast-http",
	ShoutcastV1:  "shoutcast-v1",
	ShoutcastV2:  "shoutcast-v2",
	Broadcastify: "broadcastify",
}

func (t ServerType) String() string {
	if n, ok := serverTypeNames[t]; ok {
		return n
	}
	return "unknown"
}

func ParseServerType(s string) (ServerType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for t, n := range serverTypeNames {
		if n == s {
			return t, nil
		}
	}
	return ServerUnknown, fmt.Errorf("unknown server type %q", s)
}

// Target holds the connection settings shared by every server type. Fields a
// protocol has no use for are ignored.
type Target struct {
	Host        string
	Port        int
	Mount       string
	User        string
	Password    string
	StreamID    int
	UserID      string
	Name        string
	Genre       string
	Description string
	URL         string
	Public      bool
	BitRate     int
}

// Factory builds the encoder and transport for a destination.
type Factory struct {
	FFmpeg     encoder.FFmpegConfig
	HTTPClient *http.Client

	// NewMP3 replaces the ffmpeg backed MP3 encoder when set.
	NewMP3 func(encoder.FFmpegConfig) (encoder.Encoder, error)
}

// Build maps a server type and format to an encoder and transport. Unsupported
// combinations return a session error carrying the state to report, so the
// destination can be shown as misconfigured instead of started.
func (f *Factory) Build(st ServerType, format encoder.Format, t Target) (encoder.Encoder, Transport, error) {
	if st == ServerUnknown {
		return nil, nil, session.Errorf(session.ConfigurationError, "unsupported server type")
	}
	if format != encoder.FormatMP3 {
		return nil, nil, session.Errorf(session.UnsupportedAudioFormat, "%s does not support %s audio", st, format)
	}

	client := f.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	tr, err := f.transport(st, format, t, client)
	if err != nil {
		return nil, nil, err
	}
	if v, ok := tr.(validator); ok {
		if err := v.Validate(); err != nil {
			return nil, nil, err
		}
	}

	enc, err := f.mp3(t.BitRate)
	if err != nil {
		return nil, nil, session.Errorf(session.ConfigurationError, "%v", err)
	}
	return enc, tr, nil
}

// validator is implemented by transports that can check their settings
// before the first connection attempt.
type validator interface {
	Validate() error
}

func (f *Factory) transport(st ServerType, format encoder.Format, t Target, client *http.Client) (Transport, error) {
	icecastCfg := icecast.Config{
		Host:        t.Host,
		Port:        t.Port,
		Mount:       t.Mount,
		User:        t.User,
		Password:    t.Password,
		Name:        t.Name,
		Genre:       t.Genre,
		Description: t.Description,
		URL:         t.URL,
		Public:      t.Public,
		BitRate:     t.BitRate,
		Channels:    1,
		ContentType: format.ContentType(),
	}
	shoutcastCfg := shoutcast.Config{
		Host:        t.Host,
		Port:        t.Port,
		Password:    t.Password,
		StreamID:    t.StreamID,
		UserID:      t.UserID,
		Name:        t.Name,
		Genre:       t.Genre,
		Description: t.Description,
		URL:         t.URL,
		Public:      t.Public,
		BitRate:     t.BitRate,
		ContentType: format.ContentType(),
	}

	switch st {
	case IcecastTCP:
		return icecast.NewTCP(icecastCfg, client), nil
	case IcecastHTTP:
		return icecast.NewHTTP(icecastCfg, client), nil
	case Broadcastify:
		return icecast.NewBroadcastify(icecastCfg, client)
	case ShoutcastV1:
		return shoutcast.NewV1(shoutcastCfg, client), nil
	case ShoutcastV2:
		return shoutcast.NewV2(shoutcastCfg), nil
	}

	return nil, session.Errorf(session.ConfigurationError, "unsupported server type %d", st)
}

func (f *Factory) mp3(bitRate int) (encoder.Encoder, error) {
	cfg := f.FFmpeg
	if bitRate > 0 {
		cfg.BitRate = bitRate
	}
	if f.NewMP3 != nil {
		return f.NewMP3(cfg)
	}
	return encoder.NewFFmpeg(cfg)
}
