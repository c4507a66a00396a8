package icecast

import (
	"encoding/base64"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/zachfi/scannercast/pkg/session"
)

const (
	defaultUser        = "source"
	defaultUserAgent   = "scannercast"
	defaultDialTimeout = 10 * time.Second
)

// Config describes one Icecast mount.
type Config struct {
	Host        string
	Port        int
	Mount       string
	User        string
	Password    string
	Name        string
	Genre       string
	Description string
	URL         string
	Public      bool
	BitRate     int
	SampleRate  int
	Channels    int
	ContentType string
	UserAgent   string
	DialTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.User == "" {
		c.User = defaultUser
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
}

// Validate reports configuration problems as session errors so they surface
// as destination states.
func (c *Config) Validate() error {
	if c.Host == "" || c.Port <= 0 || c.Port > 65535 {
		return session.Errorf(session.InvalidSettings, "invalid server address %s:%d", c.Host, c.Port)
	}
	if !strings.HasPrefix(c.Mount, "/") || len(c.Mount) < 2 {
		return session.Errorf(session.InvalidMountPoint, "mount point %q must start with /", c.Mount)
	}
	if c.Password == "" {
		return session.Errorf(session.InvalidCredentials, "no password configured")
	}
	return nil
}

func (c *Config) address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c *Config) authorization() string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(c.User+":"+c.Password))
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// audioInfo renders the ice-audio-info header value, empty when nothing is
// configured.
func (c *Config) audioInfo() string {
	var parts []string
	if c.BitRate > 0 {
		parts = append(parts, "bitrate="+strconv.Itoa(c.BitRate))
	}
	if c.Channels > 0 {
		parts = append(parts, "channels="+strconv.Itoa(c.Channels))
	}
	if c.SampleRate > 0 {
		parts = append(parts, "samplerate="+strconv.Itoa(c.SampleRate))
	}
	return strings.Join(parts, ";")
}

// headers are the stream description headers shared by both protocols.
func (c *Config) headers() [][2]string {
	h := [][2]string{
		{"Authorization", c.authorization()},
		{"User-Agent", c.UserAgent},
		{"Content-Type", c.ContentType},
		{"ice-public", boolFlag(c.Public)},
	}
	optional := [][2]string{
		{"ice-name", c.Name},
		{"ice-genre", c.Genre},
		{"ice-description", c.Description},
		{"ice-url", c.URL},
		{"ice-audio-info", c.audioInfo()},
	}
	for _, kv := range optional {
		if kv[1] != "" {
			h = append(h, kv)
		}
	}
	return h
}
