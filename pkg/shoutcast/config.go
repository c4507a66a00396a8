package shoutcast

import (
	"net"
	"strconv"
	"time"

	"github.com/zachfi/scannercast/pkg/session"
)

const (
	defaultDialTimeout      = 10 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
	defaultContentType      = "audio/mpeg"
	clientName              = "scannercast"
)

// Config describes a Shoutcast stream. StreamID and UserID are only used by
// v2 servers.
type Config struct {
	Host        string
	Port        int
	Password    string
	StreamID    int
	UserID      string
	Name        string
	Genre       string
	Description string
	URL         string
	Public      bool
	BitRate     int
	ContentType string
	DialTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.ContentType == "" {
		c.ContentType = defaultContentType
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.StreamID == 0 {
		c.StreamID = 1
	}
}

func (c *Config) validate() error {
	if c.Host == "" || c.Port <= 0 || c.Port > 65535 {
		return session.Errorf(session.InvalidSettings, "invalid server address %s:%d", c.Host, c.Port)
	}
	if c.Password == "" {
		return session.Errorf(session.InvalidCredentials, "no password configured")
	}
	return nil
}

func (c *Config) address(offset int) string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port+offset))
}

func publicFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
