package streammanager

import "time"

const (
	DefaultMaxLifespan   = 30 * time.Second
	DefaultCheckInterval = 2 * time.Second
)

type Config struct {
	// MaxLifespan bounds a single recording. Older recordings are finalized
	// even without an end of transmission.
	MaxLifespan time.Duration
	// CheckInterval is how often recording ages are checked.
	CheckInterval time.Duration
	// Delay is the latency from the start of a recording to its dispatch.
	Delay time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxLifespan <= 0 {
		c.MaxLifespan = DefaultMaxLifespan
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = DefaultCheckInterval
	}
}
