package broadcaster

import (
	"time"

	"github.com/grafana/dskit/backoff"

	"github.com/zachfi/scannercast/pkg/flow"
)

const (
	RecordingInterval      = time.Second
	LiveInterval           = 250 * time.Millisecond
	DefaultQueueCapacity   = 10
	DefaultSilenceDuration = 1200 * time.Millisecond

	defaultMetadataTimeout = 5 * time.Second
	metadataBacklog        = 8
)

// Config is the runtime configuration of a single destination.
type Config struct {
	Name string
	// Live destinations stream packets as they arrive instead of finalized
	// recordings.
	Live bool

	Interval         time.Duration
	QueueCapacity    int
	ProducerCapacity int
	SilenceDuration  time.Duration

	// Delay is the dispatch delay applied to recordings; a queued recording is
	// not streamed before its start plus Delay.
	Delay time.Duration
	// MaxRecordingAge ages off queued recordings older than their start plus
	// Delay plus MaxRecordingAge. Zero disables age-off.
	MaxRecordingAge time.Duration

	Backoff         backoff.Config
	MetadataTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = RecordingInterval
		if c.Live {
			c.Interval = LiveInterval
		}
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = DefaultQueueCapacity
	}
	if c.ProducerCapacity <= 0 {
		c.ProducerCapacity = flow.DefaultCapacity
	}
	if c.SilenceDuration <= 0 {
		c.SilenceDuration = DefaultSilenceDuration
		if c.Live {
			c.SilenceDuration = c.Interval
		}
	}
	if c.Backoff.MinBackoff <= 0 {
		c.Backoff.MinBackoff = 15 * time.Second
	}
	if c.Backoff.MaxBackoff < c.Backoff.MinBackoff {
		c.Backoff.MaxBackoff = 5 * time.Minute
	}
	if c.MetadataTimeout <= 0 {
		c.MetadataTimeout = defaultMetadataTimeout
	}
}
