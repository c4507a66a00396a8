package broadcast

import (
	"flag"
	"fmt"
	"time"

	"github.com/zachfi/zkit/pkg/util"

	"github.com/zachfi/scannercast/pkg/broadcaster"
	"github.com/zachfi/scannercast/pkg/encoder"
	"github.com/zachfi/scannercast/pkg/flow"
	"github.com/zachfi/scannercast/pkg/streammanager"
)

const (
	defaultReconnectBackoff    = 15 * time.Second
	defaultReconnectBackoffMax = 5 * time.Minute
	defaultRestartDelay        = time.Second
	defaultMQTTTopic           = "scannercast"
)

type Config struct {
	TempDir               string        `yaml:"temp-dir,omitempty"`
	MaxRecordingLifespan  time.Duration `yaml:"max-recording-lifespan,omitempty"`
	LifespanCheckInterval time.Duration `yaml:"lifespan-check-interval,omitempty"`
	QueueCapacity         int           `yaml:"queue-capacity,omitempty"`
	ProducerCapacity      int           `yaml:"producer-capacity,omitempty"`
	MaxRecordingAge       time.Duration `yaml:"max-recording-age,omitempty"`
	ReconnectBackoff      time.Duration `yaml:"reconnect-backoff,omitempty"`
	ReconnectBackoffMax   time.Duration `yaml:"reconnect-backoff-max,omitempty"`
	SilenceDuration       time.Duration `yaml:"silence-duration,omitempty"`
	FFmpegPath            string        `yaml:"ffmpeg-path,omitempty"`
	RestartDelay          time.Duration `yaml:"restart-delay,omitempty"`

	Destinations []DestinationConfig `yaml:"destinations,omitempty"`
	MQTT         MQTTConfig          `yaml:"mqtt,omitempty"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.TempDir, util.PrefixConfig(prefix, "temp-dir"), "", "Directory for temporary recording files. Defaults to a directory under the system temp dir.")
	f.DurationVar(&cfg.MaxRecordingLifespan, util.PrefixConfig(prefix, "max-recording-lifespan"), streammanager.DefaultMaxLifespan, "Recordings are finalized once they reach this age, even without an end of transmission.")
	f.DurationVar(&cfg.LifespanCheckInterval, util.PrefixConfig(prefix, "lifespan-check-interval"), streammanager.DefaultCheckInterval, "How often recording ages are checked.")
	f.IntVar(&cfg.QueueCapacity, util.PrefixConfig(prefix, "queue-capacity"), broadcaster.DefaultQueueCapacity, "Completed recordings buffered per destination. The oldest is evicted when full.")
	f.IntVar(&cfg.ProducerCapacity, util.PrefixConfig(prefix, "producer-capacity"), flow.DefaultCapacity, "Audio chunks buffered between the pacer and the network.")
	f.DurationVar(&cfg.MaxRecordingAge, util.PrefixConfig(prefix, "max-recording-age"), 0, "Queued recordings older than this, past their delay, are dropped. Zero disables age-off.")
	f.DurationVar(&cfg.ReconnectBackoff, util.PrefixConfig(prefix, "reconnect-backoff"), defaultReconnectBackoff, "Initial delay before reconnecting after a failure.")
	f.DurationVar(&cfg.ReconnectBackoffMax, util.PrefixConfig(prefix, "reconnect-backoff-max"), defaultReconnectBackoffMax, "Maximum delay between reconnection attempts.")
	f.DurationVar(&cfg.SilenceDuration, util.PrefixConfig(prefix, "silence-duration"), broadcaster.DefaultSilenceDuration, "Length of the silence frame sent while idle.")
	f.StringVar(&cfg.FFmpegPath, util.PrefixConfig(prefix, "ffmpeg-path"), "ffmpeg", "Path to the ffmpeg binary used for MP3 encoding.")
	f.DurationVar(&cfg.RestartDelay, util.PrefixConfig(prefix, "restart-delay"), defaultRestartDelay, "Pause between stopping a replaced destination and starting its new configuration.")

	cfg.MQTT.RegisterFlagsAndApplyDefaults(util.PrefixConfig(prefix, "mqtt"), f)
}

// DestinationConfig describes one streaming target.
type DestinationConfig struct {
	Name        string        `yaml:"name"`
	ServerType  string        `yaml:"server-type"`
	Format      string        `yaml:"format,omitempty"`
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	Mount       string        `yaml:"mount,omitempty"`
	User        string        `yaml:"user,omitempty"`
	Password    string        `yaml:"password,omitempty"`
	StreamID    int           `yaml:"stream-id,omitempty"`
	UserID      string        `yaml:"user-id,omitempty"`
	Genre       string        `yaml:"genre,omitempty"`
	Description string        `yaml:"description,omitempty"`
	URL         string        `yaml:"url,omitempty"`
	Public      bool          `yaml:"public,omitempty"`
	BitRate     int           `yaml:"bitrate,omitempty"`
	Delay       time.Duration `yaml:"delay,omitempty"`
	Live        bool          `yaml:"live,omitempty"`
	// Channels limits the destination to calls on these channels. Empty
	// takes every channel.
	Channels []string `yaml:"channels,omitempty"`
	// Enabled defaults to true when omitted.
	Enabled *bool `yaml:"enabled,omitempty"`
}

func (d DestinationConfig) enabled() bool {
	return d.Enabled == nil || *d.Enabled
}

func (d DestinationConfig) format() (encoder.Format, error) {
	if d.Format == "" {
		return encoder.FormatMP3, nil
	}
	return encoder.ParseFormat(d.Format)
}

func (d DestinationConfig) target() broadcaster.Target {
	return broadcaster.Target{
		Host:        d.Host,
		Port:        d.Port,
		Mount:       d.Mount,
		User:        d.User,
		Password:    d.Password,
		StreamID:    d.StreamID,
		UserID:      d.UserID,
		Name:        d.Name,
		Genre:       d.Genre,
		Description: d.Description,
		URL:         d.URL,
		Public:      d.Public,
		BitRate:     d.BitRate,
	}
}

func (cfg *Config) validate() error {
	seen := make(map[string]struct{}, len(cfg.Destinations))
	for i, d := range cfg.Destinations {
		if d.Name == "" {
			return fmt.Errorf("destination %d has no name", i)
		}
		if _, ok := seen[d.Name]; ok {
			return fmt.Errorf("duplicate destination name %q", d.Name)
		}
		seen[d.Name] = struct{}{}
	}
	return nil
}

// MQTTConfig enables publishing destination events to a broker. An empty
// broker disables it.
type MQTTConfig struct {
	Broker   string `yaml:"broker,omitempty"`
	ClientID string `yaml:"client-id,omitempty"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	Topic    string `yaml:"topic,omitempty"`
}

func (cfg *MQTTConfig) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.Broker, util.PrefixConfig(prefix, "broker"), "", "MQTT broker URL, eg: tcp://localhost:1883. Empty disables event publishing.")
	f.StringVar(&cfg.ClientID, util.PrefixConfig(prefix, "client-id"), "scannercast", "MQTT client ID.")
	f.StringVar(&cfg.Username, util.PrefixConfig(prefix, "username"), "", "MQTT username.")
	f.StringVar(&cfg.Password, util.PrefixConfig(prefix, "password"), "", "MQTT password.")
	f.StringVar(&cfg.Topic, util.PrefixConfig(prefix, "topic"), defaultMQTTTopic, "Topic prefix for destination events.")
}
