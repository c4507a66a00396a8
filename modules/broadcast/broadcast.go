// Package broadcast runs the configured streaming destinations and feeds them
// decoded audio packets.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/grafana/dskit/backoff"
	"github.com/grafana/dskit/services"

	"github.com/zachfi/scannercast/pkg/audio"
	"github.com/zachfi/scannercast/pkg/broadcaster"
	"github.com/zachfi/scannercast/pkg/encoder"
	"github.com/zachfi/scannercast/pkg/event"
	"github.com/zachfi/scannercast/pkg/recording"
	"github.com/zachfi/scannercast/pkg/session"
	"github.com/zachfi/scannercast/pkg/streammanager"
)

var module = "broadcast"

// ErrUnknownDestination is returned for operations on a name that is not
// configured.
var ErrUnknownDestination = errors.New("unknown destination")

// ErrInactiveDestination is returned for control operations on a destination
// whose configuration could not be activated.
var ErrInactiveDestination = errors.New("destination is not active")

// entry is one configured destination. dest is nil when the configuration
// could not be activated, in which case state holds the reason.
type entry struct {
	cfg         DestinationConfig
	dest        *broadcaster.Destination
	reassembler *streammanager.Manager
	manager     *services.Manager
	state       session.State
	err         error

	sub       *event.Subscription[broadcaster.Event]
	stopWatch chan struct{}
}

// Status is the reported view of a destination.
type Status struct {
	broadcaster.Snapshot
	ServerType string   `json:"server_type"`
	Format     string   `json:"format"`
	Channels   []string `json:"channels,omitempty"`
	Reason     string   `json:"reason,omitempty"`
}

type Broadcast struct {
	services.Service

	cfg        *Config
	logger     *slog.Logger
	baseLogger slog.Logger
	store      *recording.Store
	factory    *broadcaster.Factory
	publisher  *publisher

	maxPacketBody int64

	// ops serializes starting, stopping and configuration changes.
	ops     sync.Mutex
	started bool

	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
	// routes remembers the channel of each source between its first packet
	// carrying metadata and its end packet.
	routes map[audio.SourceChannelID]string

	wg     sync.WaitGroup
	failed chan error
}

// New creates the destinations in cfg. Destinations that cannot be built are
// kept with an error state and never started.
func New(cfg Config, logger slog.Logger) (*Broadcast, error) {
	return newBroadcast(cfg, logger, &broadcaster.Factory{
		FFmpeg: encoder.FFmpegConfig{Path: cfg.FFmpegPath},
	})
}

func newBroadcast(cfg Config, logger slog.Logger, factory *broadcaster.Factory) (*Broadcast, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	store, err := recording.NewStore(cfg.TempDir)
	if err != nil {
		return nil, err
	}

	b := &Broadcast{
		cfg:           &cfg,
		logger:        logger.With("module", module),
		baseLogger:    logger,
		store:         store,
		factory:       factory,
		maxPacketBody: defaultMaxPacketBody,
		entries:       make(map[string]*entry),
		routes:        make(map[audio.SourceChannelID]string),
		failed:        make(chan error, 1),
	}

	for _, dc := range cfg.Destinations {
		if !dc.enabled() {
			b.logger.Info("destination disabled", "destination", dc.Name)
			continue
		}
		b.put(b.build(dc))
	}

	if cfg.MQTT.Broker != "" {
		b.publisher = newPublisher(cfg.MQTT, b.logger)
	}

	b.Service = services.NewBasicService(b.starting, b.running, b.stopping)
	return b, nil
}

func (b *Broadcast) build(dc DestinationConfig) *entry {
	e := &entry{cfg: dc}
	fail := func(err error) *entry {
		e.err = err
		e.state = session.Classify(err)
		b.logger.Error("failed to activate destination", "destination", dc.Name, "state", e.state, "err", err)
		return e
	}

	st, err := broadcaster.ParseServerType(dc.ServerType)
	if err != nil {
		return fail(session.Errorf(session.ConfigurationError, "%v", err))
	}
	format, err := dc.format()
	if err != nil {
		return fail(session.Errorf(session.UnsupportedAudioFormat, "%v", err))
	}

	enc, tr, err := b.factory.Build(st, format, dc.target())
	if err != nil {
		return fail(err)
	}

	dest, err := broadcaster.New(broadcaster.Config{
		Name:             dc.Name,
		Live:             dc.Live,
		QueueCapacity:    b.cfg.QueueCapacity,
		ProducerCapacity: b.cfg.ProducerCapacity,
		SilenceDuration:  b.cfg.SilenceDuration,
		Delay:            dc.Delay,
		MaxRecordingAge:  b.cfg.MaxRecordingAge,
		Backoff: backoff.Config{
			MinBackoff: b.cfg.ReconnectBackoff,
			MaxBackoff: b.cfg.ReconnectBackoffMax,
		},
	}, b.baseLogger, b.store, enc, tr)
	if err != nil {
		return fail(session.Errorf(session.ConfigurationError, "%v", err))
	}

	svcs := []services.Service{dest}
	var reassembler *streammanager.Manager
	if !dc.Live {
		reassembler = streammanager.New(streammanager.Config{
			MaxLifespan:   b.cfg.MaxRecordingLifespan,
			CheckInterval: b.cfg.LifespanCheckInterval,
			Delay:         dc.Delay,
		}, *b.baseLogger.With("destination", dc.Name), b.store, enc, dest.Enqueue)
		svcs = append(svcs, reassembler)
	}

	manager, err := services.NewManager(svcs...)
	if err != nil {
		return fail(session.Errorf(session.ConfigurationError, "%v", err))
	}
	name := dc.Name
	manager.AddListener(services.NewManagerListener(func() {}, func() {}, func(s services.Service) {
		select {
		case b.failed <- fmt.Errorf("destination %s: %w", name, s.FailureCase()):
		default:
		}
	}))

	e.dest = dest
	e.reassembler = reassembler
	e.manager = manager
	return e
}

// put adds or replaces e, keeping the position of a replaced destination.
func (b *Broadcast) put(e *entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if old, ok := b.entries[e.cfg.Name]; ok {
		metricDestinations.WithLabelValues(old.label()).Dec()
	} else {
		b.order = append(b.order, e.cfg.Name)
	}
	b.entries[e.cfg.Name] = e
	metricDestinations.WithLabelValues(e.label()).Inc()
}

func (b *Broadcast) remove(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[name]
	if !ok {
		return
	}
	metricDestinations.WithLabelValues(e.label()).Dec()
	delete(b.entries, name)
	b.order = slices.DeleteFunc(b.order, func(n string) bool { return n == name })
}

func (b *Broadcast) lookup(name string) (*entry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[name]
	return e, ok
}

func (b *Broadcast) startEntry(ctx context.Context, e *entry) error {
	if e.manager == nil {
		return nil
	}
	if err := e.manager.StartAsync(ctx); err != nil {
		return err
	}
	if err := e.manager.AwaitHealthy(ctx); err != nil {
		e.manager.StopAsync()
		_ = e.manager.AwaitStopped(context.Background())
		return err
	}
	b.watch(e)
	return nil
}

func (b *Broadcast) stopEntry(e *entry) error {
	b.unwatch(e)
	if e.manager == nil {
		return nil
	}
	e.manager.StopAsync()
	return e.manager.AwaitStopped(context.Background())
}

func (b *Broadcast) starting(ctx context.Context) error {
	b.ops.Lock()
	defer b.ops.Unlock()

	if n, err := b.store.Purge(); err != nil {
		b.logger.Warn("failed to purge stale recordings", "err", err)
	} else if n > 0 {
		b.logger.Info("purged stale recordings", "count", n)
	}

	if b.publisher != nil {
		if err := b.publisher.connect(); err != nil {
			b.logger.Warn("mqtt broker unavailable, retrying in the background", "err", err)
		}
	}

	b.mu.RLock()
	entries := make([]*entry, 0, len(b.order))
	for _, name := range b.order {
		entries = append(entries, b.entries[name])
	}
	b.mu.RUnlock()

	for i, e := range entries {
		if err := b.startEntry(ctx, e); err != nil {
			for _, started := range entries[:i] {
				_ = b.stopEntry(started)
			}
			return fmt.Errorf("failed to start destination %s: %w", e.cfg.Name, err)
		}
	}

	b.started = true
	return nil
}

func (b *Broadcast) running(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case err := <-b.failed:
		return err
	}
}

func (b *Broadcast) stopping(_ error) error {
	b.ops.Lock()
	defer b.ops.Unlock()
	b.started = false

	b.mu.RLock()
	entries := make([]*entry, 0, len(b.entries))
	for _, e := range b.entries {
		entries = append(entries, e)
	}
	b.mu.RUnlock()

	var errs []error
	for _, e := range entries {
		if err := b.stopEntry(e); err != nil {
			errs = append(errs, err)
		}
	}
	b.wg.Wait()

	if b.publisher != nil {
		b.publisher.disconnect()
	}

	return errors.Join(errs...)
}

// Activate creates the destination described by dc, or replaces the
// destination of the same name. A replaced destination is stopped first and
// the new one started after the restart delay. Disabling a destination
// deactivates it.
func (b *Broadcast) Activate(ctx context.Context, dc DestinationConfig) (Status, error) {
	if dc.Name == "" {
		return Status{}, errors.New("destination name is required")
	}

	b.ops.Lock()
	defer b.ops.Unlock()

	old, exists := b.lookup(dc.Name)
	if !dc.enabled() {
		if exists {
			_ = b.deactivate(old)
		}
		return Status{}, nil
	}

	if exists {
		if err := b.stopEntry(old); err != nil {
			b.logger.Warn("error stopping replaced destination", "destination", dc.Name, "err", err)
		}
		if b.started && b.cfg.RestartDelay > 0 {
			select {
			case <-time.After(b.cfg.RestartDelay):
			case <-ctx.Done():
				return Status{}, ctx.Err()
			}
		}
	}

	e := b.build(dc)
	if b.started {
		if err := b.startEntry(ctx, e); err != nil {
			e = &entry{cfg: dc, err: err, state: session.Error}
			b.logger.Error("failed to start destination", "destination", dc.Name, "err", err)
		}
	}
	b.put(e)

	b.logger.Info("destination activated", "destination", dc.Name, "replaced", exists)
	return e.status(), nil
}

// Deactivate stops and forgets the named destination.
func (b *Broadcast) Deactivate(name string) error {
	b.ops.Lock()
	defer b.ops.Unlock()

	e, ok := b.lookup(name)
	if !ok {
		return ErrUnknownDestination
	}
	return b.deactivate(e)
}

func (b *Broadcast) deactivate(e *entry) error {
	err := b.stopEntry(e)
	b.remove(e.cfg.Name)
	b.logger.Info("destination deactivated", "destination", e.cfg.Name)
	return err
}

// Receive routes a packet to every active destination carrying its channel.
// Live destinations take packets directly; the rest go through their
// reassembler.
func (b *Broadcast) Receive(p *audio.Packet) {
	if p == nil {
		return
	}
	metricPacketsReceived.WithLabelValues(p.Type.String()).Inc()

	b.mu.Lock()
	if p.Metadata != nil && p.Metadata.Channel != "" {
		b.routes[p.Source] = p.Metadata.Channel
	}
	channel := b.routes[p.Source]
	if p.Type == audio.TypeEnd {
		delete(b.routes, p.Source)
	}

	targets := make([]*entry, 0, len(b.order))
	for _, name := range b.order {
		if e := b.entries[name]; e.dest != nil && e.accepts(channel) {
			targets = append(targets, e)
		}
	}
	b.mu.Unlock()

	for _, e := range targets {
		if e.reassembler != nil {
			e.reassembler.Receive(p)
			continue
		}
		e.dest.Receive(p)
	}
}

// Destinations reports every configured destination in configuration order.
func (b *Broadcast) Destinations() []Status {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Status, 0, len(b.order))
	for _, name := range b.order {
		out = append(out, b.entries[name].status())
	}
	return out
}

func (b *Broadcast) Destination(name string) (Status, error) {
	e, ok := b.lookup(name)
	if !ok {
		return Status{}, ErrUnknownDestination
	}
	return e.status(), nil
}

func (b *Broadcast) Pause(name string, paused bool) (bool, error) {
	e, err := b.active(name)
	if err != nil {
		return false, err
	}
	return e.dest.Pause(paused), nil
}

func (b *Broadcast) Reset(name string) (bool, error) {
	e, err := b.active(name)
	if err != nil {
		return false, err
	}
	return e.dest.Reset(), nil
}

func (b *Broadcast) active(name string) (*entry, error) {
	e, ok := b.lookup(name)
	switch {
	case !ok:
		return nil, ErrUnknownDestination
	case e.dest == nil:
		return nil, ErrInactiveDestination
	}
	return e, nil
}

// accepts reports whether packets of channel go to e. A destination without
// a channel list takes every channel.
func (e *entry) accepts(channel string) bool {
	return len(e.cfg.Channels) == 0 || slices.Contains(e.cfg.Channels, channel)
}

func (e *entry) label() string {
	if e.dest == nil {
		return "failed"
	}
	return "active"
}

func (e *entry) status() Status {
	s := Status{
		ServerType: e.cfg.ServerType,
		Format:     e.cfg.Format,
		Channels:   e.cfg.Channels,
	}
	if s.Format == "" {
		s.Format = encoder.FormatMP3.String()
	}

	if e.dest == nil {
		s.Snapshot = broadcaster.Snapshot{
			Name:  e.cfg.Name,
			State: e.state.String(),
			Error: e.state.IsError(),
			Live:  e.cfg.Live,
		}
		if e.err != nil {
			s.Reason = e.err.Error()
		}
		return s
	}

	s.Snapshot = e.dest.Snapshot()
	return s
}
