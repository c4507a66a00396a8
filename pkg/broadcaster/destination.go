// Package broadcaster runs the per-destination side of streaming: a queue of
// completed recordings (or live packets), a pacer that feeds the queue to the
// server at roughly real time, and the connection lifecycle of the transport.
package broadcaster

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grafana/dskit/backoff"
	"github.com/grafana/dskit/services"

	"github.com/zachfi/scannercast/pkg/audio"
	"github.com/zachfi/scannercast/pkg/encoder"
	"github.com/zachfi/scannercast/pkg/event"
	"github.com/zachfi/scannercast/pkg/recording"
	"github.com/zachfi/scannercast/pkg/session"
)

const module = "broadcaster"

// Destination is one configured streaming target. It runs as a timer service
// whose iterations are the pacer ticks.
type Destination struct {
	services.Service

	cfg       Config
	logger    *slog.Logger
	store     *recording.Store
	enc       encoder.Encoder
	transport Transport
	machine   *session.Machine
	events    event.Registry[Event]
	silence   []byte
	now       func() time.Time

	queue  *recordingQueue
	liveMu sync.Mutex
	live   []*audio.Packet

	// Pacer state, only touched by tick.
	ticking   atomic.Bool
	current   *streaming
	liveTitle string
	// stream keeps one encoder open across live ticks when the encoder
	// supports it.
	stream encoder.StreamEncoder

	conn        atomic.Pointer[connection]
	connects    chan struct{}
	disconnects chan struct{}
	metadata    chan *audio.Metadata

	backoffMu   sync.Mutex
	backoff     *backoff.Backoff
	nextAttempt time.Time

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped atomic.Bool

	streamed atomic.Uint64
	evicted  atomic.Uint64
	agedOff  atomic.Uint64
}

func New(cfg Config, logger slog.Logger, store *recording.Store, enc encoder.Encoder, tr Transport) (*Destination, error) {
	cfg.applyDefaults()

	switch {
	case cfg.Name == "":
		return nil, errors.New("destination name is required")
	case enc == nil || tr == nil:
		return nil, errors.New("destination requires an encoder and a transport")
	case !cfg.Live && store == nil:
		return nil, errors.New("recording destinations require a recording store")
	}

	silence, err := encoder.Silence(enc, cfg.SilenceDuration)
	if err != nil {
		return nil, err
	}

	d := &Destination{
		cfg:         cfg,
		logger:      logger.With("module", module, "destination", cfg.Name),
		store:       store,
		enc:         enc,
		transport:   tr,
		silence:     silence,
		now:         time.Now,
		queue:       newRecordingQueue(cfg.QueueCapacity),
		connects:    make(chan struct{}, 1),
		disconnects: make(chan struct{}, 1),
		metadata:    make(chan *audio.Metadata, metadataBacklog),
		backoff:     backoff.New(context.Background(), cfg.Backoff),
	}
	d.machine = session.NewMachine(d.onTransition)
	metricState.WithLabelValues(cfg.Name, session.Ready.String()).Set(1)

	d.Service = services.NewTimerService(cfg.Interval, d.starting, d.iteration, d.stopping)
	return d, nil
}

func (d *Destination) Name() string { return d.cfg.Name }

func (d *Destination) Live() bool { return d.cfg.Live }

// Events is the registry notified of queue, count and state changes.
func (d *Destination) Events() *event.Registry[Event] { return &d.events }

// ConnectionState is the current state of the connection to the server.
func (d *Destination) ConnectionState() session.State { return d.machine.State() }

// Pause stops streaming until Pause(false). Destinations in an error state
// ignore it.
func (d *Destination) Pause(paused bool) bool {
	return d.machine.Pause(paused)
}

// Reset clears an error state so the destination can connect again.
func (d *Destination) Reset() bool {
	d.backoffMu.Lock()
	d.backoff.Reset()
	d.nextAttempt = time.Time{}
	d.backoffMu.Unlock()

	return d.machine.Reset()
}

// Snapshot is a point in time view of a destination.
type Snapshot struct {
	Name      string `json:"name"`
	State     string `json:"state"`
	Error     bool   `json:"error"`
	Live      bool   `json:"live"`
	QueueSize int    `json:"queue_size"`
	Streamed  uint64 `json:"streamed"`
	Evicted   uint64 `json:"evicted"`
	AgedOff   uint64 `json:"aged_off"`
}

func (d *Destination) Snapshot() Snapshot {
	s := d.machine.State()
	return Snapshot{
		Name:      d.cfg.Name,
		State:     s.String(),
		Error:     s.IsError(),
		Live:      d.cfg.Live,
		QueueSize: d.queue.len(),
		Streamed:  d.streamed.Load(),
		Evicted:   d.evicted.Load(),
		AgedOff:   d.agedOff.Load(),
	}
}

// Enqueue accepts a completed recording and takes ownership of its file.
// Recordings offered while not connected are deleted. When the queue is full
// the oldest recording is evicted and the offer retried once; if that fails
// too the new recording is deleted instead.
func (d *Destination) Enqueue(c recording.Completed) {
	if d.cfg.Live || d.stopped.Load() || !d.machine.Connected() {
		d.deleteRecording(c)
		return
	}

	if !d.queue.offer(c) {
		if head, ok := d.queue.poll(); ok {
			d.deleteRecording(head)
			d.evicted.Add(1)
			metricEvicted.WithLabelValues(d.cfg.Name).Inc()
			d.logger.Debug("queue full, evicted oldest recording", "path", head.Path)
		}
		if !d.queue.offer(c) {
			d.deleteRecording(c)
			return
		}
	}

	if d.stopped.Load() {
		d.purgeQueue()
		return
	}
	d.queueChanged()
}

// Receive queues a packet for a live destination. Packets are dropped while
// not connected.
func (d *Destination) Receive(p *audio.Packet) {
	if !d.cfg.Live || p == nil || !d.machine.Connected() {
		return
	}
	d.liveMu.Lock()
	d.live = append(d.live, p)
	d.liveMu.Unlock()
}

func (d *Destination) drainLive() []*audio.Packet {
	d.liveMu.Lock()
	defer d.liveMu.Unlock()
	out := d.live
	d.live = nil
	return out
}

func (d *Destination) starting(_ context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel

	if d.cfg.Live {
		d.openStream()
	}

	d.wg.Add(2)
	go d.connectionLoop(ctx)
	go d.metadataLoop(ctx)

	d.logger.Info("started", "interval", d.cfg.Interval, "live", d.cfg.Live)
	return nil
}

func (d *Destination) iteration(_ context.Context) error {
	d.tick()
	return nil
}

func (d *Destination) stopping(_ error) error {
	d.stopped.Store(true)
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()

	d.machine.CompareAndSet(session.Connected, session.Disconnected)
	d.disconnect()

	d.purgeQueue()
	d.current = nil
	d.drainLive()
	d.closeStream()

	d.logger.Info("stopped")
	return nil
}

func (d *Destination) onTransition(t session.Transition) {
	metricState.WithLabelValues(d.cfg.Name, t.From.String()).Set(0)
	metricState.WithLabelValues(d.cfg.Name, t.To.String()).Set(1)

	switch {
	case t.To.IsError():
		d.logger.Warn("state changed", "from", t.From, "to", t.To)
	default:
		d.logger.Info("state changed", "from", t.From, "to", t.To)
	}

	if t.From == session.Connected {
		d.purgeQueue()
		select {
		case d.disconnects <- struct{}{}:
		default:
		}
	}

	d.publish(Event{Type: StateChanged, Transition: t})
}

func (d *Destination) publish(e Event) {
	e.Destination = d
	d.events.Publish(e)
}

func (d *Destination) queueChanged() {
	n := d.queue.len()
	metricQueueSize.WithLabelValues(d.cfg.Name).Set(float64(n))
	d.publish(Event{Type: QueueChanged, Value: uint64(n)})
}

func (d *Destination) purgeQueue() {
	items := d.queue.drain()
	for _, c := range items {
		d.deleteRecording(c)
	}
	if len(items) > 0 {
		d.queueChanged()
	}
}

func (d *Destination) deleteRecording(c recording.Completed) {
	if d.store == nil {
		return
	}
	if err := d.store.Delete(c.Path); err != nil {
		d.logger.Error("failed to delete recording", "path", c.Path, "err", err)
	}
}
