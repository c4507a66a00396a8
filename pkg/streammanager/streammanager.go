// Package streammanager reassembles a multiplexed stream of audio packets into
// one recording per source channel and hands completed recordings on after a
// configured dispatch delay.
package streammanager

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/grafana/dskit/services"

	"github.com/zachfi/scannercast/pkg/audio"
	"github.com/zachfi/scannercast/pkg/encoder"
	"github.com/zachfi/scannercast/pkg/recording"
)

const module = "streammanager"

const (
	reasonEnd      = "end"
	reasonLifespan = "lifespan"
)

// Listener receives completed recordings and takes ownership of their files.
type Listener func(recording.Completed)

type inProgress struct {
	w        *recording.Writer
	start    time.Time
	metadata *audio.Metadata
}

// Manager demultiplexes packets by source channel. It runs as a timer service
// that enforces the maximum recording lifespan.
type Manager struct {
	services.Service

	cfg    Config
	logger *slog.Logger
	store  *recording.Store
	enc    encoder.Encoder
	out    Listener
	now    func() time.Time

	mu      sync.Mutex
	active  map[audio.SourceChannelID]*inProgress
	pending map[uuid.UUID]pendingDispatch
	stopped bool
}

type pendingDispatch struct {
	timer *time.Timer
	path  string
}

func New(cfg Config, logger slog.Logger, store *recording.Store, enc encoder.Encoder, out Listener) *Manager {
	cfg.applyDefaults()

	m := &Manager{
		cfg:     cfg,
		logger:  logger.With("module", module),
		store:   store,
		enc:     enc,
		out:     out,
		now:     time.Now,
		active:  make(map[audio.SourceChannelID]*inProgress),
		pending: make(map[uuid.UUID]pendingDispatch),
	}

	m.Service = services.NewTimerService(cfg.CheckInterval, nil, m.iteration, m.stopping)
	return m
}

func (m *Manager) iteration(_ context.Context) error {
	m.finalizeExpired()
	return nil
}

// Receive routes one packet. Audio packets are appended to the recording for
// their source, starting one when needed. End packets finalize it.
func (m *Manager) Receive(p *audio.Packet) {
	if p == nil {
		return
	}

	switch p.Type {
	case audio.TypeAudio:
		m.append(p)
	case audio.TypeEnd:
		m.mu.Lock()
		rec, ok := m.active[p.Source]
		if ok {
			delete(m.active, p.Source)
			metricActiveRecordings.Dec()
		}
		m.mu.Unlock()

		if ok {
			if p.Metadata != nil {
				rec.metadata = p.Metadata
			}
			m.finalize(rec, reasonEnd)
		}
	default:
		m.logger.Warn("dropping packet with unrecognized type", "type", p.Type, "source", p.Source)
	}
}

func (m *Manager) append(p *audio.Packet) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}

	rec, ok := m.active[p.Source]
	if !ok {
		start := m.now()
		w, err := m.store.Create(start, m.enc.Format().Extension())
		if err != nil {
			m.logger.Error("failed to create recording", "source", p.Source, "err", err)
			metricRecordingsDropped.Inc()
			return
		}
		rec = &inProgress{w: w, start: start}
		m.active[p.Source] = rec
		metricActiveRecordings.Inc()
	}

	if p.Metadata != nil {
		rec.metadata = p.Metadata
	}

	if err := rec.w.Append(audio.PCM16(p.Samples)); err != nil {
		m.logger.Error("failed to append audio, dropping recording", "source", p.Source, "path", rec.w.Path(), "err", err)
		delete(m.active, p.Source)
		metricActiveRecordings.Dec()
		m.discard(rec)
	}
}

func (m *Manager) finalizeExpired() {
	now := m.now()

	var expired []*inProgress
	m.mu.Lock()
	for src, rec := range m.active {
		if now.Sub(rec.start) > m.cfg.MaxLifespan {
			expired = append(expired, rec)
			delete(m.active, src)
			metricActiveRecordings.Dec()
		}
	}
	m.mu.Unlock()

	for _, rec := range expired {
		m.finalize(rec, reasonLifespan)
	}
}

func (m *Manager) finalize(rec *inProgress, reason string) {
	if err := m.store.Finalize(rec.w, m.enc); err != nil {
		m.logger.Error("failed to finalize recording, dropping", "path", rec.w.Path(), "err", err)
		metricRecordingsDropped.Inc()
		m.discard(rec)
		return
	}

	c := recording.Completed{
		ID:       uuid.New(),
		Path:     rec.w.Path(),
		Metadata: rec.metadata,
		Start:    rec.start,
		Duration: rec.w.Duration(),
	}
	metricRecordingsCompleted.WithLabelValues(reason).Inc()
	m.logger.Debug("recording complete", "path", c.Path, "duration", c.Duration, "reason", reason)

	m.dispatch(c)
}

// dispatch delivers c once Delay has passed since the recording started.
func (m *Manager) dispatch(c recording.Completed) {
	wait := max(0, m.cfg.Delay-m.now().Sub(c.Start))

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		m.deleteFile(c.Path)
		return
	}
	if m.cfg.Delay <= 0 || wait == 0 {
		m.mu.Unlock()
		m.out(c)
		return
	}

	t := time.AfterFunc(wait, func() {
		m.mu.Lock()
		_, ok := m.pending[c.ID]
		delete(m.pending, c.ID)
		m.mu.Unlock()

		if !ok {
			m.deleteFile(c.Path)
			return
		}
		m.out(c)
	})
	m.pending[c.ID] = pendingDispatch{timer: t, path: c.Path}
	m.mu.Unlock()
}

func (m *Manager) discard(rec *inProgress) {
	_ = rec.w.Close()
	m.deleteFile(rec.w.Path())
}

func (m *Manager) deleteFile(path string) {
	if err := m.store.Delete(path); err != nil {
		m.logger.Error("failed to delete recording", "path", path, "err", err)
	}
}

// Active is the number of recordings being captured.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Pending is the number of completed recordings waiting out their delay.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// stopping discards in-flight recordings and cancels delayed dispatches so no
// temporary files are left behind.
func (m *Manager) stopping(_ error) error {
	m.mu.Lock()
	m.stopped = true
	active := m.active
	pending := m.pending
	m.active = make(map[audio.SourceChannelID]*inProgress)
	m.pending = make(map[uuid.UUID]pendingDispatch)
	m.mu.Unlock()

	for _, rec := range active {
		metricActiveRecordings.Dec()
		m.discard(rec)
	}
	for _, p := range pending {
		if p.timer.Stop() {
			m.deleteFile(p.path)
		}
	}

	m.logger.Info("stopped", "discarded", len(active), "cancelled", len(pending))
	return nil
}
