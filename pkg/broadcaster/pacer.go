package broadcaster

import (
	"github.com/zachfi/scannercast/pkg/audio"
	"github.com/zachfi/scannercast/pkg/encoder"
	"github.com/zachfi/scannercast/pkg/recording"
)

// streaming is the recording currently being paced out.
type streaming struct {
	rec     recording.Completed
	payload []byte
	offset  int
	chunk   int
}

// newStreaming splits payload so the whole recording is sent over roughly its
// own duration, one chunk per tick.
func newStreaming(rec recording.Completed, payload []byte, interval int64) *streaming {
	ticks := max(1, int(int64(rec.Duration)/interval))
	return &streaming{
		rec:     rec,
		payload: payload,
		chunk:   (len(payload) + ticks - 1) / ticks,
	}
}

func (s *streaming) done() bool { return s.offset >= len(s.payload) }

func (s *streaming) next() []byte {
	end := min(s.offset+s.chunk, len(s.payload))
	b := s.payload[s.offset:end]
	s.offset = end
	return b
}

// tick is one pacer cycle. Overlapping calls are skipped.
func (d *Destination) tick() {
	if !d.ticking.CompareAndSwap(false, true) {
		return
	}
	defer d.ticking.Store(false)

	if d.cfg.Live {
		d.tickLive()
	} else {
		d.tickRecording()
	}
	d.observeConnection()
}

func (d *Destination) tickRecording() {
	if d.current != nil && !d.machine.Connected() {
		d.logger.Debug("connection lost, abandoning recording", "path", d.current.rec.Path)
		d.current = nil
	}

	if d.current == nil || d.current.done() {
		d.nextRecording()
	}

	if d.current != nil && !d.current.done() {
		d.send(d.current.next())
		return
	}
	d.send(d.silence)
}

// nextRecording closes out the finished recording, if any, and loads the next
// one that is due. Metadata follows the recording being started, or is
// cleared when the queue ran dry.
func (d *Destination) nextRecording() {
	finished := d.current != nil
	d.current = nil

	if finished {
		n := d.streamed.Add(1)
		metricStreamed.WithLabelValues(d.cfg.Name).Inc()
		d.publish(Event{Type: StreamedCountChanged, Value: n})
	}

	d.ageOff()

	now := d.now()
	next, ok := d.queue.pollIf(func(c recording.Completed) bool {
		return !now.Before(c.Start.Add(d.cfg.Delay))
	})
	if ok {
		payload, err := d.store.Read(next.Path)
		d.deleteRecording(next)
		d.queueChanged()

		switch {
		case err != nil:
			d.logger.Error("failed to read recording, skipping", "path", next.Path, "err", err)
		case len(payload) > 0:
			d.current = newStreaming(next, payload, int64(d.cfg.Interval))
			d.sendMetadata(next.Metadata)
			return
		}
	}

	if finished {
		d.sendMetadata(nil)
	}
}

func (d *Destination) ageOff() {
	if d.cfg.MaxRecordingAge <= 0 {
		return
	}

	now := d.now()
	for {
		c, ok := d.queue.pollIf(func(c recording.Completed) bool {
			return c.Start.Add(d.cfg.Delay + d.cfg.MaxRecordingAge).Before(now)
		})
		if !ok {
			return
		}

		d.deleteRecording(c)
		n := d.agedOff.Add(1)
		metricAgedOff.WithLabelValues(d.cfg.Name).Inc()
		d.logger.Debug("aged off recording", "path", c.Path, "start", c.Start)
		d.publish(Event{Type: AgedOffCountChanged, Value: n})
		d.queueChanged()
	}
}

func (d *Destination) tickLive() {
	packets := d.drainLive()

	var (
		pcm   []byte
		md    *audio.Metadata
		ended bool
	)
	for _, p := range packets {
		switch p.Type {
		case audio.TypeAudio:
			pcm = append(pcm, audio.PCM16(p.Samples)...)
			ended = false
		case audio.TypeEnd:
			ended = true
		}
		if p.Metadata != nil {
			md = p.Metadata
		}
	}

	switch {
	case md != nil && md.Title() != d.liveTitle:
		d.liveTitle = md.Title()
		d.sendMetadata(md)
	case ended && d.liveTitle != audio.IdleTitle:
		d.liveTitle = audio.IdleTitle
		d.sendMetadata(nil)
	}

	if d.stream != nil {
		d.sendStream(pcm)
		return
	}

	if len(pcm) == 0 {
		d.send(d.silence)
		return
	}

	b, err := d.enc.Encode(pcm)
	if err != nil {
		d.logger.Error("failed to encode live audio", "err", err)
		d.send(d.silence)
		return
	}
	d.send(b)
}

// sendStream feeds one tick of audio, or silence when idle, through the open
// stream encoder. A failed stream is closed and later ticks encode each
// chunk on its own.
func (d *Destination) sendStream(pcm []byte) {
	if len(pcm) == 0 {
		pcm = audio.Silence(d.cfg.Interval)
	}

	if err := d.stream.Write(pcm); err != nil {
		d.logger.Error("live stream encoder failed, encoding per tick", "err", err)
		d.closeStream()
		d.send(d.silence)
		return
	}

	b := d.stream.Drain()
	if len(b) == 0 {
		if d.conn.Load() == nil || !d.machine.Connected() {
			d.requestConnect()
		}
		return
	}
	d.send(b)
}

func (d *Destination) openStream() {
	s, ok := d.enc.(encoder.Streamer)
	if !ok {
		return
	}
	st, err := s.NewStream()
	if err != nil {
		d.logger.Warn("failed to open live stream encoder, encoding per tick", "err", err)
		return
	}
	d.stream = st
}

func (d *Destination) closeStream() {
	if d.stream == nil {
		return
	}
	if err := d.stream.Close(); err != nil {
		d.logger.Debug("live stream encoder closed with error", "err", err)
	}
	d.stream = nil
}

// send hands audio to the connection. Without one it asks for a connection
// attempt instead, so a disconnected destination retries on the pacer's
// cadence.
func (d *Destination) send(b []byte) {
	c := d.conn.Load()
	if c == nil || !d.machine.Connected() {
		d.requestConnect()
		return
	}
	c.producer.Enqueue(b)
}

func (d *Destination) sendMetadata(md *audio.Metadata) {
	if !d.machine.Connected() {
		return
	}
	select {
	case d.metadata <- md:
	default:
		d.logger.Warn("metadata backlog full, dropping update", "title", md.Title())
	}
}

// observeConnection exports the transport counters of the live connection.
func (d *Destination) observeConnection() {
	c := d.conn.Load()
	if c == nil {
		return
	}

	if w := c.producer.Written(); w > c.written {
		metricBytesSent.WithLabelValues(d.cfg.Name).Add(float64(w - c.written))
		c.written = w
	}
	if n := c.producer.Dropped(); n > c.dropped {
		metricDroppedChunks.WithLabelValues(d.cfg.Name).Add(float64(n - c.dropped))
		c.dropped = n
	}
}
