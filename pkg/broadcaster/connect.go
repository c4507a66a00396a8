package broadcaster

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zachfi/scannercast/pkg/audio"
	"github.com/zachfi/scannercast/pkg/flow"
	"github.com/zachfi/scannercast/pkg/session"
)

// connection is one transport session. written and dropped are the counters
// last exported by the pacer.
type connection struct {
	producer *flow.Producer
	gate     *flow.Gate
	written  uint64
	dropped  uint64
}

// connectionLoop serializes connect and disconnect so the transport never sees
// them concurrently.
func (d *Destination) connectionLoop(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.disconnects:
			d.disconnect()
		case <-d.connects:
			d.connect(ctx)
		}
	}
}

func (d *Destination) metadataLoop(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case md := <-d.metadata:
			d.updateMetadata(ctx, md)
		}
	}
}

func (d *Destination) updateMetadata(ctx context.Context, md *audio.Metadata) {
	if !d.machine.Connected() {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.MetadataTimeout)
	defer cancel()

	if err := d.transport.UpdateMetadata(ctx, md); err != nil {
		d.logger.Warn("failed to update metadata", "title", md.Title(), "err", err)
	}
}

// requestConnect asks the connection loop for an attempt when the state
// allows one and the reconnect backoff has elapsed.
func (d *Destination) requestConnect() {
	s := d.machine.State()
	if s == session.Paused || s == session.Connecting || !d.machine.CanConnect() {
		return
	}

	d.backoffMu.Lock()
	due := !d.now().Before(d.nextAttempt)
	d.backoffMu.Unlock()
	if !due {
		return
	}

	select {
	case d.connects <- struct{}{}:
	default:
	}
}

func (d *Destination) connect(ctx context.Context) {
	from := d.machine.State()
	if from == session.Paused || from == session.Connecting || !d.machine.CanConnect() {
		return
	}
	if !d.machine.CompareAndSet(from, session.Connecting) {
		return
	}

	ctx, span := otel.Tracer(module).Start(ctx, "Destination.connect",
		trace.WithAttributes(attribute.String("destination", d.cfg.Name)))
	defer span.End()

	c := &connection{gate: flow.NewGate()}
	c.producer = flow.NewProducer(d.cfg.ProducerCapacity, c.gate, func(err error) {
		d.fail(c, err)
	})
	d.conn.Store(c)

	err := d.transport.Connect(ctx, c.producer, c.gate)
	state := session.Classify(err)
	metricConnectAttempts.WithLabelValues(d.cfg.Name, state.String()).Inc()
	span.SetAttributes(attribute.String("state", state.String()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to connect")
		d.logger.Error("failed to connect", "state", state, "err", err)
	} else {
		span.SetStatus(codes.Ok, "ok")
	}

	if err != nil {
		d.conn.CompareAndSwap(c, nil)
		if ctx.Err() != nil {
			d.machine.CompareAndSet(session.Connecting, session.Disconnected)
			return
		}
		d.scheduleRetry()
		d.machine.CompareAndSet(session.Connecting, state)
		return
	}

	d.backoffMu.Lock()
	d.backoff.Reset()
	d.backoffMu.Unlock()

	// Paused or stopped while the handshake was in flight.
	if d.stopped.Load() || !d.machine.CompareAndSet(session.Connecting, session.Connected) {
		d.disconnect()
	}
}

func (d *Destination) scheduleRetry() {
	d.backoffMu.Lock()
	defer d.backoffMu.Unlock()
	d.nextAttempt = d.now().Add(d.backoff.NextDelay())
}

// fail handles an error reported by the transport after the handshake. The
// teardown itself happens on the connection loop.
func (d *Destination) fail(c *connection, err error) {
	if d.conn.Load() != c {
		return
	}

	state := session.TemporaryBroadcastError
	var ce *session.ConnectError
	switch {
	case errors.As(err, &ce):
		state = ce.State
	case errors.Is(err, flow.ErrServerClosed):
		state = session.Disconnected
	}

	if d.machine.CompareAndSet(session.Connected, state) {
		d.logger.Warn("stream interrupted", "state", state, "err", err)
		d.scheduleRetry()
	}
}

func (d *Destination) disconnect() {
	if d.conn.Swap(nil) == nil {
		return
	}
	if err := d.transport.Disconnect(); err != nil {
		d.logger.Warn("error closing connection", "err", err)
	}
}
