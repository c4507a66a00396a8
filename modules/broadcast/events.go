package broadcast

import (
	"github.com/zachfi/scannercast/pkg/broadcaster"
)

const eventBuffer = 64

// watch forwards the events of a running destination to the log and, when
// configured, to MQTT.
func (b *Broadcast) watch(e *entry) {
	sub := e.dest.Events().Subscribe(eventBuffer)
	done := make(chan struct{})
	e.sub = sub
	e.stopWatch = done

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-done:
				return
			case ev := <-sub.C:
				b.forward(ev)
			}
		}
	}()
}

func (b *Broadcast) unwatch(e *entry) {
	if e.sub == nil {
		return
	}
	e.dest.Events().Unsubscribe(e.sub)
	close(e.stopWatch)
	e.sub = nil
	e.stopWatch = nil
}

func (b *Broadcast) forward(e broadcaster.Event) {
	b.logger.Debug("destination event", "destination", e.Destination.Name(), "event", e.Type, "value", e.Value)

	if b.publisher == nil {
		return
	}
	if err := b.publisher.publish(e); err != nil {
		b.logger.Debug("failed to publish event", "destination", e.Destination.Name(), "event", e.Type, "err", err)
	}
}
