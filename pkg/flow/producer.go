package flow

import (
	"io"
	"sync"
)

const DefaultCapacity = 20

// Control receives the backpressure signals raised by a Producer. Its methods
// run with the producer locked and must not call back into it.
type Control interface {
	Suspend()
	Resume()
}

// FailureFunc is called with write failures instead of surfacing them to the
// code enqueuing audio.
type FailureFunc func(error)

// Producer is a bounded chunk buffer. Enqueue never blocks: when the buffer
// is full the oldest chunk is dropped.
type Producer struct {
	mu        sync.Mutex
	chunks    [][]byte
	capacity  int
	suspended bool
	dropped   uint64
	written   uint64

	control Control
	onFail  FailureFunc
}

func NewProducer(capacity int, control Control, onFail FailureFunc) *Producer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Producer{
		chunks:   make([][]byte, 0, capacity),
		capacity: capacity,
		control:  control,
		onFail:   onFail,
	}
}

// Enqueue buffers b. When the producer is suspended and the buffer was empty
// the transport is resumed.
func (p *Producer) Enqueue(b []byte) {
	if len(b) == 0 {
		return
	}

	p.mu.Lock()
	wasEmpty := len(p.chunks) == 0
	if len(p.chunks) >= p.capacity {
		p.chunks[0] = nil
		p.chunks = p.chunks[1:]
		p.dropped++
	}
	p.chunks = append(p.chunks, b)

	if p.suspended && wasEmpty {
		p.suspended = false
		if p.control != nil {
			p.control.Resume()
		}
	}
	p.mu.Unlock()
}

// ProduceNext writes at most one buffered chunk to w. When the buffer is left
// empty the transport is suspended, once per transition to empty. Write
// failures are reported to the failure func and returned.
func (p *Producer) ProduceNext(w io.Writer) (int, error) {
	p.mu.Lock()
	var chunk []byte
	if len(p.chunks) > 0 {
		chunk = p.chunks[0]
		p.chunks[0] = nil
		p.chunks = p.chunks[1:]
	}
	// Signalled under the lock so a concurrent Enqueue cannot resume before
	// the suspend lands.
	if len(p.chunks) == 0 && !p.suspended {
		p.suspended = true
		if p.control != nil {
			p.control.Suspend()
		}
	}
	p.mu.Unlock()

	if chunk == nil {
		return 0, nil
	}

	n, err := w.Write(chunk)
	p.mu.Lock()
	p.written += uint64(n)
	p.mu.Unlock()

	if err != nil {
		p.Fail(err)
		return n, err
	}
	return n, nil
}

// Fail reports a transport failure that happened outside ProduceNext.
func (p *Producer) Fail(err error) {
	if err != nil && p.onFail != nil {
		p.onFail(err)
	}
}

// Reset discards buffered audio, used when a connection is torn down.
func (p *Producer) Reset() {
	p.mu.Lock()
	p.chunks = p.chunks[:0]
	p.mu.Unlock()
}

func (p *Producer) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.chunks)
}

func (p *Producer) Suspended() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.suspended
}

// Dropped is the number of chunks evicted because the buffer was full.
func (p *Producer) Dropped() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Written is the number of bytes handed to transports.
func (p *Producer) Written() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written
}
