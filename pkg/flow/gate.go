package flow

import (
	"context"
	"sync"
)

// Gate is a Control that blocks a pulling transport while its producer is
// suspended. A new Gate is open.
type Gate struct {
	mu    sync.Mutex
	ready chan struct{}
}

func NewGate() *Gate {
	ready := make(chan struct{})
	close(ready)
	return &Gate{ready: ready}
}

func (g *Gate) Suspend() {
	g.mu.Lock()
	defer g.mu.Unlock()

	select {
	case <-g.ready:
		g.ready = make(chan struct{})
	default:
	}
}

func (g *Gate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()

	select {
	case <-g.ready:
	default:
		close(g.ready)
	}
}

// Wait blocks until the gate is open or ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	ready := g.ready
	g.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
