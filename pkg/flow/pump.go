package flow

import (
	"bytes"
	"context"
	"io"
)

// Pump writes produced chunks to w until ctx is done or a write fails. It is
// the pull loop for transports that own a raw connection.
func Pump(ctx context.Context, p *Producer, g *Gate, w io.Writer) error {
	for {
		if err := g.Wait(ctx); err != nil {
			return err
		}
		if _, err := p.ProduceNext(w); err != nil {
			return err
		}
	}
}

// Reader exposes a Producer as an io.Reader, for use as a streaming request
// body. Read blocks while the producer is suspended.
type Reader struct {
	ctx context.Context
	p   *Producer
	g   *Gate
	buf bytes.Buffer
}

func NewReader(ctx context.Context, p *Producer, g *Gate) *Reader {
	return &Reader{ctx: ctx, p: p, g: g}
}

func (r *Reader) Read(b []byte) (int, error) {
	for r.buf.Len() == 0 {
		if err := r.g.Wait(r.ctx); err != nil {
			return 0, io.EOF
		}
		if _, err := r.p.ProduceNext(&r.buf); err != nil {
			return 0, err
		}
	}
	return r.buf.Read(b)
}

// Close is a no-op; the producer outlives individual requests.
func (r *Reader) Close() error { return nil }
