package flow

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

// ErrServerClosed is reported when the remote server ends a streaming
// connection.
var ErrServerClosed = errors.New("server closed the connection")

const defaultWriteTimeout = 10 * time.Second

// Stream drives a Producer over an established connection. The connection is
// watched for closure by the server, which is reported through the
// producer's failure func.
type Stream struct {
	conn   net.Conn
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// StartStream pumps p into w, which normally wraps conn. A nil w writes to
// conn directly.
func StartStream(conn net.Conn, p *Producer, g *Gate, w io.Writer) *Stream {
	if w == nil {
		w = &DeadlineWriter{Conn: conn}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Stream{conn: conn, cancel: cancel}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		defer cancel()
		_ = Pump(ctx, p, g, w)
	}()
	go func() {
		defer s.wg.Done()
		_, err := io.Copy(io.Discard, conn)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = ErrServerClosed
		}
		cancel()
		p.Fail(err)
	}()

	return s
}

// Close stops the pump and closes the connection. It is safe to call more
// than once.
func (s *Stream) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.conn.Close()
		s.wg.Wait()
	})
	return err
}

// DeadlineWriter bounds every write to a connection.
type DeadlineWriter struct {
	Conn    net.Conn
	Timeout time.Duration
}

func (d *DeadlineWriter) Write(b []byte) (int, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	if err := d.Conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return 0, err
	}
	return d.Conn.Write(b)
}
