package streammanager

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/grafana/dskit/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/zachfi/scannercast/pkg/audio"
	"github.com/zachfi/scannercast/pkg/encoder"
	"github.com/zachfi/scannercast/pkg/recording"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type failingEncoder struct{}

func (failingEncoder) Encode([]byte) ([]byte, error) { return nil, errors.New("encoder exploded") }
func (failingEncoder) Format() encoder.Format        { return encoder.FormatMP3 }

type collector struct {
	mu   sync.Mutex
	recs []recording.Completed
	ch   chan recording.Completed
}

func newCollector() *collector {
	return &collector{ch: make(chan recording.Completed, 16)}
}

func (c *collector) listen(r recording.Completed) {
	c.mu.Lock()
	c.recs = append(c.recs, r)
	c.mu.Unlock()
	c.ch <- r
}

func (c *collector) all() []recording.Completed {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]recording.Completed(nil), c.recs...)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newManager(t *testing.T, cfg Config, enc encoder.Encoder) (*Manager, *collector, *recording.Store, *clock) {
	t.Helper()
	store, err := recording.NewStore(t.TempDir())
	require.NoError(t, err)

	c := newCollector()
	clk := &clock{now: time.UnixMilli(1700000000000)}
	m := New(cfg, *slog.Default(), store, enc, c.listen)
	m.now = clk.Now
	return m, c, store, clk
}

func audioPacket(src audio.SourceChannelID, samples int) *audio.Packet {
	return &audio.Packet{Type: audio.TypeAudio, Source: src, Samples: make([]float32, samples)}
}

func endPacket(src audio.SourceChannelID) *audio.Packet {
	return &audio.Packet{Type: audio.TypeEnd, Source: src}
}

func TestRecordingDurationIsSumOfFrames(t *testing.T) {
	m, c, _, _ := newManager(t, Config{}, encoder.NewWAV())

	var want time.Duration
	for _, n := range []int{160, 800, 1600, 37} {
		p := audioPacket(7, n)
		want += p.Duration()
		m.Receive(p)
	}
	assert.Equal(t, 1, m.Active())

	md := &audio.Metadata{To: "1001"}
	m.Receive(&audio.Packet{Type: audio.TypeEnd, Source: 7, Metadata: md})

	recs := c.all()
	require.Len(t, recs, 1)
	assert.Equal(t, want, recs[0].Duration)
	assert.Equal(t, md, recs[0].Metadata)
	assert.Equal(t, 0, m.Active())

	b, err := os.ReadFile(recs[0].Path)
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(b[:4]))
}

func TestSourcesAreIndependent(t *testing.T) {
	m, c, _, _ := newManager(t, Config{}, encoder.NewWAV())

	m.Receive(audioPacket(1, 800))
	m.Receive(audioPacket(2, 1600))
	m.Receive(audioPacket(1, 800))
	assert.Equal(t, 2, m.Active())

	m.Receive(endPacket(2))
	m.Receive(endPacket(1))

	recs := c.all()
	require.Len(t, recs, 2)
	assert.Equal(t, 200*time.Millisecond, recs[0].Duration)
	assert.Equal(t, 200*time.Millisecond, recs[1].Duration)
	assert.NotEqual(t, recs[0].Path, recs[1].Path)
}

func TestEndWithoutRecordingIsIgnored(t *testing.T) {
	m, c, _, _ := newManager(t, Config{}, encoder.NewWAV())
	m.Receive(endPacket(3))
	m.Receive(nil)
	m.Receive(&audio.Packet{Type: audio.PacketType(99), Source: 3})
	assert.Empty(t, c.all())
	assert.Equal(t, 0, m.Active())
}

func TestLifespanRollover(t *testing.T) {
	m, c, _, clk := newManager(t, Config{MaxLifespan: 30 * time.Second}, encoder.NewWAV())

	m.Receive(audioPacket(5, 800))
	clk.Advance(29 * time.Second)
	m.finalizeExpired()
	assert.Empty(t, c.all())

	clk.Advance(2 * time.Second)
	m.finalizeExpired()
	recs := c.all()
	require.Len(t, recs, 1)
	assert.Equal(t, 0, m.Active())

	m.Receive(audioPacket(5, 800))
	assert.Equal(t, 1, m.Active())
	m.Receive(endPacket(5))

	recs = c.all()
	require.Len(t, recs, 2)
	assert.NotEqual(t, recs[0].Path, recs[1].Path)
	assert.True(t, recs[1].Start.After(recs[0].Start))
}

func TestEncodeFailureDropsRecording(t *testing.T) {
	m, c, store, _ := newManager(t, Config{}, failingEncoder{})

	m.Receive(audioPacket(1, 800))
	m.Receive(endPacket(1))
	assert.Empty(t, c.all())

	entries, err := os.ReadDir(store.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDelayedDispatch(t *testing.T) {
	m, c, _, clk := newManager(t, Config{Delay: 50 * time.Millisecond}, encoder.NewWAV())

	m.Receive(audioPacket(1, 80))
	m.Receive(endPacket(1))
	assert.Equal(t, 1, m.Pending())

	select {
	case r := <-c.ch:
		assert.Equal(t, 10*time.Millisecond, r.Duration)
	case <-time.After(5 * time.Second):
		t.Fatal("recording was not dispatched")
	}
	assert.Equal(t, 0, m.Pending())

	// A recording older than the delay is dispatched straight away.
	m.Receive(audioPacket(2, 80))
	clk.Advance(time.Second)
	m.Receive(endPacket(2))
	assert.Equal(t, 0, m.Pending())
	assert.Len(t, c.all(), 2)
}

func TestStopDiscardsInFlight(t *testing.T) {
	m, c, store, _ := newManager(t, Config{Delay: time.Hour, CheckInterval: 10 * time.Millisecond}, encoder.NewWAV())

	ctx := context.Background()
	require.NoError(t, services.StartAndAwaitRunning(ctx, m))

	m.Receive(audioPacket(1, 800))
	m.Receive(endPacket(1))
	m.Receive(audioPacket(2, 800))
	assert.Equal(t, 1, m.Pending())
	assert.Equal(t, 1, m.Active())

	require.NoError(t, services.StopAndAwaitTerminated(ctx, m))
	assert.Equal(t, 0, m.Pending())
	assert.Equal(t, 0, m.Active())
	assert.Empty(t, c.all())

	entries, err := os.ReadDir(store.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)

	m.Receive(audioPacket(3, 800))
	assert.Equal(t, 0, m.Active())
}
