package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/grafana/dskit/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/zachfi/scannercast/pkg/audio"
	"github.com/zachfi/scannercast/pkg/broadcaster"
	"github.com/zachfi/scannercast/pkg/encoder"
	"github.com/zachfi/scannercast/pkg/recording"
	"github.com/zachfi/scannercast/pkg/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testFactory() *broadcaster.Factory {
	return &broadcaster.Factory{
		NewMP3: func(encoder.FFmpegConfig) (encoder.Encoder, error) { return encoder.NewWAV(), nil },
	}
}

func closedPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func newTestBroadcast(t *testing.T, dests ...DestinationConfig) *Broadcast {
	t.Helper()
	b, err := newBroadcast(Config{TempDir: t.TempDir(), Destinations: dests}, *slog.Default(), testFactory())
	require.NoError(t, err)
	return b
}

func icecastDestination(name string, port int) DestinationConfig {
	return DestinationConfig{
		Name:       name,
		ServerType: "icecast-tcp",
		Host:       "127.0.0.1",
		Port:       port,
		Mount:      "/" + name,
		Password:   "hackme",
	}
}

func TestNewReportsUnbuildableDestinations(t *testing.T) {
	disabled := false

	badType := icecastDestination("bad-type", 8000)
	badType.ServerType = "zello"
	wav := icecastDestination("wav", 8000)
	wav.Format = "wav"
	off := icecastDestination("off", 8000)
	off.Enabled = &disabled

	b := newTestBroadcast(t, icecastDestination("good", 8000), badType, wav, off)

	statuses := b.Destinations()
	require.Len(t, statuses, 3)

	assert.Equal(t, "good", statuses[0].Name)
	assert.Equal(t, session.Ready.String(), statuses[0].State)
	assert.False(t, statuses[0].Error)

	assert.Equal(t, "bad-type", statuses[1].Name)
	assert.Equal(t, session.ConfigurationError.String(), statuses[1].State)
	assert.True(t, statuses[1].Error)
	assert.NotEmpty(t, statuses[1].Reason)

	assert.Equal(t, "wav", statuses[2].Name)
	assert.Equal(t, session.UnsupportedAudioFormat.String(), statuses[2].State)

	_, err := b.Destination("off")
	assert.ErrorIs(t, err, ErrUnknownDestination)
}

func TestNewRejectsDuplicateNames(t *testing.T) {
	_, err := newBroadcast(Config{
		TempDir:      t.TempDir(),
		Destinations: []DestinationConfig{icecastDestination("a", 1), icecastDestination("a", 2)},
	}, *slog.Default(), testFactory())
	assert.Error(t, err)
}

func TestReceiveRoutesToReassembler(t *testing.T) {
	live := icecastDestination("live", 8000)
	live.Live = true
	b := newTestBroadcast(t, icecastDestination("rec", 8000), live)

	rec := b.entries["rec"]
	require.NotNil(t, rec.reassembler)
	assert.Nil(t, b.entries["live"].reassembler)

	b.Receive(&audio.Packet{Type: audio.TypeAudio, Source: 3, Samples: make([]float32, 800)})
	assert.Equal(t, 1, rec.reassembler.Active())

	b.Receive(&audio.Packet{Type: audio.TypeEnd, Source: 3})
	assert.Equal(t, 0, rec.reassembler.Active())

	// The destination is not connected, so the finished recording is dropped.
	entries, err := os.ReadDir(b.store.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func serve(t *testing.T, b *Broadcast, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := mux.NewRouter()
	b.RegisterRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(method, target, strings.NewReader(body)))
	return rec
}

func TestDestinationsAPI(t *testing.T) {
	badType := icecastDestination("bad-type", 8000)
	badType.ServerType = "zello"
	b := newTestBroadcast(t, icecastDestination("good", 8000), badType)

	rec := serve(t, b, http.MethodGet, "/api/v1/destinations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var statuses []Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &statuses))
	require.Len(t, statuses, 2)
	assert.Equal(t, "good", statuses[0].Name)
	assert.Equal(t, "icecast-tcp", statuses[0].ServerType)
	assert.Equal(t, "mp3", statuses[0].Format)

	tests := []struct {
		target string
		code   int
		state  session.State
	}{
		{"/api/v1/destinations/good/pause", http.StatusOK, session.Paused},
		{"/api/v1/destinations/good/resume", http.StatusOK, session.Ready},
		{"/api/v1/destinations/good/reset", http.StatusOK, session.Ready},
		{"/api/v1/destinations/missing/pause", http.StatusNotFound, 0},
		{"/api/v1/destinations/bad-type/reset", http.StatusConflict, 0},
	}
	for _, tc := range tests {
		rec := serve(t, b, http.MethodPost, tc.target, "")
		require.Equal(t, tc.code, rec.Code, tc.target)
		if tc.code != http.StatusOK {
			continue
		}
		var resp actionResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, tc.state.String(), resp.Status.State, tc.target)
	}

	rec = serve(t, b, http.MethodGet, "/api/v1/destinations/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPacketsAPI(t *testing.T) {
	b := newTestBroadcast(t, icecastDestination("rec", 8000))

	rec := serve(t, b, http.MethodPost, "/api/v1/packets",
		`[{"type":"audio","source":7,"samples":[0.1,-0.1],"metadata":{"to":"100","from":"200"}}]`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, b.entries["rec"].reassembler.Active())

	rec = serve(t, b, http.MethodPost, "/api/v1/packets", `[{"type":"static","source":7}]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, b, http.MethodPost, "/api/v1/packets", `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, b, http.MethodPost, "/api/v1/packets", `[{"type":"end","source":7}]`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 0, b.entries["rec"].reassembler.Active())
}

func TestServiceLifecycle(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, recording.FilePrefix+"1.mp3")
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o600))

	b, err := newBroadcast(Config{
		TempDir:      dir,
		Destinations: []DestinationConfig{icecastDestination("nobody", closedPort(t))},
	}, *slog.Default(), testFactory())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, services.StartAndAwaitRunning(ctx, b))

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err), "stale recording purged")

	require.Eventually(t, func() bool {
		s, err := b.Destination("nobody")
		return err == nil && s.State == session.NoServer.String()
	}, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, services.StopAndAwaitTerminated(ctx, b))
}

func TestReceiveRoutesByChannel(t *testing.T) {
	fire := icecastDestination("fire", 8000)
	fire.Channels = []string{"fire"}
	police := icecastDestination("police", 8000)
	police.Channels = []string{"police", "sheriff"}
	b := newTestBroadcast(t, fire, police, icecastDestination("all", 8000))

	active := func() map[string]int {
		return map[string]int{
			"fire":   b.entries["fire"].reassembler.Active(),
			"police": b.entries["police"].reassembler.Active(),
			"all":    b.entries["all"].reassembler.Active(),
		}
	}

	b.Receive(&audio.Packet{Type: audio.TypeAudio, Source: 1, Samples: make([]float32, 80), Metadata: &audio.Metadata{Channel: "fire"}})
	assert.Equal(t, map[string]int{"fire": 1, "police": 0, "all": 1}, active())

	// Later packets of the call carry no metadata and follow the first.
	b.Receive(&audio.Packet{Type: audio.TypeAudio, Source: 1, Samples: make([]float32, 80)})
	b.Receive(&audio.Packet{Type: audio.TypeAudio, Source: 2, Samples: make([]float32, 80), Metadata: &audio.Metadata{Channel: "sheriff"}})
	assert.Equal(t, map[string]int{"fire": 1, "police": 1, "all": 2}, active())

	b.Receive(&audio.Packet{Type: audio.TypeEnd, Source: 1})
	b.Receive(&audio.Packet{Type: audio.TypeEnd, Source: 2})
	assert.Equal(t, map[string]int{"fire": 0, "police": 0, "all": 0}, active())
	assert.Empty(t, b.routes)

	// A call without a channel only reaches destinations taking every channel.
	b.Receive(&audio.Packet{Type: audio.TypeAudio, Source: 1, Samples: make([]float32, 80)})
	assert.Equal(t, map[string]int{"fire": 0, "police": 0, "all": 1}, active())
	b.Receive(&audio.Packet{Type: audio.TypeEnd, Source: 1})
}

func TestActivateBeforeStart(t *testing.T) {
	b := newTestBroadcast(t)

	s, err := b.Activate(context.Background(), icecastDestination("late", 8000))
	require.NoError(t, err)
	assert.Equal(t, "late", s.Name)
	assert.Equal(t, services.New, b.entries["late"].dest.State())

	_, err = b.Activate(context.Background(), DestinationConfig{})
	assert.Error(t, err)
}

func TestActivateDeactivate(t *testing.T) {
	b, err := newBroadcast(Config{
		TempDir:      t.TempDir(),
		Destinations: []DestinationConfig{icecastDestination("first", closedPort(t))},
	}, *slog.Default(), testFactory())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, services.StartAndAwaitRunning(ctx, b))
	defer func() { require.NoError(t, services.StopAndAwaitTerminated(ctx, b)) }()

	second := icecastDestination("second", closedPort(t))
	_, err = b.Activate(ctx, second)
	require.NoError(t, err)
	require.Len(t, b.Destinations(), 2)

	old := b.entries["second"].dest
	require.Eventually(t, func() bool {
		s, err := b.Destination("second")
		return err == nil && s.State == session.NoServer.String()
	}, 5*time.Second, 50*time.Millisecond)

	second.Channels = []string{"fire"}
	s, err := b.Activate(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, []string{"fire"}, s.Channels)
	assert.Equal(t, services.Terminated, old.State())
	assert.NotSame(t, old, b.entries["second"].dest)
	assert.Equal(t, services.Running, b.entries["second"].dest.State())
	assert.Equal(t, []string{"first", "second"}, b.order)

	replaced := b.entries["second"].dest
	require.NoError(t, b.Deactivate("second"))
	assert.Equal(t, services.Terminated, replaced.State())
	_, err = b.Destination("second")
	assert.ErrorIs(t, err, ErrUnknownDestination)
	assert.ErrorIs(t, b.Deactivate("second"), ErrUnknownDestination)

	disabled := false
	first := icecastDestination("first", 8000)
	first.Enabled = &disabled
	_, err = b.Activate(ctx, first)
	require.NoError(t, err)
	assert.Empty(t, b.Destinations())
	assert.Equal(t, services.Running, b.State())
}

func TestActivateWaitsRestartDelay(t *testing.T) {
	b, err := newBroadcast(Config{
		TempDir:      t.TempDir(),
		RestartDelay: 200 * time.Millisecond,
		Destinations: []DestinationConfig{icecastDestination("dest", closedPort(t))},
	}, *slog.Default(), testFactory())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, services.StartAndAwaitRunning(ctx, b))
	defer func() { require.NoError(t, services.StopAndAwaitTerminated(ctx, b)) }()

	start := time.Now()
	_, err = b.Activate(ctx, icecastDestination("dest", closedPort(t)))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = b.Activate(cancelled, icecastDestination("dest", closedPort(t)))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDestinationConfigAPI(t *testing.T) {
	b := newTestBroadcast(t, icecastDestination("existing", 8000))

	rec := serve(t, b, http.MethodPut, "/api/v1/destinations/new",
		`{"server-type":"icecast-tcp","host":"127.0.0.1","port":8000,"mount":"/new","password":"hackme","delay":"5s","channels":["fire"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var s Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s))
	assert.Equal(t, "new", s.Name)
	assert.Equal(t, session.Ready.String(), s.State)
	assert.Equal(t, 5*time.Second, b.entries["new"].cfg.Delay)

	tests := []struct {
		name   string
		method string
		target string
		body   string
		code   int
	}{
		{"name mismatch", http.MethodPut, "/api/v1/destinations/new", `{"name":"other"}`, http.StatusBadRequest},
		{"unknown field", http.MethodPut, "/api/v1/destinations/new", `{"hostname":"x"}`, http.StatusBadRequest},
		{"unbuildable", http.MethodPut, "/api/v1/destinations/bad", `{"server-type":"zello"}`, http.StatusOK},
		{"disable", http.MethodPut, "/api/v1/destinations/existing", `{"enabled":false}`, http.StatusNoContent},
		{"delete", http.MethodDelete, "/api/v1/destinations/new", ``, http.StatusNoContent},
		{"delete unknown", http.MethodDelete, "/api/v1/destinations/new", ``, http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(t, b, tc.method, tc.target, tc.body)
			assert.Equal(t, tc.code, rec.Code, rec.Body.String())
		})
	}

	statuses := b.Destinations()
	require.Len(t, statuses, 1)
	assert.Equal(t, "bad", statuses[0].Name)
	assert.Equal(t, session.ConfigurationError.String(), statuses[0].State)
}

func TestPacketsAPIBodyLimit(t *testing.T) {
	b := newTestBroadcast(t, icecastDestination("rec", 8000))
	b.maxPacketBody = 64

	rec := serve(t, b, http.MethodPost, "/api/v1/packets",
		`[{"type":"audio","source":7,"samples":[`+strings.Repeat("0.1,", 64)+`0.1]}]`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, 0, b.entries["rec"].reassembler.Active())

	rec = serve(t, b, http.MethodPut, "/api/v1/destinations/big", `{"description":"`+strings.Repeat("x", 64)+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
