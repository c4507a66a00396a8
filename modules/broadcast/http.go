package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"gopkg.in/yaml.v2"

	"github.com/zachfi/scannercast/pkg/audio"
)

const defaultMaxPacketBody = 8 << 20

// RegisterRoutes adds the destination status and control API to r.
func (b *Broadcast) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/v1/destinations", b.listHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/destinations/{name}", b.getHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/destinations/{name}", b.putHandler).Methods(http.MethodPut)
	r.HandleFunc("/api/v1/destinations/{name}", b.deleteHandler).Methods(http.MethodDelete)
	r.HandleFunc("/api/v1/destinations/{name}/{action:pause|resume|reset}", b.actionHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/packets", b.packetsHandler).Methods(http.MethodPost)
}

func (b *Broadcast) listHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, b.Destinations())
}

func (b *Broadcast) getHandler(w http.ResponseWriter, r *http.Request) {
	s, err := b.Destination(mux.Vars(r)["name"])
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// putHandler activates or replaces a destination. The body is the YAML or
// JSON form of a destination config; the name is taken from the path.
func (b *Broadcast) putHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	body, err := b.readBody(w, r)
	if err != nil {
		writeBodyError(w, err)
		return
	}

	var dc DestinationConfig
	if err := yaml.UnmarshalStrict(body, &dc); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	switch dc.Name {
	case "":
		dc.Name = name
	case name:
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("destination name %q does not match %q", dc.Name, name))
		return
	}

	s, err := b.Activate(r.Context(), dc)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	if !dc.enabled() {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (b *Broadcast) deleteHandler(w http.ResponseWriter, r *http.Request) {
	err := b.Deactivate(mux.Vars(r)["name"])
	switch {
	case errors.Is(err, ErrUnknownDestination):
		writeError(w, http.StatusNotFound, err)
		return
	case err != nil:
		b.logger.Warn("error stopping deactivated destination", "err", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

type actionResponse struct {
	Changed bool   `json:"changed"`
	Status  Status `json:"status"`
}

func (b *Broadcast) actionHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name := vars["name"]

	var (
		changed bool
		err     error
	)
	switch vars["action"] {
	case "pause":
		changed, err = b.Pause(name, true)
	case "resume":
		changed, err = b.Pause(name, false)
	case "reset":
		changed, err = b.Reset(name)
	}
	switch {
	case errors.Is(err, ErrUnknownDestination):
		writeError(w, http.StatusNotFound, err)
		return
	case errors.Is(err, ErrInactiveDestination):
		writeError(w, http.StatusConflict, err)
		return
	}

	s, _ := b.Destination(name)
	b.logger.Info("destination action", "destination", name, "action", vars["action"], "changed", changed)
	writeJSON(w, http.StatusOK, actionResponse{Changed: changed, Status: s})
}

// packetRequest is the JSON form of an audio packet posted by the decoder.
type packetRequest struct {
	Type      string          `json:"type"`
	Source    int             `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
	Metadata  *audio.Metadata `json:"metadata,omitempty"`
	Samples   []float32       `json:"samples,omitempty"`
}

func (p packetRequest) packet() (*audio.Packet, error) {
	pkt := &audio.Packet{
		Source:    audio.SourceChannelID(p.Source),
		Timestamp: p.Timestamp,
		Metadata:  p.Metadata,
		Samples:   p.Samples,
	}
	switch p.Type {
	case "audio", "AUDIO":
		pkt.Type = audio.TypeAudio
	case "end", "END":
		pkt.Type = audio.TypeEnd
	default:
		return nil, errors.New("packet type must be audio or end")
	}
	if pkt.Timestamp.IsZero() {
		pkt.Timestamp = time.Now()
	}
	return pkt, nil
}

// packetsHandler accepts a JSON array of packets, in order.
func (b *Broadcast) packetsHandler(w http.ResponseWriter, r *http.Request) {
	body, err := b.readBody(w, r)
	if err != nil {
		writeBodyError(w, err)
		return
	}

	var reqs []packetRequest
	if err := json.Unmarshal(body, &reqs); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	packets := make([]*audio.Packet, 0, len(reqs))
	for _, req := range reqs {
		p, err := req.packet()
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		packets = append(packets, p)
	}

	for _, p := range packets {
		b.Receive(p)
	}
	w.WriteHeader(http.StatusAccepted)
}

func (b *Broadcast) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(w, r.Body, b.maxPacketBody))
}

func writeBodyError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	writeError(w, http.StatusBadRequest, err)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
