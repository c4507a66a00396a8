package broadcaster

import (
	"context"

	"github.com/zachfi/scannercast/pkg/audio"
	"github.com/zachfi/scannercast/pkg/flow"
)

// Transport speaks one server protocol. Connect performs the handshake and
// then streams whatever the producer yields until Disconnect. Failures after
// Connect returns are reported through the producer.
type Transport interface {
	Connect(ctx context.Context, p *flow.Producer, g *flow.Gate) error
	UpdateMetadata(ctx context.Context, m *audio.Metadata) error
	Disconnect() error
}
