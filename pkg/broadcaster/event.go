package broadcaster

import "github.com/zachfi/scannercast/pkg/session"

type EventType int

const (
	QueueChanged EventType = iota
	StreamedCountChanged
	StateChanged
	AgedOffCountChanged
)

func (t EventType) String() string {
	switch t {
	case QueueChanged:
		return "queue"
	case StreamedCountChanged:
		return "streamed"
	case StateChanged:
		return "state"
	case AgedOffCountChanged:
		return "aged_off"
	}
	return "unknown"
}

// Event is raised for observers of a destination. Value carries the queue
// size or the new count; Transition is only set for StateChanged.
type Event struct {
	Type        EventType
	Destination *Destination
	Value       uint64
	Transition  session.Transition
}
