package broadcaster

import (
	"sync"

	"github.com/zachfi/scannercast/pkg/recording"
)

// recordingQueue is a bounded FIFO of completed recordings.
type recordingQueue struct {
	mu       sync.Mutex
	items    []recording.Completed
	capacity int
}

func newRecordingQueue(capacity int) *recordingQueue {
	return &recordingQueue{items: make([]recording.Completed, 0, capacity), capacity: capacity}
}

// offer appends c and reports false when the queue is full.
func (q *recordingQueue) offer(c recording.Completed) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.capacity {
		return false
	}
	q.items = append(q.items, c)
	return true
}

func (q *recordingQueue) poll() (recording.Completed, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return recording.Completed{}, false
	}
	c := q.items[0]
	q.items[0] = recording.Completed{}
	q.items = q.items[1:]
	return c, true
}

func (q *recordingQueue) drain() []recording.Completed {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = make([]recording.Completed, 0, q.capacity)
	return out
}

func (q *recordingQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// pollIf removes the head only when ok reports true for it.
func (q *recordingQueue) pollIf(ok func(recording.Completed) bool) (recording.Completed, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 || !ok(q.items[0]) {
		return recording.Completed{}, false
	}
	c := q.items[0]
	q.items[0] = recording.Completed{}
	q.items = q.items[1:]
	return c, true
}
