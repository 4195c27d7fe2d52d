package telemetry

import (
	"sync"

	"github.com/fieldgate/gateway/internal/metrics"
)

// Queue holds the most recent Record per device, overwriting a device's
// prior entry if the publisher hasn't drained it before the next poll
// cycle completes. This keeps the hand-off bounded by device count
// rather than poll rate — a slow publisher loses intermediate readings
// for a device, never accumulates an unbounded backlog.
type Queue struct {
	mu     sync.Mutex
	latest map[string]Record
	notify chan struct{}
}

func NewQueue() *Queue {
	return &Queue{
		latest: make(map[string]Record),
		notify: make(chan struct{}, 1),
	}
}

// Push stores r as deviceID's latest record and wakes one waiting drainer.
func (q *Queue) Push(r Record) {
	q.mu.Lock()
	q.latest[r.DeviceID] = r
	depth := len(q.latest)
	q.mu.Unlock()
	metrics.QueueDepth.Set(float64(depth))

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Drain removes and returns every pending record, order unspecified.
func (q *Queue) Drain() []Record {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.latest) == 0 {
		return nil
	}
	out := make([]Record, 0, len(q.latest))
	for _, r := range q.latest {
		out = append(out, r)
	}
	q.latest = make(map[string]Record)
	metrics.QueueDepth.Set(0)
	return out
}

// Notify returns the channel the publisher selects on to wake up when new
// records may be available.
func (q *Queue) Notify() <-chan struct{} {
	return q.notify
}

// Len reports how many devices currently have an undrained record.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.latest)
}
