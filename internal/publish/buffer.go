package publish

import (
	"sync"

	"github.com/fieldgate/gateway/internal/metrics"
	"github.com/fieldgate/gateway/internal/telemetry"
)

// offlineBuffer is the MQTT publisher's bounded FIFO: records enqueue while
// the broker is unreachable, drain oldest-first on reconnect, and the
// oldest entry is dropped (with the counter bumped) once the buffer is
// full rather than rejecting the newest write.
type offlineBuffer struct {
	mu       sync.Mutex
	records  []telemetry.Record
	capacity int
	dropped  uint64
}

func newOfflineBuffer(capacity int) *offlineBuffer {
	if capacity <= 0 {
		capacity = 100
	}
	return &offlineBuffer{capacity: capacity}
}

func (b *offlineBuffer) Push(r telemetry.Record) {
	b.mu.Lock()
	if len(b.records) >= b.capacity {
		b.records = b.records[1:]
		b.dropped++
		metrics.MQTTBufferDropsTotal.Inc()
	}
	b.records = append(b.records, r)
	depth := len(b.records)
	b.mu.Unlock()
	metrics.MQTTBufferDepth.Set(float64(depth))
}

// Drain returns and clears every buffered record, oldest first.
func (b *offlineBuffer) Drain() []telemetry.Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.records) == 0 {
		return nil
	}
	out := b.records
	b.records = nil
	metrics.MQTTBufferDepth.Set(0)
	return out
}

func (b *offlineBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

func (b *offlineBuffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
