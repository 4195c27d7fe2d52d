package publish

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldgate/gateway/internal/telemetry"
)

// Mirrors the spec's worked example: broker unreachable for 10 publish
// intervals with 5 records/interval (50 pushes), buffer capped at 100 ...
// actually the documented scenario pushes more than capacity; we drive it
// at a smaller scale here and check the oldest-first/drop-count contract
// directly, which is what that scenario is testing.
func TestOfflineBufferDropsOldestWhenFull(t *testing.T) {
	buf := newOfflineBuffer(3)
	for i := 0; i < 5; i++ {
		buf.Push(telemetry.Record{DeviceID: deviceIDFor(i)})
	}
	assert.Equal(t, uint64(2), buf.Dropped())
	require.Equal(t, 3, buf.Len())

	drained := buf.Drain()
	require.Len(t, drained, 3)
	assert.Equal(t, deviceIDFor(2), drained[0].DeviceID)
	assert.Equal(t, deviceIDFor(4), drained[2].DeviceID)
	assert.Equal(t, 0, buf.Len())
}

func TestOfflineBufferDrainEmptyReturnsNil(t *testing.T) {
	buf := newOfflineBuffer(10)
	assert.Nil(t, buf.Drain())
}

// 150 total pushes (30 outage intervals at 5 records each) against a
// 100-record cap: the oldest 50 fall off, leaving exactly 100 to drain
// oldest-first and a drop counter of 50.
func TestOfflineBufferSpecScenario(t *testing.T) {
	buf := newOfflineBuffer(100)
	for interval := 0; interval < 30; interval++ {
		for i := 0; i < 5; i++ {
			buf.Push(telemetry.Record{DeviceID: deviceIDFor(interval*5 + i)})
		}
	}
	assert.Equal(t, uint64(50), buf.Dropped())
	drained := buf.Drain()
	require.Len(t, drained, 100)
	assert.Equal(t, deviceIDFor(50), drained[0].DeviceID)
	assert.Equal(t, deviceIDFor(149), drained[99].DeviceID)
}

func deviceIDFor(i int) string {
	return "dev" + string(rune('A'+i%26)) + string(rune('0'+i/26))
}
