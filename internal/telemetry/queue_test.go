package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueLatestWinsPerDevice(t *testing.T) {
	q := NewQueue()
	q.Push(Record{DeviceID: "a", Timestamp: time.Unix(1, 0), Status: StatusOK})
	q.Push(Record{DeviceID: "a", Timestamp: time.Unix(2, 0), Status: StatusOK})
	q.Push(Record{DeviceID: "b", Timestamp: time.Unix(1, 0), Status: StatusOK})

	require.Equal(t, 2, q.Len())
	records := q.Drain()
	assert.Len(t, records, 2)
	assert.Equal(t, 0, q.Len())
}

func TestQueueNotifyFires(t *testing.T) {
	q := NewQueue()
	q.Push(Record{DeviceID: "a"})
	select {
	case <-q.Notify():
	default:
		t.Fatal("expected notify to be readable after push")
	}
}

func TestDeriveStatus(t *testing.T) {
	assert.Equal(t, StatusOK, DeriveStatus([]RegisterValue{{Quality: QualityOK}, {Quality: QualityOK}}))
	assert.Equal(t, StatusPartialError, DeriveStatus([]RegisterValue{{Quality: QualityOK}, {Quality: QualityFail}}))
	assert.Equal(t, StatusError, DeriveStatus([]RegisterValue{{Quality: QualityFail}, {Quality: QualityFail}}))
}
