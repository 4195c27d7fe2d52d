package polling

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldgate/gateway/internal/config"
	"github.com/fieldgate/gateway/internal/modbus"
	"github.com/fieldgate/gateway/internal/telemetry"
	"github.com/fieldgate/gateway/internal/transport"
)

// fakeTransport always answers a Read Holding Registers request for the
// fixed value it was built with, regardless of the request bytes —
// enough to drive one device end-to-end through the engine.
type fakeTransport struct {
	words []uint16
}

func (f *fakeTransport) Exchange(req []byte, timeout time.Duration) ([]byte, error) {
	slave := req[0]
	fn := req[1]
	payload := make([]byte, 0, len(f.words)*2)
	for _, w := range f.words {
		payload = append(payload, byte(w>>8), byte(w))
	}
	body := append([]byte{slave, fn, byte(len(payload))}, payload...)
	crc := modbus.CRC16(body)
	return append(body, byte(crc), byte(crc>>8)), nil
}

func (f *fakeTransport) Close() error { return nil }

const testDeviceID = "0a1b2c"

func testDevice() config.DeviceConfig {
	return config.DeviceConfig{
		DeviceID:      testDeviceID,
		DeviceName:    "Test Device",
		Protocol:      config.ProtocolRTU,
		RefreshRateMs: 100,
		TimeoutMs:     100,
		RetryCount:    5,
		SerialPort:    "/dev/ttyFAKE0",
		SlaveID:       1,
		BaudRate:      9600,
		Registers: []config.RegisterConfig{
			{RegisterID: "temp", RegisterName: "Temperature", FunctionCode: 3, Address: 0, DataType: config.DataTypeFloat32BE, Scale: 1},
		},
	}
}

func TestEngineReconcilePollsNewDevice(t *testing.T) {
	dir := t.TempDir()
	store := config.NewStore(dir)
	require.NoError(t, store.Load())
	require.NoError(t, store.CreateDevice(testDevice()))

	queue := telemetry.NewQueue()
	fake := &fakeTransport{words: []uint16{0x4049, 0x0FDB}}
	factory := func(config.DeviceConfig) (transport.Transport, error) { return fake, nil }
	engine := NewEngine(store, factory, queue)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go engine.Run(ctx)

	require.Eventually(t, func() bool {
		return queue.Len() > 0
	}, 2*time.Second, 10*time.Millisecond)

	records := queue.Drain()
	require.Len(t, records, 1)
	assert.Equal(t, testDeviceID, records[0].DeviceID)
	assert.Equal(t, telemetry.StatusOK, records[0].Status)
	assert.InDelta(t, 3.1415927, records[0].Values[0].Value.(float64), 0.0001)

	status, ok := engine.Status(testDeviceID)
	require.True(t, ok)
	assert.Equal(t, HealthEnabled, status.Health)
}

func TestEngineSetManualDisabledStopsNewReads(t *testing.T) {
	dir := t.TempDir()
	store := config.NewStore(dir)
	require.NoError(t, store.Load())
	require.NoError(t, store.CreateDevice(testDevice()))

	queue := telemetry.NewQueue()
	fake := &fakeTransport{words: []uint16{0x4049, 0x0FDB}}
	factory := func(config.DeviceConfig) (transport.Transport, error) { return fake, nil }
	engine := NewEngine(store, factory, queue)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go engine.Run(ctx)

	require.Eventually(t, func() bool { return queue.Len() > 0 }, 2*time.Second, 10*time.Millisecond)
	queue.Drain()

	require.True(t, engine.SetManualDisabled(testDeviceID, true))
	status, ok := engine.Status(testDeviceID)
	require.True(t, ok)
	assert.Equal(t, HealthManualDisabled, status.Health)

	refresh := time.Duration(testDevice().RefreshRateMs) * time.Millisecond
	time.Sleep(refresh) // let a poll already in flight finish
	queue.Drain()
	time.Sleep(3 * refresh)
	assert.Equal(t, 0, queue.Len(), "a manually disabled device is not polled")
}
