package publish

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldgate/gateway/internal/config"
	"github.com/fieldgate/gateway/internal/telemetry"
)

func testSnapshot() config.Snapshot {
	return config.Snapshot{
		Docs: config.Documents{
			Devices: map[string]config.DeviceConfig{
				"0a1b2c": {
					DeviceID: "0a1b2c",
					Registers: []config.RegisterConfig{
						{RegisterID: "temp", RegisterName: "temperature"},
						{RegisterID: "rh", RegisterName: "humidity"},
					},
				},
			},
		},
	}
}

func TestDefaultModePayloadUsesRegisterNames(t *testing.T) {
	snap := testSnapshot()
	r := telemetry.Record{
		DeviceID:  "0a1b2c",
		Timestamp: time.UnixMilli(1700000000123),
		Values: []telemetry.RegisterValue{
			{RegisterID: "temp", Value: 21.5, Quality: telemetry.QualityOK},
			{RegisterID: "rh", Value: 55.0, Quality: telemetry.QualityFail},
		},
	}
	payload := defaultModePayload(snap, r)
	assert.Equal(t, "0a1b2c", payload["device_id"])
	assert.Equal(t, int64(1700000000123), payload["timestamp"])
	assert.Equal(t, 21.5, payload["temperature"])
	_, failedPresent := payload["humidity"]
	assert.False(t, failedPresent, "a failed register must not appear in the payload")
}

func TestCustomTopicPayloadFiltersRegisters(t *testing.T) {
	snap := testSnapshot()
	r := telemetry.Record{
		DeviceID: "0a1b2c",
		Values: []telemetry.RegisterValue{
			{RegisterID: "temp", Value: 21.5, Quality: telemetry.QualityOK},
			{RegisterID: "rh", Value: 55.0, Quality: telemetry.QualityOK},
		},
	}
	payload, ok := customTopicPayload(snap, r, []string{"rh"})
	require.True(t, ok)
	_, hasTemp := payload["temperature"]
	assert.False(t, hasTemp)
	assert.Equal(t, 55.0, payload["humidity"])
}

func TestCustomTopicPayloadUnknownDeviceNotOK(t *testing.T) {
	snap := testSnapshot()
	r := telemetry.Record{DeviceID: "missing"}
	_, ok := customTopicPayload(snap, r, []string{"rh"})
	assert.False(t, ok)
}
