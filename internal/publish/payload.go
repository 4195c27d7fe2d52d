package publish

import (
	"github.com/fieldgate/gateway/internal/config"
	"github.com/fieldgate/gateway/internal/telemetry"
)

// namedValue is one register's value keyed by its configured name rather
// than its id, matching the northbound JSON shape of spec §6.
type namedValue struct {
	name  string
	value any
}

// registerNames returns the configured register_name for every register_id
// that appears in r, using the device's registers as of snap. Registers
// that failed (no value) or that no longer exist in the live config are
// skipped — the payload only ever carries clean readings.
func registerNames(snap config.Snapshot, r telemetry.Record) []namedValue {
	dev, ok := snap.Device(r.DeviceID)
	if !ok {
		return nil
	}
	names := make(map[string]string, len(dev.Registers))
	for _, reg := range dev.Registers {
		names[reg.RegisterID] = reg.RegisterName
	}

	out := make([]namedValue, 0, len(r.Values))
	for _, v := range r.Values {
		if v.Quality != telemetry.QualityOK {
			continue
		}
		name, ok := names[v.RegisterID]
		if !ok {
			continue
		}
		out = append(out, namedValue{name: name, value: v.Value})
	}
	return out
}

// defaultModePayload builds the unified-topic JSON object: device_id,
// epoch-millisecond timestamp, then one key per register name.
func defaultModePayload(snap config.Snapshot, r telemetry.Record) map[string]any {
	payload := map[string]any{
		"device_id": r.DeviceID,
		"timestamp": r.Timestamp.UnixMilli(),
	}
	for _, nv := range registerNames(snap, r) {
		payload[nv.name] = nv.value
	}
	return payload
}

// customTopicPayload filters r down to the registers named by ids, in the
// same device_id/timestamp envelope as the default mode.
func customTopicPayload(snap config.Snapshot, r telemetry.Record, ids []string) (map[string]any, bool) {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	dev, ok := snap.Device(r.DeviceID)
	if !ok {
		return nil, false
	}
	names := make(map[string]string, len(dev.Registers))
	for _, reg := range dev.Registers {
		names[reg.RegisterID] = reg.RegisterName
	}

	payload := map[string]any{
		"device_id": r.DeviceID,
		"timestamp": r.Timestamp.UnixMilli(),
	}
	found := false
	for _, v := range r.Values {
		if _, wanted := want[v.RegisterID]; !wanted || v.Quality != telemetry.QualityOK {
			continue
		}
		name, ok := names[v.RegisterID]
		if !ok {
			continue
		}
		payload[name] = v.Value
		found = true
	}
	return payload, found
}
