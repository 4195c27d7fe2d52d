package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the shared struct-tag validator instance; it is safe for
// concurrent use, matching the teacher's pattern of one long-lived decoder.
var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateDevice checks struct-tag constraints (via go-playground/validator)
// and the cross-field invariants tags cannot express: transport-specific
// required fields and per-device register address overlap.
func ValidateDevice(d DeviceConfig) error {
	var errs ValidationErrors
	if err := validate.Struct(d); err != nil {
		errs.add("%v", err)
	}

	switch d.Protocol {
	case ProtocolRTU:
		if d.SerialPort == "" {
			errs.add("serial_port is required for RTU devices")
		}
		if d.SlaveID < 1 || d.SlaveID > 247 {
			errs.add("slave_id must be 1..247, got %d", d.SlaveID)
		}
		if d.BaudRate <= 0 {
			errs.add("baud_rate must be > 0")
		}
	case ProtocolTCP:
		if d.Host == "" {
			errs.add("host is required for TCP devices")
		}
		if d.Port < 1 || d.Port > 65535 {
			errs.add("port must be 1..65535, got %d", d.Port)
		}
		if d.UnitID < 1 || d.UnitID > 247 {
			errs.add("unit_id must be 1..247, got %d", d.UnitID)
		}
	default:
		errs.add("protocol must be RTU or TCP, got %q", d.Protocol)
	}

	if d.RefreshRateMs < 100 {
		errs.add("refresh_rate_ms must be >= 100, got %d", d.RefreshRateMs)
	}

	seen := map[string]struct{}{}
	for _, r := range d.Registers {
		if _, dup := seen[r.RegisterID]; dup {
			errs.add("duplicate register_id %q", r.RegisterID)
		}
		seen[r.RegisterID] = struct{}{}
		if err := validateRegisterShape(r); err != nil {
			errs.add("register %q: %v", r.RegisterID, err)
		}
	}
	if err := validateRegisterOverlap(d.Registers); err != nil {
		errs.add("%v", err)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateRegisterShape(r RegisterConfig) error {
	if err := validate.Struct(r); err != nil {
		return err
	}
	if !r.DataType.Valid() {
		return fmt.Errorf("%w: %q", ErrUnsupportedDataType, r.DataType)
	}
	if r.FunctionCode < 1 || r.FunctionCode > 4 {
		return fmt.Errorf("function_code must be 1..4, got %d", r.FunctionCode)
	}
	width, err := r.DataType.WidthWords()
	if err != nil {
		return err
	}
	if int(r.Address)+int(width) > 65536 {
		return fmt.Errorf("address range [%d,%d) exceeds 65536", r.Address, int(r.Address)+int(width))
	}
	return nil
}

// validateRegisterOverlap enforces: the address range [address, address+width)
// of a register must not overlap another register of the same device and
// function code.
func validateRegisterOverlap(regs []RegisterConfig) error {
	type span struct {
		id         string
		start, end int
	}
	byFC := map[int][]span{}
	for _, r := range regs {
		width, err := r.DataType.WidthWords()
		if err != nil {
			continue // already reported by validateRegisterShape
		}
		s := span{id: r.RegisterID, start: r.Address, end: r.Address + int(width)}
		for _, other := range byFC[r.FunctionCode] {
			if s.start < other.end && other.start < s.end {
				return fmt.Errorf("register %q overlaps register %q on function code %d", s.id, other.id, r.FunctionCode)
			}
		}
		byFC[r.FunctionCode] = append(byFC[r.FunctionCode], s)
	}
	return nil
}

// ValidateServer checks struct-tag constraints and the protocol-dependent
// required sub-configs.
func ValidateServer(s ServerConfig) error {
	var errs ValidationErrors
	if err := validate.Struct(s); err != nil {
		errs.add("%v", err)
	}
	if s.Protocol == ServerProtocolMQTT || s.Protocol == ServerProtocolBoth {
		if s.MQTT.BrokerURL == "" {
			errs.add("mqtt_config.broker_url is required when protocol includes mqtt")
		}
	}
	if s.Protocol == ServerProtocolHTTP || s.Protocol == ServerProtocolBoth {
		if s.HTTP.EndpointURL == "" {
			errs.add("http_config.endpoint_url is required when protocol includes http")
		}
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// validateDocuments re-checks global invariants that span the whole
// document set: device_id uniqueness is enforced structurally (map key),
// so this currently only validates each device and the server config.
func validateDocuments(docs Documents) error {
	var errs ValidationErrors
	for id, d := range docs.Devices {
		if d.DeviceID != id {
			errs.add("device map key %q does not match device_id %q", id, d.DeviceID)
		}
		if err := ValidateDevice(d); err != nil {
			errs.add("device %q: %v", id, err)
		}
	}
	if err := ValidateServer(docs.Server); err != nil {
		errs.add("%v", err)
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}
