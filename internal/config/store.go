package config

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
)

const (
	devicesFileName = "devices.json"
	serverFileName  = "server_config.json"
	loggingFileName = "logging.json"
)

// Snapshot is an immutable view of the full configuration, consistent
// across all three documents: a consumer that reads it mid-cycle never
// observes a partially-applied mutation.
type Snapshot struct {
	Version uint64
	Docs    Documents
}

// Device looks up a device by id within this snapshot.
func (s Snapshot) Device(id string) (DeviceConfig, bool) {
	d, ok := s.Docs.Devices[id]
	return d, ok
}

// Devices returns all devices in this snapshot, order unspecified.
func (s Snapshot) Devices() []DeviceConfig {
	out := make([]DeviceConfig, 0, len(s.Docs.Devices))
	for _, d := range s.Docs.Devices {
		out = append(out, d)
	}
	return out
}

// Store is the atomically-persisted, crash-safe configuration authority
// described in spec §4.1. A single mutex serializes all mutations;
// readers take a Snapshot via an atomic pointer swap and never block a
// writer for longer than that swap.
type Store struct {
	atomic *atomicStore

	writeMu sync.Mutex
	current atomic.Pointer[Snapshot]
	signal  *Signal
}

// NewStore constructs a Store rooted at dir. Call Load before use.
func NewStore(dir string) *Store {
	return &Store{
		atomic: newAtomicStore(dir),
		signal: newSignal(),
	}
}

// Load reads devices.json, server_config.json, and logging.json, running
// WAL/orphan-tmp recovery first. A missing, empty, or corrupt file is
// replaced with that file's declared default; other files are unaffected.
func (s *Store) Load() error {
	if err := s.atomic.recover(); err != nil {
		return fmt.Errorf("wal recovery: %w", err)
	}

	devices, err := loadDevices(s.atomic)
	if err != nil {
		return err
	}
	server, err := loadServer(s.atomic)
	if err != nil {
		return err
	}
	logging, err := loadLogging(s.atomic)
	if err != nil {
		return err
	}

	snap := &Snapshot{Version: 0, Docs: Documents{Devices: devices, Server: server, Logging: logging}}
	s.current.Store(snap)
	return nil
}

func loadDevices(a *atomicStore) (map[string]DeviceConfig, error) {
	data, ok, err := a.read(devicesFileName)
	if err != nil {
		return nil, err
	}
	if !ok || len(data) == 0 {
		return map[string]DeviceConfig{}, nil
	}
	var wire struct {
		Devices []DeviceConfig `json:"devices"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return map[string]DeviceConfig{}, nil // corrupt: substitute default for this file only
	}
	out := make(map[string]DeviceConfig, len(wire.Devices))
	for _, d := range wire.Devices {
		out[d.DeviceID] = d
	}
	return out, nil
}

func loadServer(a *atomicStore) (ServerConfig, error) {
	data, ok, err := a.read(serverFileName)
	if err != nil {
		return ServerConfig{}, err
	}
	if !ok || len(data) == 0 {
		return DefaultServerConfig(), nil
	}
	var cfg ServerConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return DefaultServerConfig(), nil
	}
	return cfg, nil
}

func loadLogging(a *atomicStore) (LoggingConfig, error) {
	data, ok, err := a.read(loggingFileName)
	if err != nil {
		return LoggingConfig{}, err
	}
	if !ok || len(data) == 0 {
		return DefaultLoggingConfig(), nil
	}
	var cfg LoggingConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return DefaultLoggingConfig(), nil
	}
	return cfg, nil
}

// Snapshot returns the current immutable configuration view.
func (s *Store) Snapshot() Snapshot {
	return *s.current.Load()
}

// Subscribe returns the change-notification handle; its Version() changes
// on every successful mutation.
func (s *Store) Subscribe() *Signal {
	return s.signal
}

func devicesWireBytes(devices map[string]DeviceConfig) ([]byte, error) {
	list := make([]DeviceConfig, 0, len(devices))
	for _, d := range devices {
		list = append(list, d)
	}
	return json.MarshalIndent(struct {
		Devices []DeviceConfig `json:"devices"`
	}{Devices: list}, "", "  ")
}

// mutate runs fn against a copy of the current documents, persists the
// whole document(s) fn touched, and on success swaps in the new snapshot
// and broadcasts the change signal. fn must not retain its docs argument
// beyond the call.
func (s *Store) mutate(fn func(docs *Documents) (persist []string, err error)) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cur := s.Snapshot()
	docs := cloneDocuments(cur.Docs)

	persist, err := fn(&docs)
	if err != nil {
		return err
	}

	for _, file := range persist {
		var data []byte
		var err error
		switch file {
		case devicesFileName:
			data, err = devicesWireBytes(docs.Devices)
		case serverFileName:
			data, err = json.MarshalIndent(docs.Server, "", "  ")
		case loggingFileName:
			data, err = json.MarshalIndent(docs.Logging, "", "  ")
		default:
			err = fmt.Errorf("unknown document %q", file)
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSerializeFailed, err)
		}
		if err := s.atomic.write(file, data); err != nil {
			return err
		}
	}

	next := &Snapshot{Version: cur.Version + 1, Docs: docs}
	s.current.Store(next)
	s.signal.broadcast()
	return nil
}

func cloneDocuments(d Documents) Documents {
	devices := make(map[string]DeviceConfig, len(d.Devices))
	for k, v := range d.Devices {
		regs := make([]RegisterConfig, len(v.Registers))
		copy(regs, v.Registers)
		v.Registers = regs
		devices[k] = v
	}
	return Documents{Devices: devices, Server: d.Server, Logging: d.Logging}
}

// CreateDevice validates and persists a new device. Duplicate device_id is
// rejected without touching disk.
func (s *Store) CreateDevice(cfg DeviceConfig) error {
	return s.mutate(func(docs *Documents) ([]string, error) {
		if _, exists := docs.Devices[cfg.DeviceID]; exists {
			return nil, fmt.Errorf("%w: device_id %q already exists", ErrValidation, cfg.DeviceID)
		}
		if err := ValidateDevice(cfg); err != nil {
			return nil, err
		}
		docs.Devices[cfg.DeviceID] = cfg
		return []string{devicesFileName}, nil
	})
}

// UpdateDevice replaces the device identified by id with patch (patch's
// DeviceID is forced to id). Health state for devices that remain is never
// reset by a config mutation; that is the PollingEngine's concern.
func (s *Store) UpdateDevice(id string, patch DeviceConfig) error {
	return s.mutate(func(docs *Documents) ([]string, error) {
		if _, exists := docs.Devices[id]; !exists {
			return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
		}
		patch.DeviceID = id
		if err := ValidateDevice(patch); err != nil {
			return nil, err
		}
		docs.Devices[id] = patch
		return []string{devicesFileName}, nil
	})
}

// DeleteDevice removes a device and all its registers.
func (s *Store) DeleteDevice(id string) error {
	return s.mutate(func(docs *Documents) ([]string, error) {
		if _, exists := docs.Devices[id]; !exists {
			return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
		}
		delete(docs.Devices, id)
		return []string{devicesFileName}, nil
	})
}

// CreateRegister adds cfg to deviceID's register list.
func (s *Store) CreateRegister(deviceID string, cfg RegisterConfig) error {
	return s.mutate(func(docs *Documents) ([]string, error) {
		d, ok := docs.Devices[deviceID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
		}
		for _, r := range d.Registers {
			if r.RegisterID == cfg.RegisterID {
				return nil, fmt.Errorf("%w: register_id %q already exists on device %s", ErrValidation, cfg.RegisterID, deviceID)
			}
		}
		candidate := append(append([]RegisterConfig{}, d.Registers...), cfg)
		d.Registers = candidate
		if err := ValidateDevice(d); err != nil {
			return nil, err
		}
		docs.Devices[deviceID] = d
		return []string{devicesFileName}, nil
	})
}

// UpdateRegister replaces registerID's configuration on deviceID.
func (s *Store) UpdateRegister(deviceID, registerID string, patch RegisterConfig) error {
	return s.mutate(func(docs *Documents) ([]string, error) {
		d, ok := docs.Devices[deviceID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
		}
		idx := -1
		for i, r := range d.Registers {
			if r.RegisterID == registerID {
				idx = i
				break
			}
		}
		if idx == -1 {
			return nil, fmt.Errorf("%w: %s on device %s", ErrRegisterNotFound, registerID, deviceID)
		}
		patch.RegisterID = registerID
		regs := append([]RegisterConfig{}, d.Registers...)
		regs[idx] = patch
		d.Registers = regs
		if err := ValidateDevice(d); err != nil {
			return nil, err
		}
		docs.Devices[deviceID] = d
		return []string{devicesFileName}, nil
	})
}

// DeleteRegister removes registerID from deviceID.
func (s *Store) DeleteRegister(deviceID, registerID string) error {
	return s.mutate(func(docs *Documents) ([]string, error) {
		d, ok := docs.Devices[deviceID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
		}
		out := make([]RegisterConfig, 0, len(d.Registers))
		found := false
		for _, r := range d.Registers {
			if r.RegisterID == registerID {
				found = true
				continue
			}
			out = append(out, r)
		}
		if !found {
			return nil, fmt.Errorf("%w: %s on device %s", ErrRegisterNotFound, registerID, deviceID)
		}
		d.Registers = out
		docs.Devices[deviceID] = d
		return []string{devicesFileName}, nil
	})
}

// UpdateServerConfig validates and persists the northbound/network
// configuration. The caller (platform layer) restarts network interfaces
// out-of-band; the store itself never does I/O beyond the document write.
func (s *Store) UpdateServerConfig(cfg ServerConfig) error {
	return s.mutate(func(docs *Documents) ([]string, error) {
		if err := ValidateServer(cfg); err != nil {
			return nil, err
		}
		docs.Server = cfg
		return []string{serverFileName}, nil
	})
}

// UpdateLoggingConfig validates and persists the logging configuration.
func (s *Store) UpdateLoggingConfig(cfg LoggingConfig) error {
	return s.mutate(func(docs *Documents) ([]string, error) {
		if err := validate.Struct(cfg); err != nil {
			var errs ValidationErrors
			errs.add("%v", err)
			return nil, errs
		}
		docs.Logging = cfg
		return []string{loggingFileName}, nil
	})
}
