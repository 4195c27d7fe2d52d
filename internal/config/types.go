// Package config owns the gateway's authoritative, crash-safe configuration:
// devices, registers, and server/protocol settings.
package config

import "fmt"

// DataType is the closed set of decodable Modbus value encodings. Width is
// expressed in 16-bit words.
type DataType string

const (
	DataTypeInt16  DataType = "INT16"
	DataTypeUint16 DataType = "UINT16"
	DataTypeBool   DataType = "BOOL"
	DataTypeBinary DataType = "BINARY"

	DataTypeInt32BE    DataType = "INT32_BE"
	DataTypeInt32LE    DataType = "INT32_LE"
	DataTypeInt32BEBS  DataType = "INT32_BE_BS"
	DataTypeInt32LEBS  DataType = "INT32_LE_BS"
	DataTypeUint32BE   DataType = "UINT32_BE"
	DataTypeUint32LE   DataType = "UINT32_LE"
	DataTypeUint32BEBS DataType = "UINT32_BE_BS"
	DataTypeUint32LEBS DataType = "UINT32_LE_BS"
	DataTypeFloat32BE   DataType = "FLOAT32_BE"
	DataTypeFloat32LE   DataType = "FLOAT32_LE"
	DataTypeFloat32BEBS DataType = "FLOAT32_BE_BS"
	DataTypeFloat32LEBS DataType = "FLOAT32_LE_BS"

	DataTypeInt64BE    DataType = "INT64_BE"
	DataTypeInt64LE    DataType = "INT64_LE"
	DataTypeInt64BEBS  DataType = "INT64_BE_BS"
	DataTypeInt64LEBS  DataType = "INT64_LE_BS"
	DataTypeUint64BE   DataType = "UINT64_BE"
	DataTypeUint64LE   DataType = "UINT64_LE"
	DataTypeUint64BEBS DataType = "UINT64_BE_BS"
	DataTypeUint64LEBS DataType = "UINT64_LE_BS"
	DataTypeDouble64BE   DataType = "DOUBLE64_BE"
	DataTypeDouble64LE   DataType = "DOUBLE64_LE"
	DataTypeDouble64BEBS DataType = "DOUBLE64_BE_BS"
	DataTypeDouble64LEBS DataType = "DOUBLE64_LE_BS"
)

// widthWords is the closed set; used for validation and for the width table.
var widthWords = map[DataType]uint16{
	DataTypeInt16: 1, DataTypeUint16: 1, DataTypeBool: 1, DataTypeBinary: 1,

	DataTypeInt32BE: 2, DataTypeInt32LE: 2, DataTypeInt32BEBS: 2, DataTypeInt32LEBS: 2,
	DataTypeUint32BE: 2, DataTypeUint32LE: 2, DataTypeUint32BEBS: 2, DataTypeUint32LEBS: 2,
	DataTypeFloat32BE: 2, DataTypeFloat32LE: 2, DataTypeFloat32BEBS: 2, DataTypeFloat32LEBS: 2,

	DataTypeInt64BE: 4, DataTypeInt64LE: 4, DataTypeInt64BEBS: 4, DataTypeInt64LEBS: 4,
	DataTypeUint64BE: 4, DataTypeUint64LE: 4, DataTypeUint64BEBS: 4, DataTypeUint64LEBS: 4,
	DataTypeDouble64BE: 4, DataTypeDouble64LE: 4, DataTypeDouble64BEBS: 4, DataTypeDouble64LEBS: 4,
}

// WidthWords returns the register width (in 16-bit words) for d, or an error
// if d is not one of the 28 known variants.
func (d DataType) WidthWords() (uint16, error) {
	w, ok := widthWords[d]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedDataType, d)
	}
	return w, nil
}

// Valid reports whether d is one of the closed set of 28 variants.
func (d DataType) Valid() bool {
	_, ok := widthWords[d]
	return ok
}

// Protocol is the device transport variant.
type Protocol string

const (
	ProtocolRTU Protocol = "RTU"
	ProtocolTCP Protocol = "TCP"
)

// DeviceConfig is the stable identity and polling contract for one field
// device. Exactly one of the RTU/TCP field groups is meaningful, selected by
// Protocol.
type DeviceConfig struct {
	DeviceID      string   `json:"device_id" validate:"required,len=6,hexadecimal"`
	DeviceName    string   `json:"device_name" validate:"required"`
	Protocol      Protocol `json:"protocol" validate:"required,oneof=RTU TCP"`
	RefreshRateMs int      `json:"refresh_rate_ms" validate:"required,min=100"`
	TimeoutMs     int      `json:"timeout_ms" validate:"required,min=1"`
	RetryCount    int      `json:"retry_count" validate:"min=0,max=10"`

	// RTU transport fields.
	SerialPort string `json:"serial_port,omitempty"`
	SlaveID    int    `json:"slave_id,omitempty" validate:"omitempty,min=1,max=247"`
	BaudRate   int    `json:"baud_rate,omitempty"`
	DataBits   int    `json:"data_bits,omitempty"`
	Parity     string `json:"parity,omitempty"`
	StopBits   int    `json:"stop_bits,omitempty"`

	// TCP transport fields.
	Host   string `json:"host,omitempty"`
	Port   int    `json:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	UnitID int    `json:"unit_id,omitempty" validate:"omitempty,min=1,max=247"`

	Registers []RegisterConfig `json:"registers"`
}

// ExclusionKey identifies the transport-serialization group this device
// belongs to: RTU devices sharing a serial port must never have concurrent
// requests outstanding.
func (d DeviceConfig) ExclusionKey() string {
	if d.Protocol == ProtocolRTU {
		return "rtu:" + d.SerialPort
	}
	return fmt.Sprintf("tcp:%s:%d", d.Host, d.Port)
}

// RegisterConfig is one decodable value owned by exactly one device.
type RegisterConfig struct {
	RegisterID        string   `json:"register_id" validate:"required"`
	RegisterName      string   `json:"register_name" validate:"required"`
	FunctionCode      int      `json:"function_code" validate:"required,min=1,max=4"`
	Address           int      `json:"address" validate:"min=0,max=65535"`
	DataType          DataType `json:"data_type" validate:"required"`
	RefreshOverrideMs int      `json:"refresh_override_ms,omitempty"`
	Scale             float64  `json:"scale"`
	Offset            float64  `json:"offset"`
	Unit              string   `json:"unit,omitempty"`
	Description       string   `json:"description,omitempty"`
}

// EffectiveScale returns Scale, defaulting to 1.0 when unset (zero value).
func (r RegisterConfig) EffectiveScale() float64 {
	if r.Scale == 0 {
		return 1.0
	}
	return r.Scale
}

// CommunicationMode is the network interface family in use.
type CommunicationMode string

const (
	CommEthernet CommunicationMode = "ETH"
	CommWifi     CommunicationMode = "WIFI"
)

// ServerProtocol selects which northbound publishers are active.
type ServerProtocol string

const (
	ServerProtocolMQTT ServerProtocol = "mqtt"
	ServerProtocolHTTP ServerProtocol = "http"
	ServerProtocolBoth ServerProtocol = "both"
)

// WifiConfig holds WiFi association settings; opaque to the core, consumed
// by the out-of-scope network-link manager.
type WifiConfig struct {
	SSID       string `json:"ssid,omitempty"`
	Passphrase string `json:"passphrase,omitempty"`
}

// EthernetConfig holds the static/DHCP triplet for the wired interface.
type EthernetConfig struct {
	DHCP    bool   `json:"dhcp"`
	Address string `json:"address,omitempty"`
	Netmask string `json:"netmask,omitempty"`
	Gateway string `json:"gateway,omitempty"`
}

// CustomTopic is one entry of MQTT customize-mode: a named topic carrying a
// subset of registers at its own interval.
type CustomTopic struct {
	Topic       string   `json:"topic" validate:"required"`
	RegisterIDs []string `json:"register_ids" validate:"required,min=1"`
	Interval    string   `json:"interval" validate:"required"`
}

// MQTTDefaultMode is the "all registers of a device in one topic" mode.
type MQTTDefaultMode struct {
	TopicPublish string `json:"topic_publish" validate:"required"`
	Interval     string `json:"interval" validate:"required"`
}

// MQTTCustomizeMode is the "named topics, independent register subsets and
// intervals" mode.
type MQTTCustomizeMode struct {
	CustomTopics []CustomTopic `json:"custom_topics"`
}

// MQTTConfig describes the MQTT northbound server and its publish modes.
type MQTTConfig struct {
	BrokerURL         string            `json:"broker_url" validate:"required"`
	ClientIDSource    string            `json:"client_id_source,omitempty"` // used verbatim as the client id ("mac" is not resolved to a hardware address); empty means "gateway-" plus a random suffix
	PersistentSession bool              `json:"persistent_session"`
	TLS               bool              `json:"tls"`
	Username          string            `json:"username,omitempty"`
	Password          string            `json:"password,omitempty"`
	Mode              string            `json:"mode" validate:"required,oneof=default customize"`
	DefaultMode       MQTTDefaultMode   `json:"default_mode"`
	CustomizeMode     MQTTCustomizeMode `json:"customize_mode"`
	OfflineBufferSize int               `json:"offline_buffer_size"`
}

// EffectiveOfflineBufferSize returns OfflineBufferSize, defaulting to the
// spec's target of 100.
func (m MQTTConfig) EffectiveOfflineBufferSize() int {
	if m.OfflineBufferSize <= 0 {
		return 100
	}
	return m.OfflineBufferSize
}

// HTTPConfig describes the northbound HTTP publisher.
type HTTPConfig struct {
	EndpointURL string            `json:"endpoint_url" validate:"required"`
	Method      string            `json:"method" validate:"required,oneof=POST PUT PATCH"`
	Headers     map[string]string `json:"headers,omitempty"`
	BodyFormat  string            `json:"body_format" validate:"required,oneof=json form"`
	TimeoutMs   int               `json:"timeout_ms" validate:"required,min=1"`
	Retry       int               `json:"retry" validate:"min=0,max=10"`
	IntervalMs  int               `json:"interval_ms" validate:"required,min=1"`
}

// ServerConfig is the northbound/network configuration; the enclosing
// system restarts network interfaces out-of-band after a mutation.
type ServerConfig struct {
	Communication CommunicationMode `json:"communication" validate:"required,oneof=ETH WIFI"`
	Wifi          WifiConfig        `json:"wifi"`
	Ethernet      EthernetConfig    `json:"ethernet"`
	Protocol      ServerProtocol    `json:"protocol" validate:"required,oneof=mqtt http both"`
	MQTT          MQTTConfig        `json:"mqtt_config"`
	HTTP          HTTPConfig        `json:"http_config"`
}

// LoggingConfig controls the ambient structured-logging surface.
type LoggingConfig struct {
	Level         string          `json:"level" validate:"omitempty,oneof=debug info warn error"`
	Modules       map[string]bool `json:"modules,omitempty"`
	RetentionDays int             `json:"retention,omitempty"`
	IntervalSec   int             `json:"interval,omitempty"`
	RTCTimestamps bool            `json:"rtc_timestamps"`
}

// DefaultLoggingConfig is substituted when logging.json is absent, empty, or
// corrupt.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{Level: "info", RetentionDays: 7, IntervalSec: 60}
}

// DefaultServerConfig is substituted when server_config.json is absent,
// empty, or corrupt.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Communication: CommEthernet,
		Ethernet:      EthernetConfig{DHCP: true},
		Protocol:      ServerProtocolMQTT,
		MQTT: MQTTConfig{
			Mode:              "default",
			OfflineBufferSize: 100,
		},
	}
}

// Documents is the full set of documents the store persists.
type Documents struct {
	Devices map[string]DeviceConfig `json:"devices"` // keyed by device_id
	Server  ServerConfig            `json:"server"`
	Logging LoggingConfig           `json:"logging"`
}

func emptyDocuments() Documents {
	return Documents{
		Devices: map[string]DeviceConfig{},
		Server:  DefaultServerConfig(),
		Logging: DefaultLoggingConfig(),
	}
}
