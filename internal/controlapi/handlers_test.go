package controlapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldgate/gateway/internal/config"
	"github.com/fieldgate/gateway/internal/polling"
	"github.com/fieldgate/gateway/internal/publish"
	"github.com/fieldgate/gateway/internal/telemetry"
	"github.com/fieldgate/gateway/internal/transport"
)

func testDeviceConfig(id string) config.DeviceConfig {
	return config.DeviceConfig{
		DeviceID:      id,
		DeviceName:    "dev",
		Protocol:      config.ProtocolRTU,
		RefreshRateMs: 1000,
		TimeoutMs:     100,
		SerialPort:    "/dev/ttyFAKE0",
		SlaveID:       1,
		BaudRate:      9600,
		Registers: []config.RegisterConfig{
			{RegisterID: "temp", RegisterName: "temperature", FunctionCode: 3, DataType: config.DataTypeUint16},
		},
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store := config.NewStore(t.TempDir())
	require.NoError(t, store.Load())
	require.NoError(t, store.CreateDevice(testDeviceConfig("0a1b2c")))
	require.NoError(t, store.UpdateServerConfig(config.ServerConfig{
		Communication: config.CommEthernet,
		Protocol:      config.ServerProtocolHTTP,
		HTTP: config.HTTPConfig{
			EndpointURL: "http://127.0.0.1:0",
			Method:      "POST",
			BodyFormat:  "json",
			TimeoutMs:   100,
			IntervalMs:  1000,
		},
	}))

	noopFactory := polling.TransportFactory(func(config.DeviceConfig) (transport.Transport, error) {
		return nil, assertNever{}
	})
	engine := polling.NewEngine(store, noopFactory, telemetry.NewQueue())
	pub := publish.New(store, telemetry.NewQueue())

	return New(store, engine, pub)
}

// assertNever is a transport.Transport that is never actually called in
// these tests: the engine isn't run, only its status/enable/disable
// surface is exercised through the control API.
type assertNever struct{}

func (assertNever) Error() string { return "transport should not be invoked in controlapi tests" }

func TestCreateDeviceRejectsDuplicateID(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(testDeviceConfig("0a1b2c"))
	req := httptest.NewRequest(http.MethodPost, "/devices/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateDeviceAcceptsNewID(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(testDeviceConfig("abcdef"))
	req := httptest.NewRequest(http.MethodPost, "/devices/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestDeleteUnknownDeviceReturnsNotFound(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodDelete, "/devices/ffffff/", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetDeviceStatusUnknownReturnsNotFound(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/devices/ffffff/status", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEnableDisableDeviceRoundTrip(t *testing.T) {
	s := newTestServer(t)
	// Run the engine briefly so the device's worker exists before any
	// enable/disable call touches it.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.engine.Run(ctx)
	require.Eventually(t, func() bool {
		_, ok := s.engine.Status("0a1b2c")
		return ok
	}, time.Second, 5*time.Millisecond)

	disableReq := httptest.NewRequest(http.MethodPost, "/devices/0a1b2c/disable",
		bytes.NewReader([]byte(`{"reason_detail":"sensor swap"}`)))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, disableReq)
	require.Equal(t, http.StatusOK, rec.Code)

	st, ok := s.engine.Status("0a1b2c")
	require.True(t, ok)
	assert.Equal(t, polling.HealthManualDisabled, st.Health)
	assert.Equal(t, "sensor swap", st.DisableDetail)

	enableReq := httptest.NewRequest(http.MethodPost, "/devices/0a1b2c/enable",
		bytes.NewReader([]byte(`{"clear_metrics":true}`)))
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, enableReq)
	require.Equal(t, http.StatusOK, rec.Code)

	st, ok = s.engine.Status("0a1b2c")
	require.True(t, ok)
	assert.Equal(t, polling.HealthEnabled, st.Health)
	assert.Empty(t, st.DisableDetail)
}

func TestListDeviceStatusIncludesPublisherCounts(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/devices/", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var out map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	assert.Contains(t, out, "mqtt_buffered_count")
	assert.Contains(t, out, "http_dropped_count")
}
