// Package polling drives the per-device read cycle: a ticker per device
// reads its configured registers through a Transport, decodes them with
// the modbus codec, and pushes the result onto a telemetry.Queue for the
// publishers to pick up. It is the direct generalization of the
// teacher's one-goroutine-per-bus ticker loop to one-goroutine-per-device
// with a richer health state machine.
package polling

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fieldgate/gateway/internal/config"
	"github.com/fieldgate/gateway/internal/logging"
	"github.com/fieldgate/gateway/internal/metrics"
	"github.com/fieldgate/gateway/internal/modbus"
	"github.com/fieldgate/gateway/internal/telemetry"
	"github.com/fieldgate/gateway/internal/transport"
)

// TransportFactory builds (or reuses) a Transport for a device, keyed
// however the caller wants devices grouped onto physical links (shared
// serial port, pooled TCP connection, ...).
type TransportFactory func(config.DeviceConfig) (transport.Transport, error)

// Engine runs one poll goroutine per device, reconciling against
// ConfigStore changes via its Signal and exposing each device's current
// HealthState for the control API's status endpoints.
type Engine struct {
	store      *config.Store
	transports TransportFactory
	queue      *telemetry.Queue

	mu      sync.Mutex
	workers map[string]*deviceWorker

	suspendMu sync.RWMutex
	suspended map[string]bool // device_id -> true while a BLE/control-API command owns the link

	probes *probeScheduler
}

func NewEngine(store *config.Store, transports TransportFactory, queue *telemetry.Queue) *Engine {
	return &Engine{
		store:      store,
		transports: transports,
		queue:      queue,
		workers:    make(map[string]*deviceWorker),
		suspended:  make(map[string]bool),
		probes:     newProbeScheduler(),
	}
}

// Run starts the engine and blocks, reconciling workers against
// ConfigStore's Signal, until ctx is canceled.
func (e *Engine) Run(ctx context.Context) {
	e.reconcile(ctx)
	signal := e.store.Subscribe()
	for {
		select {
		case <-ctx.Done():
			e.stopAll()
			return
		case <-signal.Changed():
			e.reconcile(ctx)
		}
	}
}

// reconcile starts a worker for every device not yet running and stops
// workers for devices that were removed, without disturbing devices that
// are unchanged — a config edit to one device never restarts another's
// poll cycle.
func (e *Engine) reconcile(ctx context.Context) {
	snap := e.store.Snapshot()

	e.mu.Lock()
	defer e.mu.Unlock()

	seen := make(map[string]bool, len(snap.Docs.Devices))
	for id, dev := range snap.Docs.Devices {
		seen[id] = true
		if w, ok := e.workers[id]; ok {
			w.updateConfig(dev)
			continue
		}
		w := newDeviceWorker(dev, e.queue, e)
		e.workers[id] = w
		w.start(ctx)
	}
	for id, w := range e.workers {
		if !seen[id] {
			w.stop()
			e.probes.Cancel(id)
			delete(e.workers, id)
		}
	}
}

func (e *Engine) stopAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, w := range e.workers {
		w.stop()
		e.probes.Cancel(id)
		delete(e.workers, id)
	}
}

// Suspend pauses polling for deviceID so a control-API command can use
// the link exclusively (spec §6's ble_command_active equivalent).
func (e *Engine) Suspend(deviceID string) {
	e.suspendMu.Lock()
	defer e.suspendMu.Unlock()
	e.suspended[deviceID] = true
}

func (e *Engine) Resume(deviceID string) {
	e.suspendMu.Lock()
	defer e.suspendMu.Unlock()
	delete(e.suspended, deviceID)
}

func (e *Engine) isSuspended(deviceID string) bool {
	e.suspendMu.RLock()
	defer e.suspendMu.RUnlock()
	return e.suspended[deviceID]
}

// DeviceStatus is the control API's view of one device's current state,
// covering every field the status RPCs must expose.
type DeviceStatus struct {
	DeviceID            string
	Health              HealthState
	RetryCount          int
	ConsecutiveFailures int
	SuccessRate         float64
	AvgResponseMs       float64
	LastSuccessAt       time.Time
	DisableDetail       string
}

func statusOf(id string, w *deviceWorker) DeviceStatus {
	return DeviceStatus{
		DeviceID:            id,
		Health:              w.health.State(),
		RetryCount:          w.health.RetryCount(),
		ConsecutiveFailures: w.health.ConsecutiveFailures(),
		SuccessRate:         w.health.SuccessRate(),
		AvgResponseMs:       w.health.AvgResponseMs(),
		LastSuccessAt:       w.health.LastSuccessAt(),
		DisableDetail:       w.health.DisableDetail(),
	}
}

func (e *Engine) Status(deviceID string) (DeviceStatus, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, ok := e.workers[deviceID]
	if !ok {
		return DeviceStatus{}, false
	}
	return statusOf(deviceID, w), true
}

func (e *Engine) AllStatus() []DeviceStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]DeviceStatus, 0, len(e.workers))
	for id, w := range e.workers {
		out = append(out, statusOf(id, w))
	}
	return out
}

// SetManualDisabled implements the control API's enable_device/
// disable_device operations.
func (e *Engine) SetManualDisabled(deviceID string, disabled bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, ok := e.workers[deviceID]
	if !ok {
		return false
	}
	w.health.SetManualDisabled(disabled)
	if !disabled {
		w.health.ResetTimeout()
	}
	e.probes.Cancel(deviceID)
	return true
}

// DisableDevice implements disable_device(id, reason_detail): same manual
// override as SetManualDisabled, plus the free-text detail the operator
// supplied, surfaced back on DeviceStatus.
func (e *Engine) DisableDevice(deviceID, detail string) bool {
	if !e.SetManualDisabled(deviceID, true) {
		return false
	}
	e.mu.Lock()
	w := e.workers[deviceID]
	e.mu.Unlock()
	w.health.SetDisableDetail(detail)
	return true
}

// EnableDevice implements enable_device(id, clear_metrics): clears any
// manual/timeout disable and, if requested, resets the success-rate and
// latency history rather than carrying it across the outage.
func (e *Engine) EnableDevice(deviceID string, clearMetrics bool) bool {
	if !e.SetManualDisabled(deviceID, false) {
		return false
	}
	if !clearMetrics {
		return true
	}
	e.mu.Lock()
	w := e.workers[deviceID]
	e.mu.Unlock()
	w.health.ResetMetrics()
	return true
}

// deviceWorker owns one device's ticker, transport, and health state.
type deviceWorker struct {
	engine *Engine
	queue  *telemetry.Queue
	health *deviceHealth

	mu     sync.Mutex
	device config.DeviceConfig
	trans  transport.Transport

	cancel context.CancelFunc
	done   chan struct{}
}

func newDeviceWorker(d config.DeviceConfig, queue *telemetry.Queue, engine *Engine) *deviceWorker {
	return &deviceWorker{
		engine: engine,
		queue:  queue,
		health: newDeviceHealth(d.RetryCount),
		device: d,
	}
}

func (w *deviceWorker) updateConfig(d config.DeviceConfig) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.device = d
}

func (w *deviceWorker) currentConfig() config.DeviceConfig {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.device
}

func (w *deviceWorker) start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.run(workerCtx)
}

func (w *deviceWorker) stop() {
	if w.cancel != nil {
		w.cancel()
		<-w.done
	}
}

func (w *deviceWorker) run(ctx context.Context) {
	defer close(w.done)
	d := w.currentConfig()
	ticker := time.NewTicker(time.Duration(d.RefreshRateMs) * time.Millisecond)
	defer ticker.Stop()

	logging.Info("device worker started", "device", d.DeviceID, "refresh_ms", d.RefreshRateMs)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.pollOnce(ctx)
		}
	}
}

func (w *deviceWorker) pollOnce(ctx context.Context) {
	d := w.currentConfig()

	if w.engine.isSuspended(d.DeviceID) {
		return
	}
	if !w.health.ShouldPoll() {
		return
	}

	trans, err := w.transport(d)
	if err != nil {
		logging.Warn("transport unavailable", "device", d.DeviceID, "error", err)
		w.health.RecordFailure()
		return
	}

	values := make([]telemetry.RegisterValue, 0, len(d.Registers))
	timeout := time.Duration(d.TimeoutMs) * time.Millisecond
	anyOK := false
	successDurations := make([]time.Duration, 0, len(d.Registers))
	for _, reg := range d.Registers {
		// Re-check suspension between registers, not just once before the
		// batch: a control-API command can claim the link mid-batch and the
		// remaining registers must be skipped rather than contending for it.
		if w.engine.isSuspended(d.DeviceID) {
			break
		}
		start := pollTimestamp()
		v, err := readRegister(ctx, trans, d, reg, timeout)
		elapsed := pollTimestamp().Sub(start)
		metrics.ReadDurationSeconds.WithLabelValues(d.DeviceID).Observe(elapsed.Seconds())
		if err != nil {
			logging.Error("register read failed", "device", d.DeviceID, "register", reg.RegisterID, "error", err)
			values = append(values, telemetry.RegisterValue{RegisterID: reg.RegisterID, Quality: telemetry.QualityFail})
			metrics.ReadsTotal.WithLabelValues("fail").Inc()
			continue
		}
		anyOK = true
		successDurations = append(successDurations, elapsed)
		values = append(values, telemetry.RegisterValue{RegisterID: reg.RegisterID, Value: v, Quality: telemetry.QualityOK})
		metrics.ReadsTotal.WithLabelValues("ok").Inc()
	}
	if len(successDurations) > 0 {
		w.health.RecordResponseTime(medianDuration(successDurations))
	}

	if anyOK {
		w.health.RecordSuccess()
		w.engine.probes.Cancel(d.DeviceID)
	} else {
		w.health.RecordFailure()
		if w.health.State() == HealthAutoDisabledTimeout {
			w.scheduleRecoveryProbe(d.DeviceID)
		}
	}
	w.reportHealthMetric()

	w.queue.Push(telemetry.Record{
		DeviceID:  d.DeviceID,
		Timestamp: pollTimestamp(),
		Status:    telemetry.DeriveStatus(values),
		Values:    values,
	})
}

// scheduleRecoveryProbe arms a one-shot pulse that clears AutoDisabledTimeout
// after probeInterval, giving an abandoned device one unattended chance to
// recover on its regular poll ticker rather than waiting forever for an
// operator to call enable_device.
func (w *deviceWorker) scheduleRecoveryProbe(deviceID string) {
	w.engine.probes.SchedulePulse(deviceID, func() {
		w.health.ResetTimeout()
	})
}

// reportHealthMetric sets the single HealthState gauge series for this
// device to 1 and every other HealthState series to 0, so a dashboard can
// sum by state without a manual reset step.
func (w *deviceWorker) reportHealthMetric() {
	current := w.health.State()
	for _, s := range []HealthState{HealthEnabled, HealthAutoDisabledRetry, HealthAutoDisabledTimeout, HealthManualDisabled} {
		v := 0.0
		if s == current {
			v = 1.0
		}
		metrics.DeviceHealthState.WithLabelValues(w.currentConfig().DeviceID, string(s)).Set(v)
	}
}

// pollTimestamp is isolated so tests can stub it without reaching into
// the worker's internals.
var pollTimestamp = time.Now

func (w *deviceWorker) transport(d config.DeviceConfig) (transport.Transport, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.trans != nil {
		return w.trans, nil
	}
	t, err := w.engine.transports(d)
	if err != nil {
		return nil, err
	}
	w.trans = t
	return t, nil
}

// readRegister builds the request frame for reg and exchanges it over
// trans, retransmitting on failure up to d.RetryCount extra times (spec
// §4.4.1: "up to device.retry_count retransmits") before giving up.
func readRegister(ctx context.Context, trans transport.Transport, d config.DeviceConfig, reg config.RegisterConfig, timeout time.Duration) (any, error) {
	width, err := reg.DataType.WidthWords()
	if err != nil {
		return nil, err
	}

	var req []byte
	if d.Protocol == config.ProtocolRTU {
		req, err = modbus.BuildRTURequest(uint8(d.SlaveID), modbus.FunctionCode(reg.FunctionCode), uint16(reg.Address), width)
	} else {
		req, err = modbus.BuildTCPRequest(uint8(d.UnitID), modbus.FunctionCode(reg.FunctionCode), uint16(reg.Address), width)
	}
	if err != nil {
		return nil, err
	}

	attempts := d.RetryCount + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		v, err := exchangeAndDecode(trans, d, reg, req, timeout)
		if err == nil {
			return v, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// exchangeAndDecode performs a single request/response round trip and
// decodes it into an engineering value; readRegister calls it once per
// retransmit attempt.
func exchangeAndDecode(trans transport.Transport, d config.DeviceConfig, reg config.RegisterConfig, req []byte, timeout time.Duration) (any, error) {
	raw, err := trans.Exchange(req, timeout)
	if err != nil {
		return nil, err
	}

	var payload []byte
	if d.Protocol == config.ProtocolRTU {
		resp, err := modbus.ParseRTUResponse(raw)
		if err != nil {
			return nil, err
		}
		payload = resp.Data
	} else {
		resp, err := modbus.ParseTCPResponse(raw)
		if err != nil {
			return nil, err
		}
		payload = resp.Data
	}

	words, err := modbus.WordsFromRegisterBytes(payload)
	if err != nil {
		return nil, err
	}
	decoded, err := modbus.Decode(reg.DataType, words)
	if err != nil {
		return nil, err
	}
	if f, ok := decoded.(float64); ok {
		return modbus.ApplyScale(f, reg.EffectiveScale(), reg.Offset), nil
	}
	return decoded, nil
}

// medianDuration returns the median of a non-empty slice without
// mutating the caller's copy.
func medianDuration(ds []time.Duration) time.Duration {
	sorted := append([]time.Duration(nil), ds...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
