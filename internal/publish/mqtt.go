package publish

import (
	"context"
	"crypto/tls"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/fieldgate/gateway/internal/config"
	"github.com/fieldgate/gateway/internal/logging"
	"github.com/fieldgate/gateway/internal/telemetry"
)

const (
	mqttConnectTimeout    = 30 * time.Second
	mqttMaxReconnectDelay = 60 * time.Second
)

// MQTTPublisher owns the northbound MQTT client: default-mode aggregation,
// customize-mode per-topic timers, reconnect-with-backoff, and the bounded
// offline buffer that survives a broker outage. Grounded on the teacher's
// MsgBroker (same Connect/Publish/OnConnect shape), generalized for the two
// publish modes and an explicit offline buffer instead of fire-and-forget.
type MQTTPublisher struct {
	store  *config.Store
	client mqtt.Client
	buffer *offlineBuffer

	mu      sync.Mutex
	pending map[string]telemetry.Record // latest record per device this interval window

	commandActive atomic.Bool

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewMQTTPublisher(store *config.Store) *MQTTPublisher {
	return &MQTTPublisher{
		store:   store,
		pending: make(map[string]telemetry.Record),
	}
}

// SetCommandActive mirrors spec §6's ble_command_active: while true the
// publisher skips its publish ticks and offline-buffer drains. The paho
// client's own auto-reconnect is not paused.
func (p *MQTTPublisher) SetCommandActive(active bool) {
	p.commandActive.Store(active)
}

func (p *MQTTPublisher) Start(ctx context.Context) error {
	cfg := p.store.Snapshot().Docs.Server.MQTT
	p.buffer = newOfflineBuffer(cfg.EffectiveOfflineBufferSize())

	clientID := cfg.ClientIDSource
	if clientID == "" {
		clientID = "gateway-" + uuid.NewString()[:8]
	}

	opts := mqtt.NewClientOptions().AddBroker(cfg.BrokerURL)
	opts.SetClientID(clientID)
	opts.SetCleanSession(!cfg.PersistentSession)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(mqttMaxReconnectDelay)
	opts.SetConnectTimeout(mqttConnectTimeout)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	if cfg.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts.OnConnect = func(c mqtt.Client) {
		logging.Info("mqtt connected", "broker", cfg.BrokerURL)
		p.drainBuffer(cfg)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		logging.Warn("mqtt connection lost", "error", err)
	}

	p.client = mqtt.NewClient(opts)
	token := p.client.Connect()
	done := make(chan struct{})
	go func() { token.Wait(); close(done) }()
	select {
	case <-done:
		if err := token.Error(); err != nil {
			return err
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	p.stop = make(chan struct{})
	switch cfg.Mode {
	case "customize":
		for _, topic := range cfg.CustomizeMode.CustomTopics {
			p.startCustomTopicLoop(topic)
		}
	default:
		p.startDefaultModeLoop(cfg.DefaultMode)
	}
	return nil
}

// Push hands a completed record to the publisher; it is held until the
// next interval tick rather than published immediately. Only the latest
// record per device within the window is kept; earlier ones are replaced.
func (p *MQTTPublisher) Push(r telemetry.Record) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending[r.DeviceID] = r
}

func (p *MQTTPublisher) startDefaultModeLoop(mode config.MQTTDefaultMode) {
	interval, err := parseInterval(mode.Interval)
	if err != nil || interval <= 0 {
		interval = time.Second
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				p.publishDefaultTick(mode.TopicPublish)
			}
		}
	}()
}

func (p *MQTTPublisher) publishDefaultTick(topic string) {
	if p.commandActive.Load() {
		return
	}
	snap := p.store.Snapshot()
	for _, r := range p.takePending() {
		payload := defaultModePayload(snap, r)
		p.publishOrBuffer(topic, payload, r)
	}
}

func (p *MQTTPublisher) startCustomTopicLoop(topic config.CustomTopic) {
	interval, err := parseInterval(topic.Interval)
	if err != nil || interval <= 0 {
		interval = time.Second
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				p.publishCustomTick(topic)
			}
		}
	}()
}

func (p *MQTTPublisher) publishCustomTick(topic config.CustomTopic) {
	if p.commandActive.Load() {
		return
	}
	snap := p.store.Snapshot()
	for _, r := range p.takePending() {
		payload, ok := customTopicPayload(snap, r, topic.RegisterIDs)
		if !ok {
			continue
		}
		p.publishOrBuffer(topic.Topic, payload, r)
	}
}

func (p *MQTTPublisher) takePending() []telemetry.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]telemetry.Record, 0, len(p.pending))
	for _, r := range p.pending {
		out = append(out, r)
	}
	p.pending = make(map[string]telemetry.Record)
	return out
}

func (p *MQTTPublisher) publishOrBuffer(topic string, payload map[string]any, r telemetry.Record) {
	if !p.client.IsConnected() {
		p.buffer.Push(r)
		return
	}
	if err := p.publishJSON(topic, payload); err != nil {
		logging.Error("mqtt publish failed, buffering", "topic", topic, "device", r.DeviceID, "error", err)
		p.buffer.Push(r)
	}
}

func (p *MQTTPublisher) publishJSON(topic string, payload map[string]any) error {
	token := p.client.Publish(topic, 1, false, mustJSON(payload))
	if !token.WaitTimeout(5 * time.Second) {
		return context.DeadlineExceeded
	}
	return token.Error()
}

// drainBuffer flushes every record buffered while the broker was
// unreachable, oldest first, onto the default-mode topic.
func (p *MQTTPublisher) drainBuffer(cfg config.MQTTConfig) {
	if p.commandActive.Load() {
		return
	}
	records := p.buffer.Drain()
	if len(records) == 0 {
		return
	}
	snap := p.store.Snapshot()
	logging.Info("draining mqtt offline buffer", "count", len(records))
	for _, r := range records {
		payload := defaultModePayload(snap, r)
		if err := p.publishJSON(cfg.DefaultMode.TopicPublish, payload); err != nil {
			logging.Error("offline buffer drain failed, re-buffering", "device", r.DeviceID, "error", err)
			p.buffer.Push(r)
		}
	}
}

func (p *MQTTPublisher) BufferedCount() int   { return p.buffer.Len() }
func (p *MQTTPublisher) DroppedCount() uint64 { return p.buffer.Dropped() }

func (p *MQTTPublisher) Close() {
	if p.stop != nil {
		close(p.stop)
	}
	p.wg.Wait()
	if p.client != nil {
		p.client.Disconnect(250)
	}
}
