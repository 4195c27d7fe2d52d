// Package publish delivers completed telemetry records to the configured
// northbound servers: MQTT (default or customize mode, with an offline
// buffer), HTTP (retrying POST/PUT/PATCH, no persistent buffer), or both.
package publish

import (
	"context"

	"github.com/fieldgate/gateway/internal/config"
	"github.com/fieldgate/gateway/internal/logging"
	"github.com/fieldgate/gateway/internal/telemetry"
)

// Publisher watches a telemetry.Queue and fans each drained record out to
// whichever of MQTT/HTTP the server config selects, independently.
type Publisher struct {
	store *config.Store
	queue *telemetry.Queue

	mqtt *MQTTPublisher
	http *HTTPPublisher
}

func New(store *config.Store, queue *telemetry.Queue) *Publisher {
	return &Publisher{store: store, queue: queue}
}

// Run starts the selected publishers and blocks, draining the queue on
// every notification, until ctx is canceled.
func (p *Publisher) Run(ctx context.Context) error {
	protocol := p.store.Snapshot().Docs.Server.Protocol

	if protocol == config.ServerProtocolMQTT || protocol == config.ServerProtocolBoth {
		p.mqtt = NewMQTTPublisher(p.store)
		if err := p.mqtt.Start(ctx); err != nil {
			return err
		}
		defer p.mqtt.Close()
	}
	if protocol == config.ServerProtocolHTTP || protocol == config.ServerProtocolBoth {
		p.http = NewHTTPPublisher(p.store)
		p.http.Start(ctx)
		defer p.http.Close()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.queue.Notify():
			p.drain()
		}
	}
}

func (p *Publisher) drain() {
	for _, r := range p.queue.Drain() {
		if p.mqtt != nil {
			p.mqtt.Push(r)
		}
		if p.http != nil {
			p.http.Push(r)
		}
		if p.mqtt == nil && p.http == nil {
			logging.Warn("telemetry record produced but no publisher is configured", "device", r.DeviceID)
		}
	}
}

// SetCommandActive implements spec §6's ble_command_active for the
// publisher side: the MQTT publish ticks and buffer drains and the HTTP
// send loop pause while a control command owns the channel. MQTT
// auto-reconnect keeps running.
func (p *Publisher) SetCommandActive(active bool) {
	if p.mqtt != nil {
		p.mqtt.SetCommandActive(active)
	}
	if p.http != nil {
		p.http.SetCommandActive(active)
	}
}

// BufferedMQTTCount, MQTTDroppedCount and HTTPDroppedCount expose the offline-buffer/drop
// metrics spec §7 requires be user-visible via status RPCs.
func (p *Publisher) BufferedMQTTCount() int {
	if p.mqtt == nil {
		return 0
	}
	return p.mqtt.BufferedCount()
}

func (p *Publisher) MQTTDroppedCount() uint64 {
	if p.mqtt == nil {
		return 0
	}
	return p.mqtt.DroppedCount()
}

func (p *Publisher) HTTPDroppedCount() uint64 {
	if p.http == nil {
		return 0
	}
	return p.http.DroppedCount()
}
