package publish

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fieldgate/gateway/internal/config"
	"github.com/fieldgate/gateway/internal/logging"
	"github.com/fieldgate/gateway/internal/metrics"
	"github.com/fieldgate/gateway/internal/telemetry"
)

var httpRetryBackoff = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

// HTTPPublisher POSTs/PUTs/PATCHes the newest record per device once per
// configured interval. Unlike the MQTT publisher it carries no persistent
// buffer: a record that exhausts its retries is simply dropped, per spec.
type HTTPPublisher struct {
	store  *config.Store
	client *http.Client

	mu      sync.Mutex
	pending map[string]telemetry.Record

	commandActive atomic.Bool
	dropped       atomic.Uint64

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewHTTPPublisher(store *config.Store) *HTTPPublisher {
	return &HTTPPublisher{
		store:   store,
		pending: make(map[string]telemetry.Record),
	}
}

func (p *HTTPPublisher) SetCommandActive(active bool) {
	p.commandActive.Store(active)
}

func (p *HTTPPublisher) Start(ctx context.Context) {
	cfg := p.store.Snapshot().Docs.Server.HTTP
	p.client = &http.Client{Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond}

	interval := time.Duration(cfg.IntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}

	p.stop = make(chan struct{})
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
				p.tick(ctx)
			}
		}
	}()
}

func (p *HTTPPublisher) Push(r telemetry.Record) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending[r.DeviceID] = r
}

func (p *HTTPPublisher) tick(ctx context.Context) {
	if p.commandActive.Load() {
		return
	}
	records := p.takePending()
	if len(records) == 0 {
		return
	}
	cfg := p.store.Snapshot().Docs.Server.HTTP
	snap := p.store.Snapshot()
	for _, r := range records {
		if err := p.sendWithRetry(ctx, cfg, defaultModePayload(snap, r)); err != nil {
			p.dropped.Add(1)
			metrics.HTTPPublishDropsTotal.Inc()
			logging.Error("http publish exhausted retries, dropping record", "device", r.DeviceID, "error", err)
		}
	}
}

func (p *HTTPPublisher) takePending() []telemetry.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]telemetry.Record, 0, len(p.pending))
	for _, r := range p.pending {
		out = append(out, r)
	}
	p.pending = make(map[string]telemetry.Record)
	return out
}

func (p *HTTPPublisher) sendWithRetry(ctx context.Context, cfg config.HTTPConfig, payload map[string]any) error {
	attempts := cfg.Retry
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := httpRetryBackoff[min(attempt-1, len(httpRetryBackoff)-1)]
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := p.send(ctx, cfg, payload); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

func (p *HTTPPublisher) send(ctx context.Context, cfg config.HTTPConfig, payload map[string]any) error {
	body, contentType, err := encodeBody(cfg.BodyFormat, payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, cfg.Method, cfg.EndpointURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("http non-2xx status %d", resp.StatusCode)
	}
	return nil
}

func encodeBody(format string, payload map[string]any) ([]byte, string, error) {
	if format == "form" {
		values := url.Values{}
		for k, v := range payload {
			values.Set(k, fmt.Sprintf("%v", v))
		}
		return []byte(values.Encode()), "application/x-www-form-urlencoded", nil
	}
	return mustJSON(payload), "application/json", nil
}

func (p *HTTPPublisher) DroppedCount() uint64 { return p.dropped.Load() }

func (p *HTTPPublisher) Close() {
	if p.stop != nil {
		close(p.stop)
	}
	p.wg.Wait()
}
