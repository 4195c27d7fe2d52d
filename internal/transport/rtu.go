package transport

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/goburrow/serial"

	"github.com/fieldgate/gateway/internal/config"
	"github.com/fieldgate/gateway/internal/logging"
)

// RTUTransport serializes all requests against one physical serial port.
// Devices sharing a bus share one RTUTransport instance because gatewayd's
// transport factory caches instances by serial port.
type RTUTransport struct {
	portName string
	cfg      serial.Config

	mu         sync.Mutex
	port       io.ReadWriteCloser
	backoff    time.Duration
	backoffMin time.Duration
	backoffMax time.Duration
	lastFrame  time.Time
	gap        time.Duration
}

// NewRTUTransport builds a transport for one serial device, not yet
// connected; the first Exchange call opens the port.
func NewRTUTransport(d config.DeviceConfig) *RTUTransport {
	return &RTUTransport{
		portName: d.SerialPort,
		cfg: serial.Config{
			Address:  d.SerialPort,
			BaudRate: d.BaudRate,
			DataBits: d.DataBits,
			StopBits: d.StopBits,
			Parity:   d.Parity,
			Timeout:  time.Duration(d.TimeoutMs) * time.Millisecond,
		},
		backoffMin: 200 * time.Millisecond,
		backoffMax: 5 * time.Second,
		gap:        interFrameGap(d.BaudRate),
	}
}

func (t *RTUTransport) ensureOpen() error {
	if t.port != nil {
		return nil
	}
	if t.backoff > 0 {
		time.Sleep(t.backoff)
	}
	p, err := serial.Open(&t.cfg)
	if err != nil {
		t.bumpBackoff()
		return fmt.Errorf("%w: %s: %v", ErrConnectTimeout, t.portName, err)
	}
	t.port = p
	t.backoff = 0
	return nil
}

func (t *RTUTransport) bumpBackoff() {
	if t.backoff == 0 {
		t.backoff = t.backoffMin
	} else {
		t.backoff *= 2
		if t.backoff > t.backoffMax {
			t.backoff = t.backoffMax
		}
	}
}

// Exchange holds the port mutex for the full request/response cycle, so
// two devices on the same bus never interleave frames.
func (t *RTUTransport) Exchange(req []byte, timeout time.Duration) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if wait := t.gap - time.Since(t.lastFrame); wait > 0 {
		time.Sleep(wait)
	}

	if err := t.ensureOpen(); err != nil {
		return nil, err
	}

	if _, err := t.port.Write(req); err != nil {
		t.closeLocked()
		t.bumpBackoff()
		return nil, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	resp, err := readRTUFrame(t.port, timeout)
	t.lastFrame = time.Now()
	if err != nil {
		t.closeLocked()
		t.bumpBackoff()
		return nil, fmt.Errorf("%w: %v", ErrReadTimeout, err)
	}
	return resp, nil
}

// readRTUFrame returns the bytes of a single Read call (at most 256), or
// an error once timeout elapses. It does not wait for inter-frame silence
// or for the expected response length, so a response that arrives split
// across several reads comes back truncated.
func readRTUFrame(r io.Reader, timeout time.Duration) ([]byte, error) {
	type result struct {
		buf []byte
		err error
	}
	ch := make(chan result, 1)
	go func() {
		buf := make([]byte, 256)
		n, err := r.Read(buf)
		ch <- result{buf: buf[:n], err: err}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	select {
	case res := <-ch:
		return res.buf, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *RTUTransport) closeLocked() {
	if t.port != nil {
		_ = t.port.Close()
		t.port = nil
	}
}

func (t *RTUTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	logging.Debug("closing rtu transport", "port", t.portName)
	t.closeLocked()
	return nil
}
