package transport

import (
	"fmt"
	"net"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/fieldgate/gateway/internal/logging"
	"github.com/fieldgate/gateway/internal/metrics"
)

const (
	tcpPoolCapacity  = 3
	tcpIdleTimeout   = 30 * time.Second
	tcpMaxConnAge    = 180 * time.Second
	tcpMaintenanceEvery = 10 * time.Second
)

// tcpConn is one pooled TCP connection plus the bookkeeping needed to
// evict it for idleness or age.
type tcpConn struct {
	key      string
	conn     net.Conn
	mu       sync.Mutex
	opened   time.Time
	lastUsed time.Time
}

// TCPPool hands out a shared *tcpConn per host:port, capped at
// tcpPoolCapacity entries with LRU eviction when full, and independently
// reaps entries that have sat idle past tcpIdleTimeout or aged past
// tcpMaxConnAge regardless of capacity pressure.
type TCPPool struct {
	mu      sync.Mutex
	entries *lru.Cache[string, *tcpConn]

	stop chan struct{}
	once sync.Once
}

// NewTCPPool starts the pool's maintenance ticker immediately.
func NewTCPPool() *TCPPool {
	cache, _ := lru.NewWithEvict[string, *tcpConn](tcpPoolCapacity, func(key string, c *tcpConn) {
		logging.Debug("tcp pool evicted by capacity", "key", key)
		metrics.TCPPoolEvictionsTotal.Inc()
		_ = c.conn.Close()
	})
	p := &TCPPool{entries: cache, stop: make(chan struct{})}
	go p.maintain()
	return p
}

func poolKey(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}

// Get returns the pooled connection for host:port, dialing a new one if
// none exists or the cached one has gone stale.
func (p *TCPPool) Get(host string, port int, dialTimeout time.Duration) (*tcpConn, error) {
	key := poolKey(host, port)

	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.entries.Get(key); ok {
		if time.Since(c.opened) < tcpMaxConnAge {
			c.mu.Lock()
			c.lastUsed = time.Now()
			c.mu.Unlock()
			metrics.TCPPoolAcquiresTotal.WithLabelValues("reused").Inc()
			return c, nil
		}
		logging.Debug("tcp pool connection aged out", "key", key)
		p.entries.Remove(key) // triggers the eviction callback, which closes c.conn and counts it
	}

	conn, err := net.DialTimeout("tcp", key, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConnectTimeout, key, err)
	}
	now := time.Now()
	c := &tcpConn{key: key, conn: conn, opened: now, lastUsed: now}
	p.entries.Add(key, c)
	metrics.TCPPoolAcquiresTotal.WithLabelValues("dialed").Inc()
	return c, nil
}

func (p *TCPPool) maintain() {
	ticker := time.NewTicker(tcpMaintenanceEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.reapStale()
		case <-p.stop:
			return
		}
	}
}

func (p *TCPPool) reapStale() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, key := range p.entries.Keys() {
		c, ok := p.entries.Peek(key)
		if !ok {
			continue
		}
		c.mu.Lock()
		idle := time.Since(c.lastUsed)
		age := time.Since(c.opened)
		c.mu.Unlock()
		if idle > tcpIdleTimeout || age > tcpMaxConnAge {
			logging.Debug("tcp pool reaped connection", "key", key, "idle", idle, "age", age)
			p.entries.Remove(key) // triggers the eviction callback, which closes c.conn and counts it
		}
	}
}

// Close stops maintenance and closes every pooled connection via the
// eviction callback that Purge triggers for each remaining entry.
func (p *TCPPool) Close() {
	p.once.Do(func() { close(p.stop) })
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries.Purge()
}

// TCPTransport exchanges MBAP-framed requests over one pooled connection.
type TCPTransport struct {
	pool    *TCPPool
	host    string
	port    int
	timeout time.Duration
}

func NewTCPTransport(pool *TCPPool, host string, port int, timeout time.Duration) *TCPTransport {
	return &TCPTransport{pool: pool, host: host, port: port, timeout: timeout}
}

func (t *TCPTransport) Exchange(req []byte, timeout time.Duration) ([]byte, error) {
	c, err := t.pool.Get(t.host, t.port, t.timeout)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	if _, err := c.conn.Write(req); err != nil {
		_ = c.conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	header := make([]byte, 7)
	if _, err := readFull(c.conn, header); err != nil {
		_ = c.conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrReadTimeout, err)
	}
	remaining := int(header[4])<<8 | int(header[5])
	body := make([]byte, remaining-1)
	if _, err := readFull(c.conn, body); err != nil {
		_ = c.conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrReadTimeout, err)
	}
	c.lastUsed = time.Now()
	return append(header, body...), nil
}

func readFull(r net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (t *TCPTransport) Close() error { return nil }
