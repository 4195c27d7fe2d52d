package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func startEchoServer(t *testing.T) (host string, port int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				buf := make([]byte, 1024)
				for {
					n, err := c.Read(buf)
					if err != nil {
						return
					}
					_, _ = c.Write(buf[:n])
				}
			}(conn)
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func TestTCPPoolReusesConnection(t *testing.T) {
	host, port := startEchoServer(t)
	pool := NewTCPPool()
	defer pool.Close()

	c1, err := pool.Get(host, port, time.Second)
	require.NoError(t, err)
	c2, err := pool.Get(host, port, time.Second)
	require.NoError(t, err)
	require.Same(t, c1, c2)
}

func TestTCPPoolCapacityEvictsOldest(t *testing.T) {
	pool := NewTCPPool()
	defer pool.Close()

	var hosts []string
	var ports []int
	for i := 0; i < tcpPoolCapacity+1; i++ {
		h, p := startEchoServer(t)
		hosts = append(hosts, h)
		ports = append(ports, p)
		_, err := pool.Get(h, p, time.Second)
		require.NoError(t, err)
	}

	key := poolKey(hosts[0], ports[0])
	_, ok := pool.entries.Peek(key)
	require.False(t, ok, "oldest connection should have been evicted once capacity exceeded")
}
