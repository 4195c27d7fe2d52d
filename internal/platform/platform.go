// Package platform is the narrow boundary between the gateway core and the
// host it runs on: wall/monotonic time, network interface state and DNS,
// the filesystem, and serial ports. ConfigStore and Transport already talk
// to the filesystem and to goburrow/serial directly (see DESIGN.md for why
// those two stay as direct dependencies rather than routed through here);
// Clock and Net get real interfaces and swappable implementations, and
// the control API server is their one caller.
package platform

import (
	"context"
	"fmt"
	"net"
	"time"
)

// Clock abstracts wall-clock and monotonic time so callers that need to
// reason about elapsed time don't reach for time.Now directly.
type Clock interface {
	NowWall() time.Time
	NowMonotonic() time.Time
}

type systemClock struct{}

// NewSystemClock returns the real OS clock.
func NewSystemClock() Clock { return systemClock{} }

func (systemClock) NowWall() time.Time { return time.Now() }

// NowMonotonic returns a time.Time carrying Go's monotonic reading; only
// Sub against another such value is meaningful, never the wall-clock
// fields.
func (systemClock) NowMonotonic() time.Time { return time.Now() }

// Net abstracts interface/link state and name resolution, the two host
// facts the control API's health check reports. The MQTT/HTTP publishers
// do not consult it.
type Net interface {
	IsOnline(iface string) bool
	Resolve(ctx context.Context, host string) ([]net.IP, error)
}

type systemNet struct {
	resolver *net.Resolver
}

// NewSystemNet returns the real OS network view.
func NewSystemNet() Net {
	return systemNet{resolver: net.DefaultResolver}
}

// IsOnline reports whether iface exists, is up, and holds at least one
// usable address. An empty iface checks whether any non-loopback interface
// on the host is up, which is the common case for a single-NIC gateway.
func (n systemNet) IsOnline(iface string) bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, ifi := range ifaces {
		if iface != "" && ifi.Name != iface {
			continue
		}
		if ifi.Flags&net.FlagUp == 0 || ifi.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := ifi.Addrs()
		if err != nil || len(addrs) == 0 {
			continue
		}
		return true
	}
	return false
}

func (n systemNet) Resolve(ctx context.Context, host string) ([]net.IP, error) {
	addrs, err := n.resolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}
	return addrs, nil
}
