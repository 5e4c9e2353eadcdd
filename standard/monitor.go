package standard

import (
	"context"
	"net"
	"sync/atomic"
	"time"
)

// StaticMonitor is a ConnectivityMonitor whose state is set by the host.
// The zero value reports offline.
type StaticMonitor struct {
	online atomic.Bool
}

// NewStaticMonitor creates a StaticMonitor with the given initial state.
func NewStaticMonitor(online bool) *StaticMonitor {
	m := &StaticMonitor{}
	m.online.Store(online)
	return m
}

// Set updates the reported state.
func (m *StaticMonitor) Set(online bool) {
	m.online.Store(online)
}

// IsConnected implements types.ConnectivityMonitor.
func (m *StaticMonitor) IsConnected() bool {
	return m.online.Load()
}

// DialMonitor reports online when a TCP connection to Address succeeds within Timeout.
// Behind a proxy, Address should be the proxy: the feed host itself may be unreachable
// while fetches through the proxy still succeed.
type DialMonitor struct {
	Address string        // host:port, e.g. "earthquake.usgs.gov:443"
	Timeout time.Duration // default 2s
}

// IsConnected implements types.ConnectivityMonitor.
func (m DialMonitor) IsConnected() bool {
	timeout := m.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", m.Address)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
