// Package types defines the collaborator interfaces the loader consumes.
package types

// ConfigProvider supplies the user's query preferences.
// Values are raw text as stored; the request layer validates them.
type ConfigProvider interface {
	MinMagnitude() string
	OrderBy() string
}

// ConnectivityMonitor reports whether the device is online.
type ConnectivityMonitor interface {
	IsConnected() bool
}

// ConnectivityFunc adapts a plain function to ConnectivityMonitor.
type ConnectivityFunc func() bool

// IsConnected implements ConnectivityMonitor.
func (f ConnectivityFunc) IsConnected() bool {
	return f()
}

// StaticConfig is a fixed ConfigProvider.
type StaticConfig struct {
	MinMag string
	Order  string
}

// MinMagnitude implements ConfigProvider.
func (c StaticConfig) MinMagnitude() string {
	return c.MinMag
}

// OrderBy implements ConfigProvider.
func (c StaticConfig) OrderBy() string {
	return c.Order
}
