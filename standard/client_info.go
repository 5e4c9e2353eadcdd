package standard

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// RuntimeType represents how the client process is running.
type RuntimeType string

const (
	RuntimeSystemd    RuntimeType = "systemd"
	RuntimeDocker     RuntimeType = "docker"
	RuntimeStandalone RuntimeType = "standalone"
)

// ClientInfo identifies this client instance. It supplies the User-Agent
// sent with every feed request.
type ClientInfo struct {
	Name        string
	Version     string
	StartTime   time.Time
	RuntimeType RuntimeType
	GoVersion   string
	OS          string
	Arch        string
	BinaryPath  string
}

// AutoDetect creates ClientInfo with auto-detected runtime information.
func AutoDetect(name, version string) *ClientInfo {
	binaryPath, _ := os.Executable()
	if binaryPath != "" {
		if resolved, err := filepath.EvalSymlinks(binaryPath); err == nil {
			binaryPath = resolved
		}
	}

	return &ClientInfo{
		Name:        name,
		Version:     version,
		StartTime:   time.Now().UTC(),
		RuntimeType: detectRuntimeType(),
		GoVersion:   runtime.Version(),
		OS:          runtime.GOOS,
		Arch:        runtime.GOARCH,
		BinaryPath:  binaryPath,
	}
}

// UserAgent returns e.g. "quakefeed-client/1.0.0 (linux/amd64; docker)".
func (c *ClientInfo) UserAgent() string {
	name := c.Name
	if name == "" {
		name = "quakefeed-client"
	}
	version := c.Version
	if version == "" {
		version = "dev"
	}
	return fmt.Sprintf("%s/%s (%s/%s; %s)", name, version, c.OS, c.Arch, c.RuntimeType)
}

// Data returns the info as a flat map, suitable for structured log context.
func (c *ClientInfo) Data() map[string]interface{} {
	return map[string]interface{}{
		"name":        c.Name,
		"version":     c.Version,
		"pid":         os.Getpid(),
		"start_time":  c.StartTime.Format(time.RFC3339),
		"runtime":     string(c.RuntimeType),
		"go_version":  c.GoVersion,
		"platform":    c.OS + "/" + c.Arch,
		"binary_path": c.BinaryPath,
	}
}

// detectRuntimeType determines how the process is running.
func detectRuntimeType() RuntimeType {
	// systemd sets INVOCATION_ID for units
	if os.Getenv("INVOCATION_ID") != "" {
		return RuntimeSystemd
	}

	if _, err := os.Stat("/.dockerenv"); err == nil {
		return RuntimeDocker
	}
	if data, err := os.ReadFile("/proc/self/cgroup"); err == nil {
		cgroup := string(data)
		if strings.Contains(cgroup, "docker") || strings.Contains(cgroup, "containerd") {
			return RuntimeDocker
		}
	}

	return RuntimeStandalone
}
