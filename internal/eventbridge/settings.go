package eventbridge

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/kingrea/lattice-waves/internal/config"
)

// Intake defaults. Events are small JSON documents, so the body limit is
// tight and one timeout covers reads and writes.
const (
	DefaultHost               = "127.0.0.1"
	DefaultPort               = 8765
	DefaultMaxBodyBytes int64 = 64 << 10
	DefaultTimeout            = 10 * time.Second
)

// Settings configures the intake server.
type Settings struct {
	Enabled      bool
	Host         string
	Port         int
	MaxBodyBytes int64
	Timeout      time.Duration
}

// SettingsFromConfig reads the bridge section of the project config.
// LATTICE_WAVES_BRIDGE_* overrides are already applied by config.
func SettingsFromConfig(cfg *config.Config) Settings {
	if cfg == nil {
		return Settings{Enabled: true}.withDefaults()
	}
	bridge := cfg.Settings.Bridge
	return Settings{
		Enabled:      bridge.Enabled,
		Host:         bridge.Host,
		Port:         bridge.Port,
		MaxBodyBytes: bridge.MaxBodyBytes,
	}.withDefaults()
}

func (s Settings) withDefaults() Settings {
	s.Host = strings.TrimSpace(s.Host)
	if s.Host == "" {
		s.Host = DefaultHost
	}
	if s.Port < 0 || s.Port > 65535 {
		s.Port = DefaultPort
	}
	if s.MaxBodyBytes <= 0 {
		s.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if s.Timeout <= 0 {
		s.Timeout = DefaultTimeout
	}
	return s
}

// Address returns host:port. Port 0 asks the kernel for a free port.
func (s Settings) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}
