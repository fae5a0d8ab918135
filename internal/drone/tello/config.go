package tello

import (
	"fmt"
	"time"
)

const (
	// DefaultAddr is the command port of a Tello in AP mode.
	DefaultAddr = "192.168.10.1:8889"

	// DefaultDispatchTimeout bounds a single command round trip.
	DefaultDispatchTimeout = 200 * time.Millisecond

	// DefaultKeepaliveInterval keeps the SDK session from idling out;
	// the firmware lands the drone after 15s without a command.
	DefaultKeepaliveInterval = 10 * time.Second

	// DefaultTakeoffTimeout bounds the takeoff reply, which arrives only
	// once the drone is airborne.
	DefaultTakeoffTimeout = 15 * time.Second
)

// Config holds the Tello connection settings.
type Config struct {
	// Addr is the UDP address of the drone's command port.
	Addr string `yaml:"addr"`

	// DispatchTimeout bounds a single movement command round trip.
	DispatchTimeout time.Duration `yaml:"dispatchTimeout"`

	// KeepaliveInterval is how often an idle link is pinged. Defaults to
	// DefaultKeepaliveInterval; a negative value disables the keepalive.
	KeepaliveInterval time.Duration `yaml:"keepaliveInterval"`

	// AutoTakeoff launches the drone as part of Connect.
	AutoTakeoff bool `yaml:"autoTakeoff"`
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.DispatchTimeout == 0 {
		c.DispatchTimeout = DefaultDispatchTimeout
	}
	if c.DispatchTimeout < 0 {
		return fmt.Errorf("tello: dispatch timeout must be positive")
	}
	if c.KeepaliveInterval == 0 {
		c.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if c.KeepaliveInterval < 0 {
		c.KeepaliveInterval = 0
	}
	return nil
}
