package cyton

import "fmt"

const (
	// DefaultChannels is the channel count of a Cyton board. A board with
	// a Daisy module doubles this.
	DefaultChannels = 16

	// MaxChannels is the largest channel count any supported board emits.
	MaxChannels = 32
)

// Config holds the Cyton board connection settings.
type Config struct {
	// Port is the serial device the board dongle is attached to.
	Port string `yaml:"port"`

	// Channels is the number of values expected per frame.
	Channels int `yaml:"channels"`
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("cyton: serial port must be specified")
	}
	if c.Channels == 0 {
		c.Channels = DefaultChannels
	}
	if c.Channels < 1 || c.Channels > MaxChannels {
		return fmt.Errorf("cyton: invalid channel count %d", c.Channels)
	}
	return nil
}
