package app

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mindfly/brainpilot/internal/neuro/cyton"
	"github.com/mindfly/brainpilot/internal/neuro/synthetic"
	"github.com/mindfly/brainpilot/internal/session"
)

const (
	SensorCyton     = "cyton"
	SensorSynthetic = "synthetic"

	defaultAdminAddr = "127.0.0.1:7070"
)

// Duration wraps time.Duration for human-readable YAML values like "250ms".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", raw, err)
	}

	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config represents the main application configuration
type Config struct {
	Settings SettingsConfig `yaml:"settings"`
	Sensor   SensorConfig   `yaml:"sensor"`
	Server   ServerConfig   `yaml:"server"`
	Drone    DroneConfig    `yaml:"drone"`
	Session  SessionConfig  `yaml:"session"`
	Admin    AdminConfig    `yaml:"admin"`
	Storage  StorageConfig  `yaml:"storage"`
}

// SettingsConfig represents global application settings
type SettingsConfig struct {
	LogLevel string `yaml:"logLevel"`
}

// SensorConfig selects and configures the headset adapter
type SensorConfig struct {
	Type      string           `yaml:"type"`
	Cyton     cyton.Config     `yaml:"cyton"`
	Synthetic synthetic.Config `yaml:"synthetic"`
}

// ServerConfig represents the interpretation service session settings
type ServerConfig struct {
	URL            string   `yaml:"url"`
	ConnectTimeout Duration `yaml:"connectTimeout"`
	SendBuffer     int      `yaml:"sendBuffer"`
	BackoffBase    Duration `yaml:"backoffBase"`
	BackoffMax     Duration `yaml:"backoffMax"`
}

// DroneConfig represents the drone link settings
type DroneConfig struct {
	Addr              string   `yaml:"addr"`
	DispatchTimeout   Duration `yaml:"dispatchTimeout"`
	KeepaliveInterval Duration `yaml:"keepaliveInterval"`
	AutoTakeoff       bool     `yaml:"autoTakeoff"`
}

// SessionConfig represents the safety policy settings
type SessionConfig struct {
	ConfidenceThreshold float64  `yaml:"confidenceThreshold"`
	StalenessDeadline   Duration `yaml:"stalenessDeadline"`
	RecordBatchSize     int      `yaml:"recordBatchSize"`
}

// AdminConfig represents the local observability endpoint settings
type AdminConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// StorageConfig represents flight history storage settings
type StorageConfig struct {
	DataDirectory string `yaml:"dataDirectory"`
}

// LoadConfig reads and validates the YAML configuration at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading configuration: %w", err)
	}

	var config Config
	if err = yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err = config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) validate() error {
	switch c.Sensor.Type {
	case SensorCyton, SensorSynthetic:
	case "":
		return fmt.Errorf("sensor type must be specified")
	default:
		return fmt.Errorf("unknown sensor type '%s'", c.Sensor.Type)
	}

	if c.Server.URL == "" {
		return fmt.Errorf("server URL must be specified")
	}

	if c.Session.ConfidenceThreshold == 0 {
		c.Session.ConfidenceThreshold = session.DefaultConfidenceThreshold
	}
	if c.Session.ConfidenceThreshold < 0 || c.Session.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold must be within [0, 1]")
	}
	if c.Session.StalenessDeadline == 0 {
		c.Session.StalenessDeadline = Duration(session.DefaultStalenessDeadline)
	}
	if c.Session.RecordBatchSize == 0 {
		c.Session.RecordBatchSize = session.DefaultRecordBatchSize
	}

	if c.Admin.Enabled && c.Admin.Addr == "" {
		c.Admin.Addr = defaultAdminAddr
	}

	return nil
}
