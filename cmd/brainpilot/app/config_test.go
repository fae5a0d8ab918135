package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindfly/brainpilot/internal/neuro/synthetic"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
settings:
  logLevel: debug
sensor:
  type: cyton
  cyton:
    port: /dev/ttyUSB0
    channels: 16
server:
  url: ws://127.0.0.1:9000/session
  connectTimeout: 5s
  sendBuffer: 64
  backoffBase: 250ms
  backoffMax: 10s
drone:
  addr: 192.168.10.1:8889
  dispatchTimeout: 200ms
  keepaliveInterval: 10s
session:
  confidenceThreshold: 0.7
  stalenessDeadline: 150ms
admin:
  enabled: true
storage:
  dataDirectory: flights
`)

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", config.Settings.LogLevel)
	assert.Equal(t, SensorCyton, config.Sensor.Type)
	assert.Equal(t, "/dev/ttyUSB0", config.Sensor.Cyton.Port)
	assert.Equal(t, "ws://127.0.0.1:9000/session", config.Server.URL)
	assert.Equal(t, 5*time.Second, config.Server.ConnectTimeout.Std())
	assert.Equal(t, 250*time.Millisecond, config.Server.BackoffBase.Std())
	assert.Equal(t, 200*time.Millisecond, config.Drone.DispatchTimeout.Std())
	assert.Equal(t, 0.7, config.Session.ConfidenceThreshold)
	assert.Equal(t, 150*time.Millisecond, config.Session.StalenessDeadline.Std())
	assert.Equal(t, defaultAdminAddr, config.Admin.Addr) // applied default
	assert.Equal(t, "flights", config.Storage.DataDirectory)
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
sensor:
  type: synthetic
server:
  url: ws://127.0.0.1:9000/session
`)

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 0.6, config.Session.ConfidenceThreshold)
	assert.Equal(t, 150*time.Millisecond, config.Session.StalenessDeadline.Std())
	assert.NotZero(t, config.Session.RecordBatchSize)
	assert.False(t, config.Admin.Enabled)
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{
			name: "missing sensor type",
			body: "server:\n  url: ws://h/s\n",
		},
		{
			name: "unknown sensor type",
			body: "sensor:\n  type: eeg9000\nserver:\n  url: ws://h/s\n",
		},
		{
			name: "missing server url",
			body: "sensor:\n  type: synthetic\n",
		},
		{
			name: "bad duration",
			body: "sensor:\n  type: synthetic\nserver:\n  url: ws://h/s\n  connectTimeout: fast\n",
		},
		{
			name: "confidence out of range",
			body: "sensor:\n  type: synthetic\nserver:\n  url: ws://h/s\nsession:\n  confidenceThreshold: 1.5\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestChannelCount(t *testing.T) {
	assert.Equal(t, 16, channelCount(&SensorConfig{Type: SensorCyton}))
	assert.Equal(t, 8, channelCount(&SensorConfig{
		Type:      SensorSynthetic,
		Synthetic: synthetic.Config{Channels: 8},
	}))
}
