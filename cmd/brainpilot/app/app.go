// Package app wires the headset, server link, drone and session core
// into a running pilot process.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mindfly/brainpilot/internal/admin"
	"github.com/mindfly/brainpilot/internal/drone/tello"
	"github.com/mindfly/brainpilot/internal/neuro"
	"github.com/mindfly/brainpilot/internal/neuro/cyton"
	"github.com/mindfly/brainpilot/internal/neuro/synthetic"
	"github.com/mindfly/brainpilot/internal/serverlink"
	"github.com/mindfly/brainpilot/internal/session"
	"github.com/mindfly/brainpilot/internal/storage"
)

const storageDir = "data"

// Run assembles the pilot from config and drives one session to
// completion.
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	registry := prometheus.NewRegistry()

	store, err := createStorage(&config.Storage)
	if err != nil {
		return fmt.Errorf("creating storage: %w", err)
	}
	defer store.Close()

	source, err := createSource(&config.Sensor, logger)
	if err != nil {
		return fmt.Errorf("creating sensor source: %w", err)
	}

	sink, err := tello.New(tello.Config{
		Addr:              config.Drone.Addr,
		DispatchTimeout:   config.Drone.DispatchTimeout.Std(),
		KeepaliveInterval: config.Drone.KeepaliveInterval.Std(),
		AutoTakeoff:       config.Drone.AutoTakeoff,
	}, tello.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("creating drone link: %w", err)
	}

	relay := &statusRelay{}
	link, err := serverlink.New(serverlink.Config{
		URL:            config.Server.URL,
		ChannelCount:   channelCount(&config.Sensor),
		ConnectTimeout: config.Server.ConnectTimeout.Std(),
		SendBuffer:     config.Server.SendBuffer,
		BackoffBase:    config.Server.BackoffBase.Std(),
		BackoffMax:     config.Server.BackoffMax.Std(),
	},
		serverlink.WithLogger(logger),
		serverlink.WithMetrics(serverlink.NewMetrics(registry)),
		serverlink.WithStatusFunc(relay.observe),
	)
	if err != nil {
		return fmt.Errorf("creating server link: %w", err)
	}

	sessionID, err := store.CreateSession(ctx, uuid.NewString(), source.Device(), source.DeviceID(), config.Drone.Addr, config.Sensor)
	if err != nil {
		return fmt.Errorf("creating session record: %w", err)
	}

	core := session.New(source, sink, link,
		session.WithLogger(logger),
		session.WithMetrics(session.NewMetrics(registry)),
		session.WithPolicy(session.Policy{
			ConfidenceThreshold: config.Session.ConfidenceThreshold,
			StalenessDeadline:   config.Session.StalenessDeadline.Std(),
		}),
		session.WithDispatchTimeout(config.Drone.DispatchTimeout.Std()),
		session.WithRecorder(storage.NewSessionRecorder(store, sessionID)),
		session.WithRecordBatchSize(config.Session.RecordBatchSize),
	)
	relay.bind(core)

	adminDone := startAdmin(ctx, config, core, registry, logger)

	err = core.Run(ctx)

	if adminDone != nil {
		if aErr := <-adminDone; aErr != nil {
			logger.Error(aErr.Error())
		}
	}
	return err
}

func startAdmin(ctx context.Context, config *Config, core *session.Core, registry *prometheus.Registry, logger *slog.Logger) <-chan error {
	if !config.Admin.Enabled {
		return nil
	}

	srv := admin.New(config.Admin.Addr, core.Publisher(), registry, admin.WithLogger(logger))
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	return done
}

func createSource(config *SensorConfig, logger *slog.Logger) (neuro.Source, error) {
	switch config.Type {
	case SensorCyton:
		return cyton.New(config.Cyton, cyton.WithLogger(logger))

	case SensorSynthetic:
		return synthetic.New(config.Synthetic), nil

	default:
		return nil, fmt.Errorf("unknown sensor type '%s'", config.Type)
	}
}

func channelCount(config *SensorConfig) int {
	switch config.Type {
	case SensorCyton:
		if config.Cyton.Channels > 0 {
			return config.Cyton.Channels
		}
		return cyton.DefaultChannels

	case SensorSynthetic:
		if config.Synthetic.Channels > 0 {
			return config.Synthetic.Channels
		}
		return synthetic.DefaultChannels
	}
	return 0
}

// DataDirectory resolves the flight history directory from config,
// relative to the working directory.
func DataDirectory(config *StorageConfig) (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting current working directory: %w", err)
	}

	if config.DataDirectory != "" {
		return filepath.Join(wd, config.DataDirectory), nil
	}
	return filepath.Join(wd, storageDir), nil
}

func createStorage(config *StorageConfig) (storage.Store, error) {
	dir, err := DataDirectory(config)
	if err != nil {
		return nil, err
	}

	stat, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("storage directory '%s' does not exist: %w", dir, err)
		}
		return nil, fmt.Errorf("checking storage directory: %w", err)
	}
	if !stat.IsDir() {
		return nil, fmt.Errorf("invalid storage directory '%s'", dir)
	}

	dbPath := filepath.Join(dir, fmt.Sprintf("flight_%s.sqlite", time.Now().UTC().Format("20060102_150405")))
	return storage.NewSqliteStore(dbPath), nil
}

// statusRelay forwards server link state changes into the session core.
// The link is constructed before the core, so the target is bound late.
type statusRelay struct {
	mu   sync.Mutex
	core *session.Core
}

func (r *statusRelay) bind(core *session.Core) {
	r.mu.Lock()
	r.core = core
	r.mu.Unlock()
}

func (r *statusRelay) observe(state serverlink.ConnState, err error) {
	r.mu.Lock()
	core := r.core
	r.mu.Unlock()
	if core == nil {
		return
	}

	var reason string
	if err != nil {
		reason = err.Error()
	}

	switch state {
	case serverlink.StateConnecting:
		core.SetServerStatus(session.LinkStatus{State: session.LinkConnecting, Reason: reason})
	case serverlink.StateConnected:
		core.SetServerStatus(session.LinkStatus{State: session.LinkConnected})
	case serverlink.StateDegraded:
		core.SetServerStatus(session.LinkStatus{State: session.LinkDegraded, Reason: reason})
	case serverlink.StateFailed:
		core.SetServerStatus(session.LinkStatus{State: session.LinkFailed, Reason: reason})
	}
}
