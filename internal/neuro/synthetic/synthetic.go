// Package synthetic provides a headset source that generates plausible
// brain-wave samples without hardware, for development and testing.
package synthetic

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/mindfly/brainpilot/internal/neuro"
)

const (
	Device = "synthetic"

	// DefaultSampleRate is the emission rate in samples per second.
	DefaultSampleRate = 250

	DefaultChannels = 16
)

// Config holds generator settings.
type Config struct {
	Channels   int   `yaml:"channels"`
	SampleRate int   `yaml:"sampleRateHz"`
	Seed       int64 `yaml:"seed"`
}

// WithClock overrides the timestamp source, for tests.
func WithClock(now func() time.Time) func(g *Generator) {
	return func(g *Generator) {
		g.now = now
	}
}

// WithInterval overrides the emission interval, for tests that should not
// wait out the real sample rate.
func WithInterval(d time.Duration) func(g *Generator) {
	return func(g *Generator) {
		g.interval = d
	}
}

// Generator emits sine-plus-noise channel readings at the configured rate.
type Generator struct {
	cfg      Config
	interval time.Duration
	now      func() time.Time

	mu     sync.Mutex
	rand   *rand.Rand
	seq    uint64
	opened bool
}

// New creates a Generator. A zero Seed derives one from the wall clock.
func New(cfg Config, options ...func(g *Generator)) *Generator {
	if cfg.Channels == 0 {
		cfg.Channels = DefaultChannels
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = DefaultSampleRate
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	g := Generator{
		cfg:      cfg,
		interval: time.Second / time.Duration(cfg.SampleRate),
		now:      time.Now,
		rand:     rand.New(rand.NewSource(seed)),
	}

	for _, option := range options {
		option(&g)
	}

	return &g
}

func (g *Generator) Device() string   { return Device }
func (g *Generator) DeviceID() string { return fmt.Sprintf("synthetic-%dch", g.cfg.Channels) }

func (g *Generator) Open(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.opened = true
	return nil
}

func (g *Generator) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.opened = false
	return nil
}

// Next waits out one sample interval and returns the next generated sample.
func (g *Generator) Next(ctx context.Context) (neuro.Sample, error) {
	g.mu.Lock()
	opened := g.opened
	g.mu.Unlock()

	if !opened {
		return neuro.Sample{}, &neuro.SourceError{Kind: neuro.Disconnected}
	}

	timer := time.NewTimer(g.interval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return neuro.Sample{}, ctx.Err()
	case <-timer.C:
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.seq++
	channels := make([]float64, g.cfg.Channels)
	phase := float64(g.seq) / float64(g.cfg.SampleRate)
	for i := range channels {
		// 10 Hz alpha-band carrier per channel plus gaussian noise.
		channels[i] = math.Sin(2*math.Pi*10*phase+float64(i)) + g.rand.NormFloat64()*0.1
	}

	return neuro.Sample{
		Seq:       g.seq,
		Timestamp: g.now(),
		Channels:  channels,
	}, nil
}
