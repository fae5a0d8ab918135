// Package cyton implements the headset source for an OpenBCI Cyton board
// streaming comma-separated channel frames over a serial port.
package cyton

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mindfly/brainpilot/internal/neuro"
)

const (
	// Device is the adapter type reported to the session.
	Device = "cyton"

	// ParseErrorsThreshold defines the number of consecutive parse errors
	// allowed before the link is considered broken.
	ParseErrorsThreshold = 5
)

// Opener produces the raw byte stream of the board. The default opens the
// configured serial port; tests substitute an in-memory reader.
type Opener func() (io.ReadCloser, error)

// WithLogger sets the logger for the board.
func WithLogger(logger *slog.Logger) func(b *Board) {
	return func(b *Board) {
		b.logger = logger.With(
			slog.String("device", Device),
			slog.String("deviceID", b.cfg.Port),
		)
	}
}

// WithOpener overrides how the board's byte stream is opened.
func WithOpener(open Opener) func(b *Board) {
	return func(b *Board) {
		b.open = open
	}
}

// WithParseErrorsThreshold sets the threshold for consecutive parse errors.
func WithParseErrorsThreshold(threshold uint8) func(b *Board) {
	return func(b *Board) {
		b.parseErrorsThreshold = threshold
	}
}

// Board reads channel frames from a Cyton board and produces samples in
// strictly increasing sequence order.
type Board struct {
	cfg  Config
	open Opener

	rc      io.ReadCloser
	samples chan neuro.Sample
	stop    chan struct{}
	seq     uint64

	mu      sync.Mutex
	failure error
	opened  bool
	wg      sync.WaitGroup

	parseErrorsThreshold uint8
	logger               *slog.Logger
}

// New creates a Board for the given configuration.
func New(cfg Config, options ...func(b *Board)) (*Board, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b := Board{
		cfg:                  cfg,
		logger:               slog.New(slog.NewTextHandler(io.Discard, nil)),
		parseErrorsThreshold: ParseErrorsThreshold,
	}
	b.open = func() (io.ReadCloser, error) {
		return os.Open(cfg.Port)
	}

	for _, option := range options {
		option(&b)
	}

	return &b, nil
}

func (b *Board) Device() string   { return Device }
func (b *Board) DeviceID() string { return b.cfg.Port }

// Open connects to the board and starts the frame reader. It may be called
// again after a Disconnected failure to resume the stream; sequence numbers
// continue from where they left off.
func (b *Board) Open(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.opened {
		return fmt.Errorf("cyton: board is already open")
	}

	rc, err := b.open()
	if err != nil {
		return &neuro.SourceError{Kind: neuro.Disconnected, Err: err}
	}

	b.rc = rc
	b.samples = make(chan neuro.Sample, 8)
	b.stop = make(chan struct{})
	b.failure = nil
	b.opened = true

	b.wg.Add(1)
	go b.readLoop(rc, b.samples, b.stop)

	b.logger.Info("headset stream opened", slog.Int("channels", b.cfg.Channels))
	return nil
}

// Next blocks until a sample is available, the context is cancelled, or the
// link fails.
func (b *Board) Next(ctx context.Context) (neuro.Sample, error) {
	b.mu.Lock()
	samples := b.samples
	b.mu.Unlock()

	if samples == nil {
		return neuro.Sample{}, &neuro.SourceError{Kind: neuro.Disconnected}
	}

	select {
	case <-ctx.Done():
		return neuro.Sample{}, ctx.Err()
	case s, ok := <-samples:
		if !ok {
			return neuro.Sample{}, b.failureErr()
		}
		return s, nil
	}
}

// Close releases the serial port. After Close the stream ends with a
// Disconnected error once buffered samples are drained. The stop channel
// releases a read loop parked on a full samples buffer; closing the
// reader alone cannot reach it there.
func (b *Board) Close() error {
	b.mu.Lock()
	rc := b.rc
	stop := b.stop
	b.rc = nil
	b.stop = nil
	b.opened = false
	b.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if rc == nil {
		return nil
	}

	err := rc.Close()
	b.wg.Wait()
	return err
}

func (b *Board) failureErr() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failure != nil {
		return b.failure
	}
	return &neuro.SourceError{Kind: neuro.Disconnected}
}

func (b *Board) fail(err error) {
	b.mu.Lock()
	if b.failure == nil {
		b.failure = err
	}
	b.opened = false
	b.mu.Unlock()
}

// readLoop scans frames off the serial stream, parses them and sends
// samples downstream. It terminates on read failure, when the stream
// closes underneath it, or when stop is closed while it waits on a full
// buffer.
func (b *Board) readLoop(r io.Reader, samples chan<- neuro.Sample, stop <-chan struct{}) {
	defer b.wg.Done()
	defer close(samples)

	var parseErrors uint8

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		channels, err := b.parseFrame(line)
		if err != nil {
			parseErrors++
			b.logger.Warn(fmt.Sprintf("error parsing frame: %s", err.Error()), slog.String("line", line))

			if parseErrors >= b.parseErrorsThreshold {
				b.fail(&neuro.SourceError{Kind: neuro.MalformedFrame, Err: err})
				return
			}
			continue
		}

		parseErrors = 0 // reset counter

		b.seq++
		select {
		case samples <- neuro.Sample{
			Seq:       b.seq,
			Timestamp: time.Now(),
			Channels:  channels,
		}:
		case <-stop:
			return
		}
	}

	if err := scanner.Err(); err != nil {
		b.fail(&neuro.SourceError{Kind: neuro.Disconnected, Err: err})
		return
	}
	b.fail(&neuro.SourceError{Kind: neuro.Disconnected})
}

// parseFrame parses one comma-separated channel frame.
func (b *Board) parseFrame(line string) ([]float64, error) {
	fields := strings.Split(line, ",")
	if len(fields) != b.cfg.Channels {
		return nil, fmt.Errorf("expected %d channels, got %d", b.cfg.Channels, len(fields))
	}

	channels := make([]float64, len(fields))
	for i, field := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid channel value at index %d: %w", i, err)
		}
		channels[i] = v
	}

	return channels, nil
}
