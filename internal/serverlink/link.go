// Package serverlink manages the bidirectional session with the
// interpretation service: one websocket connection multiplexing outbound
// sample frames and inbound command frames, with automatic reconnection.
package serverlink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mindfly/brainpilot/internal/drone"
	"github.com/mindfly/brainpilot/internal/neuro"
)

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultSendBuffer     = 64
	DefaultBackoffBase    = 250 * time.Millisecond
	DefaultBackoffMax     = 10 * time.Second
)

var (
	// ErrVersionMismatch is returned when the service advertises an
	// incompatible protocol version. It is fatal; no reconnection is
	// attempted.
	ErrVersionMismatch = errors.New("serverlink: protocol version mismatch")

	// ErrBufferFull reports that enqueueing a sample evicted the oldest
	// queued one. The new sample is still queued.
	ErrBufferFull = errors.New("serverlink: send buffer full, oldest sample dropped")

	// ErrClosed is returned by ReceiveCommand once the link has shut down.
	ErrClosed = errors.New("serverlink: link closed")

	errHandshakeRejected = errors.New("serverlink: handshake rejected")
)

// ConnState is the link connection state reported to the status callback.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateConnected
	StateDegraded
	StateFailed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StatusFunc observes link state changes. Called from the link's own
// goroutine; implementations must not block.
type StatusFunc func(state ConnState, err error)

// Config holds the server session settings.
type Config struct {
	// URL is the websocket endpoint of the interpretation service.
	URL string `yaml:"url"`

	// ChannelCount is advertised in the handshake and must match the
	// headset's channel count.
	ChannelCount int `yaml:"-"`

	ConnectTimeout time.Duration `yaml:"connectTimeout"`

	// SendBuffer is the outbound sample buffer capacity.
	SendBuffer int `yaml:"sendBuffer"`

	BackoffBase time.Duration `yaml:"backoffBase"`
	BackoffMax  time.Duration `yaml:"backoffMax"`
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("serverlink: endpoint URL must be specified")
	}
	if c.ChannelCount <= 0 {
		return fmt.Errorf("serverlink: channel count must be positive")
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.SendBuffer == 0 {
		c.SendBuffer = DefaultSendBuffer
	}
	if c.SendBuffer < 1 {
		return fmt.Errorf("serverlink: send buffer must be positive")
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffMax == 0 {
		c.BackoffMax = DefaultBackoffMax
	}
	if c.BackoffBase > c.BackoffMax {
		return fmt.Errorf("serverlink: backoff base exceeds maximum")
	}
	return nil
}

// WithLogger sets the logger for the link.
func WithLogger(logger *slog.Logger) func(l *Link) {
	return func(l *Link) {
		l.logger = logger.With(slog.String("link", "server"), slog.String("url", l.cfg.URL))
	}
}

// WithMetrics attaches prometheus instruments to the link.
func WithMetrics(m *Metrics) func(l *Link) {
	return func(l *Link) {
		l.metrics = m
	}
}

// WithStatusFunc sets the state-change observer.
func WithStatusFunc(fn StatusFunc) func(l *Link) {
	return func(l *Link) {
		l.statusFn = fn
	}
}

// Link is one logical session with the interpretation service. Sample
// sequence numbering is owned by the sensor and passes through untouched;
// inbound command sequence tracking is per connection and resets on
// reconnect.
type Link struct {
	cfg       Config
	logger    *slog.Logger
	metrics   *Metrics
	statusFn  StatusFunc
	sessionID string

	dialer *websocket.Dialer

	queue     *sampleQueue
	inbound   chan drone.Command
	discarded atomic.Uint64

	running atomic.Bool
	done    chan struct{}
}

// New creates a Link for the given configuration.
func New(cfg Config, options ...func(l *Link)) (*Link, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	l := Link{
		cfg:       cfg,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		sessionID: uuid.NewString(),
		queue:     newSampleQueue(cfg.SendBuffer),
		inbound:   make(chan drone.Command, 16),
		done:      make(chan struct{}),
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.ConnectTimeout,
		},
	}

	for _, option := range options {
		option(&l)
	}

	return &l, nil
}

// SessionID returns the identifier advertised in the handshake.
func (l *Link) SessionID() string { return l.sessionID }

// SendSample enqueues a sample without blocking. ErrBufferFull is the
// counted, non-fatal signal that the oldest queued sample was evicted.
func (l *Link) SendSample(s neuro.Sample) error {
	evicted := l.queue.Push(s)
	if l.metrics != nil {
		l.metrics.samplesEnqueued.Inc()
		if evicted {
			l.metrics.samplesDropped.Inc()
		}
	}
	if evicted {
		return ErrBufferFull
	}
	return nil
}

// ReceiveCommand blocks until the next validated command arrives, the
// context is cancelled, or the link shuts down.
func (l *Link) ReceiveCommand(ctx context.Context) (drone.Command, error) {
	select {
	case <-ctx.Done():
		return drone.Command{}, ctx.Err()
	case <-l.done:
		return drone.Command{}, ErrClosed
	case cmd := <-l.inbound:
		return cmd, nil
	}
}

// DroppedSamples returns the total number of evicted outbound samples.
func (l *Link) DroppedSamples() uint64 { return l.queue.Dropped() }

// DiscardedCommands returns the total number of inbound frames discarded
// as out-of-order, duplicate or undecodable.
func (l *Link) DiscardedCommands() uint64 { return l.discarded.Load() }

// Run maintains the session until ctx is cancelled, reconnecting with
// exponential backoff and full jitter for as long as the session is
// active. A protocol version mismatch is fatal and returns immediately.
func (l *Link) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return fmt.Errorf("serverlink: link is already running")
	}
	defer close(l.done)

	bo := newBackoff(l.cfg.BackoffBase, l.cfg.BackoffMax)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		l.setStatus(StateConnecting, nil)

		conn, err := l.connect(ctx)
		if err != nil {
			if errors.Is(err, ErrVersionMismatch) {
				l.setStatus(StateFailed, err)
				return err
			}

			l.setStatus(StateDegraded, err)
			if l.metrics != nil {
				l.metrics.reconnectAttempts.Inc()
			}

			delay := bo.Next()
			l.logger.Warn(fmt.Sprintf("connect failed: %s", err.Error()),
				slog.Duration("retryIn", delay))

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}

		bo.Reset()
		l.setStatus(StateConnected, nil)
		if l.metrics != nil {
			l.metrics.connected.Set(1)
		}
		l.logger.Info("server session established", slog.String("sessionID", l.sessionID))

		err = l.serve(ctx, conn)
		_ = conn.Close()

		if l.metrics != nil {
			l.metrics.connected.Set(0)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		l.setStatus(StateDegraded, err)
		if l.metrics != nil {
			l.metrics.reconnectAttempts.Inc()
		}

		delay := bo.Next()
		l.logger.Warn("server session lost", slog.Duration("retryIn", delay))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (l *Link) setStatus(state ConnState, err error) {
	if l.statusFn != nil {
		l.statusFn(state, err)
	}
}

// connect dials the endpoint and performs the capability handshake.
func (l *Link) connect(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, l.cfg.ConnectTimeout)
	defer cancel()

	conn, resp, err := l.dialer.DialContext(dialCtx, l.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", l.cfg.URL, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	hello := frame{
		Type:            frameHello,
		ProtocolVersion: ProtocolVersion,
		SessionID:       l.sessionID,
		ChannelCount:    l.cfg.ChannelCount,
	}
	if err := conn.WriteJSON(hello); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("sending hello: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(l.cfg.ConnectTimeout))

	var accept frame
	if err := conn.ReadJSON(&accept); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("reading accept: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	if accept.Type != frameAccept {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: unexpected frame %q", errHandshakeRejected, accept.Type)
	}
	if accept.ProtocolVersion != ProtocolVersion {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: service speaks v%d, client speaks v%d",
			ErrVersionMismatch, accept.ProtocolVersion, ProtocolVersion)
	}

	return conn, nil
}

// serve pumps one established connection until it fails or ctx ends.
func (l *Link) serve(ctx context.Context, conn *websocket.Conn) error {
	stop := make(chan struct{})
	defer close(stop)

	errc := make(chan error, 2)

	go l.writeLoop(conn, stop, errc)
	go l.readLoop(conn, stop, errc)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errc:
		return err
	}
}

// writeLoop drains the outbound queue onto the connection.
func (l *Link) writeLoop(conn *websocket.Conn, stop <-chan struct{}, errc chan<- error) {
	for {
		s, ok := l.queue.Pop()
		if !ok {
			select {
			case <-stop:
				return
			case <-l.queue.ready:
				continue
			}
		}

		if err := conn.WriteJSON(sampleFrame(s)); err != nil {
			errc <- fmt.Errorf("writing sample %d: %w", s.Seq, err)
			return
		}
		if l.metrics != nil {
			l.metrics.samplesSent.Inc()
		}
	}
}

// readLoop decodes inbound command frames and enforces strictly
// increasing sequence numbers for this connection. Out-of-order and
// duplicate frames are discarded and counted, never delivered; this
// protects dispatch ordering against network retransmission.
func (l *Link) readLoop(conn *websocket.Conn, stop <-chan struct{}, errc chan<- error) {
	var lastSeq uint64

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			errc <- fmt.Errorf("reading frame: %w", err)
			return
		}

		if f.Type != frameCommand {
			continue
		}

		cmd, err := decodeCommand(f, time.Now())
		if err != nil {
			l.discard("decode")
			l.logger.Warn(fmt.Sprintf("discarding undecodable command: %s", err.Error()))
			continue
		}

		if cmd.Seq <= lastSeq {
			l.discard("out_of_order")
			continue
		}
		lastSeq = cmd.Seq

		if l.metrics != nil {
			l.metrics.commandsReceived.Inc()
		}

		select {
		case <-stop:
			return
		case l.inbound <- cmd:
		}
	}
}

func (l *Link) discard(reason string) {
	l.discarded.Add(1)
	if l.metrics != nil {
		l.metrics.commandsDiscarded.WithLabelValues(reason).Inc()
	}
}
