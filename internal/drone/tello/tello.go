// Package tello implements the drone sink for a DJI/Ryze Tello speaking
// the UDP text command protocol (SDK mode).
package tello

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mindfly/brainpilot/internal/drone"
)

const Device = "tello"

// Fixed translation distances in centimetres. The interpretation service
// expresses intent, not magnitude, so translations use a constant step.
const (
	translateStep = 100
	verticalStep  = 50
)

// Dialer opens the UDP connection to the drone. Tests substitute a dialer
// pointed at a fake drone on loopback.
type Dialer func(addr string) (net.Conn, error)

// WithLogger sets the logger for the drone link.
func WithLogger(logger *slog.Logger) func(d *Drone) {
	return func(d *Drone) {
		d.logger = logger.With(
			slog.String("device", Device),
			slog.String("addr", d.cfg.Addr),
		)
	}
}

// WithDialer overrides how the command connection is opened.
func WithDialer(dial Dialer) func(d *Drone) {
	return func(d *Drone) {
		d.dial = dial
	}
}

// Drone is a Tello command-mode client with bounded-deadline dispatch.
type Drone struct {
	cfg    Config
	logger *slog.Logger
	dial   Dialer

	mu   sync.Mutex // serializes command/reply round trips
	conn net.Conn

	up        atomic.Bool
	keepstop  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a Drone for the given configuration.
func New(cfg Config, options ...func(d *Drone)) (*Drone, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := Drone{
		cfg:      cfg,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		keepstop: make(chan struct{}),
	}
	d.dial = func(addr string) (net.Conn, error) {
		return net.Dial("udp", addr)
	}

	for _, option := range options {
		option(&d)
	}

	return &d, nil
}

// Connect opens the command link, enters SDK mode and optionally launches
// the drone.
func (d *Drone) Connect(ctx context.Context) error {
	conn, err := d.dial(d.cfg.Addr)
	if err != nil {
		return &drone.DispatchError{Kind: drone.DispatchLinkDown, Err: err}
	}

	d.mu.Lock()
	d.conn = conn
	d.mu.Unlock()

	// Enter SDK mode. The firmware replies "ok" once per session.
	if err := d.roundTrip(ctx, "command", d.cfg.DispatchTimeout); err != nil {
		d.mu.Lock()
		d.conn = nil
		d.mu.Unlock()
		_ = conn.Close()
		return err
	}

	d.up.Store(true)
	d.logger.Info("drone link established")

	if d.cfg.AutoTakeoff {
		if err := d.roundTrip(ctx, "takeoff", DefaultTakeoffTimeout); err != nil {
			return fmt.Errorf("takeoff: %w", err)
		}
		d.logger.Info("drone airborne")
	}

	if d.cfg.KeepaliveInterval > 0 {
		d.wg.Add(1)
		go d.keepalive()
	}

	return nil
}

// Dispatch translates and sends one movement command. It completes or
// fails within the configured dispatch deadline; a timed-out command is
// dropped, never retried.
func (d *Drone) Dispatch(ctx context.Context, cmd drone.Command) error {
	if cmd.IsEmergencyStop() {
		return d.emergency()
	}
	return d.roundTrip(ctx, commandFor(cmd.Movement), d.cfg.DispatchTimeout)
}

// Status reports the drone link health.
func (d *Drone) Status() drone.LinkHealth {
	if d.up.Load() {
		return drone.LinkUp
	}
	return drone.LinkDown
}

// Close tears down the command link.
func (d *Drone) Close() error {
	var err error
	d.closeOnce.Do(func() {
		close(d.keepstop)
		d.up.Store(false)

		d.mu.Lock()
		conn := d.conn
		d.conn = nil
		d.mu.Unlock()

		if conn != nil {
			err = conn.Close()
		}
		d.wg.Wait()
	})
	return err
}

// emergency cuts the motors. The write is fire-and-forget: waiting on a
// reply would delay the one command that must never be delayed.
func (d *Drone) emergency() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn == nil {
		return &drone.DispatchError{Kind: drone.DispatchLinkDown}
	}

	// The previous round trip may have left an expired deadline behind;
	// the write must not fail against it.
	if err := d.conn.SetWriteDeadline(time.Now().Add(d.cfg.DispatchTimeout)); err != nil {
		return &drone.DispatchError{Kind: drone.DispatchLinkDown, Err: err}
	}

	if _, err := d.conn.Write([]byte("emergency")); err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return &drone.DispatchError{Kind: drone.DispatchTimeout, Err: err}
		}
		d.up.Store(false)
		return &drone.DispatchError{Kind: drone.DispatchLinkDown, Err: err}
	}
	return nil
}

// roundTrip sends one command string and waits for the "ok"/"error" reply
// within the deadline.
func (d *Drone) roundTrip(ctx context.Context, command string, timeout time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn == nil {
		return &drone.DispatchError{Kind: drone.DispatchLinkDown}
	}

	deadline := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	if err := d.conn.SetDeadline(deadline); err != nil {
		return &drone.DispatchError{Kind: drone.DispatchLinkDown, Err: err}
	}

	if _, err := d.conn.Write([]byte(command)); err != nil {
		d.up.Store(false)
		return &drone.DispatchError{Kind: drone.DispatchLinkDown, Err: err}
	}

	buf := make([]byte, 1024)
	n, err := d.conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return &drone.DispatchError{Kind: drone.DispatchTimeout, Err: err}
		}
		d.up.Store(false)
		return &drone.DispatchError{Kind: drone.DispatchLinkDown, Err: err}
	}

	reply := strings.TrimSpace(string(buf[:n]))
	if reply != "ok" {
		return &drone.DispatchError{Kind: drone.DispatchRejected, Reason: reply}
	}
	return nil
}

// keepalive pings the SDK session so the firmware does not auto-land an
// idle drone.
func (d *Drone) keepalive() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.keepstop:
			return
		case <-ticker.C:
			if err := d.roundTrip(context.Background(), "command", d.cfg.DispatchTimeout); err != nil {
				d.logger.Warn(fmt.Sprintf("keepalive failed: %s", err.Error()))
			}
		}
	}
}

// commandFor maps a movement to its Tello command string.
func commandFor(m drone.Movement) string {
	switch m.Kind {
	case drone.Hover:
		return "stop"
	case drone.Ascend:
		return fmt.Sprintf("up %d", verticalStep)
	case drone.Descend:
		return fmt.Sprintf("down %d", verticalStep)
	case drone.Yaw:
		if m.Angle < 0 {
			return fmt.Sprintf("ccw %d", int(math.Abs(m.Angle)))
		}
		return fmt.Sprintf("cw %d", int(m.Angle))
	case drone.Pitch:
		if m.Angle < 0 {
			return fmt.Sprintf("back %d", translateStep)
		}
		return fmt.Sprintf("forward %d", translateStep)
	case drone.Roll:
		if m.Angle < 0 {
			return fmt.Sprintf("left %d", translateStep)
		}
		return fmt.Sprintf("right %d", translateStep)
	case drone.Land:
		return "land"
	default:
		return "stop"
	}
}
