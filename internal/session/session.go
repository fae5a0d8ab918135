// Package session implements the streaming/control core: the state
// machine owning the sensor, server and drone links, the ingest and
// command pumps, the safety policy, and the published state snapshot.
package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/mindfly/brainpilot/internal/drone"
	"github.com/mindfly/brainpilot/internal/neuro"
)

const (
	// DefaultDispatchTimeout bounds one drone dispatch round trip.
	DefaultDispatchTimeout = 200 * time.Millisecond

	// DefaultRecordBatchSize is the number of samples buffered before a
	// recorder flush.
	DefaultRecordBatchSize = 100

	// sourceReopenInterval paces reopen attempts after the headset
	// disconnects.
	sourceReopenInterval = time.Second
)

// CommandLink is the server link surface the core drives. ReceiveCommand
// returns an error only on cancellation or link shutdown; transient
// transport failures are absorbed by the link's own reconnection.
type CommandLink interface {
	Run(ctx context.Context) error
	SendSample(s neuro.Sample) error
	ReceiveCommand(ctx context.Context) (drone.Command, error)
	DroppedSamples() uint64
	DiscardedCommands() uint64
}

// CommandOutcome is the fate of one received command.
type CommandOutcome string

const (
	OutcomeDispatched CommandOutcome = "dispatched"
	OutcomeRejected   CommandOutcome = "rejected"
	OutcomeDropped    CommandOutcome = "dropped"
)

// CommandRecord is the persisted history entry for one command.
type CommandRecord struct {
	Command   drone.Command
	Outcome   CommandOutcome
	Reason    string
	Timestamp time.Time
}

// Recorder persists session history. Recorder failures are logged and
// never affect the pipeline.
type Recorder interface {
	StoreSamples(ctx context.Context, samples []neuro.Sample) error
	StoreCommand(ctx context.Context, rec CommandRecord) error
}

type linkKind int

const (
	linkSensor linkKind = iota
	linkServer
	linkDrone
)

// WithLogger sets the logger for the core.
func WithLogger(logger *slog.Logger) func(c *Core) {
	return func(c *Core) {
		c.logger = logger.With(slog.String("component", "session"))
	}
}

// WithPolicy overrides the safety policy thresholds.
func WithPolicy(p Policy) func(c *Core) {
	return func(c *Core) {
		c.policy = p
	}
}

// WithMetrics attaches prometheus instruments to the core.
func WithMetrics(m *Metrics) func(c *Core) {
	return func(c *Core) {
		c.metrics = m
	}
}

// WithRecorder attaches a session history recorder.
func WithRecorder(r Recorder) func(c *Core) {
	return func(c *Core) {
		c.recorder = r
	}
}

// WithDispatchTimeout overrides the drone dispatch deadline.
func WithDispatchTimeout(d time.Duration) func(c *Core) {
	return func(c *Core) {
		c.dispatchTimeout = d
	}
}

// WithRecordBatchSize overrides the recorder flush threshold.
func WithRecordBatchSize(n int) func(c *Core) {
	return func(c *Core) {
		c.batchSize = n
	}
}

// Core owns the three links and runs the ingest and command pumps. One
// Core handles one session; it is not reusable after Run returns.
type Core struct {
	source neuro.Source
	sink   drone.Sink
	link   CommandLink

	policy          Policy
	dispatchTimeout time.Duration

	pub      *Publisher
	logger   *slog.Logger
	metrics  *Metrics
	recorder Recorder

	batchSize int
	batch     []neuro.Sample

	mu          sync.Mutex
	state       State
	links       [3]LinkStatus
	lastSample  *neuro.Sample
	lastCommand *drone.Command
	rejected    uint64
	dropped     uint64 // dispatch-side drops; the link counts its own
	lastErr     string
	fatal       error

	cancel   context.CancelFunc
	serverUp chan struct{}
}

// New creates a Core over the given links.
func New(source neuro.Source, sink drone.Sink, link CommandLink, options ...func(c *Core)) *Core {
	c := Core{
		source:          source,
		sink:            sink,
		link:            link,
		policy:          DefaultPolicy(),
		dispatchTimeout: DefaultDispatchTimeout,
		batchSize:       DefaultRecordBatchSize,
		pub:             NewPublisher(),
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		state:           StateIdle,
		serverUp:        make(chan struct{}, 1),
	}

	for _, option := range options {
		option(&c)
	}

	return &c
}

// Publisher returns the snapshot publisher for presentation consumers.
func (c *Core) Publisher() *Publisher { return c.pub }

// SetServerStatus feeds server link state changes into the session. It is
// wired to the link's status callback and is safe to call from the link's
// goroutine.
func (c *Core) SetServerStatus(st LinkStatus) {
	c.setLink(linkServer, st)

	if st.State == LinkConnected {
		select {
		case c.serverUp <- struct{}{}:
		default:
		}
	}
}

// Run drives the session from Connecting to Closed. It returns when the
// context is cancelled, a mandatory link fails unrecoverably, or an
// EmergencyStop ends the session.
func (c *Core) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.cancel = cancel

	c.transition(StateConnecting)

	if err := c.connectAll(ctx); err != nil {
		c.shutdown()
		return err
	}

	runErr := make(chan error, 1)
	go func() { runErr <- c.link.Run(ctx) }()

	select {
	case <-c.serverUp:
	case err := <-runErr:
		c.shutdown()
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("server link: %w", err)
		}
		return err
	case <-ctx.Done():
		c.shutdown()
		<-runErr
		return ctx.Err()
	}

	c.transition(StateActive)
	c.logger.Info("session active")

	var wg sync.WaitGroup
	wg.Add(2)
	go c.ingestPump(ctx, &wg)
	go c.commandPump(ctx, &wg)
	wg.Wait()

	c.shutdown()
	<-runErr

	c.mu.Lock()
	fatal := c.fatal
	c.mu.Unlock()
	return fatal
}

// connectAll brings up the sensor and drone links. Either failing here is
// fatal: a session cannot start without its full link set.
func (c *Core) connectAll(ctx context.Context) error {
	c.setLink(linkSensor, LinkStatus{State: LinkConnecting})
	if err := c.source.Open(ctx); err != nil {
		c.setLink(linkSensor, LinkStatus{State: LinkFailed, Reason: err.Error()})
		return fmt.Errorf("opening headset: %w", err)
	}
	c.setLink(linkSensor, LinkStatus{State: LinkConnected})

	c.setLink(linkDrone, LinkStatus{State: LinkConnecting})
	if err := c.sink.Connect(ctx); err != nil {
		c.setLink(linkDrone, LinkStatus{State: LinkFailed, Reason: err.Error()})
		return fmt.Errorf("connecting drone: %w", err)
	}
	c.setLink(linkDrone, LinkStatus{State: LinkConnected})

	return nil
}

// ingestPump pulls samples off the headset and forwards them to the
// server link. A disconnected headset degrades the session and the pump
// keeps retrying the open until cancelled.
func (c *Core) ingestPump(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		s, err := c.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if neuro.IsTimeout(err) {
				continue
			}

			c.setLink(linkSensor, LinkStatus{State: LinkFailed, Reason: err.Error()})
			c.setError(err)
			_ = c.source.Close()

			if !c.reopenSource(ctx) {
				return
			}
			continue
		}

		c.noteSample(s)

		if err := c.link.SendSample(s); err != nil {
			// Buffer eviction under backpressure; already counted by
			// the link, republish so consumers see the counter move.
			c.publish()
		}
	}
}

// reopenSource retries the headset open until it succeeds or the session
// stops. Sample sequence numbering continues across reopens.
func (c *Core) reopenSource(ctx context.Context) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(sourceReopenInterval):
		}

		if err := c.source.Open(ctx); err != nil {
			c.logger.Warn(fmt.Sprintf("headset reopen failed: %s", err.Error()))
			continue
		}

		c.setLink(linkSensor, LinkStatus{State: LinkConnected})
		c.logger.Info("headset stream recovered")
		return true
	}
}

// commandPump receives interpreted commands, applies the safety policy
// and dispatches accepted movements to the drone.
func (c *Core) commandPump(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		cmd, err := c.link.ReceiveCommand(ctx)
		if err != nil {
			return
		}

		if cmd.IsEmergencyStop() {
			c.handleEmergencyStop(cmd)
			return
		}

		c.mu.Lock()
		state := c.state
		c.mu.Unlock()

		if reason, ok := c.policy.Check(cmd, state, time.Now()); !ok {
			c.noteCommand(cmd, OutcomeRejected, string(reason))
			if c.metrics != nil {
				c.metrics.commandsRejected.WithLabelValues(string(reason)).Inc()
			}
			continue
		}

		c.dispatch(ctx, cmd)
	}
}

// dispatch sends one accepted command within the dispatch deadline. A
// timed-out or failed command is dropped, never retried: replaying a
// stale motion instruction after a newer one has superseded it is unsafe.
func (c *Core) dispatch(ctx context.Context, cmd drone.Command) {
	dctx, cancel := context.WithTimeout(ctx, c.dispatchTimeout)
	err := c.sink.Dispatch(dctx, cmd)
	cancel()

	if err == nil {
		c.noteCommand(cmd, OutcomeDispatched, "")
		if c.metrics != nil {
			c.metrics.commandsDispatched.Inc()
		}
		return
	}

	c.countDrop(cmd, err)

	if kind, ok := drone.DispatchKind(err); ok && kind == drone.DispatchLinkDown {
		// Continuing without a validated actuator link is unsafe.
		c.setLink(linkDrone, LinkStatus{State: LinkFailed, Reason: err.Error()})
		c.fail(fmt.Errorf("drone link lost: %w", err))
	}
}

// handleEmergencyStop dispatches the stop and ends the session. The
// dispatch context is detached from pump cancellation so the stop can
// still fire during shutdown, and the policy is bypassed entirely.
func (c *Core) handleEmergencyStop(cmd drone.Command) {
	dctx, cancel := context.WithTimeout(context.Background(), c.dispatchTimeout)
	err := c.sink.Dispatch(dctx, cmd)
	cancel()

	if err != nil {
		c.countDrop(cmd, err)
		c.logger.Error(fmt.Sprintf("emergency stop dispatch failed: %s", err.Error()))
	} else {
		c.noteCommand(cmd, OutcomeDispatched, "")
		if c.metrics != nil {
			c.metrics.commandsDispatched.Inc()
		}
		c.logger.Warn("emergency stop dispatched")
	}

	c.fail(nil) // explicit end of session, not an error
}

func (c *Core) countDrop(cmd drone.Command, err error) {
	c.mu.Lock()
	c.dropped++
	c.lastErr = err.Error()
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.commandsDropped.Inc()
	}
	c.noteCommand(cmd, OutcomeDropped, err.Error())
}

// fail moves the session to Terminating and stops both pumps. A nil err
// is a clean, deliberate termination.
func (c *Core) fail(err error) {
	c.mu.Lock()
	if err != nil && c.fatal == nil {
		c.fatal = err
		c.lastErr = err.Error()
	}
	c.mu.Unlock()

	c.transition(StateTerminating)
	if c.cancel != nil {
		c.cancel()
	}
}

// shutdown closes the links, flushes the recorder and settles the state
// machine in Closed.
func (c *Core) shutdown() {
	c.transition(StateTerminating)

	if err := c.source.Close(); err != nil {
		c.logger.Warn(fmt.Sprintf("closing headset: %s", err.Error()))
	}
	if err := c.sink.Close(); err != nil {
		c.logger.Warn(fmt.Sprintf("closing drone link: %s", err.Error()))
	}

	c.flushBatch()

	c.setLink(linkSensor, LinkStatus{State: LinkDisconnected})
	c.setLink(linkServer, LinkStatus{State: LinkDisconnected})
	c.setLink(linkDrone, LinkStatus{State: LinkDisconnected})

	c.transition(StateClosed)
	c.logger.Info("session closed")
}

// transition moves the state machine forward. Terminating and Closed are
// terminal directions: recompute never downgrades out of them.
func (c *Core) transition(next State) {
	c.mu.Lock()
	if c.state == next || (c.state >= StateTerminating && next < c.state) {
		c.mu.Unlock()
		return
	}
	prev := c.state
	c.state = next
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.stateTransitions.WithLabelValues(next.String()).Inc()
	}
	c.logger.Info("session state changed",
		slog.String("from", prev.String()), slog.String("to", next.String()))
	c.publish()
}

// setLink updates one link status and recomputes the session state:
// Active degrades when any link drops, Degraded recovers to Active when
// all three links are connected again.
func (c *Core) setLink(kind linkKind, st LinkStatus) {
	c.mu.Lock()
	c.links[kind] = st

	cur := c.state
	next := cur
	allUp := c.links[linkSensor].Usable() && c.links[linkServer].Usable() && c.links[linkDrone].Usable()

	switch cur {
	case StateActive:
		if !allUp {
			next = StateDegraded
		}
	case StateDegraded:
		if allUp {
			next = StateActive
		}
	}
	c.mu.Unlock()

	if next != cur {
		c.transition(next)
		return
	}
	c.publish()
}

func (c *Core) setError(err error) {
	c.mu.Lock()
	c.lastErr = err.Error()
	c.mu.Unlock()
	c.publish()
}

// noteSample records the forwarded sample and publishes.
func (c *Core) noteSample(s neuro.Sample) {
	c.mu.Lock()
	c.lastSample = &s
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.samplesForwarded.Inc()
	}
	c.recordSample(s)
	c.publish()
}

// noteCommand records the outcome of one command and publishes.
func (c *Core) noteCommand(cmd drone.Command, outcome CommandOutcome, reason string) {
	c.mu.Lock()
	if outcome == OutcomeDispatched {
		c.lastCommand = &cmd
	}
	if outcome == OutcomeRejected {
		c.rejected++
	}
	c.mu.Unlock()

	if c.recorder != nil {
		rec := CommandRecord{Command: cmd, Outcome: outcome, Reason: reason, Timestamp: time.Now()}
		if err := c.recorder.StoreCommand(context.Background(), rec); err != nil {
			c.logger.Warn(fmt.Sprintf("recording command: %s", err.Error()))
		}
	}
	c.publish()
}

func (c *Core) recordSample(s neuro.Sample) {
	if c.recorder == nil {
		return
	}

	c.batch = append(c.batch, s)
	if len(c.batch) >= c.batchSize {
		c.flushBatch()
	}
}

func (c *Core) flushBatch() {
	if c.recorder == nil || len(c.batch) == 0 {
		return
	}

	if err := c.recorder.StoreSamples(context.Background(), c.batch); err != nil {
		c.logger.Warn(fmt.Sprintf("recording samples: %s", err.Error()))
	}
	c.batch = c.batch[:0]
}

// publish replaces the published snapshot with the current state. Called
// after every state-relevant event, before the pump proceeds.
func (c *Core) publish() {
	c.mu.Lock()
	snap := &Snapshot{
		State:            c.state,
		Sensor:           c.links[linkSensor],
		Server:           c.links[linkServer],
		Drone:            c.links[linkDrone],
		LastSample:       c.lastSample,
		LastCommand:      c.lastCommand,
		DroppedSamples:   c.link.DroppedSamples(),
		DroppedCommands:  c.link.DiscardedCommands() + c.dropped,
		RejectedCommands: c.rejected,
		LastError:        c.lastErr,
		UpdatedAt:        time.Now(),
	}
	c.mu.Unlock()

	c.pub.Publish(snap)
}
