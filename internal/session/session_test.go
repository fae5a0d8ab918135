package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindfly/brainpilot/internal/drone"
	"github.com/mindfly/brainpilot/internal/neuro"
)

type sourceEvent struct {
	sample neuro.Sample
	err    error
}

type fakeSource struct {
	events  chan sourceEvent
	mu      sync.Mutex
	opens   int
	closes  int
	openErr error
}

func newFakeSource() *fakeSource {
	return &fakeSource{events: make(chan sourceEvent, 64)}
}

func (f *fakeSource) Open(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return f.openErr
	}
	f.opens++
	return nil
}

func (f *fakeSource) Next(ctx context.Context) (neuro.Sample, error) {
	select {
	case <-ctx.Done():
		return neuro.Sample{}, ctx.Err()
	case ev := <-f.events:
		return ev.sample, ev.err
	}
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
	return nil
}

func (f *fakeSource) Device() string   { return "fake" }
func (f *fakeSource) DeviceID() string { return "fake-0" }

func (f *fakeSource) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

func (f *fakeSource) emit(seq uint64) {
	f.events <- sourceEvent{sample: neuro.Sample{
		Seq:       seq,
		Timestamp: time.Now(),
		Channels:  []float64{1, 2},
	}}
}

type fakeSink struct {
	mu          sync.Mutex
	dispatched  []drone.Command
	dispatchErr func(cmd drone.Command) error
	connectErr  error
}

func (f *fakeSink) Connect(ctx context.Context) error { return f.connectErr }

func (f *fakeSink) Dispatch(ctx context.Context, cmd drone.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dispatchErr != nil {
		if err := f.dispatchErr(cmd); err != nil {
			return err
		}
	}
	f.dispatched = append(f.dispatched, cmd)
	return nil
}

func (f *fakeSink) Status() drone.LinkHealth { return drone.LinkUp }
func (f *fakeSink) Close() error             { return nil }

func (f *fakeSink) commands() []drone.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]drone.Command(nil), f.dispatched...)
}

type fakeLink struct {
	mu        sync.Mutex
	sent      []neuro.Sample
	commands  chan drone.Command
	dropped   atomic.Uint64
	discarded atomic.Uint64
}

func newFakeLink() *fakeLink {
	return &fakeLink{commands: make(chan drone.Command, 16)}
}

func (f *fakeLink) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (f *fakeLink) SendSample(s neuro.Sample) error {
	f.mu.Lock()
	f.sent = append(f.sent, s)
	f.mu.Unlock()
	return nil
}

func (f *fakeLink) ReceiveCommand(ctx context.Context) (drone.Command, error) {
	select {
	case <-ctx.Done():
		return drone.Command{}, ctx.Err()
	case cmd := <-f.commands:
		return cmd, nil
	}
}

func (f *fakeLink) DroppedSamples() uint64    { return f.dropped.Load() }
func (f *fakeLink) DiscardedCommands() uint64 { return f.discarded.Load() }

func (f *fakeLink) samples() []neuro.Sample {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]neuro.Sample(nil), f.sent...)
}

func command(kind drone.MovementKind, confidence float64) drone.Command {
	return drone.Command{
		Seq:        1,
		Movement:   drone.Movement{Kind: kind},
		Confidence: confidence,
		DecodedAt:  time.Now(),
	}
}

// startCore runs the core in the background and waits for it to reach
// Active. The returned stop cancels the session and waits for Run.
func startCore(t *testing.T, core *Core) (stop func() error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- core.Run(ctx) }()

	core.SetServerStatus(LinkStatus{State: LinkConnected})

	require.Eventually(t, func() bool {
		return core.Publisher().Current().State == StateActive
	}, time.Second, 5*time.Millisecond, "session did not become active")

	return func() error {
		cancel()
		select {
		case err := <-runErr:
			return err
		case <-time.After(2 * time.Second):
			t.Fatal("session did not stop")
			return nil
		}
	}
}

func waitState(t *testing.T, core *Core, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return core.Publisher().Current().State == want
	}, time.Second, 5*time.Millisecond, "session did not reach %s", want)
}

func TestCoreForwardsSamplesAndDispatchesCommand(t *testing.T) {
	source := newFakeSource()
	sink := &fakeSink{}
	link := newFakeLink()
	core := New(source, sink, link)

	stop := startCore(t, core)

	for seq := uint64(1); seq <= 5; seq++ {
		source.emit(seq)
	}
	require.Eventually(t, func() bool {
		return len(link.samples()) == 5
	}, time.Second, 5*time.Millisecond)

	sent := link.samples()
	for i := 1; i < len(sent); i++ {
		assert.Greater(t, sent[i].Seq, sent[i-1].Seq)
	}

	link.commands <- command(drone.Hover, 0.9)
	require.Eventually(t, func() bool {
		return len(sink.commands()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, drone.Hover, sink.commands()[0].Movement.Kind)

	require.NoError(t, stop())

	snap := core.Publisher().Current()
	assert.Equal(t, StateClosed, snap.State)
	assert.EqualValues(t, 0, snap.DroppedCommands)
	assert.EqualValues(t, 0, snap.RejectedCommands)
	assert.NotNil(t, snap.LastSample)
	assert.EqualValues(t, 5, snap.LastSample.Seq)
	assert.NotNil(t, snap.LastCommand)
}

func TestCoreRejectsLowConfidence(t *testing.T) {
	source := newFakeSource()
	sink := &fakeSink{}
	link := newFakeLink()
	core := New(source, sink, link)

	stop := startCore(t, core)

	link.commands <- command(drone.Pitch, 0.3)
	require.Eventually(t, func() bool {
		return core.Publisher().Current().RejectedCommands == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, stop())
	assert.Empty(t, sink.commands())
}

func TestCoreRejectsStaleCommand(t *testing.T) {
	source := newFakeSource()
	sink := &fakeSink{}
	link := newFakeLink()
	core := New(source, sink, link)

	stop := startCore(t, core)

	cmd := command(drone.Pitch, 0.9)
	cmd.DecodedAt = time.Now().Add(-500 * time.Millisecond)
	link.commands <- cmd

	require.Eventually(t, func() bool {
		return core.Publisher().Current().RejectedCommands == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, stop())
	assert.Empty(t, sink.commands())
}

func TestCoreEmergencyStopBypassesPolicyAndEndsSession(t *testing.T) {
	source := newFakeSource()
	sink := &fakeSink{}
	link := newFakeLink()
	core := New(source, sink, link)

	_ = startCore(t, core)

	// Low confidence and stale on purpose: neither may stop the stop.
	cmd := command(drone.EmergencyStop, 0.1)
	cmd.DecodedAt = time.Now().Add(-time.Second)
	link.commands <- cmd

	waitState(t, core, StateClosed)

	cmds := sink.commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, drone.EmergencyStop, cmds[0].Movement.Kind)
}

func TestCoreEmergencyStopWhileDegraded(t *testing.T) {
	source := newFakeSource()
	sink := &fakeSink{}
	link := newFakeLink()
	core := New(source, sink, link)

	_ = startCore(t, core)

	core.SetServerStatus(LinkStatus{State: LinkDegraded, Reason: "reconnecting"})
	waitState(t, core, StateDegraded)

	link.commands <- command(drone.EmergencyStop, 1)
	waitState(t, core, StateClosed)

	require.Len(t, sink.commands(), 1)
}

func TestCoreDropsTimedOutDispatchAndContinues(t *testing.T) {
	source := newFakeSource()
	var failures atomic.Int32
	sink := &fakeSink{
		dispatchErr: func(cmd drone.Command) error {
			if failures.Add(1) == 1 {
				return &drone.DispatchError{Kind: drone.DispatchTimeout, Err: errors.New("deadline")}
			}
			return nil
		},
	}
	link := newFakeLink()
	core := New(source, sink, link)

	stop := startCore(t, core)

	link.commands <- command(drone.Yaw, 0.9)
	require.Eventually(t, func() bool {
		return core.Publisher().Current().DroppedCommands == 1
	}, time.Second, 5*time.Millisecond)

	// The pipeline keeps going; the next command dispatches normally.
	link.commands <- command(drone.Hover, 0.9)
	require.Eventually(t, func() bool {
		return len(sink.commands()) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, stop())
}

func TestCoreDroneLinkLossIsFatal(t *testing.T) {
	source := newFakeSource()
	sink := &fakeSink{
		dispatchErr: func(cmd drone.Command) error {
			return &drone.DispatchError{Kind: drone.DispatchLinkDown, Err: errors.New("no route")}
		},
	}
	link := newFakeLink()
	core := New(source, sink, link)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- core.Run(ctx) }()

	core.SetServerStatus(LinkStatus{State: LinkConnected})
	waitState(t, core, StateActive)

	link.commands <- command(drone.Land, 0.9)

	select {
	case err := <-runErr:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "drone link lost")
	case <-time.After(2 * time.Second):
		t.Fatal("session did not terminate")
	}

	assert.Equal(t, StateClosed, core.Publisher().Current().State)
}

func TestCoreDegradesOnSensorLossAndRecovers(t *testing.T) {
	source := newFakeSource()
	sink := &fakeSink{}
	link := newFakeLink()
	core := New(source, sink, link)

	stop := startCore(t, core)

	source.events <- sourceEvent{err: &neuro.SourceError{
		Kind: neuro.Disconnected,
		Err:  errors.New("serial gone"),
	}}
	waitState(t, core, StateDegraded)

	// The reopen loop recovers the stream; numbering carries on.
	require.Eventually(t, func() bool {
		return source.openCount() >= 2
	}, 3*time.Second, 20*time.Millisecond)
	waitState(t, core, StateActive)

	source.emit(42)
	require.Eventually(t, func() bool {
		return len(link.samples()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 42, link.samples()[0].Seq)

	require.NoError(t, stop())
}

func TestCoreOpenFailureIsFatal(t *testing.T) {
	source := newFakeSource()
	source.openErr = errors.New("no such device")
	core := New(source, &fakeSink{}, newFakeLink())

	err := core.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "opening headset")
	assert.Equal(t, StateClosed, core.Publisher().Current().State)
}

func TestCoreRecordsHistory(t *testing.T) {
	source := newFakeSource()
	sink := &fakeSink{}
	link := newFakeLink()
	rec := &memoryRecorder{}
	core := New(source, sink, link, WithRecorder(rec), WithRecordBatchSize(2))

	stop := startCore(t, core)

	source.emit(1)
	source.emit(2)
	source.emit(3)
	require.Eventually(t, func() bool {
		return rec.sampleCount() == 2 // first batch flushed at the threshold
	}, time.Second, 5*time.Millisecond)

	link.commands <- command(drone.Ascend, 0.95)
	require.Eventually(t, func() bool {
		return len(rec.commandRecords()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, OutcomeDispatched, rec.commandRecords()[0].Outcome)

	require.NoError(t, stop())

	// Shutdown flushes the partial batch.
	assert.Equal(t, 3, rec.sampleCount())
}

type memoryRecorder struct {
	mu       sync.Mutex
	samples  []neuro.Sample
	commands []CommandRecord
}

func (r *memoryRecorder) StoreSamples(ctx context.Context, samples []neuro.Sample) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, samples...)
	return nil
}

func (r *memoryRecorder) StoreCommand(ctx context.Context, rec CommandRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, rec)
	return nil
}

func (r *memoryRecorder) sampleCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

func (r *memoryRecorder) commandRecords() []CommandRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]CommandRecord(nil), r.commands...)
}
