package tello

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindfly/brainpilot/internal/drone"
)

// fakeDrone is a UDP listener that answers commands like Tello firmware.
// reply maps command prefixes to responses; unmatched commands get "ok".
// Commands listed in mute get no reply at all.
type fakeDrone struct {
	t     *testing.T
	pc    net.PacketConn
	reply map[string]string
	mute  map[string]bool

	received chan string
}

func newFakeDrone(t *testing.T) *fakeDrone {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	f := &fakeDrone{
		t:        t,
		pc:       pc,
		reply:    make(map[string]string),
		mute:     make(map[string]bool),
		received: make(chan string, 16),
	}

	go f.serve()
	t.Cleanup(func() { pc.Close() })
	return f
}

func (f *fakeDrone) addr() string { return f.pc.LocalAddr().String() }

func (f *fakeDrone) serve() {
	buf := make([]byte, 1024)
	for {
		n, addr, err := f.pc.ReadFrom(buf)
		if err != nil {
			return
		}
		cmd := string(buf[:n])
		f.received <- cmd

		if f.mute[cmd] {
			continue
		}

		resp := "ok"
		for prefix, r := range f.reply {
			if strings.HasPrefix(cmd, prefix) {
				resp = r
				break
			}
		}
		_, _ = f.pc.WriteTo([]byte(resp), addr)
	}
}

func newTestDrone(t *testing.T, f *fakeDrone, cfg Config) *Drone {
	t.Helper()

	cfg.Addr = f.addr()
	d, err := New(cfg, WithDialer(func(addr string) (net.Conn, error) {
		return net.Dial("udp", addr)
	}))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestDrone_ConnectEntersSDKMode(t *testing.T) {
	f := newFakeDrone(t)
	d := newTestDrone(t, f, Config{DispatchTimeout: time.Second})

	require.NoError(t, d.Connect(context.Background()))
	assert.Equal(t, drone.LinkUp, d.Status())
	assert.Equal(t, "command", <-f.received)
}

func TestDrone_DispatchMovements(t *testing.T) {
	f := newFakeDrone(t)
	d := newTestDrone(t, f, Config{DispatchTimeout: time.Second})
	require.NoError(t, d.Connect(context.Background()))
	<-f.received // swallow "command"

	tests := []struct {
		movement drone.Movement
		want     string
	}{
		{drone.Movement{Kind: drone.Hover}, "stop"},
		{drone.Movement{Kind: drone.Ascend}, "up 50"},
		{drone.Movement{Kind: drone.Descend}, "down 50"},
		{drone.Movement{Kind: drone.Yaw, Angle: 90}, "cw 90"},
		{drone.Movement{Kind: drone.Yaw, Angle: -90}, "ccw 90"},
		{drone.Movement{Kind: drone.Pitch, Angle: 1}, "forward 100"},
		{drone.Movement{Kind: drone.Pitch, Angle: -1}, "back 100"},
		{drone.Movement{Kind: drone.Roll, Angle: 1}, "right 100"},
		{drone.Movement{Kind: drone.Roll, Angle: -1}, "left 100"},
		{drone.Movement{Kind: drone.Land}, "land"},
	}

	for _, tc := range tests {
		t.Run(tc.want, func(t *testing.T) {
			err := d.Dispatch(context.Background(), drone.Command{Movement: tc.movement})
			require.NoError(t, err)
			assert.Equal(t, tc.want, <-f.received)
		})
	}
}

func TestDrone_DispatchTimeout(t *testing.T) {
	f := newFakeDrone(t)
	f.mute["land"] = true

	d := newTestDrone(t, f, Config{DispatchTimeout: 50 * time.Millisecond})
	require.NoError(t, d.Connect(context.Background()))

	err := d.Dispatch(context.Background(), drone.Command{Movement: drone.Movement{Kind: drone.Land}})
	kind, ok := drone.DispatchKind(err)
	require.True(t, ok)
	assert.Equal(t, drone.DispatchTimeout, kind)
}

func TestDrone_DispatchRejected(t *testing.T) {
	f := newFakeDrone(t)
	f.reply["land"] = "error Not joystick"

	d := newTestDrone(t, f, Config{DispatchTimeout: time.Second})
	require.NoError(t, d.Connect(context.Background()))

	err := d.Dispatch(context.Background(), drone.Command{Movement: drone.Movement{Kind: drone.Land}})
	kind, ok := drone.DispatchKind(err)
	require.True(t, ok)
	assert.Equal(t, drone.DispatchRejected, kind)
}

func TestDrone_EmergencyIsFireAndForget(t *testing.T) {
	f := newFakeDrone(t)
	f.mute["emergency"] = true // no reply, must still succeed

	d := newTestDrone(t, f, Config{DispatchTimeout: 50 * time.Millisecond})
	require.NoError(t, d.Connect(context.Background()))
	<-f.received

	err := d.Dispatch(context.Background(), drone.Command{
		Movement: drone.Movement{Kind: drone.EmergencyStop},
	})
	require.NoError(t, err)
	assert.Equal(t, "emergency", <-f.received)
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultAddr, cfg.Addr)
	assert.Equal(t, DefaultDispatchTimeout, cfg.DispatchTimeout)
	assert.Equal(t, DefaultKeepaliveInterval, cfg.KeepaliveInterval)

	cfg = Config{KeepaliveInterval: -1}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, time.Duration(0), cfg.KeepaliveInterval, "negative keepalive disables the ping")

	cfg = Config{DispatchTimeout: -time.Second}
	assert.Error(t, cfg.Validate())
}

func TestDrone_EmergencyAfterIdleGap(t *testing.T) {
	f := newFakeDrone(t)
	f.mute["emergency"] = true

	d := newTestDrone(t, f, Config{DispatchTimeout: 50 * time.Millisecond, KeepaliveInterval: -1})
	require.NoError(t, d.Connect(context.Background()))
	<-f.received

	require.NoError(t, d.Dispatch(context.Background(), drone.Command{
		Movement: drone.Movement{Kind: drone.Hover},
	}))
	<-f.received

	// Idle past the deadline the last round trip left on the connection.
	time.Sleep(150 * time.Millisecond)

	err := d.Dispatch(context.Background(), drone.Command{
		Movement: drone.Movement{Kind: drone.EmergencyStop},
	})
	require.NoError(t, err)
	assert.Equal(t, drone.LinkUp, d.Status())
	assert.Equal(t, "emergency", <-f.received)
}

func TestDrone_DispatchBeforeConnect(t *testing.T) {
	d, err := New(Config{Addr: "127.0.0.1:1"})
	require.NoError(t, err)

	err = d.Dispatch(context.Background(), drone.Command{Movement: drone.Movement{Kind: drone.Hover}})
	kind, ok := drone.DispatchKind(err)
	require.True(t, ok)
	assert.Equal(t, drone.DispatchLinkDown, kind)
	assert.Equal(t, drone.LinkDown, d.Status())
}
