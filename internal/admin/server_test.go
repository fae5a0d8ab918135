package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindfly/brainpilot/internal/session"
)

func newTestServer(t *testing.T) (*session.Publisher, *httptest.Server) {
	t.Helper()

	pub := session.NewPublisher()
	srv := New("127.0.0.1:0", pub, prometheus.NewRegistry())

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return pub, ts
}

func TestStatusReturnsSnapshot(t *testing.T) {
	pub, ts := newTestServer(t)

	pub.Publish(&session.Snapshot{
		State:            session.StateActive,
		Sensor:           session.LinkStatus{State: session.LinkConnected},
		Server:           session.LinkStatus{State: session.LinkConnected},
		Drone:            session.LinkStatus{State: session.LinkConnected},
		DroppedSamples:   3,
		RejectedCommands: 1,
		UpdatedAt:        time.Now(),
	})

	resp, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var got map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "active", got["state"])
	assert.EqualValues(t, 3, got["dropped_samples"])
	assert.EqualValues(t, 1, got["rejected_commands"])

	sensor, ok := got["sensor"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "connected", sensor["state"])
}

func TestHealthzByState(t *testing.T) {
	tests := []struct {
		state session.State
		code  int
	}{
		{session.StateIdle, http.StatusServiceUnavailable},
		{session.StateConnecting, http.StatusServiceUnavailable},
		{session.StateActive, http.StatusOK},
		{session.StateDegraded, http.StatusOK},
		{session.StateTerminating, http.StatusServiceUnavailable},
		{session.StateClosed, http.StatusServiceUnavailable},
	}

	pub, ts := newTestServer(t)

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			pub.Publish(&session.Snapshot{State: tt.state, UpdatedAt: time.Now()})

			resp, err := http.Get(ts.URL + "/healthz")
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.code, resp.StatusCode)
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	pub := session.NewPublisher()
	reg := prometheus.NewRegistry()
	_ = session.NewMetrics(reg)

	srv := New("127.0.0.1:0", pub, reg)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUnknownRouteIs404(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/nope")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
