package monitor

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryoqueue-backend/config"
	"cryoqueue-backend/internal/clock"
	"cryoqueue-backend/internal/model"
	"cryoqueue-backend/internal/store"
)

var testNow = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

// mockStore records telemetry writes.
type mockStore struct {
	mu       sync.Mutex
	machines []model.Machine
	readings map[int64]store.Telemetry
}

func (m *mockStore) ListMachines(context.Context) ([]model.Machine, error) {
	return m.machines, nil
}

func (m *mockStore) UpdateTelemetry(_ context.Context, id int64, t store.Telemetry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readings == nil {
		m.readings = map[int64]store.Telemetry{}
	}
	m.readings[id] = t
	return nil
}

func hostPort(t *testing.T, srv *httptest.Server) (string, int) {
	t.Helper()
	host, port, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return host, p
}

func TestPollOnce(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/channel/measurement/latest", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"temperature": 0.012, "status": "ok"}`))
	})
	mux.HandleFunc("/v1/sampleChamber/temperatureControllers/user1/thermometer/properties/sample", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"sample": {"temperature": 1.8}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	host, port := hostPort(t, srv)

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer broken.Close()
	brokenHost, brokenPort := hostPort(t, broken)

	st := &mockStore{machines: []model.Machine{
		{ID: 1, Name: "Hidalgo", IPAddress: host, APIType: model.TelemetryPort5001, APIPort: port},
		{ID: 2, Name: "OptiCool", IPAddress: host, APIType: model.TelemetryQuantumDesign, APIPort: port},
		{ID: 3, Name: "Griffin", IPAddress: brokenHost, APIType: model.TelemetryPort5001, APIPort: brokenPort},
		{ID: 4, Name: "Manual", APIType: model.TelemetryNone},
	}}
	svc := NewService(config.MonitorConfig{TimeoutSeconds: 1}, st, clock.NewFake(testNow), zerolog.Nop())

	assert.Equal(t, 2, svc.PollOnce(context.Background()))

	require.Len(t, st.readings, 3, "machines without telemetry are skipped")
	hidalgo := st.readings[1]
	assert.True(t, hidalgo.Online)
	require.NotNil(t, hidalgo.Temperature)
	assert.InDelta(t, 0.012, *hidalgo.Temperature, 1e-12)
	assert.True(t, testNow.Equal(hidalgo.ObservedAt))

	opti := st.readings[2]
	assert.True(t, opti.Online)
	require.NotNil(t, opti.Temperature)
	assert.InDelta(t, 1.8, *opti.Temperature, 1e-12)

	griffin := st.readings[3]
	assert.False(t, griffin.Online)
	assert.Nil(t, griffin.Temperature, "an offline machine keeps its last temperature")
}

func TestEndpoint_DefaultPorts(t *testing.T) {
	m := &model.Machine{IPAddress: "10.3.118.7", APIType: model.TelemetryPort5001}
	assert.Equal(t, "http://10.3.118.7:5001/x", endpoint(m, defaultPort5001Port, "/x"))

	m = &model.Machine{IPAddress: "192.168.10.103", APIType: model.TelemetryQuantumDesign}
	assert.Equal(t, "http://192.168.10.103:47101/x", endpoint(m, defaultQuantumDesignPort, "/x"))
}

func TestMachine_StaleReadings(t *testing.T) {
	temp := 0.02
	updated := testNow.Add(-30 * time.Second)
	m := &model.Machine{
		IPAddress: "10.0.0.1", APIType: model.TelemetryPort5001,
		CachedTemperature: &temp, CachedOnline: true, LastTempUpdate: &updated,
	}
	stale := 60 * time.Second

	require.NotNil(t, m.LiveTemperature(testNow, stale))
	assert.True(t, m.Online(testNow, stale))

	later := testNow.Add(45 * time.Second)
	assert.Nil(t, m.LiveTemperature(later, stale))
	assert.False(t, m.Online(later, stale))

	m.APIType = model.TelemetryNone
	assert.False(t, m.Online(testNow, stale))
}

func TestRun_StopsOnCancel(t *testing.T) {
	st := &mockStore{}
	svc := NewService(config.MonitorConfig{Enabled: true, Interval: 10 * time.Millisecond}, st, clock.Real{}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}
