// Package monitor keeps the cached cryostat temperatures of every machine
// fresh by polling each machine's telemetry endpoint.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"cryoqueue-backend/config"
	"cryoqueue-backend/internal/clock"
	"cryoqueue-backend/internal/metrics"
	"cryoqueue-backend/internal/model"
	"cryoqueue-backend/internal/store"
)

const (
	defaultPort5001Port      = 5001
	defaultQuantumDesignPort = 47101
)

// Store is what the monitor reads machines from and writes readings to.
type Store interface {
	ListMachines(ctx context.Context) ([]model.Machine, error)
	UpdateTelemetry(ctx context.Context, id int64, t store.Telemetry) error
}

// Service polls the machines on a fixed interval.
type Service struct {
	cfg    config.MonitorConfig
	store  Store
	client *http.Client
	clock  clock.Clock
	log    zerolog.Logger
}

// NewService creates a telemetry monitor.
func NewService(cfg config.MonitorConfig, st Store, c clock.Clock, log zerolog.Logger) *Service {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	return &Service{
		cfg:    cfg,
		store:  st,
		client: &http.Client{Timeout: timeout},
		clock:  c,
		log:    log.With().Str("component", "monitor").Logger(),
	}
}

// Run polls once immediately and then every interval until ctx is done.
func (s *Service) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		s.log.Info().Msg("telemetry monitor is disabled")
		return
	}
	s.log.Info().Dur("interval", s.cfg.Interval).Msg("starting telemetry monitor")

	s.PollOnce(ctx)

	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("telemetry monitor shutting down")
			return
		case <-timer.C:
			s.PollOnce(ctx)
			timer.Reset(s.cfg.Interval)
		}
	}
}

// PollOnce reads every machine that exposes telemetry and returns how many
// answered.
func (s *Service) PollOnce(ctx context.Context) int {
	machines, err := s.store.ListMachines(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list machines for telemetry poll")
		return 0
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		online int
	)
	for i := range machines {
		m := &machines[i]
		if !m.HasTelemetry() {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			reading := s.poll(ctx, m)
			if err := s.store.UpdateTelemetry(ctx, m.ID, reading); err != nil {
				s.log.Error().Err(err).Int64("machine_id", m.ID).Msg("failed to store telemetry")
				return
			}
			if reading.Online {
				mu.Lock()
				online++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return online
}

// poll fetches one reading. An unreachable machine keeps its last
// temperature and is marked offline.
func (s *Service) poll(ctx context.Context, m *model.Machine) store.Telemetry {
	t := store.Telemetry{ObservedAt: s.clock.Now()}
	temp, err := s.fetchTemperature(ctx, m)
	if err != nil {
		metrics.TelemetryPolls.WithLabelValues("offline").Inc()
		s.log.Warn().Err(err).Int64("machine_id", m.ID).Str("machine", m.Name).Msg("telemetry fetch failed")
		return t
	}
	metrics.TelemetryPolls.WithLabelValues("ok").Inc()
	t.Online = true
	t.Temperature = temp
	return t
}

type port5001Reading struct {
	Temperature *float64 `json:"temperature"`
}

type quantumDesignReading struct {
	Sample struct {
		Temperature *float64 `json:"temperature"`
	} `json:"sample"`
}

func (s *Service) fetchTemperature(ctx context.Context, m *model.Machine) (*float64, error) {
	switch m.APIType {
	case model.TelemetryPort5001:
		var r port5001Reading
		if err := s.getJSON(ctx, endpoint(m, defaultPort5001Port, "/channel/measurement/latest"), &r); err != nil {
			return nil, err
		}
		return r.Temperature, nil
	case model.TelemetryQuantumDesign:
		var r quantumDesignReading
		path := "/v1/sampleChamber/temperatureControllers/user1/thermometer/properties/sample"
		if err := s.getJSON(ctx, endpoint(m, defaultQuantumDesignPort, path), &r); err != nil {
			return nil, err
		}
		return r.Sample.Temperature, nil
	default:
		return nil, fmt.Errorf("unknown telemetry api %q", m.APIType)
	}
}

func endpoint(m *model.Machine, defaultPort int, path string) string {
	port := m.APIPort
	if port == 0 {
		port = defaultPort
	}
	return "http://" + net.JoinHostPort(m.IPAddress, strconv.Itoa(port)) + path
}

func (s *Service) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("received non-200 status code: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to unmarshal telemetry: %w", err)
	}
	return nil
}
