package vehicleagent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/skypeer/internal/update/core"
	"github.com/autopeer-io/skypeer/pkg/options"
)

type flakyServer struct {
	mu       sync.Mutex
	failures int
	starts   int
	stopped  bool
}

func (s *flakyServer) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts++
	if s.starts <= s.failures {
		return errors.New("connection refused")
	}
	return nil
}

func (s *flakyServer) Stop(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}

func (s *flakyServer) state() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts, s.stopped
}

func fastAgent(s server) *Agent {
	a := NewAgent("uav-1", s)
	a.backoff = func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }
	return a
}

func TestRunRetriesThenServes(t *testing.T) {
	s := &flakyServer{failures: 2}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- fastAgent(s).Run(ctx) }()

	assert.Eventually(t, func() bool {
		starts, _ := s.state()
		return starts == 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	_, stopped := s.state()
	assert.True(t, stopped)
}

func TestRunCancelledBeforeBroker(t *testing.T) {
	s := &flakyServer{failures: 1 << 30}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	require.NoError(t, fastAgent(s).Run(ctx))
	_, stopped := s.state()
	assert.False(t, stopped, "nothing to stop when the broker never answered")
}

func TestNewVehicle(t *testing.T) {
	vo := options.NewVehicleOptions()
	vo.Installed = "3.2.1"
	vo.Battery = 55
	vo.FlashDuration = 0
	cfg := &Config{MqttOptions: options.NewMqttOptions(), VehicleOptions: vo}

	vehicle := cfg.newVehicle()
	for _, c := range core.ConcreteComponents() {
		assert.True(t, vehicle.Installed(c).SameVersion(core.NewVersion(3, 2, 1)), c.String())
	}

	resp, err := vehicle.Send(context.Background(), core.ComponentAutopilot, core.Command{Name: core.CommandBattery})
	require.NoError(t, err)
	level, ok := resp.Int(core.KeyLevel)
	require.True(t, ok)
	assert.Equal(t, 55, level)
}

func TestNewAgent(t *testing.T) {
	cfg := &Config{MqttOptions: options.NewMqttOptions(), VehicleOptions: options.NewVehicleOptions()}
	cfg.VehicleOptions.SpoolDir = t.TempDir()

	a, err := cfg.NewAgent()
	require.NoError(t, err)
	assert.Equal(t, "default", a.vehicleID)
}
