package updater

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/skypeer/internal/update/core"
	releaseserver "github.com/autopeer-io/skypeer/internal/update/server"
	"github.com/autopeer-io/skypeer/pkg/options"
)

func newSimConfig(t *testing.T) *Config {
	t.Helper()
	update := options.NewUpdateOptions()
	update.Simulate = true
	update.WorkDir = t.TempDir()
	update.RetryInterval = time.Millisecond
	update.VerifyInterval = 5 * time.Millisecond
	return &Config{
		UpdateOptions: update,
		MqttOptions:   options.NewMqttOptions(),
		S3Options:     options.NewS3Options(),
		ADBOptions:    options.NewADBOptions(),
	}
}

func TestSimulatedVersionCheck(t *testing.T) {
	u, err := newSimConfig(t).NewUpdater()
	require.NoError(t, err)

	closeFn, err := u.Open(context.Background())
	require.NoError(t, err)
	defer closeFn()

	s, err := u.Orchestrator().DoVersionCheck(context.Background(), nil, false)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = s.Wait(ctx)
	require.NoError(t, err)

	assert.Equal(t, core.InstructionMinorUpdateAvailable, u.Orchestrator().CheckGimbalVersion())
}

func TestRunEnablesUntilCancelled(t *testing.T) {
	u, err := newSimConfig(t).NewUpdater()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- u.Run(ctx) }()

	assert.Eventually(t, u.Orchestrator().Enabled, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.False(t, u.Orchestrator().Enabled())
}

type flakyLink struct {
	failures int32
	starts   atomic.Int32
	stopped  atomic.Bool
}

func (l *flakyLink) Start(context.Context) error {
	if l.starts.Add(1) <= l.failures {
		return errors.New("broker unavailable")
	}
	return nil
}

func (l *flakyLink) Stop(context.Context) { l.stopped.Store(true) }

func TestStartLinksRetries(t *testing.T) {
	l := &flakyLink{failures: 2}
	u := &Updater{links: []starter{l}}

	err := u.startLinks(context.Background(), backoff.NewConstantBackOff(time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, int32(3), l.starts.Load())

	u.stopLinks()
	assert.True(t, l.stopped.Load())

	l = &flakyLink{failures: 1}
	u = &Updater{links: []starter{l}}
	assert.Error(t, u.startLinks(context.Background(), &backoff.StopBackOff{}))
}

func TestReleaseServerSelection(t *testing.T) {
	cfg := newSimConfig(t)

	srv, err := cfg.newReleaseServer()
	require.NoError(t, err)
	assert.IsType(t, &releaseserver.HTTPServer{}, srv)

	cfg.UpdateOptions.ReleaseServer = options.ReleaseServerS3
	srv, err = cfg.newReleaseServer()
	require.NoError(t, err)
	assert.IsType(t, &releaseserver.S3Server{}, srv)
}

func TestDriverConfig(t *testing.T) {
	cfg := newSimConfig(t)
	cfg.UpdateOptions.MinBatteryLevel = 55
	cfg.UpdateOptions.FlashTimeout = time.Minute

	dc := cfg.DriverConfig()
	assert.Equal(t, 55, dc.MinBatteryLevel)
	assert.Equal(t, time.Minute, dc.FlashTimeout)
	assert.Equal(t, cfg.UpdateOptions.WorkDir, dc.WorkDir)
}

func TestADBConfigPackages(t *testing.T) {
	cfg := newSimConfig(t)
	cfg.ADBOptions.DatapilotPackage = "org.example.pilot"

	ac := cfg.adbConfig()
	assert.Equal(t, "org.example.pilot", ac.Packages[core.ComponentDatapilot])
	_, ok := ac.Packages[core.ComponentST16S]
	assert.False(t, ok)
}
