package driver

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/skypeer/internal/update/core"
	"github.com/autopeer-io/skypeer/internal/update/registry"
	"github.com/autopeer-io/skypeer/internal/update/sim"
)

type recorder struct {
	mu         sync.Mutex
	progress   []core.ProgressEvent
	versions   []core.VersionEvent
	onProgress func(ev core.ProgressEvent)
}

func (r *recorder) Progress(ev core.ProgressEvent) {
	r.mu.Lock()
	r.progress = append(r.progress, ev)
	fn := r.onProgress
	r.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

func (r *recorder) Version(ev core.VersionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.versions = append(r.versions, ev)
}

// states collapses repeated progress reports of the same state.
func (r *recorder) states() []core.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []core.State
	for _, ev := range r.progress {
		if len(out) == 0 || out[len(out)-1] != ev.State {
			out = append(out, ev.State)
		}
	}
	return out
}

func (r *recorder) percentages(s core.State) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int
	for _, ev := range r.progress {
		if ev.State == s {
			out = append(out, ev.Progress)
		}
	}
	return out
}

type fixture struct {
	vehicle  *sim.Vehicle
	server   *sim.UpdateServer
	registry *registry.Registry
	cfg      Config
	sink     *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fleet := sim.NewFleet()
	fleet.Server.ChunkSize = 4 * 1024
	fleet.Vehicle.UploadChunk = 4 * 1024

	return &fixture{
		vehicle:  fleet.Vehicle,
		server:   fleet.Server,
		registry: registry.New(),
		sink:     &recorder{},
		cfg: Config{
			ConnectAttempts: 2,
			RetryInterval:   time.Millisecond,
			ConnectTimeout:  50 * time.Millisecond,
			DownloadTimeout: 2 * time.Second,
			UploadTimeout:   2 * time.Second,
			FlashTimeout:    2 * time.Second,
			VerifyTimeout:   time.Second,
			VerifyInterval:  5 * time.Millisecond,
			MinBatteryLevel: 30,
			WorkDir:         t.TempDir(),
		},
	}
}

func (f *fixture) driver(c core.Component, mode core.Mode, opts ...Option) *Driver {
	deps := Deps{
		Transport:  f.vehicle,
		Server:     f.server,
		Downloader: f.server,
		Uploader:   f.vehicle,
		Registry:   f.registry,
	}
	return New(c, mode, f.cfg, deps, f.sink, opts...)
}

func (f *fixture) run(c core.Component, mode core.Mode, opts ...Option) core.Result {
	return f.driver(c, mode, opts...).Run(context.Background())
}

func assertMonotonic(t *testing.T, p []int) {
	t.Helper()
	require.NotEmpty(t, p)
	assert.Equal(t, 0, p[0])
	assert.Equal(t, 100, p[len(p)-1])
	for i := 1; i < len(p); i++ {
		assert.Greater(t, p[i], p[i-1])
	}
}

func TestAutopilotHappyPath(t *testing.T) {
	f := newFixture(t)

	res := f.run(core.ComponentAutopilot, core.ModeUpdate)

	require.NoError(t, res.Err)
	assert.Equal(t, core.StateFinished, res.State)
	assert.Equal(t, core.InstructionUpToDate, res.Instruction)
	assert.False(t, res.DeviceModified)

	assert.Equal(t, []core.State{
		core.StateIdle,
		core.StateConnectingToVehicle,
		core.StateConnectingToUpdateServer,
		core.StateDownloading,
		core.StateUploading,
		core.StateFlashing,
		core.StateRebooting,
		core.StateVerifying,
		core.StateFinished,
	}, f.sink.states())
	assertMonotonic(t, f.sink.percentages(core.StateDownloading))
	assertMonotonic(t, f.sink.percentages(core.StateUploading))

	require.Len(t, f.sink.versions, 1)
	assert.Equal(t, core.VersionEvent{
		Component:   core.ComponentAutopilot,
		Instruction: core.InstructionMinorUpdateAvailable,
		Latest:      "1.1.0",
		Installed:   "1.0.0",
	}, f.sink.versions[0])

	assert.Equal(t, "1.1.0", f.vehicle.Installed(core.ComponentAutopilot).String())
	installed, _ := f.registry.Get(core.ComponentAutopilot)
	assert.Equal(t, "1.1.0", installed.String())
	assert.Equal(t, core.InstructionUpToDate, f.registry.Instruction(core.ComponentAutopilot))

	entries, err := os.ReadDir(f.cfg.WorkDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "staged payload must be removed")
}

func TestAppUpdateVerifiesByPing(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.registry.RecordInstalled(core.ComponentDatapilot, core.NewVersion(1, 0, 4)))

	res := f.run(core.ComponentDatapilot, core.ModeUpdate)

	assert.Equal(t, core.StateFinished, res.State)
	assert.NotContains(t, f.vehicle.Calls(core.ComponentDatapilot), core.CommandVersion)
	assert.Contains(t, f.vehicle.Calls(core.ComponentDatapilot), core.CommandFlash)
	installed, _ := f.registry.Get(core.ComponentDatapilot)
	assert.Equal(t, "2.0.0", installed.String())
}

func TestUnseededAppIsInstalled(t *testing.T) {
	f := newFixture(t)

	res := f.run(core.ComponentST16S, core.ModeUpdate)

	assert.Equal(t, core.StateFinished, res.State)
	require.Len(t, f.sink.versions, 1)
	assert.Equal(t, core.InstructionInstalledVersionUnknown, f.sink.versions[0].Instruction)
	assert.Equal(t, "", f.sink.versions[0].Installed)
}

func TestUpToDateSkipsDownload(t *testing.T) {
	f := newFixture(t)
	f.vehicle.Configure(core.ComponentCamera, func(u *sim.Unit) { u.Installed = core.NewVersion(1, 1, 0) })

	res := f.run(core.ComponentCamera, core.ModeUpdate)

	assert.Equal(t, core.StateFinished, res.State)
	assert.Equal(t, core.InstructionUpToDate, res.Instruction)
	assert.Equal(t, []core.State{
		core.StateIdle,
		core.StateConnectingToVehicle,
		core.StateConnectingToUpdateServer,
		core.StateFinished,
	}, f.sink.states())
}

func TestCheckOnlyNeverDownloads(t *testing.T) {
	f := newFixture(t)

	res := f.run(core.ComponentGimbal, core.ModeCheckOnly)

	assert.Equal(t, core.StateFinished, res.State)
	assert.Equal(t, core.InstructionMinorUpdateAvailable, res.Instruction)
	assert.Equal(t, []core.State{
		core.StateIdle,
		core.StateConnectingToVehicle,
		core.StateConnectingToUpdateServer,
		core.StateFinished,
	}, f.sink.states())
	assert.Equal(t, []core.CommandName{core.CommandVersion}, f.vehicle.Calls(core.ComponentGimbal))
	assert.Equal(t, "1.0.0", f.vehicle.Installed(core.ComponentGimbal).String())
}

func TestCheckOnlyReusesCachedInstalled(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.registry.RecordInstalled(core.ComponentGimbal, core.NewVersion(1, 1, 0)))

	res := f.run(core.ComponentGimbal, core.ModeCheckOnly, WithCachedInstalled())

	assert.Equal(t, core.InstructionUpToDate, res.Instruction)
	assert.Empty(t, f.vehicle.Calls(core.ComponentGimbal))
}

func TestCheckOnlyAppSkipsTransport(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.registry.RecordInstalled(core.ComponentUpdaterApp, core.NewVersion(2, 0, 0)))

	res := f.run(core.ComponentUpdaterApp, core.ModeCheckOnly)

	assert.Equal(t, core.InstructionUpToDate, res.Instruction)
	assert.Empty(t, f.vehicle.Calls(core.ComponentUpdaterApp))
}

func TestGimbalUpdateServerNotFound(t *testing.T) {
	f := newFixture(t)
	f.server.SetOffline(core.ComponentGimbal, true)

	res := f.run(core.ComponentGimbal, core.ModeUpdate)

	assert.Equal(t, core.StateUpdateServerNotFound, res.State)
	assert.ErrorIs(t, res.Err, core.ErrUnreachable)
	assert.Equal(t, core.InstructionLatestVersionUnknown, res.Instruction)
	assert.Equal(t, []core.State{
		core.StateIdle,
		core.StateConnectingToVehicle,
		core.StateConnectingToUpdateServer,
		core.StateUpdateServerNotFound,
	}, f.sink.states())
}

func TestUpdateServerTimeout(t *testing.T) {
	f := newFixture(t)
	f.server.SetSilent(core.ComponentCamera, true)

	res := f.run(core.ComponentCamera, core.ModeCheckOnly)

	assert.Equal(t, core.StateUpdateServerNotFound, res.State)
	assert.Equal(t, core.InstructionCheckLatestVersionTimeout, res.Instruction)
}

func TestNoReleasePublished(t *testing.T) {
	f := newFixture(t)
	server := sim.NewUpdateServer()
	deps := Deps{Transport: f.vehicle, Server: server, Downloader: server, Uploader: f.vehicle, Registry: f.registry}

	res := New(core.ComponentCamera, core.ModeUpdate, f.cfg, deps, f.sink).Run(context.Background())

	assert.Equal(t, core.StateFinished, res.State)
	assert.Equal(t, core.InstructionLatestVersionUnknown, res.Instruction)
}

// cancellingServer cancels the session while the release lookup is in flight
// and still answers.
type cancellingServer struct {
	core.ReleaseServer
	cancel context.CancelFunc
}

func (s *cancellingServer) Latest(_ context.Context, c core.Component) (*core.Release, error) {
	s.cancel()
	return s.ReleaseServer.Latest(context.Background(), c)
}

func TestCancelDuringServerLookupEndsCancelled(t *testing.T) {
	tests := []struct {
		name  string
		mode  core.Mode
		setup func(f *fixture) core.ReleaseServer
	}{
		{
			name: "up to date",
			mode: core.ModeUpdate,
			setup: func(f *fixture) core.ReleaseServer {
				f.server.Publish(core.ComponentGimbal, core.NewVersion(1, 0, 0), false, sim.Payload(core.ComponentGimbal, 1024))
				return f.server
			},
		},
		{
			name:  "check only",
			mode:  core.ModeCheckOnly,
			setup: func(f *fixture) core.ReleaseServer { return f.server },
		},
		{
			name:  "no release",
			mode:  core.ModeUpdate,
			setup: func(*fixture) core.ReleaseServer { return sim.NewUpdateServer() },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			server := &cancellingServer{ReleaseServer: tt.setup(f), cancel: cancel}
			deps := Deps{Transport: f.vehicle, Server: server, Downloader: f.server, Uploader: f.vehicle, Registry: f.registry}

			res := New(core.ComponentGimbal, tt.mode, f.cfg, deps, f.sink).Run(ctx)

			assert.Equal(t, core.StateCancelled, res.State)
			assert.Equal(t, []core.State{
				core.StateIdle,
				core.StateConnectingToVehicle,
				core.StateConnectingToUpdateServer,
				core.StateCancelled,
			}, f.sink.states())
		})
	}
}

func TestVehicleNotFound(t *testing.T) {
	f := newFixture(t)
	f.vehicle.Configure(core.ComponentAutopilot, func(u *sim.Unit) { u.Offline = true })

	res := f.run(core.ComponentAutopilot, core.ModeUpdate)

	assert.Equal(t, core.StateVehicleNotFound, res.State)
	assert.Equal(t, core.InstructionInstalledVersionUnknown, res.Instruction)
	assert.Len(t, f.vehicle.Calls(core.ComponentAutopilot), f.cfg.ConnectAttempts)
	assert.Equal(t, []core.State{
		core.StateIdle,
		core.StateConnectingToVehicle,
		core.StateVehicleNotFound,
	}, f.sink.states())
}

func TestVehicleTimeout(t *testing.T) {
	f := newFixture(t)
	f.vehicle.Configure(core.ComponentCamera, func(u *sim.Unit) { u.Silent = true })

	res := f.run(core.ComponentCamera, core.ModeCheckOnly)

	assert.Equal(t, core.StateVehicleNotFound, res.State)
	assert.Equal(t, core.InstructionCheckInstalledVersionTimeout, res.Instruction)
}

func TestCancelledBeforeStart(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := f.driver(core.ComponentGimbal, core.ModeUpdate).Run(ctx)

	assert.Equal(t, core.StateCancelled, res.State)
	assert.Equal(t, []core.State{core.StateIdle, core.StateCancelled}, f.sink.states())
	assert.Empty(t, f.vehicle.Calls(core.ComponentGimbal))
}

func TestCancelDuringDownload(t *testing.T) {
	f := newFixture(t)
	f.server.ChunkDelay = 2 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.sink.onProgress = func(ev core.ProgressEvent) {
		if ev.State == core.StateDownloading && ev.Progress >= 10 {
			cancel()
		}
	}

	res := f.driver(core.ComponentAutopilot, core.ModeUpdate).Run(ctx)

	assert.Equal(t, core.StateCancelled, res.State)
	assert.False(t, res.DeviceModified)
	assert.NotContains(t, f.sink.states(), core.StateUploading)
	assert.NotContains(t, f.vehicle.Calls(core.ComponentAutopilot), core.CommandFlash)
	assert.Equal(t, "1.0.0", f.vehicle.Installed(core.ComponentAutopilot).String())

	entries, err := os.ReadDir(f.cfg.WorkDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "partial payload must be discarded")
}

func TestCancelDuringUpload(t *testing.T) {
	f := newFixture(t)
	f.vehicle.UploadDelay = 2 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.sink.onProgress = func(ev core.ProgressEvent) {
		if ev.State == core.StateUploading && ev.Progress >= 10 {
			cancel()
		}
	}

	res := f.driver(core.ComponentCamera, core.ModeUpdate).Run(ctx)

	assert.Equal(t, core.StateCancelled, res.State)
	assert.NotContains(t, f.vehicle.Calls(core.ComponentCamera), core.CommandFlash)
}

func TestCancelAfterFlashIsIgnored(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.vehicle.OnCommand(core.CommandFlash, func(core.Component) { cancel() })

	res := f.driver(core.ComponentAutopilot, core.ModeUpdate).Run(ctx)

	assert.Equal(t, core.StateFinished, res.State)
	assert.Equal(t, []core.State{
		core.StateIdle,
		core.StateConnectingToVehicle,
		core.StateConnectingToUpdateServer,
		core.StateDownloading,
		core.StateUploading,
		core.StateFlashing,
		core.StateRebooting,
		core.StateVerifying,
		core.StateFinished,
	}, f.sink.states())
}

func TestBatteryTooLow(t *testing.T) {
	f := newFixture(t)
	f.vehicle.Configure(core.ComponentAutopilot, func(u *sim.Unit) { u.Battery = 12 })

	res := f.run(core.ComponentAutopilot, core.ModeUpdate)

	assert.Equal(t, core.StateBatteryTooLow, res.State)
	assert.False(t, res.DeviceModified)
	assert.NotContains(t, f.vehicle.Calls(core.ComponentAutopilot), core.CommandFlash)
}

func TestStorageCheckOnlyForCamera(t *testing.T) {
	f := newFixture(t)
	for _, c := range []core.Component{core.ComponentCamera, core.ComponentGimbal} {
		f.vehicle.Configure(c, func(u *sim.Unit) { u.Storage = false })
	}

	cam := f.run(core.ComponentCamera, core.ModeUpdate)
	assert.Equal(t, core.StateSDCardNotInserted, cam.State)
	assert.NotContains(t, f.vehicle.Calls(core.ComponentCamera), core.CommandFlash)

	gimbal := f.run(core.ComponentGimbal, core.ModeUpdate)
	assert.Equal(t, core.StateFinished, gimbal.State)
	assert.NotContains(t, f.vehicle.Calls(core.ComponentGimbal), core.CommandStorage)
}

func TestDownloadTimeout(t *testing.T) {
	f := newFixture(t)
	f.cfg.DownloadTimeout = 30 * time.Millisecond
	f.server.ChunkDelay = 10 * time.Millisecond

	res := f.run(core.ComponentAutopilot, core.ModeUpdate)

	assert.Equal(t, core.StateDownloadingTimeout, res.State)
	entries, err := os.ReadDir(f.cfg.WorkDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUploadTimeout(t *testing.T) {
	f := newFixture(t)
	f.cfg.UploadTimeout = 30 * time.Millisecond
	f.vehicle.UploadDelay = 10 * time.Millisecond

	res := f.run(core.ComponentGimbal, core.ModeUpdate)

	assert.Equal(t, core.StateUploadingTimeout, res.State)
}

func TestChecksumMismatch(t *testing.T) {
	f := newFixture(t)
	f.server.Corrupt(core.ComponentGimbal)

	res := f.run(core.ComponentGimbal, core.ModeUpdate)

	assert.Equal(t, core.StateError, res.State)
	assert.ErrorIs(t, res.Err, core.ErrChecksumMismatch)
	assert.False(t, res.DeviceModified)
}

func TestPayloadRefused(t *testing.T) {
	f := newFixture(t)
	f.server.Withdraw(core.ComponentCamera)

	res := f.run(core.ComponentCamera, core.ModeUpdate)

	assert.Equal(t, core.StateUpdateServerNotFound, res.State)
	assert.Equal(t, []core.State{
		core.StateIdle,
		core.StateConnectingToVehicle,
		core.StateConnectingToUpdateServer,
		core.StateDownloading,
		core.StateUpdateServerNotFound,
	}, f.sink.states())
}

func TestFlashFailureMarksDeviceModified(t *testing.T) {
	f := newFixture(t)
	f.vehicle.Configure(core.ComponentAutopilot, func(u *sim.Unit) { u.FlashErr = errors.New("bad block") })

	res := f.run(core.ComponentAutopilot, core.ModeUpdate)

	assert.Equal(t, core.StateError, res.State)
	assert.True(t, res.DeviceModified)
	assert.NotContains(t, f.sink.states(), core.StateRebooting)
}

func TestVerifyFailure(t *testing.T) {
	f := newFixture(t)
	f.cfg.VerifyTimeout = 30 * time.Millisecond
	f.vehicle.RebootDowntime = time.Hour

	res := f.run(core.ComponentGimbal, core.ModeUpdate)

	assert.Equal(t, core.StateError, res.State)
	assert.True(t, res.DeviceModified)
	assert.Equal(t, core.StateVerifying, f.sink.states()[len(f.sink.states())-2])
}
