// Package driver runs the update state machine of a single component.
package driver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/looplab/fsm"

	"github.com/autopeer-io/skypeer/internal/pkg/metrics"
	fsmutil "github.com/autopeer-io/skypeer/internal/pkg/util/fsm"
	"github.com/autopeer-io/skypeer/internal/update/core"
	"github.com/autopeer-io/skypeer/internal/update/registry"
	"github.com/autopeer-io/skypeer/pkg/log"
)

const (
	eventConnectVehicle  = "connect_vehicle"
	eventConnectServer   = "connect_server"
	eventDownload        = "download"
	eventUpload          = "upload"
	eventFlash           = "flash"
	eventReboot          = "reboot"
	eventVerify          = "verify"
	eventFinish          = "finish"
	eventVehicleNotFound = "vehicle_not_found"
	eventServerNotFound  = "server_not_found"
	eventDownloadTimeout = "download_timeout"
	eventUploadTimeout   = "upload_timeout"
	eventBatteryLow      = "battery_low"
	eventNoStorage       = "no_storage"
	eventCancel          = "cancel"
	eventFail            = "fail"
)

// cancellable lists the forward events guarded by the cancellation check.
// Nothing after flash is.
var cancellable = map[string]bool{
	eventConnectVehicle: true,
	eventConnectServer:  true,
	eventDownload:       true,
	eventUpload:         true,
	eventFlash:          true,
}

// Sink receives the reports of a driver in the order they happen.
type Sink interface {
	Progress(ev core.ProgressEvent)
	Version(ev core.VersionEvent)
}

// Deps are the collaborators a driver talks to.
type Deps struct {
	Transport  core.Transport
	Server     core.ReleaseServer
	Downloader core.Downloader
	Uploader   core.Uploader
	Registry   *registry.Registry
}

type Option func(*Driver)

// WithCachedInstalled lets a check-only driver skip the live query when the
// registry already holds an installed version.
func WithCachedInstalled() Option {
	return func(d *Driver) { d.reuseInstalled = true }
}

// Driver is single-use: create one per component per session.
type Driver struct {
	component core.Component
	caps      core.Capabilities
	mode      core.Mode
	cfg       Config
	deps      Deps
	sink      Sink
	logger    log.Logger

	fsm     *fsm.FSM
	phases  map[core.State]func(ctx context.Context) string
	state   core.State
	entered time.Time
	// session is the context Run was called with; it carries the cancellation.
	session context.Context

	progress       int
	instruction    core.Instruction
	release        *core.Release
	payload        string
	size           int64
	reuseInstalled bool
	deviceModified bool
	err            error
}

func New(c core.Component, mode core.Mode, cfg Config, deps Deps, sink Sink, opts ...Option) *Driver {
	d := &Driver{
		component: c,
		caps:      core.CapabilitiesOf(c),
		mode:      mode,
		cfg:       cfg,
		deps:      deps,
		sink:      sink,
		logger:    log.WithName("driver").WithValues("component", c.String(), "mode", mode.String()),
		state:     core.StateIdle,
	}
	for _, opt := range opts {
		opt(d)
	}

	d.phases = map[core.State]func(ctx context.Context) string{
		core.StateConnectingToVehicle:      d.connectVehicle,
		core.StateConnectingToUpdateServer: d.connectServer,
		core.StateDownloading:              d.download,
		core.StateUploading:                d.upload,
		core.StateFlashing:                 d.flash,
		core.StateRebooting:                d.reboot,
		core.StateVerifying:                d.verify,
	}
	d.fsm = newStateMachine(d)
	return d
}

func newStateMachine(d *Driver) *fsm.FSM {
	s := func(st core.State) string { return st.String() }
	nonTerminal := []string{
		s(core.StateIdle), s(core.StateConnectingToVehicle), s(core.StateConnectingToUpdateServer),
		s(core.StateDownloading), s(core.StateUploading), s(core.StateFlashing),
		s(core.StateRebooting), s(core.StateVerifying),
	}

	events := fsm.Events{
		{Name: eventConnectVehicle, Src: []string{s(core.StateIdle)}, Dst: s(core.StateConnectingToVehicle)},
		{Name: eventConnectServer, Src: []string{s(core.StateConnectingToVehicle)}, Dst: s(core.StateConnectingToUpdateServer)},
		{Name: eventDownload, Src: []string{s(core.StateConnectingToUpdateServer)}, Dst: s(core.StateDownloading)},
		{Name: eventUpload, Src: []string{s(core.StateDownloading)}, Dst: s(core.StateUploading)},
		{Name: eventFlash, Src: []string{s(core.StateUploading)}, Dst: s(core.StateFlashing)},
		{Name: eventReboot, Src: []string{s(core.StateFlashing)}, Dst: s(core.StateRebooting)},
		{Name: eventVerify, Src: []string{s(core.StateRebooting)}, Dst: s(core.StateVerifying)},
		{Name: eventFinish, Src: []string{s(core.StateConnectingToUpdateServer), s(core.StateVerifying)}, Dst: s(core.StateFinished)},

		// Failures
		{Name: eventVehicleNotFound, Src: []string{s(core.StateConnectingToVehicle)}, Dst: s(core.StateVehicleNotFound)},
		{Name: eventServerNotFound, Src: []string{s(core.StateConnectingToUpdateServer), s(core.StateDownloading)}, Dst: s(core.StateUpdateServerNotFound)},
		{Name: eventDownloadTimeout, Src: []string{s(core.StateDownloading)}, Dst: s(core.StateDownloadingTimeout)},
		{Name: eventUploadTimeout, Src: []string{s(core.StateUploading)}, Dst: s(core.StateUploadingTimeout)},
		{Name: eventBatteryLow, Src: []string{s(core.StateUploading)}, Dst: s(core.StateBatteryTooLow)},
		{Name: eventNoStorage, Src: []string{s(core.StateUploading)}, Dst: s(core.StateSDCardNotInserted)},
		{Name: eventFail, Src: nonTerminal, Dst: s(core.StateError)},

		// Cancellation is only reachable before flashing.
		{Name: eventCancel, Src: nonTerminal[:5], Dst: s(core.StateCancelled)},
	}

	callbacks := fsm.Callbacks{
		// Guards
		"before_event": fsmutil.WrapEvent(d.guardCancelled),

		// Side-Effects
		"enter_state": fsmutil.WrapEvent(d.enterState),
	}

	return fsm.NewFSM(s(core.StateIdle), events, callbacks)
}

// Run drives the component to a terminal state. It returns once the terminal
// state was reported.
func (d *Driver) Run(ctx context.Context) core.Result {
	defer d.cleanup()

	d.session = ctx
	d.entered = time.Now()
	d.emit(core.StateIdle, 0)

	next := eventConnectVehicle
	for next != "" {
		next = d.fire(ctx, next)
	}

	d.logger.Info("Driver finished", "state", d.state, "instruction", d.instruction)
	return d.result()
}

// fire triggers event and runs the phase of the state it leads to, returning
// the next event or "" once terminal.
func (d *Driver) fire(ctx context.Context, event string) string {
	// looplab/fsm refuses to transition on a done context, so the machine
	// never sees the session context directly.
	err := d.fsm.Event(context.WithoutCancel(ctx), event)
	switch {
	case fsmutil.IsCanceled(err):
		d.logger.Info("Cancellation honoured", "state", d.state, "event", event)
		return eventCancel
	case fsmutil.IsRealError(err):
		d.logger.Error(err, "Transition failed", "state", d.state, "event", event)
		if d.err == nil {
			d.err = err
		}
		if event == eventFail || d.state.IsTerminal() {
			return ""
		}
		return eventFail
	}

	if d.state.IsTerminal() {
		return ""
	}
	phase, ok := d.phases[d.state]
	if !ok {
		return ""
	}
	if d.deviceModified {
		// Flashing has begun: the remaining phases must run to completion.
		ctx = context.WithoutCancel(ctx)
	}
	return phase(ctx)
}

// guardCancelled is a "Guard" callback.
// It stops any forward transition up to flashing once the session is cancelled.
// Finish is guarded too unless the device was already modified.
func (d *Driver) guardCancelled(_ context.Context, e *fsm.Event) error {
	guarded := cancellable[e.Event] || (e.Event == eventFinish && !d.deviceModified)
	if !guarded {
		return nil
	}
	if err := d.session.Err(); err != nil {
		e.Cancel(err)
	}
	return nil
}

// enterState is a "Side-Effect" callback.
// It reports every state entered, in order.
func (d *Driver) enterState(_ context.Context, e *fsm.Event) error {
	state, err := core.ParseState(e.Dst)
	if err != nil {
		return err
	}

	metrics.PhaseDuration.WithLabelValues(d.component.String(), d.state.String()).
		Observe(time.Since(d.entered).Seconds())
	d.state = state
	d.entered = time.Now()

	switch {
	case state == core.StateFinished:
		d.progress = 100
	case state.IsTerminal():
		// Keep the progress reached by the failed phase.
	default:
		d.progress = 0
	}
	if state == core.StateFlashing {
		d.deviceModified = true
	}

	d.logger.Debug("Entered state", "from", e.Src, "to", e.Dst)
	d.emit(state, d.progress)
	return nil
}

func (d *Driver) emit(state core.State, progress int) {
	d.sink.Progress(core.ProgressEvent{Progress: progress, State: state, Component: d.component})
}

// setInstruction stores the instruction and emits the version report.
func (d *Driver) setInstruction(i core.Instruction) {
	d.instruction = i
	d.deps.Registry.SetInstruction(d.component, i)

	installed, latest := d.deps.Registry.Get(d.component)
	d.sink.Version(core.VersionEvent{
		Component:   d.component,
		Instruction: i,
		Latest:      latest.String(),
		Installed:   installed.String(),
	})
}

// transferProgress reports strictly increasing percentages of the current state.
func (d *Driver) transferProgress(fallbackTotal int64) core.TransferFunc {
	return func(done, total int64) {
		if total <= 0 {
			total = fallbackTotal
		}
		if p := core.Percent(done, total); p > d.progress {
			d.progress = p
			d.emit(d.state, p)
		}
	}
}

func (d *Driver) completeTransfer() {
	if d.progress < 100 {
		d.progress = 100
		d.emit(d.state, 100)
	}
}

func (d *Driver) fail(err error) string {
	d.err = err
	return eventFail
}

func (d *Driver) cleanup() {
	if d.payload == "" {
		return
	}
	if err := os.Remove(d.payload); err != nil && !errors.Is(err, os.ErrNotExist) {
		d.logger.Warn("Failed to remove staged payload", "path", d.payload, "error", err)
	}
}

func (d *Driver) result() core.Result {
	r := core.Result{
		Component:   d.component,
		State:       d.state,
		Instruction: d.instruction,
		Err:         d.err,
	}
	if d.deviceModified && d.state != core.StateFinished {
		r.DeviceModified = true
		if r.Err == nil {
			r.Err = fmt.Errorf("%s failed after flashing began", d.component)
		}
	}
	return r
}
