// Package update is the public surface of the update subsystem: it admits one
// session at a time, fans out one driver per component and serialises their
// reports into the caller's callbacks.
package update

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/autopeer-io/skypeer/internal/pkg/metrics"
	"github.com/autopeer-io/skypeer/internal/update/core"
	"github.com/autopeer-io/skypeer/internal/update/driver"
	"github.com/autopeer-io/skypeer/internal/update/registry"
	"github.com/autopeer-io/skypeer/internal/update/session"
	"github.com/autopeer-io/skypeer/internal/update/version"
	"github.com/autopeer-io/skypeer/pkg/log"
)

// Deps are the collaborators injected into the orchestrator.
type Deps struct {
	Transport  core.Transport
	Server     core.ReleaseServer
	Downloader core.Downloader
	Uploader   core.Uploader
}

// Orchestrator is created disabled; call Enable before requesting sessions.
type Orchestrator struct {
	deps     driver.Deps
	cfg      driver.Config
	registry *registry.Registry
	gate     session.Gate
	enabled  atomic.Bool
	logger   log.Logger

	newSession func(context.Context, core.Mode, ...core.Component) *session.Session
}

func New(deps Deps, cfg driver.Config) *Orchestrator {
	reg := registry.New()
	return &Orchestrator{
		deps: driver.Deps{
			Transport:  deps.Transport,
			Server:     deps.Server,
			Downloader: deps.Downloader,
			Uploader:   deps.Uploader,
			Registry:   reg,
		},
		cfg:        cfg,
		registry:   reg,
		logger:     log.WithName("update"),
		newSession: session.New,
	}
}

func (o *Orchestrator) Enable() {
	if o.enabled.CompareAndSwap(false, true) {
		o.logger.Info("Update subsystem enabled")
	}
}

// Disable rejects further requests and cancels the running session, if any.
func (o *Orchestrator) Disable() {
	if !o.enabled.CompareAndSwap(true, false) {
		return
	}
	o.logger.Info("Update subsystem disabled")
	if s := o.gate.Active(); s != nil && s.Cancel() {
		o.logger.Info("Active session cancelled", "session", s.ID())
	}
}

func (o *Orchestrator) Enabled() bool {
	return o.enabled.Load()
}

// request describes one do_* call.
type request struct {
	kind            string
	mode            core.Mode
	targets         []core.Component
	progress        core.ProgressFunc
	version         core.VersionFunc
	deleteInstalled bool
}

// DoFirmwareUpdate updates the autopilot, camera and gimbal.
func (o *Orchestrator) DoFirmwareUpdate(ctx context.Context, progress core.ProgressFunc) (*session.Session, error) {
	return o.start(ctx, request{
		kind:     "firmware",
		mode:     core.ModeUpdate,
		targets:  []core.Component{core.ComponentFirmware},
		progress: progress,
	})
}

// DoAppUpdate updates the companion applications. With checkVersionOnly the
// drivers stop after the version check.
func (o *Orchestrator) DoAppUpdate(ctx context.Context, progress core.ProgressFunc, versionFn core.VersionFunc, checkVersionOnly bool) (*session.Session, error) {
	mode := core.ModeUpdate
	if checkVersionOnly {
		mode = core.ModeCheckOnly
	}
	return o.start(ctx, request{
		kind:     "apps",
		mode:     mode,
		targets:  []core.Component{core.ComponentApps},
		progress: progress,
		version:  versionFn,
	})
}

// DoVersionCheck checks every concrete component. With deleteInstalled the
// installed versions of live-queryable components are forgotten before the
// call returns, so the drivers query them again.
func (o *Orchestrator) DoVersionCheck(ctx context.Context, versionFn core.VersionFunc, deleteInstalled bool) (*session.Session, error) {
	return o.start(ctx, request{
		kind:            "check",
		mode:            core.ModeCheckOnly,
		targets:         core.ConcreteComponents(),
		version:         versionFn,
		deleteInstalled: deleteInstalled,
	})
}

// SetAppVersion seeds the installed versions of the components that cannot be
// queried. Malformed text stores the unknown version.
func (o *Orchestrator) SetAppVersion(datapilot, updaterApp, st16s string) {
	seeds := map[core.Component]string{
		core.ComponentDatapilot:  datapilot,
		core.ComponentUpdaterApp: updaterApp,
		core.ComponentST16S:      st16s,
	}
	for c, text := range seeds {
		v := version.Parse(text)
		if !v.Known && text != "" {
			o.logger.Warn("Ignoring malformed app version", "component", c, "text", text)
		}
		// Parse never yields a partial record.
		_ = o.registry.RecordInstalled(c, v)
	}
}

// Cancel cancels the running session. It returns false when none is running.
func (o *Orchestrator) Cancel() bool {
	s := o.gate.Active()
	if s == nil {
		return false
	}
	return s.Cancel()
}

// ActiveSession returns the running session, or nil.
func (o *Orchestrator) ActiveSession() *session.Session {
	return o.gate.Active()
}

func (o *Orchestrator) start(ctx context.Context, req request) (*session.Session, error) {
	if !o.Enabled() {
		metrics.SessionsTotal.WithLabelValues(req.kind, "disabled").Inc()
		return nil, core.ErrDisabled
	}

	s := o.newSession(ctx, req.mode, req.targets...)
	if !o.gate.TryAcquire(s) {
		s.Cancel()
		metrics.SessionsTotal.WithLabelValues(req.kind, "busy").Inc()
		if active := o.gate.Active(); active != nil {
			o.logger.Warn("Request rejected, session active", "kind", req.kind, "active", active.ID())
		}
		if req.progress != nil {
			req.progress(0, core.StateError, core.ComponentNone)
		}
		if req.version != nil {
			req.version(core.ComponentNone, core.InstructionUpdateProcessOngoing, "", "")
		}
		return nil, core.ErrSessionActive
	}
	if !o.Enabled() {
		// Disabled while acquiring.
		o.gate.Release(s)
		s.Cancel()
		metrics.SessionsTotal.WithLabelValues(req.kind, "disabled").Inc()
		return nil, core.ErrDisabled
	}

	if req.deleteInstalled {
		for _, c := range s.Targets() {
			if core.CapabilitiesOf(c).LiveQuery {
				o.registry.ClearInstalled(c)
			}
		}
	}

	metrics.SessionsTotal.WithLabelValues(req.kind, "started").Inc()
	metrics.SessionActive.Set(1)
	o.logger.Info("Session started", "session", s.ID(), "kind", req.kind, "mode", req.mode, "targets", len(s.Targets()))

	go o.run(s, req)
	return s, nil
}

// run owns the session until every driver is terminal and every report was
// delivered, then frees the gate.
func (o *Orchestrator) run(s *session.Session, req request) {
	reports := make(chan report, 64)
	delivered := make(chan struct{})
	go func() {
		defer close(delivered)
		for r := range reports {
			r.deliver(s, req)
		}
	}()

	var opts []driver.Option
	if req.mode == core.ModeCheckOnly && !req.deleteInstalled {
		opts = append(opts, driver.WithCachedInstalled())
	}

	targets := s.Targets()
	results := make([]core.Result, len(targets))
	sink := &channelSink{ch: reports}

	var g errgroup.Group
	for i, c := range targets {
		d := driver.New(c, req.mode, o.cfg, o.deps, sink, opts...)
		g.Go(func() error {
			results[i] = d.Run(s.Context())
			return nil
		})
	}
	_ = g.Wait()

	close(reports)
	<-delivered

	for _, r := range results {
		metrics.ComponentResults.WithLabelValues(r.Component.String(), r.State.String()).Inc()
		if r.Err != nil {
			o.logger.Error(r.Err, "Component did not finish", "session", s.ID(), "component", r.Component,
				"state", r.State, "deviceModified", r.DeviceModified)
		}
	}
	o.logger.Info("Session finished", "session", s.ID(), "cancelled", s.Cancelled())

	o.gate.Release(s)
	metrics.SessionActive.Set(0)
	s.Finish(results)
}
