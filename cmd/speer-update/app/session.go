package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/autopeer-io/skypeer/cmd/speer-update/app/options"
	"github.com/autopeer-io/skypeer/internal/update"
	"github.com/autopeer-io/skypeer/internal/update/core"
	"github.com/autopeer-io/skypeer/internal/update/session"
)

// errComponentsFailed makes the process exit non-zero when a component did
// not reach a success state.
var errComponentsFailed = errors.New("one or more components did not update")

// appVersions are the installed versions of the apps, which cannot be queried.
type appVersions struct {
	datapilot  string
	updaterApp string
	st16s      string
}

func (v *appVersions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&v.datapilot, "datapilot-version", "", "Installed version of the Datapilot app.")
	cmd.Flags().StringVar(&v.updaterApp, "updater-app-version", "", "Installed version of the updater app.")
	cmd.Flags().StringVar(&v.st16s, "st16s-version", "", "Installed version of the ST16S system image.")
}

func (v *appVersions) apply(orch *update.Orchestrator) {
	orch.SetAppVersion(v.datapilot, v.updaterApp, v.st16s)
}

// startFunc starts one session on an enabled orchestrator.
type startFunc func(ctx context.Context, orch *update.Orchestrator, r *reporter) (*session.Session, error)

// runSession brings the updater up, runs one session and prints its outcome.
func runSession(cmd *cobra.Command, opts *options.UpdaterOptions, start startFunc) error {
	ctx := genericapiserver.SetupSignalContext()

	cfg, err := opts.Config()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	// One-shot sessions serve nothing.
	cfg.HttpOptions, cfg.GrpcOptions = nil, nil

	u, err := cfg.NewUpdater()
	if err != nil {
		return fmt.Errorf("failed to create updater: %w", err)
	}
	closeFn, err := u.Open(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	orch := u.Orchestrator()
	r := &reporter{out: cmd.OutOrStdout()}
	s, err := start(ctx, orch, r)
	if err != nil {
		return err
	}

	// The first interrupt cancels the session; the drivers then wind down.
	go func() {
		select {
		case <-ctx.Done():
			orch.Cancel()
		case <-s.Done():
		}
	}()
	<-s.Done()

	return printResults(cmd.OutOrStdout(), orch, s.Results())
}

// reporter prints the callbacks as they arrive. The orchestrator never calls
// it concurrently.
type reporter struct {
	out  io.Writer
	last map[core.Component]core.State
}

func (r *reporter) progress(p int, st core.State, c core.Component) {
	if r.last == nil {
		r.last = make(map[core.Component]core.State)
	}
	if prev, ok := r.last[c]; ok && prev == st && st != core.StateDownloading && st != core.StateUploading {
		return
	}
	r.last[c] = st
	fmt.Fprintf(r.out, "%-12s %-26s %3d%%\n", c, st, p)
}

func (r *reporter) version(c core.Component, i core.Instruction, latest, installed string) {
	fmt.Fprintf(r.out, "%-12s %-26s installed=%s latest=%s\n", c, i, orDash(installed), orDash(latest))
}

func printResults(w io.Writer, orch *update.Orchestrator, results []core.Result) error {
	table := uitable.New()
	table.MaxColWidth = 60
	table.Wrap = true
	table.AddRow("COMPONENT", "STATE", "INSTRUCTION", "INSTALLED", "LATEST", "ERROR")

	failed := false
	for _, r := range results {
		errText := ""
		if r.Err != nil {
			errText = r.Err.Error()
		}
		if r.DeviceModified {
			errText = "device modified, manual recovery may be needed: " + errText
		}
		if !r.Succeeded() {
			failed = true
		}
		table.AddRow(r.Component, r.State, r.Instruction,
			orDash(orch.GetVersion(r.Component).String()),
			orDash(orch.LatestVersion(r.Component).String()),
			errText)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, table)

	if failed {
		return errComponentsFailed
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func newCheckCommand(opts *options.UpdaterOptions) *cobra.Command {
	var (
		versions        appVersions
		deleteInstalled bool
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check the installed and latest version of every component",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSession(cmd, opts, func(ctx context.Context, orch *update.Orchestrator, r *reporter) (*session.Session, error) {
				versions.apply(orch)
				return orch.DoVersionCheck(ctx, r.version, deleteInstalled)
			})
		},
	}
	versions.addFlags(cmd)
	cmd.Flags().BoolVar(&deleteInstalled, "delete-installed", false, "Forget cached installed versions and query the components again.")
	return cmd
}

func newFirmwareCommand(opts *options.UpdaterOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "firmware",
		Short: "Update the autopilot, camera and gimbal firmware",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSession(cmd, opts, func(ctx context.Context, orch *update.Orchestrator, r *reporter) (*session.Session, error) {
				return orch.DoFirmwareUpdate(ctx, r.progress)
			})
		},
	}
}

func newAppsCommand(opts *options.UpdaterOptions) *cobra.Command {
	var (
		versions  appVersions
		checkOnly bool
	)
	cmd := &cobra.Command{
		Use:   "apps",
		Short: "Update the ground unit apps",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSession(cmd, opts, func(ctx context.Context, orch *update.Orchestrator, r *reporter) (*session.Session, error) {
				versions.apply(orch)
				return orch.DoAppUpdate(ctx, r.progress, r.version, checkOnly)
			})
		},
	}
	versions.addFlags(cmd)
	cmd.Flags().BoolVar(&checkOnly, "check-only", false, "Stop after the version check.")
	return cmd
}
