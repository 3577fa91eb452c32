package app

import (
	"fmt"

	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/autopeer-io/skypeer/cmd/speer-update/app/options"
	"github.com/autopeer-io/skypeer/pkg/app"
)

const (
	commandName = "speer-update"
	commandDesc = `speer-update keeps the firmware of a Skypeer vehicle and the apps of its
ground unit up to date. Without a subcommand it serves the update API over
HTTP and the gRPC health service; the subcommands run a single session and
print the outcome.`
)

func NewApp() *app.App {
	opts := options.NewUpdaterOptions()
	application := app.NewApp(
		commandName,
		"Launch the Skypeer ground station updater",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithDefaultValidArgs(),
		app.WithWatchConfig(),
		app.WithRunFunc(run(opts)),
		app.WithSubcommands(
			newCheckCommand(opts),
			newFirmwareCommand(opts),
			newAppsCommand(opts),
		),
	)
	return application
}

func run(opts *options.UpdaterOptions) app.RunFunc {
	return func() error {
		ctx := genericapiserver.SetupSignalContext()

		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		u, err := cfg.NewUpdater()
		if err != nil {
			return fmt.Errorf("failed to create updater: %w", err)
		}

		return u.Run(ctx)
	}
}
