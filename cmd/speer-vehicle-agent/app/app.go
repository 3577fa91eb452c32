package app

import (
	"fmt"

	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/autopeer-io/skypeer/cmd/speer-vehicle-agent/app/options"
	"github.com/autopeer-io/skypeer/pkg/app"
)

const (
	commandName = "speer-vehicle-agent"
	commandDesc = `speer-vehicle-agent stands in for a Skypeer vehicle. It answers the
requests and uploads speer-update sends over MQTT with a simulated autopilot,
camera and gimbal, so update sessions can be rehearsed without hardware.`
)

func NewApp() *app.App {
	opts := options.NewAgentOptions()
	application := app.NewApp(
		commandName,
		"Launch a simulated Skypeer vehicle",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithDefaultValidArgs(),
		app.WithRunFunc(run(opts)),
	)
	return application
}

func run(opts *options.AgentOptions) app.RunFunc {
	return func() error {
		ctx := genericapiserver.SetupSignalContext()

		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		agent, err := cfg.NewAgent()
		if err != nil {
			return fmt.Errorf("failed to create agent: %w", err)
		}

		return agent.Run(ctx)
	}
}
