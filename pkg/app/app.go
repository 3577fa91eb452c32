// Package app builds the cobra commands of the skypeer binaries: flags grouped
// by section, a config file and the environment layered under them, option
// validation and logger setup before the command runs.
package app

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	cliflag "k8s.io/component-base/cli/flag"
	"k8s.io/component-base/cli/globalflag"
	"k8s.io/component-base/term"

	"github.com/autopeer-io/skypeer/pkg/log"
)

// RunFunc runs the root command once the options are loaded and valid.
type RunFunc func() error

// App is a command line application.
type App struct {
	name        string
	shortDesc   string
	description string
	options     NamedFlagSetOptions
	runFunc     RunFunc
	args        cobra.PositionalArgs
	subcommands []*cobra.Command
	envFile     string
	watch       bool

	cmd *cobra.Command
}

// Option configures an App.
type Option func(*App)

func WithDescription(desc string) Option {
	return func(a *App) { a.description = desc }
}

func WithOptions(opts NamedFlagSetOptions) Option {
	return func(a *App) { a.options = opts }
}

func WithRunFunc(run RunFunc) Option {
	return func(a *App) { a.runFunc = run }
}

// WithDefaultValidArgs rejects positional arguments.
func WithDefaultValidArgs() Option {
	return func(a *App) {
		a.args = func(cmd *cobra.Command, args []string) error {
			for _, arg := range args {
				if len(arg) > 0 {
					return fmt.Errorf("%q does not take any arguments, got %q", cmd.CommandPath(), args)
				}
			}
			return nil
		}
	}
}

// WithSubcommands adds commands that share the options of the application.
func WithSubcommands(cmds ...*cobra.Command) Option {
	return func(a *App) { a.subcommands = append(a.subcommands, cmds...) }
}

// WithEnvFile loads environment variables from a dotenv file, if present,
// before the configuration is read. The default is ".env".
func WithEnvFile(path string) Option {
	return func(a *App) { a.envFile = path }
}

// WithWatchConfig re-applies the log level when the config file changes.
func WithWatchConfig() Option {
	return func(a *App) { a.watch = true }
}

func NewApp(name, shortDesc string, opts ...Option) *App {
	a := &App{
		name:      name,
		shortDesc: shortDesc,
		envFile:   ".env",
	}
	for _, o := range opts {
		o(a)
	}
	a.buildCommand()
	return a
}

// Command returns the root command.
func (a *App) Command() *cobra.Command {
	return a.cmd
}

// Run executes the root command and exits non-zero on failure.
func (a *App) Run() {
	if err := a.cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func (a *App) buildCommand() {
	cmd := &cobra.Command{
		Use:           a.name,
		Short:         a.shortDesc,
		Long:          a.description,
		SilenceUsage:  true,
		SilenceErrors: false,
		Args:          a.args,
	}
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)
	cmd.Flags().SortFlags = true

	var namedfs cliflag.NamedFlagSets
	if a.options != nil {
		namedfs = a.options.Flags()
		for _, f := range namedfs.FlagSets {
			cmd.PersistentFlags().AddFlagSet(f)
		}
		addConfigFlag(namedfs.FlagSet("global"), a.name)
		cmd.PersistentFlags().AddFlagSet(namedfs.FlagSet("global"))
		cmd.PersistentPreRunE = a.load
	}
	globalflag.AddGlobalFlags(namedfs.FlagSet("global"), cmd.Name())
	cmd.Flags().AddFlagSet(namedfs.FlagSet("global"))

	cols, _, _ := term.TerminalSize(cmd.OutOrStdout())
	cliflag.SetUsageAndHelpFunc(cmd, namedfs, cols)

	if a.runFunc != nil {
		cmd.RunE = func(*cobra.Command, []string) error {
			return a.runFunc()
		}
	}
	for _, sub := range a.subcommands {
		cmd.AddCommand(sub)
	}

	a.cmd = cmd
}

// load layers the dotenv file, the environment and the config file under the
// flags, then completes and validates the options.
func (a *App) load(cmd *cobra.Command, _ []string) error {
	if err := loadDotEnv(a.envFile); err != nil {
		return err
	}

	configFile, _ := cmd.Flags().GetString(configFlagName)
	if configFile != "" && !fileExists(configFile) {
		return fmt.Errorf("config file %s not found", configFile)
	}

	v, err := newViper(a.name, configFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := v.Unmarshal(a.options); err != nil {
		return fmt.Errorf("decode options: %w", err)
	}
	if err := a.options.Complete(); err != nil {
		return err
	}
	if err := a.options.Validate(); err != nil {
		return err
	}

	if p, ok := a.options.(LogOptionsProvider); ok {
		log.Init(p.LogOptions())
	}
	if a.watch && configFile != "" {
		watchLogLevel(v)
	}
	log.Debug("Options loaded", "command", cmd.CommandPath(), "config", configFile)
	return nil
}
