package app

import (
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/skypeer/pkg/log"
)

// NamedFlagSetOptions is implemented by the option tree of an application.
type NamedFlagSetOptions interface {
	// Flags returns the flags grouped by section.
	Flags() cliflag.NamedFlagSets

	// Complete fills in the fields that depend on other fields.
	Complete() error

	// Validate aggregates every invalid value.
	Validate() error
}

// LogOptionsProvider is implemented by option trees that carry logger options.
// The application initialises the global logger from them.
type LogOptionsProvider interface {
	LogOptions() *log.Options
}
