package options

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"

	"github.com/autopeer-io/skypeer/internal/update/version"
)

var _ IOptions = (*VehicleOptions)(nil)

// VehicleOptions shape the simulated vehicle served by speer-vehicle-agent.
type VehicleOptions struct {
	Installed      string        `json:"installed" mapstructure:"installed"`
	Battery        int           `json:"battery" mapstructure:"battery"`
	FlashDuration  time.Duration `json:"flash-duration" mapstructure:"flash-duration"`
	RebootDowntime time.Duration `json:"reboot-downtime" mapstructure:"reboot-downtime"`
	HandleTimeout  time.Duration `json:"handle-timeout" mapstructure:"handle-timeout"`
	SpoolDir       string        `json:"spool-dir" mapstructure:"spool-dir"`
}

func NewVehicleOptions() *VehicleOptions {
	return &VehicleOptions{
		Installed:      "1.0.0",
		Battery:        90,
		FlashDuration:  2 * time.Second,
		RebootDowntime: 5 * time.Second,
		HandleTimeout:  2 * time.Minute,
		SpoolDir:       filepath.Join(os.TempDir(), "skypeer-spool"),
	}
}

func (o *VehicleOptions) Validate() []error {
	errs := []error{}

	if !version.Parse(o.Installed).Known {
		errs = append(errs, fmt.Errorf("--vehicle.installed is not a version: %q", o.Installed))
	}
	if o.Battery < 0 || o.Battery > 100 {
		errs = append(errs, fmt.Errorf("--vehicle.battery must be within 0..100, got %d", o.Battery))
	}
	if o.FlashDuration < 0 || o.RebootDowntime < 0 {
		errs = append(errs, fmt.Errorf("--vehicle.flash-duration and --vehicle.reboot-downtime cannot be negative"))
	}
	if o.HandleTimeout <= 0 {
		errs = append(errs, fmt.Errorf("--vehicle.handle-timeout must be positive, got %s", o.HandleTimeout))
	}
	if o.SpoolDir == "" {
		errs = append(errs, fmt.Errorf("--vehicle.spool-dir is required"))
	}

	return errs
}

func (o *VehicleOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Installed, "vehicle.installed", o.Installed, "Version every component runs at startup.")
	fs.IntVar(&o.Battery, "vehicle.battery", o.Battery, "Battery level reported by every component.")
	fs.DurationVar(&o.FlashDuration, "vehicle.flash-duration", o.FlashDuration, "How long a flash command takes.")
	fs.DurationVar(&o.RebootDowntime, "vehicle.reboot-downtime", o.RebootDowntime, "How long a component stays unreachable after a reboot.")
	fs.DurationVar(&o.HandleTimeout, "vehicle.handle-timeout", o.HandleTimeout, "Upper bound on the work done for one request.")
	fs.StringVar(&o.SpoolDir, "vehicle.spool-dir", o.SpoolDir, "Directory uploads are reassembled in.")
}
