package options

import (
	"fmt"
	"path"

	"github.com/spf13/pflag"
)

var _ IOptions = (*ADBOptions)(nil)

// ADBOptions address the ground controller through the adb server.
type ADBOptions struct {
	Host       string `json:"host" mapstructure:"host"`
	Port       int    `json:"port" mapstructure:"port"`
	Serial     string `json:"serial" mapstructure:"serial"`
	StagingDir string `json:"staging-dir" mapstructure:"staging-dir"`

	DatapilotPackage  string `json:"datapilot-package" mapstructure:"datapilot-package"`
	UpdaterAppPackage string `json:"updater-app-package" mapstructure:"updater-app-package"`
}

func NewADBOptions() *ADBOptions {
	return &ADBOptions{
		Host:              "localhost",
		Port:              5037,
		StagingDir:        "/data/local/tmp",
		DatapilotPackage:  "com.skypeer.datapilot",
		UpdaterAppPackage: "com.skypeer.updater",
	}
}

func (o *ADBOptions) Validate() []error {
	errs := []error{}

	if o.Port <= 0 || o.Port > 65535 {
		errs = append(errs, fmt.Errorf("--adb.port out of range: %d", o.Port))
	}
	if !path.IsAbs(o.StagingDir) {
		errs = append(errs, fmt.Errorf("--adb.staging-dir must be absolute, got %q", o.StagingDir))
	}

	return errs
}

func (o *ADBOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Host, "adb.host", o.Host, "Host of the adb server.")
	fs.IntVar(&o.Port, "adb.port", o.Port, "Port of the adb server.")
	fs.StringVar(&o.Serial, "adb.serial", o.Serial, "Serial of the ground controller. Empty picks the only attached device.")
	fs.StringVar(&o.StagingDir, "adb.staging-dir", o.StagingDir, "Device directory payloads are pushed to.")
	fs.StringVar(&o.DatapilotPackage, "adb.datapilot-package", o.DatapilotPackage, "Android package of the Datapilot app.")
	fs.StringVar(&o.UpdaterAppPackage, "adb.updater-app-package", o.UpdaterAppPackage, "Android package of the updater app.")
}
