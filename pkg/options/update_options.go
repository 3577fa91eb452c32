package options

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*UpdateOptions)(nil)

// Release server kinds.
const (
	ReleaseServerHTTP = "http"
	ReleaseServerS3   = "s3"
)

// UpdateOptions configure the component drivers and the release server.
type UpdateOptions struct {
	ConnectAttempts int           `json:"connect-attempts" mapstructure:"connect-attempts"`
	RetryInterval   time.Duration `json:"retry-interval" mapstructure:"retry-interval"`
	ConnectTimeout  time.Duration `json:"connect-timeout" mapstructure:"connect-timeout"`
	DownloadTimeout time.Duration `json:"download-timeout" mapstructure:"download-timeout"`
	UploadTimeout   time.Duration `json:"upload-timeout" mapstructure:"upload-timeout"`
	FlashTimeout    time.Duration `json:"flash-timeout" mapstructure:"flash-timeout"`
	VerifyTimeout   time.Duration `json:"verify-timeout" mapstructure:"verify-timeout"`
	VerifyInterval  time.Duration `json:"verify-interval" mapstructure:"verify-interval"`
	MinBatteryLevel int           `json:"min-battery-level" mapstructure:"min-battery-level"`
	WorkDir         string        `json:"work-dir" mapstructure:"work-dir"`

	// ReleaseServer selects where the latest versions are published.
	ReleaseServer string `json:"release-server" mapstructure:"release-server"`
	// ManifestURL is read when ReleaseServer is "http".
	ManifestURL string `json:"manifest-url" mapstructure:"manifest-url"`

	// Simulate replaces the vehicle and the release server with in-process fakes.
	Simulate bool `json:"simulate" mapstructure:"simulate"`
}

func NewUpdateOptions() *UpdateOptions {
	return &UpdateOptions{
		ConnectAttempts: 3,
		RetryInterval:   500 * time.Millisecond,
		ConnectTimeout:  5 * time.Second,
		DownloadTimeout: 10 * time.Minute,
		UploadTimeout:   10 * time.Minute,
		FlashTimeout:    5 * time.Minute,
		VerifyTimeout:   3 * time.Minute,
		VerifyInterval:  2 * time.Second,
		MinBatteryLevel: 30,
		WorkDir:         os.TempDir(),
		ReleaseServer:   ReleaseServerHTTP,
		ManifestURL:     "http://127.0.0.1:8000/manifest.yaml",
	}
}

func (o *UpdateOptions) Validate() []error {
	errs := []error{}

	if o.ConnectAttempts < 1 {
		errs = append(errs, fmt.Errorf("--update.connect-attempts must be at least 1, got %d", o.ConnectAttempts))
	}
	for name, d := range map[string]time.Duration{
		"connect-timeout":  o.ConnectTimeout,
		"download-timeout": o.DownloadTimeout,
		"upload-timeout":   o.UploadTimeout,
		"flash-timeout":    o.FlashTimeout,
		"verify-timeout":   o.VerifyTimeout,
		"verify-interval":  o.VerifyInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("--update.%s must be positive, got %s", name, d))
		}
	}
	if o.MinBatteryLevel < 0 || o.MinBatteryLevel > 100 {
		errs = append(errs, fmt.Errorf("--update.min-battery-level must be within 0..100, got %d", o.MinBatteryLevel))
	}
	if o.WorkDir == "" {
		errs = append(errs, fmt.Errorf("--update.work-dir is required"))
	}

	switch o.ReleaseServer {
	case ReleaseServerHTTP:
		if u, err := url.Parse(o.ManifestURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, fmt.Errorf("--update.manifest-url must be an http(s) url, got %q", o.ManifestURL))
		}
	case ReleaseServerS3:
	default:
		errs = append(errs, fmt.Errorf("--update.release-server must be %q or %q, got %q",
			ReleaseServerHTTP, ReleaseServerS3, o.ReleaseServer))
	}

	return errs
}

func (o *UpdateOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.IntVar(&o.ConnectAttempts, "update.connect-attempts", o.ConnectAttempts, "Attempts made to reach a component and the release server.")
	fs.DurationVar(&o.RetryInterval, "update.retry-interval", o.RetryInterval, "Initial delay between connection attempts.")
	fs.DurationVar(&o.ConnectTimeout, "update.connect-timeout", o.ConnectTimeout, "Deadline of a single request on the link.")
	fs.DurationVar(&o.DownloadTimeout, "update.download-timeout", o.DownloadTimeout, "Deadline for downloading a payload.")
	fs.DurationVar(&o.UploadTimeout, "update.upload-timeout", o.UploadTimeout, "Deadline for uploading a payload to the component.")
	fs.DurationVar(&o.FlashTimeout, "update.flash-timeout", o.FlashTimeout, "Deadline for the component to flash a payload.")
	fs.DurationVar(&o.VerifyTimeout, "update.verify-timeout", o.VerifyTimeout, "Deadline for the component to come back after a reboot.")
	fs.DurationVar(&o.VerifyInterval, "update.verify-interval", o.VerifyInterval, "Polling interval while waiting for a reboot.")
	fs.IntVar(&o.MinBatteryLevel, "update.min-battery-level", o.MinBatteryLevel, "Battery charge in percent required before flashing.")
	fs.StringVar(&o.WorkDir, "update.work-dir", o.WorkDir, "Directory staging downloaded payloads.")
	fs.StringVar(&o.ReleaseServer, "update.release-server", o.ReleaseServer, "Where releases are published ('http' or 's3').")
	fs.StringVar(&o.ManifestURL, "update.manifest-url", o.ManifestURL, "URL of the release manifest when the release server is 'http'.")
	fs.BoolVar(&o.Simulate, "update.simulate", o.Simulate, "Run against a simulated vehicle and release server.")
}
