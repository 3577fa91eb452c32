package options

import (
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/skypeer/internal/updater"
	"github.com/autopeer-io/skypeer/pkg/app"
	"github.com/autopeer-io/skypeer/pkg/log"
	"github.com/autopeer-io/skypeer/pkg/options"
)

type UpdaterOptions struct {
	UpdateOptions *options.UpdateOptions `json:"update" mapstructure:"update"`
	MqttOptions   *options.MqttOptions   `json:"mqtt" mapstructure:"mqtt"`
	S3Options     *options.S3Options     `json:"s3" mapstructure:"s3"`
	ADBOptions    *options.ADBOptions    `json:"adb" mapstructure:"adb"`
	HttpOptions   *options.HttpOptions   `json:"http" mapstructure:"http"`
	GrpcOptions   *options.GrpcOptions   `json:"grpc" mapstructure:"grpc"`
	Log           *log.Options           `json:"log" mapstructure:"log"`
}

var (
	_ app.NamedFlagSetOptions = (*UpdaterOptions)(nil)
	_ app.LogOptionsProvider  = (*UpdaterOptions)(nil)
)

func NewUpdaterOptions() *UpdaterOptions {
	o := &UpdaterOptions{
		UpdateOptions: options.NewUpdateOptions(),
		MqttOptions:   options.NewMqttOptions(),
		S3Options:     options.NewS3Options(),
		ADBOptions:    options.NewADBOptions(),
		HttpOptions:   options.NewHttpOptions(),
		GrpcOptions:   options.NewGrpcOptions(),
		Log:           log.NewOptions(),
	}

	return o
}

func (o *UpdaterOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	o.UpdateOptions.AddFlags(fss.FlagSet("update"))
	o.MqttOptions.AddFlags(fss.FlagSet("mqtt"))
	o.S3Options.AddFlags(fss.FlagSet("s3"))
	o.ADBOptions.AddFlags(fss.FlagSet("adb"))
	o.HttpOptions.AddFlags(fss.FlagSet("http"))
	o.GrpcOptions.AddFlags(fss.FlagSet("grpc"))
	o.Log.AddFlags(fss.FlagSet("log"))
	return fss
}

func (o *UpdaterOptions) Complete() error {
	if o.Log.Name == "" {
		o.Log.Name = "speer-update"
	}
	return nil
}

// Validate skips the groups a simulated run does not use.
func (o *UpdaterOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.UpdateOptions.Validate()...)
	if !o.UpdateOptions.Simulate {
		errs = append(errs, o.MqttOptions.Validate()...)
		errs = append(errs, o.ADBOptions.Validate()...)
		if o.UpdateOptions.ReleaseServer == options.ReleaseServerS3 {
			errs = append(errs, o.S3Options.Validate()...)
		}
	}
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.GrpcOptions.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	return utilerrors.NewAggregate(errs)
}

func (o *UpdaterOptions) LogOptions() *log.Options {
	return o.Log
}

func (o *UpdaterOptions) Config() (*updater.Config, error) {
	return &updater.Config{
		UpdateOptions: o.UpdateOptions,
		MqttOptions:   o.MqttOptions,
		S3Options:     o.S3Options,
		ADBOptions:    o.ADBOptions,
		HttpOptions:   o.HttpOptions,
		GrpcOptions:   o.GrpcOptions,
	}, nil
}
