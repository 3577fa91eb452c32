package options

import (
	"errors"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*S3Options)(nil)

// S3Options address the bucket holding the release manifest and payloads.
type S3Options struct {
	Endpoint           string        `json:"endpoint" mapstructure:"endpoint"`
	AccessKeyID        string        `json:"access-key-id" mapstructure:"access-key-id"`
	SecretAccessKey    string        `json:"secret-access-key" mapstructure:"secret-access-key"`
	UseSSL             bool          `json:"use-ssl" mapstructure:"use-ssl"`
	InsecureSkipVerify bool          `json:"insecure-skip-verify" mapstructure:"insecure-skip-verify"`
	BucketName         string        `json:"bucket-name" mapstructure:"bucket-name"`
	Region             string        `json:"region" mapstructure:"region"`
	ManifestKey        string        `json:"manifest-key" mapstructure:"manifest-key"`
	URLExpiry          time.Duration `json:"url-expiry" mapstructure:"url-expiry"`
}

func NewS3Options() *S3Options {
	return &S3Options{
		Endpoint:    "127.0.0.1:9000",
		UseSSL:      false,
		BucketName:  "releases",
		Region:      "us-east-1",
		ManifestKey: "manifest.yaml",
		URLExpiry:   time.Hour,
	}
}

func (o *S3Options) Validate() []error {
	errs := []error{}

	if o.Endpoint == "" {
		errs = append(errs, errors.New("--s3.endpoint is required"))
	}
	if o.BucketName == "" {
		errs = append(errs, errors.New("--s3.bucket-name is required"))
	}
	if o.URLExpiry < time.Second || o.URLExpiry > 7*24*time.Hour {
		errs = append(errs, errors.New("--s3.url-expiry must be between 1s and 7 days"))
	}

	return errs
}

func (o *S3Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Endpoint, "s3.endpoint", o.Endpoint, "S3 service endpoint (e.g. s3.amazonaws.com or minio.local:9000)")
	fs.StringVar(&o.AccessKeyID, "s3.access-key-id", o.AccessKeyID, "S3 access key ID")
	fs.StringVar(&o.SecretAccessKey, "s3.secret-access-key", o.SecretAccessKey, "S3 secret access key")
	fs.BoolVar(&o.UseSSL, "s3.use-ssl", o.UseSSL, "Enable SSL for S3 connection")
	fs.BoolVar(&o.InsecureSkipVerify, "s3.insecure-skip-verify", o.InsecureSkipVerify, "Skip TLS certificate verification of the S3 endpoint")
	fs.StringVar(&o.BucketName, "s3.bucket-name", o.BucketName, "S3 bucket holding the manifest and the payloads")
	fs.StringVar(&o.Region, "s3.region", o.Region, "S3 region")
	fs.StringVar(&o.ManifestKey, "s3.manifest-key", o.ManifestKey, "Object key of the release manifest")
	fs.DurationVar(&o.URLExpiry, "s3.url-expiry", o.URLExpiry, "Lifetime of presigned payload URLs")
}
