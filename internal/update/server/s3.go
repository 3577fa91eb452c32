package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/autopeer-io/skypeer/internal/update/core"
	"github.com/autopeer-io/skypeer/pkg/log"
)

// Bucket is the object store the S3 release server reads from.
type Bucket interface {
	// Get returns the object body, or ErrNoRelease when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	// PresignedURL returns a time-limited download URL for key.
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// S3Config addresses the bucket holding the manifest and the payloads.
type S3Config struct {
	Endpoint           string
	AccessKeyID        string
	SecretAccessKey    string
	UseSSL             bool
	InsecureSkipVerify bool
	Bucket             string
	Region             string
	ManifestKey        string
	URLExpiry          time.Duration
}

type minioBucket struct {
	client *minio.Client
	bucket string
}

// NewMinIOBucket opens a bucket on any S3-compatible endpoint.
func NewMinIOBucket(cfg S3Config) (Bucket, error) {
	opts := &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	}
	if cfg.InsecureSkipVerify {
		opts.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	client, err := minio.New(cfg.Endpoint, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return &minioBucket{client: client, bucket: cfg.Bucket}, nil
}

func (b *minioBucket) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, b.mapError(ctx, key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(io.LimitReader(obj, maxManifestSize+1))
	if err != nil {
		return nil, b.mapError(ctx, key, err)
	}
	if err := checkManifestSize(data); err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return data, nil
}

func (b *minioBucket) PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	u, err := b.client.PresignedGetObject(ctx, b.bucket, key, expiry, make(url.Values))
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned url: %w", err)
	}
	return u.String(), nil
}

func (b *minioBucket) mapError(ctx context.Context, key string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return fmt.Errorf("%s/%s: %w", b.bucket, key, core.ErrNoRelease)
	case "AccessDenied":
		return fmt.Errorf("%s/%s: %v: %w", b.bucket, key, err, core.ErrRejected)
	}
	return transportError(ctx, err)
}

// S3Server serves releases from a manifest object. Relative payload URLs are
// object keys in the same bucket and are handed out as presigned URLs.
type S3Server struct {
	bucket      Bucket
	manifestKey string
	expiry      time.Duration
	logger      log.Logger
}

var _ core.ReleaseServer = (*S3Server)(nil)

func NewS3Server(bucket Bucket, manifestKey string, expiry time.Duration) *S3Server {
	if manifestKey == "" {
		manifestKey = "manifest.yaml"
	}
	if expiry <= 0 {
		expiry = time.Hour
	}
	return &S3Server{
		bucket:      bucket,
		manifestKey: manifestKey,
		expiry:      expiry,
		logger:      log.WithName("release").WithValues("server", "s3"),
	}
}

func (s *S3Server) Latest(ctx context.Context, c core.Component) (*core.Release, error) {
	data, err := s.bucket.Get(ctx, s.manifestKey)
	if err != nil {
		return nil, fmt.Errorf("latest %s: %w", c, err)
	}
	entries, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("latest %s: %v: %w", c, err, core.ErrRejected)
	}
	e, ok := entries[c]
	if !ok {
		return nil, fmt.Errorf("latest %s: %w", c, core.ErrNoRelease)
	}
	return e.release(c, func(ref string) (string, error) {
		if isAbsoluteURL(ref) {
			return ref, nil
		}
		u, err := s.bucket.PresignedURL(ctx, ref, s.expiry)
		if err != nil {
			return "", errors.Join(err, core.ErrUnreachable)
		}
		return u, nil
	})
}
