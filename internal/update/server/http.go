package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/autopeer-io/skypeer/internal/update/core"
	"github.com/autopeer-io/skypeer/pkg/log"
)

// maxManifestSize bounds the manifest body.
const maxManifestSize = 1 << 20

// HTTPServer reads the manifest from a URL on every call. Relative payload
// URLs are resolved against the manifest URL.
type HTTPServer struct {
	client   *http.Client
	manifest *url.URL
	logger   log.Logger
}

var _ core.ReleaseServer = (*HTTPServer)(nil)

func NewHTTPServer(manifestURL string, client *http.Client) (*HTTPServer, error) {
	u, err := url.Parse(manifestURL)
	if err != nil {
		return nil, fmt.Errorf("parse manifest url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("manifest url must be http(s), got %q", manifestURL)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPServer{client: client, manifest: u, logger: log.WithName("release").WithValues("server", u.Host)}, nil
}

func (s *HTTPServer) Latest(ctx context.Context, c core.Component) (*core.Release, error) {
	data, err := s.fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest %s: %w", c, err)
	}
	entries, err := ParseManifest(data)
	if err != nil {
		// A broken manifest is the server's fault, not a missing release.
		return nil, fmt.Errorf("latest %s: %v: %w", c, err, core.ErrRejected)
	}
	e, ok := entries[c]
	if !ok {
		return nil, fmt.Errorf("latest %s: %w", c, core.ErrNoRelease)
	}
	return e.release(c, s.resolve)
}

func (s *HTTPServer) resolve(ref string) (string, error) {
	u, err := s.manifest.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("resolve payload url %q: %w", ref, err)
	}
	return u.String(), nil
}

func (s *HTTPServer) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.manifest.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/yaml, application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	defer resp.Body.Close()

	if err := statusError(resp); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestSize+1))
	if err != nil {
		return nil, transportError(ctx, err)
	}
	if err := checkManifestSize(data); err != nil {
		return nil, err
	}
	s.logger.Debug("Fetched manifest", "bytes", len(data))
	return data, nil
}

// checkManifestSize rejects a body read up to one byte past the limit.
func checkManifestSize(data []byte) error {
	if len(data) > maxManifestSize {
		return fmt.Errorf("manifest exceeds %d bytes: %w", maxManifestSize, core.ErrRejected)
	}
	return nil
}

// transportError maps a failed round trip onto the link taxonomy.
func transportError(ctx context.Context, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%v: %w", err, core.ErrTimeout)
	case ctx.Err() != nil:
		return ctx.Err()
	}
	return fmt.Errorf("%v: %w", err, core.ErrUnreachable)
}

// statusError maps non-2xx responses: 404 means nothing is published, other
// client errors are refusals and server errors make the server unreachable.
func statusError(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", resp.Status, core.ErrNoRelease)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%s: %w", resp.Status, core.ErrUnreachable)
	}
	return fmt.Errorf("%s: %w", resp.Status, core.ErrRejected)
}
