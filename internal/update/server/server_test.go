package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/skypeer/internal/update/core"
)

const manifestYAML = `
releases:
  - component: Autopilot
    version: 1.2.0
    mandatory: true
    url: autopilot/1.2.0.bin
    size: 1048576
    sha256: ABCDEF
  - component: camera
    version: v2.0.1
    url: https://cdn.example.com/camera-2.0.1.bin
    size: 2048
`

func TestParseManifest(t *testing.T) {
	entries, err := ParseManifest([]byte(manifestYAML))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[core.ComponentAutopilot].Mandatory)
	assert.Equal(t, "v2.0.1", entries[core.ComponentCamera].Version)

	json := `{"releases":[{"component":"Gimbal","version":"3.1.4","url":"g.bin"}]}`
	entries, err = ParseManifest([]byte(json))
	require.NoError(t, err)
	assert.Equal(t, "3.1.4", entries[core.ComponentGimbal].Version)
}

func TestParseManifestRejects(t *testing.T) {
	tests := map[string]string{
		"unknown component": "releases:\n  - {component: Rotor, version: 1.0.0, url: a}",
		"category":          "releases:\n  - {component: Firmware, version: 1.0.0, url: a}",
		"bad version":       "releases:\n  - {component: Gimbal, version: one, url: a}",
		"missing url":       "releases:\n  - {component: Gimbal, version: 1.0.0}",
		"not yaml":          "releases: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseManifest([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func newMockedHTTPServer(t *testing.T) (*HTTPServer, *httpmock.MockTransport) {
	t.Helper()
	mt := httpmock.NewMockTransport()
	s, err := NewHTTPServer("https://updates.example.com/v1/manifest.yaml", &http.Client{Transport: mt})
	require.NoError(t, err)
	return s, mt
}

func TestHTTPServerLatest(t *testing.T) {
	s, mt := newMockedHTTPServer(t)
	mt.RegisterResponder(http.MethodGet, "https://updates.example.com/v1/manifest.yaml",
		httpmock.NewStringResponder(http.StatusOK, manifestYAML))

	got, err := s.Latest(context.Background(), core.ComponentAutopilot)
	require.NoError(t, err)
	want := &core.Release{
		Component: core.ComponentAutopilot,
		Version:   core.NewVersion(1, 2, 0),
		Mandatory: true,
		URL:       "https://updates.example.com/v1/autopilot/1.2.0.bin",
		Size:      1048576,
		SHA256:    "abcdef",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("release mismatch (-want +got):\n%s", diff)
	}

	got, err = s.Latest(context.Background(), core.ComponentCamera)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/camera-2.0.1.bin", got.URL)
	assert.Equal(t, "2.0.1", got.Version.String())

	_, err = s.Latest(context.Background(), core.ComponentGimbal)
	assert.ErrorIs(t, err, core.ErrNoRelease)

	assert.Equal(t, 3, mt.GetTotalCallCount())
}

func TestHTTPServerErrors(t *testing.T) {
	tests := []struct {
		name      string
		responder httpmock.Responder
		want      error
	}{
		{"not found", httpmock.NewStringResponder(http.StatusNotFound, ""), core.ErrNoRelease},
		{"forbidden", httpmock.NewStringResponder(http.StatusForbidden, ""), core.ErrRejected},
		{"server error", httpmock.NewStringResponder(http.StatusBadGateway, ""), core.ErrUnreachable},
		{"broken manifest", httpmock.NewStringResponder(http.StatusOK, "releases: ["), core.ErrRejected},
		{"connection refused", httpmock.NewErrorResponder(errors.New("connection refused")), core.ErrUnreachable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mt := newMockedHTTPServer(t)
			mt.RegisterResponder(http.MethodGet, "https://updates.example.com/v1/manifest.yaml", tt.responder)

			_, err := s.Latest(context.Background(), core.ComponentGimbal)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestHTTPServerOversizedManifest(t *testing.T) {
	s, mt := newMockedHTTPServer(t)
	padding := "# " + strings.Repeat("x", maxManifestSize) + "\n"
	mt.RegisterResponder(http.MethodGet, "https://updates.example.com/v1/manifest.yaml",
		httpmock.NewStringResponder(http.StatusOK, manifestYAML+padding))

	_, err := s.Latest(context.Background(), core.ComponentAutopilot)
	assert.ErrorIs(t, err, core.ErrRejected)
	assert.ErrorContains(t, err, "manifest exceeds")
}

func TestCheckManifestSize(t *testing.T) {
	assert.NoError(t, checkManifestSize(make([]byte, maxManifestSize)))
	assert.ErrorIs(t, checkManifestSize(make([]byte, maxManifestSize+1)), core.ErrRejected)
}

func TestHTTPServerTimeout(t *testing.T) {
	s, mt := newMockedHTTPServer(t)
	mt.RegisterResponder(http.MethodGet, "https://updates.example.com/v1/manifest.yaml",
		func(req *http.Request) (*http.Response, error) {
			<-req.Context().Done()
			return nil, req.Context().Err()
		})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Latest(ctx, core.ComponentGimbal)
	assert.ErrorIs(t, err, core.ErrTimeout)
}

func TestNewHTTPServerValidates(t *testing.T) {
	_, err := NewHTTPServer("ftp://updates.example.com/manifest.yaml", nil)
	assert.Error(t, err)
	_, err = NewHTTPServer("://", nil)
	assert.Error(t, err)
}

type fakeBucket struct {
	objects map[string]string
	err     error
}

func (b *fakeBucket) Get(_ context.Context, key string) ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	obj, ok := b.objects[key]
	if !ok {
		return nil, core.ErrNoRelease
	}
	return []byte(obj), nil
}

func (b *fakeBucket) PresignedURL(_ context.Context, key string, expiry time.Duration) (string, error) {
	return "https://s3.example.com/firmware/" + key + "?expires=" + expiry.String(), nil
}

func TestS3ServerLatest(t *testing.T) {
	s := NewS3Server(&fakeBucket{objects: map[string]string{"manifest.yaml": manifestYAML}}, "", 0)

	got, err := s.Latest(context.Background(), core.ComponentAutopilot)
	require.NoError(t, err)
	assert.Equal(t, "https://s3.example.com/firmware/autopilot/1.2.0.bin?expires=1h0m0s", got.URL)

	got, err = s.Latest(context.Background(), core.ComponentCamera)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/camera-2.0.1.bin", got.URL)

	_, err = s.Latest(context.Background(), core.ComponentST16S)
	assert.ErrorIs(t, err, core.ErrNoRelease)
}

func TestS3ServerMissingManifest(t *testing.T) {
	s := NewS3Server(&fakeBucket{objects: map[string]string{}}, "releases/manifest.yaml", time.Minute)

	_, err := s.Latest(context.Background(), core.ComponentGimbal)
	assert.ErrorIs(t, err, core.ErrNoRelease)
}

func TestS3ServerUnreachable(t *testing.T) {
	s := NewS3Server(&fakeBucket{err: core.ErrUnreachable}, "", 0)

	_, err := s.Latest(context.Background(), core.ComponentGimbal)
	assert.ErrorIs(t, err, core.ErrUnreachable)
}

func TestMinIOBucketPresign(t *testing.T) {
	b, err := NewMinIOBucket(S3Config{
		Endpoint:        "s3.example.com:9000",
		AccessKeyID:     "ground",
		SecretAccessKey: "secret",
		Bucket:          "firmware",
		Region:          "us-east-1",
	})
	require.NoError(t, err)

	raw, err := b.PresignedURL(context.Background(), "autopilot/1.2.0.bin", 15*time.Minute)
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "http", u.Scheme)
	assert.Equal(t, "s3.example.com:9000", u.Host)
	assert.Equal(t, "/firmware/autopilot/1.2.0.bin", u.Path)
	assert.Equal(t, "900", u.Query().Get("X-Amz-Expires"))
	assert.True(t, strings.HasPrefix(u.Query().Get("X-Amz-Credential"), "ground/"))
	assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
}
