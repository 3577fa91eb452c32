// Package server implements the release servers: a manifest published over
// HTTP and a manifest kept in an S3 bucket next to the payloads.
package server

import (
	"fmt"
	"net/url"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/autopeer-io/skypeer/internal/update/core"
	"github.com/autopeer-io/skypeer/internal/update/version"
)

// Manifest lists the latest release of every published component. It is
// written in YAML; JSON manifests parse as well.
//
//	releases:
//	  - component: Autopilot
//	    version: 1.2.0
//	    mandatory: true
//	    url: autopilot/1.2.0.bin
//	    size: 1048576
//	    sha256: 9f86d08...
type Manifest struct {
	Releases []ManifestEntry `yaml:"releases" json:"releases"`
}

type ManifestEntry struct {
	Component string `yaml:"component" json:"component"`
	Version   string `yaml:"version" json:"version"`
	Mandatory bool   `yaml:"mandatory" json:"mandatory"`
	URL       string `yaml:"url" json:"url"`
	Size      int64  `yaml:"size" json:"size"`
	SHA256    string `yaml:"sha256" json:"sha256"`
}

// ParseManifest decodes a manifest and indexes it by component. Entries with
// an unknown component or an unparsable version are errors; a later entry for
// the same component replaces an earlier one.
func ParseManifest(data []byte) (map[core.Component]ManifestEntry, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	out := make(map[core.Component]ManifestEntry, len(m.Releases))
	for i, e := range m.Releases {
		c, err := core.ParseComponent(e.Component)
		if err != nil {
			return nil, fmt.Errorf("manifest entry %d: %w", i, err)
		}
		if !c.IsConcrete() {
			return nil, fmt.Errorf("manifest entry %d: %s is not a single component", i, c)
		}
		if !version.Parse(e.Version).Known {
			return nil, fmt.Errorf("manifest entry %d: malformed version %q", i, e.Version)
		}
		if e.URL == "" {
			return nil, fmt.Errorf("manifest entry %d: url is required", i)
		}
		out[c] = e
	}
	return out, nil
}

// release converts an entry, resolving its URL with resolve.
func (e ManifestEntry) release(c core.Component, resolve func(string) (string, error)) (*core.Release, error) {
	u, err := resolve(e.URL)
	if err != nil {
		return nil, err
	}
	return &core.Release{
		Component: c,
		Version:   version.Parse(e.Version),
		Mandatory: e.Mandatory,
		URL:       u,
		Size:      e.Size,
		SHA256:    strings.ToLower(e.SHA256),
	}, nil
}

func isAbsoluteURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.Scheme != "" && u.Host != ""
}
