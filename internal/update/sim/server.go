package sim

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/autopeer-io/skypeer/internal/update/core"
)

const urlPrefix = "sim://updates/"

// UpdateServer implements core.ReleaseServer and core.Downloader.
type UpdateServer struct {
	mu       sync.Mutex
	releases map[core.Component]*core.Release
	payloads map[string][]byte
	offline  map[core.Component]bool
	silent   map[core.Component]bool

	ChunkSize  int
	ChunkDelay time.Duration
}

var (
	_ core.ReleaseServer = (*UpdateServer)(nil)
	_ core.Downloader    = (*UpdateServer)(nil)
)

func NewUpdateServer() *UpdateServer {
	return &UpdateServer{
		releases:  make(map[core.Component]*core.Release),
		payloads:  make(map[string][]byte),
		offline:   make(map[core.Component]bool),
		silent:    make(map[core.Component]bool),
		ChunkSize: 16 * 1024,
	}
}

// Publish makes v the latest release of c.
func (s *UpdateServer) Publish(c core.Component, v core.VersionRecord, mandatory bool, payload []byte) *core.Release {
	sum := sha256.Sum256(payload)
	rel := &core.Release{
		Component: c,
		Version:   v,
		Mandatory: mandatory,
		URL:       urlPrefix + strings.ToLower(c.String()) + "/" + v.String(),
		Size:      int64(len(payload)),
		SHA256:    hex.EncodeToString(sum[:]),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.releases[c] = rel
	s.payloads[rel.URL] = append([]byte(nil), payload...)
	return rel
}

// Corrupt flips the first payload byte of c's release, leaving its digest stale.
func (s *UpdateServer) Corrupt(c core.Component) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rel, ok := s.releases[c]; ok {
		if p := s.payloads[rel.URL]; len(p) > 0 {
			p[0] ^= 0xff
		}
	}
}

// Withdraw removes the payload of c while keeping its metadata.
func (s *UpdateServer) Withdraw(c core.Component) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rel, ok := s.releases[c]; ok {
		delete(s.payloads, rel.URL)
	}
}

func (s *UpdateServer) SetOffline(c core.Component, offline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline[c] = offline
}

func (s *UpdateServer) SetSilent(c core.Component, silent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silent[c] = silent
}

// Releases lists the published releases ordered by component.
func (s *UpdateServer) Releases() []core.Release {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Release, 0, len(s.releases))
	for _, rel := range s.releases {
		out = append(out, *rel)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Component < out[j].Component })
	return out
}

func (s *UpdateServer) Latest(ctx context.Context, c core.Component) (*core.Release, error) {
	s.mu.Lock()
	rel, ok := s.releases[c]
	offline, silent := s.offline[c], s.silent[c]
	s.mu.Unlock()

	switch {
	case silent:
		<-ctx.Done()
		return nil, fmt.Errorf("latest %s: %w", c, core.ErrTimeout)
	case offline:
		return nil, fmt.Errorf("latest %s: %w", c, core.ErrUnreachable)
	case !ok:
		return nil, fmt.Errorf("latest %s: %w", c, core.ErrNoRelease)
	}
	cp := *rel
	return &cp, nil
}

func (s *UpdateServer) Download(ctx context.Context, url string, w io.Writer, progress core.TransferFunc) (int64, error) {
	s.mu.Lock()
	payload, ok := s.payloads[url]
	chunk, delay := s.ChunkSize, s.ChunkDelay
	s.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("download %s: %w", url, core.ErrRejected)
	}
	if chunk <= 0 {
		chunk = len(payload)
	}

	total := int64(len(payload))
	var done int64
	for done < total {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return done, ctx.Err()
			}
		} else if err := ctx.Err(); err != nil {
			return done, err
		}

		end := done + int64(chunk)
		if end > total {
			end = total
		}
		n, err := w.Write(payload[done:end])
		done += int64(n)
		if err != nil {
			return done, err
		}
		if progress != nil {
			progress(done, total)
		}
	}
	return done, nil
}
