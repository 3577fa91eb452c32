// Package server runs the control endpoints of the update subsystem.
package server

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/autopeer-io/skypeer/internal/server/grpc"
	"github.com/autopeer-io/skypeer/internal/server/http"
	"github.com/autopeer-io/skypeer/internal/update"
	"github.com/autopeer-io/skypeer/pkg/log"
)

// Server defines the common interface for all sub-servers.
type Server interface {
	Start(ctx context.Context) error
}

// Manager manages the lifecycle of all protocol servers.
type Manager struct {
	servers []Server
}

// NewManager creates the servers enabled in cfg around orch.
func NewManager(cfg *Config, orch *update.Orchestrator) *Manager {
	var servers []Server

	if cfg.HttpOptions != nil {
		servers = append(servers, http.NewServer(cfg.HttpOptions, orch))
	}
	if cfg.GrpcOptions != nil {
		servers = append(servers, grpc.NewServer(cfg.GrpcOptions, orch))
	}

	return &Manager{servers: servers}
}

// Start launches all servers in parallel and waits for termination. The first
// failing server stops the others.
func (m *Manager) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, srv := range m.servers {
		g.Go(func() error {
			return srv.Start(ctx)
		})
	}

	log.Info("All servers starting...", "count", len(m.servers))
	return g.Wait()
}
