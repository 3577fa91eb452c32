// Package updater assembles the ground station update service: the vehicle
// links, the release server, the orchestrator and its control endpoints.
package updater

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/autopeer-io/skypeer/internal/server"
	"github.com/autopeer-io/skypeer/internal/update"
	"github.com/autopeer-io/skypeer/pkg/log"
)

// stopTimeout bounds the goodbye published on shutdown.
const stopTimeout = 3 * time.Second

// starter is a link that holds a connection.
type starter interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context)
}

type Updater struct {
	orch    *update.Orchestrator
	links   []starter
	servers *server.Manager
}

func (u *Updater) Orchestrator() *update.Orchestrator {
	return u.orch
}

// Run serves the control endpoints until ctx is done. The orchestrator is
// enabled once every link is up.
func (u *Updater) Run(ctx context.Context) error {
	log.Info("Starting speer-update")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return u.servers.Start(ctx)
	})
	g.Go(func() error {
		if err := u.startLinks(ctx, backoff.NewExponentialBackOff(backoff.WithMaxElapsedTime(0))); err != nil {
			return err
		}
		u.orch.Enable()
		<-ctx.Done()
		return nil
	})

	err := g.Wait()
	u.orch.Disable()
	u.stopLinks()
	log.Info("speer-update shut down")
	return err
}

// Open brings the links up for a one-shot command and enables the
// orchestrator. The returned func tears everything down.
func (u *Updater) Open(ctx context.Context) (func(), error) {
	if err := u.startLinks(ctx, &backoff.StopBackOff{}); err != nil {
		return nil, err
	}
	u.orch.Enable()
	return func() {
		u.orch.Disable()
		u.stopLinks()
	}, nil
}

func (u *Updater) startLinks(ctx context.Context, b backoff.BackOff) error {
	for _, l := range u.links {
		err := backoff.RetryNotify(func() error {
			attemptCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return l.Start(attemptCtx)
		}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
			log.Warn("Link not up yet", "error", err, "retryIn", next)
		})
		if err != nil {
			return fmt.Errorf("failed to start link: %w", err)
		}
	}
	return nil
}

func (u *Updater) stopLinks() {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	for _, l := range u.links {
		l.Stop(ctx)
	}
}
