// Package vehicleagent runs a simulated vehicle behind the MQTT link, so
// speer-update can be exercised end to end without hardware.
package vehicleagent

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/autopeer-io/skypeer/pkg/log"
)

const (
	attemptTimeout = 10 * time.Second
	stopTimeout    = 3 * time.Second
)

// server answers the ground station until stopped.
type server interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context)
}

type Agent struct {
	vehicleID string
	server    server
	backoff   func() backoff.BackOff
}

func NewAgent(vid string, s server) *Agent {
	return &Agent{
		vehicleID: vid,
		server:    s,
		backoff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff(backoff.WithMaxElapsedTime(0))
		},
	}
}

// Run keeps trying to reach the broker, then serves until ctx is done.
func (a *Agent) Run(ctx context.Context) error {
	log.Info("Starting speer-vehicle-agent", "vehicleID", a.vehicleID)

	err := backoff.RetryNotify(func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
		defer cancel()
		return a.server.Start(attemptCtx)
	}, backoff.WithContext(a.backoff(), ctx), func(err error, next time.Duration) {
		log.Warn("Broker not reachable yet", "error", err, "retryIn", next)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to start responder: %w", err)
	}

	<-ctx.Done()
	log.Info("Agent shutting down...")

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	a.server.Stop(stopCtx)
	return nil
}
