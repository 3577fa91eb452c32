package link

import (
	"context"
	"fmt"

	"github.com/autopeer-io/skypeer/internal/update/core"
)

// Endpoint is a link that can both command and upload to a component.
type Endpoint interface {
	core.Transport
	core.Uploader
}

// Router sends each component's traffic over the link that reaches it.
type Router struct {
	routes map[core.Component]Endpoint
}

var (
	_ core.Transport = (*Router)(nil)
	_ core.Uploader  = (*Router)(nil)
)

func NewRouter() *Router {
	return &Router{routes: make(map[core.Component]Endpoint)}
}

// Route binds the concrete components of each target to e. Later bindings win.
func (r *Router) Route(e Endpoint, targets ...core.Component) *Router {
	for _, t := range targets {
		for _, c := range t.Expand() {
			r.routes[c] = e
		}
	}
	return r
}

func (r *Router) endpoint(c core.Component) (Endpoint, error) {
	e, ok := r.routes[c]
	if !ok {
		return nil, fmt.Errorf("%s: no link configured: %w", c, core.ErrUnreachable)
	}
	return e, nil
}

func (r *Router) Send(ctx context.Context, c core.Component, cmd core.Command) (*core.Response, error) {
	e, err := r.endpoint(c)
	if err != nil {
		return nil, err
	}
	return e.Send(ctx, c, cmd)
}

func (r *Router) Upload(ctx context.Context, c core.Component, path string, size int64, progress core.TransferFunc) error {
	e, err := r.endpoint(c)
	if err != nil {
		return err
	}
	return e.Upload(ctx, c, path, size, progress)
}
