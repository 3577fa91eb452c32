package mqtt

import (
	"context"
	"errors"
)

// MessageHandler receives one message. The paho router runs each call on its
// own goroutine, so handlers must not assume ordering.
type MessageHandler func(ctx context.Context, topic string, payload []byte)

// Client is the broker connection shared by the ground link and the vehicle
// responder.
type Client interface {
	// Start dials in the background; use AwaitConnection to wait for it.
	Start(ctx context.Context) error
	Disconnect(ctx context.Context)

	Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error

	// Subscribe routes filter to handler. Subscriptions survive reconnects.
	Subscribe(ctx context.Context, filter string, qos int, handler MessageHandler) error
	Unsubscribe(ctx context.Context, filter string) error

	AwaitConnection(ctx context.Context) error
	IsConnected() bool
}

// Subscription pairs a topic filter with its handler.
type Subscription struct {
	Filter  string
	Handler MessageHandler
}

// SubscribeAll subscribes to every filter in order. On failure the filters
// already subscribed are dropped again.
func SubscribeAll(ctx context.Context, c Client, qos int, subs ...Subscription) error {
	for i, s := range subs {
		if err := c.Subscribe(ctx, s.Filter, qos, s.Handler); err != nil {
			return errors.Join(err, UnsubscribeAll(ctx, c, subs[:i]...))
		}
	}
	return nil
}

// UnsubscribeAll drops every filter and returns the joined errors.
func UnsubscribeAll(ctx context.Context, c Client, subs ...Subscription) error {
	var errs []error
	for _, s := range subs {
		if err := c.Unsubscribe(ctx, s.Filter); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
