// Package link implements the vehicle transports: an MQTT link to the
// airborne components and an ADB link to the ground unit.
package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/autopeer-io/skypeer/internal/pkg/metrics"
	"github.com/autopeer-io/skypeer/internal/update/core"
	"github.com/autopeer-io/skypeer/pkg/log"
	"github.com/autopeer-io/skypeer/pkg/mqtt"
	"github.com/autopeer-io/skypeer/pkg/mqtt/topic"
)

const (
	DefaultQoS       = 1
	DefaultChunkSize = 64 * 1024
)

// MQTTLink talks to the components of one vehicle through a broker. Every
// request carries a correlation id that the component echoes in its reply.
type MQTTLink struct {
	client    mqtt.Client
	topics    *topic.Builder
	qos       int
	chunkSize int

	mu      sync.Mutex
	pending map[string]chan reply
	// slots keeps one request in flight per component.
	slots map[core.Component]chan struct{}

	logger log.Logger
}

var (
	_ core.Transport = (*MQTTLink)(nil)
	_ core.Uploader  = (*MQTTLink)(nil)
)

type MQTTOption func(*MQTTLink)

func WithQoS(qos int) MQTTOption {
	return func(l *MQTTLink) { l.qos = qos }
}

func WithChunkSize(n int) MQTTOption {
	return func(l *MQTTLink) {
		if n > 0 {
			l.chunkSize = n
		}
	}
}

func NewMQTTLink(client mqtt.Client, topics *topic.Builder, opts ...MQTTOption) *MQTTLink {
	l := &MQTTLink{
		client:    client,
		topics:    topics,
		qos:       DefaultQoS,
		chunkSize: DefaultChunkSize,
		pending:   make(map[string]chan reply),
		slots:     make(map[core.Component]chan struct{}),
		logger:    log.WithName("link").WithValues("link", "mqtt"),
	}
	for _, opt := range opts {
		opt(l)
	}
	for _, c := range core.ConcreteComponents() {
		l.slots[c] = make(chan struct{}, 1)
	}
	return l
}

// Start connects to the broker and subscribes to the replies of every
// component. ctx bounds the startup only; the connection lives until Stop.
func (l *MQTTLink) Start(ctx context.Context) error {
	if err := l.client.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	if err := l.client.AwaitConnection(ctx); err != nil {
		return err
	}
	if err := l.client.Subscribe(ctx, l.topics.ReplyWildcard(), l.qos, l.handleReply); err != nil {
		return err
	}
	return l.client.Publish(ctx, l.topics.Status(), l.qos, true, []byte(`{"online":true}`))
}

func (l *MQTTLink) Stop(ctx context.Context) {
	_ = l.client.Publish(ctx, l.topics.Status(), l.qos, true, []byte(`{"online":false}`))
	l.client.Disconnect(ctx)
}

// Send publishes cmd to the component and waits for the matching reply.
func (l *MQTTLink) Send(ctx context.Context, c core.Component, cmd core.Command) (*core.Response, error) {
	release, err := l.acquire(ctx, c)
	if err != nil {
		return nil, l.observe(string(cmd.Name), err)
	}
	defer release()

	values, err := l.exchange(ctx, c, string(cmd.Name), cmd.Params)
	if err != nil {
		return nil, l.observe(string(cmd.Name), err)
	}
	l.observe(string(cmd.Name), nil)
	return &core.Response{Values: values}, nil
}

// Upload streams the file at path to the component in chunks, then asks it to
// assemble them. The component verifies the size it received.
func (l *MQTTLink) Upload(ctx context.Context, c core.Component, path string, size int64, progress core.TransferFunc) error {
	release, err := l.acquire(ctx, c)
	if err != nil {
		return l.observe(commandUploadCommit, err)
	}
	defer release()

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	id := uuid.NewString()
	buf := make([]byte, l.chunkSize)
	var offset int64
	for seq := 0; ; seq++ {
		n, readErr := io.ReadFull(f, buf)
		if n > 0 {
			payload, err := encodeChunk(chunk{Upload: id, Seq: seq, Offset: offset, Total: size, Data: buf[:n]})
			if err != nil {
				return err
			}
			if err := l.client.Publish(ctx, l.topics.Upload(segment(c)), l.qos, false, payload); err != nil {
				return l.observe(commandUploadCommit, l.publishError(ctx, c, err))
			}
			offset += int64(n)
			if progress != nil {
				progress(offset, size)
			}
		}
		if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
			break
		}
		if readErr != nil {
			return readErr
		}
	}

	_, err = l.exchange(ctx, c, commandUploadCommit, map[string]any{
		fieldUpload: id,
		fieldTotal:  offset,
	})
	return l.observe(commandUploadCommit, err)
}

func (l *MQTTLink) acquire(ctx context.Context, c core.Component) (func(), error) {
	slot, ok := l.slots[c]
	if !ok {
		return nil, fmt.Errorf("%s: %w", c, core.ErrUnreachable)
	}
	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, ctxError(ctx, c, "acquire link")
	}
}

func (l *MQTTLink) exchange(ctx context.Context, c core.Component, command string, params map[string]any) (map[string]any, error) {
	if !l.client.IsConnected() {
		return nil, fmt.Errorf("%s: broker disconnected: %w", c, core.ErrUnreachable)
	}

	id := uuid.NewString()
	payload, err := encodeRequest(request{ID: id, Command: command, Params: params})
	if err != nil {
		return nil, err
	}

	ch := make(chan reply, 1)
	l.mu.Lock()
	l.pending[id] = ch
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		delete(l.pending, id)
		l.mu.Unlock()
	}()

	if err := l.client.Publish(ctx, l.topics.Request(segment(c)), l.qos, false, payload); err != nil {
		return nil, l.publishError(ctx, c, err)
	}

	select {
	case r := <-ch:
		if !r.OK {
			return nil, fmt.Errorf("%s %s: %s: %w", c, command, r.Error, core.ErrRejected)
		}
		return r.Values, nil
	case <-ctx.Done():
		return nil, ctxError(ctx, c, command)
	}
}

func (l *MQTTLink) handleReply(_ context.Context, t string, payload []byte) {
	name, ok := l.topics.Component(t, topic.SegmentReply)
	if !ok {
		return
	}
	r, err := decodeReply(payload)
	if err != nil {
		l.logger.Warn("Dropping malformed reply", "component", name, "err", err)
		return
	}

	l.mu.Lock()
	ch, ok := l.pending[r.ID]
	l.mu.Unlock()
	if !ok {
		l.logger.Debug("Dropping late reply", "component", name, "id", r.ID)
		return
	}
	select {
	case ch <- r:
	default:
	}
}

func (l *MQTTLink) publishError(ctx context.Context, c core.Component, err error) error {
	if ctx.Err() != nil {
		return ctxError(ctx, c, "publish")
	}
	return fmt.Errorf("%s: publish: %v: %w", c, err, core.ErrUnreachable)
}

func (l *MQTTLink) observe(command string, err error) error {
	return observe("mqtt", command, err)
}

func observe(link, command string, err error) error {
	metrics.LinkRequests.WithLabelValues(link, command, status(err)).Inc()
	return err
}

// ctxError maps an expired deadline to ErrTimeout and passes cancellation on.
func ctxError(ctx context.Context, c core.Component, what string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s %s: %w", c, what, core.ErrTimeout)
	}
	return ctx.Err()
}

func status(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, core.ErrTimeout):
		return "timeout"
	case errors.Is(err, core.ErrRejected):
		return "rejected"
	case errors.Is(err, core.ErrUnreachable):
		return "unreachable"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	}
	return "error"
}

// segment names a component in topics and remote paths.
func segment(c core.Component) string {
	return strings.ToLower(c.String())
}
