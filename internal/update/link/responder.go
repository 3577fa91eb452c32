package link

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/autopeer-io/skypeer/internal/update/core"
	"github.com/autopeer-io/skypeer/pkg/log"
	"github.com/autopeer-io/skypeer/pkg/mqtt"
	"github.com/autopeer-io/skypeer/pkg/mqtt/topic"
)

const (
	// DefaultHandleTimeout bounds the work done for a single request.
	DefaultHandleTimeout = 2 * time.Minute
	// DefaultSettleTimeout is how long a commit waits for late chunks.
	DefaultSettleTimeout = 10 * time.Second
)

// Responder is the vehicle end of an MQTTLink. It subscribes to the request
// and upload topics of one vehicle, hands every request to a local Endpoint
// and publishes the outcome on the reply topic. Uploads are spooled to disk
// until their commit arrives.
//
// Unreachable components stay silent, so the ground side sees a timeout just
// as it would with a real vehicle.
type Responder struct {
	client  mqtt.Client
	topics  *topic.Builder
	local   Endpoint
	qos     int
	spool   string
	timeout time.Duration
	settle  time.Duration

	mu      sync.Mutex
	uploads map[string]*spooled
	ctx     context.Context
	cancel  context.CancelFunc

	logger log.Logger
}

// spooled is an upload being reassembled. Chunks may arrive in any order and
// more than once; each is written at its offset.
type spooled struct {
	file     *os.File
	total    int64
	received int64
	seen     map[int]bool
	err      error
	done     chan struct{}
	closed   bool
}

type ResponderOption func(*Responder)

func WithResponderQoS(qos int) ResponderOption {
	return func(r *Responder) { r.qos = qos }
}

func WithHandleTimeout(d time.Duration) ResponderOption {
	return func(r *Responder) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewResponder serves local on the vehicle topics. Chunks are spooled in dir.
func NewResponder(client mqtt.Client, topics *topic.Builder, local Endpoint, dir string, opts ...ResponderOption) *Responder {
	r := &Responder{
		client:  client,
		topics:  topics,
		local:   local,
		qos:     DefaultQoS,
		spool:   dir,
		timeout: DefaultHandleTimeout,
		settle:  DefaultSettleTimeout,
		uploads: make(map[string]*spooled),
		logger:  log.WithName("responder"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start connects and subscribes. ctx bounds the startup only.
func (r *Responder) Start(ctx context.Context) error {
	if err := os.MkdirAll(r.spool, 0o750); err != nil {
		return fmt.Errorf("create spool dir: %w", err)
	}

	r.mu.Lock()
	if r.cancel == nil {
		r.ctx, r.cancel = context.WithCancel(context.WithoutCancel(ctx))
	}
	r.mu.Unlock()

	if err := r.client.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	if err := r.client.AwaitConnection(ctx); err != nil {
		return err
	}
	if err := mqtt.SubscribeAll(ctx, r.client, r.qos, r.subscriptions()...); err != nil {
		return err
	}
	r.logger.Info("Serving vehicle", "requests", r.topics.RequestWildcard())
	return nil
}

// Stop abandons in-flight requests, drops partial uploads and disconnects.
func (r *Responder) Stop(ctx context.Context) {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	for key, up := range r.uploads {
		up.discard()
		delete(r.uploads, key)
	}
	r.mu.Unlock()

	if err := mqtt.UnsubscribeAll(ctx, r.client, r.subscriptions()...); err != nil {
		r.logger.Warn("Failed to unsubscribe", "err", err)
	}
	r.client.Disconnect(ctx)
}

func (r *Responder) subscriptions() []mqtt.Subscription {
	return []mqtt.Subscription{
		{Filter: r.topics.RequestWildcard(), Handler: r.handleRequest},
		{Filter: r.topics.UploadWildcard(), Handler: r.handleChunk},
	}
}

func (r *Responder) handleRequest(_ context.Context, t string, payload []byte) {
	name, ok := r.topics.Component(t, topic.SegmentRequest)
	if !ok {
		return
	}
	req, err := decodeRequest(payload)
	if err != nil {
		r.logger.Warn("Dropping malformed request", "component", name, "err", err)
		return
	}
	logger := r.logger.WithValues("component", name, "command", req.Command, "id", req.ID)

	c, err := core.ParseComponent(name)
	if err != nil || !c.IsConcrete() {
		r.reply(name, reply{ID: req.ID, Error: fmt.Sprintf("unknown component %q", name)})
		return
	}

	ctx, cancel := r.requestContext()
	defer cancel()

	var values map[string]any
	if req.Command == commandUploadCommit {
		err = r.commit(ctx, c, req.Params)
	} else {
		var resp *core.Response
		resp, err = r.local.Send(ctx, c, core.Command{Name: core.CommandName(req.Command), Params: req.Params})
		if resp != nil {
			values = resp.Values
		}
	}

	switch {
	case err == nil:
		logger.Debug("Answered request")
		r.reply(name, reply{ID: req.ID, OK: true, Values: values})
	case errors.Is(err, core.ErrUnreachable), errors.Is(err, core.ErrTimeout), ctx.Err() != nil:
		logger.Info("Leaving request unanswered", "err", err)
	default:
		logger.Info("Refused request", "err", err)
		r.reply(name, reply{ID: req.ID, Error: err.Error()})
	}
}

func (r *Responder) handleChunk(_ context.Context, t string, payload []byte) {
	name, ok := r.topics.Component(t, topic.SegmentUpload)
	if !ok {
		return
	}
	c, err := decodeChunk(payload)
	if err != nil || c.Upload == "" {
		r.logger.Warn("Dropping malformed chunk", "component", name, "err", err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	up, err := r.entry(name, c.Upload)
	if err != nil {
		r.logger.Error(err, "Failed to spool upload", "component", name)
		return
	}
	if up.err != nil || up.seen[c.Seq] {
		return
	}
	up.seen[c.Seq] = true
	if up.total < 0 {
		up.total = c.Total
	}
	end := c.Offset + int64(len(c.Data))
	if c.Offset < 0 || end > up.total {
		up.fail(fmt.Errorf("chunk %d spans %d..%d, beyond %d bytes", c.Seq, c.Offset, end, up.total))
		return
	}
	if _, err := up.file.WriteAt(c.Data, c.Offset); err != nil {
		up.fail(err)
		return
	}
	up.received += int64(len(c.Data))
	up.settle()
}

// entry returns the upload for key, creating its spool file on first use.
// Callers hold r.mu.
func (r *Responder) entry(name, id string) (*spooled, error) {
	key := name + "/" + id
	if up, ok := r.uploads[key]; ok {
		return up, nil
	}
	f, err := os.CreateTemp(r.spool, name+"-*.part")
	if err != nil {
		return nil, err
	}
	up := &spooled{file: f, total: -1, seen: make(map[int]bool), done: make(chan struct{})}
	r.uploads[key] = up
	return up, nil
}

// commit hands a complete upload to the endpoint once its last chunk has
// landed. The spool file is removed whatever the outcome.
func (r *Responder) commit(ctx context.Context, c core.Component, params map[string]any) error {
	id, _ := params[fieldUpload].(string)
	total, _ := params[fieldTotal].(float64)
	if id == "" {
		return fmt.Errorf("commit without upload id: %w", core.ErrRejected)
	}

	name := segment(c)
	r.mu.Lock()
	up, err := r.entry(name, id)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	switch {
	case up.total < 0:
		up.total = int64(total)
	case up.total != int64(total):
		up.fail(fmt.Errorf("commit of %d bytes, chunks announced %d", int64(total), up.total))
	}
	up.settle()
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.uploads, name+"/"+id)
		r.mu.Unlock()
		up.discard()
	}()

	wait, cancel := context.WithTimeout(ctx, r.settle)
	defer cancel()
	select {
	case <-up.done:
	case <-wait.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	r.mu.Lock()
	received, failed := up.received, up.err
	r.mu.Unlock()
	if failed != nil {
		return fmt.Errorf("upload %s: %w", id, failed)
	}
	if received != int64(total) {
		return fmt.Errorf("upload %s: received %d of %d bytes", id, received, int64(total))
	}
	if err := up.file.Sync(); err != nil {
		return err
	}
	return r.local.Upload(ctx, c, up.file.Name(), received, nil)
}

func (r *Responder) reply(name string, rep reply) {
	payload, err := encodeReply(rep)
	if err != nil {
		r.logger.Error(err, "Failed to encode reply", "component", name)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.client.Publish(ctx, r.topics.Reply(name), r.qos, false, payload); err != nil {
		r.logger.Error(err, "Failed to publish reply", "component", name)
	}
}

func (r *Responder) requestContext() (context.Context, context.CancelFunc) {
	r.mu.Lock()
	parent := r.ctx
	r.mu.Unlock()
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, r.timeout)
}

func (s *spooled) fail(err error) {
	s.err = err
	s.finish()
}

func (s *spooled) settle() {
	if s.total >= 0 && s.received >= s.total {
		s.finish()
	}
}

func (s *spooled) finish() {
	if !s.closed {
		close(s.done)
		s.closed = true
	}
}

func (s *spooled) discard() {
	_ = s.file.Close()
	_ = os.Remove(s.file.Name())
}
