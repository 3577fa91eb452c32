// Package session tracks the single update session a device may run at a time.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/autopeer-io/skypeer/internal/update/core"
)

// ComponentStatus is the last state and progress reported for one target.
type ComponentStatus struct {
	Component core.Component `json:"component"`
	State     core.State     `json:"state"`
	Progress  int            `json:"progress"`
}

// Session is one firmware update, app update or version check.
type Session struct {
	id      string
	mode    core.Mode
	targets []core.Component
	started time.Time

	ctx       context.Context
	cancel    context.CancelFunc
	cancelled atomic.Bool

	mu      sync.RWMutex
	status  map[core.Component]*ComponentStatus
	results []core.Result

	done chan struct{}
}

// New creates a session over the concrete components the targets expand to.
// The session context keeps the values of parent but not its deadline or
// cancellation, since a session outlives the request that started it.
func New(parent context.Context, mode core.Mode, targets ...core.Component) *Session {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))

	var expanded []core.Component
	status := make(map[core.Component]*ComponentStatus)
	for _, t := range targets {
		for _, c := range t.Expand() {
			if _, dup := status[c]; dup {
				continue
			}
			expanded = append(expanded, c)
			status[c] = &ComponentStatus{Component: c, State: core.StateIdle}
		}
	}

	return &Session{
		id:      uuid.NewString(),
		mode:    mode,
		targets: expanded,
		started: time.Now(),
		ctx:     ctx,
		cancel:  cancel,
		status:  status,
		done:    make(chan struct{}),
	}
}

func (s *Session) ID() string                { return s.id }
func (s *Session) Mode() core.Mode           { return s.mode }
func (s *Session) StartedAt() time.Time      { return s.started }
func (s *Session) Context() context.Context  { return s.ctx }
func (s *Session) Targets() []core.Component { return append([]core.Component(nil), s.targets...) }

// Cancel requests cooperative cancellation. It returns false when the session had
// already finished or was cancelled before.
func (s *Session) Cancel() bool {
	select {
	case <-s.done:
		return false
	default:
	}
	if !s.cancelled.CompareAndSwap(false, true) {
		return false
	}
	s.cancel()
	return true
}

func (s *Session) Cancelled() bool {
	return s.cancelled.Load()
}

// Update records a progress report. Reports for components outside the target
// set are ignored.
func (s *Session) Update(ev core.ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.status[ev.Component]
	if !ok {
		return
	}
	st.State = ev.State
	st.Progress = ev.Progress
}

// Status returns the last report for c.
func (s *Session) Status(c core.Component) (ComponentStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.status[c]
	if !ok {
		return ComponentStatus{}, false
	}
	return *st, true
}

// Finish stores the driver results and wakes every waiter. It must be called once.
func (s *Session) Finish(results []core.Result) {
	s.mu.Lock()
	s.results = append([]core.Result(nil), results...)
	s.mu.Unlock()
	s.cancel()
	close(s.done)
}

// Done is closed once every driver is terminal and every callback was delivered.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session finishes or ctx is done.
func (s *Session) Wait(ctx context.Context) ([]core.Result, error) {
	select {
	case <-s.done:
		return s.Results(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Results is empty until the session finished.
func (s *Session) Results() []core.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.Result(nil), s.results...)
}

// Snapshot is a serialisable view of a session.
type Snapshot struct {
	ID         string            `json:"id"`
	Mode       core.Mode         `json:"mode"`
	StartedAt  time.Time         `json:"startedAt"`
	Cancelled  bool              `json:"cancelled"`
	Finished   bool              `json:"finished"`
	Components []ComponentStatus `json:"components"`
}

func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		ID:        s.id,
		Mode:      s.mode,
		StartedAt: s.started,
		Cancelled: s.Cancelled(),
	}
	select {
	case <-s.done:
		snap.Finished = true
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	snap.Components = make([]ComponentStatus, 0, len(s.targets))
	for _, c := range s.targets {
		snap.Components = append(snap.Components, *s.status[c])
	}
	return snap
}
