package session

import "sync/atomic"

// Gate admits at most one session per process.
type Gate struct {
	active atomic.Pointer[Session]
}

// TryAcquire installs s as the active session unless another one holds the gate.
func (g *Gate) TryAcquire(s *Session) bool {
	return g.active.CompareAndSwap(nil, s)
}

// Release clears the gate if s still holds it.
func (g *Gate) Release(s *Session) {
	g.active.CompareAndSwap(s, nil)
}

// Active returns the running session, or nil.
func (g *Gate) Active() *Session {
	return g.active.Load()
}
