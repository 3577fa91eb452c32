package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/skypeer/internal/update/core"
)

func TestNewExpandsTarget(t *testing.T) {
	s := New(context.Background(), core.ModeUpdate, core.ComponentFirmware)

	assert.NotEmpty(t, s.ID())
	assert.Equal(t, core.ModeUpdate, s.Mode())
	assert.Equal(t, []core.Component{core.ComponentAutopilot, core.ComponentCamera, core.ComponentGimbal}, s.Targets())

	st, ok := s.Status(core.ComponentCamera)
	require.True(t, ok)
	assert.Equal(t, core.StateIdle, st.State)

	_, ok = s.Status(core.ComponentDatapilot)
	assert.False(t, ok)
}

func TestNewDeduplicatesTargets(t *testing.T) {
	s := New(context.Background(), core.ModeCheckOnly, core.ComponentGimbal, core.ComponentFirmware, core.ComponentApps)

	assert.Equal(t, []core.Component{
		core.ComponentGimbal, core.ComponentAutopilot, core.ComponentCamera,
		core.ComponentDatapilot, core.ComponentUpdaterApp, core.ComponentST16S,
	}, s.Targets())
}

func TestSessionOutlivesParentContext(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	s := New(parent, core.ModeCheckOnly, core.ComponentApps)
	cancel()

	assert.NoError(t, s.Context().Err())
	assert.False(t, s.Cancelled())
}

func TestCancel(t *testing.T) {
	s := New(context.Background(), core.ModeUpdate, core.ComponentApps)

	assert.True(t, s.Cancel())
	assert.False(t, s.Cancel(), "second cancel is a no-op")
	assert.True(t, s.Cancelled())
	assert.ErrorIs(t, s.Context().Err(), context.Canceled)
}

func TestCancelAfterFinish(t *testing.T) {
	s := New(context.Background(), core.ModeUpdate, core.ComponentApps)
	s.Finish(nil)

	assert.False(t, s.Cancel())
	assert.False(t, s.Cancelled())
}

func TestUpdateAndSnapshot(t *testing.T) {
	s := New(context.Background(), core.ModeUpdate, core.ComponentFirmware)
	s.Update(core.ProgressEvent{Component: core.ComponentGimbal, State: core.StateDownloading, Progress: 40})
	s.Update(core.ProgressEvent{Component: core.ComponentST16S, State: core.StateError})

	snap := s.Snapshot()
	assert.Equal(t, s.ID(), snap.ID)
	assert.False(t, snap.Finished)
	require.Len(t, snap.Components, 3)
	assert.Equal(t, ComponentStatus{Component: core.ComponentGimbal, State: core.StateDownloading, Progress: 40}, snap.Components[2])
}

func TestWait(t *testing.T) {
	s := New(context.Background(), core.ModeUpdate, core.ComponentGimbal)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := s.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	want := []core.Result{{Component: core.ComponentGimbal, State: core.StateFinished}}
	go s.Finish(want)

	got, err := s.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.True(t, s.Snapshot().Finished)
}

func TestGate(t *testing.T) {
	var g Gate
	a := New(context.Background(), core.ModeUpdate, core.ComponentFirmware)
	b := New(context.Background(), core.ModeUpdate, core.ComponentApps)

	assert.Nil(t, g.Active())
	require.True(t, g.TryAcquire(a))
	assert.False(t, g.TryAcquire(b))
	assert.Same(t, a, g.Active())

	g.Release(b)
	assert.Same(t, a, g.Active(), "releasing a foreign session must not clear the gate")

	g.Release(a)
	assert.Nil(t, g.Active())
	assert.True(t, g.TryAcquire(b))
}

func TestGateSingleWinner(t *testing.T) {
	var g Gate
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.TryAcquire(New(context.Background(), core.ModeUpdate, core.ComponentFirmware)) {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}
