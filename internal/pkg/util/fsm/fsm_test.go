package fsm

import (
	"context"
	"errors"
	"testing"

	"github.com/looplab/fsm"
	"github.com/stretchr/testify/assert"
)

func TestWrapEvent(t *testing.T) {
	boom := errors.New("boom")
	f := fsm.NewFSM("closed",
		fsm.Events{{Name: "open", Src: []string{"closed"}, Dst: "open"}},
		fsm.Callbacks{
			"enter_open": WrapEvent(func(context.Context, *fsm.Event) error { return boom }),
		},
	)

	err := f.Event(context.Background(), "open")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "open", f.Current())
}

func TestErrorClassification(t *testing.T) {
	f := fsm.NewFSM("closed",
		fsm.Events{
			{Name: "open", Src: []string{"closed"}, Dst: "open"},
			{Name: "stay", Src: []string{"closed"}, Dst: "closed"},
		},
		fsm.Callbacks{
			"before_open": func(_ context.Context, e *fsm.Event) { e.Cancel() },
		},
	)

	err := f.Event(context.Background(), "open")
	assert.True(t, IsCanceled(err))
	assert.False(t, IsRealError(err))

	err = f.Event(context.Background(), "stay")
	assert.False(t, IsCanceled(err))
	assert.False(t, IsRealError(err))

	err = f.Event(context.Background(), "missing")
	assert.True(t, IsRealError(err))
	assert.False(t, IsRealError(nil))
}
