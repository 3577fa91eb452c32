package update

import (
	"github.com/autopeer-io/skypeer/internal/update/core"
	"github.com/autopeer-io/skypeer/internal/update/session"
)

// report is one driver report on its way to the caller.
type report struct {
	progress *core.ProgressEvent
	version  *core.VersionEvent
}

func (r report) deliver(s *session.Session, req request) {
	switch {
	case r.progress != nil:
		s.Update(*r.progress)
		if req.progress != nil {
			req.progress(r.progress.Progress, r.progress.State, r.progress.Component)
		}
	case r.version != nil:
		if req.version != nil {
			req.version(r.version.Component, r.version.Instruction, r.version.Latest, r.version.Installed)
		}
	}
}

// channelSink feeds driver reports into the session's FIFO. Drivers block while
// the channel is full, so a slow callback slows the drivers down instead of
// reordering reports.
type channelSink struct {
	ch chan<- report
}

func (c *channelSink) Progress(ev core.ProgressEvent) {
	c.ch <- report{progress: &ev}
}

func (c *channelSink) Version(ev core.VersionEvent) {
	c.ch <- report{version: &ev}
}
