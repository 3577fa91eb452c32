package core

import (
	"context"
	"fmt"
	"io"
	"math"
)

// CommandName is the verb of a request sent to a component over the link.
type CommandName string

const (
	CommandPing    CommandName = "ping"
	CommandVersion CommandName = "version"
	CommandBattery CommandName = "battery"
	CommandStorage CommandName = "storage"
	CommandFlash   CommandName = "flash"
	CommandReboot  CommandName = "reboot"
)

// Command is a single request to a component.
type Command struct {
	Name   CommandName    `json:"name"`
	Params map[string]any `json:"params,omitempty"`
}

// Response carries the values returned by a component.
type Response struct {
	Values map[string]any `json:"values,omitempty"`
}

// Int reads a numeric value. Decoded JSON and protobuf values arrive as float64.
func (r *Response) Int(key string) (int, bool) {
	if r == nil {
		return 0, false
	}
	switch v := r.Values[key].(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case uint16:
		return int(v), true
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int(v), true
	}
	return 0, false
}

func (r *Response) String(key string) (string, bool) {
	if r == nil {
		return "", false
	}
	s, ok := r.Values[key].(string)
	return s, ok
}

func (r *Response) Bool(key string) (bool, bool) {
	if r == nil {
		return false, false
	}
	b, ok := r.Values[key].(bool)
	return b, ok
}

// Transport is the request/response link to the vehicle and its peripherals.
// Implementations keep at most one outstanding request per component and
// return ErrTimeout when ctx expires before the response arrives.
type Transport interface {
	Send(ctx context.Context, component Component, cmd Command) (*Response, error)
}

// TransferFunc reports transferred bytes; total is -1 when unknown.
type TransferFunc func(done, total int64)

// Downloader fetches an update payload. Cancelling ctx aborts the transfer.
type Downloader interface {
	Download(ctx context.Context, url string, w io.Writer, progress TransferFunc) (int64, error)
}

// ReleaseServer provides the latest-version metadata for a component.
type ReleaseServer interface {
	Latest(ctx context.Context, component Component) (*Release, error)
}

// Uploader pushes a downloaded payload onto the target component.
type Uploader interface {
	Upload(ctx context.Context, component Component, path string, size int64, progress TransferFunc) error
}

// Percent converts a byte count into 0..100, clamped.
func Percent(done, total int64) int {
	if total <= 0 {
		return 0
	}
	p := int(done * 100 / total)
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

// ProgressFunc is the caller-facing progress callback.
type ProgressFunc func(progress int, state State, component Component)

// VersionFunc is the caller-facing version callback.
type VersionFunc func(component Component, instruction Instruction, latestVersion, installedVersion string)

// ProgressEvent is one invocation of a ProgressFunc.
type ProgressEvent struct {
	Progress  int       `json:"progress"`
	State     State     `json:"state"`
	Component Component `json:"component"`
}

func (e ProgressEvent) String() string {
	return fmt.Sprintf("%s %s %d%%", e.Component, e.State, e.Progress)
}

// VersionEvent is one invocation of a VersionFunc.
type VersionEvent struct {
	Component   Component   `json:"component"`
	Instruction Instruction `json:"instruction"`
	Latest      string      `json:"latest"`
	Installed   string      `json:"installed"`
}
