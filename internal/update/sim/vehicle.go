// Package sim provides an in-process vehicle, ground unit and update server.
// It backs the --simulate mode of speer-update and the package tests.
package sim

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/autopeer-io/skypeer/internal/update/core"
	"github.com/autopeer-io/skypeer/internal/update/version"
)

// Unit is the simulated state of one component.
type Unit struct {
	Installed core.VersionRecord
	Battery   int
	Storage   bool
	// Offline units refuse every request.
	Offline bool
	// Silent units never answer; requests end in core.ErrTimeout.
	Silent   bool
	FlashErr error

	staged     core.VersionRecord
	bootingEnd time.Time
}

// Vehicle implements core.Transport and core.Uploader.
type Vehicle struct {
	mu    sync.Mutex
	units map[core.Component]*Unit
	calls map[core.Component][]core.CommandName
	hooks map[core.CommandName][]func(core.Component)

	// RebootDowntime keeps a unit unreachable after reboot.
	RebootDowntime time.Duration
	// FlashDuration is how long a flash command takes.
	FlashDuration time.Duration
	UploadChunk   int
	UploadDelay   time.Duration
}

var (
	_ core.Transport = (*Vehicle)(nil)
	_ core.Uploader  = (*Vehicle)(nil)
)

// NewVehicle returns a vehicle whose units all run 1.0.0, fully charged, with
// storage inserted.
func NewVehicle() *Vehicle {
	v := &Vehicle{
		units:       make(map[core.Component]*Unit),
		calls:       make(map[core.Component][]core.CommandName),
		hooks:       make(map[core.CommandName][]func(core.Component)),
		UploadChunk: 32 * 1024,
	}
	for _, c := range core.ConcreteComponents() {
		v.units[c] = &Unit{Installed: core.NewVersion(1, 0, 0), Battery: 90, Storage: true}
	}
	return v
}

// Configure edits a unit under the vehicle lock.
func (v *Vehicle) Configure(c core.Component, fn func(u *Unit)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if u, ok := v.units[c]; ok {
		fn(u)
	}
}

// Installed returns the version a unit currently runs.
func (v *Vehicle) Installed(c core.Component) core.VersionRecord {
	v.mu.Lock()
	defer v.mu.Unlock()
	if u, ok := v.units[c]; ok {
		return u.Installed
	}
	return core.UnknownVersion()
}

// OnCommand registers fn to run before a command is handled.
func (v *Vehicle) OnCommand(name core.CommandName, fn func(core.Component)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.hooks[name] = append(v.hooks[name], fn)
}

// Calls lists the commands a unit received, in order.
func (v *Vehicle) Calls(c core.Component) []core.CommandName {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]core.CommandName(nil), v.calls[c]...)
}

func (v *Vehicle) Send(ctx context.Context, c core.Component, cmd core.Command) (*core.Response, error) {
	v.mu.Lock()
	u, ok := v.units[c]
	if !ok {
		v.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", c, core.ErrUnreachable)
	}
	v.calls[c] = append(v.calls[c], cmd.Name)
	hooks := append([]func(core.Component){}, v.hooks[cmd.Name]...)
	offline, silent := u.Offline, u.Silent
	booting := time.Now().Before(u.bootingEnd)
	v.mu.Unlock()

	for _, fn := range hooks {
		fn(c)
	}

	switch {
	case silent:
		<-ctx.Done()
		return nil, fmt.Errorf("%s %s: %w", c, cmd.Name, core.ErrTimeout)
	case offline, booting:
		return nil, fmt.Errorf("%s: %w", c, core.ErrUnreachable)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch cmd.Name {
	case core.CommandPing:
		return &core.Response{}, nil
	case core.CommandVersion:
		v.mu.Lock()
		defer v.mu.Unlock()
		return &core.Response{Values: core.EncodeVersion(u.Installed)}, nil
	case core.CommandBattery:
		v.mu.Lock()
		defer v.mu.Unlock()
		return &core.Response{Values: map[string]any{core.KeyLevel: u.Battery}}, nil
	case core.CommandStorage:
		v.mu.Lock()
		defer v.mu.Unlock()
		return &core.Response{Values: map[string]any{core.KeyPresent: u.Storage}}, nil
	case core.CommandFlash:
		return v.flash(ctx, u, cmd)
	case core.CommandReboot:
		v.mu.Lock()
		defer v.mu.Unlock()
		if u.staged.Known {
			u.Installed = u.staged
			u.staged = core.UnknownVersion()
		}
		u.bootingEnd = time.Now().Add(v.RebootDowntime)
		return &core.Response{}, nil
	}
	return nil, fmt.Errorf("%s %s: %w", c, cmd.Name, core.ErrRejected)
}

func (v *Vehicle) flash(ctx context.Context, u *Unit, cmd core.Command) (*core.Response, error) {
	if v.FlashDuration > 0 {
		select {
		case <-time.After(v.FlashDuration):
		case <-ctx.Done():
			return nil, fmt.Errorf("flash: %w", core.ErrTimeout)
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if u.FlashErr != nil {
		return nil, u.FlashErr
	}
	text, _ := cmd.Params["version"].(string)
	staged := version.Parse(text)
	if !staged.Known {
		return nil, fmt.Errorf("flash without version: %w", core.ErrRejected)
	}
	// Keep the metadata of the running image, only the version changes.
	staged.Autopilot, staged.Region, staged.Model = u.Installed.Autopilot, u.Installed.Region, u.Installed.Model
	u.staged = staged
	return &core.Response{}, nil
}

// Upload reads the staged payload in chunks, reporting progress per chunk.
func (v *Vehicle) Upload(ctx context.Context, c core.Component, path string, size int64, progress core.TransferFunc) error {
	v.mu.Lock()
	u, ok := v.units[c]
	offline := ok && (u.Offline || u.Silent)
	chunk, delay := v.UploadChunk, v.UploadDelay
	v.mu.Unlock()
	if !ok || offline {
		return fmt.Errorf("upload to %s: %w", c, core.ErrUnreachable)
	}
	if chunk <= 0 {
		chunk = 32 * 1024
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, chunk)
	var done int64
	for {
		n, err := f.Read(buf)
		done += int64(n)
		if n > 0 && progress != nil {
			progress(done, size)
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
	}
}
