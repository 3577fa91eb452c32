package driver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/autopeer-io/skypeer/internal/update/core"
	"github.com/autopeer-io/skypeer/internal/update/version"
)

var errBadVersion = errors.New("malformed version report")

func isTimeout(err error) bool {
	return errors.Is(err, core.ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// retry runs op at most ConnectAttempts times, each under ConnectTimeout.
// Rejections and malformed answers are not retried.
func (d *Driver) retry(ctx context.Context, what string, op func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.RetryInterval
	b.MaxElapsedTime = 0

	attempts := d.cfg.ConnectAttempts
	if attempts < 1 {
		attempts = 1
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		actx, cancel := context.WithTimeout(ctx, d.cfg.ConnectTimeout)
		defer cancel()

		err := op(actx)
		if errors.Is(err, core.ErrRejected) || errors.Is(err, core.ErrNoRelease) || errors.Is(err, errBadVersion) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, next time.Duration) {
		d.logger.Debug("Attempt failed, retrying", "target", what, "attempt", attempt, "backoff", next, "error", err)
	})
}

func (d *Driver) send(ctx context.Context, name core.CommandName, params map[string]any) (*core.Response, error) {
	rctx, cancel := context.WithTimeout(ctx, d.cfg.ConnectTimeout)
	defer cancel()
	return d.deps.Transport.Send(rctx, d.component, core.Command{Name: name, Params: params})
}

func (d *Driver) connectVehicle(ctx context.Context) string {
	if !d.caps.LiveQuery {
		if d.mode == core.ModeCheckOnly {
			// Nothing to read: the installed version was seeded by the host.
			return eventConnectServer
		}
		err := d.retry(ctx, "vehicle", func(ctx context.Context) error {
			_, err := d.deps.Transport.Send(ctx, d.component, core.Command{Name: core.CommandPing})
			return err
		})
		if err != nil {
			return d.vehicleUnreachable(ctx, err)
		}
		return eventConnectServer
	}

	if d.reuseInstalled {
		if installed, _ := d.deps.Registry.Get(d.component); installed.Known {
			d.logger.Debug("Reusing cached installed version", "installed", installed.String())
			return eventConnectServer
		}
	}

	var installed core.VersionRecord
	err := d.retry(ctx, "vehicle", func(ctx context.Context) error {
		resp, err := d.deps.Transport.Send(ctx, d.component, core.Command{Name: core.CommandVersion})
		if err != nil {
			return err
		}
		v, err := core.DecodeVersion(d.component, resp)
		if err != nil {
			return fmt.Errorf("%w: %v", errBadVersion, err)
		}
		installed = v
		return nil
	})
	if err != nil {
		return d.vehicleUnreachable(ctx, err)
	}

	if err := d.deps.Registry.RecordInstalled(d.component, installed); err != nil {
		return d.fail(err)
	}
	d.logger.Info("Installed version read", "installed", installed.String())
	return eventConnectServer
}

func (d *Driver) vehicleUnreachable(ctx context.Context, err error) string {
	if ctx.Err() != nil {
		return eventCancel
	}
	if errors.Is(err, errBadVersion) {
		d.setInstruction(core.InstructionUnknownError)
		return d.fail(err)
	}

	d.err = fmt.Errorf("connect to %s: %w", d.component, err)
	if isTimeout(err) {
		d.setInstruction(core.InstructionCheckInstalledVersionTimeout)
	} else {
		d.setInstruction(core.InstructionInstalledVersionUnknown)
	}
	return eventVehicleNotFound
}

func (d *Driver) connectServer(ctx context.Context) string {
	var release *core.Release
	err := d.retry(ctx, "update server", func(ctx context.Context) error {
		r, err := d.deps.Server.Latest(ctx, d.component)
		if err != nil {
			return err
		}
		release = r
		return nil
	})

	switch {
	case errors.Is(err, core.ErrNoRelease):
		// The server answered but publishes nothing for this component.
		_ = d.deps.Registry.RecordLatest(d.component, core.UnknownVersion())
		installed, _ := d.deps.Registry.Get(d.component)
		d.setInstruction(version.Compare(installed, core.UnknownVersion(), false))
		return eventFinish
	case err != nil:
		if ctx.Err() != nil {
			return eventCancel
		}
		d.err = fmt.Errorf("fetch latest %s release: %w", d.component, err)
		if isTimeout(err) {
			d.setInstruction(core.InstructionCheckLatestVersionTimeout)
		} else {
			d.setInstruction(core.InstructionLatestVersionUnknown)
		}
		return eventServerNotFound
	}

	if err := d.deps.Registry.RecordLatest(d.component, release.Version); err != nil {
		d.setInstruction(core.InstructionUnknownError)
		return d.fail(err)
	}
	d.release = release

	installed, _ := d.deps.Registry.Get(d.component)
	instruction := version.Compare(installed, release.Version, release.Mandatory)
	d.setInstruction(instruction)
	d.logger.Info("Version checked", "installed", installed.String(), "latest", release.Version.String(), "instruction", instruction)

	switch {
	case d.mode == core.ModeCheckOnly:
		return eventFinish
	case instruction == core.InstructionUnknownError:
		return d.fail(fmt.Errorf("compare %s versions", d.component))
	case !instruction.UpdateAvailable() && instruction != core.InstructionInstalledVersionUnknown:
		return eventFinish
	case release.URL == "":
		d.err = fmt.Errorf("release %s of %s has no payload", release.Version, d.component)
		return eventServerNotFound
	}
	return eventDownload
}

func (d *Driver) download(ctx context.Context) string {
	f, err := os.CreateTemp(d.cfg.WorkDir, strings.ToLower(d.component.String())+"-*.bin")
	if err != nil {
		return d.fail(fmt.Errorf("stage payload: %w", err))
	}
	d.payload = f.Name()

	dctx, cancel := context.WithTimeout(ctx, d.cfg.DownloadTimeout)
	defer cancel()

	h := sha256.New()
	n, err := d.deps.Downloader.Download(dctx, d.release.URL, io.MultiWriter(f, h), d.transferProgress(d.release.Size))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		d.err = fmt.Errorf("download %s: %w", d.component, err)
		switch {
		case ctx.Err() != nil:
			d.err = nil
			return eventCancel
		case errors.Is(dctx.Err(), context.DeadlineExceeded) || isTimeout(err):
			return eventDownloadTimeout
		case errors.Is(err, core.ErrRejected), errors.Is(err, core.ErrNoRelease), errors.Is(err, core.ErrUnreachable):
			return eventServerNotFound
		}
		return eventFail
	}

	if want := d.release.SHA256; want != "" {
		if got := hex.EncodeToString(h.Sum(nil)); !strings.EqualFold(got, want) {
			return d.fail(fmt.Errorf("%w: got %s, want %s", core.ErrChecksumMismatch, got, want))
		}
	}
	d.size = n
	d.completeTransfer()
	return eventUpload
}

func (d *Driver) upload(ctx context.Context) string {
	uctx, cancel := context.WithTimeout(ctx, d.cfg.UploadTimeout)
	defer cancel()

	if err := d.deps.Uploader.Upload(uctx, d.component, d.payload, d.size, d.transferProgress(d.size)); err != nil {
		d.err = fmt.Errorf("upload %s: %w", d.component, err)
		switch {
		case ctx.Err() != nil:
			d.err = nil
			return eventCancel
		case errors.Is(uctx.Err(), context.DeadlineExceeded) || isTimeout(err):
			return eventUploadTimeout
		}
		return eventFail
	}
	d.completeTransfer()

	return d.checkPreconditions(ctx)
}

// checkPreconditions runs the battery and storage gate before flashing.
func (d *Driver) checkPreconditions(ctx context.Context) string {
	if ctx.Err() != nil {
		return eventCancel
	}

	resp, err := d.send(ctx, core.CommandBattery, nil)
	if err != nil {
		if ctx.Err() != nil {
			return eventCancel
		}
		return d.fail(fmt.Errorf("read %s battery: %w", d.component, err))
	}
	level, ok := resp.Int(core.KeyLevel)
	if !ok {
		return d.fail(fmt.Errorf("%s reported no battery level", d.component))
	}
	if level < d.cfg.MinBatteryLevel {
		d.err = fmt.Errorf("battery at %d%%, need %d%%", level, d.cfg.MinBatteryLevel)
		return eventBatteryLow
	}

	if d.caps.StorageCheck {
		resp, err := d.send(ctx, core.CommandStorage, nil)
		if err != nil {
			if ctx.Err() != nil {
				return eventCancel
			}
			return d.fail(fmt.Errorf("read %s storage: %w", d.component, err))
		}
		if present, _ := resp.Bool(core.KeyPresent); !present {
			d.err = fmt.Errorf("%s has no storage media", d.component)
			return eventNoStorage
		}
	}

	return eventFlash
}

func (d *Driver) flash(ctx context.Context) string {
	fctx, cancel := context.WithTimeout(ctx, d.cfg.FlashTimeout)
	defer cancel()

	_, err := d.deps.Transport.Send(fctx, d.component, core.Command{
		Name: core.CommandFlash,
		Params: map[string]any{
			"version": d.release.Version.String(),
			"size":    d.size,
			"sha256":  d.release.SHA256,
		},
	})
	if err != nil {
		return d.fail(fmt.Errorf("flash %s: %w", d.component, err))
	}
	return eventReboot
}

func (d *Driver) reboot(ctx context.Context) string {
	_, err := d.send(ctx, core.CommandReboot, nil)
	switch {
	case isTimeout(err):
		// A component may drop the link before it acknowledges.
		d.logger.Debug("Reboot not acknowledged", "error", err)
	case err != nil:
		return d.fail(fmt.Errorf("reboot %s: %w", d.component, err))
	}
	return eventVerify
}

// verify polls the component until it reports the release version.
// Components without a live version query only have to answer again.
func (d *Driver) verify(ctx context.Context) string {
	want := d.release.Version
	var reported core.VersionRecord

	err := wait.PollUntilContextTimeout(ctx, d.cfg.VerifyInterval, d.cfg.VerifyTimeout, true, func(ctx context.Context) (bool, error) {
		if !d.caps.LiveQuery {
			if _, err := d.send(ctx, core.CommandPing, nil); err != nil {
				return false, nil
			}
			reported = want
			return true, nil
		}

		resp, err := d.send(ctx, core.CommandVersion, nil)
		if err != nil {
			// Still rebooting.
			return false, nil
		}
		v, err := core.DecodeVersion(d.component, resp)
		if err != nil {
			return false, nil
		}
		reported = v
		return v.SameVersion(want), nil
	})
	if err != nil {
		return d.fail(fmt.Errorf("verify %s: reported %q, want %q: %w", d.component, reported.String(), want.String(), err))
	}

	if err := d.deps.Registry.RecordInstalled(d.component, reported); err != nil {
		d.logger.Warn("Failed to record verified version", "error", err)
	}
	d.instruction = core.InstructionUpToDate
	d.deps.Registry.SetInstruction(d.component, core.InstructionUpToDate)
	return eventFinish
}
