package link

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	adb "github.com/zach-klippenstein/goadb"

	"github.com/autopeer-io/skypeer/internal/update/core"
	"github.com/autopeer-io/skypeer/internal/update/version"
	"github.com/autopeer-io/skypeer/pkg/log"
)

// ADBConfig addresses the ground unit through an adb server.
type ADBConfig struct {
	Host   string
	Port   int
	Serial string
	// StagingDir is where payloads are pushed before installation.
	StagingDir string
	// Packages maps the app components to their Android package names. A
	// component without a package is a system image installed via recovery.
	Packages map[core.Component]string
}

func DefaultADBConfig() ADBConfig {
	return ADBConfig{
		Host:       "localhost",
		Port:       5037,
		StagingDir: "/data/local/tmp",
		Packages: map[core.Component]string{
			core.ComponentDatapilot:  "com.skypeer.datapilot",
			core.ComponentUpdaterApp: "com.skypeer.updater",
		},
	}
}

// device is the part of *adb.Device the link uses.
type device interface {
	State() (adb.DeviceState, error)
	RunCommand(cmd string, args ...string) (string, error)
	OpenWrite(path string, perms os.FileMode, mtime time.Time) (io.WriteCloser, error)
}

// ADBLink drives the ground unit apps over adb. Calls into adb are
// synchronous, so a cancelled request returns early while the adb call
// finishes in the background.
type ADBLink struct {
	dev    device
	cfg    ADBConfig
	logger log.Logger
}

var (
	_ core.Transport = (*ADBLink)(nil)
	_ core.Uploader  = (*ADBLink)(nil)
)

func NewADBLink(cfg ADBConfig) (*ADBLink, error) {
	client, err := adb.NewWithConfig(adb.ServerConfig{Host: cfg.Host, Port: cfg.Port})
	if err != nil {
		return nil, fmt.Errorf("create adb client: %w", err)
	}
	selector := adb.AnyDevice()
	if cfg.Serial != "" {
		selector = adb.DeviceWithSerial(cfg.Serial)
	}
	return newADBLink(client.Device(selector), cfg), nil
}

func newADBLink(dev device, cfg ADBConfig) *ADBLink {
	return &ADBLink{dev: dev, cfg: cfg, logger: log.WithName("link").WithValues("link", "adb")}
}

const systemVersionProp = "ro.build.version.incremental"

var (
	versionNameRe  = regexp.MustCompile(`versionName=(\S+)`)
	batteryLevelRe = regexp.MustCompile(`(?m)^\s*level:\s*(\d+)\s*$`)
)

func (l *ADBLink) Send(ctx context.Context, c core.Component, cmd core.Command) (*core.Response, error) {
	var resp *core.Response
	err := l.do(ctx, c, string(cmd.Name), func() error {
		var err error
		resp, err = l.handle(c, cmd)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (l *ADBLink) handle(c core.Component, cmd core.Command) (*core.Response, error) {
	if err := l.online(); err != nil {
		return nil, err
	}

	switch cmd.Name {
	case core.CommandPing:
		return &core.Response{}, nil

	case core.CommandVersion:
		text, err := l.installedVersion(c)
		if err != nil {
			return nil, err
		}
		v := version.Parse(text)
		if !v.Known {
			return nil, fmt.Errorf("%s: unparsable version %q: %w", c, text, core.ErrRejected)
		}
		return &core.Response{Values: core.EncodeVersion(v)}, nil

	case core.CommandBattery:
		out, err := l.dev.RunCommand("dumpsys", "battery")
		if err != nil {
			return nil, err
		}
		m := batteryLevelRe.FindStringSubmatch(out)
		if m == nil {
			return nil, fmt.Errorf("%s: no battery level reported: %w", c, core.ErrRejected)
		}
		level, _ := strconv.Atoi(m[1])
		return &core.Response{Values: map[string]any{core.KeyLevel: level}}, nil

	case core.CommandStorage:
		out, err := l.dev.RunCommand("ls", "-d", l.cfg.StagingDir)
		present := err == nil && strings.TrimSpace(out) == l.cfg.StagingDir
		return &core.Response{Values: map[string]any{core.KeyPresent: present}}, nil

	case core.CommandFlash:
		return &core.Response{}, l.install(c)

	case core.CommandReboot:
		return &core.Response{}, l.restart(c)
	}
	return nil, fmt.Errorf("%s %s: %w", c, cmd.Name, core.ErrRejected)
}

func (l *ADBLink) online() error {
	state, err := l.dev.State()
	if err != nil {
		return fmt.Errorf("ground unit: %v: %w", err, core.ErrUnreachable)
	}
	if state != adb.StateOnline {
		return fmt.Errorf("ground unit %s: %w", state, core.ErrUnreachable)
	}
	return nil
}

func (l *ADBLink) installedVersion(c core.Component) (string, error) {
	pkg, ok := l.cfg.Packages[c]
	if !ok {
		out, err := l.dev.RunCommand("getprop", systemVersionProp)
		return strings.TrimSpace(out), err
	}
	out, err := l.dev.RunCommand("dumpsys", "package", pkg)
	if err != nil {
		return "", err
	}
	m := versionNameRe.FindStringSubmatch(out)
	if m == nil {
		return "", fmt.Errorf("%s: package %s not installed: %w", c, pkg, core.ErrRejected)
	}
	return m[1], nil
}

func (l *ADBLink) stagedPath(c core.Component) string {
	ext := ".apk"
	if _, ok := l.cfg.Packages[c]; !ok {
		ext = ".zip"
	}
	return path.Join(l.cfg.StagingDir, segment(c)+ext)
}

func (l *ADBLink) install(c core.Component) error {
	staged := l.stagedPath(c)
	if _, ok := l.cfg.Packages[c]; !ok {
		// Recovery applies the system image on the next reboot.
		_, err := l.dev.RunCommand("sh", "-c", fmt.Sprintf("echo --update_package=%s > /cache/recovery/command", staged))
		return err
	}
	out, err := l.dev.RunCommand("pm", "install", "-r", staged)
	if err != nil {
		return err
	}
	if !strings.Contains(out, "Success") {
		return fmt.Errorf("%s: pm install: %s: %w", c, strings.TrimSpace(out), core.ErrRejected)
	}
	_, _ = l.dev.RunCommand("rm", "-f", staged)
	return nil
}

func (l *ADBLink) restart(c core.Component) error {
	pkg, ok := l.cfg.Packages[c]
	if !ok {
		_, err := l.dev.RunCommand("reboot", "recovery")
		return err
	}
	if _, err := l.dev.RunCommand("am", "force-stop", pkg); err != nil {
		return err
	}
	_, err := l.dev.RunCommand("monkey", "-p", pkg, "-c", "android.intent.category.LAUNCHER", "1")
	return err
}

// Upload pushes the payload to the staging directory of the ground unit.
func (l *ADBLink) Upload(ctx context.Context, c core.Component, src string, size int64, progress core.TransferFunc) error {
	return l.do(ctx, c, "upload", func() error {
		f, err := os.Open(src)
		if err != nil {
			return err
		}
		defer f.Close()

		w, err := l.dev.OpenWrite(l.stagedPath(c), 0o644, time.Now())
		if err != nil {
			return fmt.Errorf("%s: open remote file: %v: %w", c, err, core.ErrUnreachable)
		}
		pw := &progressWriter{w: w, total: size, progress: progress, ctx: ctx}
		if _, err := io.Copy(pw, f); err != nil {
			_ = w.Close()
			return err
		}
		return w.Close()
	})
}

// do runs fn in the background so ctx can abandon it.
func (l *ADBLink) do(ctx context.Context, c core.Component, command string, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctxError(ctx, c, command)
		l.logger.Debug("Abandoned adb call", "component", c, "command", command)
	}
	observe("adb", command, err)
	return err
}

// progressWriter reports the bytes written so far and stops once ctx is done.
type progressWriter struct {
	ctx      context.Context
	w        io.Writer
	done     int64
	total    int64
	progress core.TransferFunc
}

func (p *progressWriter) Write(b []byte) (int, error) {
	if err := p.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := p.w.Write(b)
	p.done += int64(n)
	if p.progress != nil && n > 0 {
		p.progress(p.done, p.total)
	}
	return n, err
}
