package app

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/autopeer-io/skypeer/internal/update"
	"github.com/autopeer-io/skypeer/internal/update/core"
	"github.com/autopeer-io/skypeer/internal/update/driver"
)

func TestReporterCollapsesRepeatedStates(t *testing.T) {
	var out bytes.Buffer
	r := &reporter{out: &out}

	r.progress(0, core.StateConnectingToVehicle, core.ComponentGimbal)
	r.progress(0, core.StateConnectingToVehicle, core.ComponentGimbal)
	r.progress(10, core.StateDownloading, core.ComponentGimbal)
	r.progress(20, core.StateDownloading, core.ComponentGimbal)
	r.version(core.ComponentGimbal, core.InstructionMinorUpdateAvailable, "1.1.0", "")

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Len(t, lines, 4)
	assert.Contains(t, lines[3], "installed=-")
	assert.Contains(t, lines[3], "latest=1.1.0")
}

func TestPrintResults(t *testing.T) {
	orch := update.New(update.Deps{}, driver.DefaultConfig())
	orch.SetAppVersion("2.0.0", "", "")

	var out bytes.Buffer
	err := printResults(&out, orch, []core.Result{
		{Component: core.ComponentDatapilot, State: core.StateFinished, Instruction: core.InstructionUpToDate},
	})
	assert.NoError(t, err)
	assert.Contains(t, out.String(), "Datapilot")
	assert.Contains(t, out.String(), "2.0.0")

	out.Reset()
	err = printResults(&out, orch, []core.Result{
		{Component: core.ComponentGimbal, State: core.StateError, Err: errors.New("checksum mismatch"), DeviceModified: true},
	})
	assert.ErrorIs(t, err, errComponentsFailed)
	assert.Contains(t, out.String(), "manual recovery")
}

func TestCommandsAreRegistered(t *testing.T) {
	cmd := NewApp().Command()
	for _, name := range []string{"check", "firmware", "apps"} {
		sub, _, err := cmd.Find([]string{name})
		assert.NoError(t, err)
		assert.Equal(t, name, sub.Name())
	}
	assert.NotNil(t, cmd.PersistentFlags().Lookup("update.simulate"))
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
}
