package update

import (
	"github.com/autopeer-io/skypeer/internal/update/core"
	"github.com/autopeer-io/skypeer/internal/update/registry"
)

// The accessors below read the registry only; they never reach a component.

// CheckVersion returns the last instruction computed for c, or
// InstructionUnknown if no check ran.
func (o *Orchestrator) CheckVersion(c core.Component) core.Instruction {
	return o.registry.Instruction(c)
}

// GetVersion returns the cached installed version of c, or the unknown record.
func (o *Orchestrator) GetVersion(c core.Component) core.VersionRecord {
	installed, _ := o.registry.Get(c)
	return installed
}

// LatestVersion returns the cached latest version of c, or the unknown record.
func (o *Orchestrator) LatestVersion(c core.Component) core.VersionRecord {
	_, latest := o.registry.Get(c)
	return latest
}

// Versions snapshots the registry.
func (o *Orchestrator) Versions() []registry.Entry {
	return o.registry.Snapshot()
}

func (o *Orchestrator) CheckAutopilotVersion() core.Instruction {
	return o.CheckVersion(core.ComponentAutopilot)
}

func (o *Orchestrator) GetAutopilotVersion() core.VersionRecord {
	return o.GetVersion(core.ComponentAutopilot)
}

func (o *Orchestrator) CheckCameraVersion() core.Instruction {
	return o.CheckVersion(core.ComponentCamera)
}

func (o *Orchestrator) GetCameraVersion() core.VersionRecord {
	return o.GetVersion(core.ComponentCamera)
}

func (o *Orchestrator) CheckGimbalVersion() core.Instruction {
	return o.CheckVersion(core.ComponentGimbal)
}

func (o *Orchestrator) GetGimbalVersion() core.VersionRecord {
	return o.GetVersion(core.ComponentGimbal)
}
