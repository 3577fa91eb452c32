package core

// Capabilities parameterise the single driver state machine per component.
type Capabilities struct {
	// StorageCheck requires removable storage to be present before flashing.
	StorageCheck bool
	// LiveQuery means the installed version can be read from the component itself.
	LiveQuery bool
	// ManualVersionSeed means the installed version has to be provided by the host
	// (see Orchestrator.SetAppVersion) because the component cannot be queried.
	ManualVersionSeed bool
}

// CapabilitiesOf returns the capability set of a concrete component.
func CapabilitiesOf(c Component) Capabilities {
	switch c {
	case ComponentAutopilot, ComponentGimbal:
		return Capabilities{LiveQuery: true}
	case ComponentCamera:
		return Capabilities{LiveQuery: true, StorageCheck: true}
	case ComponentDatapilot, ComponentUpdaterApp, ComponentST16S:
		return Capabilities{ManualVersionSeed: true}
	}
	return Capabilities{}
}
