package core

import (
	"fmt"
	"strings"
)

// Component identifies an updatable unit, or a category of units.
type Component int

const (
	// ComponentNone is reported in callbacks when no component applies.
	ComponentNone Component = iota
	ComponentAutopilot
	ComponentCamera
	ComponentGimbal
	ComponentDatapilot
	ComponentUpdaterApp
	// ComponentFirmware is a category covering every firmware-class component.
	ComponentFirmware
	// ComponentApps is a category covering the companion applications.
	ComponentApps
	ComponentST16S
)

var componentNames = map[Component]string{
	ComponentNone:       "None",
	ComponentAutopilot:  "Autopilot",
	ComponentCamera:     "Camera",
	ComponentGimbal:     "Gimbal",
	ComponentDatapilot:  "Datapilot",
	ComponentUpdaterApp: "UpdaterApp",
	ComponentFirmware:   "Firmware",
	ComponentApps:       "Apps",
	ComponentST16S:      "ST16S",
}

var (
	firmwareComponents = []Component{ComponentAutopilot, ComponentCamera, ComponentGimbal}
	appComponents      = []Component{ComponentDatapilot, ComponentUpdaterApp, ComponentST16S}
)

func (c Component) String() string {
	if name, ok := componentNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Component(%d)", int(c))
}

// MarshalText implements encoding.TextMarshaler so components render by name in JSON.
func (c Component) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Component) UnmarshalText(text []byte) error {
	parsed, err := ParseComponent(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseComponent resolves a component name case-insensitively.
func ParseComponent(s string) (Component, error) {
	for c, name := range componentNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return c, nil
		}
	}
	return ComponentNone, fmt.Errorf("unknown component %q", s)
}

// IsCategory reports whether c names a group of components rather than a unit.
func (c Component) IsCategory() bool {
	return c == ComponentFirmware || c == ComponentApps
}

// IsConcrete reports whether c can be the target of a single driver.
func (c Component) IsConcrete() bool {
	switch c {
	case ComponentAutopilot, ComponentCamera, ComponentGimbal,
		ComponentDatapilot, ComponentUpdaterApp, ComponentST16S:
		return true
	}
	return false
}

// Expand returns the concrete components c stands for.
func (c Component) Expand() []Component {
	switch c {
	case ComponentFirmware:
		return append([]Component(nil), firmwareComponents...)
	case ComponentApps:
		return append([]Component(nil), appComponents...)
	}
	if c.IsConcrete() {
		return []Component{c}
	}
	return nil
}

// ConcreteComponents lists every unit a version check covers, firmware first.
func ConcreteComponents() []Component {
	all := make([]Component, 0, len(firmwareComponents)+len(appComponents))
	all = append(all, firmwareComponents...)
	return append(all, appComponents...)
}

// FirmwareComponents lists the expansion of ComponentFirmware.
func FirmwareComponents() []Component {
	return ComponentFirmware.Expand()
}

// AppComponents lists the expansion of ComponentApps.
func AppComponents() []Component {
	return ComponentApps.Expand()
}
