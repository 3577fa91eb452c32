package sim

import (
	"bytes"

	"github.com/autopeer-io/skypeer/internal/update/core"
)

// Fleet bundles a vehicle and an update server that has a release for every
// component.
type Fleet struct {
	Vehicle *Vehicle
	Server  *UpdateServer
}

// NewFleet publishes 1.1.0 for every firmware component and 2.0.0 for every
// app on top of a vehicle running 1.0.0 everywhere.
func NewFleet() *Fleet {
	f := &Fleet{Vehicle: NewVehicle(), Server: NewUpdateServer()}

	for _, c := range core.FirmwareComponents() {
		f.Server.Publish(c, core.NewVersion(1, 1, 0), false, Payload(c, 256*1024))
	}
	for _, c := range core.AppComponents() {
		f.Server.Publish(c, core.NewVersion(2, 0, 0), false, Payload(c, 64*1024))
	}
	return f
}

// Payload builds a deterministic image of n bytes for c.
func Payload(c core.Component, n int) []byte {
	return bytes.Repeat([]byte(c.String()+"\n"), n/(len(c.String())+1)+1)[:n]
}
