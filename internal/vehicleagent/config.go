package vehicleagent

import (
	"fmt"

	"github.com/autopeer-io/skypeer/internal/update/core"
	"github.com/autopeer-io/skypeer/internal/update/link"
	"github.com/autopeer-io/skypeer/internal/update/sim"
	"github.com/autopeer-io/skypeer/internal/update/version"
	"github.com/autopeer-io/skypeer/pkg/log"
	"github.com/autopeer-io/skypeer/pkg/mqtt"
	"github.com/autopeer-io/skypeer/pkg/options"
)

type Config struct {
	MqttOptions    *options.MqttOptions
	VehicleOptions *options.VehicleOptions
}

func (cfg *Config) NewAgent() (*Agent, error) {
	client, err := cfg.newMqttClient()
	if err != nil {
		return nil, fmt.Errorf("failed to init mqtt client: %w", err)
	}

	vehicle := cfg.newVehicle()
	responder := link.NewResponder(client, cfg.MqttOptions.Topics(), vehicle, cfg.VehicleOptions.SpoolDir,
		link.WithResponderQoS(cfg.MqttOptions.QoS),
		link.WithHandleTimeout(cfg.VehicleOptions.HandleTimeout),
	)
	return NewAgent(cfg.MqttOptions.VehicleID, responder), nil
}

// newVehicle builds the simulated vehicle and logs every state change the
// ground station asks for.
func (cfg *Config) newVehicle() *sim.Vehicle {
	vehicle := sim.NewVehicle()
	vehicle.FlashDuration = cfg.VehicleOptions.FlashDuration
	vehicle.RebootDowntime = cfg.VehicleOptions.RebootDowntime

	installed := version.Parse(cfg.VehicleOptions.Installed)
	for _, c := range core.ConcreteComponents() {
		vehicle.Configure(c, func(u *sim.Unit) {
			u.Installed = installed
			u.Battery = cfg.VehicleOptions.Battery
		})
	}

	for _, name := range []core.CommandName{core.CommandFlash, core.CommandReboot} {
		vehicle.OnCommand(name, func(c core.Component) {
			log.Info("Vehicle command", "command", name, "component", c)
		})
	}
	return vehicle
}

func (cfg *Config) newMqttClient() (mqtt.Client, error) {
	mqttConfig := cfg.MqttOptions.ToClientConfig()
	if mqttConfig.ClientID == "" {
		mqttConfig.ClientID = fmt.Sprintf("speer-vehicle-%s", cfg.MqttOptions.VehicleID)
	}
	// The status topic belongs to the ground station.
	mqttConfig.WillTopic = ""
	mqttConfig.WillPayload = nil
	return mqtt.NewClient(mqttConfig)
}
