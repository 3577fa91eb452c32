package options

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	o := NewAgentOptions()
	require.NoError(t, o.Complete())
	assert.NoError(t, o.Validate())
	assert.Equal(t, "speer-vehicle-agent", o.LogOptions().Name)
}

func TestValidateVehicle(t *testing.T) {
	o := NewAgentOptions()
	o.VehicleOptions.Installed = "latest"
	o.VehicleOptions.Battery = 120
	assert.ErrorContains(t, o.Validate(), "--vehicle.installed")
	assert.ErrorContains(t, o.Validate(), "--vehicle.battery")
}

func TestConfigSharesOptions(t *testing.T) {
	o := NewAgentOptions()
	cfg, err := o.Config()
	require.NoError(t, err)
	assert.Same(t, o.MqttOptions, cfg.MqttOptions)
	assert.Same(t, o.VehicleOptions, cfg.VehicleOptions)
}
