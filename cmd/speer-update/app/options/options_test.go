package options

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSkipsUnusedGroups(t *testing.T) {
	o := NewUpdaterOptions()
	o.MqttOptions.Broker = "carrier-pigeon://loft"
	o.S3Options.BucketName = ""
	assert.Error(t, o.Validate())

	o.UpdateOptions.Simulate = true
	assert.NoError(t, o.Validate())
}

func TestS3OnlyValidatedWhenSelected(t *testing.T) {
	o := NewUpdaterOptions()
	o.S3Options.BucketName = ""
	assert.NoError(t, o.Validate())

	o.UpdateOptions.ReleaseServer = "s3"
	assert.Error(t, o.Validate())
}

func TestCompleteNamesLogger(t *testing.T) {
	o := NewUpdaterOptions()
	require.NoError(t, o.Complete())
	assert.Equal(t, "speer-update", o.LogOptions().Name)

	cfg, err := o.Config()
	require.NoError(t, err)
	assert.Same(t, o.UpdateOptions, cfg.UpdateOptions)
}
