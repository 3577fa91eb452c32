package core

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComponentExpand(t *testing.T) {
	tests := []struct {
		in   Component
		want []Component
	}{
		{ComponentFirmware, []Component{ComponentAutopilot, ComponentCamera, ComponentGimbal}},
		{ComponentApps, []Component{ComponentDatapilot, ComponentUpdaterApp, ComponentST16S}},
		{ComponentGimbal, []Component{ComponentGimbal}},
		{ComponentNone, nil},
	}
	for _, tt := range tests {
		t.Run(tt.in.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.Expand())
		})
	}
}

func TestParseComponent(t *testing.T) {
	c, err := ParseComponent("st16s")
	require.NoError(t, err)
	assert.Equal(t, ComponentST16S, c)

	_, err = ParseComponent("propeller")
	assert.Error(t, err)
}

func TestComponentJSON(t *testing.T) {
	b, err := json.Marshal(struct {
		C Component `json:"c"`
	}{ComponentUpdaterApp})
	require.NoError(t, err)
	assert.JSONEq(t, `{"c":"UpdaterApp"}`, string(b))

	var out struct {
		C Component `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"c":"camera"}`), &out))
	assert.Equal(t, ComponentCamera, out.C)
}

func TestTerminalStates(t *testing.T) {
	terminal := map[State]bool{
		StateFinished: true, StateError: true, StateCancelled: true,
		StateVehicleNotFound: true, StateUpdateServerNotFound: true,
		StateDownloadingTimeout: true, StateUploadingTimeout: true,
		StateBatteryTooLow: true, StateSDCardNotInserted: true,
	}
	for s := StateIdle; s <= StateSDCardNotInserted; s++ {
		assert.Equal(t, terminal[s], s.IsTerminal(), s.String())
	}
	assert.True(t, StateFinished.IsSuccess())
	assert.False(t, StateCancelled.IsSuccess())
}

func TestParseState(t *testing.T) {
	for s := StateIdle; s <= StateSDCardNotInserted; s++ {
		got, err := ParseState(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseState("Launching")
	assert.Error(t, err)
}

func TestCapabilities(t *testing.T) {
	assert.True(t, CapabilitiesOf(ComponentCamera).StorageCheck)
	assert.False(t, CapabilitiesOf(ComponentGimbal).StorageCheck)
	assert.True(t, CapabilitiesOf(ComponentAutopilot).LiveQuery)
	assert.True(t, CapabilitiesOf(ComponentST16S).ManualVersionSeed)
	assert.False(t, CapabilitiesOf(ComponentDatapilot).LiveQuery)
	assert.Equal(t, Capabilities{}, CapabilitiesOf(ComponentFirmware))
}

func TestVersionCodec(t *testing.T) {
	ap := NewVersion(1, 4, 2)
	ap.Autopilot = &AutopilotInfo{
		VendorMajor: 2, VendorMinor: 0, VendorPatch: 1,
		FlightHash: "0123456789abcdef", OSHash: "fedcba9876543210",
		OSMajor: 5, OSMinor: 1, OSPatch: 0,
		VendorID: 0x26ac, ProductID: 0x0011,
	}
	cam := NewVersion(3, 0, 0)
	cam.Region, cam.Model = "EU", "E90"

	for _, tt := range []struct {
		c Component
		v VersionRecord
	}{
		{ComponentAutopilot, ap},
		{ComponentCamera, cam},
		{ComponentDatapilot, NewVersion(2, 1, 0)},
	} {
		got, err := DecodeVersion(tt.c, &Response{Values: EncodeVersion(tt.v)})
		require.NoError(t, err)
		if diff := cmp.Diff(tt.v, got); diff != "" {
			t.Errorf("%s mismatch (-want +got):\n%s", tt.c, diff)
		}
	}

	for _, ids := range []map[string]any{
		{KeyVendorID: 70000, KeyProductID: 17},
		{KeyVendorID: 9900, KeyProductID: -1},
		{KeyVendorID: "0x26ac", KeyProductID: 17},
	} {
		values := EncodeVersion(ap)
		for k, id := range ids {
			values[k] = id
		}
		got, err := DecodeVersion(ComponentAutopilot, &Response{Values: values})
		assert.Error(t, err, "ids %v", ids)
		assert.False(t, got.Known)
	}
}

func TestDecodeVersionFromJSON(t *testing.T) {
	var values map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{
		"major": 1, "minor": 2, "patch": 3,
		"flight_hash": "0123456789abcdef0123", "os_hash": "abc",
		"vendor_id": 9900, "product_id": 17, "model": "ignored"
	}`), &values))

	v, err := DecodeVersion(ComponentAutopilot, &Response{Values: values})
	require.NoError(t, err)
	require.NotNil(t, v.Autopilot)
	assert.Equal(t, "0123456789abcdef", v.Autopilot.FlightHash)
	assert.Equal(t, uint16(9900), v.Autopilot.VendorID)
	assert.Empty(t, v.Model)

	_, err = DecodeVersion(ComponentGimbal, &Response{Values: map[string]any{"major": 1.5}})
	assert.Error(t, err)
}

func TestPercent(t *testing.T) {
	assert.Equal(t, 0, Percent(10, 0))
	assert.Equal(t, 50, Percent(5, 10))
	assert.Equal(t, 100, Percent(12, 10))
	assert.Equal(t, 0, Percent(-1, 10))
}

func TestInstructionUpdateAvailable(t *testing.T) {
	assert.True(t, InstructionMajorUpdateAvailable.UpdateAvailable())
	assert.True(t, InstructionMinorUpdateAvailable.UpdateAvailable())
	assert.True(t, InstructionMandatoryUpdateAvailable.UpdateAvailable())
	assert.False(t, InstructionUpToDate.UpdateAvailable())
	assert.False(t, InstructionInstalledVersionUnknown.UpdateAvailable())
}
