package monitor

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpeedPresetIntervals(t *testing.T) {
	tests := []struct {
		preset SpeedPreset
		want   time.Duration
	}{
		{SpeedReal, 180 * time.Second},
		{SpeedFast, 18 * time.Second},
		{SpeedDemo, time.Second},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, tc.preset.Interval(), string(tc.preset))
	}
}

func TestParseSpeedPresetRejectsUnknown(t *testing.T) {
	// GIVEN an unknown preset name
	// WHEN parsed
	_, err := ParseSpeedPreset("turbo")

	// THEN a structured input error is returned
	var input *InputError
	require.ErrorAs(t, err, &input)
	assert.Equal(t, "invalid_speed", input.Code)
}

func TestSetIDVMagnitudeValidation(t *testing.T) {
	cp := NewControlPlane(SpeedDemo)

	tests := []struct {
		name      string
		index     int
		magnitude float64
		wantCode  string
		want      float64
	}{
		{"valid", 4, 0.5, "", 0.5},
		{"clamped above max", 4, 3.0, "", 1.0},
		{"clamped below zero", 4, -1.0, "", 0.0},
		{"index too low", 0, 0.5, "invalid_idv_index", 0},
		{"index too high", 21, 0.5, "invalid_idv_index", 0},
		{"nan rejected", 4, math.NaN(), "invalid_idv_value", 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := cp.SetIDVMagnitude(tc.index, tc.magnitude)
			if tc.wantCode != "" {
				var input *InputError
				require.ErrorAs(t, err, &input)
				assert.Equal(t, tc.wantCode, input.Code)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, cp.Staged().IDVMagnitudes[tc.index-1])
		})
	}
}

func TestSetXMVOverrideClampsAndClears(t *testing.T) {
	// GIVEN a control plane
	cp := NewControlPlane(SpeedDemo)

	// WHEN an out-of-range override is staged
	v := 150.0
	require.NoError(t, cp.SetXMVOverride(3, &v))

	// THEN it is clamped to the valve range
	staged := cp.Staged()
	require.NotNil(t, staged.XMVOverrides[2])
	assert.Equal(t, 100.0, *staged.XMVOverrides[2])

	// WHEN the override is cleared with nil
	require.NoError(t, cp.SetXMVOverride(3, nil))

	// THEN the valve returns to the simulator's controller
	assert.Nil(t, cp.Staged().XMVOverrides[2])
}

func TestXMVOverrideRejectsBadInput(t *testing.T) {
	cp := NewControlPlane(SpeedDemo)
	nan := math.NaN()

	var input *InputError
	require.ErrorAs(t, cp.SetXMVOverride(0, nil), &input)
	assert.Equal(t, "invalid_xmv_index", input.Code)
	require.ErrorAs(t, cp.SetXMVOverride(12, nil), &input)
	assert.Equal(t, "invalid_xmv_index", input.Code)
	require.ErrorAs(t, cp.SetXMVOverride(1, &nan), &input)
	assert.Equal(t, "invalid_xmv_value", input.Code)
}

func TestPromotePublishesStagedAtomically(t *testing.T) {
	// GIVEN staged operator inputs
	cp := NewControlPlane(SpeedDemo)
	require.NoError(t, cp.SetIDVMagnitude(1, 0.8))
	v := 42.0
	require.NoError(t, cp.SetXMVOverride(5, &v))

	// THEN the current state does not change before promotion
	assert.Equal(t, 0.0, cp.Current().IDVMagnitudes[0])

	// WHEN the driver promotes at a step boundary
	got := cp.Promote()

	// THEN the promoted step sees the whole staged state
	assert.Equal(t, 0.8, got.IDVMagnitudes[0])
	require.NotNil(t, got.XMVOverrides[4])
	assert.Equal(t, 42.0, *got.XMVOverrides[4])
	assert.Equal(t, 0.8, cp.Current().IDVMagnitudes[0])
}

func TestStopAllFaultsClearsDisturbancesAndOverrides(t *testing.T) {
	// GIVEN active disturbances and overrides
	cp := NewControlPlane(SpeedDemo)
	require.NoError(t, cp.SetIDVMagnitude(1, 1.0))
	require.NoError(t, cp.SetIDVMagnitude(8, 0.3))
	v := 10.0
	require.NoError(t, cp.SetXMVOverride(2, &v))

	// WHEN all faults are stopped
	cp.StopAllFaults()

	// THEN everything staged returns to closed-loop nominal
	staged := cp.Staged()
	for i, m := range staged.IDVMagnitudes {
		assert.Zero(t, m, "IDV %d", i+1)
	}
	for i, o := range staged.XMVOverrides {
		assert.Nil(t, o, "XMV %d", i+1)
	}
}

func TestSetSpeedWakesDriver(t *testing.T) {
	// GIVEN a control plane with a sleeping driver
	cp := NewControlPlane(SpeedReal)

	// WHEN the speed preset changes
	cp.SetSpeed(SpeedDemo)

	// THEN the wake channel fires and the staged preset is updated
	select {
	case <-cp.Wake():
	default:
		t.Fatal("expected wake signal after speed change")
	}
	assert.Equal(t, SpeedDemo, cp.Staged().Speed)
}

func TestActiveIDVFlags(t *testing.T) {
	// GIVEN magnitudes with two active slots
	cp := NewControlPlane(SpeedDemo)
	require.NoError(t, cp.SetIDVMagnitude(1, 0.5))
	require.NoError(t, cp.SetIDVMagnitude(13, 1.0))

	// THEN flags mark exactly those slots
	staged := cp.Staged()
	flags := staged.ActiveIDVs()
	require.Len(t, flags, NumIDV)
	assert.Equal(t, 1, flags[0])
	assert.Equal(t, 1, flags[12])
	assert.Equal(t, 0, flags[1])
}
