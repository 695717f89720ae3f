package pca

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// axisModel is a hand-checkable baseline: two components aligned with the
// first two feature axes, so T² = a²/4 + b².
func axisModel() *Model {
	return &Model{
		FeatureNames: []string{"A", "B", "C"},
		Mean:         []float64{0, 0, 0},
		Std:          []float64{1, 1, 1},
		Components:   mat.NewDense(2, 3, []float64{1, 0, 0, 0, 1, 0}),
		Eigenvalues:  []float64{4, 1},
		ThresholdT2:  10,
		Alpha:        0.01,
	}
}

func TestEvaluateComputesT2(t *testing.T) {
	d, err := NewDetector(axisModel(), 3)
	require.NoError(t, err)

	tests := []struct {
		name    string
		input   []float64
		wantT2  float64
		anomaly bool
	}{
		{"at the mean", []float64{0, 0, 0}, 0, false},
		{"below threshold", []float64{2, 1, 5}, 2, false},
		{"above threshold", []float64{10, 0, 0}, 25, true},
		{"exactly at threshold is normal", []float64{0, math.Sqrt(10), 0}, 10, false},
		{"unmodeled axis is invisible", []float64{0, 0, 100}, 0, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := d.Evaluate(tc.input)
			require.False(t, res.Err)
			assert.InDelta(t, tc.wantT2, res.T2, 1e-9)
			assert.Equal(t, tc.anomaly, res.Anomaly)
		})
	}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	// GIVEN a detector and one input
	d, err := NewDetector(axisModel(), 3)
	require.NoError(t, err)
	input := []float64{3.7, -1.2, 0.9}

	// WHEN the same input is evaluated repeatedly
	first := d.Evaluate(input)
	for i := 0; i < 10; i++ {
		again := d.Evaluate(input)
		// THEN every field is identical
		assert.Equal(t, first, again)
	}
}

func TestEvaluateErrorFrames(t *testing.T) {
	d, err := NewDetector(axisModel(), 3)
	require.NoError(t, err)

	// GIVEN a wrong-length vector
	res := d.Evaluate([]float64{1, 2})
	// THEN the frame is an error, not an anomaly
	assert.True(t, res.Err)
	assert.False(t, res.Anomaly)

	// GIVEN a NaN measurement
	res = d.Evaluate([]float64{math.NaN(), 0, 0})
	// THEN the statistic is flagged rather than asserted
	assert.True(t, res.Err)
	assert.False(t, res.Anomaly)
}

func TestContributionsRankDeviatedFeatures(t *testing.T) {
	// GIVEN a frame deviating mostly along B
	d, err := NewDetector(axisModel(), 2)
	require.NoError(t, err)

	// WHEN evaluated
	res := d.Evaluate([]float64{1, 5, 0})

	// THEN B leads the contribution ranking and shares sum to at most 1
	require.NotEmpty(t, res.Contributions)
	assert.Equal(t, "B", res.Contributions[0].Name)
	var sum float64
	for _, c := range res.Contributions {
		sum += c.Share
	}
	assert.LessOrEqual(t, sum, 1.0+1e-9)
	require.Len(t, res.Raw, 3)
	assert.Zero(t, res.Raw[2])
}

func TestReloadRejectsInvalidModelAndKeepsServing(t *testing.T) {
	// GIVEN a serving detector
	d, err := NewDetector(axisModel(), 3)
	require.NoError(t, err)

	// WHEN a reload with a degenerate model is attempted
	bad := axisModel()
	bad.Std[1] = 0
	err = d.Reload(bad)

	// THEN the reload fails and the old model keeps serving
	require.Error(t, err)
	res := d.Evaluate([]float64{2, 1, 5})
	assert.False(t, res.Err)
	assert.InDelta(t, 2.0, res.T2, 1e-9)
}

func TestReloadSwapsThreshold(t *testing.T) {
	// GIVEN a detector whose frame sits below the threshold
	d, err := NewDetector(axisModel(), 3)
	require.NoError(t, err)
	input := []float64{5, 0, 0} // T² = 6.25
	require.False(t, d.Evaluate(input).Anomaly)

	// WHEN a stricter model is swapped in
	strict := axisModel()
	strict.ThresholdT2 = 5
	require.NoError(t, d.Reload(strict))

	// THEN the same frame is now anomalous
	assert.True(t, d.Evaluate(input).Anomaly)
}
