package pca

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestModelValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Model)
		valid  bool
	}{
		{"well-formed", func(m *Model) {}, true},
		{"no features", func(m *Model) { m.FeatureNames = nil; m.Mean = nil; m.Std = nil }, false},
		{"zero std", func(m *Model) { m.Std[0] = 0 }, false},
		{"negative eigenvalue", func(m *Model) { m.Eigenvalues[0] = -1 }, false},
		{"mean length mismatch", func(m *Model) { m.Mean = m.Mean[:2] }, false},
		{"component shape mismatch", func(m *Model) { m.Components = mat.NewDense(2, 2, nil) }, false},
		{"zero threshold", func(m *Model) { m.ThresholdT2 = 0 }, false},
		{"duplicate feature name", func(m *Model) { m.FeatureNames[1] = m.FeatureNames[0] }, false},
		{"more components than features", func(m *Model) {
			m.Components = mat.NewDense(4, 3, nil)
			m.Eigenvalues = []float64{1, 1, 1, 1}
		}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := axisModel()
			tc.mutate(m)
			err := m.Validate()
			if tc.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	// GIVEN a valid model written to disk
	path := filepath.Join(t.TempDir(), "baseline.json")
	orig := axisModel()
	require.NoError(t, orig.Save(path))

	// WHEN loaded back
	got, err := Load(path)
	require.NoError(t, err)

	// THEN every parameter survives
	assert.Equal(t, orig.FeatureNames, got.FeatureNames)
	assert.Equal(t, orig.Mean, got.Mean)
	assert.Equal(t, orig.Std, got.Std)
	assert.Equal(t, orig.Eigenvalues, got.Eigenvalues)
	assert.Equal(t, orig.ThresholdT2, got.ThresholdT2)
	assert.Equal(t, orig.Alpha, got.Alpha)
	assert.True(t, mat.Equal(orig.Components, got.Components))

	// THEN the loaded model resolves feature positions
	i, ok := got.FeatureIndex("B")
	require.True(t, ok)
	assert.Equal(t, 1, i)
}

func TestLoadRejectsTamperedArtifact(t *testing.T) {
	// GIVEN a saved artifact with a flipped numeric value
	path := filepath.Join(t.TempDir(), "baseline.json")
	require.NoError(t, axisModel().Save(path))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	doc["threshold_t2"] = 999.0
	tampered, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, tampered, 0o644))

	// WHEN loaded
	_, err = Load(path)

	// THEN the checksum mismatch is detected
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum")
}

func TestLoadRejectsShapeMismatch(t *testing.T) {
	// GIVEN an artifact whose declared shape disagrees with the payload
	path := filepath.Join(t.TempDir(), "baseline.json")
	require.NoError(t, axisModel().Save(path))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	doc["num_components"] = 5.0
	delete(doc, "checksum")
	broken, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, broken, 0o644))

	// WHEN loaded
	_, err = Load(path)

	// THEN the shape check fails before any evaluation can use it
	assert.Error(t, err)
}

func TestLoadRejectsUnknownVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "baseline.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version": 99}`), 0o644))
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
