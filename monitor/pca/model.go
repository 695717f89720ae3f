// Package pca implements the PCA baseline model and the Hotelling T²
// anomaly detector evaluated against each sensor frame.
package pca

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"gonum.org/v1/gonum/mat"
)

// Model holds the PCA parameters fitted on nominal-operation data. Models are
// immutable after load; reloads swap in a whole new Model.
type Model struct {
	FeatureNames []string
	Mean         []float64
	Std          []float64
	Components   *mat.Dense // P x F, rows are principal directions
	Eigenvalues  []float64  // length P, variance captured by each component
	ThresholdT2  float64
	Alpha        float64 // training false-alarm rate the threshold was set for

	// featureIndex pre-resolves names to positions so the hot path never
	// does string lookups.
	featureIndex map[string]int
}

// NumFeatures returns F, the modeled feature count.
func (m *Model) NumFeatures() int { return len(m.FeatureNames) }

// NumComponents returns P, the retained principal-component count.
func (m *Model) NumComponents() int { return len(m.Eigenvalues) }

// FeatureIndex returns the model position of a feature name.
func (m *Model) FeatureIndex(name string) (int, bool) {
	i, ok := m.featureIndex[name]
	return i, ok
}

func (m *Model) buildIndex() {
	m.featureIndex = make(map[string]int, len(m.FeatureNames))
	for i, n := range m.FeatureNames {
		m.featureIndex[n] = i
	}
}

// Validate rejects models with inconsistent shapes or degenerate parameters.
// A rejected model must never be swapped in.
func (m *Model) Validate() error {
	f := m.NumFeatures()
	p := m.NumComponents()
	if f == 0 {
		return fmt.Errorf("baseline: no features")
	}
	if p == 0 || p > f {
		return fmt.Errorf("baseline: component count %d out of range 1..%d", p, f)
	}
	if len(m.Mean) != f || len(m.Std) != f {
		return fmt.Errorf("baseline: mean/std length %d/%d, want %d", len(m.Mean), len(m.Std), f)
	}
	for i, s := range m.Std {
		if !(s > 0) || math.IsInf(s, 0) {
			return fmt.Errorf("baseline: std for feature %q must be positive and finite, got %v", m.FeatureNames[i], s)
		}
	}
	for k, ev := range m.Eigenvalues {
		if !(ev > 0) || math.IsInf(ev, 0) {
			return fmt.Errorf("baseline: eigenvalue %d must be positive and finite, got %v", k, ev)
		}
	}
	r, c := m.Components.Dims()
	if r != p || c != f {
		return fmt.Errorf("baseline: components shape %dx%d, want %dx%d", r, c, p, f)
	}
	if !(m.ThresholdT2 > 0) {
		return fmt.Errorf("baseline: threshold_t2 must be positive, got %v", m.ThresholdT2)
	}
	seen := make(map[string]struct{}, f)
	for _, n := range m.FeatureNames {
		if _, dup := seen[n]; dup {
			return fmt.Errorf("baseline: duplicate feature name %q", n)
		}
		seen[n] = struct{}{}
	}
	return nil
}

// artifact is the on-disk representation: a self-describing JSON document
// with shape fields and an integrity checksum over the numeric payload.
type artifact struct {
	Version       int         `json:"version"`
	NumFeatures   int         `json:"num_features"`
	NumComponents int         `json:"num_components"`
	Checksum      string      `json:"checksum"`
	Alpha         float64     `json:"alpha"`
	ThresholdT2   float64     `json:"threshold_t2"`
	FeatureNames  []string    `json:"feature_names"`
	Mean          []float64   `json:"mean"`
	Std           []float64   `json:"std"`
	Components    [][]float64 `json:"components"`
	Eigenvalues   []float64   `json:"eigenvalues"`
}

const artifactVersion = 1

func (a *artifact) payloadChecksum() (string, error) {
	clean := *a
	clean.Checksum = ""
	raw, err := json.Marshal(&clean)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// Save writes the model to path as a checksummed artifact.
func (m *Model) Save(path string) error {
	if err := m.Validate(); err != nil {
		return err
	}
	p, f := m.NumComponents(), m.NumFeatures()
	rows := make([][]float64, p)
	for k := 0; k < p; k++ {
		rows[k] = append([]float64(nil), m.Components.RawRowView(k)...)
	}
	a := &artifact{
		Version:       artifactVersion,
		NumFeatures:   f,
		NumComponents: p,
		Alpha:         m.Alpha,
		ThresholdT2:   m.ThresholdT2,
		FeatureNames:  m.FeatureNames,
		Mean:          m.Mean,
		Std:           m.Std,
		Components:    rows,
		Eigenvalues:   m.Eigenvalues,
	}
	sum, err := a.payloadChecksum()
	if err != nil {
		return fmt.Errorf("baseline: checksum: %w", err)
	}
	a.Checksum = sum
	raw, err := json.MarshalIndent(a, "", " ")
	if err != nil {
		return fmt.Errorf("baseline: encode: %w", err)
	}
	return os.WriteFile(path, raw, 0o644)
}

// Load reads, integrity-checks, and validates a baseline artifact.
func Load(path string) (*Model, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("baseline: read %s: %w", path, err)
	}
	var a artifact
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("baseline: parse %s: %w", path, err)
	}
	if a.Version != artifactVersion {
		return nil, fmt.Errorf("baseline: unsupported artifact version %d", a.Version)
	}
	if a.Checksum != "" {
		want, err := a.payloadChecksum()
		if err != nil {
			return nil, fmt.Errorf("baseline: checksum: %w", err)
		}
		if a.Checksum != want {
			return nil, fmt.Errorf("baseline: checksum mismatch in %s", path)
		}
	}
	if a.NumFeatures != len(a.FeatureNames) || a.NumComponents != len(a.Eigenvalues) || a.NumComponents != len(a.Components) {
		return nil, fmt.Errorf("baseline: declared shape %dx%d does not match payload", a.NumComponents, a.NumFeatures)
	}
	comp := mat.NewDense(a.NumComponents, a.NumFeatures, nil)
	for k, row := range a.Components {
		if len(row) != a.NumFeatures {
			return nil, fmt.Errorf("baseline: component row %d has %d entries, want %d", k, len(row), a.NumFeatures)
		}
		comp.SetRow(k, row)
	}
	m := &Model{
		FeatureNames: a.FeatureNames,
		Mean:         a.Mean,
		Std:          a.Std,
		Components:   comp,
		Eigenvalues:  a.Eigenvalues,
		ThresholdT2:  a.ThresholdT2,
		Alpha:        a.Alpha,
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	m.buildIndex()
	return m, nil
}
