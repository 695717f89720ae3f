package pca

import (
	"fmt"
	"math"
	"sort"
	"sync/atomic"
)

// DefaultTopK is the number of contributing features reported per evaluation.
const DefaultTopK = 6

// Contribution is one feature's share of the T² statistic at a frame.
type Contribution struct {
	Name  string
	Share float64 // fraction of total contribution, in [0,1]
	Value float64 // raw contribution c_i
}

// Result is the outcome of evaluating one feature vector.
type Result struct {
	T2      float64
	Anomaly bool
	Err     bool // non-finite statistic or shape mismatch; no anomaly asserted
	// Contributions holds the top-K features ranked by contribution.
	Contributions []Contribution
	// Raw holds the full per-feature contribution vector (length F),
	// used by the event tracker for running means.
	Raw []float64
}

// Detector evaluates frames against an atomically swappable baseline model.
// Evaluate loads the model pointer exactly once per call, so a concurrent
// reload never yields a mixed-model evaluation.
type Detector struct {
	model atomic.Pointer[Model]
	topK  int
}

// NewDetector creates a detector over a validated model.
func NewDetector(m *Model, topK int) (*Detector, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	d := &Detector{topK: topK}
	if err := d.Reload(m); err != nil {
		return nil, err
	}
	return d, nil
}

// Model returns the currently active baseline.
func (d *Detector) Model() *Model {
	return d.model.Load()
}

// Reload validates m and swaps it in atomically. On error the previous model
// keeps serving.
func (d *Detector) Reload(m *Model) error {
	if m == nil {
		return fmt.Errorf("baseline: nil model")
	}
	if err := m.Validate(); err != nil {
		return err
	}
	if m.featureIndex == nil {
		m.buildIndex()
	}
	d.model.Store(m)
	return nil
}

// Evaluate computes Hotelling's T² and per-feature contributions for one
// feature vector in model order. It is deterministic for identical model and
// input, and never mutates the model.
func (d *Detector) Evaluate(features []float64) Result {
	m := d.model.Load()
	f := m.NumFeatures()
	p := m.NumComponents()
	if len(features) != f {
		return Result{Err: true}
	}

	// Standardize.
	z := make([]float64, f)
	for i, v := range features {
		z[i] = (v - m.Mean[i]) / m.Std[i]
	}

	// Project onto the retained components: t_k = Σ_i W[k,i]·z_i.
	scores := make([]float64, p)
	for k := 0; k < p; k++ {
		row := m.Components.RawRowView(k)
		var t float64
		for i := 0; i < f; i++ {
			t += row[i] * z[i]
		}
		scores[k] = t
	}

	var t2 float64
	for k := 0; k < p; k++ {
		t2 += scores[k] * scores[k] / m.Eigenvalues[k]
	}
	if math.IsNaN(t2) || math.IsInf(t2, 0) {
		return Result{T2: t2, Err: true}
	}

	// Per-feature contribution: c_i = Σ_k (W[k,i]·t_k/λ_k)² · σ_i².
	raw := make([]float64, f)
	var total float64
	for i := 0; i < f; i++ {
		var c float64
		for k := 0; k < p; k++ {
			g := m.Components.At(k, i) * scores[k] / m.Eigenvalues[k]
			c += g * g
		}
		c *= m.Std[i] * m.Std[i]
		raw[i] = c
		total += c
	}

	return Result{
		T2:            t2,
		Anomaly:       t2 > m.ThresholdT2,
		Contributions: TopContributions(m.FeatureNames, raw, total, d.topK),
		Raw:           raw,
	}
}

// TopContributions ranks a contribution vector and returns the top k entries
// with normalized shares. A non-positive total yields an empty slice.
func TopContributions(names []string, raw []float64, total float64, k int) []Contribution {
	if total <= 0 {
		return nil
	}
	idx := make([]int, len(raw))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return raw[idx[a]] > raw[idx[b]] })
	if k > len(idx) {
		k = len(idx)
	}
	out := make([]Contribution, 0, k)
	for _, i := range idx[:k] {
		out = append(out, Contribution{
			Name:  names[i],
			Share: raw[i] / total,
			Value: raw[i],
		})
	}
	return out
}
