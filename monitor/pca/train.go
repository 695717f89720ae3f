package pca

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// TrainConfig controls baseline fitting.
type TrainConfig struct {
	VarianceTarget float64 // retain the smallest P with at least this explained variance (default 0.90)
	Alpha          float64 // training false-alarm rate for the T² threshold (default 0.01)
	MaxComponents  int     // optional hard cap on P (0 = no cap)
}

func (c *TrainConfig) applyDefaults() {
	if c.VarianceTarget <= 0 || c.VarianceTarget > 1 {
		c.VarianceTarget = 0.90
	}
	if c.Alpha <= 0 || c.Alpha >= 1 {
		c.Alpha = 0.01
	}
}

// Train fits a PCA baseline from nominal-operation samples. data is n×F with
// one sample per row in the order of names. The threshold is the empirical
// (1−α) quantile of the training T² scores, so the training false-alarm rate
// is approximately α.
func Train(data *mat.Dense, names []string, cfg TrainConfig) (*Model, error) {
	cfg.applyDefaults()
	n, f := data.Dims()
	if f != len(names) {
		return nil, fmt.Errorf("train: %d columns but %d feature names", f, len(names))
	}
	if n < 2 {
		return nil, fmt.Errorf("train: need at least 2 samples, got %d", n)
	}

	mean := make([]float64, f)
	std := make([]float64, f)
	col := make([]float64, n)
	for j := 0; j < f; j++ {
		mat.Col(col, j, data)
		m, s := stat.MeanStdDev(col, nil)
		if !(s > 0) {
			return nil, fmt.Errorf("train: feature %q has zero variance in training data", names[j])
		}
		mean[j] = m
		std[j] = s
	}

	z := mat.NewDense(n, f, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < f; j++ {
			z.Set(i, j, (data.At(i, j)-mean[j])/std[j])
		}
	}

	var pc stat.PC
	if ok := pc.PrincipalComponents(z, nil); !ok {
		return nil, fmt.Errorf("train: principal component decomposition failed")
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)
	vars := pc.VarsTo(nil)

	var total float64
	for _, v := range vars {
		total += v
	}
	if total <= 0 {
		return nil, fmt.Errorf("train: no variance in training data")
	}
	p := 0
	var explained float64
	for p < len(vars) {
		explained += vars[p]
		p++
		if explained/total >= cfg.VarianceTarget {
			break
		}
	}
	if cfg.MaxComponents > 0 && p > cfg.MaxComponents {
		p = cfg.MaxComponents
	}
	for k := 0; k < p; k++ {
		if !(vars[k] > 0) {
			// A retained component with no variance cannot be inverted
			// in the T² form; stop at the last usable one.
			p = k
			break
		}
	}
	if p == 0 {
		return nil, fmt.Errorf("train: no usable principal components")
	}

	// vecs holds direction vectors in columns; the model stores them as rows.
	comp := mat.NewDense(p, f, nil)
	for k := 0; k < p; k++ {
		for j := 0; j < f; j++ {
			comp.Set(k, j, vecs.At(j, k))
		}
	}

	m := &Model{
		FeatureNames: append([]string(nil), names...),
		Mean:         mean,
		Std:          std,
		Components:   comp,
		Eigenvalues:  append([]float64(nil), vars[:p]...),
		Alpha:        cfg.Alpha,
	}

	scores := make([]float64, n)
	row := make([]float64, f)
	for i := 0; i < n; i++ {
		mat.Row(row, i, data)
		scores[i] = trainingT2(m, row)
	}
	sort.Float64s(scores)
	m.ThresholdT2 = stat.Quantile(1-cfg.Alpha, stat.Empirical, scores, nil)
	if !(m.ThresholdT2 > 0) || math.IsInf(m.ThresholdT2, 0) {
		return nil, fmt.Errorf("train: degenerate T² threshold %v", m.ThresholdT2)
	}

	m.buildIndex()
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// trainingT2 scores one raw sample against a model that may not yet have a
// threshold set.
func trainingT2(m *Model, features []float64) float64 {
	f := m.NumFeatures()
	p := m.NumComponents()
	var t2 float64
	for k := 0; k < p; k++ {
		row := m.Components.RawRowView(k)
		var t float64
		for i := 0; i < f; i++ {
			t += row[i] * (features[i] - m.Mean[i]) / m.Std[i]
		}
		t2 += t * t / m.Eigenvalues[k]
	}
	return t2
}
