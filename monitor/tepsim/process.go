// Package tepsim provides a self-contained synthetic stand-in for the native
// Tennessee Eastman Process simulator. It reproduces the black-box stepping
// contract — 41 measurements and 11 manipulated variables per 180s tick,
// disturbance channels that pull affected measurement groups off baseline —
// without the Fortran dynamics, so the full pipeline runs and tests
// deterministically by seed.
package tepsim

import (
	"math/rand"

	"github.com/tep-monitor/tep-monitor/monitor"
)

// TickSeconds is the simulated time advanced per step.
const TickSeconds = 180.0

// nominalXMEAS holds the base-case operating point of the 41 measurements.
var nominalXMEAS = []float64{
	0.25052, 3664.0, 4509.3, 9.3477, 26.902, 42.339, 2705.0, 75.0, 120.40,
	0.33712, 80.109, 50.0, 2633.7, 25.160, 50.0, 3102.2, 22.949, 65.731,
	230.31, 341.43, 94.599, 77.297, 32.188, 8.8933, 26.383, 6.8820, 18.776,
	1.6567, 32.958, 13.823, 23.978, 1.2565, 18.579, 2.2633, 4.8436, 2.2986,
	0.01787, 0.8357, 0.09858, 53.724, 43.828,
}

// nominalXMV holds the base-case valve positions of the 11 manipulated
// variables, in percent.
var nominalXMV = []float64{
	63.053, 53.980, 24.644, 61.302, 22.210, 40.064, 38.100, 46.534, 47.446,
	41.106, 18.114,
}

// idvEffect is one measurement displaced by an active disturbance: at unit
// magnitude the target moves by Gain relative to nominal.
type idvEffect struct {
	meas int // 0-based XMEAS index
	gain float64
}

// idvEffects maps each IDV channel (0-based) to the measurement groups it
// disturbs. Gains are relative displacements calibrated so a unit magnitude
// produces a clearly detectable shift without leaving physical ranges.
var idvEffects = [][]idvEffect{
	{{3, 0.12}, {22, 0.15}, {24, -0.10}, {6, 0.01}},           // IDV 1: A/C feed ratio (stream 4)
	{{23, 0.40}, {29, 0.35}, {6, 0.008}, {9, 0.30}},           // IDV 2: B composition
	{{8, 0.015}, {20, 0.02}},                                  // IDV 3: D feed temperature
	{{20, 0.06}, {8, 0.008}},                                  // IDV 4: reactor cooling water inlet temp
	{{21, 0.05}, {10, 0.02}},                                  // IDV 5: condenser cooling water inlet temp
	{{0, -0.60}, {22, -0.25}, {6, -0.01}},                     // IDV 6: A feed loss (stream 1)
	{{3, -0.10}, {15, -0.02}, {6, -0.008}},                    // IDV 7: C header pressure loss (stream 4)
	{{22, 0.10}, {23, 0.12}, {24, -0.06}, {6, 0.012}},         // IDV 8: A/B/C composition variation
	{{8, 0.010}, {20, 0.015}},                                 // IDV 9: D feed temperature variation
	{{17, 0.04}, {18, 0.05}, {15, 0.01}},                      // IDV 10: C feed temperature variation
	{{20, 0.05}, {8, 0.010}, {9, 0.002}},                      // IDV 11: reactor cooling water temp variation
	{{21, 0.06}, {10, 0.03}, {12, 0.004}},                     // IDV 12: condenser cooling water temp variation
	{{6, 0.015}, {8, 0.012}, {34, 0.15}, {35, 0.12}},          // IDV 13: slow drift in reaction kinetics
	{{20, 0.08}, {8, 0.015}},                                  // IDV 14: reactor cooling water valve sticking
	{{21, 0.07}, {11, 0.02}},                                  // IDV 15: condenser cooling water valve sticking
	{{17, 0.03}, {18, 0.04}},                                  // IDV 16
	{{8, 0.012}, {20, 0.04}},                                  // IDV 17
	{{10, 0.03}, {12, 0.006}, {13, 0.02}},                     // IDV 18
	{{4, 0.05}, {19, 0.04}},                                   // IDV 19
	{{6, 0.010}, {16, 0.03}, {19, 0.05}},                      // IDV 20
}

// Config tunes the synthetic process.
type Config struct {
	Seed         int64
	NoiseFrac    float64 // measurement noise as a fraction of nominal (default 0.004)
	ResponseRate float64 // per-step first-order approach toward target (default 0.35)
}

// Process is a deterministic-by-seed synthetic TEP implementation of
// monitor.Stepper. Not safe for concurrent use; the driver owns the handle.
type Process struct {
	cfg     Config
	rng     *rand.Rand
	state   []float64 // current XMEAS values
	simTime float64
}

// New creates a synthetic process at the nominal operating point.
func New(cfg Config) *Process {
	if cfg.NoiseFrac <= 0 {
		cfg.NoiseFrac = 0.004
	}
	if cfg.ResponseRate <= 0 || cfg.ResponseRate > 1 {
		cfg.ResponseRate = 0.35
	}
	return &Process{
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(cfg.Seed)),
		state: append([]float64(nil), nominalXMEAS...),
	}
}

// Step advances one simulator tick.
func (p *Process) Step(in monitor.StepInputs) (monitor.RawFrame, error) {
	target := append([]float64(nil), nominalXMEAS...)
	for ch, effects := range idvEffects {
		if ch >= len(in.IDV) {
			break
		}
		mag := in.IDV[ch]
		if mag <= 0 {
			continue
		}
		for _, e := range effects {
			target[e.meas] += nominalXMEAS[e.meas] * e.gain * mag
		}
	}

	meas := make([]float64, len(p.state))
	for i := range p.state {
		noise := p.rng.NormFloat64() * p.cfg.NoiseFrac * scaleOf(nominalXMEAS[i])
		p.state[i] += (target[i]-p.state[i])*p.cfg.ResponseRate + noise
		meas[i] = p.state[i]
	}

	xmv := make([]float64, len(nominalXMV))
	for j := range xmv {
		if j < len(in.XMVOverrides) && in.XMVOverrides[j] != nil {
			xmv[j] = *in.XMVOverrides[j]
			continue
		}
		xmv[j] = nominalXMV[j] + p.rng.NormFloat64()*p.cfg.NoiseFrac*scaleOf(nominalXMV[j])
	}

	p.simTime += TickSeconds
	return monitor.RawFrame{
		Measurements: meas,
		Manipulated:  xmv,
		SimTime:      p.simTime,
	}, nil
}

// scaleOf keeps noise meaningful for near-zero nominals.
func scaleOf(nominal float64) float64 {
	if nominal < 0 {
		nominal = -nominal
	}
	if nominal < 0.01 {
		return 0.01
	}
	return nominal
}
