// Package monitor implements the real-time orchestration layer of the TEP
// monitoring pipeline: the sliding frame window, the control plane for
// operator inputs, the anomaly event tracker, and the simulation driver that
// ties them to the process simulator, the detector, and the event stream.
package monitor

import (
	"fmt"
	"time"
)

// Dimensions of the Tennessee Eastman Process benchmark.
const (
	NumMeas     = 41 // continuous + sampled process measurements (XMEAS)
	NumMV       = 11 // manipulated variables (XMV)
	NumIDV      = 20 // process disturbance channels (IDV)
	NumFeatures = NumMeas + NumMV
)

// FeatureNames lists the 52 monitored features in model order: XMEAS(1..41)
// followed by XMV(1..11). Baseline artifacts address features by these names.
var FeatureNames = buildFeatureNames()

func buildFeatureNames() []string {
	names := make([]string, 0, NumFeatures)
	for i := 1; i <= NumMeas; i++ {
		names = append(names, fmt.Sprintf("XMEAS(%d)", i))
	}
	for i := 1; i <= NumMV; i++ {
		names = append(names, fmt.Sprintf("XMV(%d)", i))
	}
	return names
}

// featureDescriptions maps feature names to their process meaning, used when
// assembling analysis prompts. Sourced from the standard TEP documentation.
var featureDescriptions = map[string]string{
	"XMEAS(1)":  "A feed (stream 1)",
	"XMEAS(2)":  "D feed (stream 2)",
	"XMEAS(3)":  "E feed (stream 3)",
	"XMEAS(4)":  "A and C feed (stream 4)",
	"XMEAS(5)":  "recycle flow (stream 8)",
	"XMEAS(6)":  "reactor feed rate (stream 6)",
	"XMEAS(7)":  "reactor pressure",
	"XMEAS(8)":  "reactor level",
	"XMEAS(9)":  "reactor temperature",
	"XMEAS(10)": "purge rate (stream 9)",
	"XMEAS(11)": "product separator temperature",
	"XMEAS(12)": "product separator level",
	"XMEAS(13)": "product separator pressure",
	"XMEAS(14)": "product separator underflow (stream 10)",
	"XMEAS(15)": "stripper level",
	"XMEAS(16)": "stripper pressure",
	"XMEAS(17)": "stripper underflow (stream 11)",
	"XMEAS(18)": "stripper temperature",
	"XMEAS(19)": "stripper steam flow",
	"XMEAS(20)": "compressor work",
	"XMEAS(21)": "reactor cooling water outlet temperature",
	"XMEAS(22)": "separator cooling water outlet temperature",
	"XMEAS(23)": "component A in reactor feed",
	"XMEAS(24)": "component B in reactor feed",
	"XMEAS(25)": "component C in reactor feed",
	"XMEAS(26)": "component D in reactor feed",
	"XMEAS(27)": "component E in reactor feed",
	"XMEAS(28)": "component F in reactor feed",
	"XMEAS(29)": "component A in purge",
	"XMEAS(30)": "component B in purge",
	"XMEAS(31)": "component C in purge",
	"XMEAS(32)": "component D in purge",
	"XMEAS(33)": "component E in purge",
	"XMEAS(34)": "component F in purge",
	"XMEAS(35)": "component G in purge",
	"XMEAS(36)": "component H in purge",
	"XMEAS(37)": "component D in product",
	"XMEAS(38)": "component E in product",
	"XMEAS(39)": "component F in product",
	"XMEAS(40)": "component G in product",
	"XMEAS(41)": "component H in product",
	"XMV(1)":    "D feed flow valve",
	"XMV(2)":    "E feed flow valve",
	"XMV(3)":    "A feed flow valve",
	"XMV(4)":    "A and C feed flow valve",
	"XMV(5)":    "compressor recycle valve",
	"XMV(6)":    "purge valve",
	"XMV(7)":    "separator pot liquid flow valve",
	"XMV(8)":    "stripper liquid product flow valve",
	"XMV(9)":    "stripper steam valve",
	"XMV(10)":   "reactor cooling water flow valve",
	"XMV(11)":   "condenser cooling water flow valve",
}

// DescribeFeature returns a human-readable description of a feature name, or
// the name itself when no description is known.
func DescribeFeature(name string) string {
	if d, ok := featureDescriptions[name]; ok {
		return d
	}
	return name
}

// FeatureShare is one feature's share of an anomaly statistic.
type FeatureShare struct {
	Name  string  `json:"name"`
	Share float64 `json:"share"`
}

// Derived carries per-frame detection output attached after evaluation.
type Derived struct {
	T2          float64        `json:"t2_stat"`
	Anomaly     bool           `json:"anomaly"`
	Error       bool           `json:"error,omitempty"` // non-finite statistic, no anomaly asserted
	TopFeatures []FeatureShare `json:"contributing_features,omitempty"`
}

// SensorFrame is one time-tick of simulator output plus detection results.
// Steps increase by exactly one per published frame.
type SensorFrame struct {
	Step         int64     `json:"step"`
	SimTime      float64   `json:"sim_time_seconds"`
	WallTime     time.Time `json:"wall_time"`
	Measurements []float64 `json:"measurements"` // XMEAS 1..41
	Manipulated  []float64 `json:"manipulated"`  // XMV 1..11
	Disturbances []int     `json:"disturbances"` // IDV 1..20 active flags
	Derived      *Derived  `json:"derived,omitempty"`
}

// FeatureVector returns the frame's features in model order
// (XMEAS 1..41 then XMV 1..11) as a fresh slice.
func (f *SensorFrame) FeatureVector() []float64 {
	v := make([]float64, 0, NumFeatures)
	v = append(v, f.Measurements...)
	v = append(v, f.Manipulated...)
	return v
}

// Clone returns a deep copy that the caller may retain without synchronization.
func (f *SensorFrame) Clone() SensorFrame {
	c := *f
	c.Measurements = append([]float64(nil), f.Measurements...)
	c.Manipulated = append([]float64(nil), f.Manipulated...)
	c.Disturbances = append([]int(nil), f.Disturbances...)
	if f.Derived != nil {
		d := *f.Derived
		d.TopFeatures = append([]FeatureShare(nil), f.Derived.TopFeatures...)
		c.Derived = &d
	}
	return c
}
