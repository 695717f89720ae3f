package cmd

import (
	"encoding/csv"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tep-monitor/tep-monitor/monitor"
	"github.com/tep-monitor/tep-monitor/monitor/tepsim"
)

var (
	// CLI flags for baseline recording
	recordSteps  int    // Number of nominal frames to record
	recordOutput string // Output CSV path
)

// recordCmd captures nominal-operation frames for baseline training
var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record nominal-operation sensor frames to a training CSV",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()

		process := tepsim.New(tepsim.Config{Seed: seed})
		f, err := os.Create(recordOutput)
		if err != nil {
			logrus.Fatalf("Creating %s: %v", recordOutput, err)
		}
		defer f.Close()

		w := csv.NewWriter(f)
		if err := w.Write(monitor.FeatureNames); err != nil {
			logrus.Fatalf("Writing header: %v", err)
		}
		// No faults and no overrides: every frame is nominal operation.
		inputs := monitor.StepInputs{IDV: make([]float64, monitor.NumIDV)}
		row := make([]string, monitor.NumFeatures)
		for step := 0; step < recordSteps; step++ {
			raw, err := process.Step(inputs)
			if err != nil {
				logrus.Fatalf("Simulator step %d: %v", step, err)
			}
			frame := monitor.SensorFrame{Measurements: raw.Measurements, Manipulated: raw.Manipulated}
			for i, v := range frame.FeatureVector() {
				row[i] = strconv.FormatFloat(v, 'g', -1, 64)
			}
			if err := w.Write(row); err != nil {
				logrus.Fatalf("Writing frame %d: %v", step, err)
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			logrus.Fatalf("Flushing %s: %v", recordOutput, err)
		}
		logrus.Infof("Recorded %d nominal frames to %s", recordSteps, recordOutput)
	},
}

// init sets up record flags
func init() {
	recordCmd.Flags().IntVar(&recordSteps, "steps", 500, "Number of nominal frames to record")
	recordCmd.Flags().StringVar(&recordOutput, "output", "nominal.csv", "Output CSV path")

	rootCmd.AddCommand(recordCmd)
}
