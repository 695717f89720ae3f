package cmd

import (
	"encoding/csv"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"

	"github.com/tep-monitor/tep-monitor/monitor/pca"
)

var (
	// CLI flags for baseline training
	trainInput     string  // Training CSV path
	varianceTarget float64 // Cumulative explained variance to retain
	trainAlpha     float64 // Training false-alarm rate for the T2 threshold
	maxComponents  int     // Hard cap on retained components (0 = no cap)
)

// trainCmd fits a PCA baseline from a nominal-operation CSV
var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Fit a PCA baseline from nominal frames and write the artifact",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()

		names, data, err := readTrainingCSV(trainInput)
		if err != nil {
			logrus.Fatalf("Reading %s: %v", trainInput, err)
		}
		rows, _ := data.Dims()
		logrus.Infof("Training on %d frames with %d features", rows, len(names))

		model, err := pca.Train(data, names, pca.TrainConfig{
			VarianceTarget: varianceTarget,
			Alpha:          trainAlpha,
			MaxComponents:  maxComponents,
		})
		if err != nil {
			logrus.Fatalf("Training baseline: %v", err)
		}
		if err := model.Save(baselinePath); err != nil {
			logrus.Fatalf("Writing %s: %v", baselinePath, err)
		}
		logrus.Infof("Baseline written to %s: P=%d components, threshold T2=%.3f (alpha=%.3f)",
			baselinePath, model.NumComponents(), model.ThresholdT2, model.Alpha)
	},
}

// readTrainingCSV parses a header row of feature names followed by one frame
// per line.
func readTrainingCSV(path string) ([]string, *mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	if len(records) < 2 {
		return nil, nil, os.ErrInvalid
	}
	names := records[0]
	rows := len(records) - 1
	data := mat.NewDense(rows, len(names), nil)
	for i, rec := range records[1:] {
		for j, cell := range rec {
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, nil, err
			}
			data.Set(i, j, v)
		}
	}
	return names, data, nil
}

// init sets up train flags
func init() {
	trainCmd.Flags().StringVar(&trainInput, "input", "nominal.csv", "Training CSV path")
	trainCmd.Flags().Float64Var(&varianceTarget, "variance", 0.90, "Cumulative explained variance to retain")
	trainCmd.Flags().Float64Var(&trainAlpha, "alpha", 0.01, "Training false-alarm rate for the T2 threshold")
	trainCmd.Flags().IntVar(&maxComponents, "max-components", 0, "Hard cap on retained components (0 = no cap)")

	rootCmd.AddCommand(trainCmd)
}
