package llm

import (
	"fmt"
	"strings"

	"github.com/tep-monitor/tep-monitor/monitor"
)

// BuildPrompt renders the fault-explanation prompt sent to every provider for
// one dispatch. The same prompt goes to all providers so their answers stay
// comparable.
func BuildPrompt(dc monitor.DispatchContext) string {
	var b strings.Builder
	b.WriteString("You are a process-control engineer monitoring a Tennessee Eastman Process plant.\n")
	b.WriteString("A multivariate statistical monitor (PCA with Hotelling's T-squared) has flagged a persistent anomaly.\n\n")
	fmt.Fprintf(&b, "Current statistic: T2 = %.2f against a control limit of %.2f (step %d, simulated time %.0fs, running at %s speed).\n\n",
		dc.T2, dc.ThresholdT2, dc.Frame.Step, dc.Frame.SimTime, dc.Speed)

	b.WriteString("The variables contributing most to the anomaly, with their deviation from the nominal baseline:\n")
	for _, dev := range dc.Deviations {
		fmt.Fprintf(&b, "- %s (%s): current %.4g, baseline mean %.4g, %+.1f standard deviations",
			dev.Name, dev.Description, dev.Value, dev.Mean, dev.ZScore)
		if len(dev.Trend) > 1 {
			fmt.Fprintf(&b, "; recent trend %s", trendString(dev.Trend))
		}
		b.WriteString("\n")
	}

	b.WriteString("\nBased on these deviations, give your best diagnosis of the underlying process fault. ")
	b.WriteString("Name the most likely root cause, explain the causal chain through the affected units, ")
	b.WriteString("and suggest the first corrective action an operator should take. Be concise and specific.\n")
	return b.String()
}

// Summarize produces the compact prompt_summary stored on the analysis record.
func Summarize(dc monitor.DispatchContext) string {
	names := make([]string, 0, len(dc.TopFeatures))
	for _, f := range dc.TopFeatures {
		names = append(names, fmt.Sprintf("%s(%.0f%%)", f.Name, f.Share*100))
	}
	return fmt.Sprintf("step=%d t2=%.2f threshold=%.2f top=[%s]",
		dc.Frame.Step, dc.T2, dc.ThresholdT2, strings.Join(names, " "))
}

func trendString(trend []float64) string {
	parts := make([]string, len(trend))
	for i, v := range trend {
		parts[i] = fmt.Sprintf("%.4g", v)
	}
	return strings.Join(parts, " -> ")
}
