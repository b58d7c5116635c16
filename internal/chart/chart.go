// internal/chart/chart.go
package chart

import (
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/icl-lab/promptdyn/internal/dynamics"
	"github.com/icl-lab/promptdyn/internal/optimize"
)

var sparkRunes = []rune("▁▂▃▄▅▆▇█")

// Sparkline - one-line block chart of a value series, scaled to its own
// min/max. Flat series render as a run of the lowest block.
func Sparkline(values []float64) string {
	if len(values) == 0 {
		return ""
	}
	lo, hi := values[0], values[0]
	for _, v := range values {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	var b strings.Builder
	for _, v := range values {
		idx := 0
		if hi > lo {
			idx = int((v - lo) / (hi - lo) * float64(len(sparkRunes)-1))
		}
		b.WriteRune(sparkRunes[idx])
	}
	return b.String()
}

// WriteAnalysis - renders a deep-analysis result as a summary table plus a
// gradient-norm sparkline.
func WriteAnalysis(w io.Writer, a *dynamics.DetailedAnalysis) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Metric", "Value"})
	table.Append([]string{"Steps", fmt.Sprintf("%d", len(a.GradientNorms))})
	table.Append([]string{"Converged", fmt.Sprintf("%v", a.Converged)})
	if a.Converged {
		table.Append([]string{"Convergence step", fmt.Sprintf("%d", a.ConvergenceSteps)})
	}
	table.Append([]string{"Convergence type", string(a.ConvergenceType)})
	table.Append([]string{"Final convergence rate", fmt.Sprintf("%.4f", a.FinalConvergenceRate)})
	table.Render()

	fmt.Fprintf(w, "gradient norms: %s\n", Sparkline(a.GradientNorms))
}

// WriteHistory - renders an optimization run as a per-step table.
func WriteHistory(w io.Writer, h *optimize.History) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Step", "Effectiveness", "Magnitude", "Stable", "Suggestions"})
	for _, s := range h.Steps {
		names := make([]string, len(s.Suggestions))
		for i, sg := range s.Suggestions {
			names[i] = string(sg.Kind)
		}
		table.Append([]string{
			fmt.Sprintf("%d", s.Number),
			fmt.Sprintf("%.4f", s.Score.Effectiveness),
			fmt.Sprintf("%.4f", s.Score.UpdateMagnitude),
			fmt.Sprintf("%v", s.Score.IsStable),
			strings.Join(names, ", "),
		})
	}
	table.Render()

	fmt.Fprintf(w, "final convergence rate: %.4f, total improvement: %.1f%%\n",
		h.FinalConvergenceRate, h.TotalImprovement)
}
