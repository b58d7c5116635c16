// internal/dynamics/metrics.go
package dynamics

import "gonum.org/v1/gonum/stat"

// convergedNormCutoff - an update trail counts as converged once its last
// gradient norm drops below this.
const convergedNormCutoff = 0.01

// ConvergenceMetrics - derived, read-only view over a gradient-norm trail.
// Recomputed on demand, never mutated in place.
type ConvergenceMetrics struct {
	GradientNorms   []float64 `json:"gradient_norms"`
	ConvergenceRate float64   `json:"convergence_rate"`
	IsConverged     bool      `json:"is_converged"`
}

// ConvergenceType - coarse qualitative label for a gradient-norm trajectory.
type ConvergenceType string

const (
	TypeRapid       ConvergenceType = "rapid"
	TypeSteady      ConvergenceType = "steady"
	TypeSlow        ConvergenceType = "slow"
	TypeOscillating ConvergenceType = "oscillating"
	TypeDiverging   ConvergenceType = "diverging"
	TypeStable      ConvergenceType = "stable"
)

// DetailedAnalysis - full output of one deep-analysis run. ConvergenceSteps
// is meaningful only when Converged is true.
type DetailedAnalysis struct {
	GradientNorms        []float64       `json:"gradient_norms"`
	EffectivenessScores  []float64       `json:"effectiveness_scores"`
	FinalConvergenceRate float64         `json:"final_convergence_rate"`
	Converged            bool            `json:"converged"`
	ConvergenceSteps     int             `json:"convergence_steps,omitempty"`
	ConvergenceType      ConvergenceType `json:"convergence_type"`
}

// Classify - maps an ordered gradient-norm sequence to a ConvergenceType.
// Pure and deterministic. The rules are checked in this exact order, first
// match wins: the numeric ranges of later rules overlap earlier ones.
func Classify(norms []float64) ConvergenceType {
	if len(norms) < 3 {
		return TypeStable
	}
	first := norms[0]
	last := norms[len(norms)-1]
	// variance is measured past the cold-start sample: the first norm sets
	// the scale the threshold ratios already compare against, and would
	// otherwise swamp the spread of the tail
	variance := popVariance(norms[1:])

	switch {
	case last > first*1.5:
		return TypeDiverging
	case last < first*0.1:
		if variance < 0.01 {
			return TypeRapid
		}
		return TypeOscillating
	case last < first*0.5 && variance < 0.05:
		return TypeSteady
	case last < first*0.8:
		return TypeSlow
	default:
		return TypeStable
	}
}

// popVariance - population variance (divide by N, not N-1).
func popVariance(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	mean := stat.Mean(xs, nil)
	sum := 0.0
	for _, x := range xs {
		d := x - mean
		sum += d * d
	}
	return sum / float64(len(xs))
}
