// internal/dynamics/analysis.go
package dynamics

// divergenceCutoff - a gradient norm above this aborts a deep-analysis run.
// Hitting it is a soft terminal, not an error: the analysis is still
// produced from whatever was collected.
const divergenceCutoff = 10.0

// AnalysisParams - bounds for one deep-analysis run. MaxIterations is a
// plain counter, not a wall-clock bound.
type AnalysisParams struct {
	MaxIterations        int     `yaml:"max_iterations"`
	ConvergenceThreshold float64 `yaml:"convergence_threshold"`
}

// DeepAnalyzer - iterates UpdateStep on one context/query pair, letting the
// adaptive controller cut the learning rate between steps, and decides
// between three terminals: converged, diverged, exhausted.
type DeepAnalyzer struct {
	engine     *Engine
	controller *AdaptiveController
}

func NewDeepAnalyzer(eng *Engine) *DeepAnalyzer {
	return &DeepAnalyzer{engine: eng, controller: NewAdaptiveController()}
}

// Engine - the current engine. A controller-triggered rate cut replaces the
// instance mid-run, so callers must not hold the original across Run.
func (a *DeepAnalyzer) Engine() *Engine { return a.engine }

// Run - drives the update loop and produces the detailed analysis. The only
// error path is a dimension mismatch on the very first step; divergence and
// exhaustion return a non-converged analysis instead.
func (a *DeepAnalyzer) Run(context, query []float64, params AnalysisParams) (*DetailedAnalysis, error) {
	norms := make([]float64, 0, params.MaxIterations)
	scores := make([]float64, 0, params.MaxIterations)

	for step := 0; step < params.MaxIterations; step++ {
		if step > 0 {
			if rebuilt, cut := a.controller.Adjust(a.engine, norms); cut {
				a.engine = rebuilt
			}
		}

		u, err := a.engine.UpdateStep(context, query)
		if err != nil {
			return nil, err
		}
		norm := u.Norm()
		norms = append(norms, norm)
		scores = append(scores, EffectivenessScore(u))

		if norm < params.ConvergenceThreshold {
			return a.result(norms, scores, true, step+1), nil
		}
		if norm > divergenceCutoff {
			break
		}
	}
	return a.result(norms, scores, false, 0), nil
}

func (a *DeepAnalyzer) result(norms, scores []float64, converged bool, steps int) *DetailedAnalysis {
	return &DetailedAnalysis{
		GradientNorms:        norms,
		EffectivenessScores:  scores,
		FinalConvergenceRate: convergenceMetrics(norms, 2, 4).ConvergenceRate,
		Converged:            converged,
		ConvergenceSteps:     steps,
		ConvergenceType:      Classify(norms),
	}
}
