package dynamics

import (
	"errors"
	"testing"
)

func TestDeepAnalyzer_Converges(t *testing.T) {
	// weight decay pulls the update norms monotonically toward zero; this
	// setup crosses the 0.01 threshold on step 11
	eng := mustEngine(t, 3, 2, Config{LearningRate: 1.0, RegularizationStrength: 0.5})
	a := NewDeepAnalyzer(eng)

	analysis, err := a.Run([]float64{1, 0, 0}, []float64{1, 0}, AnalysisParams{
		MaxIterations:        30,
		ConvergenceThreshold: 0.01,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !analysis.Converged {
		t.Fatal("expected convergence")
	}
	if analysis.ConvergenceSteps != 11 {
		t.Errorf("convergence steps: got %d, want 11", analysis.ConvergenceSteps)
	}
	if got := len(analysis.GradientNorms); got != 11 {
		t.Errorf("gradient norms: got %d, want 11", got)
	}
	if got := len(analysis.EffectivenessScores); got != 11 {
		t.Errorf("effectiveness scores: got %d, want 11", got)
	}
	for i := 1; i < len(analysis.GradientNorms); i++ {
		if analysis.GradientNorms[i] >= analysis.GradientNorms[i-1] {
			t.Fatalf("norms not monotonically shrinking at step %d", i)
		}
	}
	if analysis.FinalConvergenceRate < 0.9 {
		t.Errorf("final convergence rate: got %v, want > 0.9", analysis.FinalConvergenceRate)
	}
	// quiet trajectory: the controller never cut the rate
	if got := a.Engine().Config().LearningRate; got != 1.0 {
		t.Errorf("learning rate: got %v, want 1.0", got)
	}
}

func TestDeepAnalyzer_DivergenceCutoffIsSoft(t *testing.T) {
	eng := mustEngine(t, 2, 2, Config{LearningRate: 5.0})
	a := NewDeepAnalyzer(eng)

	// first step norm is 5*0.5*9 = 22.5, over the cutoff
	analysis, err := a.Run([]float64{3, 0}, []float64{3, 0}, AnalysisParams{
		MaxIterations:        30,
		ConvergenceThreshold: 0.001,
	})
	if err != nil {
		t.Fatalf("divergence must not be an error: %v", err)
	}
	if analysis.Converged {
		t.Error("diverged run reported converged")
	}
	if analysis.ConvergenceSteps != 0 {
		t.Errorf("convergence steps: got %d, want 0", analysis.ConvergenceSteps)
	}
	if got := len(analysis.GradientNorms); got != 1 {
		t.Errorf("gradient norms: got %d, want 1", got)
	}
}

func TestDeepAnalyzer_Exhaustion(t *testing.T) {
	eng := mustEngine(t, 2, 2, Config{LearningRate: 1.0})
	a := NewDeepAnalyzer(eng)

	analysis, err := a.Run([]float64{1, 0}, []float64{1, 0}, AnalysisParams{
		MaxIterations:        5,
		ConvergenceThreshold: 1e-9,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if analysis.Converged {
		t.Error("exhausted run reported converged")
	}
	if got := len(analysis.GradientNorms); got != 5 {
		t.Errorf("gradient norms: got %d, want 5", got)
	}
}

func TestDeepAnalyzer_DimensionMismatch(t *testing.T) {
	eng := mustEngine(t, 3, 2, Config{LearningRate: 1.0})
	a := NewDeepAnalyzer(eng)

	_, err := a.Run([]float64{1, 0}, []float64{1, 0}, AnalysisParams{
		MaxIterations:        10,
		ConvergenceThreshold: 0.01,
	})
	var dimErr *InvalidDimensionsError
	if !errors.As(err, &dimErr) {
		t.Fatalf("got %v, want InvalidDimensionsError", err)
	}
}
