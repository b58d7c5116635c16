package dynamics

import (
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestAdjust_NoisyWindowCutsRateAndResetsState(t *testing.T) {
	eng := mustEngine(t, 2, 2, Config{LearningRate: 1.0})
	if _, err := eng.UpdateStep([]float64{1, 0}, []float64{1, 0}); err != nil {
		t.Fatalf("UpdateStep: %v", err)
	}
	if n := mat.Norm(eng.Weights(), 2); n == 0 {
		t.Fatal("expected nonzero weights before the cut")
	}

	ctrl := NewAdaptiveController()
	norms := []float64{0.1, 1.5, 0.2} // population variance ~0.41
	rebuilt, cut := ctrl.Adjust(eng, norms)
	if !cut {
		t.Fatal("expected a rate cut")
	}
	if rebuilt == eng {
		t.Fatal("expected a rebuilt engine instance")
	}
	if got := rebuilt.Config().LearningRate; !almostEqual(got, 0.9, 1e-12) {
		t.Errorf("learning rate: got %v, want 0.9", got)
	}
	// the rebuild drops accumulated state
	if n := mat.Norm(rebuilt.Weights(), 2); n != 0 {
		t.Errorf("rebuilt weights norm: got %v, want 0", n)
	}
	if got := len(rebuilt.History()); got != 0 {
		t.Errorf("rebuilt history length: got %d, want 0", got)
	}
}

func TestAdjust_QuietWindowIsNoOp(t *testing.T) {
	eng := mustEngine(t, 2, 2, Config{LearningRate: 1.0})
	ctrl := NewAdaptiveController()

	same, cut := ctrl.Adjust(eng, []float64{0.5, 0.45, 0.5})
	if cut || same != eng {
		t.Error("quiet window must leave the engine unchanged")
	}

	// fewer norms than the window: nothing to inspect yet
	same, cut = ctrl.Adjust(eng, []float64{0.1, 9.0})
	if cut || same != eng {
		t.Error("short trail must leave the engine unchanged")
	}
}
