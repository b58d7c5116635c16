package dynamics

import "testing"

func TestUpdateRing_FIFOEviction(t *testing.T) {
	r := newUpdateRing(3)
	for _, n := range []float64{1, 2, 3, 4, 5} {
		r.push(updateWithNorm(n))
	}
	if r.len() != 3 {
		t.Fatalf("len: got %d, want 3", r.len())
	}
	got := r.snapshot()
	for i, want := range []float64{3, 4, 5} {
		if got[i].Norm() != want {
			t.Errorf("snapshot[%d]: got %v, want %v", i, got[i].Norm(), want)
		}
	}
}

func TestEngineHistory_Bounded(t *testing.T) {
	eng := mustEngine(t, 1, 1, Config{LearningRate: 0.001, RegularizationStrength: 0.9})
	for i := 0; i < historyCapacity+10; i++ {
		if _, err := eng.UpdateStep([]float64{0.1}, []float64{0.1}); err != nil {
			t.Fatalf("UpdateStep %d: %v", i, err)
		}
	}
	if got := len(eng.History()); got != historyCapacity {
		t.Errorf("history length: got %d, want %d", got, historyCapacity)
	}
}
