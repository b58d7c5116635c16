// internal/dynamics/adaptive.go
package dynamics

// AdaptiveController - cuts the learning rate when recent gradient norms get
// noisy. Config is immutable per engine, so a cut rebuilds the engine with
// the same dimensions; accumulated weight and bias state resets to zero as a
// side effect. That reset is kept deliberately: a rate cut restarts the
// trajectory from a clean slate instead of mixing two regimes in one matrix.
type AdaptiveController struct {
	Window        int     // trailing norms inspected, default 3
	VarianceLimit float64 // population-variance trigger, default 0.1
	Decay         float64 // multiplicative rate cut, default 0.9
}

// NewAdaptiveController - controller with the default window and thresholds.
func NewAdaptiveController() *AdaptiveController {
	return &AdaptiveController{Window: 3, VarianceLimit: 0.1, Decay: 0.9}
}

// Adjust - inspects the trailing window of norms; when their population
// variance exceeds the limit, returns a rebuilt engine carrying the decayed
// learning rate and reports true. Otherwise returns the engine unchanged.
func (c *AdaptiveController) Adjust(eng *Engine, norms []float64) (*Engine, bool) {
	if len(norms) < c.Window {
		return eng, false
	}
	window := norms[len(norms)-c.Window:]
	if popVariance(window) <= c.VarianceLimit {
		return eng, false
	}

	cfg := eng.Config()
	cfg.LearningRate *= c.Decay
	rebuilt, err := NewEngine(eng.InputDim(), eng.OutputDim(), cfg)
	if err != nil {
		// decaying a positive rate keeps it positive
		return eng, false
	}
	return rebuilt, true
}
