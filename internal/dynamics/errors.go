// internal/dynamics/errors.go
package dynamics

import "fmt"

// InvalidDimensionsError - a vector or sequence length disagrees with the
// configured dimensions. Raised before any mutation; engine state is untouched.
type InvalidDimensionsError struct {
	Name     string
	Expected int
	Actual   int
}

func (e *InvalidDimensionsError) Error() string {
	return fmt.Sprintf("invalid dimensions for %s: expected %d, got %d", e.Name, e.Expected, e.Actual)
}

// InvalidLearningRateError - construction-time only; the engine is never created.
type InvalidLearningRateError struct {
	Rate float64
}

func (e *InvalidLearningRateError) Error() string {
	return fmt.Sprintf("invalid learning rate %v: must be > 0", e.Rate)
}

// ConvergenceFailedError - the bounded Converge loop exhausted its iteration
// budget. Updates applied before the failure remain in effect.
type ConvergenceFailedError struct {
	MaxIterations int
}

func (e *ConvergenceFailedError) Error() string {
	return fmt.Sprintf("convergence not reached within %d iterations", e.MaxIterations)
}
