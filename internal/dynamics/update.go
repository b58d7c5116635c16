// internal/dynamics/update.go
package dynamics

import "gonum.org/v1/gonum/mat"

// WeightUpdate - immutable snapshot of one update step. The delta matrix is
// dominated by a rank-1 term (StepSize x outer(query, context)); weight decay
// may perturb it slightly. Owned by whoever accumulates the sequence.
type WeightUpdate struct {
	DeltaW        *mat.Dense
	DeltaB        *mat.VecDense
	ContextVector []float64
	QueryVector   []float64
	StepSize      float64
}

// Norm - Frobenius norm of the weight delta, the "gradient norm" every
// convergence heuristic in this package runs on.
func (u *WeightUpdate) Norm() float64 {
	return mat.Norm(u.DeltaW, 2)
}

func gradientNorms(updates []*WeightUpdate) []float64 {
	norms := make([]float64, len(updates))
	for i, u := range updates {
		norms[i] = u.Norm()
	}
	return norms
}
