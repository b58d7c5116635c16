// internal/dynamics/engine.go
package dynamics

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Config - per-engine hyperparameters. Immutable for the lifetime of an
// engine instance; changing the learning rate means building a new engine.
type Config struct {
	LearningRate           float64 `yaml:"learning_rate"`
	UseSkipConnections     bool    `yaml:"use_skip_connections"`
	RegularizationStrength float64 `yaml:"regularization_strength"`
}

// Engine - implicit weight dynamics for one prompt/task pairing. Models
// in-context learning as a sequence of attention-gated rank-1 updates to a
// weight matrix it owns exclusively. Not safe for concurrent use: exactly
// one owner per instance.
type Engine struct {
	inputDim  int
	outputDim int
	cfg       Config

	weights *mat.Dense    // (outputDim x inputDim)
	bias    *mat.VecDense // (outputDim)
	history *updateRing
}

// NewEngine - builds an engine with zero-initialized weights and bias.
// Fails iff the learning rate is not strictly positive.
func NewEngine(inputDim, outputDim int, cfg Config) (*Engine, error) {
	if cfg.LearningRate <= 0 {
		return nil, &InvalidLearningRateError{Rate: cfg.LearningRate}
	}
	return &Engine{
		inputDim:  inputDim,
		outputDim: outputDim,
		cfg:       cfg,
		weights:   mat.NewDense(outputDim, inputDim, nil),
		bias:      mat.NewVecDense(outputDim, nil),
		history:   newUpdateRing(historyCapacity),
	}, nil
}

func (e *Engine) InputDim() int  { return e.inputDim }
func (e *Engine) OutputDim() int { return e.outputDim }
func (e *Engine) Config() Config { return e.cfg }

// Weights - copy of the current weight matrix. The live matrix never leaves
// the engine.
func (e *Engine) Weights() *mat.Dense { return mat.DenseCopyOf(e.weights) }

// Bias - copy of the current bias vector.
func (e *Engine) Bias() *mat.VecDense { return mat.VecDenseCopyOf(e.bias) }

// History - oldest-to-newest copy of the retained update history.
func (e *Engine) History() []*WeightUpdate { return e.history.snapshot() }

// UpdateStep - applies one attention-gated rank-1 update for a context/query
// pair and returns its immutable snapshot.
//
// The gate is a scalar sigmoid over query . (W . context), not a softmax over
// slots. Weight decay subtracts regularization * W (the current weights, not
// the raw delta); the bias is never regularized.
func (e *Engine) UpdateStep(context, query []float64) (*WeightUpdate, error) {
	if len(context) != e.inputDim {
		return nil, &InvalidDimensionsError{Name: "context", Expected: e.inputDim, Actual: len(context)}
	}
	if len(query) != e.outputDim {
		return nil, &InvalidDimensionsError{Name: "query", Expected: e.outputDim, Actual: len(query)}
	}

	ctxVec := mat.NewVecDense(e.inputDim, context)
	qVec := mat.NewVecDense(e.outputDim, query)

	wc := mat.NewVecDense(e.outputDim, nil)
	wc.MulVec(e.weights, ctxVec)
	logit := mat.Dot(qVec, wc)
	if e.cfg.UseSkipConnections {
		// skip path: the bias feeds the gate directly
		logit += mat.Dot(qVec, e.bias)
	}
	gate := sigmoid(logit)
	stepSize := e.cfg.LearningRate * gate

	deltaW := mat.NewDense(e.outputDim, e.inputDim, nil)
	deltaW.Outer(stepSize, qVec, ctxVec)
	if e.cfg.RegularizationStrength > 0 {
		var decay mat.Dense
		decay.Scale(e.cfg.RegularizationStrength, e.weights)
		deltaW.Sub(deltaW, &decay)
	}

	deltaB := mat.NewVecDense(e.outputDim, nil)
	deltaB.ScaleVec(stepSize, qVec)

	e.weights.Add(e.weights, deltaW)
	e.bias.AddVec(e.bias, deltaB)

	update := &WeightUpdate{
		DeltaW:        deltaW,
		DeltaB:        deltaB,
		ContextVector: append([]float64(nil), context...),
		QueryVector:   append([]float64(nil), query...),
		StepSize:      stepSize,
	}
	e.history.push(update)
	return update, nil
}

// SequentialUpdates - one UpdateStep per context against a shared query, in
// order. A dimension mismatch mid-sequence fails without rolling back the
// updates already applied.
func (e *Engine) SequentialUpdates(contexts [][]float64, query []float64) ([]*WeightUpdate, error) {
	updates := make([]*WeightUpdate, 0, len(contexts))
	for _, ctx := range contexts {
		u, err := e.UpdateStep(ctx, query)
		if err != nil {
			return updates, err
		}
		updates = append(updates, u)
	}
	return updates, nil
}

// Converge - round-robins context/query pairs until successive update norms
// settle within tolerance or the iteration budget runs out. Contexts and
// queries must have equal length; that is checked before any mutation.
// On exhaustion the partial update trail is returned alongside the error.
func (e *Engine) Converge(contexts, queries [][]float64, maxIterations int, tolerance float64) ([]*WeightUpdate, error) {
	if len(contexts) != len(queries) {
		return nil, &InvalidDimensionsError{Name: "contexts/queries", Expected: len(contexts), Actual: len(queries)}
	}
	if len(contexts) == 0 {
		return nil, &InvalidDimensionsError{Name: "contexts", Expected: 1, Actual: 0}
	}

	updates := make([]*WeightUpdate, 0, maxIterations)
	prevNorm := math.NaN()
	for i := 0; i < maxIterations; i++ {
		idx := i % len(contexts)
		u, err := e.UpdateStep(contexts[idx], queries[idx])
		if err != nil {
			return updates, err
		}
		updates = append(updates, u)

		norm := u.Norm()
		if i > 0 && math.Abs(norm-prevNorm) < tolerance {
			return updates, nil
		}
		prevNorm = norm
	}
	return updates, &ConvergenceFailedError{MaxIterations: maxIterations}
}

// PredictConvergence - convergence metrics over an externally supplied update
// trail. Uses 2-sample head/tail windows and needs at least 4 updates for a
// nonzero rate. Deliberately distinct from Engine.AnalyzeConvergence, which
// runs 3-sample windows over the engine's own history; callers rely on each
// independently.
func PredictConvergence(updates []*WeightUpdate) ConvergenceMetrics {
	return convergenceMetrics(gradientNorms(updates), 2, 4)
}

// AnalyzeConvergence - convergence metrics over the engine's own history,
// with 3-sample windows and a minimum of 6 retained updates.
func (e *Engine) AnalyzeConvergence() ConvergenceMetrics {
	return convergenceMetrics(gradientNorms(e.history.snapshot()), 3, 6)
}

func convergenceMetrics(norms []float64, window, minSamples int) ConvergenceMetrics {
	rate := 0.0
	if len(norms) >= minSamples {
		early := stat.Mean(norms[:window], nil)
		late := stat.Mean(norms[len(norms)-window:], nil)
		if early != 0 {
			rate = (early - late) / early
		}
	}
	last := 1.0 // sentinel: an empty trail never counts as converged
	if len(norms) > 0 {
		last = norms[len(norms)-1]
	}
	return ConvergenceMetrics{
		GradientNorms:   norms,
		ConvergenceRate: rate,
		IsConverged:     last < convergedNormCutoff,
	}
}

// EffectivenessScore - update magnitude normalized by the geometric mean of
// the input magnitudes. Zero whenever either input is the zero vector.
func EffectivenessScore(u *WeightUpdate) float64 {
	ctxNorm := floats.Norm(u.ContextVector, 2)
	qNorm := floats.Norm(u.QueryVector, 2)
	if ctxNorm <= 0 || qNorm <= 0 {
		return 0
	}
	return u.Norm() / math.Sqrt(ctxNorm*qNorm)
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}
