// internal/optimize/scorer.go
package optimize

import (
	"fmt"

	"github.com/icl-lab/promptdyn/internal/dynamics"
	"gonum.org/v1/gonum/stat"
)

// Score - one scorer verdict for a prompt/task pair.
type Score struct {
	Effectiveness   float64 `json:"effectiveness_score"`
	UpdateMagnitude float64 `json:"update_magnitude"`
	IsStable        bool    `json:"is_stable"`
}

// Scorer - external collaborator that judges prompt quality.
type Scorer interface {
	Analyze(prompt, task string) (Score, error)
}

// Encoder - the text vectorizer the optimizer and scorer consume.
type Encoder interface {
	EncodePrompt(text string) []float64
	EncodeTask(text string) []float64
	InputDim() int
	OutputDim() int
}

// defaultProbeSteps - updates run per scoring probe.
const defaultProbeSteps = 5

// DynamicsScorer - default Scorer: probes a scratch engine with a short
// update burst and summarizes it. Effectiveness is the mean normalized
// update magnitude, UpdateMagnitude the mean delta norm, and the pair counts
// as stable when the probe trajectory classifies as rapid, steady or stable.
type DynamicsScorer struct {
	enc        Encoder
	cfg        dynamics.Config
	probeSteps int
}

func NewDynamicsScorer(enc Encoder, cfg dynamics.Config) *DynamicsScorer {
	return &DynamicsScorer{enc: enc, cfg: cfg, probeSteps: defaultProbeSteps}
}

func (s *DynamicsScorer) Analyze(prompt, task string) (Score, error) {
	eng, err := dynamics.NewEngine(s.enc.InputDim(), s.enc.OutputDim(), s.cfg)
	if err != nil {
		return Score{}, fmt.Errorf("scorer engine: %w", err)
	}

	context := s.enc.EncodePrompt(prompt)
	query := s.enc.EncodeTask(task)

	norms := make([]float64, 0, s.probeSteps)
	scores := make([]float64, 0, s.probeSteps)
	for i := 0; i < s.probeSteps; i++ {
		u, err := eng.UpdateStep(context, query)
		if err != nil {
			return Score{}, fmt.Errorf("scorer probe: %w", err)
		}
		norms = append(norms, u.Norm())
		scores = append(scores, dynamics.EffectivenessScore(u))
	}

	ct := dynamics.Classify(norms)
	return Score{
		Effectiveness:   stat.Mean(scores, nil),
		UpdateMagnitude: stat.Mean(norms, nil),
		IsStable:        ct == dynamics.TypeRapid || ct == dynamics.TypeSteady || ct == dynamics.TypeStable,
	}, nil
}
