// internal/optimize/optimizer.go
package optimize

import (
	"fmt"
	"math"

	"github.com/icl-lab/promptdyn/internal/dynamics"
	"github.com/rs/zerolog/log"
)

// Step - one per-iteration snapshot: the prompt as it was scored, the
// scorer verdict, and the suggestions derived from it.
type Step struct {
	Number      int          `json:"step_number"`
	Prompt      string       `json:"prompt"`
	Score       Score        `json:"analysis"`
	Suggestions []Suggestion `json:"suggestions"`
}

// History - append-only record of an optimization run, finalized when the
// loop terminates.
type History struct {
	Steps                []Step  `json:"steps"`
	FinalConvergenceRate float64 `json:"final_convergence_rate"`
	TotalImprovement     float64 `json:"total_improvement"`
}

// FinalPrompt - the last scored prompt text.
func (h *History) FinalPrompt() string {
	if len(h.Steps) == 0 {
		return ""
	}
	return h.Steps[len(h.Steps)-1].Prompt
}

// Optimizer - outer prompt-rewriting loop. Scores the prompt, derives
// textual edits, and separately feeds a private engine whose update trail
// backs the final convergence verdict; that trail is decoupled from any
// deep-analysis engine on purpose.
type Optimizer struct {
	scorer Scorer
	enc    Encoder
	cfg    dynamics.Config

	// OnStep - optional observer invoked after every recorded step
	// (progress bars, stream hubs). Nil is fine.
	OnStep func(Step)
}

func New(scorer Scorer, enc Encoder, cfg dynamics.Config) *Optimizer {
	return &Optimizer{scorer: scorer, enc: enc, cfg: cfg}
}

// Run - optimizes a prompt for up to maxSteps iterations. Stops early once
// the scorer reports stability past step 2.
func (o *Optimizer) Run(prompt, task string, maxSteps int) (*History, error) {
	eng, err := dynamics.NewEngine(o.enc.InputDim(), o.enc.OutputDim(), o.cfg)
	if err != nil {
		return nil, fmt.Errorf("optimizer engine: %w", err)
	}

	var (
		steps        []Step
		trail        []*dynamics.WeightUpdate
		initialScore float64
		finalScore   float64
	)

	for step := 0; step < maxSteps; step++ {
		score, err := o.scorer.Analyze(prompt, task)
		if err != nil {
			return nil, fmt.Errorf("score step %d: %w", step, err)
		}
		if step == 0 {
			initialScore = score.Effectiveness
		}
		finalScore = score.Effectiveness

		suggestions := Suggest(prompt, score)

		u, err := eng.UpdateStep(o.enc.EncodePrompt(prompt), o.enc.EncodeTask(task))
		if err != nil {
			return nil, fmt.Errorf("update step %d: %w", step, err)
		}
		trail = append(trail, u)

		rec := Step{Number: step, Prompt: prompt, Score: score, Suggestions: suggestions}
		steps = append(steps, rec)
		if o.OnStep != nil {
			o.OnStep(rec)
		}
		log.Debug().
			Int("step", step).
			Float64("effectiveness", score.Effectiveness).
			Bool("stable", score.IsStable).
			Int("suggestions", len(suggestions)).
			Msg("Optimization step")

		if score.IsStable && step > 2 {
			break
		}

		for _, s := range suggestions {
			prompt = Apply(prompt, s)
		}
	}

	metrics := dynamics.PredictConvergence(trail)
	return &History{
		Steps:                steps,
		FinalConvergenceRate: metrics.ConvergenceRate,
		TotalImprovement:     (finalScore - initialScore) / math.Max(initialScore, 0.001) * 100,
	}, nil
}
