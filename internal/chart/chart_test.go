package chart

import (
	"bytes"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/icl-lab/promptdyn/internal/dynamics"
	"github.com/icl-lab/promptdyn/internal/optimize"
)

func TestSparkline(t *testing.T) {
	got := Sparkline([]float64{0, 0.5, 1})
	if utf8.RuneCountInString(got) != 3 {
		t.Fatalf("length: got %d runes, want 3", utf8.RuneCountInString(got))
	}
	runes := []rune(got)
	if runes[0] != '▁' || runes[2] != '█' {
		t.Errorf("extremes: got %q", got)
	}

	if Sparkline(nil) != "" {
		t.Error("empty series must render empty")
	}
	// flat series stays at the lowest block
	if got := Sparkline([]float64{2, 2, 2}); got != "▁▁▁" {
		t.Errorf("flat series: got %q", got)
	}
}

func TestWriteAnalysis(t *testing.T) {
	var buf bytes.Buffer
	WriteAnalysis(&buf, &dynamics.DetailedAnalysis{
		GradientNorms:        []float64{0.5, 0.1, 0.005},
		EffectivenessScores:  []float64{0.3, 0.2, 0.1},
		FinalConvergenceRate: 0.9,
		Converged:            true,
		ConvergenceSteps:     3,
		ConvergenceType:      dynamics.TypeRapid,
	})
	out := buf.String()
	for _, want := range []string{"rapid", "Convergence step", "gradient norms"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteHistory(t *testing.T) {
	var buf bytes.Buffer
	WriteHistory(&buf, &optimize.History{
		Steps: []optimize.Step{{
			Number:      0,
			Prompt:      "p",
			Score:       optimize.Score{Effectiveness: 0.5, UpdateMagnitude: 0.2},
			Suggestions: []optimize.Suggestion{{Kind: optimize.KindAddPoliteness}},
		}},
		FinalConvergenceRate: 0.7,
		TotalImprovement:     12.5,
	})
	out := buf.String()
	for _, want := range []string{"add_politeness", "12.5%"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
