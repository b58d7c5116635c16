package storage

import (
	"errors"
	"math"
	"testing"

	"github.com/icl-lab/promptdyn/internal/dynamics"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPromptRoundTrip(t *testing.T) {
	s := openTestStore(t)

	saved, err := s.SavePrompt("", "summarize the report", "summarization")
	if err != nil {
		t.Fatalf("SavePrompt: %v", err)
	}
	if saved.ID == "" {
		t.Fatal("empty prompt id")
	}

	got, err := s.GetPrompt(saved.ID)
	if err != nil {
		t.Fatalf("GetPrompt: %v", err)
	}
	if got.Body != saved.Body || got.Task != saved.Task || got.ParentID != "" {
		t.Errorf("got %+v, want %+v", got, saved)
	}
}

func TestGetPrompt_NotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetPrompt("no-such-id"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestLineage(t *testing.T) {
	s := openTestStore(t)

	root, err := s.SavePrompt("", "v1", "task")
	if err != nil {
		t.Fatalf("SavePrompt: %v", err)
	}
	mid, err := s.SavePrompt(root.ID, "v2", "task")
	if err != nil {
		t.Fatalf("SavePrompt: %v", err)
	}
	leaf, err := s.SavePrompt(mid.ID, "v3", "task")
	if err != nil {
		t.Fatalf("SavePrompt: %v", err)
	}

	chain, err := s.Lineage(leaf.ID)
	if err != nil {
		t.Fatalf("Lineage: %v", err)
	}
	if len(chain) != 3 {
		t.Fatalf("chain length: got %d, want 3", len(chain))
	}
	for i, want := range []string{"v3", "v2", "v1"} {
		if chain[i].Body != want {
			t.Errorf("chain[%d]: got %q, want %q", i, chain[i].Body, want)
		}
	}
}

func TestAnalysisRollupRoundTrip(t *testing.T) {
	s := openTestStore(t)

	p, err := s.SavePrompt("", "prompt", "task")
	if err != nil {
		t.Fatalf("SavePrompt: %v", err)
	}

	analysis := &dynamics.DetailedAnalysis{
		GradientNorms:        []float64{0.5, 0.25, 0.1, 0.05},
		EffectivenessScores:  []float64{0.4, 0.3, 0.2, 0.1},
		FinalConvergenceRate: 0.8,
		Converged:            true,
		ConvergenceSteps:     4,
		ConvergenceType:      dynamics.TypeRapid,
	}
	saved, err := s.SaveAnalysis(p.ID, analysis)
	if err != nil {
		t.Fatalf("SaveAnalysis: %v", err)
	}
	if saved.TotalUpdates != 4 {
		t.Errorf("total updates: got %d, want 4", saved.TotalUpdates)
	}
	if math.Abs(saved.AvgUpdateNorm-0.225) > 1e-12 {
		t.Errorf("avg norm: got %v, want 0.225", saved.AvgUpdateNorm)
	}
	if math.Abs(saved.EffectivenessScore-0.25) > 1e-12 {
		t.Errorf("effectiveness: got %v, want 0.25", saved.EffectivenessScore)
	}

	rollups, err := s.Analyses(p.ID)
	if err != nil {
		t.Fatalf("Analyses: %v", err)
	}
	if len(rollups) != 1 {
		t.Fatalf("rollups: got %d, want 1", len(rollups))
	}
	got := rollups[0]
	if !got.ConvergenceAchieved || got.ConvergenceType != string(dynamics.TypeRapid) {
		t.Errorf("rollup verdict: %+v", got)
	}
	// the norms blob survives compression byte-exact
	if len(got.GradientNorms) != 4 {
		t.Fatalf("norms: got %d, want 4", len(got.GradientNorms))
	}
	for i, want := range analysis.GradientNorms {
		if got.GradientNorms[i] != want {
			t.Errorf("norms[%d]: got %v, want %v", i, got.GradientNorms[i], want)
		}
	}
}

func TestAnalyses_EmptyPrompt(t *testing.T) {
	s := openTestStore(t)
	p, err := s.SavePrompt("", "prompt", "task")
	if err != nil {
		t.Fatalf("SavePrompt: %v", err)
	}
	rollups, err := s.Analyses(p.ID)
	if err != nil {
		t.Fatalf("Analyses: %v", err)
	}
	if len(rollups) != 0 {
		t.Errorf("rollups: got %d, want 0", len(rollups))
	}
}
