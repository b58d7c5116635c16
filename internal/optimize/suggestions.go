// internal/optimize/suggestions.go
package optimize

import "strings"

// SuggestionKind - closed set of tagged edit suggestions. Each kind pairs a
// fixed trigger with one deterministic text transform; there is no open-ended
// NLP here.
type SuggestionKind string

const (
	KindAddStepStructure SuggestionKind = "add_step_structure"
	KindSimplify         SuggestionKind = "simplify"
	KindAddPoliteness    SuggestionKind = "add_politeness"
	KindAddDetail        SuggestionKind = "add_detail_qualifier"
	KindAddSpecific      SuggestionKind = "add_specific_qualifier"
	KindAddStepMarker    SuggestionKind = "add_step_marker"
	KindAlreadyGood      SuggestionKind = "already_good"
)

// Suggestion - one tagged edit suggestion with its human-readable text.
type Suggestion struct {
	Kind SuggestionKind `json:"kind"`
	Text string         `json:"text"`
}

// effectivenessFloor / magnitudeCeiling - fixed score thresholds for the two
// score-driven suggestion kinds.
const (
	effectivenessFloor = 0.3
	magnitudeCeiling   = 1.0
)

// marker triggers checked against the lower-cased prompt
var markerKinds = []struct {
	kind    SuggestionKind
	trigger string
	text    string
}{
	{KindAddPoliteness, "please", "Add a politeness marker; polite prompts steer models more reliably"},
	{KindAddDetail, "detailed", "Ask for a detailed answer explicitly"},
	{KindAddSpecific, "specific", "Ask for specifics; vague prompts wander"},
	{KindAddStepMarker, "step", "Ask the model to reason step by step"},
}

// Suggest - derives the suggestion list for one optimization step from fixed
// thresholds and trigger substrings. Emits a single "already good" entry when
// nothing triggers.
func Suggest(prompt string, score Score) []Suggestion {
	var out []Suggestion
	if score.Effectiveness < effectivenessFloor {
		out = append(out, Suggestion{KindAddStepStructure, "Restructure the prompt into explicit numbered steps"})
	}
	if score.UpdateMagnitude > magnitudeCeiling {
		out = append(out, Suggestion{KindSimplify, "Simplify the prompt; it induces oversized updates"})
	}
	lower := strings.ToLower(prompt)
	for _, m := range markerKinds {
		if !strings.Contains(lower, m.trigger) {
			out = append(out, Suggestion{m.kind, m.text})
		}
	}
	if len(out) == 0 {
		out = append(out, Suggestion{KindAlreadyGood, "Prompt already reads well; no edits suggested"})
	}
	return out
}

// Apply - rewrites the prompt for one suggestion. Text-triggered kinds
// recheck their trigger first, so a transform already satisfied by an
// earlier edit in the same step becomes a no-op.
func Apply(prompt string, s Suggestion) string {
	lower := strings.ToLower(prompt)
	switch s.Kind {
	case KindAddStepStructure:
		if strings.Contains(lower, "step") {
			return prompt
		}
		return prompt + "\n\nWork through the task in explicit numbered steps: 1) restate the goal, 2) solve it, 3) verify the result."
	case KindSimplify:
		return simplify(prompt)
	case KindAddPoliteness:
		if strings.Contains(lower, "please") {
			return prompt
		}
		return "Please " + lowerFirst(prompt)
	case KindAddDetail:
		if strings.Contains(lower, "detailed") {
			return prompt
		}
		return prompt + " Provide a detailed answer."
	case KindAddSpecific:
		if strings.Contains(lower, "specific") {
			return prompt
		}
		return prompt + " Be specific about each requirement."
	case KindAddStepMarker:
		if strings.Contains(lower, "step") {
			return prompt
		}
		return prompt + " Think step by step."
	default:
		return prompt
	}
}

// simplify - collapses whitespace runs and keeps at most the first three
// sentences. Deterministic and idempotent.
func simplify(prompt string) string {
	compact := strings.Join(strings.Fields(prompt), " ")
	count := 0
	for i, r := range compact {
		if r == '.' || r == '!' || r == '?' {
			count++
			if count == 3 {
				return compact[:i+1]
			}
		}
	}
	return compact
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
