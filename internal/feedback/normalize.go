// Package feedback guarantees the shape of feedback documents produced from
// model output before they are stored or rendered.
package feedback

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fairyhunter13/ai-interviewer/internal/domain"
)

// NeutralRating is the mid-scale value used for every defaulted rating.
const NeutralRating = 5

// UnknownScore marks an overall score that could not be assessed.
const UnknownScore = "N/A"

// Diagnostics records which halves of a document were synthesized.
type Diagnostics struct {
	Source            domain.FeedbackSource `json:"source"`
	FeedbackDefaulted bool                  `json:"feedback_defaulted"`
	DetailedDefaulted bool                  `json:"detailed_defaulted"`
	// Stage is the extraction stage that produced the input, when known.
	Stage string `json:"stage,omitempty"`
	// Refusal is set when the raw model text read like a refusal.
	Refusal bool `json:"refusal,omitempty"`
}

// Result is a normalized document and how it was obtained.
type Result struct {
	Document    map[string]any
	Diagnostics Diagnostics
}

// Normalize returns a document that always carries object-valued "feedback"
// and "detailedFeedback" keys. A missing or non-object half is replaced by its
// default independently of the other half; present halves and any extra keys
// are kept as they are. A nil input yields the full default document.
func Normalize(parsed map[string]any) Result {
	doc := make(map[string]any, len(parsed)+2)
	for k, v := range parsed {
		doc[k] = v
	}
	var d Diagnostics
	if _, ok := parsed[domain.KeyFeedback].(map[string]any); !ok {
		doc[domain.KeyFeedback] = DefaultFeedback()
		d.FeedbackDefaulted = true
	}
	if _, ok := parsed[domain.KeyDetailedFeedback].(map[string]any); !ok {
		doc[domain.KeyDetailedFeedback] = DefaultDetailedFeedback()
		d.DetailedDefaulted = true
	}
	switch {
	case d.FeedbackDefaulted && d.DetailedDefaulted:
		d.Source = domain.SourceDefaulted
	case d.FeedbackDefaulted || d.DetailedDefaulted:
		d.Source = domain.SourcePartial
	default:
		d.Source = domain.SourceGenerated
	}
	return Result{Document: doc, Diagnostics: d}
}

// DefaultFeedback builds the neutral short feedback block.
func DefaultFeedback() map[string]any {
	return map[string]any{
		"rating": map[string]any{
			"technicalSkills":  NeutralRating,
			"problemSolving":   NeutralRating,
			"communication":    NeutralRating,
			"experience":       NeutralRating,
			"cultureAlignment": NeutralRating,
			"learningAptitude": NeutralRating,
		},
		"summary":           "Feedback unavailable. The interview could not be analyzed automatically.",
		"recommendation":    domain.RecommendNo,
		"recommendationMsg": "No recommendation could be generated from this interview. Please review the transcript manually.",
	}
}

// DefaultDetailedFeedback builds the placeholder detailed block.
func DefaultDetailedFeedback() map[string]any {
	const notAssessed = "Not assessed"
	return map[string]any{
		"overview":              "Detailed feedback is unavailable for this interview.",
		"strengths":             []any{"Not enough information to identify strengths."},
		"areas_for_improvement": []any{"Not enough information to identify areas for improvement."},
		"communication_skills": map[string]any{
			"clarity":              notAssessed,
			"technical_vocabulary": notAssessed,
			"active_listening":     notAssessed,
			"questioning":          notAssessed,
		},
		"technical_assessment": map[string]any{
			"core_knowledge":         notAssessed,
			"depth_of_understanding": notAssessed,
			"practical_application":  notAssessed,
		},
		"detailed_question_analysis": []any{},
		"overall_score":              UnknownScore,
		"recommendations":            []any{"Review the interview transcript manually."},
	}
}

// Decode returns the typed view of a normalized document. Field types the
// model got wrong surface as an error; the document itself stays valid.
func Decode(doc map[string]any) (domain.FeedbackSchema, error) {
	var out domain.FeedbackSchema
	b, err := json.Marshal(doc)
	if err != nil {
		return out, fmt.Errorf("op=feedback.Decode: %w", err)
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, fmt.Errorf("op=feedback.Decode: %w", err)
	}
	return out, nil
}

// Recommended reads feedback.recommendation without requiring the rest of the
// document to decode.
func Recommended(doc map[string]any) bool {
	fb, ok := doc[domain.KeyFeedback].(map[string]any)
	if !ok {
		return false
	}
	s, _ := fb["recommendation"].(string)
	return strings.EqualFold(strings.TrimSpace(s), domain.RecommendYes)
}

// Content serializes a document for the feedback endpoint.
func Content(doc map[string]any) (string, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("op=feedback.Content: %w", err)
	}
	return string(b), nil
}
