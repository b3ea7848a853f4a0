// Package stub provides a deterministic completion client for local runs
// without a provider key.
package stub

import (
	"context"
	"encoding/json"
	"strings"
)

// Client answers feedback prompts with a fixed, well-formed document and
// question prompts with a fixed question list.
type Client struct{}

func New() *Client { return &Client{} }

// Complete implements domain.Completion.
func (c *Client) Complete(ctx context.Context, prompt, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.Contains(prompt, "interviewQuestions") {
		b, _ := json.Marshal(map[string]any{"interviewQuestions": []map[string]string{
			{"question": "Walk me through a project you are proud of.", "type": "Experience"},
			{"question": "How would you design a rate limiter for a public API?", "type": "Technical"},
			{"question": "Tell me about a time you disagreed with a teammate.", "type": "Behavioral"},
		}})
		return "```json\n" + string(b) + "\n```", nil
	}
	doc := map[string]any{
		"feedback": map[string]any{
			"rating": map[string]any{
				"technicalSkills": 6, "problemSolving": 6, "communication": 7,
				"experience": 5, "cultureAlignment": 7, "learningAptitude": 7,
			},
			"summary":           "The candidate answered clearly and showed reasonable fundamentals.",
			"recommendation":    "Yes",
			"recommendationMsg": "Proceed to the next round.",
		},
		"detailedFeedback": map[string]any{
			"overview":              "Stub feedback generated locally.",
			"strengths":             []string{"Clear communication"},
			"areas_for_improvement": []string{"More concrete examples"},
			"communication_skills": map[string]string{
				"clarity": "Good", "technical_vocabulary": "Adequate",
				"active_listening": "Good", "questioning": "Fair",
			},
			"technical_assessment": map[string]string{
				"core_knowledge": "Adequate", "depth_of_understanding": "Fair", "practical_application": "Adequate",
			},
			"detailed_question_analysis": []any{},
			"overall_score":              65,
			"recommendations":            []string{"Follow up on system design depth."},
		},
	}
	b, _ := json.Marshal(doc)
	return string(b), nil
}
