package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/fairyhunter13/ai-interviewer/internal/adapter/ai"
	"github.com/fairyhunter13/ai-interviewer/internal/domain"
	"github.com/fairyhunter13/ai-interviewer/internal/prompt"
	"github.com/fairyhunter13/ai-interviewer/internal/session"
)

const questionSystemInstruction = "You are an expert technical interviewer. Reply with raw JSON only."

// QuestionSet is the raw model text plus the questions that could be read from it.
type QuestionSet struct {
	Raw       string            `json:"content"`
	Questions []domain.Question `json:"interviewQuestions,omitempty"`
}

// QuestionService drafts interview questions from a job description.
type QuestionService struct {
	AI      domain.Completion
	Prompts *prompt.Assembler
}

// NewQuestionService constructs a QuestionService with its dependencies.
func NewQuestionService(completion domain.Completion, prompts *prompt.Assembler) QuestionService {
	if prompts == nil {
		prompts = prompt.Default()
	}
	return QuestionService{AI: completion, Prompts: prompts}
}

// Generate issues one completion. The raw text is always returned; the
// parsed list is empty when nothing could be recovered.
func (s QuestionService) Generate(ctx context.Context, req domain.QuestionRequest) (QuestionSet, error) {
	if strings.TrimSpace(req.JobPosition) == "" || strings.TrimSpace(req.JobDescription) == "" {
		return QuestionSet{}, fmt.Errorf("op=usecase.GenerateQuestions: %w: job position and description are required", domain.ErrInvalidArgument)
	}
	if _, err := session.ParseDuration(req.Duration); err != nil {
		return QuestionSet{}, fmt.Errorf("op=usecase.GenerateQuestions: %w", err)
	}
	p, err := s.Prompts.BuildQuestionPrompt(req)
	if err != nil {
		return QuestionSet{}, fmt.Errorf("op=usecase.GenerateQuestions: %w", err)
	}
	raw, err := s.AI.Complete(ctx, p, questionSystemInstruction)
	if err != nil {
		return QuestionSet{}, fmt.Errorf("op=usecase.GenerateQuestions: %w", err)
	}
	return QuestionSet{Raw: raw, Questions: toQuestions(ai.ExtractArray(raw, "interviewQuestions"))}, nil
}

func toQuestions(items []any) []domain.Question {
	out := make([]domain.Question, 0, len(items))
	for _, it := range items {
		switch v := it.(type) {
		case map[string]any:
			q, _ := v["question"].(string)
			if strings.TrimSpace(q) == "" {
				continue
			}
			typ, _ := v["type"].(string)
			out = append(out, domain.Question{Question: strings.TrimSpace(q), Type: domain.QuestionType(strings.TrimSpace(typ))})
		case string:
			if strings.TrimSpace(v) != "" {
				out = append(out, domain.Question{Question: strings.TrimSpace(v)})
			}
		}
	}
	return out
}
