package httpserver

import (
	"time"

	"github.com/fairyhunter13/ai-interviewer/internal/domain"
	"github.com/fairyhunter13/ai-interviewer/internal/feedback"
	"github.com/fairyhunter13/ai-interviewer/internal/usecase"
)

type recordView struct {
	InterviewID  string                `json:"interview_id"`
	UserName     string                `json:"userName"`
	UserEmail    string                `json:"userEmail"`
	Conversation domain.Transcript     `json:"conversation"`
	Feedback     map[string]any        `json:"feedback,omitempty"`
	Source       domain.FeedbackSource `json:"feedback_source,omitempty"`
	Recommended  *bool                 `json:"recommended,omitempty"`
	ScoreBand    domain.ScoreBand      `json:"score_band,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

func newRecordView(rec domain.FeedbackRecord) recordView {
	v := recordView{
		InterviewID:  rec.InterviewID,
		UserName:     rec.Candidate.Name,
		UserEmail:    rec.Candidate.Email,
		Conversation: rec.Transcript,
		Feedback:     rec.AIFeedback,
		Source:       rec.Source,
		Recommended:  rec.Recommended,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
	if v.Conversation == nil {
		v.Conversation = domain.Transcript{}
	}
	if rec.HasFeedback() {
		v.ScoreBand = domain.BandUnknown
		if schema, err := feedback.Decode(rec.AIFeedback); err == nil {
			v.ScoreBand = domain.BandFor(schema.DetailedFeedback.OverallScore)
		}
	}
	return v
}

type runView struct {
	InterviewID string                `json:"interview_id"`
	UserEmail   string                `json:"userEmail"`
	State       usecase.RunState      `json:"state"`
	Source      domain.FeedbackSource `json:"feedback_source,omitempty"`
	Stage       string                `json:"extraction_stage,omitempty"`
	Recommended bool                  `json:"recommended"`
	Feedback    map[string]any        `json:"feedback,omitempty"`
}

func newRunView(run usecase.Run) runView {
	v := runView{InterviewID: run.InterviewID, UserEmail: run.Email, State: run.State}
	if g := run.Generated; g != nil {
		v.Source = g.Diagnostics.Source
		v.Stage = string(g.Stage)
		v.Recommended = g.Recommended()
		v.Feedback = g.Document
	}
	return v
}
