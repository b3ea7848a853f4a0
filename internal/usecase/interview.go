package usecase

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/fairyhunter13/ai-interviewer/internal/domain"
	"github.com/fairyhunter13/ai-interviewer/internal/session"
)

// DefaultListLimit caps recruiter dashboard listings.
const DefaultListLimit = 50

// InterviewService manages recruiter interviews and their candidate records.
type InterviewService struct {
	Interviews domain.InterviewRepository
	Feedback   domain.FeedbackRepository
}

// NewInterviewService constructs an InterviewService with its dependencies.
func NewInterviewService(interviews domain.InterviewRepository, fb domain.FeedbackRepository) InterviewService {
	return InterviewService{Interviews: interviews, Feedback: fb}
}

// Create validates and stores a new interview, returning its id.
func (s InterviewService) Create(ctx context.Context, spec domain.InterviewSpec) (string, error) {
	if _, err := mail.ParseAddress(spec.OwnerEmail); err != nil {
		return "", fmt.Errorf("op=usecase.CreateInterview: %w: owner email is invalid", domain.ErrInvalidArgument)
	}
	if err := spec.Validate(); err != nil {
		return "", fmt.Errorf("op=usecase.CreateInterview: %w", err)
	}
	if _, err := session.ParseDuration(spec.Duration); err != nil {
		return "", fmt.Errorf("op=usecase.CreateInterview: %w", err)
	}
	spec.ID = ""
	spec.OwnerEmail = strings.ToLower(strings.TrimSpace(spec.OwnerEmail))
	spec.CreatedAt = time.Now().UTC()
	id, err := s.Interviews.Create(ctx, spec)
	if err != nil {
		return "", fmt.Errorf("op=usecase.CreateInterview: %w", err)
	}
	return id, nil
}

// Get returns one interview.
func (s InterviewService) Get(ctx context.Context, id string) (domain.InterviewSpec, error) {
	if strings.TrimSpace(id) == "" {
		return domain.InterviewSpec{}, fmt.Errorf("op=usecase.GetInterview: %w: id is required", domain.ErrInvalidArgument)
	}
	return s.Interviews.Get(ctx, id)
}

// ListByOwner returns the recruiter's interviews, newest first.
func (s InterviewService) ListByOwner(ctx context.Context, ownerEmail string, limit int) ([]domain.InterviewSpec, error) {
	if strings.TrimSpace(ownerEmail) == "" {
		return nil, fmt.Errorf("op=usecase.ListInterviews: %w: owner email is required", domain.ErrInvalidArgument)
	}
	if limit <= 0 || limit > DefaultListLimit {
		limit = DefaultListLimit
	}
	return s.Interviews.ListByOwner(ctx, strings.ToLower(strings.TrimSpace(ownerEmail)), limit)
}

// Candidates lists every feedback record of an interview after checking it exists.
func (s InterviewService) Candidates(ctx context.Context, interviewID string) ([]domain.FeedbackRecord, error) {
	if _, err := s.Get(ctx, interviewID); err != nil {
		return nil, err
	}
	return s.Feedback.ListByInterview(ctx, interviewID)
}

// FeedbackFor returns one candidate's record, or the most recent record of
// the interview when email is empty.
func (s InterviewService) FeedbackFor(ctx context.Context, interviewID, email string) (domain.FeedbackRecord, error) {
	if strings.TrimSpace(interviewID) == "" {
		return domain.FeedbackRecord{}, fmt.Errorf("op=usecase.FeedbackFor: %w: interview id is required", domain.ErrInvalidArgument)
	}
	if strings.TrimSpace(email) == "" {
		return s.Feedback.GetLatest(ctx, interviewID)
	}
	return s.Feedback.Get(ctx, interviewID, strings.ToLower(strings.TrimSpace(email)))
}
