// Package domain holds the interview entities, the error taxonomy and the
// ports implemented by adapters.
package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrRateLimited       = errors.New("rate limited")
	ErrUpstreamTimeout   = errors.New("upstream timeout")
	ErrUpstreamRateLimit = errors.New("upstream rate limit")
	ErrInternal          = errors.New("internal error")
	ErrSessionActive     = errors.New("session already active")
	ErrTransport         = errors.New("transport error")
	ErrInFlight          = errors.New("feedback generation in flight")
)

// Context is an alias so ports read the same as the adapters implementing them.
type Context = context.Context

// QuestionType enumerates the categories a generated question may carry.
type QuestionType string

const (
	QuestionTechnical      QuestionType = "Technical"
	QuestionBehavioral     QuestionType = "Behavioral"
	QuestionExperience     QuestionType = "Experience"
	QuestionProblemSolving QuestionType = "Problem Solving"
	QuestionLeadership     QuestionType = "Leadership"
)

// Question is one entry of an interview's prepared question list.
type Question struct {
	Question string       `json:"question"`
	Type     QuestionType `json:"type"`
}

// InterviewSpec describes a scheduled interview. It is immutable once persisted.
type InterviewSpec struct {
	ID             string     `json:"interview_id"`
	OwnerEmail     string     `json:"userEmail"`
	JobPosition    string     `json:"jobPosition"`
	JobDescription string     `json:"jobDescription"`
	Duration       string     `json:"jobDuration"`
	JobTypes       []string   `json:"jobType"`
	Questions      []Question `json:"questionList"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Validate reports whether the interview carries enough to run a session.
func (s InterviewSpec) Validate() error {
	if strings.TrimSpace(s.JobPosition) == "" {
		return fmt.Errorf("%w: job position is required", ErrInvalidArgument)
	}
	if len(s.Questions) == 0 {
		return fmt.Errorf("%w: question list is empty", ErrInvalidArgument)
	}
	for i, q := range s.Questions {
		if strings.TrimSpace(q.Question) == "" {
			return fmt.Errorf("%w: question %d is blank", ErrInvalidArgument, i+1)
		}
	}
	return nil
}

// Role identifies the speaker of a turn.
type Role string

const (
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool { return r == RoleAssistant || r == RoleUser }

// Turn is one utterance in a transcript.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Transcript is the ordered conversation captured during a session.
type Transcript []Turn

// Empty reports whether the transcript has no turn with content.
func (t Transcript) Empty() bool {
	for _, turn := range t {
		if strings.TrimSpace(turn.Content) != "" {
			return false
		}
	}
	return true
}

// Clone returns a copy that does not alias t.
func (t Transcript) Clone() Transcript {
	if t == nil {
		return nil
	}
	out := make(Transcript, len(t))
	copy(out, t)
	return out
}

// Candidate identifies who took the interview.
type Candidate struct {
	Name  string `json:"userName"`
	Email string `json:"userEmail"`
}

// FeedbackSource tells generated feedback apart from defaulted feedback.
type FeedbackSource string

const (
	SourceGenerated FeedbackSource = "generated"
	SourcePartial   FeedbackSource = "partial"
	SourceDefaulted FeedbackSource = "defaulted"
)

// FeedbackRecord joins an interview, a candidate, the transcript and,
// once generated, the normalized feedback document.
type FeedbackRecord struct {
	ID          int64
	InterviewID string
	Candidate   Candidate
	Transcript  Transcript
	// AIFeedback is nil until generation succeeds.
	AIFeedback  map[string]any
	Source      FeedbackSource
	Recommended *bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HasFeedback reports whether the record carries a feedback document.
func (r FeedbackRecord) HasFeedback() bool { return r.AIFeedback != nil }

// FeedbackTask is the payload handed from an ended session to the orchestrator.
type FeedbackTask struct {
	InterviewID string     `json:"interview_id"`
	Candidate   Candidate  `json:"candidate"`
	Transcript  Transcript `json:"transcript"`
	// Retry marks a manual retry that reloads the persisted transcript.
	Retry       bool       `json:"retry,omitempty"`
	RequestID   string     `json:"request_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Key is the idempotency key for a task.
func (t FeedbackTask) Key() string { return FeedbackKey(t.InterviewID, t.Candidate.Email) }

// FeedbackKey builds the deduplication key for (interview, candidate).
func FeedbackKey(interviewID, email string) string {
	return interviewID + ":" + strings.ToLower(strings.TrimSpace(email))
}

// QuestionRequest carries the recruiter inputs for question generation.
type QuestionRequest struct {
	JobPosition    string   `json:"jobPosition" validate:"required,max=200"`
	JobDescription string   `json:"jobDescription" validate:"required,max=10000"`
	Duration       string   `json:"jobDuration" validate:"required"`
	JobTypes       []string `json:"jobType" validate:"required,min=1"`
}

// Repositories (ports)

type InterviewRepository interface {
	Create(ctx Context, s InterviewSpec) (string, error)
	Get(ctx Context, id string) (InterviewSpec, error)
	ListByOwner(ctx Context, ownerEmail string, limit int) ([]InterviewSpec, error)
}

type FeedbackRepository interface {
	// UpsertTranscript writes the transcript as its own write. Stored feedback is
	// kept only when the transcript is unchanged.
	UpsertTranscript(ctx Context, interviewID string, c Candidate, t Transcript) error
	// UpsertFeedback stores the normalized document for an existing or new record.
	UpsertFeedback(ctx Context, interviewID string, c Candidate, doc map[string]any, source FeedbackSource, recommended bool) error
	Get(ctx Context, interviewID, email string) (FeedbackRecord, error)
	GetLatest(ctx Context, interviewID string) (FeedbackRecord, error)
	ListByInterview(ctx Context, interviewID string) ([]FeedbackRecord, error)
}

// Completion (port) sends one prompt to the external model and returns raw text.
type Completion interface {
	Complete(ctx Context, prompt, systemInstruction string) (string, error)
}

// FeedbackQueue (port) hands tasks to the worker.
type FeedbackQueue interface {
	EnqueueFeedback(ctx Context, task FeedbackTask) error
}

// Locker (port) guards a key across processes.
type Locker interface {
	// Acquire returns ok=false when another holder owns key.
	Acquire(ctx Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}
