package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fairyhunter13/ai-interviewer/internal/config"
	"github.com/fairyhunter13/ai-interviewer/internal/domain"
	obsctx "github.com/fairyhunter13/ai-interviewer/internal/observability"
	"github.com/fairyhunter13/ai-interviewer/internal/session"
	"github.com/fairyhunter13/ai-interviewer/internal/usecase"
)

// Check is one readiness probe.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// Server aggregates handlers dependencies.
type Server struct {
	Cfg        config.Config
	Interviews usecase.InterviewService
	Questions  usecase.QuestionService
	Feedback   *usecase.FeedbackService
	Sessions   *session.Registry
	// Queue is set when retries are handed to the worker instead of run inline.
	Queue  domain.FeedbackQueue
	Checks []Check
}

// NewServer constructs an HTTP server with all handlers and checks wired.
func NewServer(cfg config.Config, interviews usecase.InterviewService, questions usecase.QuestionService, fb *usecase.FeedbackService, sessions *session.Registry, queue domain.FeedbackQueue, checks ...Check) *Server {
	return &Server{
		Cfg:        cfg,
		Interviews: interviews,
		Questions:  questions,
		Feedback:   fb,
		Sessions:   sessions,
		Queue:      queue,
		Checks:     checks,
	}
}

func notAcceptable(w http.ResponseWriter, r *http.Request) bool {
	if acceptsJSON(r) {
		return false
	}
	writeJSON(w, http.StatusNotAcceptable, errorEnvelope{Error: apiError{
		Code:    "INVALID_ARGUMENT",
		Message: "not acceptable",
		Details: map[string]string{"accept": r.Header.Get("Accept")},
	}})
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	id := chi.URLParam(r, name)
	if !validID(id) {
		writeError(w, r, fmt.Errorf("%w: %s is missing or malformed", domain.ErrInvalidArgument, name), map[string]string{"field": name})
		return "", false
	}
	return id, true
}

type createInterviewRequest struct {
	OwnerEmail     string            `json:"userEmail" validate:"required,email"`
	JobPosition    string            `json:"jobPosition" validate:"required,max=200"`
	JobDescription string            `json:"jobDescription" validate:"max=10000"`
	Duration       string            `json:"jobDuration" validate:"required,max=32"`
	JobTypes       []string          `json:"jobType" validate:"max=10"`
	Questions      []domain.Question `json:"questionList" validate:"required,min=1,max=100"`
}

// CreateInterviewHandler stores a recruiter's interview.
func (s *Server) CreateInterviewHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if notAcceptable(w, r) {
			return
		}
		var req createInterviewRequest
		if details, err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err, details)
			return
		}
		id, err := s.Interviews.Create(r.Context(), domain.InterviewSpec{
			OwnerEmail:     req.OwnerEmail,
			JobPosition:    req.JobPosition,
			JobDescription: req.JobDescription,
			Duration:       req.Duration,
			JobTypes:       req.JobTypes,
			Questions:      req.Questions,
		})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"interview_id": id})
	}
}

// GetInterviewHandler returns one interview.
func (s *Server) GetInterviewHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		spec, err := s.Interviews.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, spec)
	}
}

// ListInterviewsHandler lists a recruiter's interviews, newest first.
func (s *Server) ListInterviewsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := strings.TrimSpace(r.URL.Query().Get("userEmail"))
		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				writeError(w, r, fmt.Errorf("%w: limit must be a positive integer", domain.ErrInvalidArgument), map[string]string{"field": "limit"})
				return
			}
			limit = n
		}
		list, err := s.Interviews.ListByOwner(r.Context(), owner, limit)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if list == nil {
			list = []domain.InterviewSpec{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"interviews": list})
	}
}

// CandidatesHandler lists the candidate records of one interview.
func (s *Server) CandidatesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		recs, err := s.Interviews.Candidates(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		out := make([]recordView, 0, len(recs))
		for _, rec := range recs {
			out = append(out, newRecordView(rec))
		}
		writeJSON(w, http.StatusOK, map[string]any{"candidates": out})
	}
}

// FeedbackRecordHandler returns the stored record for a candidate, or the
// latest record of the interview when no email is given.
func (s *Server) FeedbackRecordHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		rec, err := s.Interviews.FeedbackFor(r.Context(), id, r.URL.Query().Get("userEmail"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, newRecordView(rec))
	}
}

type retryRequest struct {
	Email string `json:"userEmail" validate:"required,email"`
}

// RetryFeedbackHandler reruns feedback generation from the stored transcript.
// With a queue configured the rerun is handed to the worker. When nothing is
// stored yet, the transcript of a recently ended session is used instead.
func (s *Server) RetryFeedbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		var req retryRequest
		if details, err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err, details)
			return
		}
		ctx := r.Context()
		if s.Queue != nil {
			task := domain.FeedbackTask{
				InterviewID: id,
				Candidate:   domain.Candidate{Email: req.Email},
				Retry:       true,
			}
			rec, err := s.Interviews.FeedbackFor(ctx, id, req.Email)
			switch {
			case err == nil:
				task.InterviewID, task.Candidate = rec.InterviewID, rec.Candidate
			case errors.Is(err, domain.ErrNotFound):
				retained, found := s.retainedTask(id, req.Email)
				if !found {
					writeError(w, r, err, nil)
					return
				}
				task = retained
			default:
				writeError(w, r, err, nil)
				return
			}
			task.RequestID = obsctx.RequestIDFromContext(ctx)
			task.CreatedAt = time.Now().UTC()
			if err := s.Queue.EnqueueFeedback(ctx, task); err != nil {
				writeError(w, r, err, nil)
				return
			}
			writeJSON(w, http.StatusAccepted, map[string]string{"interview_id": id, "status": "queued"})
			return
		}
		run, err := s.Feedback.Retry(ctx, id, req.Email)
		if errors.Is(err, domain.ErrNotFound) {
			if task, found := s.retainedTask(id, req.Email); found {
				run, err = s.Feedback.Process(ctx, task)
			}
		}
		if err != nil {
			writeError(w, r, err, map[string]string{"reason": run.Reason, "failed_at": string(run.FailedAt)})
			return
		}
		writeJSON(w, http.StatusOK, newRunView(run))
	}
}

func (s *Server) retainedTask(interviewID, email string) (domain.FeedbackTask, bool) {
	if s.Sessions == nil {
		return domain.FeedbackTask{}, false
	}
	return s.Sessions.EndedTask(interviewID, email)
}

// QuestionsHandler drafts interview questions for a job description.
func (s *Server) QuestionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if notAcceptable(w, r) {
			return
		}
		var req domain.QuestionRequest
		if details, err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err, details)
			return
		}
		set, err := s.Questions.Generate(r.Context(), req)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, set)
	}
}

type turnRequest struct {
	Role    string `json:"role" validate:"required,oneof=assistant user"`
	Content string `json:"content" validate:"max=20000"`
}

type feedbackRequest struct {
	Conversation []turnRequest `json:"conversation" validate:"required,min=1,max=1000,dive"`
}

// FeedbackHandler turns a conversation into a feedback document without
// storing anything.
func (s *Server) FeedbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if notAcceptable(w, r) {
			return
		}
		var req feedbackRequest
		if details, err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err, details)
			return
		}
		transcript := make(domain.Transcript, 0, len(req.Conversation))
		for _, t := range req.Conversation {
			transcript = append(transcript, domain.Turn{Role: domain.Role(t.Role), Content: t.Content})
		}
		content, err := s.Feedback.Content(r.Context(), transcript)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"content": content})
	}
}

// ReadyzHandler runs every configured probe and reports 503 if any fails.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := make([]check, 0, len(s.Checks))
		ok := true
		for _, c := range s.Checks {
			res := check{Name: c.Name, OK: true}
			if err := c.Probe(ctx); err != nil {
				res.OK = false
				res.Details = err.Error()
				ok = false
			}
			checks = append(checks, res)
		}
		st := http.StatusOK
		if !ok {
			st = http.StatusServiceUnavailable
		}
		writeJSON(w, st, map[string]any{"checks": checks})
	}
}
