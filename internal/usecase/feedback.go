// Package usecase contains application business logic services.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/fairyhunter13/ai-interviewer/internal/adapter/ai"
	"github.com/fairyhunter13/ai-interviewer/internal/adapter/observability"
	"github.com/fairyhunter13/ai-interviewer/internal/domain"
	"github.com/fairyhunter13/ai-interviewer/internal/feedback"
	intobs "github.com/fairyhunter13/ai-interviewer/internal/observability"
	"github.com/fairyhunter13/ai-interviewer/internal/prompt"
	"github.com/fairyhunter13/ai-interviewer/pkg/textx"
)

// RunState is a step of a feedback run.
type RunState string

const (
	RunIdle       RunState = "idle"
	RunRequesting RunState = "requesting"
	RunExtracting RunState = "extracting"
	RunPersisting RunState = "persisting"
	RunDone       RunState = "done"
	RunFailed     RunState = "failed"
)

const feedbackSystemInstruction = "You are an experienced technical recruiter. Reply with one raw JSON object only."

// DefaultFeedbackLockTTL bounds how long a crashed worker can block a rerun.
const DefaultFeedbackLockTTL = 5 * time.Minute

const rawPreviewRunes = 200

// Generated is the outcome of one model call turned into a feedback document.
type Generated struct {
	Raw         string
	Stage       ai.Stage
	Document    map[string]any
	Diagnostics feedback.Diagnostics
}

// Recommended reports feedback.recommendation == "Yes".
func (g Generated) Recommended() bool { return feedback.Recommended(g.Document) }

// Run is the record of one pipeline execution.
type Run struct {
	InterviewID string
	Email       string
	State       RunState
	// FailedAt is the state the run was in when it failed.
	FailedAt  RunState
	Reason    string
	Generated *Generated
	Err       error
}

func (r Run) failed(at RunState, reason string, err error) Run {
	r.State = RunFailed
	r.FailedAt = at
	r.Reason = reason
	r.Err = err
	return r
}

// FeedbackService turns transcripts into stored feedback.
type FeedbackService struct {
	Feedback domain.FeedbackRepository
	AI       domain.Completion
	Prompts  *prompt.Assembler
	// Locker is optional; without it deduplication is per process only.
	Locker  domain.Locker
	LockTTL time.Duration

	group singleflight.Group
}

// NewFeedbackService constructs a FeedbackService with its dependencies.
func NewFeedbackService(repo domain.FeedbackRepository, completion domain.Completion, prompts *prompt.Assembler, locker domain.Locker, lockTTL time.Duration) *FeedbackService {
	if prompts == nil {
		prompts = prompt.Default()
	}
	if lockTTL <= 0 {
		lockTTL = DefaultFeedbackLockTTL
	}
	return &FeedbackService{Feedback: repo, AI: completion, Prompts: prompts, Locker: locker, LockTTL: lockTTL}
}

// Generate issues exactly one completion for the transcript and always
// returns a complete document when the call itself succeeds. It does not
// touch storage.
func (s *FeedbackService) Generate(ctx context.Context, transcript domain.Transcript) (*Generated, error) {
	if transcript.Empty() {
		return nil, fmt.Errorf("op=usecase.Generate: %w: transcript is empty", domain.ErrInvalidArgument)
	}
	p, err := s.Prompts.BuildFeedbackPrompt(transcript)
	if err != nil {
		return nil, fmt.Errorf("op=usecase.Generate: %w", err)
	}
	raw, err := s.AI.Complete(ctx, p, feedbackSystemInstruction)
	if err != nil {
		return nil, fmt.Errorf("op=usecase.Generate: %w", err)
	}
	ex := ai.ExtractJSONStage(raw)
	res := feedback.Normalize(ex.Object)
	res.Diagnostics.Stage = string(ex.Stage)
	res.Diagnostics.Refusal = ex.Object == nil && ai.LooksLikeRefusal(raw)
	return &Generated{Raw: raw, Stage: ex.Stage, Document: res.Document, Diagnostics: res.Diagnostics}, nil
}

// Content is Generate serialized for the feedback endpoint.
func (s *FeedbackService) Content(ctx context.Context, transcript domain.Transcript) (string, error) {
	g, err := s.Generate(ctx, transcript)
	if err != nil {
		return "", err
	}
	return feedback.Content(g.Document)
}

// Process runs the whole pipeline for an ended session. The transcript is
// stored first, outside the dedupe gates, so a run that is rejected or fails
// later can always be retried from it. Concurrent calls for the same
// interview and candidate share one run.
func (s *FeedbackService) Process(ctx context.Context, task domain.FeedbackTask) (Run, error) {
	run := Run{InterviewID: task.InterviewID, Email: task.Candidate.Email, State: RunIdle}
	if err := validateTask(task); err != nil {
		run = run.failed(RunIdle, err.Error(), err)
		observability.FeedbackRun(string(RunFailed), string(RunIdle))
		return run, err
	}
	if !task.Retry {
		if err := s.Feedback.UpsertTranscript(ctx, task.InterviewID, task.Candidate, task.Transcript); err != nil {
			err = fmt.Errorf("op=usecase.Process: %w", err)
			run = run.failed(RunIdle, "could not save the interview transcript", err)
			observability.FeedbackRun(string(RunFailed), string(RunIdle))
			intobs.LoggerFromContext(ctx).Error("transcript not saved",
				slog.String("interview_id", task.InterviewID), slog.Any("error", err))
			return run, err
		}
	}
	v, _, _ := s.group.Do(task.Key(), func() (any, error) {
		return s.process(ctx, task), nil
	})
	out := v.(Run)
	return out, out.Err
}

// Retry reruns the pipeline from the stored transcript.
func (s *FeedbackService) Retry(ctx context.Context, interviewID, email string) (Run, error) {
	rec, err := s.Feedback.Get(ctx, interviewID, email)
	if err != nil {
		return Run{InterviewID: interviewID, Email: email, State: RunFailed, FailedAt: RunIdle, Reason: "no stored transcript", Err: err},
			fmt.Errorf("op=usecase.Retry: %w", err)
	}
	return s.Process(ctx, domain.FeedbackTask{
		InterviewID: rec.InterviewID,
		Candidate:   rec.Candidate,
		Transcript:  rec.Transcript,
		Retry:       true,
		CreatedAt:   time.Now().UTC(),
	})
}

// Dispatch lets the service receive tasks from the session registry or the
// queue consumer. A retry task without a transcript reloads the stored one.
func (s *FeedbackService) Dispatch(ctx context.Context, task domain.FeedbackTask) error {
	if task.Retry && task.Transcript.Empty() {
		_, err := s.Retry(ctx, task.InterviewID, task.Candidate.Email)
		return err
	}
	_, err := s.Process(ctx, task)
	return err
}

func (s *FeedbackService) process(ctx context.Context, task domain.FeedbackTask) Run {
	lg := intobs.LoggerFromContext(ctx).With(
		slog.String("interview_id", task.InterviewID),
		slog.Bool("retry", task.Retry),
	)
	run := Run{InterviewID: task.InterviewID, Email: task.Candidate.Email, State: RunIdle}
	finish := func(r Run) Run {
		if r.State == RunFailed {
			observability.FeedbackRun(string(RunFailed), string(r.FailedAt))
			lg.Error("feedback run failed", slog.String("stage", string(r.FailedAt)), slog.String("reason", r.Reason), slog.Any("error", r.Err))
		} else {
			observability.FeedbackRun(string(r.State), "")
		}
		return r
	}

	if s.Locker != nil {
		release, ok, err := s.Locker.Acquire(ctx, "feedback:"+task.Key(), s.LockTTL)
		switch {
		case err != nil:
			lg.Warn("feedback lock unavailable; continuing with in-process dedupe", slog.Any("error", err))
		case !ok:
			err := fmt.Errorf("op=usecase.Process: %w", domain.ErrInFlight)
			return finish(run.failed(RunIdle, "another run for this candidate is in progress", err))
		default:
			defer release()
		}
	}

	run.State = RunRequesting
	g, err := s.Generate(ctx, task.Transcript)
	if err != nil {
		return finish(run.failed(RunRequesting, requestFailureReason(err), err))
	}
	run.State = RunExtracting
	run.Generated = g
	var overall *float64
	if schema, err := feedback.Decode(g.Document); err == nil {
		overall = schema.DetailedFeedback.OverallScore.Value
	}
	observability.ObserveFeedback(string(g.Stage), string(g.Diagnostics.Source), overall)
	if g.Diagnostics.Source != domain.SourceGenerated {
		lg.Warn("feedback document defaulted",
			slog.String("source", string(g.Diagnostics.Source)),
			slog.String("stage", string(g.Stage)),
			slog.Bool("refusal", g.Diagnostics.Refusal),
			slog.String("raw_preview", textx.Truncate(textx.SingleLine(g.Raw), rawPreviewRunes)))
	}

	run.State = RunPersisting
	if err := s.Feedback.UpsertFeedback(ctx, task.InterviewID, task.Candidate, g.Document, g.Diagnostics.Source, g.Recommended()); err != nil {
		err = fmt.Errorf("op=usecase.Process: %w", err)
		return finish(run.failed(RunPersisting, "could not save the feedback", err))
	}
	run.State = RunDone
	lg.Info("feedback stored", slog.String("source", string(g.Diagnostics.Source)), slog.Bool("recommended", g.Recommended()))
	return finish(run)
}

func validateTask(t domain.FeedbackTask) error {
	switch {
	case strings.TrimSpace(t.InterviewID) == "":
		return fmt.Errorf("op=usecase.Process: %w: interview id is required", domain.ErrInvalidArgument)
	case strings.TrimSpace(t.Candidate.Email) == "":
		return fmt.Errorf("op=usecase.Process: %w: candidate email is required", domain.ErrInvalidArgument)
	case t.Transcript.Empty():
		return fmt.Errorf("op=usecase.Process: %w: transcript is empty", domain.ErrInvalidArgument)
	}
	return nil
}

func requestFailureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrUpstreamTimeout), errors.Is(err, context.DeadlineExceeded):
		return "the feedback model did not answer in time; retry later"
	case errors.Is(err, domain.ErrUpstreamRateLimit), errors.Is(err, domain.ErrRateLimited):
		return "the feedback model is busy; retry later"
	case errors.Is(err, context.Canceled):
		return "feedback generation was cancelled"
	default:
		return "the feedback model request failed"
	}
}
