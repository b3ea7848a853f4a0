package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fairyhunter13/ai-interviewer/internal/domain"
	intobs "github.com/fairyhunter13/ai-interviewer/internal/observability"
)

// QueueDispatcher hands ended sessions to the worker queue. The transcript is
// written before the task is enqueued, so a failed enqueue or a worker that
// never finishes still leaves it available to a manual retry.
type QueueDispatcher struct {
	Feedback domain.FeedbackRepository
	Queue    domain.FeedbackQueue
}

// NewQueueDispatcher constructs a QueueDispatcher.
func NewQueueDispatcher(fb domain.FeedbackRepository, q domain.FeedbackQueue) QueueDispatcher {
	return QueueDispatcher{Feedback: fb, Queue: q}
}

// Dispatch saves the transcript and enqueues the task. A failed save does not
// stop the enqueue: the worker writes the transcript again before it runs.
func (d QueueDispatcher) Dispatch(ctx context.Context, task domain.FeedbackTask) error {
	lg := intobs.LoggerFromContext(ctx).With(slog.String("interview_id", task.InterviewID))
	var saveErr error
	if !task.Retry && !task.Transcript.Empty() {
		if err := d.Feedback.UpsertTranscript(ctx, task.InterviewID, task.Candidate, task.Transcript); err != nil {
			saveErr = fmt.Errorf("save transcript: %w", err)
			lg.Warn("transcript not saved before enqueue", slog.Any("error", err))
		}
	}
	if err := d.Queue.EnqueueFeedback(ctx, task); err != nil {
		return fmt.Errorf("op=usecase.QueueDispatch: %w", errors.Join(fmt.Errorf("enqueue: %w", err), saveErr))
	}
	return nil
}
