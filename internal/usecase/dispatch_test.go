package usecase_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-interviewer/internal/domain"
	"github.com/fairyhunter13/ai-interviewer/internal/domain/mocks"
	"github.com/fairyhunter13/ai-interviewer/internal/usecase"
)

func TestQueueDispatcher_SavesTranscriptThenEnqueues(t *testing.T) {
	t.Parallel()
	repo := &mocks.MockFeedbackRepository{}
	queue := &mocks.MockFeedbackQueue{}
	task := sampleTask()
	var order []string

	repo.On("UpsertTranscript", mock.Anything, "iv-1", task.Candidate, task.Transcript).
		Run(func(mock.Arguments) { order = append(order, "save") }).Return(nil).Once()
	queue.On("EnqueueFeedback", mock.Anything, task).
		Run(func(mock.Arguments) { order = append(order, "enqueue") }).Return(nil).Once()

	require.NoError(t, usecase.NewQueueDispatcher(repo, queue).Dispatch(context.Background(), task))
	assert.Equal(t, []string{"save", "enqueue"}, order)
	repo.AssertExpectations(t)
	queue.AssertExpectations(t)
}

func TestQueueDispatcher_FailedEnqueueLeavesTranscriptForRetry(t *testing.T) {
	t.Parallel()
	repo := &mocks.MockFeedbackRepository{}
	queue := &mocks.MockFeedbackQueue{}
	completion := &mocks.MockCompletion{}
	task := sampleTask()

	repo.On("UpsertTranscript", mock.Anything, "iv-1", task.Candidate, task.Transcript).Return(nil).Once()
	queue.On("EnqueueFeedback", mock.Anything, task).Return(errors.New("broker down")).Once()

	err := usecase.NewQueueDispatcher(repo, queue).Dispatch(context.Background(), task)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")

	repo.On("Get", mock.Anything, "iv-1", "ada@example.com").Return(domain.FeedbackRecord{
		InterviewID: "iv-1", Candidate: task.Candidate, Transcript: task.Transcript,
	}, nil).Once()
	completion.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return(validFeedback, nil).Once()
	repo.On("UpsertFeedback", mock.Anything, "iv-1", task.Candidate, mock.Anything, domain.SourceGenerated, true).Return(nil).Once()

	run, err := newFeedbackService(repo, completion, nil).Retry(context.Background(), "iv-1", "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, usecase.RunDone, run.State)
	repo.AssertExpectations(t)
}

func TestQueueDispatcher_SaveFailureStillEnqueues(t *testing.T) {
	t.Parallel()
	repo := &mocks.MockFeedbackRepository{}
	queue := &mocks.MockFeedbackQueue{}
	task := sampleTask()

	repo.On("UpsertTranscript", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("db down")).Once()
	queue.On("EnqueueFeedback", mock.Anything, task).Return(nil).Once()

	require.NoError(t, usecase.NewQueueDispatcher(repo, queue).Dispatch(context.Background(), task))
	queue.AssertExpectations(t)
}

func TestQueueDispatcher_BothFailReportsBoth(t *testing.T) {
	t.Parallel()
	repo := &mocks.MockFeedbackRepository{}
	queue := &mocks.MockFeedbackQueue{}

	repo.On("UpsertTranscript", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("db down")).Once()
	queue.On("EnqueueFeedback", mock.Anything, mock.Anything).Return(errors.New("broker down")).Once()

	err := usecase.NewQueueDispatcher(repo, queue).Dispatch(context.Background(), sampleTask())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
	assert.Contains(t, err.Error(), "broker down")
}
