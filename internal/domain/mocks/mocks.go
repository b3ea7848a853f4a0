// Package mocks provides testify mocks of the domain ports.
package mocks

import (
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/fairyhunter13/ai-interviewer/internal/domain"
)

// MockInterviewRepository is a mock of domain.InterviewRepository.
type MockInterviewRepository struct{ mock.Mock }

func (m *MockInterviewRepository) Create(ctx domain.Context, s domain.InterviewSpec) (string, error) {
	args := m.Called(ctx, s)
	return args.String(0), args.Error(1)
}

func (m *MockInterviewRepository) Get(ctx domain.Context, id string) (domain.InterviewSpec, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.InterviewSpec), args.Error(1)
}

func (m *MockInterviewRepository) ListByOwner(ctx domain.Context, ownerEmail string, limit int) ([]domain.InterviewSpec, error) {
	args := m.Called(ctx, ownerEmail, limit)
	if v := args.Get(0); v != nil {
		return v.([]domain.InterviewSpec), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockFeedbackRepository is a mock of domain.FeedbackRepository.
type MockFeedbackRepository struct{ mock.Mock }

func (m *MockFeedbackRepository) UpsertTranscript(ctx domain.Context, interviewID string, c domain.Candidate, t domain.Transcript) error {
	return m.Called(ctx, interviewID, c, t).Error(0)
}

func (m *MockFeedbackRepository) UpsertFeedback(ctx domain.Context, interviewID string, c domain.Candidate, doc map[string]any, source domain.FeedbackSource, recommended bool) error {
	return m.Called(ctx, interviewID, c, doc, source, recommended).Error(0)
}

func (m *MockFeedbackRepository) Get(ctx domain.Context, interviewID, email string) (domain.FeedbackRecord, error) {
	args := m.Called(ctx, interviewID, email)
	return args.Get(0).(domain.FeedbackRecord), args.Error(1)
}

func (m *MockFeedbackRepository) GetLatest(ctx domain.Context, interviewID string) (domain.FeedbackRecord, error) {
	args := m.Called(ctx, interviewID)
	return args.Get(0).(domain.FeedbackRecord), args.Error(1)
}

func (m *MockFeedbackRepository) ListByInterview(ctx domain.Context, interviewID string) ([]domain.FeedbackRecord, error) {
	args := m.Called(ctx, interviewID)
	if v := args.Get(0); v != nil {
		return v.([]domain.FeedbackRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockCompletion is a mock of domain.Completion.
type MockCompletion struct{ mock.Mock }

func (m *MockCompletion) Complete(ctx domain.Context, prompt, systemInstruction string) (string, error) {
	args := m.Called(ctx, prompt, systemInstruction)
	return args.String(0), args.Error(1)
}

// MockFeedbackQueue is a mock of domain.FeedbackQueue.
type MockFeedbackQueue struct{ mock.Mock }

func (m *MockFeedbackQueue) EnqueueFeedback(ctx domain.Context, task domain.FeedbackTask) error {
	return m.Called(ctx, task).Error(0)
}

// MockLocker is a mock of domain.Locker. A nil release in the expectation is
// replaced by a no-op.
type MockLocker struct{ mock.Mock }

func (m *MockLocker) Acquire(ctx domain.Context, key string, ttl time.Duration) (func(), bool, error) {
	args := m.Called(ctx, key, ttl)
	release, _ := args.Get(0).(func())
	if release == nil {
		release = func() {}
	}
	return release, args.Bool(1), args.Error(2)
}
