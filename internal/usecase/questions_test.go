package usecase_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-interviewer/internal/adapter/ai/stub"
	"github.com/fairyhunter13/ai-interviewer/internal/domain"
	"github.com/fairyhunter13/ai-interviewer/internal/domain/mocks"
	"github.com/fairyhunter13/ai-interviewer/internal/usecase"
)

func sampleQuestionRequest() domain.QuestionRequest {
	return domain.QuestionRequest{
		JobPosition:    "Backend Engineer",
		JobDescription: "Build Go services",
		Duration:       "30 min",
		JobTypes:       []string{"Technical", "Behavioral"},
	}
}

func TestQuestions_GenerateParsesFencedList(t *testing.T) {
	t.Parallel()
	set, err := usecase.NewQuestionService(stub.New(), nil).Generate(context.Background(), sampleQuestionRequest())
	require.NoError(t, err)
	assert.Contains(t, set.Raw, "```json")
	require.Len(t, set.Questions, 3)
	assert.Equal(t, domain.QuestionExperience, set.Questions[0].Type)
}

func TestQuestions_GenerateKeepsRawWhenUnparseable(t *testing.T) {
	t.Parallel()
	completion := &mocks.MockCompletion{}
	completion.On("Complete", mock.Anything, mock.MatchedBy(func(p string) bool {
		return len(p) > 0
	}), mock.Anything).Return("Here are some ideas: ask about Go.", nil).Once()

	set, err := usecase.NewQuestionService(completion, nil).Generate(context.Background(), sampleQuestionRequest())
	require.NoError(t, err)
	assert.Equal(t, "Here are some ideas: ask about Go.", set.Raw)
	assert.Empty(t, set.Questions)
}

func TestQuestions_GenerateSkipsBlankEntries(t *testing.T) {
	t.Parallel()
	completion := &mocks.MockCompletion{}
	completion.On("Complete", mock.Anything, mock.Anything, mock.Anything).
		Return(`{"interviewQuestions":[{"question":" ","type":"Technical"},{"question":"Why Go?","type":"Experience"},"Tell me a story"]}`, nil).Once()

	set, err := usecase.NewQuestionService(completion, nil).Generate(context.Background(), sampleQuestionRequest())
	require.NoError(t, err)
	require.Len(t, set.Questions, 2)
	assert.Equal(t, "Why Go?", set.Questions[0].Question)
	assert.Equal(t, "Tell me a story", set.Questions[1].Question)
}

func TestQuestions_GenerateValidation(t *testing.T) {
	t.Parallel()
	completion := &mocks.MockCompletion{}
	svc := usecase.NewQuestionService(completion, nil)

	req := sampleQuestionRequest()
	req.JobDescription = ""
	_, err := svc.Generate(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	req = sampleQuestionRequest()
	req.Duration = "forever"
	_, err = svc.Generate(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	completion.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything)
}
