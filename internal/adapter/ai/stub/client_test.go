package stub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-interviewer/internal/adapter/ai"
	"github.com/fairyhunter13/ai-interviewer/internal/domain"
)

func TestComplete_FeedbackDocument(t *testing.T) {
	out, err := New().Complete(context.Background(), "Conversation: ...", "")
	require.NoError(t, err)
	doc := ai.ExtractJSON(out)
	require.NotNil(t, doc)
	assert.Contains(t, doc, domain.KeyFeedback)
	assert.Contains(t, doc, domain.KeyDetailedFeedback)
}

func TestComplete_QuestionList(t *testing.T) {
	out, err := New().Complete(context.Background(), `return {"interviewQuestions": [...]}`, "")
	require.NoError(t, err)
	items := ai.ExtractArray(out, "interviewQuestions")
	assert.Len(t, items, 3)
}

func TestComplete_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Complete(ctx, "p", "")
	assert.ErrorIs(t, err, context.Canceled)
}
