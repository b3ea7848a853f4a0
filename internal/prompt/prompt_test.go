package prompt

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fairyhunter13/ai-interviewer/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSpec() domain.InterviewSpec {
	return domain.InterviewSpec{
		ID:             "iv-1",
		JobPosition:    "Backend Engineer",
		JobDescription: "Build Go services",
		Duration:       "15 min",
		JobTypes:       []string{"Technical", "Behavioral"},
		Questions: []domain.Question{
			{Question: "How do goroutines differ from threads?", Type: domain.QuestionTechnical},
			{Question: "Tell me about a production incident you handled.", Type: domain.QuestionBehavioral},
			{Question: "How would you design a rate limiter?", Type: domain.QuestionProblemSolving},
		},
	}
}

func assertResolved(t *testing.T, s string) {
	t.Helper()
	assert.Empty(t, Placeholders(s), "rendered text still has placeholders: %q", s)
}

func TestDefault_AllTemplatesResolve(t *testing.T) {
	t.Parallel()
	require.NoError(t, Default().Check())
}

func TestBuildInterviewPrompt(t *testing.T) {
	t.Parallel()
	a := Default()
	out, err := a.BuildInterviewPrompt(sampleSpec(), "Jane")
	require.NoError(t, err)
	assertResolved(t, out)
	assert.Contains(t, out, "Backend Engineer")
	assert.Contains(t, out, "Jane")
	assert.Contains(t, out, "15 min")
	assert.Contains(t, out, "1. How do goroutines differ from threads?\n2. Tell me about a production incident you handled.\n3. How would you design a rate limiter?")
	assert.Contains(t, out, "Ask these 3 questions")
	assert.Contains(t, out, "one question at a time")
}

func TestBuildInterviewPrompt_RejectsEmptyQuestionList(t *testing.T) {
	t.Parallel()
	spec := sampleSpec()
	spec.Questions = nil
	_, err := Default().BuildInterviewPrompt(spec, "Jane")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestBuildFirstMessage(t *testing.T) {
	t.Parallel()
	out, err := Default().BuildFirstMessage(sampleSpec(), "  Jane\nDoe ")
	require.NoError(t, err)
	assert.Equal(t, "Hi Jane Doe, how are you? Ready for your interview on Backend Engineer?", out)

	out, err = Default().BuildFirstMessage(sampleSpec(), "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Hi there,"))
}

func TestBuildFeedbackPrompt_EmbedsTranscriptAsJSON(t *testing.T) {
	t.Parallel()
	tr := domain.Transcript{
		{Role: domain.RoleAssistant, Content: "What is a channel?"},
		{Role: domain.RoleUser, Content: `A typed conduit, e.g. {{not a placeholder}}`},
	}
	out, err := Default().BuildFeedbackPrompt(tr)
	require.NoError(t, err)

	b, err := json.Marshal(tr)
	require.NoError(t, err)
	assert.Contains(t, out, string(b))
	assert.Contains(t, out, `"detailedFeedback"`)
	assert.Contains(t, out, `"overall_score"`)
	assert.Contains(t, out, "Return only the raw JSON object")
}

func TestBuildFeedbackPrompt_EmptyTranscript(t *testing.T) {
	t.Parallel()
	_, err := Default().BuildFeedbackPrompt(domain.Transcript{{Role: domain.RoleUser, Content: " "}})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestBuildQuestionPrompt(t *testing.T) {
	t.Parallel()
	out, err := Default().BuildQuestionPrompt(domain.QuestionRequest{
		JobPosition:    "Data Engineer",
		JobDescription: "Pipelines",
		Duration:       "30 min",
		JobTypes:       []string{"Technical", "Leadership"},
	})
	require.NoError(t, err)
	assertResolved(t, out)
	assert.Contains(t, out, "Job Title: Data Engineer")
	assert.Contains(t, out, "Interview Duration: 30 min")
	assert.Contains(t, out, "Interview Type: Technical, Leadership")
}

func TestRender_ReportsUnresolvedPlaceholders(t *testing.T) {
	t.Parallel()
	_, err := Render("question", "Title {{jobTitle}} for {{ type }} in {{jobPosition}}", map[string]string{"jobPosition": "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnresolvedPlaceholder)
	assert.Contains(t, err.Error(), "jobTitle, type")
}

func TestRender_EmptyTemplate(t *testing.T) {
	t.Parallel()
	_, err := Render("x", "  ", nil)
	assert.Error(t, err)
}

func TestNudge_Escalates(t *testing.T) {
	t.Parallel()
	a := Default()
	first := a.Nudge(1)
	assert.Contains(t, first, "repeat the question")
	assert.Contains(t, a.Nudge(2), "skip")
	assert.Equal(t, a.Nudge(2), a.Nudge(7))
	assert.Equal(t, first, a.Nudge(0))
	assert.Contains(t, a.MuteReminder(), "muted")
}

func TestBuildWrapUp(t *testing.T) {
	t.Parallel()
	out, err := Default().BuildWrapUp(sampleSpec(), "Jane")
	require.NoError(t, err)
	assertResolved(t, out)
	assert.Contains(t, out, "Jane")
}

func TestLoad_OverridesAndValidates(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte("first_message: \"Hello {{candidateName}}!\"\n"), 0o600))
	a, err := Load(good)
	require.NoError(t, err)
	out, err := a.BuildFirstMessage(sampleSpec(), "Sam")
	require.NoError(t, err)
	assert.Equal(t, "Hello Sam!", out)
	// untouched templates keep the embedded defaults
	assert.Equal(t, Default().MuteReminder(), a.MuteReminder())

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("question: \"{{jobTitle}} for {{duration}}\"\n"), 0o600))
	_, err = Load(bad)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnresolvedPlaceholder)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	a, err = Load("")
	require.NoError(t, err)
	assert.NotNil(t, a)
}

func TestQuestionList_SkipsBlank(t *testing.T) {
	t.Parallel()
	got := QuestionList([]domain.Question{{Question: "A"}, {Question: "  "}, {Question: "B"}})
	assert.Equal(t, "1. A\n2. B", got)
}
