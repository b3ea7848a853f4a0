package ai

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validFeedback = `{"feedback":{"rating":{"technicalSkills":7,"problemSolving":6,"communication":8,"experience":5,"cultureAlignment":7,"learningAptitude":9},"summary":"Solid fundamentals.","recommendation":"Yes","recommendationMsg":"Strong communicator."},"detailedFeedback":{"overview":"Good interview.","strengths":["clear answers"],"areas_for_improvement":["depth"],"communication_skills":{"clarity":"good","technical_vocabulary":"good","active_listening":"good","questioning":"fair"},"technical_assessment":{"core_knowledge":"good","depth_of_understanding":"fair","practical_application":"good"},"detailed_question_analysis":[{"question":"Q1","response_quality":"good","feedback":"ok","improvement_suggestion":"more detail"}],"overall_score":72.5,"recommendations":["follow-up round"]}}`

func TestExtractJSON_CleanJSONRoundTripsVerbatim(t *testing.T) {
	t.Parallel()
	got := ExtractJSONStage(validFeedback)
	require.NotNil(t, got.Object)
	assert.Equal(t, StageDirect, got.Stage)

	b, err := json.Marshal(got.Object)
	require.NoError(t, err)
	assert.JSONEq(t, validFeedback, string(b))
	assert.Equal(t, json.Number("72.5"), got.Object["detailedFeedback"].(map[string]any)["overall_score"])
}

func TestExtractJSON_FencedBlock(t *testing.T) {
	t.Parallel()
	in := "```json\n{\"feedback\":{\"rating\":{\"technicalSkills\":4},\"recommendation\":\"No\"}}\n```"
	got := ExtractJSONStage(in)
	require.NotNil(t, got.Object)
	assert.Equal(t, StageFenced, got.Stage)
	assert.Contains(t, got.Object, "feedback")
	assert.NotContains(t, got.Object, "detailedFeedback")
}

func TestExtractJSON_UntaggedFenceWithProse(t *testing.T) {
	t.Parallel()
	in := "Here you go:\n```\n{\"a\": 1}\n```\nLet me know."
	got := ExtractJSONStage(in)
	require.NotNil(t, got.Object)
	assert.Equal(t, StageFenced, got.Stage)
	assert.Equal(t, json.Number("1"), got.Object["a"])
}

func TestExtractJSON_ProseWrappedUsesBraceScan(t *testing.T) {
	t.Parallel()
	in := "Sure! Here's the feedback: " + validFeedback + " Hope this helps!"
	got := ExtractJSONStage(in)
	require.NotNil(t, got.Object)
	assert.Equal(t, StageGreedy, got.Stage)
	assert.Contains(t, got.Object, "feedback")
	assert.Contains(t, got.Object, "detailedFeedback")
}

func TestExtractJSON_NestedCandidateAfterGreedyFails(t *testing.T) {
	t.Parallel()
	// The greedy span runs from the first '{' to the last '}' and is not valid JSON,
	// so recovery falls to the nested-brace scan.
	in := `noise {broken and then {"feedback": {"recommendation": "No"}} trailing }`
	got := ExtractJSONStage(in)
	require.NotNil(t, got.Object)
	assert.Equal(t, StageNested, got.Stage)
	assert.Equal(t, "No", got.Object["feedback"].(map[string]any)["recommendation"])
}

func TestExtractJSON_ReturnsNil(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"whitespace", "   \n\t"},
		{"garbage", "I cannot provide feedback at this time."},
		{"trailing comma is not repaired", `{"feedback": {"summary": "x",},}`},
		{"single quotes are not repaired", `{'feedback': 'x'}`},
		{"top level null", `null`},
		{"top level string", `"{\"a\":1}"`},
		{"unbalanced", `{"feedback": {"rating": {`},
		{"empty fence", "```json\n```"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ExtractJSONStage(tt.in)
			assert.Nil(t, got.Object)
			assert.Equal(t, StageNone, got.Stage)
			assert.Nil(t, ExtractJSON(tt.in))
		})
	}
}

func TestExtractJSON_ResultAlwaysReencodes(t *testing.T) {
	t.Parallel()
	inputs := []string{
		validFeedback,
		"```json\n" + validFeedback + "\n```",
		"prefix " + validFeedback,
		`{"a": 1e400}`,
		`{"a": "\ud800"}`,
		`{"a": {"b": [1, 2, {"c": null}]}}`,
		strings.Repeat("{", 500) + strings.Repeat("}", 500),
		`{"x": 1} {"y": 2}`,
	}
	for _, in := range inputs {
		obj := ExtractJSON(in)
		if obj == nil {
			continue
		}
		_, err := json.Marshal(obj)
		assert.NoError(t, err, "input %q", in)
	}
}

func TestExtractJSON_TwoObjectsPrefersNested(t *testing.T) {
	t.Parallel()
	// Neither the whole text nor the greedy span is one value; the first
	// two-level candidate is the second object.
	got := ExtractJSONStage(`{"x": 1} and {"y": {"z": 2}}`)
	require.NotNil(t, got.Object)
	assert.Equal(t, StageNested, got.Stage)
	assert.Contains(t, got.Object, "y")
}

func TestExtractJSON_ObjectInsideTopLevelArray(t *testing.T) {
	t.Parallel()
	got := ExtractJSONStage(`[{"a":1}]`)
	require.NotNil(t, got.Object)
	assert.Equal(t, StageGreedy, got.Stage)
}

func TestExtractArray(t *testing.T) {
	t.Parallel()
	wrapped := "```json\n{\"interviewQuestions\": [{\"question\": \"Q1\", \"type\": \"Technical\"}]}\n```"
	arr := ExtractArray(wrapped, "interviewQuestions")
	require.Len(t, arr, 1)
	assert.Equal(t, "Q1", arr[0].(map[string]any)["question"])

	bare := "interviewQuestions = [{\"question\": \"Q1\"}, {\"question\": \"Q2\"}]"
	assert.Len(t, ExtractArray(bare, "interviewQuestions"), 2)

	assert.Nil(t, ExtractArray("no list here", "interviewQuestions"))
	assert.Nil(t, ExtractArray("[1, 2,]", "interviewQuestions"))
}

func TestIsValidJSON(t *testing.T) {
	t.Parallel()
	assert.True(t, IsValidJSON(` {"a":1} `))
	assert.False(t, IsValidJSON(`{"a":1,}`))
}

func TestLooksLikeRefusalCleanerCases(t *testing.T) {
	t.Parallel()
	assert.True(t, LooksLikeRefusal("I'm sorry, but I can't help with that."))
	assert.True(t, LooksLikeRefusal("Unfortunately I cannot provide feedback at this time."))
	assert.False(t, LooksLikeRefusal("Sure, here is the feedback"))
	assert.False(t, LooksLikeRefusal(`I'm sorry for the delay: {"feedback": {}}`))
}
