package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Top-level keys of the feedback document.
const (
	KeyFeedback         = "feedback"
	KeyDetailedFeedback = "detailedFeedback"
)

// Recommendation values accepted in feedback.recommendation.
const (
	RecommendYes = "Yes"
	RecommendNo  = "No"
)

// Score is a number that the model may also emit as a string such as "8" or "N/A".
type Score struct {
	Value *float64
	Raw   string
}

// Known reports whether the score carries a numeric value.
func (s Score) Known() bool { return s.Value != nil }

func (s *Score) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = Score{}
		return nil
	}
	if b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		s.Raw = str
		s.Value = nil
		if f, err := strconv.ParseFloat(strings.TrimSpace(str), 64); err == nil {
			s.Value = &f
		}
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("score: %w", err)
	}
	s.Value = &f
	s.Raw = string(b)
	return nil
}

func (s Score) MarshalJSON() ([]byte, error) {
	if s.Value != nil {
		return json.Marshal(*s.Value)
	}
	if s.Raw == "" {
		return []byte("null"), nil
	}
	return json.Marshal(s.Raw)
}

// Rating holds the six 1-10 dimensions of the short feedback block.
type Rating struct {
	TechnicalSkills  Score `json:"technicalSkills"`
	ProblemSolving   Score `json:"problemSolving"`
	Communication    Score `json:"communication"`
	Experience       Score `json:"experience"`
	CultureAlignment Score `json:"cultureAlignment"`
	LearningAptitude Score `json:"learningAptitude"`
}

// Average returns the mean of the known ratings and how many were known.
func (r Rating) Average() (float64, int) {
	var sum float64
	var n int
	for _, s := range []Score{r.TechnicalSkills, r.ProblemSolving, r.Communication, r.Experience, r.CultureAlignment, r.LearningAptitude} {
		if s.Known() {
			sum += *s.Value
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), n
}

type ShortFeedback struct {
	Rating            Rating `json:"rating"`
	Summary           string `json:"summary"`
	Recommendation    string `json:"recommendation"`
	RecommendationMsg string `json:"recommendationMsg"`
}

// Recommended reports whether the model recommended hiring.
func (f ShortFeedback) Recommended() bool {
	return strings.EqualFold(strings.TrimSpace(f.Recommendation), RecommendYes)
}

type CommunicationSkills struct {
	Clarity             string `json:"clarity"`
	TechnicalVocabulary string `json:"technical_vocabulary"`
	ActiveListening     string `json:"active_listening"`
	Questioning         string `json:"questioning"`
}

type TechnicalAssessment struct {
	CoreKnowledge        string `json:"core_knowledge"`
	DepthOfUnderstanding string `json:"depth_of_understanding"`
	PracticalApplication string `json:"practical_application"`
}

type QuestionAnalysis struct {
	Question              string `json:"question"`
	ResponseQuality       string `json:"response_quality"`
	Feedback              string `json:"feedback"`
	ImprovementSuggestion string `json:"improvement_suggestion"`
}

type DetailedFeedback struct {
	Overview                 string              `json:"overview"`
	Strengths                []string            `json:"strengths"`
	AreasForImprovement      []string            `json:"areas_for_improvement"`
	CommunicationSkills      CommunicationSkills `json:"communication_skills"`
	TechnicalAssessment      TechnicalAssessment `json:"technical_assessment"`
	DetailedQuestionAnalysis []QuestionAnalysis  `json:"detailed_question_analysis"`
	OverallScore             Score               `json:"overall_score"`
	Recommendations          []string            `json:"recommendations"`
}

// FeedbackSchema is the typed view of a normalized feedback document.
type FeedbackSchema struct {
	Feedback         ShortFeedback    `json:"feedback"`
	DetailedFeedback DetailedFeedback `json:"detailedFeedback"`
}

// ScoreBand groups an overall score for dashboards.
type ScoreBand string

const (
	BandStrong  ScoreBand = "strong"
	BandGood    ScoreBand = "good"
	BandFair    ScoreBand = "fair"
	BandWeak    ScoreBand = "weak"
	BandUnknown ScoreBand = "unknown"
)

// BandFor maps an overall score on the 1-100 scale to its band.
func BandFor(s Score) ScoreBand {
	if !s.Known() {
		return BandUnknown
	}
	switch v := *s.Value; {
	case v >= 80:
		return BandStrong
	case v >= 60:
		return BandGood
	case v >= 40:
		return BandFair
	default:
		return BandWeak
	}
}
