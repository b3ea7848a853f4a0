// Package prompt assembles the text instructions sent to the voice agent and
// to the completion model.
//
// Templates are YAML documents with {{name}} placeholders. Rendering fails
// with ErrUnresolvedPlaceholder when a template names a placeholder the
// caller did not supply, so template drift is caught at load time and in tests.
package prompt

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/fairyhunter13/ai-interviewer/internal/domain"
	"github.com/fairyhunter13/ai-interviewer/pkg/textx"
	"gopkg.in/yaml.v3"
)

// ErrUnresolvedPlaceholder is returned when a template keeps a {{name}} after substitution.
var ErrUnresolvedPlaceholder = errors.New("unresolved placeholder")

//go:embed templates.yaml
var defaultTemplates []byte

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// Templates is the YAML document shape.
type Templates struct {
	FirstMessage string   `yaml:"first_message"`
	Interview    string   `yaml:"interview"`
	Feedback     string   `yaml:"feedback"`
	Question     string   `yaml:"question"`
	Nudges       []string `yaml:"nudges"`
	MuteReminder string   `yaml:"mute_reminder"`
	WrapUp       string   `yaml:"wrap_up"`
}

// Assembler renders prompts from a fixed set of templates. It is safe for concurrent use.
type Assembler struct {
	t Templates
}

// Default returns an assembler over the embedded templates.
func Default() *Assembler {
	var t Templates
	if err := yaml.Unmarshal(defaultTemplates, &t); err != nil {
		panic(fmt.Sprintf("prompt: embedded templates: %v", err))
	}
	return &Assembler{t: t}
}

// Load returns an assembler whose templates are the embedded ones overridden
// by any non-empty field of the YAML file at path. An empty path yields Default.
func Load(path string) (*Assembler, error) {
	a := Default()
	if strings.TrimSpace(path) == "" {
		return a, nil
	}
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("op=prompt.Load: templates file not found: %s", path)
		}
		return nil, fmt.Errorf("op=prompt.Load: %w", err)
	}
	var over Templates
	if err := yaml.Unmarshal(b, &over); err != nil {
		return nil, fmt.Errorf("op=prompt.Load: yaml parse: %w", err)
	}
	a.t.merge(over)
	if err := a.Check(); err != nil {
		return nil, fmt.Errorf("op=prompt.Load: %w", err)
	}
	return a, nil
}

func (t *Templates) merge(o Templates) {
	set := func(dst *string, v string) {
		if strings.TrimSpace(v) != "" {
			*dst = v
		}
	}
	set(&t.FirstMessage, o.FirstMessage)
	set(&t.Interview, o.Interview)
	set(&t.Feedback, o.Feedback)
	set(&t.Question, o.Question)
	set(&t.MuteReminder, o.MuteReminder)
	set(&t.WrapUp, o.WrapUp)
	if len(o.Nudges) > 0 {
		t.Nudges = o.Nudges
	}
}

// Check renders every template with sample inputs and reports the first defect.
func (a *Assembler) Check() error {
	spec := domain.InterviewSpec{
		JobPosition:    "Engineer",
		JobDescription: "Builds things",
		Duration:       "15 min",
		JobTypes:       []string{"Technical"},
		Questions:      []domain.Question{{Question: "Why Go?", Type: domain.QuestionTechnical}},
	}
	if _, err := a.BuildInterviewPrompt(spec, "Sample"); err != nil {
		return err
	}
	if _, err := a.BuildFirstMessage(spec, "Sample"); err != nil {
		return err
	}
	if _, err := a.BuildWrapUp(spec, "Sample"); err != nil {
		return err
	}
	if _, err := a.BuildFeedbackPrompt(domain.Transcript{{Role: domain.RoleUser, Content: "hi"}}); err != nil {
		return err
	}
	if _, err := a.BuildQuestionPrompt(domain.QuestionRequest{
		JobPosition: spec.JobPosition, JobDescription: spec.JobDescription, Duration: spec.Duration, JobTypes: spec.JobTypes,
	}); err != nil {
		return err
	}
	if len(a.t.Nudges) == 0 {
		return errors.New("no inactivity nudges configured")
	}
	if strings.TrimSpace(a.t.MuteReminder) == "" {
		return errors.New("mute reminder is empty")
	}
	return nil
}

// BuildInterviewPrompt returns the system prompt for the voice agent.
func (a *Assembler) BuildInterviewPrompt(spec domain.InterviewSpec, candidateName string) (string, error) {
	if len(spec.Questions) == 0 {
		return "", fmt.Errorf("op=prompt.BuildInterviewPrompt: %w: question list is empty", domain.ErrInvalidArgument)
	}
	return Render("interview", a.t.Interview, map[string]string{
		"jobPosition":   spec.JobPosition,
		"candidateName": displayName(candidateName),
		"duration":      spec.Duration,
		"questionCount": strconv.Itoa(len(spec.Questions)),
		"questionList":  QuestionList(spec.Questions),
	})
}

// BuildFirstMessage returns the agent's opening line.
func (a *Assembler) BuildFirstMessage(spec domain.InterviewSpec, candidateName string) (string, error) {
	return Render("first_message", a.t.FirstMessage, map[string]string{
		"jobPosition":   spec.JobPosition,
		"candidateName": displayName(candidateName),
	})
}

// BuildWrapUp returns the instruction sent when the duration limit expires.
func (a *Assembler) BuildWrapUp(spec domain.InterviewSpec, candidateName string) (string, error) {
	return Render("wrap_up", a.t.WrapUp, map[string]string{
		"jobPosition":   spec.JobPosition,
		"candidateName": displayName(candidateName),
	})
}

// BuildFeedbackPrompt embeds the transcript as JSON into the feedback template.
func (a *Assembler) BuildFeedbackPrompt(transcript domain.Transcript) (string, error) {
	if transcript.Empty() {
		return "", fmt.Errorf("op=prompt.BuildFeedbackPrompt: %w: transcript is empty", domain.ErrInvalidArgument)
	}
	b, err := json.Marshal(transcript)
	if err != nil {
		return "", fmt.Errorf("op=prompt.BuildFeedbackPrompt: %w", err)
	}
	return Render("feedback", a.t.Feedback, map[string]string{"conversation": string(b)})
}

// BuildQuestionPrompt returns the question-generation prompt.
func (a *Assembler) BuildQuestionPrompt(req domain.QuestionRequest) (string, error) {
	return Render("question", a.t.Question, map[string]string{
		"jobPosition":    req.JobPosition,
		"jobDescription": req.JobDescription,
		"duration":       req.Duration,
		"jobType":        strings.Join(req.JobTypes, ", "),
	})
}

// Nudge returns the inactivity message for the n-th consecutive silence (1-based).
// Escalation stops at the last configured message.
func (a *Assembler) Nudge(n int) string {
	if len(a.t.Nudges) == 0 {
		return ""
	}
	i := n - 1
	if i < 0 {
		i = 0
	}
	if i >= len(a.t.Nudges) {
		i = len(a.t.Nudges) - 1
	}
	return a.t.Nudges[i]
}

// MuteReminder returns the message sent once per mute event.
func (a *Assembler) MuteReminder() string { return a.t.MuteReminder }

// QuestionList serializes questions as a numbered list, one per line.
func QuestionList(qs []domain.Question) string {
	var sb strings.Builder
	n := 0
	for _, q := range qs {
		text := strings.TrimSpace(q.Question)
		if text == "" {
			continue
		}
		n++
		if n > 1 {
			sb.WriteByte('\n')
		}
		sb.WriteString(strconv.Itoa(n))
		sb.WriteString(". ")
		sb.WriteString(text)
	}
	return sb.String()
}

// Render substitutes {{name}} placeholders in one pass. Substituted values are
// not rescanned, so transcript text containing braces is left alone.
func Render(name, tmpl string, vars map[string]string) (string, error) {
	if strings.TrimSpace(tmpl) == "" {
		return "", fmt.Errorf("op=prompt.Render: template %q is empty", name)
	}
	missing := map[string]struct{}{}
	out := placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		key := placeholderRe.FindStringSubmatch(m)[1]
		v, ok := vars[key]
		if !ok {
			missing[key] = struct{}{}
			return m
		}
		return v
	})
	if len(missing) > 0 {
		keys := make([]string, 0, len(missing))
		for k := range missing {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return "", fmt.Errorf("op=prompt.Render: template %q: %w: %s", name, ErrUnresolvedPlaceholder, strings.Join(keys, ", "))
	}
	return strings.TrimSpace(out), nil
}

// Placeholders lists the distinct placeholder names used by tmpl in order of first use.
func Placeholders(tmpl string) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range placeholderRe.FindAllStringSubmatch(tmpl, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

func displayName(name string) string {
	name = textx.SingleLine(name)
	if name == "" {
		return "there"
	}
	return name
}
