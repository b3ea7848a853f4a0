// Package ai recovers structured objects from language-model output and talks
// to the completion endpoint.
package ai

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"regexp"
	"strings"
)

// Stage names which extraction step recovered the object.
type Stage string

const (
	StageNone   Stage = "none"
	StageFenced Stage = "fenced"
	StageDirect Stage = "direct"
	StageGreedy Stage = "greedy_braces"
	StageNested Stage = "nested_braces"
)

var (
	fenceRe  = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)\\s*```")
	greedyRe = regexp.MustCompile(`\{[\s\S]*\}`)
	nestedRe = regexp.MustCompile(`\{[^{}]*\{[^{}]*\}[^{}]*\}`)
)

// Extraction is the outcome of ExtractJSONStage.
type Extraction struct {
	Object map[string]any
	Stage  Stage
}

// ExtractJSON recovers the first JSON object it can from model text, or nil.
// Stages run in order and the first success wins:
//  1. the inner content of a ``` or ```json fenced block
//  2. the whole text
//  3. the outermost span from the first '{' to the last '}'
//  4. each two-level {..{..}..} candidate in order of appearance
//
// Invalid syntax is never repaired. Numbers are kept as json.Number so a
// recovered object re-encodes to the same values.
func ExtractJSON(text string) map[string]any {
	return ExtractJSONStage(text).Object
}

// ExtractJSONStage is ExtractJSON that also reports the stage that succeeded.
func ExtractJSONStage(text string) Extraction {
	if strings.TrimSpace(text) == "" {
		return Extraction{Stage: StageNone}
	}
	if strings.Contains(text, "```") {
		if m := fenceRe.FindStringSubmatch(text); m != nil {
			if obj, ok := parseObject(m[1]); ok {
				return Extraction{Object: obj, Stage: StageFenced}
			}
		}
	}
	if obj, ok := parseObject(text); ok {
		return Extraction{Object: obj, Stage: StageDirect}
	}
	if span := greedyRe.FindString(text); span != "" {
		if obj, ok := parseObject(span); ok {
			return Extraction{Object: obj, Stage: StageGreedy}
		}
	}
	for _, cand := range nestedRe.FindAllString(text, -1) {
		if obj, ok := parseObject(cand); ok {
			return Extraction{Object: obj, Stage: StageNested}
		}
	}
	return Extraction{Stage: StageNone}
}

// parseObject decodes s as exactly one JSON value and accepts it only when it is an object.
func parseObject(s string) (map[string]any, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s[0] != '{' {
		return nil, false
	}
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, false
	}
	obj, ok := v.(map[string]any)
	if !ok || obj == nil {
		return nil, false
	}
	return obj, true
}

// IsValidJSON checks if a string is one complete JSON value.
func IsValidJSON(s string) bool {
	return json.Valid(bytes.TrimSpace([]byte(s)))
}

// ExtractArray recovers a JSON array stored under key in the extracted object,
// or a bare top-level array when the model skipped the wrapper object.
func ExtractArray(text, key string) []any {
	if obj := ExtractJSON(text); obj != nil {
		if arr, ok := obj[key].([]any); ok {
			return arr
		}
	}
	body := text
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		body = m[1]
	}
	start := strings.Index(body, "[")
	end := strings.LastIndex(body, "]")
	if start < 0 || end <= start {
		return nil
	}
	dec := json.NewDecoder(strings.NewReader(body[start : end+1]))
	dec.UseNumber()
	var arr []any
	if err := dec.Decode(&arr); err != nil {
		return nil
	}
	return arr
}
