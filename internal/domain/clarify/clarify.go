// Package clarify defines clarification questions, their answers, and the
// context-source availability that decides how a question is resolved.
package clarify

import (
	"strings"
	"unicode"
)

// Confidence cutoffs for accepting an automatic answer. These are probabilities
// in [0,1] and are unrelated to the 0-100 document quality scale.
const (
	CodebaseConfidenceThreshold = 0.70
	MockupConfidenceThreshold   = 0.60
)

// Source records how an answer was obtained.
type Source string

const (
	SourceCodebase Source = "codebase"
	SourceMockups  Source = "mockups"
	SourceHuman    Source = "human"
	SourceMemory   Source = "memory" // reused from an earlier pass in the same session
)

// Auto reports whether the answer came from a context source rather than a person.
func (s Source) Auto() bool { return s == SourceCodebase || s == SourceMockups }

// Question is an open clarification.
type Question struct {
	Text string `json:"text"`
}

// Key returns the normalized form used to deduplicate questions.
func (q Question) Key() string { return NormalizeKey(q.Text) }

// NormalizeKey lowercases s, drops punctuation, and collapses whitespace.
func NormalizeKey(s string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		case unicode.IsSpace(r):
			space = true
		}
	}
	return b.String()
}

// Answer is a resolved clarification.
type Answer struct {
	Question   string  `json:"question"`
	Answer     string  `json:"answer"`
	Source     Source  `json:"source"`
	Confidence float64 `json:"confidence,omitempty"` // meaningful only for auto sources
}

// Availability describes which external context sources exist for a request.
type Availability struct {
	HasCodebase   bool   `json:"has_codebase"`
	HasMockups    bool   `json:"has_mockups"`
	ProjectID     string `json:"project_id,omitempty"`
	RequestID     string `json:"request_id,omitempty"`
	CodebaseFiles int    `json:"codebase_files"`
	MockupCount   int    `json:"mockup_count"`
	Indexed       bool   `json:"indexed"`
}

// Any reports whether at least one source can be queried.
func (a Availability) Any() bool { return a.CodebaseReady() || a.HasMockups }

// CodebaseReady reports whether the codebase source is present and indexed.
func (a Availability) CodebaseReady() bool { return a.HasCodebase && a.Indexed }

// Response is a context source's answer to one query.
type Response struct {
	RelevantItems []string `json:"relevant_items"`
	Summary       string   `json:"summary"`
	Confidence    float64  `json:"confidence"`
	ItemsAnalyzed int      `json:"items_analyzed"`
}

// Clamp returns c limited to [0,1].
func Clamp(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// Dedupe returns questions with duplicates (by Key) and blank entries removed,
// preserving first-seen order, truncated to limit when limit > 0.
func Dedupe(questions []Question, limit int) []Question {
	seen := make(map[string]bool, len(questions))
	out := make([]Question, 0, len(questions))
	for _, q := range questions {
		k := q.Key()
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, q)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
