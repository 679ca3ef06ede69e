package service

import (
	"bytes"
	"embed"
	"fmt"
	"sort"
	"strings"
	"text/template"
	"unicode"

	"github.com/Strob0t/prdforge/internal/domain/clarify"
	"github.com/Strob0t/prdforge/internal/domain/generation"
	"github.com/Strob0t/prdforge/internal/domain/quality"
	"github.com/Strob0t/prdforge/internal/domain/validation"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// promptTemplates holds every stage prompt; "request" is a shared partial.
var promptTemplates = template.Must(template.ParseFS(templateFS, "templates/*.tmpl"))

// glossaryEntry is one rendered glossary line.
type glossaryEntry struct {
	Term       string
	Definition string
}

// promptData carries request and stage state into the prompt templates.
type promptData struct {
	Feature        string
	Context        string
	Priority       generation.Priority
	Requirements   []string
	Scope          validation.Scope
	Domain         generation.Domain
	Glossary       []glossaryEntry
	Clarifications []clarify.Answer

	Research  string
	Plan      string
	Draft     string
	Critique  string
	Score     quality.Score
	Target    float64
	Report    validation.Report
	Iteration int
}

func newPromptData(in PipelineInput, target float64) promptData {
	req := in.Request
	reqs := make([]string, len(req.Requirements))
	for i, r := range req.Requirements {
		reqs[i] = sanitizePromptInput(r)
	}
	answers := make([]clarify.Answer, len(in.Clarifications))
	for i, a := range in.Clarifications {
		a.Answer = sanitizePromptInput(a.Answer)
		answers[i] = a
	}
	return promptData{
		Feature:        sanitizePromptInput(req.Feature),
		Context:        sanitizePromptInput(req.Context),
		Priority:       req.Priority,
		Requirements:   reqs,
		Scope:          in.Scope,
		Domain:         in.Domain,
		Glossary:       glossaryEntries(in.Glossary),
		Clarifications: answers,
		Target:         target,
	}
}

// glossaryEntries sorts terms for a stable prompt.
func glossaryEntries(g map[string]string) []glossaryEntry {
	out := make([]glossaryEntry, 0, len(g))
	for term, def := range g {
		out = append(out, glossaryEntry{Term: term, Definition: def})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Term < out[j].Term })
	return out
}

func renderPrompt(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := promptTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("execute %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// sanitizePromptInput strips control characters and common prompt injection
// patterns from user-supplied text before it is embedded in an LLM prompt.
func sanitizePromptInput(s string) string {
	// Strip non-printable control characters (keep newlines, tabs, spaces).
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || r == '\r' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)

	// Neutralize role markers at line beginnings.
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(strings.ToLower(line))
		for _, prefix := range roleMarkers {
			if strings.HasPrefix(trimmed, prefix) {
				lines[i] = "[sanitized] " + line
				break
			}
		}
	}
	s = strings.Join(lines, "\n")

	const maxInputLen = 10000
	if len(s) > maxInputLen {
		s = s[:maxInputLen] + "\n[truncated]"
	}
	return s
}

var roleMarkers = []string{
	"system:", "assistant:", "user:", "[system]", "[assistant]",
	"<|system|>", "<|assistant|>", "<|im_start|>",
	"### system", "### assistant", "### instruction",
}
