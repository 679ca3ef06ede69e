// Package session holds per-session conversation and domain state.
// A Session is not safe for concurrent use; the owning store serializes access.
package session

import (
	"maps"
	"time"

	"github.com/Strob0t/prdforge/internal/domain/clarify"
	"github.com/Strob0t/prdforge/internal/domain/conversation"
	"github.com/Strob0t/prdforge/internal/domain/generation"
)

// Session is one user's working context.
type Session struct {
	ID        string
	CreatedAt time.Time

	history   []conversation.Message
	domain    generation.Domain
	glossary  map[string]string
	clarified map[string]clarify.Answer

	// Linked external context.
	RequestID string
	ProjectID string
}

// New creates an empty session.
func New(id string, now time.Time) *Session {
	return &Session{
		ID:        id,
		CreatedAt: now,
		glossary:  make(map[string]string),
		clarified: make(map[string]clarify.Answer),
	}
}

// History returns a copy of the message history.
func (s *Session) History() []conversation.Message {
	return conversation.Clone(s.history)
}

// Append adds messages to the end of the history.
func (s *Session) Append(msgs ...conversation.Message) {
	s.history = append(s.history, msgs...)
}

// Domain returns the detected product domain, or "" if not yet detected.
func (s *Session) Domain() generation.Domain { return s.domain }

// SetDomainOnce records d unless a domain is already set.
func (s *Session) SetDomainOnce(d generation.Domain) {
	if s.domain == "" {
		s.domain = d
	}
}

// Glossary returns a copy of the glossary.
func (s *Session) Glossary() map[string]string { return maps.Clone(s.glossary) }

// MergeGlossary adds terms that are new or previously had no definition.
func (s *Session) MergeGlossary(terms map[string]string) {
	mergeTerms(s.glossary, terms)
}

// GlossaryWith returns a copy of the glossary with terms merged in, leaving
// the session unchanged.
func (s *Session) GlossaryWith(terms map[string]string) map[string]string {
	out := maps.Clone(s.glossary)
	if out == nil {
		out = make(map[string]string, len(terms))
	}
	mergeTerms(out, terms)
	return out
}

func mergeTerms(dst, terms map[string]string) {
	for k, v := range terms {
		if cur, ok := dst[k]; !ok || (cur == "" && v != "") {
			dst[k] = v
		}
	}
}

// Recall returns an earlier answer to a question with the same normalized key.
func (s *Session) Recall(question string) (clarify.Answer, bool) {
	a, ok := s.clarified[clarify.NormalizeKey(question)]
	return a, ok
}

// Remember stores an answer for later passes. Blank answers are ignored.
func (s *Session) Remember(a clarify.Answer) {
	if a.Answer == "" {
		return
	}
	s.clarified[clarify.NormalizeKey(a.Question)] = a
}

// LinkContext records the external context identifiers for this session.
func (s *Session) LinkContext(requestID, projectID string) {
	s.RequestID = requestID
	s.ProjectID = projectID
}
