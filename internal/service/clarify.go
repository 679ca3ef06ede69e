package service

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	cfotel "github.com/Strob0t/prdforge/internal/adapter/otel"
	"github.com/Strob0t/prdforge/internal/config"
	"github.com/Strob0t/prdforge/internal/domain/clarify"
	"github.com/Strob0t/prdforge/internal/port/broadcast"
	"github.com/Strob0t/prdforge/internal/port/contextsource"
	"github.com/Strob0t/prdforge/internal/port/prompter"
)

// AnswerMemory stores answers across clarification passes of one session.
type AnswerMemory interface {
	Recall(question string) (clarify.Answer, bool)
	Remember(a clarify.Answer)
}

// ClarifyInput is one clarification pass.
type ClarifyInput struct {
	SessionID string
	RequestID string
	ProjectID string
	Feature   string
	Questions []clarify.Question
	Memory    AnswerMemory // optional
}

// ClarifyService resolves open questions from linked context sources and
// falls back to asking a person.
type ClarifyService struct {
	resolver contextsource.Resolver
	prompter prompter.Prompter
	hub      broadcast.Broadcaster
	metrics  *cfotel.Metrics
	log      *slog.Logger

	mu  sync.RWMutex
	cfg config.Clarify
}

// NewClarifyService creates a ClarifyService. A nil resolver sends every
// question to the prompter; a nil prompter leaves unresolved questions open.
func NewClarifyService(resolver contextsource.Resolver, p prompter.Prompter, cfg config.Clarify, log *slog.Logger) *ClarifyService {
	return &ClarifyService{resolver: resolver, prompter: p, cfg: cfg, log: log}
}

// SetConfig replaces the thresholds used by passes that start afterwards.
func (s *ClarifyService) SetConfig(cfg config.Clarify) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *ClarifyService) config() config.Clarify {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// SetBroadcaster publishes one event per resolved question.
func (s *ClarifyService) SetBroadcaster(hub broadcast.Broadcaster) { s.hub = hub }

// SetMetrics counts resolved questions by source.
func (s *ClarifyService) SetMetrics(m *cfotel.Metrics) { s.metrics = m }

// Collect resolves each question in order and returns the answers in that
// order. Questions nobody answered are omitted. Context source failures are
// logged and treated as no answer. Only cancellation is returned as an error,
// together with the answers collected so far.
func (s *ClarifyService) Collect(ctx context.Context, in ClarifyInput) ([]clarify.Answer, error) {
	cfg := s.config()
	questions := clarify.Dedupe(in.Questions, cfg.MaxQuestions)
	if len(questions) == 0 {
		return nil, nil
	}
	avail := s.availability(ctx, in)

	answers := make([]clarify.Answer, 0, len(questions))
	for _, q := range questions {
		if err := ctx.Err(); err != nil {
			return answers, err
		}

		a, ok, err := s.resolve(ctx, cfg, in, avail, q)
		if err != nil {
			return answers, err
		}
		if !ok {
			s.log.InfoContext(ctx, "clarification left open", "question", q.Text)
			continue
		}
		if in.Memory != nil {
			in.Memory.Remember(a)
		}
		answers = append(answers, a)
		s.record(ctx, in, a)
	}
	return answers, nil
}

func (s *ClarifyService) availability(ctx context.Context, in ClarifyInput) clarify.Availability {
	if s.resolver == nil || in.RequestID == "" {
		return clarify.Availability{}
	}
	avail, err := s.resolver.HasContext(ctx, in.RequestID)
	if err != nil {
		s.log.WarnContext(ctx, "context availability check failed", "request_id", in.RequestID, "error", err)
		return clarify.Availability{}
	}
	if avail.ProjectID == "" {
		avail.ProjectID = in.ProjectID
	}
	if avail.RequestID == "" {
		avail.RequestID = in.RequestID
	}
	return avail
}

// resolve answers one question: session memory, then the codebase, then
// mockups, then a person. Only one source's answer is used.
func (s *ClarifyService) resolve(ctx context.Context, cfg config.Clarify, in ClarifyInput, avail clarify.Availability, q clarify.Question) (clarify.Answer, bool, error) {
	ctx, span := cfotel.StartClarifySpan(ctx, q.Text)
	defer span.End()

	if in.Memory != nil {
		if prev, ok := in.Memory.Recall(q.Text); ok {
			return clarify.Answer{Question: q.Text, Answer: prev.Answer, Source: clarify.SourceMemory}, true, nil
		}
	}

	if avail.CodebaseReady() {
		resp, err := s.resolver.QueryCodebaseContext(ctx, avail.ProjectID, q.Text, in.Feature)
		if ctx.Err() != nil {
			return clarify.Answer{}, false, ctx.Err()
		}
		if err != nil {
			s.log.WarnContext(ctx, "codebase query failed", "question", q.Text, "error", err)
		} else if a, ok := accept(q, resp, clarify.SourceCodebase, cfg.CodebaseThreshold); ok {
			return a, true, nil
		}
	}

	if avail.HasMockups {
		resp, err := s.resolver.QueryMockupContext(ctx, avail.RequestID, q.Text)
		if ctx.Err() != nil {
			return clarify.Answer{}, false, ctx.Err()
		}
		if err != nil {
			s.log.WarnContext(ctx, "mockup query failed", "question", q.Text, "error", err)
		} else if a, ok := accept(q, resp, clarify.SourceMockups, cfg.MockupThreshold); ok {
			return a, true, nil
		}
	}

	if s.prompter == nil {
		return clarify.Answer{}, false, nil
	}
	text, err := s.prompter.Ask(ctx, q.Text)
	if err != nil {
		if ctx.Err() != nil {
			return clarify.Answer{}, false, ctx.Err()
		}
		s.log.WarnContext(ctx, "prompt failed", "question", q.Text, "error", err)
		return clarify.Answer{}, false, nil
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return clarify.Answer{}, false, nil
	}
	return clarify.Answer{Question: q.Text, Answer: text, Source: clarify.SourceHuman}, true, nil
}

// accept turns a context response into an answer when its confidence clears threshold.
func accept(q clarify.Question, resp *clarify.Response, src clarify.Source, threshold float64) (clarify.Answer, bool) {
	if resp == nil {
		return clarify.Answer{}, false
	}
	conf := clarify.Clamp(resp.Confidence)
	if conf < threshold {
		return clarify.Answer{}, false
	}
	text := strings.TrimSpace(resp.Summary)
	if text == "" {
		text = strings.Join(resp.RelevantItems, "\n")
	}
	if text == "" {
		return clarify.Answer{}, false
	}
	return clarify.Answer{Question: q.Text, Answer: text, Source: src, Confidence: conf}, true
}

func (s *ClarifyService) record(ctx context.Context, in ClarifyInput, a clarify.Answer) {
	s.log.InfoContext(ctx, "clarification resolved", "source", string(a.Source), "confidence", a.Confidence)
	if s.metrics != nil {
		s.metrics.Clarifications.Add(ctx, 1, metric.WithAttributes(attribute.String("source", string(a.Source))))
	}
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, broadcast.EventClarification, broadcast.ClarificationEvent{
			SessionID:  in.SessionID,
			Question:   a.Question,
			Source:     string(a.Source),
			Confidence: a.Confidence,
		})
	}
}
