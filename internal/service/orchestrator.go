package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	cfotel "github.com/Strob0t/prdforge/internal/adapter/otel"
	"github.com/Strob0t/prdforge/internal/config"
	"github.com/Strob0t/prdforge/internal/domain"
	"github.com/Strob0t/prdforge/internal/domain/clarify"
	"github.com/Strob0t/prdforge/internal/domain/conversation"
	"github.com/Strob0t/prdforge/internal/domain/generation"
	"github.com/Strob0t/prdforge/internal/domain/session"
	"github.com/Strob0t/prdforge/internal/domain/validation"
	"github.com/Strob0t/prdforge/internal/logger"
	"github.com/Strob0t/prdforge/internal/port/audit"
	"github.com/Strob0t/prdforge/internal/port/broadcast"
)

const auditTimeout = 5 * time.Second

// ChatOptions tune a single chat turn.
type ChatOptions struct {
	JSON bool // ask the provider for a JSON object
}

// OrchestratorService is the entry point for sessions: it owns the session
// store and drives chat turns and generate runs.
type OrchestratorService struct {
	cfg       *config.Holder
	sessions  *SessionStore
	router    Completer
	pipeline  *PipelineService
	clarifier *ClarifyService
	validator *validation.Validator
	audit     audit.Sink
	hub       broadcast.Broadcaster
	metrics   *cfotel.Metrics
	log       *slog.Logger
	now       func() time.Time
}

// NewOrchestratorService creates an OrchestratorService.
func NewOrchestratorService(
	cfg *config.Holder,
	sessions *SessionStore,
	router Completer,
	pipeline *PipelineService,
	clarifier *ClarifyService,
	validator *validation.Validator,
	log *slog.Logger,
) *OrchestratorService {
	if validator == nil {
		validator = validation.NewValidator()
	}
	return &OrchestratorService{
		cfg:       cfg,
		sessions:  sessions,
		router:    router,
		pipeline:  pipeline,
		clarifier: clarifier,
		validator: validator,
		log:       log,
		now:       time.Now,
	}
}

// SetAudit records every finished generate call to sink.
func (s *OrchestratorService) SetAudit(sink audit.Sink) { s.audit = sink }

// SetBroadcaster publishes done and failed events through hub.
func (s *OrchestratorService) SetBroadcaster(hub broadcast.Broadcaster) { s.hub = hub }

// SetMetrics counts finished generate calls.
func (s *OrchestratorService) SetMetrics(m *cfotel.Metrics) { s.metrics = m }

// Reload re-reads configuration and applies the pipeline and clarification
// settings to calls that start afterwards.
func (s *OrchestratorService) Reload() error {
	cfg, err := s.cfg.Reload()
	if err != nil {
		return err
	}
	s.pipeline.SetConfig(cfg.Pipeline)
	s.clarifier.SetConfig(cfg.Clarify)
	s.log.Info("configuration reloaded")
	return nil
}

// StartSession creates a session and returns its id.
func (s *OrchestratorService) StartSession(ctx context.Context) string {
	id := s.sessions.Create()
	s.log.InfoContext(logger.WithSessionID(ctx, id), "session started")
	return id
}

// ReleaseSession discards a session and its history.
func (s *OrchestratorService) ReleaseSession(ctx context.Context, id string) error {
	if err := s.sessions.Release(id); err != nil {
		return err
	}
	s.log.InfoContext(logger.WithSessionID(ctx, id), "session released")
	return nil
}

// SetLinkedContext links external context identifiers to a session. They are
// used by later generate calls whose request does not name its own.
func (s *OrchestratorService) SetLinkedContext(ctx context.Context, id, requestID, projectID string) error {
	return s.sessions.With(ctx, id, func(sess *session.Session) error {
		sess.LinkContext(strings.TrimSpace(requestID), strings.TrimSpace(projectID))
		return nil
	})
}

// History returns a copy of the session's message history.
func (s *OrchestratorService) History(ctx context.Context, id string) ([]conversation.Message, error) {
	var out []conversation.Message
	err := s.sessions.With(ctx, id, func(sess *session.Session) error {
		out = sess.History()
		return nil
	})
	return out, err
}

// Chat sends one message with the session history and appends the exchange
// on success. It returns the reply and the provider that produced it.
func (s *OrchestratorService) Chat(ctx context.Context, id, message string, opts ChatOptions) (string, string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", "", fmt.Errorf("chat: empty message: %w", domain.ErrValidation)
	}

	ctx, cancel := context.WithTimeout(logger.WithSessionID(ctx, id), s.cfg.Get().Router.RequestDeadline)
	defer cancel()

	var reply, used string
	err := s.sessions.With(ctx, id, func(sess *session.Session) error {
		system, err := renderPrompt("chat.tmpl", promptData{
			Domain:   sess.Domain(),
			Glossary: glossaryEntries(sess.Glossary()),
		})
		if err != nil {
			return err
		}
		conv := append([]conversation.Message{conversation.System(system)}, sess.History()...)
		conv = append(conv, conversation.User(message))

		reply, used, err = s.router.Complete(ctx, conv, opts.JSON)
		if err != nil {
			return err
		}
		sess.Append(conversation.User(message), conversation.Assistant(reply))
		return nil
	})
	if err != nil {
		return "", "", fmt.Errorf("chat: %w", err)
	}
	return reply, used, nil
}

// Generate produces a document for req. It resolves clarification questions,
// runs the pipeline and appends the request and document to the session
// history. It returns either a result, possibly flagged below target, or
// exactly one error.
func (s *OrchestratorService) Generate(ctx context.Context, id string, req generation.Request) (*generation.Result, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("generate: %w: %w", domain.ErrValidation, err)
	}

	runID := uuid.NewString()
	ctx = logger.WithRequestID(logger.WithSessionID(ctx, id), runID)
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Get().Router.RequestDeadline)
	defer cancel()
	ctx, span := cfotel.StartGenerateSpan(ctx, id, runID)
	defer span.End()

	var res *generation.Result
	err := s.sessions.With(ctx, id, func(sess *session.Session) error {
		if req.RequestID == "" {
			req.RequestID = sess.RequestID
		}
		if req.ProjectID == "" {
			req.ProjectID = sess.ProjectID
		}
		// Session state changes only when the run succeeds.
		dom := sess.Domain()
		if dom == "" {
			dom = generation.DetectDomain(req)
		}
		terms := generation.ExtractGlossary(requestText(req))
		glossary := sess.GlossaryWith(terms)
		scope := req.Scope()
		memory := &pendingMemory{base: sess}

		answers, err := s.clarifier.Collect(ctx, ClarifyInput{
			SessionID: id,
			RequestID: req.RequestID,
			ProjectID: req.ProjectID,
			Feature:   req.Feature,
			Questions: s.openQuestions(req, scope),
			Memory:    memory,
		})
		if err != nil {
			return fmt.Errorf("clarify: %w", err)
		}

		res, err = s.pipeline.Run(ctx, PipelineInput{
			SessionID:      id,
			RunID:          runID,
			Request:        req,
			Scope:          scope,
			Domain:         dom,
			Glossary:       glossary,
			Clarifications: answers,
		})
		if err != nil {
			return err
		}
		sess.SetDomainOnce(dom)
		sess.MergeGlossary(terms)
		memory.commit()
		sess.Append(conversation.User(requestText(req)), conversation.Assistant(res.Document))
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate failed")
		s.finishFailed(ctx, id, runID, err)
		return nil, fmt.Errorf("generate: %w", err)
	}

	s.finishDone(ctx, id, runID, req, res)
	return res, nil
}

// pendingMemory holds answers collected during one generate call and writes
// them to the session only on commit.
type pendingMemory struct {
	base  AnswerMemory
	added []clarify.Answer
}

func (m *pendingMemory) Recall(question string) (clarify.Answer, bool) {
	key := clarify.NormalizeKey(question)
	for i := len(m.added) - 1; i >= 0; i-- {
		if clarify.NormalizeKey(m.added[i].Question) == key {
			return m.added[i], true
		}
	}
	return m.base.Recall(question)
}

func (m *pendingMemory) Remember(a clarify.Answer) { m.added = append(m.added, a) }

func (m *pendingMemory) commit() {
	for _, a := range m.added {
		m.base.Remember(a)
	}
}

// openQuestions validates the request text itself; its clarifying questions
// are what the pipeline would otherwise leave open.
func (s *OrchestratorService) openQuestions(req generation.Request, scope validation.Scope) []clarify.Question {
	report := s.validator.Validate(requestText(req), scope)
	out := make([]clarify.Question, len(report.Questions))
	for i, q := range report.Questions {
		out[i] = clarify.Question{Text: q}
	}
	return out
}

func (s *OrchestratorService) finishDone(ctx context.Context, id, runID string, req generation.Request, res *generation.Result) {
	s.log.InfoContext(ctx, "generation finished",
		"provider", res.Provider, "composite", res.Quality.Composite,
		"iterations", res.Iterations, "status", string(res.Status),
		"clarifications", len(res.Clarifications))
	if s.metrics != nil {
		s.metrics.Generations.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(res.Status))))
	}
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, broadcast.EventDone, broadcast.DoneEvent{
			SessionID:  id,
			RunID:      runID,
			Provider:   res.Provider,
			Composite:  res.Quality.Composite,
			Iterations: res.Iterations,
			Status:     string(res.Status),
		})
	}
	if s.audit == nil {
		return
	}

	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()
	err := s.audit.RecordGeneration(actx, audit.Record{
		RunID:          runID,
		SessionID:      id,
		RequestID:      req.RequestID,
		ProjectID:      req.ProjectID,
		Provider:       res.Provider,
		Composite:      res.Quality.Composite,
		Iterations:     res.Iterations,
		Status:         res.Status,
		Clarifications: res.Clarifications,
		FinishedAt:     s.now().UTC(),
	})
	if err != nil {
		s.log.ErrorContext(ctx, "audit record failed", "error", err)
	}
}

func (s *OrchestratorService) finishFailed(ctx context.Context, id, runID string, err error) {
	status := "failed"
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		status = "cancelled"
	}
	s.log.ErrorContext(ctx, "generation failed", "status", status, "error", err)
	if s.metrics != nil {
		s.metrics.Generations.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	}
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, broadcast.EventFailed, broadcast.DoneEvent{
			SessionID: id,
			RunID:     runID,
			Status:    status,
			Error:     err.Error(),
		})
	}
}

// requestText flattens a request into one block for detection, validation
// and the session history.
func requestText(req generation.Request) string {
	var b strings.Builder
	b.WriteString(req.Feature)
	if req.Context != "" {
		b.WriteString("\n\n")
		b.WriteString(req.Context)
	}
	for _, r := range req.Requirements {
		b.WriteString("\n- ")
		b.WriteString(r)
	}
	return b.String()
}
