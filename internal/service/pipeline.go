package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	cfotel "github.com/Strob0t/prdforge/internal/adapter/otel"
	"github.com/Strob0t/prdforge/internal/config"
	"github.com/Strob0t/prdforge/internal/domain/clarify"
	"github.com/Strob0t/prdforge/internal/domain/conversation"
	"github.com/Strob0t/prdforge/internal/domain/generation"
	"github.com/Strob0t/prdforge/internal/domain/quality"
	"github.com/Strob0t/prdforge/internal/domain/validation"
	"github.com/Strob0t/prdforge/internal/port/broadcast"
)

// Scorer computes the deterministic quality score of a document.
type Scorer func(text string) quality.Score

// PipelineInput is everything one pipeline run needs.
type PipelineInput struct {
	SessionID      string
	RunID          string
	Request        generation.Request
	Scope          validation.Scope
	Domain         generation.Domain
	Glossary       map[string]string
	Clarifications []clarify.Answer
}

// PipelineService runs research, plan, draft and the critique/refine loop.
type PipelineService struct {
	llm       Completer
	validator *validation.Validator
	score     Scorer
	hub       broadcast.Broadcaster
	metrics   *cfotel.Metrics
	log       *slog.Logger

	mu  sync.RWMutex
	cfg config.Pipeline
}

// NewPipelineService creates a PipelineService scoring with quality.Evaluate.
func NewPipelineService(llm Completer, validator *validation.Validator, cfg config.Pipeline, log *slog.Logger) *PipelineService {
	if validator == nil {
		validator = validation.NewValidator()
	}
	return &PipelineService{
		llm:       llm,
		validator: validator,
		cfg:       cfg,
		score:     quality.Evaluate,
		log:       log,
	}
}

// SetConfig replaces the settings used by runs that start afterwards.
func (s *PipelineService) SetConfig(cfg config.Pipeline) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *PipelineService) config() config.Pipeline {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// SetScorer replaces the quality scorer.
func (s *PipelineService) SetScorer(fn Scorer) { s.score = fn }

// SetBroadcaster publishes stage events through hub.
func (s *PipelineService) SetBroadcaster(hub broadcast.Broadcaster) { s.hub = hub }

// SetMetrics records stage durations and final scores.
func (s *PipelineService) SetMetrics(m *cfotel.Metrics) { s.metrics = m }

// Run executes one pipeline run. Research and plan failures are soft. A draft
// failure returns the router's error. Once a draft exists the run always
// returns a result: the best-scoring draft seen, flagged below target when the
// loop stopped early or hit the iteration cap. A cancelled run returns the
// context error and no result. The last stage event of a run is done or failed.
func (s *PipelineService) Run(ctx context.Context, in PipelineInput) (*generation.Result, error) {
	res, err := s.run(ctx, in)
	if err != nil {
		s.emit(context.WithoutCancel(ctx), in, generation.StageFailed, 0, 0)
		return nil, err
	}
	s.emit(ctx, in, generation.StageDone, res.Iterations, res.Quality.Composite)
	return res, nil
}

func (s *PipelineService) run(ctx context.Context, in PipelineInput) (*generation.Result, error) {
	cfg := s.config()
	target := cfg.TargetScore
	data := newPromptData(in, target)

	system, err := renderPrompt("system.tmpl", data)
	if err != nil {
		return nil, err
	}

	if cfg.ResearchEnabled {
		if text, _, err := s.stage(ctx, in, generation.StageResearch, 0, "research.tmpl", data, system, true); err == nil {
			data.Research = text
		} else if ctx.Err() != nil {
			return nil, err
		} else {
			s.log.WarnContext(ctx, "research skipped", "error", err)
		}
	}

	if cfg.PlanEnabled {
		if text, _, err := s.stage(ctx, in, generation.StagePlan, 0, "plan.tmpl", data, system, true); err == nil {
			data.Plan = text
		} else if ctx.Err() != nil {
			return nil, err
		} else {
			s.log.WarnContext(ctx, "plan skipped", "error", err)
		}
	}

	best, bestProvider, err := s.stage(ctx, in, generation.StageDraft, 0, "draft.tmpl", data, system, false)
	if err != nil {
		return nil, fmt.Errorf("draft: %w", err)
	}
	bestScore := s.score(best)
	report := s.validator.Validate(best, in.Scope)

	iterations := 0
	for {
		s.emit(ctx, in, generation.StageCritique, iterations, bestScore.Composite)
		if bestScore.Meets(target) || iterations >= cfg.MaxIterations {
			break
		}

		data.Draft = best
		data.Score = bestScore
		data.Report = report
		critique, _, err := s.stage(ctx, in, generation.StageCritique, iterations+1, "critique.tmpl", data, system, false)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			s.log.WarnContext(ctx, "critique failed, keeping best draft", "iteration", iterations+1, "error", err)
			break
		}

		iterations++
		data.Critique = critique
		data.Iteration = iterations
		refined, usedProvider, err := s.stage(ctx, in, generation.StageRefine, iterations, "refine.tmpl", data, system, false)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			s.log.WarnContext(ctx, "refine failed, keeping best draft", "iteration", iterations, "error", err)
			break
		}

		sc := s.score(refined)
		if sc.Composite < bestScore.Composite {
			s.log.InfoContext(ctx, "refined draft scored lower, keeping best",
				"iteration", iterations, "best", bestScore.Composite, "refined", sc.Composite)
			continue
		}
		best, bestProvider, bestScore = refined, usedProvider, sc
		report = s.validator.Validate(best, in.Scope)
	}

	status := generation.StatusTargetMet
	if !bestScore.Meets(target) {
		status = generation.StatusBelowTarget
	}
	if s.metrics != nil {
		s.metrics.QualityScore.Record(ctx, bestScore.Composite, metric.WithAttributes(attribute.String("status", string(status))))
	}
	s.log.InfoContext(ctx, "pipeline finished",
		"provider", bestProvider, "composite", bestScore.Composite, "iterations", iterations, "status", string(status))

	return &generation.Result{
		Document:       best,
		Provider:       bestProvider,
		Quality:        bestScore,
		Validation:     report,
		Iterations:     iterations,
		Status:         status,
		Clarifications: in.Clarifications,
		Domain:         in.Domain,
	}, nil
}

// stage renders one prompt and sends it through the router.
func (s *PipelineService) stage(
	ctx context.Context,
	in PipelineInput,
	stage generation.Stage,
	iteration int,
	tmpl string,
	data promptData,
	system string,
	needsJSON bool,
) (string, string, error) {
	prompt, err := renderPrompt(tmpl, data)
	if err != nil {
		return "", "", err
	}

	ctx, span := cfotel.StartStageSpan(ctx, string(stage), iteration)
	defer span.End()
	s.emit(ctx, in, stage, iteration, 0)

	start := time.Now()
	text, used, err := s.llm.Complete(ctx, []conversation.Message{
		conversation.System(system),
		conversation.User(prompt),
	}, needsJSON)
	if s.metrics != nil {
		s.metrics.StageDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("stage", string(stage))))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stage failed")
		return "", "", err
	}
	span.SetAttributes(attribute.String("provider.name", used))
	s.log.DebugContext(ctx, "stage complete", "stage", string(stage), "iteration", iteration, "provider", used)
	return text, used, nil
}

func (s *PipelineService) emit(ctx context.Context, in PipelineInput, stage generation.Stage, iteration int, composite float64) {
	if s.hub == nil {
		return
	}
	s.hub.BroadcastEvent(ctx, broadcast.EventStage, broadcast.StageEvent{
		SessionID: in.SessionID,
		RunID:     in.RunID,
		Stage:     string(stage),
		Iteration: iteration,
		Composite: composite,
	})
}
