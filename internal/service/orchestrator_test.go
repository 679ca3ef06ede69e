package service_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/Strob0t/prdforge/internal/config"
	"github.com/Strob0t/prdforge/internal/domain"
	"github.com/Strob0t/prdforge/internal/domain/clarify"
	"github.com/Strob0t/prdforge/internal/domain/conversation"
	"github.com/Strob0t/prdforge/internal/domain/generation"
	"github.com/Strob0t/prdforge/internal/domain/provider"
	"github.com/Strob0t/prdforge/internal/domain/quality"
	"github.com/Strob0t/prdforge/internal/port/broadcast"
	"github.com/Strob0t/prdforge/internal/port/contextsource"
	"github.com/Strob0t/prdforge/internal/port/prompter"
	"github.com/Strob0t/prdforge/internal/service"
)

// chatCompleter echoes and records every conversation it receives.
type chatCompleter struct {
	mu    sync.Mutex
	convs [][]conversation.Message
	err   error
}

func (c *chatCompleter) Complete(_ context.Context, conv []conversation.Message, _ bool) (string, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.convs = append(c.convs, conv)
	if c.err != nil {
		return "", "", c.err
	}
	return "re: " + conv[len(conv)-1].Content, "local", nil
}

type orchestratorFixture struct {
	orch     *service.OrchestratorService
	pipeline *service.PipelineService
	hub      *fakeBroadcaster
	audit    *fakeAudit
	rec      *recordingHandler
}

func newOrchestratorFixture(t *testing.T, llm service.Completer, res contextsource.Resolver, p prompter.Prompter, path string) *orchestratorFixture {
	t.Helper()
	cfg := config.Defaults()
	holder := config.NewHolder(&cfg, path)
	log, rec := newRecordingLogger()

	pipeline := service.NewPipelineService(llm, nil, cfg.Pipeline, log)
	clarifier := service.NewClarifyService(res, p, cfg.Clarify, log)
	orch := service.NewOrchestratorService(holder, service.NewSessionStore(), llm, pipeline, clarifier, nil, log)

	f := &orchestratorFixture{orch: orch, pipeline: pipeline, hub: &fakeBroadcaster{}, audit: &fakeAudit{}, rec: rec}
	orch.SetBroadcaster(f.hub)
	orch.SetAudit(f.audit)
	return f
}

func oauthRequest() generation.Request {
	return generation.Request{
		Feature:      "Add OAuth2 login",
		Context:      "iOS app",
		Requirements: []string{"support biometric fallback"},
	}
}

func TestOrchestrator_ChatKeepsHistory(t *testing.T) {
	llm := &chatCompleter{}
	f := newOrchestratorFixture(t, llm, nil, nil, "")
	ctx := context.Background()
	id := f.orch.StartSession(ctx)

	reply, used, err := f.orch.Chat(ctx, id, "hello", service.ChatOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if reply != "re: hello" || used != "local" {
		t.Fatalf("got (%q, %q)", reply, used)
	}
	if _, _, err := f.orch.Chat(ctx, id, "again", service.ChatOptions{}); err != nil {
		t.Fatal(err)
	}

	second := llm.convs[1]
	if len(second) != 4 || second[0].Role != conversation.RoleSystem {
		t.Fatalf("second conversation = %+v, want system + 2 history + user", second)
	}
	if second[1].Content != "hello" || second[2].Content != "re: hello" || second[3].Content != "again" {
		t.Errorf("second conversation = %+v", second)
	}

	h, err := f.orch.History(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(h) != 4 {
		t.Errorf("history len = %d, want 4", len(h))
	}
}

func TestOrchestrator_ChatFailureLeavesHistoryUntouched(t *testing.T) {
	llm := &chatCompleter{err: &provider.ExhaustedError{}}
	f := newOrchestratorFixture(t, llm, nil, nil, "")
	ctx := context.Background()
	id := f.orch.StartSession(ctx)

	_, _, err := f.orch.Chat(ctx, id, "hello", service.ChatOptions{})
	if !errors.Is(err, provider.ErrAllProvidersExhausted) {
		t.Fatalf("err = %v", err)
	}
	if h, _ := f.orch.History(ctx, id); len(h) != 0 {
		t.Errorf("history = %+v, want empty", h)
	}
}

func TestOrchestrator_ChatErrors(t *testing.T) {
	f := newOrchestratorFixture(t, &chatCompleter{}, nil, nil, "")
	ctx := context.Background()

	if _, _, err := f.orch.Chat(ctx, "missing", "hi", service.ChatOptions{}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown session err = %v, want ErrNotFound", err)
	}
	id := f.orch.StartSession(ctx)
	if _, _, err := f.orch.Chat(ctx, id, "  ", service.ChatOptions{}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("empty message err = %v, want ErrValidation", err)
	}
	if err := f.orch.ReleaseSession(ctx, id); err != nil {
		t.Fatal(err)
	}
	if _, _, err := f.orch.Chat(ctx, id, "hi", service.ChatOptions{}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("released session err = %v, want ErrNotFound", err)
	}
}

func TestOrchestrator_GenerateAutoResolvesFromCodebase(t *testing.T) {
	llm := &stageCompleter{reply: refineReply}
	res := &fakeResolver{avail: indexedCodebase, codebase: &clarify.Response{Summary: "from code", Confidence: 0.82}}
	p := &fakePrompter{def: "human"}
	f := newOrchestratorFixture(t, llm, res, p, "")
	f.pipeline.SetScorer(scoreByText(map[string]float64{"draft": 90}))
	ctx := context.Background()

	id := f.orch.StartSession(ctx)
	if err := f.orch.SetLinkedContext(ctx, id, "req-1", "proj-1"); err != nil {
		t.Fatal(err)
	}
	got, err := f.orch.Generate(ctx, id, oauthRequest())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if len(p.Asked()) != 0 {
		t.Errorf("human prompted %d times, want 0", len(p.Asked()))
	}
	if len(got.Clarifications) == 0 {
		t.Fatal("expected clarifications from the codebase")
	}
	for _, a := range got.Clarifications {
		if a.Source != clarify.SourceCodebase || a.Answer != "from code" {
			t.Errorf("answer = %+v", a)
		}
	}
	if got.Document != "draft" || got.Provider != "local" || got.Status != generation.StatusTargetMet {
		t.Errorf("result = %+v", got)
	}

	if len(f.audit.records) != 1 {
		t.Fatalf("audit records = %d, want 1", len(f.audit.records))
	}
	rec := f.audit.records[0]
	if rec.SessionID != id || rec.RequestID != "req-1" || rec.ProjectID != "proj-1" || rec.RunID == "" {
		t.Errorf("audit record = %+v", rec)
	}
	for i, a := range rec.Clarifications {
		if a.Question != got.Clarifications[i].Question {
			t.Errorf("audit order differs at %d", i)
		}
	}
	if len(f.hub.ofType(broadcast.EventDone)) != 1 {
		t.Error("expected one done event")
	}
	if h, _ := f.orch.History(ctx, id); len(h) != 2 || h[1].Content != "draft" {
		t.Errorf("history = %+v", h)
	}
}

func TestOrchestrator_GenerateAsksHumanOnLowConfidence(t *testing.T) {
	llm := &stageCompleter{reply: refineReply}
	res := &fakeResolver{avail: indexedCodebase, codebase: &clarify.Response{Summary: "guess", Confidence: 0.50}}
	p := &fakePrompter{def: "human answer"}
	f := newOrchestratorFixture(t, llm, res, p, "")
	f.pipeline.SetScorer(scoreByText(map[string]float64{"draft": 90}))
	ctx := context.Background()

	id := f.orch.StartSession(ctx)
	req := oauthRequest()
	req.RequestID = "req-2"
	got, err := f.orch.Generate(ctx, id, req)
	if err != nil {
		t.Fatal(err)
	}
	asked := p.Asked()
	if len(asked) != len(got.Clarifications) || len(asked) == 0 {
		t.Fatalf("prompts = %d, answers = %d", len(asked), len(got.Clarifications))
	}
	seen := map[string]int{}
	for _, q := range asked {
		seen[q]++
		if seen[q] > 1 {
			t.Errorf("question %q asked twice", q)
		}
	}

	// The same questions come up again; the session remembers the answers.
	if _, err := f.orch.Generate(ctx, id, req); err != nil {
		t.Fatal(err)
	}
	if len(p.Asked()) != len(asked) {
		t.Errorf("second generate prompted again: %d prompts", len(p.Asked()))
	}
}

func TestOrchestrator_GenerateExhaustedReturnsOneError(t *testing.T) {
	llm := &stageCompleter{reply: func(stage generation.Stage, n int) (string, error) {
		return "", &provider.ExhaustedError{Attempts: []provider.Attempt{{Provider: "local", Kind: provider.ErrKindNetwork}}}
	}}
	f := newOrchestratorFixture(t, llm, nil, nil, "")
	ctx := context.Background()
	id := f.orch.StartSession(ctx)

	got, err := f.orch.Generate(ctx, id, oauthRequest())
	if got != nil {
		t.Fatalf("result = %+v, want nil", got)
	}
	if !errors.Is(err, provider.ErrAllProvidersExhausted) {
		t.Fatalf("err = %v", err)
	}
	if len(f.audit.records) != 0 {
		t.Error("failed runs are not audited")
	}
	failed := f.hub.ofType(broadcast.EventFailed)
	if len(failed) != 1 || failed[0].Payload.(broadcast.DoneEvent).Status != "failed" {
		t.Errorf("failed events = %+v", failed)
	}
	if h, _ := f.orch.History(ctx, id); len(h) != 0 {
		t.Errorf("history = %+v, want empty", h)
	}
}

func TestOrchestrator_FailedGenerateLeavesSessionUnchanged(t *testing.T) {
	failDraft := true
	llm := &stageCompleter{reply: func(stage generation.Stage, n int) (string, error) {
		if failDraft && stage == generation.StageDraft {
			return "", &provider.ExhaustedError{Attempts: []provider.Attempt{{Provider: "local", Kind: provider.ErrKindNetwork}}}
		}
		return refineReply(stage, n)
	}}
	p := &fakePrompter{def: "human answer"}
	f := newOrchestratorFixture(t, llm, nil, p, "")
	f.pipeline.SetScorer(scoreByText(map[string]float64{"draft": 90}))
	ctx := context.Background()
	id := f.orch.StartSession(ctx)

	payments := generation.Request{Feature: "Accept card payments in checkout", Context: "KYC: know your customer"}
	if _, err := f.orch.Generate(ctx, id, payments); !errors.Is(err, provider.ErrAllProvidersExhausted) {
		t.Fatalf("err = %v, want exhausted", err)
	}
	failedPrompts := len(p.Asked())
	if failedPrompts == 0 {
		t.Fatal("expected the failed run to ask for clarification")
	}

	// Answers from the failed run were not kept, so the same questions are asked again.
	failDraft = false
	if _, err := f.orch.Generate(ctx, id, payments); err != nil {
		t.Fatal(err)
	}
	if got := len(p.Asked()); got != 2*failedPrompts {
		t.Errorf("prompts = %d, want %d", got, 2*failedPrompts)
	}

	// A fresh session: a failed fintech run must not pin the domain or glossary.
	id = f.orch.StartSession(ctx)
	failDraft = true
	if _, err := f.orch.Generate(ctx, id, payments); err == nil {
		t.Fatal("expected failure")
	}
	failDraft = false
	res, err := f.orch.Generate(ctx, id, generation.Request{Feature: "Let patients book clinic visits"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Domain != generation.DomainHealthcare {
		t.Errorf("domain = %s, want healthcare", res.Domain)
	}

	if _, _, err := f.orch.Chat(ctx, id, "Any risks?", service.ChatOptions{}); err != nil {
		t.Fatal(err)
	}
	sys := llm.convs[len(llm.convs)-1][0].Content
	if !strings.Contains(sys, "healthcare") || strings.Contains(sys, "KYC") {
		t.Errorf("chat system prompt = %q", sys)
	}
}

func TestOrchestrator_GenerateValidatesRequest(t *testing.T) {
	f := newOrchestratorFixture(t, &stageCompleter{reply: refineReply}, nil, nil, "")
	id := f.orch.StartSession(context.Background())
	_, err := f.orch.Generate(context.Background(), id, generation.Request{Feature: "   "})
	if !errors.Is(err, domain.ErrValidation) || !errors.Is(err, generation.ErrFeatureRequired) {
		t.Fatalf("err = %v, want validation failure", err)
	}
}

func TestOrchestrator_AuditFailureIsNotFatal(t *testing.T) {
	f := newOrchestratorFixture(t, &stageCompleter{reply: refineReply}, nil, nil, "")
	f.pipeline.SetScorer(scoreByText(map[string]float64{"draft": 90}))
	f.audit.err = errors.New("db down")
	ctx := context.Background()
	id := f.orch.StartSession(ctx)

	if _, err := f.orch.Generate(ctx, id, oauthRequest()); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(f.rec.attrs("audit record failed")) != 1 {
		t.Error("expected the audit failure to be logged")
	}
}

func TestOrchestrator_ReloadAppliesPipelineSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prdforge.yaml")
	if err := os.WriteFile(path, []byte("pipeline:\n  max_iterations: 1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	f := newOrchestratorFixture(t, &stageCompleter{reply: refineReply}, nil, nil, path)
	f.pipeline.SetScorer(func(string) quality.Score { return quality.Score{Composite: 50} })
	ctx := context.Background()
	id := f.orch.StartSession(ctx)

	res, err := f.orch.Generate(ctx, id, oauthRequest())
	if err != nil {
		t.Fatal(err)
	}
	if res.Iterations != generation.DefaultMaxIterations {
		t.Fatalf("iterations before reload = %d", res.Iterations)
	}

	if err := f.orch.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	res, err = f.orch.Generate(ctx, id, oauthRequest())
	if err != nil {
		t.Fatal(err)
	}
	if res.Iterations != 1 {
		t.Errorf("iterations after reload = %d, want 1", res.Iterations)
	}
}

func TestOrchestrator_DomainAndGlossaryReachChat(t *testing.T) {
	llm := &stageCompleter{reply: refineReply}
	f := newOrchestratorFixture(t, llm, nil, nil, "")
	f.pipeline.SetScorer(scoreByText(map[string]float64{"draft": 90}))
	ctx := context.Background()
	id := f.orch.StartSession(ctx)

	req := generation.Request{Feature: "Let shoppers save their cart", Context: "SKU: stock keeping unit"}
	res, err := f.orch.Generate(ctx, id, req)
	if err != nil {
		t.Fatal(err)
	}
	if res.Domain != generation.DomainEcommerce {
		t.Errorf("domain = %s, want ecommerce", res.Domain)
	}

	if _, _, err := f.orch.Chat(ctx, id, "What about guests?", service.ChatOptions{}); err != nil {
		t.Fatal(err)
	}
	conv := llm.convs[len(llm.convs)-1]
	sys := conv[0].Content
	if !strings.Contains(sys, "ecommerce") || !strings.Contains(sys, "SKU: stock keeping unit") {
		t.Errorf("chat system prompt = %q", sys)
	}
	if len(conv) != 4 || conv[2].Content != "draft" {
		t.Errorf("chat should carry the generate exchange, got %d messages", len(conv))
	}
}
