package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Strob0t/prdforge/internal/config"
	"github.com/Strob0t/prdforge/internal/domain/clarify"
	"github.com/Strob0t/prdforge/internal/domain/session"
	"github.com/Strob0t/prdforge/internal/port/broadcast"
	"github.com/Strob0t/prdforge/internal/service"
)

func clarifyConfig() config.Clarify {
	return config.Clarify{
		CodebaseThreshold: clarify.CodebaseConfidenceThreshold,
		MockupThreshold:   clarify.MockupConfidenceThreshold,
		MaxQuestions:      5,
	}
}

func questions(texts ...string) []clarify.Question {
	out := make([]clarify.Question, len(texts))
	for i, t := range texts {
		out[i] = clarify.Question{Text: t}
	}
	return out
}

var indexedCodebase = clarify.Availability{HasCodebase: true, Indexed: true, ProjectID: "p1"}

func TestClarify_ConfidenceThresholds(t *testing.T) {
	tests := []struct {
		name       string
		avail      clarify.Availability
		codebase   *clarify.Response
		mockups    *clarify.Response
		wantSource clarify.Source
		wantAsks   int
		wantMockup int
	}{
		{
			name:       "codebase above threshold",
			avail:      indexedCodebase,
			codebase:   &clarify.Response{Summary: "Keycloak via OIDC", Confidence: 0.82},
			wantSource: clarify.SourceCodebase,
		},
		{
			name:       "codebase below threshold asks once",
			avail:      indexedCodebase,
			codebase:   &clarify.Response{Summary: "maybe Auth0", Confidence: 0.50},
			wantSource: clarify.SourceHuman,
			wantAsks:   1,
		},
		{
			name:       "codebase exactly at threshold",
			avail:      indexedCodebase,
			codebase:   &clarify.Response{Summary: "Keycloak", Confidence: 0.70},
			wantSource: clarify.SourceCodebase,
		},
		{
			name:       "unindexed codebase is skipped",
			avail:      clarify.Availability{HasCodebase: true},
			codebase:   &clarify.Response{Summary: "Keycloak", Confidence: 0.95},
			wantSource: clarify.SourceHuman,
			wantAsks:   1,
		},
		{
			name:       "mockups at threshold",
			avail:      clarify.Availability{HasCodebase: true, Indexed: true, HasMockups: true},
			codebase:   &clarify.Response{Summary: "unsure", Confidence: 0.65},
			mockups:    &clarify.Response{Summary: "login screen shows Face ID", Confidence: 0.60},
			wantSource: clarify.SourceMockups,
			wantMockup: 1,
		},
		{
			name:       "mockups below threshold",
			avail:      clarify.Availability{HasMockups: true},
			mockups:    &clarify.Response{Summary: "login screen", Confidence: 0.59},
			wantSource: clarify.SourceHuman,
			wantAsks:   1,
			wantMockup: 1,
		},
		{
			name:       "no sources",
			avail:      clarify.Availability{},
			wantSource: clarify.SourceHuman,
			wantAsks:   1,
		},
		{
			name:       "confidence above one is clamped",
			avail:      indexedCodebase,
			codebase:   &clarify.Response{Summary: "Keycloak", Confidence: 3},
			wantSource: clarify.SourceCodebase,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := &fakeResolver{avail: tt.avail, codebase: tt.codebase, mockups: tt.mockups}
			p := &fakePrompter{def: "Use Keycloak"}
			log, _ := newRecordingLogger()
			svc := service.NewClarifyService(res, p, clarifyConfig(), log)

			got, err := svc.Collect(context.Background(), service.ClarifyInput{
				RequestID: "r1",
				Questions: questions("Which identity provider?"),
			})
			if err != nil {
				t.Fatalf("Collect: %v", err)
			}
			if len(got) != 1 {
				t.Fatalf("answers = %d, want 1", len(got))
			}
			if got[0].Source != tt.wantSource {
				t.Errorf("source = %s, want %s", got[0].Source, tt.wantSource)
			}
			if got[0].Confidence < 0 || got[0].Confidence > 1 {
				t.Errorf("confidence %v outside [0,1]", got[0].Confidence)
			}
			if n := len(p.Asked()); n != tt.wantAsks {
				t.Errorf("prompts = %d, want %d", n, tt.wantAsks)
			}
			if res.mockupCalls != tt.wantMockup {
				t.Errorf("mockup queries = %d, want %d", res.mockupCalls, tt.wantMockup)
			}
		})
	}
}

func TestClarify_NoResolverGoesToHuman(t *testing.T) {
	p := &fakePrompter{def: "Admins only"}
	log, _ := newRecordingLogger()
	svc := service.NewClarifyService(nil, p, clarifyConfig(), log)

	got, err := svc.Collect(context.Background(), service.ClarifyInput{
		RequestID: "r1",
		Questions: questions("Who are the users?"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Source != clarify.SourceHuman || got[0].Answer != "Admins only" {
		t.Fatalf("answers = %+v", got)
	}
}

func TestClarify_ResolverErrorsAreSwallowed(t *testing.T) {
	res := &fakeResolver{
		avail:       clarify.Availability{HasCodebase: true, Indexed: true, HasMockups: true},
		codebaseErr: errors.New("index offline"),
		mockupsErr:  errors.New("timeout"),
	}
	p := &fakePrompter{def: "42"}
	log, rec := newRecordingLogger()
	svc := service.NewClarifyService(res, p, clarifyConfig(), log)

	got, err := svc.Collect(context.Background(), service.ClarifyInput{RequestID: "r1", Questions: questions("How many?")})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(got) != 1 || got[0].Source != clarify.SourceHuman {
		t.Fatalf("answers = %+v, want human fallback", got)
	}
	if len(rec.attrs("codebase query failed")) != 1 || len(rec.attrs("mockup query failed")) != 1 {
		t.Error("expected one warning per failed source")
	}

	res = &fakeResolver{availErr: errors.New("unreachable")}
	svc = service.NewClarifyService(res, p, clarifyConfig(), log)
	got, err = svc.Collect(context.Background(), service.ClarifyInput{RequestID: "r1", Questions: questions("How many?")})
	if err != nil || len(got) != 1 {
		t.Fatalf("availability failure: got %+v, %v", got, err)
	}
	if res.codebaseCalls+res.mockupCalls != 0 {
		t.Error("no queries expected when availability is unknown")
	}
}

func TestClarify_EmptyHumanAnswerIsDiscarded(t *testing.T) {
	p := &fakePrompter{def: "   "}
	log, _ := newRecordingLogger()
	sess := session.New("s1", time.Now())
	svc := service.NewClarifyService(nil, p, clarifyConfig(), log)

	got, err := svc.Collect(context.Background(), service.ClarifyInput{Questions: questions("Who?"), Memory: sess})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("answers = %+v, want none", got)
	}
	if _, ok := sess.Recall("Who?"); ok {
		t.Fatal("empty answer must not be stored")
	}
}

func TestClarify_NoPrompterLeavesQuestionOpen(t *testing.T) {
	log, rec := newRecordingLogger()
	svc := service.NewClarifyService(nil, nil, clarifyConfig(), log)

	got, err := svc.Collect(context.Background(), service.ClarifyInput{Questions: questions("Who?")})
	if err != nil || len(got) != 0 {
		t.Fatalf("got %+v, %v", got, err)
	}
	if len(rec.attrs("clarification left open")) != 1 {
		t.Error("expected an open-question log")
	}
}

func TestClarify_PreservesOrderAndDedupes(t *testing.T) {
	p := &fakePrompter{answers: map[string]string{
		"First?":  "one",
		"Second?": "two",
		"Third?":  "three",
	}}
	log, _ := newRecordingLogger()
	hub := &fakeBroadcaster{}
	svc := service.NewClarifyService(nil, p, clarifyConfig(), log)
	svc.SetBroadcaster(hub)

	got, err := svc.Collect(context.Background(), service.ClarifyInput{
		SessionID: "s1",
		Questions: questions("First?", "Second?", "first", "Third?"),
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"one", "two", "three"}
	if len(got) != len(want) {
		t.Fatalf("answers = %+v", got)
	}
	for i, a := range got {
		if a.Answer != want[i] {
			t.Errorf("answer[%d] = %q, want %q", i, a.Answer, want[i])
		}
	}
	if n := len(p.Asked()); n != 3 {
		t.Errorf("prompts = %d, want 3", n)
	}
	if n := len(hub.ofType(broadcast.EventClarification)); n != 3 {
		t.Errorf("events = %d, want 3", n)
	}
}

func TestClarify_MaxQuestions(t *testing.T) {
	p := &fakePrompter{def: "yes"}
	log, _ := newRecordingLogger()
	cfg := clarifyConfig()
	cfg.MaxQuestions = 2
	svc := service.NewClarifyService(nil, p, cfg, log)

	got, _ := svc.Collect(context.Background(), service.ClarifyInput{Questions: questions("A?", "B?", "C?")})
	if len(got) != 2 || len(p.Asked()) != 2 {
		t.Fatalf("answers = %d, prompts = %d, want 2 and 2", len(got), len(p.Asked()))
	}
}

func TestClarify_MemoryPreventsSecondPrompt(t *testing.T) {
	res := &fakeResolver{avail: indexedCodebase, codebase: &clarify.Response{Summary: "weak", Confidence: 0.3}}
	p := &fakePrompter{def: "Keycloak"}
	log, _ := newRecordingLogger()
	sess := session.New("s1", time.Now())
	svc := service.NewClarifyService(res, p, clarifyConfig(), log)
	in := service.ClarifyInput{RequestID: "r1", Questions: questions("Which IdP?"), Memory: sess}

	if _, err := svc.Collect(context.Background(), in); err != nil {
		t.Fatal(err)
	}
	got, err := svc.Collect(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Asked()) != 1 {
		t.Errorf("prompts = %d, want 1 across two passes", len(p.Asked()))
	}
	if len(got) != 1 || got[0].Source != clarify.SourceMemory || got[0].Answer != "Keycloak" {
		t.Errorf("second pass = %+v, want memory answer", got)
	}
}

func TestClarify_CancelledPrompt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &fakePrompter{def: "never"}
	log, _ := newRecordingLogger()
	svc := service.NewClarifyService(nil, p, clarifyConfig(), log)

	_, err := svc.Collect(ctx, service.ClarifyInput{Questions: questions("Who?")})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(p.Asked()) != 0 {
		t.Error("no prompt expected after cancellation")
	}
}
