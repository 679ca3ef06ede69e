package quality

import (
	"math"
	"strings"
	"testing"
)

const fullDoc = `# Overview
Problem statement: checkout latency is too high.

## Goals
- Reduce p95 latency to 200 ms by 2026-03-01.

## User Stories
As a shopper I want to pay in under 3 seconds.

## Requirements
The API must cache the payment schema. Authentication uses OAuth2.

## Acceptance Criteria
- [ ] Given a cached token, when the user pays, then the endpoint responds within 150 ms.

## Technical Design
Database migration adds an idempotent retry table. Monitoring and logging via OTLP.

## Success Metrics
Conversion up 5%.

## Timeline
4 weeks.

## Risks
Rate limit from the processor.
`

func TestEvaluateIsDeterministic(t *testing.T) {
	a := Evaluate(fullDoc)
	b := Evaluate(fullDoc)
	if a != b {
		t.Fatalf("Evaluate not deterministic: %+v vs %+v", a, b)
	}
}

func TestCompositeIsWeightedSum(t *testing.T) {
	for _, text := range []string{"", "fast and easy", fullDoc, strings.Repeat("must 10% ", 40)} {
		s := Evaluate(text)
		want := Composite(s.Completeness, s.Specificity, s.TechnicalDepth, s.Clarity, s.Actionability)
		if math.Abs(s.Composite-want) > 0.01 {
			t.Errorf("composite %v != weighted sum %v for %q", s.Composite, want, text)
		}
	}
}

func TestWeightsSumToOne(t *testing.T) {
	sum := WeightCompleteness + WeightSpecificity + WeightTechnicalDepth + WeightClarity + WeightActionability
	if math.Abs(sum-1.0) > 1e-9 {
		t.Fatalf("weights sum to %v", sum)
	}
}

func TestCompleteness(t *testing.T) {
	if got := Evaluate("nothing relevant here at all").Completeness; got != 0 {
		t.Errorf("completeness = %v, want 0", got)
	}

	var b strings.Builder
	for _, alts := range SectionChecklist {
		b.WriteString("## " + alts[0] + "\n")
	}
	if got := Evaluate(b.String()).Completeness; got != 100 {
		t.Errorf("completeness = %v, want 100", got)
	}
}

func TestSpecificity(t *testing.T) {
	tests := []struct {
		name string
		text string
		want float64
	}{
		{"none", "no numbers", 0},
		{"one number", "retry 3 times", 5},
		{"percentage counts twice", "99.9%", 10},
		{"duration", "within 200 ms", 10},
		{"capped", strings.Repeat("7 ", 50), 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Evaluate(tt.text).Specificity; got != tt.want {
				t.Errorf("specificity = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClarity(t *testing.T) {
	tests := []struct {
		text string
		want float64
	}{
		{"precise text", 100},
		{"fast", 90},
		{"fast fast fast", 90},
		{"fast, easy and seamless", 70},
		{"breakfast", 100},
	}
	for _, tt := range tests {
		if got := Evaluate(tt.text).Clarity; got != tt.want {
			t.Errorf("clarity(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}

	all := strings.Join(VagueTerms, " ")
	if got := Evaluate(all).Clarity; got != 0 {
		t.Errorf("clarity floor = %v, want 0", got)
	}
}

func TestTechnicalDepthAndActionability(t *testing.T) {
	s := Evaluate(strings.Join(TechnicalVocabulary, " ") + " " + strings.Join(ActionIndicators, " "))
	if s.TechnicalDepth != 100 {
		t.Errorf("technical depth = %v, want 100", s.TechnicalDepth)
	}
	if s.Actionability != 100 {
		t.Errorf("actionability = %v, want 100", s.Actionability)
	}
}

func TestVagueTermsIn(t *testing.T) {
	got := VagueTermsIn("It should be Easy and FAST.")
	if len(got) != 2 || got[0] != "fast" || got[1] != "easy" {
		t.Fatalf("VagueTermsIn = %v, want [fast easy]", got)
	}
}

func TestMeets(t *testing.T) {
	if !(Score{Composite: 85}).Meets(85) {
		t.Fatal("85 should meet target 85")
	}
	if (Score{Composite: 84.99}).Meets(85) {
		t.Fatal("84.99 should not meet target 85")
	}
}
