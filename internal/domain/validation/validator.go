package validation

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/Strob0t/prdforge/internal/domain/quality"
)

// ListKind names the report list a rule appends to.
type ListKind int

const (
	ListGaps ListKind = iota
	ListQuestions
	ListIssues
	ListSuggestions
)

// Report is the output of Validate. Each list is independent.
type Report struct {
	Scope       Scope    `json:"scope"`
	Gaps        []string `json:"critical_gaps"`
	Questions   []string `json:"clarifying_questions"`
	Issues      []string `json:"specific_issues"`
	Suggestions []string `json:"refinement_suggestions"`
}

// IsProductionReady reports whether the document has no gaps and no issues.
func (r Report) IsProductionReady() bool {
	return len(r.Gaps) == 0 && len(r.Issues) == 0
}

// Document is the text under validation with precomputed lowercase and lines.
type Document struct {
	Text  string
	Lower string
	Lines []string
}

func newDocument(text string) Document {
	return Document{Text: text, Lower: strings.ToLower(text), Lines: strings.Split(text, "\n")}
}

// Has reports whether any of terms occurs in the document, case-insensitively.
func (d Document) Has(terms ...string) bool {
	for _, t := range terms {
		if strings.Contains(d.Lower, t) {
			return true
		}
	}
	return false
}

// Check inspects a document and returns zero or more findings.
type Check func(d Document) []string

// Criterion appends the findings of Check to exactly one list. Scopes
// restricts the rule to the listed scopes; an empty list applies everywhere.
type Criterion struct {
	Name   string
	List   ListKind
	Scopes []Scope
	Check  Check
}

func (r Criterion) applies(s Scope) bool {
	return len(r.Scopes) == 0 || slices.Contains(r.Scopes, s)
}

// Validator runs every rule against a document. It holds no mutable state.
type Validator struct {
	rules []Criterion
}

// NewValidator returns a Validator using DefaultRules followed by extra.
func NewValidator(extra ...Criterion) *Validator {
	rules := make([]Criterion, 0, len(DefaultRules)+len(extra))
	rules = append(rules, DefaultRules...)
	rules = append(rules, extra...)
	return &Validator{rules: rules}
}

// Validate runs all applicable rules; no rule short-circuits another.
func (v *Validator) Validate(text string, scope Scope) Report {
	doc := newDocument(text)
	rep := Report{Scope: scope}
	for _, r := range v.rules {
		if !r.applies(scope) {
			continue
		}
		findings := r.Check(doc)
		switch r.List {
		case ListGaps:
			rep.Gaps = append(rep.Gaps, findings...)
		case ListQuestions:
			rep.Questions = append(rep.Questions, findings...)
		case ListIssues:
			rep.Issues = append(rep.Issues, findings...)
		case ListSuggestions:
			rep.Suggestions = append(rep.Suggestions, findings...)
		}
	}
	return rep
}

// missing returns a check that reports msg when none of terms is present.
func missing(msg string, terms ...string) Check {
	return func(d Document) []string {
		if d.Has(terms...) {
			return nil
		}
		return []string{msg}
	}
}

// BuildTool describes a build or run command that must name its target device.
type BuildTool struct {
	Command     string
	DeviceFlags []string
}

// BuildTools lists commands whose invocations need a target-device flag.
var BuildTools = []BuildTool{
	{Command: "xcodebuild", DeviceFlags: []string{"-destination"}},
	{Command: "flutter run", DeviceFlags: []string{"-d ", "--device-id"}},
	{Command: "react-native run-ios", DeviceFlags: []string{"--simulator", "--device", "--udid"}},
	{Command: "react-native run-android", DeviceFlags: []string{"--deviceid", "--device"}},
	{Command: "simctl boot", DeviceFlags: []string{"booted", "udid"}},
}

func checkBuildToolFlags(d Document) []string {
	var out []string
	for _, line := range d.Lines {
		lower := strings.ToLower(line)
		for _, bt := range BuildTools {
			if !strings.Contains(lower, bt.Command) {
				continue
			}
			if slices.ContainsFunc(bt.DeviceFlags, func(f string) bool { return strings.Contains(lower, f) }) {
				continue
			}
			flags := make([]string, len(bt.DeviceFlags))
			for i, f := range bt.DeviceFlags {
				flags[i] = strings.TrimSpace(f)
			}
			out = append(out, fmt.Sprintf("`%s` invocation is missing a target-device flag (%s): %s",
				bt.Command, strings.Join(flags, " or "), strings.TrimSpace(line)))
		}
	}
	return out
}

var placeholderRe = regexp.MustCompile(`(?i)\b(tbd|todo|xxx|fixme|lorem ipsum)\b`)

func checkPlaceholders(d Document) []string {
	found := placeholderRe.FindAllString(d.Text, -1)
	if len(found) == 0 {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, f := range found {
		key := strings.ToUpper(f)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, fmt.Sprintf("placeholder %q left in document", key))
	}
	return out
}

func checkVagueTerms(d Document) []string {
	terms := quality.VagueTermsIn(d.Text)
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		out = append(out, fmt.Sprintf("vague term %q should be replaced with a measurable statement", t))
	}
	return out
}

var numberRe = regexp.MustCompile(`\d`)

func checkUnmeasuredPerformance(d Document) []string {
	for _, line := range d.Lines {
		lower := strings.ToLower(line)
		if (strings.Contains(lower, "performance") || strings.Contains(lower, "latency")) && !numberRe.MatchString(line) {
			return []string{"performance statement without a measurable target: " + strings.TrimSpace(line)}
		}
	}
	return nil
}

func checkSpecificity(d Document) []string {
	if quality.Evaluate(d.Text).Specificity >= 50 {
		return nil
	}
	return []string{"add concrete numbers: limits, percentages, durations and dates"}
}

// DefaultRules is the fixed rule set. Every rule runs on every call.
var DefaultRules = []Criterion{
	// Critical gaps.
	{Name: "requirements", List: ListGaps, Check: missing("no requirements section", "requirements")},
	{Name: "acceptance", List: ListGaps, Check: missing("no acceptance criteria", "acceptance criteria")},
	{Name: "build-tool-device", List: ListGaps, Check: checkBuildToolFlags},
	{Name: "rollback", List: ListGaps, Scopes: []Scope{ScopeMigration}, Check: missing("migration has no rollback plan", "rollback", "roll back")},
	{Name: "data-migration", List: ListGaps, Scopes: []Scope{ScopeMigration}, Check: missing("migration does not describe data migration or backfill", "data migration", "backfill")},
	{Name: "repro", List: ListGaps, Scopes: []Scope{ScopeBugfix}, Check: missing("bugfix has no reproduction steps", "steps to reproduce", "reproduction", "repro")},
	{Name: "root-cause", List: ListGaps, Scopes: []Scope{ScopeBugfix}, Check: missing("bugfix has no root cause analysis", "root cause")},
	{Name: "baseline", List: ListGaps, Scopes: []Scope{ScopeOptimization}, Check: missing("optimization has no baseline measurement", "baseline", "current")},
	{Name: "compat", List: ListGaps, Scopes: []Scope{ScopePlatform}, Check: missing("platform change has no compatibility or versioning policy", "compatib", "versioning")},

	// Clarifying questions.
	{Name: "users", List: ListQuestions, Check: missing("Who are the primary users of this feature?", "user", "persona", "customer")},
	{Name: "timeline", List: ListQuestions, Check: missing("What is the target delivery timeline?", "timeline", "milestone", "deadline")},
	{Name: "errors", List: ListQuestions, Check: missing("How should errors and failure cases be handled?", "error", "failure")},
	{Name: "cutover", List: ListQuestions, Scopes: []Scope{ScopeMigration}, Check: missing("What is the cutover strategy and acceptable downtime?", "cutover", "downtime")},
	{Name: "affected", List: ListQuestions, Scopes: []Scope{ScopeBugfix}, Check: missing("Which versions and platforms are affected?", "affected", "version")},
	{Name: "target-metric", List: ListQuestions, Scopes: []Scope{ScopeOptimization}, Check: missing("What is the target value for the optimized metric?", "target")},
	{Name: "consumers", List: ListQuestions, Scopes: []Scope{ScopePlatform}, Check: missing("Which teams or services consume this platform capability?", "consumer", "team")},

	// Specific issues.
	{Name: "placeholders", List: ListIssues, Check: checkPlaceholders},
	{Name: "vague", List: ListIssues, Check: checkVagueTerms},
	{Name: "unmeasured-performance", List: ListIssues, Check: checkUnmeasuredPerformance},

	// Refinement suggestions.
	{Name: "specificity", List: ListSuggestions, Check: checkSpecificity},
	{Name: "non-goals", List: ListSuggestions, Check: missing("add an out-of-scope / non-goals section", "out of scope", "non-goals", "non goals")},
	{Name: "observability", List: ListSuggestions, Check: missing("describe monitoring and alerting for the change", "monitoring", "observability", "alert")},
	{Name: "security", List: ListSuggestions, Check: missing("add security and privacy considerations", "security", "privacy")},
}
