// Package validation classifies a request into a scope and checks a generated
// document against scope-aware rules.
package validation

import (
	"regexp"
	"strings"
)

// Scope is the coarse classification of a request.
type Scope string

const (
	ScopeMigration    Scope = "migration"
	ScopeFeature      Scope = "feature"
	ScopePlatform     Scope = "platform"
	ScopeBugfix       Scope = "bugfix"
	ScopeOptimization Scope = "optimization"
)

// Rule maps a keyword group to a result tag. A keyword ending in "*" matches
// any word starting with the prefix; otherwise the keyword must match whole words.
type Rule[T any] struct {
	Keywords []string
	Result   T
}

// Table is an ordered list of rules. The first rule with a keyword hit wins.
type Table[T any] struct {
	rules    []Rule[T]
	patterns [][]*regexp.Regexp
	fallback T
}

// NewTable compiles rules into a Table with the given fallback result.
func NewTable[T any](fallback T, rules ...Rule[T]) *Table[T] {
	t := &Table[T]{rules: rules, fallback: fallback, patterns: make([][]*regexp.Regexp, len(rules))}
	for i, r := range rules {
		for _, kw := range r.Keywords {
			t.patterns[i] = append(t.patterns[i], keywordPattern(kw))
		}
	}
	return t
}

// Classify evaluates the table against texts and returns the first matching result.
func (t *Table[T]) Classify(texts ...string) T {
	joined := strings.ToLower(strings.Join(texts, "\n"))
	for i := range t.rules {
		for _, re := range t.patterns[i] {
			if re.MatchString(joined) {
				return t.rules[i].Result
			}
		}
	}
	return t.fallback
}

func keywordPattern(kw string) *regexp.Regexp {
	kw = strings.ToLower(kw)
	if prefix, ok := strings.CutSuffix(kw, "*"); ok {
		return regexp.MustCompile(`(?:^|[^a-z0-9])` + regexp.QuoteMeta(prefix))
	}
	return regexp.MustCompile(`(?:^|[^a-z0-9])` + regexp.QuoteMeta(kw) + `(?:$|[^a-z0-9])`)
}

// ScopeRules is the ordered scope table. Requests matching nothing are features.
var ScopeRules = NewTable(ScopeFeature,
	Rule[Scope]{Keywords: []string{"migrat*", "upgrade to", "port to", "move from", "replatform*", "sunset*"}, Result: ScopeMigration},
	Rule[Scope]{Keywords: []string{"bug*", "fix", "fixes", "crash*", "regression*", "broken", "hotfix", "defect*"}, Result: ScopeBugfix},
	Rule[Scope]{Keywords: []string{"optimiz*", "performance", "speed up", "faster", "slow*", "memory usage", "reduce latency"}, Result: ScopeOptimization},
	Rule[Scope]{Keywords: []string{"infrastructure", "platform team", "sdk", "developer platform", "ci/cd", "build system", "kubernetes"}, Result: ScopePlatform},
)

// DetectScope classifies a request from its feature text, context and requirements.
func DetectScope(feature, context string, requirements []string) Scope {
	texts := append([]string{feature, context}, requirements...)
	return ScopeRules.Classify(texts...)
}
