// Package quality computes a deterministic, side-effect-free quality score for a
// generated document. Five dimensions are scored on a 0-100 scale and combined
// into a weighted composite.
package quality

import (
	"math"
	"regexp"
	"strings"
)

// Dimension weights. They sum to 1.0.
const (
	WeightCompleteness   = 0.20
	WeightSpecificity    = 0.25
	WeightTechnicalDepth = 0.25
	WeightClarity        = 0.15
	WeightActionability  = 0.15
)

// MaxScore is the upper bound of every dimension and of the composite.
const MaxScore = 100.0

// specificityCap is the number of concrete tokens that earns a full specificity score.
const specificityCap = 20

// vaguePenalty is deducted from clarity for each distinct vague term.
const vaguePenalty = 10.0

// Score is the five-dimension breakdown plus composite.
type Score struct {
	Completeness   float64 `json:"completeness"`
	Specificity    float64 `json:"specificity"`
	TechnicalDepth float64 `json:"technical_depth"`
	Clarity        float64 `json:"clarity"`
	Actionability  float64 `json:"actionability"`
	Composite      float64 `json:"composite"`
}

// Meets reports whether the composite reaches target.
func (s Score) Meets(target float64) bool { return s.Composite >= target }

// Composite returns the fixed weighted sum of the five dimensions.
func Composite(completeness, specificity, technicalDepth, clarity, actionability float64) float64 {
	return WeightCompleteness*completeness +
		WeightSpecificity*specificity +
		WeightTechnicalDepth*technicalDepth +
		WeightClarity*clarity +
		WeightActionability*actionability
}

// SectionChecklist is the structural checklist used for completeness.
// Each entry lists alternative spellings; any one of them counts.
var SectionChecklist = [][]string{
	{"overview", "summary"},
	{"problem statement", "problem"},
	{"goals", "objectives"},
	{"user stories", "user story"},
	{"requirements"},
	{"acceptance criteria"},
	{"technical", "architecture"},
	{"success metrics", "kpi"},
	{"timeline", "milestones"},
	{"risks", "risk"},
}

// TechnicalVocabulary is the fixed vocabulary used for technical depth.
var TechnicalVocabulary = []string{
	"api", "endpoint", "database", "schema", "latency", "throughput",
	"authentication", "authorization", "encryption", "cache",
	"migration", "monitoring", "logging", "rate limit", "timeout",
	"retry", "idempotent", "concurrency", "deployment", "backward compatib",
}

// VagueTerms is the fixed list of terms that reduce clarity.
var VagueTerms = []string{
	"fast", "easy", "simple", "intuitive", "user-friendly", "seamless",
	"efficient", "flexible", "robust", "etc", "various", "appropriate",
	"as needed", "quickly", "some",
}

// ActionIndicators is the fixed set of obligation and action indicators.
var ActionIndicators = []string{
	"must", "shall", "will", "should", "given", "when", "then",
	"verify", "implement", "- [ ]",
}

var (
	numberRe   = regexp.MustCompile(`\b\d+(?:\.\d+)?\b`)
	percentRe  = regexp.MustCompile(`\d+(?:\.\d+)?\s?%`)
	durationRe = regexp.MustCompile(`(?i)\b\d+(?:\.\d+)?\s?(?:ms|milliseconds?|s|secs?|seconds?|mins?|minutes?|h|hrs?|hours?|days?|weeks?|months?)\b`)
	isoDateRe  = regexp.MustCompile(`\b\d{4}-(?:0[1-9]|1[0-2])-(?:0[1-9]|[12]\d|3[01])\b`)

	vagueRes  = compileWords(VagueTerms)
	actionRes = compileWords(ActionIndicators)
	techRes   = compileStems(TechnicalVocabulary)
)

// Evaluate scores text. It is a pure function: identical input always yields
// an identical Score.
func Evaluate(text string) Score {
	lower := strings.ToLower(text)

	s := Score{
		Completeness:   completeness(lower),
		Specificity:    specificity(text),
		TechnicalDepth: fraction(countMatches(techRes, lower), len(techRes)),
		Clarity:        clarity(lower),
		Actionability:  fraction(countMatches(actionRes, lower), len(actionRes)),
	}
	s.Composite = round2(Composite(s.Completeness, s.Specificity, s.TechnicalDepth, s.Clarity, s.Actionability))
	return s
}

func completeness(lower string) float64 {
	present := 0
	for _, alts := range SectionChecklist {
		for _, a := range alts {
			if strings.Contains(lower, a) {
				present++
				break
			}
		}
	}
	return fraction(present, len(SectionChecklist))
}

func specificity(text string) float64 {
	n := len(numberRe.FindAllStringIndex(text, -1)) +
		len(percentRe.FindAllStringIndex(text, -1)) +
		len(durationRe.FindAllStringIndex(text, -1)) +
		len(isoDateRe.FindAllStringIndex(text, -1))
	if n > specificityCap {
		n = specificityCap
	}
	return fraction(n, specificityCap)
}

func clarity(lower string) float64 {
	found := countMatches(vagueRes, lower)
	return math.Max(0, MaxScore-vaguePenalty*float64(found))
}

// VagueTermsIn returns the distinct vague terms present in text, in list order.
func VagueTermsIn(text string) []string {
	lower := strings.ToLower(text)
	var out []string
	for i, re := range vagueRes {
		if re.MatchString(lower) {
			out = append(out, VagueTerms[i])
		}
	}
	return out
}

func countMatches(res []*regexp.Regexp, lower string) int {
	n := 0
	for _, re := range res {
		if re.MatchString(lower) {
			n++
		}
	}
	return n
}

func fraction(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return round2(MaxScore * float64(n) / float64(total))
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

// compileWords matches each term as a whole word or phrase.
func compileWords(terms []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(terms))
	for i, t := range terms {
		out[i] = regexp.MustCompile(`(?:^|[^a-z0-9])` + regexp.QuoteMeta(t) + `(?:$|[^a-z0-9])`)
	}
	return out
}

// compileStems matches each term at a word start; the term may continue into a longer word.
func compileStems(terms []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(terms))
	for i, t := range terms {
		out[i] = regexp.MustCompile(`(?:^|[^a-z0-9])` + regexp.QuoteMeta(t))
	}
	return out
}
