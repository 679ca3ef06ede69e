package generation

import (
	"regexp"
	"strings"

	"github.com/Strob0t/prdforge/internal/domain/validation"
)

// Domain is the product area of a session.
type Domain string

const (
	DomainGeneral        Domain = "general"
	DomainFintech        Domain = "fintech"
	DomainHealthcare     Domain = "healthcare"
	DomainEcommerce      Domain = "ecommerce"
	DomainEducation      Domain = "education"
	DomainDeveloperTools Domain = "developer_tools"
)

// DomainRules is the ordered product-domain table.
var DomainRules = validation.NewTable(DomainGeneral,
	validation.Rule[Domain]{Keywords: []string{"payment*", "bank*", "ledger", "invoice*", "kyc", "wallet*"}, Result: DomainFintech},
	validation.Rule[Domain]{Keywords: []string{"patient*", "clinic*", "hipaa", "medical", "health record*"}, Result: DomainHealthcare},
	validation.Rule[Domain]{Keywords: []string{"checkout", "cart", "shopper*", "catalog*", "order history", "fulfillment"}, Result: DomainEcommerce},
	validation.Rule[Domain]{Keywords: []string{"student*", "course*", "lesson*", "teacher*", "classroom"}, Result: DomainEducation},
	validation.Rule[Domain]{Keywords: []string{"developer*", "cli", "ide", "compiler", "linter", "api client"}, Result: DomainDeveloperTools},
)

// DetectDomain classifies the product domain of a request.
func DetectDomain(r Request) Domain {
	texts := append([]string{r.Feature, r.Context}, r.Requirements...)
	return DomainRules.Classify(texts...)
}

var (
	definitionRe = regexp.MustCompile(`^\s*[-*]?\s*([A-Za-z][A-Za-z0-9 /+-]{1,40}?)\s*:\s+(.{3,200})$`)
	acronymRe    = regexp.MustCompile(`\b[A-Z][A-Z0-9]{1,7}[0-9]?\b`)
)

// ExtractGlossary returns terms found in text: "Term: definition" lines map a
// term to its definition, and bare acronyms map to an empty definition.
func ExtractGlossary(text string) map[string]string {
	out := make(map[string]string)
	for _, line := range strings.Split(text, "\n") {
		if m := definitionRe.FindStringSubmatch(line); m != nil {
			out[strings.TrimSpace(m[1])] = strings.TrimSpace(m[2])
			continue
		}
		for _, a := range acronymRe.FindAllString(line, -1) {
			if _, ok := out[a]; !ok {
				out[a] = ""
			}
		}
	}
	return out
}
