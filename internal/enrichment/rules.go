package enrichment

import (
	"strings"

	"github.com/erpops/incident-triage/internal/domain"
	"golang.org/x/text/cases"
)

// Keyword sets are checked in order; the first matching rule wins.
var (
	criticalKeywords = []string{"down", "failed", "stuck", "error"}
	degradedKeywords = []string{"delay", "slow"}

	categoryRules = []struct {
		keywords []string
		category domain.Category
	}{
		{[]string{"permission", "access"}, domain.CategorySecurity},
		{[]string{"integration", "interface"}, domain.CategoryIntegration},
		{[]string{"data", "record"}, domain.CategoryData},
		{[]string{"config", "setup"}, domain.CategoryConfiguration},
	}
)

// DetermineSeverity derives the severity of an incident from its environment
// and description. Production incidents are always P1.
func DetermineSeverity(description string, env domain.Environment) domain.Severity {
	text := fold(description)

	if env == domain.EnvironmentProd || containsAny(text, criticalKeywords) {
		return domain.SeverityP1
	}
	if containsAny(text, degradedKeywords) {
		return domain.SeverityP2
	}
	return domain.SeverityP3
}

// DetermineCategory derives the category of an incident from its description.
func DetermineCategory(description string) domain.Category {
	text := fold(description)

	for _, rule := range categoryRules {
		if containsAny(text, rule.keywords) {
			return rule.category
		}
	}
	return domain.CategoryUnknown
}

// fold returns the Unicode case-folded form of s.
// A Caser keeps state, so a new one is created per call.
func fold(s string) string {
	return cases.Fold().String(s)
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
