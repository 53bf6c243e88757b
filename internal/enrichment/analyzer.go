// Package enrichment derives severity, category, summary and suggested action
// for incident submissions.
package enrichment

import (
	"context"
	"errors"
	"fmt"

	"github.com/erpops/incident-triage/internal/domain"
)

// ErrUnavailable reports that an analyzer could not produce a result.
// The Enricher absorbs it and falls back to rule-based analysis.
var ErrUnavailable = errors.New("analyzer unavailable")

// Fallback texts used when no external analysis is available.
const (
	fallbackSummaryFormat   = "Issue reported in %s module affecting %s"
	fallbackSuggestedAction = "Review recent changes and validate system logs."
)

// Analysis is the category, summary and suggested action produced for a submission.
type Analysis struct {
	Category        domain.Category
	AutoSummary     string
	SuggestedAction string
}

// Validate checks that the analysis can be used as-is.
func (a *Analysis) Validate() error {
	if !a.Category.IsValid() {
		return fmt.Errorf("%w: %q", domain.ErrUnknownCategory, a.Category)
	}
	if a.AutoSummary == "" {
		return errors.New("empty auto_summary")
	}
	if a.SuggestedAction == "" {
		return errors.New("empty suggested_action")
	}
	return nil
}

// Analyzer produces an Analysis for a submission.
type Analyzer interface {
	Analyze(ctx context.Context, sub domain.IncidentSubmission) (*Analysis, error)
	// Name returns the analyzer identifier used in logs and metrics.
	Name() string
}

// RuleAnalyzer is the deterministic Analyzer backed by keyword rules.
// It never fails.
type RuleAnalyzer struct{}

// Name returns the analyzer identifier.
func (RuleAnalyzer) Name() string { return string(domain.EnrichmentSourceRules) }

// Analyze classifies the submission with keyword rules and fills templated texts.
func (RuleAnalyzer) Analyze(_ context.Context, sub domain.IncidentSubmission) (*Analysis, error) {
	return &Analysis{
		Category:        DetermineCategory(sub.Description),
		AutoSummary:     fmt.Sprintf(fallbackSummaryFormat, sub.ERPModule, sub.BusinessUnit),
		SuggestedAction: fallbackSuggestedAction,
	}, nil
}

var _ Analyzer = RuleAnalyzer{}
