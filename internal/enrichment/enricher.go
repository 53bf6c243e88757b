package enrichment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erpops/incident-triage/internal/domain"
	"github.com/erpops/incident-triage/internal/pkg/ctxlog"
)

// DefaultTimeout bounds a single external analysis call.
const DefaultTimeout = 5 * time.Second

// ErrNotConfigured is returned by analyzers that have no credentials.
// It wraps ErrUnavailable.
var ErrNotConfigured = fmt.Errorf("%w: not configured", ErrUnavailable)

// Enricher combines rule-based severity with external or rule-based analysis.
// Severity is always rule-derived. When the external analyzer succeeds its
// category, summary and action replace the rule-based ones entirely.
type Enricher struct {
	external Analyzer
	fallback Analyzer
	timeout  time.Duration
}

// NewEnricher creates an enricher. external may be nil, in which case every
// submission is analyzed by rules only.
func NewEnricher(external Analyzer, timeout time.Duration) *Enricher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Enricher{
		external: external,
		fallback: RuleAnalyzer{},
		timeout:  timeout,
	}
}

// Enrich triages a submission. It always returns a complete result.
func (e *Enricher) Enrich(ctx context.Context, sub domain.IncidentSubmission) domain.Enrichment {
	result := domain.Enrichment{
		Severity: DetermineSeverity(sub.Description, sub.Environment),
	}

	if analysis, ok := e.analyzeExternal(ctx, sub); ok {
		result.Category = analysis.Category
		result.AutoSummary = analysis.AutoSummary
		result.SuggestedAction = analysis.SuggestedAction
		result.Source = domain.EnrichmentSource(e.external.Name())
		return result
	}

	// RuleAnalyzer never fails.
	analysis, _ := e.fallback.Analyze(ctx, sub)
	result.Category = analysis.Category
	result.AutoSummary = analysis.AutoSummary
	result.SuggestedAction = analysis.SuggestedAction
	result.Source = domain.EnrichmentSourceRules
	return result
}

func (e *Enricher) analyzeExternal(ctx context.Context, sub domain.IncidentSubmission) (analysis *Analysis, ok bool) {
	if e.external == nil {
		recordEnrichment(string(domain.EnrichmentSourceRules), outcomeDisabled)
		return nil, false
	}

	logger := ctxlog.FromContext(ctx)
	name := e.external.Name()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic in external analyzer", "analyzer", name, "error", r)
			recordEnrichment(name, outcomeUnavailable)
			analysis, ok = nil, false
		}
	}()

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	analysis, err := e.external.Analyze(callCtx, sub)
	recordEnrichmentDuration(name, time.Since(start))

	if err == nil && analysis == nil {
		err = fmt.Errorf("%w: empty analysis", ErrUnavailable)
	}
	if err == nil {
		err = analysis.Validate()
	}

	switch {
	case err == nil:
		recordEnrichment(name, outcomeSuccess)
		return analysis, true
	case errors.Is(err, ErrNotConfigured):
		recordEnrichment(name, outcomeDisabled)
	default:
		logger.Warn("external analysis unavailable, using rules",
			"analyzer", name,
			"error", err,
		)
		recordEnrichment(name, outcomeUnavailable)
	}
	return nil, false
}
