// Package openai provides incident analysis via the OpenAI Responses API.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/erpops/incident-triage/internal/domain"
	"github.com/erpops/incident-triage/internal/enrichment"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL     = "https://api.openai.com/v1"
	defaultModel       = "gpt-4.1-mini"
	defaultHTTPTimeout = 10 * time.Second
	defaultTemperature = 0.2

	// maxResponseBytes caps how much of a response body is read.
	maxResponseBytes = 1 << 20

	schemaName = "incident_enrichment"
)

const instructions = `You are an ERP incident triage assistant.

Given an incident report, classify it into one of the allowed categories and
produce:
- a short, user-facing summary (1-3 sentences)
- a concrete suggested action (1-3 bullets or 1-2 sentences)

Be accurate, concise, and avoid fabricating details.
`

// Config holds OpenAI classifier configuration.
// An empty APIKey leaves the classifier inert.
type Config struct {
	APIKey            string
	Model             string
	BaseURL           string
	Timeout           time.Duration // HTTP client timeout
	RequestsPerSecond float64
	Burst             int
}

// Classifier implements enrichment.Analyzer over the Responses API.
type Classifier struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClassifier creates a classifier.
func NewClassifier(config Config) *Classifier {
	if config.Model == "" {
		config.Model = defaultModel
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Timeout == 0 {
		config.Timeout = defaultHTTPTimeout
	}

	limit := rate.Inf
	if config.RequestsPerSecond > 0 {
		limit = rate.Limit(config.RequestsPerSecond)
	}

	return &Classifier{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(limit, max(config.Burst, 1)),
	}
}

// Name returns the analyzer identifier.
func (c *Classifier) Name() string {
	return string(domain.EnrichmentSourceOpenAI)
}

// Enabled reports whether an API key is configured.
func (c *Classifier) Enabled() bool {
	return c.config.APIKey != ""
}

// Analyze asks the model to categorize and summarize the submission.
// Every failure wraps enrichment.ErrUnavailable.
func (c *Classifier) Analyze(ctx context.Context, sub domain.IncidentSubmission) (*enrichment.Analysis, error) {
	if !c.Enabled() {
		return nil, enrichment.ErrNotConfigured
	}
	if !c.limiter.Allow() {
		return nil, fmt.Errorf("%w: rate limited", enrichment.ErrUnavailable)
	}

	body, err := json.Marshal(c.buildRequest(sub))
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %w", enrichment.ErrUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/responses", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %w", enrichment.ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: send request: %w", enrichment.ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return c.handleResponse(resp)
}

func (c *Classifier) handleResponse(resp *http.Response) (*enrichment.Analysis, error) {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", enrichment.ErrUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr errorResponse
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("%w: status %d: %s", enrichment.ErrUnavailable, resp.StatusCode, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("%w: status %d", enrichment.ErrUnavailable, resp.StatusCode)
	}

	var parsed responsesResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", enrichment.ErrUnavailable, err)
	}

	text, err := parsed.outputText()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", enrichment.ErrUnavailable, err)
	}

	return parseAnalysis(text)
}

// parseAnalysis decodes the structured output. An unknown category rejects
// the whole payload.
func parseAnalysis(text string) (*enrichment.Analysis, error) {
	var out struct {
		Category        string `json:"category"`
		AutoSummary     string `json:"auto_summary"`
		SuggestedAction string `json:"suggested_action"`
	}
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, fmt.Errorf("%w: decode analysis: %w", enrichment.ErrUnavailable, err)
	}

	category, err := domain.ParseCategory(out.Category)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", enrichment.ErrUnavailable, err)
	}

	analysis := &enrichment.Analysis{
		Category:        category,
		AutoSummary:     strings.TrimSpace(out.AutoSummary),
		SuggestedAction: strings.TrimSpace(out.SuggestedAction),
	}
	if err := analysis.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", enrichment.ErrUnavailable, err)
	}
	return analysis, nil
}

func (c *Classifier) buildRequest(sub domain.IncidentSubmission) responsesRequest {
	return responsesRequest{
		Model:        c.config.Model,
		Instructions: instructions,
		Input:        inputText(sub),
		Temperature:  defaultTemperature,
		Text: textOptions{
			Format: textFormat{
				Type:        "json_schema",
				Name:        schemaName,
				Description: "Incident enrichment output",
				Strict:      true,
				Schema:      analysisSchema(),
			},
		},
	}
}

func inputText(sub domain.IncidentSubmission) string {
	return strings.Join([]string{
		"Title: " + sub.Title,
		"Description: " + sub.Description,
		"ERP module: " + string(sub.ERPModule),
		"Environment: " + string(sub.Environment),
		"Business unit: " + sub.BusinessUnit,
	}, "\n")
}

func analysisSchema() map[string]any {
	categories := domain.Categories()
	enum := make([]string, 0, len(categories))
	for _, c := range categories {
		enum = append(enum, string(c))
	}

	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"category":         map[string]any{"type": "string", "enum": enum},
			"auto_summary":     map[string]any{"type": "string", "minLength": 1},
			"suggested_action": map[string]any{"type": "string", "minLength": 1},
		},
		"required": []string{"category", "auto_summary", "suggested_action"},
	}
}

var _ enrichment.Analyzer = (*Classifier)(nil)
