package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/erpops/incident-triage/internal/domain"
	"github.com/erpops/incident-triage/internal/enrichment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSubmission = domain.IncidentSubmission{
	Title:        "Invoice posting fails",
	Description:  "Interface to bank rejects AP invoices since this morning",
	ERPModule:    domain.ERPModuleAP,
	Environment:  domain.EnvironmentTest,
	BusinessUnit: "Finance EMEA",
}

func completedResponse(t *testing.T, text string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"status": "completed",
		"output": []any{
			map[string]any{"type": "reasoning"},
			map[string]any{
				"type": "message",
				"content": []any{
					map[string]any{"type": "output_text", "text": text},
				},
			},
		},
	})
	require.NoError(t, err)
	return body
}

func newTestServer(t *testing.T, status int, body []byte) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write(body)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestNewClassifier_Defaults(t *testing.T) {
	c := NewClassifier(Config{BaseURL: "http://localhost/v1/"})

	assert.Equal(t, defaultModel, c.config.Model)
	assert.Equal(t, "http://localhost/v1", c.config.BaseURL)
	assert.Equal(t, defaultHTTPTimeout, c.config.Timeout)
	assert.Equal(t, "openai", c.Name())
	assert.False(t, c.Enabled())
}

func TestClassifier_Analyze_NotConfigured(t *testing.T) {
	c := NewClassifier(Config{})

	analysis, err := c.Analyze(context.Background(), testSubmission)

	assert.Nil(t, analysis)
	assert.ErrorIs(t, err, enrichment.ErrNotConfigured)
	assert.ErrorIs(t, err, enrichment.ErrUnavailable)
}

func TestClassifier_Analyze_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/responses", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req responsesRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4.1-mini", req.Model)
		assert.InDelta(t, 0.2, req.Temperature, 1e-9)
		assert.Equal(t, "json_schema", req.Text.Format.Type)
		assert.Equal(t, "incident_enrichment", req.Text.Format.Name)
		assert.True(t, req.Text.Format.Strict)
		assert.Contains(t, req.Input, "Title: Invoice posting fails")
		assert.Contains(t, req.Input, "ERP module: AP")
		assert.Contains(t, req.Input, "Business unit: Finance EMEA")

		_, _ = w.Write(completedResponse(t,
			`{"category":"INTEGRATION_FAILURE","auto_summary":"Bank interface rejects invoices.","suggested_action":"Check the bank connector credentials."}`))
	}))
	defer server.Close()

	c := NewClassifier(Config{APIKey: "sk-test", BaseURL: server.URL + "/v1"})

	analysis, err := c.Analyze(context.Background(), testSubmission)
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryIntegration, analysis.Category)
	assert.Equal(t, "Bank interface rejects invoices.", analysis.AutoSummary)
	assert.Equal(t, "Check the bank connector credentials.", analysis.SuggestedAction)
}

func TestClassifier_Analyze_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   func(t *testing.T) []byte
	}{
		{"server error", http.StatusInternalServerError, func(*testing.T) []byte {
			return []byte(`{"error":{"message":"boom","type":"server_error"}}`)
		}},
		{"unauthorized", http.StatusUnauthorized, func(*testing.T) []byte { return nil }},
		{"not json", http.StatusOK, func(*testing.T) []byte { return []byte("<html>") }},
		{"incomplete", http.StatusOK, func(*testing.T) []byte {
			return []byte(`{"status":"incomplete","output":[]}`)
		}},
		{"no output", http.StatusOK, func(*testing.T) []byte {
			return []byte(`{"status":"completed","output":[]}`)
		}},
		{"refusal", http.StatusOK, func(*testing.T) []byte {
			return []byte(`{"status":"completed","output":[{"type":"message","content":[{"type":"refusal","refusal":"no"}]}]}`)
		}},
		{"output not json", http.StatusOK, func(t *testing.T) []byte {
			return completedResponse(t, "category: DATA_ISSUE")
		}},
		{"unknown category", http.StatusOK, func(t *testing.T) []byte {
			return completedResponse(t, `{"category":"NETWORK","auto_summary":"s","suggested_action":"a"}`)
		}},
		{"empty summary", http.StatusOK, func(t *testing.T) []byte {
			return completedResponse(t, `{"category":"DATA_ISSUE","auto_summary":"  ","suggested_action":"a"}`)
		}},
		{"missing action", http.StatusOK, func(t *testing.T) []byte {
			return completedResponse(t, `{"category":"DATA_ISSUE","auto_summary":"s"}`)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newTestServer(t, tt.status, tt.body(t))
			c := NewClassifier(Config{APIKey: "sk-test", BaseURL: server.URL})

			analysis, err := c.Analyze(context.Background(), testSubmission)

			assert.Nil(t, analysis)
			assert.ErrorIs(t, err, enrichment.ErrUnavailable)
			assert.NotErrorIs(t, err, enrichment.ErrNotConfigured)
		})
	}
}

func TestClassifier_Analyze_ContextDeadline(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	c := NewClassifier(Config{APIKey: "sk-test", BaseURL: server.URL})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Analyze(ctx, testSubmission)

	assert.ErrorIs(t, err, enrichment.ErrUnavailable)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestClassifier_Analyze_RateLimited(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		_, _ = w.Write(completedResponse(t,
			`{"category":"DATA_ISSUE","auto_summary":"s","suggested_action":"a"}`))
	}))
	defer server.Close()

	c := NewClassifier(Config{
		APIKey:            "sk-test",
		BaseURL:           server.URL,
		RequestsPerSecond: 0.001,
		Burst:             1,
	})

	_, err := c.Analyze(context.Background(), testSubmission)
	require.NoError(t, err)

	_, err = c.Analyze(context.Background(), testSubmission)
	assert.ErrorIs(t, err, enrichment.ErrUnavailable)
	assert.Equal(t, 1, calls)
}

func TestAnalysisSchema_ListsAllCategories(t *testing.T) {
	schema := analysisSchema()
	props := schema["properties"].(map[string]any)
	category := props["category"].(map[string]any)

	enum := category["enum"].([]string)
	require.Len(t, enum, len(domain.Categories()))
	for _, c := range domain.Categories() {
		assert.Contains(t, enum, string(c), fmt.Sprintf("category %s", c))
	}
}
