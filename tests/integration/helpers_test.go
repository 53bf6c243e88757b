//go:build integration

package integration

import (
	"context"
	"net/http"
	"testing"

	"github.com/erpops/incident-triage/internal/domain"
	"github.com/erpops/incident-triage/internal/testutil"
	"github.com/stretchr/testify/require"
)

type incidentResponse struct {
	Data domain.Incident `json:"data"`
}

type incidentListResponse struct {
	Data []domain.Incident `json:"data"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func submission(title, description, module, env, unit string) map[string]any {
	return map[string]any{
		"title":         title,
		"description":   description,
		"erp_module":    module,
		"environment":   env,
		"business_unit": unit,
	}
}

// createIncident submits an incident and returns the stored record.
func createIncident(t *testing.T, client *testutil.Client, payload map[string]any) domain.Incident {
	t.Helper()

	resp, err := client.POST("/api/v1/incidents", payload)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var result incidentResponse
	testutil.DecodeJSON(t, resp, &result)
	return result.Data
}

// truncateIncidents empties the incidents table.
func truncateIncidents(t *testing.T) {
	t.Helper()
	_, err := testDB.Exec(context.Background(), "TRUNCATE incidents")
	require.NoError(t, err)
}
