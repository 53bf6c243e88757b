// Package domain contains the core types of the incident triage service.
package domain

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

// Submission length limits, in characters. Maximums match the column sizes.
const (
	MinTitleLength        = 5
	MaxTitleLength        = 255
	MinDescriptionLength  = 10
	MaxBusinessUnitLength = 100
)

// ERPModule identifies the ERP area an incident was reported against.
type ERPModule string

// ERP modules.
const (
	ERPModuleAP        ERPModule = "AP"
	ERPModuleAR        ERPModule = "AR"
	ERPModuleGL        ERPModule = "GL"
	ERPModuleInventory ERPModule = "INVENTORY"
	ERPModuleHR        ERPModule = "HR"
	ERPModulePayroll   ERPModule = "PAYROLL"
)

// IsValid checks if the module is one of the supported ERP modules.
func (m ERPModule) IsValid() bool {
	switch m {
	case ERPModuleAP, ERPModuleAR, ERPModuleGL,
		ERPModuleInventory, ERPModuleHR, ERPModulePayroll:
		return true
	}
	return false
}

// Environment is the deployment environment an incident occurred in.
type Environment string

// Environments.
const (
	EnvironmentProd Environment = "PROD"
	EnvironmentTest Environment = "TEST"
)

// IsValid checks if the environment is valid.
func (e Environment) IsValid() bool {
	return e == EnvironmentProd || e == EnvironmentTest
}

// Severity represents how urgent an incident is. P1 is the most urgent.
type Severity string

// Severity levels.
const (
	SeverityP1 Severity = "P1"
	SeverityP2 Severity = "P2"
	SeverityP3 Severity = "P3"
)

// IsValid checks if the severity is valid.
func (s Severity) IsValid() bool {
	return s == SeverityP1 || s == SeverityP2 || s == SeverityP3
}

// Rank returns the urgency order of the severity, 1 being the most urgent.
// Unknown values rank after every valid severity.
func (s Severity) Rank() int {
	switch s {
	case SeverityP1:
		return 1
	case SeverityP2:
		return 2
	case SeverityP3:
		return 3
	}
	return 4
}

// Category is the high-level class of an incident.
type Category string

// Categories.
const (
	CategoryConfiguration Category = "CONFIGURATION_ISSUE"
	CategoryData          Category = "DATA_ISSUE"
	CategoryIntegration   Category = "INTEGRATION_FAILURE"
	CategorySecurity      Category = "SECURITY_ACCESS"
	CategoryUnknown       Category = "UNKNOWN"
)

// Categories returns all categories in declaration order.
func Categories() []Category {
	return []Category{
		CategoryConfiguration,
		CategoryData,
		CategoryIntegration,
		CategorySecurity,
		CategoryUnknown,
	}
}

// IsValid checks if the category is valid.
func (c Category) IsValid() bool {
	switch c {
	case CategoryConfiguration, CategoryData, CategoryIntegration,
		CategorySecurity, CategoryUnknown:
		return true
	}
	return false
}

// ErrUnknownCategory is returned by ParseCategory for values outside the enum.
var ErrUnknownCategory = errors.New("unknown category")

// ParseCategory converts s to a Category, rejecting unknown values.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !c.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
	}
	return c, nil
}

// IncidentStatus is the lifecycle state of an incident.
// Transitions are not restricted: any status may follow any other.
type IncidentStatus string

// Incident statuses.
const (
	IncidentStatusOpen       IncidentStatus = "OPEN"
	IncidentStatusInProgress IncidentStatus = "IN_PROGRESS"
	IncidentStatusResolved   IncidentStatus = "RESOLVED"
	IncidentStatusClosed     IncidentStatus = "CLOSED"
)

// IsValid checks if the status is valid.
func (s IncidentStatus) IsValid() bool {
	switch s {
	case IncidentStatusOpen, IncidentStatusInProgress,
		IncidentStatusResolved, IncidentStatusClosed:
		return true
	}
	return false
}

// IncidentSubmission is a raw incident report as received from a client.
type IncidentSubmission struct {
	Title        string      `json:"title"`
	Description  string      `json:"description"`
	ERPModule    ERPModule   `json:"erp_module"`
	Environment  Environment `json:"environment"`
	BusinessUnit string      `json:"business_unit"`
}

// Validate checks the structural constraints of the submission.
func (s IncidentSubmission) Validate() error {
	if n := utf8.RuneCountInString(s.Title); n < MinTitleLength || n > MaxTitleLength {
		return fmt.Errorf("title must be %d to %d characters", MinTitleLength, MaxTitleLength)
	}
	if utf8.RuneCountInString(s.Description) < MinDescriptionLength {
		return fmt.Errorf("description must be at least %d characters", MinDescriptionLength)
	}
	if !s.ERPModule.IsValid() {
		return fmt.Errorf("invalid erp_module: %q", s.ERPModule)
	}
	if !s.Environment.IsValid() {
		return fmt.Errorf("invalid environment: %q", s.Environment)
	}
	if utf8.RuneCountInString(s.BusinessUnit) > MaxBusinessUnitLength {
		return fmt.Errorf("business_unit must be at most %d characters", MaxBusinessUnitLength)
	}
	return nil
}

// EnrichmentSource names the strategy that produced category, summary and action.
type EnrichmentSource string

// Enrichment sources.
const (
	EnrichmentSourceOpenAI EnrichmentSource = "openai"
	EnrichmentSourceRules  EnrichmentSource = "rules"
)

// Enrichment is the triage outcome for one submission. It is folded into
// the Incident and never stored on its own.
type Enrichment struct {
	Severity        Severity
	Category        Category
	AutoSummary     string
	SuggestedAction string
	Source          EnrichmentSource
}

// Incident is a persisted, triaged incident report.
type Incident struct {
	ID              string         `json:"id"`
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	ERPModule       ERPModule      `json:"erp_module"`
	Environment     Environment    `json:"environment"`
	BusinessUnit    string         `json:"business_unit"`
	Severity        Severity       `json:"severity"`
	Category        Category       `json:"category"`
	AutoSummary     *string        `json:"auto_summary"`
	SuggestedAction *string        `json:"suggested_action"`
	Status          IncidentStatus `json:"status"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}
