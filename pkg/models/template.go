package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Template Status
// ============================================================================

// TemplateStatus represents the lifecycle status of a query template.
type TemplateStatus string

const (
	TemplateStatusDraft      TemplateStatus = "draft"
	TemplateStatusApproved   TemplateStatus = "approved"
	TemplateStatusDeprecated TemplateStatus = "deprecated"
)

// ValidTemplateStatuses contains all valid template status values.
var ValidTemplateStatuses = []TemplateStatus{
	TemplateStatusDraft,
	TemplateStatusApproved,
	TemplateStatusDeprecated,
}

// IsValidTemplateStatus checks if the given status is valid.
func IsValidTemplateStatus(s TemplateStatus) bool {
	for _, v := range ValidTemplateStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// CanTransitionTo reports whether the status machine permits moving from s to
// target. Transitions are monotonic: Draft -> Approved -> Deprecated, with
// Draft -> Deprecated also allowed. Deprecating an already-deprecated
// template is treated as a no-op by the service layer, not a transition.
func (s TemplateStatus) CanTransitionTo(target TemplateStatus) bool {
	switch s {
	case TemplateStatusDraft:
		return target == TemplateStatusApproved || target == TemplateStatusDeprecated
	case TemplateStatusApproved:
		return target == TemplateStatusDeprecated
	default:
		return false
	}
}

// ============================================================================
// Template Intent
// ============================================================================

// TemplateIntent classifies the query shape a template represents.
type TemplateIntent string

const (
	IntentAggregationByCategory TemplateIntent = "aggregation_by_category"
	IntentTimeSeriesTrend       TemplateIntent = "time_series_trend"
	IntentTopK                  TemplateIntent = "top_k"
	IntentLatestPerEntity       TemplateIntent = "latest_per_entity"
	IntentAsOfState             TemplateIntent = "as_of_state"
	IntentPivot                 TemplateIntent = "pivot"
	IntentUnpivot               TemplateIntent = "unpivot"
	IntentNoteCollection        TemplateIntent = "note_collection"
	IntentJoinAnalysis          TemplateIntent = "join_analysis"
	IntentLegacyUnknown         TemplateIntent = "legacy_unknown"
)

// ValidTemplateIntents contains all valid template intent values.
var ValidTemplateIntents = []TemplateIntent{
	IntentAggregationByCategory,
	IntentTimeSeriesTrend,
	IntentTopK,
	IntentLatestPerEntity,
	IntentAsOfState,
	IntentPivot,
	IntentUnpivot,
	IntentNoteCollection,
	IntentJoinAnalysis,
	IntentLegacyUnknown,
}

// IsValidTemplateIntent checks if the given intent is valid.
func IsValidTemplateIntent(i TemplateIntent) bool {
	for _, v := range ValidTemplateIntents {
		if v == i {
			return true
		}
	}
	return false
}

// ============================================================================
// Placeholder Slots
// ============================================================================

// ValidSlotTypes is the closed set of declared placeholder types. A slot with
// a type outside this set is reported as a warning, not an error, so legacy
// templates keep loading.
var ValidSlotTypes = []string{"guid", "int", "string", "date", "boolean", "float", "decimal"}

// IsValidSlotType checks if the given slot type is in the closed set.
func IsValidSlotType(t string) bool {
	for _, v := range ValidSlotTypes {
		if v == t {
			return true
		}
	}
	return false
}

// PlaceholderSlot defines a single named parameter of a template.
type PlaceholderSlot struct {
	Name       string   `json:"name" yaml:"name"`
	Type       string   `json:"type,omitempty" yaml:"type,omitempty"`
	Semantic   string   `json:"semantic,omitempty" yaml:"semantic,omitempty"` // freeform hint, e.g. "patient_id"
	Required   bool     `json:"required,omitempty" yaml:"required,omitempty"`
	Default    any      `json:"default,omitempty" yaml:"default,omitempty"`
	Validators []string `json:"validators,omitempty" yaml:"validators,omitempty"` // e.g. "min:1", "non-empty"
}

// PlaceholdersSpec is the ordered slot declaration list for a template version.
type PlaceholdersSpec struct {
	Slots []PlaceholderSlot `json:"slots" yaml:"slots"`
}

// ============================================================================
// Template
// ============================================================================

// Template is a named, versioned, reusable query pattern.
type Template struct {
	ID              uuid.UUID      `json:"id"`
	Name            string         `json:"name"`
	Intent          TemplateIntent `json:"intent"`
	Description     string         `json:"description,omitempty"`
	Status          TemplateStatus `json:"status"`
	ActiveVersionID uuid.UUID      `json:"active_version_id"`
	CreatedBy       string         `json:"created_by,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// TemplateVersion is a snapshot of a template's content. Draft versions are
// mutable in place; a published version is immutable.
type TemplateVersion struct {
	ID               uuid.UUID         `json:"id"`
	TemplateID       uuid.UUID         `json:"template_id"`
	Version          int               `json:"version"`
	SQLPattern       string            `json:"sql_pattern"`
	PlaceholdersSpec *PlaceholdersSpec `json:"placeholders_spec,omitempty"`
	Keywords         []string          `json:"keywords,omitempty"`
	Tags             []string          `json:"tags,omitempty"`
	Examples         []string          `json:"examples,omitempty"`
	SuccessCount     int               `json:"success_count"`
	UsageCount       int               `json:"usage_count"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// SuccessRate returns successes over total usages, or nil when the version
// has never been used.
func (v *TemplateVersion) SuccessRate() *float64 {
	if v.UsageCount == 0 {
		return nil
	}
	rate := float64(v.SuccessCount) / float64(v.UsageCount)
	return &rate
}

// TemplateRecord pairs a template with its active version for read paths.
type TemplateRecord struct {
	Template *Template        `json:"template"`
	Version  *TemplateVersion `json:"version"`
}
