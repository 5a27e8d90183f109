package models

import (
	"time"

	"github.com/google/uuid"
)

// FunnelStatus represents the lifecycle status of a query funnel.
type FunnelStatus string

const (
	FunnelStatusActive     FunnelStatus = "active"
	FunnelStatusSuperseded FunnelStatus = "superseded"
)

// QueryFunnel is one question-decomposition run bound to a specific
// assessment form version. Cache lookups match on
// (AssessmentFormVersionFk, OriginalQuestion, status=active) exactly;
// different phrasing of the same intent is a cache miss.
type QueryFunnel struct {
	ID                      uuid.UUID    `json:"id"`
	AssessmentFormVersionFk uuid.UUID    `json:"assessment_form_version_fk"`
	OriginalQuestion        string       `json:"original_question"`
	Status                  FunnelStatus `json:"status"`
	CreatedDate             time.Time    `json:"created_date"`
	LastModifiedDate        time.Time    `json:"last_modified_date"`
}

// SubQuestionStatus represents the resolution state of a funnel step.
type SubQuestionStatus string

const (
	SubQuestionStatusPending   SubQuestionStatus = "pending"
	SubQuestionStatusGenerated SubQuestionStatus = "generated"
	SubQuestionStatusValidated SubQuestionStatus = "validated"
	SubQuestionStatusFailed    SubQuestionStatus = "failed"
)

// SubQuestion is one ordered step of a funnel, carrying its generated SQL and
// structured annotations once resolved.
type SubQuestion struct {
	ID                 uuid.UUID         `json:"id"`
	FunnelID           uuid.UUID         `json:"funnel_id"`
	QuestionText       string            `json:"question_text"`
	Order              int               `json:"order"`
	SQLQuery           string            `json:"sql_query,omitempty"`
	Status             SubQuestionStatus `json:"status"`
	SQLExplanation     *string           `json:"sql_explanation,omitempty"`
	SQLValidationNotes *string           `json:"sql_validation_notes,omitempty"`
	SQLMatchedTemplate *uuid.UUID        `json:"sql_matched_template,omitempty"`
	CreatedDate        time.Time         `json:"created_date"`
	LastModifiedDate   time.Time         `json:"last_modified_date"`
}
