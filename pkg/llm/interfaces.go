// Package llm provides AI provider clients for template drafting and
// question decomposition.
package llm

import (
	"context"

	"github.com/google/uuid"
)

// LLMClient is the low-level chat completion interface. Both the OpenAI and
// Anthropic backed clients implement it; use it for dependency injection to
// enable mocking in tests.
type LLMClient interface {
	// GenerateResponse generates a chat completion response. An empty model
	// selects the client's configured default.
	GenerateResponse(ctx context.Context, model string, prompt string, systemMessage string, temperature float64) (string, error)

	// GetModel returns the configured default model name.
	GetModel() string
}

// DraftRequest carries a user question and its target SQL into template
// extraction. ModelID overrides the client's configured model for this
// request; empty uses the default.
type DraftRequest struct {
	QuestionText  string
	SQLQuery      string
	SchemaContext string
	ModelID       string
}

// TemplateDraft is the free-form draft object an AI provider produces.
// Every field is untrusted and optional; the orchestrator defaults and
// coerces whatever it consumes.
type TemplateDraft struct {
	Name             string   `json:"name"`
	Intent           string   `json:"intent"`
	Description      string   `json:"description,omitempty"`
	SQLPattern       string   `json:"sql_pattern"`
	PlaceholdersSpec any      `json:"placeholders_spec,omitempty"`
	Keywords         []string `json:"keywords,omitempty"`
	Tags             []string `json:"tags,omitempty"`
	Examples         []string `json:"examples,omitempty"`
}

// DraftResult pairs a draft with the model that produced it and the
// provider's own free-text warnings.
type DraftResult struct {
	ModelID  string
	Draft    TemplateDraft
	Warnings []string
}

// DraftProvider turns a question/SQL pair into a template draft.
type DraftProvider interface {
	ExtractTemplateDraft(ctx context.Context, req *DraftRequest) (*DraftResult, error)
}

// SubQuestionRequest asks for a question decomposition bound to one
// assessment form version.
type SubQuestionRequest struct {
	OriginalQuestion        string
	FormDefinition          string
	DatabaseSchemaContext   string
	AssessmentFormVersionFk uuid.UUID
}

// GeneratedSubQuestion is one ordered step of a decomposition.
type GeneratedSubQuestion struct {
	QuestionText string `json:"question_text"`
	Order        int    `json:"order"`
}

// SubQuestionResult is the full ordered decomposition.
type SubQuestionResult struct {
	SubQuestions []GeneratedSubQuestion
}

// SubQuestionProvider decomposes a clinical question into ordered
// sub-questions.
type SubQuestionProvider interface {
	GenerateSubQuestions(ctx context.Context, req *SubQuestionRequest) (*SubQuestionResult, error)
}
