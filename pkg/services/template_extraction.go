package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/clinsight-health/clinsight-engine/pkg/apperrors"
	"github.com/clinsight-health/clinsight-engine/pkg/llm"
	"github.com/clinsight-health/clinsight-engine/pkg/models"
	"github.com/clinsight-health/clinsight-engine/pkg/sqlshape"
)

// ScaffoldRemovedWarning is appended to extraction warnings when the
// simplifier rewrote funnel scaffolding out of the draft SQL.
const ScaffoldRemovedWarning = "funnel scaffolding was removed from the SQL pattern"

// ExtractTemplateRequest carries a question/SQL pair into extraction.
type ExtractTemplateRequest struct {
	QuestionText  string
	SQLQuery      string
	SchemaContext string
	ModelID       string
}

// TemplateCandidate is a normalized draft: structurally guaranteed content
// that has not yet been approved.
type TemplateCandidate struct {
	Name             string                   `json:"name"`
	Intent           models.TemplateIntent    `json:"intent"`
	Description      string                   `json:"description,omitempty"`
	SQLPattern       string                   `json:"sql_pattern"`
	PlaceholdersSpec *models.PlaceholdersSpec `json:"placeholders_spec"`
	Keywords         []string                 `json:"keywords,omitempty"`
	Tags             []string                 `json:"tags,omitempty"`
	Examples         []string                 `json:"examples,omitempty"`
}

// ExtractTemplateResult packages the normalized draft with its validation
// outcome. No SQL is executed or persisted at this stage.
type ExtractTemplateResult struct {
	Draft      *TemplateCandidate        `json:"draft"`
	Validation sqlshape.ValidationResult `json:"validation"`
	Warnings   []string                  `json:"warnings,omitempty"`
	ModelID    string                    `json:"model_id"`
}

// TemplateExtractionService turns untrusted AI draft output into validated
// template candidates.
type TemplateExtractionService interface {
	ExtractTemplate(ctx context.Context, req *ExtractTemplateRequest) (*ExtractTemplateResult, error)
	// Validate runs the full validation rule set without persisting anything.
	Validate(in sqlshape.ValidateInput) sqlshape.ValidationResult
}

type templateExtractionService struct {
	provider     llm.DraftProvider
	defaultModel string
	logger       *zap.Logger
}

// NewTemplateExtractionService creates a new TemplateExtractionService.
func NewTemplateExtractionService(provider llm.DraftProvider, defaultModel string, logger *zap.Logger) TemplateExtractionService {
	return &templateExtractionService{
		provider:     provider,
		defaultModel: defaultModel,
		logger:       logger.Named("template-extraction"),
	}
}

var _ TemplateExtractionService = (*templateExtractionService)(nil)

func (s *templateExtractionService) ExtractTemplate(ctx context.Context, req *ExtractTemplateRequest) (*ExtractTemplateResult, error) {
	questionText := strings.TrimSpace(req.QuestionText)
	sqlQuery := strings.TrimSpace(req.SQLQuery)
	if questionText == "" {
		return nil, &apperrors.ValidationRequestError{Field: "questionText", Message: "must not be empty"}
	}
	if sqlQuery == "" {
		return nil, &apperrors.ValidationRequestError{Field: "sqlQuery", Message: "must not be empty"}
	}

	modelID := req.ModelID
	if modelID == "" {
		modelID = s.defaultModel
	}

	draftResult, err := s.provider.ExtractTemplateDraft(ctx, &llm.DraftRequest{
		QuestionText:  questionText,
		SQLQuery:      sqlQuery,
		SchemaContext: req.SchemaContext,
		ModelID:       modelID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to extract template draft: %w", err)
	}

	warnings := append([]string{}, draftResult.Warnings...)
	if draftResult.ModelID != "" {
		modelID = draftResult.ModelID
	}

	sqlPattern := strings.TrimSpace(draftResult.Draft.SQLPattern)
	if sqlPattern == "" {
		sqlPattern = sqlQuery
	}

	simplified := sqlshape.SimplifyScaffold(sqlPattern)
	if simplified.Changed {
		warnings = append(warnings, ScaffoldRemovedWarning)
	}

	spec := &models.PlaceholdersSpec{Slots: sqlshape.DeriveSlots(draftResult.Draft.PlaceholdersSpec)}
	spec = sqlshape.EnsureCoverage(spec, simplified.SQL)

	candidate := &TemplateCandidate{
		Name:             draftResult.Draft.Name,
		Intent:           models.TemplateIntent(draftResult.Draft.Intent),
		Description:      strings.TrimSpace(draftResult.Draft.Description),
		SQLPattern:       simplified.SQL,
		PlaceholdersSpec: spec,
		Keywords:         sqlshape.NormalizeStringList(draftResult.Draft.Keywords),
		Tags:             sqlshape.NormalizeStringList(draftResult.Draft.Tags),
		Examples:         sqlshape.NormalizeStringList(draftResult.Draft.Examples),
	}

	if candidate.Name == "" {
		candidate.Name = deriveTemplateName(questionText)
	}
	if !models.IsValidTemplateIntent(candidate.Intent) {
		if candidate.Intent != "" {
			warnings = append(warnings, fmt.Sprintf("unrecognized intent %q replaced with %s",
				candidate.Intent, models.IntentLegacyUnknown))
		}
		candidate.Intent = models.IntentLegacyUnknown
	}

	validation := sqlshape.ValidateTemplate(sqlshape.ValidateInput{
		SQLPattern:       candidate.SQLPattern,
		PlaceholdersSpec: candidate.PlaceholdersSpec,
	})

	s.logger.Info("Extracted template candidate",
		zap.String("name", candidate.Name),
		zap.String("intent", string(candidate.Intent)),
		zap.String("model", modelID),
		zap.Bool("valid", validation.Valid),
		zap.Int("warnings", len(warnings)))

	return &ExtractTemplateResult{
		Draft:      candidate,
		Validation: validation,
		Warnings:   warnings,
		ModelID:    modelID,
	}, nil
}

func (s *templateExtractionService) Validate(in sqlshape.ValidateInput) sqlshape.ValidationResult {
	return sqlshape.ValidateTemplate(in)
}

var nonWordPattern = regexp.MustCompile(`[^a-z0-9]+`)

// deriveTemplateName builds a snake_case name from the question text,
// singularizing the trailing noun so "counts of assessments" and "count of
// assessment" land on the same name.
func deriveTemplateName(questionText string) string {
	cleaned := nonWordPattern.ReplaceAllString(strings.ToLower(questionText), " ")
	words := strings.Fields(cleaned)
	if len(words) == 0 {
		return "untitled_template"
	}
	if len(words) > 8 {
		words = words[:8]
	}
	words[len(words)-1] = inflection.Singular(words[len(words)-1])
	return strings.Join(words, "_")
}
