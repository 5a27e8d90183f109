package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clinsight-health/clinsight-engine/pkg/apperrors"
	"github.com/clinsight-health/clinsight-engine/pkg/llm"
	"github.com/clinsight-health/clinsight-engine/pkg/models"
)

func TestExtractTemplate_HappyPath(t *testing.T) {
	provider := &llm.MockDraftProvider{
		ExtractTemplateDraftFunc: func(ctx context.Context, req *llm.DraftRequest) (*llm.DraftResult, error) {
			return &llm.DraftResult{
				ModelID: "gpt-test",
				Draft: llm.TemplateDraft{
					Name:       "wound_count_by_type",
					Intent:     "aggregation_by_category",
					SQLPattern: "SELECT WoundType, COUNT(*) FROM rpt.Wound WHERE PatientFk = {patientId} GROUP BY WoundType",
					PlaceholdersSpec: map[string]any{
						"slots": []any{
							map[string]any{"name": "patientId", "type": "guid"},
						},
					},
					Keywords: []string{"wound", " wound ", "count"},
				},
				Warnings: []string{"provider warning"},
			}, nil
		},
	}

	svc := NewTemplateExtractionService(provider, "default-model", zap.NewNop())
	result, err := svc.ExtractTemplate(context.Background(), &ExtractTemplateRequest{
		QuestionText: "How many wounds per type?",
		SQLQuery:     "SELECT WoundType, COUNT(*) FROM rpt.Wound GROUP BY WoundType",
	})
	require.NoError(t, err)

	assert.Equal(t, "gpt-test", result.ModelID)
	assert.Equal(t, "wound_count_by_type", result.Draft.Name)
	assert.Equal(t, models.IntentAggregationByCategory, result.Draft.Intent)
	assert.True(t, result.Validation.Valid)
	assert.Equal(t, []string{"provider warning"}, result.Warnings)
	// Duplicate keyword collapsed.
	assert.Equal(t, []string{"wound", "count"}, result.Draft.Keywords)
	require.NotNil(t, result.Draft.PlaceholdersSpec)
	require.Len(t, result.Draft.PlaceholdersSpec.Slots, 1)
	assert.Equal(t, "patientId", result.Draft.PlaceholdersSpec.Slots[0].Name)
	assert.Equal(t, 1, provider.ExtractTemplateDraftCalls)
}

func TestExtractTemplate_RemovesScaffold(t *testing.T) {
	scaffolded := `WITH Step1 AS (SELECT id FROM rpt.Patient WHERE id = {patientId}) SELECT * FROM Step1_Results`
	provider := &llm.MockDraftProvider{
		ExtractTemplateDraftFunc: func(ctx context.Context, req *llm.DraftRequest) (*llm.DraftResult, error) {
			return &llm.DraftResult{
				ModelID: "gpt-test",
				Draft:   llm.TemplateDraft{Name: "t", Intent: "top_k", SQLPattern: scaffolded},
			}, nil
		},
	}

	svc := NewTemplateExtractionService(provider, "default-model", zap.NewNop())
	result, err := svc.ExtractTemplate(context.Background(), &ExtractTemplateRequest{
		QuestionText: "q",
		SQLQuery:     "SELECT 1",
	})
	require.NoError(t, err)

	assert.Contains(t, result.Warnings, ScaffoldRemovedWarning)
	assert.NotContains(t, result.Draft.SQLPattern, "Step1_Results")
	// Coverage guaranteed even though the draft declared no slots.
	require.NotNil(t, result.Draft.PlaceholdersSpec)
	require.Len(t, result.Draft.PlaceholdersSpec.Slots, 1)
	assert.Equal(t, "patientId", result.Draft.PlaceholdersSpec.Slots[0].Name)

	// No scaffold warning in the validation result either.
	for _, w := range result.Validation.Warnings {
		assert.NotEqual(t, "sql.funnelScaffold", w.Code)
	}
}

func TestExtractTemplate_FallsBackToOriginalSQL(t *testing.T) {
	provider := &llm.MockDraftProvider{
		ExtractTemplateDraftFunc: func(ctx context.Context, req *llm.DraftRequest) (*llm.DraftResult, error) {
			return &llm.DraftResult{
				ModelID: "gpt-test",
				Draft:   llm.TemplateDraft{Name: "t", Intent: "top_k"},
			}, nil
		},
	}

	svc := NewTemplateExtractionService(provider, "default-model", zap.NewNop())
	result, err := svc.ExtractTemplate(context.Background(), &ExtractTemplateRequest{
		QuestionText: "q",
		SQLQuery:     "SELECT TOP (5) * FROM rpt.Assessment",
	})
	require.NoError(t, err)
	assert.Equal(t, "SELECT TOP (5) * FROM rpt.Assessment", result.Draft.SQLPattern)
}

func TestExtractTemplate_UnknownIntent(t *testing.T) {
	provider := &llm.MockDraftProvider{
		ExtractTemplateDraftFunc: func(ctx context.Context, req *llm.DraftRequest) (*llm.DraftResult, error) {
			return &llm.DraftResult{
				ModelID: "gpt-test",
				Draft:   llm.TemplateDraft{Name: "t", Intent: "histogram", SQLPattern: "SELECT 1 FROM rpt.X"},
			}, nil
		},
	}

	svc := NewTemplateExtractionService(provider, "default-model", zap.NewNop())
	result, err := svc.ExtractTemplate(context.Background(), &ExtractTemplateRequest{
		QuestionText: "q", SQLQuery: "SELECT 1",
	})
	require.NoError(t, err)
	assert.Equal(t, models.IntentLegacyUnknown, result.Draft.Intent)
	assert.NotEmpty(t, result.Warnings)
}

func TestExtractTemplate_DerivesName(t *testing.T) {
	provider := &llm.MockDraftProvider{
		ExtractTemplateDraftFunc: func(ctx context.Context, req *llm.DraftRequest) (*llm.DraftResult, error) {
			return &llm.DraftResult{
				ModelID: "gpt-test",
				Draft:   llm.TemplateDraft{Intent: "top_k", SQLPattern: "SELECT 1 FROM rpt.X"},
			}, nil
		},
	}

	svc := NewTemplateExtractionService(provider, "default-model", zap.NewNop())
	result, err := svc.ExtractTemplate(context.Background(), &ExtractTemplateRequest{
		QuestionText: "Count of open wounds?",
		SQLQuery:     "SELECT 1",
	})
	require.NoError(t, err)
	assert.Equal(t, "count_of_open_wound", result.Draft.Name)
}

func TestExtractTemplate_EmptyInputs(t *testing.T) {
	svc := NewTemplateExtractionService(&llm.MockDraftProvider{}, "m", zap.NewNop())

	_, err := svc.ExtractTemplate(context.Background(), &ExtractTemplateRequest{
		QuestionText: "   ", SQLQuery: "SELECT 1",
	})
	var reqErr *apperrors.ValidationRequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, "questionText", reqErr.Field)

	_, err = svc.ExtractTemplate(context.Background(), &ExtractTemplateRequest{
		QuestionText: "q", SQLQuery: "",
	})
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, "sqlQuery", reqErr.Field)
}

func TestExtractTemplate_ProviderErrorPropagates(t *testing.T) {
	providerErr := errors.New("model unavailable")
	provider := &llm.MockDraftProvider{
		ExtractTemplateDraftFunc: func(ctx context.Context, req *llm.DraftRequest) (*llm.DraftResult, error) {
			return nil, providerErr
		},
	}

	svc := NewTemplateExtractionService(provider, "m", zap.NewNop())
	_, err := svc.ExtractTemplate(context.Background(), &ExtractTemplateRequest{
		QuestionText: "q", SQLQuery: "SELECT 1",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, providerErr)
}

func TestExtractTemplate_DefaultModelUsed(t *testing.T) {
	var gotModel string
	provider := &llm.MockDraftProvider{
		ExtractTemplateDraftFunc: func(ctx context.Context, req *llm.DraftRequest) (*llm.DraftResult, error) {
			gotModel = req.ModelID
			return &llm.DraftResult{
				Draft: llm.TemplateDraft{Name: "t", Intent: "top_k", SQLPattern: "SELECT 1 FROM rpt.X"},
			}, nil
		},
	}

	svc := NewTemplateExtractionService(provider, "configured-default", zap.NewNop())
	result, err := svc.ExtractTemplate(context.Background(), &ExtractTemplateRequest{
		QuestionText: "q", SQLQuery: "SELECT 1",
	})
	require.NoError(t, err)
	assert.Equal(t, "configured-default", gotModel)
	// Provider returned no model id; the resolved one sticks.
	assert.Equal(t, "configured-default", result.ModelID)
}

func TestValidateOnly(t *testing.T) {
	svc := NewTemplateExtractionService(&llm.MockDraftProvider{}, "m", zap.NewNop())
	result := svc.Validate(validateInputFor("SELECT {patientId} FROM rpt.Patient"))
	assert.False(t, result.Valid)

	found := false
	for _, e := range result.Errors {
		if e.Code == "placeholder.missingDeclaration" {
			found = true
		}
	}
	assert.True(t, found, fmt.Sprintf("expected missingDeclaration, got %+v", result.Errors))
}
